package server

import (
	"encoding/json"
	"errors"
	"strings"
)

// Outbound events.
const (
	eventConnected      = "connected"
	eventRenewList      = "renewList"
	eventChangeName     = "changeName"
	eventGameStart      = "gameStart"
	eventCompleteUpdate = "completeUpdate"
	eventLoading        = "loading_and_url"
	eventMoveNextRound  = "moveNextRound"
	eventEnd            = "end"
	eventGameResult     = "gameResult"
	eventPing           = "ping"
	eventPong           = "pong"
	eventError          = "error"
)

// Inbound events.
const (
	eventNameChanged = "nameChanged"
	eventStartGame   = "startGame"
	eventInputTitle  = "inputTitle"
	eventSubmitTopic = "submitTopic"
	eventChangeTitle = "changeTitle"
	eventWantResult  = "wantResult"
)

const maxMessageSize = 8 * 1024

// Message is the JSON envelope written to clients.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

type inboundMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type connectedData struct {
	PlayerID uint `json:"playerId"`
}

type playersData struct {
	Players []PlayerView `json:"players"`
}

type changeNameData struct {
	PlayerID uint   `json:"playerId"`
	Name     string `json:"name"`
}

type gameStartData struct {
	Round   int `json:"round"`
	Players int `json:"players"`
}

type completeData struct {
	CompleteNum int `json:"completeNum"`
	Total       int `json:"total"`
}

type loadingData struct {
	Round int `json:"round"`
}

type moveNextRoundData struct {
	Round    int    `json:"round"`
	Complete int    `json:"complete"`
	URL      string `json:"url"`
	Failed   bool   `json:"failed,omitempty"`
}

type endData struct {
	Round   int          `json:"round"`
	Players []PlayerView `json:"players"`
}

type gameResultData struct {
	PlayerID uint          `json:"playerId"`
	Results  []ResultEntry `json:"results"`
}

type errorData struct {
	Message string `json:"message"`
}

type nameChangedPayload struct {
	PlayerID uint   `json:"playerId"`
	Name     string `json:"name" validate:"name"`
}

type titlePayload struct {
	PlayerID uint   `json:"playerId"`
	Title    string `json:"title" validate:"title"`
}

type wantResultPayload struct {
	PlayerID uint `json:"playerId" validate:"required"`
}

var (
	errUnknownEvent   = errors.New("unknown event")
	errInvalidPayload = errors.New("invalid payload")
)

func decodeInbound(data []byte) (inboundMessage, error) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, err
	}
	msg.Event = strings.TrimSpace(msg.Event)
	if msg.Event == "" {
		return msg, errUnknownEvent
	}
	return msg, nil
}

// decodePayload unmarshals and validates the data of an inbound message.
// Missing data decodes as the zero value.
func decodePayload(msg inboundMessage, dest any) error {
	if len(msg.Data) > 0 && string(msg.Data) != "null" {
		if err := json.Unmarshal(msg.Data, dest); err != nil {
			return errInvalidPayload
		}
	}
	return validatePayload(dest)
}

func errorMessage(message string) Message {
	return Message{Event: eventError, Error: message, Data: errorData{Message: message}}
}

func encodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
