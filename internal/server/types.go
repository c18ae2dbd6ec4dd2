package server

import "time"

const (
	phaseLobby      = "lobby"
	phaseCollecting = "collecting"
	phaseRendering  = "rendering"
	phaseRevealing  = "revealing"
	phaseFinished   = "finished"
)

type Room struct {
	ID          uint
	Phase       string
	Game        int
	Round       int
	CompleteNum int
	CreatedAt   time.Time
}

type Seat struct {
	ID        uint
	RoomID    uint
	Position  int
	Name      string
	IsHost    bool
	CreatedAt time.Time
}

type Topic struct {
	ID        uint
	RoomID    uint
	SeatID    uint
	ChainID   uint
	Game      int
	Round     int
	Title     string
	ImageURL  *string
	Failed    bool
	CreatedAt time.Time
}

func (t Topic) Image() string {
	if t.ImageURL == nil {
		return ""
	}
	return *t.ImageURL
}

type PlayerView struct {
	ID     uint   `json:"id"`
	Name   string `json:"name"`
	IsHost bool   `json:"isHost"`
}

type ResultEntry struct {
	Round      int    `json:"round"`
	PlayerID   uint   `json:"player_id"`
	PlayerName string `json:"player_name"`
	Title      string `json:"title"`
	Image      string `json:"img"`
	Failed     bool   `json:"failed,omitempty"`
}

type RoomSnapshot struct {
	ID          uint         `json:"id"`
	Phase       string       `json:"phase"`
	Game        int          `json:"game"`
	Round       int          `json:"round"`
	CompleteNum int          `json:"complete"`
	Reveals     int          `json:"reveals"`
	MaxSeats    int          `json:"maxSeats"`
	Players     []PlayerView `json:"players"`
}

func playerViews(seats []Seat) []PlayerView {
	views := make([]PlayerView, 0, len(seats))
	for _, seat := range seats {
		views = append(views, PlayerView{ID: seat.ID, Name: seat.Name, IsHost: seat.IsHost})
	}
	return views
}
