package server

import "errors"

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomFull      = errors.New("room is full")
	ErrSeatNotFound  = errors.New("seat not found")
	ErrTopicNotFound = errors.New("topic not found")
	ErrInvalidPhase  = errors.New("action not allowed in current phase")
	ErrEditClosed    = errors.New("topic can no longer be edited")
	ErrSessionClosed = errors.New("session closed")
)

// userMessage maps domain errors to the text shown in error frames.
func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return "room not found"
	case errors.Is(err, ErrRoomFull):
		return "room is full"
	case errors.Is(err, ErrSeatNotFound):
		return "seat not found"
	case errors.Is(err, ErrTopicNotFound):
		return "topic not found"
	case errors.Is(err, ErrInvalidPhase):
		return "that action is not available right now"
	case errors.Is(err, ErrEditClosed):
		return "the topic can no longer be edited"
	default:
		return "internal error"
	}
}
