package meeting

import "errors"

// Sentinel errors returned by Coordinator operations. Callers test them with
// errors.Is; operations wrap them with context.
var (
	ErrRoomFull               = errors.New("room is full")
	ErrRoomEnded              = errors.New("room has ended")
	ErrRoomElsewhere          = errors.New("room is hosted by another process")
	ErrPresenterConflict      = errors.New("another participant is presenting")
	ErrPeerNotFound           = errors.New("peer not found in room")
	ErrGlare                  = errors.New("signal sent against join order")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	ErrNotInRoom              = errors.New("connection is not in room")
	ErrInvalidEvent           = errors.New("invalid event")
	ErrRateLimited            = errors.New("rate limited")
)

// ErrorCode maps an error to the code carried by an error event.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrRoomFull):
		return "room_full"
	case errors.Is(err, ErrRoomEnded):
		return "room_ended"
	case errors.Is(err, ErrRoomElsewhere):
		return "room_unavailable"
	case errors.Is(err, ErrPresenterConflict):
		return "presenter_conflict"
	case errors.Is(err, ErrPeerNotFound):
		return "peer_not_found"
	case errors.Is(err, ErrGlare):
		return "glare"
	case errors.Is(err, ErrPersistenceUnavailable):
		return "persistence_unavailable"
	case errors.Is(err, ErrNotInRoom):
		return "not_in_room"
	case errors.Is(err, ErrInvalidEvent):
		return "invalid_event"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "internal"
	}
}

// silent reports errors that are never surfaced to the requester.
func silent(err error) bool {
	return errors.Is(err, ErrPeerNotFound) || errors.Is(err, ErrGlare)
}

// announced reports errors for which the coordinator already sent a typed
// rejection event (room-full, room-ended, room-unavailable, presenter-conflict).
func announced(err error) bool {
	return errors.Is(err, ErrRoomFull) ||
		errors.Is(err, ErrRoomEnded) ||
		errors.Is(err, ErrRoomElsewhere) ||
		errors.Is(err, ErrPresenterConflict)
}
