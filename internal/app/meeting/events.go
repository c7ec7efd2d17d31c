package meeting

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dalemusser/mentorlink/internal/domain/models"
)

// Server → client event types.
const (
	EvtWelcome           = "welcome"
	EvtRoomFull          = "room-full"
	EvtRoomEnded         = "room-ended"
	EvtRoomUnavailable   = "room-unavailable"
	EvtExistingPeers     = "existing-peers"
	EvtPeerJoined        = "peer-joined"
	EvtPeerLeft          = "peer-left"
	EvtRosterUpdate      = "roster-update"
	EvtOffer             = "offer"
	EvtAnswer            = "answer"
	EvtCandidate         = "candidate"
	EvtMessage           = "message"
	EvtMessageSaved      = "message-saved"
	EvtHistory           = "history"
	EvtPresentingStarted = "presenting-started"
	EvtPresentingStopped = "presenting-stopped"
	EvtPresenterConflict = "presenter-conflict"
	EvtTyping            = "typing"
	EvtWhiteboard        = "whiteboard"
	EvtError             = "error"
)

// Client → server event types.
const (
	OpJoinRoom        = "join-room"
	OpLeaveRoom       = "leave-room"
	OpSendOffer       = "send-offer"
	OpSendAnswer      = "send-answer"
	OpSendCandidate   = "send-candidate"
	OpSendMessage     = "send-message"
	OpGetHistory      = "get-history"
	OpStartPresenting = "start-presenting"
	OpStopPresenting  = "stop-presenting"
	OpTyping          = "typing"
	OpGetRoster       = "get-roster"
	OpWhiteboard      = "whiteboard"
)

// Event is one server → client frame.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// PeerView is the public shape of a live participant.
type PeerView struct {
	ConnID      string    `json:"connId"`
	Identity    string    `json:"identity"`
	DisplayName string    `json:"displayName"`
	Role        string    `json:"role,omitempty"`
	JoinedAt    time.Time `json:"joinedAt"`
}

type WelcomePayload struct {
	ConnID string `json:"connId"`
}

// RoomPayload is used by room-full, room-ended and room-unavailable.
type RoomPayload struct {
	RoomID string `json:"roomId"`
}

type ExistingPeersPayload struct {
	RoomID      string   `json:"roomId"`
	PeerConnIDs []string `json:"peerConnIds"`
}

type PeerLeftPayload struct {
	ConnID string `json:"connId"`
}

type RosterPayload struct {
	RoomID             string     `json:"roomId"`
	ActiveParticipants []PeerView `json:"activeParticipants"`
}

// SignalPayload carries an offer, answer or candidate. Payload is forwarded
// byte for byte.
type SignalPayload struct {
	FromConnID      string          `json:"fromConnId"`
	FromIdentity    string          `json:"fromIdentity"`
	FromDisplayName string          `json:"fromDisplayName"`
	FromRole        string          `json:"fromRole,omitempty"`
	Payload         json.RawMessage `json:"payload"`
}

type MessageSavedPayload struct {
	ID string `json:"id"`
}

type HistoryPayload struct {
	RoomID   string               `json:"roomId"`
	Messages []models.ChatMessage `json:"messages"`
}

type PresenterPayload struct {
	PresenterInfo *models.Presenter `json:"presenterInfo,omitempty"`
}

type TypingPayload struct {
	ConnID      string `json:"connId"`
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName"`
	IsTyping    bool   `json:"isTyping"`
}

type WhiteboardPayload struct {
	FromConnID string          `json:"fromConnId"`
	Data       json.RawMessage `json:"data"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Op      string `json:"op"`
	Message string `json:"message"`
}

func errorEvent(op string, err error) Event {
	return Event{Type: EvtError, Payload: ErrorPayload{Code: ErrorCode(err), Op: op, Message: err.Error()}}
}

// Welcome builds the first frame sent on a new connection.
func Welcome(connID string) Event {
	return Event{Type: EvtWelcome, Payload: WelcomePayload{ConnID: connID}}
}

// ---- client events ----

// ClientEvent is one decoded client → server frame. The set of
// implementations is closed; see DecodeClientEvent.
type ClientEvent interface {
	Op() string
	Room() string
}

type JoinRoom struct {
	RoomID         string `json:"roomId"`
	StableIdentity string `json:"stableIdentity"`
	DisplayName    string `json:"displayName"`
	Role           string `json:"role,omitempty"`
	Kind           string `json:"kind,omitempty"`
}

type LeaveRoom struct {
	RoomID string `json:"roomId"`
}

// SendSignal is send-offer, send-answer or send-candidate.
type SendSignal struct {
	Kind     SignalKind
	RoomID   string
	ToConnID string
	Payload  json.RawMessage
}

type SendMessage struct {
	RoomID string `json:"roomId"`
	Body   string `json:"body"`
	// ClientTimestamp is accepted but never used for ordering.
	ClientTimestamp json.RawMessage `json:"clientTimestamp,omitempty"`
}

type GetHistory struct {
	RoomID string `json:"roomId"`
	Limit  int    `json:"limit,omitempty"`
}

// PresenterInfo is what a client may say about itself when it starts
// presenting. Empty fields fall back to the registry entry.
type PresenterInfo struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

type StartPresenting struct {
	RoomID        string        `json:"roomId"`
	PresenterInfo PresenterInfo `json:"presenterInfo"`
}

type StopPresenting struct {
	RoomID string `json:"roomId"`
}

type Typing struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

type GetRoster struct {
	RoomID string `json:"roomId"`
}

type Whiteboard struct {
	RoomID string          `json:"roomId"`
	Data   json.RawMessage `json:"data"`
}

func (JoinRoom) Op() string        { return OpJoinRoom }
func (LeaveRoom) Op() string       { return OpLeaveRoom }
func (SendMessage) Op() string     { return OpSendMessage }
func (GetHistory) Op() string      { return OpGetHistory }
func (StartPresenting) Op() string { return OpStartPresenting }
func (StopPresenting) Op() string  { return OpStopPresenting }
func (Typing) Op() string          { return OpTyping }
func (GetRoster) Op() string       { return OpGetRoster }
func (Whiteboard) Op() string      { return OpWhiteboard }

func (s SendSignal) Op() string {
	switch s.Kind {
	case SignalOffer:
		return OpSendOffer
	case SignalAnswer:
		return OpSendAnswer
	default:
		return OpSendCandidate
	}
}

func (e JoinRoom) Room() string        { return e.RoomID }
func (e LeaveRoom) Room() string       { return e.RoomID }
func (e SendSignal) Room() string      { return e.RoomID }
func (e SendMessage) Room() string     { return e.RoomID }
func (e GetHistory) Room() string      { return e.RoomID }
func (e StartPresenting) Room() string { return e.RoomID }
func (e StopPresenting) Room() string  { return e.RoomID }
func (e Typing) Room() string          { return e.RoomID }
func (e GetRoster) Room() string       { return e.RoomID }
func (e Whiteboard) Room() string      { return e.RoomID }

// Frame is the envelope every client frame arrives in.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// signalWire is the client shape of the three signaling events; only the
// field matching the event type is read.
type signalWire struct {
	RoomID    string          `json:"roomId"`
	ToConnID  string          `json:"toConnId"`
	Offer     json.RawMessage `json:"offer"`
	Answer    json.RawMessage `json:"answer"`
	Candidate json.RawMessage `json:"candidate"`
}

// DecodeClientEvent parses one websocket frame. Unknown types and malformed
// payloads return an error wrapping ErrInvalidEvent. A missing roomId is
// rejected for every event type.
func DecodeClientEvent(data []byte) (ClientEvent, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: frame: %v", ErrInvalidEvent, err)
	}
	if len(f.Payload) == 0 {
		f.Payload = json.RawMessage("{}")
	}

	var ev ClientEvent
	var err error
	switch f.Type {
	case OpJoinRoom:
		var e JoinRoom
		err = json.Unmarshal(f.Payload, &e)
		ev = e
	case OpLeaveRoom:
		var e LeaveRoom
		err = json.Unmarshal(f.Payload, &e)
		ev = e
	case OpSendOffer, OpSendAnswer, OpSendCandidate:
		var w signalWire
		err = json.Unmarshal(f.Payload, &w)
		s := SendSignal{RoomID: w.RoomID, ToConnID: w.ToConnID}
		switch f.Type {
		case OpSendOffer:
			s.Kind, s.Payload = SignalOffer, w.Offer
		case OpSendAnswer:
			s.Kind, s.Payload = SignalAnswer, w.Answer
		default:
			s.Kind, s.Payload = SignalCandidate, w.Candidate
		}
		ev = s
	case OpSendMessage:
		var e SendMessage
		err = json.Unmarshal(f.Payload, &e)
		ev = e
	case OpGetHistory:
		var e GetHistory
		err = json.Unmarshal(f.Payload, &e)
		ev = e
	case OpStartPresenting:
		var e StartPresenting
		err = json.Unmarshal(f.Payload, &e)
		ev = e
	case OpStopPresenting:
		var e StopPresenting
		err = json.Unmarshal(f.Payload, &e)
		ev = e
	case OpTyping:
		var e Typing
		err = json.Unmarshal(f.Payload, &e)
		ev = e
	case OpGetRoster:
		var e GetRoster
		err = json.Unmarshal(f.Payload, &e)
		ev = e
	case OpWhiteboard:
		var e Whiteboard
		err = json.Unmarshal(f.Payload, &e)
		ev = e
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, f.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrInvalidEvent, f.Type, err)
	}
	if ev.Room() == "" {
		return nil, fmt.Errorf("%w: %s without roomId", ErrInvalidEvent, f.Type)
	}
	return ev, nil
}
