package meeting

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dalemusser/mentorlink/internal/app/system/meetmetrics"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// SignalKind is one of the three WebRTC handshake message types.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
)

// Relay forwards an offer, answer or candidate from fromConnID to toConnID.
// The payload is forwarded unchanged.
//
// Only the later joiner of a pair may offer and only the earlier joiner may
// answer; anything else returns ErrGlare and is dropped. A target that is not
// a member of roomID returns ErrPeerNotFound. Neither is reported to the
// sender.
func (c *Coordinator) Relay(kind SignalKind, roomID, fromConnID, toConnID string, payload json.RawMessage) error {
	from, err := c.member(roomID, fromConnID)
	if err != nil {
		return fmt.Errorf("relay %s: %w", kind, err)
	}
	if toConnID == "" || toConnID == fromConnID {
		return fmt.Errorf("relay %s: %w: bad target", kind, ErrInvalidEvent)
	}
	to, ok := c.reg.Member(roomID, toConnID)
	if !ok {
		c.metrics.Dropped(meetmetrics.DropPeerNotFound)
		return fmt.Errorf("relay %s to %s: %w", kind, toConnID, ErrPeerNotFound)
	}

	switch kind {
	case SignalOffer:
		if !to.JoinedBefore(from) {
			c.metrics.Dropped(meetmetrics.DropGlare)
			return fmt.Errorf("relay offer from earlier joiner: %w", ErrGlare)
		}
	case SignalAnswer:
		if !from.JoinedBefore(to) {
			c.metrics.Dropped(meetmetrics.DropGlare)
			return fmt.Errorf("relay answer from later joiner: %w", ErrGlare)
		}
	case SignalCandidate:
	default:
		return fmt.Errorf("relay: %w: unknown signal %q", ErrInvalidEvent, kind)
	}

	if err := ValidateSignal(kind, payload); err != nil {
		c.log.Debug("malformed signaling payload forwarded",
			zap.String("room_id", roomID),
			zap.String("kind", string(kind)),
			zap.String("from_conn_id", fromConnID),
			zap.Error(err))
	}

	c.send(toConnID, Event{Type: string(kind), Payload: SignalPayload{
		FromConnID:      from.ConnID,
		FromIdentity:    from.Identity,
		FromDisplayName: from.DisplayName,
		FromRole:        from.Role,
		Payload:         payload,
	}})
	c.metrics.Operation("relay_"+string(kind), "success", "")
	return nil
}

// ValidateSignal checks that payload decodes as a session description of the
// matching type, or as an ICE candidate.
func ValidateSignal(kind SignalKind, payload json.RawMessage) error {
	if len(payload) == 0 {
		return errors.New("empty payload")
	}
	switch kind {
	case SignalOffer, SignalAnswer:
		var sd webrtc.SessionDescription
		if err := json.Unmarshal(payload, &sd); err != nil {
			return fmt.Errorf("session description: %w", err)
		}
		want := webrtc.SDPTypeOffer
		if kind == SignalAnswer {
			want = webrtc.SDPTypeAnswer
		}
		if sd.Type != want && !(kind == SignalAnswer && sd.Type == webrtc.SDPTypePranswer) {
			return fmt.Errorf("session description type %q, want %q", sd.Type, want)
		}
		if sd.SDP == "" {
			return errors.New("session description without sdp")
		}
	case SignalCandidate:
		var ic webrtc.ICECandidateInit
		if err := json.Unmarshal(payload, &ic); err != nil {
			return fmt.Errorf("ice candidate: %w", err)
		}
	default:
		return fmt.Errorf("unknown signal %q", kind)
	}
	return nil
}
