// internal/domain/models/meeting.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Room kinds. Each kind has its own capacity limit.
const (
	RoomKindSession = "session" // scheduled mentoring session
	RoomKindAdhoc   = "adhoc"   // ad-hoc signaling room
)

// Meeting is the durable record of a room.
//
// NOTE:
//   - MeetingCode is the externally supplied room identifier and is unique.
//   - Participants is append-only history keyed by Identity; only Active,
//     LeftAt, ConnID, DisplayName and Role change on an existing entry.
type Meeting struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	MeetingCode string             `bson:"meeting_code" json:"meeting_code"`
	Kind        string             `bson:"kind" json:"kind"` // session | adhoc

	Participants     []MeetingParticipant `bson:"participants" json:"participants"`
	Messages         []ChatMessage        `bson:"messages" json:"-"`
	CurrentPresenter *Presenter           `bson:"current_presenter,omitempty" json:"current_presenter,omitempty"`

	Active    bool       `bson:"active" json:"active"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	EndedAt   *time.Time `bson:"ended_at,omitempty" json:"ended_at,omitempty"`
}

// Ended reports whether the meeting was explicitly ended.
func (m Meeting) Ended() bool {
	return !m.Active && m.EndedAt != nil
}

// Participant returns the persisted entry for identity, if any.
func (m Meeting) Participant(identity string) (MeetingParticipant, bool) {
	for _, p := range m.Participants {
		if p.Identity == identity {
			return p, true
		}
	}
	return MeetingParticipant{}, false
}

// ActiveParticipants returns the entries currently flagged active.
func (m Meeting) ActiveParticipants() []MeetingParticipant {
	out := make([]MeetingParticipant, 0, len(m.Participants))
	for _, p := range m.Participants {
		if p.Active {
			out = append(out, p)
		}
	}
	return out
}

// MeetingParticipant is one identity's history entry inside a Meeting.
type MeetingParticipant struct {
	Identity    string     `bson:"identity" json:"identity"` // email or user id
	ConnID      string     `bson:"conn_id" json:"conn_id"`   // last known connection
	DisplayName string     `bson:"display_name" json:"display_name"`
	Role        string     `bson:"role,omitempty" json:"role,omitempty"`
	JoinedAt    time.Time  `bson:"joined_at" json:"joined_at"`
	LeftAt      *time.Time `bson:"left_at" json:"left_at,omitempty"`
	Active      bool       `bson:"active" json:"active"`
}

// ChatMessage is an immutable entry in a meeting's message log.
type ChatMessage struct {
	ID             primitive.ObjectID `bson:"_id" json:"id"`
	Body           string             `bson:"body" json:"body"`
	SenderIdentity string             `bson:"sender_identity" json:"senderIdentity"`
	SenderName     string             `bson:"sender_name" json:"senderDisplayName"`
	SentAt         time.Time          `bson:"sent_at" json:"sentAt"`
}

// Presenter is the connection that currently owns screen share in a meeting.
type Presenter struct {
	ConnID    string    `bson:"conn_id" json:"connId"`
	Identity  string    `bson:"identity" json:"identity"`
	Name      string    `bson:"name" json:"name"`
	Role      string    `bson:"role,omitempty" json:"role,omitempty"`
	StartedAt time.Time `bson:"started_at" json:"startedAt"`
}
