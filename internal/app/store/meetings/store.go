// internal/app/store/meetings/store.go
package meetings

// Terminology: Participant Identifiers
//   - Identity / identity: the stable identifier (email or user id) that survives reconnects
//   - ConnID / connID / conn_id: the identifier of one live websocket connection

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/mentorlink/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNotFound is returned when no meeting exists for the given code.
var ErrNotFound = errors.New("meeting not found")

// Store manages the meetings collection.
type Store struct {
	c *mongo.Collection
}

// New creates a new meetings Store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("meetings")}
}

// withoutMessages keeps the chat log out of roster-oriented reads.
var withoutMessages = bson.M{"messages": 0}

// EnsureIndexes creates necessary indexes for efficient querying.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "meeting_code", Value: 1}},
			Options: options.Index().SetName("uniq_meetings_code").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_meetings_created"),
		},
		// Participant history lookups ("which meetings has this user been in")
		{
			Keys:    bson.D{{Key: "participants.identity", Value: 1}},
			Options: options.Index().SetName("idx_meetings_participant_identity"),
		},
	}
	_, err := s.c.Indexes().CreateMany(ctx, indexes)
	return err
}

// FindRoom returns the meeting for code without its message log.
func (s *Store) FindRoom(ctx context.Context, code string) (models.Meeting, error) {
	var m models.Meeting
	err := s.c.FindOne(ctx, bson.M{"meeting_code": code},
		options.FindOne().SetProjection(withoutMessages)).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return models.Meeting{}, ErrNotFound
	}
	return m, err
}

// EnsureRoom returns the meeting for code, creating it with the given kind if
// it does not exist yet. An existing meeting keeps its original kind.
func (s *Store) EnsureRoom(ctx context.Context, code, kind string) (models.Meeting, error) {
	now := time.Now().UTC()
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After).
		SetProjection(withoutMessages)

	update := bson.M{
		"$setOnInsert": bson.M{
			"meeting_code": code,
			"kind":         kind,
			"participants": bson.A{},
			"messages":     bson.A{},
			"active":       true,
			"created_at":   now,
		},
	}

	var m models.Meeting
	err := s.c.FindOneAndUpdate(ctx, bson.M{"meeting_code": code}, update, opts).Decode(&m)
	if err != nil && wafflemongo.IsDup(err) {
		// Two upserts raced on the unique index; the loser reads the winner's document.
		return s.FindRoom(ctx, code)
	}
	return m, err
}

// UpsertParticipant records p as active in the meeting. If an entry for
// p.Identity already exists it is updated in place (a rejoin) and rejoined is
// true; otherwise a new entry is appended. JoinedAt of an existing entry is
// kept.
func (s *Store) UpsertParticipant(ctx context.Context, code string, p models.MeetingParticipant) (rejoined bool, err error) {
	// Two attempts cover the race where another writer appends the same
	// identity between our update and our push.
	for attempt := 0; attempt < 2; attempt++ {
		res, err := s.c.UpdateOne(ctx,
			bson.M{"meeting_code": code, "participants.identity": p.Identity},
			bson.M{"$set": bson.M{
				"participants.$.conn_id":      p.ConnID,
				"participants.$.display_name": p.DisplayName,
				"participants.$.role":         p.Role,
				"participants.$.active":       true,
				"participants.$.left_at":      nil,
			}},
		)
		if err != nil {
			return false, err
		}
		if res.MatchedCount > 0 {
			return true, nil
		}

		p.Active = true
		p.LeftAt = nil
		if p.JoinedAt.IsZero() {
			p.JoinedAt = time.Now().UTC()
		}
		res, err = s.c.UpdateOne(ctx,
			bson.M{"meeting_code": code, "participants.identity": bson.M{"$ne": p.Identity}},
			bson.M{"$push": bson.M{"participants": p}},
		)
		if err != nil {
			return false, err
		}
		if res.MatchedCount > 0 {
			return false, nil
		}
		if n, err := s.c.CountDocuments(ctx, bson.M{"meeting_code": code}); err != nil {
			return false, err
		} else if n == 0 {
			return false, ErrNotFound
		}
	}
	return false, errors.New("participant upsert did not converge")
}

// MarkParticipantLeft flags the participant inactive and stamps left_at.
// The entry is matched by its last known connection id first; when that no
// longer matches and identity is non-empty, the active entry for identity is
// used instead. Returns false when nothing matched.
func (s *Store) MarkParticipantLeft(ctx context.Context, code, connID, identity string, at time.Time) (bool, error) {
	set := bson.M{"$set": bson.M{
		"participants.$.active":  false,
		"participants.$.left_at": at.UTC(),
	}}

	res, err := s.c.UpdateOne(ctx,
		bson.M{"meeting_code": code, "participants": bson.M{"$elemMatch": bson.M{"conn_id": connID}}},
		set,
	)
	if err != nil {
		return false, err
	}
	if res.MatchedCount > 0 || identity == "" {
		return res.MatchedCount > 0, nil
	}

	res, err = s.c.UpdateOne(ctx,
		bson.M{"meeting_code": code, "participants": bson.M{"$elemMatch": bson.M{"identity": identity, "active": true}}},
		set,
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

// AppendMessage pushes msg onto the meeting's message log.
func (s *Store) AppendMessage(ctx context.Context, code string, msg models.ChatMessage) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"meeting_code": code},
		bson.M{"$push": bson.M{"messages": msg}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// RecentMessages returns up to limit of the newest messages in chronological
// order. A missing meeting yields an empty slice.
func (s *Store) RecentMessages(ctx context.Context, code string, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		return []models.ChatMessage{}, nil
	}
	var doc struct {
		Messages []models.ChatMessage `bson:"messages"`
	}
	err := s.c.FindOne(ctx,
		bson.M{"meeting_code": code},
		options.FindOne().SetProjection(bson.M{
			"messages": bson.M{"$slice": -limit},
			"_id":      1,
		}),
	).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return []models.ChatMessage{}, nil
	}
	if err != nil {
		return nil, err
	}
	if doc.Messages == nil {
		doc.Messages = []models.ChatMessage{}
	}
	return doc.Messages, nil
}

// SetPresenter records p as the meeting's current presenter.
func (s *Store) SetPresenter(ctx context.Context, code string, p models.Presenter) error {
	_, err := s.c.UpdateOne(ctx,
		bson.M{"meeting_code": code},
		bson.M{"$set": bson.M{"current_presenter": p}},
	)
	return err
}

// ClearPresenter removes the current presenter. When connID is non-empty the
// field is only cleared if that connection is still the recorded presenter.
func (s *Store) ClearPresenter(ctx context.Context, code, connID string) error {
	filter := bson.M{"meeting_code": code}
	if connID != "" {
		filter["current_presenter.conn_id"] = connID
	}
	_, err := s.c.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"current_presenter": nil}})
	return err
}

// EndRoom marks the meeting inactive, stamps ended_at and clears the
// presenter. Every still-active participant is stamped as left.
func (s *Store) EndRoom(ctx context.Context, code string, at time.Time) (models.Meeting, error) {
	at = at.UTC()
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(withoutMessages).
		SetArrayFilters(options.ArrayFilters{
			Filters: []interface{}{bson.M{"p.active": true}},
		})

	var m models.Meeting
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{"meeting_code": code},
		bson.M{"$set": bson.M{
			"active":                    false,
			"ended_at":                  at,
			"current_presenter":         nil,
			"participants.$[p].active":  false,
			"participants.$[p].left_at": at,
		}},
		opts,
	).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return models.Meeting{}, ErrNotFound
	}
	return m, err
}
