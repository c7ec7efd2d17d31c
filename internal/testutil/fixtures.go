package testutil

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/dalemusser/mentorlink/internal/app/store/meetings"
	"github.com/dalemusser/mentorlink/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/mongo"
)

// WithChiURLParam adds a chi URL parameter to the request context.
// Use this in handler tests that need to access chi.URLParam values.
func WithChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// Fixtures provides helper methods for creating test data.
type Fixtures struct {
	db *mongo.Database
	t  *testing.T
}

// NewFixtures creates a new Fixtures instance for the given test database.
func NewFixtures(t *testing.T, db *mongo.Database) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t}
}

// DB returns the underlying database for direct access in tests.
func (f *Fixtures) DB() *mongo.Database {
	return f.db
}

// CreateMeeting creates an active meeting with one persisted participant per
// identity.
func (f *Fixtures) CreateMeeting(ctx context.Context, code, kind string, identities ...string) models.Meeting {
	f.t.Helper()
	store := meetings.New(f.db)
	if _, err := store.EnsureRoom(ctx, code, kind); err != nil {
		f.t.Fatalf("CreateMeeting(%s): %v", code, err)
	}
	for i, id := range identities {
		p := models.MeetingParticipant{
			Identity:    id,
			ConnID:      "fixture-" + id,
			DisplayName: id,
			JoinedAt:    time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
		}
		if _, err := store.UpsertParticipant(ctx, code, p); err != nil {
			f.t.Fatalf("CreateMeeting(%s) participant %s: %v", code, id, err)
		}
	}
	m, err := store.FindRoom(ctx, code)
	if err != nil {
		f.t.Fatalf("CreateMeeting(%s) reload: %v", code, err)
	}
	return m
}

// EndMeeting marks code ended.
func (f *Fixtures) EndMeeting(ctx context.Context, code string) models.Meeting {
	f.t.Helper()
	m, err := meetings.New(f.db).EndRoom(ctx, code, time.Now().UTC())
	if err != nil {
		f.t.Fatalf("EndMeeting(%s): %v", code, err)
	}
	return m
}
