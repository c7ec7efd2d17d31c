package meetings_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/mentorlink/internal/app/store/meetings"
	"github.com/dalemusser/mentorlink/internal/domain/models"
	"github.com/dalemusser/mentorlink/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestStore_EnsureRoom_CreatesOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := meetings.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := store.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes failed: %v", err)
	}

	m1, err := store.EnsureRoom(ctx, "R1", models.RoomKindSession)
	if err != nil {
		t.Fatalf("EnsureRoom failed: %v", err)
	}
	if !m1.Active {
		t.Error("expected new meeting to be active")
	}
	if m1.Kind != models.RoomKindSession {
		t.Errorf("Kind: got %q, want %q", m1.Kind, models.RoomKindSession)
	}

	// Second call with another kind keeps the original document.
	m2, err := store.EnsureRoom(ctx, "R1", models.RoomKindAdhoc)
	if err != nil {
		t.Fatalf("EnsureRoom (second) failed: %v", err)
	}
	if m2.ID != m1.ID {
		t.Errorf("expected same meeting, got %v and %v", m1.ID, m2.ID)
	}
	if m2.Kind != models.RoomKindSession {
		t.Errorf("Kind changed on second EnsureRoom: %q", m2.Kind)
	}
}

func TestStore_EnsureRoom_Concurrent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := meetings.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := store.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes failed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.EnsureRoom(ctx, "race", models.RoomKindAdhoc); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("EnsureRoom failed: %v", err)
	}

	n, err := db.Collection("meetings").CountDocuments(ctx, map[string]string{"meeting_code": "race"})
	if err != nil {
		t.Fatalf("CountDocuments failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 meeting document, got %d", n)
	}
}

func TestStore_UpsertParticipant_RejoinUpdatesSameEntry(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := meetings.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := store.EnsureRoom(ctx, "R1", models.RoomKindSession); err != nil {
		t.Fatalf("EnsureRoom failed: %v", err)
	}

	rejoined, err := store.UpsertParticipant(ctx, "R1", models.MeetingParticipant{
		Identity:    "a@x.com",
		ConnID:      "conn-1",
		DisplayName: "Alice",
	})
	if err != nil {
		t.Fatalf("UpsertParticipant failed: %v", err)
	}
	if rejoined {
		t.Error("first join reported as rejoin")
	}

	if ok, err := store.MarkParticipantLeft(ctx, "R1", "conn-1", "a@x.com", time.Now()); err != nil || !ok {
		t.Fatalf("MarkParticipantLeft: ok=%v err=%v", ok, err)
	}

	m, err := store.FindRoom(ctx, "R1")
	if err != nil {
		t.Fatalf("FindRoom failed: %v", err)
	}
	p, _ := m.Participant("a@x.com")
	if p.Active || p.LeftAt == nil {
		t.Fatalf("expected inactive entry with left_at, got %+v", p)
	}

	rejoined, err = store.UpsertParticipant(ctx, "R1", models.MeetingParticipant{
		Identity:    "a@x.com",
		ConnID:      "conn-2",
		DisplayName: "Alice",
	})
	if err != nil {
		t.Fatalf("UpsertParticipant (rejoin) failed: %v", err)
	}
	if !rejoined {
		t.Error("second join not reported as rejoin")
	}

	m, err = store.FindRoom(ctx, "R1")
	if err != nil {
		t.Fatalf("FindRoom failed: %v", err)
	}
	count := 0
	for _, p := range m.Participants {
		if p.Identity == "a@x.com" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one entry for a@x.com, got %d", count)
	}
	p, _ = m.Participant("a@x.com")
	if !p.Active {
		t.Error("expected entry to be active after rejoin")
	}
	if p.LeftAt != nil {
		t.Error("expected left_at to be cleared after rejoin")
	}
	if p.ConnID != "conn-2" {
		t.Errorf("ConnID: got %q, want %q", p.ConnID, "conn-2")
	}
}

func TestStore_UpsertParticipant_MissingRoom(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := meetings.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, err := store.UpsertParticipant(ctx, "nope", models.MeetingParticipant{Identity: "a@x.com", ConnID: "c"})
	if !errors.Is(err, meetings.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_MarkParticipantLeft_FallsBackToIdentity(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := meetings.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := store.EnsureRoom(ctx, "R1", models.RoomKindSession); err != nil {
		t.Fatalf("EnsureRoom failed: %v", err)
	}
	if _, err := store.UpsertParticipant(ctx, "R1", models.MeetingParticipant{Identity: "b@x.com", ConnID: "conn-new"}); err != nil {
		t.Fatalf("UpsertParticipant failed: %v", err)
	}

	// Unknown connection id and no identity: nothing matches.
	ok, err := store.MarkParticipantLeft(ctx, "R1", "conn-old", "", time.Now())
	if err != nil {
		t.Fatalf("MarkParticipantLeft failed: %v", err)
	}
	if ok {
		t.Error("expected no match without identity fallback")
	}

	ok, err = store.MarkParticipantLeft(ctx, "R1", "conn-old", "b@x.com", time.Now())
	if err != nil {
		t.Fatalf("MarkParticipantLeft failed: %v", err)
	}
	if !ok {
		t.Error("expected identity fallback to match")
	}
}

func TestStore_Messages_AppendOrder(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := meetings.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := store.EnsureRoom(ctx, "R1", models.RoomKindSession); err != nil {
		t.Fatalf("EnsureRoom failed: %v", err)
	}

	bodies := []string{"one", "two", "three", "four", "five"}
	for _, b := range bodies {
		err := store.AppendMessage(ctx, "R1", models.ChatMessage{
			ID:             primitive.NewObjectID(),
			Body:           b,
			SenderIdentity: "a@x.com",
			SentAt:         time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("AppendMessage(%q) failed: %v", b, err)
		}
	}

	msgs, err := store.RecentMessages(ctx, "R1", 3)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	want := []string{"three", "four", "five"}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(msgs))
	}
	for i, m := range msgs {
		if m.Body != want[i] {
			t.Errorf("message %d: got %q, want %q", i, m.Body, want[i])
		}
	}

	if err := store.AppendMessage(ctx, "missing", models.ChatMessage{ID: primitive.NewObjectID()}); !errors.Is(err, meetings.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing room, got %v", err)
	}

	empty, err := store.RecentMessages(ctx, "missing", 10)
	if err != nil {
		t.Fatalf("RecentMessages(missing) failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no messages, got %d", len(empty))
	}
}

func TestStore_Presenter(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := meetings.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := store.EnsureRoom(ctx, "R1", models.RoomKindSession); err != nil {
		t.Fatalf("EnsureRoom failed: %v", err)
	}
	if err := store.SetPresenter(ctx, "R1", models.Presenter{ConnID: "c1", Name: "Alice", StartedAt: time.Now()}); err != nil {
		t.Fatalf("SetPresenter failed: %v", err)
	}

	// Clearing for another connection leaves the presenter in place.
	if err := store.ClearPresenter(ctx, "R1", "c2"); err != nil {
		t.Fatalf("ClearPresenter failed: %v", err)
	}
	m, _ := store.FindRoom(ctx, "R1")
	if m.CurrentPresenter == nil || m.CurrentPresenter.ConnID != "c1" {
		t.Fatalf("expected presenter c1, got %+v", m.CurrentPresenter)
	}

	if err := store.ClearPresenter(ctx, "R1", "c1"); err != nil {
		t.Fatalf("ClearPresenter failed: %v", err)
	}
	m, _ = store.FindRoom(ctx, "R1")
	if m.CurrentPresenter != nil {
		t.Errorf("expected presenter cleared, got %+v", m.CurrentPresenter)
	}
}

func TestStore_EndRoom(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := meetings.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := store.EnsureRoom(ctx, "R1", models.RoomKindSession); err != nil {
		t.Fatalf("EnsureRoom failed: %v", err)
	}
	if _, err := store.UpsertParticipant(ctx, "R1", models.MeetingParticipant{Identity: "a@x.com", ConnID: "c1"}); err != nil {
		t.Fatalf("UpsertParticipant failed: %v", err)
	}

	m, err := store.EndRoom(ctx, "R1", time.Now())
	if err != nil {
		t.Fatalf("EndRoom failed: %v", err)
	}
	if !m.Ended() {
		t.Error("expected meeting to be ended")
	}
	if len(m.ActiveParticipants()) != 0 {
		t.Errorf("expected no active participants, got %d", len(m.ActiveParticipants()))
	}

	if _, err := store.EndRoom(ctx, "missing", time.Now()); !errors.Is(err, meetings.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
