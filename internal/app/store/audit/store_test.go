package audit_test

import (
	"testing"
	"time"

	"github.com/dalemusser/mentorlink/internal/app/store/audit"
	"github.com/dalemusser/mentorlink/internal/testutil"
)

func TestStore_Log(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := audit.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	event := audit.Event{
		Category:      audit.CategoryMeeting,
		EventType:     audit.EventJoinRejectedFull,
		RoomID:        "room42",
		Identity:      "p3@example.com",
		Success:       false,
		FailureReason: "room full",
	}

	if err := store.Log(ctx, event); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	events, err := store.GetByRoom(ctx, "room42", 10)
	if err != nil {
		t.Fatalf("GetByRoom failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].ID.IsZero() {
		t.Error("expected ID to be auto-generated")
	}
	if events[0].Identity != "p3@example.com" {
		t.Errorf("Identity: got %q", events[0].Identity)
	}
}

func TestStore_Log_AutoSetsTimestamp(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := audit.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	before := time.Now().Add(-time.Second)
	err := store.Log(ctx, audit.Event{
		Category:  audit.CategoryMeeting,
		EventType: audit.EventRoomEnded,
		RoomID:    "r1",
		Success:   true,
	})
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	after := time.Now().Add(time.Second)

	events, err := store.GetByRoom(ctx, "r1", 10)
	if err != nil {
		t.Fatalf("GetByRoom failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Timestamp.Before(before) || events[0].Timestamp.After(after) {
		t.Errorf("expected timestamp to be set to current time, got %v", events[0].Timestamp)
	}
}

func TestStore_Query(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := audit.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	seed := []audit.Event{
		{Category: audit.CategoryMeeting, EventType: audit.EventJoinRejectedFull, RoomID: "a", Identity: "x"},
		{Category: audit.CategoryMeeting, EventType: audit.EventJoinRejectedFull, RoomID: "a", Identity: "y"},
		{Category: audit.CategoryMeeting, EventType: audit.EventPresenterConflict, RoomID: "a", Identity: "x"},
		{Category: audit.CategoryMeeting, EventType: audit.EventRoomEnded, RoomID: "b", Actor: "mentor@x"},
	}
	for _, e := range seed {
		if err := store.Log(ctx, e); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter audit.QueryFilter
		want   int
	}{
		{"by room", audit.QueryFilter{RoomID: "a"}, 3},
		{"by event type", audit.QueryFilter{EventType: audit.EventJoinRejectedFull}, 2},
		{"by identity", audit.QueryFilter{Identity: "x"}, 2},
		{"by category", audit.QueryFilter{Category: audit.CategoryMeeting}, 4},
		{"limit", audit.QueryFilter{Category: audit.CategoryMeeting, Limit: 2}, 2},
		{"no match", audit.QueryFilter{RoomID: "zzz"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := store.Query(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			if len(events) != tt.want {
				t.Errorf("got %d events, want %d", len(events), tt.want)
			}
		})
	}

	n, err := store.CountByFilter(ctx, audit.QueryFilter{RoomID: "a"})
	if err != nil {
		t.Fatalf("CountByFilter failed: %v", err)
	}
	if n != 3 {
		t.Errorf("CountByFilter: got %d, want 3", n)
	}
}

func TestStore_Query_TimeRange(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := audit.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	old := time.Now().Add(-2 * time.Hour)
	if err := store.Log(ctx, audit.Event{Category: audit.CategoryMeeting, EventType: audit.EventRoomEnded, RoomID: "r", Timestamp: old}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if err := store.Log(ctx, audit.Event{Category: audit.CategoryMeeting, EventType: audit.EventRoomEnded, RoomID: "r"}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	since := time.Now().Add(-time.Hour)
	events, err := store.Query(ctx, audit.QueryFilter{RoomID: "r", StartTime: &since})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 recent event, got %d", len(events))
	}
}
