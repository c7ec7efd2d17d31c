package auditlog_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dalemusser/mentorlink/internal/app/features/auditlog"
	"github.com/dalemusser/mentorlink/internal/app/store/audit"
	"github.com/dalemusser/mentorlink/internal/testutil"
	"go.uber.org/zap"
)

type listBody struct {
	Items []struct {
		EventType string `json:"eventType"`
		RoomID    string `json:"roomId"`
		Identity  string `json:"identity"`
	} `json:"items"`
	Page       int   `json:"page"`
	TotalPages int   `json:"totalPages"`
	Total      int64 `json:"total"`
	HasNext    bool  `json:"hasNext"`
}

func newTestRouter(t *testing.T) (http.Handler, *audit.Store) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	store := audit.New(db)
	return auditlog.Routes(auditlog.NewHandler(store, zap.NewNop())), store
}

func seed(t *testing.T, store *audit.Store) {
	t.Helper()
	ctx, cancel := testutil.TestContext()
	defer cancel()

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := store.Log(ctx, audit.Event{
			Timestamp:     base.Add(time.Duration(i) * time.Minute),
			Category:      audit.CategoryMeeting,
			EventType:     audit.EventJoinRejectedFull,
			RoomID:        "R1",
			Identity:      fmt.Sprintf("user%d@example.com", i),
			FailureReason: "room full",
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	err := store.Log(ctx, audit.Event{
		Timestamp: base.Add(24 * time.Hour),
		Category:  audit.CategoryMeeting,
		EventType: audit.EventRoomEnded,
		RoomID:    "R2",
		Actor:     "mentor@example.com",
		Success:   true,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func get(t *testing.T, h http.Handler, path string, user *testutil.TestUser) (*httptest.ResponseRecorder, listBody) {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	if user != nil {
		req = testutil.WithUser(req, *user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body listBody
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
	}
	return rec, body
}

func TestServeList_Authorization(t *testing.T) {
	h, _ := newTestRouter(t)
	mentor := testutil.MentorUser()

	tests := []struct {
		name     string
		user     *testutil.TestUser
		expected int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"mentor", &mentor, http.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, _ := get(t, h, "/", tc.user)
			if rec.Code != tc.expected {
				t.Errorf("expected status %d, got %d", tc.expected, rec.Code)
			}
		})
	}
}

func TestServeList_Filters(t *testing.T) {
	h, store := newTestRouter(t)
	seed(t, store)
	admin := testutil.AdminUser()

	tests := []struct {
		name      string
		path      string
		wantTotal int64
		wantItems int
	}{
		{"all", "/", 6, 6},
		{"by room", "/?room=R1", 5, 5},
		{"by event type", "/?event_type=room_ended", 1, 1},
		{"by identity", "/?identity=user3@example.com", 1, 1},
		{"by date", "/?start_date=2026-03-11&end_date=2026-03-11", 1, 1},
		{"end date inclusive", "/?end_date=2026-03-10", 5, 5},
		{"second page", "/?room=R1&size=2&page=2", 5, 2},
		{"past the end", "/?room=R1&size=2&page=9", 5, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := get(t, h, tc.path, &admin)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
			}
			if body.Total != tc.wantTotal {
				t.Errorf("total = %d, want %d", body.Total, tc.wantTotal)
			}
			if len(body.Items) != tc.wantItems {
				t.Errorf("items = %d, want %d", len(body.Items), tc.wantItems)
			}
		})
	}
}

func TestServeList_NewestFirstWithPaging(t *testing.T) {
	h, store := newTestRouter(t)
	seed(t, store)
	admin := testutil.AdminUser()

	rec, body := get(t, h, "/?room=R1&size=2", &admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if body.Page != 1 || body.TotalPages != 3 || !body.HasNext {
		t.Errorf("paging = page %d of %d, hasNext %v", body.Page, body.TotalPages, body.HasNext)
	}
	if len(body.Items) != 2 || body.Items[0].Identity != "user4@example.com" {
		t.Errorf("first item = %+v, want user4 first", body.Items)
	}
}

func TestServeList_BadDate(t *testing.T) {
	h, _ := newTestRouter(t)
	admin := testutil.AdminUser()

	rec, _ := get(t, h, "/?start_date=yesterday", &admin)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}
