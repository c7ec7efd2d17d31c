package rooms_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/mentorlink/internal/app/features/rooms"
	"github.com/dalemusser/mentorlink/internal/app/meeting"
	"github.com/dalemusser/mentorlink/internal/app/store/meetings"
	"github.com/dalemusser/mentorlink/internal/app/system/ratelimit"
	"github.com/dalemusser/mentorlink/internal/domain/models"
	"github.com/dalemusser/mentorlink/internal/testutil"
	"go.uber.org/zap"
)

type recSink struct {
	mu     sync.Mutex
	events map[string][]string
}

func (s *recSink) Send(connID string, ev meeting.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[connID] = append(s.events[connID], ev.Type)
	return true
}

type env struct {
	router http.Handler
	disp   *meeting.Dispatcher
	sink   *recSink
	fx     *testutil.Fixtures
}

func newEnv(t *testing.T, limiter *ratelimit.Limiter) *env {
	t.Helper()
	db := testutil.SetupTestDB(t)
	sink := &recSink{events: map[string][]string{}}
	coord := meeting.NewCoordinator(meeting.DefaultConfig(), meeting.Deps{
		Store: meetings.New(db),
		Sink:  sink,
		Log:   zap.NewNop(),
	})
	t.Cleanup(coord.Close)
	disp := meeting.NewDispatcher(coord, zap.NewNop())
	h := rooms.NewHandler(disp, limiter, zap.NewNop())
	return &env{
		router: rooms.Routes(h),
		disp:   disp,
		sink:   sink,
		fx:     testutil.NewFixtures(t, db),
	}
}

func (e *env) do(method, path string, user *testutil.TestUser) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if user != nil {
		req = testutil.WithUser(req, *user)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestServeRoom(t *testing.T) {
	e := newEnv(t, nil)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	e.fx.CreateMeeting(ctx, "R1", models.RoomKindAdhoc, "a@x.com", "b@x.com")
	mentee := testutil.MenteeUser()

	if err := e.disp.Handle(ctx, meeting.Caller{ConnID: "c1"}, meeting.JoinRoom{RoomID: "R1", StableIdentity: "a@x.com"}); err != nil {
		t.Fatalf("join: %v", err)
	}

	rec := e.do("GET", "/R1", &mentee)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	var resp struct {
		RoomID       string `json:"roomId"`
		Kind         string `json:"kind"`
		Active       bool   `json:"active"`
		Capacity     int    `json:"capacity"`
		Participants []struct {
			Identity string `json:"identity"`
			Active   bool   `json:"active"`
		} `json:"participants"`
		Live []struct {
			ConnID string `json:"connId"`
		} `json:"live"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.RoomID != "R1" || resp.Kind != models.RoomKindAdhoc || !resp.Active {
		t.Errorf("unexpected room %+v", resp)
	}
	if resp.Capacity != 6 {
		t.Errorf("capacity: got %d, want 6", resp.Capacity)
	}
	if len(resp.Participants) != 2 {
		t.Errorf("participants: got %d, want 2", len(resp.Participants))
	}
	if len(resp.Live) != 1 || resp.Live[0].ConnID != "c1" {
		t.Errorf("live: got %+v, want [c1]", resp.Live)
	}
}

func TestServeRoom_NotFound(t *testing.T) {
	e := newEnv(t, nil)
	mentee := testutil.MenteeUser()

	rec := e.do("GET", "/missing", &mentee)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestServeRoom_RequiresSignIn(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do("GET", "/R1", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestServeEnd(t *testing.T) {
	e := newEnv(t, nil)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	e.fx.CreateMeeting(ctx, "R1", models.RoomKindSession)
	for _, c := range []string{"c1", "c2"} {
		if err := e.disp.Handle(ctx, meeting.Caller{ConnID: c}, meeting.JoinRoom{RoomID: "R1", StableIdentity: c + "@x.com"}); err != nil {
			t.Fatalf("join %s: %v", c, err)
		}
	}
	mentor := testutil.MentorUser()

	rec := e.do("POST", "/R1/end", &mentor)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	var resp struct {
		RoomID  string     `json:"roomId"`
		EndedAt *time.Time `json:"endedAt"`
		Evicted int        `json:"evicted"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Evicted != 2 || resp.EndedAt == nil {
		t.Errorf("unexpected response %+v", resp)
	}

	e.sink.mu.Lock()
	for _, c := range []string{"c1", "c2"} {
		evs := e.sink.events[c]
		if len(evs) == 0 || evs[len(evs)-1] != meeting.EvtRoomEnded {
			t.Errorf("%s: last event %v, want room-ended", c, evs)
		}
	}
	e.sink.mu.Unlock()

	// Later joins are refused.
	err := e.disp.Handle(context.Background(), meeting.Caller{ConnID: "c3"}, meeting.JoinRoom{RoomID: "R1", StableIdentity: "c3@x.com"})
	if err == nil {
		t.Error("join after end succeeded")
	}
}

func TestServeEnd_Authorization(t *testing.T) {
	e := newEnv(t, nil)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	e.fx.CreateMeeting(ctx, "R1", models.RoomKindSession)

	mentee := testutil.MenteeUser()
	admin := testutil.AdminUser()

	tests := []struct {
		name     string
		user     *testutil.TestUser
		path     string
		expected int
	}{
		{"anonymous", nil, "/R1/end", http.StatusUnauthorized},
		{"mentee", &mentee, "/R1/end", http.StatusForbidden},
		{"admin unknown room", &admin, "/nope/end", http.StatusNotFound},
		{"admin", &admin, "/R1/end", http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := e.do("POST", tc.path, tc.user)
			if rec.Code != tc.expected {
				t.Errorf("expected status %d, got %d", tc.expected, rec.Code)
			}
		})
	}
}

func TestRateLimited(t *testing.T) {
	limiter := ratelimit.New(1, time.Minute)
	defer limiter.Stop()
	e := newEnv(t, limiter)
	mentee := testutil.MenteeUser()

	first := e.do("GET", "/R1", &mentee)
	if got := first.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("remaining after first request = %q, want 0", got)
	}
	rec := e.do("GET", "/R1", &mentee)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected status %d, got %d", http.StatusTooManyRequests, rec.Code)
	}
}
