package meeting_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/mentorlink/internal/app/meeting"
	"github.com/dalemusser/mentorlink/internal/domain/models"
	"go.uber.org/zap"
)

var errStoreDown = errors.New("store down")

// memStore is an in-memory meeting.Store with the same matching rules as the
// MongoDB store.
type memStore struct {
	mu       sync.Mutex
	meetings map[string]*models.Meeting
	fail     bool // every call fails
	failChat bool // AppendMessage fails
}

func newMemStore() *memStore {
	return &memStore{meetings: make(map[string]*models.Meeting)}
}

func (s *memStore) setFail(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = v
}

func (s *memStore) setFailChat(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failChat = v
}

func (s *memStore) snapshot(code string) (models.Meeting, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[code]
	if !ok {
		return models.Meeting{}, false
	}
	cp := *m
	cp.Participants = append([]models.MeetingParticipant(nil), m.Participants...)
	cp.Messages = append([]models.ChatMessage(nil), m.Messages...)
	return cp, true
}

func (s *memStore) FindRoom(_ context.Context, code string) (models.Meeting, error) {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return models.Meeting{}, errStoreDown
	}
	m, ok := s.snapshot(code)
	if !ok {
		return models.Meeting{}, errors.New("meeting not found")
	}
	m.Messages = nil
	return m, nil
}

func (s *memStore) EnsureRoom(_ context.Context, code, kind string) (models.Meeting, error) {
	s.mu.Lock()
	if s.fail {
		s.mu.Unlock()
		return models.Meeting{}, errStoreDown
	}
	if _, ok := s.meetings[code]; !ok {
		s.meetings[code] = &models.Meeting{MeetingCode: code, Kind: kind, Active: true, CreatedAt: time.Now().UTC()}
	}
	s.mu.Unlock()
	m, _ := s.snapshot(code)
	return m, nil
}

func (s *memStore) UpsertParticipant(_ context.Context, code string, p models.MeetingParticipant) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return false, errStoreDown
	}
	m, ok := s.meetings[code]
	if !ok {
		return false, errors.New("meeting not found")
	}
	for i := range m.Participants {
		if m.Participants[i].Identity == p.Identity {
			m.Participants[i].ConnID = p.ConnID
			m.Participants[i].DisplayName = p.DisplayName
			m.Participants[i].Role = p.Role
			m.Participants[i].Active = true
			m.Participants[i].LeftAt = nil
			return true, nil
		}
	}
	p.Active = true
	p.LeftAt = nil
	m.Participants = append(m.Participants, p)
	return false, nil
}

func (s *memStore) MarkParticipantLeft(_ context.Context, code, connID, identity string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return false, errStoreDown
	}
	m, ok := s.meetings[code]
	if !ok {
		return false, nil
	}
	mark := func(i int) {
		t := at
		m.Participants[i].Active = false
		m.Participants[i].LeftAt = &t
	}
	for i := range m.Participants {
		if m.Participants[i].ConnID == connID {
			mark(i)
			return true, nil
		}
	}
	if identity == "" {
		return false, nil
	}
	for i := range m.Participants {
		if m.Participants[i].Identity == identity && m.Participants[i].Active {
			mark(i)
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) AppendMessage(_ context.Context, code string, msg models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail || s.failChat {
		return errStoreDown
	}
	m, ok := s.meetings[code]
	if !ok {
		return errors.New("meeting not found")
	}
	m.Messages = append(m.Messages, msg)
	return nil
}

func (s *memStore) RecentMessages(_ context.Context, code string, limit int) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errStoreDown
	}
	m, ok := s.meetings[code]
	if !ok {
		return []models.ChatMessage{}, nil
	}
	msgs := m.Messages
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]models.ChatMessage{}, msgs...), nil
}

func (s *memStore) SetPresenter(_ context.Context, code string, p models.Presenter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errStoreDown
	}
	if m, ok := s.meetings[code]; ok {
		m.CurrentPresenter = &p
	}
	return nil
}

func (s *memStore) ClearPresenter(_ context.Context, code, connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errStoreDown
	}
	if m, ok := s.meetings[code]; ok && m.CurrentPresenter != nil {
		if connID == "" || m.CurrentPresenter.ConnID == connID {
			m.CurrentPresenter = nil
		}
	}
	return nil
}

func (s *memStore) EndRoom(_ context.Context, code string, at time.Time) (models.Meeting, error) {
	s.mu.Lock()
	if s.fail {
		s.mu.Unlock()
		return models.Meeting{}, errStoreDown
	}
	m, ok := s.meetings[code]
	if !ok {
		s.mu.Unlock()
		return models.Meeting{}, errors.New("meeting not found")
	}
	t := at
	m.Active = false
	m.EndedAt = &t
	m.CurrentPresenter = nil
	for i := range m.Participants {
		if m.Participants[i].Active {
			m.Participants[i].Active = false
			m.Participants[i].LeftAt = &t
		}
	}
	s.mu.Unlock()
	out, _ := s.snapshot(code)
	return out, nil
}

// recSink records every event per connection.
type recSink struct {
	mu     sync.Mutex
	events map[string][]meeting.Event
}

func newRecSink() *recSink {
	return &recSink{events: make(map[string][]meeting.Event)}
}

func (s *recSink) Send(connID string, ev meeting.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[connID] = append(s.events[connID], ev)
	return true
}

// take returns and clears connID's events.
func (s *recSink) take(connID string) []meeting.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	evs := s.events[connID]
	delete(s.events, connID)
	return evs
}

func (s *recSink) all(connID string) []meeting.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]meeting.Event(nil), s.events[connID]...)
}

func types(evs []meeting.Event) []string {
	out := make([]string, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Type)
	}
	return out
}

func find(evs []meeting.Event, typ string) (meeting.Event, bool) {
	for _, e := range evs {
		if e.Type == typ {
			return e, true
		}
	}
	return meeting.Event{}, false
}

func count(evs []meeting.Event, typ string) int {
	n := 0
	for _, e := range evs {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// fakeLeaser refuses rooms listed in elsewhere.
type fakeLeaser struct {
	mu        sync.Mutex
	elsewhere map[string]bool
	held      map[string]bool
	err       error
}

func newFakeLeaser() *fakeLeaser {
	return &fakeLeaser{elsewhere: map[string]bool{}, held: map[string]bool{}}
}

func (l *fakeLeaser) Acquire(_ context.Context, roomID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.elsewhere[roomID] {
		return false, nil
	}
	l.held[roomID] = true
	return true, nil
}

func (l *fakeLeaser) Renew(_ context.Context, roomID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[roomID], nil
}

func (l *fakeLeaser) Release(_ context.Context, roomID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, roomID)
	return nil
}

func (l *fakeLeaser) holds(roomID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[roomID]
}

// fakeAudit counts audit calls by kind.
type fakeAudit struct {
	mu    sync.Mutex
	calls []string
}

func (a *fakeAudit) JoinRejected(_ context.Context, _, _, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, "join_"+reason)
}

func (a *fakeAudit) PresenterConflict(context.Context, string, string, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, "presenter_conflict")
}

func (a *fakeAudit) RoomEnded(context.Context, string, string, string, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, "room_ended")
}

func (a *fakeAudit) list() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

type harness struct {
	coord  *meeting.Coordinator
	disp   *meeting.Dispatcher
	store  *memStore
	sink   *recSink
	leaser *fakeLeaser
	audit  *fakeAudit
}

func newHarness(t *testing.T, cfg meeting.Config) *harness {
	t.Helper()
	h := &harness{
		store:  newMemStore(),
		sink:   newRecSink(),
		leaser: newFakeLeaser(),
		audit:  &fakeAudit{},
	}
	h.coord = meeting.NewCoordinator(cfg, meeting.Deps{
		Store:  h.store,
		Sink:   h.sink,
		Leaser: h.leaser,
		Audit:  h.audit,
		Log:    zap.NewNop(),
	})
	h.disp = meeting.NewDispatcher(h.coord, zap.NewNop())
	t.Cleanup(h.coord.Close)
	return h
}

func (h *harness) join(t *testing.T, roomID, connID, identity string) error {
	t.Helper()
	return h.disp.Handle(context.Background(), meeting.Caller{ConnID: connID}, meeting.JoinRoom{
		RoomID:         roomID,
		StableIdentity: identity,
		DisplayName:    identity,
	})
}

func (h *harness) mustJoin(t *testing.T, roomID, connID, identity string) {
	t.Helper()
	if err := h.join(t, roomID, connID, identity); err != nil {
		t.Fatalf("join %s as %s: %v", roomID, connID, err)
	}
}

func (h *harness) rosterConnIDs(roomID string) []string {
	var ids []string
	for _, p := range h.coord.Registry().Members(roomID) {
		ids = append(ids, p.ConnID)
	}
	return ids
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func sorted(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func capacityConfig(n int) meeting.Config {
	cfg := meeting.DefaultConfig()
	cfg.Capacity = map[string]int{models.RoomKindSession: n, models.RoomKindAdhoc: n}
	return cfg
}
