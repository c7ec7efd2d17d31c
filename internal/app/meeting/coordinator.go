// Package meeting coordinates live rooms: membership, WebRTC signaling relay,
// chat fan-out and presenter arbitration.
//
// All operations of one room must be serialized by the caller; the
// Dispatcher does that with a per-room lock. Operations deliver their
// outgoing events through the Sink while that lock is held, so every member
// observes a room's events in the order the room processed them.
package meeting

import (
	"context"
	"fmt"
	"time"

	"github.com/dalemusser/mentorlink/internal/app/system/meetmetrics"
	"github.com/dalemusser/mentorlink/internal/app/system/ratelimit"
	"github.com/dalemusser/mentorlink/internal/app/system/roomlease"
	"github.com/dalemusser/mentorlink/internal/app/system/timeouts"
	"github.com/dalemusser/mentorlink/internal/domain/models"
	"go.uber.org/zap"
)

// Store is the persistent room record.
type Store interface {
	FindRoom(ctx context.Context, code string) (models.Meeting, error)
	EnsureRoom(ctx context.Context, code, kind string) (models.Meeting, error)
	UpsertParticipant(ctx context.Context, code string, p models.MeetingParticipant) (rejoined bool, err error)
	MarkParticipantLeft(ctx context.Context, code, connID, identity string, at time.Time) (bool, error)
	AppendMessage(ctx context.Context, code string, msg models.ChatMessage) error
	RecentMessages(ctx context.Context, code string, limit int) ([]models.ChatMessage, error)
	SetPresenter(ctx context.Context, code string, p models.Presenter) error
	ClearPresenter(ctx context.Context, code, connID string) error
	EndRoom(ctx context.Context, code string, at time.Time) (models.Meeting, error)
}

// Sink delivers events to connections. Send must not block; it reports
// false when connID is gone or could not accept the event.
type Sink interface {
	Send(connID string, ev Event) bool
}

// Auditor records meeting audit events.
type Auditor interface {
	JoinRejected(ctx context.Context, roomID, identity, reason string)
	PresenterConflict(ctx context.Context, roomID, identity, holder string)
	RoomEnded(ctx context.Context, roomID, actor, ip string, evicted int)
}

type nopAuditor struct{}

func (nopAuditor) JoinRejected(context.Context, string, string, string)      {}
func (nopAuditor) PresenterConflict(context.Context, string, string, string) {}
func (nopAuditor) RoomEnded(context.Context, string, string, string, int)    {}

// MaxHistoryLimit bounds any history request.
const MaxHistoryLimit = 200

// Config holds coordinator tunables.
type Config struct {
	// Capacity is the live member limit per room kind.
	Capacity map[string]int
	// DefaultKind is used when a join does not name a known kind.
	DefaultKind string
	// HistoryLimit is the number of messages replayed on join and the
	// default for get-history.
	HistoryLimit int
	// ChatMaxLength is the maximum message length in runes after cleaning.
	ChatMaxLength int
	// ChatRateLimit messages per ChatRateWindow per connection; 0 disables.
	ChatRateLimit  int
	ChatRateWindow time.Duration
	// JournalWorkers is the number of ordered chat persistence workers.
	JournalWorkers int
	// JournalQueue is the queue depth of each journal worker.
	JournalQueue int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Capacity: map[string]int{
			models.RoomKindSession: 10,
			models.RoomKindAdhoc:   6,
		},
		DefaultKind:    models.RoomKindSession,
		HistoryLimit:   50,
		ChatMaxLength:  2000,
		ChatRateLimit:  20,
		ChatRateWindow: 10 * time.Second,
		JournalWorkers: 8,
		JournalQueue:   256,
	}
}

// Deps are the collaborators of a Coordinator. Leaser, Audit and Metrics
// may be nil.
type Deps struct {
	Store   Store
	Sink    Sink
	Leaser  roomlease.Leaser
	Audit   Auditor
	Metrics *meetmetrics.Metrics
	Log     *zap.Logger
}

// Coordinator owns the live registry and implements every room operation.
type Coordinator struct {
	cfg     Config
	reg     *Registry
	store   Store
	sink    Sink
	leaser  roomlease.Leaser
	audit   Auditor
	metrics *meetmetrics.Metrics
	journal *Journal
	limiter *ratelimit.Limiter
	log     *zap.Logger
	now     func() time.Time
}

// NewCoordinator builds a coordinator and starts its chat journal.
func NewCoordinator(cfg Config, deps Deps) *Coordinator {
	def := DefaultConfig()
	if len(cfg.Capacity) == 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.DefaultKind == "" {
		cfg.DefaultKind = def.DefaultKind
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.HistoryLimit > MaxHistoryLimit {
		cfg.HistoryLimit = MaxHistoryLimit
	}
	if cfg.ChatMaxLength <= 0 {
		cfg.ChatMaxLength = def.ChatMaxLength
	}
	if cfg.JournalWorkers <= 0 {
		cfg.JournalWorkers = def.JournalWorkers
	}
	if cfg.JournalQueue <= 0 {
		cfg.JournalQueue = def.JournalQueue
	}

	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	c := &Coordinator{
		cfg:     cfg,
		reg:     NewRegistry(),
		store:   deps.Store,
		sink:    deps.Sink,
		leaser:  deps.Leaser,
		audit:   deps.Audit,
		metrics: deps.Metrics,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
	if c.leaser == nil {
		c.leaser = roomlease.Nop{}
	}
	if c.audit == nil {
		c.audit = nopAuditor{}
	}
	if cfg.ChatRateLimit > 0 && cfg.ChatRateWindow > 0 {
		c.limiter = ratelimit.New(cfg.ChatRateLimit, cfg.ChatRateWindow)
	}
	c.journal = NewJournal(cfg.JournalWorkers, cfg.JournalQueue, log, deps.Metrics)
	return c
}

// Registry exposes the live registry for read-only use.
func (c *Coordinator) Registry() *Registry { return c.reg }

// Close drains the chat journal and stops the rate limiter.
func (c *Coordinator) Close() {
	c.journal.Close()
	if c.limiter != nil {
		c.limiter.Stop()
	}
}

// Capacity returns the member limit for kind.
func (c *Coordinator) Capacity(kind string) int {
	if n, ok := c.cfg.Capacity[kind]; ok {
		return n
	}
	return c.cfg.Capacity[c.cfg.DefaultKind]
}

func (c *Coordinator) kindOf(kind string) string {
	if _, ok := c.cfg.Capacity[kind]; ok {
		return kind
	}
	return c.cfg.DefaultKind
}

func (c *Coordinator) send(connID string, ev Event) {
	if !c.sink.Send(connID, ev) {
		c.log.Debug("event not delivered", zap.String("conn_id", connID), zap.String("type", ev.Type))
	}
}

// broadcast sends ev to every member of roomID except exceptConnID.
func (c *Coordinator) broadcast(roomID string, ev Event, exceptConnID string) {
	for _, p := range c.reg.Members(roomID) {
		if p.ConnID != exceptConnID {
			c.send(p.ConnID, ev)
		}
	}
}

func (c *Coordinator) roster(roomID string) Event {
	members := c.reg.Members(roomID)
	views := make([]PeerView, 0, len(members))
	for _, p := range members {
		views = append(views, p.View())
	}
	return Event{Type: EvtRosterUpdate, Payload: RosterPayload{RoomID: roomID, ActiveParticipants: views}}
}

func (c *Coordinator) member(roomID, connID string) (Participant, error) {
	p, ok := c.reg.Member(roomID, connID)
	if !ok {
		return Participant{}, fmt.Errorf("room %q: %w", roomID, ErrNotInRoom)
	}
	return p, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrPersistenceUnavailable, err)
}

// ---- membership ----

// JoinRequest is the admission request of one connection.
type JoinRequest struct {
	RoomID      string
	ConnID      string
	Identity    string
	DisplayName string
	Role        string
	Kind        string
}

// Join admits req.ConnID into req.RoomID.
//
// On success the joiner receives existing-peers (unless alone), roster-update,
// presenting-started (when someone presents) and history; every other member
// receives peer-joined and roster-update. Rejections send room-full,
// room-ended or room-unavailable to the joiner and leave both the target room
// and any room the joiner is already in unchanged.
func (c *Coordinator) Join(ctx context.Context, req JoinRequest) error {
	if req.RoomID == "" || req.ConnID == "" || req.Identity == "" {
		return fmt.Errorf("join: %w: roomId and identity are required", ErrInvalidEvent)
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Identity
	}

	prev, switching := c.reg.RoomOf(req.ConnID)
	if switching && prev == req.RoomID {
		c.sendSnapshot(req.RoomID, req.ConnID)
		return nil
	}

	roomID := req.RoomID
	fresh := !c.reg.Exists(roomID)
	kind := c.kindOf(req.Kind)
	if !fresh {
		kind = c.reg.Kind(roomID)
		if c.reg.Count(roomID) >= c.Capacity(kind) {
			return c.reject(ctx, req, "full", EvtRoomFull, ErrRoomFull)
		}
	}

	if fresh {
		lctx, cancel := timeouts.WithTimeout(ctx, timeouts.Ping(), c.log, "acquire room lease")
		ok, err := c.leaser.Acquire(lctx, roomID)
		cancel()
		if err != nil {
			c.metrics.Operation("join", "error", "lease")
			return unavailable("join: lease", err)
		}
		if !ok {
			return c.reject(ctx, req, "elsewhere", EvtRoomUnavailable, ErrRoomElsewhere)
		}
	}
	// From here on a fresh room holds a lease that must be released on failure.
	release := func() {
		if fresh {
			c.releaseLease(roomID)
		}
	}

	sctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), c.log, "ensure room")
	m, err := c.store.EnsureRoom(sctx, roomID, kind)
	cancel()
	if err != nil {
		release()
		c.metrics.Operation("join", "error", "persistence")
		return unavailable("join: ensure room", err)
	}
	if m.Ended() {
		release()
		return c.reject(ctx, req, "ended", EvtRoomEnded, ErrRoomEnded)
	}
	if fresh && m.Kind != "" {
		kind = c.kindOf(m.Kind)
	}

	now := c.now()
	sctx, cancel = timeouts.WithTimeout(ctx, timeouts.Short(), c.log, "upsert participant")
	rejoined, err := c.store.UpsertParticipant(sctx, roomID, models.MeetingParticipant{
		Identity:    req.Identity,
		ConnID:      req.ConnID,
		DisplayName: req.DisplayName,
		Role:        req.Role,
		JoinedAt:    now,
	})
	cancel()
	if err != nil {
		release()
		c.metrics.Operation("join", "error", "persistence")
		return unavailable("join: upsert participant", err)
	}

	if fresh && m.CurrentPresenter != nil {
		// Nobody is live yet, so a recorded presenter is left over from a
		// previous process.
		sctx, cancel = timeouts.WithTimeout(ctx, timeouts.Short(), c.log, "clear stale presenter")
		if err := c.store.ClearPresenter(sctx, roomID, ""); err != nil {
			c.log.Warn("failed to clear stale presenter", zap.String("room_id", roomID), zap.Error(err))
		}
		cancel()
	}

	// Admission is certain; only now does the connection leave its old room.
	if switching {
		c.leave(ctx, prev, req.ConnID)
	}

	joined := c.reg.add(roomID, kind, Participant{
		ConnID:      req.ConnID,
		Identity:    req.Identity,
		DisplayName: req.DisplayName,
		Role:        req.Role,
		JoinedAt:    now,
	})
	if fresh {
		c.metrics.RoomStarted()
	}
	c.metrics.ParticipantJoined()
	reason := ""
	if rejoined {
		reason = "rejoin"
	}
	c.metrics.Operation("join", "success", reason)
	c.log.Info("participant joined",
		zap.String("room_id", roomID),
		zap.String("conn_id", req.ConnID),
		zap.String("identity", req.Identity),
		zap.Bool("rejoin", rejoined))

	c.sendSnapshot(roomID, req.ConnID)
	c.broadcast(roomID, Event{Type: EvtPeerJoined, Payload: joined.View()}, req.ConnID)
	c.broadcast(roomID, c.roster(roomID), req.ConnID)

	if p := c.reg.Presenter(roomID); p != nil {
		c.send(req.ConnID, Event{Type: EvtPresentingStarted, Payload: PresenterPayload{PresenterInfo: p}})
	}

	msgs, err := c.recentMessages(ctx, roomID, c.cfg.HistoryLimit)
	if err != nil {
		c.log.Warn("history replay failed", zap.String("room_id", roomID), zap.Error(err))
		c.send(req.ConnID, errorEvent(OpGetHistory, err))
		return nil
	}
	c.send(req.ConnID, Event{Type: EvtHistory, Payload: HistoryPayload{RoomID: roomID, Messages: msgs}})
	return nil
}

// sendSnapshot sends existing-peers (when anyone else is present) and the
// roster to connID.
func (c *Coordinator) sendSnapshot(roomID, connID string) {
	var peers []string
	for _, p := range c.reg.Members(roomID) {
		if p.ConnID != connID {
			peers = append(peers, p.ConnID)
		}
	}
	if len(peers) > 0 {
		c.send(connID, Event{Type: EvtExistingPeers, Payload: ExistingPeersPayload{RoomID: roomID, PeerConnIDs: peers}})
	}
	c.send(connID, c.roster(roomID))
}

func (c *Coordinator) reject(ctx context.Context, req JoinRequest, reason, evtType string, sentinel error) error {
	c.metrics.Operation("join", "error", "room_"+reason)
	c.audit.JoinRejected(ctx, req.RoomID, req.Identity, reason)
	c.log.Info("join rejected",
		zap.String("room_id", req.RoomID),
		zap.String("conn_id", req.ConnID),
		zap.String("reason", reason))
	c.send(req.ConnID, Event{Type: evtType, Payload: RoomPayload{RoomID: req.RoomID}})
	return fmt.Errorf("join %q: %w", req.RoomID, sentinel)
}

func (c *Coordinator) releaseLease(roomID string) {
	ctx, cancel := timeouts.WithTimeout(context.Background(), timeouts.Ping(), c.log, "release room lease")
	defer cancel()
	if err := c.leaser.Release(ctx, roomID); err != nil {
		c.log.Warn("failed to release room lease", zap.String("room_id", roomID), zap.Error(err))
	}
}

// Leave removes connID from roomID. It is a no-op when connID is not in
// roomID, which makes Leave and Disconnect idempotent in either order.
func (c *Coordinator) Leave(ctx context.Context, roomID, connID string) {
	cur, ok := c.reg.RoomOf(connID)
	if !ok || cur != roomID {
		return
	}
	c.leave(ctx, cur, connID)
}

// Disconnect is the transport's form of Leave for whatever room connID is in.
func (c *Coordinator) Disconnect(ctx context.Context, connID string) {
	if roomID, ok := c.reg.RoomOf(connID); ok {
		c.leave(ctx, roomID, connID)
	}
	if c.limiter != nil {
		c.limiter.Reset(connID)
	}
}

func (c *Coordinator) leave(ctx context.Context, roomID, connID string) {
	rm, ok := c.reg.remove(connID)
	if !ok {
		return
	}
	p := rm.member
	now := c.now()

	// The persisted entry is keyed by identity. If the same identity is still
	// live on another connection, point the entry at that one instead of
	// marking it left.
	sctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), c.log, "mark participant left")
	var err error
	if other, live := c.reg.LiveConnFor(roomID, p.Identity, connID); live {
		_, err = c.store.UpsertParticipant(sctx, roomID, models.MeetingParticipant{
			Identity:    other.Identity,
			ConnID:      other.ConnID,
			DisplayName: other.DisplayName,
			Role:        other.Role,
			JoinedAt:    other.JoinedAt,
		})
	} else {
		_, err = c.store.MarkParticipantLeft(sctx, roomID, connID, p.Identity, now)
	}
	cancel()
	if err != nil {
		c.log.Warn("failed to persist participant departure",
			zap.String("room_id", roomID),
			zap.String("conn_id", connID),
			zap.Error(err))
	}

	if rm.presenter != nil {
		sctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), c.log, "clear presenter")
		if err := c.store.ClearPresenter(sctx, roomID, connID); err != nil {
			c.log.Warn("failed to clear presenter", zap.String("room_id", roomID), zap.Error(err))
		}
		cancel()
		c.broadcast(roomID, Event{Type: EvtPresentingStopped, Payload: PresenterPayload{PresenterInfo: rm.presenter}}, "")
	}

	c.broadcast(roomID, Event{Type: EvtPeerLeft, Payload: PeerLeftPayload{ConnID: connID}}, "")
	c.broadcast(roomID, c.roster(roomID), "")

	c.metrics.ParticipantLeft()
	c.metrics.Operation("leave", "success", "")
	if rm.empty {
		c.releaseLease(roomID)
		c.metrics.RoomClosed()
	}
	c.log.Info("participant left",
		zap.String("room_id", roomID),
		zap.String("conn_id", connID),
		zap.Bool("room_empty", rm.empty))
}

// ---- room lifecycle ----

// EndRoom marks roomID ended, sends room-ended to every live member and
// removes them. It returns the updated record and the number of evicted
// connections.
func (c *Coordinator) EndRoom(ctx context.Context, roomID, actor, ip string) (models.Meeting, int, error) {
	sctx, cancel := timeouts.WithTimeout(ctx, timeouts.Medium(), c.log, "end room")
	m, err := c.store.EndRoom(sctx, roomID, c.now())
	cancel()
	if err != nil {
		return models.Meeting{}, 0, fmt.Errorf("end room %q: %w", roomID, err)
	}

	evicted := c.evict(roomID, Event{Type: EvtRoomEnded, Payload: RoomPayload{RoomID: roomID}})
	c.audit.RoomEnded(ctx, roomID, actor, ip, len(evicted))
	c.metrics.Operation("end_room", "success", "")
	return m, len(evicted), nil
}

// LeaseLost evicts everyone from a room whose lease this process no longer
// holds. Members receive room-unavailable and may rejoin elsewhere.
//
// The report may be stale: the room can have emptied and been re-leased by a
// later join since the renewer looked. The lease is renewed once more here,
// under the room lock, and nothing is evicted if this process still holds it
// or the check itself fails.
func (c *Coordinator) LeaseLost(ctx context.Context, roomID string) {
	if !c.reg.Exists(roomID) {
		return
	}
	lctx, cancel := timeouts.WithTimeout(ctx, timeouts.Ping(), c.log, "recheck room lease")
	held, err := c.leaser.Renew(lctx, roomID)
	cancel()
	if err != nil {
		c.log.Warn("room lease recheck failed, keeping members", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	if held {
		c.log.Info("room lease still held, ignoring stale loss", zap.String("room_id", roomID))
		c.metrics.Operation("lease_lost", "ignored", "stale")
		return
	}

	evicted := c.evict(roomID, Event{Type: EvtRoomUnavailable, Payload: RoomPayload{RoomID: roomID}})
	for _, p := range evicted {
		sctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), c.log, "mark participant left")
		if _, err := c.store.MarkParticipantLeft(sctx, roomID, p.ConnID, p.Identity, c.now()); err != nil {
			c.log.Warn("failed to persist participant departure", zap.String("room_id", roomID), zap.Error(err))
		}
		cancel()
	}
	c.metrics.Operation("lease_lost", "success", "")
}

// evict sends ev to every member of roomID and drops the bucket.
func (c *Coordinator) evict(roomID string, ev Event) []Participant {
	for _, p := range c.reg.Members(roomID) {
		c.send(p.ConnID, ev)
	}
	members := c.reg.drop(roomID)
	if members == nil {
		return nil
	}
	for range members {
		c.metrics.ParticipantLeft()
	}
	c.metrics.RoomClosed()
	c.releaseLease(roomID)
	return members
}

// RoomInfo is the persisted summary of a room plus its live state.
type RoomInfo struct {
	Meeting   models.Meeting
	Live      []PeerView
	Presenter *models.Presenter
	Capacity  int
}

// RoomInfo returns the persisted record and live roster of roomID.
func (c *Coordinator) RoomInfo(ctx context.Context, roomID string) (RoomInfo, error) {
	sctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), c.log, "find room")
	m, err := c.store.FindRoom(sctx, roomID)
	cancel()
	if err != nil {
		return RoomInfo{}, fmt.Errorf("room info %q: %w", roomID, err)
	}
	info := RoomInfo{
		Meeting:   m,
		Live:      []PeerView{},
		Presenter: c.reg.Presenter(roomID),
		Capacity:  c.Capacity(c.kindOf(m.Kind)),
	}
	for _, p := range c.reg.Members(roomID) {
		info.Live = append(info.Live, p.View())
	}
	return info, nil
}

// Roster sends roster-update for roomID to connID only.
func (c *Coordinator) Roster(roomID, connID string) error {
	if _, err := c.member(roomID, connID); err != nil {
		return err
	}
	c.send(connID, c.roster(roomID))
	return nil
}
