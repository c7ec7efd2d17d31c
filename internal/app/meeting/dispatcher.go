package meeting

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dalemusser/mentorlink/internal/domain/models"
	"go.uber.org/zap"
)

const lockStripes = 256

// Caller is the connection an event arrived on.
type Caller struct {
	ConnID string
	// Identity, DisplayName and Role come from the authenticated upgrade
	// request. An empty Identity means the join payload's stableIdentity is
	// trusted instead.
	Identity    string
	DisplayName string
	Role        string
}

// Dispatcher is the single entry point for client events. It serializes all
// work on a room behind that room's lock; different rooms run in parallel.
type Dispatcher struct {
	coord *Coordinator
	locks [lockStripes]sync.Mutex
	log   *zap.Logger
}

// NewDispatcher wraps coord.
func NewDispatcher(coord *Coordinator, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{coord: coord, log: log}
}

// Coordinator returns the wrapped coordinator.
func (d *Dispatcher) Coordinator() *Coordinator { return d.coord }

// lock takes the stripes of every room in ascending order and returns the
// matching unlock.
func (d *Dispatcher) lock(rooms ...string) func() {
	idx := make([]int, 0, len(rooms))
	seen := make(map[int]bool, len(rooms))
	for _, r := range rooms {
		i := int(xxhash.Sum64String(r) % lockStripes)
		if !seen[i] {
			seen[i] = true
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)
	for _, i := range idx {
		d.locks[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			d.locks[idx[j]].Unlock()
		}
	}
}

// HandleFrame decodes one raw websocket frame and handles it. Malformed
// frames and unknown types are logged and ignored.
func (d *Dispatcher) HandleFrame(ctx context.Context, caller Caller, data []byte) {
	ev, err := DecodeClientEvent(data)
	if err != nil {
		d.log.Debug("ignoring client frame", zap.String("conn_id", caller.ConnID), zap.Error(err))
		return
	}
	_ = d.Handle(ctx, caller, ev)
}

// Handle runs ev for caller. Errors are reported to caller (unless silent or
// already announced by a typed event) and returned.
func (d *Dispatcher) Handle(ctx context.Context, caller Caller, ev ClientEvent) error {
	var err error
	switch e := ev.(type) {
	case JoinRoom:
		req := JoinRequest{
			RoomID:      e.RoomID,
			ConnID:      caller.ConnID,
			Identity:    e.StableIdentity,
			DisplayName: e.DisplayName,
			Role:        e.Role,
			Kind:        e.Kind,
		}
		if caller.Identity != "" {
			req.Identity = caller.Identity
			if req.DisplayName == "" {
				req.DisplayName = caller.DisplayName
			}
			if caller.Role != "" {
				req.Role = caller.Role
			}
		}
		rooms := []string{e.RoomID}
		if cur, ok := d.coord.reg.RoomOf(caller.ConnID); ok && cur != e.RoomID {
			rooms = append(rooms, cur)
		}
		unlock := d.lock(rooms...)
		err = d.coord.Join(ctx, req)
		unlock()

	case LeaveRoom:
		unlock := d.lock(e.RoomID)
		d.coord.Leave(ctx, e.RoomID, caller.ConnID)
		unlock()

	case SendSignal:
		unlock := d.lock(e.RoomID)
		err = d.coord.Relay(e.Kind, e.RoomID, caller.ConnID, e.ToConnID, e.Payload)
		unlock()

	case SendMessage:
		unlock := d.lock(e.RoomID)
		err = d.coord.SendMessage(ctx, e.RoomID, caller.ConnID, e.Body)
		unlock()

	case GetHistory:
		unlock := d.lock(e.RoomID)
		err = d.coord.History(ctx, e.RoomID, caller.ConnID, e.Limit)
		unlock()

	case StartPresenting:
		unlock := d.lock(e.RoomID)
		err = d.coord.StartPresenting(ctx, e.RoomID, caller.ConnID, e.PresenterInfo)
		unlock()

	case StopPresenting:
		unlock := d.lock(e.RoomID)
		err = d.coord.StopPresenting(ctx, e.RoomID, caller.ConnID)
		unlock()

	case Typing:
		unlock := d.lock(e.RoomID)
		err = d.coord.Typing(e.RoomID, caller.ConnID, e.IsTyping)
		unlock()

	case GetRoster:
		unlock := d.lock(e.RoomID)
		err = d.coord.Roster(e.RoomID, caller.ConnID)
		unlock()

	case Whiteboard:
		unlock := d.lock(e.RoomID)
		err = d.coord.Whiteboard(e.RoomID, caller.ConnID, e.Data)
		unlock()

	default:
		err = ErrInvalidEvent
	}

	d.report(caller.ConnID, ev.Op(), err)
	return err
}

func (d *Dispatcher) report(connID, op string, err error) {
	switch {
	case err == nil:
		return
	case silent(err):
		d.log.Debug("signal dropped", zap.String("conn_id", connID), zap.String("op", op), zap.Error(err))
		return
	case announced(err):
		return
	case errors.Is(err, ErrPersistenceUnavailable):
		d.log.Warn("event failed", zap.String("conn_id", connID), zap.String("op", op), zap.Error(err))
	default:
		d.log.Debug("event rejected", zap.String("conn_id", connID), zap.String("op", op), zap.Error(err))
	}
	d.coord.send(connID, errorEvent(op, err))
}

// Disconnect removes connID from its room after the transport lost it.
func (d *Dispatcher) Disconnect(ctx context.Context, connID string) {
	roomID, ok := d.coord.reg.RoomOf(connID)
	if !ok {
		d.coord.Disconnect(ctx, connID)
		return
	}
	unlock := d.lock(roomID)
	defer unlock()
	d.coord.Disconnect(ctx, connID)
}

// EndRoom ends roomID under its lock.
func (d *Dispatcher) EndRoom(ctx context.Context, roomID, actor, ip string) (models.Meeting, int, error) {
	unlock := d.lock(roomID)
	defer unlock()
	return d.coord.EndRoom(ctx, roomID, actor, ip)
}

// LeaseLost rechecks roomID's lease under its lock and evicts its members
// if the lease is really gone.
func (d *Dispatcher) LeaseLost(roomID string) {
	unlock := d.lock(roomID)
	defer unlock()
	d.coord.LeaseLost(context.Background(), roomID)
}
