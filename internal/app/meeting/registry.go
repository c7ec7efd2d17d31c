package meeting

import (
	"sort"
	"sync"
	"time"

	"github.com/dalemusser/mentorlink/internal/domain/models"
)

// Participant is one live connection in a room. It exists only in memory.
type Participant struct {
	ConnID      string
	Identity    string
	DisplayName string
	Role        string
	JoinedAt    time.Time

	// seq orders joins across the process; a larger seq joined later.
	seq uint64
}

// View returns the public shape of p.
func (p Participant) View() PeerView {
	return PeerView{
		ConnID:      p.ConnID,
		Identity:    p.Identity,
		DisplayName: p.DisplayName,
		Role:        p.Role,
		JoinedAt:    p.JoinedAt,
	}
}

// JoinedBefore reports whether p joined before q.
func (p Participant) JoinedBefore(q Participant) bool {
	return p.seq < q.seq
}

type bucket struct {
	kind      string
	members   []Participant // join order
	presenter *models.Presenter
}

// Registry is the process-local map of live rooms.
//
// The mutex only guards the maps; the check-then-mutate sequences of one
// room are serialized by the Dispatcher's room lock.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*bucket
	conns map[string]string // connID → roomID
	seq   uint64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*bucket),
		conns: make(map[string]string),
	}
}

// RoomOf returns the room connID is currently in.
func (r *Registry) RoomOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.conns[connID]
	return roomID, ok
}

// Exists reports whether roomID has a live bucket.
func (r *Registry) Exists(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID]
	return ok
}

// Kind returns the kind the bucket was created with, or "" if none exists.
func (r *Registry) Kind(roomID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.rooms[roomID]; ok {
		return b.kind
	}
	return ""
}

// Count returns the number of live members in roomID.
func (r *Registry) Count(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.rooms[roomID]; ok {
		return len(b.members)
	}
	return 0
}

// Members returns a copy of roomID's members in join order.
func (r *Registry) Members(roomID string) []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]Participant, len(b.members))
	copy(out, b.members)
	return out
}

// Member returns the entry for connID if it is in roomID.
func (r *Registry) Member(roomID, connID string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.rooms[roomID]; ok {
		for _, p := range b.members {
			if p.ConnID == connID {
				return p, true
			}
		}
	}
	return Participant{}, false
}

// LiveConnFor returns another live connection of identity in roomID,
// skipping exceptConnID.
func (r *Registry) LiveConnFor(roomID, identity, exceptConnID string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.rooms[roomID]; ok {
		for _, p := range b.members {
			if p.Identity == identity && p.ConnID != exceptConnID {
				return p, true
			}
		}
	}
	return Participant{}, false
}

// Presenter returns a copy of roomID's presenter, or nil.
func (r *Registry) Presenter(roomID string) *models.Presenter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.rooms[roomID]; ok && b.presenter != nil {
		p := *b.presenter
		return &p
	}
	return nil
}

// RoomIDs returns the ids of all live rooms, sorted.
func (r *Registry) RoomIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns the number of live rooms and participants.
func (r *Registry) Stats() (rooms, participants int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms), len(r.conns)
}

// add inserts p into roomID, creating the bucket with kind if needed. The
// stored entry (with its join sequence) is returned.
func (r *Registry) add(roomID, kind string, p Participant) Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.rooms[roomID]
	if !ok {
		b = &bucket{kind: kind}
		r.rooms[roomID] = b
	}
	r.seq++
	p.seq = r.seq
	b.members = append(b.members, p)
	r.conns[p.ConnID] = roomID
	return p
}

type removal struct {
	roomID    string
	member    Participant
	presenter *models.Presenter // set when the removed member was presenting
	empty     bool              // bucket was deleted
}

// remove drops connID from its room. ok is false when connID is unknown.
func (r *Registry) remove(connID string) (removal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roomID, ok := r.conns[connID]
	if !ok {
		return removal{}, false
	}
	delete(r.conns, connID)

	out := removal{roomID: roomID}
	b := r.rooms[roomID]
	for i, p := range b.members {
		if p.ConnID == connID {
			out.member = p
			b.members = append(b.members[:i], b.members[i+1:]...)
			break
		}
	}
	if b.presenter != nil && b.presenter.ConnID == connID {
		out.presenter = b.presenter
		b.presenter = nil
	}
	if len(b.members) == 0 {
		delete(r.rooms, roomID)
		out.empty = true
	}
	return out, true
}

// drop deletes roomID and all its members, returning them in join order.
func (r *Registry) drop(roomID string) []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	for _, p := range b.members {
		delete(r.conns, p.ConnID)
	}
	delete(r.rooms, roomID)
	return b.members
}

func (r *Registry) setPresenter(roomID string, p models.Presenter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.rooms[roomID]; ok {
		b.presenter = &p
	}
}

func (r *Registry) clearPresenter(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.rooms[roomID]; ok {
		b.presenter = nil
	}
}
