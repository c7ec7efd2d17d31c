// internal/app/system/workers/leaserenewer.go
package workers

import (
	"context"
	"sync"
	"time"

	"github.com/dalemusser/mentorlink/internal/app/system/roomlease"
	"github.com/dalemusser/mentorlink/internal/app/system/timeouts"
	"go.uber.org/zap"
)

// RoomLister reports the rooms this process currently hosts.
type RoomLister interface {
	RoomIDs() []string
}

// LeaseRenewer is a background worker that keeps room leases alive for every
// room with live members.
type LeaseRenewer struct {
	rooms    RoomLister
	leaser   roomlease.Leaser
	log      *zap.Logger
	interval time.Duration
	onLost   func(roomID string)
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewLeaseRenewer creates a new lease renewal worker.
//
// Parameters:
//   - rooms: source of hosted room ids
//   - leaser: the lease backend
//   - logger: zap logger for logging
//   - interval: how often to renew (should be well under the lease TTL)
//   - onLost: called for each room whose lease could not be renewed; may be nil
func NewLeaseRenewer(rooms RoomLister, leaser roomlease.Leaser, logger *zap.Logger, interval time.Duration, onLost func(roomID string)) *LeaseRenewer {
	return &LeaseRenewer{
		rooms:    rooms,
		leaser:   leaser,
		log:      logger,
		interval: interval,
		onLost:   onLost,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background renewal loop.
func (w *LeaseRenewer) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("room lease renewer started", zap.Duration("interval", w.interval))
}

// Stop signals the worker to stop and waits for it to finish.
func (w *LeaseRenewer) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	w.log.Info("room lease renewer stopped")
}

func (w *LeaseRenewer) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RenewOnce()
		}
	}
}

// RenewOnce renews every hosted room's lease a single time.
func (w *LeaseRenewer) RenewOnce() {
	for _, roomID := range w.rooms.RoomIDs() {
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.Ping())
		ok, err := w.leaser.Renew(ctx, roomID)
		cancel()
		if err != nil {
			w.log.Warn("room lease renewal failed", zap.String("room_id", roomID), zap.Error(err))
			continue
		}
		if !ok {
			w.log.Error("room lease lost", zap.String("room_id", roomID))
			if w.onLost != nil {
				w.onLost(roomID)
			}
		}
	}
}
