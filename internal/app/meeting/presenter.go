package meeting

import (
	"context"
	"fmt"

	"github.com/dalemusser/mentorlink/internal/app/system/timeouts"
	"github.com/dalemusser/mentorlink/internal/domain/models"
	"go.uber.org/zap"
)

// StartPresenting makes connID the presenter of roomID. The registry is
// authoritative; the persisted field is updated best effort.
//
// If another connection presents, the caller receives presenter-conflict and
// ErrPresenterConflict is returned with nothing changed. Repeating the call as
// the current presenter does nothing.
func (c *Coordinator) StartPresenting(ctx context.Context, roomID, connID string, info PresenterInfo) error {
	p, err := c.member(roomID, connID)
	if err != nil {
		return fmt.Errorf("start presenting: %w", err)
	}

	if cur := c.reg.Presenter(roomID); cur != nil {
		if cur.ConnID == connID {
			return nil
		}
		c.send(connID, Event{Type: EvtPresenterConflict, Payload: PresenterPayload{PresenterInfo: cur}})
		c.audit.PresenterConflict(ctx, roomID, p.Identity, cur.Identity)
		c.metrics.Operation("start_presenting", "error", "conflict")
		return fmt.Errorf("start presenting in %q: %w", roomID, ErrPresenterConflict)
	}

	pres := models.Presenter{
		ConnID:    connID,
		Identity:  p.Identity,
		Name:      info.Name,
		Role:      info.Role,
		StartedAt: c.now(),
	}
	if pres.Name == "" {
		pres.Name = p.DisplayName
	}
	if pres.Role == "" {
		pres.Role = p.Role
	}
	c.reg.setPresenter(roomID, pres)

	sctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), c.log, "set presenter")
	if err := c.store.SetPresenter(sctx, roomID, pres); err != nil {
		c.log.Warn("failed to persist presenter", zap.String("room_id", roomID), zap.Error(err))
	}
	cancel()

	c.broadcast(roomID, Event{Type: EvtPresentingStarted, Payload: PresenterPayload{PresenterInfo: &pres}}, connID)
	c.metrics.Operation("start_presenting", "success", "")
	return nil
}

// StopPresenting clears the presenter if connID holds it and tells every
// member, the caller included. Otherwise it does nothing.
func (c *Coordinator) StopPresenting(ctx context.Context, roomID, connID string) error {
	if _, err := c.member(roomID, connID); err != nil {
		return fmt.Errorf("stop presenting: %w", err)
	}
	cur := c.reg.Presenter(roomID)
	if cur == nil || cur.ConnID != connID {
		return nil
	}
	c.reg.clearPresenter(roomID)

	sctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), c.log, "clear presenter")
	if err := c.store.ClearPresenter(sctx, roomID, connID); err != nil {
		c.log.Warn("failed to clear persisted presenter", zap.String("room_id", roomID), zap.Error(err))
	}
	cancel()

	c.broadcast(roomID, Event{Type: EvtPresentingStopped, Payload: PresenterPayload{PresenterInfo: cur}}, "")
	c.metrics.Operation("stop_presenting", "success", "")
	return nil
}
