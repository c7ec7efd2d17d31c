package meeting

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/dalemusser/mentorlink/internal/app/system/chattext"
	"github.com/dalemusser/mentorlink/internal/app/system/meetmetrics"
	"github.com/dalemusser/mentorlink/internal/app/system/timeouts"
	"github.com/dalemusser/mentorlink/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// SendMessage broadcasts a chat message from connID to every member of
// roomID, the sender included, and queues its durable append. The sender
// later receives message-saved, or an error event if the append fails. A
// broadcast message is never retracted.
func (c *Coordinator) SendMessage(ctx context.Context, roomID, connID, body string) error {
	sender, err := c.member(roomID, connID)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	if c.limiter != nil && !c.limiter.Allow(connID) {
		c.metrics.Dropped(meetmetrics.DropRateLimited)
		return fmt.Errorf("send message: %w", ErrRateLimited)
	}

	body = chattext.Clean(body)
	if body == "" {
		return fmt.Errorf("send message: %w: empty body", ErrInvalidEvent)
	}
	if n := utf8.RuneCountInString(body); n > c.cfg.ChatMaxLength {
		return fmt.Errorf("send message: %w: body is %d characters, limit %d", ErrInvalidEvent, n, c.cfg.ChatMaxLength)
	}

	msg := models.ChatMessage{
		ID:             primitive.NewObjectID(),
		Body:           body,
		SenderIdentity: sender.Identity,
		SenderName:     sender.DisplayName,
		SentAt:         c.now(),
	}
	c.broadcast(roomID, Event{Type: EvtMessage, Payload: msg}, "")
	c.metrics.Operation("send_message", "success", "")

	// Queued after the broadcast so the acknowledgement can never overtake
	// the message on the sender's connection.
	err = c.journal.Submit(ctx, roomID, func(jctx context.Context) {
		actx, cancel := timeouts.WithTimeout(jctx, timeouts.Short(), c.log, "append chat message")
		defer cancel()
		if err := c.store.AppendMessage(actx, roomID, msg); err != nil {
			c.log.Error("chat append failed",
				zap.String("room_id", roomID),
				zap.String("message_id", msg.ID.Hex()),
				zap.Error(err))
			c.metrics.Operation("append_message", "error", "persistence")
			c.send(connID, errorEvent(OpSendMessage, unavailable("append message", err)))
			return
		}
		c.send(connID, Event{Type: EvtMessageSaved, Payload: MessageSavedPayload{ID: msg.ID.Hex()}})
	})
	if err != nil {
		c.log.Error("chat journal rejected append", zap.String("room_id", roomID), zap.Error(err))
		c.send(connID, errorEvent(OpSendMessage, unavailable("append message", err)))
	}
	return nil
}

// History sends up to limit of roomID's most recent messages, oldest first,
// to connID. limit <= 0 means the configured default; larger values are
// clamped to MaxHistoryLimit.
func (c *Coordinator) History(ctx context.Context, roomID, connID string, limit int) error {
	if _, err := c.member(roomID, connID); err != nil {
		return fmt.Errorf("get history: %w", err)
	}
	msgs, err := c.recentMessages(ctx, roomID, ClampHistoryLimit(limit, c.cfg.HistoryLimit))
	if err != nil {
		return err
	}
	c.send(connID, Event{Type: EvtHistory, Payload: HistoryPayload{RoomID: roomID, Messages: msgs}})
	return nil
}

// ClampHistoryLimit applies the default and bounds to a requested limit.
func ClampHistoryLimit(limit, def int) int {
	if limit <= 0 {
		limit = def
	}
	if limit < 1 {
		limit = 1
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return limit
}

// recentMessages reads through the room's journal worker so the result
// includes every append queued before the call.
func (c *Coordinator) recentMessages(ctx context.Context, roomID string, limit int) ([]models.ChatMessage, error) {
	var (
		msgs   []models.ChatMessage
		loaded error
	)
	wctx, cancel := timeouts.WithTimeout(ctx, timeouts.Medium(), c.log, "wait for history")
	defer cancel()
	err := c.journal.Do(wctx, roomID, func(jctx context.Context) {
		rctx, cancel := timeouts.WithTimeout(jctx, timeouts.Short(), c.log, "load history")
		defer cancel()
		msgs, loaded = c.store.RecentMessages(rctx, roomID, limit)
	})
	if err != nil {
		return nil, unavailable("get history", err)
	}
	if loaded != nil {
		return nil, unavailable("get history", loaded)
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	return msgs, nil
}

// Typing relays a typing indicator to the other members. Never persisted.
func (c *Coordinator) Typing(roomID, connID string, isTyping bool) error {
	p, err := c.member(roomID, connID)
	if err != nil {
		return fmt.Errorf("typing: %w", err)
	}
	c.broadcast(roomID, Event{Type: EvtTyping, Payload: TypingPayload{
		ConnID:      p.ConnID,
		Identity:    p.Identity,
		DisplayName: p.DisplayName,
		IsTyping:    isTyping,
	}}, connID)
	return nil
}

// Whiteboard relays opaque drawing data to the other members. Never persisted.
func (c *Coordinator) Whiteboard(roomID, connID string, data json.RawMessage) error {
	if _, err := c.member(roomID, connID); err != nil {
		return fmt.Errorf("whiteboard: %w", err)
	}
	c.broadcast(roomID, Event{Type: EvtWhiteboard, Payload: WhiteboardPayload{FromConnID: connID, Data: data}}, connID)
	return nil
}
