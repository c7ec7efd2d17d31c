// internal/app/system/auditlog/logger.go
package auditlog

// Terminology: Participant Identifiers
//   - Identity / identity: the stable identifier (email or user id) of a participant
//   - Actor / actor: the identity that performed an administrative action

import (
	"context"
	"strconv"

	"github.com/dalemusser/mentorlink/internal/app/store/audit"
	"go.uber.org/zap"
)

// Config holds audit logging configuration.
type Config struct {
	// Meeting controls logging for meeting events (rejected joins, presenter
	// conflicts, room endings).
	// Values: "all" (MongoDB + zap), "db" (MongoDB only), "log" (zap only), "off" (disabled)
	Meeting string
}

// Logger provides convenience methods for logging audit events.
// It logs to both MongoDB (via audit.Store) and structured logs (via zap).
type Logger struct {
	store  *audit.Store
	zapLog *zap.Logger
	config Config
}

// New creates a new audit Logger.
func New(store *audit.Store, zapLog *zap.Logger, config Config) *Logger {
	return &Logger{
		store:  store,
		zapLog: zapLog,
		config: config,
	}
}

// logToZap logs the event to zap with consistent structure.
func (l *Logger) logToZap(event audit.Event) {
	fields := []zap.Field{
		zap.Bool("audit", true),
		zap.String("category", event.Category),
		zap.String("event_type", event.EventType),
		zap.Bool("success", event.Success),
	}
	if event.RoomID != "" {
		fields = append(fields, zap.String("room_id", event.RoomID))
	}
	if event.Identity != "" {
		fields = append(fields, zap.String("identity", event.Identity))
	}
	if event.Actor != "" {
		fields = append(fields, zap.String("actor", event.Actor))
	}
	if event.IP != "" {
		fields = append(fields, zap.String("ip", event.IP))
	}
	if event.FailureReason != "" {
		fields = append(fields, zap.String("failure_reason", event.FailureReason))
	}
	for k, v := range event.Details {
		fields = append(fields, zap.String("detail_"+k, v))
	}

	if event.Success {
		l.zapLog.Info("audit event", fields...)
	} else {
		l.zapLog.Warn("audit event", fields...)
	}
}

// Log records an audit event based on configuration.
// If the logger is nil, this is a no-op (allows tests to use nil audit logger).
// Logging destination is controlled by config: "all", "db", "log", or "off".
func (l *Logger) Log(ctx context.Context, event audit.Event) {
	if l == nil {
		return
	}

	var setting string
	switch event.Category {
	case audit.CategoryMeeting:
		setting = l.config.Meeting
	default:
		setting = "all" // Default to logging everything for unknown categories
	}
	if setting == "" {
		setting = "all"
	}

	if setting == "off" {
		return
	}

	if setting == "all" || setting == "log" {
		l.logToZap(event)
	}

	if (setting == "all" || setting == "db") && l.store != nil {
		if err := l.store.Log(ctx, event); err != nil {
			l.zapLog.Error("failed to store audit event",
				zap.Error(err),
				zap.String("event_type", event.EventType),
			)
		}
	}
}

// --- Meeting Events ---

// JoinRejected logs a join attempt refused by the coordinator. reason is one
// of "full", "ended" or "elsewhere".
func (l *Logger) JoinRejected(ctx context.Context, roomID, identity, reason string) {
	eventType := audit.EventJoinRejectedFull
	switch reason {
	case "ended":
		eventType = audit.EventJoinRejectedEnded
	case "elsewhere":
		eventType = audit.EventJoinRejectedElsewhere
	}
	l.Log(ctx, audit.Event{
		Category:      audit.CategoryMeeting,
		EventType:     eventType,
		RoomID:        roomID,
		Identity:      identity,
		Success:       false,
		FailureReason: "room " + reason,
	})
}

// PresenterConflict logs a start-presenting attempt while holder presents.
func (l *Logger) PresenterConflict(ctx context.Context, roomID, identity, holder string) {
	l.Log(ctx, audit.Event{
		Category:      audit.CategoryMeeting,
		EventType:     audit.EventPresenterConflict,
		RoomID:        roomID,
		Identity:      identity,
		Success:       false,
		FailureReason: "another participant is presenting",
		Details: map[string]string{
			"holder": holder,
		},
	})
}

// RoomEnded logs an explicit end of a room by actor.
func (l *Logger) RoomEnded(ctx context.Context, roomID, actor, ip string, evicted int) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryMeeting,
		EventType: audit.EventRoomEnded,
		RoomID:    roomID,
		Actor:     actor,
		IP:        ip,
		Success:   true,
		Details: map[string]string{
			"evicted": strconv.Itoa(evicted),
		},
	})
}
