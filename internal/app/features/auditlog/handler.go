// internal/app/features/auditlog/handler.go
package auditlog

import (
	"github.com/dalemusser/mentorlink/internal/app/store/audit"
	"go.uber.org/zap"
)

// Handler serves the meeting audit trail.
type Handler struct {
	Store *audit.Store
	Log   *zap.Logger
}

// NewHandler constructs an audit log Handler bound to the given store and
// logger.
func NewHandler(store *audit.Store, logger *zap.Logger) *Handler {
	return &Handler{
		Store: store,
		Log:   logger,
	}
}
