// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/dalemusser/mentorlink/internal/app/features/meetingws"
	"github.com/dalemusser/mentorlink/internal/app/meeting"
	"github.com/dalemusser/mentorlink/internal/app/store/audit"
	"github.com/dalemusser/mentorlink/internal/app/store/meetings"
	"github.com/dalemusser/mentorlink/internal/app/system/auditlog"
	"github.com/dalemusser/mentorlink/internal/app/system/auth"
	"github.com/dalemusser/mentorlink/internal/app/system/meetmetrics"
	"github.com/dalemusser/mentorlink/internal/app/system/ratelimit"
	"github.com/dalemusser/mentorlink/internal/app/system/roomlease"
	"github.com/dalemusser/mentorlink/internal/app/system/timeouts"
	"github.com/dalemusser/mentorlink/internal/app/system/workers"
	"github.com/dalemusser/mentorlink/internal/domain/models"
	"github.com/dalemusser/waffle/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Runtime holds the long-lived services built at startup.
type Runtime struct {
	Metrics     *meetmetrics.Metrics
	Hub         *meetingws.Hub
	Coordinator *meeting.Coordinator
	Dispatcher  *meeting.Dispatcher
	Resolver    *auth.Resolver
	APILimiter  *ratelimit.Limiter    // nil when disabled
	Renewer     *workers.LeaseRenewer // nil without Redis
}

// Startup builds the room coordinator and its collaborators after DB
// connections and schema setup are complete, but before the HTTP handler is
// built.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if deps.Runtime == nil {
		return fmt.Errorf("startup: runtime holder missing from DBDeps")
	}
	timeouts.Configure(timeouts.Config{
		Ping:   appCfg.TimeoutPing,
		Short:  appCfg.TimeoutShort,
		Medium: appCfg.TimeoutMedium,
	})
	logger.Info("timeouts configured", zap.Any("timeouts", timeouts.Current()))

	rt, err := newRuntime(coreCfg, appCfg, deps, logger)
	if err != nil {
		return err
	}
	*deps.Runtime = *rt
	return nil
}

func newRuntime(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (*Runtime, error) {
	resolver, err := auth.NewResolver(auth.Config{
		SessionKey:   appCfg.SessionKey,
		SessionName:  appCfg.SessionName,
		Domain:       appCfg.SessionDomain,
		Secure:       coreCfg != nil && coreCfg.Env == "prod",
		JWTSecret:    appCfg.JWTSecret,
		AllowTrusted: appCfg.AllowTrustedIdentity,
	}, logger)
	if err != nil {
		logger.Error("identity resolver init failed", zap.Error(err))
		return nil, err
	}

	metrics := meetmetrics.New()
	hub := meetingws.NewHub(metrics, logger)
	auditLogger := auditlog.New(audit.New(deps.MongoDatabase), logger, auditlog.Config{
		Meeting: appCfg.AuditLogMeeting,
	})

	var leaser roomlease.Leaser = roomlease.Nop{}
	if deps.Redis != nil {
		owner := uuid.NewString()
		if host, err := os.Hostname(); err == nil {
			owner = host + "-" + owner
		}
		leaser = roomlease.NewRedis(deps.Redis, owner, appCfg.RoomLeaseTTL)
		logger.Info("room leases enabled", zap.String("owner", owner))
	}

	cfg := meeting.DefaultConfig()
	cfg.Capacity = map[string]int{
		models.RoomKindSession: appCfg.CapacitySession,
		models.RoomKindAdhoc:   appCfg.CapacityAdhoc,
	}
	cfg.HistoryLimit = appCfg.HistoryLimit
	cfg.ChatMaxLength = appCfg.ChatMaxLength
	cfg.ChatRateLimit = appCfg.ChatRateLimit
	cfg.ChatRateWindow = appCfg.ChatRateWindow
	cfg.JournalWorkers = appCfg.JournalWorkers

	coord := meeting.NewCoordinator(cfg, meeting.Deps{
		Store:   meetings.New(deps.MongoDatabase),
		Sink:    hub,
		Leaser:  leaser,
		Audit:   auditLogger,
		Metrics: metrics,
		Log:     logger,
	})
	disp := meeting.NewDispatcher(coord, logger)

	rt := &Runtime{
		Metrics:     metrics,
		Hub:         hub,
		Coordinator: coord,
		Dispatcher:  disp,
		Resolver:    resolver,
	}
	if appCfg.APIRateLimit > 0 {
		rt.APILimiter = ratelimit.New(appCfg.APIRateLimit, appCfg.APIRateWindow)
	}
	if deps.Redis != nil {
		ttl := appCfg.RoomLeaseTTL
		if ttl <= 0 {
			ttl = roomlease.DefaultTTL
		}
		rt.Renewer = workers.NewLeaseRenewer(coord.Registry(), leaser, logger, ttl/3, disp.LeaseLost)
		rt.Renewer.Start()
	}

	logger.Info("room coordinator started",
		zap.Int("capacity_session", appCfg.CapacitySession),
		zap.Int("capacity_adhoc", appCfg.CapacityAdhoc),
		zap.Int("journal_workers", appCfg.JournalWorkers),
		zap.Bool("leases", deps.Redis != nil))
	return rt, nil
}
