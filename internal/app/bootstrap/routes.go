// internal/app/bootstrap/routes.go
package bootstrap

import (
	"fmt"
	"net/http"

	auditlogfeature "github.com/dalemusser/mentorlink/internal/app/features/auditlog"
	healthfeature "github.com/dalemusser/mentorlink/internal/app/features/health"
	meetingwsfeature "github.com/dalemusser/mentorlink/internal/app/features/meetingws"
	roomsfeature "github.com/dalemusser/mentorlink/internal/app/features/rooms"
	"github.com/dalemusser/mentorlink/internal/app/store/audit"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// the Startup hook have completed. MentorLink mounts:
//   - /health   liveness of Mongo and Redis
//   - /metrics  Prometheus metrics
//   - /ws       the realtime room websocket
//   - /api/rooms room inspection and ending
//   - /api/audit the meeting audit trail (admins)
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	rt := deps.Runtime
	if rt == nil || rt.Dispatcher == nil {
		return nil, fmt.Errorf("build handler: startup did not run")
	}

	r := chi.NewRouter()

	// Health check endpoint for load balancers and orchestrators
	healthHandler := healthfeature.NewHandler(deps.MongoClient, deps.Redis, rt.Hub, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))

	r.Handle("/metrics", rt.Metrics.Handler())

	// The websocket handler resolves identity itself so a bad token is
	// refused before the upgrade.
	wsHandler := meetingwsfeature.NewHandler(rt.Dispatcher, rt.Hub, rt.Resolver, appCfg.WSAllowedOrigins, logger)
	r.Mount("/ws", meetingwsfeature.Routes(wsHandler))

	r.Route("/api", func(api chi.Router) {
		api.Use(rt.Resolver.LoadUser)
		roomsHandler := roomsfeature.NewHandler(rt.Dispatcher, rt.APILimiter, logger)
		api.Mount("/rooms", roomsfeature.Routes(roomsHandler))

		auditHandler := auditlogfeature.NewHandler(audit.New(deps.MongoDatabase), logger)
		api.Mount("/audit", auditlogfeature.Routes(auditHandler))
	})

	return r, nil
}
