// internal/app/bootstrap/shutdown.go
package bootstrap

import (
	"context"

	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Shutdown closes live connections, drains the chat journal and tears down
// DB connections.
func Shutdown(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if rt := deps.Runtime; rt != nil {
		if rt.Renewer != nil {
			rt.Renewer.Stop()
		}
		if rt.Hub != nil {
			logger.Info("closing websocket connections", zap.Int("count", rt.Hub.Count()))
			rt.Hub.CloseAll()
		}
		if rt.Coordinator != nil {
			// Waits for queued chat writes.
			rt.Coordinator.Close()
		}
		if rt.APILimiter != nil {
			rt.APILimiter.Stop()
		}
	}

	if deps.Redis != nil {
		if err := deps.Redis.Close(); err != nil {
			logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if deps.MongoClient != nil {
		logger.Info("disconnecting MongoDB client")
		if err := deps.MongoClient.Disconnect(ctx); err != nil {
			logger.Error("MongoDB disconnect failed", zap.Error(err))
			return err
		}
	}
	return nil
}
