// internal/app/bootstrap/config.go
package bootstrap

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/mentorlink/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

const devSessionKey = "dev-only-change-me-please-0123456789ABCDEF"

// appConfigKeys defines the configuration keys for MentorLink.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, redis_url, etc.
//   - Environment variables: MENTORLINK_MONGO_URI, MENTORLINK_REDIS_URL, etc.
//   - Command-line flags: --mongo_uri, --redis_url, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "mentorlink", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},

	// Room leases
	{Name: "redis_url", Default: "", Desc: "Redis URL for room leases (blank disables; single process only)"},
	{Name: "room_lease_ttl", Default: "30s", Desc: "Room lease TTL; renewed at a third of this"},

	// Identity
	{Name: "session_key", Default: devSessionKey, Desc: "Session cookie verification key (must match the login service)"},
	{Name: "session_name", Default: "mentorlink-session", Desc: "Session cookie name"},
	{Name: "session_domain", Default: "", Desc: "Session cookie domain (blank means current host)"},
	{Name: "jwt_secret", Default: "", Desc: "HMAC secret for bearer tokens (blank disables)"},
	{Name: "allow_trusted_identity", Default: false, Desc: "Trust the stableIdentity of unauthenticated joins"},

	// Rooms
	{Name: "capacity_session", Default: 10, Desc: "Live member limit for session rooms"},
	{Name: "capacity_adhoc", Default: 6, Desc: "Live member limit for ad-hoc rooms"},
	{Name: "history_limit", Default: 50, Desc: "Chat messages replayed on join"},
	{Name: "chat_max_length", Default: 2000, Desc: "Maximum chat message length"},
	{Name: "chat_rate_limit", Default: 20, Desc: "Chat messages per window per connection (0 disables)"},
	{Name: "chat_rate_window", Default: "10s", Desc: "Chat rate limit window"},
	{Name: "journal_workers", Default: 8, Desc: "Ordered chat persistence workers"},

	// Transport
	{Name: "ws_allowed_origins", Default: "", Desc: "Comma-separated websocket origins ('*' allows any, blank same host)"},
	{Name: "api_rate_limit", Default: 60, Desc: "Room API requests per window per client IP (0 disables)"},
	{Name: "api_rate_window", Default: "1m", Desc: "Room API rate limit window"},

	// Timeouts
	{Name: "timeout_ping", Default: "2s", Desc: "Budget for health pings and room lease calls"},
	{Name: "timeout_short", Default: "5s", Desc: "Budget for single-document room writes (join, chat append)"},
	{Name: "timeout_medium", Default: "10s", Desc: "Budget for multi-step work (ending a room, history replay, audit lists)"},

	// Audit logging settings
	{Name: "audit_log_meeting", Default: "all", Desc: "Meeting event logging: 'all' (db+log), 'db', 'log', or 'off'"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig handles .env files, config files,
// environment variables (WAFFLE_* for core, MENTORLINK_* for app) and flags,
// merged with precedence flags > env > files > defaults.
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "MENTORLINK", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),

		RedisURL:     strings.TrimSpace(appValues.String("redis_url")),
		RoomLeaseTTL: appValues.Duration("room_lease_ttl", 30*time.Second),

		SessionKey:           appValues.String("session_key"),
		SessionName:          appValues.String("session_name"),
		SessionDomain:        appValues.String("session_domain"),
		JWTSecret:            appValues.String("jwt_secret"),
		AllowTrustedIdentity: appValues.Bool("allow_trusted_identity"),

		CapacitySession: appValues.Int("capacity_session"),
		CapacityAdhoc:   appValues.Int("capacity_adhoc"),
		HistoryLimit:    appValues.Int("history_limit"),
		ChatMaxLength:   appValues.Int("chat_max_length"),
		ChatRateLimit:   appValues.Int("chat_rate_limit"),
		ChatRateWindow:  appValues.Duration("chat_rate_window", 10*time.Second),
		JournalWorkers:  appValues.Int("journal_workers"),

		WSAllowedOrigins: splitList(appValues.String("ws_allowed_origins")),
		APIRateLimit:     appValues.Int("api_rate_limit"),
		APIRateWindow:    appValues.Duration("api_rate_window", time.Minute),

		TimeoutPing:   appValues.Duration("timeout_ping", timeouts.DefaultPing),
		TimeoutShort:  appValues.Duration("timeout_short", timeouts.DefaultShort),
		TimeoutMedium: appValues.Duration("timeout_medium", timeouts.DefaultMedium),

		AuditLogMeeting: appValues.String("audit_log_meeting"),
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}
	if appCfg.SessionKey == "" && appCfg.JWTSecret == "" && !appCfg.AllowTrustedIdentity {
		return errors.New("no identity source: set session_key, jwt_secret or allow_trusted_identity")
	}
	if coreCfg != nil && coreCfg.Env == "prod" && appCfg.SessionKey == devSessionKey {
		return errors.New("session_key must be changed in production")
	}
	if appCfg.CapacitySession < 1 || appCfg.CapacityAdhoc < 1 {
		return fmt.Errorf("room capacities must be at least 1 (session=%d adhoc=%d)",
			appCfg.CapacitySession, appCfg.CapacityAdhoc)
	}
	if appCfg.RedisURL != "" && appCfg.RoomLeaseTTL < 3*time.Second {
		return fmt.Errorf("room_lease_ttl %s is too short; use at least 3s", appCfg.RoomLeaseTTL)
	}
	if appCfg.TimeoutPing < 0 || appCfg.TimeoutShort < 0 || appCfg.TimeoutMedium < 0 {
		return errors.New("timeouts must not be negative")
	}
	switch appCfg.AuditLogMeeting {
	case "all", "db", "log", "off":
	default:
		return fmt.Errorf("audit_log_meeting must be all, db, log or off (got %q)", appCfg.AuditLogMeeting)
	}
	return nil
}

// splitList parses a comma-separated config value.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
