// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). They represent *app-level*
// configuration, not WAFFLE core configuration.
//
// WAFFLE's CoreConfig handles framework-level settings like ports, TLS,
// logging, CORS and request limits. AppConfig holds what is specific to the
// room service: backends, identity sources and room tunables.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase    string // Database name within MongoDB
	MongoMaxPoolSize uint64
	MongoMinPoolSize uint64

	// Redis backs room leases. Empty disables leases (single process only).
	RedisURL     string
	RoomLeaseTTL time.Duration

	// Identity sources
	SessionKey           string // Secret key for verifying session cookies
	SessionName          string // Cookie name for sessions (default: mentorlink-session)
	SessionDomain        string // Cookie domain (blank means current host)
	JWTSecret            string // HMAC secret for bearer tokens
	AllowTrustedIdentity bool   // accept stableIdentity from unauthenticated joins

	// Room tunables
	CapacitySession int // live member limit for session rooms
	CapacityAdhoc   int // live member limit for ad-hoc rooms
	HistoryLimit    int // messages replayed on join
	ChatMaxLength   int
	ChatRateLimit   int
	ChatRateWindow  time.Duration
	JournalWorkers  int

	// Websocket origins; empty means same host only, "*" allows any.
	WSAllowedOrigins []string

	// HTTP API rate limit per client IP; 0 disables.
	APIRateLimit  int
	APIRateWindow time.Duration

	// I/O budgets; zero keeps the package defaults.
	TimeoutPing   time.Duration
	TimeoutShort  time.Duration
	TimeoutMedium time.Duration

	// Audit logging: "all" (db+log), "db", "log", or "off"
	AuditLogMeeting string
}
