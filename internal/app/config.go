package app

import (
	"strings"
	"time"

	"github.com/colonialwars-lib/cwdtp-engine/cwdtp"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// Strict CORS allowlist for browser clients connecting to the CWDTP
	// upgrade endpoint.
	//
	// Rules:
	// - exact origin: "https://game.example.com"
	// - wildcard port: "http://localhost:*"
	// - wildcard all: "*" (not recommended with credentials)
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Security policy:
	// If true, CWDTP_GAMEAUTH_HMAC_KEY MUST be set (>= 32 bytes) and every
	// upgrade request must carry a valid X-Cwdtp-Auth bearer token.
	RequireGameAuth bool

	// CWDTP acceptor wiring.
	WSPath            string
	HandshakeTimeout  time.Duration
	PingTimeout       time.Duration
	CloseTimeout      time.Duration
	HeartbeatInterval time.Duration
	SendQueueSize     int
	MaxFrameBytes     int
	RateLimitEvents   int
	RateLimitWindow   time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	corsDefault := "http://localhost:*,http://127.0.0.1:*"
	corsRaw := EnvString("CWDTP_HTTP_CORS_ALLOWED_ORIGINS", "")
	if corsRaw == "" {
		corsRaw = EnvString("CWDTP_CORS_ALLOWED_ORIGINS", corsDefault)
	}

	return Config{
		HTTPAddr:  EnvString("CWDTP_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("CWDTP_LOG_LEVEL", "info"),
		LogFormat: EnvString("CWDTP_LOG_FORMAT", "auto"),

		ReadHeaderTimeout: EnvDuration("CWDTP_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("CWDTP_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("CWDTP_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("CWDTP_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("CWDTP_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("CWDTP_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("CWDTP_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("CWDTP_DB_MIN_CONNS", 0),

		CORSAllowedOrigins:   parseCSV(corsRaw),
		CORSAllowCredentials: EnvBool("CWDTP_HTTP_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("CWDTP_HTTP_CORS_MAX_AGE_SECONDS", 600),

		ReadinessRequireDB: EnvBool("CWDTP_READINESS_REQUIRE_DB", false),

		RequireGameAuth: EnvBool("CWDTP_REQUIRE_GAMEAUTH", false),

		WSPath:            EnvString("CWDTP_WS_PATH", "/cwdtp"),
		HandshakeTimeout:  EnvDuration("CWDTP_HANDSHAKE_TIMEOUT", cwdtp.DefaultTimeouts().Handshake),
		PingTimeout:       EnvDuration("CWDTP_PING_TIMEOUT", cwdtp.DefaultTimeouts().Ping),
		CloseTimeout:      EnvDuration("CWDTP_CLOSE_TIMEOUT", cwdtp.DefaultTimeouts().Close),
		HeartbeatInterval: EnvDuration("CWDTP_HEARTBEAT_INTERVAL", cwdtp.DefaultHeartbeatInterval),
		SendQueueSize:     EnvInt("CWDTP_SEND_QUEUE_SIZE", cwdtp.DefaultSendQueueSize),
		MaxFrameBytes:     EnvInt("CWDTP_MAX_FRAME_BYTES", cwdtp.DefaultMaxFrameBytes),
		RateLimitEvents:   EnvInt("CWDTP_RATE_LIMIT_EVENTS", cwdtp.DefaultRateLimitEvents),
		RateLimitWindow:   EnvDuration("CWDTP_RATE_LIMIT_WINDOW", cwdtp.DefaultRateLimitWindow),
	}
}

// parseCSV splits a comma-separated env value into trimmed, non-empty parts.
func parseCSV(raw string) []string {
	fields := strings.Split(raw, ",")
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}
