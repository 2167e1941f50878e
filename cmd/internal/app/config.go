package app

import (
	"fmt"
	"strings"
	"time"

	"tether/cmd/internal/fault"
	"tether/cmd/internal/target"
)

// Config contains all runtime configuration.
// LoadConfig fills it from TETHER_* environment variables, ParseFlags overrides from the command line.
type Config struct {
	UserID string

	UseProxy  bool
	Proxies   []string
	ProxyFile string
	Endpoints []string

	// InsecureSkipVerify turns off TLS certificate validation for every endpoint.
	InsecureSkipVerify bool

	// UserAgent overrides the generated handshake User-Agent.
	UserAgent string
	// AuthUserAgent is the user_agent reported inside AUTH results.
	AuthUserAgent string

	MaxDials int

	ProxyConnectTimeout time.Duration
	WriteTimeout        time.Duration
	ReadIdleTimeout     time.Duration

	LogLevel  string
	LogFormat string
	LogFile   string

	// HTTPAddr enables the status surface when non-empty.
	HTTPAddr          string
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeoutHTTP  time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// EventBuffer bounds the in-memory event store used without a database.
	EventBuffer int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		UserID: EnvString("TETHER_USER_ID", ""),

		UseProxy:  EnvBool("TETHER_USE_PROXY", false),
		Proxies:   EnvList("TETHER_PROXIES"),
		ProxyFile: EnvString("TETHER_PROXY_FILE", ""),
		Endpoints: EnvList("TETHER_ENDPOINTS"),

		InsecureSkipVerify: EnvBool("TETHER_INSECURE_SKIP_VERIFY", false),

		UserAgent:     EnvString("TETHER_USER_AGENT", ""),
		AuthUserAgent: EnvString("TETHER_AUTH_USER_AGENT", ""),

		MaxDials: EnvInt("TETHER_MAX_DIALS", 64),

		ProxyConnectTimeout: EnvDuration("TETHER_PROXY_CONNECT_TIMEOUT", 10*time.Second),
		WriteTimeout:        EnvDuration("TETHER_WRITE_TIMEOUT", 10*time.Second),
		ReadIdleTimeout:     EnvDuration("TETHER_READ_IDLE_TIMEOUT", 0),

		LogLevel:  EnvString("TETHER_LOG_LEVEL", "info"),
		LogFormat: EnvString("TETHER_LOG_FORMAT", "json"),
		LogFile:   EnvString("TETHER_LOG_FILE", ""),

		HTTPAddr:          EnvString("TETHER_HTTP_ADDR", ""),
		ReadHeaderTimeout: EnvDuration("TETHER_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("TETHER_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeoutHTTP:  EnvDuration("TETHER_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("TETHER_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("TETHER_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("TETHER_DATABASE_URL", ""),
		DBSchema:    EnvString("TETHER_DB_SCHEMA", "tether"),
		DBMaxConns:  EnvInt32("TETHER_DB_MAX_CONNS", 4),
		DBMinConns:  EnvInt32("TETHER_DB_MIN_CONNS", 0),

		EventBuffer: EnvInt("TETHER_EVENT_BUFFER", 10_000),
	}
}

// Validate reports the first problem that must abort startup.
func (c Config) Validate() error {
	const op = "app.Config"

	if strings.TrimSpace(c.UserID) == "" {
		return fault.Configuration(op, "user id is required (--user-id or TETHER_USER_ID)")
	}
	if c.UseProxy && len(c.Proxies) == 0 && strings.TrimSpace(c.ProxyFile) == "" {
		return fault.Configuration(op, "proxy mode needs --proxy or --proxy-file")
	}
	if c.MaxDials <= 0 {
		return fault.Configuration(op, fmt.Sprintf("max dials must be positive, got %d", c.MaxDials))
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "json", "pretty", "text":
	default:
		return fault.Configuration(op, fmt.Sprintf("unknown log format %q", c.LogFormat))
	}
	return nil
}

// endpoints returns the configured endpoints or the built-in defaults.
func (c Config) endpoints() []string {
	if len(c.Endpoints) > 0 {
		return c.Endpoints
	}
	return target.DefaultEndpoints
}
