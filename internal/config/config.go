package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	trkerrors "git.home.luguber.info/inful/fencewatch/internal/errors"
)

// Config represents the application configuration
type Config struct {
	Session  SessionConfig  `yaml:"session"`
	Server   ServerConfig   `yaml:"server"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Store    StoreConfig    `yaml:"store"`
	Tracking TrackingConfig `yaml:"tracking"`
	Restart  RestartConfig  `yaml:"restart"`
	Provider ProviderConfig `yaml:"provider"`
	Battery  BatteryConfig  `yaml:"battery"`
	Admin    AdminConfig    `yaml:"admin"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SessionConfig identifies the tracked user. It is passed explicitly to the
// components that need it instead of living in a mutable global.
type SessionConfig struct {
	UserNumber string `yaml:"user_number"`
	APIKey     string `yaml:"api_key"`
	Role       Role   `yaml:"role"`
	TargetUser string `yaml:"target_user,omitempty"` // supporter mode: the user being watched
}

// Role distinguishes a tracked user from a supporter watching one.
type Role string

const (
	RoleUser      Role = "user"
	RoleSupporter Role = "supporter"
)

// ServerConfig points at the remote safety service.
type ServerConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// RealtimeConfig configures the low-latency fix channel.
type RealtimeConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix,omitempty"`
	Enabled       bool   `yaml:"enabled"`
}

// StoreConfig locates the durable state store shared by both producers.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// TrackingConfig holds the engine's timing and geometry constants.
type TrackingConfig struct {
	ForegroundInterval    time.Duration `yaml:"foreground_interval,omitempty"`
	BackgroundInterval    time.Duration `yaml:"background_interval,omitempty"`
	GeofenceCheckInterval time.Duration `yaml:"geofence_check_interval,omitempty"`
	CacheRefreshInterval  time.Duration `yaml:"cache_refresh_interval,omitempty"`
	MidnightPollInterval  time.Duration `yaml:"midnight_poll_interval,omitempty"`
	StaleFixMaxAge        time.Duration `yaml:"stale_fix_max_age,omitempty"`
	EnterRadiusM          float64       `yaml:"enter_radius_m,omitempty"`
	ExitRadiusM           float64       `yaml:"exit_radius_m,omitempty"`
	EntryLockTTL          time.Duration `yaml:"entry_lock_ttl,omitempty"`
	LifecycleStaleness    time.Duration `yaml:"lifecycle_staleness,omitempty"`
}

// RestartConfig tunes producer restart behavior on transient failures.
type RestartConfig struct {
	Backoff    RetryBackoffMode `yaml:"backoff,omitempty"`
	Initial    time.Duration    `yaml:"initial,omitempty"`
	Max        time.Duration    `yaml:"max,omitempty"`
	MaxRetries int              `yaml:"max_retries,omitempty"`
}

// ProviderConfig selects the fix source.
type ProviderConfig struct {
	Kind        string `yaml:"kind,omitempty"` // gpsd | replay
	GPSDAddress string `yaml:"gpsd_address,omitempty"`
	ReplayPath  string `yaml:"replay_path,omitempty"`
}

// BatteryConfig optionally attaches a battery level to submitted fixes.
type BatteryConfig struct {
	SourcePath string `yaml:"source_path,omitempty"`
}

// AdminConfig exposes health, status, lifecycle, and metrics endpoints.
type AdminConfig struct {
	Listen         string `yaml:"listen,omitempty"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level,omitempty"`
	Format LogFormat `yaml:"format,omitempty"`
}

// Load loads configuration from the specified file
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists; missing files are fine.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Note: .env file couldn't be loaded: %v\n", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, trkerrors.ConfigNotFound(configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, trkerrors.Wrap(err, trkerrors.CategoryConfig, trkerrors.SeverityFatal, "failed to read config file").
			WithContext("path", configPath)
	}

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, trkerrors.Wrap(err, trkerrors.CategoryConfig, trkerrors.SeverityFatal, "failed to unmarshal config").
			WithContext("path", configPath)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Session.Role == "" {
		c.Session.Role = RoleUser
	}
	if c.Server.Timeout <= 0 {
		c.Server.Timeout = 30 * time.Second
	}
	if c.Realtime.SubjectPrefix == "" {
		c.Realtime.SubjectPrefix = "fencewatch.location"
	}
	if c.Store.Path == "" {
		c.Store.Path = "./fencewatch.db"
	}

	t := &c.Tracking
	if t.ForegroundInterval <= 0 {
		t.ForegroundInterval = 2 * time.Second
	}
	if t.BackgroundInterval <= 0 {
		t.BackgroundInterval = 15 * time.Second
	}
	if t.GeofenceCheckInterval <= 0 {
		t.GeofenceCheckInterval = 10 * time.Second
	}
	if t.CacheRefreshInterval <= 0 {
		t.CacheRefreshInterval = 2 * time.Minute
	}
	if t.MidnightPollInterval <= 0 {
		t.MidnightPollInterval = time.Minute
	}
	if t.StaleFixMaxAge <= 0 {
		t.StaleFixMaxAge = 30 * time.Second
	}
	if t.EnterRadiusM <= 0 {
		t.EnterRadiusM = 100
	}
	if t.ExitRadiusM <= 0 {
		t.ExitRadiusM = 150
	}
	if t.EntryLockTTL <= 0 {
		t.EntryLockTTL = 30 * time.Second
	}
	if t.LifecycleStaleness <= 0 {
		t.LifecycleStaleness = 5 * time.Second
	}

	r := &c.Restart
	if r.Backoff == "" {
		r.Backoff = RetryBackoffExponential
	}
	if r.Initial <= 0 {
		r.Initial = time.Second
	}
	if r.Max <= 0 {
		r.Max = 4 * time.Second
	}
	if r.MaxRetries <= 0 {
		r.MaxRetries = 3
	}

	if c.Provider.Kind == "" {
		c.Provider.Kind = "gpsd"
	}
	if c.Provider.GPSDAddress == "" {
		c.Provider.GPSDAddress = "127.0.0.1:2947"
	}

	if c.Admin.Listen == "" {
		c.Admin.Listen = "127.0.0.1:8077"
	}

	c.Logging.Level = NormalizeLogLevel(string(c.Logging.Level))
	c.Logging.Format = NormalizeLogFormat(string(c.Logging.Format))
}

// Validate checks cross-field constraints that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return trkerrors.ConfigRequired("server.base_url")
	}
	if c.Session.UserNumber == "" {
		return trkerrors.ConfigRequired("session.user_number")
	}
	if c.Session.Role != RoleUser && c.Session.Role != RoleSupporter {
		return trkerrors.ValidationFailed("session.role",
			fmt.Sprintf("must be %q or %q, got %q", RoleUser, RoleSupporter, c.Session.Role))
	}
	if c.Session.Role == RoleSupporter && c.Session.TargetUser == "" {
		return trkerrors.ConfigRequired("session.target_user")
	}
	if c.Tracking.ExitRadiusM < c.Tracking.EnterRadiusM {
		return trkerrors.ValidationFailed("tracking.exit_radius_m",
			fmt.Sprintf("%v must not be below tracking.enter_radius_m (%v)",
				c.Tracking.ExitRadiusM, c.Tracking.EnterRadiusM))
	}
	switch c.Provider.Kind {
	case "gpsd", "replay":
	default:
		return trkerrors.ValidationFailed("provider.kind",
			fmt.Sprintf("must be gpsd or replay, got %q", c.Provider.Kind))
	}
	if c.Provider.Kind == "replay" && c.Provider.ReplayPath == "" {
		return trkerrors.ConfigRequired("provider.replay_path")
	}
	return nil
}

// Init creates a new configuration file with example content
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	example := `# fencewatch configuration
session:
  user_number: "01012345678"
  api_key: ${FENCEWATCH_API_KEY}
  role: user

server:
  base_url: https://safety.example.com

realtime:
  enabled: true
  url: nats://127.0.0.1:4222

store:
  path: ./fencewatch.db

provider:
  kind: gpsd
  gpsd_address: 127.0.0.1:2947

admin:
  listen: 127.0.0.1:8077
  metrics_enabled: true

logging:
  level: info
  format: text
`
	return os.WriteFile(configPath, []byte(example), 0o644)
}
