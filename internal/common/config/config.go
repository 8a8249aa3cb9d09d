// Package config provides configuration management for Drawbridge.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for Drawbridge.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	DB          DBConfig          `mapstructure:"db"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Transport   TransportConfig   `mapstructure:"transport"`
	Agent       AgentConfig       `mapstructure:"agent"`
	Stream      StreamConfig      `mapstructure:"stream"`
	Approval    ApprovalConfig    `mapstructure:"approval"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Commands    CommandsConfig    `mapstructure:"commands"`
	Attachments AttachmentsConfig `mapstructure:"attachments"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds HTTP status server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DBConfig holds the location of the embedded SQLite databases.
type DBConfig struct {
	DataDir string `mapstructure:"dataDir"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// TransportConfig holds the messaging-provider link and resilience tuning.
type TransportConfig struct {
	// GatewayURL is the websocket endpoint of the messaging gateway.
	GatewayURL string `mapstructure:"gatewayUrl"`

	// AuthToken authenticates the daemon to the gateway.
	AuthToken string `mapstructure:"authToken"`

	// AuthorizedThread is the single remote identity allowed to drive the
	// broker. Messages from any other sender are dropped.
	AuthorizedThread string `mapstructure:"authorizedThread"`

	RateLimit  int `mapstructure:"rateLimit"`  // messages per minute
	BurstSize  int `mapstructure:"burstSize"`  // token bucket capacity
	BufferSize int `mapstructure:"bufferSize"` // outbound buffer while disconnected

	BackoffBase       int `mapstructure:"backoffBase"`       // escalator base, seconds
	BackoffMax        int `mapstructure:"backoffMax"`        // escalator cap, seconds
	Cooldown          int `mapstructure:"cooldown"`          // escalator reset after quiescence, seconds
	ReconnectMaxDelay int `mapstructure:"reconnectMaxDelay"` // reconnect backoff cap, seconds
}

// AgentConfig holds the coding-assistant CLI invocation.
type AgentConfig struct {
	// Command is the CLI binary; it must resolve on PATH.
	Command string `mapstructure:"command"`

	// Args are passed verbatim as an argv vector. Never joined into a shell string.
	Args []string `mapstructure:"args"`

	GracefulStop int `mapstructure:"gracefulStop"` // SIGTERM grace, seconds
	TurnIdleMs   int `mapstructure:"turnIdleMs"`   // output quiescence that ends a command turn
}

// StreamConfig holds orchestrator output tuning.
type StreamConfig struct {
	BatchIntervalMs int `mapstructure:"batchIntervalMs"`
	ChunkSize       int `mapstructure:"chunkSize"`
	WrapWidth       int `mapstructure:"wrapWidth"`
}

// ApprovalConfig holds approval ledger timing.
type ApprovalConfig struct {
	TTLMinutes     int `mapstructure:"ttlMinutes"`     // pending request lifetime
	WaitTimeout    int `mapstructure:"waitTimeout"`    // cooperative wait cap, seconds
	PollIntervalMs int `mapstructure:"pollIntervalMs"` // cooperative wait poll period
	SweepInterval  int `mapstructure:"sweepInterval"`  // timeout sweeper period, seconds
}

// NotifyConfig holds notification pipeline tuning.
type NotifyConfig struct {
	PrefCacheTTL int `mapstructure:"prefCacheTtl"` // preference cache TTL, seconds
}

// CommandsConfig holds the custom-command mirror settings.
type CommandsConfig struct {
	Dir        string `mapstructure:"dir"`
	DebounceMs int    `mapstructure:"debounceMs"`
}

// AttachmentsConfig holds attachment materialization settings.
type AttachmentsConfig struct {
	Dir        string `mapstructure:"dir"`
	WarnSizeMB int    `mapstructure:"warnSizeMb"`
	MaxSizeMB  int    `mapstructure:"maxSizeMb"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// GracefulStopDuration returns the SIGTERM grace period as a time.Duration.
func (a *AgentConfig) GracefulStopDuration() time.Duration {
	return time.Duration(a.GracefulStop) * time.Second
}

// TurnIdleDuration returns the turn-idle window as a time.Duration.
func (a *AgentConfig) TurnIdleDuration() time.Duration {
	return time.Duration(a.TurnIdleMs) * time.Millisecond
}

// BatchInterval returns the batch flush interval as a time.Duration.
func (s *StreamConfig) BatchInterval() time.Duration {
	return time.Duration(s.BatchIntervalMs) * time.Millisecond
}

// TTL returns the pending request lifetime as a time.Duration.
func (a *ApprovalConfig) TTL() time.Duration {
	return time.Duration(a.TTLMinutes) * time.Minute
}

// WaitTimeoutDuration returns the cooperative wait cap as a time.Duration.
func (a *ApprovalConfig) WaitTimeoutDuration() time.Duration {
	return time.Duration(a.WaitTimeout) * time.Second
}

// PollInterval returns the cooperative wait poll period as a time.Duration.
func (a *ApprovalConfig) PollInterval() time.Duration {
	return time.Duration(a.PollIntervalMs) * time.Millisecond
}

// SweepIntervalDuration returns the timeout sweeper period as a time.Duration.
func (a *ApprovalConfig) SweepIntervalDuration() time.Duration {
	return time.Duration(a.SweepInterval) * time.Second
}

// PrefCacheTTLDuration returns the preference cache TTL as a time.Duration.
func (n *NotifyConfig) PrefCacheTTLDuration() time.Duration {
	return time.Duration(n.PrefCacheTTL) * time.Second
}

// Debounce returns the watcher debounce window as a time.Duration.
func (c *CommandsConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	// Check if running in Kubernetes
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}

	// Check for explicit production environment
	if env := os.Getenv("DRAWBRIDGE_ENV"); env == "production" || env == "prod" {
		return "json"
	}

	// Default to text format for terminal use (more readable than JSON)
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8377)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults
	v.SetDefault("db.dataDir", "./data")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "drawbridge")
	v.SetDefault("nats.maxReconnects", 10)

	// Transport defaults
	v.SetDefault("transport.gatewayUrl", "")
	v.SetDefault("transport.authToken", "")
	v.SetDefault("transport.authorizedThread", "")
	v.SetDefault("transport.rateLimit", 30)
	v.SetDefault("transport.burstSize", 5)
	v.SetDefault("transport.bufferSize", 100)
	v.SetDefault("transport.backoffBase", 1)
	v.SetDefault("transport.backoffMax", 30)
	v.SetDefault("transport.cooldown", 60)
	v.SetDefault("transport.reconnectMaxDelay", 60)

	// Agent defaults
	v.SetDefault("agent.command", "claude")
	v.SetDefault("agent.args", []string{})
	v.SetDefault("agent.gracefulStop", 5)
	v.SetDefault("agent.turnIdleMs", 2000)

	// Stream defaults
	v.SetDefault("stream.batchIntervalMs", 500)
	v.SetDefault("stream.chunkSize", 1600)
	v.SetDefault("stream.wrapWidth", 50)

	// Approval defaults
	v.SetDefault("approval.ttlMinutes", 10)
	v.SetDefault("approval.waitTimeout", 600)
	v.SetDefault("approval.pollIntervalMs", 1000)
	v.SetDefault("approval.sweepInterval", 30)

	// Notification defaults
	v.SetDefault("notify.prefCacheTtl", 30)

	// Custom command defaults
	v.SetDefault("commands.dir", "~/.claude/agents")
	v.SetDefault("commands.debounceMs", 300)

	// Attachment defaults
	v.SetDefault("attachments.dir", "")
	v.SetDefault("attachments.warnSizeMb", 10)
	v.SetDefault("attachments.maxSizeMb", 100)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix DRAWBRIDGE_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/drawbridge/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("DRAWBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys)
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("transport.gatewayUrl", "DRAWBRIDGE_TRANSPORT_GATEWAY_URL")
	_ = v.BindEnv("transport.authToken", "DRAWBRIDGE_TRANSPORT_AUTH_TOKEN")
	_ = v.BindEnv("transport.authorizedThread", "DRAWBRIDGE_TRANSPORT_AUTHORIZED_THREAD")
	_ = v.BindEnv("db.dataDir", "DRAWBRIDGE_DB_DATA_DIR")
	_ = v.BindEnv("commands.dir", "DRAWBRIDGE_COMMANDS_DIR")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/drawbridge/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Commands.Dir = ExpandHome(cfg.Commands.Dir)
	cfg.DB.DataDir = ExpandHome(cfg.DB.DataDir)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	// The broker authorizes exactly one remote identity, known at boot.
	if cfg.Transport.AuthorizedThread == "" {
		errs = append(errs, "transport.authorizedThread is required")
	}
	if cfg.Transport.RateLimit <= 0 {
		errs = append(errs, "transport.rateLimit must be positive")
	}
	if cfg.Transport.BurstSize <= 0 {
		errs = append(errs, "transport.burstSize must be positive")
	}
	if cfg.Transport.BufferSize <= 0 {
		errs = append(errs, "transport.bufferSize must be positive")
	}

	if cfg.Agent.Command == "" {
		errs = append(errs, "agent.command is required")
	}
	if cfg.Agent.GracefulStop <= 0 {
		errs = append(errs, "agent.gracefulStop must be positive")
	}

	if cfg.Stream.ChunkSize <= 0 {
		errs = append(errs, "stream.chunkSize must be positive")
	}
	if cfg.Stream.WrapWidth <= 0 {
		errs = append(errs, "stream.wrapWidth must be positive")
	}

	if cfg.Approval.TTLMinutes <= 0 {
		errs = append(errs, "approval.ttlMinutes must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// ExpandHome replaces a leading ~ with the current user's home directory.
// Paths without the prefix are returned unchanged.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
