package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/goran-ethernal/MarketIndexor/internal/common"
	"github.com/goran-ethernal/MarketIndexor/internal/logger"
)

const (
	SourceTypeREST = "rest"
	SourceTypeEVM  = "evm"

	DefaultPageSize     = 50
	DefaultPollInterval = 5 * time.Second
	DefaultDecimals     = 8
)

// Config represents the complete configuration for the MarketIndexor.
type Config struct {
	// Source describes the ledger the indexer polls for marketplace events
	Source SourceConfig `yaml:"source" json:"source" toml:"source"`

	// Poller contains the poll loop configuration
	Poller PollerConfig `yaml:"poller" json:"poller" toml:"poller"`

	// DB contains the marketplace database configuration
	DB DatabaseConfig `yaml:"db" json:"db" toml:"db"`

	// Maintenance contains optional database maintenance settings
	Maintenance *MaintenanceConfig `yaml:"maintenance,omitempty" json:"maintenance,omitempty" toml:"maintenance,omitempty"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`

	// Display controls how query commands render prices
	Display DisplayConfig `yaml:"display" json:"display" toml:"display"`
}

// SourceConfig represents the configuration of the event source.
type SourceConfig struct {
	// Type selects the source adapter: "rest" (ledger REST API) or "evm" (JSON-RPC node)
	Type string `yaml:"type" json:"type" toml:"type"`

	// Endpoint is the ledger REST base URL or the EVM RPC URL
	Endpoint string `yaml:"endpoint" json:"endpoint" toml:"endpoint"`

	// Contract is the marketplace account (rest) or contract address (evm)
	Contract string `yaml:"contract" json:"contract" toml:"contract"`

	// Module is the marketplace module name used to build event kinds (rest only)
	Module string `yaml:"module" json:"module" toml:"module"`

	// PageSize is the maximum number of events fetched per kind and cycle
	PageSize int `yaml:"page_size" json:"page_size" toml:"page_size"`

	// RequestTimeout bounds a single request to the source
	RequestTimeout common.Duration `yaml:"request_timeout" json:"request_timeout" toml:"request_timeout"`

	// ChunkSize is the block range per eth_getLogs call (evm only)
	ChunkSize uint64 `yaml:"chunk_size" json:"chunk_size" toml:"chunk_size"`

	// StartBlock is the block to start from when no checkpoint exists (evm only)
	StartBlock uint64 `yaml:"start_block" json:"start_block" toml:"start_block"`

	// Finality specifies the finality mode: "finalized", "safe", or "latest" (evm only)
	Finality string `yaml:"finality" json:"finality" toml:"finality"`

	// Retry enables per-request retries with exponential backoff. Absent means a single attempt.
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`
}

// ApplyDefaults sets default values for optional source configuration fields.
func (s *SourceConfig) ApplyDefaults() {
	if s.Type == "" {
		s.Type = SourceTypeREST
	}
	if s.Module == "" {
		s.Module = "marketplace"
	}
	if s.PageSize == 0 {
		s.PageSize = DefaultPageSize
	}
	if s.RequestTimeout.Duration == 0 {
		s.RequestTimeout = common.NewDuration(10 * time.Second) //nolint:mnd
	}
	if s.ChunkSize == 0 {
		s.ChunkSize = 1000
	}
	if s.Finality == "" {
		s.Finality = "finalized"
	}
	if s.Retry != nil {
		s.Retry.ApplyDefaults()
	}
}

// Validate checks if the source configuration is valid.
func (s *SourceConfig) Validate() error {
	if s.Type != SourceTypeREST && s.Type != SourceTypeEVM {
		return fmt.Errorf("source.type must be one of: 'rest', 'evm'")
	}
	if s.Endpoint == "" {
		return fmt.Errorf("source.endpoint is required")
	}
	if s.Contract == "" {
		return fmt.Errorf("source.contract is required")
	}
	if s.PageSize < 0 {
		return fmt.Errorf("source.page_size must be positive")
	}
	if s.Type == SourceTypeEVM &&
		s.Finality != "finalized" && s.Finality != "safe" && s.Finality != "latest" {
		return fmt.Errorf("source.finality must be one of: 'finalized', 'safe', or 'latest'")
	}
	if s.Retry != nil {
		if err := s.Retry.Validate(); err != nil {
			return fmt.Errorf("source.retry: %w", err)
		}
	}

	return nil
}

// RetryConfig represents request retry configuration with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial request)
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`

	// InitialBackoff is the initial backoff duration before first retry
	InitialBackoff common.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration
	MaxBackoff common.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

// ApplyDefaults sets default values for retry configuration.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 3
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = common.NewDuration(500 * time.Millisecond) //nolint:mnd
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = common.NewDuration(5 * time.Second) //nolint:mnd
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

func (r *RetryConfig) Validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	if r.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be at least 1")
	}
	if r.MaxBackoff.Duration < r.InitialBackoff.Duration {
		return fmt.Errorf("max_backoff must not be lower than initial_backoff")
	}
	return nil
}

// PollerConfig configures the poll loop.
type PollerConfig struct {
	// Interval is the fixed sleep between cycles, applied after empty and failed cycles alike
	Interval common.Duration `yaml:"interval" json:"interval" toml:"interval"`

	// Resume passes the persisted checkpoint to every fetch. When false each cycle
	// re-scans the most recent page per event kind.
	Resume *bool `yaml:"resume,omitempty" json:"resume,omitempty" toml:"resume,omitempty"`
}

// ApplyDefaults sets default values for optional poller configuration fields.
func (p *PollerConfig) ApplyDefaults() {
	if p.Interval.Duration == 0 {
		p.Interval = common.NewDuration(DefaultPollInterval)
	}
	if p.Resume == nil {
		resume := true
		p.Resume = &resume
	}
}

// ShouldResume reports whether the poller resumes from the persisted checkpoint.
func (p *PollerConfig) ShouldResume() bool {
	return p.Resume == nil || *p.Resume
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF")
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages)
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`

	// EnableForeignKeys enables foreign key constraint enforcement
	EnableForeignKeys bool `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
}

// Validate checks if the database configuration is valid.
func (d *DatabaseConfig) Validate() error {
	if d.Path == "" {
		return fmt.Errorf("db.path is required")
	}

	if d.JournalMode != "" &&
		!slices.Contains([]string{"WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY"}, d.JournalMode) {
		return fmt.Errorf("db.journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}

	if d.Synchronous != "" && !slices.Contains([]string{"FULL", "NORMAL", "OFF"}, d.Synchronous) {
		return fmt.Errorf("db.synchronous must be one of: FULL, NORMAL, OFF")
	}

	return nil
}

// MaintenanceConfig configures database maintenance behavior.
type MaintenanceConfig struct {
	// Enabled controls whether background maintenance runs
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// CheckInterval is how often to run maintenance (e.g., "30m", "1h")
	CheckInterval common.Duration `yaml:"check_interval" json:"check_interval" toml:"check_interval"`

	// VacuumOnStartup runs maintenance immediately on startup
	VacuumOnStartup bool `yaml:"vacuum_on_startup" json:"vacuum_on_startup" toml:"vacuum_on_startup"`

	// WALCheckpointMode controls the WAL checkpoint aggressiveness
	// Options: PASSIVE, FULL, RESTART, TRUNCATE
	WALCheckpointMode string `yaml:"wal_checkpoint_mode" json:"wal_checkpoint_mode" toml:"wal_checkpoint_mode"`
}

// ApplyDefaults sets default values for optional maintenance configuration fields.
func (m *MaintenanceConfig) ApplyDefaults() {
	if m.CheckInterval.Duration == 0 {
		m.CheckInterval = common.NewDuration(30 * time.Minute) //nolint:mnd
	}
	if m.WALCheckpointMode == "" {
		m.WALCheckpointMode = "TRUNCATE"
	}
}

// Validate checks if the maintenance configuration is valid.
func (m *MaintenanceConfig) Validate() error {
	if m.WALCheckpointMode != "" &&
		!slices.Contains([]string{"PASSIVE", "FULL", "RESTART", "TRUNCATE"}, m.WALCheckpointMode) {
		return fmt.Errorf("maintenance.wal_checkpoint_mode: must be one of: PASSIVE, FULL, RESTART, TRUNCATE")
	}

	return nil
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components
	// Options: "debug", "info", "warn", "error"
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder)
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components
	// Available components: poller, source, projector, store, maintenance, metrics
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll

	// SentryDSN forwards error level entries to Sentry when set
	SentryDSN string `yaml:"sentry_dsn,omitempty" json:"sentry_dsn,omitempty" toml:"sentry_dsn,omitempty"`
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := common.AllComponents[common.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}

		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component.
// Falls back to DefaultLevel if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if l == nil {
		return "info"
	}
	if level, ok := l.ComponentLevels[component]; ok {
		return common.ToLowerWithTrim(level)
	}
	return l.GetDefaultLevel()
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	if l == nil {
		return "info"
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l != nil && l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP endpoint are active
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("listen_address is required when metrics are enabled")
		}
		if m.Path == "" || m.Path[0] != '/' {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// DisplayConfig controls price rendering in query output.
type DisplayConfig struct {
	// Decimals is the number of decimal places of the smallest currency unit
	Decimals *int32 `yaml:"decimals,omitempty" json:"decimals,omitempty" toml:"decimals,omitempty"`

	// Symbol is appended to rendered prices
	Symbol string `yaml:"symbol" json:"symbol" toml:"symbol"`
}

// GetDecimals returns the configured decimals or the default.
func (d DisplayConfig) GetDecimals() int32 {
	if d.Decimals == nil {
		return DefaultDecimals
	}
	return *d.Decimals
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	c.Source.ApplyDefaults()
	c.Poller.ApplyDefaults()
	c.DB.ApplyDefaults()

	if c.Maintenance != nil {
		c.Maintenance.ApplyDefaults()
	}
	if c.Logging != nil {
		c.Logging.ApplyDefaults()
	}
	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Source.Validate(); err != nil {
		return err
	}

	if c.Poller.Interval.Duration < 0 {
		return fmt.Errorf("poller.interval must not be negative")
	}

	if err := c.DB.Validate(); err != nil {
		return err
	}

	if c.Maintenance != nil {
		if err := c.Maintenance.Validate(); err != nil {
			return err
		}
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	if d := c.Display.GetDecimals(); d < 0 || d > 36 { //nolint:mnd
		return fmt.Errorf("display.decimals must be between 0 and 36")
	}

	return nil
}
