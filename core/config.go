package core

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/autonomic-run/agentruntime/telemetry"
)

// Config holds the complete tunable surface of the agent runtime. It
// supports three-layer configuration priority:
//  1. Struct defaults (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithAgentID("agent-1"),
//	    WithEnv("stage"),
//	    WithAdvisorBaseURL("http://advisor.internal:9090"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	AgentID      string  `json:"agent_id" env:"AGENTRUNTIME_AGENT_ID"`
	Env          string  `json:"env" env:"AGENTRUNTIME_ENV" default:"dev"`
	LoopInterval float64 `json:"loop_interval" env:"AGENTRUNTIME_LOOP_INTERVAL" default:"5.0"`
	DemoMode     bool    `json:"demo_mode" env:"AGENTRUNTIME_DEMO_MODE" default:"false"`
	FreezeMode   bool    `json:"freeze_mode" env:"AGENTRUNTIME_FREEZE_MODE" default:"true"`

	Advisor      AdvisorConfig      `json:"advisor"`
	Memory       MemoryConfig       `json:"memory"`
	SelfRestraint SelfRestraintConfig `json:"self_restraint"`
	Governance   GovernanceConfig   `json:"governance"`
	Arbitrator   ArbitratorConfig   `json:"arbitrator"`

	Logging     LoggingConfig     `json:"logging"`
	ProofLog    ProofLogConfig    `json:"proof_log"`
	Persistence PersistenceConfig `json:"persistence"`
	Telemetry   TelemetryConfig   `json:"telemetry"`
	Explainer   ExplainerConfig   `json:"explainer"`
	Onboarding  OnboardingConfig  `json:"onboarding"`

	Development DevelopmentConfig `json:"development"`

	// Logger instance for configuration operations (excluded from JSON)
	logger Logger `json:"-"`
}

// AdvisorConfig controls the remote advisor HTTP client and its
// consecutive-failure circuit breaker.
type AdvisorConfig struct {
	BaseURL     string        `json:"base_url" env:"AGENTRUNTIME_ADVISOR_BASE_URL" default:"http://localhost:9090"`
	Timeout     time.Duration `json:"timeout" env:"AGENTRUNTIME_ADVISOR_TIMEOUT" default:"2s"`
	MaxFailures int           `json:"max_failures" env:"AGENTRUNTIME_ADVISOR_MAX_FAILURES" default:"3"`
	Cooldown    time.Duration `json:"cooldown" env:"AGENTRUNTIME_ADVISOR_COOLDOWN" default:"300s"`
}

// MemoryConfig bounds the decision and per-app state FIFOs.
type MemoryConfig struct {
	MaxDecisions      int `json:"max_decisions" env:"AGENTRUNTIME_MEMORY_MAX_DECISIONS" default:"50"`
	MaxStatesPerApp   int `json:"max_states_per_app" env:"AGENTRUNTIME_MEMORY_MAX_STATES_PER_APP" default:"10"`
}

// SelfRestraintConfig tunes the stateless block-evaluation thresholds.
type SelfRestraintConfig struct {
	MinConfidence       float64 `json:"min_confidence" env:"AGENTRUNTIME_RESTRAINT_MIN_CONFIDENCE" default:"0.6"`
	MaxInstabilityScore float64 `json:"max_instability_score" env:"AGENTRUNTIME_RESTRAINT_MAX_INSTABILITY" default:"75"`
	MaxRecentFailures   int     `json:"max_recent_failures" env:"AGENTRUNTIME_RESTRAINT_MAX_RECENT_FAILURES" default:"5"`
}

// GovernanceConfig tunes action eligibility, cooldowns and repetition limits.
// CooldownPeriods maps action name to seconds; zero means no cooldown.
type GovernanceConfig struct {
	CooldownPeriods   map[string]float64 `json:"cooldown_periods"`
	RepetitionLimit   int                `json:"repetition_limit" env:"AGENTRUNTIME_GOVERNANCE_REPETITION_LIMIT" default:"3"`
	RepetitionWindow  time.Duration      `json:"repetition_window" env:"AGENTRUNTIME_GOVERNANCE_REPETITION_WINDOW" default:"300s"`
}

// ArbitratorConfig tunes the remote-vs-local decision arbitration.
type ArbitratorConfig struct {
	ConfidenceThreshold float64 `json:"confidence_threshold" env:"AGENTRUNTIME_ARBITRATOR_CONFIDENCE_THRESHOLD" default:"0.7"`
}

// LoggingConfig contains logging configuration.
// Supports structured (JSON) and human-readable (console) formats.
type LoggingConfig struct {
	Level  string `json:"level" env:"AGENTRUNTIME_LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"AGENTRUNTIME_LOG_FORMAT" default:"json"`
	Output string `json:"output" env:"AGENTRUNTIME_LOG_OUTPUT" default:"stdout"`
}

// ProofLogConfig points at the append-only JSONL proof log.
type ProofLogConfig struct {
	Path string `json:"path" env:"AGENTRUNTIME_PROOF_LOG_PATH" default:"logs/day1_proof.log"`
}

// PersistenceConfig selects the snapshot backend for FSM/memory state.
type PersistenceConfig struct {
	Backend   string `json:"backend" env:"AGENTRUNTIME_PERSISTENCE_BACKEND" default:"inmemory"`
	RedisAddr string `json:"redis_addr" env:"AGENTRUNTIME_PERSISTENCE_REDIS_ADDR,REDIS_URL"`
}

// TelemetryConfig controls OpenTelemetry tracing and the Prometheus
// /metrics endpoint.
type TelemetryConfig struct {
	Enabled      bool   `json:"enabled" env:"AGENTRUNTIME_TELEMETRY_ENABLED" default:"false"`
	OTLPEndpoint string `json:"otlp_endpoint" env:"AGENTRUNTIME_TELEMETRY_OTLP_ENDPOINT,OTEL_EXPORTER_OTLP_ENDPOINT"`
	MetricsAddr  string `json:"metrics_addr" env:"AGENTRUNTIME_TELEMETRY_METRICS_ADDR" default:":9464"`
}

// ExplainerConfig selects the explain-phase narrative backend.
type ExplainerConfig struct {
	Provider string `json:"provider" env:"AGENTRUNTIME_EXPLAINER_PROVIDER" default:"none"`
	APIKey   string `json:"api_key" env:"AGENTRUNTIME_EXPLAINER_API_KEY,OPENAI_API_KEY"`
}

// OnboardingConfig points the onboarding perception adapter at the
// newline-delimited JSON file it watches.
type OnboardingConfig struct {
	WatchPath string `json:"watch_path" env:"AGENTRUNTIME_ONBOARDING_WATCH_PATH" default:"onboarding/pending.jsonl"`
}

// DevelopmentConfig contains settings for local development and testing.
type DevelopmentConfig struct {
	Enabled      bool `json:"enabled" env:"AGENTRUNTIME_DEV_MODE" default:"false"`
	MockAdvisor  bool `json:"mock_advisor" env:"AGENTRUNTIME_MOCK_ADVISOR" default:"false"`
	DebugLogging bool `json:"debug_logging" env:"AGENTRUNTIME_DEBUG" default:"false"`
	PrettyLogs   bool `json:"pretty_logs" env:"AGENTRUNTIME_PRETTY_LOGS" default:"false"`
}

// Option is a functional option for configuring the runtime. Options are
// applied in order and can return an error if the configuration is invalid.
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults for the dev
// environment.
func DefaultConfig() *Config {
	return &Config{
		Env:          "dev",
		LoopInterval: 5.0,
		DemoMode:     false,
		FreezeMode:   true,
		Advisor: AdvisorConfig{
			BaseURL:     "http://localhost:9090",
			Timeout:     2 * time.Second,
			MaxFailures: 3,
			Cooldown:    300 * time.Second,
		},
		Memory: MemoryConfig{
			MaxDecisions:    50,
			MaxStatesPerApp: 10,
		},
		SelfRestraint: SelfRestraintConfig{
			MinConfidence:       0.6,
			MaxInstabilityScore: 75,
			MaxRecentFailures:   5,
		},
		Governance: GovernanceConfig{
			CooldownPeriods: map[string]float64{
				"noop":       0,
				"restart":    60,
				"scale_up":   120,
				"scale_down": 120,
				"rollback":   300,
			},
			RepetitionLimit:  3,
			RepetitionWindow: 300 * time.Second,
		},
		Arbitrator: ArbitratorConfig{
			ConfidenceThreshold: 0.7,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		ProofLog: ProofLogConfig{
			Path: "logs/day1_proof.log",
		},
		Persistence: PersistenceConfig{
			Backend: "inmemory",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			MetricsAddr: ":9464",
		},
		Explainer: ExplainerConfig{
			Provider: "none",
		},
		Onboarding: OnboardingConfig{
			WatchPath: "onboarding/pending.jsonl",
		},
		Development: DevelopmentConfig{
			Enabled: false,
		},
	}
}

// LoadFromEnv loads configuration from environment variables, overriding
// whatever the struct defaults set. Functional options applied afterward by
// NewConfig take precedence over both.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("AGENTRUNTIME_AGENT_ID"); v != "" {
		c.AgentID = v
	}
	if v := os.Getenv("AGENTRUNTIME_ENV"); v != "" {
		c.Env = v
	}
	if v := os.Getenv("AGENTRUNTIME_LOOP_INTERVAL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.LoopInterval = f
		}
	}
	if v := os.Getenv("AGENTRUNTIME_DEMO_MODE"); v != "" {
		c.DemoMode = parseBool(v)
	}
	if v := os.Getenv("AGENTRUNTIME_FREEZE_MODE"); v != "" {
		c.FreezeMode = parseBool(v)
	}

	if v := os.Getenv("AGENTRUNTIME_ADVISOR_BASE_URL"); v != "" {
		c.Advisor.BaseURL = v
	}
	if v := os.Getenv("AGENTRUNTIME_ADVISOR_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Advisor.Timeout = d
		}
	}
	if v := os.Getenv("AGENTRUNTIME_ADVISOR_MAX_FAILURES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Advisor.MaxFailures = n
		}
	}
	if v := os.Getenv("AGENTRUNTIME_ADVISOR_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Advisor.Cooldown = d
		}
	}

	if v := os.Getenv("AGENTRUNTIME_MEMORY_MAX_DECISIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Memory.MaxDecisions = n
		}
	}
	if v := os.Getenv("AGENTRUNTIME_MEMORY_MAX_STATES_PER_APP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Memory.MaxStatesPerApp = n
		}
	}

	if v := os.Getenv("AGENTRUNTIME_RESTRAINT_MIN_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.SelfRestraint.MinConfidence = f
		}
	}
	if v := os.Getenv("AGENTRUNTIME_RESTRAINT_MAX_INSTABILITY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.SelfRestraint.MaxInstabilityScore = f
		}
	}
	if v := os.Getenv("AGENTRUNTIME_RESTRAINT_MAX_RECENT_FAILURES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SelfRestraint.MaxRecentFailures = n
		}
	}

	if v := os.Getenv("AGENTRUNTIME_GOVERNANCE_REPETITION_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Governance.RepetitionLimit = n
		}
	}
	if v := os.Getenv("AGENTRUNTIME_GOVERNANCE_REPETITION_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Governance.RepetitionWindow = d
		}
	}

	if v := os.Getenv("AGENTRUNTIME_ARBITRATOR_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Arbitrator.ConfidenceThreshold = f
		}
	}

	if v := os.Getenv("AGENTRUNTIME_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("AGENTRUNTIME_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("AGENTRUNTIME_LOG_OUTPUT"); v != "" {
		c.Logging.Output = v
	}

	if v := os.Getenv("AGENTRUNTIME_PROOF_LOG_PATH"); v != "" {
		c.ProofLog.Path = v
	}

	if v := os.Getenv("AGENTRUNTIME_PERSISTENCE_BACKEND"); v != "" {
		c.Persistence.Backend = v
	}
	if v := firstNonEmpty(os.Getenv("AGENTRUNTIME_PERSISTENCE_REDIS_ADDR"), os.Getenv("REDIS_URL")); v != "" {
		c.Persistence.RedisAddr = v
	}

	if v := os.Getenv("AGENTRUNTIME_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
	if v := firstNonEmpty(os.Getenv("AGENTRUNTIME_TELEMETRY_OTLP_ENDPOINT"), os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv("AGENTRUNTIME_TELEMETRY_METRICS_ADDR"); v != "" {
		c.Telemetry.MetricsAddr = v
	}

	if v := os.Getenv("AGENTRUNTIME_EXPLAINER_PROVIDER"); v != "" {
		c.Explainer.Provider = v
	}
	if v := firstNonEmpty(os.Getenv("AGENTRUNTIME_EXPLAINER_API_KEY"), os.Getenv("OPENAI_API_KEY")); v != "" {
		c.Explainer.APIKey = v
	}

	if v := os.Getenv("AGENTRUNTIME_ONBOARDING_WATCH_PATH"); v != "" {
		c.Onboarding.WatchPath = v
	}

	if v := os.Getenv("AGENTRUNTIME_DEV_MODE"); v != "" {
		c.Development.Enabled = parseBool(v)
	}
	if v := os.Getenv("AGENTRUNTIME_MOCK_ADVISOR"); v != "" {
		c.Development.MockAdvisor = parseBool(v)
	}
	if v := os.Getenv("AGENTRUNTIME_DEBUG"); v != "" {
		c.Development.DebugLogging = parseBool(v)
	}
	if v := os.Getenv("AGENTRUNTIME_PRETTY_LOGS"); v != "" {
		c.Development.PrettyLogs = parseBool(v)
	}

	return nil
}

// Validate checks the final configuration for internal consistency.
func (c *Config) Validate() error {
	switch c.Env {
	case "dev", "stage", "prod":
	default:
		return NewFrameworkError("Config.Validate", KindConfiguration, fmt.Errorf("env must be one of dev|stage|prod, got %q", c.Env))
	}
	if c.LoopInterval <= 0 {
		return NewFrameworkError("Config.Validate", KindConfiguration, fmt.Errorf("loop_interval must be positive"))
	}
	if c.Memory.MaxDecisions <= 0 || c.Memory.MaxStatesPerApp <= 0 {
		return NewFrameworkError("Config.Validate", KindConfiguration, fmt.Errorf("memory capacities must be positive"))
	}
	if c.Arbitrator.ConfidenceThreshold < 0 || c.Arbitrator.ConfidenceThreshold > 1 {
		return NewFrameworkError("Config.Validate", KindConfiguration, fmt.Errorf("arbitrator.confidence_threshold must be in [0,1]"))
	}
	switch c.Persistence.Backend {
	case "inmemory", "redis":
	default:
		return NewFrameworkError("Config.Validate", KindConfiguration, fmt.Errorf("persistence.backend must be inmemory|redis, got %q", c.Persistence.Backend))
	}
	switch c.Explainer.Provider {
	case "none", "openai", "mock":
	default:
		return NewFrameworkError("Config.Validate", KindConfiguration, fmt.Errorf("explainer.provider must be none|openai|mock, got %q", c.Explainer.Provider))
	}
	return nil
}

func parseStringList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(s string) bool {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false
	}
	return v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// WithAgentID sets a stable agent identifier, used in log lines, proof
// entries and persisted snapshot filenames.
func WithAgentID(id string) Option {
	return func(c *Config) error {
		c.AgentID = id
		return nil
	}
}

// WithEnv selects the environment policy (dev|stage|prod).
func WithEnv(env string) Option {
	return func(c *Config) error {
		switch env {
		case "dev", "stage", "prod":
		default:
			return fmt.Errorf("env must be one of dev|stage|prod, got %q", env)
		}
		c.Env = env
		return nil
	}
}

// WithLoopInterval overrides the delay between runtime cycles.
func WithLoopInterval(seconds float64) Option {
	return func(c *Config) error {
		if seconds <= 0 {
			return fmt.Errorf("loop interval must be positive")
		}
		c.LoopInterval = seconds
		return nil
	}
}

// WithDemoMode toggles the Safe Orchestrator's intake/safety gates.
func WithDemoMode(enabled bool) Option {
	return func(c *Config) error {
		c.DemoMode = enabled
		return nil
	}
}

// WithAdvisorBaseURL points the remote advisor client at a base URL.
func WithAdvisorBaseURL(url string) Option {
	return func(c *Config) error {
		c.Advisor.BaseURL = url
		return nil
	}
}

// WithAdvisorBreaker overrides the advisor client's consecutive-failure
// breaker thresholds.
func WithAdvisorBreaker(maxFailures int, cooldown time.Duration) Option {
	return func(c *Config) error {
		if maxFailures <= 0 {
			return fmt.Errorf("max failures must be positive")
		}
		c.Advisor.MaxFailures = maxFailures
		c.Advisor.Cooldown = cooldown
		return nil
	}
}

// WithMemoryCapacity overrides the bounded FIFO sizes.
func WithMemoryCapacity(maxDecisions, maxStatesPerApp int) Option {
	return func(c *Config) error {
		if maxDecisions <= 0 || maxStatesPerApp <= 0 {
			return fmt.Errorf("memory capacities must be positive")
		}
		c.Memory.MaxDecisions = maxDecisions
		c.Memory.MaxStatesPerApp = maxStatesPerApp
		return nil
	}
}

// WithSelfRestraint overrides the self-restraint thresholds.
func WithSelfRestraint(minConfidence, maxInstability float64, maxRecentFailures int) Option {
	return func(c *Config) error {
		c.SelfRestraint.MinConfidence = minConfidence
		c.SelfRestraint.MaxInstabilityScore = maxInstability
		c.SelfRestraint.MaxRecentFailures = maxRecentFailures
		return nil
	}
}

// WithGovernanceCooldown sets the cooldown period, in seconds, for a single
// action name.
func WithGovernanceCooldown(action string, seconds float64) Option {
	return func(c *Config) error {
		if c.Governance.CooldownPeriods == nil {
			c.Governance.CooldownPeriods = map[string]float64{}
		}
		c.Governance.CooldownPeriods[action] = seconds
		return nil
	}
}

// WithRepetitionLimit overrides the governance repetition-suppression rule.
func WithRepetitionLimit(limit int, window time.Duration) Option {
	return func(c *Config) error {
		if limit <= 0 {
			return fmt.Errorf("repetition limit must be positive")
		}
		c.Governance.RepetitionLimit = limit
		c.Governance.RepetitionWindow = window
		return nil
	}
}

// WithArbitratorThreshold overrides the confidence threshold used to choose
// between the remote advisor and the local rule-based heuristic.
func WithArbitratorThreshold(threshold float64) Option {
	return func(c *Config) error {
		if threshold < 0 || threshold > 1 {
			return fmt.Errorf("confidence threshold must be in [0,1]")
		}
		c.Arbitrator.ConfidenceThreshold = threshold
		return nil
	}
}

// WithLogLevel overrides the logging level (debug|info|warn|error).
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = level
		return nil
	}
}

// WithLogFormat overrides the logging format (json|console).
func WithLogFormat(format string) Option {
	return func(c *Config) error {
		c.Logging.Format = format
		return nil
	}
}

// WithProofLogPath overrides the append-only proof log's file path.
func WithProofLogPath(path string) Option {
	return func(c *Config) error {
		c.ProofLog.Path = path
		return nil
	}
}

// WithPersistence selects the snapshot backend and, for redis, its address.
func WithPersistence(backend, redisAddr string) Option {
	return func(c *Config) error {
		switch backend {
		case "inmemory", "redis":
		default:
			return fmt.Errorf("persistence backend must be inmemory|redis, got %q", backend)
		}
		c.Persistence.Backend = backend
		c.Persistence.RedisAddr = redisAddr
		return nil
	}
}

// WithTelemetry enables tracing/metrics and sets the OTLP endpoint.
func WithTelemetry(enabled bool, otlpEndpoint string) Option {
	return func(c *Config) error {
		c.Telemetry.Enabled = enabled
		c.Telemetry.OTLPEndpoint = otlpEndpoint
		return nil
	}
}

// WithMetricsAddr overrides the Prometheus /metrics listen address.
func WithMetricsAddr(addr string) Option {
	return func(c *Config) error {
		c.Telemetry.MetricsAddr = addr
		return nil
	}
}

// WithExplainer selects the explain-phase narrative backend.
func WithExplainer(provider, apiKey string) Option {
	return func(c *Config) error {
		switch provider {
		case "none", "openai", "mock":
		default:
			return fmt.Errorf("explainer provider must be none|openai|mock, got %q", provider)
		}
		c.Explainer.Provider = provider
		c.Explainer.APIKey = apiKey
		return nil
	}
}

// WithOnboardingWatchPath overrides the onboarding adapter's watched file.
func WithOnboardingWatchPath(path string) Option {
	return func(c *Config) error {
		c.Onboarding.WatchPath = path
		return nil
	}
}

// WithDevelopmentMode enables local-development defaults: pretty logs and a
// mock advisor client that never makes network calls.
func WithDevelopmentMode(enabled bool) Option {
	return func(c *Config) error {
		c.Development.Enabled = enabled
		if enabled {
			c.Development.PrettyLogs = true
			c.Development.MockAdvisor = true
			c.Logging.Format = "console"
		}
		return nil
	}
}

// WithMockAdvisor forces the advisor client to use canned responses instead
// of making HTTP calls, independent of development mode.
func WithMockAdvisor(enabled bool) Option {
	return func(c *Config) error {
		c.Development.MockAdvisor = enabled
		return nil
	}
}

// WithLogger injects a pre-built logger instead of constructing a
// ProductionLogger from the Logging config.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}

// NewConfig builds a Config honoring the three-layer precedence: struct
// defaults, then environment variables, then functional options (applied in
// order, highest priority last).
//
//  1. Defaults (DefaultConfig)
//  2. Environment variables (LoadFromEnv)
//  3. Functional options (highest priority)
//  4. Validation via Validate()
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if cfg.logger == nil {
		cfg.logger = NewProductionLogger(cfg.Logging, cfg.Development, "agentruntime")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Logger returns the logger attached to this configuration.
func (c *Config) Logger() Logger {
	return c.logger
}

// ============================================================================
// ProductionLogger Implementation
// ============================================================================

// ProductionLogger provides structured, component-aware logging backed by
// a zap.Logger writing to stdout/stderr, with an optional metrics
// side-channel to the telemetry package for operation counters.
type ProductionLogger struct {
	debug          bool
	serviceName    string
	component      string
	metricsEnabled bool
	base           *zap.Logger // tagged with "service", not yet "component"
	zl             *zap.Logger // base, scoped to the current component
}

// NewProductionLogger creates a logger from LoggingConfig. Format "json"
// gets zap's JSON encoder; anything else gets its console encoder, which
// reads like the teacher's own single-line stdout format.
func NewProductionLogger(logging LoggingConfig, dev DevelopmentConfig, serviceName string) Logger {
	debug := dev.DebugLogging || logging.Level == "debug"

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	writer := zapcore.AddSync(os.Stdout)
	if logging.Output == "stderr" {
		writer = zapcore.AddSync(os.Stderr)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.RFC3339TimeEncoder

	var encoder zapcore.Encoder
	if logging.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		consoleCfg := zap.NewDevelopmentEncoderConfig()
		consoleCfg.TimeKey = "timestamp"
		consoleCfg.EncodeTime = zapcore.RFC3339TimeEncoder
		encoder = zapcore.NewConsoleEncoder(consoleCfg)
	}

	base := zap.New(zapcore.NewCore(encoder, writer, level)).With(zap.String("service", serviceName))

	return &ProductionLogger{
		debug:          debug,
		serviceName:    serviceName,
		component:      "framework/core",
		metricsEnabled: true,
		base:           base,
		zl:             base.With(zap.String("component", "framework/core")),
	}
}

// EnableMetrics turns on the operation-counter side-channel; loggers built
// via NewProductionLogger have it on by default.
func (p *ProductionLogger) EnableMetrics() {
	p.metricsEnabled = true
}

// WithComponent returns a logger scoped to the given component name,
// following the "framework/<module>" / "agent/<name>" naming convention.
func (p *ProductionLogger) WithComponent(component string) Logger {
	clone := *p
	clone.component = component
	clone.zl = p.base.With(zap.String("component", component))
	return &clone
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields)
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields)
}

func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields)
}

func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields)
}

func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields)
}

func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields)
}

func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields)
	}
}

func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields)
	}
}

func (p *ProductionLogger) logEvent(level, msg string, fields map[string]interface{}) {
	zfields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zfields = append(zfields, zap.Any(k, v))
	}

	switch level {
	case "INFO":
		p.zl.Info(msg, zfields...)
	case "ERROR":
		p.zl.Error(msg, zfields...)
	case "WARN":
		p.zl.Warn(msg, zfields...)
	case "DEBUG":
		p.zl.Debug(msg, zfields...)
	}

	if p.metricsEnabled {
		p.emitOperationMetric(level, fields)
	}
}

// emitOperationMetric records a low-cardinality counter for the log line,
// calling the telemetry package directly rather than through an indirection
// layer, since core has no import cycle with telemetry.
func (p *ProductionLogger) emitOperationMetric(level string, fields map[string]interface{}) {
	labels := []string{"level", level, "component", p.component}
	if op, ok := fields["operation"].(string); ok {
		labels = append(labels, "operation", op)
	}
	telemetry.Counter("agentruntime.log_events", labels...)
}
