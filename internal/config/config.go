package config

import (
	"fmt"
	"time"
)

// HiveConfig is the root configuration for the hive runtime.
type HiveConfig struct {
	Service   ServiceConfig   `json:"service" yaml:"service" mapstructure:"service"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging" mapstructure:"logging"`
	Swarm     SwarmConfig     `json:"swarm" yaml:"swarm" mapstructure:"swarm"`
	Voting    VotingConfig    `json:"voting" yaml:"voting" mapstructure:"voting"`
	Patterns  PatternsConfig  `json:"patterns" yaml:"patterns" mapstructure:"patterns"`
	Workflow  WorkflowConfig  `json:"workflow" yaml:"workflow" mapstructure:"workflow"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler" mapstructure:"scheduler"`
	Store     StoreConfig     `json:"store" yaml:"store" mapstructure:"store"`
	Tracing   TracingConfig   `json:"tracing" yaml:"tracing" mapstructure:"tracing"`
}

// ServiceConfig contains basic service configuration.
type ServiceConfig struct {
	MetricsPort     int           `json:"metrics_port" yaml:"metrics_port" mapstructure:"metrics_port"`
	GracefulTimeout time.Duration `json:"graceful_timeout" yaml:"graceful_timeout" mapstructure:"graceful_timeout"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level       string `json:"level" yaml:"level" mapstructure:"level"`
	Development bool   `json:"development" yaml:"development" mapstructure:"development"`
}

// SwarmConfig contains the queen/agent ensemble knobs.
type SwarmConfig struct {
	MaxAgents              int           `json:"max_agents" yaml:"max_agents" mapstructure:"max_agents"`
	AutoExecutionThreshold float64       `json:"auto_execution_threshold" yaml:"auto_execution_threshold" mapstructure:"auto_execution_threshold"`
	ReportTimeout          time.Duration `json:"report_timeout" yaml:"report_timeout" mapstructure:"report_timeout"`
	ReportRatePerSecond    float64       `json:"report_rate_per_second" yaml:"report_rate_per_second" mapstructure:"report_rate_per_second"`
	ApprovalDeadline       time.Duration `json:"approval_deadline" yaml:"approval_deadline" mapstructure:"approval_deadline"`
}

// VotingConfig contains voting engine knobs.
type VotingConfig struct {
	Threshold      float64       `json:"threshold" yaml:"threshold" mapstructure:"threshold"`
	QuorumRequired float64       `json:"quorum_required" yaml:"quorum_required" mapstructure:"quorum_required"`
	TieBreaker     string        `json:"tie_breaker" yaml:"tie_breaker" mapstructure:"tie_breaker"`
	Timeout        time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	WeightedVoting bool          `json:"weighted_voting" yaml:"weighted_voting" mapstructure:"weighted_voting"`
	HistoryLimit   int           `json:"history_limit" yaml:"history_limit" mapstructure:"history_limit"`
}

// PatternsConfig contains pattern store knobs.
type PatternsConfig struct {
	TTLDays             int           `json:"ttl_days" yaml:"ttl_days" mapstructure:"ttl_days"`
	SimilarityThreshold float64       `json:"similarity_threshold" yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	RecencyHalfLife     time.Duration `json:"recency_half_life" yaml:"recency_half_life" mapstructure:"recency_half_life"`
	PruneInterval       time.Duration `json:"prune_interval" yaml:"prune_interval" mapstructure:"prune_interval"`
}

// WorkflowConfig contains interpreter defaults.
type WorkflowConfig struct {
	MaxRetries     int           `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelay     time.Duration `json:"retry_delay" yaml:"retry_delay" mapstructure:"retry_delay"`
	MaxConcurrency int           `json:"max_concurrency" yaml:"max_concurrency" mapstructure:"max_concurrency"`
}

// SchedulerConfig contains scheduler knobs.
type SchedulerConfig struct {
	Timezone string `json:"timezone" yaml:"timezone" mapstructure:"timezone"`
}

// StoreConfig selects the persistence backends. RedisAddr empty means the
// in-memory store; HistoryDSN empty disables the execution history log.
type StoreConfig struct {
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `json:"redis_password" yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db" mapstructure:"redis_db"`
	HistoryDriver string `json:"history_driver" yaml:"history_driver" mapstructure:"history_driver"`
	HistoryDSN    string `json:"history_dsn" yaml:"history_dsn" mapstructure:"history_dsn"`
}

// TracingConfig controls the OTLP trace exporter.
type TracingConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	OTLPEndpoint string `json:"otlp_endpoint" yaml:"otlp_endpoint" mapstructure:"otlp_endpoint"`
	ServiceName  string `json:"service_name" yaml:"service_name" mapstructure:"service_name"`
}

// Tie breaker policies accepted by VotingConfig.TieBreaker.
const (
	TieBreakerQueen     = "queen"
	TieBreakerRandom    = "random"
	TieBreakerStatusQuo = "status-quo"
	TieBreakerDefer     = "defer"
)

// Default returns the documented default configuration.
func Default() *HiveConfig {
	return &HiveConfig{
		Service: ServiceConfig{
			MetricsPort:     2112,
			GracefulTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
		Swarm: SwarmConfig{
			MaxAgents:              10,
			AutoExecutionThreshold: 0.7,
			ReportTimeout:          10 * time.Second,
			ReportRatePerSecond:    20,
			ApprovalDeadline:       5 * time.Minute,
		},
		Voting: VotingConfig{
			Threshold:      0.5,
			QuorumRequired: 0.5,
			TieBreaker:     TieBreakerQueen,
			Timeout:        30 * time.Second,
			WeightedVoting: false,
			HistoryLimit:   1000,
		},
		Patterns: PatternsConfig{
			TTLDays:             90,
			SimilarityThreshold: 0.7,
			RecencyHalfLife:     30 * 24 * time.Hour,
			PruneInterval:       time.Hour,
		},
		Workflow: WorkflowConfig{
			MaxRetries:     3,
			RetryDelay:     time.Second,
			MaxConcurrency: 0, // unbounded
		},
		Scheduler: SchedulerConfig{Timezone: "UTC"},
		Store:     StoreConfig{HistoryDriver: "postgres"},
		Tracing:   TracingConfig{ServiceName: "hive"},
	}
}

// Validate checks ranges on the tunable surface.
func (c *HiveConfig) Validate() error {
	if c.Voting.Threshold < 0 || c.Voting.Threshold > 1 {
		return fmt.Errorf("voting.threshold out of range [0,1]: %v", c.Voting.Threshold)
	}
	if c.Voting.QuorumRequired < 0 || c.Voting.QuorumRequired > 1 {
		return fmt.Errorf("voting.quorum_required out of range [0,1]: %v", c.Voting.QuorumRequired)
	}
	switch c.Voting.TieBreaker {
	case TieBreakerQueen, TieBreakerRandom, TieBreakerStatusQuo, TieBreakerDefer:
	default:
		return fmt.Errorf("voting.tie_breaker invalid: %q", c.Voting.TieBreaker)
	}
	if c.Voting.Timeout <= 0 {
		return fmt.Errorf("voting.timeout must be positive: %v", c.Voting.Timeout)
	}
	if c.Swarm.AutoExecutionThreshold < 0 || c.Swarm.AutoExecutionThreshold > 1 {
		return fmt.Errorf("swarm.auto_execution_threshold out of range [0,1]: %v", c.Swarm.AutoExecutionThreshold)
	}
	if c.Swarm.MaxAgents < 1 || c.Swarm.MaxAgents > 100 {
		return fmt.Errorf("swarm.max_agents out of range [1,100]: %d", c.Swarm.MaxAgents)
	}
	if c.Workflow.MaxRetries < 0 {
		return fmt.Errorf("workflow.max_retries must be non-negative: %d", c.Workflow.MaxRetries)
	}
	if c.Patterns.SimilarityThreshold < 0 || c.Patterns.SimilarityThreshold > 1 {
		return fmt.Errorf("patterns.similarity_threshold out of range [0,1]: %v", c.Patterns.SimilarityThreshold)
	}
	if c.Patterns.TTLDays <= 0 {
		return fmt.Errorf("patterns.ttl_days must be positive: %d", c.Patterns.TTLDays)
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone invalid: %w", err)
	}
	return nil
}
