package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from path (YAML), applying defaults first and
// HIVE_-prefixed environment overrides last. An empty path loads defaults
// plus environment only.
func Load(path string) (*HiveConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("HIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("HIVE_CONFIG_PATH")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("service.metrics_port", d.Service.MetricsPort)
	v.SetDefault("service.graceful_timeout", d.Service.GracefulTimeout)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("swarm.max_agents", d.Swarm.MaxAgents)
	v.SetDefault("swarm.auto_execution_threshold", d.Swarm.AutoExecutionThreshold)
	v.SetDefault("swarm.report_timeout", d.Swarm.ReportTimeout)
	v.SetDefault("swarm.report_rate_per_second", d.Swarm.ReportRatePerSecond)
	v.SetDefault("swarm.approval_deadline", d.Swarm.ApprovalDeadline)
	v.SetDefault("voting.threshold", d.Voting.Threshold)
	v.SetDefault("voting.quorum_required", d.Voting.QuorumRequired)
	v.SetDefault("voting.tie_breaker", d.Voting.TieBreaker)
	v.SetDefault("voting.timeout", d.Voting.Timeout)
	v.SetDefault("voting.weighted_voting", d.Voting.WeightedVoting)
	v.SetDefault("voting.history_limit", d.Voting.HistoryLimit)
	v.SetDefault("patterns.ttl_days", d.Patterns.TTLDays)
	v.SetDefault("patterns.similarity_threshold", d.Patterns.SimilarityThreshold)
	v.SetDefault("patterns.recency_half_life", d.Patterns.RecencyHalfLife)
	v.SetDefault("patterns.prune_interval", d.Patterns.PruneInterval)
	v.SetDefault("workflow.max_retries", d.Workflow.MaxRetries)
	v.SetDefault("workflow.retry_delay", d.Workflow.RetryDelay)
	v.SetDefault("workflow.max_concurrency", d.Workflow.MaxConcurrency)
	v.SetDefault("scheduler.timezone", d.Scheduler.Timezone)
	v.SetDefault("store.history_driver", d.Store.HistoryDriver)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}
