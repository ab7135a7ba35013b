package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Workflow metrics
	WorkflowsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_workflows_started_total",
			Help: "Total number of workflow executions started",
		},
		[]string{"workflow_id"},
	)

	WorkflowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_workflows_completed_total",
			Help: "Total number of workflow executions completed",
		},
		[]string{"workflow_id", "status"},
	)

	WorkflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hive_workflow_duration_seconds",
			Help:    "Workflow execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"workflow_id"},
	)

	// Step metrics
	StepsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_steps_executed_total",
			Help: "Total number of workflow steps executed",
		},
		[]string{"step_type", "status"},
	)

	StepRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hive_step_retries_total",
			Help: "Total number of step retry attempts",
		},
	)

	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hive_step_duration_ms",
			Help:    "Step execution duration in milliseconds",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 30000},
		},
		[]string{"step_type"},
	)

	// Voting metrics
	VotingsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hive_votings_opened_total",
			Help: "Total number of voting rounds opened",
		},
	)

	VotingsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_votings_closed_total",
			Help: "Total number of voting rounds closed",
		},
		[]string{"legitimacy"},
	)

	VotesCast = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hive_votes_cast_total",
			Help: "Total number of votes cast",
		},
	)

	VotingParticipation = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hive_voting_participation_rate",
			Help:    "Participation rate per closed voting",
			Buckets: []float64{0.1, 0.25, 0.5, 0.75, 0.9, 1},
		},
	)

	// Agent metrics
	AgentReports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_agent_reports_total",
			Help: "Total number of reports generated by agents",
		},
		[]string{"agent_kind"},
	)

	AgentTasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_agent_tasks_completed_total",
			Help: "Total number of tasks completed by agents",
		},
		[]string{"agent_kind", "status"},
	)

	AgentTaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hive_agent_task_duration_ms",
			Help:    "Agent task execution duration in milliseconds",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 30000},
		},
		[]string{"agent_kind"},
	)

	// Queen metrics
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_queen_decisions_total",
			Help: "Total number of queen decisions by disposition",
		},
		[]string{"disposition"}, // executed | escalated | failed
	)

	ApprovalsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hive_queen_approvals_pending",
			Help: "Number of decisions awaiting human approval",
		},
	)

	// Pattern store metrics
	PatternsObserved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hive_patterns_observed_total",
			Help: "Total number of pattern observations recorded",
		},
	)

	PatternsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hive_patterns_pruned_total",
			Help: "Total number of patterns removed by the pruner",
		},
	)

	PatternsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hive_patterns_active",
			Help: "Number of patterns currently held in the store",
		},
	)

	// Scheduler metrics
	ScheduleFirings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_schedule_firings_total",
			Help: "Total number of schedule firings",
		},
		[]string{"status"},
	)

	SchedulesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hive_schedules_active",
			Help: "Number of schedules currently registered",
		},
	)

	// Persistence metrics
	HistoryWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_history_writes_total",
			Help: "Total number of execution history rows written",
		},
		[]string{"status"},
	)
)
