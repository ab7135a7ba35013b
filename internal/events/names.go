package events

// Event type names published by the core. Names are part of the external
// contract; payloads are JSON-serializable maps.
const (
	// Workflow lifecycle
	WorkflowCreated              = "workflow:created"
	WorkflowStart                = "workflow:start"
	WorkflowComplete             = "workflow:complete"
	WorkflowError                = "workflow:error"
	WorkflowPause                = "workflow:pause"
	WorkflowResume               = "workflow:resume"
	WorkflowCancelled            = "workflow:cancelled"
	WorkflowCompensationStart    = "workflow:compensation-start"
	WorkflowCompensationStep     = "workflow:compensation-step"
	WorkflowCompensationComplete = "workflow:compensation-complete"
	WorkflowCompensationError    = "workflow:compensation-error"

	// Step lifecycle
	StepStart          = "step:start"
	StepComplete       = "step:complete"
	StepError          = "step:error"
	StepRetry          = "step:retry"
	StepSkipped        = "step:skipped"
	StepExecutionError = "step:execution-error"

	// Voting
	MajorityInitialized   = "majority:initialized"
	MajorityVotingStarted = "majority:voting-started"
	MajorityVoteCast      = "majority:vote-cast"
	MajorityVotingClosed  = "majority:voting-closed"
	MajorityTieBreak      = "majority:tie-break-needed"
	MajorityDeferred      = "majority:decision-deferred"

	// Pattern store
	PatternObserved  = "pattern:observed"
	PatternPredicted = "pattern:predicted"
	PatternPruned    = "pattern:pruned"

	// Agents
	AgentInitialized            = "agent:initialized"
	AgentReportGenerated        = "agent:report-generated"
	AgentResponseReceived       = "agent:response-received"
	AgentTasksAssigned          = "agent:tasks-assigned"
	AgentCollaborationRequested = "agent:collaboration-requested"
	AgentCollaborationResponse  = "agent:collaboration-response"
	AgentProcessingTask         = "agent:processing-task"
	AgentLearning               = "agent:learning"
	AgentFeedbackProcessed      = "agent:feedback-processed"
	AgentError                  = "agent:error"

	// Queen / HITL
	ApprovalRequired = "approval-required"

	// Scheduler
	ScheduleRegistered = "schedule:registered"
	ScheduleUpdated    = "schedule:updated"
	SchedulePaused     = "schedule:paused"
	ScheduleResumed    = "schedule:resumed"
	ScheduleFired      = "schedule:fired"
	ScheduleCompleted  = "schedule:completed"
	ScheduleFailed     = "schedule:failed"
	ScheduleCancelled  = "schedule:cancelled"
)
