package schema

// Event type constants for the run event log and the streaming hub.
const (
	EventRunStarted   = "run_started"
	EventRunPending   = "run_pending"
	EventRunResumed   = "run_resumed"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"

	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"
	EventStepPending   = "step_pending"

	EventConditionEvaluated = "condition_evaluated"
	EventLoopIteration      = "loop_iteration"
	EventParallelCompleted  = "parallel_completed"
	EventSubflowCompleted   = "subflow_completed"

	EventApprovalRequested = "approval_requested"
	EventApprovalGranted   = "approval_granted"
	EventApprovalRejected  = "approval_rejected"

	EventTriggerFired = "trigger_fired"
)
