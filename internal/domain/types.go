// Package domain defines the core types for the AutoDev engine workflow.
package domain

import "time"

// Phase represents a stage in an execution's lifecycle.
type Phase string

const (
	PhaseQueued             Phase = "queued"
	PhasePlanning           Phase = "planning"
	PhaseArchitecture       Phase = "architecture"
	PhaseArchitectureReview Phase = "architecture_review"
	PhaseDevelopment        Phase = "development"
	PhaseTesting            Phase = "testing"
	PhaseReleaseReview      Phase = "release_review"
	PhaseDeploying          Phase = "deploying"
	PhaseCompleted          Phase = "completed"
	PhaseFailed             Phase = "failed"
	PhaseCancelled          Phase = "cancelled"
)

// Terminal reports whether the phase accepts no further transition events.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}

// TransitionEvent names an event that can move an execution between phases.
type TransitionEvent string

const (
	EventAuto             TransitionEvent = "auto"
	EventPlanningComplete TransitionEvent = "planning_complete"
	EventArtifactsReady   TransitionEvent = "artifacts_ready"
	EventHITLApproved     TransitionEvent = "hitl_approved"
	EventHITLRejected     TransitionEvent = "hitl_rejected"
	EventCodeComplete     TransitionEvent = "code_complete"
	EventTestsPassed      TransitionEvent = "tests_passed"
	EventDeploySuccess    TransitionEvent = "deploy_success"
	EventDeployFailed     TransitionEvent = "deploy_failed"
	EventCancel           TransitionEvent = "cancel"
)

// EventType identifies the kind of a stream event sent to subscribers.
type EventType string

const (
	EventExecutionStarted       EventType = "execution_started"
	EventExecutionProgress      EventType = "execution_progress"
	EventExecutionCompleted     EventType = "execution_completed"
	EventExecutionFailed        EventType = "execution_failed"
	EventAgentStatusChanged     EventType = "agent_status_changed"
	EventHITLCheckpointCreated  EventType = "hitl_checkpoint_created"
	EventHITLCheckpointResolved EventType = "hitl_checkpoint_resolved"
	EventArtifactGenerated      EventType = "artifact_generated"
	EventBudgetWarning          EventType = "budget_warning"
	EventLogMessage             EventType = "log_message"
	EventErrorOccurred          EventType = "error_occurred"
)

// StreamEvent is the envelope delivered to execution subscribers.
// Events are immutable once constructed.
type StreamEvent struct {
	Type        EventType              `json:"event_type"`
	ExecutionID string                 `json:"execution_id"`
	Timestamp   string                 `json:"timestamp"`
	SeqNo       int64                  `json:"seq_no"`
	Data        map[string]interface{} `json:"data"`
	Message     string                 `json:"message,omitempty"`
}

// NewStreamEvent builds an event stamped with the current UTC time.
// SeqNo is assigned by the broadcaster at publish time.
func NewStreamEvent(t EventType, executionID string, data map[string]interface{}, message string) StreamEvent {
	if data == nil {
		data = map[string]interface{}{}
	}
	return StreamEvent{
		Type:        t,
		ExecutionID: executionID,
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		Data:        data,
		Message:     message,
	}
}

// ExecutionRequest holds the immutable inputs for a new execution.
type ExecutionRequest struct {
	TemplateID         string  `json:"template_id"`
	Description        string  `json:"description"`
	TeamConfig         string  `json:"team_config"`
	BudgetUSD          float64 `json:"budget_usd"`
	UserID             string  `json:"user_id"`
	CustomRequirements string  `json:"custom_requirements"`
}

// ExecutionMetrics aggregates the resource usage of one execution.
type ExecutionMetrics struct {
	TokensUsed  int64   `json:"tokens_used"`
	CostUSD     float64 `json:"cost_usd"`
	DurationSec float64 `json:"duration"`
}

// ExecutionStatus is a read-only snapshot of an in-flight or archived execution.
type ExecutionStatus struct {
	ExecutionID string           `json:"execution_id"`
	TemplateID  string           `json:"template_id"`
	Phase       Phase            `json:"phase"`
	Progress    float64          `json:"progress"`
	Metrics     ExecutionMetrics `json:"metrics"`
	Artifacts   []string         `json:"artifacts"`
	Error       string           `json:"error,omitempty"`
	UpdatedAt   int64            `json:"updated_at_unix"`
}

// CheckpointType classifies a human review gate.
type CheckpointType string

const (
	CheckpointArchitectureReview CheckpointType = "architecture_review"
	CheckpointCodeReview         CheckpointType = "code_review"
	CheckpointReleaseApproval    CheckpointType = "release_approval"
)

// CheckpointStatus is the lifecycle state of a review checkpoint.
type CheckpointStatus string

const (
	CheckpointPending  CheckpointStatus = "pending"
	CheckpointApproved CheckpointStatus = "approved"
	CheckpointRejected CheckpointStatus = "rejected"
	CheckpointTimeout  CheckpointStatus = "timeout"
	CheckpointRework   CheckpointStatus = "rework"
)

// Decision is a reviewer's verdict on a pending checkpoint.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Checkpoint is a human review gate blocking an execution's progress.
type Checkpoint struct {
	ID          string           `json:"checkpoint_id"`
	ExecutionID string           `json:"execution_id"`
	Type        CheckpointType   `json:"type"`
	Status      CheckpointStatus `json:"status"`
	Artifacts   []string         `json:"artifacts"`
	Reviewer    string           `json:"reviewer,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	DueAt       int64            `json:"due_at_unix"`
	CreatedAt   int64            `json:"created_at_unix"`
}

// CostAction is the budget governor's verdict after a usage check.
type CostAction string

const (
	CostContinue CostAction = "continue"
	CostWarn     CostAction = "warn"
	CostHalt     CostAction = "halt"
)

// CostDelta records one increment of token usage and its dollar cost.
type CostDelta struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	AmountUSD    float64 `json:"amount_usd"`
	Model        string  `json:"model"`
	Phase        Phase   `json:"phase"`
	CreatedAt    int64   `json:"created_at"`
}
