package broadcast

import (
	"fmt"

	"github.com/autodev-labs/autodev-engine/internal/domain"
)

// Typed emitters for the standard workflow events. Each builds the envelope
// expected by stream consumers and publishes it to the execution's subscribers.

// ExecutionStarted announces a new execution.
func (b *Broadcaster) ExecutionStarted(executionID, templateID, teamConfig string) {
	b.Publish(executionID, domain.NewStreamEvent(domain.EventExecutionStarted, executionID,
		map[string]interface{}{
			"template_id": templateID,
			"team_config": teamConfig,
			"status":      string(domain.PhasePlanning),
		},
		fmt.Sprintf("Execution started with template %s", templateID)))
}

// Progress reports the overall progress fraction and current phase.
func (b *Broadcaster) Progress(executionID string, progress float64, phase domain.Phase, metrics domain.ExecutionMetrics) {
	b.Publish(executionID, domain.NewStreamEvent(domain.EventExecutionProgress, executionID,
		map[string]interface{}{
			"overall_progress": progress,
			"current_phase":    string(phase),
			"metrics":          metrics,
		}, ""))
}

// AgentStatus reports an agent starting or finishing work on a task.
func (b *Broadcaster) AgentStatus(executionID, agent, status, currentTask string, progress float64) {
	b.Publish(executionID, domain.NewStreamEvent(domain.EventAgentStatusChanged, executionID,
		map[string]interface{}{
			"agent":        agent,
			"status":       status,
			"current_task": currentTask,
			"progress":     progress,
		},
		fmt.Sprintf("Agent %s is now %s", agent, status)))
}

// CheckpointCreated announces that a review checkpoint is blocking progress.
func (b *Broadcaster) CheckpointCreated(cp domain.Checkpoint) {
	b.Publish(cp.ExecutionID, domain.NewStreamEvent(domain.EventHITLCheckpointCreated, cp.ExecutionID,
		map[string]interface{}{
			"checkpoint_id":   cp.ID,
			"type":            string(cp.Type),
			"artifacts":       cp.Artifacts,
			"due_at_unix":     cp.DueAt,
			"review_required": true,
		},
		fmt.Sprintf("Awaiting %s decision", cp.Type)))
}

// CheckpointResolved announces a reviewer's decision on a checkpoint.
func (b *Broadcaster) CheckpointResolved(cp domain.Checkpoint) {
	b.Publish(cp.ExecutionID, domain.NewStreamEvent(domain.EventHITLCheckpointResolved, cp.ExecutionID,
		map[string]interface{}{
			"checkpoint_id": cp.ID,
			"type":          string(cp.Type),
			"status":        string(cp.Status),
			"reviewer":      cp.Reviewer,
			"reason":        cp.Reason,
		},
		fmt.Sprintf("Checkpoint %s %s", cp.ID, cp.Status)))
}

// ArtifactGenerated announces one generated artifact.
func (b *Broadcaster) ArtifactGenerated(executionID, path, agent string, validated bool) {
	b.Publish(executionID, domain.NewStreamEvent(domain.EventArtifactGenerated, executionID,
		map[string]interface{}{
			"artifact_path": path,
			"generated_by":  agent,
			"validated":     validated,
		},
		fmt.Sprintf("Generated %s", path)))
}

// BudgetWarning reports usage crossing the advisory threshold.
func (b *Broadcaster) BudgetWarning(executionID string, usagePercent, remainingUSD float64) {
	b.Publish(executionID, domain.NewStreamEvent(domain.EventBudgetWarning, executionID,
		map[string]interface{}{
			"usage_percentage": usagePercent,
			"remaining_budget": remainingUSD,
		},
		fmt.Sprintf("Budget warning: %.1f%% used", usagePercent)))
}

// Log emits a structured log line on the event stream.
func (b *Broadcaster) Log(executionID, agent, level, message string) {
	b.Publish(executionID, domain.NewStreamEvent(domain.EventLogMessage, executionID,
		map[string]interface{}{
			"agent": agent,
			"level": level,
		}, message))
}

// Completed announces a successful terminal phase with final artifacts and metrics.
func (b *Broadcaster) Completed(executionID string, artifacts []string, metrics domain.ExecutionMetrics) {
	b.Publish(executionID, domain.NewStreamEvent(domain.EventExecutionCompleted, executionID,
		map[string]interface{}{
			"success":   true,
			"artifacts": artifacts,
			"metrics":   metrics,
		}, "Execution completed successfully"))
}

// Failed announces a failed terminal phase.
func (b *Broadcaster) Failed(executionID, reason string, metrics domain.ExecutionMetrics) {
	b.Publish(executionID, domain.NewStreamEvent(domain.EventExecutionFailed, executionID,
		map[string]interface{}{
			"success": false,
			"metrics": metrics,
		},
		fmt.Sprintf("Execution failed: %s", reason)))
}

// ErrorOccurred reports a non-terminal error on the stream.
func (b *Broadcaster) ErrorOccurred(executionID, message string) {
	b.Publish(executionID, domain.NewStreamEvent(domain.EventErrorOccurred, executionID, nil, message))
}
