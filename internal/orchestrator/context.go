// Package orchestrator drives an execution through the workflow phases,
// from queued to a terminal state.
package orchestrator

import (
	"sort"
	"time"

	"github.com/autodev-labs/autodev-engine/internal/domain"
)

// ExecutionContext holds the state of one execution. The immutable
// request fields are set at construction; the mutable fields are only
// written by the driving goroutine. Snapshot is the only concurrent
// reader entry point.
type ExecutionContext struct {
	ExecutionID string
	Request     domain.ExecutionRequest
	StartedAt   time.Time

	phase     domain.Phase
	progress  float64
	metrics   domain.ExecutionMetrics
	artifacts map[string]string
	errMsg    string
	updatedAt int64
}

func newExecutionContext(executionID string, req domain.ExecutionRequest) *ExecutionContext {
	if req.TeamConfig == "" {
		req.TeamConfig = "compact"
	}
	if req.BudgetUSD == 0 {
		req.BudgetUSD = 10.0
	}
	return &ExecutionContext{
		ExecutionID: executionID,
		Request:     req,
		StartedAt:   time.Now(),
		phase:       domain.PhaseQueued,
		artifacts:   make(map[string]string),
		updatedAt:   time.Now().Unix(),
	}
}

func (ec *ExecutionContext) setPhase(p domain.Phase) {
	ec.phase = p
	ec.updatedAt = time.Now().Unix()
}

// setProgress never moves backwards; a rework round keeps the high-water
// mark so clients see monotone progress.
func (ec *ExecutionContext) setProgress(p float64) {
	if p > ec.progress {
		ec.progress = p
	}
	ec.updatedAt = time.Now().Unix()
}

func (ec *ExecutionContext) addUsage(tokens int64, costUSD float64) {
	ec.metrics.TokensUsed += tokens
	ec.metrics.CostUSD += costUSD
}

func (ec *ExecutionContext) addArtifact(path, content string) {
	ec.artifacts[path] = content
}

func (ec *ExecutionContext) setError(msg string) {
	ec.errMsg = msg
	ec.updatedAt = time.Now().Unix()
}

func (ec *ExecutionContext) artifactPaths() []string {
	paths := make([]string, 0, len(ec.artifacts))
	for p := range ec.artifacts {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// status builds a point-in-time view. Only the driving goroutine calls
// this directly; concurrent readers go through Orchestrator.Status.
func (ec *ExecutionContext) status() domain.ExecutionStatus {
	ec.metrics.DurationSec = time.Since(ec.StartedAt).Seconds()
	return domain.ExecutionStatus{
		ExecutionID: ec.ExecutionID,
		TemplateID:  ec.Request.TemplateID,
		Phase:       ec.phase,
		Progress:    ec.progress,
		Metrics:     ec.metrics,
		Artifacts:   ec.artifactPaths(),
		Error:       ec.errMsg,
		UpdatedAt:   ec.updatedAt,
	}
}
