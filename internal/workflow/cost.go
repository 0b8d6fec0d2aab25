package workflow

import (
	"fmt"
	"sync"

	"github.com/autodev-labs/autodev-engine/internal/domain"
)

// DefaultModel is the pricing tier applied when a model is unknown.
const DefaultModel = "gpt-4o-mini"

// WarnRatio is the fraction of budget at which advisory warnings begin.
const WarnRatio = 0.8

// modelRate is the price in USD per 1000 input/output tokens.
type modelRate struct {
	Input  float64
	Output float64
}

// modelRates is the sole source of truth for cost arithmetic. Lookup is a
// pure function of the model name; unknown models fall back to DefaultModel.
var modelRates = map[string]modelRate{
	"gpt-4o-mini":   {Input: 0.00015, Output: 0.0006},
	"gpt-4o":        {Input: 0.0025, Output: 0.01},
	"gpt-3.5-turbo": {Input: 0.001, Output: 0.002},
}

// RateFor returns the pricing tier for a model, defaulting for unknown names.
func RateFor(model string) (inputPer1K, outputPer1K float64) {
	r, ok := modelRates[model]
	if !ok {
		r = modelRates[DefaultModel]
	}
	return r.Input, r.Output
}

// UsageCost computes the incremental dollar cost of one usage record.
func UsageCost(model string, inputTokens, outputTokens int64) float64 {
	in, out := RateFor(model)
	return float64(inputTokens)/1000.0*in + float64(outputTokens)/1000.0*out
}

// CostTracker accumulates token usage and derived dollar cost against a
// budget ceiling for a single task. Cost is monotonically non-decreasing.
// Safe for concurrent use.
type CostTracker struct {
	mu         sync.Mutex
	budgetUSD  float64
	model      string
	tokensUsed int64
	costUSD    float64
}

// NewCostTracker creates a tracker with the given ceiling. An empty model
// selects the default pricing tier.
func NewCostTracker(budgetUSD float64, model string) *CostTracker {
	if model == "" {
		model = DefaultModel
	}
	return &CostTracker{budgetUSD: budgetUSD, model: model}
}

// AddUsage records token usage and returns true once cumulative cost has
// reached or exceeded the ceiling. Negative token counts are ignored.
func (t *CostTracker) AddUsage(inputTokens, outputTokens int64) bool {
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.tokensUsed += inputTokens + outputTokens
	t.costUSD += UsageCost(t.model, inputTokens, outputTokens)
	return t.costUSD >= t.budgetUSD
}

// Remaining returns the unspent budget, never negative.
func (t *CostTracker) Remaining() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rem := t.budgetUSD - t.costUSD; rem > 0 {
		return rem
	}
	return 0
}

// UsagePercent returns cost/budget*100, or 0 when the budget is 0.
func (t *CostTracker) UsagePercent() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.budgetUSD == 0 {
		return 0
	}
	return t.costUSD / t.budgetUSD * 100.0
}

// Snapshot returns the cumulative tokens and cost.
func (t *CostTracker) Snapshot() (tokens int64, costUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tokensUsed, t.costUSD
}

// BudgetUSD returns the ceiling the tracker was created with.
func (t *CostTracker) BudgetUSD() float64 {
	return t.budgetUSD
}

// Model returns the pricing model the tracker uses.
func (t *CostTracker) Model() string {
	return t.model
}

// BudgetLedger owns one CostTracker per (execution, task) pair. Entries are
// created once at execution start and never resized during a run. Safe for
// concurrent access across executions.
type BudgetLedger struct {
	mu       sync.RWMutex
	trackers map[string]map[string]*CostTracker
}

// NewBudgetLedger creates an empty ledger.
func NewBudgetLedger() *BudgetLedger {
	return &BudgetLedger{trackers: make(map[string]map[string]*CostTracker)}
}

// InitExecutionBudget creates one tracker per task from the budget map.
// Returns ErrDuplicateExecution if the execution is already initialized.
func (l *BudgetLedger) InitExecutionBudget(executionID string, taskBudgets map[string]float64, model string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.trackers[executionID]; exists {
		return domain.NewEngineError(
			domain.ErrDuplicateExecution.Code,
			fmt.Sprintf("budget already initialized for execution %s", executionID),
		)
	}

	tasks := make(map[string]*CostTracker, len(taskBudgets))
	for taskID, budget := range taskBudgets {
		tasks[taskID] = NewCostTracker(budget, model)
	}
	l.trackers[executionID] = tasks
	return nil
}

// Tracker returns the tracker for (execution, task).
func (l *BudgetLedger) Tracker(executionID, taskID string) (*CostTracker, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	tasks, ok := l.trackers[executionID]
	if !ok {
		return nil, domain.NewEngineError(
			domain.ErrExecutionNotFound.Code,
			fmt.Sprintf("no budget for execution %s", executionID),
		)
	}
	tracker, ok := tasks[taskID]
	if !ok {
		return nil, domain.NewEngineError(
			domain.ErrTrackerNotFound.Code,
			fmt.Sprintf("no cost tracker for task %s in execution %s", taskID, executionID),
		)
	}
	return tracker, nil
}

// RecordUsage adds token usage to the tracker for (execution, task) and
// reports whether further spending is allowed. Budget exhaustion is reported,
// not returned as an error; the caller decides whether to halt. The message
// is a non-empty advisory once usage passes the warning threshold.
func (l *BudgetLedger) RecordUsage(executionID, taskID string, inputTokens, outputTokens int64) (allowed bool, message string, err error) {
	tracker, err := l.Tracker(executionID, taskID)
	if err != nil {
		return false, "", err
	}

	exceeded := tracker.AddUsage(inputTokens, outputTokens)
	_, cost := tracker.Snapshot()

	if exceeded {
		return false, fmt.Sprintf("budget exceeded: $%.3f / $%.2f", cost, tracker.BudgetUSD()), nil
	}
	if pct := tracker.UsagePercent(); pct > WarnRatio*100 {
		return true, fmt.Sprintf("budget warning: %.1f%% used", pct), nil
	}
	return true, "", nil
}

// Release drops all trackers for an execution once it reaches a terminal
// phase. Releasing an unknown execution is a no-op.
func (l *BudgetLedger) Release(executionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.trackers, executionID)
}
