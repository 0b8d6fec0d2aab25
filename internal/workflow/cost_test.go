package workflow

import (
	"math"
	"strings"
	"testing"

	"github.com/autodev-labs/autodev-engine/internal/domain"
)

func TestUsageCost_KnownModels(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		in, out  int64
		expected float64
	}{
		{"mini_10k_each", "gpt-4o-mini", 10000, 10000, 0.0075},
		{"gpt4o_1k_each", "gpt-4o", 1000, 1000, 0.0125},
		{"turbo_2k_in", "gpt-3.5-turbo", 2000, 0, 0.002},
		{"unknown_uses_default_tier", "some-future-model", 10000, 10000, 0.0075},
		{"zero_tokens", "gpt-4o-mini", 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UsageCost(tt.model, tt.in, tt.out)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("UsageCost(%s, %d, %d) = %f, want %f", tt.model, tt.in, tt.out, got, tt.expected)
			}
		})
	}
}

func TestCostTracker_AddUsage(t *testing.T) {
	tracker := NewCostTracker(1.0, "gpt-4o-mini")

	// 10k input + 10k output at the mini tier is $0.0075.
	if exceeded := tracker.AddUsage(10000, 10000); exceeded {
		t.Fatal("first AddUsage reported exceeded on a $1 budget")
	}
	tokens, cost := tracker.Snapshot()
	if tokens != 20000 {
		t.Errorf("tokens = %d, want 20000", tokens)
	}
	if math.Abs(cost-0.0075) > 1e-9 {
		t.Errorf("cost = %f, want 0.0075", cost)
	}
}

func TestCostTracker_ExceedsAfterRepeatedUsage(t *testing.T) {
	tracker := NewCostTracker(1.0, "gpt-4o-mini")

	// Each call costs $0.0075; call 134 pushes cumulative cost to $1.005.
	calls := 0
	for {
		calls++
		if tracker.AddUsage(10000, 10000) {
			break
		}
		if calls > 200 {
			t.Fatal("budget never exceeded")
		}
	}
	if calls != 134 {
		t.Errorf("budget exceeded on call %d, want 134", calls)
	}
}

func TestCostTracker_UsagePercent_ZeroBudget(t *testing.T) {
	tracker := NewCostTracker(0, "gpt-4o-mini")
	tracker.AddUsage(1000, 1000)
	if pct := tracker.UsagePercent(); pct != 0 {
		t.Errorf("UsagePercent with zero budget = %f, want 0", pct)
	}
}

func TestCostTracker_CostMonotone(t *testing.T) {
	tracker := NewCostTracker(10, "gpt-4o")
	var last float64
	for i := 0; i < 20; i++ {
		tracker.AddUsage(500, 500)
		_, cost := tracker.Snapshot()
		if cost < last {
			t.Fatalf("cost decreased: %f -> %f", last, cost)
		}
		last = cost
	}

	// Negative counts must not reduce accumulated cost.
	tracker.AddUsage(-1000, -1000)
	_, cost := tracker.Snapshot()
	if cost < last {
		t.Errorf("negative usage reduced cost: %f -> %f", last, cost)
	}
}

func TestBudgetLedger_InitAndDuplicate(t *testing.T) {
	ledger := NewBudgetLedger()

	if err := ledger.InitExecutionBudget("exec-1", map[string]float64{"main": 5.0}, ""); err != nil {
		t.Fatalf("InitExecutionBudget: %v", err)
	}
	err := ledger.InitExecutionBudget("exec-1", map[string]float64{"main": 5.0}, "")
	if err == nil {
		t.Fatal("expected error on duplicate init, got nil")
	}
	engErr, ok := err.(*domain.EngineError)
	if !ok || engErr.Code != domain.ErrDuplicateExecution.Code {
		t.Errorf("duplicate init error = %v, want code %d", err, domain.ErrDuplicateExecution.Code)
	}
}

func TestBudgetLedger_RecordUsage_UnknownExecution(t *testing.T) {
	ledger := NewBudgetLedger()

	_, _, err := ledger.RecordUsage("missing", "main", 100, 100)
	if err == nil {
		t.Fatal("expected error for unknown execution")
	}
	engErr, ok := err.(*domain.EngineError)
	if !ok || engErr.Code != domain.ErrExecutionNotFound.Code {
		t.Errorf("error = %v, want code %d", err, domain.ErrExecutionNotFound.Code)
	}
}

func TestBudgetLedger_RecordUsage_UnknownTask(t *testing.T) {
	ledger := NewBudgetLedger()
	if err := ledger.InitExecutionBudget("exec-1", map[string]float64{"main": 5.0}, ""); err != nil {
		t.Fatalf("InitExecutionBudget: %v", err)
	}

	_, _, err := ledger.RecordUsage("exec-1", "other", 100, 100)
	if err == nil {
		t.Fatal("expected error for unknown task")
	}
	engErr, ok := err.(*domain.EngineError)
	if !ok || engErr.Code != domain.ErrTrackerNotFound.Code {
		t.Errorf("error = %v, want code %d", err, domain.ErrTrackerNotFound.Code)
	}
}

func TestBudgetLedger_WarningBeforeHardStop(t *testing.T) {
	ledger := NewBudgetLedger()
	if err := ledger.InitExecutionBudget("exec-1", map[string]float64{"main": 1.0}, "gpt-4o-mini"); err != nil {
		t.Fatalf("InitExecutionBudget: %v", err)
	}

	sawWarning := false
	for i := 0; i < 200; i++ {
		allowed, msg, err := ledger.RecordUsage("exec-1", "main", 10000, 10000)
		if err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
		if !allowed {
			if !sawWarning {
				t.Fatal("hard stop reached without a prior warning message")
			}
			if msg == "" {
				t.Error("hard stop returned empty message")
			}
			return
		}
		if msg != "" {
			if !strings.Contains(msg, "warning") {
				t.Errorf("advisory message = %q, want a budget warning", msg)
			}
			sawWarning = true
		}
	}
	t.Fatal("budget never exceeded")
}

func TestBudgetLedger_Release(t *testing.T) {
	ledger := NewBudgetLedger()
	if err := ledger.InitExecutionBudget("exec-1", map[string]float64{"main": 1.0}, ""); err != nil {
		t.Fatalf("InitExecutionBudget: %v", err)
	}
	ledger.Release("exec-1")

	if _, err := ledger.Tracker("exec-1", "main"); err == nil {
		t.Error("Tracker succeeded after Release")
	}
	// Releasing again is a no-op.
	ledger.Release("exec-1")

	// The id can be reused after release.
	if err := ledger.InitExecutionBudget("exec-1", map[string]float64{"main": 2.0}, ""); err != nil {
		t.Errorf("re-init after release: %v", err)
	}
}
