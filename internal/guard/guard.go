// Package guard enforces the deployment-level policies that apply to
// every execution: budget posture, start rate limits, and rework bounds.
package guard

import (
	"sync"
	"time"

	"github.com/autodev-labs/autodev-engine/internal/domain"
	"github.com/autodev-labs/autodev-engine/internal/workflow"
)

// GuardConfig holds rate, round, and budget policy limits.
type GuardConfig struct {
	// BudgetPolicy is "halt" (stop the execution when the budget is
	// exhausted) or "warn" (emit warnings but keep going).
	BudgetPolicy       string
	MaxReworkRounds    int
	RateLimitPerMinute int
}

// Guard coordinates budget, rate, and round checks for executions.
type Guard struct {
	Ledger *workflow.BudgetLedger
	Config GuardConfig

	mu         sync.Mutex
	rateCounts map[string]*rateBucket
}

type rateBucket struct {
	count       int
	windowStart int64
}

// NewGuard creates a Guard, defaulting to the halt budget policy, three
// rework rounds, and ten execution starts per user per minute.
func NewGuard(ledger *workflow.BudgetLedger, cfg GuardConfig) *Guard {
	if cfg.BudgetPolicy == "" {
		cfg.BudgetPolicy = "halt"
	}
	if cfg.MaxReworkRounds == 0 {
		cfg.MaxReworkRounds = 3
	}
	if cfg.RateLimitPerMinute == 0 {
		cfg.RateLimitPerMinute = 10
	}
	return &Guard{
		Ledger:     ledger,
		Config:     cfg,
		rateCounts: make(map[string]*rateBucket),
	}
}

// BudgetAction maps a ledger verdict to the action the orchestrator
// should take under the configured policy. A hard stop is only issued
// under the halt policy; under warn the execution continues.
func (g *Guard) BudgetAction(exceeded, warned bool) domain.CostAction {
	switch {
	case exceeded && g.Config.BudgetPolicy == "halt":
		return domain.CostHalt
	case exceeded || warned:
		return domain.CostWarn
	default:
		return domain.CostContinue
	}
}

// CheckStartRate enforces a per-user sliding window rate limit on
// execution starts. The window is 60 seconds.
func (g *Guard) CheckStartRate(userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().Unix()
	bucket, ok := g.rateCounts[userID]
	if !ok {
		g.rateCounts[userID] = &rateBucket{count: 1, windowStart: now}
		return nil
	}

	if now-bucket.windowStart > 60 {
		bucket.count = 1
		bucket.windowStart = now
		return nil
	}

	if bucket.count >= g.Config.RateLimitPerMinute {
		return domain.ErrRateLimitExceeded
	}

	bucket.count++
	return nil
}

// CheckRounds compares a review gate's rework round count against the
// configured maximum. Returns ErrMaxRoundsExceeded once the bound is hit.
func (g *Guard) CheckRounds(round int) error {
	if round >= g.Config.MaxReworkRounds {
		return domain.ErrMaxRoundsExceeded
	}
	return nil
}
