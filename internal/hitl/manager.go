// Package hitl manages human review checkpoints that gate an execution
// between automated phases.
package hitl

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/autodev-labs/autodev-engine/internal/domain"
)

// Resolution is delivered to the execution waiting on a checkpoint once
// a reviewer decides or the review window expires.
type Resolution struct {
	Status   domain.CheckpointStatus
	Decision domain.Decision
	Reviewer string
	Reason   string
}

// ManagerConfig holds tunable parameters for checkpoint handling.
type ManagerConfig struct {
	ReviewTimeout time.Duration
	// OnUpdate is invoked after every checkpoint state change, outside
	// the manager lock. Used to persist checkpoints.
	OnUpdate func(domain.Checkpoint)
}

// Manager tracks open checkpoints and routes reviewer decisions to the
// execution blocked on them.
type Manager struct {
	mu          sync.RWMutex
	checkpoints map[string]*domain.Checkpoint
	waiters     map[string]chan Resolution
	cfg         ManagerConfig
}

// NewManager creates a Manager with a default one hour review window.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.ReviewTimeout == 0 {
		cfg.ReviewTimeout = time.Hour
	}
	return &Manager{
		checkpoints: make(map[string]*domain.Checkpoint),
		waiters:     make(map[string]chan Resolution),
		cfg:         cfg,
	}
}

// Create opens a pending checkpoint for an execution and returns it
// together with the channel the resolution will arrive on. The channel
// is buffered so a resolution never blocks on a slow execution.
func (m *Manager) Create(executionID string, kind domain.CheckpointType, artifacts []string) (domain.Checkpoint, <-chan Resolution) {
	now := time.Now()
	cp := &domain.Checkpoint{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		Type:        kind,
		Status:      domain.CheckpointPending,
		Artifacts:   append([]string(nil), artifacts...),
		DueAt:       now.Add(m.cfg.ReviewTimeout).Unix(),
		CreatedAt:   now.Unix(),
	}
	ch := make(chan Resolution, 1)

	m.mu.Lock()
	m.checkpoints[cp.ID] = cp
	m.waiters[cp.ID] = ch
	snapshot := *cp
	m.mu.Unlock()

	m.notify(snapshot)
	return snapshot, ch
}

// Resolve applies a reviewer decision to a pending checkpoint and wakes
// the waiting execution.
func (m *Manager) Resolve(checkpointID string, decision domain.Decision, reviewer, reason string) (domain.Checkpoint, error) {
	var status domain.CheckpointStatus
	switch decision {
	case domain.DecisionApprove:
		status = domain.CheckpointApproved
	case domain.DecisionReject:
		status = domain.CheckpointRejected
	default:
		return domain.Checkpoint{}, domain.NewEngineError(domain.ErrInvalidDecision.Code,
			"decision must be approve or reject, got "+string(decision))
	}

	m.mu.Lock()
	cp, ok := m.checkpoints[checkpointID]
	if !ok {
		m.mu.Unlock()
		return domain.Checkpoint{}, domain.ErrCheckpointNotFound
	}
	if cp.Status != domain.CheckpointPending {
		m.mu.Unlock()
		return domain.Checkpoint{}, domain.NewEngineError(domain.ErrCheckpointResolved.Code,
			"checkpoint already "+string(cp.Status))
	}
	cp.Status = status
	cp.Reviewer = reviewer
	cp.Reason = reason
	ch := m.waiters[checkpointID]
	delete(m.waiters, checkpointID)
	snapshot := *cp
	m.mu.Unlock()

	ch <- Resolution{Status: status, Decision: decision, Reviewer: reviewer, Reason: reason}
	m.notify(snapshot)
	return snapshot, nil
}

// MarkRework records that a rejected checkpoint led to a rework round
// rather than a failed execution.
func (m *Manager) MarkRework(checkpointID string) error {
	m.mu.Lock()
	cp, ok := m.checkpoints[checkpointID]
	if !ok {
		m.mu.Unlock()
		return domain.ErrCheckpointNotFound
	}
	cp.Status = domain.CheckpointRework
	snapshot := *cp
	m.mu.Unlock()

	m.notify(snapshot)
	return nil
}

// Expire times out every pending checkpoint whose review window closed
// before nowUnix and returns the ids it expired. The waiting execution
// receives a rejection attributed to the system.
func (m *Manager) Expire(nowUnix int64) []string {
	type expired struct {
		ch chan Resolution
		cp domain.Checkpoint
	}

	m.mu.Lock()
	var hits []expired
	for id, cp := range m.checkpoints {
		if cp.Status != domain.CheckpointPending || cp.DueAt > nowUnix {
			continue
		}
		cp.Status = domain.CheckpointTimeout
		cp.Reviewer = "system"
		cp.Reason = "review window expired"
		hits = append(hits, expired{ch: m.waiters[id], cp: *cp})
		delete(m.waiters, id)
	}
	m.mu.Unlock()

	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		h.ch <- Resolution{
			Status:   domain.CheckpointTimeout,
			Decision: domain.DecisionReject,
			Reviewer: "system",
			Reason:   "review window expired",
		}
		m.notify(h.cp)
		ids = append(ids, h.cp.ID)
	}
	return ids
}

// Get returns a snapshot of the checkpoint with the given id.
func (m *Manager) Get(checkpointID string) (domain.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.checkpoints[checkpointID]
	if !ok {
		return domain.Checkpoint{}, domain.ErrCheckpointNotFound
	}
	return *cp, nil
}

// ListPending returns the pending checkpoints for one execution, or for
// all executions when executionID is empty.
func (m *Manager) ListPending(executionID string) []domain.Checkpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Checkpoint
	for _, cp := range m.checkpoints {
		if cp.Status != domain.CheckpointPending {
			continue
		}
		if executionID != "" && cp.ExecutionID != executionID {
			continue
		}
		out = append(out, *cp)
	}
	return out
}

func (m *Manager) notify(cp domain.Checkpoint) {
	if m.cfg.OnUpdate != nil {
		m.cfg.OnUpdate(cp)
	}
}
