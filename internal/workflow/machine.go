// Package workflow implements the engine's phase state machine and
// per-execution budget tracking.
package workflow

import (
	"fmt"

	"github.com/autodev-labs/autodev-engine/internal/domain"
)

// transitions is the immutable transition table: (phase, event) -> next phase.
// ARCHITECTURE_REVIEW and RELEASE_REVIEW carry the only backward edges, used
// for the rework loop after a rejected review. Cancellation is handled
// separately so that every non-terminal phase accepts it.
var transitions = map[domain.Phase]map[domain.TransitionEvent]domain.Phase{
	domain.PhaseQueued: {
		domain.EventAuto: domain.PhasePlanning,
	},
	domain.PhasePlanning: {
		domain.EventPlanningComplete: domain.PhaseArchitecture,
	},
	domain.PhaseArchitecture: {
		domain.EventArtifactsReady: domain.PhaseArchitectureReview,
	},
	domain.PhaseArchitectureReview: {
		domain.EventHITLApproved: domain.PhaseDevelopment,
		domain.EventHITLRejected: domain.PhaseArchitecture,
	},
	domain.PhaseDevelopment: {
		domain.EventCodeComplete: domain.PhaseTesting,
	},
	domain.PhaseTesting: {
		domain.EventTestsPassed: domain.PhaseReleaseReview,
	},
	domain.PhaseReleaseReview: {
		domain.EventHITLApproved: domain.PhaseDeploying,
		domain.EventHITLRejected: domain.PhaseTesting,
	},
	domain.PhaseDeploying: {
		domain.EventDeploySuccess: domain.PhaseCompleted,
		domain.EventDeployFailed:  domain.PhaseFailed,
	},
}

// CanTransition reports whether the table has an entry for (current, event).
func CanTransition(current domain.Phase, event domain.TransitionEvent) bool {
	_, ok := NextPhase(current, event)
	return ok
}

// NextPhase resolves the destination phase for (current, event).
// The second return value is false when no such transition exists.
func NextPhase(current domain.Phase, event domain.TransitionEvent) (domain.Phase, bool) {
	if current.Terminal() {
		return "", false
	}
	if event == domain.EventCancel {
		return domain.PhaseCancelled, true
	}
	next, ok := transitions[current][event]
	return next, ok
}

// Machine pairs the transition table with per-phase entry hooks.
// The table itself is shared, immutable data; hooks are behavior owned by
// each Machine instance. Hooks must be registered before the machine is
// driven; registration is not synchronized.
type Machine struct {
	hooks map[domain.Phase]func()
}

// NewMachine creates a Machine with no hooks registered.
func NewMachine() *Machine {
	return &Machine{hooks: make(map[domain.Phase]func())}
}

// RegisterHook attaches a hook to a destination phase. The hook runs exactly
// once each time that phase is entered via Apply; direct phase assignment
// never triggers it. Registering again replaces the previous hook.
func (m *Machine) RegisterHook(phase domain.Phase, hook func()) {
	m.hooks[phase] = hook
}

// Apply performs the transition for (current, event), running the destination
// phase's hook before returning the new phase. An event with no table entry
// for the current phase returns ErrInvalidTransition and leaves state alone.
func (m *Machine) Apply(current domain.Phase, event domain.TransitionEvent) (domain.Phase, error) {
	next, ok := NextPhase(current, event)
	if !ok {
		return "", domain.NewEngineError(
			domain.ErrInvalidTransition.Code,
			fmt.Sprintf("event %q is not valid in phase %q", event, current),
		)
	}
	if hook, ok := m.hooks[next]; ok {
		hook()
	}
	return next, nil
}
