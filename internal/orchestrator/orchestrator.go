package orchestrator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/autodev-labs/autodev-engine/internal/broadcast"
	"github.com/autodev-labs/autodev-engine/internal/domain"
	"github.com/autodev-labs/autodev-engine/internal/guard"
	"github.com/autodev-labs/autodev-engine/internal/guardrails"
	"github.com/autodev-labs/autodev-engine/internal/hitl"
	"github.com/autodev-labs/autodev-engine/internal/llm"
	"github.com/autodev-labs/autodev-engine/internal/workflow"
)

// mainTask is the single budget task every execution charges against.
const mainTask = "main"

// Archive persists execution state. Writes are best-effort: the
// in-memory context stays authoritative and archive failures are
// logged, never fatal.
type Archive interface {
	CreateExecution(ctx context.Context, executionID string, req domain.ExecutionRequest, createdAt int64) error
	UpdateExecution(ctx context.Context, status domain.ExecutionStatus) error
	RecordCostDelta(ctx context.Context, executionID string, delta domain.CostDelta) error
}

// Config holds tunable parameters for the orchestrator.
type Config struct {
	// DemoMode serves artifacts from the template source instead of
	// calling the provider.
	DemoMode    bool
	Model       string
	MaxAttempts int
	BackoffBase time.Duration
	// Parallelism bounds concurrent component generation during the
	// development phase.
	Parallelism int
}

// Orchestrator drives executions through the workflow. Each execution
// runs on its own goroutine; the only shared state is the ledger, the
// broadcaster, and the registry of live executions.
type Orchestrator struct {
	gen         llm.Generator
	templates   *llm.TemplateSource
	machine     *workflow.Machine
	ledger      *workflow.BudgetLedger
	guard       *guard.Guard
	guardrails  *guardrails.Engine
	checkpoints *hitl.Manager
	bus         *broadcast.Broadcaster
	archive     Archive
	cfg         Config

	mu         sync.RWMutex
	executions map[string]*execution
}

type execution struct {
	ec     *ExecutionContext
	cancel context.CancelFunc

	statusMu sync.RWMutex
	last     domain.ExecutionStatus
}

// New creates an Orchestrator. gen may be nil when cfg.DemoMode is set;
// archive may be nil to disable persistence.
func New(gen llm.Generator, templates *llm.TemplateSource, ledger *workflow.BudgetLedger,
	g *guard.Guard, rails *guardrails.Engine, checkpoints *hitl.Manager,
	bus *broadcast.Broadcaster, archive Archive, cfg Config) *Orchestrator {

	if cfg.Model == "" {
		cfg.Model = workflow.DefaultModel
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.Parallelism == 0 {
		cfg.Parallelism = 4
	}
	return &Orchestrator{
		gen:         gen,
		templates:   templates,
		machine:     workflow.NewMachine(),
		ledger:      ledger,
		guard:       g,
		guardrails:  rails,
		checkpoints: checkpoints,
		bus:         bus,
		archive:     archive,
		cfg:         cfg,
		executions:  make(map[string]*execution),
	}
}

// Start admits and launches a new execution, returning its id. The rate
// limit and budget registration happen synchronously so the caller gets
// the rejection; the workflow itself runs on a fresh goroutine.
func (o *Orchestrator) Start(req domain.ExecutionRequest) (string, error) {
	if err := o.guard.CheckStartRate(req.UserID); err != nil {
		return "", err
	}

	executionID := uuid.NewString()
	ec := newExecutionContext(executionID, req)

	if err := o.ledger.InitExecutionBudget(executionID, map[string]float64{mainTask: ec.Request.BudgetUSD}, o.cfg.Model); err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ex := &execution{ec: ec, cancel: cancel, last: ec.status()}

	o.mu.Lock()
	o.executions[executionID] = ex
	o.mu.Unlock()

	if o.archive != nil {
		if err := o.archive.CreateExecution(context.Background(), executionID, ec.Request, ec.StartedAt.Unix()); err != nil {
			log.Printf("orchestrator: archive execution %s: %v", executionID, err)
		}
	}

	go o.run(runCtx, ex)
	return executionID, nil
}

// Cancel stops a non-terminal execution. The run goroutine observes the
// cancelled context at its next step and settles the terminal state.
func (o *Orchestrator) Cancel(executionID string) error {
	o.mu.RLock()
	ex, ok := o.executions[executionID]
	o.mu.RUnlock()
	if !ok {
		return domain.ErrExecutionNotFound
	}
	if ex.snapshot().Phase.Terminal() {
		return domain.ErrExecutionDone
	}
	ex.cancel()
	return nil
}

// Status returns the latest snapshot of an execution.
func (o *Orchestrator) Status(executionID string) (domain.ExecutionStatus, error) {
	o.mu.RLock()
	ex, ok := o.executions[executionID]
	o.mu.RUnlock()
	if !ok {
		return domain.ExecutionStatus{}, domain.ErrExecutionNotFound
	}
	return ex.snapshot(), nil
}

// Artifact returns the content of one generated artifact.
func (o *Orchestrator) Artifact(executionID, path string) (string, error) {
	o.mu.RLock()
	ex, ok := o.executions[executionID]
	o.mu.RUnlock()
	if !ok {
		return "", domain.ErrExecutionNotFound
	}
	ex.statusMu.RLock()
	defer ex.statusMu.RUnlock()
	content, ok := ex.ec.artifacts[path]
	if !ok {
		return "", domain.NewEngineError(domain.ErrExecutionNotFound.Code, "artifact not found: "+path)
	}
	return content, nil
}

// setArtifact is the only artifact-map writer; it takes the status lock
// because Artifact reads the map from other goroutines.
func (ex *execution) setArtifact(path, content string) {
	ex.statusMu.Lock()
	ex.ec.addArtifact(path, content)
	ex.statusMu.Unlock()
}

// addUsage is the only metrics writer. It takes the status lock because
// development-phase workers record usage concurrently.
func (ex *execution) addUsage(tokens int64, costUSD float64) {
	ex.statusMu.Lock()
	ex.ec.addUsage(tokens, costUSD)
	ex.statusMu.Unlock()
}

func (ex *execution) snapshot() domain.ExecutionStatus {
	ex.statusMu.RLock()
	defer ex.statusMu.RUnlock()
	return ex.last
}

// publish refreshes the shared snapshot after the driving goroutine
// mutated the context, and mirrors it to the archive.
func (o *Orchestrator) publish(ex *execution) {
	ex.statusMu.Lock()
	ex.last = ex.ec.status()
	snap := ex.last
	ex.statusMu.Unlock()

	if o.archive != nil {
		if err := o.archive.UpdateExecution(context.Background(), snap); err != nil {
			log.Printf("orchestrator: archive update %s: %v", snap.ExecutionID, err)
		}
	}
}
