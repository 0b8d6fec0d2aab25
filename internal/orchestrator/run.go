package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/autodev-labs/autodev-engine/internal/domain"
	"github.com/autodev-labs/autodev-engine/internal/llm"
	"github.com/autodev-labs/autodev-engine/internal/workflow"
)

// run drives one execution from queued to a terminal phase.
func (o *Orchestrator) run(ctx context.Context, ex *execution) {
	ec := ex.ec
	defer o.finish(ex)

	o.bus.ExecutionStarted(ec.ExecutionID, ec.Request.TemplateID, ec.Request.TeamConfig)

	archRounds := 0
	releaseRounds := 0

	for !ec.phase.Terminal() {
		if ctx.Err() != nil {
			o.settleCancelled(ex)
			return
		}

		var (
			event domain.TransitionEvent
			err   error
		)
		switch ec.phase {
		case domain.PhaseQueued:
			event = domain.EventAuto
		case domain.PhasePlanning:
			event, err = o.handlePlanning(ctx, ex)
		case domain.PhaseArchitecture:
			event, err = o.handleArchitecture(ctx, ex)
		case domain.PhaseArchitectureReview:
			event, err = o.handleReview(ctx, ex, domain.CheckpointArchitectureReview, &archRounds)
		case domain.PhaseDevelopment:
			event, err = o.handleDevelopment(ctx, ex)
		case domain.PhaseTesting:
			event, err = o.handleTesting(ctx, ex)
		case domain.PhaseReleaseReview:
			event, err = o.handleReview(ctx, ex, domain.CheckpointReleaseApproval, &releaseRounds)
		case domain.PhaseDeploying:
			event, err = o.handleDeploying(ctx, ex)
		default:
			err = domain.NewEngineError(domain.ErrInvalidTransition.Code,
				fmt.Sprintf("no handler for phase %q", ec.phase))
		}

		if err != nil {
			if ctx.Err() != nil {
				o.settleCancelled(ex)
				return
			}
			o.settleFailed(ex, err)
			return
		}

		next, applyErr := o.machine.Apply(ec.phase, event)
		if applyErr != nil {
			o.settleFailed(ex, applyErr)
			return
		}
		ec.setPhase(next)
		if next == domain.PhaseCompleted {
			ec.setProgress(1.0)
		}
		o.publish(ex)
	}

	if ec.phase == domain.PhaseCompleted {
		o.bus.Progress(ec.ExecutionID, 1.0, domain.PhaseCompleted, ec.metrics)
		o.bus.Completed(ec.ExecutionID, ec.artifactPaths(), ec.metrics)
		o.bus.Log(ec.ExecutionID, "orchestrator", "info", "Execution completed successfully")
	} else if ec.phase == domain.PhaseFailed {
		o.bus.Failed(ec.ExecutionID, ec.errMsg, ec.metrics)
	}
}

// finish releases per-execution resources once the goroutine exits.
func (o *Orchestrator) finish(ex *execution) {
	o.publish(ex)
	o.ledger.Release(ex.ec.ExecutionID)
	o.bus.Drop(ex.ec.ExecutionID)
}

func (o *Orchestrator) settleFailed(ex *execution, cause error) {
	ec := ex.ec
	ec.setError(cause.Error())
	ec.setPhase(domain.PhaseFailed)
	o.publish(ex)
	o.bus.ErrorOccurred(ec.ExecutionID, cause.Error())
	o.bus.Failed(ec.ExecutionID, cause.Error(), ec.metrics)
}

func (o *Orchestrator) settleCancelled(ex *execution) {
	ec := ex.ec
	ec.setPhase(domain.PhaseCancelled)
	o.publish(ex)
	o.bus.Log(ec.ExecutionID, "orchestrator", "info", "Execution cancelled")
}

// enterPhase publishes the standard progress and agent events emitted on
// entry to a working phase.
func (o *Orchestrator) enterPhase(ex *execution, agent string, progress float64) {
	ec := ex.ec
	ec.setProgress(progress)
	o.publish(ex)
	o.bus.Progress(ec.ExecutionID, ec.progress, ec.phase, ec.metrics)
	o.bus.AgentStatus(ec.ExecutionID, agent, "working", string(ec.phase), ec.progress)
}

func (o *Orchestrator) leavePhase(ex *execution, agent string, progress float64) {
	ec := ex.ec
	ec.setProgress(progress)
	o.publish(ex)
	o.bus.Progress(ec.ExecutionID, ec.progress, ec.phase, ec.metrics)
	o.bus.AgentStatus(ec.ExecutionID, agent, "completed", string(ec.phase), ec.progress)
}

func (o *Orchestrator) handlePlanning(ctx context.Context, ex *execution) (domain.TransitionEvent, error) {
	ec := ex.ec
	o.enterPhase(ex, "planner", 0.1)

	var plan string
	if o.cfg.DemoMode || o.gen == nil {
		plan = demoPlan(ec.Request)
	} else {
		resp, err := o.generate(ctx, ex, llm.PlanRequest(ec.Request, o.cfg.Model))
		if err != nil {
			return "", err
		}
		plan = resp.Content
	}
	ex.setArtifact("docs/plan.md", plan)
	o.bus.ArtifactGenerated(ec.ExecutionID, "docs/plan.md", "planner", true)

	o.leavePhase(ex, "planner", 0.2)
	return domain.EventPlanningComplete, nil
}

// projectPayload is the structured output expected from the provider
// during the architecture phase.
type projectPayload struct {
	Files        map[string]string `json:"files"`
	Architecture json.RawMessage   `json:"architecture"`
	Instructions string            `json:"instructions"`
}

func (o *Orchestrator) handleArchitecture(ctx context.Context, ex *execution) (domain.TransitionEvent, error) {
	ec := ex.ec
	o.enterPhase(ex, "architect", 0.3)

	var payload projectPayload
	if o.cfg.DemoMode || o.gen == nil {
		files, err := o.templates.Files(ec.Request.TemplateID)
		if err != nil {
			return "", err
		}
		payload.Files = files
	} else {
		resp, err := o.generate(ctx, ex, llm.ArchitectureRequest(ec.Request, o.cfg.Model))
		if err != nil {
			return "", err
		}
		if jsonErr := json.Unmarshal([]byte(resp.Content), &payload); jsonErr != nil {
			// Malformed provider output degrades to a raw artifact for
			// manual review instead of failing the execution.
			payload = projectPayload{}
			ex.setArtifact("docs/raw_output.md", resp.Content)
			o.bus.ArtifactGenerated(ec.ExecutionID, "docs/raw_output.md", "architect", false)
			o.bus.Log(ec.ExecutionID, "architect", "warning",
				"Provider output was not valid JSON; stored raw output for manual review")
		}
	}

	for _, path := range sortedKeys(payload.Files) {
		ex.setArtifact(path, payload.Files[path])
		o.bus.ArtifactGenerated(ec.ExecutionID, path, "architect", true)
	}

	if len(payload.Architecture) > 0 && o.guardrails != nil {
		if ok, violations := o.guardrails.Validate("architecture", payload.Architecture); !ok {
			o.bus.Log(ec.ExecutionID, "architect", "warning",
				"Architecture validation failed: "+strings.Join(violations, ", "))
		}
	}

	if err := o.checkBudget(ex); err != nil {
		return "", err
	}

	o.leavePhase(ex, "architect", 0.6)
	return domain.EventArtifactsReady, nil
}

func (o *Orchestrator) handleReview(ctx context.Context, ex *execution, kind domain.CheckpointType, rounds *int) (domain.TransitionEvent, error) {
	ec := ex.ec
	o.enterPhase(ex, "reviewer", reviewProgress(kind))

	cp, resolutionCh := o.checkpoints.Create(ec.ExecutionID, kind, ec.artifactPaths())
	o.bus.CheckpointCreated(cp)

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-resolutionCh:
		resolved, err := o.checkpoints.Get(cp.ID)
		if err == nil {
			o.bus.CheckpointResolved(resolved)
		}
		if res.Decision == domain.DecisionApprove {
			o.bus.AgentStatus(ec.ExecutionID, "reviewer", "completed", string(ec.phase), ec.progress)
			return domain.EventHITLApproved, nil
		}

		// Rejection (including timeout) burns a rework round.
		if err := o.guard.CheckRounds(*rounds); err != nil {
			return "", domain.NewEngineError(domain.ErrMaxRoundsExceeded.Code,
				fmt.Sprintf("checkpoint %s rejected after %d rework round(s)", cp.ID, *rounds))
		}
		*rounds++
		if markErr := o.checkpoints.MarkRework(cp.ID); markErr != nil {
			log.Printf("orchestrator: mark rework %s: %v", cp.ID, markErr)
		}
		o.bus.Log(ec.ExecutionID, "reviewer", "warning",
			fmt.Sprintf("Checkpoint rejected (%s); starting rework round %d", res.Reason, *rounds))
		return domain.EventHITLRejected, nil
	}
}

func reviewProgress(kind domain.CheckpointType) float64 {
	if kind == domain.CheckpointReleaseApproval {
		return 0.92
	}
	return 0.65
}

// developmentComponents lists the code units generated in parallel
// during the development phase.
func developmentComponents() []string {
	return []string{"api", "storage", "service"}
}

func (o *Orchestrator) handleDevelopment(ctx context.Context, ex *execution) (domain.TransitionEvent, error) {
	ec := ex.ec
	o.enterPhase(ex, "developer", 0.7)

	components := developmentComponents()
	results := make([]string, len(components))

	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(o.cfg.Parallelism)
	for i, component := range components {
		i, component := i, component
		grp.Go(func() error {
			if o.cfg.DemoMode || o.gen == nil {
				results[i] = demoComponent(ec.Request, component)
				return nil
			}
			resp, err := o.generate(grpCtx, ex, llm.ComponentRequest(ec.Request, component, o.cfg.Model))
			if err != nil {
				return err
			}
			results[i] = resp.Content
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return "", err
	}

	for i, component := range components {
		path := "src/" + component + ".go"
		ex.setArtifact(path, results[i])
		o.bus.ArtifactGenerated(ec.ExecutionID, path, "developer", true)
	}

	if err := o.checkBudget(ex); err != nil {
		return "", err
	}

	o.leavePhase(ex, "developer", 0.8)
	return domain.EventCodeComplete, nil
}

func (o *Orchestrator) handleTesting(ctx context.Context, ex *execution) (domain.TransitionEvent, error) {
	ec := ex.ec
	o.enterPhase(ex, "tester", 0.85)

	if o.guardrails != nil {
		ex.statusMu.RLock()
		paths := ec.artifactPaths()
		contents := make(map[string]string, len(paths))
		for _, p := range paths {
			contents[p] = ec.artifacts[p]
		}
		ex.statusMu.RUnlock()

		for _, p := range paths {
			if ok, violations := o.guardrails.Validate(artifactType(p), []byte(contents[p])); !ok {
				o.bus.Log(ec.ExecutionID, "tester", "warning",
					"Validation failed for "+p+": "+strings.Join(violations, ", "))
			}
		}
	}

	o.leavePhase(ex, "tester", 0.9)
	return domain.EventTestsPassed, nil
}

func (o *Orchestrator) handleDeploying(ctx context.Context, ex *execution) (domain.TransitionEvent, error) {
	ec := ex.ec
	o.enterPhase(ex, "deployer", 0.95)

	manifest := deployManifest(ec)
	ex.setArtifact("deploy/manifest.json", manifest)
	o.bus.ArtifactGenerated(ec.ExecutionID, "deploy/manifest.json", "deployer", true)

	o.leavePhase(ex, "deployer", 0.98)
	return domain.EventDeploySuccess, nil
}

// checkBudget applies the deployment budget policy to the execution's
// current spend.
func (o *Orchestrator) checkBudget(ex *execution) error {
	ec := ex.ec
	tracker, err := o.ledger.Tracker(ec.ExecutionID, mainTask)
	if err != nil {
		return err
	}
	pct := tracker.UsagePercent()
	exceeded := tracker.Remaining() <= 0 && tracker.BudgetUSD() > 0
	warned := pct > workflow.WarnRatio*100

	switch o.guard.BudgetAction(exceeded, warned) {
	case domain.CostHalt:
		_, cost := tracker.Snapshot()
		return domain.NewEngineError(domain.ErrBudgetExceeded.Code,
			fmt.Sprintf("budget exceeded: $%.3f / $%.2f", cost, tracker.BudgetUSD()))
	case domain.CostWarn:
		o.bus.BudgetWarning(ec.ExecutionID, pct, tracker.Remaining())
	}
	return nil
}

// generate calls the provider with exponential backoff. All provider
// errors are retryable; a cancelled context aborts immediately. Exactly
// MaxAttempts calls are made before giving up.
func (o *Orchestrator) generate(ctx context.Context, ex *execution, req llm.GenerationRequest) (*llm.GenerationResponse, error) {
	ec := ex.ec
	var lastErr error
	for attempt := 0; attempt < o.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := o.cfg.BackoffBase * (1 << (attempt - 1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := o.gen.Generate(ctx, req)
		if err == nil {
			o.recordUsage(ex, req, resp)
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		o.bus.Log(ec.ExecutionID, "provider", "warning",
			fmt.Sprintf("Generation attempt %d/%d failed: %v", attempt+1, o.cfg.MaxAttempts, err))
	}
	return nil, domain.WrapEngineError(domain.ErrProviderExhausted.Code,
		fmt.Sprintf("provider failed after %d attempts", o.cfg.MaxAttempts), lastErr)
}

// recordUsage charges the ledger and mirrors the delta to metrics and
// the archive.
func (o *Orchestrator) recordUsage(ex *execution, req llm.GenerationRequest, resp *llm.GenerationResponse) {
	ec := ex.ec
	// The allowed flag is ignored here; the budget policy is applied at
	// phase boundaries via checkBudget.
	_, message, err := o.ledger.RecordUsage(ec.ExecutionID, mainTask, resp.InputTokens, resp.OutputTokens)
	if err != nil {
		log.Printf("orchestrator: record usage %s: %v", ec.ExecutionID, err)
		return
	}

	cost := workflow.UsageCost(req.Model, resp.InputTokens, resp.OutputTokens)
	ex.addUsage(resp.InputTokens+resp.OutputTokens, cost)

	if message != "" {
		o.bus.Log(ec.ExecutionID, "budget", "warning", message)
	}

	if o.archive != nil {
		delta := domain.CostDelta{
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
			AmountUSD:    cost,
			Model:        req.Model,
			Phase:        ec.phase,
			CreatedAt:    time.Now().Unix(),
		}
		if err := o.archive.RecordCostDelta(context.Background(), ec.ExecutionID, delta); err != nil {
			log.Printf("orchestrator: archive cost delta %s: %v", ec.ExecutionID, err)
		}
	}
}

func artifactType(path string) string {
	if strings.HasSuffix(path, "architecture.md") {
		return "architecture_doc"
	}
	if strings.HasSuffix(path, ".go") {
		return "code"
	}
	return "document"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func demoPlan(req domain.ExecutionRequest) string {
	var b strings.Builder
	b.WriteString("# Project plan\n\n")
	b.WriteString("Template: " + req.TemplateID + "\n\n")
	b.WriteString("## Goal\n\n" + req.Description + "\n")
	if req.CustomRequirements != "" {
		b.WriteString("\n## Additional requirements\n\n" + req.CustomRequirements + "\n")
	}
	b.WriteString("\n## Phases\n\n1. Architecture\n2. Development\n3. Testing\n4. Deployment\n")
	return b.String()
}

func demoComponent(req domain.ExecutionRequest, component string) string {
	return fmt.Sprintf("package %s\n\n// Generated scaffold for the %s component of %q.\n",
		component, component, req.TemplateID)
}

func deployManifest(ec *ExecutionContext) string {
	manifest := map[string]interface{}{
		"execution_id": ec.ExecutionID,
		"template_id":  ec.Request.TemplateID,
		"artifacts":    ec.artifactPaths(),
	}
	b, _ := json.MarshalIndent(manifest, "", "  ")
	return string(b)
}
