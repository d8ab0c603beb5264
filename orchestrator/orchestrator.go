// Package orchestrator ties the pipeline together for the CLI and the
// daemon: manifest specs in, graph → observe → plan → policy gate →
// locked apply → state out. Each stage stays independently usable; this
// package only sequences them.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/varunnarsana/stratus/cost"
	"github.com/varunnarsana/stratus/drift"
	"github.com/varunnarsana/stratus/executor"
	"github.com/varunnarsana/stratus/graph"
	"github.com/varunnarsana/stratus/plan"
	"github.com/varunnarsana/stratus/policy"
	"github.com/varunnarsana/stratus/providers"
	"github.com/varunnarsana/stratus/state"
	"github.com/varunnarsana/stratus/telemetry"
	"github.com/varunnarsana/stratus/types"
	"github.com/varunnarsana/stratus/wal"
)

// Engine coordinates one workspace's provisioning pipeline.
type Engine struct {
	provider  providers.CloudProvider
	store     state.Store
	journal   *wal.WAL
	gate      *policy.Engine
	estimator cost.Estimator
	metrics   *telemetry.EngineMetrics
	logger    *telemetry.Logger
	tracer    trace.Tracer
	options   executor.Options
	holder    string
}

// New creates an engine over a provider and a state store.
func New(provider providers.CloudProvider, store state.Store) *Engine {
	return &Engine{
		provider: provider,
		store:    store,
		logger:   telemetry.NewLogger("orchestrator"),
		tracer:   otel.Tracer("orchestrator"),
		options:  executor.DefaultOptions(),
		holder:   defaultHolder(),
	}
}

// WithJournal records runs and drift findings in the apply journal.
func (e *Engine) WithJournal(journal *wal.WAL) *Engine {
	e.journal = journal
	return e
}

// WithGate evaluates plans through the policy gate before execution.
func (e *Engine) WithGate(gate *policy.Engine) *Engine {
	e.gate = gate
	return e
}

// WithEstimator annotates plans with monthly cost.
func (e *Engine) WithEstimator(estimator cost.Estimator) *Engine {
	e.estimator = estimator
	return e
}

// WithMetrics attaches engine metrics.
func (e *Engine) WithMetrics(m *telemetry.EngineMetrics) *Engine {
	e.metrics = m
	return e
}

// WithOptions sets the executor's concurrency and retry knobs.
func (e *Engine) WithOptions(options executor.Options) *Engine {
	e.options = options
	return e
}

// WithHolder names this process in state locks.
func (e *Engine) WithHolder(holder string) *Engine {
	e.holder = holder
	return e
}

// Plan computes the change-set for the declared specs, annotated with
// cost and policy verdicts. Read-only: describes remote state but
// mutates nothing.
func (e *Engine) Plan(ctx context.Context, workspace string, specs []types.ResourceSpec) (*PlanResult, error) {
	ctx, span := e.tracer.Start(ctx, "orchestrator.plan")
	defer span.End()

	g, err := graph.Build(specs)
	if err != nil {
		return nil, &ValidationError{Err: err}
	}

	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	observed, err := e.observe(ctx, g, snap)
	if err != nil {
		return nil, err
	}

	p, err := plan.Compute(workspace, g, observed, snap)
	if err != nil {
		return nil, &ValidationError{Err: err}
	}
	e.metrics.RecordPlan(ctx, workspace)

	result := &PlanResult{
		Plan:         p,
		StateVersion: snap.Version,
		Observed:     observed,
	}

	if e.estimator != nil {
		result.Cost, err = cost.AnnotatePlan(ctx, e.estimator, p)
		if err != nil {
			return nil, fmt.Errorf("annotate plan cost: %w", err)
		}
	}

	if e.gate != nil && !e.gate.Empty() {
		result.Gate, err = e.gate.EvaluatePlan(ctx, p, observed)
		if err != nil {
			return nil, fmt.Errorf("policy gate: %w", err)
		}
	}

	creates, updates, deletes, noops := p.Counts()
	e.logger.WithContext(ctx).Info().
		Str("workspace", workspace).
		Int("creates", creates).
		Int("updates", updates).
		Int("deletes", deletes).
		Int("noops", noops).
		Int64("state_version", snap.Version).
		Str("operation", "plan").
		Msg("plan computed")
	return result, nil
}

// observe describes every declared resource and every resource the
// snapshot still tracks, in id order so planning stays deterministic.
func (e *Engine) observe(ctx context.Context, g *graph.Graph, snap *types.StateSnapshot) (map[string]*types.ObservedState, error) {
	refs := make(map[string]types.ResourceRef, g.Len()+len(snap.Resources))
	for _, spec := range g.Specs() {
		refs[spec.ID] = spec.Ref()
	}
	for id, entry := range snap.Resources {
		if _, declared := refs[id]; !declared {
			refs[id] = types.ResourceRef{ID: id, Kind: entry.Kind}
		}
	}

	ids := make([]string, 0, len(refs))
	for id := range refs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	observed := make(map[string]*types.ObservedState, len(ids))
	for _, id := range ids {
		live, err := e.provider.Describe(ctx, refs[id])
		if err != nil {
			return nil, fmt.Errorf("describe %s: %w", id, err)
		}
		observed[id] = live
	}
	return observed, nil
}

// Apply plans and executes. The plan is offered to approve before
// anything runs; the state lock is held for the duration of execution
// and released even when the run context is already cancelled.
func (e *Engine) Apply(ctx context.Context, workspace string, specs []types.ResourceSpec, approve ApprovalFunc) (*types.RunResult, error) {
	ctx, span := e.tracer.Start(ctx, "orchestrator.apply")
	defer span.End()

	result, err := e.Plan(ctx, workspace, specs)
	if err != nil {
		return nil, err
	}

	if result.Gate != nil {
		if denied := result.Gate.Denied(); len(denied) > 0 {
			return nil, &PolicyDeniedError{Denied: denied}
		}
		if need := result.Gate.NeedingApproval(); len(need) > 0 && approve == nil {
			return nil, fmt.Errorf("%d action(s) require approval and no reviewer is configured: %w",
				len(need), ErrNotApproved)
		}
	}

	if !result.Plan.HasChanges() {
		e.logger.WithContext(ctx).Info().
			Str("workspace", workspace).
			Msg("no changes, infrastructure is up to date")
		_, _, _, noops := result.Plan.Counts()
		now := time.Now()
		run := types.BuildRunResult(workspace, now, now, nil, noops)
		return &run, nil
	}

	if approve != nil {
		ok, err := approve(ctx, result)
		if err != nil {
			return nil, fmt.Errorf("plan review: %w", err)
		}
		if !ok {
			return nil, ErrNotApproved
		}
	}

	lock, err := e.store.AcquireLock(ctx, e.holder, "apply")
	if err != nil {
		return nil, err
	}
	defer func() {
		// Release must survive run cancellation or the workspace stays
		// locked until someone force-unlocks it.
		releaseCtx := context.WithoutCancel(ctx)
		if err := e.store.ReleaseLock(releaseCtx, lock.Token); err != nil {
			e.logger.WithContext(ctx).Error().Err(err).
				Str("token", lock.Token).
				Msg("release state lock failed")
		}
	}()

	exec := executor.New(e.provider, e.store, e.journal, e.options).WithMetrics(e.metrics)
	run, err := exec.Apply(ctx, result.Plan)
	if run != nil {
		for _, rec := range run.Records {
			telemetry.RecordActionEvent(span, rec)
		}
	}
	return run, err
}

// Destroy plans and executes the removal of everything the state
// tracks. It is Apply with an empty declaration.
func (e *Engine) Destroy(ctx context.Context, workspace string, approve ApprovalFunc) (*types.RunResult, error) {
	return e.Apply(ctx, workspace, nil, approve)
}

// DriftCheck runs one drift detection pass over the declared specs.
func (e *Engine) DriftCheck(ctx context.Context, workspace string, specs []types.ResourceSpec) (*drift.Report, error) {
	g, err := graph.Build(specs)
	if err != nil {
		return nil, &ValidationError{Err: err}
	}

	detector := drift.NewDetector(e.store, e.provider).WithMetrics(e.metrics)
	if e.journal != nil {
		detector = detector.WithJournal(e.journal)
	}
	return detector.Detect(ctx, workspace, g)
}

func defaultHolder() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "stratus"
	}
	return hostname
}
