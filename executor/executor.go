// Package executor applies a plan wave by wave. Waves are strict
// barriers: no action starts before every action in the previous wave
// reached a terminal outcome. Within a wave a bounded worker pool runs
// actions concurrently; workers hand their ApplyRecords back over a
// channel and the run loop alone touches the journal and the state
// store, so every outcome is persisted serially the moment it lands.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/varunnarsana/stratus/plan"
	"github.com/varunnarsana/stratus/providers"
	"github.com/varunnarsana/stratus/state"
	"github.com/varunnarsana/stratus/telemetry"
	"github.com/varunnarsana/stratus/types"
	"github.com/varunnarsana/stratus/wal"
)

// reasonCancelled marks actions that never started because the run was
// cancelled.
const reasonCancelled = "cancelled"

// stateWriteAttempts bounds compare-and-swap retries per record. The
// run loop is the only writer while the workspace lock is held, so more
// than one conflict in a row means something else is mutating state.
const stateWriteAttempts = 5

// Executor applies planned actions against one provider and records
// every outcome in the state store and the apply journal.
type Executor struct {
	provider providers.CloudProvider
	store    state.Store
	journal  *wal.WAL
	metrics  *telemetry.EngineMetrics
	logger   *telemetry.Logger
	options  Options
}

// New creates an executor. The journal may be nil in tests; the store
// may not.
func New(provider providers.CloudProvider, store state.Store, journal *wal.WAL, options Options) *Executor {
	options.normalize()
	return &Executor{
		provider: provider,
		store:    store,
		journal:  journal,
		logger:   telemetry.NewLogger("executor"),
		options:  options,
	}
}

// WithMetrics attaches engine metrics. All recording is nil-safe, so
// callers that skip this lose nothing but the numbers.
func (e *Executor) WithMetrics(m *telemetry.EngineMetrics) *Executor {
	e.metrics = m
	return e
}

// Apply executes every executable action in the plan and returns one
// ApplyRecord per action, none unaccounted for. Cancellation via ctx
// lets in-flight actions finish, starts nothing new, and records the
// rest as skipped. A non-nil error alongside a result means the run
// itself completed but persisting some outcome failed.
func (e *Executor) Apply(ctx context.Context, p *plan.Plan) (*types.RunResult, error) {
	startedAt := time.Now()
	waves := p.ExecutionWaves()
	creates, updates, deletes, noops := p.Counts()
	executable := creates + updates + deletes

	e.logger.LogRunStart(ctx, p.Workspace, executable, len(waves))

	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("read state before apply: %w", err)
	}
	version := snap.Version
	managed := len(snap.Resources)

	if err := e.appendJournal(wal.EntryRunStarted, "", runStarted{
		Workspace: p.Workspace,
		Actions:   executable,
		Waves:     len(waves),
	}); err != nil {
		return nil, fmt.Errorf("journal run start: %w", err)
	}

	// Outcomes of in-flight actions are persisted even after the run
	// context is cancelled: the provider call finished for real.
	persistCtx := context.WithoutCancel(ctx)
	sem := make(chan struct{}, e.options.Concurrency)
	skipped := make(map[string]string)
	records := make([]types.ApplyRecord, 0, executable)
	var persistErr error

	for _, wave := range waves {
		if ctx.Err() != nil {
			// Cancelled between waves: nothing further starts.
			for _, action := range wave {
				res := applyResult{action: action, record: skipRecord(action, reasonCancelled)}
				e.finishAction(persistCtx, p, res, &version, &managed, &persistErr)
				records = append(records, res.record)
			}
			continue
		}

		results := make(chan applyResult, len(wave))
		dispatched := 0
		for _, action := range wave {
			if reason, ok := skipped[action.ResourceID]; ok {
				res := applyResult{action: action, record: skipRecord(action, reason)}
				e.finishAction(persistCtx, p, res, &version, &managed, &persistErr)
				records = append(records, res.record)
				continue
			}
			go e.runAction(ctx, sem, p, action, results)
			dispatched++
		}

		// The wave barrier: consume every dispatched outcome before
		// looking at the next wave.
		for i := 0; i < dispatched; i++ {
			res := <-results
			e.finishAction(persistCtx, p, res, &version, &managed, &persistErr)
			records = append(records, res.record)
			if res.record.Outcome == types.OutcomeFailed {
				e.markSkipped(p, res.action, skipped)
			}
		}
	}

	finishedAt := time.Now()
	result := types.BuildRunResult(p.Workspace, startedAt, finishedAt, records, noops)

	if err := e.appendJournal(wal.EntryRunCompleted, "", result); err != nil {
		e.logger.WithContext(persistCtx).Warn().Err(err).Msg("journal run completion failed")
	}
	e.metrics.RecordApplyDuration(persistCtx, string(result.Status), finishedAt.Sub(startedAt).Seconds())
	e.logger.LogRunComplete(persistCtx, &result)

	if persistErr != nil {
		return &result, fmt.Errorf("apply completed but persisting outcomes failed: %w", persistErr)
	}
	return &result, nil
}

// runAction is the worker body: one action, retried per policy, one
// applyResult sent back no matter what.
func (e *Executor) runAction(ctx context.Context, sem chan struct{}, p *plan.Plan, action types.ChangeAction, results chan<- applyResult) {
	sem <- struct{}{}
	defer func() { <-sem }()

	// Cancelled while queued behind the pool: never started.
	if ctx.Err() != nil {
		results <- applyResult{action: action, record: skipRecord(action, reasonCancelled)}
		return
	}

	record := types.ApplyRecord{
		ResourceID: action.ResourceID,
		Verb:       action.Verb,
		StartedAt:  time.Now(),
	}
	if err := e.appendJournal(wal.EntryActionStarted, action.ResourceID, action); err != nil {
		e.logger.WithContext(ctx).Warn().
			Err(err).
			Str("resource_id", action.ResourceID).
			Msg("journal action start failed")
	}

	observed, attempts, err := e.attempt(ctx, p, action)
	record.Attempts = attempts
	record.FinishedAt = time.Now()
	if err != nil {
		record.Outcome = types.OutcomeFailed
		record.Error = err.Error()
	} else {
		record.Outcome = types.OutcomeSucceeded
	}

	results <- applyResult{action: action, record: record, observed: observed}
}

// finishAction journals, measures, and persists one terminal outcome.
// Runs only on the run loop goroutine; state writes stay serial.
func (e *Executor) finishAction(ctx context.Context, p *plan.Plan, res applyResult, version *int64, managed *int, persistErr *error) {
	if err := e.appendJournal(wal.EntryActionCompleted, res.record.ResourceID, res.record); err != nil {
		e.logger.WithContext(ctx).Warn().
			Err(err).
			Str("resource_id", res.record.ResourceID).
			Msg("journal action completion failed")
	}

	duration := res.record.FinishedAt.Sub(res.record.StartedAt).Seconds()
	e.metrics.RecordAction(ctx, string(res.record.Verb), string(res.record.Outcome), duration)
	e.logger.LogActionOutcome(ctx, res.record)

	if res.record.Outcome != types.OutcomeSucceeded {
		return
	}
	if err := e.persistState(ctx, p, res, version, managed); err != nil {
		e.logger.WithContext(ctx).Error().
			Err(err).
			Str("resource_id", res.record.ResourceID).
			Msg("state write failed for completed action")
		if *persistErr == nil {
			*persistErr = fmt.Errorf("%s %s: %w", res.record.Verb, res.record.ResourceID, err)
		}
	}
}

// persistState commits one succeeded action to the state store.
func (e *Executor) persistState(ctx context.Context, p *plan.Plan, res applyResult, version *int64, managed *int) error {
	switch res.action.Verb {
	case types.VerbCreate, types.VerbUpdate:
		spec, ok := p.Spec(res.action.ResourceID)
		if !ok {
			return fmt.Errorf("plan has no spec for %s", res.action.ResourceID)
		}
		if res.observed == nil {
			return fmt.Errorf("provider returned no observed state for %s", res.action.ResourceID)
		}
		entry := types.StateEntry{
			ObservedState: *res.observed,
			Kind:          spec.Kind,
			DependsOn:     spec.DependsOn,
		}
		if err := e.writeState(ctx, version, managed, func(v int64) (int64, error) {
			return e.store.PutEntry(ctx, v, entry)
		}); err != nil {
			return err
		}
		if res.action.Verb == types.VerbCreate {
			*managed++
		}
		return nil

	case types.VerbDelete:
		if err := e.writeState(ctx, version, managed, func(v int64) (int64, error) {
			return e.store.RemoveEntry(ctx, v, res.action.ResourceID)
		}); err != nil {
			return err
		}
		*managed--
		return nil
	}
	return nil
}

// writeState performs one compare-and-swap write, refreshing the
// expected version from the conflict and retrying when another writer
// got in between.
func (e *Executor) writeState(ctx context.Context, version *int64, managed *int, write func(int64) (int64, error)) error {
	for attempt := 0; attempt < stateWriteAttempts; attempt++ {
		next, err := write(*version)
		if err == nil {
			*version = next
			e.metrics.RecordStateWrite(ctx, next, *managed, false)
			return nil
		}

		var conflict *state.VersionConflictError
		if errors.As(err, &conflict) {
			e.logger.LogVersionConflict(ctx, conflict.Expected, conflict.Actual)
			e.metrics.RecordStateWrite(ctx, 0, 0, true)
			*version = conflict.Actual
			continue
		}
		return err
	}
	return fmt.Errorf("state write: %d compare-and-swap attempts exhausted", stateWriteAttempts)
}

// markSkipped records the failure's cascade so later waves skip every
// action that depended on it.
func (e *Executor) markSkipped(p *plan.Plan, failed types.ChangeAction, skipped map[string]string) {
	reason := fmt.Sprintf("dependency %s failed", failed.ResourceID)
	if failed.Verb == types.VerbDelete {
		reason = fmt.Sprintf("delete of dependent %s failed", failed.ResourceID)
	}
	for _, id := range p.Cascade(failed) {
		if _, ok := skipped[id]; !ok {
			skipped[id] = reason
		}
	}
}

func (e *Executor) appendJournal(entryType wal.EntryType, resourceID string, data interface{}) error {
	if e.journal == nil {
		return nil
	}
	return e.journal.Append(entryType, resourceID, data)
}

func skipRecord(action types.ChangeAction, reason string) types.ApplyRecord {
	now := time.Now()
	return types.ApplyRecord{
		ResourceID: action.ResourceID,
		Verb:       action.Verb,
		StartedAt:  now,
		FinishedAt: now,
		Outcome:    types.OutcomeSkipped,
		Error:      reason,
	}
}
