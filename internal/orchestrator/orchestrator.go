// Package orchestrator drives whole pipeline runs: it sequences stages in
// order, threads each stage's winning artifact and prompt into the inputs
// the next stage declared, and owns run state from creation to assembly.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/config"
	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/pipeline"
	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/prompt"
	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/stage"
)

// StageRunner executes one stage. Satisfied by *stage.Controller.
type StageRunner interface {
	Run(ctx context.Context, runID string, spec config.Stage, inputs stage.Inputs) (*pipeline.StageResult, error)
}

// FinalAssembler joins stage winners into the final artifact and scores it.
// Satisfied by *assemble.Assembler.
type FinalAssembler interface {
	Assemble(ctx context.Context, runID string, seedPrompt string, refs []string) (string, float64, error)
}

// EventLog is the append-only audit sink. Satisfied by *db.DB.
type EventLog interface {
	LogPipelineEvent(runID, event, stage, detail string) error
}

// Orchestrator composes run lifecycle operations.
type Orchestrator struct {
	store      *pipeline.Store
	events     EventLog
	controller StageRunner
	assembler  FinalAssembler
	cfg        *config.PipelineConfig
	logger     *slog.Logger
}

// New creates an Orchestrator.
func New(
	store *pipeline.Store,
	events EventLog,
	controller StageRunner,
	assembler FinalAssembler,
	cfg *config.PipelineConfig,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:      store,
		events:     events,
		controller: controller,
		assembler:  assembler,
		cfg:        cfg,
		logger:     logger,
	}
}

// Create initialises a new run from a raw user prompt.
func (o *Orchestrator) Create(seedPrompt string) (*pipeline.Run, error) {
	if seedPrompt == "" {
		return nil, fmt.Errorf("seed prompt is required")
	}

	order := make([]string, len(o.cfg.Pipeline.Stages))
	for i, s := range o.cfg.Pipeline.Stages {
		order[i] = s.Kind
	}

	runID := uuid.New().String()
	run, err := o.store.Create(runID, seedPrompt, order)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	_ = o.events.LogPipelineEvent(runID, "created", "", "")
	return run, nil
}

// Run executes a run from its current position to a terminal status. Safe to
// re-invoke after a crash: stages with a persisted terminal result are
// reused, not regenerated. The returned run reflects the terminal state; a
// *RunError is returned alongside it for hard failures.
func (o *Orchestrator) Run(ctx context.Context, runID string) (*pipeline.Run, error) {
	run, err := o.store.Get(runID)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if run.Terminal() {
		return run, nil
	}

	if err := o.store.Update(runID, func(r *pipeline.Run) {
		r.Status = pipeline.StatusRunning
	}); err != nil {
		return run, o.failPersist(runID, "", err)
	}
	_ = o.events.LogPipelineEvent(runID, "started", "", "")

	for _, spec := range o.cfg.Pipeline.Stages {
		// Cancellation is cooperative: checked at each stage entry. An
		// in-flight batch always drains before this point is reached.
		run, err = o.store.Get(runID)
		if err != nil {
			return nil, o.failPersist(runID, spec.Kind, err)
		}
		if run.CancelRequested {
			return o.cancelNow(runID, spec.Kind)
		}

		if o.store.HasStageResult(runID, spec.Kind) {
			o.logger.Info("Stage already complete, skipping", "run", runID, "stage", spec.Kind)
			continue
		}

		inputs, derr := o.resolveInputs(runID, run, spec)
		if derr != nil {
			return o.fail(runID, spec.Kind, CodeDependencyMissing, derr)
		}

		if err := o.store.Update(runID, func(r *pipeline.Run) {
			r.CurrentStage = spec.Kind
		}); err != nil {
			return o.fail(runID, spec.Kind, CodePersistence, err)
		}

		start := time.Now()
		result, err := o.controller.Run(ctx, runID, spec, inputs)
		if err != nil {
			code := CodePersistence
			if errors.Is(err, stage.ErrStageDefinition) {
				code = CodeConfiguration
			}
			return o.fail(runID, spec.Kind, code, err)
		}

		entry := pipeline.StageHistoryEntry{
			Stage:      spec.Kind,
			Status:     result.Status,
			Candidates: len(result.Candidates),
			Duration:   time.Since(start).Round(time.Millisecond).String(),
			Retried:    result.Retried,
		}
		if w := result.WinningCandidate(); w != nil {
			entry.Winner = w.ID
			entry.Composite = w.Composite
		}
		if err := o.store.Update(runID, func(r *pipeline.Run) {
			r.StageHistory = append(r.StageHistory, entry)
		}); err != nil {
			return o.fail(runID, spec.Kind, CodePersistence, err)
		}

		switch result.Status {
		case pipeline.StageFailed:
			return o.fail(runID, spec.Kind, CodeBatchExhausted,
				fmt.Errorf("%s", result.FailureReason))
		case pipeline.StageBelowThreshold:
			o.logger.Warn("Stage winner below quality gate, proceeding",
				"run", runID, "stage", spec.Kind, "composite", entry.Composite)
		}
	}

	return o.assemble(ctx, runID)
}

// Cancel requests cancellation. The flag is honored at the next stage-entry
// checkpoint; an already-dispatched batch drains to completion first.
func (o *Orchestrator) Cancel(runID string) error {
	run, err := o.store.Get(runID)
	if err != nil {
		return fmt.Errorf("get run: %w", err)
	}
	if run.Terminal() {
		return fmt.Errorf("run %s is already %s", runID, run.Status)
	}
	if err := o.store.Update(runID, func(r *pipeline.Run) {
		r.CancelRequested = true
	}); err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	_ = o.events.LogPipelineEvent(runID, "cancel_requested", run.CurrentStage, "")
	return nil
}

// resolveInputs materialises the stage's declared needs from earlier
// winners. A missing dependency is a configuration error: the stage fails
// fast and is never retried.
func (o *Orchestrator) resolveInputs(runID string, run *pipeline.Run, spec config.Stage) (stage.Inputs, error) {
	inputs := stage.Inputs{
		SeedVars: prompt.Vars{"seed_prompt": run.SeedPrompt},
	}

	for _, need := range spec.Needs {
		depStage, field, err := config.ParseNeed(need)
		if err != nil {
			return stage.Inputs{}, err
		}

		dep, err := o.store.GetStageResult(runID, depStage)
		if err != nil {
			return stage.Inputs{}, fmt.Errorf("stage %s declares %q but stage %s has no result", spec.Kind, need, depStage)
		}
		winner := dep.WinningCandidate()
		if winner == nil {
			return stage.Inputs{}, fmt.Errorf("stage %s declares %q but stage %s has no winner", spec.Kind, need, depStage)
		}

		switch field {
		case "artifact":
			if winner.ArtifactRef == "" {
				return stage.Inputs{}, fmt.Errorf("stage %s declares %q but the winner has no artifact ref", spec.Kind, need)
			}
			inputs.Reference = winner.ArtifactRef
		case "prompt":
			inputs.SeedVars["previous_prompt"] = dep.FinalPrompt
			inputs.EnhancerContext = dep.FinalPrompt
		}
	}
	return inputs, nil
}

// assemble concatenates stage winners and finishes the run.
func (o *Orchestrator) assemble(ctx context.Context, runID string) (*pipeline.Run, error) {
	run, err := o.store.Get(runID)
	if err != nil {
		return nil, o.failPersist(runID, "", err)
	}

	results, err := o.store.StageResults(runID)
	if err != nil {
		return o.fail(runID, "", CodePersistence, err)
	}

	// Winners of video stages make up the final cut; a pipeline with no
	// video stage deliverables falls back to every winner in order.
	videoStage := make(map[string]bool)
	for _, s := range o.cfg.Pipeline.Stages {
		if s.Artifact == "video" {
			videoStage[s.Kind] = true
		}
	}
	var refs, allRefs []string
	belowGate := false
	for i := range results {
		if results[i].Status == pipeline.StageBelowThreshold {
			belowGate = true
		}
		w := results[i].WinningCandidate()
		if w == nil || w.ArtifactRef == "" {
			continue
		}
		allRefs = append(allRefs, w.ArtifactRef)
		if videoStage[results[i].Stage] {
			refs = append(refs, w.ArtifactRef)
		}
	}
	if len(refs) == 0 {
		refs = allRefs
	}

	finalRef, composite, err := o.assembler.Assemble(ctx, runID, run.SeedPrompt, refs)
	if err != nil {
		return o.fail(runID, "", CodeAssembly, err)
	}

	status := pipeline.StatusCompleted
	if belowGate {
		status = pipeline.StatusPartiallyFailed
	}
	if err := o.store.Update(runID, func(r *pipeline.Run) {
		r.Status = status
		r.CurrentStage = ""
		r.FinalArtifact = finalRef
		r.FinalScore = composite
	}); err != nil {
		return o.fail(runID, "", CodePersistence, err)
	}
	_ = o.events.LogPipelineEvent(runID, "completed", "", fmt.Sprintf("composite=%.3f", composite))

	o.logger.Info("Run finished", "run", runID, "status", status, "artifact", finalRef)
	return o.store.Get(runID)
}

// fail marks the run failed and returns the structured error. Partial
// results already persisted stay queryable for diagnostics.
func (o *Orchestrator) fail(runID, stageKind string, code FailureCode, cause error) (*pipeline.Run, error) {
	rerr := &RunError{RunID: runID, Stage: stageKind, Code: code, Err: cause}
	o.logger.Error("Run failed", "run", runID, "stage", stageKind, "code", code, "error", cause)

	_ = o.store.Update(runID, func(r *pipeline.Run) {
		r.Status = pipeline.StatusFailed
		r.FailureStage = stageKind
		r.FailureReason = fmt.Sprintf("%s: %v", code, cause)
	})
	_ = o.events.LogPipelineEvent(runID, "failed", stageKind, string(code))

	run, err := o.store.Get(runID)
	if err != nil {
		return nil, rerr
	}
	return run, rerr
}

func (o *Orchestrator) failPersist(runID, stageKind string, cause error) error {
	_, err := o.fail(runID, stageKind, CodePersistence, cause)
	return err
}

func (o *Orchestrator) cancelNow(runID, stageKind string) (*pipeline.Run, error) {
	if err := o.store.Update(runID, func(r *pipeline.Run) {
		r.Status = pipeline.StatusCancelled
	}); err != nil {
		return o.fail(runID, stageKind, CodePersistence, err)
	}
	_ = o.events.LogPipelineEvent(runID, "cancelled", stageKind, "")
	o.logger.Info("Run cancelled", "run", runID, "at_stage", stageKind)
	return o.store.Get(runID)
}

// Status returns the current run record plus its persisted stage results.
func (o *Orchestrator) Status(runID string) (*pipeline.Run, []pipeline.StageResult, error) {
	run, err := o.store.Get(runID)
	if err != nil {
		return nil, nil, fmt.Errorf("get run: %w", err)
	}
	results, err := o.store.StageResults(runID)
	if err != nil {
		return nil, nil, fmt.Errorf("load stage results: %w", err)
	}
	return run, results, nil
}

// NewRunID returns a fresh run identifier. Exposed for tests and tooling
// that create runs without the orchestrator.
func NewRunID() string {
	return uuid.New().String()
}
