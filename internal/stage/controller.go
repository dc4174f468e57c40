// Package stage sequences one pipeline stage: derive the seed prompt,
// enhance it, run the candidate batch, and persist the stage result. The
// controller is the unit of retry for batch exhaustion and below-gate
// results.
package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/batch"
	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/config"
	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/enhance"
	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/gen"
	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/pipeline"
	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/prompt"
)

// ErrStageDefinition marks failures caused by the stage's own definition
// rather than the backends: an unknown template, an unrenderable seed
// prompt, or batch options the runner rejects. Never retried.
var ErrStageDefinition = errors.New("invalid stage definition")

// EventLog is the append-only audit sink the controller writes to.
type EventLog interface {
	LogPipelineEvent(runID, event, stage, detail string) error
	LogGenerationAttempt(runID, stage string, attempt int, candidateID, status string, composite float64, failure string) error
}

// BatchRunner runs one candidate batch. Satisfied by *batch.Runner.
type BatchRunner interface {
	Run(ctx context.Context, opts batch.Opts) (*batch.Outcome, error)
}

// PromptEnhancer refines a seed prompt. Satisfied by *enhance.Enhancer.
type PromptEnhancer interface {
	Enhance(ctx context.Context, seedPrompt string, opts enhance.Options) *enhance.Result
}

// Controller executes single stages.
type Controller struct {
	enhancer PromptEnhancer
	runner   BatchRunner
	store    *pipeline.Store
	events   EventLog
	enhCfg   config.Enhancement

	// retryBelowGate re-runs the batch once when the winner misses the gate.
	retryBelowGate bool

	// templateDir overrides builtin templates when set.
	templateDir string

	logger *slog.Logger
}

// NewController creates a stage controller.
func NewController(
	enhancer PromptEnhancer,
	runner BatchRunner,
	store *pipeline.Store,
	events EventLog,
	cfg *config.PipelineConfig,
	templateDir string,
	logger *slog.Logger,
) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		enhancer:       enhancer,
		runner:         runner,
		store:          store,
		events:         events,
		enhCfg:         cfg.Pipeline.Enhancement,
		retryBelowGate: cfg.Pipeline.ShouldRetryBelowGate(),
		templateDir:    templateDir,
		logger:         logger,
	}
}

// Inputs are the resolved dependencies a stage consumes from earlier
// winners, assembled by the orchestrator.
type Inputs struct {
	// SeedVars feed the stage's seed prompt template. Always includes
	// seed_prompt; previous_prompt is set when the stage declared a
	// "<stage>.prompt" need.
	SeedVars prompt.Vars

	// Reference is the artifact handle passed to the generation backend
	// when the stage declared a "<stage>.artifact" need.
	Reference string

	// EnhancerContext is free-text guidance for the critic/writer roles.
	EnhancerContext string
}

// Run executes the stage described by spec for the given run. If a terminal
// result for (run, stage) is already persisted it is returned unchanged and
// nothing is regenerated.
//
// A returned error means the stage could not produce a persisted result
// (infrastructure failure); a generation-level hard failure is reported as a
// persisted StageResult with status failed and a nil error.
func (c *Controller) Run(ctx context.Context, runID string, spec config.Stage, inputs Inputs) (*pipeline.StageResult, error) {
	// Idempotency: (run_id, stage kind) keys the invocation.
	if cached, err := c.store.GetStageResult(runID, spec.Kind); err == nil && cached.Terminal() {
		c.logger.Info("Reusing cached stage result", "run", runID, "stage", spec.Kind, "status", cached.Status)
		return cached, nil
	}

	if d := stageTimeout(spec); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	start := time.Now()
	_ = c.events.LogPipelineEvent(runID, "stage_started", spec.Kind, "")

	seed, err := c.renderSeed(spec, inputs, false)
	if err != nil {
		return nil, fmt.Errorf("%w: derive seed prompt: %v", ErrStageDefinition, err)
	}

	result := &pipeline.StageResult{
		RunID:      runID,
		Stage:      spec.Kind,
		SeedPrompt: seed,
		Winner:     -1,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}

	enhanced := c.enhance(ctx, seed, inputs)
	result.FinalPrompt = enhanced.FinalPrompt
	result.EnhancementTrace = enhanced.Trace

	outcome, err := c.runBatch(ctx, runID, spec, inputs, enhanced.FinalPrompt, 0)
	if err != nil && !errors.Is(err, batch.ErrNoViableCandidate) {
		if errors.Is(err, batch.ErrInvalidOpts) {
			return nil, fmt.Errorf("%w: %v", ErrStageDefinition, err)
		}
		return nil, fmt.Errorf("run batch: %w", err)
	}
	result.Candidates = outcome.Candidates

	exhausted := errors.Is(err, batch.ErrNoViableCandidate)
	belowGate := !exhausted && outcome.BelowGate

	// One bounded retry: a diversified prompt after exhaustion, a
	// regenerated prompt after a below-gate winner (when policy allows).
	if exhausted || (belowGate && c.retryBelowGate) {
		reason := "below_gate"
		if exhausted {
			reason = "exhausted"
		}
		_ = c.events.LogPipelineEvent(runID, "stage_retry", spec.Kind, reason)
		c.logger.Info("Retrying stage batch", "run", runID, "stage", spec.Kind, "reason", reason)

		retrySeed, rerr := c.renderSeed(spec, inputs, true)
		if rerr != nil {
			return nil, fmt.Errorf("%w: derive diversified seed prompt: %v", ErrStageDefinition, rerr)
		}
		reEnhanced := c.enhance(ctx, retrySeed, inputs)

		retryOutcome, rerr := c.runBatch(ctx, runID, spec, inputs, reEnhanced.FinalPrompt, len(outcome.Candidates))
		if rerr != nil && !errors.Is(rerr, batch.ErrNoViableCandidate) {
			if errors.Is(rerr, batch.ErrInvalidOpts) {
				return nil, fmt.Errorf("%w: %v", ErrStageDefinition, rerr)
			}
			return nil, fmt.Errorf("run retry batch: %w", rerr)
		}
		result.Retried = true
		result.Candidates = append(result.Candidates, retryOutcome.Candidates...)

		// Adopt the retry prompt and trace when the retry produced the
		// candidate that will win.
		if retryOutcome.Winner >= 0 {
			first := outcome.Winner >= 0
			if !first || retryOutcome.Candidates[retryOutcome.Winner].Composite > outcome.Candidates[outcome.Winner].Composite {
				result.FinalPrompt = reEnhanced.FinalPrompt
				result.EnhancementTrace = reEnhanced.Trace
			}
		}
	}

	c.finalize(result, spec)
	result.Duration = time.Since(start).Round(time.Millisecond).String()

	if err := c.store.SaveStageResult(runID, result); err != nil {
		// An unpersisted decision must not be acted on.
		return nil, fmt.Errorf("persist stage result: %w", err)
	}
	c.logAttempts(runID, result)
	_ = c.events.LogPipelineEvent(runID, "stage_finished", spec.Kind, result.Status)

	return result, nil
}

// renderSeed renders the stage's seed prompt template, optionally wrapped in
// the diversify template for retry batches.
func (c *Controller) renderSeed(spec config.Stage, inputs Inputs, diversify bool) (string, error) {
	tmpl, err := prompt.LoadTemplate(spec.Template, c.templateDir)
	if err != nil {
		return "", err
	}
	seed, err := prompt.Render(tmpl, inputs.SeedVars)
	if err != nil {
		return "", err
	}
	if !diversify {
		return seed, nil
	}

	wrap, err := prompt.LoadTemplate("diversify.md", c.templateDir)
	if err != nil {
		return "", err
	}
	return prompt.Render(wrap, prompt.Vars{"seed_prompt": seed})
}

func (c *Controller) enhance(ctx context.Context, seed string, inputs Inputs) *enhance.Result {
	return c.enhancer.Enhance(ctx, seed, enhance.Options{
		MaxRounds:    c.enhCfg.MaxRounds,
		RoundRetries: c.enhCfg.RoundRetries,
		Context:      inputs.EnhancerContext,
	})
}

func (c *Controller) runBatch(ctx context.Context, runID string, spec config.Stage, inputs Inputs, finalPrompt string, offset int) (*batch.Outcome, error) {
	return c.runner.Run(ctx, batch.Opts{
		Stage:         spec.Kind,
		Artifact:      gen.Kind(spec.Artifact),
		Prompt:        finalPrompt,
		Reference:     inputs.Reference,
		N:             spec.Candidates,
		AttemptOffset: offset,
		MaxParallel:   spec.MaxParallel,
		CallTimeout:   callTimeout(spec),
		Metrics:       spec.Metrics,
		Weights:       spec.Weights,
		QualityGate:   spec.QualityGate,
	})
}

// finalize selects the overall winner across all batches and sets status.
func (c *Controller) finalize(result *pipeline.StageResult, spec config.Stage) {
	winner := -1
	for i := range result.Candidates {
		if result.Candidates[i].Status != pipeline.CandidateSucceeded {
			continue
		}
		if winner < 0 || result.Candidates[i].Composite > result.Candidates[winner].Composite {
			winner = i
		}
	}
	result.Winner = winner

	switch {
	case winner < 0:
		result.Status = pipeline.StageFailed
		result.FailureReason = fmt.Sprintf("no viable candidate after %d attempts", len(result.Candidates))
	case spec.QualityGate > 0 && result.Candidates[winner].Composite < spec.QualityGate:
		result.Status = pipeline.StageBelowThreshold
	default:
		result.Status = pipeline.StageSucceeded
	}
}

func (c *Controller) logAttempts(runID string, result *pipeline.StageResult) {
	for i := range result.Candidates {
		cand := &result.Candidates[i]
		status := "failed"
		if cand.Status == pipeline.CandidateSucceeded {
			status = "succeeded"
		}
		if err := c.events.LogGenerationAttempt(runID, result.Stage, cand.AttemptIndex, cand.ID, status, cand.Composite, cand.FailureReason); err != nil {
			c.logger.Warn("Failed to log generation attempt", "run", runID, "stage", result.Stage, "error", err)
		}
	}
}

func stageTimeout(spec config.Stage) time.Duration {
	if spec.StageTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(spec.StageTimeout)
	if err != nil {
		return 0
	}
	return d
}

func callTimeout(spec config.Stage) time.Duration {
	if spec.CallTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(spec.CallTimeout)
	if err != nil {
		return 0
	}
	return d
}
