// Package batch runs best-of-N candidate generation: it fans out N
// generation requests for one prompt, scores every artifact that comes back,
// and selects the highest-composite candidate deterministically.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/gen"
	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/pipeline"
	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/score"
)

// ErrNoViableCandidate is returned when every attempt in a batch fails
// generation. It is the hard failure mode the stage controller retries on.
var ErrNoViableCandidate = errors.New("no viable candidate")

// ErrInvalidOpts marks a batch request rejected before dispatch.
var ErrInvalidOpts = errors.New("invalid batch options")

// Runner executes candidate batches against a generation backend and a
// scoring backend. Scorers are built per batch so each stage is ranked on
// its own configured metrics only.
type Runner struct {
	backend gen.Backend
	scoring score.Backend
	logger  *slog.Logger
}

// NewRunner creates a batch runner.
func NewRunner(backend gen.Backend, scoring score.Backend, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{backend: backend, scoring: scoring, logger: logger}
}

// Opts configures one batch run.
type Opts struct {
	Stage    string
	Artifact gen.Kind
	Prompt   string

	// Reference is an optional artifact handle the backend conditions on.
	Reference string

	// N is how many candidates to request. Attempt indices are assigned
	// before dispatch and are the deterministic tie-breaker.
	N int

	// AttemptOffset shifts the assigned attempt indices (1+offset..N+offset)
	// so a stage's retry batch continues numbering after the first batch.
	AttemptOffset int

	// MaxParallel caps in-flight generation requests; <=0 means 4.
	MaxParallel int

	// CallTimeout bounds each individual generation or scoring call;
	// a call that exceeds it fails that candidate only.
	CallTimeout time.Duration

	// Metrics restricts which score dimensions candidates are evaluated
	// on. Empty means every known metric.
	Metrics []string

	// Weights derive the composite from the score vector.
	Weights map[string]float64

	// QualityGate is the stage's minimum acceptable composite. Zero
	// disables the gate.
	QualityGate float64
}

// Outcome is the result of one batch.
type Outcome struct {
	// Candidates holds every attempt in attempt-index order, each with a
	// terminal status.
	Candidates []pipeline.Candidate

	// Winner is the index into Candidates of the best succeeded candidate,
	// or -1 when the batch was exhausted.
	Winner int

	// BelowGate is set when a winner exists but its composite misses the
	// quality gate.
	BelowGate bool
}

// Run executes the batch. The call suspends until every attempt reaches a
// terminal status; a single attempt's failure never aborts its siblings.
// Returns ErrNoViableCandidate (wrapped) when all N attempts fail.
func (r *Runner) Run(ctx context.Context, opts Opts) (*Outcome, error) {
	if opts.N < 1 {
		return nil, fmt.Errorf("%w: batch size must be at least 1, got %d", ErrInvalidOpts, opts.N)
	}
	if opts.Prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalidOpts)
	}
	scorer, err := score.ForMetrics(r.scoring, opts.Metrics)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOpts, err)
	}
	maxParallel := opts.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 4
	}

	// Attempt indices are fixed before dispatch.
	candidates := make([]pipeline.Candidate, opts.N)
	for i := range candidates {
		candidates[i] = pipeline.Candidate{
			ID:           uuid.New().String(),
			Stage:        opts.Stage,
			AttemptIndex: opts.AttemptOffset + i + 1,
			Prompt:       opts.Prompt,
			Status:       pipeline.CandidatePending,
		}
	}

	r.logger.Info("Dispatching candidate batch",
		"stage", opts.Stage,
		"n", opts.N,
		"max_parallel", maxParallel)

	// Fan out generation. Worker errors are recorded on the candidate, not
	// returned, so the join always covers all N outcomes.
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for i := range candidates {
		i := i
		g.Go(func() error {
			artifact, err := r.generate(gctx, opts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				candidates[i].Status = pipeline.CandidateFailed
				candidates[i].FailureReason = err.Error()
				r.logger.Warn("Candidate generation failed",
					"stage", opts.Stage,
					"attempt", candidates[i].AttemptIndex,
					"transient", gen.IsTransient(err),
					"error", err)
				return nil
			}
			candidates[i].Status = pipeline.CandidateSucceeded
			candidates[i].ArtifactRef = artifact.Ref
			return nil
		})
	}
	_ = g.Wait()

	// Score succeeded candidates concurrently; scoring is deterministic
	// per artifact, so order does not matter.
	sg, sctx := errgroup.WithContext(ctx)
	sg.SetLimit(maxParallel)
	for i := range candidates {
		if candidates[i].Status != pipeline.CandidateSucceeded {
			continue
		}
		i := i
		sg.Go(func() error {
			vec, err := r.scoreOne(sctx, opts, scorer, candidates[i].ArtifactRef)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// An unscorable artifact cannot be ranked; treat the
				// attempt as failed rather than guess.
				candidates[i].Status = pipeline.CandidateFailed
				candidates[i].FailureReason = fmt.Sprintf("scoring failed: %v", err)
				r.logger.Warn("Candidate scoring failed",
					"stage", opts.Stage,
					"attempt", candidates[i].AttemptIndex,
					"error", err)
				return nil
			}
			candidates[i].Scores = vec
			candidates[i].Composite = vec.Composite(opts.Weights)
			return nil
		})
	}
	_ = sg.Wait()

	outcome := &Outcome{Candidates: candidates, Winner: selectWinner(candidates)}
	if outcome.Winner < 0 {
		return outcome, fmt.Errorf("stage %s: all %d attempts failed: %w", opts.Stage, opts.N, ErrNoViableCandidate)
	}

	best := candidates[outcome.Winner]
	if opts.QualityGate > 0 && best.Composite < opts.QualityGate {
		outcome.BelowGate = true
	}

	r.logger.Info("Batch finished",
		"stage", opts.Stage,
		"winner_attempt", best.AttemptIndex,
		"composite", best.Composite,
		"below_gate", outcome.BelowGate)
	return outcome, nil
}

func (r *Runner) generate(ctx context.Context, opts Opts) (*gen.Artifact, error) {
	if opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.CallTimeout)
		defer cancel()
	}
	return r.backend.Generate(ctx, gen.Request{
		Kind:              opts.Artifact,
		Prompt:            opts.Prompt,
		ReferenceArtifact: opts.Reference,
	})
}

func (r *Runner) scoreOne(ctx context.Context, opts Opts, scorer score.Scorer, artifactRef string) (score.Vector, error) {
	if opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.CallTimeout)
		defer cancel()
	}
	return scorer.Score(ctx, artifactRef, opts.Prompt)
}

// selectWinner picks the succeeded candidate with the highest composite.
// Ties break to the lowest attempt index: iteration is in attempt order and
// only a strictly greater composite displaces the current winner.
func selectWinner(candidates []pipeline.Candidate) int {
	winner := -1
	for i := range candidates {
		if candidates[i].Status != pipeline.CandidateSucceeded {
			continue
		}
		if winner < 0 || candidates[i].Composite > candidates[winner].Composite {
			winner = i
		}
	}
	return winner
}
