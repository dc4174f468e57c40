// Package pipeline holds the persisted state of generative pipeline runs:
// the run record itself, per-stage results with their ranked candidates, and
// the prompt-enhancement traces kept for audit.
package pipeline

import "github.com/atharva-sardar02/ad-mint-ai-sub002/internal/score"

// Run statuses. A run is terminal once completed, partially_failed, failed,
// or cancelled.
const (
	StatusPending         = "pending"
	StatusRunning         = "running"
	StatusCompleted       = "completed"
	StatusPartiallyFailed = "partially_failed" // completed, but some stage was below its quality gate
	StatusFailed          = "failed"
	StatusCancelled       = "cancelled"
)

// Stage result statuses.
const (
	StageSucceeded      = "succeeded"
	StageBelowThreshold = "below_threshold"
	StageFailed         = "failed"
)

// Candidate generation statuses.
const (
	CandidatePending   = "pending"
	CandidateSucceeded = "succeeded"
	CandidateFailed    = "failed"
)

// Run is the top-level persisted state for a single pipeline run.
type Run struct {
	ID              string `json:"id"`
	SeedPrompt      string `json:"seed_prompt"`
	CurrentStage    string `json:"current_stage"`
	Status          string `json:"status"`
	CancelRequested bool   `json:"cancel_requested"`

	// StageOrder is the ordered list of stage kinds for this run, fixed at
	// creation from the pipeline config.
	StageOrder []string `json:"stage_order"`

	// StageHistory records each finished stage in execution order.
	StageHistory []StageHistoryEntry `json:"stage_history"`

	// FinalArtifact is set once assembly succeeds.
	FinalArtifact string `json:"final_artifact,omitempty"`

	// FinalScore is the composite score of the assembled artifact.
	FinalScore float64 `json:"final_score,omitempty"`

	// FailureStage and FailureReason are set when the run fails.
	FailureStage  string `json:"failure_stage,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Terminal reports whether the run has reached a final status.
func (r *Run) Terminal() bool {
	switch r.Status {
	case StatusCompleted, StatusPartiallyFailed, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// StageHistoryEntry summarises one finished stage for the run record.
type StageHistoryEntry struct {
	Stage      string  `json:"stage"`
	Status     string  `json:"status"`
	Winner     string  `json:"winner,omitempty"` // winning candidate ID
	Composite  float64 `json:"composite"`
	Candidates int     `json:"candidates"`
	Duration   string  `json:"duration"`
	Retried    bool    `json:"retried,omitempty"`
}

// Candidate is one generated artifact attempt within a stage batch.
// Immutable once scored: the only permitted mutations after creation are
// attaching the score vector or a failure reason.
type Candidate struct {
	ID            string `json:"id"`
	Stage         string `json:"stage"`
	AttemptIndex  int    `json:"attempt_index"`
	Prompt        string `json:"prompt"`
	ArtifactRef   string `json:"artifact_ref,omitempty"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`

	Scores    score.Vector `json:"scores,omitempty"`
	Composite float64      `json:"composite"`
}

// EnhancementRound is one critic/writer exchange in an enhancement trace.
type EnhancementRound struct {
	Round      int    `json:"round"`
	CriticNote string `json:"critic_note"`
	Rewritten  string `json:"rewritten_prompt"`
	Accepted   bool   `json:"accepted,omitempty"`
}

// StageResult is the persisted outcome of one stage controller run.
type StageResult struct {
	RunID string `json:"run_id"`
	Stage string `json:"stage"`

	// Status is succeeded, below_threshold, or failed.
	Status string `json:"status"`

	// Winner is the index into Candidates of the selected candidate, or -1
	// when the stage failed with no viable candidate.
	Winner int `json:"winner"`

	// Candidates holds every attempt in attempt-index order.
	Candidates []Candidate `json:"candidates"`

	// SeedPrompt and FinalPrompt bracket the enhancement step.
	SeedPrompt  string `json:"seed_prompt"`
	FinalPrompt string `json:"final_prompt"`

	// EnhancementTrace is the critic/writer transcript for the prompt that
	// was actually used (the last one when the stage was retried).
	EnhancementTrace []EnhancementRound `json:"enhancement_trace,omitempty"`

	// Retried marks that the stage re-ran its batch after exhaustion or a
	// below-gate result.
	Retried bool `json:"retried,omitempty"`

	// FailureReason is set when Status is failed.
	FailureReason string `json:"failure_reason,omitempty"`

	Duration  string `json:"duration"`
	CreatedAt string `json:"created_at"`
}

// Terminal reports whether the stage result is final. Persisted stage
// results are always terminal; the method exists so callers don't encode
// the status set themselves.
func (sr *StageResult) Terminal() bool {
	switch sr.Status {
	case StageSucceeded, StageBelowThreshold, StageFailed:
		return true
	}
	return false
}

// WinningCandidate returns the selected candidate, or nil for failed stages.
func (sr *StageResult) WinningCandidate() *Candidate {
	if sr.Winner < 0 || sr.Winner >= len(sr.Candidates) {
		return nil
	}
	return &sr.Candidates[sr.Winner]
}
