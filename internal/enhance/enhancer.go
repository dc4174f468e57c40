// Package enhance turns a terse seed prompt into a detailed generation
// prompt through a bounded critic/writer refinement loop. The loop degrades
// gracefully: any unrecoverable failure falls back to the unmodified seed
// prompt so enhancement never blocks the pipeline.
package enhance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/gen"
	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/llm"
	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/pipeline"
)

// acceptSignal is the critique marker that ends the loop early.
const acceptSignal = "ACCEPT"

const criticSystemPrompt = `You are a prompt critic for a generative ad pipeline.
Evaluate the prompt below against this rubric: clarity, visual specificity,
absence of ambiguity. If the prompt needs no further work, reply with the
single word ACCEPT. Otherwise reply with one short critique (max 3 sentences)
naming the most important improvement.`

const writerSystemPrompt = `You are a prompt writer for a generative ad pipeline.
Rewrite the prompt to address the critique. Keep the original subject and
intent. Reply with the rewritten prompt only, no commentary.`

// Options configures an enhancement run.
type Options struct {
	// MaxRounds bounds the critic/writer loop; <=0 means 3.
	MaxRounds int

	// RoundRetries is how many extra attempts a failed role call gets
	// before the enhancement aborts; <=0 means 2.
	RoundRetries int

	// RetryBackoff is the base backoff between role-call retries.
	RetryBackoff time.Duration

	// Context carries stage-specific guidance appended to the critic and
	// writer inputs (e.g. the previous stage's winning prompt).
	Context string
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.MaxRounds <= 0 {
		out.MaxRounds = 3
	}
	if out.RoundRetries <= 0 {
		out.RoundRetries = 2
	}
	if out.RetryBackoff <= 0 {
		out.RetryBackoff = 500 * time.Millisecond
	}
	return out
}

// Result is the outcome of one enhancement call.
type Result struct {
	// FinalPrompt is the prompt to generate with. Equal to the seed prompt
	// when the enhancer fell back.
	FinalPrompt string

	// Trace is the append-only critic/writer transcript, at most MaxRounds
	// entries.
	Trace []pipeline.EnhancementRound

	// FellBack marks that enhancement aborted and the seed prompt is used.
	FellBack bool
}

// Enhancer runs the two-role refinement loop.
type Enhancer struct {
	completer llm.Completer
	logger    *slog.Logger
}

// New creates an Enhancer on top of a chat completer.
func New(completer llm.Completer, logger *slog.Logger) *Enhancer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enhancer{completer: completer, logger: logger}
}

// Enhance refines the seed prompt. It never returns an error for role-call
// failures: after per-round retries are exhausted the seed prompt is
// returned with FellBack set, along with whatever trace was accumulated.
func (e *Enhancer) Enhance(ctx context.Context, seedPrompt string, opts Options) *Result {
	o := opts.withDefaults()
	result := &Result{FinalPrompt: seedPrompt}
	current := seedPrompt

	for round := 1; round <= o.MaxRounds; round++ {
		critique, err := e.callRole(ctx, o, criticSystemPrompt, criticInput(current, o.Context))
		if err != nil {
			e.logger.Warn("Critic call failed, falling back to seed prompt",
				"round", round, "error", err)
			result.FinalPrompt = seedPrompt
			result.FellBack = true
			return result
		}

		if isAccept(critique) {
			result.Trace = append(result.Trace, pipeline.EnhancementRound{
				Round:      round,
				CriticNote: acceptSignal,
				Rewritten:  current,
				Accepted:   true,
			})
			result.FinalPrompt = current
			return result
		}

		rewritten, err := e.callRole(ctx, o, writerSystemPrompt, writerInput(current, critique, o.Context))
		if err != nil {
			e.logger.Warn("Writer call failed, falling back to seed prompt",
				"round", round, "error", err)
			result.FinalPrompt = seedPrompt
			result.FellBack = true
			return result
		}
		rewritten = strings.TrimSpace(rewritten)
		if rewritten == "" {
			rewritten = current
		}

		result.Trace = append(result.Trace, pipeline.EnhancementRound{
			Round:      round,
			CriticNote: strings.TrimSpace(critique),
			Rewritten:  rewritten,
		})
		current = rewritten
	}

	result.FinalPrompt = current
	return result
}

// callRole invokes one role with bounded retries and backoff. Permanent
// errors abort immediately.
func (e *Enhancer) callRole(ctx context.Context, o Options, system, input string) (string, error) {
	messages := []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: input},
	}

	var lastErr error
	for attempt := 0; attempt <= o.RoundRetries; attempt++ {
		if attempt > 0 {
			backoff := o.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		reply, err := e.completer.Complete(ctx, messages)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if gen.IsPermanent(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("role call failed after %d retries: %w", o.RoundRetries, lastErr)
}

func criticInput(prompt, context string) string {
	if context == "" {
		return "Prompt:\n" + prompt
	}
	return "Stage context:\n" + context + "\n\nPrompt:\n" + prompt
}

func writerInput(prompt, critique, context string) string {
	b := &strings.Builder{}
	if context != "" {
		fmt.Fprintf(b, "Stage context:\n%s\n\n", context)
	}
	fmt.Fprintf(b, "Prompt:\n%s\n\nCritique:\n%s", prompt, critique)
	return b.String()
}

func isAccept(critique string) bool {
	trimmed := strings.TrimSpace(strings.Trim(strings.TrimSpace(critique), ".!"))
	return strings.EqualFold(trimmed, acceptSignal)
}
