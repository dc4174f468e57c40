// Package assemble concatenates per-stage winning artifacts into the final
// deliverable and computes its composite score. Concatenation itself is a
// boundary: implementations are pluggable and the default shells out to
// ffmpeg for file-path artifact refs.
package assemble

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/score"
)

// Concatenator joins artifact refs, in order, into one artifact.
type Concatenator interface {
	Concat(ctx context.Context, refs []string, outPath string) (string, error)
}

// Assembler produces the final artifact and its composite score.
type Assembler struct {
	concat  Concatenator
	scorer  score.Scorer
	weights map[string]float64
	outDir  string
	logger  *slog.Logger
}

// New creates an Assembler writing final artifacts under outDir.
func New(concat Concatenator, scorer score.Scorer, weights map[string]float64, outDir string, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{concat: concat, scorer: scorer, weights: weights, outDir: outDir, logger: logger}
}

// Assemble joins the winning artifact refs and scores the result against the
// run's seed prompt. With a single ref, concatenation is skipped and the ref
// is scored as-is.
func (a *Assembler) Assemble(ctx context.Context, runID string, seedPrompt string, refs []string) (string, float64, error) {
	if len(refs) == 0 {
		return "", 0, fmt.Errorf("no winning artifacts to assemble")
	}

	final := refs[0]
	if len(refs) > 1 {
		outPath := filepath.Join(a.outDir, runID+"-final.mp4")
		joined, err := a.concat.Concat(ctx, refs, outPath)
		if err != nil {
			return "", 0, fmt.Errorf("concatenate artifacts: %w", err)
		}
		final = joined
	}

	vec, err := a.scorer.Score(ctx, final, seedPrompt)
	if err != nil {
		return "", 0, fmt.Errorf("score final artifact: %w", err)
	}
	composite := vec.Composite(a.weights)

	a.logger.Info("Assembly finished", "run", runID, "artifact", final, "composite", composite)
	return final, composite, nil
}

// FFmpegConcatenator joins video files with ffmpeg's concat demuxer. It only
// understands artifact refs that are local file paths.
type FFmpegConcatenator struct {
	// Binary overrides the ffmpeg executable name.
	Binary string
}

// Concat implements Concatenator.
func (f *FFmpegConcatenator) Concat(ctx context.Context, refs []string, outPath string) (string, error) {
	bin := f.Binary
	if bin == "" {
		bin = "ffmpeg"
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("mkdir output dir: %w", err)
	}

	// The concat demuxer takes a list file.
	listFile, err := os.CreateTemp("", "admint-concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("create concat list: %w", err)
	}
	defer os.Remove(listFile.Name())

	var b strings.Builder
	for _, ref := range refs {
		abs, err := filepath.Abs(ref)
		if err != nil {
			return "", fmt.Errorf("resolve artifact path %q: %w", ref, err)
		}
		fmt.Fprintf(&b, "file '%s'\n", abs)
	}
	if _, err := listFile.WriteString(b.String()); err != nil {
		listFile.Close()
		return "", fmt.Errorf("write concat list: %w", err)
	}
	if err := listFile.Close(); err != nil {
		return "", fmt.Errorf("close concat list: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin,
		"-y", "-f", "concat", "-safe", "0",
		"-i", listFile.Name(),
		"-c", "copy",
		outPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		msg := string(out)
		if len(msg) > 300 {
			msg = msg[len(msg)-300:]
		}
		return "", fmt.Errorf("ffmpeg concat: %w: %s", err, msg)
	}
	return outPath, nil
}
