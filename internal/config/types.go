package config

import (
	"fmt"
	"strings"
)

// PipelineConfig is the top-level structure parsed from pipeline YAML.
type PipelineConfig struct {
	Pipeline Pipeline `yaml:"pipeline"`
}

// Pipeline defines the full generative pipeline: metadata, defaults,
// enhancement policy, and the ordered stage list.
type Pipeline struct {
	Name        string        `yaml:"name"`
	Defaults    StageDefaults `yaml:"defaults"`
	Enhancement Enhancement   `yaml:"enhancement"`

	// RetryBelowGate controls whether a stage whose best candidate misses
	// the quality gate re-runs its batch once with a regenerated prompt.
	// Defaults to true.
	RetryBelowGate *bool `yaml:"retry_below_gate"`

	Stages []Stage `yaml:"stages"`
}

// ShouldRetryBelowGate resolves the below-gate retry policy.
func (p *Pipeline) ShouldRetryBelowGate() bool {
	if p.RetryBelowGate == nil {
		return true
	}
	return *p.RetryBelowGate
}

// StageDefaults holds values applied to stages that don't set their own.
type StageDefaults struct {
	Candidates   int                `yaml:"candidates"`
	QualityGate  float64            `yaml:"quality_gate"`
	MaxParallel  int                `yaml:"max_parallel"`
	CallTimeout  string             `yaml:"call_timeout"`
	StageTimeout string             `yaml:"stage_timeout"`
	Metrics      []string           `yaml:"metrics"`
	Weights      map[string]float64 `yaml:"weights"`
}

// Enhancement configures the critic/writer prompt refinement loop.
type Enhancement struct {
	// MaxRounds bounds the loop; 0 means the default of 3.
	MaxRounds int `yaml:"max_rounds"`

	// RoundRetries is how many times a failed critic or writer call is
	// retried before the whole enhancement falls back to the seed prompt.
	// 0 means the default of 2.
	RoundRetries int `yaml:"round_retries"`
}

// ParseNeed splits a "<stage>.<field>" dependency reference. Field is
// "artifact" or "prompt".
func ParseNeed(need string) (stage, field string, err error) {
	stage, field, ok := cutNeed(need)
	if !ok {
		return "", "", fmt.Errorf("invalid dependency reference %q", need)
	}
	return stage, field, nil
}

func cutNeed(need string) (string, string, bool) {
	stage, field, ok := strings.Cut(need, ".")
	if !ok || stage == "" || (field != "artifact" && field != "prompt") {
		return "", "", false
	}
	return stage, field, true
}

// Stage is the immutable configuration for one pipeline stage.
type Stage struct {
	// Kind uniquely identifies the stage within the pipeline
	// (e.g. "keyframe", "storyboard", "clip").
	Kind string `yaml:"kind"`

	// Artifact is what the generation backend produces: "image" or "video".
	Artifact string `yaml:"artifact"`

	// Candidates is how many parallel generations to request (N).
	Candidates int `yaml:"candidates"`

	// QualityGate is the minimum acceptable composite score for the winner.
	QualityGate float64 `yaml:"quality_gate"`

	// Template names the builtin or project-level seed prompt template.
	Template string `yaml:"template"`

	// Metrics lists the score dimensions evaluated for this stage.
	Metrics []string `yaml:"metrics"`

	// Weights maps metric name to its share of the composite.
	Weights map[string]float64 `yaml:"weights"`

	// Needs declares inputs consumed from earlier stages' winners as
	// "<stage>.artifact" or "<stage>.prompt" references.
	Needs []string `yaml:"needs"`

	MaxParallel  int    `yaml:"max_parallel"`
	CallTimeout  string `yaml:"call_timeout"`
	StageTimeout string `yaml:"stage_timeout"`
}
