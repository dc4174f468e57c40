package config

import (
	"fmt"
	"time"

	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/score"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// artifactKinds is the set of artifact types a stage may produce.
var artifactKinds = map[string]bool{
	"image": true,
	"video": true,
}

// Validate checks a PipelineConfig for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *PipelineConfig) []ValidationError {
	var errs []ValidationError
	p := cfg.Pipeline

	if p.Name == "" {
		errs = append(errs, ValidationError{Field: "pipeline.name", Message: "is required"})
	}
	if len(p.Stages) == 0 {
		errs = append(errs, ValidationError{Field: "pipeline.stages", Message: "at least one stage is required"})
	}

	knownMetric := make(map[string]bool, len(score.KnownMetrics))
	for _, m := range score.KnownMetrics {
		knownMetric[m] = true
	}

	// Stage kinds must be unique; needs may only reference earlier stages,
	// so collect kinds in declaration order.
	seen := make(map[string]bool)
	for i, s := range p.Stages {
		prefix := fmt.Sprintf("pipeline.stages[%d]", i)

		if s.Kind == "" {
			errs = append(errs, ValidationError{Field: prefix + ".kind", Message: "is required"})
			continue
		}
		if seen[s.Kind] {
			errs = append(errs, ValidationError{
				Field:   prefix + ".kind",
				Message: fmt.Sprintf("duplicate stage kind %q", s.Kind),
			})
		}

		if !artifactKinds[s.Artifact] {
			errs = append(errs, ValidationError{
				Field:   prefix + ".artifact",
				Message: fmt.Sprintf("must be one of image, video (got %q)", s.Artifact),
			})
		}
		if s.Candidates < 1 {
			errs = append(errs, ValidationError{
				Field:   prefix + ".candidates",
				Message: "must be at least 1",
			})
		}
		if s.QualityGate < 0 || s.QualityGate > 1 {
			errs = append(errs, ValidationError{
				Field:   prefix + ".quality_gate",
				Message: "must be between 0 and 1",
			})
		}
		for _, m := range s.Metrics {
			if !knownMetric[m] {
				errs = append(errs, ValidationError{
					Field:   prefix + ".metrics",
					Message: fmt.Sprintf("unknown metric %q", m),
				})
			}
		}
		for m, w := range s.Weights {
			if !knownMetric[m] {
				errs = append(errs, ValidationError{
					Field:   prefix + ".weights",
					Message: fmt.Sprintf("unknown metric %q", m),
				})
			}
			if w < 0 {
				errs = append(errs, ValidationError{
					Field:   prefix + ".weights",
					Message: fmt.Sprintf("weight for %q must not be negative", m),
				})
			}
		}

		for _, need := range s.Needs {
			stageRef, _, ok := cutNeed(need)
			if !ok {
				errs = append(errs, ValidationError{
					Field:   prefix + ".needs",
					Message: fmt.Sprintf("%q must have the form <stage>.artifact or <stage>.prompt", need),
				})
				continue
			}
			if !seen[stageRef] {
				errs = append(errs, ValidationError{
					Field:   prefix + ".needs",
					Message: fmt.Sprintf("references stage %q, which is not an earlier stage", stageRef),
				})
			}
		}

		for _, tf := range []struct {
			name  string
			value string
		}{
			{"call_timeout", s.CallTimeout},
			{"stage_timeout", s.StageTimeout},
		} {
			if tf.value == "" {
				continue
			}
			if _, err := time.ParseDuration(tf.value); err != nil {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.%s", prefix, tf.name),
					Message: fmt.Sprintf("invalid duration %q", tf.value),
				})
			}
		}

		seen[s.Kind] = true
	}

	return errs
}
