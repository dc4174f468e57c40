// Package score evaluates generated artifacts along one or more quality
// dimensions and derives the composite used to rank candidates.
package score

import (
	"context"
	"fmt"
)

// Backend is the external scoring service boundary. Implementations must be
// deterministic for a given artifact so concurrent re-scoring is safe.
type Backend interface {
	// Score returns raw metric values for the artifact. The metrics slice
	// restricts which dimensions the backend evaluates; an empty slice
	// requests everything the backend supports.
	Score(ctx context.Context, artifactRef string, prompt string, metrics []string) (map[string]float64, error)
}

// Scorer produces a score vector for one artifact.
type Scorer interface {
	Score(ctx context.Context, artifactRef string, prompt string) (Vector, error)
}

// Strategy scores a single quality dimension through a backend.
type Strategy struct {
	backend Backend
	metric  string
}

// NewStrategy builds a single-metric scorer for one of the known metrics.
func NewStrategy(backend Backend, metric string) (*Strategy, error) {
	known := false
	for _, m := range KnownMetrics {
		if m == metric {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("unknown score metric %q", metric)
	}
	return &Strategy{backend: backend, metric: metric}, nil
}

// Score asks the backend for exactly this strategy's metric.
func (s *Strategy) Score(ctx context.Context, artifactRef string, prompt string) (Vector, error) {
	raw, err := s.backend.Score(ctx, artifactRef, prompt, []string{s.metric})
	if err != nil {
		return nil, fmt.Errorf("score %s: %w", s.metric, err)
	}
	val, ok := raw[s.metric]
	if !ok {
		return nil, fmt.Errorf("score %s: backend returned no value", s.metric)
	}
	return Vector{s.metric: clamp01(val)}, nil
}

// Multi merges several strategy scorers into one vector. Dimensions are
// scored sequentially; a failure in any dimension fails the whole score so a
// candidate is never ranked on a partial vector.
type Multi struct {
	scorers []Scorer
}

// NewMulti combines scorers. At least one is required.
func NewMulti(scorers ...Scorer) (*Multi, error) {
	if len(scorers) == 0 {
		return nil, fmt.Errorf("at least one scorer is required")
	}
	return &Multi{scorers: scorers}, nil
}

// Score runs every dimension and merges the results.
func (m *Multi) Score(ctx context.Context, artifactRef string, prompt string) (Vector, error) {
	merged := Vector{}
	for _, s := range m.scorers {
		v, err := s.Score(ctx, artifactRef, prompt)
		if err != nil {
			return nil, err
		}
		for metric, val := range v {
			merged[metric] = val
		}
	}
	return merged, nil
}

// ForMetrics builds a Multi covering the given metric names against one backend.
func ForMetrics(backend Backend, metrics []string) (Scorer, error) {
	if len(metrics) == 0 {
		metrics = KnownMetrics
	}
	scorers := make([]Scorer, 0, len(metrics))
	for _, m := range metrics {
		s, err := NewStrategy(backend, m)
		if err != nil {
			return nil, err
		}
		scorers = append(scorers, s)
	}
	return NewMulti(scorers...)
}
