package score

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompositeUnweighted(t *testing.T) {
	v := Vector{MetricAesthetic: 0.8, MetricSemantic: 0.6}
	assert.InDelta(t, 0.7, v.Composite(nil), 1e-9)
}

func TestCompositeWeighted(t *testing.T) {
	v := Vector{MetricAesthetic: 0.8, MetricSemantic: 0.6}
	weights := map[string]float64{MetricAesthetic: 0.25, MetricSemantic: 0.75}
	assert.InDelta(t, 0.65, v.Composite(weights), 1e-9)
}

func TestCompositeWeightsNotSummingToOne(t *testing.T) {
	v := Vector{MetricAesthetic: 0.8, MetricSemantic: 0.6}

	// Normalisation makes absolute weight scale irrelevant.
	small := map[string]float64{MetricAesthetic: 0.1, MetricSemantic: 0.3}
	large := map[string]float64{MetricAesthetic: 1, MetricSemantic: 3}
	assert.InDelta(t, v.Composite(small), v.Composite(large), 1e-9)
	assert.InDelta(t, 0.65, v.Composite(small), 1e-9)
}

func TestCompositePartialWeights(t *testing.T) {
	// A weighted metric missing from the vector contributes nothing and its
	// weight is excluded.
	v := Vector{MetricAesthetic: 0.8}
	weights := map[string]float64{MetricAesthetic: 0.5, MetricMotion: 0.5}
	assert.InDelta(t, 0.8, v.Composite(weights), 1e-9)
}

func TestCompositeNoOverlap(t *testing.T) {
	v := Vector{MetricAesthetic: 0.8}
	weights := map[string]float64{MetricMotion: 1}
	assert.Zero(t, v.Composite(weights))
}

func TestCompositeEmptyVector(t *testing.T) {
	assert.Zero(t, Vector{}.Composite(nil))
	assert.Zero(t, Vector(nil).Composite(map[string]float64{MetricAesthetic: 1}))
}

func TestCompositeClampsOutOfRange(t *testing.T) {
	v := Vector{MetricAesthetic: 1.7, MetricSemantic: -0.3}
	assert.InDelta(t, 0.5, v.Composite(nil), 1e-9)
}

func TestCompositeIgnoresNonPositiveWeights(t *testing.T) {
	v := Vector{MetricAesthetic: 0.4, MetricSemantic: 0.9}
	weights := map[string]float64{MetricAesthetic: 1, MetricSemantic: -2}
	assert.InDelta(t, 0.4, v.Composite(weights), 1e-9)
}

func TestMetricsSorted(t *testing.T) {
	v := Vector{MetricSemantic: 0.5, MetricAesthetic: 0.5, MetricMotion: 0.5}
	assert.Equal(t, []string{MetricAesthetic, MetricMotion, MetricSemantic}, v.Metrics())
}

func TestString(t *testing.T) {
	v := Vector{MetricSemantic: 0.75, MetricAesthetic: 0.5}
	assert.Equal(t, "aesthetic=0.500 semantic=0.750", v.String())
}
