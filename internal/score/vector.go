package score

import (
	"fmt"
	"math"
	"sort"
)

// Metric names produced by the scoring backends.
const (
	MetricAesthetic = "aesthetic"
	MetricSemantic  = "semantic"
	MetricMotion    = "motion"
)

// KnownMetrics lists every metric name a pipeline config may weight.
var KnownMetrics = []string{MetricAesthetic, MetricSemantic, MetricMotion}

// Vector is a bounded per-metric score map. Values are normalised to [0, 1].
type Vector map[string]float64

// Composite derives a single scalar from the vector as a weighted sum.
// Weights are normalised so partial weight maps still yield a [0, 1] result.
// Metrics absent from the vector contribute nothing and their weight is
// excluded from normalisation. A vector/weights pair with no overlap
// composites to 0.
func (v Vector) Composite(weights map[string]float64) float64 {
	if len(v) == 0 {
		return 0
	}
	if len(weights) == 0 {
		// Unweighted: plain average over present metrics.
		sum := 0.0
		for _, val := range v {
			sum += clamp01(val)
		}
		return sum / float64(len(v))
	}

	var total, weightSum float64
	for metric, w := range weights {
		val, ok := v[metric]
		if !ok || w <= 0 {
			continue
		}
		total += clamp01(val) * w
		weightSum += w
	}
	if weightSum == 0 {
		return 0
	}
	return total / weightSum
}

// Metrics returns the metric names present in the vector, sorted for
// deterministic formatting and trace output.
func (v Vector) Metrics() []string {
	names := make([]string, 0, len(v))
	for name := range v {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// String renders the vector as "metric=0.00 ..." in sorted metric order.
func (v Vector) String() string {
	out := ""
	for i, name := range v.Metrics() {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%.3f", name, v[name])
	}
	return out
}

func clamp01(f float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	return math.Min(1, math.Max(0, f))
}
