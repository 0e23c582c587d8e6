// Package distance provides the similarity scores used by the engine.
//
// Scores are oriented "higher is better" for every metric: the dot product
// is used raw, and cosine similarity is the dot product of vectors that were
// L2-normalised on ingress and on query. All graph algorithms are expressed
// on this orientation.
package distance

import (
	"fmt"
	"slices"

	"github.com/hupe1980/zvec/internal/simd"
)

// Score calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
// Uses SIMD acceleration when available.
func Score(a, b []float32) float32 {
	return simd.Dot(a, b)
}

// ScoreBatch calculates scores for a batch of vectors laid out contiguously.
// targets is a flattened array of N vectors, each of dimension dim.
// out must have length N.
func ScoreBatch(query []float32, targets []float32, dim int, out []float32) {
	simd.DotBatch(query, targets, dim, out)
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	norm2 := simd.Dot(v, v)
	if norm2 == 0 {
		return false
	}
	inv := 1 / simd.Sqrt(norm2)
	simd.ScaleInPlace(v, inv)
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
// Returns false if src has zero L2 norm.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}

// Metric selects how vectors are scored.
type Metric int32

const (
	// MetricDot scores by raw dot product.
	MetricDot Metric = iota
	// MetricCosine scores by cosine similarity; vectors are L2-normalised
	// on ingress and on query, after which the score is a plain dot product.
	MetricCosine
)

func (m Metric) String() string {
	switch m {
	case MetricDot:
		return "dot"
	case MetricCosine:
		return "cosine"
	default:
		return fmt.Sprintf("unknown(%d)", int32(m))
	}
}

// ParseMetric parses a metric name as accepted by the CLI.
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "dot":
		return MetricDot, nil
	case "cosine":
		return MetricCosine, nil
	default:
		return 0, fmt.Errorf("unsupported metric %q", s)
	}
}

// Valid reports whether m is a known metric.
func (m Metric) Valid() bool {
	return m == MetricDot || m == MetricCosine
}

// Normalizes reports whether the metric requires L2 normalisation of
// vectors on ingress and of queries.
func (m Metric) Normalizes() bool {
	return m == MetricCosine
}

// Func is a function type for score calculation.
type Func func(a, b []float32) float32
