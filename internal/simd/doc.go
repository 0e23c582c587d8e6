// Package simd provides the scoring kernels used by the engine hot path.
//
// Implementations are selected through package-level function variables so
// that architecture-specific kernels can be swapped in at init time without
// touching call sites. The generic fallbacks are written with multiple
// accumulators so the compiler can vectorize them.
package simd
