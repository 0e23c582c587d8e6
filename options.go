package zvec

import "github.com/hupe1980/zvec/distance"

// Options represents the options for opening an engine.
//
// For an existing backing file the layout parameters (MaxCount,
// MaxNeighbors, MaxLayers, Metric) are authoritative in the file header and
// the option values are ignored; only a fresh file is created with them.
type Options struct {
	// MaxCount is the slot capacity of a freshly created file. The file is
	// sized up front; Add fails with ErrDBFull once every slot is used.
	MaxCount int

	// MaxNeighbors is the neighbour cap per (slot, layer). Reasonable
	// values are 16-32; higher values help high-dimensional data at the
	// cost of file size and insert time.
	MaxNeighbors int

	// MaxLayers is the layer count of the hierarchy. Typical value is 5.
	MaxLayers int

	// Metric selects how vectors are scored. With MetricCosine, vectors
	// are L2-normalised on ingress and queries on search.
	Metric distance.Metric

	// EFSearch is the default beam width for base-layer search. Larger
	// values raise recall and cost. Search never uses a beam narrower
	// than the requested k.
	EFSearch int

	// ReadOnly maps the backing file read-only and rejects mutations.
	ReadOnly bool

	// Logger receives structured operation logs. Defaults to a noop
	// logger.
	Logger *Logger
}

// DefaultOptions are the options used by Open unless overridden.
var DefaultOptions = Options{
	MaxCount:     100_000,
	MaxNeighbors: 16,
	MaxLayers:    5,
	Metric:       distance.MetricDot,
	EFSearch:     64,
}

// WithMaxCount sets the slot capacity for a freshly created file.
func WithMaxCount(n int) func(o *Options) {
	return func(o *Options) { o.MaxCount = n }
}

// WithMaxNeighbors sets the per-layer neighbour cap for a fresh file.
func WithMaxNeighbors(m int) func(o *Options) {
	return func(o *Options) { o.MaxNeighbors = m }
}

// WithMaxLayers sets the layer count for a fresh file.
func WithMaxLayers(l int) func(o *Options) {
	return func(o *Options) { o.MaxLayers = l }
}

// WithMetric sets the similarity metric for a fresh file.
func WithMetric(m distance.Metric) func(o *Options) {
	return func(o *Options) { o.Metric = m }
}

// WithEFSearch sets the default search beam width.
func WithEFSearch(ef int) func(o *Options) {
	return func(o *Options) { o.EFSearch = ef }
}

// WithReadOnly opens the backing file read-only.
func WithReadOnly() func(o *Options) {
	return func(o *Options) { o.ReadOnly = true }
}

// WithLogger sets the logger.
func WithLogger(l *Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}
