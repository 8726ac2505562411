package meter

import "math"

const (
	defaultMinDecibels = -60.0
	defaultTableSize   = 300
	defaultRoot        = 2.0
)

// Table maps dBFS onto a bounded perceptual level using a precomputed curve.
// Values at or below MinDecibels map to 0, values at or above 0 dBFS map to 1,
// and the curve between is monotonic non-decreasing.
type Table struct {
	minDecibels float64
	scaleFactor float64
	values      []float64
}

// NewTable builds the default curve: -60 dB floor, 300 steps, square-root shaping.
func NewTable() *Table {
	return NewTableWith(defaultMinDecibels, defaultTableSize, defaultRoot)
}

// NewTableWith builds a curve with a custom floor, resolution and shaping root.
func NewTableWith(minDecibels float64, size int, root float64) *Table {
	if minDecibels >= 0 {
		minDecibels = defaultMinDecibels
	}
	if size < 2 {
		size = defaultTableSize
	}
	if root <= 0 {
		root = defaultRoot
	}

	resolution := minDecibels / float64(size-1)
	minAmp := dbToAmp(minDecibels)
	invAmpRange := 1 / (1 - minAmp)

	values := make([]float64, size)
	for i := range values {
		amp := dbToAmp(float64(i) * resolution)
		adj := (amp - minAmp) * invAmpRange
		values[i] = math.Pow(adj, 1/root)
	}

	return &Table{
		minDecibels: minDecibels,
		scaleFactor: 1 / resolution,
		values:      values,
	}
}

// Level returns the perceptual level in [0, 1] for a dBFS value.
func (t *Table) Level(db float64) float64 {
	if math.IsNaN(db) || db < t.minDecibels {
		return 0
	}
	if db >= 0 {
		return 1
	}
	idx := int(db * t.scaleFactor)
	if idx >= len(t.values) {
		idx = len(t.values) - 1
	}
	return clamp01(t.values[idx])
}

func dbToAmp(db float64) float64 {
	return math.Pow(10, 0.05*db)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
