package meter

import (
	"math"
	"sync"

	"whispr-capture-service/internal/audio"
)

// Levels is the perceptual loudness pair published to consumers.
// Both fields are in [0, 1].
type Levels struct {
	Average float64 `json:"average"`
	Peak    float64 `json:"peak"`
}

// IsZero reports whether the levels carry no signal.
func (l Levels) IsZero() bool {
	return l.Average == 0 && l.Peak == 0
}

// Meter accumulates buffers from a realtime callback and reduces them to
// Levels on demand. Process is cheap and safe to call from the audio thread;
// Flush is called by the publishing ticker, so the publish cadence is
// independent of how often buffers arrive.
type Meter struct {
	table *Table

	mu         sync.Mutex
	sumSquares float64
	maxAbs     float64
	samples    int
	pending    bool
	levels     Levels
	last       DBFS
}

// New creates a meter using the default table.
func New() *Meter {
	return NewWithTable(NewTable())
}

// NewWithTable creates a meter with a custom dBFS→level curve.
func NewWithTable(t *Table) *Meter {
	if t == nil {
		t = NewTable()
	}
	return &Meter{table: t}
}

// Process folds one buffer into the pending window. Buffers with an
// unsupported sample encoding are ignored, which keeps the reading at zero
// for a stream that only ever delivers them.
func (m *Meter) Process(b audio.Buffer) {
	sumSquares, maxAbs, n, ok := accumulate(b)
	if !ok {
		return
	}

	m.mu.Lock()
	m.sumSquares += sumSquares
	m.samples += n
	if maxAbs > m.maxAbs {
		m.maxAbs = maxAbs
	}
	m.pending = true
	m.mu.Unlock()
}

// Flush reduces every buffer seen since the previous Flush into a new
// Levels value and returns it. With nothing pending the previous value is
// returned unchanged.
func (m *Meter) Flush() Levels {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.pending {
		return m.levels
	}

	m.last = DBFS{
		RMS:       rmsDBFS(m.sumSquares, m.maxAbs, m.samples),
		Peak:      toDBFS(m.maxAbs),
		Supported: true,
	}
	m.levels = Levels{
		Average: m.table.Level(m.last.RMS),
		Peak:    m.table.Level(m.last.Peak),
	}
	m.sumSquares, m.maxAbs, m.samples, m.pending = 0, 0, 0, false
	return m.levels
}

// Levels returns the most recently flushed value without consuming the window.
func (m *Meter) Levels() Levels {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels
}

// LastDBFS returns the raw reading behind the most recent Flush.
func (m *Meter) LastDBFS() DBFS {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Reset drops the pending window and reports silence.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sumSquares, m.maxAbs, m.samples, m.pending = 0, 0, 0, false
	m.levels = Levels{}
	m.last = DBFS{RMS: math.Inf(-1), Peak: math.Inf(-1), Supported: true}
}
