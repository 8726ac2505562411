package meter

import (
	"math"
	"testing"

	"whispr-capture-service/internal/audio"
)

var mono = audio.Format{Channels: 1, SampleRate: 16000}

func TestMeasure_Int16Silence(t *testing.T) {
	buf := audio.NewInt16Buffer(mono, make([]int16, 512))

	d := Measure(buf)

	if !d.Supported {
		t.Fatal("expected int16 to be supported")
	}
	if math.IsNaN(d.RMS) || math.IsNaN(d.Peak) {
		t.Fatalf("silence must never be NaN, got rms=%v peak=%v", d.RMS, d.Peak)
	}
	if !math.IsInf(d.RMS, -1) {
		t.Errorf("expected RMS -Inf, got %v", d.RMS)
	}
	if !math.IsInf(d.Peak, -1) {
		t.Errorf("expected peak -Inf, got %v", d.Peak)
	}
	if !d.Silent() {
		t.Error("expected Silent() to be true")
	}
}

func TestMeasure_FullScale(t *testing.T) {
	tests := []struct {
		name string
		buf  audio.Buffer
	}{
		{"int16", audio.NewInt16Buffer(mono, repeat16(math.MaxInt16, 256))},
		{"int32", audio.NewInt32Buffer(mono, repeat32(math.MaxInt32, 256))},
		{"float32", audio.NewFloat32Buffer(mono, repeatF(1, 256))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Measure(tt.buf)
			if math.Abs(d.RMS) > 1e-9 {
				t.Errorf("expected RMS 0 dBFS, got %v", d.RMS)
			}
			if math.Abs(d.Peak) > 1e-9 {
				t.Errorf("expected peak 0 dBFS, got %v", d.Peak)
			}
		})
	}
}

func TestMeasure_PeakNotBelowRMS(t *testing.T) {
	samples := make([]int16, 1024)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*float64(i)/64))
	}
	samples[100] = 20000

	d := Measure(audio.NewInt16Buffer(mono, samples))

	if d.Peak < d.RMS {
		t.Errorf("peak %v below RMS %v", d.Peak, d.RMS)
	}
	if d.RMS >= 0 || d.Peak >= 0 {
		t.Errorf("expected negative dBFS for partial-scale signal, got rms=%v peak=%v", d.RMS, d.Peak)
	}
}

func TestMeasure_ConstantBuffersPeakNotBelowRMS(t *testing.T) {
	tests := []struct {
		name  string
		build func(i int) audio.Buffer
		steps int
	}{
		{
			name:  "int16",
			build: func(i int) audio.Buffer { return audio.NewInt16Buffer(mono, repeat16(int16(i), 1000)) },
			steps: math.MaxInt16,
		},
		{
			name:  "int32",
			build: func(i int) audio.Buffer { return audio.NewInt32Buffer(mono, repeat32(int32(i)*65537, 1000)) },
			steps: math.MaxInt16,
		},
		{
			name:  "float32",
			build: func(i int) audio.Buffer { return audio.NewFloat32Buffer(mono, repeatF(float32(i)/math.MaxInt16, 1000)) },
			steps: math.MaxInt16,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 1; i <= tt.steps; i++ {
				buf := tt.build(i)

				d := Measure(buf)
				if d.Peak < d.RMS {
					t.Fatalf("value %d: peak %v below RMS %v", i, d.Peak, d.RMS)
				}

				m := New()
				m.Process(buf)
				l := m.Flush()
				if l.Peak < l.Average {
					t.Fatalf("value %d: flushed peak %v below average %v", i, l.Peak, l.Average)
				}
			}
		})
	}
}

func TestMeasure_HalfScaleFloat(t *testing.T) {
	d := Measure(audio.NewFloat32Buffer(mono, repeatF(0.5, 128)))

	want := 20 * math.Log10(0.5)
	if math.Abs(d.RMS-want) > 1e-6 {
		t.Errorf("expected RMS %v, got %v", want, d.RMS)
	}
	if math.Abs(d.Peak-want) > 1e-6 {
		t.Errorf("expected peak %v, got %v", want, d.Peak)
	}
}

func TestMeasure_UnsupportedDepth(t *testing.T) {
	buf := audio.Buffer{
		Format: audio.Format{Sample: audio.SampleUnknown, Channels: 1, SampleRate: 8000, BitsPerChannel: 24},
		Frames: 4,
		Data:   []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
	}

	d := Measure(buf)

	if d.Supported {
		t.Error("expected unsupported reading")
	}
	if d.RMS != 0 || d.Peak != 0 {
		t.Errorf("expected zero reading, got rms=%v peak=%v", d.RMS, d.Peak)
	}
}

func TestMeasure_EmptyBuffer(t *testing.T) {
	d := Measure(audio.Buffer{Format: audio.Format{Sample: audio.SampleInt16, Channels: 1, SampleRate: 8000}})

	if math.IsNaN(d.RMS) || !math.IsInf(d.RMS, -1) {
		t.Errorf("expected -Inf for empty buffer, got %v", d.RMS)
	}
}

func TestTable_MonotonicAndClamped(t *testing.T) {
	table := NewTable()

	prev := -1.0
	for db := -160.0; db <= 10; db += 0.25 {
		v := table.Level(db)
		if v < 0 || v > 1 {
			t.Fatalf("level %v out of range at %v dB", v, db)
		}
		if v < prev {
			t.Fatalf("curve not monotonic at %v dB: %v < %v", db, v, prev)
		}
		prev = v
	}

	if table.Level(math.Inf(-1)) != 0 {
		t.Error("expected -Inf to map to 0")
	}
	if table.Level(math.NaN()) != 0 {
		t.Error("expected NaN to map to 0")
	}
	if table.Level(0) != 1 {
		t.Error("expected 0 dBFS to map to 1")
	}
}

func TestMeter_FlushAggregatesWindow(t *testing.T) {
	m := New()

	m.Process(audio.NewInt16Buffer(mono, make([]int16, 256)))
	m.Process(audio.NewInt16Buffer(mono, repeat16(math.MaxInt16, 256)))

	levels := m.Flush()
	if levels.Peak != 1 {
		t.Errorf("expected full-scale peak level 1, got %v", levels.Peak)
	}
	if levels.Average <= 0 || levels.Average >= 1 {
		t.Errorf("expected average strictly between 0 and 1, got %v", levels.Average)
	}
	if levels.Peak < levels.Average {
		t.Errorf("peak %v below average %v", levels.Peak, levels.Average)
	}

	// No new buffers: the previous value is held.
	if again := m.Flush(); again != levels {
		t.Errorf("expected held levels %+v, got %+v", levels, again)
	}
	if m.Levels() != levels {
		t.Errorf("Levels() = %+v, want %+v", m.Levels(), levels)
	}
}

func TestMeter_UnsupportedStaysZero(t *testing.T) {
	m := New()
	m.Process(audio.Buffer{Format: audio.Format{Channels: 1, SampleRate: 8000}, Data: make([]byte, 64)})

	if levels := m.Flush(); !levels.IsZero() {
		t.Errorf("expected zero levels, got %+v", levels)
	}
}

func TestMeter_Reset(t *testing.T) {
	m := New()
	m.Process(audio.NewFloat32Buffer(mono, repeatF(0.8, 64)))
	m.Flush()

	m.Reset()

	if !m.Levels().IsZero() {
		t.Errorf("expected zero levels after reset, got %+v", m.Levels())
	}
	if !m.LastDBFS().Silent() {
		t.Error("expected silent reading after reset")
	}
}

func repeat16(v int16, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func repeat32(v int32, n int) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func repeatF(v float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}
