// Package meter turns raw PCM buffers into loudness readings: dBFS for RMS and
// peak amplitude, and a perceptually scaled [0, 1] level pair for display.
package meter

import (
	"math"

	"whispr-capture-service/internal/audio"
)

// DBFS is the loudness of one buffer relative to full scale.
// Silence is reported as -Inf, never NaN.
type DBFS struct {
	RMS       float64
	Peak      float64
	Supported bool
}

// Silent reports whether the reading carries no signal.
func (d DBFS) Silent() bool {
	return math.IsInf(d.RMS, -1)
}

// Measure computes RMS and peak dBFS for one buffer.
//
// An unsupported sample encoding yields the zero DBFS value with
// Supported=false, so the pipeline keeps running with a zero reading.
func Measure(b audio.Buffer) DBFS {
	sumSquares, maxAbs, n, ok := accumulate(b)
	if !ok {
		return DBFS{}
	}
	return DBFS{
		RMS:       rmsDBFS(sumSquares, maxAbs, n),
		Peak:      toDBFS(maxAbs),
		Supported: true,
	}
}

func accumulate(b audio.Buffer) (sumSquares, maxAbs float64, n int, ok bool) {
	if b.Format.Sample.BytesPerSample() == 0 {
		return 0, 0, 0, false
	}
	n = b.Samples()
	for i := 0; i < n; i++ {
		v := b.Sample(i)
		sumSquares += v * v
		if a := math.Abs(v); a > maxAbs {
			maxAbs = a
		}
	}
	return sumSquares, maxAbs, n, true
}

// rmsDBFS never exceeds the peak: for constant buffers the square root can
// round one ULP above maxAbs.
func rmsDBFS(sumSquares, maxAbs float64, n int) float64 {
	if n == 0 {
		return math.Inf(-1)
	}
	rms := math.Sqrt(sumSquares / float64(n))
	if rms > maxAbs {
		rms = maxAbs
	}
	return toDBFS(rms)
}

func toDBFS(amplitude float64) float64 {
	if amplitude <= 0 || math.IsNaN(amplitude) {
		return math.Inf(-1)
	}
	return 20 * math.Log10(amplitude)
}
