// Package audio defines the raw audio buffers, source descriptors and
// capture error kinds shared by the capture, metering and recognition layers.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SampleFormat is the encoding of a single sample in a Buffer.
type SampleFormat int

const (
	// SampleUnknown marks a bit depth the meter and converters cannot read.
	SampleUnknown SampleFormat = iota
	// SampleInt16 is signed 16-bit little-endian PCM.
	SampleInt16
	// SampleInt32 is signed 32-bit little-endian PCM.
	SampleInt32
	// SampleFloat32 is IEEE-754 32-bit float, already normalised to [-1, 1].
	SampleFloat32
)

// String returns the string representation of the sample format.
func (f SampleFormat) String() string {
	switch f {
	case SampleInt16:
		return "int16"
	case SampleInt32:
		return "int32"
	case SampleFloat32:
		return "float32"
	default:
		return fmt.Sprintf("unknown(%d)", int(f))
	}
}

// BytesPerSample returns the width of one sample, or 0 for SampleUnknown.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case SampleInt16:
		return 2
	case SampleInt32, SampleFloat32:
		return 4
	default:
		return 0
	}
}

// FormatFromBits maps a declared bit depth to a SampleFormat.
// Anything other than 16-bit int, 32-bit int or 32-bit float is SampleUnknown.
func FormatFromBits(bits int, float bool) SampleFormat {
	switch {
	case bits == 16 && !float:
		return SampleInt16
	case bits == 32 && float:
		return SampleFloat32
	case bits == 32:
		return SampleInt32
	default:
		return SampleUnknown
	}
}

// Format describes the layout of the samples delivered by a capture device.
type Format struct {
	Sample         SampleFormat
	Channels       int
	SampleRate     int
	BitsPerChannel int
}

// Valid reports whether the format can describe a live stream at all.
// An unknown sample encoding is still valid: metering degrades to zero for it.
func (f Format) Valid() bool {
	return f.Channels > 0 && f.SampleRate > 0
}

func (f Format) String() string {
	return fmt.Sprintf("%s/%dch/%dHz", f.Sample, f.Channels, f.SampleRate)
}

// Buffer is one block of interleaved samples handed over by a hardware callback.
//
// Data is owned by the callback for the duration of the call only. Anything
// that keeps a Buffer past the callback (the recognizer queue, for example)
// must hold a Clone.
type Buffer struct {
	Format Format
	Frames int
	Data   []byte
}

// Clone returns a deep copy whose Data no longer aliases the callback's memory.
func (b Buffer) Clone() Buffer {
	data := make([]byte, len(b.Data))
	copy(data, b.Data)
	return Buffer{Format: b.Format, Frames: b.Frames, Data: data}
}

// Samples returns the number of complete interleaved samples held in Data.
func (b Buffer) Samples() int {
	width := b.Format.Sample.BytesPerSample()
	if width == 0 {
		return 0
	}
	n := len(b.Data) / width
	if b.Frames > 0 && b.Format.Channels > 0 && b.Frames*b.Format.Channels < n {
		n = b.Frames * b.Format.Channels
	}
	return n
}

// Sample returns the i-th interleaved sample normalised to [-1, 1].
// Integer formats are divided by their maximum positive magnitude, so the most
// negative integer value maps slightly below -1.
func (b Buffer) Sample(i int) float64 {
	switch b.Format.Sample {
	case SampleInt16:
		v := int16(binary.LittleEndian.Uint16(b.Data[i*2:]))
		return float64(v) / math.MaxInt16
	case SampleInt32:
		v := int32(binary.LittleEndian.Uint32(b.Data[i*4:]))
		return float64(v) / math.MaxInt32
	case SampleFloat32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b.Data[i*4:])))
	default:
		return 0
	}
}

// PCM16 converts the buffer into little-endian signed 16-bit PCM, keeping the
// channel layout. Recognizers that only accept LINEAR16 feed on this.
func (b Buffer) PCM16() ([]byte, error) {
	if b.Format.Sample == SampleInt16 {
		n := b.Samples() * 2
		out := make([]byte, n)
		copy(out, b.Data[:n])
		return out, nil
	}
	if b.Format.Sample == SampleUnknown {
		return nil, fmt.Errorf("%w: %s", ErrFormatUnsupported, b.Format)
	}
	n := b.Samples()
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := b.Sample(i)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(math.Round(v*math.MaxInt16))))
	}
	return out, nil
}

// NewInt16Buffer packs samples as a 16-bit buffer. Mostly used by drivers
// that synthesise or decode audio.
func NewInt16Buffer(format Format, samples []int16) Buffer {
	format.Sample = SampleInt16
	format.BitsPerChannel = 16
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	frames := len(samples)
	if format.Channels > 0 {
		frames = len(samples) / format.Channels
	}
	return Buffer{Format: format, Frames: frames, Data: data}
}

// NewFloat32Buffer packs samples as a 32-bit float buffer.
func NewFloat32Buffer(format Format, samples []float32) Buffer {
	format.Sample = SampleFloat32
	format.BitsPerChannel = 32
	data := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(s))
	}
	frames := len(samples)
	if format.Channels > 0 {
		frames = len(samples) / format.Channels
	}
	return Buffer{Format: format, Frames: frames, Data: data}
}

// NewInt32Buffer packs samples as a 32-bit integer buffer.
func NewInt32Buffer(format Format, samples []int32) Buffer {
	format.Sample = SampleInt32
	format.BitsPerChannel = 32
	data := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(data[i*4:], uint32(s))
	}
	frames := len(samples)
	if format.Channels > 0 {
		frames = len(samples) / format.Channels
	}
	return Buffer{Format: format, Frames: frames, Data: data}
}
