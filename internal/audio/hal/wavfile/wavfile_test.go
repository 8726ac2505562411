package wavfile

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"whispr-capture-service/internal/audio"
)

func writeClip(t *testing.T, format audio.Format, samples []int16) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := Save(path, format, samples); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	return path
}

func TestLoad_RoundTrip(t *testing.T) {
	format := audio.Format{Channels: 1, SampleRate: 8000}
	samples := make([]int16, 8000)
	for i := range samples {
		samples[i] = int16(i % 1000)
	}
	path := writeClip(t, format, samples)

	clip, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if clip.Format.SampleRate != 8000 || clip.Format.Channels != 1 {
		t.Errorf("unexpected format %v", clip.Format)
	}
	if clip.Format.Sample != audio.SampleInt16 {
		t.Errorf("expected int16 samples, got %v", clip.Format.Sample)
	}
	if len(clip.Samples) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(clip.Samples))
	}
	if clip.Samples[999] != 999 {
		t.Errorf("sample mismatch: got %d", clip.Samples[999])
	}
	if clip.Duration() != time.Second {
		t.Errorf("expected 1s duration, got %v", clip.Duration())
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.wav")
	if err := os.WriteFile(path, []byte("definitely not riff data"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); !errors.Is(err, ErrInvalidFile) {
		t.Errorf("expected ErrInvalidFile, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRescale(t *testing.T) {
	tests := []struct {
		name string
		v    int
		bits int
		want int16
	}{
		{"16-bit passthrough", -1234, 16, -1234},
		{"8-bit midpoint", 128, 8, 0},
		{"8-bit max", 255, 8, 127 << 8},
		{"24-bit", 0x7FFFFF, 24, 0x7FFF},
		{"32-bit negative", -1 << 31, 32, -1 << 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rescale(tt.v, tt.bits); got != tt.want {
				t.Errorf("rescale(%d, %d) = %d, want %d", tt.v, tt.bits, got, tt.want)
			}
		})
	}
}

func TestReader_ChunksAndLoops(t *testing.T) {
	clip := &Clip{
		Format:  audio.Format{Sample: audio.SampleInt16, Channels: 1, SampleRate: 10, BitsPerChannel: 16},
		Samples: []int16{1, 2, 3, 4, 5},
	}

	r := &reader{clip: clip, frames: 2}
	var sizes []int
	for {
		b, ok := r.Next()
		if !ok {
			break
		}
		sizes = append(sizes, b.Frames)
	}
	if len(sizes) != 3 || sizes[0] != 2 || sizes[2] != 1 {
		t.Errorf("unexpected chunk sizes %v", sizes)
	}

	looping := &reader{clip: clip, frames: 5, loop: true}
	for i := 0; i < 3; i++ {
		if _, ok := looping.Next(); !ok {
			t.Fatalf("looping reader ended at iteration %d", i)
		}
	}
}

func TestNewDriver_ReplaysThroughInputSession(t *testing.T) {
	format := audio.Format{Channels: 1, SampleRate: 1000}
	path := writeClip(t, format, make([]int16, 100))
	clip, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	d := NewDriver(clip, Options{Chunk: 10 * time.Millisecond})
	defer d.Close()

	var mu sync.Mutex
	var frames int
	sess, err := d.OpenInput("wav", func(b audio.Buffer) {
		mu.Lock()
		frames += b.Frames
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("OpenInput failed: %v", err)
	}
	if err := sess.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := frames >= 100
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	_ = sess.Stop()

	mu.Lock()
	defer mu.Unlock()
	if frames != 100 {
		t.Errorf("expected all 100 frames replayed, got %d", frames)
	}
}
