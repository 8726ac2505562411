// Package stt defines the interface for Speech-to-Text adapters.
package stt

import (
	"context"
	"errors"
	"strings"
	"time"

	"whispr-capture-service/internal/audio"
)

// Errors shared by adapters.
var (
	ErrClosed     = errors.New("recognizer is closed")
	ErrNotStarted = errors.New("recognizer not started")
	ErrQueueFull  = errors.New("recognizer queue full, buffer dropped")
)

// Segment is one recognized unit (usually a word) of the current
// transcription. Timestamp is relative to the start of recognition.
type Segment struct {
	Text       string
	Confidence float64
	Timestamp  time.Duration
	Duration   time.Duration
}

// Result is one callback from the recognizer: the best transcription of the
// current utterance so far and the segments it is made of. The segment count
// grows while the utterance continues and drops when the recognizer starts
// a fresh internal buffer.
type Result struct {
	Transcription string
	Segments      []Segment
	IsFinal       bool
}

// Timestamp returns the relative timestamp of the result: the start of its
// last segment, or zero when there are none.
func (r Result) Timestamp() time.Duration {
	if len(r.Segments) == 0 {
		return 0
	}
	return r.Segments[len(r.Segments)-1].Timestamp
}

// Confidence returns the mean segment confidence.
func (r Result) Confidence() float64 {
	if len(r.Segments) == 0 {
		return 0
	}
	var sum float64
	for _, s := range r.Segments {
		sum += s.Confidence
	}
	return sum / float64(len(r.Segments))
}

// WordSegments splits a transcription into one segment per word, all at ts.
func WordSegments(transcription string, confidence float64, ts time.Duration) []Segment {
	words := strings.Fields(transcription)
	segs := make([]Segment, len(words))
	for i, w := range words {
		segs[i] = Segment{Text: w, Confidence: confidence, Timestamp: ts}
	}
	return segs
}

// Callback receives results from the STT provider. Calls arrive on the
// adapter's goroutine, never on the caller of SendAudio.
type Callback interface {
	// OnResult is called for every partial or final result.
	OnResult(r Result)

	// OnError is called when an error occurs during transcription.
	OnError(err error)
}

// Adapter defines the interface for STT providers (Google, mock, ...).
type Adapter interface {
	// Start begins a streaming transcription session.
	Start(ctx context.Context, cb Callback) error

	// SendAudio enqueues a buffer without blocking. The adapter keeps its
	// own copy. A full queue drops the buffer and returns ErrQueueFull.
	SendAudio(ctx context.Context, buf audio.Buffer) error

	// Close cancels the session and releases resources. No callbacks are
	// made once Close returns, except one that was already executing.
	Close() error

	// Provider names the engine for logs and metrics.
	Provider() string
}

// Factory creates a recognizer bound to locale. The locale cannot be changed
// on a live adapter.
type Factory func(ctx context.Context, locale string) (Adapter, error)
