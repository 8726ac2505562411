// Package mock provides a mock STT adapter for testing without cloud credentials.
// It simulates a streaming recognizer: each utterance is reported as a growing
// transcription with one segment per word, and the segment count falls back
// to one whenever a new utterance begins.
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"whispr-capture-service/internal/audio"
	"whispr-capture-service/internal/observability/metrics"
	"whispr-capture-service/internal/service/stt"
)

const provider = "mock"

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []string{
	"let's start with the quarterly numbers",
	"revenue is up twelve percent",
	"we still need a date for the launch review",
	"can everyone send their notes by friday",
	"thanks everyone",
}

// Config shapes the simulation.
type Config struct {
	Utterances []string
	// BuffersPerWord is how many audio buffers reveal one more word.
	BuffersPerWord int
	Confidence     float64
	QueueSize      int
	// Delay before each result is delivered.
	Delay time.Duration
}

// DefaultConfig returns the default simulation settings.
func DefaultConfig() Config {
	return Config{
		Utterances:     DefaultUtterances,
		BuffersPerWord: 5,
		Confidence:     0.92,
		QueueSize:      64,
		Delay:          20 * time.Millisecond,
	}
}

// Adapter implements stt.Adapter with simulated responses.
type Adapter struct {
	cfg    Config
	locale string
	queue  chan audio.Buffer

	mu      sync.Mutex
	cb      stt.Callback
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}

	// worker state
	utterance int
	revealed  []time.Duration
	buffers   int
	elapsed   time.Duration
}

var _ stt.Adapter = (*Adapter)(nil)

// New creates a new mock STT adapter.
func New(cfg Config, locale string) *Adapter {
	var utterances []string
	for _, u := range cfg.Utterances {
		if strings.TrimSpace(u) != "" {
			utterances = append(utterances, u)
		}
	}
	if len(utterances) == 0 {
		utterances = DefaultUtterances
	}
	cfg.Utterances = utterances
	if cfg.BuffersPerWord <= 0 {
		cfg.BuffersPerWord = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Adapter{
		cfg:    cfg,
		locale: locale,
		queue:  make(chan audio.Buffer, cfg.QueueSize),
	}
}

// NewFactory returns an stt.Factory producing mock adapters.
func NewFactory(cfg Config) stt.Factory {
	return func(_ context.Context, locale string) (stt.Adapter, error) {
		return New(cfg, locale), nil
	}
}

// Provider implements stt.Adapter.
func (a *Adapter) Provider() string { return provider }

// Locale returns the locale the adapter was created for.
func (a *Adapter) Locale() string { return a.locale }

// Start begins a mock transcription session.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return stt.ErrClosed
	}
	if a.started {
		return nil
	}
	a.cb = cb
	a.started = true

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.run(ctx)
	return nil
}

// SendAudio enqueues a copy of buf for the worker.
func (a *Adapter) SendAudio(ctx context.Context, buf audio.Buffer) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return stt.ErrClosed
	}
	if !a.started {
		return stt.ErrNotStarted
	}

	select {
	case a.queue <- buf.Clone():
		return nil
	default:
		metrics.DefaultMetrics.RecordSTTDropped(provider)
		return stt.ErrQueueFull
	}
}

// Close ends the mock session. Safe to call more than once.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	cancel, done := a.cancel, a.done
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

func (a *Adapter) run(ctx context.Context) {
	defer close(a.done)

	for {
		select {
		case <-ctx.Done():
			return
		case buf := <-a.queue:
			r, ok := a.advance(buf)
			if !ok {
				continue
			}
			if a.cfg.Delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(a.cfg.Delay):
				}
			}
			a.mu.Lock()
			cb := a.cb
			a.mu.Unlock()
			if cb != nil && ctx.Err() == nil {
				cb.OnResult(r)
			}
		}
	}
}

// advance consumes one buffer and reports whether it revealed a word.
func (a *Adapter) advance(buf audio.Buffer) (stt.Result, bool) {
	if buf.Format.SampleRate > 0 {
		a.elapsed += time.Duration(buf.Frames) * time.Second / time.Duration(buf.Format.SampleRate)
	}
	a.buffers++
	if a.buffers%a.cfg.BuffersPerWord != 0 {
		return stt.Result{}, false
	}

	words := strings.Fields(a.cfg.Utterances[a.utterance%len(a.cfg.Utterances)])
	if len(a.revealed) >= len(words) {
		a.utterance++
		a.revealed = a.revealed[:0]
		words = strings.Fields(a.cfg.Utterances[a.utterance%len(a.cfg.Utterances)])
	}
	// Earlier words keep the timestamp they were revealed at.
	a.revealed = append(a.revealed, a.elapsed)
	n := len(a.revealed)

	segs := make([]stt.Segment, n)
	for i := range segs {
		segs[i] = stt.Segment{Text: words[i], Confidence: a.cfg.Confidence, Timestamp: a.revealed[i]}
	}

	return stt.Result{
		Transcription: strings.Join(words[:n], " "),
		Segments:      segs,
		IsFinal:       n == len(words),
	}, true
}
