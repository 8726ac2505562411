package mock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"whispr-capture-service/internal/audio"
	"whispr-capture-service/internal/service/stt"
)

// testCallback implements stt.Callback for testing
type testCallback struct {
	mu      sync.Mutex
	results []stt.Result
	errors  []error
}

func (c *testCallback) OnResult(r stt.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
}

func (c *testCallback) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, err)
}

func (c *testCallback) getResults() []stt.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]stt.Result{}, c.results...)
}

func (c *testCallback) waitFor(t *testing.T, n int) []stt.Result {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r := c.getResults(); len(r) >= n {
			return r
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d results, got %d", n, len(c.getResults()))
	return nil
}

var format = audio.Format{Sample: audio.SampleInt16, Channels: 1, SampleRate: 1000, BitsPerChannel: 16}

func buffer() audio.Buffer {
	// 100 ms at 1 kHz
	return audio.NewInt16Buffer(format, make([]int16, 100))
}

func testConfig(utterances ...string) Config {
	return Config{Utterances: utterances, BuffersPerWord: 1, Confidence: 0.9, QueueSize: 16}
}

func TestAdapter_New(t *testing.T) {
	adapter := New(DefaultConfig(), "en-US")
	if adapter == nil {
		t.Fatal("expected non-nil adapter")
	}
	if adapter.closed {
		t.Error("expected adapter to not be closed initially")
	}
	if adapter.Locale() != "en-US" {
		t.Errorf("expected locale en-US, got %s", adapter.Locale())
	}
	if adapter.Provider() != "mock" {
		t.Errorf("expected provider mock, got %s", adapter.Provider())
	}
}

func TestAdapter_SendAudioBeforeStart(t *testing.T) {
	adapter := New(testConfig("a"), "en-US")

	if err := adapter.SendAudio(context.Background(), buffer()); !errors.Is(err, stt.ErrNotStarted) {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}
}

func TestAdapter_GrowingTranscription(t *testing.T) {
	adapter := New(testConfig("hello big world"), "en-US")
	cb := &testCallback{}
	if err := adapter.Start(context.Background(), cb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer adapter.Close()

	for i := 0; i < 3; i++ {
		if err := adapter.SendAudio(context.Background(), buffer()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	results := cb.waitFor(t, 3)

	want := []string{"hello", "hello big", "hello big world"}
	for i, w := range want {
		if results[i].Transcription != w {
			t.Errorf("result %d: expected %q, got %q", i, w, results[i].Transcription)
		}
		if len(results[i].Segments) != i+1 {
			t.Errorf("result %d: expected %d segments, got %d", i, i+1, len(results[i].Segments))
		}
	}
	if !results[2].IsFinal {
		t.Error("expected last word to mark the result final")
	}
	if results[2].Timestamp() != 300*time.Millisecond {
		t.Errorf("expected timestamp 300ms, got %v", results[2].Timestamp())
	}
	if results[2].Segments[0].Timestamp != 100*time.Millisecond {
		t.Errorf("expected first word to keep its timestamp, got %v", results[2].Segments[0].Timestamp)
	}
}

func TestAdapter_SegmentCountResetsOnNewUtterance(t *testing.T) {
	adapter := New(testConfig("one two", "three"), "en-US")
	cb := &testCallback{}
	adapter.Start(context.Background(), cb)
	defer adapter.Close()

	for i := 0; i < 4; i++ {
		adapter.SendAudio(context.Background(), buffer())
	}

	results := cb.waitFor(t, 4)

	counts := []int{1, 2, 1, 1}
	texts := []string{"one", "one two", "three", "one"}
	for i := range counts {
		if len(results[i].Segments) != counts[i] {
			t.Errorf("result %d: expected %d segments, got %d", i, counts[i], len(results[i].Segments))
		}
		if results[i].Transcription != texts[i] {
			t.Errorf("result %d: expected %q, got %q", i, texts[i], results[i].Transcription)
		}
	}
}

func TestAdapter_BuffersPerWord(t *testing.T) {
	cfg := testConfig("a b c")
	cfg.BuffersPerWord = 3
	adapter := New(cfg, "en-US")
	cb := &testCallback{}
	adapter.Start(context.Background(), cb)

	for i := 0; i < 7; i++ {
		adapter.SendAudio(context.Background(), buffer())
	}
	cb.waitFor(t, 2)
	adapter.Close()

	if n := len(cb.getResults()); n != 2 {
		t.Errorf("expected 2 results for 7 buffers, got %d", n)
	}
}

func TestAdapter_QueueFull(t *testing.T) {
	cfg := testConfig("a")
	cfg.QueueSize = 1
	cfg.Delay = time.Second
	adapter := New(cfg, "en-US")
	adapter.Start(context.Background(), &testCallback{})
	defer adapter.Close()

	var dropped bool
	for i := 0; i < 10; i++ {
		if err := adapter.SendAudio(context.Background(), buffer()); errors.Is(err, stt.ErrQueueFull) {
			dropped = true
		}
	}
	if !dropped {
		t.Error("expected a full queue to drop buffers")
	}
}

func TestAdapter_CloseStopsCallbacks(t *testing.T) {
	cfg := testConfig("a b c d e f")
	cfg.Delay = 50 * time.Millisecond
	adapter := New(cfg, "en-US")
	cb := &testCallback{}
	adapter.Start(context.Background(), cb)

	for i := 0; i < 5; i++ {
		adapter.SendAudio(context.Background(), buffer())
	}
	if err := adapter.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after := len(cb.getResults())

	time.Sleep(150 * time.Millisecond)

	if n := len(cb.getResults()); n != after {
		t.Errorf("expected no callbacks after Close, got %d more", n-after)
	}
	if err := adapter.SendAudio(context.Background(), buffer()); !errors.Is(err, stt.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := adapter.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}
	if err := adapter.Start(context.Background(), cb); !errors.Is(err, stt.ErrClosed) {
		t.Errorf("expected ErrClosed on restart, got %v", err)
	}
}

func TestAdapter_EmptyUtterancesFallBackToDefaults(t *testing.T) {
	adapter := New(testConfig("", "  "), "en-US")
	if len(adapter.cfg.Utterances) != len(DefaultUtterances) {
		t.Errorf("expected default utterances, got %v", adapter.cfg.Utterances)
	}
}

func TestNewFactory(t *testing.T) {
	factory := NewFactory(testConfig("x"))

	a, err := factory(context.Background(), "de-DE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.(*Adapter).Locale() != "de-DE" {
		t.Errorf("expected factory to bind locale, got %s", a.(*Adapter).Locale())
	}
}
