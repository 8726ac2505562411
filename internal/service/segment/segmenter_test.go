package segment

import (
	"strings"
	"sync"
	"testing"
	"time"

	"whispr-capture-service/internal/service/stt"
)

var start = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

// fragment builds a result whose segment count is segs.
func fragment(text string, segs int, ts time.Duration) stt.Result {
	r := stt.Result{Transcription: text}
	for i := 0; i < segs; i++ {
		r.Segments = append(r.Segments, stt.Segment{Text: "w", Confidence: 0.9, Timestamp: ts})
	}
	return r
}

func TestSegmenter_FirstFragmentOpensUtterance(t *testing.T) {
	s := NewSegmenter("microphone")

	u := s.Process(start, fragment("hello", 1, time.Second))

	if !u.NewUtterance {
		t.Error("expected first fragment to open an utterance")
	}
	if u.UtteranceID != "microphone-utt-1" {
		t.Errorf("expected microphone-utt-1, got %s", u.UtteranceID)
	}
	if s.Text() != "hello" {
		t.Errorf("expected 'hello', got %q", s.Text())
	}
	if u.Timestamp.Range != (Range{0, 5}) {
		t.Errorf("expected range [0,5), got %+v", u.Timestamp.Range)
	}
	if !u.Timestamp.WallClock.Equal(start.Add(time.Second)) {
		t.Errorf("expected wall clock start+1s, got %v", u.Timestamp.WallClock)
	}
}

func TestSegmenter_SegmentCountReset(t *testing.T) {
	s := NewSegmenter("system")

	fragments := []struct {
		text string
		segs int
	}{
		{"one", 1},
		{"one two", 2},
		{"one two three", 3},
		{"four", 1},
		{"four five", 2},
	}
	for i, f := range fragments {
		s.Process(start, fragment(f.text, f.segs, time.Duration(i)*time.Second))
	}

	utterances := s.Utterances()
	if len(utterances) != 2 {
		t.Fatalf("expected exactly 2 utterances, got %d: %v", len(utterances), utterances)
	}
	if s.Text() != "one two three four five" {
		t.Errorf("expected cumulative text, got %q", s.Text())
	}
}

func TestSegmenter_HelloWorldHi(t *testing.T) {
	s := NewSegmenter("microphone")

	s.Process(start, fragment("hello", 1, 0))
	s.Process(start, fragment("hello world", 2, 0))
	u := s.Process(start, fragment("hi", 1, 0))

	if !u.NewUtterance {
		t.Error("expected reset to open a new utterance")
	}
	if s.Text() != "hello world hi" {
		t.Errorf("expected 'hello world hi', got %q", s.Text())
	}
}

func TestSegmenter_EqualCountOverwrites(t *testing.T) {
	s := NewSegmenter("microphone")

	s.Process(start, fragment("hello", 1, 0))
	u := s.Process(start, fragment("yellow", 1, 0))

	if u.NewUtterance {
		t.Error("equal segment count must not open an utterance")
	}
	if s.Text() != "yellow" {
		t.Errorf("expected replacement, got %q", s.Text())
	}
}

func TestSegmenter_RangesContiguousAndNonShrinking(t *testing.T) {
	s := NewSegmenter("microphone")

	inputs := []stt.Result{
		fragment("the quick", 2, 0),
		fragment("the quick brown", 3, time.Second),
		fragment("the", 3, 2*time.Second), // shorter text, same count
		fragment("fox", 1, 3*time.Second),
		fragment("", 0, 4*time.Second),
		fragment("fox jumps", 2, 5*time.Second),
	}
	for _, r := range inputs {
		s.Process(start, r)
	}

	ts := s.Timestamps()
	if len(ts) != len(inputs) {
		t.Fatalf("expected %d anchors, got %d", len(inputs), len(ts))
	}
	if ts[0].Range.Start != 0 {
		t.Errorf("first anchor must start at 0, got %d", ts[0].Range.Start)
	}
	for i, a := range ts {
		if a.Range.End < a.Range.Start {
			t.Errorf("anchor %d shrinks: %+v", i, a.Range)
		}
		if i > 0 && ts[i-1].Range.End != a.Range.Start {
			t.Errorf("anchor %d not contiguous: prev end %d, start %d", i, ts[i-1].Range.End, a.Range.Start)
		}
		if i > 0 && a.WallClock.Before(ts[i-1].WallClock) {
			t.Errorf("anchor %d out of order", i)
		}
	}
}

func TestSegmenter_UnicodeOffsetsAreRunes(t *testing.T) {
	s := NewSegmenter("microphone")

	u := s.Process(start, fragment("café ☕", 2, 0))

	if u.Timestamp.Range.End != 6 {
		t.Errorf("expected rune length 6, got %d", u.Timestamp.Range.End)
	}
	if got := Slice(s.Text(), Range{5, 6}); got != "☕" {
		t.Errorf("expected rune slice, got %q", got)
	}
}

func TestSegmenter_BeginKeepsEarlierSessions(t *testing.T) {
	s := NewSegmenter("microphone")

	s.Process(start, fragment("first session", 2, 0))
	s.Begin()
	u := s.Process(start.Add(time.Minute), fragment("again", 1, 0))

	if !u.NewUtterance {
		t.Error("expected a new session to open a new utterance")
	}
	if s.Text() != "first session again" {
		t.Errorf("expected earlier text kept, got %q", s.Text())
	}

	// Begin on an empty segmenter has no effect.
	empty := NewSegmenter("microphone")
	empty.Begin()
	if u := empty.Process(start, fragment("x", 1, 0)); u.UtteranceID != "microphone-utt-1" {
		t.Errorf("unexpected utterance ID %s", u.UtteranceID)
	}
}

func TestSegmenter_ResultWithoutSegmentsCountsWords(t *testing.T) {
	s := NewSegmenter("microphone")

	s.Process(start, stt.Result{Transcription: "a b c"})
	u := s.Process(start, stt.Result{Transcription: "d"})

	if !u.NewUtterance {
		t.Error("expected word count drop to open a new utterance")
	}
}

func TestSegmenter_SnapshotAndReset(t *testing.T) {
	s := NewSegmenter("microphone")
	s.Process(start, fragment("hello", 1, 0))

	snap := s.Snapshot()
	s.Process(start, fragment("hello there", 2, 0))

	if snap.Text != "hello" || len(snap.Timestamps) != 1 || len(snap.Utterances) != 1 {
		t.Errorf("snapshot changed after later processing: %+v", snap)
	}

	s.Reset()
	if s.Text() != "" || len(s.Timestamps()) != 0 || len(s.Utterances()) != 0 {
		t.Error("expected empty segmenter after reset")
	}
}

func TestSegmenter_ConcurrentReaders(t *testing.T) {
	s := NewSegmenter("microphone")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		words := []string{}
		for i := 0; i < 200; i++ {
			words = append(words, "w")
			s.Process(start, fragment(strings.Join(words, " "), len(words), 0))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			snap := s.Snapshot()
			if n := len(snap.Timestamps); n > 0 && snap.Timestamps[n-1].Range.End > len([]rune(snap.Text)) {
				t.Error("snapshot anchors beyond text")
				return
			}
		}
	}()
	wg.Wait()
}

func TestSlice(t *testing.T) {
	tests := []struct {
		name string
		text string
		r    Range
		want string
	}{
		{"inside", "hello world", Range{6, 11}, "world"},
		{"clamped end", "hello", Range{3, 50}, "lo"},
		{"start past end", "hello", Range{9, 12}, ""},
		{"inverted", "hello", Range{3, 1}, ""},
		{"negative", "hello", Range{-2, 2}, "he"},
		{"unicode", "naïve", Range{2, 3}, "ï"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Slice(tt.text, tt.r); got != tt.want {
				t.Errorf("Slice(%q, %+v) = %q, want %q", tt.text, tt.r, got, tt.want)
			}
		})
	}
}

func TestSegmenter_WallClockNeverGoesBackwards(t *testing.T) {
	s := NewSegmenter("microphone")

	s.Process(start, fragment("a b", 2, 5*time.Second))
	u := s.Process(start, fragment("c", 1, time.Second))

	if !u.Timestamp.WallClock.Equal(start.Add(5 * time.Second)) {
		t.Errorf("expected wall clock held at start+5s, got %v", u.Timestamp.WallClock)
	}
}
