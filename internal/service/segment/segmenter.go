package segment

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"whispr-capture-service/internal/service/stt"
)

// Range is a half-open rune range [Start, End) over the cumulative text.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of runes covered.
func (r Range) Len() int { return r.End - r.Start }

// Clamp limits the range to a text of n runes.
func (r Range) Clamp(n int) Range {
	if r.Start > n {
		r.Start = n
	}
	if r.End > n {
		r.End = n
	}
	if r.Start < 0 {
		r.Start = 0
	}
	if r.End < r.Start {
		r.End = r.Start
	}
	return r
}

// SpeechTimestamp anchors a range of the cumulative text to the wall-clock
// time it was spoken.
type SpeechTimestamp struct {
	WallClock time.Time `json:"wallClock"`
	Range     Range     `json:"range"`
}

// Update describes the effect of one processed result.
type Update struct {
	UtteranceID  string
	NewUtterance bool
	Text         string
	Timestamp    SpeechTimestamp
}

// Snapshot is a consistent copy of the segmenter state.
type Snapshot struct {
	Text       string
	Utterances []string
	Timestamps []SpeechTimestamp
}

// Segmenter accumulates results from one recognizer into a cumulative text.
// Thread-safe for concurrent access.
//
// Each result carries the best transcription of the current utterance and
// its segment count. While the count does not drop, the result replaces the
// current utterance slot. A drop means the recognizer started a fresh
// buffer, and the result opens a new slot. The very first result always
// opens the first slot.
//
// Every result appends one SpeechTimestamp whose range starts where the
// previous one ended and ends at max(text length, start), so ranges are
// contiguous and never shrink. Wall-clock times never go backwards.
type Segmenter struct {
	stream string
	ids    *Generator

	mu          sync.RWMutex
	utterances  []string
	utteranceID string
	lastCount   int
	fragments   int
	forceNew    bool
	text        string
	timestamps  []SpeechTimestamp
}

// NewSegmenter creates an empty segmenter; stream prefixes utterance IDs.
func NewSegmenter(stream string) *Segmenter {
	return &Segmenter{stream: stream, ids: New()}
}

// Begin marks a new recognition session. The next result opens a new
// utterance regardless of its segment count, so text from earlier sessions
// is kept.
func (s *Segmenter) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fragments > 0 {
		s.forceNew = true
	}
}

// Process applies one recognizer result. startedAt is the wall-clock time
// recognition started; the result's relative timestamp is added to it.
func (s *Segmenter) Process(startedAt time.Time, r stt.Result) Update {
	count := len(r.Segments)
	if count == 0 {
		count = len(strings.Fields(r.Transcription))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	newUtterance := len(s.utterances) == 0 ||
		s.forceNew ||
		(s.fragments > 0 && count < s.lastCount)

	if newUtterance {
		s.utterances = append(s.utterances, r.Transcription)
		s.utteranceID = s.ids.Next(s.stream)
		s.forceNew = false
	} else {
		s.utterances[len(s.utterances)-1] = r.Transcription
	}
	s.lastCount = count
	s.fragments++
	s.text = strings.Join(s.utterances, " ")

	start := 0
	wall := startedAt.Add(r.Timestamp())
	if n := len(s.timestamps); n > 0 {
		prev := s.timestamps[n-1]
		start = prev.Range.End
		if wall.Before(prev.WallClock) {
			wall = prev.WallClock
		}
	}
	end := utf8.RuneCountInString(s.text)
	if end < start {
		end = start
	}
	ts := SpeechTimestamp{
		WallClock: wall,
		Range:     Range{Start: start, End: end},
	}
	s.timestamps = append(s.timestamps, ts)

	return Update{
		UtteranceID:  s.utteranceID,
		NewUtterance: newUtterance,
		Text:         s.text,
		Timestamp:    ts,
	}
}

// Text returns the cumulative transcript.
func (s *Segmenter) Text() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.text
}

// Utterances returns a copy of the utterance slots.
func (s *Segmenter) Utterances() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.utterances...)
}

// Timestamps returns a copy of the anchors.
func (s *Segmenter) Timestamps() []SpeechTimestamp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SpeechTimestamp(nil), s.timestamps...)
}

// Snapshot returns text, utterances and anchors read under one lock.
func (s *Segmenter) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Text:       s.text,
		Utterances: append([]string(nil), s.utterances...),
		Timestamps: append([]SpeechTimestamp(nil), s.timestamps...),
	}
}

// Reset discards all text and anchors.
func (s *Segmenter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.utterances = nil
	s.utteranceID = ""
	s.lastCount = 0
	s.fragments = 0
	s.forceNew = false
	s.text = ""
	s.timestamps = nil
}

// Slice returns the runes of text covered by r, clamped to the text.
func Slice(text string, r Range) string {
	n := utf8.RuneCountInString(text)
	r = r.Clamp(n)
	if r.Len() == 0 {
		return ""
	}
	if n == len(text) {
		return text[r.Start:r.End]
	}
	runes := []rune(text)
	return string(runes[r.Start:r.End])
}
