// Package orchestrator coordinates the per-source streams and compiles their
// transcripts into one note body.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"whispr-capture-service/internal/audio"
	"whispr-capture-service/internal/models"
	"whispr-capture-service/internal/observability/logging"
	"whispr-capture-service/internal/observability/metrics"
	audioservice "whispr-capture-service/internal/service/audio"
	"whispr-capture-service/internal/service/segment"
)

var (
	ErrUnknownSource      = errors.New("no stream for source kind")
	ErrLocaleLocked       = errors.New("locale cannot change while streaming")
	ErrDescriptorMismatch = errors.New("descriptor does not match source kind")
)

// DefaultCompileInterval is the note compilation cadence.
const DefaultCompileInterval = time.Second

// Sink receives compiled notes and transcript updates. events.Publisher
// satisfies it.
type Sink interface {
	PublishNote(ctx context.Context, note models.NoteSnapshot) error
	PublishTranscript(ctx context.Context, update models.TranscriptUpdate) error
}

// Config configures an Orchestrator.
type Config struct {
	CompileInterval time.Duration
	NoteID          string
	Locale          string
}

// Anchor is one merged note anchor.
type Anchor struct {
	Source    audio.SourceKind
	Timestamp segment.SpeechTimestamp
	Text      string
}

// Note is the compiled note body with the anchors it was built from.
type Note struct {
	ID       string
	Body     string
	Anchors  []Anchor
	Compiled time.Time
	Final    bool
}

// Snapshot converts the note to its published event form.
func (n Note) Snapshot() models.NoteSnapshot {
	snap := models.NoteSnapshot{
		EventType: models.EventNoteCompiled,
		NoteID:    n.ID,
		Timestamp: n.Compiled.UnixMilli(),
		Body:      n.Body,
		Anchors:   make([]models.NoteAnchor, 0, len(n.Anchors)),
		Final:     n.Final,
	}
	seen := make(map[audio.SourceKind]bool)
	for _, a := range n.Anchors {
		if !seen[a.Source] {
			seen[a.Source] = true
			snap.Sources = append(snap.Sources, a.Source.String())
		}
		snap.Anchors = append(snap.Anchors, models.NoteAnchor{
			Source:    a.Source.String(),
			WallClock: a.Timestamp.WallClock.UnixMilli(),
			Start:     a.Timestamp.Range.Start,
			End:       a.Timestamp.Range.End,
		})
	}
	return snap
}

// Orchestrator owns one Stream per source kind. Streams start and stop
// independently; the compile ticker runs while at least one is streaming.
type Orchestrator struct {
	streams  map[audio.SourceKind]*audioservice.Stream
	order    []audio.SourceKind
	sink     Sink
	interval time.Duration
	noteID   string
	logger   zerolog.Logger

	// reconcileMu serializes ticker start and stop decisions.
	reconcileMu sync.Mutex

	mu       sync.Mutex
	locale   string
	stopTick context.CancelFunc
	tickDone chan struct{}
	note     Note
	subs     map[chan Note]struct{}
}

// New creates an orchestrator over streams. sink may be nil.
func New(streams []*audioservice.Stream, sink Sink, cfg Config) *Orchestrator {
	if cfg.CompileInterval <= 0 {
		cfg.CompileInterval = DefaultCompileInterval
	}
	if cfg.NoteID == "" {
		cfg.NoteID = uuid.NewString()
	}
	o := &Orchestrator{
		streams:  make(map[audio.SourceKind]*audioservice.Stream, len(streams)),
		sink:     sink,
		interval: cfg.CompileInterval,
		noteID:   cfg.NoteID,
		logger:   logging.WithComponent("orchestrator"),
		locale:   cfg.Locale,
		subs:     make(map[chan Note]struct{}),
	}
	for _, s := range streams {
		if _, dup := o.streams[s.Kind()]; !dup {
			o.order = append(o.order, s.Kind())
		}
		o.streams[s.Kind()] = s
	}
	sort.Slice(o.order, func(i, j int) bool { return o.order[i] < o.order[j] })
	o.note = Note{ID: o.noteID}
	return o
}

// Stream returns the stream for kind.
func (o *Orchestrator) Stream(kind audio.SourceKind) (*audioservice.Stream, bool) {
	s, ok := o.streams[kind]
	return s, ok
}

// Sources returns the managed source kinds in display order.
func (o *Orchestrator) Sources() []audio.SourceKind {
	return append([]audio.SourceKind(nil), o.order...)
}

// NoteID returns the identity of the compiled note.
func (o *Orchestrator) NoteID() string { return o.noteID }

// IsStreaming reports whether any stream is active.
func (o *Orchestrator) IsStreaming() bool {
	for _, s := range o.streams {
		if s.IsRecording() {
			return true
		}
	}
	return false
}

// IsRecording is IsStreaming; callers use it to lock recording controls.
func (o *Orchestrator) IsRecording() bool {
	return o.IsStreaming()
}

// Locale returns the locale new streams are started with.
func (o *Orchestrator) Locale() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.locale
}

// SetLocale changes the recognition locale. Recognizers are bound to a
// locale when created, so the change is rejected while anything streams.
func (o *Orchestrator) SetLocale(locale string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if locale == o.locale {
		return nil
	}
	if o.IsStreaming() {
		return ErrLocaleLocked
	}
	o.locale = locale
	o.logger.Info().Str("locale", locale).Msg("Locale changed")
	return nil
}

// ToggleRecording starts or stops the stream for kind. An empty locale
// uses the current one. Enabling the first stream starts the compile
// ticker; disabling the last compiles a final note and stops it.
func (o *Orchestrator) ToggleRecording(ctx context.Context, kind audio.SourceKind, enable bool, desc audio.Descriptor, locale string) error {
	stream, ok := o.streams[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, kind)
	}

	if !enable {
		stream.Stop()
		o.reconcile()
		return nil
	}

	if desc.Kind() != kind {
		return fmt.Errorf("%w: %s descriptor for %s stream", ErrDescriptorMismatch, desc.Kind(), kind)
	}

	o.mu.Lock()
	if locale == "" {
		locale = o.locale
	}
	if locale != o.locale {
		if o.IsStreaming() {
			o.mu.Unlock()
			return fmt.Errorf("%w: streaming with %q", ErrLocaleLocked, o.locale)
		}
		o.locale = locale
	}
	o.mu.Unlock()

	if err := stream.Start(ctx, desc, locale, o.handleResult); err != nil {
		return err
	}
	o.reconcile()
	return nil
}

// StopAll stops every stream.
func (o *Orchestrator) StopAll() {
	var wg sync.WaitGroup
	for _, s := range o.streams {
		wg.Add(1)
		go func(s *audioservice.Stream) {
			defer wg.Done()
			s.Stop()
		}(s)
	}
	wg.Wait()
	o.reconcile()
}

// reconcile starts the ticker when something streams and stops it, after
// one final compile, when nothing does.
func (o *Orchestrator) reconcile() {
	o.reconcileMu.Lock()
	defer o.reconcileMu.Unlock()

	streaming := o.IsStreaming()

	o.mu.Lock()
	running := o.stopTick != nil
	switch {
	case streaming && !running:
		ctx, cancel := context.WithCancel(context.Background())
		o.stopTick = cancel
		o.tickDone = make(chan struct{})
		go o.tick(ctx, o.tickDone)
		o.mu.Unlock()
		o.logger.Debug().Dur("interval", o.interval).Msg("Compile ticker started")
		return
	case !streaming && running:
		cancel, done := o.stopTick, o.tickDone
		o.stopTick, o.tickDone = nil, nil
		o.mu.Unlock()

		cancel()
		<-done
		o.compile(true)
		o.logger.Debug().Msg("Compile ticker stopped")
		return
	}
	o.mu.Unlock()
}

func (o *Orchestrator) tick(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.compile(false)
		}
	}
}

// Compile builds the note from the current transcripts, publishes it if the
// body changed and returns it.
func (o *Orchestrator) Compile() Note {
	return o.compile(false)
}

func (o *Orchestrator) compile(final bool) Note {
	note := o.build()
	note.Final = final

	o.mu.Lock()
	changed := note.Body != o.note.Body || len(note.Anchors) != len(o.note.Anchors)
	if !changed && !final {
		note = o.note
		o.mu.Unlock()
		return note
	}
	o.note = note
	for ch := range o.subs {
		select {
		case ch <- note:
		default:
		}
	}
	o.mu.Unlock()

	if changed {
		metrics.DefaultMetrics.RecordNoteCompiled(utf8.RuneCountInString(note.Body))
	}
	if o.sink != nil {
		if err := o.sink.PublishNote(context.Background(), note.Snapshot()); err != nil {
			o.logger.Warn().Err(err).Str("noteId", note.ID).Msg("Note publish failed")
		}
	}
	return note
}

// build merges the anchors of every stream by wall-clock time and slices
// each from its own stream's current text. Anchors with equal times keep
// source order.
func (o *Orchestrator) build() Note {
	type sourced struct {
		kind audio.SourceKind
		text string
		ts   segment.SpeechTimestamp
	}

	var all []sourced
	for _, kind := range o.order {
		snap := o.streams[kind].Snapshot()
		for _, ts := range snap.Timestamps {
			all = append(all, sourced{kind: kind, text: snap.Text, ts: ts})
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].ts.WallClock.Before(all[j].ts.WallClock)
	})

	var b strings.Builder
	anchors := make([]Anchor, 0, len(all))
	last := audio.SourceKind(-1)
	for _, a := range all {
		part := segment.Slice(a.text, a.ts.Range)
		anchors = append(anchors, Anchor{Source: a.kind, Timestamp: a.ts, Text: part})
		if part == "" {
			continue
		}
		if a.kind != last && b.Len() > 0 {
			b.WriteByte('\n')
			part = strings.TrimLeft(part, " ")
		}
		b.WriteString(part)
		last = a.kind
	}

	return Note{
		ID:       o.noteID,
		Body:     b.String(),
		Anchors:  anchors,
		Compiled: time.Now(),
	}
}

// FormattedNote returns the body of the last compiled note.
func (o *Orchestrator) FormattedNote() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.note.Body
}

// LastNote returns the last compiled note.
func (o *Orchestrator) LastNote() Note {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.note
}

// SubscribeNotes returns a channel that receives every compiled note that
// changed. Slow subscribers miss notes rather than block compilation.
func (o *Orchestrator) SubscribeNotes(buffer int) (<-chan Note, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Note, buffer)

	o.mu.Lock()
	o.subs[ch] = struct{}{}
	o.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, ch)
			o.mu.Unlock()
			close(ch)
		})
	}
}

func (o *Orchestrator) handleResult(r audioservice.Result) {
	if o.sink == nil {
		return
	}
	update := models.TranscriptUpdate{
		EventType: models.EventTranscriptUpdated,
		NoteID:    o.noteID,
		Source:    r.Source.String(),
		SessionID: r.SessionID,
		Timestamp: time.Now().UnixMilli(),
	}
	if r.Err != nil {
		update.EventType = models.EventTranscriptError
		update.Error = r.Err.Error()
	} else {
		update.UtteranceID = r.UtteranceID
		update.NewUtterance = r.NewUtterance
		update.Text = r.Text
		update.WallClock = r.Timestamp.WallClock.UnixMilli()
		update.Start = r.Timestamp.Range.Start
		update.End = r.Timestamp.Range.End
	}
	if err := o.sink.PublishTranscript(context.Background(), update); err != nil {
		o.logger.Warn().Err(err).Str("source", update.Source).Msg("Transcript publish failed")
	}
}
