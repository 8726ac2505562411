// Package audio pairs a capture source with a speech recognizer and a
// transcript segmenter. A Stream is the unit the orchestrator starts and
// stops per source kind.
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"whispr-capture-service/internal/audio"
	"whispr-capture-service/internal/audio/capture"
	"whispr-capture-service/internal/audio/meter"
	"whispr-capture-service/internal/observability/logging"
	"whispr-capture-service/internal/observability/metrics"
	"whispr-capture-service/internal/service/segment"
	"whispr-capture-service/internal/service/stt"
)

// Result is delivered to the caller's handler for every applied recognizer
// result, and for every recognizer error (Err set, other fields empty
// except Source and SessionID).
type Result struct {
	Source       audio.SourceKind
	SessionID    string
	UtteranceID  string
	NewUtterance bool
	Text         string
	Timestamp    segment.SpeechTimestamp
	Err          error
}

// ResultHandler receives results. It runs on the recognizer's goroutine.
type ResultHandler func(Result)

// Stream manages one source kind: its capture, the recognizer of the
// current session and the segmenter that outlives sessions.
//
// Start and Stop are serialized. Recognizer callbacks carry the session
// they were created for; callbacks for a session that is no longer current
// are ignored.
type Stream struct {
	kind    audio.SourceKind
	source  capture.Source
	factory stt.Factory
	seg     *segment.Segmenter
	logger  zerolog.Logger

	opMu sync.Mutex

	mu         sync.RWMutex
	state      capture.State
	sessionID  string
	recognizer stt.Adapter
	cancel     context.CancelFunc
	handler    ResultHandler
	startedAt  time.Time
	locale     string
	desc       audio.Descriptor
	lastErr    error
}

// NewStream creates a stopped stream.
func NewStream(kind audio.SourceKind, source capture.Source, factory stt.Factory) *Stream {
	return &Stream{
		kind:    kind,
		source:  source,
		factory: factory,
		seg:     segment.NewSegmenter(kind.String()),
		logger:  logging.WithSource(kind.String()),
	}
}

// Start creates a recognizer bound to locale, then starts capture for desc
// feeding it. On any failure everything started so far is released and the
// stream stays stopped.
func (s *Stream) Start(ctx context.Context, desc audio.Descriptor, locale string, handler ResultHandler) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.IsRecording() {
		return fmt.Errorf("%w: %s", audio.ErrAlreadyStreaming, s.kind)
	}

	sessionID := uuid.NewString()

	// The recognizer lives until Stop, not until the caller's ctx ends.
	recCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rec, err := s.factory(recCtx, locale)
	if err != nil {
		cancel()
		s.fail(err)
		return fmt.Errorf("%w: create recognizer for %q: %w", audio.ErrRecognitionStartFailed, locale, err)
	}

	startedAt := time.Now()
	s.seg.Begin()

	cb := &sessionCallback{stream: s, sessionID: sessionID}
	if err := rec.Start(recCtx, cb); err != nil {
		s.abandon(rec, cancel)
		s.fail(err)
		return fmt.Errorf("%w: %w", audio.ErrRecognitionStartFailed, err)
	}

	feed := func(buf audio.Buffer) {
		// SendAudio never blocks; a full queue drops the buffer.
		_ = rec.SendAudio(recCtx, buf)
	}
	if err := s.source.Start(ctx, desc, feed); err != nil {
		s.abandon(rec, cancel)
		s.fail(err)
		return err
	}

	// Callbacks are accepted only once the session is published here.
	s.mu.Lock()
	s.state = capture.StateStreaming
	s.sessionID = sessionID
	s.recognizer = rec
	s.cancel = cancel
	s.handler = handler
	s.startedAt = startedAt
	s.locale = locale
	s.desc = desc
	s.lastErr = nil
	s.mu.Unlock()

	metrics.DefaultMetrics.RecordStreamStart(s.kind.String())
	l := logging.WithRecognizer(s.kind.String(), sessionID, rec.Provider())
	l.Info().
		Str("descriptor", desc.String()).
		Str("locale", locale).
		Msg("Stream started")
	return nil
}

// abandon drops a session that never reached Streaming.
func (s *Stream) abandon(rec stt.Adapter, cancel context.CancelFunc) {
	if err := rec.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Recognizer close failed")
	}
	cancel()
}

func (s *Stream) fail(err error) {
	metrics.DefaultMetrics.RecordStreamFailed(s.kind.String(), failureReason(err))
	s.logger.Error().Err(err).Msg("Stream start failed")
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, audio.ErrFormatUnsupported):
		return "format_unsupported"
	case errors.Is(err, audio.ErrResourceCreationFailed):
		return "resource_creation_failed"
	case errors.Is(err, audio.ErrAlreadyStreaming):
		return "already_streaming"
	default:
		return "recognition_start_failed"
	}
}

// Stop releases capture and cancels the recognizer. Idempotent.
func (s *Stream) Stop() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state == capture.StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = capture.StateStopped
	rec, cancel := s.recognizer, s.cancel
	sessionID := s.sessionID
	startedAt := s.startedAt
	s.recognizer, s.cancel = nil, nil
	s.sessionID = ""
	s.handler = nil
	s.desc = audio.Descriptor{}
	s.mu.Unlock()

	s.source.Stop()
	if rec != nil {
		if err := rec.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Recognizer close failed")
		}
	}
	if cancel != nil {
		cancel()
	}

	metrics.DefaultMetrics.RecordStreamEnd(s.kind.String(), time.Since(startedAt).Seconds())
	l := logging.WithSession(s.kind.String(), sessionID)
	l.Info().
		Dur("duration", time.Since(startedAt)).
		Msg("Stream stopped")
}

// Kind returns the source kind.
func (s *Stream) Kind() audio.SourceKind { return s.kind }

// State returns the stream state.
func (s *Stream) State() capture.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsRecording reports whether the stream is streaming.
func (s *Stream) IsRecording() bool {
	return s.State() == capture.StateStreaming
}

// Levels returns the capture's audio levels.
func (s *Stream) Levels() meter.Levels {
	return s.source.Levels()
}

// SubscribeLevels forwards to the capture source.
func (s *Stream) SubscribeLevels(buffer int) (<-chan meter.Levels, func()) {
	return s.source.SubscribeLevels(buffer)
}

// Locale returns the locale of the current or last session.
func (s *Stream) Locale() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locale
}

// Descriptor returns the descriptor while streaming.
func (s *Stream) Descriptor() audio.Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.desc
}

// SessionID returns the current session ID, empty when stopped.
func (s *Stream) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// LastError returns the most recent recognizer error of the current
// session. Recognizer errors never stop the stream, so this is the only
// place a persistently failing recognizer shows up besides the handler.
func (s *Stream) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Snapshot returns the transcript text and anchors.
func (s *Stream) Snapshot() segment.Snapshot {
	return s.seg.Snapshot()
}

// Text returns the cumulative transcript.
func (s *Stream) Text() string {
	return s.seg.Text()
}

// ResetTranscript discards the accumulated transcript.
func (s *Stream) ResetTranscript() {
	s.seg.Reset()
}

func (s *Stream) onResult(sessionID string, r stt.Result) {
	s.mu.Lock()
	if s.sessionID == "" || s.sessionID != sessionID {
		s.mu.Unlock()
		metrics.DefaultMetrics.RecordStaleResult(s.kind.String())
		s.logger.Debug().Str("sessionId", sessionID).Msg("Ignoring result for ended session")
		return
	}
	upd := s.seg.Process(s.startedAt, r)
	handler := s.handler
	s.mu.Unlock()

	metrics.DefaultMetrics.RecordTranscriptUpdate(s.kind.String(), upd.NewUtterance)
	if upd.NewUtterance {
		s.logger.Debug().Str("utteranceId", upd.UtteranceID).Msg("Utterance started")
	}

	if handler != nil {
		handler(Result{
			Source:       s.kind,
			SessionID:    sessionID,
			UtteranceID:  upd.UtteranceID,
			NewUtterance: upd.NewUtterance,
			Text:         upd.Text,
			Timestamp:    upd.Timestamp,
		})
	}
}

func (s *Stream) onError(sessionID string, err error) {
	s.mu.Lock()
	if s.sessionID == "" || s.sessionID != sessionID {
		s.mu.Unlock()
		metrics.DefaultMetrics.RecordStaleResult(s.kind.String())
		return
	}
	s.lastErr = err
	handler := s.handler
	s.mu.Unlock()

	// The stream keeps capturing after a recognizer error.
	s.logger.Warn().Err(err).Str("sessionId", sessionID).Msg("Recognizer error")
	if handler != nil {
		handler(Result{Source: s.kind, SessionID: sessionID, Err: err})
	}
}

// sessionCallback binds recognizer callbacks to the session that created them.
type sessionCallback struct {
	stream    *Stream
	sessionID string
}

func (c *sessionCallback) OnResult(r stt.Result) { c.stream.onResult(c.sessionID, r) }
func (c *sessionCallback) OnError(err error)     { c.stream.onError(c.sessionID, err) }
