// Package schema checks outgoing events before they leave the process.
package schema

import (
	"errors"
	"fmt"

	"whispr-capture-service/internal/audio"
	"whispr-capture-service/internal/models"
)

// ErrInvalidEvent is wrapped by every validation failure.
var ErrInvalidEvent = errors.New("invalid event")

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate dispatches on the event type. Unknown types pass.
func (v *Validator) Validate(event any) error {
	switch ev := event.(type) {
	case models.NoteSnapshot:
		return v.ValidateNote(ev)
	case *models.NoteSnapshot:
		return v.ValidateNote(*ev)
	case models.TranscriptUpdate:
		return v.ValidateTranscript(ev)
	case *models.TranscriptUpdate:
		return v.ValidateTranscript(*ev)
	default:
		return nil
	}
}

// ValidateNote checks that anchors of each source are contiguous,
// non-negative and ordered by wall clock.
func (v *Validator) ValidateNote(n models.NoteSnapshot) error {
	if n.EventType != models.EventNoteCompiled {
		return fmt.Errorf("%w: note event type %q", ErrInvalidEvent, n.EventType)
	}
	if n.NoteID == "" {
		return fmt.Errorf("%w: note without id", ErrInvalidEvent)
	}

	type cursor struct {
		end  int
		wall int64
	}
	last := make(map[string]cursor)
	for i, a := range n.Anchors {
		if _, err := audio.ParseSourceKind(a.Source); err != nil {
			return fmt.Errorf("%w: anchor %d: %w", ErrInvalidEvent, i, err)
		}
		if a.Start < 0 || a.End < a.Start {
			return fmt.Errorf("%w: anchor %d has range [%d,%d)", ErrInvalidEvent, i, a.Start, a.End)
		}
		prev, seen := last[a.Source]
		if !seen && a.Start != 0 {
			return fmt.Errorf("%w: first %s anchor starts at %d", ErrInvalidEvent, a.Source, a.Start)
		}
		if seen && a.Start != prev.end {
			return fmt.Errorf("%w: %s anchor %d starts at %d, previous ended at %d", ErrInvalidEvent, a.Source, i, a.Start, prev.end)
		}
		if seen && a.WallClock < prev.wall {
			return fmt.Errorf("%w: %s anchor %d goes back in time", ErrInvalidEvent, a.Source, i)
		}
		last[a.Source] = cursor{end: a.End, wall: a.WallClock}
	}
	return nil
}

// ValidateTranscript checks a transcript update.
func (v *Validator) ValidateTranscript(u models.TranscriptUpdate) error {
	switch u.EventType {
	case models.EventTranscriptUpdated:
		if u.Start < 0 || u.End < u.Start {
			return fmt.Errorf("%w: transcript range [%d,%d)", ErrInvalidEvent, u.Start, u.End)
		}
	case models.EventTranscriptError:
		if u.Error == "" {
			return fmt.Errorf("%w: error event without error", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: transcript event type %q", ErrInvalidEvent, u.EventType)
	}
	if _, err := audio.ParseSourceKind(u.Source); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	return nil
}
