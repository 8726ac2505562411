// Package models defines the data structures for note and transcript events.
package models

// Event types.
const (
	EventNoteCompiled      = "whispr.note.compiled"
	EventTranscriptUpdated = "whispr.transcript.updated"
	EventTranscriptError   = "whispr.transcript.error"
	EventLevels            = "whispr.audio.levels"
)

// NoteAnchor is one time-anchored range of a source's transcript.
type NoteAnchor struct {
	Source    string `json:"source"`
	WallClock int64  `json:"wallClock"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
}

// NoteSnapshot is the compiled note body, published whenever it changes.
type NoteSnapshot struct {
	EventType string       `json:"eventType"`
	NoteID    string       `json:"noteId"`
	Timestamp int64        `json:"timestamp"`
	Body      string       `json:"body"`
	Sources   []string     `json:"sources"`
	Anchors   []NoteAnchor `json:"anchors"`
	Final     bool         `json:"final"`
}

// TranscriptUpdate reports one recognizer result applied to a source's
// transcript, or a recognizer error when Error is set.
type TranscriptUpdate struct {
	EventType    string `json:"eventType"`
	NoteID       string `json:"noteId"`
	Source       string `json:"source"`
	SessionID    string `json:"sessionId"`
	UtteranceID  string `json:"utteranceId,omitempty"`
	NewUtterance bool   `json:"newUtterance,omitempty"`
	Text         string `json:"text,omitempty"`
	WallClock    int64  `json:"wallClock,omitempty"`
	Start        int    `json:"start"`
	End          int    `json:"end"`
	Error        string `json:"error,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// LevelUpdate carries the perceptual levels of one source.
type LevelUpdate struct {
	EventType string  `json:"eventType"`
	Source    string  `json:"source"`
	Average   float64 `json:"average"`
	Peak      float64 `json:"peak"`
	Timestamp int64   `json:"timestamp"`
}
