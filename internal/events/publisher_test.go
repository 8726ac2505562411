package events

import (
	"context"
	"errors"
	"testing"

	"whispr-capture-service/internal/models"
	"whispr-capture-service/internal/schema"
)

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.Enabled() {
				t.Error("expected publisher to be disabled")
			}
			if p.writerNotes != nil || p.writerTranscripts != nil {
				t.Error("expected nil writers when disabled")
			}
		})
	}
}

func TestNew_ConfigValues(t *testing.T) {
	p := New(&Config{
		Enabled:          false,
		Brokers:          []string{"localhost:9092"},
		TopicNotes:       "test.notes",
		TopicTranscripts: "test.transcripts",
		Principal:        "test-principal",
	})

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topicNotes != "test.notes" {
		t.Errorf("expected notes topic 'test.notes', got %s", p.topicNotes)
	}
	if p.topicTranscripts != "test.transcripts" {
		t.Errorf("expected transcripts topic 'test.transcripts', got %s", p.topicTranscripts)
	}
}

func TestNew_EnabledCreatesWriters(t *testing.T) {
	p := New(&Config{
		Enabled:          true,
		Brokers:          []string{"127.0.0.1:1"},
		TopicNotes:       "notes",
		TopicTranscripts: "transcripts",
	})
	defer p.Close()

	if !p.Enabled() {
		t.Fatal("expected publisher to be enabled")
	}
	if p.writerNotes.Topic != "notes" || p.writerTranscripts.Topic != "transcripts" {
		t.Errorf("unexpected writer topics %q %q", p.writerNotes.Topic, p.writerTranscripts.Topic)
	}
}

func TestPublisher_PublishNote_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false, TopicNotes: "test.notes"})

	note := models.NoteSnapshot{
		EventType: models.EventNoteCompiled,
		NoteID:    "note-1",
		Body:      "hello world",
		Anchors: []models.NoteAnchor{
			{Source: "microphone", WallClock: 1, Start: 0, End: 11},
		},
	}

	if err := p.PublishNote(context.Background(), note); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_PublishNote_Invalid(t *testing.T) {
	p := New(&Config{Enabled: false})

	note := models.NoteSnapshot{
		EventType: models.EventNoteCompiled,
		NoteID:    "note-1",
		Anchors: []models.NoteAnchor{
			{Source: "microphone", WallClock: 1, Start: 3, End: 5},
		},
	}

	err := p.PublishNote(context.Background(), note)
	if !errors.Is(err, schema.ErrInvalidEvent) {
		t.Errorf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestPublisher_PublishTranscript(t *testing.T) {
	p := New(&Config{Enabled: false, TopicTranscripts: "test.transcripts"})

	tests := []struct {
		name    string
		update  models.TranscriptUpdate
		wantErr bool
	}{
		{"update", models.TranscriptUpdate{EventType: models.EventTranscriptUpdated, Source: "system", Text: "hi", Start: 0, End: 2}, false},
		{"error", models.TranscriptUpdate{EventType: models.EventTranscriptError, Source: "system", Error: "quota"}, false},
		{"bad range", models.TranscriptUpdate{EventType: models.EventTranscriptUpdated, Source: "system", Start: 2, End: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.PublishTranscript(context.Background(), tt.update)
			if (err != nil) != tt.wantErr {
				t.Errorf("PublishTranscript() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublisher_Publish_InvalidJSON(t *testing.T) {
	p := New(&Config{Enabled: false})

	err := p.publish(context.Background(), nil, "t", "x", "key", make(chan int))
	if err == nil {
		t.Error("expected error for unmarshalable event")
	}
}

func TestPublisher_Close_NoWriters(t *testing.T) {
	p := New(&Config{Enabled: false})

	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing disabled publisher, got %v", err)
	}

	bare := &Publisher{}
	if err := bare.Close(); err != nil {
		t.Errorf("expected no error closing publisher with nil writers, got %v", err)
	}
}
