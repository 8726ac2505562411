// Package events publishes compiled notes and transcript updates.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"whispr-capture-service/internal/models"
	"whispr-capture-service/internal/observability/metrics"
	"whispr-capture-service/internal/schema"
)

// Publisher writes notes and transcript updates to separate Kafka topics.
// Without brokers it only logs.
type Publisher struct {
	writerNotes       *kafka.Writer
	writerTranscripts *kafka.Writer
	principal         string
	topicNotes        string
	topicTranscripts  string
	enabled           bool
	validator         *schema.Validator
	metrics           *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers          []string
	TopicNotes       string
	TopicTranscripts string
	Principal        string
	Enabled          bool
}

// New creates a publisher. A nil or disabled config yields log-only mode.
func New(cfg *Config) *Publisher {
	p := &Publisher{
		validator: schema.New(),
		metrics:   metrics.DefaultMetrics,
	}

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return p
	}

	p.principal = cfg.Principal
	p.topicNotes = cfg.TopicNotes
	p.topicTranscripts = cfg.TopicTranscripts

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	p.writerNotes = newWriter(cfg.Brokers, cfg.TopicNotes, transport)
	p.writerTranscripts = newWriter(cfg.Brokers, cfg.TopicTranscripts, transport)
	p.enabled = true

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicNotes", cfg.TopicNotes).
		Str("topicTranscripts", cfg.TopicTranscripts).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return p
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// PublishNote publishes a compiled note keyed by note ID.
func (p *Publisher) PublishNote(ctx context.Context, note models.NoteSnapshot) error {
	if err := p.validator.ValidateNote(note); err != nil {
		log.Error().Err(err).Str("noteId", note.NoteID).Msg("Rejected invalid note")
		return err
	}
	return p.publish(ctx, p.writerNotes, p.topicNotes, note.EventType, note.NoteID, note)
}

// PublishTranscript publishes a transcript update keyed by source, so
// updates of one source stay ordered within a partition.
func (p *Publisher) PublishTranscript(ctx context.Context, update models.TranscriptUpdate) error {
	if err := p.validator.ValidateTranscript(update); err != nil {
		log.Error().Err(err).Str("source", update.Source).Msg("Rejected invalid transcript update")
		return err
	}
	return p.publish(ctx, p.writerTranscripts, p.topicTranscripts, update.EventType, update.Source, update)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Enabled reports whether events reach Kafka.
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerNotes != nil {
		if e := p.writerNotes.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing notes writer")
			err = e
		}
	}
	if p.writerTranscripts != nil {
		if e := p.writerTranscripts.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing transcripts writer")
			err = e
		}
	}
	return err
}
