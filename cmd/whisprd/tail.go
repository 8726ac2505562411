package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"

	"whispr-capture-service/internal/models"
)

var tailOpts struct {
	brokers string
	topic   string
	since   time.Duration
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow compiled notes published to Kafka",
	RunE:  runTail,
}

func init() {
	f := tailCmd.Flags()
	f.StringVar(&tailOpts.brokers, "brokers", "", "Kafka brokers, comma-separated (defaults to kafka.brokers)")
	f.StringVar(&tailOpts.topic, "topic", "", "notes topic (defaults to kafka.topic_notes)")
	f.DurationVar(&tailOpts.since, "since", time.Hour, "replay notes published within this window")
}

func runTail(cmd *cobra.Command, args []string) error {
	brokers := cfg.Kafka.Brokers
	if tailOpts.brokers != "" {
		brokers = strings.Split(tailOpts.brokers, ",")
	}
	if len(brokers) == 0 {
		return errors.New("no Kafka brokers configured")
	}
	topic := cfg.Kafka.TopicNotes
	if tailOpts.topic != "" {
		topic = tailOpts.topic
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-tailOpts.since)); err != nil {
		return fmt.Errorf("seek %s: %w", topic, err)
	}

	out := cmd.OutOrStdout()
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read %s: %w", topic, err)
		}

		var note models.NoteSnapshot
		if err := json.Unmarshal(msg.Value, &note); err != nil {
			fmt.Fprintf(out, "skipping malformed note at offset %d: %v\n", msg.Offset, err)
			continue
		}
		marker := ""
		if note.Final {
			marker = " (final)"
		}
		fmt.Fprintf(out, "--- %s %s%s\n%s\n",
			note.NoteID, time.UnixMilli(note.Timestamp).Format(time.TimeOnly), marker, note.Body)
	}
}
