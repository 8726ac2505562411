package stt

import (
	"testing"
	"time"
)

func TestResult_TimestampAndConfidence(t *testing.T) {
	tests := []struct {
		name       string
		result     Result
		timestamp  time.Duration
		confidence float64
	}{
		{"empty", Result{}, 0, 0},
		{
			"words",
			Result{Segments: []Segment{
				{Text: "a", Confidence: 0.5, Timestamp: time.Second},
				{Text: "b", Confidence: 1, Timestamp: 2 * time.Second},
			}},
			2 * time.Second,
			0.75,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Timestamp(); got != tt.timestamp {
				t.Errorf("Timestamp() = %v, want %v", got, tt.timestamp)
			}
			if got := tt.result.Confidence(); got != tt.confidence {
				t.Errorf("Confidence() = %v, want %v", got, tt.confidence)
			}
		})
	}
}

func TestWordSegments(t *testing.T) {
	segs := WordSegments("  hello   world ", 0.8, time.Second)

	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	if segs[0].Text != "hello" || segs[1].Text != "world" {
		t.Errorf("unexpected segments %+v", segs)
	}
	if segs[1].Timestamp != time.Second || segs[1].Confidence != 0.8 {
		t.Errorf("unexpected segment metadata %+v", segs[1])
	}
}
