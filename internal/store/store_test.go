package store

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/eefei22/well-bot-EmotionRecognition/internal/result"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(testLogger(), "sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenValidation(t *testing.T) {
	if _, err := Open(testLogger(), "mysql", "whatever"); err == nil {
		t.Error("Expected error for unsupported driver")
	}

	if _, err := Open(testLogger(), "postgres", ""); err == nil {
		t.Error("Expected error for postgres without DSN")
	}
}

func TestInsertAndQueryResults(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	results := []result.ChunkResult{
		{
			UserID:            "alice",
			Timestamp:         base,
			Modality:          result.ModalitySpeech,
			Emotion:           "happy",
			EmotionConfidence: 0.9,
			Transcript:        "hello",
			Sentiment:         "positive",
		},
		{
			UserID:            "alice",
			Timestamp:         base.Add(10 * time.Second),
			Modality:          result.ModalitySpeech,
			Emotion:           "sad",
			EmotionConfidence: 0.8,
		},
		{
			UserID:            "bob",
			Timestamp:         base.Add(20 * time.Second),
			Modality:          result.ModalitySpeech,
			Emotion:           result.UnknownEmotion,
			EmotionConfidence: 0.0,
			IsError:           true,
		},
	}

	for _, res := range results {
		if err := s.InsertResult(res); err != nil {
			t.Fatalf("Failed to insert result: %v", err)
		}
	}

	count, err := s.CountResults()
	if err != nil {
		t.Fatalf("Failed to count results: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 results, got %d", count)
	}

	rows, err := s.RecentResults("alice", 10)
	if err != nil {
		t.Fatalf("Failed to query results: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 results for alice, got %d", len(rows))
	}

	// Newest first
	if rows[0].Emotion != "sad" {
		t.Errorf("Expected newest emotion 'sad' first, got '%s'", rows[0].Emotion)
	}
	if rows[1].Emotion != "happy" {
		t.Errorf("Expected 'happy' second, got '%s'", rows[1].Emotion)
	}
	if rows[1].Transcript != "hello" {
		t.Errorf("Expected transcript 'hello', got '%s'", rows[1].Transcript)
	}

	// Error sentinels round-trip too
	bobRows, err := s.RecentResults("bob", 10)
	if err != nil {
		t.Fatalf("Failed to query results: %v", err)
	}
	if len(bobRows) != 1 || !bobRows[0].IsError {
		t.Error("Expected bob's error sentinel to be persisted")
	}
}

func TestRecentResultsLimit(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		res := result.ChunkResult{
			UserID:    "alice",
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Modality:  result.ModalitySpeech,
			Emotion:   "neutral",
		}
		if err := s.InsertResult(res); err != nil {
			t.Fatalf("Failed to insert result: %v", err)
		}
	}

	rows, err := s.RecentResults("alice", 3)
	if err != nil {
		t.Fatalf("Failed to query results: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("Expected 3 results with limit, got %d", len(rows))
	}

	// Empty user queries across users
	all, err := s.RecentResults("", 10)
	if err != nil {
		t.Fatalf("Failed to query results: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("Expected 5 results across users, got %d", len(all))
	}
}
