package inference

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func writeTestAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunk.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVEfmt "), 0644); err != nil {
		t.Fatalf("Failed to write test audio: %v", err)
	}
	return path
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	if err == nil {
		t.Error("Expected error for empty endpoint")
	}

	client, err := NewClient(Config{Endpoint: "http://localhost:9000/analyze"})
	if err != nil {
		t.Fatalf("Expected client with defaults, got error: %v", err)
	}

	// Defaults applied for zero values
	if client.config.Timeout != 300*time.Second {
		t.Errorf("Expected default timeout 300s, got %v", client.config.Timeout)
	}
	if client.config.MaxConcurrent != 1 {
		t.Errorf("Expected default max concurrent 1, got %d", client.config.MaxConcurrent)
	}
}

func TestAnalyzeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("Failed to parse multipart form: %v", err)
		}

		if r.FormValue("user_id") != "alice" {
			t.Errorf("Expected user_id 'alice', got '%s'", r.FormValue("user_id"))
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("Expected audio file in request: %v", err)
		} else {
			file.Close()
			if !strings.HasSuffix(header.Filename, ".wav") {
				t.Errorf("Expected .wav filename, got '%s'", header.Filename)
			}
		}

		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Expected bearer auth, got '%s'", auth)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"emotion": "happy",
			"emotion_confidence": 0.87,
			"transcript": "good morning",
			"language": "en",
			"sentiment": "positive",
			"sentiment_confidence": 0.91
		}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{
		Endpoint: server.URL,
		APIKey:   "test-key",
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	analysis, err := client.Analyze(context.Background(), writeTestAudio(t), "alice")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if analysis.Emotion != "happy" {
		t.Errorf("Expected emotion 'happy', got '%s'", analysis.Emotion)
	}
	if analysis.EmotionConfidence != 0.87 {
		t.Errorf("Expected confidence 0.87, got %f", analysis.EmotionConfidence)
	}
	if analysis.Transcript != "good morning" {
		t.Errorf("Expected transcript 'good morning', got '%s'", analysis.Transcript)
	}
	if analysis.Sentiment != "positive" {
		t.Errorf("Expected sentiment 'positive', got '%s'", analysis.Sentiment)
	}

	stats := client.GetStats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 {
		t.Errorf("Expected 1/1 requests, got %d/%d", stats.SuccessRequests, stats.TotalRequests)
	}
}

func TestAnalyzeRetriesServerError(t *testing.T) {
	var attempts int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&attempts, 1) < 3 {
			http.Error(w, "model loading", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"emotion": "calm", "emotion_confidence": 0.75}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{
		Endpoint:   server.URL,
		Timeout:    5 * time.Second,
		MaxRetries: 3,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	analysis, err := client.Analyze(context.Background(), writeTestAudio(t), "alice")
	if err != nil {
		t.Fatalf("Expected retry to succeed, got: %v", err)
	}

	if analysis.Emotion != "calm" {
		t.Errorf("Expected emotion 'calm', got '%s'", analysis.Emotion)
	}
	if atomic.LoadInt64(&attempts) != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}

	stats := client.GetStats()
	if stats.TotalRetries != 2 {
		t.Errorf("Expected 2 retries, got %d", stats.TotalRetries)
	}
}

func TestAnalyzeDoesNotRetryClientError(t *testing.T) {
	var attempts int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&attempts, 1)
		http.Error(w, "unsupported audio format", http.StatusBadRequest)
	}))
	defer server.Close()

	client, err := NewClient(Config{
		Endpoint:   server.URL,
		Timeout:    5 * time.Second,
		MaxRetries: 3,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	_, err = client.Analyze(context.Background(), writeTestAudio(t), "alice")
	if err == nil {
		t.Fatal("Expected error for 400 response")
	}

	if atomic.LoadInt64(&attempts) != 1 {
		t.Errorf("Expected 1 attempt for non-retryable error, got %d", attempts)
	}
}

func TestAnalyzeMissingFile(t *testing.T) {
	client, err := NewClient(Config{Endpoint: "http://localhost:9000/analyze"})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	_, err = client.Analyze(context.Background(), "/nonexistent/chunk.wav", "alice")
	if err == nil {
		t.Error("Expected error for missing audio file")
	}
}

func TestAnalyzeMissingEmotionLabel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"transcript": "hello"}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{Endpoint: server.URL, Timeout: 5 * time.Second, MaxRetries: 0})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	_, err = client.Analyze(context.Background(), writeTestAudio(t), "alice")
	if err == nil {
		t.Error("Expected error for response without emotion label")
	}
}
