package main

import (
	"encoding/json"
	"io"
	"log"
	"math/rand"
	"net/http"
	"time"
)

type AnalysisResponse struct {
	Emotion             string  `json:"emotion"`
	EmotionConfidence   float64 `json:"emotion_confidence"`
	Transcript          string  `json:"transcript"`
	Language            string  `json:"language"`
	Sentiment           string  `json:"sentiment"`
	SentimentConfidence float64 `json:"sentiment_confidence"`
}

var emotions = []string{"happy", "sad", "angry", "calm", "neutral", "surprised"}

func sentimentFor(emotion string) string {
	switch emotion {
	case "happy", "calm":
		return "positive"
	case "sad", "angry":
		return "negative"
	default:
		return "neutral"
	}
}

func analyzeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Parse multipart form
	err := r.ParseMultipartForm(10 << 20) // 10 MB
	if err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	userID := r.FormValue("user_id")

	// Get audio file
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	log.Printf("🎤 ANALYSIS REQUEST RECEIVED:")
	log.Printf("  User ID: %s", userID)
	log.Printf("  Filename: %s", header.Filename)
	log.Printf("  Audio Size: %d bytes", len(audioData))
	log.Printf("  Content-Type: %s", header.Header.Get("Content-Type"))

	// Simulate model inference time
	time.Sleep(200 * time.Millisecond)

	emotion := emotions[rand.Intn(len(emotions))]
	response := AnalysisResponse{
		Emotion:             emotion,
		EmotionConfidence:   0.6 + rand.Float64()*0.4,
		Transcript:          "this is a test transcript for the uploaded chunk",
		Language:            "en",
		Sentiment:           sentimentFor(emotion),
		SentimentConfidence: 0.5 + rand.Float64()*0.5,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)

	log.Printf("✅ ANALYSIS RESPONSE SENT: emotion=%s confidence=%.2f", response.Emotion, response.EmotionConfidence)
	log.Println("---")
}

func main() {
	http.HandleFunc("/analyze", analyzeHandler)

	port := ":9000"
	log.Printf("🚀 Test Inference Server starting on port %s", port)
	log.Printf("📡 Endpoint: http://localhost%s/analyze", port)
	log.Println("💡 Update your config to use: http://localhost:9000/analyze")

	if err := http.ListenAndServe(port, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
