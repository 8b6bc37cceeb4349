package result

import "time"

// ModalitySpeech tags results produced by the speech pipeline. The fusion
// service distinguishes modalities by this tag.
const ModalitySpeech = "ser"

// UnknownEmotion is the sentinel label substituted when inference fails.
const UnknownEmotion = "unknown"

// Analysis is the raw output of the inference pipeline collaborator for a
// single audio chunk.
type Analysis struct {
	Emotion             string  `json:"emotion"`
	EmotionConfidence   float64 `json:"emotion_confidence"`
	Transcript          string  `json:"transcript,omitempty"`
	Language            string  `json:"language,omitempty"`
	Sentiment           string  `json:"sentiment,omitempty"`
	SentimentConfidence float64 `json:"sentiment_confidence,omitempty"`
}

// ChunkResult is the normalized outcome of one processed audio chunk.
// Every job that leaves the queue, successfully or not, produces exactly
// one ChunkResult so the user's timeline stays continuous.
type ChunkResult struct {
	UserID              string    `json:"user_id"`
	Timestamp           time.Time `json:"timestamp"` // chunk capture time, not enqueue time
	Modality            string    `json:"modality"`
	Emotion             string    `json:"emotion"`
	EmotionConfidence   float64   `json:"emotion_confidence"`
	Transcript          string    `json:"transcript,omitempty"`
	Language            string    `json:"language,omitempty"`
	Sentiment           string    `json:"sentiment,omitempty"`
	SentimentConfidence float64   `json:"sentiment_confidence,omitempty"`
	IsError             bool      `json:"is_error,omitempty"`
}

// FromAnalysis builds a ChunkResult from a successful pipeline analysis.
func FromAnalysis(userID string, timestamp time.Time, a Analysis) ChunkResult {
	return ChunkResult{
		UserID:              userID,
		Timestamp:           timestamp,
		Modality:            ModalitySpeech,
		Emotion:             a.Emotion,
		EmotionConfidence:   a.EmotionConfidence,
		Transcript:          a.Transcript,
		Language:            a.Language,
		Sentiment:           a.Sentiment,
		SentimentConfidence: a.SentimentConfidence,
	}
}

// ErrorSentinel builds the placeholder ChunkResult recorded when inference
// fails, preserving timeline continuity for aggregation.
func ErrorSentinel(userID string, timestamp time.Time) ChunkResult {
	return ChunkResult{
		UserID:            userID,
		Timestamp:         timestamp,
		Modality:          ModalitySpeech,
		Emotion:           UnknownEmotion,
		EmotionConfidence: 0.0,
		IsError:           true,
	}
}

// AggregatedResult summarizes one user's chunk activity over one
// aggregation window. Records are append-only and never mutated.
type AggregatedResult struct {
	UserID                string         `json:"user_id"`
	WindowStart           time.Time      `json:"window_start"`
	WindowEnd             time.Time      `json:"window_end"`
	Emotion               string         `json:"dominant_emotion"`
	MeanConfidence        float64        `json:"mean_confidence"`
	SentimentDistribution map[string]int `json:"sentiment_distribution"`
	ChunkCount            int            `json:"chunk_count"`
	AggregatedAt          time.Time      `json:"aggregated_at"`
}
