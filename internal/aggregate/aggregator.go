package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eefei22/well-bot-EmotionRecognition/internal/metrics"
	"github.com/eefei22/well-bot-EmotionRecognition/internal/result"
)

// SessionSource is the aggregator's view of the session tracker.
type SessionSource interface {
	ConsumeResultsThrough(end time.Time, commit func(userID string, results []result.ChunkResult) error) int
	CleanupAllBefore(before time.Time) int
}

// Stats is a snapshot of aggregator state for monitoring.
type Stats struct {
	Interval       string    `json:"interval"`
	LastRun        time.Time `json:"last_run,omitempty"`
	TotalPasses    uint64    `json:"total_passes"`
	TotalFailures  uint64    `json:"total_failures"`
	RecordsWritten uint64    `json:"records_written"`
}

// Aggregator runs the periodic aggregation loop. Each pass covers
// everything since the end of the last successful pass, so back-to-back
// passes form contiguous windows with no chunk falling between them.
type Aggregator struct {
	sessions SessionSource
	log      *ResultLog
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu            sync.Mutex
	interval      time.Duration
	lastRun       time.Time
	lastWindowEnd time.Time // end of the last pass whose writes all succeeded
	started       bool
	totalPasses   uint64
	totalFailures uint64

	minInterval time.Duration
	maxInterval time.Duration
	stopTimeout time.Duration

	intervalChanged chan time.Duration
	ctx             context.Context
	cancel          context.CancelFunc
	done            chan struct{}
}

// NewAggregator creates an aggregator. The background loop does not run
// until Start is called. A nil metrics value disables metric recording.
func NewAggregator(logger *slog.Logger, sessions SessionSource, log *ResultLog,
	interval, minInterval, maxInterval, stopTimeout time.Duration, m *metrics.Metrics) (*Aggregator, error) {

	if interval < minInterval || interval > maxInterval {
		return nil, fmt.Errorf("interval %v outside bounds [%v, %v]", interval, minInterval, maxInterval)
	}

	ctx, cancel := context.WithCancel(context.Background())

	agg := &Aggregator{
		sessions:        sessions,
		log:             log,
		logger:          logger,
		metrics:         m,
		interval:        interval,
		minInterval:     minInterval,
		maxInterval:     maxInterval,
		stopTimeout:     stopTimeout,
		intervalChanged: make(chan time.Duration, 1),
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
	}

	return agg, nil
}

// Start launches the background aggregation loop. Calling Start on a
// running aggregator is a no-op.
func (a *Aggregator) Start() error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		a.logger.Warn("Aggregator already running, ignoring Start")
		return nil
	}
	a.started = true
	a.mu.Unlock()

	go a.run()

	a.logger.Info("Aggregator started",
		slog.Duration("interval", a.Interval()),
		slog.String("log_path", a.log.Path()),
	)
	return nil
}

// run is the background aggregation loop. A pass that overruns its
// interval coalesces the missed ticks into the next pass.
func (a *Aggregator) run() {
	defer close(a.done)

	ticker := time.NewTicker(a.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			a.logger.Info("Aggregation loop stopping")
			return
		case d := <-a.intervalChanged:
			ticker.Reset(d)
			a.logger.Info("Aggregation interval re-armed", slog.Duration("interval", d))
		case <-ticker.C:
			if _, _, err := a.RunOnce(time.Now()); err != nil {
				a.logger.Error("Aggregation pass failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce performs a single aggregation pass over everything added since
// the last successful pass, so consecutive windows are contiguous and a
// pass that failed to write is retried in full on the next tick. It
// returns the number of records written and chunks folded in. Each user's
// chunks are pruned atomically with the read, and only after that user's
// log write is confirmed durable.
func (a *Aggregator) RunOnce(now time.Time) (int, int, error) {
	interval := a.Interval()

	a.mu.Lock()
	windowStart := a.lastWindowEnd
	a.mu.Unlock()
	if windowStart.IsZero() {
		// First pass since construction
		windowStart = now.Add(-interval)
	}
	windowEnd := now

	users := 0
	chunkTotal := 0
	var writeErr error

	a.sessions.ConsumeResultsThrough(windowEnd, func(userID string, chunks []result.ChunkResult) error {
		// Chunks that slipped past an earlier pass boundary are folded
		// here rather than dropped; widen the record to cover them.
		start := windowStart
		if chunks[0].Timestamp.Before(start) {
			start = chunks[0].Timestamp
		}

		record := summarize(userID, chunks, start, windowEnd, now)
		if err := a.log.Append([]result.AggregatedResult{record}); err != nil {
			writeErr = err
			return err
		}

		users++
		chunkTotal += len(chunks)
		return nil
	})

	if writeErr != nil {
		a.mu.Lock()
		a.totalFailures++
		a.mu.Unlock()

		if a.metrics != nil {
			a.metrics.RecordAggregationFailure()
		}
		// lastWindowEnd stays put, so the next pass re-covers this window
		return users, chunkTotal, fmt.Errorf("aggregation write failed, unwritten chunks retained: %w", writeErr)
	}

	// Drop sessions idle for more than two windows
	staleRemoved := a.sessions.CleanupAllBefore(now.Add(-2 * interval))

	a.mu.Lock()
	a.lastWindowEnd = windowEnd
	a.lastRun = now
	a.totalPasses++
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.RecordAggregationPass(users, chunkTotal)
	}

	a.logger.Info("Aggregation pass completed",
		slog.Time("window_start", windowStart),
		slog.Time("window_end", windowEnd),
		slog.Int("users", users),
		slog.Int("chunks", chunkTotal),
		slog.Int("stale_sessions_removed", staleRemoved),
	)

	return users, chunkTotal, nil
}

// summarize folds one user's window of chunk results into a single
// aggregated record. The dominant emotion is the majority label; ties go
// to the label whose first occurrence is earliest in timestamp order.
func summarize(userID string, chunks []result.ChunkResult, windowStart, windowEnd, now time.Time) result.AggregatedResult {
	counts := make(map[string]int)
	firstSeen := make(map[string]int)
	sentiments := make(map[string]int)
	confidenceSum := 0.0

	for i, chunk := range chunks {
		counts[chunk.Emotion]++
		if _, seen := firstSeen[chunk.Emotion]; !seen {
			firstSeen[chunk.Emotion] = i
		}
		confidenceSum += chunk.EmotionConfidence
		if chunk.Sentiment != "" {
			sentiments[chunk.Sentiment]++
		}
	}

	dominant := ""
	for emotion, count := range counts {
		if dominant == "" {
			dominant = emotion
			continue
		}
		if count > counts[dominant] ||
			(count == counts[dominant] && firstSeen[emotion] < firstSeen[dominant]) {
			dominant = emotion
		}
	}

	return result.AggregatedResult{
		UserID:                userID,
		WindowStart:           windowStart,
		WindowEnd:             windowEnd,
		Emotion:               dominant,
		MeanConfidence:        confidenceSum / float64(len(chunks)),
		SentimentDistribution: sentiments,
		ChunkCount:            len(chunks),
		AggregatedAt:          now,
	}
}

// Interval returns the current aggregation interval.
func (a *Aggregator) Interval() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interval
}

// SetInterval changes the aggregation interval at runtime. Values outside
// the configured bounds are rejected. The running ticker is re-armed; the
// next pass covers a window of the new length.
func (a *Aggregator) SetInterval(d time.Duration) error {
	if d < a.minInterval || d > a.maxInterval {
		return fmt.Errorf("interval %v outside bounds [%v, %v]", d, a.minInterval, a.maxInterval)
	}

	a.mu.Lock()
	a.interval = d
	a.mu.Unlock()

	// Replace any pending re-arm signal with the latest value
	select {
	case <-a.intervalChanged:
	default:
	}
	a.intervalChanged <- d

	a.logger.Info("Aggregation interval updated", slog.Duration("interval", d))
	return nil
}

// IntervalBounds returns the allowed interval range.
func (a *Aggregator) IntervalBounds() (time.Duration, time.Duration) {
	return a.minInterval, a.maxInterval
}

// Recent returns recent aggregated records from the log's in-memory ring.
func (a *Aggregator) Recent(limit int, userID string) []result.AggregatedResult {
	return a.log.Recent(limit, userID)
}

// GetStats returns a snapshot of aggregator counters.
func (a *Aggregator) GetStats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Stats{
		Interval:       a.interval.String(),
		LastRun:        a.lastRun,
		TotalPasses:    a.totalPasses,
		TotalFailures:  a.totalFailures,
		RecordsWritten: a.log.Written(),
	}
}

// Stop shuts down the aggregation loop, waiting up to the stop timeout
// for an in-flight pass to finish. Stopping an aggregator that was never
// started is a no-op.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	started := a.started
	a.mu.Unlock()
	if !started {
		a.cancel()
		return
	}

	a.logger.Info("Stopping aggregator...")

	a.cancel()

	select {
	case <-a.done:
	case <-time.After(a.stopTimeout):
		a.logger.Warn("Aggregation loop did not stop within timeout, proceeding",
			slog.Duration("timeout", a.stopTimeout),
		)
	}

	stats := a.GetStats()
	a.logger.Info("Aggregator stopped",
		slog.Uint64("total_passes", stats.TotalPasses),
		slog.Uint64("records_written", stats.RecordsWritten),
	)
}
