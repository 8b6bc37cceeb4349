package queue

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eefei22/well-bot-EmotionRecognition/internal/metrics"
	"github.com/eefei22/well-bot-EmotionRecognition/internal/result"
)

// Job status values.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Job is one enqueued audio chunk awaiting inference. Result is set by
// the worker once the job reaches Done or Failed and is immutable after.
type Job struct {
	ID         string              `json:"job_id"`
	UserID     string              `json:"user_id"`
	Timestamp  time.Time           `json:"timestamp"` // chunk capture time
	AudioPath  string              `json:"-"`
	Status     string              `json:"status"`
	EnqueuedAt time.Time           `json:"enqueued_at"`
	Result     *result.ChunkResult `json:"result,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// Analyzer runs the inference pipeline for one job. Implemented by the
// inference HTTP client; tests substitute fakes.
type Analyzer interface {
	Analyze(ctx context.Context, audioPath, userID string) (result.Analysis, error)
}

// SessionSink receives every produced chunk result. Implemented by the
// session tracker.
type SessionSink interface {
	AddResult(res result.ChunkResult) string
}

// RecordStore persists chunk results. A nil store disables persistence.
type RecordStore interface {
	InsertResult(res result.ChunkResult) error
}

// Stats is a point-in-time snapshot of queue state for monitoring.
type Stats struct {
	QueueLength    int    `json:"queue_length"`
	Processing     *Job   `json:"processing,omitempty"`
	TotalEnqueued  uint64 `json:"total_enqueued"`
	TotalProcessed uint64 `json:"total_processed"`
	TotalFailed    uint64 `json:"total_failed"`
}

// Manager owns the pending job list and the single worker goroutine that
// drains it. Enqueue never blocks; the queue is unbounded.
type Manager struct {
	mu         sync.Mutex
	pending    []*Job
	processing *Job
	recent     []*Job // completed jobs, newest first, capped at maxRecent
	started    bool

	totalEnqueued  uint64
	totalProcessed uint64
	totalFailed    uint64

	analyzer Analyzer
	sessions SessionSink
	store    RecordStore

	maxRecent   int
	stopTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a queue manager. The worker goroutine does not run
// until Start is called. A nil metrics value disables metric recording;
// a nil store disables persistence.
func NewManager(logger *slog.Logger, analyzer Analyzer, sessions SessionSink, store RecordStore,
	maxRecent int, stopTimeout time.Duration, m *metrics.Metrics) *Manager {

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		analyzer:    analyzer,
		sessions:    sessions,
		store:       store,
		maxRecent:   maxRecent,
		stopTimeout: stopTimeout,
		logger:      logger,
		metrics:     m,
		wake:        make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	logger.Info("Queue manager created",
		slog.Int("max_recent_results", maxRecent),
		slog.Duration("stop_timeout", stopTimeout),
	)

	return mgr
}

// Start launches the worker goroutine. Calling Start on a running
// manager is a no-op.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		m.logger.Warn("Queue worker already running, ignoring Start")
		return nil
	}
	m.started = true
	m.mu.Unlock()

	go m.workerLoop()

	m.logger.Info("Queue manager started")
	return nil
}

// Enqueue adds a job for the given chunk and returns it immediately.
// The queue is unbounded so producers are never blocked by a slow
// inference pipeline.
func (m *Manager) Enqueue(userID string, timestamp time.Time, audioPath string) *Job {
	job := &Job{
		ID:         uuid.NewString(),
		UserID:     userID,
		Timestamp:  timestamp,
		AudioPath:  audioPath,
		Status:     StatusQueued,
		EnqueuedAt: time.Now(),
	}

	m.mu.Lock()
	m.pending = append(m.pending, job)
	m.totalEnqueued++
	queueLength := len(m.pending)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordJobEnqueued()
		m.metrics.SetQueueSize(queueLength)
	}

	m.logger.Info("Job enqueued",
		slog.String("job_id", job.ID),
		slog.String("user_id", userID),
		slog.Time("timestamp", timestamp),
		slog.Int("queue_length", queueLength),
	)

	// Non-blocking wake; a pending signal already covers this job
	select {
	case m.wake <- struct{}{}:
	default:
	}

	return job
}

// workerLoop drains the pending list one job at a time. It exits only
// when the manager context is cancelled.
func (m *Manager) workerLoop() {
	defer close(m.done)

	m.logger.Info("Queue worker started")

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Queue worker stopping")
			return
		case <-m.wake:
			m.drainQueue()
		}
	}
}

// drainQueue processes every currently pending job, checking for shutdown
// between jobs.
func (m *Manager) drainQueue() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		job := m.dequeue()
		if job == nil {
			return
		}
		m.processJob(job)
	}
}

// dequeue pops the oldest pending job, or returns nil when the queue is
// empty.
func (m *Manager) dequeue() *Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pending) == 0 {
		return nil
	}

	job := m.pending[0]
	m.pending = m.pending[1:]
	job.Status = StatusProcessing
	m.processing = job

	if m.metrics != nil {
		m.metrics.SetQueueSize(len(m.pending))
	}

	return job
}

// processJob runs inference for one job and records the outcome. Every job
// produces exactly one chunk result; failures yield an error sentinel so
// the user's timeline stays continuous.
func (m *Manager) processJob(job *Job) {
	start := time.Now()

	// Deliberately not the manager context: an in-flight job runs to
	// completion on shutdown, bounded by the analyzer's own timeout.
	analysis, err := m.analyzer.Analyze(context.Background(), job.AudioPath, job.UserID)
	duration := time.Since(start)

	var res result.ChunkResult
	if err != nil {
		res = result.ErrorSentinel(job.UserID, job.Timestamp)

		m.mu.Lock()
		job.Status = StatusFailed
		job.Error = err.Error()
		m.totalFailed++
		m.mu.Unlock()

		if m.metrics != nil {
			m.metrics.RecordJobFailed(duration.Seconds())
		}

		m.logger.Error("Job failed, recording error sentinel",
			slog.String("job_id", job.ID),
			slog.String("user_id", job.UserID),
			slog.String("error", err.Error()),
			slog.Duration("duration", duration),
		)
	} else {
		res = result.FromAnalysis(job.UserID, job.Timestamp, analysis)

		m.mu.Lock()
		job.Status = StatusDone
		m.totalProcessed++
		m.mu.Unlock()

		if m.metrics != nil {
			m.metrics.RecordJobProcessed(duration.Seconds())
		}

		m.logger.Info("Job processed",
			slog.String("job_id", job.ID),
			slog.String("user_id", job.UserID),
			slog.String("emotion", res.Emotion),
			slog.Float64("confidence", res.EmotionConfidence),
			slog.Duration("duration", duration),
		)
	}

	sessionID := m.sessions.AddResult(res)

	if m.store != nil {
		if storeErr := m.store.InsertResult(res); storeErr != nil {
			m.logger.Warn("Failed to persist chunk result",
				slog.String("job_id", job.ID),
				slog.String("user_id", job.UserID),
				slog.String("error", storeErr.Error()),
			)
		}
	}

	m.mu.Lock()
	job.Result = &res
	m.recent = append([]*Job{job}, m.recent...)
	if len(m.recent) > m.maxRecent {
		m.recent = m.recent[:m.maxRecent]
	}
	m.processing = nil
	m.mu.Unlock()

	m.removeAudioFile(job)

	m.logger.Debug("Result routed to session",
		slog.String("job_id", job.ID),
		slog.String("session_id", sessionID),
	)
}

// removeAudioFile deletes the uploaded chunk file once processed. The
// result is already recorded so a failed delete is only logged.
func (m *Manager) removeAudioFile(job *Job) {
	if job.AudioPath == "" {
		return
	}
	if err := os.Remove(job.AudioPath); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("Failed to remove processed audio file",
			slog.String("job_id", job.ID),
			slog.String("path", job.AudioPath),
			slog.String("error", err.Error()),
		)
	}
}

// Recent returns up to limit of the most recently completed jobs, newest
// first, each carrying its status and chunk result. A non-positive limit
// returns all retained jobs.
func (m *Manager) Recent(limit int) []Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > len(m.recent) {
		limit = len(m.recent)
	}

	out := make([]Job, 0, limit)
	for _, job := range m.recent[:limit] {
		out = append(out, *job)
	}
	return out
}

// PendingJobs returns a snapshot of the jobs currently waiting in the
// queue, oldest first.
func (m *Manager) PendingJobs() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs := make([]Job, 0, len(m.pending))
	for _, job := range m.pending {
		jobs = append(jobs, *job)
	}
	return jobs
}

// GetStats returns a snapshot of queue counters and the in-flight job.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		QueueLength:    len(m.pending),
		TotalEnqueued:  m.totalEnqueued,
		TotalProcessed: m.totalProcessed,
		TotalFailed:    m.totalFailed,
	}
	if m.processing != nil {
		snapshot := *m.processing
		stats.Processing = &snapshot
	}
	return stats
}

// QueueLength returns the number of jobs currently waiting.
func (m *Manager) QueueLength() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Stop shuts down the worker goroutine. The in-flight job is allowed to
// finish up to the stop timeout; after that shutdown proceeds without it.
// Stopping a manager that was never started is a no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		m.cancel()
		return
	}

	m.logger.Info("Stopping queue manager...")

	m.cancel()

	select {
	case <-m.done:
	case <-time.After(m.stopTimeout):
		m.logger.Warn("Queue worker did not stop within timeout, proceeding",
			slog.Duration("timeout", m.stopTimeout),
		)
	}

	stats := m.GetStats()
	m.logger.Info("Queue manager stopped",
		slog.Int("remaining_jobs", stats.QueueLength),
		slog.Uint64("total_processed", stats.TotalProcessed),
		slog.Uint64("total_failed", stats.TotalFailed),
	)
}
