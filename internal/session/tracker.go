package session

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/eefei22/well-bot-EmotionRecognition/internal/metrics"
	"github.com/eefei22/well-bot-EmotionRecognition/internal/result"
)

// Session represents a contiguous run of one user's chunk results with no
// inter-arrival gap exceeding the tracker's threshold.
type Session struct {
	ID           string
	UserID       string
	StartTime    time.Time
	LastActivity time.Time
	Results      []result.ChunkResult // arrival order, append-only
}

// Info represents session metadata for monitoring and APIs
type Info struct {
	ID           string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	StartTime    time.Time `json:"start_time"`
	LastActivity time.Time `json:"last_activity"`
	ChunkCount   int       `json:"chunk_count"`
}

// userSessions holds all retained sessions for a single user. The embedded
// mutex serializes every read-modify-write sequence on that user's data.
type userSessions struct {
	mu       sync.Mutex
	sessions []*Session
}

// Tracker maintains the mapping from user to ordered sessions. It is the
// only mutable resource shared between the queue worker, the aggregator
// and the fusion read path, so every public method is safe for concurrent
// use.
type Tracker struct {
	users   map[string]*userSessions
	mu      sync.RWMutex // guards the users map, not session contents
	logger  *slog.Logger
	gap     time.Duration
	metrics *metrics.Metrics
}

// NewTracker creates a new session tracker. A nil metrics value disables
// metric recording.
func NewTracker(logger *slog.Logger, gapThreshold time.Duration, m *metrics.Metrics) *Tracker {
	logger.Info("Session tracker initialized",
		slog.Duration("gap_threshold", gapThreshold),
	)

	return &Tracker{
		users:   make(map[string]*userSessions),
		logger:  logger,
		gap:     gapThreshold,
		metrics: m,
	}
}

// user returns the session record for a user, creating it if needed.
func (t *Tracker) user(userID string) *userSessions {
	t.mu.RLock()
	us, exists := t.users[userID]
	t.mu.RUnlock()
	if exists {
		return us
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if us, exists = t.users[userID]; exists {
		return us
	}
	us = &userSessions{}
	t.users[userID] = us

	if t.metrics != nil {
		t.metrics.SetActiveUsers(len(t.users))
	}
	return us
}

// AddResult adds a chunk result to the user's most recent session, or opens
// a new session when the gap to the session's last activity exceeds the
// threshold. A result landing exactly on the threshold boundary stays in
// the existing session. Returns the session ID the result was added to.
func (t *Tracker) AddResult(res result.ChunkResult) string {
	us := t.user(res.UserID)

	us.mu.Lock()
	defer us.mu.Unlock()

	session := us.mostRecentLocked()
	if session == nil || res.Timestamp.Sub(session.LastActivity) > t.gap {
		session = &Session{
			ID:        sessionID(res.UserID, res.Timestamp),
			UserID:    res.UserID,
			StartTime: res.Timestamp,
		}
		us.sessions = append(us.sessions, session)

		if t.metrics != nil {
			t.metrics.RecordSessionCreated()
		}

		t.logger.Debug("Opened new session",
			slog.String("user_id", res.UserID),
			slog.String("session_id", session.ID),
			slog.Time("start_time", res.Timestamp),
		)
	}

	session.Results = append(session.Results, res)
	session.LastActivity = res.Timestamp

	t.logger.Debug("Added result to session",
		slog.String("user_id", res.UserID),
		slog.String("session_id", session.ID),
		slog.Int("chunk_count", len(session.Results)),
	)

	return session.ID
}

// mostRecentLocked returns the session with the latest activity, or nil.
// Caller must hold us.mu.
func (us *userSessions) mostRecentLocked() *Session {
	var recent *Session
	for _, s := range us.sessions {
		if recent == nil || s.LastActivity.After(recent.LastActivity) {
			recent = s
		}
	}
	return recent
}

// ResultsInWindow returns every chunk result for the user with a timestamp
// in [start, end], sorted by timestamp with arrival order preserved for
// equal timestamps. When clear is true the returned results are removed
// from their sessions (consume-once); otherwise the read is repeatable.
// An inverted window or unknown user yields an empty slice, never an error.
func (t *Tracker) ResultsInWindow(userID string, start, end time.Time, clear bool) []result.ChunkResult {
	results := []result.ChunkResult{}

	if end.Before(start) {
		return results
	}

	t.mu.RLock()
	us, exists := t.users[userID]
	t.mu.RUnlock()
	if !exists {
		return results
	}

	us.mu.Lock()
	defer us.mu.Unlock()

	for _, session := range us.sessions {
		for _, res := range session.Results {
			if inWindow(res.Timestamp, start, end) {
				results = append(results, res)
			}
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp.Before(results[j].Timestamp)
	})

	if clear && len(results) > 0 {
		us.removeWindowLocked(start, end)
	}

	t.logger.Debug("Window query served",
		slog.String("user_id", userID),
		slog.Time("window_start", start),
		slog.Time("window_end", end),
		slog.Int("result_count", len(results)),
		slog.Bool("clear", clear),
	)

	return results
}

// AllSessions returns session metadata for the user, for monitoring use.
func (t *Tracker) AllSessions(userID string) []Info {
	t.mu.RLock()
	us, exists := t.users[userID]
	t.mu.RUnlock()
	if !exists {
		return []Info{}
	}

	us.mu.Lock()
	defer us.mu.Unlock()

	infos := make([]Info, 0, len(us.sessions))
	for _, s := range us.sessions {
		infos = append(infos, Info{
			ID:           s.ID,
			UserID:       s.UserID,
			StartTime:    s.StartTime,
			LastActivity: s.LastActivity,
			ChunkCount:   len(s.Results),
		})
	}
	return infos
}

// ConsumeResultsThrough is the aggregator's read+prune path. For every
// user with chunk results timestamped at or before end, it calls commit
// with those results sorted by timestamp while holding that user's lock,
// and removes exactly the committed results when commit returns nil. A
// commit error leaves the user's results in place and stops the sweep, so
// nothing is pruned without a confirmed durable write. Returns the number
// of results removed. commit must not call back into the tracker for the
// same user.
func (t *Tracker) ConsumeResultsThrough(end time.Time, commit func(userID string, results []result.ChunkResult) error) int {
	t.mu.RLock()
	userIDs := make([]string, 0, len(t.users))
	for userID := range t.users {
		userIDs = append(userIDs, userID)
	}
	t.mu.RUnlock()
	sort.Strings(userIDs)

	removed := 0
	for _, userID := range userIDs {
		t.mu.RLock()
		us, exists := t.users[userID]
		t.mu.RUnlock()
		if !exists {
			continue
		}

		us.mu.Lock()
		results := []result.ChunkResult{}
		for _, session := range us.sessions {
			for _, res := range session.Results {
				if !res.Timestamp.After(end) {
					results = append(results, res)
				}
			}
		}
		if len(results) == 0 {
			us.mu.Unlock()
			continue
		}

		sort.SliceStable(results, func(i, j int) bool {
			return results[i].Timestamp.Before(results[j].Timestamp)
		})

		if err := commit(userID, results); err != nil {
			us.mu.Unlock()
			t.logger.Warn("Consume commit failed, results retained",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			return removed
		}

		// No new result can land for this user while the lock is held,
		// so this removes exactly what commit saw.
		removed += us.removeWindowLocked(time.Time{}, end)
		us.mu.Unlock()
	}
	return removed
}

// removeWindowLocked drops results in [start, end] from every session and
// discards sessions left empty. Caller must hold us.mu.
func (us *userSessions) removeWindowLocked(start, end time.Time) int {
	removed := 0
	kept := us.sessions[:0]

	for _, session := range us.sessions {
		remaining := session.Results[:0]
		for _, res := range session.Results {
			if inWindow(res.Timestamp, start, end) {
				removed++
			} else {
				remaining = append(remaining, res)
			}
		}
		session.Results = remaining
		if len(session.Results) > 0 {
			kept = append(kept, session)
		}
	}

	us.sessions = kept
	return removed
}

// CleanupBefore removes the user's sessions whose last activity is before
// the given time and returns the number of sessions removed.
func (t *Tracker) CleanupBefore(userID string, before time.Time) int {
	t.mu.RLock()
	us, exists := t.users[userID]
	t.mu.RUnlock()
	if !exists {
		return 0
	}

	us.mu.Lock()
	defer us.mu.Unlock()

	kept := us.sessions[:0]
	removed := 0
	for _, session := range us.sessions {
		if session.LastActivity.Before(before) {
			removed++
			continue
		}
		kept = append(kept, session)
	}
	us.sessions = kept

	if removed > 0 {
		if t.metrics != nil {
			t.metrics.RecordSessionsPruned(removed)
		}
		t.logger.Debug("Cleaned up old sessions",
			slog.String("user_id", userID),
			slog.Int("removed", removed),
			slog.Time("before", before),
		)
	}

	return removed
}

// CleanupAllBefore runs CleanupBefore for every tracked user and returns
// the total number of sessions removed.
func (t *Tracker) CleanupAllBefore(before time.Time) int {
	t.mu.RLock()
	userIDs := make([]string, 0, len(t.users))
	for userID := range t.users {
		userIDs = append(userIDs, userID)
	}
	t.mu.RUnlock()

	removed := 0
	for _, userID := range userIDs {
		removed += t.CleanupBefore(userID, before)
	}
	return removed
}

// ClearUser removes all sessions for a user.
func (t *Tracker) ClearUser(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.users[userID]; !exists {
		return
	}
	delete(t.users, userID)

	if t.metrics != nil {
		t.metrics.SetActiveUsers(len(t.users))
	}
	t.logger.Info("Cleared user sessions", slog.String("user_id", userID))
}

// UserCount returns the number of users with retained sessions.
func (t *Tracker) UserCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.users)
}

// SessionCount returns the total number of retained sessions across users.
func (t *Tracker) SessionCount() int {
	t.mu.RLock()
	userList := make([]*userSessions, 0, len(t.users))
	for _, us := range t.users {
		userList = append(userList, us)
	}
	t.mu.RUnlock()

	total := 0
	for _, us := range userList {
		us.mu.Lock()
		total += len(us.sessions)
		us.mu.Unlock()
	}
	return total
}

// inWindow reports whether ts lies in the inclusive window [start, end].
func inWindow(ts, start, end time.Time) bool {
	return !ts.Before(start) && !ts.After(end)
}

// sessionID builds a human-readable session identifier from the user and
// the first chunk's timestamp, matching the log naming used downstream.
func sessionID(userID string, ts time.Time) string {
	return fmt.Sprintf("%s_%s", userID, ts.UTC().Format("20060102_150405"))
}
