// Package session provides in-memory session tracking for chunk results.
// It groups per-user results into gap-bounded sessions, answers windowed
// read queries for the fusion service, and exposes pruning hooks used by
// the aggregator to keep memory bounded.
package session
