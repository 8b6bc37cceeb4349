// Package aggregate folds per-chunk emotion results into periodic
// per-user summaries. A background loop wakes on a configurable interval,
// writes one append-only record per active user to a JSONL log and prunes
// the aggregated chunks from the session tracker only after the write is
// confirmed durable.
package aggregate
