// Package queue implements the FIFO job queue that serializes inference
// over incoming audio chunks. A single worker goroutine drains the queue,
// converts every job into exactly one chunk result (an error sentinel on
// failure) and hands results to the session tracker and durable store.
package queue
