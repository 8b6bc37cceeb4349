// Package inference provides the HTTP client for the external speech
// emotion recognition pipeline. It uploads audio chunks as multipart form
// data and retries transient failures with exponential backoff.
package inference
