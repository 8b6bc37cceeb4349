// Package server provides the HTTP API for the speech emotion recognition
// service: chunk ingestion, fusion window queries, session and queue
// monitoring, aggregation control and Prometheus metrics.
package server
