// Package result defines the normalized inference result types shared by the
// queue worker, the session tracker and the aggregator. It also defines the
// error-sentinel result substituted when inference fails.
package result
