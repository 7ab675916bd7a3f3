// Package blast orchestrates the full pipeline: serve the clip, discover
// renderers, fan out control attempts under a concurrency limit, and
// summarize.
//
// The pipeline is a state machine (IDLE → SERVING → DISCOVERING →
// CONTROLLING → SUMMARIZING → DONE) that only moves forward; a stop drops
// it back to IDLE from any state and discards in-flight work. Observers
// subscribe to immutable metrics snapshots and device events; a slow
// observer misses updates rather than stalling the run.
package blast
