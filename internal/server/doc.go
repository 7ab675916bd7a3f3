// Package server exposes the blast pipeline to observers over HTTP.
//
// The server is optional: the CLI runs fine without it, and the pipeline
// never blocks on a slow or absent observer. When enabled it serves:
//
//   - GET /api/metrics: the current metrics snapshot as JSON
//   - GET /api/devices: the current device table as JSON
//   - GET /api/methods: per-method discovery stats, ranked
//   - GET /ws: a WebSocket stream of snapshot and device events
//
// The WebSocket stream sends the full current state on connect, then one
// event per pipeline change. Events are JSON objects with a "type" field
// ("snapshot" or "device") and the corresponding payload.
package server
