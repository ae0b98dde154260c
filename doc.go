// Package trellis is an asynchronous data-preparation workflow engine.
// Callers define multi-step workflows (loading, preparing, validation),
// submit jobs against stored input artifacts, and observe progress over
// a real-time WebSocket channel while a bounded worker pool drives the
// execution engine.
package trellis

const (
	Name    = "trellis"
	Version = "0.1.0"
)
