// Package engine is the send control engine. It owns one run at a time:
// validating the run configuration, driving the browser session through a
// bounded sequence of send actions with randomized pacing, reading the active
// template fresh before every send, and classifying failures into per-target
// rejections (counted, run continues) and environment faults (retried until a
// consecutive-failure threshold, then fatal).
//
// Frontends control a run through Start, Stop, Pause, and Resume, and observe
// it through ProgressEvents published on an EventBus or the ObserveProgress
// sequence. Publishing never blocks the run.
package engine
