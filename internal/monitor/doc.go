// Package monitor drives the error-watch cycle: query the APM error store
// over the lookback window and hand the resulting report to the alert
// dispatcher.
//
// A Runner executes either a single cycle (RunOnce) or a fixed-interval
// loop (Run). The loop observes cancellation only between cycles: an
// in-flight query or webhook delivery always runs to completion and the
// loop exits at the next boundary. A cycle whose query fails is logged
// and skipped; the loop keeps going.
package monitor
