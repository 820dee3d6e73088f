// Package rules holds the recurrence domain model and the pure scheduling math:
// expanding a recurrence into concrete instances over a query window, and
// testing whether a profile's local time-of-day window contains an instant.
//
// Everything here is deterministic and side-effect free; persistence and
// transitions live in internal/storage and internal/engine.
package rules
