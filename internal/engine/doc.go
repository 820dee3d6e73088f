// Package engine reconciles desired presence state (which schedule profile
// should currently drive a subject's status) against persisted state, and
// applies the activate/deactivate transitions exactly once per boundary
// crossing.
//
// One reconciliation pass visits every subject with at least one enabled
// profile. Failures are isolated per subject: a broken rule or a store error
// for one subject never blocks the rest of the pass.
package engine
