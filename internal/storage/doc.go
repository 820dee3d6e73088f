package storage

// Package storage provides the persistence layer behind the presence engine.
//
// It currently supports:
//   - Schedule profiles (enabled set per subject)
//   - Live status state per subject
//   - Append-only activation history, pruned by housekeeping
//
// Drivers: "sqlite" (database file) and "memory" (tests, ephemeral runs).
