// Package ticker drives the engine: a fast cadence for reconcile passes
// and a slow one for housekeeping, both on a shared cron runner.
package ticker
