package config

// Config is the root of the on-disk configuration. JSON and YAML are both
// accepted; YAML is coerced to JSON so one strict decoder covers both.
type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Engine controls reconciliation behavior.
	Engine EngineConfig `json:"engine"`

	// Ticker controls the reconcile and housekeeping cadences.
	Ticker TickerConfig `json:"ticker"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// EngineConfig controls the reconciliation engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - retry_max: 0 (no in-pass retries; a failed subject is retried on
//     the next tick)
//   - retry_base: "250ms"
//   - subject_timeout: "10s"
//   - history_retention: "2160h" (90 days)
//   - pass_history_size: 200
type EngineConfig struct {
	DefaultStatus DefaultStatus `json:"default_status"`

	RetryMax  int    `json:"retry_max,omitempty"`
	RetryBase string `json:"retry_base,omitempty"`

	// SubjectTimeout bounds one subject's reconciliation within a pass.
	SubjectTimeout string `json:"subject_timeout,omitempty"`

	// HistoryRetention is how long activation history is kept.
	HistoryRetention string `json:"history_retention,omitempty"`

	PassHistorySize int `json:"pass_history_size,omitempty"`
}

// DefaultStatus is the payload restored when no profile claims a subject.
type DefaultStatus struct {
	Text  string `json:"text"`
	Emoji string `json:"emoji,omitempty"`
}

// TickerConfig controls the periodic drive of the engine.
type TickerConfig struct {
	Enabled bool `json:"enabled"`

	// TickEvery is a Go duration string; sub-minute cadences are honored.
	TickEvery string `json:"tick_every,omitempty"`

	// Housekeeping is the slow cadence for history pruning and
	// manual-status reclaim.
	Housekeeping string `json:"housekeeping,omitempty"`

	// EagerDelay schedules one pass shortly after startup.
	EagerDelay string `json:"eager_delay,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
//
// All durations are Go duration strings. If the whole section is omitted,
// the notifier defaults to enabled=true.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	SendTimeout     string `json:"send_timeout"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./presenced.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
