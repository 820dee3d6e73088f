package core

import (
	"fmt"
	"strings"
	"time"

	"presenced/internal/config"
	"presenced/internal/engine"
	"presenced/internal/notify"
	"presenced/internal/rules"
	"presenced/internal/storage"
	"presenced/internal/ticker"
	logx "presenced/pkg/logx"
)

// The config file carries durations as strings; these mappers parse them and
// fill runtime defaults so every service receives a ready-to-use config.

func mapLogging(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
	}
}

func mapEngine(c config.EngineConfig) (engine.Config, error) {
	retryBase, err := config.ParseDurationField("engine.retry_base", c.RetryBase)
	if err != nil {
		return engine.Config{}, err
	}
	subjectTimeout, err := config.ParseDurationField("engine.subject_timeout", c.SubjectTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	retention, err := config.ParseDurationField("engine.history_retention", c.HistoryRetention)
	if err != nil {
		return engine.Config{}, err
	}
	if c.RetryMax < 0 {
		return engine.Config{}, fmt.Errorf("engine.retry_max must be >= 0")
	}

	payload := rules.Payload{Text: c.DefaultStatus.Text, Emoji: c.DefaultStatus.Emoji}
	if strings.TrimSpace(payload.Text) == "" {
		payload.Text = "Available"
	}

	return engine.Config{
		DefaultPayload:   payload,
		RetryMax:         c.RetryMax,
		RetryBase:        retryBase,
		SubjectTimeout:   subjectTimeout,
		HistoryRetention: retention,
		PassHistorySize:  c.PassHistorySize,
	}, nil
}

func mapTicker(c config.TickerConfig) (ticker.Config, error) {
	tick, err := config.ParseDurationOrDefault("ticker.tick_every", c.TickEvery, time.Minute)
	if err != nil {
		return ticker.Config{}, err
	}
	housekeeping, err := config.ParseDurationOrDefault("ticker.housekeeping", c.Housekeeping, time.Hour)
	if err != nil {
		return ticker.Config{}, err
	}
	eager, err := config.ParseDurationField("ticker.eager_delay", c.EagerDelay)
	if err != nil {
		return ticker.Config{}, err
	}
	return ticker.Config{
		Enabled:      c.Enabled,
		TickEvery:    tick,
		Housekeeping: housekeeping,
		EagerDelay:   eager,
	}, nil
}

func mapNotifier(c *config.NotifierConfig) (notify.Config, error) {
	if c == nil {
		// Omitted section means enabled with runtime defaults.
		return notify.Config{Enabled: true}, nil
	}
	retryBase, err := config.ParseDurationField("notifier.retry_base", c.RetryBase)
	if err != nil {
		return notify.Config{}, err
	}
	sendTimeout, err := config.ParseDurationField("notifier.send_timeout", c.SendTimeout)
	if err != nil {
		return notify.Config{}, err
	}
	dedupWindow, err := config.ParseDurationField("notifier.dedup_window", c.DedupWindow)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		Enabled:         c.Enabled,
		Workers:         c.Workers,
		QueueSize:       c.QueueSize,
		RatePerSec:      c.RatePerSec,
		RetryMax:        c.RetryMax,
		RetryBase:       retryBase,
		SendTimeout:     sendTimeout,
		DedupWindow:     dedupWindow,
		DedupMaxEntries: c.DedupMaxEntries,
	}, nil
}

func mapStorage(c *config.StorageConfig) (storage.Config, error) {
	if c == nil {
		return storage.Config{}, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", c.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      c.Driver,
		Path:        c.Path,
		BusyTimeout: busy,
	}, nil
}

// validateConfig rejects a bad hot-reload before it is committed.
func validateConfig(cfg *config.Config) error {
	if _, err := mapEngine(cfg.Engine); err != nil {
		return err
	}
	if _, err := mapTicker(cfg.Ticker); err != nil {
		return err
	}
	if _, err := mapNotifier(cfg.Notifier); err != nil {
		return err
	}
	if _, err := mapStorage(cfg.Storage); err != nil {
		return err
	}
	if cfg.Notifier != nil {
		if cfg.Notifier.Workers < 0 {
			return fmt.Errorf("notifier.workers must be >= 0")
		}
		if cfg.Notifier.RetryMax < 0 {
			return fmt.Errorf("notifier.retry_max must be >= 0")
		}
	}
	return nil
}
