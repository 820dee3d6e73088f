package engine

import (
	"context"
	"sync"
	"time"

	"presenced/internal/notify"
	"presenced/internal/rules"
	"presenced/internal/storage"
	logx "presenced/pkg/logx"
)

type Config struct {
	// DefaultPayload is restored when no profile claims a subject.
	DefaultPayload rules.Payload

	// RetryMax/RetryBase bound store and publish retries within one tick.
	RetryMax  int
	RetryBase time.Duration

	// SubjectTimeout bounds the I/O of one subject's reconciliation so a
	// slow subject cannot stall the whole pass.
	SubjectTimeout time.Duration

	// HistoryRetention controls housekeeping pruning of activation history.
	HistoryRetention time.Duration

	PassHistorySize int
}

func (c Config) withDefaults() Config {
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 250 * time.Millisecond
	}
	if c.SubjectTimeout <= 0 {
		c.SubjectTimeout = 10 * time.Second
	}
	if c.HistoryRetention <= 0 {
		c.HistoryRetention = 90 * 24 * time.Hour
	}
	if c.PassHistorySize <= 0 {
		c.PassHistorySize = 200
	}
	return c
}

// PassSummary describes one batch reconciliation pass.
type PassSummary struct {
	Started     time.Time
	Took        time.Duration
	Subjects    int
	Transitions int
	Failures    int
}

// Engine is the per-subject reconciliation state machine plus its side
// effects. Safe for concurrent use; work on one subject is serialized by a
// keyed lock so tick-driven passes never interleave with manual updates.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	log   logx.Logger
	store storage.Store
	pub   notify.Publisher

	// now is swappable for deterministic tests.
	now func() time.Time

	lmu   sync.Mutex
	locks map[string]*sync.Mutex

	hmu    sync.Mutex
	passes []PassSummary
}

func New(cfg Config, store storage.Store, pub notify.Publisher, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		cfg:   cfg.withDefaults(),
		log:   log,
		store: store,
		pub:   pub,
		now:   func() time.Time { return time.Now().UTC() },
		locks: map[string]*sync.Mutex{},
	}
}

func (e *Engine) Apply(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg.withDefaults()
	e.mu.Unlock()
}

// SetClock substitutes the time source. Test hook.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	e.now = now
	e.mu.Unlock()
}

func (e *Engine) config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

func (e *Engine) clock() time.Time {
	e.mu.Lock()
	now := e.now
	e.mu.Unlock()
	return now().UTC()
}

func (e *Engine) lockFor(subjectID string) *sync.Mutex {
	e.lmu.Lock()
	defer e.lmu.Unlock()
	l, ok := e.locks[subjectID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[subjectID] = l
	}
	return l
}

// Passes returns recent pass summaries, newest last.
func (e *Engine) Passes() []PassSummary {
	e.hmu.Lock()
	defer e.hmu.Unlock()
	return append([]PassSummary(nil), e.passes...)
}

func (e *Engine) appendPass(p PassSummary) {
	size := e.config().PassHistorySize
	e.hmu.Lock()
	defer e.hmu.Unlock()
	e.passes = append(e.passes, p)
	if len(e.passes) > size {
		e.passes = e.passes[len(e.passes)-size:]
	}
}

// withRetry runs fn with bounded retries. On exhaustion the last error is
// returned and the caller leaves the subject in its previous consistent
// state; the next tick tries again.
func (e *Engine) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	cfg := e.config()
	maxAttempts := 1 + cfg.RetryMax

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.RetryBase * time.Duration(attempt)):
			}
		}
	}
	e.log.Warn("operation exhausted retries", logx.String("op", op), logx.Int("attempts", maxAttempts), logx.Err(err))
	return err
}
