package ticker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"presenced/internal/engine"
	logx "presenced/pkg/logx"
)

// Runner is the work the ticker schedules. Satisfied by *engine.Engine.
type Runner interface {
	ReconcileAll(ctx context.Context) engine.PassSummary
	Housekeep(ctx context.Context)
}

type Config struct {
	Enabled bool

	// TickEvery is the reconcile cadence. Sub-minute values are honored.
	TickEvery time.Duration

	// Housekeeping is the cadence for history pruning and manual-status
	// reclaim. Much slower than the tick.
	Housekeeping time.Duration

	// EagerDelay schedules one reconcile pass shortly after Start so a
	// restart never waits a full tick interval to converge.
	EagerDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickEvery <= 0 {
		c.TickEvery = time.Minute
	}
	if c.Housekeeping <= 0 {
		c.Housekeeping = time.Hour
	}
	if c.EagerDelay <= 0 {
		c.EagerDelay = 2 * time.Second
	}
	return c
}

// Service owns the cron runner. Start/Stop are idempotent; Apply restarts
// the runner when cadences change while running.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	run Runner

	c           *cron.Cron
	runCtx      context.Context
	cancel      context.CancelFunc
	eagerCancel context.CancelFunc
	eagerWG     sync.WaitGroup

	// Overlap guards: a pass still running when the next fire comes due is
	// skipped, never stacked.
	ticking      atomic.Bool
	housekeeping atomic.Bool
}

func New(cfg Config, run Runner, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.withDefaults(), log: log, run: run}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	cfg := s.cfg
	if !cfg.Enabled {
		s.log.Info("ticker disabled")
		return nil
	}
	return s.startLocked(ctx, cfg)
}

func (s *Service) startLocked(ctx context.Context, cfg Config) error {
	s.runCtx, s.cancel = context.WithCancel(ctx)
	runCtx := s.runCtx

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", cfg.TickEvery), func() {
		s.tick(runCtx)
	}); err != nil {
		s.cancel()
		s.runCtx, s.cancel = nil, nil
		return fmt.Errorf("register tick: %w", err)
	}
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", cfg.Housekeeping), func() {
		s.housekeep(runCtx)
	}); err != nil {
		s.cancel()
		s.runCtx, s.cancel = nil, nil
		return fmt.Errorf("register housekeeping: %w", err)
	}
	c.Start()
	s.c = c

	// Converge promptly after process start instead of waiting out the
	// first interval. The delay gets its own context so Stop can abort a
	// pending eager pass without cancelling one already running.
	eagerCtx, eagerCancel := context.WithCancel(runCtx)
	s.eagerCancel = eagerCancel
	s.eagerWG.Add(1)
	go func() {
		defer s.eagerWG.Done()
		select {
		case <-eagerCtx.Done():
		case <-time.After(cfg.EagerDelay):
			s.tick(runCtx)
		}
	}()

	s.log.Info("ticker started",
		logx.Duration("tick", cfg.TickEvery),
		logx.Duration("housekeeping", cfg.Housekeeping))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	eagerCancel := s.eagerCancel
	s.c = nil
	s.runCtx, s.cancel, s.eagerCancel = nil, nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	// Abort a still-pending eager pass, then drain in-flight jobs with
	// their context intact so a pass caught mid-mutation finishes cleanly.
	// The job context is cancelled only after the drain, or on deadline.
	if eagerCancel != nil {
		eagerCancel()
	}
	done := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		s.eagerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		cancel()
		s.log.Info("ticker stopped")
	case <-ctx.Done():
		cancel()
		s.log.Warn("ticker stop timed out, jobs finishing in background")
	}
}

// Apply swaps the cadences. A running service restarts its cron runner so
// the new intervals take effect immediately.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	running := s.c != nil
	s.mu.Unlock()

	if !running {
		return nil
	}
	if cfg.Enabled == old.Enabled && cfg.TickEvery == old.TickEvery && cfg.Housekeeping == old.Housekeeping {
		return nil
	}

	s.Stop(ctx)
	if !cfg.Enabled {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	return s.startLocked(ctx, cfg)
}

// TickNow runs one reconcile pass out of band (manual trigger surface).
func (s *Service) TickNow(ctx context.Context) {
	s.tick(ctx)
}

func (s *Service) tick(ctx context.Context) {
	if !s.ticking.CompareAndSwap(false, true) {
		s.log.Warn("reconcile pass still running, skipping tick")
		return
	}
	defer s.ticking.Store(false)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in reconcile pass",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	if ctx.Err() != nil {
		return
	}
	s.run.ReconcileAll(ctx)
}

func (s *Service) housekeep(ctx context.Context) {
	if !s.housekeeping.CompareAndSwap(false, true) {
		s.log.Warn("housekeeping still running, skipping")
		return
	}
	defer s.housekeeping.Store(false)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in housekeeping",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	if ctx.Err() != nil {
		return
	}
	s.run.Housekeep(ctx)
}
