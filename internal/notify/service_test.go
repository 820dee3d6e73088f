package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"presenced/internal/rules"
	logx "presenced/pkg/logx"
)

type captureTransport struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureTransport) Send(ctx context.Context, e Event) error {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	return nil
}

func (c *captureTransport) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func TestPublishBeforeStart(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, &captureTransport{}, logx.Nop())
	err := s.Publish(context.Background(), Event{SubjectID: "alice"})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestPublishDisabled(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, &captureTransport{}, logx.Nop())
	err := s.Publish(context.Background(), Event{SubjectID: "alice"})
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestPublishDrainsOnStop(t *testing.T) {
	t.Parallel()
	tr := &captureTransport{}
	s := New(Config{Enabled: true, Workers: 1, RatePerSec: 100}, tr, logx.Nop())
	s.Start(context.Background())

	for i := 0; i < 3; i++ {
		if err := s.Publish(context.Background(), Event{SubjectID: "alice", Kind: EventActivated, Payload: rules.Payload{Text: "Working"}, ProfileID: nil, At: time.Now()}); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)

	got := tr.snapshot()
	if len(got) != 3 {
		t.Fatalf("expected 3 delivered events, got %d", len(got))
	}
}

func TestDedupSuppressesRepeat(t *testing.T) {
	t.Parallel()
	tr := &captureTransport{}
	s := New(Config{Enabled: true, Workers: 1, RatePerSec: 100, DedupWindow: time.Minute}, tr, logx.Nop())
	s.Start(context.Background())

	e := Event{SubjectID: "alice", Kind: EventActivated, Payload: rules.Payload{Text: "Working"}}
	if err := s.Publish(context.Background(), e); err != nil {
		t.Fatalf("first Publish: %v", err)
	}
	// Identical event inside the window: accepted, silently suppressed.
	if err := s.Publish(context.Background(), e); err != nil {
		t.Fatalf("second Publish: %v", err)
	}
	// Different payload is not suppressed.
	e2 := e
	e2.Payload.Text = "Lunch"
	if err := s.Publish(context.Background(), e2); err != nil {
		t.Fatalf("third Publish: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)

	got := tr.snapshot()
	if len(got) != 2 {
		t.Fatalf("expected 2 delivered events after dedup, got %d", len(got))
	}
}

// gateTransport blocks deliveries until the gate opens, holding the worker
// so the queue can be filled deterministically.
type gateTransport struct {
	captureTransport
	gate    chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (g *gateTransport) Send(ctx context.Context, e Event) error {
	g.once.Do(func() { close(g.entered) })
	<-g.gate
	return g.captureTransport.Send(ctx, e)
}

func TestQueueFullDoesNotPoisonDedup(t *testing.T) {
	t.Parallel()
	tr := &gateTransport{gate: make(chan struct{}), entered: make(chan struct{})}
	s := New(Config{Enabled: true, Workers: 1, QueueSize: 1, RatePerSec: 100, DedupWindow: time.Minute}, tr, logx.Nop())
	s.Start(context.Background())

	ev := func(text string) Event {
		return Event{SubjectID: "alice", Kind: EventActivated, Payload: rules.Payload{Text: text}}
	}

	if err := s.Publish(context.Background(), ev("A")); err != nil {
		t.Fatalf("publish A: %v", err)
	}
	<-tr.entered // the worker now holds A; the queue is empty
	if err := s.Publish(context.Background(), ev("B")); err != nil {
		t.Fatalf("publish B: %v", err)
	}
	if err := s.Publish(context.Background(), ev("C")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull for C, got %v", err)
	}

	close(tr.gate)

	// Callers treat a full queue as transient and publish again; the
	// rejected attempt must not have registered C as already seen.
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := s.Publish(context.Background(), ev("C"))
		if err == nil {
			break
		}
		if !errors.Is(err, ErrQueueFull) || time.Now().After(deadline) {
			t.Fatalf("retrying C: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)

	got := tr.snapshot()
	if len(got) != 3 {
		t.Fatalf("expected 3 delivered events, got %d", len(got))
	}
	if last := got[len(got)-1].Payload.Text; last != "C" {
		t.Fatalf("last delivered = %q, want C", last)
	}
}

func TestDedupPrune(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, DedupWindow: time.Nanosecond}, &captureTransport{}, logx.Nop())
	if !s.dedupAllow("k", time.Nanosecond, 10) {
		t.Fatal("first event must pass dedup")
	}
	time.Sleep(2 * time.Millisecond)
	if n := s.PruneDedup(); n != 1 {
		t.Fatalf("expected 1 pruned entry, got %d", n)
	}
}
