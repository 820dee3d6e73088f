package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"presenced/internal/rules"
	logx "presenced/pkg/logx"
)

// EventKind says what kind of status transition an event describes.
type EventKind string

const (
	EventActivated   EventKind = "activated"
	EventDeactivated EventKind = "deactivated"
	EventManual      EventKind = "manual"
)

// Event is one status change, published after the mutation is durably
// applied. The engine emits exactly one per transition.
type Event struct {
	SubjectID string        `json:"subject_id"`
	Kind      EventKind     `json:"kind"`
	Payload   rules.Payload `json:"payload"`
	ProfileID *uuid.UUID    `json:"profile_id,omitempty"`
	At        time.Time     `json:"at"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
}

// Publisher is the engine-facing side of the pipeline.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Transport delivers one event to the observer channel.
//
// The concrete transport (webhook, chat, message bus) lives outside this
// repo; LogTransport keeps the pipeline exercisable without one.
type Transport interface {
	Send(ctx context.Context, e Event) error
}

// LogTransport writes each event to the structured log. Default transport.
type LogTransport struct {
	Log logx.Logger
}

func (t LogTransport) Send(ctx context.Context, e Event) error {
	t.Log.Info("status changed",
		logx.String("subject", e.SubjectID),
		logx.String("kind", string(e.Kind)),
		logx.String("status", e.Payload.Text),
		logx.Time("at", e.At),
	)
	return nil
}
