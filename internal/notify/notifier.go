package notify

import (
	"context"
	"time"
)

// Kind classifies notification events for formatting and filtering.
type Kind string

const (
	KindTradeExecuted Kind = "TRADE_EXECUTED"
	KindForcedExit    Kind = "FORCED_EXIT"
	KindError         Kind = "ERROR"
	KindStartup       Kind = "STARTUP"
	KindShutdown      Kind = "SHUTDOWN"
)

// Event is one notification. Notifications are best-effort everywhere: a
// delivery failure is logged and never fails the operation that produced it.
type Event struct {
	Kind    Kind
	Title   string
	Message string
	At      time.Time
}

// Notifier delivers events to an external channel.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Nop discards all events. Used when no channel is configured.
type Nop struct{}

func (Nop) Notify(ctx context.Context, ev Event) error { return nil }
