// Package notify delivers user-facing notifications. Delivery is
// fire-and-forget: failures are logged, never propagated into the message
// pipeline.
package notify

import "log/slog"

// Notification is a single alert to show the user.
type Notification struct {
	Title string
	Body  string
	Icon  string
	Tag   string
}

// Sink shows notifications.
type Sink interface {
	Show(n Notification) error
}

// Dispatch shows a notification on the sink, logging failure. A nil sink is
// a no-op, which is how notification permission denial is modeled.
func Dispatch(sink Sink, n Notification) {
	if sink == nil {
		return
	}
	if err := sink.Show(n); err != nil {
		slog.Warn("notification delivery failed", "tag", n.Tag, "error", err)
	}
}

// FuncSink adapts a function to the Sink interface.
type FuncSink func(n Notification) error

func (f FuncSink) Show(n Notification) error { return f(n) }
