package models

import "time"

// TypingRecencyWindow is how long a typing signal stays valid.
const TypingRecencyWindow = 5 * time.Second

// TypingSignal reports that a user is composing a message.
type TypingSignal struct {
	UserID string    `json:"user_id"`
	Typing bool      `json:"typing"`
	At     time.Time `json:"at"`
}

// Stale reports whether the signal is outside the recency window at now.
func (t TypingSignal) Stale(now time.Time) bool {
	return !t.Typing || now.Sub(t.At) > TypingRecencyWindow
}
