// Package receipts coalesces "seen" acknowledgements to bound write volume
// on the metered backend, and raises local notifications for incoming
// messages.
package receipts

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/iwasamnot/campuschat/internal/models"
	"github.com/iwasamnot/campuschat/internal/notify"
	"github.com/iwasamnot/campuschat/internal/scheduler"
)

const (
	// DefaultDebounce is the quiet period after the last observed change
	// before an ack cycle runs.
	DefaultDebounce = 10 * time.Second
	// DefaultCooldown is the minimum gap between two ack write bursts.
	DefaultCooldown = 30 * time.Second

	ackTimeout = 10 * time.Second
)

// AckWriter persists a single read acknowledgement.
type AckWriter interface {
	AckRead(ctx context.Context, messageID, userID string, at time.Time) error
}

// FocusFunc reports whether the application window currently has focus.
type FocusFunc func() bool

// Config controls the batcher's write behavior.
type Config struct {
	// Enabled gates ack writes entirely. Notifications are raised either
	// way.
	Enabled  bool
	Debounce time.Duration
	Cooldown time.Duration
}

// Batcher tracks which messages the viewer has seen and acknowledges them
// at a bounded rate: one message per cycle, cycles separated by a global
// cooldown, cycles triggered on a debounce after the last change.
type Batcher struct {
	viewerID string
	writer   AckWriter
	sink     notify.Sink
	clock    scheduler.Clock
	sched    *scheduler.Scheduler
	cfg      Config
	focused  FocusFunc

	mu        sync.Mutex
	processed map[string]bool // acked this session, or ack in flight
	queued    map[string]bool
	notified  map[string]bool
	pending   []string // message ids awaiting ack, oldest first
	lastBurst time.Time
}

// New creates a Batcher for the given viewer.
func New(viewerID string, writer AckWriter, sink notify.Sink, clock scheduler.Clock, focused FocusFunc, cfg Config) *Batcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	return &Batcher{
		viewerID:  viewerID,
		writer:    writer,
		sink:      sink,
		clock:     clock,
		sched:     scheduler.New(clock),
		cfg:       cfg,
		focused:   focused,
		processed: make(map[string]bool),
		queued:    make(map[string]bool),
		notified:  make(map[string]bool),
	}
}

// Seed consumes the backlog present when the viewer connects. The backlog
// enters the ack queue like any observed sequence, but it never raises
// notifications; alerts are for messages that arrive while connected.
func (b *Batcher) Seed(msgs []models.Message) {
	b.mu.Lock()
	for _, msg := range msgs {
		b.notified[msg.ID] = true
	}
	b.mu.Unlock()
	b.Observe(msgs)
}

// Observe consumes a published sequence from the reconciler. It queues
// unacknowledged messages and restarts the debounce timer.
func (b *Batcher) Observe(msgs []models.Message) {
	b.mu.Lock()
	for _, msg := range msgs {
		b.maybeNotifyLocked(msg)

		if msg.AuthorID == b.viewerID {
			// Never ack own messages; this also keeps the author out
			// of readBy with a pre-creation timestamp.
			continue
		}
		if _, seen := msg.ReadBy[b.viewerID]; seen {
			b.processed[msg.ID] = true
			continue
		}
		if b.processed[msg.ID] || b.queued[msg.ID] {
			continue
		}
		b.queued[msg.ID] = true
		b.pending = append(b.pending, msg.ID)
	}
	hasWork := b.cfg.Enabled && len(b.pending) > 0
	b.mu.Unlock()

	if hasWork {
		b.sched.Schedule(b.cfg.Debounce, b.flush)
	}
}

// maybeNotifyLocked raises at most one local notification per message:
// a distinct mention alert when the viewer is mentioned, otherwise a plain
// alert when the window is unfocused. Caller holds b.mu.
func (b *Batcher) maybeNotifyLocked(msg models.Message) {
	if b.notified[msg.ID] || msg.AuthorID == b.viewerID {
		return
	}
	b.notified[msg.ID] = true

	switch {
	case msg.MentionedIn(b.viewerID):
		notify.Dispatch(b.sink, notify.Notification{
			Title: msg.AuthorDisplayName + " mentioned you",
			Body:  msg.DisplayText,
			Tag:   "mention:" + msg.ID,
		})
	case b.focused == nil || !b.focused():
		notify.Dispatch(b.sink, notify.Notification{
			Title: msg.AuthorDisplayName,
			Body:  msg.DisplayText,
			Tag:   "message:" + msg.ID,
		})
	}
}

// flush runs one ack cycle: at most one write, respecting the global
// cooldown between bursts.
func (b *Batcher) flush() {
	b.mu.Lock()
	now := b.clock.Now()
	if !b.lastBurst.IsZero() {
		if wait := b.cfg.Cooldown - now.Sub(b.lastBurst); wait > 0 {
			b.mu.Unlock()
			b.sched.Schedule(wait, b.flush)
			return
		}
	}
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	id := b.pending[0]
	b.pending = b.pending[1:]
	delete(b.queued, id)
	b.processed[id] = true
	b.lastBurst = now
	more := len(b.pending) > 0
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	err := b.writer.AckRead(ctx, id, b.viewerID, now)
	cancel()
	if err != nil {
		slog.Warn("read ack failed, will retry", "messageID", id, "error", err)
		b.mu.Lock()
		// Put it back so the next cycle retries it.
		b.processed[id] = false
		if !b.queued[id] {
			b.queued[id] = true
			b.pending = append([]string{id}, b.pending...)
		}
		more = true
		b.mu.Unlock()
	}

	if more {
		b.sched.Schedule(b.cfg.Debounce, b.flush)
	}
}

// Stop cancels any scheduled cycle.
func (b *Batcher) Stop() {
	b.sched.Cancel()
}
