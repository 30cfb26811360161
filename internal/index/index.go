// Package index maintains secondary views over the message stream: the
// pinned set, on its own subscription so pins stay visible after scrolling
// out of the main window, and a thread index for reply isolation and
// counting.
package index

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/iwasamnot/campuschat/internal/models"
	"github.com/iwasamnot/campuschat/internal/store"
)

// Indexer owns the pinned and thread views.
type Indexer struct {
	st store.Store

	mu       sync.RWMutex
	pinned   map[string]models.Message
	fallback bool
	threads  map[string][]models.Message
}

// NewIndexer creates an Indexer over st.
func NewIndexer(st store.Store) *Indexer {
	return &Indexer{
		st:      st,
		pinned:  make(map[string]models.Message),
		threads: make(map[string][]models.Message),
	}
}

// RunPinned subscribes to the pinned window and keeps the pinned view in
// sync until ctx is canceled. If the backend lacks the composite index for
// a pin-time-ordered query, it falls back to an unordered subscription and
// the view orders by id instead.
func (ix *Indexer) RunPinned(ctx context.Context) error {
	sub, err := ix.st.Subscribe(ctx, store.Query{PinnedOnly: true, OrderByPinnedAt: true})
	if errors.Is(err, store.ErrMissingIndex) {
		slog.Warn("pinned index unavailable, falling back to unordered pinned view", "error", err)
		ix.mu.Lock()
		ix.fallback = true
		ix.mu.Unlock()
		sub, err = ix.st.Subscribe(ctx, store.Query{PinnedOnly: true})
	}
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-sub.Batches():
			if !ok {
				return sub.Err()
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ix.applyPinned(batch)
		}
	}
}

func (ix *Indexer) applyPinned(batch store.Batch) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, d := range batch.Deltas {
		switch d.Kind {
		case store.DeltaRemove:
			delete(ix.pinned, d.ID)
		case store.DeltaAdd, store.DeltaModify:
			msg, err := store.DecodeMessage(d.Record)
			if err != nil {
				slog.Warn("skipping malformed pinned record", "id", d.ID, "error", err)
				continue
			}
			if msg.Pinned {
				ix.pinned[msg.ID] = *msg
			} else {
				delete(ix.pinned, msg.ID)
			}
		}
	}
}

// PinnedIDs returns the pinned message ids, most recently pinned first. In
// fallback mode (no composite index) the order degrades to id descending.
func (ix *Indexer) PinnedIDs() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	msgs := make([]models.Message, 0, len(ix.pinned))
	for _, m := range ix.pinned {
		msgs = append(msgs, m)
	}
	fallback := ix.fallback
	sort.Slice(msgs, func(i, j int) bool {
		a, b := msgs[i], msgs[j]
		if !fallback && a.PinnedAt != nil && b.PinnedAt != nil && !a.PinnedAt.Equal(*b.PinnedAt) {
			return a.PinnedAt.After(*b.PinnedAt)
		}
		return a.ID > b.ID
	})

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

// Fallback reports whether the pinned view is running without the ordered
// index.
func (ix *Indexer) Fallback() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.fallback
}

// ObserveThreads rebuilds the thread index from a published sequence. The
// input is already totally ordered, so children inherit that order.
func (ix *Indexer) ObserveThreads(msgs []models.Message) {
	threads := make(map[string][]models.Message)
	for _, m := range msgs {
		if m.ThreadParentID == "" {
			continue
		}
		threads[m.ThreadParentID] = append(threads[m.ThreadParentID], m)
	}

	ix.mu.Lock()
	ix.threads = threads
	ix.mu.Unlock()
}

// ThreadReplies returns the ordered replies under a parent message.
func (ix *Indexer) ThreadReplies(parentID string) []models.Message {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	replies := ix.threads[parentID]
	out := make([]models.Message, len(replies))
	for i, m := range replies {
		out[i] = m.Clone()
	}
	return out
}

// ReplyCount returns the number of replies under a parent message.
func (ix *Indexer) ReplyCount(parentID string) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.threads[parentID])
}
