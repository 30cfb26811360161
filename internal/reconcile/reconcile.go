// Package reconcile keeps an ordered, deduplicated local view of the
// message window in sync with the remote store's push stream.
package reconcile

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/iwasamnot/campuschat/internal/models"
	"github.com/iwasamnot/campuschat/internal/store"
)

// ViewError is a categorized subscription failure, surfaced to the user as
// a banner instead of silently emptying the view.
type ViewError struct {
	Category store.Category
	Err      error
}

// Banner returns the user-facing text for this failure.
func (e *ViewError) Banner() string { return e.Category.Banner() }

func (e *ViewError) Error() string { return e.Err.Error() }

func (e *ViewError) Unwrap() error { return e.Err }

// Listener receives the published sequence after each change.
type Listener func([]models.Message)

// Reconciler merges snapshot batches into a dedup map keyed by id and
// publishes a totally ordered sequence: createdAt ascending, ties broken by
// id. The published order is a pure function of the map contents, so
// redelivery and delta ordering inside a batch cannot affect it.
type Reconciler struct {
	st    store.Store
	query store.Query

	mu        sync.RWMutex
	byID      map[string]models.Message
	seq       []models.Message
	viewErr   *ViewError
	listeners []Listener
}

// New creates a Reconciler over the given store and window query.
func New(st store.Store, q store.Query) *Reconciler {
	return &Reconciler{
		st:    st,
		query: q,
		byID:  make(map[string]models.Message),
	}
}

// OnChange registers a listener for published sequences. Register before
// calling Run.
func (r *Reconciler) OnChange(fn Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Run subscribes and processes batches until ctx is canceled or the
// subscription fails. Cancellation is the teardown path: once ctx is done,
// no further state mutation happens.
func (r *Reconciler) Run(ctx context.Context) error {
	sub, err := r.st.Subscribe(ctx, r.query)
	if err != nil {
		r.setErr(err)
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-sub.Batches():
			if !ok {
				if err := sub.Err(); err != nil {
					r.setErr(err)
					return err
				}
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.ApplyBatch(batch)
		}
	}
}

// ApplyBatch merges one snapshot batch and publishes the resulting
// sequence. A malformed record is logged and skipped; it never drops the
// rest of the batch.
func (r *Reconciler) ApplyBatch(batch store.Batch) {
	r.mu.Lock()
	for _, d := range batch.Deltas {
		switch d.Kind {
		case store.DeltaRemove:
			delete(r.byID, d.ID)
		case store.DeltaAdd, store.DeltaModify:
			msg, err := store.DecodeMessage(d.Record)
			if err != nil {
				slog.Warn("skipping malformed record in batch", "id", d.ID, "kind", d.Kind.String(), "error", err)
				continue
			}
			// Last write wins for redelivered or conflicting records.
			r.byID[msg.ID] = *msg
		}
	}

	seq := make([]models.Message, 0, len(r.byID))
	for _, msg := range r.byID {
		seq = append(seq, msg)
	}
	sort.Slice(seq, func(i, j int) bool {
		if !seq[i].CreatedAt.Equal(seq[j].CreatedAt) {
			return seq[i].CreatedAt.Before(seq[j].CreatedAt)
		}
		return seq[i].ID < seq[j].ID
	})
	r.seq = seq

	listeners := append([]Listener(nil), r.listeners...)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(r.snapshot())
	}
}

// Messages returns a copy of the published sequence.
func (r *Reconciler) Messages() []models.Message {
	return r.snapshot()
}

func (r *Reconciler) snapshot() []models.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Message, len(r.seq))
	for i, m := range r.seq {
		out[i] = m.Clone()
	}
	return out
}

// Get returns a message from the local view by id.
func (r *Reconciler) Get(id string) (models.Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	msg, ok := r.byID[id]
	if !ok {
		return models.Message{}, false
	}
	return msg.Clone(), true
}

// Err returns the current view error, or nil while the view is healthy.
func (r *Reconciler) Err() *ViewError {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.viewErr
}

func (r *Reconciler) setErr(err error) {
	ve := &ViewError{Category: store.Categorize(err), Err: err}
	r.mu.Lock()
	r.viewErr = ve
	r.mu.Unlock()
	slog.Error("message subscription failed", "category", ve.Category, "error", err)
}
