package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iwasamnot/campuschat/internal/models"
	"github.com/iwasamnot/campuschat/internal/snowflake"
)

const subBufferSize = 256

// MemoryStore is an in-process Store used by tests and local development.
// It implements the same push semantics as the remote backend: every
// mutation is diffed against each subscriber's window and delivered as a
// snapshot batch of deltas.
type MemoryStore struct {
	mu   sync.Mutex
	gen  *snowflake.Generator
	docs map[string]json.RawMessage
	subs map[*memorySub]struct{}

	pinnedIndex bool
	updateErr   error
	writeErr    error
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithoutPinnedIndex makes the store behave like a backend that lacks the
// composite (pinned, pinned_at) index: ordered pinned subscriptions fail
// with ErrMissingIndex.
func WithoutPinnedIndex() MemoryOption {
	return func(s *MemoryStore) { s.pinnedIndex = false }
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	gen, err := snowflake.NewGenerator(0)
	if err != nil {
		panic(err) // nodeID 0 is always valid
	}
	s := &MemoryStore{
		gen:         gen,
		docs:        make(map[string]json.RawMessage),
		subs:        make(map[*memorySub]struct{}),
		pinnedIndex: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailUpdates makes subsequent Update calls return err. Pass nil to restore
// normal behavior. Test hook for exercising retry paths.
func (s *MemoryStore) FailUpdates(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateErr = err
}

// FailWrites makes subsequent Write calls return err. Pass nil to restore.
func (s *MemoryStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// Write stores a new message, assigning its id and creation time.
func (s *MemoryStore) Write(ctx context.Context, msg *models.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeErr != nil {
		return "", s.writeErr
	}

	stored := msg.Clone()
	stored.ID = s.gen.Generate()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	raw, err := EncodeMessage(&stored)
	if err != nil {
		return "", err
	}
	s.docs[stored.ID] = raw
	msg.ID = stored.ID
	msg.CreatedAt = stored.CreatedAt
	s.notifyLocked()
	return stored.ID, nil
}

// Update replaces the stored record. Last write wins; there is no version
// check, so a stale update can overwrite a newer one.
func (s *MemoryStore) Update(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.updateErr != nil {
		return s.updateErr
	}
	if _, ok := s.docs[msg.ID]; !ok {
		return fmt.Errorf("updating %s: %w", msg.ID, ErrNotFound)
	}
	raw, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	s.docs[msg.ID] = raw
	s.notifyLocked()
	return nil
}

// Delete removes the record entirely. Deleting a missing id is a no-op.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[id]; !ok {
		return nil
	}
	delete(s.docs, id)
	s.notifyLocked()
	return nil
}

// Get returns the record with the given id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	raw, ok := s.docs[id]
	s.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("getting %s: %w", id, ErrNotFound)
	}
	return DecodeMessage(raw)
}

// Subscribe registers a window subscription. The first batch delivers the
// current window as adds.
func (s *MemoryStore) Subscribe(ctx context.Context, q Query) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q.OrderByPinnedAt && !s.pinnedIndex {
		return nil, fmt.Errorf("subscribing to ordered pinned window: %w", ErrMissingIndex)
	}

	sub := &memorySub{
		store:   s,
		query:   q,
		batches: make(chan Batch, subBufferSize),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		known:   make(map[string]string),
	}
	s.subs[sub] = struct{}{}
	sub.signal() // initial snapshot

	go sub.pump()
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub, nil
}

// notifyLocked wakes every subscriber's pump to re-diff. Caller holds s.mu.
func (s *MemoryStore) notifyLocked() {
	for sub := range s.subs {
		sub.signal()
	}
}

// windowLocked returns the documents matching q. Caller holds s.mu.
func (s *MemoryStore) windowLocked(q Query) map[string]json.RawMessage {
	type entry struct {
		id  string
		msg *models.Message
		raw json.RawMessage
	}
	var entries []entry
	for id, raw := range s.docs {
		msg, err := DecodeMessage(raw)
		if err != nil {
			// Corrupt in-memory doc: deliver it anyway so consumers
			// exercise their skip path.
			entries = append(entries, entry{id: id, raw: raw})
			continue
		}
		if q.PinnedOnly && !msg.Pinned {
			continue
		}
		entries = append(entries, entry{id: id, msg: msg, raw: raw})
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.msg == nil || b.msg == nil {
			return a.id < b.id
		}
		if q.OrderByPinnedAt {
			at := func(m *models.Message) time.Time {
				if m.PinnedAt != nil {
					return *m.PinnedAt
				}
				return m.CreatedAt
			}
			if !at(a.msg).Equal(at(b.msg)) {
				return at(a.msg).After(at(b.msg))
			}
			return a.id > b.id
		}
		if !a.msg.CreatedAt.Equal(b.msg.CreatedAt) {
			return a.msg.CreatedAt.After(b.msg.CreatedAt)
		}
		return a.id > b.id
	})

	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[:q.Limit]
	}

	out := make(map[string]json.RawMessage, len(entries))
	for _, e := range entries {
		out[e.id] = e.raw
	}
	return out
}

type memorySub struct {
	store   *MemoryStore
	query   Query
	batches chan Batch
	wake    chan struct{}     // coalesced change signal for the pump
	known   map[string]string // id → serialized record last delivered

	closeOnce sync.Once
	done      chan struct{}
}

// signal wakes the pump. The wake channel holds one token, so a burst of
// mutations coalesces into a single re-diff.
func (m *memorySub) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// pump turns wake signals into delivered batches. The send blocks until
// the consumer takes the batch or the subscription closes, so a full
// buffer delays delivery instead of losing deltas. The pump is the sole
// closer of the batches channel.
func (m *memorySub) pump() {
	defer close(m.batches)
	for {
		select {
		case <-m.done:
			return
		case <-m.wake:
		}

		batch, ok := m.diff()
		if !ok {
			continue
		}
		select {
		case m.batches <- batch:
		case <-m.done:
			return
		}
	}
}

// diff computes the delta batch between the current window and the last
// delivered state, advancing the baseline. Changes that land during a
// blocked send re-signal wake, so the next diff picks them up.
func (m *memorySub) diff() (Batch, bool) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	window := m.store.windowLocked(m.query)

	var deltas []Delta
	for id, raw := range window {
		prev, ok := m.known[id]
		switch {
		case !ok:
			deltas = append(deltas, Delta{Kind: DeltaAdd, ID: id, Record: raw})
		case prev != string(raw):
			deltas = append(deltas, Delta{Kind: DeltaModify, ID: id, Record: raw})
		}
	}
	for id := range m.known {
		if _, ok := window[id]; !ok {
			deltas = append(deltas, Delta{Kind: DeltaRemove, ID: id})
		}
	}

	if len(deltas) == 0 {
		return Batch{}, false
	}

	// Deterministic delivery order within a batch.
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].ID < deltas[j].ID })

	m.known = make(map[string]string, len(window))
	for id, raw := range window {
		m.known[id] = string(raw)
	}
	return Batch{Deltas: deltas}, true
}

func (m *memorySub) Batches() <-chan Batch { return m.batches }

// Err always reports nil: the in-process backend has no failure modes, and
// channel closure alone signals teardown.
func (m *memorySub) Err() error { return nil }

func (m *memorySub) Close() {
	m.closeOnce.Do(func() {
		m.store.mu.Lock()
		delete(m.store.subs, m)
		m.store.mu.Unlock()
		close(m.done)
	})
}
