package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/iwasamnot/campuschat/internal/models"
	"github.com/iwasamnot/campuschat/internal/store"
)

func rawMsg(t *testing.T, msg models.Message) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func addDelta(t *testing.T, msg models.Message) store.Delta {
	return store.Delta{Kind: store.DeltaAdd, ID: msg.ID, Record: rawMsg(t, msg)}
}

func seqIDs(msgs []models.Message) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

func TestApplyBatch_OrderByCreatedAtThenID(t *testing.T) {
	r := New(store.NewMemoryStore(), store.Query{})
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	// Delivered out of order, with a createdAt tie between b and c.
	r.ApplyBatch(store.Batch{Deltas: []store.Delta{
		addDelta(t, models.Message{ID: "c", CreatedAt: base.Add(time.Minute)}),
		addDelta(t, models.Message{ID: "a", CreatedAt: base}),
		addDelta(t, models.Message{ID: "b", CreatedAt: base.Add(time.Minute)}),
	}})

	got := seqIDs(r.Messages())
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestApplyBatch_Idempotent(t *testing.T) {
	r := New(store.NewMemoryStore(), store.Query{})
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	batch := store.Batch{Deltas: []store.Delta{
		addDelta(t, models.Message{ID: "a", CreatedAt: base}),
		addDelta(t, models.Message{ID: "b", CreatedAt: base.Add(time.Second)}),
	}}

	r.ApplyBatch(batch)
	first := seqIDs(r.Messages())
	r.ApplyBatch(batch)
	second := seqIDs(r.Messages())

	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("expected 2 messages both times, got %d then %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("sequence changed on redelivery: %v vs %v", first, second)
		}
	}
}

func TestApplyBatch_DuplicateDeliveryAcrossBatches(t *testing.T) {
	r := New(store.NewMemoryStore(), store.Query{})
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	msg := models.Message{ID: "dup", RawText: "hi", CreatedAt: base}

	r.ApplyBatch(store.Batch{Deltas: []store.Delta{addDelta(t, msg)}})
	r.ApplyBatch(store.Batch{Deltas: []store.Delta{
		addDelta(t, msg),
		addDelta(t, models.Message{ID: "other", CreatedAt: base.Add(time.Second)}),
	}})

	msgs := r.Messages()
	count := 0
	for _, m := range msgs {
		if m.ID == "dup" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("duplicate id appeared %d times in published sequence", count)
	}
}

func TestApplyBatch_LastWriteWins(t *testing.T) {
	r := New(store.NewMemoryStore(), store.Query{})
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	r.ApplyBatch(store.Batch{Deltas: []store.Delta{
		addDelta(t, models.Message{ID: "a", RawText: "v1", CreatedAt: base}),
	}})
	r.ApplyBatch(store.Batch{Deltas: []store.Delta{
		{Kind: store.DeltaModify, ID: "a", Record: rawMsg(t, models.Message{ID: "a", RawText: "v2", CreatedAt: base})},
	}})

	got, ok := r.Get("a")
	if !ok || got.RawText != "v2" {
		t.Fatalf("expected v2 after modify, got %+v ok=%v", got, ok)
	}
}

func TestApplyBatch_MalformedRecordSkipped(t *testing.T) {
	r := New(store.NewMemoryStore(), store.Query{})
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	r.ApplyBatch(store.Batch{Deltas: []store.Delta{
		addDelta(t, models.Message{ID: "good1", CreatedAt: base}),
		{Kind: store.DeltaAdd, ID: "bad", Record: json.RawMessage(`{not json`)},
		addDelta(t, models.Message{ID: "good2", CreatedAt: base.Add(time.Second)}),
	}})

	msgs := r.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected the 2 good records, got %d", len(msgs))
	}
	for _, m := range msgs {
		if m.ID == "bad" {
			t.Fatal("malformed record made it into the view")
		}
	}
}

func TestApplyBatch_Remove(t *testing.T) {
	r := New(store.NewMemoryStore(), store.Query{})
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	r.ApplyBatch(store.Batch{Deltas: []store.Delta{
		addDelta(t, models.Message{ID: "a", CreatedAt: base}),
	}})
	r.ApplyBatch(store.Batch{Deltas: []store.Delta{
		{Kind: store.DeltaRemove, ID: "a"},
	}})

	if len(r.Messages()) != 0 {
		t.Fatal("removed message still in view")
	}
}

func TestRun_EndToEndAgainstMemoryStore(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st, store.Query{Limit: 50})

	published := make(chan []models.Message, 16)
	r.OnChange(func(msgs []models.Message) {
		published <- msgs
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	id, err := st.Write(context.Background(), &models.Message{AuthorID: "u1", RawText: "hello", DisplayText: "hello"})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case msgs := <-published:
		if len(msgs) != 1 || msgs[0].ID != id {
			t.Fatalf("unexpected publication: %+v", msgs)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for publication")
	}
}

func TestRun_SubscribeErrorSetsViewError(t *testing.T) {
	st := store.NewMemoryStore(store.WithoutPinnedIndex())
	r := New(st, store.Query{PinnedOnly: true, OrderByPinnedAt: true})

	err := r.Run(context.Background())
	if err == nil {
		t.Fatal("expected Run to fail")
	}

	ve := r.Err()
	if ve == nil {
		t.Fatal("expected a view error")
	}
	if ve.Category != store.CategoryMissingIndex {
		t.Fatalf("expected missing-index category, got %v", ve.Category)
	}
	if ve.Banner() == "" {
		t.Fatal("expected a banner")
	}
	if !errors.Is(ve, store.ErrMissingIndex) {
		t.Fatal("view error should unwrap to the sentinel")
	}
}

func TestRun_CancellationStopsMutation(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st, store.Query{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Let the subscription establish, then tear down.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not exit on cancellation")
	}

	before := len(r.Messages())
	if _, err := st.Write(context.Background(), &models.Message{AuthorID: "u1", RawText: "late", DisplayText: "late"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if len(r.Messages()) != before {
		t.Fatal("view mutated after teardown")
	}
}

func TestApplyBatch_StableUnderDeltaOrder(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mk := func(i int) models.Message {
		return models.Message{ID: fmt.Sprintf("m%02d", i), CreatedAt: base.Add(time.Duration(i%3) * time.Second)}
	}

	forward := New(store.NewMemoryStore(), store.Query{})
	reverse := New(store.NewMemoryStore(), store.Query{})

	var fw, rv []store.Delta
	for i := 0; i < 9; i++ {
		fw = append(fw, addDelta(t, mk(i)))
	}
	for i := 8; i >= 0; i-- {
		rv = append(rv, addDelta(t, mk(i)))
	}

	forward.ApplyBatch(store.Batch{Deltas: fw})
	reverse.ApplyBatch(store.Batch{Deltas: rv})

	a, b := seqIDs(forward.Messages()), seqIDs(reverse.Messages())
	if len(a) != len(b) {
		t.Fatalf("length mismatch: %v vs %v", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("order depends on delta delivery order: %v vs %v", a, b)
		}
	}
}
