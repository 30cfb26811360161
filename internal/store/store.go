// Package store defines the contract for the push-based document store the
// chat pipeline runs against, plus the backends that implement it. Writes go
// to a metered backend, so callers are expected to treat every Write/Update
// as a budgeted operation.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/iwasamnot/campuschat/internal/models"
)

// DeltaKind classifies a change within a snapshot batch.
type DeltaKind int

const (
	DeltaAdd DeltaKind = iota
	DeltaModify
	DeltaRemove
)

func (k DeltaKind) String() string {
	switch k {
	case DeltaAdd:
		return "add"
	case DeltaModify:
		return "modify"
	case DeltaRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Delta is a single add/modify/remove change. Record carries the raw
// document for add/modify and is nil for remove. Records stay raw here so a
// malformed document can be skipped by the consumer without losing the rest
// of the batch.
type Delta struct {
	Kind   DeltaKind
	ID     string
	Record json.RawMessage
}

// Batch is one push notification: the set of deltas bringing the subscribed
// window from its previous state to the current one.
type Batch struct {
	Deltas []Delta
}

// Query selects the subscribed window.
type Query struct {
	// Limit bounds the window to the most recent Limit messages by
	// creation order. Zero means no bound.
	Limit int
	// PinnedOnly restricts the window to pinned messages.
	PinnedOnly bool
	// OrderByPinnedAt orders a pinned window by pin time instead of
	// creation time. Backends without a composite index over
	// (pinned, pinned_at) reject this with ErrMissingIndex.
	OrderByPinnedAt bool
}

// Subscription delivers snapshot batches until closed or failed. After the
// Batches channel closes, Err reports why (nil on clean close).
type Subscription interface {
	Batches() <-chan Batch
	Err() error
	Close()
}

// Store is the document store consumed by the pipeline. Write assigns and
// returns the record id. Update replaces the whole record: conflict
// resolution is last write wins by arrival, with no version checks.
type Store interface {
	Write(ctx context.Context, msg *models.Message) (string, error)
	Update(ctx context.Context, msg *models.Message) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*models.Message, error)
	Subscribe(ctx context.Context, q Query) (Subscription, error)
}

// DecodeMessage resolves a raw record into the tagged Message type. This is
// the single place record shapes are interpreted.
func DecodeMessage(raw json.RawMessage) (*models.Message, error) {
	var msg models.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decoding message record: %w", err)
	}
	if msg.ID == "" {
		return nil, fmt.Errorf("decoding message record: missing id")
	}
	return &msg, nil
}

// EncodeMessage serializes a message for storage or delta delivery.
func EncodeMessage(msg *models.Message) (json.RawMessage, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding message record: %w", err)
	}
	return data, nil
}
