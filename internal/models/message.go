package models

import "time"

// Attachment describes a file attached to a message. The URL points at
// object storage; the remaining fields are denormalized at upload time.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Mime string `json:"mime"`
	Size int64  `json:"size"`
}

// ReplyRef links a message to the one it replies to, carrying a cached
// preview so the reply can render without a second lookup.
type ReplyRef struct {
	MessageID string `json:"message_id"`
	Preview   string `json:"preview"`
}

// Message is the single message type used everywhere. Record shapes from the
// remote store are resolved into this struct once at the store boundary;
// downstream code never inspects raw documents.
type Message struct {
	ID                string               `json:"id"`
	AuthorID          string               `json:"author_id"`
	AuthorDisplayName string               `json:"author_display_name"`
	RawText           string               `json:"raw_text"`
	DisplayText       string               `json:"display_text"`
	Toxic             bool                 `json:"toxic"`
	ToxicConfidence   float64              `json:"toxic_confidence"`
	ToxicMethod       string               `json:"toxic_method,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	EditedAt          *time.Time           `json:"edited_at,omitempty"`
	Reactions         map[string]string    `json:"reactions,omitempty"`
	ReadBy            map[string]time.Time `json:"read_by,omitempty"`
	Attachment        *Attachment          `json:"attachment,omitempty"`
	ReplyTo           *ReplyRef            `json:"reply_to,omitempty"`
	ThreadParentID    string               `json:"thread_parent_id,omitempty"`
	Mentions          []string             `json:"mentions,omitempty"`
	Pinned            bool                 `json:"pinned"`
	PinnedAt          *time.Time           `json:"pinned_at,omitempty"`
}

// Clone returns a deep copy so callers can hand messages across goroutines
// without sharing the maps.
func (m Message) Clone() Message {
	out := m
	if m.Reactions != nil {
		out.Reactions = make(map[string]string, len(m.Reactions))
		for k, v := range m.Reactions {
			out.Reactions[k] = v
		}
	}
	if m.ReadBy != nil {
		out.ReadBy = make(map[string]time.Time, len(m.ReadBy))
		for k, v := range m.ReadBy {
			out.ReadBy[k] = v
		}
	}
	if m.Mentions != nil {
		out.Mentions = append([]string(nil), m.Mentions...)
	}
	if m.Attachment != nil {
		a := *m.Attachment
		out.Attachment = &a
	}
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		out.ReplyTo = &r
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		out.EditedAt = &t
	}
	if m.PinnedAt != nil {
		t := *m.PinnedAt
		out.PinnedAt = &t
	}
	return out
}

// MentionedIn reports whether userID is in the message's mention list.
func (m Message) MentionedIn(userID string) bool {
	for _, id := range m.Mentions {
		if id == userID {
			return true
		}
	}
	return false
}
