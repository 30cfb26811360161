// Package mentions extracts @-mentions from message text, resolves them
// against the directory, and fans out mention notifications after the
// message is durably stored.
package mentions

import (
	"regexp"

	"github.com/iwasamnot/campuschat/internal/directory"
	"github.com/iwasamnot/campuschat/internal/models"
	"github.com/iwasamnot/campuschat/internal/notify"
)

// PreviewLength bounds the text preview carried in a mention notification.
const PreviewLength = 80

var mentionRe = regexp.MustCompile(`@([\p{L}\p{N}_.\-]+)`)

// Resolver turns @tokens into user ids using the directory cache.
type Resolver struct {
	dir *directory.Cache
}

// NewResolver creates a Resolver over the directory cache.
func NewResolver(dir *directory.Cache) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve scans rawText for @token patterns and returns the ids of users
// whose display name matches case-insensitively, in order of first
// appearance without duplicates. Tokens with no match, or an ambiguous
// match, are silently ignored: they stay plain text and never block a send.
// Resolution happens before the write so mentions are stored on the record,
// not recomputed later from possibly stale directory state.
func (r *Resolver) Resolve(rawText string) []string {
	matches := mentionRe.FindAllStringSubmatch(rawText, -1)
	if len(matches) == 0 {
		return nil
	}

	var ids []string
	seen := make(map[string]bool)
	for _, m := range matches {
		entry, ok := r.dir.LookupName(m[1])
		if !ok || seen[entry.ID] {
			continue
		}
		seen[entry.ID] = true
		ids = append(ids, entry.ID)
	}
	return ids
}

// Notifier dispatches "you were mentioned" notifications.
type Notifier struct {
	sink notify.Sink
}

// NewNotifier creates a Notifier on the given sink.
func NewNotifier(sink notify.Sink) *Notifier {
	return &Notifier{sink: sink}
}

// NotifyMentions dispatches one notification per mentioned user, skipping
// the author. Call only after the message has been stored.
func (n *Notifier) NotifyMentions(msg models.Message) {
	if len(msg.Mentions) == 0 {
		return
	}
	preview := msg.DisplayText
	if len(preview) > PreviewLength {
		preview = preview[:PreviewLength] + "…"
	}
	for _, userID := range msg.Mentions {
		if userID == msg.AuthorID {
			continue
		}
		notify.Dispatch(n.sink, notify.Notification{
			Title: msg.AuthorDisplayName + " mentioned you",
			Body:  preview,
			Tag:   "mention:" + msg.ID + ":" + userID,
		})
	}
}
