// Package chat composes the pipeline: rate limit, moderation, mention
// resolution, persistence, and the post-persist fan-out (mention
// notifications, auto-reply).
package chat

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/iwasamnot/campuschat/internal/autoreply"
	"github.com/iwasamnot/campuschat/internal/directory"
	"github.com/iwasamnot/campuschat/internal/mentions"
	"github.com/iwasamnot/campuschat/internal/models"
	"github.com/iwasamnot/campuschat/internal/moderation"
	"github.com/iwasamnot/campuschat/internal/permissions"
	"github.com/iwasamnot/campuschat/internal/presence"
	"github.com/iwasamnot/campuschat/internal/ratelimit"
	"github.com/iwasamnot/campuschat/internal/scheduler"
	"github.com/iwasamnot/campuschat/internal/store"
)

const (
	maxContentLength = 2000
	previewLength    = 80
)

// RoleFunc resolves a user's chat role.
type RoleFunc func(userID string) permissions.Role

// Deps are the collaborators a Service needs. Replies and Presence are
// optional.
type Deps struct {
	Store    store.Store
	Gate     *moderation.Gate
	Limiter  *ratelimit.Limiter
	Resolver *mentions.Resolver
	Notifier *mentions.Notifier
	Dir      *directory.Cache
	Replies  *autoreply.Orchestrator
	Presence *presence.Client
	Roles    RoleFunc
	Clock    scheduler.Clock
}

// Service handles message business logic for the campus room.
type Service struct {
	store    store.Store
	gate     *moderation.Gate
	limiter  *ratelimit.Limiter
	resolver *mentions.Resolver
	notifier *mentions.Notifier
	dir      *directory.Cache
	replies  *autoreply.Orchestrator
	presence *presence.Client
	roles    RoleFunc
	clock    scheduler.Clock
}

// NewService creates a Service.
func NewService(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = scheduler.RealClock{}
	}
	if d.Roles == nil {
		d.Roles = func(string) permissions.Role { return permissions.RoleMember }
	}
	return &Service{
		store:    d.Store,
		gate:     d.Gate,
		limiter:  d.Limiter,
		resolver: d.Resolver,
		notifier: d.Notifier,
		dir:      d.Dir,
		replies:  d.Replies,
		presence: d.Presence,
		roles:    d.Roles,
		clock:    d.Clock,
	}
}

// SendOpts carries the optional parts of a send.
type SendOpts struct {
	ReplyToID      string
	ThreadParentID string
	Attachment     *models.Attachment
}

// Send runs the full outbound pipeline and persists the message. The write
// happens only after the rate limiter and validation accept; moderation and
// mention resolution always complete before the write so the stored record
// already carries its displayText and mentions.
func (s *Service) Send(ctx context.Context, senderID, text string, opts SendOpts) (*models.Message, error) {
	if senderID == "" {
		return nil, BadRequest("INVALID_SENDER", "sender id is required")
	}
	if err := s.requirePermission(senderID, permissions.PermSendMessages, "you cannot send messages"); err != nil {
		return nil, err
	}

	if allowed, remaining := s.limiter.TryAccept(senderID, s.clock.Now()); !allowed {
		return nil, RateLimited(remaining)
	}

	if len(text) == 0 || len(text) > maxContentLength {
		return nil, BadRequest("INVALID_CONTENT", "message content must be 1-2000 characters")
	}

	mod := s.gate.Moderate(ctx, text)

	msg := &models.Message{
		AuthorID:          senderID,
		AuthorDisplayName: s.dir.DisplayNameFor(senderID),
		RawText:           text,
		DisplayText:       moderation.Render(text, mod.Toxic),
		Toxic:             mod.Toxic,
		ToxicConfidence:   mod.Confidence,
		ToxicMethod:       mod.Method,
		Mentions:          s.resolver.Resolve(text),
		Attachment:        opts.Attachment,
	}

	if opts.ReplyToID != "" {
		parent, err := s.store.Get(ctx, opts.ReplyToID)
		if err != nil {
			return nil, mapStoreErr(err)
		}
		msg.ReplyTo = &models.ReplyRef{
			MessageID: parent.ID,
			Preview:   preview(parent.DisplayText),
		}
	}

	if opts.ThreadParentID != "" {
		parent, err := s.store.Get(ctx, opts.ThreadParentID)
		if err != nil {
			return nil, mapStoreErr(err)
		}
		if parent.ThreadParentID != "" {
			return nil, BadRequest("NESTED_THREAD", "threads cannot be nested")
		}
		msg.ThreadParentID = parent.ID
	}

	if _, err := s.store.Write(ctx, msg); err != nil {
		return nil, mapStoreErr(err)
	}

	// Post-persist fan-out must outlive the request.
	stored := msg.Clone()
	if s.notifier != nil {
		go s.notifier.NotifyMentions(stored)
	}
	if s.replies != nil {
		s.replies.MaybeReply(context.WithoutCancel(ctx), stored)
	}

	return msg, nil
}

// InjectSystemReply writes a generated reply authored by the fixed system
// identity. It satisfies autoreply.Injector. The reply passes through the
// same moderation gate as user text.
func (s *Service) InjectSystemReply(ctx context.Context, text, replyToID string) error {
	text = truncate(text, maxContentLength)
	mod := s.gate.Moderate(ctx, text)

	msg := &models.Message{
		AuthorID:          autoreply.SystemAuthorID,
		AuthorDisplayName: autoreply.SystemAuthorName,
		RawText:           text,
		DisplayText:       moderation.Render(text, mod.Toxic),
		Toxic:             mod.Toxic,
		ToxicConfidence:   mod.Confidence,
		ToxicMethod:       mod.Method,
	}
	if replyToID != "" {
		if parent, err := s.store.Get(ctx, replyToID); err == nil {
			msg.ReplyTo = &models.ReplyRef{MessageID: parent.ID, Preview: preview(parent.DisplayText)}
		}
	}

	if _, err := s.store.Write(ctx, msg); err != nil {
		return mapStoreErr(err)
	}
	return nil
}

// Edit replaces a message's text. Only the author can edit. Moderation is
// re-evaluated from scratch, so an edit can flip the toxic flag in either
// direction; displayText is always re-derived, never patched.
func (s *Service) Edit(ctx context.Context, editorID, msgID, text string) (*models.Message, error) {
	msg, err := s.store.Get(ctx, msgID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if msg.AuthorID != editorID {
		return nil, Forbidden("FORBIDDEN", "you can only edit your own messages")
	}
	if len(text) == 0 || len(text) > maxContentLength {
		return nil, BadRequest("INVALID_CONTENT", "message content must be 1-2000 characters")
	}

	mod := s.gate.Moderate(ctx, text)
	now := s.clock.Now()

	msg.RawText = text
	msg.DisplayText = moderation.Render(text, mod.Toxic)
	msg.Toxic = mod.Toxic
	msg.ToxicConfidence = mod.Confidence
	msg.ToxicMethod = mod.Method
	msg.Mentions = s.resolver.Resolve(text)
	msg.EditedAt = &now

	if err := s.store.Update(ctx, msg); err != nil {
		return nil, mapStoreErr(err)
	}
	return msg, nil
}

// Delete removes a message entirely. The author can always delete their
// own; otherwise deletion needs an elevated role.
func (s *Service) Delete(ctx context.Context, userID, msgID string) error {
	msg, err := s.store.Get(ctx, msgID)
	if err != nil {
		return mapStoreErr(err)
	}
	if msg.AuthorID != userID {
		if err := s.requirePermission(userID, permissions.PermDeleteAnyMessage, "you can only delete your own messages"); err != nil {
			return err
		}
	}
	if err := s.store.Delete(ctx, msgID); err != nil {
		return mapStoreErr(err)
	}
	return nil
}

// ToggleReaction sets, replaces, or clears the user's single emoji on a
// message: same emoji removes it, a different one replaces it.
func (s *Service) ToggleReaction(ctx context.Context, userID, msgID, emoji string) (*models.Message, error) {
	if emoji == "" {
		return nil, BadRequest("INVALID_EMOJI", "emoji is required")
	}
	msg, err := s.store.Get(ctx, msgID)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	if msg.Reactions == nil {
		msg.Reactions = make(map[string]string)
	}
	if msg.Reactions[userID] == emoji {
		delete(msg.Reactions, userID)
	} else {
		msg.Reactions[userID] = emoji
	}

	if err := s.store.Update(ctx, msg); err != nil {
		return nil, mapStoreErr(err)
	}
	return msg, nil
}

// TogglePin flips a message's pinned state. Pinning is privileged.
func (s *Service) TogglePin(ctx context.Context, userID, msgID string) (*models.Message, error) {
	if err := s.requirePermission(userID, permissions.PermPinMessages, "pinning requires a moderator role"); err != nil {
		return nil, err
	}
	msg, err := s.store.Get(ctx, msgID)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	if msg.Pinned {
		msg.Pinned = false
		msg.PinnedAt = nil
	} else {
		now := s.clock.Now()
		msg.Pinned = true
		msg.PinnedAt = &now
	}

	if err := s.store.Update(ctx, msg); err != nil {
		return nil, mapStoreErr(err)
	}
	return msg, nil
}

// AckRead records that userID has seen a message. It satisfies
// receipts.AckWriter. The author's own ack is clamped so readBy never maps
// the author to a time before the message existed. An already-recorded ack
// is a no-op to avoid a redundant write.
func (s *Service) AckRead(ctx context.Context, messageID, userID string, at time.Time) error {
	msg, err := s.store.Get(ctx, messageID)
	if err != nil {
		return mapStoreErr(err)
	}
	if _, ok := msg.ReadBy[userID]; ok {
		return nil
	}
	if userID == msg.AuthorID && at.Before(msg.CreatedAt) {
		at = msg.CreatedAt
	}
	if msg.ReadBy == nil {
		msg.ReadBy = make(map[string]time.Time)
	}
	msg.ReadBy[userID] = at

	if err := s.store.Update(ctx, msg); err != nil {
		return mapStoreErr(err)
	}
	return nil
}

// Typing records a typing signal. Best effort: a presence failure is
// logged, never surfaced.
func (s *Service) Typing(ctx context.Context, userID string) {
	if s.presence == nil {
		return
	}
	if err := s.presence.SetTyping(ctx, userID); err != nil {
		slog.Warn("typing signal failed", "userID", userID, "error", err)
	}
}

// SetAutoReplyMode toggles the auto-reply mode for one user's messages.
func (s *Service) SetAutoReplyMode(userID string, on bool) {
	if s.replies != nil {
		s.replies.SetEnabledFor(userID, on)
	}
}

// AutoReplyWaiting reports whether a generation is in flight.
func (s *Service) AutoReplyWaiting() bool {
	return s.replies != nil && s.replies.Waiting()
}

func (s *Service) requirePermission(userID string, perm permissions.Permission, message string) error {
	if permissions.ForRole(s.roles(userID)).Has(perm) {
		return nil
	}
	return Forbidden("FORBIDDEN", message)
}

func preview(text string) string {
	if len(text) <= previewLength {
		return text
	}
	return truncate(text, previewLength) + "…"
}

// truncate shortens text to at most max bytes without splitting a rune.
func truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
