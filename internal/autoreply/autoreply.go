// Package autoreply generates a system-authored reply after qualifying
// user messages. A broken generation backend must never disturb normal
// chat: failures are logged and swallowed.
package autoreply

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/iwasamnot/campuschat/internal/models"
)

// Fixed system identity for injected replies.
const (
	SystemAuthorID   = "campus-assistant"
	SystemAuthorName = "Campus Assistant"
)

// DefaultTimeout bounds one generation call.
const DefaultTimeout = 20 * time.Second

const defaultSystemPrompt = "You are Campus Assistant, a friendly helper in a campus community chat. " +
	"Reply briefly and helpfully to the student's message."

// GenOpts tunes a generation request.
type GenOpts struct {
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
}

// Generator is the external generative-reply service.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenOpts) (string, error)
}

// Injector writes the generated reply into the chat as the system identity.
type Injector interface {
	InjectSystemReply(ctx context.Context, text, replyToID string) error
}

// State of the orchestrator's per-message machine.
type State int

const (
	StateIdle State = iota
	StateAwaitingGeneration
)

// Orchestrator runs the reply state machine. At most one generation request
// is in flight at a time; while one is, Waiting reports true so the UI can
// gate the auto-reply affordance (ordinary sending stays open).
type Orchestrator struct {
	gen      Generator
	injector Injector
	timeout  time.Duration
	opts     GenOpts

	mu      sync.Mutex
	enabled map[string]bool // userID → mode on
	state   State
}

// New creates an Orchestrator. The auto-reply mode starts disabled for
// every user.
func New(gen Generator, injector Injector) *Orchestrator {
	return &Orchestrator{
		gen:      gen,
		injector: injector,
		timeout:  DefaultTimeout,
		opts: GenOpts{
			SystemPrompt: defaultSystemPrompt,
			MaxTokens:    256,
			Temperature:  0.7,
		},
		enabled: make(map[string]bool),
	}
}

// SetInjector binds the chat-side writer. Wiring is two-phase because the
// injector itself holds the orchestrator.
func (o *Orchestrator) SetInjector(inj Injector) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.injector = inj
}

// SetEnabledFor toggles the auto-reply mode for one user. The toggle is
// scoped to that user's messages; it never affects other sessions.
func (o *Orchestrator) SetEnabledFor(userID string, on bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if on {
		o.enabled[userID] = true
	} else {
		delete(o.enabled, userID)
	}
}

// EnabledFor reports whether auto-reply mode is on for the given user.
func (o *Orchestrator) EnabledFor(userID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.enabled[userID]
}

// Waiting reports whether a generation request is in flight.
func (o *Orchestrator) Waiting() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state == StateAwaitingGeneration
}

// MaybeReply fires the state machine for a just-sent user message. It
// returns true when a generation was started. Toxic messages never enter
// generation; neither do messages sent while a request is already in
// flight or whose author has the mode off.
func (o *Orchestrator) MaybeReply(ctx context.Context, msg models.Message) bool {
	if msg.Toxic || msg.AuthorID == SystemAuthorID {
		return false
	}

	o.mu.Lock()
	if !o.enabled[msg.AuthorID] || o.state != StateIdle || o.gen == nil || o.injector == nil {
		o.mu.Unlock()
		return false
	}
	o.state = StateAwaitingGeneration
	o.mu.Unlock()

	go o.generate(ctx, msg)
	return true
}

func (o *Orchestrator) generate(ctx context.Context, msg models.Message) {
	defer func() {
		o.mu.Lock()
		o.state = StateIdle
		o.mu.Unlock()
	}()

	gctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	text, err := o.gen.Generate(gctx, msg.RawText, o.opts)
	if err != nil {
		// Silent failure: the sender never sees a broken AI backend.
		slog.Warn("auto-reply generation failed", "messageID", msg.ID, "error", err)
		return
	}
	if text == "" {
		slog.Warn("auto-reply generation returned empty text", "messageID", msg.ID)
		return
	}

	o.mu.Lock()
	inj := o.injector
	o.mu.Unlock()

	if err := inj.InjectSystemReply(gctx, text, msg.ID); err != nil {
		slog.Warn("auto-reply injection failed", "messageID", msg.ID, "error", err)
	}
}
