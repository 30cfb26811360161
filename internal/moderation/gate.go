// Package moderation classifies message bodies and derives their display
// text. The gate sits on the critical path of every send and edit, so it
// must always produce a result: a remote classifier is preferred, a local
// keyword heuristic covers its failures.
package moderation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/iwasamnot/campuschat/internal/models"
)

// RedactionMarker replaces the display text of toxic messages. The raw text
// is preserved on the record for audit and author-visible purposes.
const RedactionMarker = "[REDACTED BY AI]"

// DefaultTimeout bounds a remote classification call.
const DefaultTimeout = 5 * time.Second

// Classification is a remote classifier verdict.
type Classification struct {
	Toxic      bool    `json:"toxic"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Classifier is the external toxicity-classification service.
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

// defaultKeywords is the local fallback blocklist. Matching is
// case-insensitive substring.
var defaultKeywords = []string{
	"idiot",
	"stupid",
	"moron",
	"loser",
	"shut up",
	"hate you",
	"kill yourself",
}

// Gate moderates message bodies.
type Gate struct {
	classifier Classifier
	timeout    time.Duration
	keywords   []string
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithTimeout overrides the remote classification timeout.
func WithTimeout(d time.Duration) GateOption {
	return func(g *Gate) { g.timeout = d }
}

// WithKeywords overrides the heuristic blocklist.
func WithKeywords(words []string) GateOption {
	return func(g *Gate) { g.keywords = words }
}

// NewGate creates a Gate. classifier may be nil, in which case every call
// uses the heuristic.
func NewGate(classifier Classifier, opts ...GateOption) *Gate {
	g := &Gate{
		classifier: classifier,
		timeout:    DefaultTimeout,
		keywords:   defaultKeywords,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Moderate classifies text. It never fails: classifier errors fall back to
// the keyword heuristic so the gate cannot block sending.
func (g *Gate) Moderate(ctx context.Context, text string) models.ModerationResult {
	if g.classifier != nil {
		cctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		c, err := g.classifier.Classify(cctx, text)
		if err == nil {
			return models.ModerationResult{
				Toxic:      c.Toxic,
				Confidence: c.Confidence,
				Reason:     c.Reason,
				Method:     models.ModerationMethodClassifier,
			}
		}
		slog.Warn("classifier unavailable, using heuristic", "error", err)
	}
	return g.heuristic(text)
}

// heuristic is the local keyword fallback.
func (g *Gate) heuristic(text string) models.ModerationResult {
	lower := strings.ToLower(text)
	for _, kw := range g.keywords {
		if strings.Contains(lower, kw) {
			return models.ModerationResult{
				Toxic:      true,
				Confidence: 0.9,
				Reason:     "matched blocked keyword: " + kw,
				Method:     models.ModerationMethodHeuristic,
			}
		}
	}
	return models.ModerationResult{
		Toxic:  false,
		Method: models.ModerationMethodHeuristic,
	}
}

// Render derives the display text from raw text and the toxic verdict.
// Display text is never edited independently of this derivation.
func Render(rawText string, toxic bool) string {
	if toxic {
		return RedactionMarker
	}
	return rawText
}
