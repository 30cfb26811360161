package models

// Classification methods recorded on moderated messages.
const (
	ModerationMethodClassifier = "classifier"
	ModerationMethodHeuristic  = "heuristic"
)

// ModerationResult is the outcome of classifying a message body.
type ModerationResult struct {
	Toxic      bool    `json:"toxic"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
	Method     string  `json:"method"`
}
