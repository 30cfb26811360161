package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// HTTPClassifier calls a remote toxicity classifier over HTTP.
type HTTPClassifier struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPClassifier creates a classifier client. The per-call deadline comes
// from the caller's context; the gate applies its own timeout.
func NewHTTPClassifier(endpoint string) *HTTPClassifier {
	return &HTTPClassifier{
		endpoint:   endpoint,
		httpClient: &http.Client{},
	}
}

type classifyRequest struct {
	Text string `json:"text"`
}

// Classify sends the text for classification.
func (c *HTTPClassifier) Classify(ctx context.Context, text string) (Classification, error) {
	body, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return Classification{}, fmt.Errorf("encoding classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Classification{}, fmt.Errorf("building classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Classification{}, fmt.Errorf("calling classifier: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Classification{}, fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	var result Classification
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Classification{}, fmt.Errorf("decoding classifier response: %w", err)
	}
	return result, nil
}
