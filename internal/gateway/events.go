package gateway

import (
	"encoding/json"

	"github.com/iwasamnot/campuschat/internal/models"
)

// Op codes for gateway payloads.
const (
	OpDispatch       = 0
	OpHeartbeat      = 1
	OpIdentify       = 2
	OpTyping         = 3
	OpAutoReplyMode  = 4
	OpHello          = 10
	OpHeartbeatAck   = 11
)

// Event names for DISPATCH payloads.
const (
	EventReady          = "READY"
	EventSyncUpdate     = "SYNC_UPDATE"
	EventViewError      = "VIEW_ERROR"
	EventTypingStart    = "TYPING_START"
	EventPresenceUpdate = "PRESENCE_UPDATE"
)

// Payload is the envelope for all gateway messages.
type Payload struct {
	Op       int             `json:"op"`
	Data     json.RawMessage `json:"d,omitempty"`
	Sequence *int64          `json:"s,omitempty"`
	Event    *string         `json:"t,omitempty"`
}

// IdentifyData is sent by the client in an Op 2 IDENTIFY.
type IdentifyData struct {
	Token string `json:"token"`
}

// HelloData is sent by the server after WebSocket connect.
type HelloData struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

// ReadyData is sent by the server after successful IDENTIFY. Messages is
// the current reconciled view so the client renders without waiting for
// the first sync.
type ReadyData struct {
	SessionID string           `json:"session_id"`
	UserID    string           `json:"user_id"`
	Messages  []models.Message `json:"messages"`
}

// SyncUpdateData carries the full reconciled message view. The client
// replaces its list wholesale; it never patches.
type SyncUpdateData struct {
	Messages []models.Message `json:"messages"`
}

// ViewErrorData tells the client to show an error banner over the view.
type ViewErrorData struct {
	Code   string `json:"code"`
	Banner string `json:"banner"`
}

// TypingStartData is the payload for TYPING_START events.
type TypingStartData struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Timestamp   int64  `json:"timestamp"`
}

// PresenceUpdateData is the payload for PRESENCE_UPDATE events.
type PresenceUpdateData struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// AutoReplyModeData is sent by the client in an Op 4 to toggle the
// assistant for its session.
type AutoReplyModeData struct {
	Enabled bool `json:"enabled"`
}
