package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageEvent records one delivery event reported by the e-mail provider
// webhook (delivered, opened, clicked, bounced, spam, unsubscribed, blocked).
// The raw payload is kept verbatim for troubleshooting.
type MessageEvent struct {
	ID                uuid.UUID       `json:"id"`
	ProviderMessageID *string         `json:"provider_message_id,omitempty"`
	Email             *string         `json:"email,omitempty"`
	EventType         string          `json:"event_type"`
	OccurredAt        time.Time       `json:"occurred_at"`
	Raw               json.RawMessage `json:"raw"`
	CreatedAt         time.Time       `json:"created_at"`
}
