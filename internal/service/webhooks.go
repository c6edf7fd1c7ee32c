package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/reachforge/crm-api/internal/entity"
	"github.com/reachforge/crm-api/internal/repository"
)

// Provider event types the webhook endpoint understands.
const (
	EventDelivered    = "delivered"
	EventOpened       = "opened"
	EventClicked      = "click"
	EventBounced      = "hard_bounce"
	EventSoftBounced  = "soft_bounce"
	EventBlocked      = "blocked"
	EventUnsubscribed = "unsubscribed"
	EventSpam         = "spam"
)

// WebhookPayload is the subset of the provider event body we act on. The
// full payload is stored raw for auditing.
type WebhookPayload struct {
	Event     string `json:"event"`
	Email     string `json:"email"`
	MessageID string `json:"message-id"`
	Date      string `json:"date"`
	Timestamp int64  `json:"ts,omitempty"`
}

// WebhookService records provider delivery events and applies their
// side effects to contacts.
type WebhookService struct {
	contacts repository.ContactsRepository
	events   repository.MessageEventsRepository
}

// NewWebhookService wires the webhook processor.
func NewWebhookService(contacts repository.ContactsRepository, events repository.MessageEventsRepository) *WebhookService {
	return &WebhookService{contacts: contacts, events: events}
}

// HandleEvent stores the raw event and updates the matching contact.
// Unknown event types and events for unknown contacts are recorded but
// otherwise ignored; providers retry on errors, so only storage failures
// propagate.
func (s *WebhookService) HandleEvent(ctx context.Context, raw json.RawMessage) error {
	var payload WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode webhook payload: %w", err)
	}

	eventType := strings.ToLower(strings.TrimSpace(payload.Event))
	if eventType == "" {
		return fmt.Errorf("webhook payload has no event type")
	}
	email := strings.ToLower(strings.TrimSpace(payload.Email))

	event := &entity.MessageEvent{
		EventType:  eventType,
		OccurredAt: payload.occurredAt(),
		Raw:        raw,
	}
	if email != "" {
		event.Email = &email
	}
	if id := strings.TrimSpace(payload.MessageID); id != "" {
		event.ProviderMessageID = &id
	}
	if err := s.events.Insert(ctx, event); err != nil {
		return err
	}

	if email == "" {
		return nil
	}

	switch eventType {
	case EventBounced, EventBlocked:
		if err := s.contacts.MarkBouncedByEmail(ctx, email); err != nil {
			if !errors.Is(err, repository.ErrContactNotFound) {
				return err
			}
			log.Printf("webhook %s: no contact for %s", eventType, email)
		}
	case EventUnsubscribed, EventSpam:
		if err := s.contacts.UpdateConsentByEmail(ctx, email, entity.ConsentUnsubscribed); err != nil {
			if !errors.Is(err, repository.ErrContactNotFound) {
				return err
			}
			log.Printf("webhook %s: no contact for %s", eventType, email)
		}
	}
	return nil
}

// Recent lists the latest stored events for the status endpoint.
func (s *WebhookService) Recent(ctx context.Context, limit int) ([]entity.MessageEvent, error) {
	return s.events.ListRecent(ctx, limit)
}

// CountSince reports event volume after the given instant.
func (s *WebhookService) CountSince(ctx context.Context, since time.Time) (int, error) {
	return s.events.CountSince(ctx, since)
}

// occurredAt prefers the unix timestamp, then the date string, and
// otherwise falls back to now.
func (p WebhookPayload) occurredAt() time.Time {
	if p.Timestamp > 0 {
		return time.Unix(p.Timestamp, 0).UTC()
	}
	if p.Date != "" {
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, p.Date); err == nil {
				return ts.UTC()
			}
		}
	}
	return time.Now().UTC()
}
