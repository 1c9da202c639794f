package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"intake/internal/application/models"
	"intake/pkg/requestcontext"
)

// AggregateApplication is the outbox aggregate type of every audit event.
const AggregateApplication = "application"

// OutboxEntry is one audit event waiting to be relayed.
type OutboxEntry struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// AuditEvent is the JSON payload of an outbox entry.
type AuditEvent struct {
	EventID   string    `json:"eventId"`
	AppID     string    `json:"appId"`
	ProjectID string    `json:"projectId"`
	Sequence  int       `json:"sequence"`
	Action    string    `json:"action"`
	UserID    string    `json:"userId"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"requestId,omitempty"`
}

// Outbox hands pending entries to publish and marks them published when it
// returns nil. Entries are delivered in creation order; delivery is at least once.
type Outbox interface {
	ClaimPending(ctx context.Context, limit int, publish func(ctx context.Context, entries []OutboxEntry) error) (int, error)
}

// outboxEntries builds one entry per audit entry of app from position from on.
func outboxEntries(ctx context.Context, app *models.Application, from int) ([]OutboxEntry, error) {
	if from >= len(app.AuditLog) {
		return nil, nil
	}
	requestID := requestcontext.RequestID(ctx)
	now := time.Now().UTC()
	entries := make([]OutboxEntry, 0, len(app.AuditLog)-from)
	for _, e := range app.AuditLog[from:] {
		id := uuid.New()
		payload, err := json.Marshal(AuditEvent{
			EventID:   id.String(),
			AppID:     app.ID,
			ProjectID: app.ProjectID,
			Sequence:  e.Sequence,
			Action:    e.Action,
			UserID:    e.UserID,
			Details:   e.Details,
			Timestamp: e.Timestamp,
			RequestID: requestID,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal audit event: %w", err)
		}
		entries = append(entries, OutboxEntry{
			ID:            id,
			AggregateType: AggregateApplication,
			AggregateID:   app.ID,
			EventType:     e.Action,
			Payload:       payload,
			CreatedAt:     now,
		})
	}
	return entries, nil
}
