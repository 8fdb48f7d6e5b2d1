package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event being emitted
type EventType string

const (
	// Sale lifecycle events
	EventStageTransition EventType = "stage_transition"
	EventSaleEnded       EventType = "sale_ended"

	// Contribution events
	EventContributionReceived EventType = "contribution_received"
	EventContributionRejected EventType = "contribution_rejected"

	// Vault events
	EventVaultStateChanged EventType = "vault_state_changed"
	EventRefundPaid        EventType = "refund_paid"
	EventFundsSentToWallet EventType = "funds_sent_to_wallet"

	// Disbursement events
	EventDisbursementScheduled EventType = "disbursement_scheduled"
	EventDisbursementWithdrawn EventType = "disbursement_withdrawn"

	// Token events
	EventTokensAllocated EventType = "tokens_allocated"
)

// EventSeverity indicates the importance of an event
type EventSeverity string

const (
	SeverityDebug   EventSeverity = "debug"
	SeverityInfo    EventSeverity = "info"
	SeverityWarning EventSeverity = "warning"
	SeverityError   EventSeverity = "error"
)

// Event is a single campaign event with metadata and payload. Payload keys
// are stable so an external indexer can reconstruct contributor and
// beneficiary sets without enumerating internal state.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Severity  EventSeverity          `json:"severity"`
	Campaign  string                 `json:"campaign"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// NewEvent creates an event with a fresh ID and the current timestamp.
func NewEvent(eventType EventType, severity EventSeverity, campaign string, payload map[string]interface{}) *Event {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Severity:  severity,
		Campaign:  campaign,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Marshal serializes the event for publishing.
func (e *Event) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", e.ID, err)
	}
	return data, nil
}
