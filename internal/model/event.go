package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// EventType is the closed set of lead audit event types. Events are
// append-only and never mutated; they are the only source automations and
// auditors replay from.
type EventType string

const (
	EventDetected           EventType = "detected"
	EventUpdated            EventType = "updated"
	EventQualified          EventType = "qualified"
	EventScoreChanged       EventType = "score_changed"
	EventNotified           EventType = "notified"
	EventAutomationExecuted EventType = "automation_executed"
	EventStatusChanged      EventType = "status_changed"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventDetected, EventUpdated, EventQualified, EventScoreChanged,
		EventNotified, EventAutomationExecuted, EventStatusChanged:
		return true
	}
	return false
}

// LeadEvent is an immutable fact attached to a lead.
type LeadEvent struct {
	ID        string          `json:"id"`
	LeadID    string          `json:"lead_id"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// DetectedPayload is the payload for detected/updated events.
type DetectedPayload struct {
	IntentLevel IntentLevel    `json:"intent_level"`
	Score       int            `json:"score"`
	Qualified   bool           `json:"qualified"`
	Confidence  float64        `json:"confidence"`
	Signals     []string       `json:"signals,omitempty"`
	Provenance  map[string]any `json:"provenance,omitempty"`
}

// ScoreChangedPayload records a score transition.
type ScoreChangedPayload struct {
	Previous int `json:"previous"`
	Current  int `json:"current"`
}

// NotifiedPayload records the outcome of a notification fan-out.
type NotifiedPayload struct {
	Channels []string `json:"channels"`
	Failed   []string `json:"failed,omitempty"`
}

// AutomationPayload records one automation rule execution.
type AutomationPayload struct {
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
	Trigger  string `json:"trigger"`
	Status   string `json:"status"`
}

// StatusChangedPayload records a workflow status transition.
type StatusChangedPayload struct {
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

// MarshalEventPayload serializes a typed event payload for storage.
func MarshalEventPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "model: marshal event payload")
	}
	return raw, nil
}
