package model

import (
	"encoding/json"
	"time"
)

// TriggerEvent is the closed set of domain events automation rules may bind
// to. Unknown trigger strings are rejected when rules load, not silently
// ignored at evaluation time.
type TriggerEvent string

const (
	TriggerLeadCreated   TriggerEvent = "lead.created"
	TriggerLeadUpdated   TriggerEvent = "lead.updated"
	TriggerLeadQualified TriggerEvent = "lead.qualified"
)

// Valid reports whether t is a known trigger event.
func (t TriggerEvent) Valid() bool {
	switch t {
	case TriggerLeadCreated, TriggerLeadUpdated, TriggerLeadQualified:
		return true
	}
	return false
}

// ActionType is the closed set of automation action executors.
type ActionType string

const (
	ActionWebhook ActionType = "webhook"
	ActionChatOps ActionType = "chatops"
	ActionEmail   ActionType = "email"
	ActionCRM     ActionType = "crm"
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionWebhook, ActionChatOps, ActionEmail, ActionCRM:
		return true
	}
	return false
}

// TriggerFilter is an AND-combined predicate over lead fields. Absent
// (zero-valued) keys always pass; Tags requires the lead to own every listed
// tag.
type TriggerFilter struct {
	PipelineID  string      `json:"pipeline_id,omitempty" yaml:"pipeline_id"`
	StageID     string      `json:"stage_id,omitempty" yaml:"stage_id"`
	MinScore    *int        `json:"min_score,omitempty" yaml:"min_score"`
	Qualified   *bool       `json:"qualified,omitempty" yaml:"qualified"`
	Status      string      `json:"status,omitempty" yaml:"status"`
	IntentLevel IntentLevel `json:"intent_level,omitempty" yaml:"intent_level"`
	Tags        []string    `json:"tags,omitempty" yaml:"tags"`
}

// ActionConfig is the opaque, action-specific configuration blob.
// Known keys per action type:
//
//	webhook: url, secret, headers (map)
//	chatops: url, template
//	email:   recipient, subject
//	crm:     object, owner_id
type ActionConfig map[string]any

// String returns the string value for key, or "" when absent or non-string.
func (c ActionConfig) String(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

// AutomationRule is a tenant-scoped (or global, when TenantID is empty)
// trigger-filter-action tuple. Mutated only through CRUD outside this core;
// consumed read-only by the engine.
type AutomationRule struct {
	ID           string        `json:"id" yaml:"id"`
	TenantID     string        `json:"tenant_id,omitempty" yaml:"tenant_id"`
	Name         string        `json:"name" yaml:"name"`
	IsActive     bool          `json:"is_active" yaml:"is_active"`
	TriggerEvent TriggerEvent  `json:"trigger_event" yaml:"trigger_event"`
	Filter       TriggerFilter `json:"trigger_filter" yaml:"trigger_filter"`
	ActionType   ActionType    `json:"action_type" yaml:"action_type"`
	ActionConfig ActionConfig  `json:"action_config" yaml:"action_config"`
	CreatedAt    time.Time     `json:"created_at,omitempty" yaml:"-"`
}

// AutomationStatus is the outcome of one rule execution.
type AutomationStatus string

const (
	AutomationSuccess AutomationStatus = "success"
	AutomationError   AutomationStatus = "error"
)

// AutomationLog is the append-only execution record for one rule firing.
type AutomationLog struct {
	ID        string           `json:"id"`
	RuleID    string           `json:"rule_id"`
	LeadID    string           `json:"lead_id"`
	EventType TriggerEvent     `json:"event_type"`
	Status    AutomationStatus `json:"status"`
	Message   string           `json:"message,omitempty"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}
