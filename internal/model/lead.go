package model

import "time"

// IntentLevel is the ordinal classification of commercial interest in a turn.
type IntentLevel string

const (
	IntentNone   IntentLevel = "none"
	IntentLow    IntentLevel = "low"
	IntentMedium IntentLevel = "medium"
	IntentHigh   IntentLevel = "high"
)

// Rank returns the ordinal position of the intent level, IntentNone being 0.
// Unknown values rank below IntentNone.
func (l IntentLevel) Rank() int {
	switch l {
	case IntentNone:
		return 0
	case IntentLow:
		return 1
	case IntentMedium:
		return 2
	case IntentHigh:
		return 3
	default:
		return -1
	}
}

// Valid reports whether l is one of the known intent levels.
func (l IntentLevel) Valid() bool {
	return l.Rank() >= 0
}

// LeadStatus is a free-form workflow tag. New leads start as StatusNew;
// downstream consumers (CRM, operators) may set anything.
const StatusNew = "new"

// Lead is the aggregate for one detected commercial opportunity, uniquely
// keyed by (agent_id, conversation_id). Re-detection on the same conversation
// updates the existing row; leads are never hard-deleted here.
type Lead struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	AgentID        string      `json:"agent_id,omitempty"`
	TenantID       string      `json:"tenant_id,omitempty"`

	Name        string `json:"name,omitempty"`
	Company     string `json:"company,omitempty"`
	Role        string `json:"role,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Industry    string `json:"industry,omitempty"`
	CompanySize string `json:"company_size,omitempty"`
	Interest    string `json:"interest,omitempty"`

	IntentLevel   IntentLevel    `json:"intent_level"`
	Score         int            `json:"score"`
	Qualified     bool           `json:"qualified"`
	Status        string         `json:"status"`
	SourceChannel string         `json:"source_channel,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	Extras        map[string]any `json:"extras,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationKey identifies a lead by its conversation-scoped identity.
type ConversationKey struct {
	AgentID        string
	ConversationID string
}

// String renders the key as "agent_id|conversation_id".
func (k ConversationKey) String() string {
	return k.AgentID + "|" + k.ConversationID
}

// HasTag reports whether the lead carries the given tag.
func (l *Lead) HasTag(tag string) bool {
	for _, t := range l.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Contactable reports whether the lead has at least one contact channel.
func (l *Lead) Contactable() bool {
	return l.Email != "" || l.Phone != ""
}

// LeadUpsert carries the fields written by the pipeline on each detection.
// Empty contact fields never overwrite previously extracted values.
type LeadUpsert struct {
	ConversationID string
	AgentID        string
	TenantID       string

	Name        string
	Company     string
	Role        string
	Email       string
	Phone       string
	Industry    string
	CompanySize string
	Interest    string

	IntentLevel   IntentLevel
	Score         int
	Qualified     bool
	SourceChannel string
	Extras        map[string]any
}

// ScoreFactor is one entry in a scoring rationale: which factor contributed
// and by how many points. Signals optionally names the inputs that fired.
type ScoreFactor struct {
	Factor  string   `json:"factor"`
	Points  int      `json:"points"`
	Signals []string `json:"signals,omitempty"`
}

// ScoreSnapshot is an immutable record of one scoring pass. One snapshot is
// appended per pass, even when the numeric score did not change.
type ScoreSnapshot struct {
	ID        string        `json:"id"`
	LeadID    string        `json:"lead_id"`
	Score     int           `json:"score"`
	Rationale []ScoreFactor `json:"rationale"`
	CreatedAt time.Time     `json:"created_at"`
}

// LeadFilter specifies criteria for listing leads.
type LeadFilter struct {
	TenantID    string      `json:"tenant_id,omitempty"`
	AgentID     string      `json:"agent_id,omitempty"`
	Qualified   *bool       `json:"qualified,omitempty"`
	MinScore    int         `json:"min_score,omitempty"`
	Status      string      `json:"status,omitempty"`
	IntentLevel IntentLevel `json:"intent_level,omitempty"`
	Limit       int         `json:"limit,omitempty"`
	Offset      int         `json:"offset,omitempty"`
}
