package model

// Message is one entry in a conversation transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TurnEnvelope is the inbound contract from the conversation engine: one
// user/assistant exchange plus a bounded window of recent messages.
type TurnEnvelope struct {
	AgentID          string    `json:"agent_id,omitempty"`
	ConversationID   string    `json:"conversation_id"`
	TenantID         string    `json:"tenant_id,omitempty"`
	UserMessage      string    `json:"user_message"`
	AssistantMessage string    `json:"assistant_message,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
	SourceChannel    string    `json:"source_channel,omitempty"`
	Model            string    `json:"model,omitempty"`
	PromptID         string    `json:"prompt_id,omitempty"`
}

// Key returns the conversation-scoped identity of the turn.
func (t TurnEnvelope) Key() ConversationKey {
	return ConversationKey{AgentID: t.AgentID, ConversationID: t.ConversationID}
}

// Detection is the pipeline's per-turn result. A nil *Detection means the
// turn produced no lead mutation.
type Detection struct {
	LeadID      string      `json:"lead_id"`
	Score       int         `json:"score"`
	Qualified   bool        `json:"qualified"`
	IntentLevel IntentLevel `json:"intent_level"`
}
