package extract

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/leadsense/internal/config"
	"github.com/sells-group/leadsense/internal/model"
)

func TestExtract_FullIntroduction(t *testing.T) {
	e := New(config.ExtractConfig{})

	ent := e.Extract(model.TurnEnvelope{
		UserMessage: "Hi, my name is Jane Doe, I'm the CTO at Initech Inc. " +
			"You can reach me at jane.doe@initech.com or +1 (415) 555-0142. " +
			"We're a SaaS company with about 120 employees and need this urgently.",
	})

	assert.Equal(t, "Jane Doe", ent.Name)
	assert.Equal(t, "cto", strings.ToLower(ent.Role))
	assert.Contains(t, ent.Company, "Initech")
	assert.Equal(t, "jane.doe@initech.com", ent.Email)
	assert.Equal(t, "+1 (415) 555-0142", ent.Phone)
	assert.Equal(t, "saas", ent.Industry)
	assert.Equal(t, "medium", ent.CompanySize)
	assert.Equal(t, "high", ent.Urgency)
}

func TestExtract_NothingToFind(t *testing.T) {
	e := New(config.ExtractConfig{})

	ent := e.Extract(model.TurnEnvelope{
		UserMessage: "what integrations do you support",
	})

	assert.Empty(t, ent.Name)
	assert.Empty(t, ent.Company)
	assert.Empty(t, ent.Email)
	assert.Empty(t, ent.Phone)
	assert.Empty(t, ent.Industry)
	assert.Empty(t, ent.CompanySize)
	assert.Empty(t, ent.Urgency)
}

func TestExtract_NameVariants(t *testing.T) {
	e := New(config.ExtractConfig{})

	tests := []struct {
		msg  string
		want string
	}{
		{"my name is Carlos", "Carlos"},
		{"Hello, this is Maria Santos from the billing side", "Maria Santos"},
		{"I'm Raj, from Acme", "Raj"},
		{"i'm looking for a new vendor", ""},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			ent := e.Extract(model.TurnEnvelope{UserMessage: tt.msg})
			assert.Equal(t, tt.want, ent.Name)
		})
	}
}

func TestExtract_NameDenylist(t *testing.T) {
	e := New(config.ExtractConfig{})

	ent := e.Extract(model.TurnEnvelope{UserMessage: "my name is Customer"})
	assert.Empty(t, ent.Name)
}

func TestExtract_CompanyVariants(t *testing.T) {
	e := New(config.ExtractConfig{})

	tests := []struct {
		msg  string
		want string
	}{
		{"I work at Globex", "Globex"},
		{"I'm from Acme Corp", "Acme Corp"},
		{"our company, Hooli, is evaluating options", "Hooli"},
		{"we use Initech LLC for payroll", "Initech LLC"},
		{"I work at home most days", ""},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			ent := e.Extract(model.TurnEnvelope{UserMessage: tt.msg})
			assert.Equal(t, tt.want, ent.Company)
		})
	}
}

func TestExtract_PlaceholderEmailRejected(t *testing.T) {
	e := New(config.ExtractConfig{})

	ent := e.Extract(model.TurnEnvelope{UserMessage: "send it to user@example.com please"})
	assert.Empty(t, ent.Email)

	ent = e.Extract(model.TurnEnvelope{UserMessage: "send it to ops@globex.io please"})
	assert.Equal(t, "ops@globex.io", ent.Email)
}

func TestExtract_PhoneValidation(t *testing.T) {
	e := New(config.ExtractConfig{})

	// Too few digits.
	ent := e.Extract(model.TurnEnvelope{UserMessage: "call extension 12345 6"})
	assert.Empty(t, ent.Phone)

	ent = e.Extract(model.TurnEnvelope{UserMessage: "my number is 020 7946 0958"})
	assert.Equal(t, "020 7946 0958", ent.Phone)
}

func TestExtract_CompanySizeBuckets(t *testing.T) {
	e := New(config.ExtractConfig{})

	tests := []struct {
		msg  string
		want string
	}{
		{"we are 8 people", "micro"},
		{"a team of 45 employees", "small"},
		{"we have 250 employees", "medium"},
		{"around 900 staff", "large"},
		{"over 5,000 employees worldwide", "enterprise"},
		{"we're a small business", "small"},
		{"a mid-size firm", "medium"},
		{"no size mentioned", ""},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			ent := e.Extract(model.TurnEnvelope{UserMessage: tt.msg})
			assert.Equal(t, tt.want, ent.CompanySize)
		})
	}
}

func TestExtract_Urgency(t *testing.T) {
	e := New(config.ExtractConfig{})

	assert.Equal(t, "high", e.Extract(model.TurnEnvelope{UserMessage: "need this asap"}).Urgency)
	assert.Equal(t, "medium", e.Extract(model.TurnEnvelope{UserMessage: "sometime this quarter"}).Urgency)
	assert.Empty(t, e.Extract(model.TurnEnvelope{UserMessage: "whenever works"}).Urgency)
}

func TestExtract_Industry(t *testing.T) {
	e := New(config.ExtractConfig{})

	// More specific terms win over generic ones.
	ent := e.Extract(model.TurnEnvelope{UserMessage: "we're a fintech software shop"})
	assert.Equal(t, "fintech", ent.Industry)

	ent = e.Extract(model.TurnEnvelope{UserMessage: "healthcare provider in Ohio"})
	assert.Equal(t, "healthcare", ent.Industry)
}

func TestExtract_InterestWindow(t *testing.T) {
	e := New(config.ExtractConfig{InterestTurns: 2})

	ent := e.Extract(model.TurnEnvelope{
		UserMessage: "what about pricing",
		Messages: []model.Message{
			{Role: "user", Content: "first message dropped"},
			{Role: "user", Content: "need reporting"},
			{Role: "assistant", Content: "We have dashboards."},
			{Role: "user", Content: "and exports"},
		},
	})

	assert.Equal(t, "need reporting and exports what about pricing", ent.Interest)
}

func TestExtract_InterestTruncated(t *testing.T) {
	e := New(config.ExtractConfig{InterestMaxChars: 20})

	ent := e.Extract(model.TurnEnvelope{
		UserMessage: "this is a fairly long message about requirements",
	})

	assert.True(t, strings.HasSuffix(ent.Interest, "…"))
	assert.Len(t, []byte(ent.Interest), 20+len("…"))
}

func TestExtract_InterestTruncationKeepsRunesIntact(t *testing.T) {
	e := New(config.ExtractConfig{InterestMaxChars: 20})

	// The byte budget lands inside the two-byte "ü"; the cut backs up to
	// the rune boundary instead of emitting a half rune.
	ent := e.Extract(model.TurnEnvelope{
		UserMessage: "wir brauchen eine Lösung für Berichte",
	})

	assert.True(t, utf8.ValidString(ent.Interest))
	assert.True(t, strings.HasSuffix(ent.Interest, "…"))
	assert.Equal(t, "wir brauchen eine L…", ent.Interest)
}

func TestExtract_InterestSkipsDuplicateCurrent(t *testing.T) {
	e := New(config.ExtractConfig{})

	ent := e.Extract(model.TurnEnvelope{
		UserMessage: "need reporting",
		Messages: []model.Message{
			{Role: "user", Content: "need reporting"},
		},
	})

	assert.Equal(t, "need reporting", ent.Interest)
}

func TestExtract_AssistantTextSearched(t *testing.T) {
	e := New(config.ExtractConfig{})

	ent := e.Extract(model.TurnEnvelope{
		UserMessage:      "yes that is my address",
		AssistantMessage: "Confirming we will email sam@globex.io with the proposal.",
	})

	assert.Equal(t, "sam@globex.io", ent.Email)
}
