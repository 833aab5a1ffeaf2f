package automation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/leadsense/internal/model"
	"github.com/sells-group/leadsense/internal/notify"
	"github.com/sells-group/leadsense/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// ruleStore serves a fixed rule set and captures what the engine persists.
type ruleStore struct {
	store.Store
	rules  []model.AutomationRule
	logs   []model.AutomationLog
	events []model.LeadEvent
}

func (s *ruleStore) ListActiveRules(ctx context.Context, tenantID string) ([]model.AutomationRule, error) {
	return s.rules, nil
}

func (s *ruleStore) AppendAutomationLog(ctx context.Context, entry model.AutomationLog) error {
	s.logs = append(s.logs, entry)
	return nil
}

func (s *ruleStore) AppendEvent(ctx context.Context, ev model.LeadEvent) error {
	s.events = append(s.events, ev)
	return nil
}

func qualifiedLead() *model.Lead {
	return &model.Lead{
		ID:             "lead-1",
		ConversationID: "conv-1",
		Name:           "Jane Doe",
		Company:        "Acme",
		Score:          85,
		Qualified:      true,
		IntentLevel:    model.IntentHigh,
		Status:         model.StatusNew,
	}
}

func TestEvaluate_RunsMatchingRule(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received) //nolint:errcheck
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := &ruleStore{rules: []model.AutomationRule{{
		ID:           "rule-1",
		Name:         "qualified webhook",
		IsActive:     true,
		TriggerEvent: model.TriggerLeadQualified,
		ActionType:   model.ActionWebhook,
		ActionConfig: model.ActionConfig{"url": srv.URL},
	}}}
	engine := New(st, nil)

	logs := engine.Evaluate(context.Background(), model.TriggerLeadQualified, qualifiedLead())

	require.Len(t, logs, 1)
	assert.Equal(t, model.AutomationSuccess, logs[0].Status)
	assert.Equal(t, "rule-1", logs[0].RuleID)
	assert.Equal(t, "lead.qualified", received["event"])
	assert.Equal(t, "qualified webhook", received["rule_name"])
	assert.NotEmpty(t, received["timestamp"])
	scoreBlock, ok := received["score"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(85), scoreBlock["score"])
	assert.Equal(t, true, scoreBlock["qualified"])

	// Execution is both logged and audited.
	require.Len(t, st.logs, 1)
	require.Len(t, st.events, 1)
	assert.Equal(t, model.EventAutomationExecuted, st.events[0].Type)
}

func TestEvaluate_SkipsOtherTriggersAndFailedFilters(t *testing.T) {
	min := 90
	st := &ruleStore{rules: []model.AutomationRule{
		{
			Name:         "wrong trigger",
			TriggerEvent: model.TriggerLeadCreated,
			ActionType:   model.ActionWebhook,
		},
		{
			Name:         "filter too strict",
			TriggerEvent: model.TriggerLeadQualified,
			Filter:       model.TriggerFilter{MinScore: &min},
			ActionType:   model.ActionWebhook,
		},
	}}
	engine := New(st, nil)

	logs := engine.Evaluate(context.Background(), model.TriggerLeadQualified, qualifiedLead())

	assert.Empty(t, logs)
	assert.Empty(t, st.logs)
}

func TestEvaluate_RuleFailureIsIsolated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := &ruleStore{rules: []model.AutomationRule{
		{
			ID:           "rule-broken",
			Name:         "missing url",
			TriggerEvent: model.TriggerLeadQualified,
			ActionType:   model.ActionWebhook,
		},
		{
			ID:           "rule-ok",
			Name:         "chat ping",
			TriggerEvent: model.TriggerLeadQualified,
			ActionType:   model.ActionChatOps,
			ActionConfig: model.ActionConfig{"url": srv.URL},
		},
	}}
	engine := New(st, nil)

	logs := engine.Evaluate(context.Background(), model.TriggerLeadQualified, qualifiedLead())

	require.Len(t, logs, 2)
	assert.Equal(t, model.AutomationError, logs[0].Status)
	assert.Contains(t, logs[0].Message, "requires url")
	assert.Equal(t, model.AutomationSuccess, logs[1].Status)
}

func TestEvaluate_CRMWithoutClientFails(t *testing.T) {
	st := &ruleStore{rules: []model.AutomationRule{{
		Name:         "crm assign",
		TriggerEvent: model.TriggerLeadQualified,
		ActionType:   model.ActionCRM,
	}}}
	engine := New(st, nil)

	logs := engine.Evaluate(context.Background(), model.TriggerLeadQualified, qualifiedLead())

	require.Len(t, logs, 1)
	assert.Equal(t, model.AutomationError, logs[0].Status)
	assert.Contains(t, logs[0].Message, "salesforce client")
}

// fakeSalesforce records inserted records.
type fakeSalesforce struct {
	object string
	record map[string]any
}

func (f *fakeSalesforce) Query(ctx context.Context, soql string, out any) error { return nil }

func (f *fakeSalesforce) InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error) {
	f.object = sObjectName
	f.record = record
	return "003XYZ", nil
}

func (f *fakeSalesforce) UpdateOne(ctx context.Context, sObjectName string, id string, fields map[string]any) error {
	return nil
}

func TestCRMAction_BuildsLeadRecord(t *testing.T) {
	sf := &fakeSalesforce{}
	action := CRMAction{Client: sf}

	lead := qualifiedLead()
	lead.Email = "jane@acme.io"
	lead.Role = "CTO"

	err := action.Execute(context.Background(), model.AutomationRule{
		Name:         "crm",
		ActionConfig: model.ActionConfig{"owner_id": "005AAA"},
	}, lead, model.TriggerLeadQualified)
	require.NoError(t, err)

	assert.Equal(t, "Lead", sf.object)
	assert.Equal(t, "Doe", sf.record["LastName"])
	assert.Equal(t, "Acme", sf.record["Company"])
	assert.Equal(t, "jane@acme.io", sf.record["Email"])
	assert.Equal(t, "LeadSense", sf.record["LeadSource"])
	assert.Equal(t, "005AAA", sf.record["OwnerId"])
}

func TestCRMAction_UnknownFallbacks(t *testing.T) {
	sf := &fakeSalesforce{}
	action := CRMAction{Client: sf}

	err := action.Execute(context.Background(), model.AutomationRule{Name: "crm"},
		&model.Lead{ID: "lead-2"}, model.TriggerLeadCreated)
	require.NoError(t, err)

	assert.Equal(t, "Unknown", sf.record["LastName"])
	assert.Equal(t, "Unknown", sf.record["Company"])
	_, hasOwner := sf.record["OwnerId"]
	assert.False(t, hasOwner)
}

func TestWebhookAction_SignsPayload(t *testing.T) {
	var sig string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig = r.Header.Get(notify.SignatureHeader)
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := WebhookAction{}.Execute(context.Background(), model.AutomationRule{
		Name:         "signed",
		ActionConfig: model.ActionConfig{"url": srv.URL, "secret": "shh"},
	}, qualifiedLead(), model.TriggerLeadQualified)
	require.NoError(t, err)

	assert.True(t, notify.VerifySignature("shh", body, sig))
}

func TestChatOpsAction_CustomTemplate(t *testing.T) {
	var msg map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		json.Unmarshal(b, &msg) //nolint:errcheck
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := ChatOpsAction{}.Execute(context.Background(), model.AutomationRule{
		Name: "chat",
		ActionConfig: model.ActionConfig{
			"url":      srv.URL,
			"template": "{lead_name} from {lead_company} hit {score} on {event_type}",
		},
	}, qualifiedLead(), model.TriggerLeadQualified)
	require.NoError(t, err)

	assert.Equal(t, "Jane Doe from Acme hit 85 on lead.qualified", msg["text"])
}

func TestEmailAction_RequiresRecipient(t *testing.T) {
	err := EmailAction{}.Execute(context.Background(), model.AutomationRule{Name: "mail"},
		&model.Lead{}, model.TriggerLeadCreated)
	require.Error(t, err)

	// Lead email is the fallback recipient.
	err = EmailAction{}.Execute(context.Background(), model.AutomationRule{Name: "mail"},
		&model.Lead{Email: "jane@acme.io"}, model.TriggerLeadCreated)
	assert.NoError(t, err)
}

func TestExpandTemplate(t *testing.T) {
	lead := &model.Lead{
		Name: "Jane", Company: "Acme", Score: 91,
		IntentLevel: model.IntentHigh, ConversationID: "c-7",
	}

	got := expandTemplate("{lead_name}|{lead_company}|{score}|{intent_level}|{conversation_id}|{event_type}",
		lead, model.TriggerLeadUpdated)

	assert.Equal(t, "Jane|Acme|91|high|c-7|lead.updated", got)
}
