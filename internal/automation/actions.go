package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadsense/internal/model"
	"github.com/sells-group/leadsense/internal/notify"
	"github.com/sells-group/leadsense/internal/resilience"
	"github.com/sells-group/leadsense/pkg/salesforce"
)

// Action executes one automation action type against a lead.
type Action interface {
	Type() model.ActionType
	Execute(ctx context.Context, rule model.AutomationRule, lead *model.Lead, event model.TriggerEvent) error
}

var actionClient = &http.Client{Timeout: 10 * time.Second}

// expandTemplate substitutes {placeholder} tokens with lead fields.
// Supported tokens: lead_name, lead_company, lead_role, lead_email, score,
// intent_level, event_type, conversation_id.
func expandTemplate(tpl string, lead *model.Lead, event model.TriggerEvent) string {
	r := strings.NewReplacer(
		"{lead_name}", lead.Name,
		"{lead_company}", lead.Company,
		"{lead_role}", lead.Role,
		"{lead_email}", lead.Email,
		"{score}", fmt.Sprintf("%d", lead.Score),
		"{intent_level}", string(lead.IntentLevel),
		"{event_type}", string(event),
		"{conversation_id}", lead.ConversationID,
	)
	return r.Replace(tpl)
}

func postJSON(ctx context.Context, url string, body []byte, headers map[string]string) error {
	return resilience.Do(ctx, resilience.DefaultPolicy(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return eris.Wrap(err, "automation: build request")
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := actionClient.Do(req)
		if err != nil {
			return resilience.NewTransientError(eris.Wrap(err, "automation: post"), 0)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		if resp.StatusCode >= 300 {
			err := eris.Errorf("automation: endpoint returned %d", resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return resilience.NewTransientError(err, resp.StatusCode)
			}
			return err
		}
		return nil
	})
}

// WebhookAction posts the lead as signed JSON to the rule's URL.
type WebhookAction struct{}

func (WebhookAction) Type() model.ActionType { return model.ActionWebhook }

func (WebhookAction) Execute(ctx context.Context, rule model.AutomationRule, lead *model.Lead, event model.TriggerEvent) error {
	url := rule.ActionConfig.String("url")
	if url == "" {
		return eris.Errorf("automation: rule %s: webhook action requires url", rule.Name)
	}

	body, err := json.Marshal(map[string]any{
		"event":     event,
		"timestamp": time.Now().UTC(),
		"rule_id":   rule.ID,
		"rule_name": rule.Name,
		"lead":      lead,
		"score": notify.ScoreResult{
			Score:     lead.Score,
			Qualified: lead.Qualified,
			Rationale: []model.ScoreFactor{},
		},
	})
	if err != nil {
		return eris.Wrap(err, "automation: marshal webhook payload")
	}

	headers := map[string]string{}
	if secret := rule.ActionConfig.String("secret"); secret != "" {
		headers[notify.SignatureHeader] = notify.Sign(secret, body)
	}
	return postJSON(ctx, url, body, headers)
}

// ChatOpsAction posts a templated text message to a chat webhook.
type ChatOpsAction struct{}

func (ChatOpsAction) Type() model.ActionType { return model.ActionChatOps }

const defaultChatTemplate = "{event_type}: {lead_name} ({lead_company}) scored {score}"

func (ChatOpsAction) Execute(ctx context.Context, rule model.AutomationRule, lead *model.Lead, event model.TriggerEvent) error {
	url := rule.ActionConfig.String("url")
	if url == "" {
		return eris.Errorf("automation: rule %s: chatops action requires url", rule.Name)
	}

	tpl := rule.ActionConfig.String("template")
	if tpl == "" {
		tpl = defaultChatTemplate
	}

	body, err := json.Marshal(map[string]string{
		"text": expandTemplate(tpl, lead, event),
	})
	if err != nil {
		return eris.Wrap(err, "automation: marshal chatops payload")
	}
	return postJSON(ctx, url, body, nil)
}

// EmailAction records outbound email intent. Actual delivery is delegated to
// an external sender consuming the automation log; nothing is sent from here.
type EmailAction struct{}

func (EmailAction) Type() model.ActionType { return model.ActionEmail }

func (EmailAction) Execute(ctx context.Context, rule model.AutomationRule, lead *model.Lead, event model.TriggerEvent) error {
	recipient := rule.ActionConfig.String("recipient")
	if recipient == "" {
		recipient = lead.Email
	}
	if recipient == "" {
		return eris.Errorf("automation: rule %s: email action has no recipient", rule.Name)
	}

	zap.L().Info("automation: email queued",
		zap.String("rule", rule.Name),
		zap.String("recipient", recipient),
		zap.String("subject", expandTemplate(rule.ActionConfig.String("subject"), lead, event)),
		zap.String("lead_id", lead.ID),
	)
	return nil
}

// CRMAction creates a record in Salesforce for the lead.
type CRMAction struct {
	Client salesforce.Client
}

func (CRMAction) Type() model.ActionType { return model.ActionCRM }

func (a CRMAction) Execute(ctx context.Context, rule model.AutomationRule, lead *model.Lead, event model.TriggerEvent) error {
	if a.Client == nil {
		return eris.Errorf("automation: rule %s: crm action requires a configured salesforce client", rule.Name)
	}

	object := rule.ActionConfig.String("object")
	if object == "" {
		object = "Lead"
	}

	record := map[string]any{
		"LastName":    lastName(lead.Name),
		"Company":     orUnknown(lead.Company),
		"Email":       lead.Email,
		"Phone":       lead.Phone,
		"Title":       lead.Role,
		"LeadSource":  "LeadSense",
		"Description": lead.Interest,
	}
	if owner := rule.ActionConfig.String("owner_id"); owner != "" {
		record["OwnerId"] = owner
	}

	id, err := a.Client.InsertOne(ctx, object, record)
	if err != nil {
		return err
	}
	zap.L().Info("automation: crm record created",
		zap.String("rule", rule.Name),
		zap.String("object", object),
		zap.String("sf_id", id),
		zap.String("lead_id", lead.ID),
	)
	return nil
}

// lastName returns the final name token; Salesforce requires LastName.
func lastName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "Unknown"
	}
	return fields[len(fields)-1]
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
