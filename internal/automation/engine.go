// Package automation evaluates trigger-filter-action rules against leads.
// Rules are fetched per evaluation so CRUD changes take effect without a
// restart. Every firing appends an execution log entry, success or not, and
// a failing rule never prevents the remaining rules from running.
package automation

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadsense/internal/model"
	"github.com/sells-group/leadsense/internal/store"
	"github.com/sells-group/leadsense/pkg/salesforce"
)

// Engine matches rules to lead events and runs their actions.
type Engine struct {
	store   store.Store
	actions map[model.ActionType]Action
}

// New builds an Engine with the standard action set. sfClient may be nil;
// crm rules then fail at execution with a logged error.
func New(st store.Store, sfClient salesforce.Client) *Engine {
	actions := map[model.ActionType]Action{
		model.ActionWebhook: WebhookAction{},
		model.ActionChatOps: ChatOpsAction{},
		model.ActionEmail:   EmailAction{},
		model.ActionCRM:     CRMAction{Client: sfClient},
	}
	return &Engine{store: st, actions: actions}
}

// Evaluate runs every active rule bound to the event whose filter matches
// the lead. Rule failures are isolated: each outcome is logged and recorded,
// and evaluation continues. The returned logs mirror what was persisted.
func (e *Engine) Evaluate(ctx context.Context, event model.TriggerEvent, lead *model.Lead) []model.AutomationLog {
	rules, err := e.store.ListActiveRules(ctx, lead.TenantID)
	if err != nil {
		zap.L().Error("automation: list rules failed",
			zap.String("lead_id", lead.ID),
			zap.Error(err),
		)
		return nil
	}

	var logs []model.AutomationLog
	for _, rule := range rules {
		if rule.TriggerEvent != event {
			continue
		}
		if !Matches(rule.Filter, lead) {
			continue
		}

		entry := model.AutomationLog{
			RuleID:    rule.ID,
			LeadID:    lead.ID,
			EventType: event,
			Status:    model.AutomationSuccess,
		}

		if err := e.runRule(ctx, rule, lead, event); err != nil {
			entry.Status = model.AutomationError
			entry.Message = err.Error()
			zap.L().Error("automation: rule failed",
				zap.String("rule", rule.Name),
				zap.String("lead_id", lead.ID),
				zap.Error(err),
			)
		} else {
			zap.L().Info("automation: rule executed",
				zap.String("rule", rule.Name),
				zap.String("action", string(rule.ActionType)),
				zap.String("lead_id", lead.ID),
			)
		}

		if err := e.store.AppendAutomationLog(ctx, entry); err != nil {
			zap.L().Warn("automation: append log failed",
				zap.String("rule", rule.Name),
				zap.Error(err),
			)
		}
		e.appendExecutionEvent(ctx, rule, lead, event, entry.Status)
		logs = append(logs, entry)
	}
	return logs
}

// runRule executes one rule's action, converting panics into errors so a
// misbehaving action cannot take down the pipeline.
func (e *Engine) runRule(ctx context.Context, rule model.AutomationRule, lead *model.Lead, event model.TriggerEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("automation: rule %s panicked: %v", rule.Name, r)
		}
	}()

	action, ok := e.actions[rule.ActionType]
	if !ok {
		return eris.Errorf("automation: rule %s: unknown action type %q", rule.Name, rule.ActionType)
	}
	return action.Execute(ctx, rule, lead, event)
}

func (e *Engine) appendExecutionEvent(ctx context.Context, rule model.AutomationRule, lead *model.Lead, event model.TriggerEvent, status model.AutomationStatus) {
	payload, err := model.MarshalEventPayload(model.AutomationPayload{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		Trigger:  string(event),
		Status:   string(status),
	})
	if err != nil {
		zap.L().Warn("automation: marshal event payload failed", zap.Error(err))
		return
	}
	ev := model.LeadEvent{
		LeadID:  lead.ID,
		Type:    model.EventAutomationExecuted,
		Payload: payload,
	}
	if err := e.store.AppendEvent(ctx, ev); err != nil {
		zap.L().Warn("automation: append event failed", zap.Error(err))
	}
}
