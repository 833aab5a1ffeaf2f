// Package pipeline orchestrates the per-turn detection flow: debounce,
// intent detection, entity extraction, scoring, persistence, notification,
// and automations. The pipeline sits on the hot path of a conversation
// engine, so it is a hard boundary: no panic and no error escapes ProcessTurn
// back to the caller. Failures are logged and the turn is dropped.
package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/leadsense/internal/automation"
	"github.com/sells-group/leadsense/internal/config"
	"github.com/sells-group/leadsense/internal/debounce"
	"github.com/sells-group/leadsense/internal/extract"
	"github.com/sells-group/leadsense/internal/intent"
	"github.com/sells-group/leadsense/internal/model"
	"github.com/sells-group/leadsense/internal/notify"
	"github.com/sells-group/leadsense/internal/redact"
	"github.com/sells-group/leadsense/internal/score"
	"github.com/sells-group/leadsense/internal/store"
)

// Outcome summarizes one ProcessTurn call. Detection is nil when the turn
// was suppressed, carried no commercial intent, or failed internally.
type Outcome struct {
	Processed  bool             `json:"processed"`
	Suppressed bool             `json:"suppressed,omitempty"`
	Created    bool             `json:"created,omitempty"`
	Detection  *model.Detection `json:"detection,omitempty"`
}

// Pipeline wires the detection stages together.
type Pipeline struct {
	cfg       *config.Config
	store     store.Store
	detector  *intent.Detector
	extractor *extract.Extractor
	scorer    *score.Scorer
	redactor  *redact.Redactor
	notifier  *notify.Notifier
	engine    *automation.Engine
	gate      *debounce.Gate
}

// New builds a Pipeline. notifier and engine may be nil, which disables
// those stages.
func New(cfg *config.Config, st store.Store, notifier *notify.Notifier, engine *automation.Engine) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		detector:  intent.New(cfg.Detect),
		extractor: extract.New(cfg.Extract),
		scorer:    score.New(cfg.Score),
		redactor:  redact.New(cfg.Pipeline.PIIRedaction),
		notifier:  notifier,
		engine:    engine,
		gate:      debounce.New(cfg.Pipeline.DebounceWindow()),
	}
}

// Gate exposes the debounce gate for periodic sweeping.
func (p *Pipeline) Gate() *debounce.Gate { return p.gate }

// ProcessTurn runs the full detection flow for one turn. It never panics
// and never returns an error: the conversation must not notice us.
func (p *Pipeline) ProcessTurn(ctx context.Context, turn model.TurnEnvelope) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("pipeline: recovered from panic",
				zap.Any("panic", r),
				zap.String("conversation_id", turn.ConversationID),
			)
			out = Outcome{}
		}
	}()

	if !p.cfg.Enabled {
		return Outcome{}
	}
	if turn.ConversationID == "" || turn.UserMessage == "" {
		zap.L().Debug("pipeline: skipping incomplete turn",
			zap.String("conversation_id", turn.ConversationID),
		)
		return Outcome{}
	}

	if !p.gate.Allow(turn.Key()) {
		zap.L().Debug("pipeline: turn suppressed by debounce",
			zap.String("conversation_id", turn.ConversationID),
		)
		return Outcome{Suppressed: true}
	}

	det := p.detector.Detect(turn)
	if det.Intent == model.IntentNone {
		return Outcome{Processed: true}
	}

	ent := p.extractor.Extract(turn)
	sc := p.scorer.Score(ent, det)

	lead, created, prev := p.persist(ctx, turn, ent, det, sc)
	if lead == nil {
		return Outcome{}
	}

	newlyQualified := lead.Qualified && (prev == nil || !prev.Qualified)
	p.dispatch(ctx, lead, created, newlyQualified, sc)

	zap.L().Info("pipeline: turn processed",
		zap.String("lead_id", lead.ID),
		zap.String("conversation_id", turn.ConversationID),
		zap.String("intent", string(det.Intent)),
		zap.Int("score", lead.Score),
		zap.Bool("qualified", lead.Qualified),
		zap.Bool("created", created),
	)

	return Outcome{
		Processed: true,
		Created:   created,
		Detection: &model.Detection{
			LeadID:      lead.ID,
			Score:       lead.Score,
			Qualified:   lead.Qualified,
			IntentLevel: lead.IntentLevel,
		},
	}
}

// persist upserts the lead and appends the audit trail. prev is the lead
// state before this turn, nil on first detection.
func (p *Pipeline) persist(ctx context.Context, turn model.TurnEnvelope, ent extract.Entities, det intent.Result, sc score.Result) (lead *model.Lead, created bool, prev *model.Lead) {
	prev, err := p.store.FindByConversation(ctx, turn.Key())
	if err != nil && !store.IsNotFound(err) {
		zap.L().Error("pipeline: lookup failed",
			zap.String("conversation_id", turn.ConversationID),
			zap.Error(err),
		)
		return nil, false, nil
	}

	up := model.LeadUpsert{
		ConversationID: turn.ConversationID,
		AgentID:        turn.AgentID,
		TenantID:       turn.TenantID,
		Name:           ent.Name,
		Company:        ent.Company,
		Role:           ent.Role,
		Email:          ent.Email,
		Phone:          ent.Phone,
		Industry:       ent.Industry,
		CompanySize:    ent.CompanySize,
		Interest:       ent.Interest,
		IntentLevel:    det.Intent,
		Score:          sc.Score,
		Qualified:      sc.Qualified,
		SourceChannel:  turn.SourceChannel,
		Extras:         provenance(turn, det),
	}

	lead, created, err = p.store.UpsertLead(ctx, up)
	if err != nil {
		zap.L().Error("pipeline: upsert failed",
			zap.String("conversation_id", turn.ConversationID),
			zap.Error(err),
		)
		return nil, false, nil
	}

	p.appendAudit(ctx, lead, created, prev, det, sc)
	return lead, created, prev
}

// provenance records how this detection came about, kept with the lead for
// later review.
func provenance(turn model.TurnEnvelope, det intent.Result) map[string]any {
	extras := map[string]any{
		"last_confidence": det.Confidence,
	}
	if cats := intent.SignalCategories(det.Signals); len(cats) > 0 {
		extras["last_signals"] = cats
	}
	if turn.Model != "" {
		extras["model"] = turn.Model
	}
	if turn.PromptID != "" {
		extras["prompt_id"] = turn.PromptID
	}
	return extras
}

// appendAudit writes the detection events and score snapshot. Audit write
// failures are logged but do not abort the turn.
func (p *Pipeline) appendAudit(ctx context.Context, lead *model.Lead, created bool, prev *model.Lead, det intent.Result, sc score.Result) {
	evType := model.EventUpdated
	if created {
		evType = model.EventDetected
	}
	payload, err := model.MarshalEventPayload(model.DetectedPayload{
		IntentLevel: lead.IntentLevel,
		Score:       lead.Score,
		Qualified:   lead.Qualified,
		Confidence:  det.Confidence,
		Signals:     intent.SignalCategories(det.Signals),
	})
	if err != nil {
		zap.L().Warn("pipeline: marshal detection payload failed", zap.Error(err))
	} else {
		p.appendEvent(ctx, model.LeadEvent{LeadID: lead.ID, Type: evType, Payload: payload})
	}

	if prev != nil && prev.Score != lead.Score {
		payload, err := model.MarshalEventPayload(model.ScoreChangedPayload{
			Previous: prev.Score,
			Current:  lead.Score,
		})
		if err == nil {
			p.appendEvent(ctx, model.LeadEvent{LeadID: lead.ID, Type: model.EventScoreChanged, Payload: payload})
		}
	}

	if lead.Qualified && (prev == nil || !prev.Qualified) {
		p.appendEvent(ctx, model.LeadEvent{LeadID: lead.ID, Type: model.EventQualified})
	}

	snap := model.ScoreSnapshot{
		LeadID:    lead.ID,
		Score:     sc.Score,
		Rationale: sc.Rationale,
	}
	if err := p.store.AppendScoreSnapshot(ctx, snap); err != nil {
		zap.L().Warn("pipeline: append score snapshot failed",
			zap.String("lead_id", lead.ID),
			zap.Error(err),
		)
	}
}

// dispatch runs notifications and automations for the turn's outcome.
func (p *Pipeline) dispatch(ctx context.Context, lead *model.Lead, created, newlyQualified bool, sc score.Result) {
	if newlyQualified && p.notifier != nil {
		outbound := *lead
		if p.cfg.Pipeline.PIIRedaction {
			outbound = p.redactor.Lead(*lead)
		}
		results := p.notifier.Notify(ctx, notify.Notification{
			Event: model.TriggerLeadQualified,
			Lead:  outbound,
			Score: notify.ScoreResult{
				Score:     lead.Score,
				Qualified: lead.Qualified,
				Rationale: sc.Rationale,
			},
		})
		p.recordNotified(ctx, lead.ID, results)
	}

	if p.engine == nil {
		return
	}
	// Created and updated triggers only fire when the CRM integration is
	// enabled; qualification always fires.
	if p.cfg.CRM.AutoAssign {
		trigger := model.TriggerLeadUpdated
		if created {
			trigger = model.TriggerLeadCreated
		}
		p.engine.Evaluate(ctx, trigger, lead)
	}
	if newlyQualified {
		p.engine.Evaluate(ctx, model.TriggerLeadQualified, lead)
	}
}

func (p *Pipeline) recordNotified(ctx context.Context, leadID string, results []notify.ChannelResult) {
	if len(results) == 0 {
		return
	}
	var sent, failed []string
	for _, r := range results {
		switch {
		case r.Sent:
			sent = append(sent, r.Channel)
		case !r.Skipped:
			failed = append(failed, r.Channel)
		}
	}
	if len(sent) == 0 && len(failed) == 0 {
		return
	}
	payload, err := model.MarshalEventPayload(model.NotifiedPayload{Channels: sent, Failed: failed})
	if err != nil {
		return
	}
	p.appendEvent(ctx, model.LeadEvent{LeadID: leadID, Type: model.EventNotified, Payload: payload})
}

func (p *Pipeline) appendEvent(ctx context.Context, ev model.LeadEvent) {
	if err := p.store.AppendEvent(ctx, ev); err != nil {
		zap.L().Warn("pipeline: append event failed",
			zap.String("lead_id", ev.LeadID),
			zap.String("type", string(ev.Type)),
			zap.Error(err),
		)
	}
}
