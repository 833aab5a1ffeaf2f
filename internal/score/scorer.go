// Package score combines the detected intent level and extracted entities
// into a 0-100 lead score with an ordered rationale. The rationale is the
// system's explainability contract: every contributing factor appends an
// entry with its point delta, in a stable order, so a reviewer can replay
// exactly why a lead qualified.
package score

import (
	"strings"

	"github.com/sells-group/leadsense/internal/config"
	"github.com/sells-group/leadsense/internal/extract"
	"github.com/sells-group/leadsense/internal/intent"
	"github.com/sells-group/leadsense/internal/model"
)

// Result is the scorer output for one pass.
type Result struct {
	Score     int                 `json:"score"`
	Rationale []model.ScoreFactor `json:"rationale"`
	Qualified bool                `json:"qualified"`
	Threshold int                 `json:"threshold"`
}

// decisionMakerTitles marks roles that carry buying authority.
var decisionMakerTitles = []string{
	"ceo", "cto", "cfo", "coo", "cmo", "founder", "co-founder", "owner",
	"president", "vice president", "vp", "director", "head of",
}

// icpIndustries is the ideal-customer-profile industry lookup.
var icpIndustries = map[string]bool{
	"saas":          true,
	"software":      true,
	"fintech":       true,
	"finance":       true,
	"healthcare":    true,
	"ecommerce":     true,
	"manufacturing": true,
}

// icpCompanySizes marks the size bands in the sweet spot.
var icpCompanySizes = map[string]bool{
	"small":  true,
	"medium": true,
	"large":  true,
}

// Scorer computes lead scores. Safe for concurrent use.
type Scorer struct {
	threshold  int
	intentBase map[model.IntentLevel]int
	bonuses    config.BonusConfig
}

// New builds a Scorer from config, filling zero-valued weights with the
// documented defaults.
func New(cfg config.ScoreConfig) *Scorer {
	threshold := cfg.Threshold
	if threshold <= 0 || threshold > 100 {
		threshold = 70
	}

	base := map[model.IntentLevel]int{
		model.IntentHigh:   75,
		model.IntentMedium: 50,
		model.IntentLow:    20,
	}
	for k, v := range cfg.IntentBase {
		level := model.IntentLevel(k)
		if level.Valid() && v > 0 {
			base[level] = v
		}
	}

	b := cfg.Bonuses
	if b.DecisionMaker == 0 {
		b.DecisionMaker = 15
	}
	if b.UrgencyHigh == 0 {
		b.UrgencyHigh = 10
	}
	if b.UrgencyMedium == 0 {
		b.UrgencyMedium = 5
	}
	if b.ICPIndustry == 0 {
		b.ICPIndustry = 8
	}
	if b.ICPCompanySize == 0 {
		b.ICPCompanySize = 7
	}
	if b.HasContact == 0 {
		b.HasContact = 5
	}
	if b.NoContact == 0 {
		b.NoContact = -15
	}
	if b.CompanyKnown == 0 {
		b.CompanyKnown = 5
	}

	return &Scorer{threshold: threshold, intentBase: base, bonuses: b}
}

// Threshold returns the qualification cutoff.
func (s *Scorer) Threshold() int { return s.threshold }

// Score runs one additive scoring pass. The factor order is fixed: intent
// base, decision maker, urgency, ICP industry, ICP company size,
// contactability, company resolved.
func (s *Scorer) Score(ent extract.Entities, det intent.Result) Result {
	var rationale []model.ScoreFactor
	total := 0

	add := func(factor string, points int, signals ...string) {
		if points == 0 {
			return
		}
		total += points
		rationale = append(rationale, model.ScoreFactor{
			Factor:  factor,
			Points:  points,
			Signals: signals,
		})
	}

	add("intent_"+string(det.Intent), s.intentBase[det.Intent], intent.SignalCategories(det.Signals)...)

	if isDecisionMaker(ent.Role) {
		add("decision_maker", s.bonuses.DecisionMaker, ent.Role)
	}

	switch ent.Urgency {
	case "high":
		add("urgency_high", s.bonuses.UrgencyHigh)
	case "medium":
		add("urgency_medium", s.bonuses.UrgencyMedium)
	}

	if icpIndustries[strings.ToLower(ent.Industry)] {
		add("icp_industry", s.bonuses.ICPIndustry, ent.Industry)
	}
	if icpCompanySizes[strings.ToLower(ent.CompanySize)] {
		add("icp_company_size", s.bonuses.ICPCompanySize, ent.CompanySize)
	}

	if ent.Email != "" || ent.Phone != "" {
		add("contactable", s.bonuses.HasContact)
	} else {
		add("no_contact_channel", s.bonuses.NoContact)
	}

	if ent.Company != "" {
		add("company_resolved", s.bonuses.CompanyKnown, ent.Company)
	}

	// Clamp to [0, 100] after all factors.
	score := total
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return Result{
		Score:     score,
		Rationale: rationale,
		Qualified: score >= s.threshold,
		Threshold: s.threshold,
	}
}

// isDecisionMaker matches the role against the title keyword list.
func isDecisionMaker(role string) bool {
	if role == "" {
		return false
	}
	lower := strings.ToLower(role)
	for _, title := range decisionMakerTitles {
		if strings.Contains(lower, title) {
			return true
		}
	}
	return false
}
