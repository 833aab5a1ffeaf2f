// Package intent classifies a conversational turn into a commercial intent
// level using weighted keyword categories plus a context bonus for sustained
// interest across the recent message window. Detection is a pure function:
// no I/O, no state, so a no-intent result can short-circuit the rest of the
// pipeline at zero cost.
package intent

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/sells-group/leadsense/internal/config"
	"github.com/sells-group/leadsense/internal/model"
)

// Category groups keywords that signal the same kind of commercial interest.
type Category struct {
	Name     string
	Keywords []string
	Weight   int
}

// defaultCategories is the keyword table. Weights are tuning values and can
// be overridden per category via detect.weights config.
var defaultCategories = []Category{
	{
		Name:   "pricing",
		Weight: 25,
		Keywords: []string{
			"price", "pricing", "cost", "how much", "quote", "rate",
			"fee", "subscription", "plan", "tier",
		},
	},
	{
		Name:   "commitment",
		Weight: 30,
		Keywords: []string{
			"buy", "purchase", "sign up", "signup", "contract", "get started",
			"start a trial", "free trial", "demo", "proposal", "onboard",
		},
	},
	{
		Name:   "budget",
		Weight: 20,
		Keywords: []string{
			"budget", "invest", "spend", "roi", "return on investment",
			"approve the spend",
		},
	},
	{
		Name:   "decision_makers",
		Weight: 15,
		Keywords: []string{
			"ceo", "cto", "cfo", "coo", "founder", "owner", "director",
			"vp ", "vice president", "head of", "decision maker", "my team",
		},
	},
	{
		Name:   "contact_intent",
		Weight: 15,
		Keywords: []string{
			"call me", "email me", "reach out", "contact me", "schedule",
			"book a meeting", "talk to sales", "talk to someone",
		},
	},
	{
		Name:   "urgency",
		Weight: 10,
		Keywords: []string{
			"urgent", "asap", "right away", "this week", "this month",
			"deadline", "immediately", "as soon as possible",
		},
	},
	{
		Name:   "comparison",
		Weight: 10,
		Keywords: []string{
			"versus", "compare", "alternative", "competitor", "switch from",
			"migrate from", "instead of",
		},
	},
}

// Context bonus tiers: distinct commercial keyword hits across the recent
// window reward sustained interest over a single lucky match.
const (
	contextTierHighHits  = 5
	contextTierHighBonus = 20
	contextTierLowHits   = 2
	contextTierLowBonus  = 10
)

// A turn that volunteers a reachable identity (an email address or phone
// number in the text) is itself a commercial signal, detected by pattern
// rather than keyword.
const (
	contactCaptureCategory = "contact_capture"
	contactCaptureWeight   = 25
)

var (
	emailCaptureRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneCaptureRe = regexp.MustCompile(`\+?\d[\d\s().\-]{6,18}\d`)
)

// Buying-signal categories paired with an identity disclosure (a role title
// or captured contact detail) mark a prospect introducing themselves while
// asking to buy. The pairing earns an extra bonus.
const identityPairBonus = 20

var buyingCategories = map[string]bool{
	"pricing":    true,
	"commitment": true,
	"budget":     true,
}

var identityCategories = map[string]bool{
	"decision_makers":      true,
	contactCaptureCategory: true,
}

// Signal records one matched category and the keywords that fired.
type Signal struct {
	Category string   `json:"category"`
	Matched  []string `json:"matched_keywords"`
	Weight   int      `json:"weight"`
}

// Result is the detector output for one turn.
type Result struct {
	Intent     model.IntentLevel `json:"intent"`
	Signals    []Signal          `json:"signals,omitempty"`
	Confidence float64           `json:"confidence"`
	RawScore   int               `json:"raw_score"`
}

// Detector classifies turns. Safe for concurrent use.
type Detector struct {
	categories    []Category
	threshold     float64
	contextTurns  int
	captureWeight int
}

// New builds a Detector from config. Weight overrides apply by category name;
// a zero or negative override disables the category.
func New(cfg config.DetectConfig) *Detector {
	threshold := cfg.Threshold
	if threshold <= 0 || threshold >= 1 {
		threshold = 0.6
	}
	contextTurns := cfg.ContextTurns
	if contextTurns <= 0 {
		contextTurns = 10
	}

	categories := make([]Category, 0, len(defaultCategories))
	for _, c := range defaultCategories {
		if w, ok := cfg.Weights[c.Name]; ok {
			if w <= 0 {
				continue
			}
			c.Weight = w
		}
		categories = append(categories, c)
	}

	captureWeight := contactCaptureWeight
	if w, ok := cfg.Weights[contactCaptureCategory]; ok {
		captureWeight = max(w, 0)
	}

	return &Detector{
		categories:    categories,
		threshold:     threshold,
		contextTurns:  contextTurns,
		captureWeight: captureWeight,
	}
}

// Detect classifies the turn. Matching is lower-cased substring matching over
// the combined user+assistant text; the bounded message window contributes a
// tiered context bonus.
func (d *Detector) Detect(turn model.TurnEnvelope) Result {
	text := strings.ToLower(turn.UserMessage + " " + turn.AssistantMessage)

	raw := 0
	var signals []Signal
	for _, c := range d.categories {
		var matched []string
		for _, kw := range c.Keywords {
			if strings.Contains(text, kw) {
				matched = append(matched, kw)
			}
		}
		if len(matched) > 0 {
			raw += c.Weight
			signals = append(signals, Signal{Category: c.Name, Matched: matched, Weight: c.Weight})
		}
	}

	if capture := contactCapture(text); len(capture) > 0 && d.captureWeight > 0 {
		raw += d.captureWeight
		signals = append(signals, Signal{Category: contactCaptureCategory, Matched: capture, Weight: d.captureWeight})
	}

	if hasIdentityPair(signals) {
		raw += identityPairBonus
	}

	raw += d.contextBonus(turn.Messages)

	confidence := math.Min(1, float64(raw)/100)

	return Result{
		Intent:     d.level(confidence),
		Signals:    signals,
		Confidence: confidence,
		RawScore:   raw,
	}
}

// contactCapture reports which reachable-identity patterns appear in text.
func contactCapture(text string) []string {
	var matched []string
	if emailCaptureRe.MatchString(text) {
		matched = append(matched, "email_address")
	}
	if phoneCaptureRe.MatchString(text) {
		matched = append(matched, "phone_number")
	}
	return matched
}

// hasIdentityPair reports whether the signals contain both a buying category
// and an identity category.
func hasIdentityPair(signals []Signal) bool {
	var buying, identity bool
	for _, s := range signals {
		if buyingCategories[s.Category] {
			buying = true
		}
		if identityCategories[s.Category] {
			identity = true
		}
	}
	return buying && identity
}

// contextBonus scans the last contextTurns messages for distinct commercial
// keyword occurrences. >5 distinct hits → +20, >2 → +10, else 0.
func (d *Detector) contextBonus(messages []model.Message) int {
	if len(messages) == 0 {
		return 0
	}
	window := messages
	if len(window) > d.contextTurns {
		window = window[len(window)-d.contextTurns:]
	}

	hits := make(map[string]bool)
	for _, m := range window {
		content := strings.ToLower(m.Content)
		for _, c := range d.categories {
			for _, kw := range c.Keywords {
				if strings.Contains(content, kw) {
					hits[kw] = true
				}
			}
		}
	}

	switch {
	case len(hits) > contextTierHighHits:
		return contextTierHighBonus
	case len(hits) > contextTierLowHits:
		return contextTierLowBonus
	default:
		return 0
	}
}

// level maps confidence to an intent level: <0.3 none, <threshold low,
// <0.8 medium, else high.
func (d *Detector) level(confidence float64) model.IntentLevel {
	switch {
	case confidence < 0.3:
		return model.IntentNone
	case confidence < d.threshold:
		return model.IntentLow
	case confidence < 0.8:
		return model.IntentMedium
	default:
		return model.IntentHigh
	}
}

// SignalCategories returns the sorted category names present in signals,
// stored with the lead for provenance.
func SignalCategories(signals []Signal) []string {
	if len(signals) == 0 {
		return nil
	}
	names := make([]string, 0, len(signals))
	for _, s := range signals {
		names = append(names, s.Category)
	}
	sort.Strings(names)
	return names
}
