// Package extract pulls structured facts about the person and organization
// out of raw turn text. Each field has an ordered list of patterns tried in
// priority order, first match wins, with post-validation to reject
// implausible captures. Extraction is best-effort: every field is nullable
// and the extractor never returns an error.
package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/leadsense/internal/config"
	"github.com/sells-group/leadsense/internal/model"
)

// Entities is the bag of facts extracted from one turn. Empty string means
// the field could not be determined.
type Entities struct {
	Name        string `json:"name,omitempty"`
	Company     string `json:"company,omitempty"`
	Role        string `json:"role,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Industry    string `json:"industry,omitempty"`
	CompanySize string `json:"company_size,omitempty"`
	Urgency     string `json:"urgency,omitempty"`
	Interest    string `json:"interest,omitempty"`
}

// fieldRule is one field's ordered pattern table. Patterns are tried in
// order; the first whose capture passes validate wins.
type fieldRule struct {
	patterns []*regexp.Regexp
	maxLen   int
	validate func(string) bool
}

func (r fieldRule) apply(text string) string {
	for _, re := range r.patterns {
		m := re.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		v := strings.TrimSpace(strings.Trim(m[1], ".,;:!?"))
		if v == "" || (r.maxLen > 0 && len(v) > r.maxLen) {
			continue
		}
		if r.validate != nil && !r.validate(v) {
			continue
		}
		return v
	}
	return ""
}

// nameDenylist rejects common false positives captured by the name patterns.
var nameDenylist = map[string]bool{
	"customer":   true,
	"support":    true,
	"user":       true,
	"admin":      true,
	"guest":      true,
	"assistant":  true,
	"the team":   true,
	"interested": true,
	"looking":    true,
	"here":       true,
	"a customer": true,
}

var nameRule = fieldRule{
	patterns: []*regexp.Regexp{
		regexp.MustCompile(`\b(?i:my name is)\s+([A-Z][a-zA-Z'\-]+(?: [A-Z][a-zA-Z'\-]+){0,2})`),
		regexp.MustCompile(`\b(?i:this is)\s+([A-Z][a-zA-Z'\-]+(?: [A-Z][a-zA-Z'\-]+){0,2})\b`),
		regexp.MustCompile(`\b(?i:i['’]?m)\s+([A-Z][a-zA-Z'\-]+(?: [A-Z][a-zA-Z'\-]+)?)(?:\s*[,.]|\s+(?i:from|at|with)\b)`),
	},
	maxLen: 50,
	validate: func(v string) bool {
		return !nameDenylist[strings.ToLower(v)]
	},
}

var companyDenylist = map[string]bool{
	"the moment": true,
	"the company": true,
	"home":       true,
	"work":       true,
}

var companyRule = fieldRule{
	patterns: []*regexp.Regexp{
		// "CTO at Acme Inc", "head of ops of Initech"
		regexp.MustCompile(`\b(?i:(?:ceo|cto|cfo|coo|cmo|founder|co-founder|owner|president|director|vp|manager|head)(?: of [a-z]+)?\s+(?:at|of))\s+([A-Z][A-Za-z0-9&'.\- ]{1,59})`),
		// "I work at/for Acme", "working for Acme"
		regexp.MustCompile(`\b(?i:work(?:ing)?\s+(?:at|for))\s+([A-Z][A-Za-z0-9&'.\- ]{1,59})`),
		// "I'm from Acme Corp"
		regexp.MustCompile(`\b(?i:i['’]?m from|we['’]?re from|calling from)\s+([A-Z][A-Za-z0-9&'.\- ]{1,59})`),
		// "our company, Acme," / "our company Acme"
		regexp.MustCompile(`\b(?i:our company,?)\s+([A-Z][A-Za-z0-9&'.\- ]{1,59})`),
		// Bare legal-suffix mention: "Acme Inc", "Initech LLC"
		regexp.MustCompile(`\b([A-Z][A-Za-z0-9&'\-]+(?: [A-Z][A-Za-z0-9&'\-]+){0,3} (?:Inc|LLC|Ltd|Corp|GmbH|Co)\.?)\b`),
	},
	maxLen: 60,
	validate: func(v string) bool {
		return !companyDenylist[strings.ToLower(v)]
	},
}

var roleRule = fieldRule{
	patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:i['’]?m|i am|as)\s+(?:the\s+|a\s+|an\s+)?(ceo|cto|cfo|coo|cmo|founder|co-founder|owner|president|vice president|vp of [a-z ]+|vp|director of [a-z ]+|director|head of [a-z ]+|[a-z]+ manager|manager|engineer|developer|architect|analyst|consultant)\b`),
		regexp.MustCompile(`(?i)\bmy (?:role|title|position) is\s+([a-zA-Z ]{2,40})`),
	},
	maxLen: 40,
}

var emailRule = fieldRule{
	patterns: []*regexp.Regexp{
		regexp.MustCompile(`([a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,})`),
	},
	maxLen: 254,
	validate: func(v string) bool {
		// Reject obvious placeholders.
		lower := strings.ToLower(v)
		return !strings.HasPrefix(lower, "example@") && !strings.HasSuffix(lower, "@example.com")
	},
}

var phoneRule = fieldRule{
	patterns: []*regexp.Regexp{
		regexp.MustCompile(`(\+?\d[\d\s().\-]{6,18}\d)`),
	},
	maxLen: 25,
	validate: func(v string) bool {
		digits := 0
		for _, c := range v {
			if c >= '0' && c <= '9' {
				digits++
			}
		}
		return digits >= 7 && digits <= 15
	},
}

// industryKeywords maps substrings to canonical industry labels, checked in
// order so more specific terms win.
var industryKeywords = []struct{ keyword, label string }{
	{"fintech", "fintech"},
	{"financial services", "finance"},
	{"banking", "finance"},
	{"insurance", "insurance"},
	{"healthcare", "healthcare"},
	{"medical", "healthcare"},
	{"saas", "saas"},
	{"software", "software"},
	{"e-commerce", "ecommerce"},
	{"ecommerce", "ecommerce"},
	{"retail", "retail"},
	{"manufacturing", "manufacturing"},
	{"logistics", "logistics"},
	{"real estate", "real_estate"},
	{"education", "education"},
	{"legal", "legal"},
	{"construction", "construction"},
	{"hospitality", "hospitality"},
}

var companySizeRe = regexp.MustCompile(`(\d[\d,]{0,6})\s*(?:\+\s*)?(?i:employees|people|staff|person team|seats)`)

// Extractor runs the per-field pattern passes. Safe for concurrent use.
type Extractor struct {
	interestMaxChars int
	interestTurns    int
}

// New builds an Extractor from config.
func New(cfg config.ExtractConfig) *Extractor {
	maxChars := cfg.InterestMaxChars
	if maxChars <= 0 {
		maxChars = 500
	}
	turns := cfg.InterestTurns
	if turns <= 0 {
		turns = 3
	}
	return &Extractor{interestMaxChars: maxChars, interestTurns: turns}
}

// Extract runs every field pass over the turn. Fields that cannot be
// determined stay empty; callers must tolerate a fully empty bag.
func (e *Extractor) Extract(turn model.TurnEnvelope) Entities {
	text := turn.UserMessage
	if turn.AssistantMessage != "" {
		text += "\n" + turn.AssistantMessage
	}

	ent := Entities{
		Name:     nameRule.apply(text),
		Company:  companyRule.apply(text),
		Role:     roleRule.apply(text),
		Email:    emailRule.apply(text),
		Phone:    phoneRule.apply(text),
		Interest: e.interest(turn),
	}
	ent.Industry = detectIndustry(text)
	ent.CompanySize = detectCompanySize(text)
	ent.Urgency = detectUrgency(text)

	// A phone capture that is just the digits of the email's domain or a
	// year-like number slips through occasionally; drop phone when it is a
	// substring of the email.
	if ent.Email != "" && ent.Phone != "" && strings.Contains(ent.Email, ent.Phone) {
		ent.Phone = ""
	}

	return ent
}

func detectIndustry(text string) string {
	lower := strings.ToLower(text)
	for _, entry := range industryKeywords {
		if strings.Contains(lower, entry.keyword) {
			return entry.label
		}
	}
	return ""
}

// detectCompanySize buckets an employee-count mention into the canonical
// size bands used by the scorer's ICP table.
func detectCompanySize(text string) string {
	m := companySizeRe.FindStringSubmatch(text)
	if len(m) < 2 {
		lower := strings.ToLower(text)
		switch {
		case strings.Contains(lower, "enterprise company") || strings.Contains(lower, "large enterprise"):
			return "enterprise"
		case strings.Contains(lower, "small business") || strings.Contains(lower, "small team"):
			return "small"
		case strings.Contains(lower, "mid-size") || strings.Contains(lower, "midsize"):
			return "medium"
		}
		return ""
	}

	raw := strings.ReplaceAll(m[1], ",", "")
	n := 0
	for _, c := range raw {
		n = n*10 + int(c-'0')
	}
	switch {
	case n <= 0:
		return ""
	case n < 11:
		return "micro"
	case n < 51:
		return "small"
	case n < 251:
		return "medium"
	case n < 1001:
		return "large"
	default:
		return "enterprise"
	}
}

func detectUrgency(text string) string {
	lower := strings.ToLower(text)
	high := []string{"urgent", "asap", "immediately", "right away", "as soon as possible", "today"}
	for _, kw := range high {
		if strings.Contains(lower, kw) {
			return "high"
		}
	}
	medium := []string{"soon", "this week", "this month", "this quarter", "next few weeks", "shortly"}
	for _, kw := range medium {
		if strings.Contains(lower, kw) {
			return "medium"
		}
	}
	return ""
}

// interest concatenates the last interestTurns user-authored messages plus
// the current turn, truncated to interestMaxChars with an ellipsis marker.
func (e *Extractor) interest(turn model.TurnEnvelope) string {
	var parts []string
	var userMsgs []string
	for _, m := range turn.Messages {
		if m.Role == "user" && strings.TrimSpace(m.Content) != "" {
			userMsgs = append(userMsgs, strings.TrimSpace(m.Content))
		}
	}
	if len(userMsgs) > e.interestTurns {
		userMsgs = userMsgs[len(userMsgs)-e.interestTurns:]
	}
	parts = append(parts, userMsgs...)
	if cur := strings.TrimSpace(turn.UserMessage); cur != "" && (len(parts) == 0 || parts[len(parts)-1] != cur) {
		parts = append(parts, cur)
	}

	joined := strings.Join(parts, " ")
	if len(joined) > e.interestMaxChars {
		// Back up to a rune boundary so the byte budget never splits a
		// multi-byte character.
		cut := e.interestMaxChars
		for cut > 0 && !utf8.RuneStart(joined[cut]) {
			cut--
		}
		joined = joined[:cut] + "…"
	}
	return joined
}
