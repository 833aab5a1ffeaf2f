// Package redact masks PII (email addresses, phone numbers) before it leaves
// the trust boundary in logs and outbound notification payloads. Masking is
// deterministic, tolerant of malformed input, and never returns an error.
package redact

import (
	"regexp"
	"strings"

	"github.com/sells-group/leadsense/internal/model"
)

const (
	genericEmailMask = "***@***.***"
	genericMask      = "***"
)

// Redactor masks PII when enabled. The zero value is a disabled redactor.
type Redactor struct {
	enabled bool
}

// New returns a Redactor. When enabled is false every masking method returns
// its input unchanged, so callers can apply it unconditionally.
func New(enabled bool) *Redactor {
	return &Redactor{enabled: enabled}
}

// Enabled reports whether redaction is active.
func (r *Redactor) Enabled() bool { return r.enabled }

// MaskEmail keeps the first at most 2 characters of the local part and the
// first character of the domain, preserving the TLD for readability:
// "jane.doe@acme.com" → "ja***@a***.com". Unparseable values collapse to a
// generic mask.
func (r *Redactor) MaskEmail(email string) string {
	if !r.enabled || email == "" {
		return email
	}
	return maskEmail(email)
}

func maskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return genericEmailMask
	}
	local, domain := email[:at], email[at+1:]

	// Already masked: keep stable so double application cannot leak or grow.
	if strings.Contains(local, "***") {
		return email
	}

	keep := 2
	if len(local) < keep {
		keep = len(local)
	}
	maskedLocal := local[:keep] + genericMask

	dot := strings.LastIndex(domain, ".")
	if dot <= 0 || dot == len(domain)-1 {
		return maskedLocal + "@" + genericMask
	}
	tld := domain[dot:]
	maskedDomain := domain[:1] + genericMask + tld

	return maskedLocal + "@" + maskedDomain
}

// MaskPhone keeps the last 4 digits and masks the rest, preserving a leading
// "+" and common separators for readability: "+1 (555) 123-4567" →
// "+* (***) ***-4567". Values with fewer than 4 digits collapse to "***".
func (r *Redactor) MaskPhone(phone string) string {
	if !r.enabled || phone == "" {
		return phone
	}
	return maskPhone(phone)
}

func maskPhone(phone string) string {
	digits := 0
	for _, c := range phone {
		if c >= '0' && c <= '9' {
			digits++
		}
	}
	if digits < 4 {
		return genericMask
	}

	var b strings.Builder
	b.Grow(len(phone))
	seen := 0
	for _, c := range phone {
		switch {
		case c >= '0' && c <= '9':
			seen++
			if seen > digits-4 {
				b.WriteRune(c)
			} else {
				b.WriteRune('*')
			}
		case c == '+' || c == '(' || c == ')' || c == '-' || c == ' ' || c == '.' || c == '*':
			b.WriteRune(c)
		default:
			// Drop anything else rather than guess at its meaning.
		}
	}
	return b.String()
}

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?\d[\d\s().\-]{6,}\d`)
)

// Text masks every email address and phone-shaped number found in free text.
// Used before any lead-derived text reaches logs or chat-ops messages.
func (r *Redactor) Text(s string) string {
	if !r.enabled || s == "" {
		return s
	}
	s = emailRe.ReplaceAllStringFunc(s, maskEmail)
	s = phoneRe.ReplaceAllStringFunc(s, maskPhone)
	return s
}

// Lead returns a copy of the lead with contact fields and interest text
// masked. The original is never mutated.
func (r *Redactor) Lead(lead model.Lead) model.Lead {
	if !r.enabled {
		return lead
	}
	lead.Email = r.MaskEmail(lead.Email)
	lead.Phone = r.MaskPhone(lead.Phone)
	lead.Interest = r.Text(lead.Interest)
	return lead
}
