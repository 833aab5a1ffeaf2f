package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/leadsense/internal/model"
)

func TestMaskEmail(t *testing.T) {
	r := New(true)

	tests := []struct {
		input string
		want  string
	}{
		{"jane.doe@acme.com", "ja***@a***.com"},
		{"j@acme.com", "j***@a***.com"},
		{"ops@globex.co.uk", "op***@g***.uk"},
		{"not-an-email", "***@***.***"},
		{"@acme.com", "***@***.***"},
		{"jane@", "***@***.***"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, r.MaskEmail(tt.input))
		})
	}
}

func TestMaskEmail_DoubleApplicationStable(t *testing.T) {
	r := New(true)

	once := r.MaskEmail("jane.doe@acme.com")
	twice := r.MaskEmail(once)
	assert.Equal(t, once, twice)
}

func TestMaskPhone(t *testing.T) {
	r := New(true)

	tests := []struct {
		input string
		want  string
	}{
		{"+1 (555) 123-4567", "+* (***) ***-4567"},
		{"5551234567", "******4567"},
		{"123", "***"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, r.MaskPhone(tt.input))
		})
	}
}

func TestText_MasksEmbeddedPII(t *testing.T) {
	r := New(true)

	got := r.Text("reach me at jane.doe@acme.com or +1 (555) 123-4567 thanks")

	assert.NotContains(t, got, "jane.doe@acme.com")
	assert.NotContains(t, got, "555) 123")
	assert.Contains(t, got, "ja***@a***.com")
	assert.Contains(t, got, "4567")
	assert.Contains(t, got, "thanks")
}

func TestLead_CopiesAndMasks(t *testing.T) {
	r := New(true)

	orig := model.Lead{
		Email:    "jane.doe@acme.com",
		Phone:    "+1 (555) 123-4567",
		Interest: "email me at jane.doe@acme.com",
		Company:  "Acme",
	}
	masked := r.Lead(orig)

	assert.Equal(t, "ja***@a***.com", masked.Email)
	assert.Equal(t, "+* (***) ***-4567", masked.Phone)
	assert.NotContains(t, masked.Interest, "jane.doe@acme.com")
	assert.Equal(t, "Acme", masked.Company)

	// Original untouched.
	assert.Equal(t, "jane.doe@acme.com", orig.Email)
}

func TestDisabledRedactorPassesThrough(t *testing.T) {
	r := New(false)

	assert.False(t, r.Enabled())
	assert.Equal(t, "jane.doe@acme.com", r.MaskEmail("jane.doe@acme.com"))
	assert.Equal(t, "+1 555 123 4567", r.MaskPhone("+1 555 123 4567"))
	assert.Equal(t, "call +1 555 123 4567", r.Text("call +1 555 123 4567"))

	lead := model.Lead{Email: "a@b.co"}
	assert.Equal(t, lead, r.Lead(lead))
}
