package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadsense/internal/config"
	"github.com/sells-group/leadsense/internal/model"
)

func TestDetect_NoKeywords(t *testing.T) {
	d := New(config.DetectConfig{})

	res := d.Detect(model.TurnEnvelope{
		UserMessage:      "what time is it in tokyo",
		AssistantMessage: "It is currently 9pm in Tokyo.",
	})

	assert.Equal(t, model.IntentNone, res.Intent)
	assert.Empty(t, res.Signals)
	assert.Zero(t, res.RawScore)
	assert.Zero(t, res.Confidence)
}

func TestDetect_PricingOnly_IsNone(t *testing.T) {
	d := New(config.DetectConfig{})

	// pricing alone is 25 points, confidence 0.25 < 0.3.
	res := d.Detect(model.TurnEnvelope{UserMessage: "how much does it cost"})

	assert.Equal(t, model.IntentNone, res.Intent)
	assert.Equal(t, 25, res.RawScore)
	require.Len(t, res.Signals, 1)
	assert.Equal(t, "pricing", res.Signals[0].Category)
	assert.Contains(t, res.Signals[0].Matched, "cost")
	assert.Contains(t, res.Signals[0].Matched, "how much")
}

func TestDetect_CommitmentOnly_IsLow(t *testing.T) {
	d := New(config.DetectConfig{})

	res := d.Detect(model.TurnEnvelope{UserMessage: "can I get a demo"})

	assert.Equal(t, model.IntentLow, res.Intent)
	assert.Equal(t, 30, res.RawScore)
	assert.InDelta(t, 0.30, res.Confidence, 1e-9)
}

func TestDetect_MediumIntent(t *testing.T) {
	d := New(config.DetectConfig{})

	// pricing (25) + commitment (30) + budget (20) = 75 → 0.75, medium.
	res := d.Detect(model.TurnEnvelope{
		UserMessage: "what is the pricing, we have budget and want a demo",
	})

	assert.Equal(t, model.IntentMedium, res.Intent)
	assert.Equal(t, 75, res.RawScore)
	assert.Len(t, res.Signals, 3)
}

func TestDetect_HighIntent(t *testing.T) {
	d := New(config.DetectConfig{})

	// pricing + commitment + budget + contact_intent = 90 → 0.9, high.
	res := d.Detect(model.TurnEnvelope{
		UserMessage: "pricing looks good, we have budget, let's sign up, call me",
	})

	assert.Equal(t, model.IntentHigh, res.Intent)
	assert.GreaterOrEqual(t, res.RawScore, 80)
}

func TestDetect_ConfidenceCapsAtOne(t *testing.T) {
	d := New(config.DetectConfig{})

	res := d.Detect(model.TurnEnvelope{
		UserMessage: "our ceo approved the budget, pricing works, sign up today, " +
			"call me asap, we compared alternatives and your demo won",
	})

	assert.Equal(t, 1.0, res.Confidence)
	assert.Greater(t, res.RawScore, 100)
	assert.Equal(t, model.IntentHigh, res.Intent)
}

func TestDetect_AssistantMessageCounts(t *testing.T) {
	d := New(config.DetectConfig{})

	res := d.Detect(model.TurnEnvelope{
		UserMessage:      "tell me more",
		AssistantMessage: "Our pricing starts at $49 per month.",
	})

	require.Len(t, res.Signals, 1)
	assert.Equal(t, "pricing", res.Signals[0].Category)
}

func TestDetect_ContextBonus_LowTier(t *testing.T) {
	d := New(config.DetectConfig{})

	// 3 distinct keywords across the window → +10.
	res := d.Detect(model.TurnEnvelope{
		UserMessage: "can I get a demo",
		Messages: []model.Message{
			{Role: "user", Content: "what does it cost"},
			{Role: "assistant", Content: "Pricing starts at $49."},
			{Role: "user", Content: "do you have a budget plan"},
		},
	})

	// demo (30) + low tier bonus (10).
	assert.Equal(t, 40, res.RawScore)
}

func TestDetect_ContextBonus_HighTier(t *testing.T) {
	d := New(config.DetectConfig{})

	res := d.Detect(model.TurnEnvelope{
		UserMessage: "can I get a demo",
		Messages: []model.Message{
			{Role: "user", Content: "what does it cost, what is the price"},
			{Role: "user", Content: "is there a free trial"},
			{Role: "user", Content: "we have budget to invest"},
			{Role: "user", Content: "need it asap"},
		},
	})

	// 6 distinct keyword hits in the window → +20.
	assert.Equal(t, 50, res.RawScore)
}

func TestDetect_ContextWindowBounded(t *testing.T) {
	d := New(config.DetectConfig{ContextTurns: 2})

	// Keyword-bearing messages fall outside the 2-message window.
	res := d.Detect(model.TurnEnvelope{
		UserMessage: "can I get a demo",
		Messages: []model.Message{
			{Role: "user", Content: "price cost budget"},
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: "Hi there."},
		},
	})

	assert.Equal(t, 30, res.RawScore)
}

func TestDetect_WeightOverride(t *testing.T) {
	d := New(config.DetectConfig{
		Weights: map[string]int{"pricing": 50},
	})

	res := d.Detect(model.TurnEnvelope{UserMessage: "how much does it cost"})

	assert.Equal(t, 50, res.RawScore)
	assert.Equal(t, model.IntentLow, res.Intent)
}

func TestDetect_WeightZeroDisablesCategory(t *testing.T) {
	d := New(config.DetectConfig{
		Weights: map[string]int{"pricing": 0},
	})

	res := d.Detect(model.TurnEnvelope{UserMessage: "how much does it cost"})

	assert.Equal(t, model.IntentNone, res.Intent)
	assert.Empty(t, res.Signals)
}

func TestDetect_CustomThreshold(t *testing.T) {
	strict := New(config.DetectConfig{Threshold: 0.75})

	// 0.75 confidence is exactly the low/medium boundary; < threshold is low.
	res := strict.Detect(model.TurnEnvelope{
		UserMessage: "what is the pricing, we have budget and want a demo",
	})

	assert.Equal(t, model.IntentMedium, res.Intent)

	stricter := New(config.DetectConfig{Threshold: 0.76})
	res = stricter.Detect(model.TurnEnvelope{
		UserMessage: "what is the pricing, we have budget and want a demo",
	})
	assert.Equal(t, model.IntentLow, res.Intent)
}

func TestDetect_InvalidThresholdFallsBack(t *testing.T) {
	d := New(config.DetectConfig{Threshold: 1.5})

	res := d.Detect(model.TurnEnvelope{UserMessage: "can I get a demo"})

	// Default 0.6 threshold applies: 0.30 is low, not medium.
	assert.Equal(t, model.IntentLow, res.Intent)
}

func TestSignalCategories(t *testing.T) {
	got := SignalCategories([]Signal{
		{Category: "pricing"},
		{Category: "budget"},
		{Category: "commitment"},
	})
	assert.Equal(t, []string{"budget", "commitment", "pricing"}, got)

	assert.Nil(t, SignalCategories(nil))
}

func TestDetect_SelfIntroducedBuyerIsHigh(t *testing.T) {
	d := New(config.DetectConfig{})

	// pricing (25) + decision_makers (15) + contact_capture (25) +
	// identity pair bonus (20) = 85 → 0.85, high.
	res := d.Detect(model.TurnEnvelope{
		UserMessage: "What's your pricing? I'm the CTO at Acme Inc, email is jane@acme.com",
	})

	assert.Equal(t, model.IntentHigh, res.Intent)
	assert.Equal(t, 85, res.RawScore)

	var capture *Signal
	for i := range res.Signals {
		if res.Signals[i].Category == "contact_capture" {
			capture = &res.Signals[i]
		}
	}
	require.NotNil(t, capture)
	assert.Contains(t, capture.Matched, "email_address")
}

func TestDetect_PhoneNumberCapture(t *testing.T) {
	d := New(config.DetectConfig{})

	res := d.Detect(model.TurnEnvelope{
		UserMessage: "you can reach me on +1 415 555 0142",
	})

	require.Len(t, res.Signals, 1)
	assert.Equal(t, "contact_capture", res.Signals[0].Category)
	assert.Contains(t, res.Signals[0].Matched, "phone_number")
	assert.Equal(t, 25, res.RawScore)
}

func TestDetect_ContactCaptureWeightOverride(t *testing.T) {
	d := New(config.DetectConfig{
		Weights: map[string]int{"contact_capture": 0},
	})

	res := d.Detect(model.TurnEnvelope{
		UserMessage: "What's your pricing? I'm the CTO at Acme Inc, email is jane@acme.com",
	})

	// With capture disabled only pricing and decision_makers fire, plus the
	// pair bonus from the role title: 25 + 15 + 20 = 60.
	assert.Equal(t, 60, res.RawScore)
	for _, s := range res.Signals {
		assert.NotEqual(t, "contact_capture", s.Category)
	}
}

func TestDetect_IdentityAloneGetsNoPairBonus(t *testing.T) {
	d := New(config.DetectConfig{})

	res := d.Detect(model.TurnEnvelope{
		UserMessage: "I'm the CTO at Acme Inc, email is jane@acme.com",
	})

	// decision_makers (15) + contact_capture (25), no buying category so no
	// pair bonus.
	assert.Equal(t, 40, res.RawScore)
}
