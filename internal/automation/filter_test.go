package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/leadsense/internal/model"
)

func TestMatches_EmptyFilterPassesEverything(t *testing.T) {
	assert.True(t, Matches(model.TriggerFilter{}, &model.Lead{}))
}

func TestMatches_MinScoreBoundary(t *testing.T) {
	min := 80
	f := model.TriggerFilter{MinScore: &min}

	assert.False(t, Matches(f, &model.Lead{Score: 79}))
	assert.True(t, Matches(f, &model.Lead{Score: 80}))
	assert.True(t, Matches(f, &model.Lead{Score: 81}))
}

func TestMatches_Qualified(t *testing.T) {
	qualified := true
	f := model.TriggerFilter{Qualified: &qualified}

	assert.True(t, Matches(f, &model.Lead{Qualified: true}))
	assert.False(t, Matches(f, &model.Lead{Qualified: false}))

	unqualified := false
	f = model.TriggerFilter{Qualified: &unqualified}
	assert.True(t, Matches(f, &model.Lead{Qualified: false}))
}

func TestMatches_StatusAndIntent(t *testing.T) {
	f := model.TriggerFilter{Status: "new", IntentLevel: model.IntentHigh}

	assert.True(t, Matches(f, &model.Lead{Status: "new", IntentLevel: model.IntentHigh}))
	assert.False(t, Matches(f, &model.Lead{Status: "contacted", IntentLevel: model.IntentHigh}))
	assert.False(t, Matches(f, &model.Lead{Status: "new", IntentLevel: model.IntentMedium}))
}

func TestMatches_TagsRequireAll(t *testing.T) {
	f := model.TriggerFilter{Tags: []string{"vip", "inbound"}}

	assert.True(t, Matches(f, &model.Lead{Tags: []string{"inbound", "vip", "extra"}}))
	assert.False(t, Matches(f, &model.Lead{Tags: []string{"vip"}}))
	assert.False(t, Matches(f, &model.Lead{}))
}

func TestMatches_PipelineAndStageFromExtras(t *testing.T) {
	f := model.TriggerFilter{PipelineID: "p1", StageID: "s2"}

	assert.True(t, Matches(f, &model.Lead{
		Extras: map[string]any{"pipeline_id": "p1", "stage_id": "s2"},
	}))
	assert.False(t, Matches(f, &model.Lead{
		Extras: map[string]any{"pipeline_id": "p1", "stage_id": "s9"},
	}))
	assert.False(t, Matches(f, &model.Lead{}))
}

func TestMatches_CombinedPredicatesAnd(t *testing.T) {
	min := 70
	qualified := true
	f := model.TriggerFilter{MinScore: &min, Qualified: &qualified}

	assert.True(t, Matches(f, &model.Lead{Score: 75, Qualified: true}))
	assert.False(t, Matches(f, &model.Lead{Score: 75, Qualified: false}))
	assert.False(t, Matches(f, &model.Lead{Score: 65, Qualified: true}))
}
