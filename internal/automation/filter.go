package automation

import "github.com/sells-group/leadsense/internal/model"

// Matches reports whether a lead passes every predicate in the filter.
// Predicates AND together; a zero-valued predicate always passes. Tags
// requires the lead to carry every listed tag.
func Matches(f model.TriggerFilter, lead *model.Lead) bool {
	if f.MinScore != nil && lead.Score < *f.MinScore {
		return false
	}
	if f.Qualified != nil && lead.Qualified != *f.Qualified {
		return false
	}
	if f.Status != "" && lead.Status != f.Status {
		return false
	}
	if f.IntentLevel != "" && lead.IntentLevel != f.IntentLevel {
		return false
	}
	for _, tag := range f.Tags {
		if !lead.HasTag(tag) {
			return false
		}
	}
	if f.PipelineID != "" && extraString(lead, "pipeline_id") != f.PipelineID {
		return false
	}
	if f.StageID != "" && extraString(lead, "stage_id") != f.StageID {
		return false
	}
	return true
}

func extraString(lead *model.Lead, key string) string {
	if lead.Extras == nil {
		return ""
	}
	s, _ := lead.Extras[key].(string)
	return s
}
