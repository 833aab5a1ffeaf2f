package automation

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/leadsense/internal/model"
)

// ruleSpec mirrors one rule in the YAML file. is_active defaults to true
// when omitted, which a plain bool cannot express.
type ruleSpec struct {
	ID           string              `yaml:"id"`
	TenantID     string              `yaml:"tenant_id"`
	Name         string              `yaml:"name"`
	IsActive     *bool               `yaml:"is_active"`
	TriggerEvent string              `yaml:"trigger_event"`
	Filter       model.TriggerFilter `yaml:"trigger_filter"`
	ActionType   string              `yaml:"action_type"`
	ActionConfig model.ActionConfig  `yaml:"action_config"`
}

type rulesFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

// LoadRulesFile reads and validates automation rules from a YAML file.
// Any invalid rule rejects the whole file; partially loading a rule set
// would silently change which automations fire.
func LoadRulesFile(path string) ([]model.AutomationRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "automation: read rules file %s", path)
	}

	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "automation: parse rules file %s", path)
	}

	rules := make([]model.AutomationRule, 0, len(f.Rules))
	for i, spec := range f.Rules {
		rule, err := spec.toRule()
		if err != nil {
			return nil, eris.Wrapf(err, "automation: rules file %s: rule %d", path, i+1)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (s ruleSpec) toRule() (model.AutomationRule, error) {
	var zero model.AutomationRule

	if s.Name == "" {
		return zero, eris.New("name is required")
	}

	trigger := model.TriggerEvent(s.TriggerEvent)
	if !trigger.Valid() {
		return zero, eris.Errorf("rule %s: unknown trigger_event %q", s.Name, s.TriggerEvent)
	}

	action := model.ActionType(s.ActionType)
	if !action.Valid() {
		return zero, eris.Errorf("rule %s: unknown action_type %q", s.Name, s.ActionType)
	}

	if s.Filter.MinScore != nil && (*s.Filter.MinScore < 0 || *s.Filter.MinScore > 100) {
		return zero, eris.Errorf("rule %s: min_score %d out of range", s.Name, *s.Filter.MinScore)
	}
	if s.Filter.IntentLevel != "" && !s.Filter.IntentLevel.Valid() {
		return zero, eris.Errorf("rule %s: unknown intent_level %q", s.Name, s.Filter.IntentLevel)
	}

	active := true
	if s.IsActive != nil {
		active = *s.IsActive
	}

	return model.AutomationRule{
		ID:           s.ID,
		TenantID:     s.TenantID,
		Name:         s.Name,
		IsActive:     active,
		TriggerEvent: trigger,
		Filter:       s.Filter,
		ActionType:   action,
		ActionConfig: s.ActionConfig,
	}, nil
}
