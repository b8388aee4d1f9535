package evaluator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Criterion is one fixed checklist entry. Aliases are alternate labels (other
// languages) that a note must not merely repeat.
type Criterion struct {
	Key         string   `yaml:"key"`
	Label       string   `yaml:"label"`
	Aliases     []string `yaml:"aliases"`
	Description string   `yaml:"description"`
}

// Rules is the evaluation contract shared by the prompt and the validator.
type Rules struct {
	Criteria        []Criterion `yaml:"criteria"`
	Tags            []string    `yaml:"tags"`
	CatchAllTag     string      `yaml:"catch_all_tag"`
	TopicBlocklist  []string    `yaml:"topic_blocklist"`
	EvaluativeWords []string    `yaml:"evaluative_words"`
}

const criteriaCount = 8

func DefaultRules() Rules {
	return Rules{
		Criteria: []Criterion{
			{Key: "greeting", Label: "Greeting and introduction", Aliases: []string{"Привітання та представлення"},
				Description: "Operator greets the caller and names themselves or the company."},
			{Key: "identification", Label: "Customer identification", Aliases: []string{"Ідентифікація абонента"},
				Description: "Operator confirms who is calling (contract, address, name or phone)."},
			{Key: "needs", Label: "Needs discovery", Aliases: []string{"Виявлення потреби"},
				Description: "Operator asks questions to understand the reason for the call."},
			{Key: "empathy", Label: "Empathy and active listening", Aliases: []string{"Емпатія та активне слухання"},
				Description: "Operator acknowledges the caller, does not interrupt, reflects back what was said."},
			{Key: "solution", Label: "Solution offered", Aliases: []string{"Запропоноване рішення"},
				Description: "Operator proposes a concrete resolution or action."},
			{Key: "clarity", Label: "Clarity and accuracy", Aliases: []string{"Чіткість і точність"},
				Description: "Operator explains clearly and gives correct information without contradictions."},
			{Key: "next_steps", Label: "Next steps agreed", Aliases: []string{"Узгоджені наступні кроки"},
				Description: "Operator states what happens next, who does it and when."},
			{Key: "closing", Label: "Closing", Aliases: []string{"Завершення розмови"},
				Description: "Operator checks for remaining questions and ends the call politely."},
		},
		Tags: []string{
			"connection_issue", "billing", "tariff_change", "equipment",
			"new_connection", "technical_support", "complaint", "other",
		},
		CatchAllTag: "other",
		TopicBlocklist: []string{
			"internet", "tariff", "payment", "billing", "router", "connection", "speed", "outage",
			"bill", "invoice", "equipment", "price",
			"інтернет", "тариф", "оплат", "роутер", "підключен", "швидк", "рахун",
		},
		EvaluativeWords: []string{
			"excellent", "good", "bad", "poor", "great", "terrible",
			"відмінно", "погано", "добре", "чудово", "жахливо",
		},
	}
}

// LoadRules returns the built-in rules, overridden by any keys present in the YAML file at path.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules file: %w", err)
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("parse rules file: %w", err)
	}
	if err := rules.check(); err != nil {
		return Rules{}, fmt.Errorf("rules file %s: %w", path, err)
	}
	return rules, nil
}

func (r Rules) check() error {
	if len(r.Criteria) != criteriaCount {
		return fmt.Errorf("expected %d criteria, got %d", criteriaCount, len(r.Criteria))
	}
	for i, c := range r.Criteria {
		if c.Label == "" {
			return fmt.Errorf("criterion %d has no label", i+1)
		}
	}
	if !r.hasTag(r.CatchAllTag) {
		return fmt.Errorf("catch-all tag %q not in tag list", r.CatchAllTag)
	}
	return nil
}

func (r Rules) hasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
