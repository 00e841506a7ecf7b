package models

import (
	"time"
)

// AssessmentQuestionType defines the type of an assessment question.
type AssessmentQuestionType string

const (
	QuestionTypeSingleChoice AssessmentQuestionType = "single_choice"   // Radio buttons
	QuestionTypeMultiChoice  AssessmentQuestionType = "multiple_choice" // Checkboxes
	QuestionTypeScale        AssessmentQuestionType = "scale"           // Numeric slider between ScaleMin and ScaleMax
	QuestionTypeText         AssessmentQuestionType = "text"            // Free text input
)

// IsValid reports whether t is one of the known question types.
func (t AssessmentQuestionType) IsValid() bool {
	switch t {
	case QuestionTypeSingleChoice, QuestionTypeMultiChoice, QuestionTypeScale, QuestionTypeText:
		return true
	}
	return false
}

// AssessmentCategory groups questionnaires in the catalog.
type AssessmentCategory string

const (
	CategoryDepression AssessmentCategory = "depression"
	CategoryAnxiety    AssessmentCategory = "anxiety"
	CategoryStress     AssessmentCategory = "stress"
	CategoryMood       AssessmentCategory = "mood"
	CategoryWellbeing  AssessmentCategory = "wellbeing"
	CategoryGeneral    AssessmentCategory = "general"
)

// IsValid reports whether c is one of the known categories.
func (c AssessmentCategory) IsValid() bool {
	switch c {
	case CategoryDepression, CategoryAnxiety, CategoryStress, CategoryMood, CategoryWellbeing, CategoryGeneral:
		return true
	}
	return false
}

// RiskLevel is the coarse classification attached to a score range.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Severity orders risk levels: high > medium > low > unset.
func (r RiskLevel) Severity() int {
	switch r {
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	}
	return 0
}

// IsValid reports whether r is low, medium or high.
func (r RiskLevel) IsValid() bool {
	return r.Severity() > 0
}

// CalculationKind selects the formula a ScoringRule applies to its answers.
type CalculationKind string

const (
	CalculationSum         CalculationKind = "sum"
	CalculationAverage     CalculationKind = "average"
	CalculationWeightedSum CalculationKind = "weighted_sum"
	CalculationCustom      CalculationKind = "custom" // Scored as sum; Formula is informational only
)

// IsValid reports whether k is a supported calculation.
func (k CalculationKind) IsValid() bool {
	switch k {
	case CalculationSum, CalculationAverage, CalculationWeightedSum, CalculationCustom:
		return true
	}
	return false
}

// QuestionOption is one selectable answer of a choice or scale question.
type QuestionOption struct {
	ID    string  `json:"id" yaml:"id"`
	Text  string  `json:"text" yaml:"text"`
	Value float64 `json:"value" yaml:"value"`
}

// QuestionOverride replaces question fields for one language or cultural context.
// Empty fields fall back to the base question.
type QuestionOverride struct {
	Text        string            `json:"text,omitempty" yaml:"text,omitempty"`
	Options     map[string]string `json:"options,omitempty" yaml:"options,omitempty"`           // option ID -> text
	ScaleLabels map[string]string `json:"scale_labels,omitempty" yaml:"scale_labels,omitempty"` // scale value -> label
}

// AssessmentQuestion defines a question in an assessment questionnaire.
type AssessmentQuestion struct {
	ID                  string                      `json:"id" yaml:"id"`                       // Unique within its assessment type
	Text                string                      `json:"text" yaml:"text"`                   // The question text in the base language
	QuestionType        AssessmentQuestionType      `json:"question_type" yaml:"type"`          // Type of the question (e.g., single_choice)
	Options             []QuestionOption            `json:"options,omitempty" yaml:"options"`   // Available options for choice and scale questions
	IsRequired          bool                        `json:"is_required" yaml:"required"`        // Whether the question must be answered
	ScaleMin            float64                     `json:"scale_min,omitempty" yaml:"scale_min"`
	ScaleMax            float64                     `json:"scale_max,omitempty" yaml:"scale_max"`
	ScaleLabels         map[string]string           `json:"scale_labels,omitempty" yaml:"scale_labels,omitempty"`
	Translations        map[string]QuestionOverride `json:"translations,omitempty" yaml:"translations,omitempty"`
	CulturalAdaptations map[string]QuestionOverride `json:"cultural_adaptations,omitempty" yaml:"cultural_adaptations,omitempty"`
}

// FindOption returns the option whose ID matches id.
func (q *AssessmentQuestion) FindOption(id string) (QuestionOption, bool) {
	for _, opt := range q.Options {
		if opt.ID == id {
			return opt, true
		}
	}
	return QuestionOption{}, false
}

// FindOptionByValue returns the first option carrying value v.
func (q *AssessmentQuestion) FindOptionByValue(v float64) (QuestionOption, bool) {
	for _, opt := range q.Options {
		if opt.Value == v {
			return opt, true
		}
	}
	return QuestionOption{}, false
}

// ScoreRange maps an inclusive score interval to an interpretation.
type ScoreRange struct {
	Min         float64   `json:"min" yaml:"min"`
	Max         float64   `json:"max" yaml:"max"`
	Label       string    `json:"label" yaml:"label"`
	Description string    `json:"description" yaml:"description"`
	RiskLevel   RiskLevel `json:"risk_level" yaml:"risk_level"`
}

// Contains reports whether score lies in [Min, Max].
func (r ScoreRange) Contains(score float64) bool {
	return score >= r.Min && score <= r.Max
}

// ScoringRule turns a subset of answers into a score and a labelled range.
type ScoringRule struct {
	ID          string             `json:"id" yaml:"id"`
	Name        string             `json:"name,omitempty" yaml:"name"`
	Calculation CalculationKind    `json:"calculation" yaml:"calculation"`
	QuestionIDs []string           `json:"question_ids" yaml:"question_ids"`
	Weights     map[string]float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
	Formula     string             `json:"formula,omitempty" yaml:"formula,omitempty"`
	Ranges      []ScoreRange       `json:"ranges" yaml:"ranges"`
}

// DisplayName returns Name, or ID when no name is configured.
func (r *ScoringRule) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// Weight returns the configured weight of a question, defaulting to 1.
func (r *ScoringRule) Weight(questionID string) float64 {
	if w, ok := r.Weights[questionID]; ok {
		return w
	}
	return 1
}

// RangeOverride replaces the label and description of one range, addressed by index.
type RangeOverride struct {
	Label       string `json:"label,omitempty" yaml:"label,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// TypeOverride replaces assessment-level fields for one language or cultural context.
type TypeOverride struct {
	Name        string                     `json:"name,omitempty" yaml:"name,omitempty"`
	Description string                     `json:"description,omitempty" yaml:"description,omitempty"`
	RuleNames   map[string]string          `json:"rule_names,omitempty" yaml:"rule_names,omitempty"`
	Ranges      map[string][]RangeOverride `json:"ranges,omitempty" yaml:"ranges,omitempty"` // rule ID -> per-range overrides
}

// AdviceRule emits type-specific advice when a rule's score falls in [MinScore, MaxScore].
// A zero MaxScore means unbounded.
type AdviceRule struct {
	RuleID   string  `json:"rule_id" yaml:"rule"`
	MinScore float64 `json:"min_score" yaml:"min"`
	MaxScore float64 `json:"max_score,omitempty" yaml:"max,omitempty"`
	Text     string  `json:"text" yaml:"text"`
}

// Applies reports whether score triggers the advice.
func (a AdviceRule) Applies(score float64) bool {
	if score < a.MinScore {
		return false
	}
	return a.MaxScore == 0 || score <= a.MaxScore
}

// AssessmentType is a named questionnaire definition: questions, scoring rules and metadata.
type AssessmentType struct {
	ID                      string                  `json:"id" yaml:"id"`
	Name                    string                  `json:"name" yaml:"name"`
	Description             string                  `json:"description" yaml:"description"`
	Category                AssessmentCategory      `json:"category" yaml:"category"`
	BaseLanguage            string                  `json:"base_language" yaml:"base_language"`
	Version                 string                  `json:"version" yaml:"version"`
	Source                  string                  `json:"source,omitempty" yaml:"source,omitempty"`
	EstimatedMinutes        int                     `json:"estimated_minutes,omitempty" yaml:"estimated_minutes"`
	UpdatedAt               time.Time               `json:"updated_at" yaml:"-"`
	Questions               []AssessmentQuestion    `json:"questions" yaml:"questions"`
	ScoringRules            []ScoringRule           `json:"scoring_rules" yaml:"scoring_rules"`
	Translations            map[string]TypeOverride `json:"translations,omitempty" yaml:"translations,omitempty"`
	CulturalAdaptations     map[string]TypeOverride `json:"cultural_adaptations,omitempty" yaml:"cultural_adaptations,omitempty"`
	InterpretationTemplates map[string]string       `json:"interpretation_templates,omitempty" yaml:"interpretation_templates,omitempty"` // language -> template
	Advice                  []AdviceRule            `json:"advice,omitempty" yaml:"advice,omitempty"`
}

// FindQuestion returns the question with the given ID.
func (t *AssessmentType) FindQuestion(id string) (*AssessmentQuestion, bool) {
	for i := range t.Questions {
		if t.Questions[i].ID == id {
			return &t.Questions[i], true
		}
	}
	return nil, false
}

// FindRule returns the scoring rule with the given ID.
func (t *AssessmentType) FindRule(id string) (*ScoringRule, bool) {
	for i := range t.ScoringRules {
		if t.ScoringRules[i].ID == id {
			return &t.ScoringRules[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy so callers can substitute localized text without
// touching the canonical entity.
func (t *AssessmentType) Clone() *AssessmentType {
	if t == nil {
		return nil
	}
	c := *t
	c.Questions = make([]AssessmentQuestion, len(t.Questions))
	for i, q := range t.Questions {
		c.Questions[i] = q.clone()
	}
	c.ScoringRules = make([]ScoringRule, len(t.ScoringRules))
	for i, r := range t.ScoringRules {
		c.ScoringRules[i] = r.clone()
	}
	c.Translations = cloneTypeOverrides(t.Translations)
	c.CulturalAdaptations = cloneTypeOverrides(t.CulturalAdaptations)
	c.InterpretationTemplates = cloneStringMap(t.InterpretationTemplates)
	c.Advice = append([]AdviceRule(nil), t.Advice...)
	return &c
}

func (q AssessmentQuestion) clone() AssessmentQuestion {
	c := q
	c.Options = append([]QuestionOption(nil), q.Options...)
	c.ScaleLabels = cloneStringMap(q.ScaleLabels)
	c.Translations = cloneQuestionOverrides(q.Translations)
	c.CulturalAdaptations = cloneQuestionOverrides(q.CulturalAdaptations)
	return c
}

func (r ScoringRule) clone() ScoringRule {
	c := r
	c.QuestionIDs = append([]string(nil), r.QuestionIDs...)
	c.Ranges = append([]ScoreRange(nil), r.Ranges...)
	if r.Weights != nil {
		c.Weights = make(map[string]float64, len(r.Weights))
		for k, v := range r.Weights {
			c.Weights[k] = v
		}
	}
	return c
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneQuestionOverrides(m map[string]QuestionOverride) map[string]QuestionOverride {
	if m == nil {
		return nil
	}
	out := make(map[string]QuestionOverride, len(m))
	for k, v := range m {
		out[k] = QuestionOverride{Text: v.Text, Options: cloneStringMap(v.Options), ScaleLabels: cloneStringMap(v.ScaleLabels)}
	}
	return out
}

func cloneTypeOverrides(m map[string]TypeOverride) map[string]TypeOverride {
	if m == nil {
		return nil
	}
	out := make(map[string]TypeOverride, len(m))
	for k, v := range m {
		o := TypeOverride{Name: v.Name, Description: v.Description, RuleNames: cloneStringMap(v.RuleNames)}
		if v.Ranges != nil {
			o.Ranges = make(map[string][]RangeOverride, len(v.Ranges))
			for rid, ranges := range v.Ranges {
				o.Ranges[rid] = append([]RangeOverride(nil), ranges...)
			}
		}
		out[k] = o
	}
	return out
}
