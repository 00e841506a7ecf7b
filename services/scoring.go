package services

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"mindscreen/models"
)

const unscoredLabel = "Unscored"

// answerNumericValue converts an answer to the number a scoring rule adds up.
// Option IDs resolve to their option value; lists sum their members; free text
// counts only when it parses as a number.
func answerNumericValue(q *models.AssessmentQuestion, v models.AnswerValue) float64 {
	switch v.Kind() {
	case models.AnswerNumber:
		n, _ := v.Number()
		if isChoice(q) {
			// A number may name a choice option by ID as well as by value.
			if opt, ok := matchOption(q, v); ok {
				return opt.Value
			}
		}
		return n
	case models.AnswerText:
		s, _ := v.Text()
		if q != nil {
			if opt, ok := q.FindOption(s); ok {
				return opt.Value
			}
		}
		if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return n
		}
		return 0
	case models.AnswerList:
		var total float64
		counted := make(map[string]bool)
		for _, item := range v.Items() {
			if isChoice(q) {
				if opt, ok := matchOption(q, item); ok {
					// Each option counts once, however often a stored answer repeats it.
					if !counted[opt.ID] {
						counted[opt.ID] = true
						total += opt.Value
					}
					continue
				}
			}
			total += answerNumericValue(q, item)
		}
		return total
	}
	return 0
}

func isChoice(q *models.AssessmentQuestion) bool {
	return q != nil && (q.QuestionType == models.QuestionTypeSingleChoice || q.QuestionType == models.QuestionTypeMultiChoice)
}

// computeRuleScore applies the rule's calculation to the answers it consumes.
func computeRuleScore(t *models.AssessmentType, rule *models.ScoringRule, answers map[string]models.AnswerValue) float64 {
	var total float64
	count := 0
	for _, qid := range rule.QuestionIDs {
		v, ok := answers[qid]
		if !ok || v.IsEmpty() {
			continue
		}
		q, _ := t.FindQuestion(qid)
		n := answerNumericValue(q, v)
		if rule.Calculation == models.CalculationWeightedSum {
			n *= rule.Weight(qid)
		}
		total += n
		count++
	}
	switch rule.Calculation {
	case models.CalculationAverage:
		if count == 0 {
			return 0
		}
		return total / float64(count)
	default:
		// sum, weighted_sum and custom all report the total; custom formulas are not interpreted.
		return total
	}
}

// matchRange returns the range a score falls in. Scores in a gap between two ranges
// belong to the lower one; scores outside all ranges clamp to the first or last.
func matchRange(ranges []models.ScoreRange, score float64) (models.ScoreRange, bool) {
	if len(ranges) == 0 {
		return models.ScoreRange{}, false
	}
	for _, r := range ranges {
		if r.Contains(score) {
			return r, true
		}
	}
	if score < ranges[0].Min {
		return ranges[0], true
	}
	match := ranges[0]
	for _, r := range ranges {
		if r.Min <= score {
			match = r
		}
	}
	return match, true
}

func scoreRule(t *models.AssessmentType, rule *models.ScoringRule, answers map[string]models.AnswerValue) models.ScoreResult {
	value := computeRuleScore(t, rule, answers)
	r, ok := matchRange(rule.Ranges, value)
	if !ok {
		return models.ScoreResult{Value: value, Label: unscoredLabel}
	}
	return models.ScoreResult{Value: value, Label: r.Label, Description: r.Description, RiskLevel: r.RiskLevel}
}

// overallRiskLevel is the most severe risk among the scores, low when none carries one.
func overallRiskLevel(scores map[string]models.ScoreResult) models.RiskLevel {
	level := models.RiskLow
	for _, s := range scores {
		if s.RiskLevel.Severity() > level.Severity() {
			level = s.RiskLevel
		}
	}
	return level
}

// ruleMax is the highest bound of a rule's ranges, used to normalize scores.
func ruleMax(rule *models.ScoringRule) float64 {
	var m float64
	for _, r := range rule.Ranges {
		m = math.Max(m, r.Max)
	}
	return m
}

func ruleSpan(rule *models.ScoringRule) float64 {
	if len(rule.Ranges) == 0 {
		return 0
	}
	return rule.Ranges[len(rule.Ranges)-1].Max - rule.Ranges[0].Min
}

func formatScore(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// interpret fills the type's template for language, or lists each rule's label and value.
func interpret(t *models.AssessmentType, language string, scores map[string]models.ScoreResult) string {
	template := ""
	for _, l := range append(localeChain(language), t.BaseLanguage) {
		if tpl, ok := t.InterpretationTemplates[l]; ok && tpl != "" {
			template = tpl
			break
		}
	}

	if template != "" {
		pairs := make([]string, 0, len(scores)*6)
		for _, rule := range t.ScoringRules {
			s, ok := scores[rule.ID]
			if !ok {
				continue
			}
			pairs = append(pairs,
				"{{"+rule.ID+"_value}}", formatScore(s.Value),
				"{{"+rule.ID+"_description}}", s.Description,
				"{{"+rule.ID+"}}", s.Label,
			)
		}
		return strings.TrimSpace(strings.NewReplacer(pairs...).Replace(template))
	}

	parts := make([]string, 0, len(t.ScoringRules))
	for _, rule := range t.ScoringRules {
		s, ok := scores[rule.ID]
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s (%s)", rule.DisplayName(), s.Label, formatScore(s.Value)))
	}
	return fmt.Sprintf("Results for %s. %s.", t.Name, strings.Join(parts, "; "))
}
