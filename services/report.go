package services

import (
	"fmt"
	"log"
	"math"

	"mindscreen/models"
)

// stableTrendFraction is the share of a rule's range span within which a change counts as stable.
const stableTrendFraction = 0.05

// GenerateReport builds the chart-ready view of a result and, when an earlier result
// of the same type exists, compares each rule with the most recent one of them.
func (a *ResultsAnalyzer) GenerateReport(resultID string) (*models.Report, error) {
	result, ok := a.GetResult(resultID)
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", models.ErrResultNotFound, resultID)
	}

	// Ranges come from the canonical definition; labels already live in the result.
	var rules []models.ScoringRule
	name := result.AssessmentTypeID
	if t, err := a.bank.GetAssessmentType(result.AssessmentTypeID); err == nil {
		rules = t.ScoringRules
		name = t.Name
	} else {
		log.Printf("WARN: [ResultsAnalyzer] Assessment type '%s' of result '%s' is no longer registered; report has no range data.", result.AssessmentTypeID, resultID)
		for _, id := range ruleOrder(nil, result) {
			rules = append(rules, models.ScoringRule{ID: id})
		}
	}

	report := &models.Report{
		Result:           result,
		AssessmentName:   name,
		ScoreChart:       make([]models.ChartPoint, 0, len(rules)),
		RiskDistribution: map[models.RiskLevel]int{},
		GeneratedAt:      a.now().UTC(),
	}
	for i := range rules {
		rule := &rules[i]
		s, ok := result.Scores[rule.ID]
		if !ok {
			continue
		}
		point := models.ChartPoint{
			RuleID:    rule.ID,
			Name:      rule.DisplayName(),
			Value:     s.Value,
			Max:       ruleMax(rule),
			Label:     s.Label,
			RiskLevel: s.RiskLevel,
		}
		if point.Max > 0 {
			point.Percentage = math.Round(s.Value/point.Max*1000) / 10
		}
		report.ScoreChart = append(report.ScoreChart, point)
		if s.RiskLevel != "" {
			report.RiskDistribution[s.RiskLevel]++
		}
	}

	history := a.GetResultsByAssessmentType(result.AssessmentTypeID)
	var previous *models.AssessmentResult
	for _, r := range history {
		if r.ID != result.ID && r.CompletedAt.Before(result.CompletedAt) {
			previous = r
		}
	}
	if previous != nil {
		report.Trend = compareResults(rules, previous, result, len(history))
	}
	return report, nil
}

// compareResults classifies each rule; lower scores are better.
func compareResults(rules []models.ScoringRule, previous, current *models.AssessmentResult, historyCount int) *models.TrendComparison {
	trend := &models.TrendComparison{
		PreviousResultID:    previous.ID,
		PreviousCompletedAt: previous.CompletedAt,
		HistoryCount:        historyCount,
	}
	for i := range rules {
		rule := &rules[i]
		cur, ok1 := current.Scores[rule.ID]
		prev, ok2 := previous.Scores[rule.ID]
		if !ok1 || !ok2 {
			continue
		}
		change := cur.Value - prev.Value
		delta := ruleSpan(rule) * stableTrendFraction
		direction := models.TrendStable
		switch {
		case change < -delta:
			direction = models.TrendImproving
		case change > delta:
			direction = models.TrendDeclining
		}
		trend.Items = append(trend.Items, models.TrendItem{
			RuleID:    rule.ID,
			Previous:  prev.Value,
			Current:   cur.Value,
			Change:    change,
			Direction: direction,
		})
	}
	return trend
}
