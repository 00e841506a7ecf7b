package services

import (
	"fmt"
	"math"

	"mindscreen/models"
)

// DefaultMaxRecommendations caps the recommendation list of a result.
const DefaultMaxRecommendations = 8

// Pattern thresholds on the variance of normalized (0..1) rule scores.
const (
	stableVarianceThreshold   = 0.01
	variableVarianceThreshold = 0.1
	extremeScoreThreshold     = 0.8
)

var riskTierRecommendations = map[models.RiskLevel][]string{
	models.RiskHigh: {
		"Please reach out to a mental health professional as soon as you can.",
		"If you feel unsafe or are thinking about harming yourself, contact emergency services or a crisis line right away.",
		"Let someone you trust know how you have been feeling.",
	},
	models.RiskMedium: {
		"Consider booking an appointment with a counsellor or your doctor to talk about these results.",
		"Keep a short daily note of your mood for the next two weeks to spot patterns.",
	},
	models.RiskLow: {
		"Your results suggest you are coping well at the moment. Keep up the habits that support you.",
		"Repeat this assessment in a few weeks to keep an eye on changes.",
	},
}

var wellnessRecommendations = []string{
	"Aim for a regular sleep schedule and some movement every day.",
	"Stay in touch with friends, family or a community you feel part of.",
	"Set aside a little time each day for something you enjoy.",
}

// buildRecommendations combines risk-tier, type-specific, pattern and wellness advice,
// removes duplicates and keeps at most limit entries.
func buildRecommendations(t *models.AssessmentType, scores map[string]models.ScoreResult, risk models.RiskLevel, limit int) []string {
	if limit <= 0 {
		limit = DefaultMaxRecommendations
	}
	var out []string
	seen := map[string]bool{}
	add := func(items ...string) {
		for _, s := range items {
			if s == "" || seen[s] || len(out) >= limit {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}

	add(riskTierRecommendations[risk]...)
	for _, a := range t.Advice {
		if s, ok := scores[a.RuleID]; ok && a.Applies(s.Value) {
			add(a.Text)
		}
	}
	add(patternRecommendations(t, scores)...)
	add(wellnessRecommendations...)
	return out
}

// patternRecommendations looks at how rule scores relate to each other.
func patternRecommendations(t *models.AssessmentType, scores map[string]models.ScoreResult) []string {
	type normalized struct {
		rule  *models.ScoringRule
		value float64
	}
	var points []normalized
	for i := range t.ScoringRules {
		rule := &t.ScoringRules[i]
		s, ok := scores[rule.ID]
		upper := ruleMax(rule)
		if !ok || upper <= 0 {
			continue
		}
		points = append(points, normalized{rule: rule, value: math.Min(s.Value/upper, 1)})
	}

	var out []string
	if len(points) >= 2 {
		var mean float64
		for _, p := range points {
			mean += p.value
		}
		mean /= float64(len(points))
		var variance float64
		for _, p := range points {
			variance += (p.value - mean) * (p.value - mean)
		}
		variance /= float64(len(points))

		switch {
		case variance < stableVarianceThreshold:
			out = append(out, "Your scores are similar across all areas, so general self-care is likely to help across the board.")
		case variance > variableVarianceThreshold:
			top := points[0]
			for _, p := range points[1:] {
				if p.value > top.value {
					top = p
				}
			}
			out = append(out, fmt.Sprintf("Your scores differ a lot between areas; %s stands out and is a good place to start.", top.rule.DisplayName()))
		}
	}
	for _, p := range points {
		if p.value >= extremeScoreThreshold {
			out = append(out, fmt.Sprintf("Your %s score is near the top of its scale; give this area priority.", p.rule.DisplayName()))
		}
	}
	return out
}
