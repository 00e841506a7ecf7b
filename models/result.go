package models

import (
	"time"
)

// ScoreResult is the outcome of one scoring rule.
type ScoreResult struct {
	Value       float64   `json:"value"`
	Label       string    `json:"label"`
	Description string    `json:"description"`
	RiskLevel   RiskLevel `json:"risk_level,omitempty"`
}

// AssessmentResult is created exactly once per completed session and never mutated afterwards.
type AssessmentResult struct {
	ID               string                 `json:"id"`
	SessionID        string                 `json:"session_id"`
	AssessmentTypeID string                 `json:"assessment_type_id"`
	CompletedAt      time.Time              `json:"completed_at"`
	Scores           map[string]ScoreResult `json:"scores"`
	Interpretation   string                 `json:"interpretation"`
	Recommendations  []string               `json:"recommendations"`
	RiskLevel        RiskLevel              `json:"risk_level"`
	TotalTimeSpent   time.Duration          `json:"total_time_spent"`
	Answers          []AssessmentAnswer     `json:"answers"`
}

// Clone returns a deep copy of the result.
func (r *AssessmentResult) Clone() *AssessmentResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Scores = make(map[string]ScoreResult, len(r.Scores))
	for k, v := range r.Scores {
		c.Scores[k] = v
	}
	c.Recommendations = append([]string(nil), r.Recommendations...)
	c.Answers = append([]AssessmentAnswer(nil), r.Answers...)
	return &c
}
