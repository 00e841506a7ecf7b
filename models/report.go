package models

import "time"

// ReportPeriod defines the time range a statistics report covers.
type ReportPeriod struct {
	StartDate  string `json:"start_date,omitempty"` // YYYY-MM-DD
	EndDate    string `json:"end_date"`             // YYYY-MM-DD
	PeriodType string `json:"period_type"`          // "last_7_days", "last_30_days" or "all"
}

// ChartPoint is one bar of a score chart.
type ChartPoint struct {
	RuleID     string    `json:"rule_id"`
	Name       string    `json:"name"`
	Value      float64   `json:"value"`
	Max        float64   `json:"max"`
	Percentage float64   `json:"percentage"` // Value relative to the rule's highest range bound
	Label      string    `json:"label"`
	RiskLevel  RiskLevel `json:"risk_level,omitempty"`
}

// TrendDirection classifies a score change between two results. Lower scores are better.
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendDeclining TrendDirection = "declining"
	TrendStable    TrendDirection = "stable"
)

// TrendItem compares one rule against the previous result.
type TrendItem struct {
	RuleID    string         `json:"rule_id"`
	Previous  float64        `json:"previous"`
	Current   float64        `json:"current"`
	Change    float64        `json:"change"`
	Direction TrendDirection `json:"direction"`
}

// TrendComparison is present in a report when an earlier result of the same type exists.
type TrendComparison struct {
	PreviousResultID    string      `json:"previous_result_id"`
	PreviousCompletedAt time.Time   `json:"previous_completed_at"`
	HistoryCount        int         `json:"history_count"`
	Items               []TrendItem `json:"items"`
}

// Report is the chart-ready view of a result.
type Report struct {
	Result           *AssessmentResult `json:"result"`
	AssessmentName   string            `json:"assessment_name"`
	ScoreChart       []ChartPoint      `json:"score_chart"`
	RiskDistribution map[RiskLevel]int `json:"risk_distribution"`
	Trend            *TrendComparison  `json:"trend,omitempty"`
	GeneratedAt      time.Time         `json:"generated_at"`
}

// TypeStatistics aggregates results of one assessment type.
type TypeStatistics struct {
	AssessmentTypeID string             `json:"assessment_type_id"`
	Count            int                `json:"count"`
	AverageScores    map[string]float64 `json:"average_scores"` // rule ID -> mean value
	RiskDistribution map[RiskLevel]int  `json:"risk_distribution"`
	LastCompletedAt  *time.Time         `json:"last_completed_at,omitempty"`
}

// AssessmentStatistics is the response of the analyzer's statistics query.
type AssessmentStatistics struct {
	ReportPeriod     ReportPeriod               `json:"report_period"`
	TotalResults     int                        `json:"total_results"`
	RiskDistribution map[RiskLevel]int          `json:"risk_distribution"`
	ByType           map[string]*TypeStatistics `json:"by_type"`
	AverageTimeSpent time.Duration              `json:"average_time_spent"`
	LastCompletedAt  *time.Time                 `json:"last_completed_at,omitempty"`
	GeneratedAt      time.Time                  `json:"generated_at"`
}
