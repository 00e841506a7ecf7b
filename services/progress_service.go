package services

import (
	"log"
	"time"

	"mindscreen/models"
)

const (
	PeriodLast7Days  = "last_7_days"
	PeriodLast30Days = "last_30_days"
	PeriodAll        = "all"
	dateFormat       = "2006-01-02"
)

// resolvePeriod turns a period name into an inclusive day range ending today.
// A zero start means unbounded.
func resolvePeriod(periodType string, now time.Time) (models.ReportPeriod, time.Time, time.Time) {
	endDate := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, now.Location())

	var startDate time.Time
	switch periodType {
	case PeriodAll, "":
		periodType = PeriodAll
	case PeriodLast7Days:
		startDate = endDate.AddDate(0, 0, -6) // endDate is the 7th day
	case PeriodLast30Days:
		startDate = endDate.AddDate(0, 0, -29) // endDate is the 30th day
	default:
		log.Printf("WARN: [ResultsAnalyzer] Unsupported periodType '%s'. Defaulting to last_7_days.", periodType)
		periodType = PeriodLast7Days
		startDate = endDate.AddDate(0, 0, -6)
	}
	if !startDate.IsZero() {
		startDate = time.Date(startDate.Year(), startDate.Month(), startDate.Day(), 0, 0, 0, 0, startDate.Location())
	}

	period := models.ReportPeriod{EndDate: endDate.Format(dateFormat), PeriodType: periodType}
	if !startDate.IsZero() {
		period.StartDate = startDate.Format(dateFormat)
	}
	return period, startDate, endDate
}

// GetAssessmentStatistics aggregates the results completed within a period
// ("last_7_days", "last_30_days" or "all").
func (a *ResultsAnalyzer) GetAssessmentStatistics(periodType string) *models.AssessmentStatistics {
	now := a.now()
	period, startDate, endDate := resolvePeriod(periodType, now)

	stats := &models.AssessmentStatistics{
		ReportPeriod:     period,
		RiskDistribution: map[models.RiskLevel]int{},
		ByType:           map[string]*models.TypeStatistics{},
		GeneratedAt:      now.UTC(),
	}
	scoreSums := map[string]map[string]float64{}
	scoreCounts := map[string]map[string]int{}
	var totalTime time.Duration

	for _, r := range a.GetAllResults() {
		completed := r.CompletedAt.In(now.Location())
		if (!startDate.IsZero() && completed.Before(startDate)) || completed.After(endDate) {
			continue
		}
		stats.TotalResults++
		stats.RiskDistribution[r.RiskLevel]++
		totalTime += r.TotalTimeSpent
		if stats.LastCompletedAt == nil || r.CompletedAt.After(*stats.LastCompletedAt) {
			t := r.CompletedAt
			stats.LastCompletedAt = &t
		}

		ts, ok := stats.ByType[r.AssessmentTypeID]
		if !ok {
			ts = &models.TypeStatistics{
				AssessmentTypeID: r.AssessmentTypeID,
				AverageScores:    map[string]float64{},
				RiskDistribution: map[models.RiskLevel]int{},
			}
			stats.ByType[r.AssessmentTypeID] = ts
			scoreSums[r.AssessmentTypeID] = map[string]float64{}
			scoreCounts[r.AssessmentTypeID] = map[string]int{}
		}
		ts.Count++
		ts.RiskDistribution[r.RiskLevel]++
		if ts.LastCompletedAt == nil || r.CompletedAt.After(*ts.LastCompletedAt) {
			t := r.CompletedAt
			ts.LastCompletedAt = &t
		}
		for ruleID, s := range r.Scores {
			scoreSums[r.AssessmentTypeID][ruleID] += s.Value
			scoreCounts[r.AssessmentTypeID][ruleID]++
		}
	}

	for typeID, ts := range stats.ByType {
		for ruleID, sum := range scoreSums[typeID] {
			ts.AverageScores[ruleID] = sum / float64(scoreCounts[typeID][ruleID])
		}
	}
	if stats.TotalResults > 0 {
		stats.AverageTimeSpent = totalTime / time.Duration(stats.TotalResults)
	}
	log.Printf("INFO: [ResultsAnalyzer] Statistics for %s: %d results across %d assessment types.", period.PeriodType, stats.TotalResults, len(stats.ByType))
	return stats
}
