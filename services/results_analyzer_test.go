package services

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindscreen/models"
	"mindscreen/repository"
)

func newTestAnalyzer(t *testing.T, storage repository.Storage, opts ...AnalyzerOption) (*ResultsAnalyzer, *models.AssessmentType) {
	t.Helper()
	at := moodCheckType()
	a := NewResultsAnalyzer(newTestBank(t, at), storage, opts...)
	t.Cleanup(a.Close)
	return a, at
}

func TestResultsAnalyzer_ScoresModerateExample(t *testing.T) {
	a, at := newTestAnalyzer(t, nil)
	completed := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	session := completedSession(at, completed, 2, 2, 1, 1, 2, 1, 1, 1, 1)

	result, err := a.Evaluate(session)
	require.NoError(t, err)

	total := result.Scores["total"]
	assert.Equal(t, 12.0, total.Value)
	assert.Equal(t, "Moderate", total.Label)
	assert.Equal(t, models.RiskMedium, total.RiskLevel)
	assert.Equal(t, models.RiskMedium, result.RiskLevel)
	assert.Equal(t, completed, result.CompletedAt)
	assert.Equal(t, 4*time.Minute, result.TotalTimeSpent)
	assert.Len(t, result.Answers, 9)
	assert.NotEmpty(t, result.Recommendations)
	assert.LessOrEqual(t, len(result.Recommendations), DefaultMaxRecommendations)
	assert.Equal(t, "Results for Mood Check. Total: Moderate (12).", result.Interpretation)
	assert.Empty(t, result.ID, "Evaluate does not store")
}

func TestResultsAnalyzer_ScoresSevereExample(t *testing.T) {
	a, at := newTestAnalyzer(t, nil)
	session := completedSession(at, time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC), 3, 3, 3, 3, 3, 3, 3, 3, 3)

	result, err := a.Evaluate(session)
	require.NoError(t, err)
	assert.Equal(t, 27.0, result.Scores["total"].Value)
	assert.Equal(t, "Severe", result.Scores["total"].Label)
	assert.Equal(t, models.RiskHigh, result.RiskLevel)
	assert.Equal(t, riskTierRecommendations[models.RiskHigh][0], result.Recommendations[0])
}

func TestResultsAnalyzer_IsDeterministic(t *testing.T) {
	a, at := newTestAnalyzer(t, nil)
	session := completedSession(at, time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC), 0, 1, 2, 3, 0, 1, 2, 3, 0)

	first, err := a.Evaluate(session)
	require.NoError(t, err)
	second, err := a.Evaluate(session)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResultsAnalyzer_RejectsIncompleteSession(t *testing.T) {
	a, at := newTestAnalyzer(t, nil)
	session := completedSession(at, time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC), 1, 1)
	session.Status = models.SessionStatusActive
	session.CompletedAt = nil

	_, err := a.AnalyzeSession(session)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrSessionNotActive))
	assert.Empty(t, a.GetAllResults())

	_, err = a.Evaluate(nil)
	assert.True(t, errors.Is(err, models.ErrSessionNotFound))
}

func TestResultsAnalyzer_UnknownAssessmentType(t *testing.T) {
	a, at := newTestAnalyzer(t, nil)
	session := completedSession(at, time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC), 1)
	session.AssessmentTypeID = "retired"

	_, err := a.Evaluate(session)
	assert.True(t, errors.Is(err, models.ErrAssessmentTypeNotFound))
}

func TestResultsAnalyzer_AnalyzeSessionOnce(t *testing.T) {
	a, at := newTestAnalyzer(t, nil)
	session := completedSession(at, time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC), 1, 1, 1, 1, 1, 1, 1, 1, 1)

	first, err := a.AnalyzeSession(session)
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	second, err := a.AnalyzeSession(session)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, a.GetAllResults(), 1)

	bySession, ok := a.GetResultBySession(session.ID)
	require.True(t, ok)
	assert.Equal(t, first.ID, bySession.ID)

	// Returned results are copies.
	first.Scores["total"] = models.ScoreResult{Value: 99}
	stored, ok := a.GetResult(first.ID)
	require.True(t, ok)
	assert.Equal(t, 9.0, stored.Scores["total"].Value)
}

func TestResultsAnalyzer_DeleteResult(t *testing.T) {
	a, at := newTestAnalyzer(t, nil)
	session := completedSession(at, time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC), 1)
	result, err := a.AnalyzeSession(session)
	require.NoError(t, err)

	assert.True(t, a.DeleteResult(result.ID))
	assert.False(t, a.DeleteResult(result.ID))
	_, ok := a.GetResultBySession(session.ID)
	assert.False(t, ok)
}

func TestResultsAnalyzer_GetResultsByAssessmentType(t *testing.T) {
	at := moodCheckType()
	other := moodCheckType()
	other.ID = "mood-check-short"
	a := NewResultsAnalyzer(newTestBank(t, at, other), nil)
	defer a.Close()

	later := completedSession(at, time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC), 1)
	earlier := completedSession(at, time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC), 2)
	foreign := completedSession(other, time.Date(2024, 3, 5, 11, 0, 0, 0, time.UTC), 3)
	for _, s := range []*models.AssessmentSession{later, earlier, foreign} {
		_, err := a.AnalyzeSession(s)
		require.NoError(t, err)
	}

	results := a.GetResultsByAssessmentType("mood-check")
	require.Len(t, results, 2)
	assert.Equal(t, earlier.ID, results[0].SessionID)
	assert.Equal(t, later.ID, results[1].SessionID)
	assert.Len(t, a.GetAllResults(), 3)
}

func TestResultsAnalyzer_ExportResults(t *testing.T) {
	a, at := newTestAnalyzer(t, nil)
	session := completedSession(at, time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC), 2, 2, 1, 1, 2, 1, 1, 1, 1)
	result, err := a.AnalyzeSession(session)
	require.NoError(t, err)

	t.Run("JSON", func(t *testing.T) {
		data, contentType, err := a.ExportResults("json")
		require.NoError(t, err)
		assert.Equal(t, "application/json", contentType)
		var decoded []models.AssessmentResult
		require.NoError(t, json.Unmarshal(data, &decoded))
		require.Len(t, decoded, 1)
		assert.Equal(t, result.ID, decoded[0].ID)
		assert.Equal(t, 12.0, decoded[0].Scores["total"].Value)
	})

	t.Run("CSV", func(t *testing.T) {
		data, contentType, err := a.ExportResults("csv")
		require.NoError(t, err)
		assert.Equal(t, "text/csv", contentType)
		rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, csvHeader, rows[0])
		assert.Equal(t, []string{
			result.ID, session.ID, "mood-check", "2024-03-09T12:00:00Z", "medium",
			"total", "12", "Moderate", "medium", "240",
		}, rows[1])
	})

	t.Run("Unsupported format", func(t *testing.T) {
		_, _, err := a.ExportResults("xml")
		assert.True(t, errors.Is(err, models.ErrUnsupportedExportFormat))
	})
}

func TestResultsAnalyzer_PersistsAndRestores(t *testing.T) {
	store := repository.NewMemoryStorage(0)
	a, at := newTestAnalyzer(t, store)
	session := completedSession(at, time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC), 1, 2, 3)
	result, err := a.AnalyzeSession(session)
	require.NoError(t, err)
	a.Flush()

	// Add a record that cannot be decoded next to the valid one.
	records, err := store.Load(context.Background(), repository.BucketResults)
	require.NoError(t, err)
	require.Len(t, records, 1)
	records = append(records, repository.Record{ID: "broken", UpdatedAt: time.Now(), Payload: []byte("{not json")})
	require.NoError(t, store.Save(context.Background(), repository.BucketResults, records))

	restored, _ := newTestAnalyzer(t, store)
	n, err := restored.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, ok := restored.GetResultBySession(session.ID)
	require.True(t, ok)
	assert.Equal(t, result.ID, got.ID)
	assert.Equal(t, 6.0, got.Scores["total"].Value)
	assert.False(t, restored.Degraded())
}

func TestResultsAnalyzer_RestoreLoadFailure(t *testing.T) {
	store := new(MockStorage)
	store.On("Load", context.Background(), repository.BucketResults).
		Return(nil, &models.StorageError{Code: models.ErrCodeNotAvailable, Err: errors.New("locked")})

	a, _ := newTestAnalyzer(t, store)
	_, err := a.Restore(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrStorageNotAvailable))
}

func TestResultsAnalyzer_DegradedWithoutStorage(t *testing.T) {
	a, _ := newTestAnalyzer(t, nil)
	assert.True(t, a.Degraded())
	n, err := a.Restore(context.Background())
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestGenerateReport(t *testing.T) {
	clock := newFakeClock()
	a, at := newTestAnalyzer(t, nil, WithAnalyzerClock(clock.Now))

	first, err := a.AnalyzeSession(completedSession(at, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), 2, 2, 1, 1, 2, 1, 1, 1, 1))
	require.NoError(t, err)

	t.Run("Without history", func(t *testing.T) {
		report, err := a.GenerateReport(first.ID)
		require.NoError(t, err)
		assert.Equal(t, "Mood Check", report.AssessmentName)
		assert.Nil(t, report.Trend)
		require.Len(t, report.ScoreChart, 1)
		point := report.ScoreChart[0]
		assert.Equal(t, "total", point.RuleID)
		assert.Equal(t, "Total", point.Name)
		assert.Equal(t, 27.0, point.Max)
		assert.Equal(t, 44.4, point.Percentage)
		assert.Equal(t, 1, report.RiskDistribution[models.RiskMedium])
		assert.Equal(t, clock.Now(), report.GeneratedAt)
	})

	second, err := a.AnalyzeSession(completedSession(at, time.Date(2024, 3, 8, 11, 0, 0, 0, time.UTC), 1, 1, 1, 1, 1, 1, 1, 1, 0))
	require.NoError(t, err)

	t.Run("Improving against previous result", func(t *testing.T) {
		report, err := a.GenerateReport(second.ID)
		require.NoError(t, err)
		require.NotNil(t, report.Trend)
		assert.Equal(t, first.ID, report.Trend.PreviousResultID)
		assert.Equal(t, 2, report.Trend.HistoryCount)
		require.Len(t, report.Trend.Items, 1)
		item := report.Trend.Items[0]
		assert.Equal(t, 12.0, item.Previous)
		assert.Equal(t, 8.0, item.Current)
		assert.Equal(t, -4.0, item.Change)
		assert.Equal(t, models.TrendImproving, item.Direction)
	})

	t.Run("Earlier result has no trend", func(t *testing.T) {
		report, err := a.GenerateReport(first.ID)
		require.NoError(t, err)
		assert.Nil(t, report.Trend)
	})

	t.Run("Unknown result", func(t *testing.T) {
		_, err := a.GenerateReport("missing")
		assert.True(t, errors.Is(err, models.ErrResultNotFound))
	})
}

func TestCompareResults(t *testing.T) {
	rules := moodCheckType().ScoringRules
	result := func(id string, v float64) *models.AssessmentResult {
		return &models.AssessmentResult{ID: id, Scores: map[string]models.ScoreResult{"total": {Value: v}}}
	}

	// The stable band is 5% of the 0..27 span.
	tests := []struct {
		name      string
		prev, cur float64
		direction models.TrendDirection
	}{
		{"improving", 15, 10, models.TrendImproving},
		{"declining", 10, 15, models.TrendDeclining},
		{"stable within band", 10, 11, models.TrendStable},
		{"unchanged", 10, 10, models.TrendStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trend := compareResults(rules, result("prev", tt.prev), result("cur", tt.cur), 2)
			require.Len(t, trend.Items, 1)
			assert.Equal(t, tt.direction, trend.Items[0].Direction)
		})
	}
}

func TestGetAssessmentStatistics(t *testing.T) {
	clock := newFakeClock() // 2024-03-10 09:00 UTC
	a, at := newTestAnalyzer(t, nil, WithAnalyzerClock(clock.Now))

	sessions := []*models.AssessmentSession{
		completedSession(at, time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC), 2, 2, 1, 1, 2, 1, 1, 1, 1),
		completedSession(at, time.Date(2024, 2, 20, 13, 0, 0, 0, time.UTC), 3, 3, 3, 3, 3, 3, 3, 3, 3),
		completedSession(at, time.Date(2023, 12, 1, 14, 0, 0, 0, time.UTC), 0, 0, 0, 0, 0, 0, 0, 0, 0),
	}
	for _, s := range sessions {
		_, err := a.AnalyzeSession(s)
		require.NoError(t, err)
	}

	t.Run("Last 7 days", func(t *testing.T) {
		stats := a.GetAssessmentStatistics(PeriodLast7Days)
		assert.Equal(t, "2024-03-04", stats.ReportPeriod.StartDate)
		assert.Equal(t, "2024-03-10", stats.ReportPeriod.EndDate)
		assert.Equal(t, 1, stats.TotalResults)
		assert.Equal(t, 1, stats.RiskDistribution[models.RiskMedium])
		require.Contains(t, stats.ByType, "mood-check")
		assert.Equal(t, 12.0, stats.ByType["mood-check"].AverageScores["total"])
		assert.Equal(t, 4*time.Minute, stats.AverageTimeSpent)
		require.NotNil(t, stats.LastCompletedAt)
		assert.Equal(t, sessions[0].CompletedAt.UTC(), stats.LastCompletedAt.UTC())
	})

	t.Run("Last 30 days", func(t *testing.T) {
		stats := a.GetAssessmentStatistics(PeriodLast30Days)
		assert.Equal(t, "2024-02-10", stats.ReportPeriod.StartDate)
		assert.Equal(t, 2, stats.TotalResults)
		assert.Equal(t, 1, stats.RiskDistribution[models.RiskHigh])
		assert.Equal(t, 19.5, stats.ByType["mood-check"].AverageScores["total"])
	})

	t.Run("All", func(t *testing.T) {
		stats := a.GetAssessmentStatistics(PeriodAll)
		assert.Empty(t, stats.ReportPeriod.StartDate)
		assert.Equal(t, PeriodAll, stats.ReportPeriod.PeriodType)
		assert.Equal(t, 3, stats.TotalResults)
		assert.Equal(t, 3, stats.ByType["mood-check"].Count)
		assert.Equal(t, 13.0, stats.ByType["mood-check"].AverageScores["total"])
		assert.Equal(t, map[models.RiskLevel]int{models.RiskLow: 1, models.RiskMedium: 1, models.RiskHigh: 1}, stats.RiskDistribution)
	})

	t.Run("Unknown period falls back to last 7 days", func(t *testing.T) {
		stats := a.GetAssessmentStatistics("fortnight")
		assert.Equal(t, PeriodLast7Days, stats.ReportPeriod.PeriodType)
		assert.Equal(t, 1, stats.TotalResults)
	})
}
