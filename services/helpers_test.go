package services

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mindscreen/models"
	"mindscreen/repository"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// manualScheduler fires callbacks only when the test advances it.
type manualScheduler struct {
	mu     sync.Mutex
	clock  *fakeClock
	next   TimerHandle
	timers map[TimerHandle]*manualTimer
}

type manualTimer struct {
	handle TimerHandle
	due    time.Time
	fn     func()
}

func newManualScheduler(clock *fakeClock) *manualScheduler {
	return &manualScheduler{clock: clock, timers: make(map[TimerHandle]*manualTimer)}
}

func (s *manualScheduler) Schedule(delay time.Duration, fn func()) TimerHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.timers[s.next] = &manualTimer{handle: s.next, due: s.clock.Now().Add(delay), fn: fn}
	return s.next
}

func (s *manualScheduler) Cancel(h TimerHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timers, h)
}

func (s *manualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Advance moves the clock forward and runs every timer that became due, in due order.
// Callbacks run without the scheduler lock so they may schedule again.
func (s *manualScheduler) Advance(d time.Duration) {
	s.clock.Add(d)
	for {
		now := s.clock.Now()
		s.mu.Lock()
		var due []*manualTimer
		for _, t := range s.timers {
			if !t.due.After(now) {
				due = append(due, t)
			}
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].due.Equal(due[j].due) {
				return due[i].handle < due[j].handle
			}
			return due[i].due.Before(due[j].due)
		})
		if len(due) == 0 {
			s.mu.Unlock()
			return
		}
		first := due[0]
		delete(s.timers, first.handle)
		s.mu.Unlock()
		first.fn()
	}
}

// MockStorage is a mock type for the repository.Storage interface.
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Save(ctx context.Context, bucket string, records []repository.Record) error {
	args := m.Called(ctx, bucket, records)
	return args.Error(0)
}

func (m *MockStorage) Load(ctx context.Context, bucket string) ([]repository.Record, error) {
	args := m.Called(ctx, bucket)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.Record), args.Error(1)
}

func (m *MockStorage) Quota(ctx context.Context) (repository.QuotaInfo, error) {
	args := m.Called(ctx)
	return args.Get(0).(repository.QuotaInfo), args.Error(1)
}

func scaleQuestion(id, text string, required bool) models.AssessmentQuestion {
	return models.AssessmentQuestion{
		ID:           id,
		Text:         text,
		QuestionType: models.QuestionTypeScale,
		IsRequired:   required,
		ScaleMin:     0,
		ScaleMax:     3,
		Options: []models.QuestionOption{
			{ID: "0", Text: "Not at all", Value: 0},
			{ID: "1", Text: "Several days", Value: 1},
			{ID: "2", Text: "More than half the days", Value: 2},
			{ID: "3", Text: "Nearly every day", Value: 3},
		},
	}
}

// moodCheckType is a nine-question sum scale with PHQ-9 style bands and a single rule.
func moodCheckType() *models.AssessmentType {
	t := &models.AssessmentType{
		ID:           "mood-check",
		Name:         "Mood Check",
		Description:  "Nine questions about the last two weeks.",
		Category:     models.CategoryDepression,
		BaseLanguage: "en",
		Version:      "1.0.0",
		ScoringRules: []models.ScoringRule{{
			ID:          "total",
			Name:        "Total",
			Calculation: models.CalculationSum,
			Ranges: []models.ScoreRange{
				{Min: 0, Max: 4, Label: "Minimal", Description: "Minimal symptoms.", RiskLevel: models.RiskLow},
				{Min: 5, Max: 9, Label: "Mild", Description: "Mild symptoms.", RiskLevel: models.RiskLow},
				{Min: 10, Max: 14, Label: "Moderate", Description: "Moderate symptoms.", RiskLevel: models.RiskMedium},
				{Min: 15, Max: 19, Label: "Moderately severe", Description: "Moderately severe symptoms.", RiskLevel: models.RiskHigh},
				{Min: 20, Max: 27, Label: "Severe", Description: "Severe symptoms.", RiskLevel: models.RiskHigh},
			},
		}},
	}
	for i := 1; i <= 9; i++ {
		id := "q" + strconv.Itoa(i)
		t.Questions = append(t.Questions, scaleQuestion(id, "Question "+id, true))
		t.ScoringRules[0].QuestionIDs = append(t.ScoringRules[0].QuestionIDs, id)
	}
	return t
}

func newTestBank(t *testing.T, types ...*models.AssessmentType) QuestionBankManager {
	t.Helper()
	bank := NewQuestionBankManager()
	for _, at := range types {
		require.NoError(t, bank.AddAssessmentType(at))
	}
	return bank
}

// completedSession builds a completed session answering the type's questions in order.
func completedSession(at *models.AssessmentType, completedAt time.Time, values ...float64) *models.AssessmentSession {
	s := &models.AssessmentSession{
		ID:                   "session-" + completedAt.Format("150405.000000000"),
		AssessmentTypeID:     at.ID,
		StartedAt:            completedAt.Add(-5 * time.Minute),
		TotalQuestions:       len(at.Questions),
		CurrentQuestionIndex: len(at.Questions),
		Status:               models.SessionStatusCompleted,
		Language:             "en",
		LastActivityAt:       completedAt,
		TimeSpent:            4 * time.Minute,
		CompletedAt:          &completedAt,
	}
	for i, v := range values {
		s.Answers = append(s.Answers, models.AssessmentAnswer{
			QuestionID: at.Questions[i].ID,
			Value:      models.NumberValue(v),
			AnsweredAt: completedAt,
		})
	}
	return s
}
