package models

import (
	"time"
)

// SessionStatus defines the status of an assessment session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"    // Questions are being answered
	SessionStatusPaused    SessionStatus = "paused"    // Paused explicitly or by the inactivity timeout
	SessionStatusCompleted SessionStatus = "completed" // Every question has been passed
	SessionStatusAbandoned SessionStatus = "abandoned" // Given up by the user
)

// IsTerminal reports whether no further answers can be accepted.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusAbandoned
}

// AssessmentSession is one attempt at an assessment type. Only the engine mutates it;
// everything handed out is a Clone.
type AssessmentSession struct {
	ID                   string             `json:"id"`
	AssessmentTypeID     string             `json:"assessment_type_id"`
	StartedAt            time.Time          `json:"started_at"`
	CurrentQuestionIndex int                `json:"current_question_index"`
	TotalQuestions       int                `json:"total_questions"`
	Answers              []AssessmentAnswer `json:"answers"`
	Status               SessionStatus      `json:"status"`
	Language             string             `json:"language"`
	CulturalContext      string             `json:"cultural_context,omitempty"`
	TimeSpent            time.Duration      `json:"time_spent"`
	LastActivityAt       time.Time          `json:"last_activity_at"`
	CompletedAt          *time.Time         `json:"completed_at,omitempty"`
	Revision             int64              `json:"revision"` // Bumped on every mutation; last write wins in storage
}

// Answer returns the stored answer for a question.
func (s *AssessmentSession) Answer(questionID string) (AssessmentAnswer, bool) {
	for _, a := range s.Answers {
		if a.QuestionID == questionID {
			return a, true
		}
	}
	return AssessmentAnswer{}, false
}

// UpsertAnswer replaces the answer for the same question or appends a new one.
func (s *AssessmentSession) UpsertAnswer(answer AssessmentAnswer) {
	for i, a := range s.Answers {
		if a.QuestionID == answer.QuestionID {
			s.Answers[i] = answer
			return
		}
	}
	s.Answers = append(s.Answers, answer)
}

// Clone returns a deep copy of the session.
func (s *AssessmentSession) Clone() *AssessmentSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Answers = append([]AssessmentAnswer(nil), s.Answers...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Progress describes how far a session has advanced.
type Progress struct {
	SessionID          string        `json:"session_id"`
	Current            int           `json:"current"`
	Total              int           `json:"total"`
	Answered           int           `json:"answered"`
	Percentage         float64       `json:"percentage"`
	Elapsed            time.Duration `json:"elapsed"`
	EstimatedRemaining time.Duration `json:"estimated_remaining"`
}

// SessionStatistics summarises the engine's session table.
type SessionStatistics struct {
	Total                 int                   `json:"total"`
	ByStatus              map[SessionStatus]int `json:"by_status"`
	ByAssessmentType      map[string]int        `json:"by_assessment_type"`
	CompletionRate        float64               `json:"completion_rate"`
	AverageCompletionTime time.Duration         `json:"average_completion_time"`
	AverageTimeSpent      time.Duration         `json:"average_time_spent"`
}

// HealthReport is returned by the engine's health check.
type HealthReport struct {
	Healthy        bool      `json:"healthy"`
	CheckedAt      time.Time `json:"checked_at"`
	Sessions       int       `json:"sessions"`
	ActiveSessions int       `json:"active_sessions"`
	ArmedTimers    int       `json:"armed_timers"`
	StorageOK      bool      `json:"storage_ok"`
	Degraded       bool      `json:"degraded"`
	QuotaUsedBytes int64     `json:"quota_used_bytes"`
	QuotaLimit     int64     `json:"quota_limit_bytes"`
	Issues         []string  `json:"issues,omitempty"`
}
