package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"mindscreen/models"
	"mindscreen/repository"
	"mindscreen/utils"
)

const (
	DefaultInactivityTimeout  = 30 * time.Minute
	DefaultAutoSaveInterval   = 30 * time.Second
	DefaultSecondsPerQuestion = 30
	DefaultLanguage           = "en"
)

// EngineOption configures an AssessmentEngine.
type EngineOption func(*AssessmentEngine)

// WithScheduler replaces the runtime timer scheduler.
func WithScheduler(s Scheduler) EngineOption {
	return func(e *AssessmentEngine) { e.scheduler = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *AssessmentEngine) { e.now = now }
}

// WithInactivityTimeout sets how long an active session may sit idle before it is paused.
func WithInactivityTimeout(d time.Duration) EngineOption {
	return func(e *AssessmentEngine) { e.inactivityTimeout = d }
}

// WithAutoSaveInterval sets the period of the full-table save. Zero disables it.
func WithAutoSaveInterval(d time.Duration) EngineOption {
	return func(e *AssessmentEngine) { e.autoSaveInterval = d }
}

// WithSecondsPerQuestion sets the time estimate used before any question is answered.
func WithSecondsPerQuestion(n int) EngineOption {
	return func(e *AssessmentEngine) { e.secondsPerQuestion = n }
}

// WithDefaultLanguage sets the language used when StartAssessment gets none.
func WithDefaultLanguage(lang string) EngineOption {
	return func(e *AssessmentEngine) { e.defaultLanguage = lang }
}

// WithReminderNotifier is called with a copy of the session when one of its reminders fires.
func WithReminderNotifier(fn func(session *models.AssessmentSession)) EngineOption {
	return func(e *AssessmentEngine) { e.onReminder = fn }
}

// WithWarningHandler receives storage warnings, e.g. the switch to memory-only mode.
func WithWarningHandler(fn func(msg string)) EngineOption {
	return func(e *AssessmentEngine) { e.onWarning = fn }
}

// WithEnginePersistence tunes the recovery policy of the session writer.
func WithEnginePersistence(opts PersistenceOptions) EngineOption {
	return func(e *AssessmentEngine) { e.persistence = opts }
}

// SubmitResult is the outcome of SubmitAnswer. A rejected answer leaves the session untouched.
type SubmitResult struct {
	Accepted     bool                       `json:"accepted"`
	Validation   models.ValidationResult    `json:"validation"`
	NextQuestion *models.AssessmentQuestion `json:"next_question,omitempty"`
	Completed    bool                       `json:"completed"`
	Result       *models.AssessmentResult   `json:"result,omitempty"`
	Session      *models.AssessmentSession  `json:"session"`
}

type sessionEntry struct {
	session       *models.AssessmentSession
	questions     []models.AssessmentQuestion // resolved for the session's language and context
	inactivity    TimerHandle
	inactivityTok uint64
	reminder      TimerHandle
	reminderTok   uint64
}

// AssessmentEngine owns the session table. Every exported method runs atomically
// under one lock, and timer callbacks take the same lock.
type AssessmentEngine struct {
	mu       sync.Mutex
	bank     QuestionBankManager
	analyzer SessionAnalyzer
	storage  repository.Storage
	writer   *SnapshotWriter

	scheduler          Scheduler
	now                func() time.Time
	inactivityTimeout  time.Duration
	autoSaveInterval   time.Duration
	secondsPerQuestion int
	defaultLanguage    string
	persistence        PersistenceOptions
	onReminder         func(*models.AssessmentSession)
	onWarning          func(string)

	sessions    map[string]*sessionEntry
	autoSave    TimerHandle
	autoSaveTok uint64
	tokens      uint64
	closed      bool
}

// NewAssessmentEngine creates the engine and arms the auto-save timer. A nil analyzer
// completes sessions without producing results; a nil storage runs memory-only.
func NewAssessmentEngine(bank QuestionBankManager, analyzer SessionAnalyzer, storage repository.Storage, opts ...EngineOption) (*AssessmentEngine, error) {
	if bank == nil {
		return nil, &models.SessionError{Code: models.ErrCodeEnvironmentNotSupported, Message: "a question bank is required"}
	}
	e := &AssessmentEngine{
		bank:               bank,
		analyzer:           analyzer,
		storage:            storage,
		now:                time.Now,
		inactivityTimeout:  DefaultInactivityTimeout,
		autoSaveInterval:   DefaultAutoSaveInterval,
		secondsPerQuestion: DefaultSecondsPerQuestion,
		defaultLanguage:    DefaultLanguage,
		sessions:           make(map[string]*sessionEntry),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.scheduler == nil {
		e.scheduler = NewScheduler()
	}
	if e.inactivityTimeout <= 0 {
		return nil, &models.SessionError{Code: models.ErrCodeEnvironmentNotSupported, Message: "inactivity timeout must be positive"}
	}

	if storage != nil {
		persistence := e.persistence
		userWarning := persistence.OnWarning
		persistence.OnWarning = func(msg string) {
			if userWarning != nil {
				userWarning(msg)
			}
			e.warn(msg)
		}
		e.writer = NewSnapshotWriter(storage, repository.BucketSessions, persistence)
	} else {
		e.warn("no storage configured; sessions are kept in memory only")
	}

	e.mu.Lock()
	e.armAutoSaveLocked()
	e.mu.Unlock()
	log.Printf("INFO: [AssessmentEngine] Initialized (inactivity timeout %s, auto-save every %s).", e.inactivityTimeout, e.autoSaveInterval)
	return e, nil
}

func (e *AssessmentEngine) warn(msg string) {
	log.Printf("WARN: [AssessmentEngine] %s", msg)
	if e.onWarning != nil {
		e.onWarning(msg)
	}
}

func (e *AssessmentEngine) nextToken() uint64 {
	e.tokens++
	return e.tokens
}

func (e *AssessmentEngine) checkOpenLocked() error {
	if e.closed {
		return &models.SessionError{Code: models.ErrCodeEnvironmentNotSupported, Message: "engine is closed"}
	}
	return nil
}

// lookupLocked returns the entry of sessionID or a SESSION_NOT_FOUND error.
func (e *AssessmentEngine) lookupLocked(sessionID string) (*sessionEntry, error) {
	if err := e.checkOpenLocked(); err != nil {
		return nil, err
	}
	entry, ok := e.sessions[sessionID]
	if !ok {
		return nil, models.NewSessionError(models.ErrCodeSessionNotFound, sessionID, "")
	}
	return entry, nil
}

// requireActive rejects mutations of sessions that are not active.
func requireActive(entry *sessionEntry) error {
	switch entry.session.Status {
	case models.SessionStatusActive:
		return nil
	case models.SessionStatusCompleted:
		return models.NewSessionError(models.ErrCodeSessionAlreadyCompleted, entry.session.ID, "")
	}
	return models.NewSessionError(models.ErrCodeSessionNotActive, entry.session.ID, fmt.Sprintf("session is %s", entry.session.Status))
}

func (e *AssessmentEngine) activeSessionForTypeLocked(typeID, exceptID string) *sessionEntry {
	for id, entry := range e.sessions {
		if id != exceptID && entry.session.AssessmentTypeID == typeID && entry.session.Status == models.SessionStatusActive {
			return entry
		}
	}
	return nil
}

// StartAssessment creates a session at the first question. At most one session per
// assessment type can be active.
func (e *AssessmentEngine) StartAssessment(typeID, language, culturalContext string) (*models.AssessmentSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpenLocked(); err != nil {
		return nil, err
	}
	if language == "" {
		language = e.defaultLanguage
	}

	t, err := e.bank.Resolve(typeID, language, culturalContext)
	if err != nil {
		log.Printf("WARN: [AssessmentEngine] Cannot start assessment '%s': %v", typeID, err)
		return nil, &models.SessionError{Code: models.ErrCodeAssessmentTypeNotFound, AssessmentTypeID: typeID}
	}
	if existing := e.activeSessionForTypeLocked(typeID, ""); existing != nil {
		return nil, &models.SessionError{
			Code:             models.ErrCodeSessionAlreadyExists,
			SessionID:        existing.session.ID,
			AssessmentTypeID: typeID,
			Message:          "an active session already exists for this assessment type",
		}
	}

	now := e.now()
	session := &models.AssessmentSession{
		ID:               utils.GenerateID(),
		AssessmentTypeID: typeID,
		StartedAt:        now,
		TotalQuestions:   len(t.Questions),
		Answers:          []models.AssessmentAnswer{},
		Status:           models.SessionStatusActive,
		Language:         language,
		CulturalContext:  culturalContext,
		LastActivityAt:   now,
		Revision:         1,
	}
	entry := &sessionEntry{session: session, questions: t.Questions}
	e.sessions[session.ID] = entry
	e.armInactivityLocked(entry)
	e.persistLocked()

	log.Printf("INFO: [AssessmentEngine] Started session '%s' for '%s' (%d questions, language %s).", session.ID, typeID, session.TotalQuestions, language)
	return session.Clone(), nil
}

// ResumeAssessment reactivates a paused session and restarts its inactivity timer.
func (e *AssessmentEngine) ResumeAssessment(sessionID string) (*models.AssessmentSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, err := e.lookupLocked(sessionID)
	if err != nil {
		return nil, err
	}
	s := entry.session
	switch s.Status {
	case models.SessionStatusCompleted:
		return nil, models.NewSessionError(models.ErrCodeSessionAlreadyCompleted, sessionID, "")
	case models.SessionStatusAbandoned:
		return nil, models.NewSessionError(models.ErrCodeSessionNotActive, sessionID, "session was abandoned")
	case models.SessionStatusActive:
		e.touchLocked(entry)
		e.armInactivityLocked(entry)
		return s.Clone(), nil
	}
	if other := e.activeSessionForTypeLocked(s.AssessmentTypeID, s.ID); other != nil {
		return nil, &models.SessionError{
			Code:             models.ErrCodeSessionAlreadyExists,
			SessionID:        other.session.ID,
			AssessmentTypeID: s.AssessmentTypeID,
			Message:          "another session of this assessment type is active",
		}
	}

	s.Status = models.SessionStatusActive
	s.LastActivityAt = e.now()
	s.Revision++
	e.armInactivityLocked(entry)
	e.persistLocked()
	log.Printf("INFO: [AssessmentEngine] Resumed session '%s'.", sessionID)
	return s.Clone(), nil
}

// PauseAssessment pauses an active session. It returns false for unknown or inactive sessions.
func (e *AssessmentEngine) PauseAssessment(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, err := e.lookupLocked(sessionID)
	if err != nil || entry.session.Status != models.SessionStatusActive {
		return false
	}
	e.pauseLocked(entry)
	log.Printf("INFO: [AssessmentEngine] Paused session '%s'.", sessionID)
	return true
}

func (e *AssessmentEngine) pauseLocked(entry *sessionEntry) {
	e.accrueLocked(entry)
	e.cancelInactivityLocked(entry)
	entry.session.Status = models.SessionStatusPaused
	entry.session.Revision++
	e.persistLocked()
}

// GetCurrentQuestion returns the question at the session's index, or nil when the
// session is unknown or past its last question.
func (e *AssessmentEngine) GetCurrentQuestion(sessionID string) *models.AssessmentQuestion {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, err := e.lookupLocked(sessionID)
	if err != nil {
		return nil
	}
	return e.questionAtLocked(entry, entry.session.CurrentQuestionIndex)
}

func (e *AssessmentEngine) questionAtLocked(entry *sessionEntry, index int) *models.AssessmentQuestion {
	questions := e.questionsLocked(entry)
	if index < 0 || index >= len(questions) {
		return nil
	}
	q := questions[index]
	return &q
}

// questionsLocked returns the session's resolved questions, resolving them again
// for sessions restored from storage.
func (e *AssessmentEngine) questionsLocked(entry *sessionEntry) []models.AssessmentQuestion {
	if entry.questions == nil {
		s := entry.session
		qs, err := e.bank.GetQuestions(s.AssessmentTypeID, s.Language, s.CulturalContext)
		if err != nil {
			log.Printf("WARN: [AssessmentEngine] Questions of session '%s' are unavailable: %v", s.ID, err)
			return nil
		}
		if len(qs) != s.TotalQuestions {
			log.Printf("WARN: [AssessmentEngine] Assessment '%s' now has %d questions; session '%s' was started with %d.", s.AssessmentTypeID, len(qs), s.ID, s.TotalQuestions)
		}
		entry.questions = qs
	}
	return entry.questions
}

// SubmitAnswer validates value against the current question. Accepted answers replace
// any earlier answer to that question and advance the index; answering the last
// question completes the session and hands it to the analyzer.
func (e *AssessmentEngine) SubmitAnswer(sessionID string, value models.AnswerValue) (*SubmitResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, err := e.lookupLocked(sessionID)
	if err != nil {
		return nil, err
	}
	if err := requireActive(entry); err != nil {
		return nil, err
	}
	s := entry.session
	if len(e.questionsLocked(entry)) == 0 {
		return nil, &models.SessionError{
			Code:             models.ErrCodeAssessmentTypeNotFound,
			SessionID:        sessionID,
			AssessmentTypeID: s.AssessmentTypeID,
			Message:          "questions of this assessment are no longer available",
		}
	}
	q := e.questionAtLocked(entry, s.CurrentQuestionIndex)
	if q == nil {
		return nil, models.NewSessionError(models.ErrCodeSessionAlreadyCompleted, sessionID, "no question left to answer")
	}

	validation := ValidateAnswer(q, value)
	if !validation.Valid {
		log.Printf("INFO: [AssessmentEngine] Rejected answer for question '%s' of session '%s': %s", q.ID, sessionID, validation.Errors[0].Code)
		return &SubmitResult{Accepted: false, Validation: validation, NextQuestion: q, Session: s.Clone()}, nil
	}

	e.accrueLocked(entry)
	now := s.LastActivityAt
	if value.IsEmpty() {
		removeAnswer(s, q.ID)
	} else {
		s.UpsertAnswer(models.AssessmentAnswer{QuestionID: q.ID, Value: value, AnsweredAt: now})
	}
	s.CurrentQuestionIndex++
	s.Revision++

	res := &SubmitResult{Accepted: true, Validation: validation}
	if s.CurrentQuestionIndex >= s.TotalQuestions {
		if missing := e.firstUnansweredRequiredLocked(entry); missing >= 0 {
			// Questions skipped with GoToQuestion must be answered before completion.
			s.CurrentQuestionIndex = missing
			log.Printf("INFO: [AssessmentEngine] Session '%s' reached the end with required question %d unanswered.", sessionID, missing)
		} else {
			e.completeLocked(entry)
			res.Completed = true
		}
	}
	if !res.Completed {
		res.NextQuestion = e.questionAtLocked(entry, s.CurrentQuestionIndex)
		e.armInactivityLocked(entry)
	}
	e.persistLocked()

	if res.Completed && e.analyzer != nil {
		result, err := e.analyzer.AnalyzeSession(s.Clone())
		if err != nil {
			log.Printf("ERROR: [AssessmentEngine] Failed to analyze completed session '%s': %v", sessionID, err)
		} else {
			res.Result = result
		}
	}
	res.Session = s.Clone()
	return res, nil
}

func removeAnswer(s *models.AssessmentSession, questionID string) {
	for i, a := range s.Answers {
		if a.QuestionID == questionID {
			s.Answers = append(s.Answers[:i], s.Answers[i+1:]...)
			return
		}
	}
}

func (e *AssessmentEngine) firstUnansweredRequiredLocked(entry *sessionEntry) int {
	for i, q := range e.questionsLocked(entry) {
		if !q.IsRequired {
			continue
		}
		if _, ok := entry.session.Answer(q.ID); !ok {
			return i
		}
	}
	return -1
}

func (e *AssessmentEngine) completeLocked(entry *sessionEntry) {
	s := entry.session
	s.Status = models.SessionStatusCompleted
	s.CurrentQuestionIndex = s.TotalQuestions
	completedAt := s.LastActivityAt
	s.CompletedAt = &completedAt
	e.cancelTimersLocked(entry)
	log.Printf("INFO: [AssessmentEngine] Session '%s' completed (%d answers, %s spent).", s.ID, len(s.Answers), s.TimeSpent)
}

// GoToPreviousQuestion moves back one question. At the first question it is a no-op.
func (e *AssessmentEngine) GoToPreviousQuestion(sessionID string) (*models.AssessmentQuestion, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, err := e.lookupLocked(sessionID)
	if err != nil {
		return nil, err
	}
	if err := requireActive(entry); err != nil {
		return nil, err
	}
	s := entry.session
	if s.CurrentQuestionIndex > 0 {
		e.accrueLocked(entry)
		s.CurrentQuestionIndex--
		s.Revision++
		e.armInactivityLocked(entry)
		e.persistLocked()
	}
	return e.questionAtLocked(entry, s.CurrentQuestionIndex), nil
}

// GoToQuestion moves to any question in [0, TotalQuestions-1]. Earlier answers are kept
// as they are.
func (e *AssessmentEngine) GoToQuestion(sessionID string, index int) (*models.AssessmentQuestion, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, err := e.lookupLocked(sessionID)
	if err != nil {
		return nil, err
	}
	if err := requireActive(entry); err != nil {
		return nil, err
	}
	s := entry.session
	if index < 0 || index >= s.TotalQuestions {
		return nil, fmt.Errorf("%w: %d not in [0, %d]", models.ErrQuestionIndexOutOfRange, index, s.TotalQuestions-1)
	}
	if index != s.CurrentQuestionIndex {
		e.accrueLocked(entry)
		s.CurrentQuestionIndex = index
		s.Revision++
		e.armInactivityLocked(entry)
		e.persistLocked()
	}
	return e.questionAtLocked(entry, index), nil
}

// GetProgress reports position, elapsed time and an estimate of the remaining time.
func (e *AssessmentEngine) GetProgress(sessionID string) (*models.Progress, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, err := e.lookupLocked(sessionID)
	if err != nil {
		return nil, err
	}
	s := entry.session
	elapsed := s.TimeSpent
	if s.Status == models.SessionStatusActive {
		elapsed += e.idleSinceLocked(s)
	}

	p := &models.Progress{
		SessionID: s.ID,
		Current:   s.CurrentQuestionIndex,
		Total:     s.TotalQuestions,
		Answered:  len(s.Answers),
		Elapsed:   elapsed,
	}
	if s.TotalQuestions > 0 {
		p.Percentage = float64(s.CurrentQuestionIndex) / float64(s.TotalQuestions) * 100
	}
	remaining := s.TotalQuestions - s.CurrentQuestionIndex
	if remaining > 0 {
		perQuestion := time.Duration(e.secondsPerQuestion) * time.Second
		if len(s.Answers) > 0 {
			perQuestion = elapsed / time.Duration(len(s.Answers))
		}
		p.EstimatedRemaining = perQuestion * time.Duration(remaining)
	}
	return p, nil
}

// GetSession returns a copy of one session.
func (e *AssessmentEngine) GetSession(sessionID string) (*models.AssessmentSession, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return entry.session.Clone(), true
}

// GetSessions returns copies of every session, oldest first.
func (e *AssessmentEngine) GetSessions() []*models.AssessmentSession {
	return e.collect(func(*models.AssessmentSession) bool { return true })
}

// GetActiveSessions returns copies of the active sessions, oldest first.
func (e *AssessmentEngine) GetActiveSessions() []*models.AssessmentSession {
	return e.collect(func(s *models.AssessmentSession) bool { return s.Status == models.SessionStatusActive })
}

func (e *AssessmentEngine) collect(keep func(*models.AssessmentSession) bool) []*models.AssessmentSession {
	e.mu.Lock()
	out := make([]*models.AssessmentSession, 0, len(e.sessions))
	for _, entry := range e.sessions {
		if keep(entry.session) {
			out = append(out, entry.session.Clone())
		}
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// DeleteSession removes a session in any state and cancels its timers.
func (e *AssessmentEngine) DeleteSession(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, err := e.lookupLocked(sessionID)
	if err != nil {
		return false
	}
	e.cancelTimersLocked(entry)
	delete(e.sessions, sessionID)
	e.persistLocked()
	log.Printf("INFO: [AssessmentEngine] Deleted session '%s'.", sessionID)
	return true
}

// AbandonSession gives up an active or paused session. Completed sessions keep their state.
func (e *AssessmentEngine) AbandonSession(sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, err := e.lookupLocked(sessionID)
	if err != nil {
		return err
	}
	s := entry.session
	switch s.Status {
	case models.SessionStatusCompleted:
		return models.NewSessionError(models.ErrCodeSessionAlreadyCompleted, sessionID, "")
	case models.SessionStatusAbandoned:
		return nil
	}
	e.accrueLocked(entry)
	e.cancelTimersLocked(entry)
	s.Status = models.SessionStatusAbandoned
	s.Revision++
	e.persistLocked()
	log.Printf("INFO: [AssessmentEngine] Abandoned session '%s'.", sessionID)
	return nil
}

// ClearAllSessions deletes every session and returns how many there were.
func (e *AssessmentEngine) ClearAllSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.sessions)
	for _, entry := range e.sessions {
		e.cancelTimersLocked(entry)
	}
	e.sessions = make(map[string]*sessionEntry)
	e.persistLocked()
	log.Printf("INFO: [AssessmentEngine] Cleared %d sessions.", n)
	return n
}

// GetSessionStatistics summarises the session table.
func (e *AssessmentEngine) GetSessionStatistics() models.SessionStatistics {
	e.mu.Lock()
	defer e.mu.Unlock()
	stats := models.SessionStatistics{
		Total:            len(e.sessions),
		ByStatus:         map[models.SessionStatus]int{},
		ByAssessmentType: map[string]int{},
	}
	var completionTotal, timeTotal time.Duration
	for _, entry := range e.sessions {
		s := entry.session
		stats.ByStatus[s.Status]++
		stats.ByAssessmentType[s.AssessmentTypeID]++
		timeTotal += s.TimeSpent
		if s.Status == models.SessionStatusCompleted && s.CompletedAt != nil {
			completionTotal += s.CompletedAt.Sub(s.StartedAt)
		}
	}
	if completed := stats.ByStatus[models.SessionStatusCompleted]; completed > 0 {
		stats.AverageCompletionTime = completionTotal / time.Duration(completed)
	}
	if stats.Total > 0 {
		stats.CompletionRate = float64(stats.ByStatus[models.SessionStatusCompleted]) / float64(stats.Total)
		stats.AverageTimeSpent = timeTotal / time.Duration(stats.Total)
	}
	return stats
}

// PerformHealthCheck inspects timers, storage reachability and quota.
func (e *AssessmentEngine) PerformHealthCheck(ctx context.Context) models.HealthReport {
	e.mu.Lock()
	report := models.HealthReport{CheckedAt: e.now(), Sessions: len(e.sessions)}
	for _, entry := range e.sessions {
		if entry.inactivity != 0 {
			report.ArmedTimers++
		}
		if entry.reminder != 0 {
			report.ArmedTimers++
		}
		if entry.session.Status == models.SessionStatusActive {
			report.ActiveSessions++
			if entry.inactivity == 0 {
				report.Issues = append(report.Issues, fmt.Sprintf("active session %s has no inactivity timer", entry.session.ID))
			}
		}
	}
	if e.autoSave != 0 {
		report.ArmedTimers++
	}
	if e.closed {
		report.Issues = append(report.Issues, "engine is closed")
	}
	storage, writer := e.storage, e.writer
	e.mu.Unlock()

	if storage == nil {
		report.Degraded = true
		report.Issues = append(report.Issues, "no storage configured; running in memory-only mode")
	} else {
		quota, err := storage.Quota(ctx)
		if err != nil {
			report.Issues = append(report.Issues, fmt.Sprintf("storage unavailable: %v", err))
		} else {
			report.StorageOK = true
			report.QuotaUsedBytes, report.QuotaLimit = quota.Used, quota.Limit
			if quota.Limit > 0 && float64(quota.Used) >= 0.9*float64(quota.Limit) {
				report.Issues = append(report.Issues, fmt.Sprintf("storage quota nearly exhausted (%d of %d bytes)", quota.Used, quota.Limit))
			}
		}
		if writer.Degraded() {
			report.Degraded = true
			report.Issues = append(report.Issues, fmt.Sprintf("last session save failed: %v", writer.LastError()))
		}
	}
	report.Healthy = len(report.Issues) == 0
	return report
}

// Restore loads persisted sessions. Corrupt records are skipped; a stored session
// replaces an in-memory one only when its revision is higher. Active sessions get a
// fresh inactivity timer.
func (e *AssessmentEngine) Restore(ctx context.Context) (int, error) {
	if e.storage == nil {
		return 0, nil
	}
	records, err := e.storage.Load(ctx, repository.BucketSessions)
	if err != nil {
		log.Printf("ERROR: [AssessmentEngine] Failed to load sessions: %v", err)
		return 0, fmt.Errorf("failed to load sessions: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpenLocked(); err != nil {
		return 0, err
	}
	loaded := make(map[string]*sessionEntry)
	for _, rec := range records {
		s := new(models.AssessmentSession)
		if err := json.Unmarshal(rec.Payload, s); err != nil || !restorable(s) {
			log.Printf("WARN: [AssessmentEngine] Skipping corrupt session record '%s': %v", rec.ID, err)
			continue
		}
		if current, ok := e.sessions[s.ID]; ok && current.session.Revision >= s.Revision {
			continue
		} else if ok {
			e.cancelTimersLocked(current)
		}
		if s.Status == models.SessionStatusActive {
			if other := e.activeSessionForTypeLocked(s.AssessmentTypeID, s.ID); other != nil {
				// Keep the most recently used one active.
				switch {
				case other.session.LastActivityAt.After(s.LastActivityAt):
					s.Status = models.SessionStatusPaused
					s.Revision++
				case loaded[other.session.ID] != nil:
					other.session.Status = models.SessionStatusPaused
					other.session.Revision++
				default:
					e.pauseLocked(other)
				}
			}
		}
		entry := &sessionEntry{session: s}
		e.sessions[s.ID] = entry
		loaded[s.ID] = entry
	}

	// Idle time before the restart does not count as time spent.
	now := e.now()
	for _, entry := range loaded {
		if entry.session.Status == models.SessionStatusActive {
			entry.session.LastActivityAt = now
			e.armInactivityLocked(entry)
		}
	}
	restored := len(loaded)
	if restored > 0 {
		e.persistLocked()
	}
	log.Printf("INFO: [AssessmentEngine] Restored %d of %d persisted sessions.", restored, len(records))
	return restored, nil
}

func restorable(s *models.AssessmentSession) bool {
	if s.ID == "" || s.AssessmentTypeID == "" || s.TotalQuestions <= 0 {
		return false
	}
	if s.CurrentQuestionIndex < 0 || s.CurrentQuestionIndex > s.TotalQuestions {
		return false
	}
	switch s.Status {
	case models.SessionStatusActive, models.SessionStatusPaused, models.SessionStatusAbandoned:
		return true
	case models.SessionStatusCompleted:
		return s.CurrentQuestionIndex == s.TotalQuestions
	}
	return false
}

// Flush waits until the current session table has been handed to storage.
func (e *AssessmentEngine) Flush() {
	if e.writer != nil {
		e.writer.Flush()
	}
}

// Close cancels every timer, writes the session table one last time and stops the writer.
// Calls made after Close fail with ENVIRONMENT_NOT_SUPPORTED.
func (e *AssessmentEngine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	for _, entry := range e.sessions {
		e.accrueLocked(entry)
		e.cancelTimersLocked(entry)
	}
	e.scheduler.Cancel(e.autoSave)
	e.autoSave, e.autoSaveTok = 0, 0
	e.persistLocked()
	e.closed = true
	writer := e.writer
	e.mu.Unlock()

	if writer != nil {
		writer.Close()
	}
	log.Println("INFO: [AssessmentEngine] Closed.")
}

// accrueLocked adds the time since the last activity, capped at the inactivity
// timeout, to an active session.
func (e *AssessmentEngine) accrueLocked(entry *sessionEntry) {
	s := entry.session
	if s.Status == models.SessionStatusActive {
		s.TimeSpent += e.idleSinceLocked(s)
	}
	s.LastActivityAt = e.now()
}

func (e *AssessmentEngine) idleSinceLocked(s *models.AssessmentSession) time.Duration {
	d := e.now().Sub(s.LastActivityAt)
	if d < 0 {
		return 0
	}
	if d > e.inactivityTimeout {
		return e.inactivityTimeout
	}
	return d
}

func (e *AssessmentEngine) touchLocked(entry *sessionEntry) {
	e.accrueLocked(entry)
	entry.session.Revision++
	e.persistLocked()
}

// persistLocked hands a snapshot of the whole session table to the writer.
func (e *AssessmentEngine) persistLocked() {
	if e.writer == nil {
		return
	}
	records := make([]repository.Record, 0, len(e.sessions))
	for _, entry := range e.sessions {
		s := entry.session
		payload, err := json.Marshal(s)
		if err != nil {
			log.Printf("ERROR: [AssessmentEngine] Failed to encode session '%s': %v", s.ID, err)
			continue
		}
		records = append(records, repository.Record{ID: s.ID, Revision: s.Revision, UpdatedAt: s.LastActivityAt, Payload: payload})
	}
	e.writer.Enqueue(records)
}
