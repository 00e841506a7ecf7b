package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"mindscreen/models"
	"mindscreen/repository"
	"mindscreen/utils"
)

// SessionAnalyzer turns a completed session into its stored result.
type SessionAnalyzer interface {
	AnalyzeSession(session *models.AssessmentSession) (*models.AssessmentResult, error)
}

// AnalyzerOption configures a ResultsAnalyzer.
type AnalyzerOption func(*ResultsAnalyzer)

// WithMaxRecommendations caps the recommendation list of every result.
func WithMaxRecommendations(n int) AnalyzerOption {
	return func(a *ResultsAnalyzer) { a.maxRecommendations = n }
}

// WithAnalyzerClock replaces time.Now for report and statistics timestamps.
func WithAnalyzerClock(now func() time.Time) AnalyzerOption {
	return func(a *ResultsAnalyzer) { a.now = now }
}

// WithAnalyzerPersistence tunes the recovery policy of the result writer.
func WithAnalyzerPersistence(opts PersistenceOptions) AnalyzerOption {
	return func(a *ResultsAnalyzer) { a.persistence = opts }
}

// ResultsAnalyzer scores completed sessions and keeps the resulting immutable results.
type ResultsAnalyzer struct {
	mu                 sync.RWMutex
	bank               QuestionBankManager
	storage            repository.Storage
	writer             *SnapshotWriter
	persistence        PersistenceOptions
	results            map[string]*models.AssessmentResult
	bySession          map[string]string // session ID -> result ID
	maxRecommendations int
	now                func() time.Time
}

// NewResultsAnalyzer creates an analyzer. A nil storage keeps results in memory only.
func NewResultsAnalyzer(bank QuestionBankManager, storage repository.Storage, opts ...AnalyzerOption) *ResultsAnalyzer {
	a := &ResultsAnalyzer{
		bank:               bank,
		storage:            storage,
		results:            make(map[string]*models.AssessmentResult),
		bySession:          make(map[string]string),
		maxRecommendations: DefaultMaxRecommendations,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if storage != nil {
		a.writer = NewSnapshotWriter(storage, repository.BucketResults, a.persistence)
	} else {
		log.Println("WARN: [ResultsAnalyzer] No storage configured; results are kept in memory only.")
	}
	return a
}

// Evaluate computes the result of a completed session without storing it.
// The same session and catalog always produce the same scores, interpretation and risk level.
func (a *ResultsAnalyzer) Evaluate(session *models.AssessmentSession) (*models.AssessmentResult, error) {
	if session == nil {
		return nil, models.NewSessionError(models.ErrCodeSessionNotFound, "", "session is nil")
	}
	if session.Status != models.SessionStatusCompleted {
		return nil, models.NewSessionError(models.ErrCodeSessionNotActive, session.ID, "session is not completed")
	}
	t, err := a.bank.Resolve(session.AssessmentTypeID, session.Language, session.CulturalContext)
	if err != nil {
		return nil, &models.SessionError{Code: models.ErrCodeAssessmentTypeNotFound, SessionID: session.ID, AssessmentTypeID: session.AssessmentTypeID}
	}

	answers := make(map[string]models.AnswerValue, len(session.Answers))
	for _, ans := range session.Answers {
		answers[ans.QuestionID] = ans.Value
	}
	scores := make(map[string]models.ScoreResult, len(t.ScoringRules))
	for i := range t.ScoringRules {
		rule := &t.ScoringRules[i]
		scores[rule.ID] = scoreRule(t, rule, answers)
	}
	risk := overallRiskLevel(scores)

	completedAt := session.LastActivityAt
	if session.CompletedAt != nil {
		completedAt = *session.CompletedAt
	}
	return &models.AssessmentResult{
		SessionID:        session.ID,
		AssessmentTypeID: session.AssessmentTypeID,
		CompletedAt:      completedAt,
		Scores:           scores,
		Interpretation:   interpret(t, session.Language, scores),
		Recommendations:  buildRecommendations(t, scores, risk, a.maxRecommendations),
		RiskLevel:        risk,
		TotalTimeSpent:   session.TimeSpent,
		Answers:          append([]models.AssessmentAnswer(nil), session.Answers...),
	}, nil
}

// AnalyzeSession evaluates a completed session and stores the result. A session is
// analyzed once; later calls return the stored result.
func (a *ResultsAnalyzer) AnalyzeSession(session *models.AssessmentSession) (*models.AssessmentResult, error) {
	if session != nil {
		a.mu.RLock()
		id, done := a.bySession[session.ID]
		existing := a.results[id]
		a.mu.RUnlock()
		if done && existing != nil {
			return existing.Clone(), nil
		}
	}

	result, err := a.Evaluate(session)
	if err != nil {
		log.Printf("WARN: [ResultsAnalyzer] Cannot analyze session: %v", err)
		return nil, err
	}
	result.ID = utils.GenerateID()

	a.mu.Lock()
	if id, done := a.bySession[session.ID]; done {
		existing := a.results[id]
		a.mu.Unlock()
		return existing.Clone(), nil
	}
	a.results[result.ID] = result
	a.bySession[session.ID] = result.ID
	a.persistLocked()
	a.mu.Unlock()

	log.Printf("INFO: [ResultsAnalyzer] Stored result '%s' for session '%s' (%s, risk %s).", result.ID, session.ID, session.AssessmentTypeID, result.RiskLevel)
	return result.Clone(), nil
}

// GetResult returns a copy of one stored result.
func (a *ResultsAnalyzer) GetResult(id string) (*models.AssessmentResult, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.results[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// GetResultBySession returns the result produced for a session.
func (a *ResultsAnalyzer) GetResultBySession(sessionID string) (*models.AssessmentResult, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.results[a.bySession[sessionID]]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// GetAllResults returns copies of every result, oldest completion first.
func (a *ResultsAnalyzer) GetAllResults() []*models.AssessmentResult {
	return a.collect(func(*models.AssessmentResult) bool { return true })
}

// GetResultsByAssessmentType returns the results of one type, oldest completion first.
func (a *ResultsAnalyzer) GetResultsByAssessmentType(typeID string) []*models.AssessmentResult {
	return a.collect(func(r *models.AssessmentResult) bool { return r.AssessmentTypeID == typeID })
}

func (a *ResultsAnalyzer) collect(keep func(*models.AssessmentResult) bool) []*models.AssessmentResult {
	a.mu.RLock()
	out := make([]*models.AssessmentResult, 0, len(a.results))
	for _, r := range a.results {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	a.mu.RUnlock()
	sortResults(out)
	return out
}

func sortResults(results []*models.AssessmentResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].CompletedAt.Equal(results[j].CompletedAt) {
			return results[i].ID < results[j].ID
		}
		return results[i].CompletedAt.Before(results[j].CompletedAt)
	})
}

// DeleteResult removes a result. It reports whether the result existed.
func (a *ResultsAnalyzer) DeleteResult(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.results[id]
	if !ok {
		return false
	}
	delete(a.results, id)
	delete(a.bySession, r.SessionID)
	a.persistLocked()
	log.Printf("INFO: [ResultsAnalyzer] Deleted result '%s'.", id)
	return true
}

// ExportResults serializes every result as "json" or "csv" and returns the content type.
func (a *ResultsAnalyzer) ExportResults(format string) ([]byte, string, error) {
	results := a.GetAllResults()
	switch format {
	case "", "json":
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode results: %w", err)
		}
		return data, "application/json", nil
	case "csv":
		data, err := resultsCSV(a.bank, results)
		if err != nil {
			return nil, "", err
		}
		return data, "text/csv", nil
	}
	return nil, "", fmt.Errorf("%w: '%s'", models.ErrUnsupportedExportFormat, format)
}

var csvHeader = []string{
	"result_id", "session_id", "assessment_type_id", "completed_at", "overall_risk_level",
	"rule_id", "value", "label", "rule_risk_level", "total_time_spent_seconds",
}

// resultsCSV writes one row per rule score, rules in catalog order when the type is known.
func resultsCSV(bank QuestionBankManager, results []*models.AssessmentResult) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, r := range results {
		for _, ruleID := range ruleOrder(bank, r) {
			s := r.Scores[ruleID]
			row := []string{
				r.ID, r.SessionID, r.AssessmentTypeID, r.CompletedAt.UTC().Format(time.RFC3339), string(r.RiskLevel),
				ruleID, formatScore(s.Value), s.Label, string(s.RiskLevel),
				strconv.FormatInt(int64(r.TotalTimeSpent/time.Second), 10),
			}
			if err := w.Write(row); err != nil {
				return nil, fmt.Errorf("failed to write csv row for result %s: %w", r.ID, err)
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to write csv: %w", err)
	}
	return buf.Bytes(), nil
}

// ruleOrder lists the rule IDs of a result in catalog order, falling back to sorted IDs.
func ruleOrder(bank QuestionBankManager, r *models.AssessmentResult) []string {
	ids := make([]string, 0, len(r.Scores))
	if bank != nil {
		if t, err := bank.GetAssessmentType(r.AssessmentTypeID); err == nil {
			for _, rule := range t.ScoringRules {
				if _, ok := r.Scores[rule.ID]; ok {
					ids = append(ids, rule.ID)
				}
			}
			if len(ids) == len(r.Scores) {
				return ids
			}
			ids = ids[:0]
		}
	}
	for id := range r.Scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Restore loads persisted results, skipping records that cannot be decoded.
func (a *ResultsAnalyzer) Restore(ctx context.Context) (int, error) {
	if a.storage == nil {
		return 0, nil
	}
	records, err := a.storage.Load(ctx, repository.BucketResults)
	if err != nil {
		log.Printf("ERROR: [ResultsAnalyzer] Failed to load results: %v", err)
		return 0, fmt.Errorf("failed to load results: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	restored := 0
	for _, rec := range records {
		var r models.AssessmentResult
		if err := json.Unmarshal(rec.Payload, &r); err != nil || r.ID == "" || r.SessionID == "" {
			log.Printf("WARN: [ResultsAnalyzer] Skipping corrupt result record '%s': %v", rec.ID, err)
			continue
		}
		if _, exists := a.results[r.ID]; exists {
			continue
		}
		a.results[r.ID] = &r
		a.bySession[r.SessionID] = r.ID
		restored++
	}
	log.Printf("INFO: [ResultsAnalyzer] Restored %d of %d persisted results.", restored, len(records))
	return restored, nil
}

// Flush waits for pending result saves.
func (a *ResultsAnalyzer) Flush() {
	if a.writer != nil {
		a.writer.Flush()
	}
}

// Degraded reports whether results are currently kept in memory only.
func (a *ResultsAnalyzer) Degraded() bool {
	return a.writer == nil || a.writer.Degraded()
}

// Close writes pending results and stops the writer.
func (a *ResultsAnalyzer) Close() {
	if a.writer != nil {
		a.writer.Close()
	}
}

func (a *ResultsAnalyzer) persistLocked() {
	if a.writer == nil {
		return
	}
	records := make([]repository.Record, 0, len(a.results))
	for _, r := range a.results {
		payload, err := json.Marshal(r)
		if err != nil {
			log.Printf("ERROR: [ResultsAnalyzer] Failed to encode result '%s': %v", r.ID, err)
			continue
		}
		records = append(records, repository.Record{ID: r.ID, UpdatedAt: r.CompletedAt, Payload: payload})
	}
	a.writer.Enqueue(records)
}
