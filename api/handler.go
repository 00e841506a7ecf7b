package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mindscreen/models"
	"mindscreen/services"
	"mindscreen/utils"
)

// APIHandler exposes the question bank, the assessment engine and the results analyzer over HTTP.
type APIHandler struct {
	bank     services.QuestionBankManager
	engine   *services.AssessmentEngine
	analyzer *services.ResultsAnalyzer
}

// NewAPIHandler creates a new APIHandler with necessary dependencies.
func NewAPIHandler(bank services.QuestionBankManager, engine *services.AssessmentEngine, analyzer *services.ResultsAnalyzer) *APIHandler {
	return &APIHandler{bank: bank, engine: engine, analyzer: analyzer}
}

// sendServiceError maps the error taxonomy onto HTTP status codes.
func sendServiceError(c *gin.Context, err error) {
	var importErr *services.ImportError
	var catalogErr *services.CatalogValidationError
	switch {
	case errors.Is(err, models.ErrSessionNotFound):
		utils.SendJSONError(c, http.StatusNotFound, "Session not found.", err)
	case errors.Is(err, models.ErrAssessmentTypeNotFound):
		utils.SendJSONError(c, http.StatusNotFound, "Assessment type not found.", err)
	case errors.Is(err, models.ErrResultNotFound):
		utils.SendJSONError(c, http.StatusNotFound, "Result not found.", err)
	case errors.Is(err, models.ErrSessionAlreadyExists):
		utils.SendJSONError(c, http.StatusConflict, "An active session already exists for this assessment.", err, err.Error())
	case errors.Is(err, models.ErrSessionAlreadyCompleted):
		utils.SendJSONError(c, http.StatusConflict, "Session is already completed.", err)
	case errors.Is(err, models.ErrSessionNotActive):
		utils.SendJSONError(c, http.StatusConflict, "Session is not active.", err)
	case errors.Is(err, models.ErrQuestionIndexOutOfRange), errors.Is(err, models.ErrUnsupportedExportFormat):
		utils.SendJSONError(c, http.StatusBadRequest, err.Error(), err)
	case errors.As(err, &importErr), errors.As(err, &catalogErr):
		utils.SendJSONError(c, http.StatusUnprocessableEntity, "Catalog data is invalid.", err, err.Error())
	case errors.Is(err, models.ErrEnvironmentNotSupported):
		utils.SendJSONError(c, http.StatusServiceUnavailable, "Assessment service is unavailable.", err)
	default:
		utils.SendJSONError(c, http.StatusInternalServerError, "", err)
	}
}

// --- Catalog ---

// ListAssessmentsHandler lists the registered assessment types.
// GET /api/assessments?category=depression&language=es&culture=east_asian
func (h *APIHandler) ListAssessmentsHandler(c *gin.Context) {
	var types []*models.AssessmentType
	if category := c.Query("category"); category != "" {
		types = h.bank.GetAssessmentTypesByCategory(models.AssessmentCategory(category))
	} else {
		types = h.bank.GetAllAssessmentTypes()
	}

	language, culture := c.Query("language"), c.Query("culture")
	if language != "" || culture != "" {
		for i, t := range types {
			resolved, err := h.bank.Resolve(t.ID, language, culture)
			if err != nil {
				sendServiceError(c, err)
				return
			}
			types[i] = resolved
		}
	}
	utils.SendJSON(c, "Assessment types retrieved successfully", types)
}

// GetAssessmentHandler returns one assessment type, localized when asked to.
// GET /api/assessments/:typeID?language=es&culture=east_asian
func (h *APIHandler) GetAssessmentHandler(c *gin.Context) {
	t, err := h.bank.Resolve(c.Param("typeID"), c.Query("language"), c.Query("culture"))
	if err != nil {
		sendServiceError(c, err)
		return
	}
	utils.SendJSON(c, "Assessment type retrieved successfully", gin.H{
		"assessment_type":   t,
		"available_locales": h.bank.AvailableLocales(t.ID),
		"coverage_warnings": services.RangeCoverageIssues(t),
	})
}

// ExportCatalogHandler downloads the catalog as a JSON document.
// GET /api/catalog/export
func (h *APIHandler) ExportCatalogHandler(c *gin.Context) {
	data, err := h.bank.ExportCatalog()
	if err != nil {
		sendServiceError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="catalog.json"`)
	c.Data(http.StatusOK, "application/json", data)
}

// ImportCatalogHandler registers every assessment type of an exported catalog document, or none.
// POST /api/catalog/import
func (h *APIHandler) ImportCatalogHandler(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil || len(data) == 0 {
		utils.SendJSONError(c, http.StatusBadRequest, "Request body must contain a catalog document.", err)
		return
	}
	n, err := h.bank.ImportCatalog(data)
	if err != nil {
		var importErr *services.ImportError
		if errors.As(err, &importErr) {
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
				"code":    http.StatusUnprocessableEntity,
				"message": "Catalog import rejected; nothing was registered.",
				"data":    gin.H{"failures": importErr.Failures},
			})
			return
		}
		utils.SendJSONError(c, http.StatusBadRequest, "Catalog document could not be parsed.", err)
		return
	}
	utils.SendJSON(c, "Catalog imported successfully", gin.H{"imported": n})
}

// --- Sessions ---

// StartSessionHandler starts a new assessment session.
// POST /api/sessions
// Request body: { "assessment_type_id": "phq-9", "language": "en", "cultural_context": "" }
func (h *APIHandler) StartSessionHandler(c *gin.Context) {
	var req struct {
		AssessmentTypeID string `json:"assessment_type_id" binding:"required"`
		Language         string `json:"language"`
		CulturalContext  string `json:"cultural_context"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "Invalid request format.", err)
		return
	}
	session, err := h.engine.StartAssessment(req.AssessmentTypeID, req.Language, req.CulturalContext)
	if err != nil {
		sendServiceError(c, err)
		return
	}
	utils.SendJSON(c, "Session started successfully", gin.H{
		"session":  session,
		"question": h.engine.GetCurrentQuestion(session.ID),
	})
}

// ListSessionsHandler lists sessions, only the active ones with ?status=active.
// GET /api/sessions
func (h *APIHandler) ListSessionsHandler(c *gin.Context) {
	var sessions []*models.AssessmentSession
	if c.Query("status") == string(models.SessionStatusActive) {
		sessions = h.engine.GetActiveSessions()
	} else {
		sessions = h.engine.GetSessions()
	}
	utils.SendJSON(c, "Sessions retrieved successfully", sessions)
}

// GetSessionHandler returns one session.
// GET /api/sessions/:id
func (h *APIHandler) GetSessionHandler(c *gin.Context) {
	session, ok := h.engine.GetSession(c.Param("id"))
	if !ok {
		sendServiceError(c, models.NewSessionError(models.ErrCodeSessionNotFound, c.Param("id"), ""))
		return
	}
	utils.SendJSON(c, "Session retrieved successfully", session)
}

// DeleteSessionHandler removes a session in any state.
// DELETE /api/sessions/:id
func (h *APIHandler) DeleteSessionHandler(c *gin.Context) {
	if !h.engine.DeleteSession(c.Param("id")) {
		sendServiceError(c, models.NewSessionError(models.ErrCodeSessionNotFound, c.Param("id"), ""))
		return
	}
	utils.SendJSON(c, "Session deleted successfully", nil)
}

// ClearSessionsHandler removes every session.
// DELETE /api/sessions
func (h *APIHandler) ClearSessionsHandler(c *gin.Context) {
	n := h.engine.ClearAllSessions()
	utils.SendJSON(c, "Sessions cleared successfully", gin.H{"deleted": n})
}

// PauseSessionHandler pauses an active session.
// POST /api/sessions/:id/pause
func (h *APIHandler) PauseSessionHandler(c *gin.Context) {
	id := c.Param("id")
	if !h.engine.PauseAssessment(id) {
		if _, ok := h.engine.GetSession(id); !ok {
			sendServiceError(c, models.NewSessionError(models.ErrCodeSessionNotFound, id, ""))
			return
		}
		sendServiceError(c, models.NewSessionError(models.ErrCodeSessionNotActive, id, ""))
		return
	}
	session, _ := h.engine.GetSession(id)
	utils.SendJSON(c, "Session paused successfully", session)
}

// ResumeSessionHandler resumes a paused session.
// POST /api/sessions/:id/resume
func (h *APIHandler) ResumeSessionHandler(c *gin.Context) {
	session, err := h.engine.ResumeAssessment(c.Param("id"))
	if err != nil {
		sendServiceError(c, err)
		return
	}
	utils.SendJSON(c, "Session resumed successfully", gin.H{
		"session":  session,
		"question": h.engine.GetCurrentQuestion(session.ID),
	})
}

// AbandonSessionHandler gives up a session.
// POST /api/sessions/:id/abandon
func (h *APIHandler) AbandonSessionHandler(c *gin.Context) {
	if err := h.engine.AbandonSession(c.Param("id")); err != nil {
		sendServiceError(c, err)
		return
	}
	session, _ := h.engine.GetSession(c.Param("id"))
	utils.SendJSON(c, "Session abandoned", session)
}

// SetReminderHandler schedules a reminder for a session.
// POST /api/sessions/:id/reminder
// Request body: { "delay_seconds": 3600 }
func (h *APIHandler) SetReminderHandler(c *gin.Context) {
	var req struct {
		DelaySeconds *int `json:"delay_seconds" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "Invalid request format.", err)
		return
	}
	if *req.DelaySeconds < 0 {
		utils.SendJSONError(c, http.StatusBadRequest, "delay_seconds cannot be negative.", nil)
		return
	}
	delay := time.Duration(*req.DelaySeconds) * time.Second
	if err := h.engine.SetReminder(c.Param("id"), delay); err != nil {
		sendServiceError(c, err)
		return
	}
	utils.SendJSON(c, "Reminder set successfully", gin.H{"remind_at": time.Now().Add(delay).UTC()})
}

// GetCurrentQuestionHandler returns the question the session is at.
// GET /api/sessions/:id/question
func (h *APIHandler) GetCurrentQuestionHandler(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.engine.GetSession(id); !ok {
		sendServiceError(c, models.NewSessionError(models.ErrCodeSessionNotFound, id, ""))
		return
	}
	utils.SendJSON(c, "Current question retrieved successfully", h.engine.GetCurrentQuestion(id))
}

// GetProgressHandler returns the session's progress.
// GET /api/sessions/:id/progress
func (h *APIHandler) GetProgressHandler(c *gin.Context) {
	progress, err := h.engine.GetProgress(c.Param("id"))
	if err != nil {
		sendServiceError(c, err)
		return
	}
	utils.SendJSON(c, "Progress retrieved successfully", progress)
}

// SubmitAnswerHandler answers the current question.
// POST /api/sessions/:id/answers
// Request body: { "value": 2 } (a number, a string, or a list of numbers/strings)
func (h *APIHandler) SubmitAnswerHandler(c *gin.Context) {
	var req struct {
		Value models.AnswerValue `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "Invalid answer format.", err)
		return
	}
	res, err := h.engine.SubmitAnswer(c.Param("id"), req.Value)
	if err != nil {
		sendServiceError(c, err)
		return
	}
	if !res.Accepted {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":    http.StatusUnprocessableEntity,
			"message": "Answer rejected.",
			"data":    res,
		})
		return
	}
	message := "Answer recorded"
	if res.Completed {
		message = "Assessment completed"
	}
	utils.SendJSON(c, message, res)
}

// PreviousQuestionHandler moves the session back one question.
// POST /api/sessions/:id/previous
func (h *APIHandler) PreviousQuestionHandler(c *gin.Context) {
	q, err := h.engine.GoToPreviousQuestion(c.Param("id"))
	if err != nil {
		sendServiceError(c, err)
		return
	}
	utils.SendJSON(c, "Moved to previous question", q)
}

// GoToQuestionHandler moves the session to a question index.
// POST /api/sessions/:id/goto
// Request body: { "index": 3 }
func (h *APIHandler) GoToQuestionHandler(c *gin.Context) {
	var req struct {
		Index *int `json:"index" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "Invalid request format.", err)
		return
	}
	q, err := h.engine.GoToQuestion(c.Param("id"), *req.Index)
	if err != nil {
		sendServiceError(c, err)
		return
	}
	utils.SendJSON(c, fmt.Sprintf("Moved to question %d", *req.Index), q)
}

// --- Results ---

// ListResultsHandler lists results, optionally of one assessment type.
// GET /api/results?assessment_type_id=phq-9
func (h *APIHandler) ListResultsHandler(c *gin.Context) {
	var results []*models.AssessmentResult
	if typeID := c.Query("assessment_type_id"); typeID != "" {
		results = h.analyzer.GetResultsByAssessmentType(typeID)
	} else {
		results = h.analyzer.GetAllResults()
	}
	utils.SendJSON(c, "Results retrieved successfully", results)
}

// GetResultHandler returns one result.
// GET /api/results/:id
func (h *APIHandler) GetResultHandler(c *gin.Context) {
	r, ok := h.analyzer.GetResult(c.Param("id"))
	if !ok {
		sendServiceError(c, fmt.Errorf("%w: '%s'", models.ErrResultNotFound, c.Param("id")))
		return
	}
	utils.SendJSON(c, "Result retrieved successfully", r)
}

// DeleteResultHandler removes one result.
// DELETE /api/results/:id
func (h *APIHandler) DeleteResultHandler(c *gin.Context) {
	if !h.analyzer.DeleteResult(c.Param("id")) {
		sendServiceError(c, fmt.Errorf("%w: '%s'", models.ErrResultNotFound, c.Param("id")))
		return
	}
	utils.SendJSON(c, "Result deleted successfully", nil)
}

// GetReportHandler returns the chart-ready report of a result.
// GET /api/results/:id/report
func (h *APIHandler) GetReportHandler(c *gin.Context) {
	report, err := h.analyzer.GenerateReport(c.Param("id"))
	if err != nil {
		sendServiceError(c, err)
		return
	}
	utils.SendJSON(c, "Report generated successfully", report)
}

// ExportResultsHandler downloads every result.
// GET /api/results/export?format=csv
func (h *APIHandler) ExportResultsHandler(c *gin.Context) {
	format := c.DefaultQuery("format", "json")
	data, contentType, err := h.analyzer.ExportResults(format)
	if err != nil {
		sendServiceError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="results.%s"`, format))
	c.Data(http.StatusOK, contentType, data)
}

// --- Statistics and health ---

// SessionStatisticsHandler summarises the session table.
// GET /api/statistics/sessions
func (h *APIHandler) SessionStatisticsHandler(c *gin.Context) {
	utils.SendJSON(c, "Session statistics retrieved successfully", h.engine.GetSessionStatistics())
}

// ResultStatisticsHandler aggregates results over a period.
// GET /api/statistics/results?period=last_30_days
func (h *APIHandler) ResultStatisticsHandler(c *gin.Context) {
	period := c.DefaultQuery("period", services.PeriodLast7Days)
	utils.SendJSON(c, "Result statistics retrieved successfully", h.analyzer.GetAssessmentStatistics(period))
}

// HealthHandler reports engine, timer and storage health.
// GET /api/health
func (h *APIHandler) HealthHandler(c *gin.Context) {
	report := h.engine.PerformHealthCheck(c.Request.Context())
	if h.analyzer.Degraded() {
		report.Degraded = true
		report.Issues = append(report.Issues, "results are kept in memory only")
		report.Healthy = false
	}
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"code":    status,
		"message": "Health check completed",
		"data":    report,
	})
}
