package api

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts every handler under /api.
func RegisterRoutes(r *gin.Engine, handler *APIHandler) {
	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/health", handler.HealthHandler)

		apiGroup.GET("/assessments", handler.ListAssessmentsHandler)
		apiGroup.GET("/assessments/:typeID", handler.GetAssessmentHandler)

		catalogGroup := apiGroup.Group("/catalog")
		{
			catalogGroup.GET("/export", handler.ExportCatalogHandler)
			catalogGroup.POST("/import", handler.ImportCatalogHandler)
		}

		sessionGroup := apiGroup.Group("/sessions")
		{
			sessionGroup.POST("", handler.StartSessionHandler)
			sessionGroup.GET("", handler.ListSessionsHandler)
			sessionGroup.DELETE("", handler.ClearSessionsHandler)
			sessionGroup.GET("/:id", handler.GetSessionHandler)
			sessionGroup.DELETE("/:id", handler.DeleteSessionHandler)
			sessionGroup.GET("/:id/question", handler.GetCurrentQuestionHandler)
			sessionGroup.GET("/:id/progress", handler.GetProgressHandler)
			sessionGroup.POST("/:id/answers", handler.SubmitAnswerHandler)
			sessionGroup.POST("/:id/previous", handler.PreviousQuestionHandler)
			sessionGroup.POST("/:id/goto", handler.GoToQuestionHandler)
			sessionGroup.POST("/:id/pause", handler.PauseSessionHandler)
			sessionGroup.POST("/:id/resume", handler.ResumeSessionHandler)
			sessionGroup.POST("/:id/abandon", handler.AbandonSessionHandler)
			sessionGroup.POST("/:id/reminder", handler.SetReminderHandler)
		}

		resultGroup := apiGroup.Group("/results")
		{
			resultGroup.GET("", handler.ListResultsHandler)
			resultGroup.GET("/export", handler.ExportResultsHandler)
			resultGroup.GET("/:id", handler.GetResultHandler)
			resultGroup.DELETE("/:id", handler.DeleteResultHandler)
			resultGroup.GET("/:id/report", handler.GetReportHandler)
		}

		statsGroup := apiGroup.Group("/statistics")
		{
			statsGroup.GET("/sessions", handler.SessionStatisticsHandler)
			statsGroup.GET("/results", handler.ResultStatisticsHandler)
		}
	}
}
