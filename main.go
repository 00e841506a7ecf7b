package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"mindscreen/api"
	"mindscreen/config"
	"mindscreen/database"
	"mindscreen/middleware"
	"mindscreen/models"
	"mindscreen/repository"
	"mindscreen/services"
)

func main() {
	// Load application configuration
	config.LoadConfig()
	cfg := config.AppConfig

	// Initialize database connection
	db, err := database.Init()
	if err != nil {
		log.Fatalf("FATAL: [Main] Failed to initialize database: %v", err)
	}
	runMigrations(db)
	defer func() {
		if err := database.Close(db); err != nil {
			log.Printf("WARN: [Main] Failed to close database: %v", err)
		}
	}()

	// Storage degrades to memory-only when the database cannot be used
	var storage repository.Storage
	if s, err := repository.NewSQLiteStorage(db, cfg.Storage.QuotaBytes); err != nil {
		log.Printf("WARN: [Main] SQLite storage unavailable, falling back to in-memory storage: %v", err)
		storage = repository.NewMemoryStorage(cfg.Storage.QuotaBytes)
	} else {
		storage = s
	}
	persistence := services.PersistenceOptions{
		MaxRetries:   cfg.Storage.MaxRetries,
		RetryBackoff: cfg.Storage.RetryBackoff,
	}

	// Question bank
	bank := services.NewQuestionBankManager()
	if err := bank.LoadDefaults(); err != nil {
		log.Fatalf("FATAL: [Main] Failed to load built-in questionnaires: %v", err)
	}
	if cfg.Catalog.Dir != "" {
		if n, err := bank.LoadFromDir(cfg.Catalog.Dir); err != nil {
			log.Printf("WARN: [Main] Some questionnaires in '%s' were skipped: %v", cfg.Catalog.Dir, err)
		} else {
			log.Printf("INFO: [Main] Loaded %d questionnaires from '%s'.", n, cfg.Catalog.Dir)
		}
	}

	// Analyzer and engine
	analyzer := services.NewResultsAnalyzer(bank, storage,
		services.WithMaxRecommendations(cfg.Analyzer.MaxRecommendations),
		services.WithAnalyzerPersistence(persistence),
	)
	engine, err := services.NewAssessmentEngine(bank, analyzer, storage,
		services.WithInactivityTimeout(cfg.Engine.InactivityTimeout),
		services.WithAutoSaveInterval(cfg.Engine.AutoSaveInterval),
		services.WithSecondsPerQuestion(cfg.Engine.DefaultSecondsPerQuestion),
		services.WithDefaultLanguage(cfg.Engine.DefaultLanguage),
		services.WithEnginePersistence(persistence),
		services.WithReminderNotifier(func(s *models.AssessmentSession) {
			log.Printf("INFO: [Main] Reminder: session '%s' (%s) is waiting at question %d of %d.",
				s.ID, s.AssessmentTypeID, s.CurrentQuestionIndex+1, s.TotalQuestions)
		}),
	)
	if err != nil {
		log.Fatalf("FATAL: [Main] Failed to create assessment engine: %v", err)
	}

	ctx := context.Background()
	if _, err := analyzer.Restore(ctx); err != nil {
		log.Printf("WARN: [Main] Results could not be restored: %v", err)
	}
	if _, err := engine.Restore(ctx); err != nil {
		log.Printf("WARN: [Main] Sessions could not be restored: %v", err)
	}
	log.Println("INFO: [Main] Services initialized.")

	apiHandler := api.NewAPIHandler(bank, engine, analyzer)

	// Create Gin engine
	r := gin.New()
	r.Use(gin.Recovery())
	r.SetTrustedProxies(nil)
	r.Use(middleware.Logger())
	r.Use(middleware.Cors())
	api.RegisterRoutes(r, apiHandler)
	log.Println("INFO: [Main] Routes registered.")

	srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: r}
	go func() {
		log.Printf("INFO: [Main] Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("FATAL: [Main] Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("INFO: [Main] Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: [Main] Server shutdown failed: %v", err)
	}
	engine.Close()
	analyzer.Close()
	log.Println("INFO: [Main] Shutdown complete.")
}

func runMigrations(db *gorm.DB) {
	log.Println("INFO: [Main] Running database migrations...")
	if err := database.Migrate(db); err != nil {
		log.Fatalf("FATAL: [Main] Failed to auto-migrate database: %v", err)
	}
	log.Println("INFO: [Main] Database migration completed.")
}
