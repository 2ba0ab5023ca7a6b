package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"drive-warden/internal/config"
	"drive-warden/internal/database"
	"drive-warden/internal/drive"
	"drive-warden/internal/enforce"
	"drive-warden/internal/event"
	"drive-warden/internal/handler"
	"drive-warden/internal/middleware"
	"drive-warden/internal/repository"
	"drive-warden/internal/router"
	"drive-warden/internal/service"
)

type App struct {
	server       *http.Server
	db           *database.DB
	cleanupFuncs []func()
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("connecting to PostgreSQL")
	db, err := database.New(context.Background(), cfg.DatabaseURL, int32(cfg.DBMaxConns), int32(cfg.DBMinConns))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure database schema: %w", err)
	}

	pool := db.Pool
	projectRepo := repository.NewProjectRepository(pool)
	templateRepo := repository.NewTemplateRepository(pool)
	folderRepo := repository.NewFolderIndexRepository(pool)
	jobRepo := repository.NewJobRepository(pool)
	auditRepo := repository.NewAuditRepository(pool)
	slog.Info("database ready")

	accessToken := cfg.DriveAccessToken
	driveClient := drive.NewGoogleClient(cfg.DriveBaseURL, cfg.DriveID, func(context.Context) (string, error) {
		return accessToken, nil
	}, cfg.DriveCallTimeout)

	executor := enforce.NewExecutor(driveClient, enforce.Options{
		CallDelay:    cfg.DriveCallDelay,
		CallTimeout:  cfg.DriveCallTimeout,
		MaxRetries:   uint64(cfg.DriveMaxRetries),
		RediffRounds: cfg.EnforceRediffRounds,
		Protected:    cfg.ProtectedPrincipals,
	})

	bus := event.NewBus()

	templateService := service.NewTemplateService(templateRepo, bus)
	projectService := service.NewProjectService(projectRepo, driveClient)
	complianceService := service.NewComplianceService(projectRepo, templateRepo, folderRepo, driveClient)
	jobService := service.NewJobService(jobRepo, bus)
	auditService := service.NewAuditService(auditRepo)
	orchestrator := service.NewOrchestrator(
		jobRepo,
		projectRepo,
		templateRepo,
		folderRepo,
		auditRepo,
		driveClient,
		executor,
		bus,
		cfg.JobWorkers,
		cfg.JobPollInterval,
	)

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)

	appRouter := router.New(cfg, authMiddleware, router.Handlers{
		Template: handler.NewTemplateHandler(templateService),
		Project:  handler.NewProjectHandler(projectService, complianceService),
		Jobs:     handler.NewJobsHandler(jobService),
		Audit:    handler.NewAuditHandler(auditService),
		Events:   handler.NewEventsHandler(bus),
		Docs:     handler.NewDocsHandler("./docs/openapi.yaml"),
	})

	orchestratorCtx, orchestratorCancel := context.WithCancel(context.Background())
	go orchestrator.Run(orchestratorCtx)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return &App{
		server: server,
		db:     db,
		cleanupFuncs: []func(){
			func() {
				orchestratorCancel()
			},
			func() {
				db.Close()
			},
		},
	}, nil
}

func (a *App) Run() error {
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if serveErr := a.server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("server failed", "error", serveErr)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		for _, cleanup := range a.cleanupFuncs {
			cleanup()
		}
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	// In-flight jobs stop after the HTTP drain; interrupted ones are
	// requeued on the next start.
	for _, cleanup := range a.cleanupFuncs {
		cleanup()
	}

	slog.Info("server stopped")
	return nil
}
