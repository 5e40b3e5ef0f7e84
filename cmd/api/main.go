package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/courseops/gradebook-api/internal/config"
	"github.com/courseops/gradebook-api/internal/csvops"
	"github.com/courseops/gradebook-api/internal/database"
	"github.com/courseops/gradebook-api/internal/handler"
	"github.com/courseops/gradebook-api/internal/middleware"
	"github.com/courseops/gradebook-api/internal/models"
	"github.com/courseops/gradebook-api/internal/repository"
	"github.com/courseops/gradebook-api/internal/router"
	"github.com/courseops/gradebook-api/internal/service"
	"github.com/courseops/gradebook-api/pkg/analytics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{}, &models.CourseAccessRole{},
		&models.Enrollment{}, &models.CohortMembership{}, &models.ProgramEnrollment{},
		&models.BlockScore{}, &models.ScoreOverrider{},
		&models.GradedSubsection{}, &models.SubsectionGrade{}, &models.SubsectionGradeOverride{},
		&models.CourseGrade{}, &models.BulkOperation{},
	)
	if err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = nats.Connect(cfg.NATSURL, nats.Name(cfg.AppName))
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Drain() //nolint:errcheck
	}

	engagement, err := analytics.New(analytics.Config{
		BaseURL: cfg.AnalyticsURL,
		Token:   cfg.AnalyticsToken,
		Timeout: cfg.AnalyticsTimeout,
	}, logger)
	if err != nil {
		log.Fatalf("failed to create analytics client: %v", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	enrollmentRepo := repository.NewEnrollmentRepository(db)
	scoreRepo := repository.NewScoreRepository(db)
	gradeRepo := repository.NewGradeRepository(db)
	operationRepo := repository.NewOperationRepository(db)

	signer := csvops.NewSigner(cfg.ChecksumSecret)
	results := csvops.NewResultStore(redisClient, cfg.ResultTTL)
	runner := csvops.NewRunner(operationRepo, results, csvops.RunnerConfig{
		DeferThreshold: cfg.DeferThreshold,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, logger)

	resolver := service.NewSubsectionResolver(gradeRepo)
	recompute := service.NewGradeRecomputePublisher(natsConn, logger)

	gradeHandler := handler.NewGradeCSVHandler(enrollmentRepo, gradeRepo, operationRepo, resolver, runner, validate, logger)
	scoreHandler := handler.NewScoreCSVHandler(enrollmentRepo, scoreRepo, signer, recompute, runner, validate, logger)
	interventionHandler := handler.NewInterventionHandler(enrollmentRepo, gradeRepo, resolver, engagement, validate, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		GradeCSVHandler:     gradeHandler,
		ScoreCSVHandler:     scoreHandler,
		InterventionHandler: interventionHandler,
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
