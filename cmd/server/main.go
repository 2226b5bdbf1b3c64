package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/ideaforge/api/internal/config"
	"github.com/ideaforge/api/internal/handler"
	"github.com/ideaforge/api/internal/jobs"
	"github.com/ideaforge/api/internal/middleware"
	"github.com/ideaforge/api/internal/model"
	"github.com/ideaforge/api/internal/scheduler"
	"github.com/ideaforge/api/internal/store"
	"github.com/ideaforge/api/internal/worker"
	ws "github.com/ideaforge/api/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	validate := validator.New()

	hub := ws.NewHub()
	go hub.Run()

	// Durable record store and the job manager with its per-type workers.
	blueprintStore := store.NewBlueprintStore(redisClient, cfg.Jobs.Retention)
	manager := jobs.NewManager(jobs.Config{
		MaxAttempts: cfg.Jobs.MaxAttempts,
		Backoff:     model.Backoff{Kind: model.BackoffExponential, BaseDelay: cfg.Jobs.BackoffBase},
		Timeout:     cfg.Jobs.Timeout,
		Retention:   cfg.Jobs.Retention,
	}, blueprintStore, hub)

	blueprintWorker := worker.NewBlueprintWorker(cfg.Jobs.BlueprintStepGap)
	aiWorker := worker.NewAIWorker(0)
	exportWorker := worker.NewExportWorker(0)
	maintenance := worker.NewMaintenanceWorker(redisClient, blueprintStore)

	manager.RegisterHandler(model.JobTypeBlueprintGeneration, blueprintWorker.Handle)
	manager.RegisterHandler(model.JobTypeAIProcessing, aiWorker.Handle)
	manager.RegisterHandler(model.JobTypeExportGeneration, exportWorker.Handle)
	manager.RegisterHandler(model.JobTypeCacheWarming, maintenance.HandleCacheWarming)
	manager.RegisterHandler(model.JobTypeAnalyticsProcessing, maintenance.HandleAnalytics)
	manager.RegisterHandler(model.JobTypeCleanupTasks, maintenance.HandleCleanup)

	if err := manager.Start(); err != nil {
		log.Fatalf("Failed to start job manager: %v", err)
	}

	// Recurring maintenance tasks; each one only enqueues jobs.
	sched := scheduler.New(scheduler.Config{
		RetryDelay:  cfg.Scheduler.RetryDelay,
		TaskTimeout: cfg.Scheduler.TaskTimeout,
	})
	scheduler.RegisterBuiltins(sched, manager, scheduler.BuiltinIntervals{
		CacheCleanup:    cfg.Scheduler.CacheCleanup,
		Analytics:       cfg.Scheduler.Analytics,
		StaleJobCleanup: cfg.Scheduler.StaleJobCleanup,
		CacheWarming:    cfg.Scheduler.CacheWarming,
	})
	sched.Start()

	jobsHandler := handler.NewJobsHandler(manager, validate)
	schedulerHandler := handler.NewSchedulerHandler(sched, validate)

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api", authMiddleware.Authenticate())

	jobsGroup := api.Group("/jobs")
	jobsGroup.Post("/", rateLimiter.SubmitLimit(cfg.RateLimit.JobsPerHour), jobsHandler.Submit)
	jobsGroup.Get("/", jobsHandler.Stats)
	jobsGroup.Get("/:jobId", jobsHandler.Status)
	jobsGroup.Delete("/:jobId", jobsHandler.Cancel)
	jobsGroup.Post("/:jobId", jobsHandler.Action)

	admin := api.Group("/admin", authMiddleware.RequireAdmin())
	schedGroup := admin.Group("/scheduler")
	schedGroup.Post("/start", schedulerHandler.Start)
	schedGroup.Post("/stop", schedulerHandler.Stop)
	schedGroup.Get("/status", schedulerHandler.Status)
	schedGroup.Post("/tasks/:name/run", schedulerHandler.RunTask)
	schedGroup.Patch("/tasks/:name", schedulerHandler.UpdateSchedule)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("jobId"))
	}))

	// Orderly shutdown: stop the scheduler first so no new jobs arrive,
	// then abandon in-flight jobs and close the server.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		sched.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			log.Printf("Job manager shutdown error: %v", err)
		}
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
