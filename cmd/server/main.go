package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron"

	config "github.com/crosspostr/crosspostr/configs"
	"github.com/crosspostr/crosspostr/internal/api/handlers"
	"github.com/crosspostr/crosspostr/internal/api/middleware"
	job "github.com/crosspostr/crosspostr/internal/jobs"
	"github.com/crosspostr/crosspostr/internal/platforms"
	"github.com/crosspostr/crosspostr/internal/queue"
	"github.com/crosspostr/crosspostr/internal/repository"
	"github.com/crosspostr/crosspostr/internal/scheduler"
	"github.com/crosspostr/crosspostr/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	client := asynq.NewClient(redisConn)
	defer client.Close()

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		BodyLimit:    100 * 1024 * 1024, // 100 MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	postRepo := repository.NewPostRepository(db)
	socialAccountRepo := repository.NewSocialAccountRepository(db)
	targetAccountRepo := repository.NewTargetAccountRepository(db)
	publishResultRepo := repository.NewPublishResultRepository(db)
	mediaAssetRepo := repository.NewMediaAssetRepository(db)
	postMediaRepo := repository.NewPostMediaRepository(db)

	registry := platforms.NewRegistry(*cfg)

	mediaService := service.NewMediaService(*cfg, mediaAssetRepo)
	postService := service.NewPostService(db, postRepo, targetAccountRepo, socialAccountRepo, mediaAssetRepo, postMediaRepo, publishResultRepo, mediaService)
	connectionService := service.NewConnectionService(*cfg, registry, socialAccountRepo, targetAccountRepo, publishResultRepo)

	sched := scheduler.New(*cfg, registry, postRepo, targetAccountRepo, socialAccountRepo, publishResultRepo, postMediaRepo, mediaAssetRepo)

	authMiddleware := middleware.NewAuthMiddleware(*cfg)

	platform := handlers.NewPlatformHandler(connectionService, *cfg)
	app.Get("/auth/:platform/callback", platform.CallbackHandler)

	schedulerHandler := handlers.NewSchedulerHandler(sched, *cfg)
	app.Post("/internal/scheduler/run", schedulerHandler.RunScheduler)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	app.Get("/auth/:platform", authMiddleware.AuthMiddleware(), platform.ConnectAccount)

	post := handlers.NewPostHandler(postService, sched, client)
	api.Post("/posts/create", post.CreatePost)
	api.Get("/posts", post.ListPosts)
	api.Post("/posts/publish", post.PublishPost)
	api.Post("/posts/remove", post.RemovePost)

	api.Get("/accounts", platform.ListSocialAccounts)
	api.Post("/accounts/remove", platform.DeleteSocialAccount)

	asset := handlers.NewAssetHandler(mediaService)
	api.Post("/assets/remove", asset.RemoveAsset)

	// cron jobs: token refresh plus the sweep pass that recovers posts the
	// queue missed and stale claims from crashed invocations
	refreshTokenJob := job.NewTokenRefreshJob(*cfg, registry, socialAccountRepo)

	c := cron.New()
	c.AddFunc("@every 00h10m00s", refreshTokenJob.RefreshTokens)
	c.AddFunc("@every 00h02m00s", func() {
		summary, err := sched.Run(context.Background())
		if err != nil {
			log.Printf("scheduler sweep failed: %v", err)
			return
		}
		if summary.Processed > 0 {
			log.Printf("scheduler sweep: %+v", summary)
		}
	})
	c.Start()

	queueWorker := queue.NewWorker(sched)

	go func() {
		server := asynq.NewServer(redisConn, asynq.Config{
			Concurrency: 10,
		})

		mux := asynq.NewServeMux()
		mux.HandleFunc(queue.TaskTypePublishPost, queueWorker.HandlePublishPostTask)

		log.Println("Starting the Asynq server...")
		if err := server.Run(mux); err != nil {
			log.Fatalf("Could not start Asynq server: %v", err)
		}
	}()

	go func() {
		if err := app.Listen(":3000"); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Println("Server is running on http://localhost:3000")

	gracefulShutdown(app, db)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, db *sql.DB) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down server...")

	if err := app.Shutdown(); err != nil {
		log.Fatalf("Failed to shut down server: %v", err)
	}

	closeDB(db)
	log.Println("Server shutdown complete.")
}
