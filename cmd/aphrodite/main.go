package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/hibiken/asynq"

	"github.com/aphrodite-project/aphrodite/internal/activity"
	"github.com/aphrodite-project/aphrodite/internal/analytics"
	"github.com/aphrodite-project/aphrodite/internal/api"
	"github.com/aphrodite-project/aphrodite/internal/badges"
	"github.com/aphrodite-project/aphrodite/internal/config"
	"github.com/aphrodite-project/aphrodite/internal/db"
	"github.com/aphrodite-project/aphrodite/internal/detect"
	"github.com/aphrodite-project/aphrodite/internal/jobmanager"
	"github.com/aphrodite-project/aphrodite/internal/mediaserver"
	"github.com/aphrodite-project/aphrodite/internal/pipeline"
	"github.com/aphrodite-project/aphrodite/internal/progress"
	"github.com/aphrodite-project/aphrodite/internal/scheduler"
	"github.com/aphrodite-project/aphrodite/internal/store"
	"github.com/aphrodite-project/aphrodite/internal/worker"
)

const bannerArt = `
   _____       _                     _ _ _
  / ____|     | |                   | (_) |
 | |  __ _ __ | |_ __   __  ___ _ __| |_| |_ ___
 | | |_ | '_ \| | '_ \ / _|/ _ \ '__| | | __/ _ \
 | |__| | |_) | | | | | (_|  __/ |  | | | ||  __/
  \_____| .__/|_|_| |_|\__ \___|_|  |_|_|\__\___|
        | |                 __/ |
        |_|                |___/
`

func main() {
	fmt.Println(bannerArt)
	fmt.Println("  Poster badging workflow core")

	cfg := config.Load()

	conn, err := db.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer conn.Close()

	if err := db.Migrate(conn, "migrations"); err != nil {
		log.Fatalf("failed to apply migrations: %v", err)
	}

	jobStore := store.NewJobStore(conn)
	scheduleStore := store.NewScheduleStore(conn)
	activityStore := store.NewActivityStore(conn)

	media := mediaserver.New(cfg.MediaServer.BaseURL, cfg.MediaServer.APIKey, cfg.MediaServer.UserID)

	hub := progress.NewHub()
	bus := progress.NewBus(cfg.Redis.Address(), hub)
	ctx, cancelBus := context.WithCancel(context.Background())
	defer cancelBus()
	go func() {
		if err := bus.Listen(ctx); err != nil {
			log.Printf("progress bus listener stopped: %v", err)
		}
	}()

	tracker := activity.NewTracker(activityStore, cfg.Batch.SystemVersion)

	detectors := pipeline.Detectors{
		Audio:      detect.NewStreamAudioDetector(),
		Resolution: detect.NewWidthResolutionDetector(),
		Review:     detect.NewVoteThresholdReviewDetector(10),
		Awards:     detect.NewProviderAwardsDetector(),
	}
	composer := badges.NewStripeComposer()

	pl := pipeline.New(media, detectors, composer, tracker, cfg.Batch.PosterCacheDir, cfg.Batch.TempDir)

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Address()}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	manager := jobmanager.New(jobStore, asynqClient, hub, bus)
	sched := scheduler.New(scheduleStore, jobStore, media, manager, cfg.Batch.PollInterval)
	sched.Start()
	defer sched.Stop()

	analyticsSvc := analytics.New(activityStore)

	handler := worker.NewHandler(jobStore, pl, bus, hub, cfg.Batch.MaxConcurrentPosters, cfg.Batch.MaxAttemptsPerPoster)
	asynqServer := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Batch.MaxConcurrentJobs,
		Queues: map[string]int{
			"critical": 6,
			"default":  3,
			"low":      1,
		},
		StrictPriority: true,
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(worker.TaskProcessJob, handler.ProcessTask)

	go func() {
		if err := asynqServer.Run(mux); err != nil {
			log.Fatalf("asynq server failed: %v", err)
		}
	}()
	defer asynqServer.Shutdown()

	server := api.NewServer(manager, sched, scheduleStore, analyticsSvc, hub, cfg.JWTSecret)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	log.Printf("aphrodite listening on %s", addr)
	if err := http.ListenAndServe(addr, server); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}
