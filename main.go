package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/assoctools/rolesync/config"
	"github.com/assoctools/rolesync/controller"
	"github.com/assoctools/rolesync/discord"
	"github.com/assoctools/rolesync/helloasso"
	"github.com/assoctools/rolesync/repository"
	"github.com/assoctools/rolesync/service"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the YAML config")
	flag.Parse()

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if level, err := zerolog.ParseLevel(v); err == nil {
			zerolog.SetGlobalLevel(level)
		}
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	store, closeStore, err := newStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init member store")
	}
	defer closeStore()

	client := helloasso.NewClient(cfg.HelloAsso)

	gateway, err := discord.NewGateway(cfg.Discord)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init discord gateway")
	}

	var webhook *discord.Webhook
	if cfg.Discord.WebhookURL != "" {
		webhook, err = discord.NewWebhook(gateway.Session(), cfg.Discord.WebhookURL, cfg.Discord.Dry)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init report webhook")
		}
	}

	reportService := service.NewReportService()
	engine := service.NewSyncService(
		cfg,
		client,
		gateway,
		store,
		service.NewRosterService(),
		service.NewMessageService(cfg.Membership),
	)

	runOnce := func() error {
		report, err := engine.Run(context.Background())
		if err != nil {
			return err
		}

		reportService.SetLatest(report)
		text := reportService.Render(report)
		fmt.Print(text)

		if webhook != nil {
			if err := webhook.SendEmbed("Membership sync", text); err != nil {
				log.Warn().Err(err).Msg("failed to deliver report webhook")
			}
		}
		return nil
	}

	if cfg.Sync.Interval <= 0 {
		if err := runOnce(); err != nil {
			log.Fatal().Err(err).Msg("sync failed")
		}
		return
	}

	// Interval mode: reconcile on a ticker and serve the latest report.
	// Runs never overlap; a tick arriving mid-run is skipped.
	var running sync.Mutex
	go func() {
		ticker := time.NewTicker(cfg.Sync.Interval)
		defer ticker.Stop()

		for ; ; <-ticker.C {
			if !running.TryLock() {
				log.Warn().Msg("previous sync still running, skipping tick")
				continue
			}
			if err := runOnce(); err != nil {
				log.Error().Err(err).Msg("sync failed")
			}
			running.Unlock()
		}
	}()

	reportController := &controller.ReportController{ReportService: reportService}

	r := gin.Default()
	r.GET("/report", reportController.Report)
	r.GET("/healthz", reportController.Health)

	if err := r.Run(cfg.Sync.ListenAddr); err != nil {
		log.Fatal().Err(err).Msg("http server failed")
	}
}

func newStore(cfg *config.Config) (service.MemberStore, func(), error) {
	if cfg.Storage.MongoDBURI == "" {
		return repository.NewFileRepository(cfg.Storage.SaveFile), func() {}, nil
	}

	mongoClient, err := mongo.Connect(options.Client().ApplyURI(cfg.Storage.MongoDBURI))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}

	closeStore := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = mongoClient.Disconnect(ctx)
	}

	return repository.NewMemberRepository(mongoClient, cfg.Storage.MongoDBName), closeStore, nil
}
