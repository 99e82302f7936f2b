package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/gurumnyang/dccon-exporter/internal/dccon"
	"github.com/gurumnyang/dccon-exporter/internal/http/handlers"
	"github.com/gurumnyang/dccon-exporter/internal/http/httpapi"
	"github.com/gurumnyang/dccon-exporter/internal/infra"
	"github.com/gurumnyang/dccon-exporter/internal/queue"
)

func main() {
	// Load .env (optional)
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	client := dccon.NewClient(dccon.Options{
		BaseURL:      cfg.DcconBaseURL,
		ImageBaseURL: cfg.DcconImageBaseURL,
		UserAgent:    cfg.DcconUserAgent,
		Logger:       &logger,
	})
	fetcher := dccon.NewFetcher(client, &logger)

	svc := queue.NewService(fetcher.Fetch, &logger,
		queue.WithRetention(cfg.JobRetention),
		queue.WithSessionCap(cfg.SessionJobCap),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	svc.Start(ctx)

	app := handlers.NewApp(&logger, svc)
	router := httpapi.NewRouter(app, cfg, logger)
	server := infra.NewHTTPServer(cfg, router, logger)

	if err := server.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("http server failed")
	}
}
