package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/coursard/messaging/internal/api"
	"github.com/coursard/messaging/internal/cache"
	"github.com/coursard/messaging/internal/client"
	"github.com/coursard/messaging/internal/config"
	"github.com/coursard/messaging/internal/protocol"
	"github.com/coursard/messaging/internal/repo"
	"github.com/coursard/messaging/internal/scheduler"
	"github.com/coursard/messaging/internal/service"
	"github.com/coursard/messaging/internal/session"
)

func main() {
	_ = godotenv.Load()

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadAll()
	if err != nil {
		return err
	}

	db, err := sql.Open("pgx", cfg.Database.PostgresURL)
	if err != nil {
		return err
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return err
	}

	store := repo.NewPostgresScheduledMessageRepo(db)
	inbox := repo.NewPostgresInboxEventRepo(db)

	wire := client.NewWhatsAppClient(cfg.WhatsApp.APIBaseURL, cfg.WhatsApp.PhoneNumberID, cfg.WhatsApp.AccessToken)
	tracker := session.NewTracker(inbox)

	proto := protocol.New(wire, tracker, inbox, protocol.Config{
		Sender:           cfg.WhatsApp.PhoneNumberID,
		WelcomeTemplate:  cfg.WhatsApp.WelcomeTemplate,
		FallbackTemplate: cfg.WhatsApp.FallbackTemplate,
		DefaultLanguage:  cfg.WhatsApp.DefaultLanguage,
	})

	dispatcher := service.NewDispatcher(store, proto, cfg.Dispatch.BatchSize, cfg.Dispatch.Concurrency)

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		sentCache := cache.NewRedisCache(rdb, cfg.Redis.TTL)
		dispatcher.WithSentHook(sentCache.StoreSent)
	}

	sched, err := scheduler.New(cfg.Scheduler.Interval, cfg.Scheduler.Deadline, func(ctx context.Context) {
		summary, err := dispatcher.Run(ctx)
		if err != nil {
			slog.Error("dispatch run failed", "error", err)
			return
		}
		if summary.Processed > 0 {
			slog.Info("dispatch run finished",
				"processed", summary.Processed,
				"succeeded", summary.Succeeded,
				"failed", summary.Failed,
			)
		}
	})
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	h := api.NewHandler(sched, dispatcher, store, inbox, cfg.WhatsApp.VerifyToken)

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           api.Router(h, cfg.Trigger.Token),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening",
			"addr", cfg.Server.Address,
			"interval", cfg.Scheduler.Interval,
			"batch", cfg.Dispatch.BatchSize,
			"redis", cfg.Redis.Enabled,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		slog.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}
