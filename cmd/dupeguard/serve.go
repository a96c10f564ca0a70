package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dupeguard/internal/channels/telegram"
	"dupeguard/internal/config"
	"dupeguard/internal/dedup"
	"dupeguard/internal/maintenance"
	"dupeguard/internal/monitoring"
	"dupeguard/internal/ratelimit"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Telegram bot",
	Long: `Start the bot in polling or webhook mode. Known chats are loaded from
storage before the first update is handled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	cfg := env.config
	if cfg.Telegram.BotToken == "" {
		return fmt.Errorf("telegram bot token is not set (telegram.bot_token or TELEGRAM_BOT_TOKEN)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal: %v", sig)
		cancel()
	}()

	metrics := monitoring.NewMetrics()
	svc, err := dedup.New(ctx, cfg, env.dataDir.Root(), metrics)
	if err != nil {
		return fmt.Errorf("failed to create dedup service: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Printf("Failed to close storage: %v", err)
		}
	}()
	svc.SetVerbose(cfg.Debug.VerboseLogging || verbose)

	storageRoot := cfg.StorageRoot(env.dataDir.Root())
	preload(ctx, svc, cfg.Storage.Backend, storageRoot)

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.ListenAddr, svc.Health); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[Metrics] Server error: %v", err)
			}
		}()
	}

	scheduler := newScheduler(cfg, storageRoot, false, metrics)
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start maintenance: %w", err)
	}
	defer scheduler.Stop()

	opts := telegram.Options{Observer: metrics}
	if rl := cfg.RateLimiting; rl.Enabled {
		limiter := ratelimit.NewSlidingWindow(
			time.Duration(rl.WindowSeconds)*time.Second,
			rl.MaxRequests,
			time.Duration(rl.CleanupIntervalSeconds)*time.Second,
		)
		defer limiter.Stop()
		opts.Limiter = limiter
	}

	adapter := telegram.NewAdapter(cfg.Telegram, cfg.Extensions(), svc, opts)
	if err := adapter.Start(ctx); err != nil {
		return fmt.Errorf("failed to start telegram adapter: %w", err)
	}

	<-ctx.Done()
	if err := adapter.Stop(); err != nil {
		log.Printf("[Telegram] Stop error: %v", err)
	}
	log.Println("Bot stopped gracefully")
	return nil
}

// preload rehydrates every chat found in storage. A chat that fails to
// load is logged and retried on its next image.
func preload(ctx context.Context, svc *dedup.Service, backend, root string) {
	chats, err := dedup.DiscoverChats(backend, root)
	if err != nil {
		log.Printf("Skipping preload: %v", err)
		return
	}
	for _, chat := range chats {
		n, err := svc.Load(ctx, chat)
		if err != nil {
			log.Printf("Failed to load chat %d: %v", chat, err)
			continue
		}
		log.Printf("Loaded chat %d with %d images", chat, n)
	}
}

// newScheduler registers the maintenance tasks that fit the backend.
func newScheduler(cfg *config.Config, storageRoot string, repair bool, reporter maintenance.Reporter) *maintenance.Scheduler {
	scheduler := maintenance.NewScheduler(maintenance.Config{
		Enabled:  cfg.Maintenance.Enabled,
		Schedule: cfg.Maintenance.Schedule,
	}, log.Default())

	switch cfg.Storage.Backend {
	case config.BackendFile:
		scheduler.RegisterTask(maintenance.NewStorageAudit(storageRoot, repair, reporter, log.Default()))
	case config.BackendSQLite:
		scheduler.RegisterTask(maintenance.NewSQLiteMaintenance(storageRoot, repair, reporter, log.Default()))
	}
	return scheduler
}
