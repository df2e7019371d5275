package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/giftworks/telegift/telegift"
	"github.com/giftworks/telegift/telegift/database"
	"github.com/giftworks/telegift/telegift/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	customHandler := logger.NewHandler("Telegift")
	slog.SetDefault(slog.New(customHandler))

	slog.Info("Starting Telegift",
		slog.String("version", version),
		slog.String("commit", commit))

	path := flag.String("config", "config.toml", "path to config")
	flag.Parse()

	cfg, err := telegift.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}

	// Reinstall the handler at the configured level; startup up to here
	// logged at the debug default.
	slog.SetDefault(slog.New(logger.NewHandlerWithOptions("Telegift", &slog.HandlerOptions{
		Level:     cfg.Log.Level,
		AddSource: cfg.Log.AddSource,
	})))
	slog.Info("Configuration loaded successfully")

	slog.Info("Initializing database connection...")
	dbStartTime := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, database.DBConfig{
		Host:         cfg.DB.Host,
		Port:         cfg.DB.Port,
		User:         cfg.DB.User,
		Password:     cfg.DB.Password,
		Database:     cfg.DB.Database,
		PoolSize:     cfg.DB.PoolSize,
		MaxIdleConns: cfg.DB.MaxIdleConns,
		MaxLifetime:  cfg.DB.MaxLifetime,
	})
	if err != nil {
		slog.Error("Database connection failed",
			slog.String("error", err.Error()),
			slog.Duration("attempted_for", time.Since(dbStartTime)))
		os.Exit(-1)
	}
	defer db.Close()

	slog.Info("Database connected successfully",
		slog.String("database", cfg.DB.Database),
		slog.Duration("took", time.Since(dbStartTime)))

	if err := db.InitializeSchema(ctx); err != nil {
		slog.Error("Failed to initialize database schema", slog.String("error", err.Error()))
		os.Exit(-1)
	}

	app := telegift.New(*cfg, version, commit)
	app.DB = db
	if err := app.Setup(); err != nil {
		slog.Error("Failed to set up application", slog.String("error", err.Error()))
		os.Exit(-1)
	}

	app.StartBackground(ctx)
	go app.Gateway.Start(ctx)

	go func() {
		slog.Info("Starting API server", slog.String("addr", cfg.Server.Addr))
		if err := app.Server.Listen(cfg.Server.Addr); err != nil {
			slog.Error("API server stopped", slog.String("error", err.Error()))
			cancel()
		}
	}()

	slog.Info("Telegift is running. Press CTRL-C to exit.")
	s := make(chan os.Signal, 1)
	signal.Notify(s, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-s:
	case <-ctx.Done():
	}

	slog.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := app.Server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", slog.String("error", err.Error()))
	}
	slog.Info("Shutdown complete")
}
