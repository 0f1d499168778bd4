package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/tradesim/internal/api"
	"github.com/newthinker/tradesim/internal/event"
	"github.com/newthinker/tradesim/internal/logger"
	"github.com/newthinker/tradesim/internal/metrics"
	"github.com/newthinker/tradesim/internal/session"
	store "github.com/newthinker/tradesim/internal/storage/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tradesim session server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.Must(debug)
	defer log.Sync()

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}
	if !debug && cfg.Logging.Level != "" {
		log, err = logger.NewWithLevel(cfg.Server.Mode == "development", cfg.Logging.Level)
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		defer log.Sync()
	}

	source, err := newSource(cfg.Data)
	if err != nil {
		return err
	}
	maker, err := newMaker(cfg.LLM, log)
	if err != nil {
		return fmt.Errorf("building decision maker: %w", err)
	}

	st := store.NewMemoryStore()
	bus := event.NewBus(log)
	registry := session.NewRegistry(st, bus, cfg.Session.MaxConcurrent, log)

	archiver, err := newArchiver(cfg.Archive)
	if err != nil {
		return fmt.Errorf("building archive: %w", err)
	}
	if archiver != nil {
		registry.SetResultConsumer(archiver)
		log.Info("result archiving enabled", zap.String("type", cfg.Archive.Type))
	}

	var reg *metrics.Registry
	if cfg.Metrics.Enabled {
		reg = metrics.NewRegistry()
		registry.SetMetrics(reg)
	}

	log.Info("starting tradesim server",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("source", source.Name()),
		zap.String("maker", maker.Name()),
	)

	server := api.NewServer(api.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		APIKey:      cfg.Server.APIKey,
		MetricsPath: cfg.Metrics.Path,
		Metrics:     reg,
	}, api.Deps{
		Registry: registry,
		Store:    st,
		Source:   source,
		Maker:    maker,
		Defaults: cfg.Session,
		Risk:     cfg.Risk,
	}, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Error("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down tradesim server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return err
	}

	// Stop running sessions so their state is checkpointed before exit.
	registry.Shutdown()
	return nil
}
