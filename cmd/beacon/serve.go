package main

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/beacon/internal/archive"
	"github.com/alfredjeanlab/beacon/internal/broker"
	"github.com/alfredjeanlab/beacon/internal/config"
	"github.com/alfredjeanlab/beacon/internal/lifecycle"
	"github.com/alfredjeanlab/beacon/internal/listener"
	"github.com/alfredjeanlab/beacon/internal/server"
	"github.com/alfredjeanlab/beacon/internal/taskqueue"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:               "serve",
	Short:             "Start the beacon server",
	GroupID:           "system",
	Args:              cobra.NoArgs,
	PersistentPreRunE: noClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		demo, _ := cmd.Flags().GetBool("demo")
		logger := newLogger(cmd)

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		st, err := openStore(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := st.Close(); err != nil {
				logger.Error("error closing store", "err", err)
			}
		}()

		backend, err := broker.NewBackend(cfg.Backend, cfg.BrokerOptions(logger), cfg.PublishLanes)
		if err != nil {
			return err
		}
		defer backend.Close()
		logger.Info("broker configured", "backend", cfg.Backend, "host", cfg.BackendHost, "vhost", cfg.BackendVHost)

		queue := taskqueue.New(cfg.Workers, logger)
		manager := lifecycle.NewManager(lifecycle.Config{
			Store:            st,
			Publishers:       backend,
			Tasks:            queue,
			ProgressThrottle: cfg.ProgressThrottle,
			Logger:           logger,
		})
		runner := lifecycle.NewRunner(manager, queue, st, logger)

		listeners := maps.Clone(cfg.Listeners)
		if listeners == nil {
			listeners = make(map[string]string)
		}
		if demo {
			if err := defineDemoTasks(runner); err != nil {
				return err
			}
			maps.Copy(listeners, demoListeners)
			logger.Info("demo tasks enabled", "tasks", queue.Names())
		}
		mapping, err := listener.NewMapping(listeners)
		if err != nil {
			return err
		}
		logger.Info("listeners configured", "types", mapping.Types())

		sweeper := archive.NewSweeper(st, archiveDestinations(cmd.Context(), cfg, logger), cfg.Retention(), logger)
		if cfg.PurgeSchedule != "" {
			if err := sweeper.Start(cfg.PurgeSchedule); err != nil {
				return err
			}
			defer sweeper.Stop()
			logger.Info("purge scheduled", "schedule", cfg.PurgeSchedule, "store_days", cfg.StoreDays)
		}

		srv := server.New(server.Config{
			Store:          st,
			Manager:        manager,
			Runner:         runner,
			Subscribers:    backend,
			Mapping:        mapping,
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         logger,
		})
		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		queue.Start()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown error", "err", err)
			}
			queue.Stop(shutdownCtx)
			return nil
		})

		err = g.Wait()
		logger.Info("shutdown complete")
		return err
	},
}

// archiveDestinations builds the export targets purged events are written
// to before deletion. A destination that fails to initialize is skipped.
func archiveDestinations(ctx context.Context, cfg *config.Config, logger *slog.Logger) []archive.Destination {
	var dests []archive.Destination
	if cfg.ArchiveS3Bucket != "" {
		d, err := archive.NewS3Destination(ctx, cfg.ArchiveS3Bucket, cfg.ArchiveS3Key, cfg.ArchiveS3Region, cfg.ArchiveS3Endpoint)
		if err != nil {
			logger.Error("failed to create S3 archive destination", "err", err)
		} else {
			dests = append(dests, d)
			logger.Info("archive S3 destination enabled", "bucket", cfg.ArchiveS3Bucket, "key", cfg.ArchiveS3Key)
		}
	}
	if cfg.ArchiveGitRepo != "" {
		dests = append(dests, archive.NewGitDestination(cfg.ArchiveGitRepo, cfg.ArchiveGitFile, cfg.ArchiveGitBranch))
		logger.Info("archive git destination enabled", "repo", cfg.ArchiveGitRepo, "file", cfg.ArchiveGitFile)
	}
	return dests
}

// newLogger writes text logs to stderr; --debug lowers the level.
func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func init() {
	serveCmd.Flags().Bool("demo", false, "register the demo.countdown and demo.fail tasks")
	serveCmd.Flags().Bool("debug", false, "enable debug logging")
}
