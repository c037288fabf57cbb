package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jwebster45206/timeline-summary/internal/config"
	"github.com/jwebster45206/timeline-summary/internal/logger"
)

var (
	envFile string
	port    string

	rootCmd = &cobra.Command{
		Use:   "timeline-summary",
		Short: "Summarize game-match timelines with language models",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env file is fine; the environment may be set already
			_ = godotenv.Load(envFile)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), true, true)
		},
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the summarization workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), true, true)
		},
	}

	apiCmd = &cobra.Command{
		Use:   "api",
		Short: "Run the HTTP API only",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), true, false)
		},
	}

	workerCmd = &cobra.Command{
		Use:   "worker",
		Short: "Run the summarization workers only",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), false, true)
		},
	}

	seedCmd = &cobra.Command{
		Use:   "seed <file.json>...",
		Short: "Merge match records from JSON files into the store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := openStore(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			total := 0
			for _, path := range args {
				n, err := seedFile(ctx, store, path)
				if err != nil {
					return err
				}
				log.Info("Seeded records", "file", path, "records", n)
				total += n
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d records\n", total)
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to a .env file")
	rootCmd.PersistentFlags().StringVar(&port, "port", "", "listen port, overrides PORT")
	rootCmd.AddCommand(serveCmd, apiCmd, workerCmd, seedCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if port != "" {
		cfg.Port = port
	}
	return cfg, logger.Setup(cfg), nil
}

// run starts the requested surfaces and blocks until ctx is cancelled
func run(ctx context.Context, withAPI, withWorkers bool) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	log.Info("Starting timeline summary",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"store", cfg.StoreDriver,
		"models", cfg.ModelNames(),
		"primary_model", cfg.PrimaryModel,
		"api", withAPI,
		"workers", withWorkers)

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize", "error", err)
		return err
	}
	defer a.Close()

	if withWorkers {
		warmCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		if err := a.registry.WarmupAll(warmCtx); err != nil {
			log.Warn("Some models failed to warm up; the first generation will warm up again", "error", err)
		}
		cancel()
	}

	g, ctx := errgroup.WithContext(ctx)

	if withWorkers {
		pool := a.pool()
		g.Go(func() error {
			return pool.Run(ctx)
		})
	}

	if withAPI {
		server := &http.Server{
			Addr:        ":" + cfg.Port,
			Handler:     a.router(),
			ReadTimeout: 15 * time.Second,
			IdleTimeout: 60 * time.Second,
		}

		g.Go(func() error {
			log.Info("Server starting", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			log.Info("Server is shutting down...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			return nil
		})
	}

	err = g.Wait()
	if err != nil {
		log.Error("Exited with error", "error", err)
		return err
	}
	log.Info("Server exited")
	return nil
}
