package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/referral-api/internal/app"
	"github.com/jwalitptl/referral-api/internal/config"
	"github.com/jwalitptl/referral-api/internal/middleware"
	"github.com/jwalitptl/referral-api/internal/pipeline"
	"github.com/jwalitptl/referral-api/internal/repository/memory"
	"github.com/jwalitptl/referral-api/internal/repository/postgres"
	"github.com/jwalitptl/referral-api/internal/seed"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "referral-api",
		Short:         "Clinic referral pipeline API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
}

func runServer(cfg *config.Config) error {
	logger := app.NewLogger(cfg.Log)
	log.Logger = *logger.Zerolog()

	if err := middleware.RegisterValidation(middleware.ValidationConfig{}); err != nil {
		return fmt.Errorf("failed to register validators: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	gin.SetMode(gin.ReleaseMode)
	r := a.Router()

	var wg sync.WaitGroup
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	run(func(ctx context.Context) { r.RunMaintenance(ctx, time.Minute) })
	if cfg.Worker.Embedded && cfg.Pipeline.Mode == "queue" {
		run(a.BatchWorker().Start)
		run(a.Reaper().Start)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr, "mode", cfg.Pipeline.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "graceful shutdown failed")
	}
	stop()
	wg.Wait()
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *postgres.Migrator) error {
				n, err := m.Up(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
				return nil
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *postgres.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return err
				}
				for _, s := range statuses {
					state := "pending"
					if s.Applied && s.AppliedAt != nil {
						state = "applied " + s.AppliedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%03d  %-30s %s\n", s.Version, s.Name, state)
				}
				return nil
			})
		},
	})
	return cmd
}

func withMigrator(ctx context.Context, fn func(context.Context, *postgres.Migrator) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(ctx, postgres.NewMigrator(db))
}

func ingestCmd() *cobra.Command {
	var (
		userEmail string
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "ingest <file.csv>",
		Short: "Run a CSV export through the pipeline synchronously",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			logger := app.NewLogger(cfg.Log)

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer f.Close()

			payload, err := pipeline.Normalize(f, filepath.Base(args[0]))
			if err != nil {
				return err
			}
			if err := pipeline.ValidatePayload(payload); err != nil {
				return err
			}

			ctx := cmd.Context()
			var a *app.App
			if dryRun {
				// Nothing leaves the process: in-memory store, logged emails, demo catalog.
				cfg.Email.Driver = "log"
				cfg.Redis.URL = ""
				a, err = app.NewWithStore(cfg, logger, memory.NewStore())
				if err == nil {
					_, err = seed.NewSeeder(a.Store, a.Hasher, logger).Run(ctx, seed.Options{
						AdminEmail:    userEmail,
						AdminPassword: "dry-run-password",
						ClinicName:    "Dry run",
						ReviewURL:     "https://example.com/review",
						RewardCopy:    "Dry run reward",
					})
				}
			} else {
				a, err = app.New(ctx, cfg, logger)
			}
			if err != nil {
				return err
			}
			defer a.Close()

			uploader, err := a.Store.Users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(userEmail)))
			if err != nil {
				return fmt.Errorf("uploader %s not found: %w", userEmail, err)
			}

			result, err := a.Orchestrator.Run(ctx, payload, uploader.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}

	cmd.Flags().StringVar(&userEmail, "user", "admin@clinic.local", "email of the user recorded as uploader")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "process against an in-memory store without sending email")
	return cmd
}

func seedCmd() *cobra.Command {
	var (
		opts    seed.Options
		csvPath string
		rows    int
		csvSeed uint64
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the admin user, clinic settings and demo services",
		RunE: func(cmd *cobra.Command, args []string) error {
			if csvPath != "" {
				f, err := os.Create(csvPath)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", csvPath, err)
				}
				defer f.Close()
				if err := seed.WriteCSV(f, rows, csvSeed); err != nil {
					return fmt.Errorf("failed to write demo csv: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows to %s\n", rows, csvPath)
			}

			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			logger := app.NewLogger(cfg.Log)
			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := seed.NewSeeder(a.Store, a.Hasher, logger).Run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}

	cmd.Flags().StringVar(&opts.AdminEmail, "admin-email", "admin@clinic.local", "admin login")
	cmd.Flags().StringVar(&opts.AdminPassword, "admin-password", "changeme123", "admin password (min 8 characters)")
	cmd.Flags().StringVar(&opts.ClinicName, "clinic", "Demo Clinic", "clinic name")
	cmd.Flags().StringVar(&opts.ReviewURL, "review-url", "https://example.com/review", "review link used in emails")
	cmd.Flags().StringVar(&opts.RewardCopy, "reward-copy", "Give $20, get $20", "referral reward text")
	cmd.Flags().StringVar(&csvPath, "csv", "", "also write a fake appointments export to this path")
	cmd.Flags().IntVar(&rows, "rows", 100, "rows in the fake export")
	cmd.Flags().Uint64Var(&csvSeed, "csv-seed", 1, "random seed for the fake export")
	return cmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
