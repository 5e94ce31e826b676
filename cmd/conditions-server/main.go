package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/conditions/conditions-server/internal/config"
	"github.com/conditions/conditions-server/internal/domain/conditions"
	"github.com/conditions/conditions-server/internal/platform/fhir"
	"github.com/conditions/conditions-server/internal/platform/middleware"
	"github.com/conditions/conditions-server/internal/platform/monitor"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "conditions-server",
		Short: "Condition history backend for the conversational tool surface",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(ingestCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Ingest the conditions file and serve the tool API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Run the ingestion pipeline and print system status, without serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := loadConfig(logger)
			if err != nil {
				return err
			}

			store := conditions.NewStore()
			ledger := monitor.NewLedger()
			if err := runIngestion(cfg, store, ledger, logger); err != nil {
				return err
			}

			status := ledger.SystemStatus(store.ActiveCount(), store.RemovedCount())
			logger.Info().
				Int("loaded", status.TotalConditionsLoaded).
				Int("active", status.TotalActive).
				Int("removed", status.TotalRemoved).
				Interface("quality_flags", status.QualityFlagsTotal).
				Msg("ingestion complete")
			return nil
		},
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func loadConfig(logger zerolog.Logger) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		logger.Error().Err(err).Msg("failed to load config")
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid config")
		return nil, err
	}
	return cfg, nil
}

// runIngestion loads the conditions file and feeds it through the pipeline
// in two deterministic batches, mirroring the day-1/day-2 arrival pattern
// of the source data.
func runIngestion(cfg *config.Config, store *conditions.Store, ledger *monitor.Ledger, logger zerolog.Logger) error {
	ingestLogger := logger.With().Str("component", "ingestion").Logger()

	inputs, err := fhir.LoadConditions(cfg.ConditionsFile)
	if err != nil {
		ingestLogger.Error().Err(err).Str("path", cfg.ConditionsFile).Msg("failed to load conditions")
		return err
	}
	ingestLogger.Info().Int("count", len(inputs)).Str("path", cfg.ConditionsFile).Msg("loaded raw conditions")

	batchOne, batchTwo := conditions.SplitIntoBatches(inputs, cfg.IngestSeed)
	conditions.IngestBatch(batchOne, 1, store, ledger, ingestLogger)
	ingestLogger.Info().Int("total", store.TotalCount()).Msg("store after batch 1")

	conditions.IngestBatch(batchTwo, 2, store, ledger, ingestLogger)
	ingestLogger.Info().Int("total", store.TotalCount()).Msg("store after batch 2")

	return nil
}

func runServer() error {
	logger := newLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	// Wire the store, ledger, and engines once and pass them down; no
	// ambient singletons.
	store := conditions.NewStore()
	ledger := monitor.NewLedger()
	corrections := conditions.NewEngine(store, ledger, logger)
	retriever := conditions.NewRetriever(store, ledger, logger)

	if err := runIngestion(cfg, store, ledger, logger); err != nil {
		return err
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})

	api := e.Group("/api", middleware.BearerAuth(cfg.APIToken))
	handler := conditions.NewHandler(retriever, corrections, cfg.MaxResultsDefault)
	handler.RegisterRoutes(api)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
