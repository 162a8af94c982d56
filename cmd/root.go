// Package cmd wires configuration and the serve command.
package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaot623/conductor/internal/adapter/llm"
	"github.com/xiaot623/conductor/internal/config"
	"github.com/xiaot623/conductor/internal/pipeline"
	store "github.com/xiaot623/conductor/internal/repository"
	"github.com/xiaot623/conductor/internal/service"
	"github.com/xiaot623/conductor/internal/stage"
	"github.com/xiaot623/conductor/internal/telemetry"
	handler "github.com/xiaot623/conductor/internal/transport/http"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Document-to-plan generation service",
	Long: "conductor ingests research documents and runs a four-stage pipeline " +
		"(coordinator, planner, decomposer, reviewer) that produces a reviewed, " +
		"exportable execution plan, streaming progress over SSE.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "path to config file (default ./conductor.yaml)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log.Printf("Starting conductor...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)

	// Telemetry
	buf := telemetry.NewBuffer(cfg.LogBufferCapacity)
	rootLogger := telemetry.NewLogger(buf, cfg.PromptAuditPath)
	agg := telemetry.NewAggregator(buf)

	// Store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer db.Close()

	// Generation backend, nil when unconfigured
	gen := llm.NewGenerator(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMTimeout)

	// Pipeline
	orch := pipeline.New(pipeline.Options{
		Store:        db,
		Coordinator:  stage.NewCoordinator(gen, rootLogger.Named("coordinator")),
		Planner:      stage.NewPlanner(gen, rootLogger.Named("planner")),
		Decomposer:   stage.NewDecomposer(gen, rootLogger.Named("decomposer")),
		Reviewer:     stage.NewReviewer(rootLogger.Named("reviewer")),
		Logger:       rootLogger,
		StageTimeout: cfg.StageTimeout,
	})

	svc := service.New(db, orch, rootLogger, cfg)

	e := handler.NewServer(svc, buf, agg)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Printf("API started on port %d", cfg.HTTPPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down conductor...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}
	log.Println("Conductor stopped")
	return nil
}
