package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jjenkins/trialwatch/internal/handlers"
)

const (
	warmTimeout     = 2 * time.Minute
	shutdownTimeout = 10 * time.Second
)

var port string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the TrialWatch web server",
	Long: `Start the web server. Configured queries are fetched in the background
at startup so the first page views are served from the cache.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&port, "port", "p", "", "Port to run the server on (overrides config and PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if port == "" {
		port = cfg.Server.Port
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	trials, err := newTrialService(reg)
	if err != nil {
		return err
	}
	defer trials.Close()

	queries := configuredQueries()
	def := queries[0]
	httpLogger := logger.Named("http")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Warm configured queries without delaying startup
	go func() {
		warmCtx, cancel := context.WithTimeout(ctx, warmTimeout)
		defer cancel()
		if err := trials.Warm(warmCtx, queries); err != nil {
			logger.Warn("cache warm-up incomplete", zap.Error(err))
			return
		}
		logger.Info("cache warmed", zap.Int("queries", len(queries)))
	}()

	app := fiber.New(fiber.Config{
		AppName:               "TrialWatch",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())

	// Routes
	app.Get("/", handlers.HomeHandler(trials, queries, httpLogger))

	// Trial routes
	app.Get("/trials", handlers.TrialsHandler(trials, def, httpLogger))
	app.Get("/trials/:id", handlers.TrialDetailHandler(trials, def, httpLogger))

	// Sponsor routes
	app.Get("/sponsors", handlers.SponsorsHandler(trials, def, httpLogger))

	// API routes
	api := app.Group("/api")
	api.Get("/trials", handlers.APITrialsHandler(trials, def, httpLogger))
	api.Get("/vocabulary", handlers.APIVocabularyHandler(trials, def, httpLogger))
	api.Post("/refresh", handlers.APIRefreshHandler(trials, def, httpLogger))

	app.Get("/metrics", handlers.MetricsHandler(reg))

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("starting server", zap.String("port", port), zap.String("default_query", def.String()))
	if err := app.Listen(":" + port); err != nil {
		return err
	}
	return nil
}
