package cmd

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jjenkins/trialwatch/internal/config"
	"github.com/jjenkins/trialwatch/internal/logging"
	"github.com/jjenkins/trialwatch/internal/metrics"
	"github.com/jjenkins/trialwatch/internal/model"
	"github.com/jjenkins/trialwatch/internal/service"
)

var (
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "trialwatch",
	Short: "Clinical trial dashboard backed by ClinicalTrials.gov",
	Long: `TrialWatch retrieves clinical studies for a disease condition from the
ClinicalTrials.gov registry, normalizes them, and serves a filterable
dashboard of phases, recruitment status, sponsors and locations.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}

		logger, err = logging.New(cfg.Logging.Level)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to a YAML config file (default $TRIALWATCH_CONFIG)")
}

// newTrialService wires the registry client and the pipeline from cfg
func newTrialService(reg prometheus.Registerer) (*service.TrialService, error) {
	missingPhase, err := service.ParseMissingPhasePolicy(cfg.Filters.MissingPhase)
	if err != nil {
		return nil, err
	}

	m := metrics.New(reg)
	client := service.NewCTGovClient(service.ClientConfig{
		BaseURL:    cfg.Registry.BaseURL,
		Timeout:    cfg.Registry.Timeout,
		MaxRetries: cfg.Registry.MaxRetries,
		UserAgent:  cfg.Registry.UserAgent,
	}, logger.Named("ctgov"), m)

	return service.NewTrialService(client, service.TrialServiceConfig{
		PageSize:     cfg.Registry.PageSize,
		Freshness:    cfg.Cache.Freshness,
		MaxSnapshots: cfg.Cache.MaxSnapshots,
		MissingPhase: missingPhase,
	}, logger.Named("trials"), m), nil
}

func configuredQueries() []model.Query {
	queries := make([]model.Query, len(cfg.Queries))
	for i, q := range cfg.Queries {
		queries[i] = model.Query{Condition: q.Condition, Term: q.Term}
	}
	return queries
}
