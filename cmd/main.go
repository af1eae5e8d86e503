package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bucketview/internal/config"
	"bucketview/internal/logger"
	"bucketview/internal/metrics"
	"bucketview/internal/profile"
	"bucketview/internal/storage"
)

var (
	configFile string
	cfg        *config.Config
	log        *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "bucketview",
	Short: "Browse and migrate objects across S3-compatible and Azure Blob storage",
	Long: `The storage core behind the bucketview browser: list buckets and objects,
generate shareable links, report API usage, and run concurrent, resumable
migrations between any two configured connection profiles.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configFile, cmd.Flags())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		log, err = logger.New(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			log.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug/info/warn/error)")
	rootCmd.PersistentFlags().String("ledger-dir", "./usage", "Usage ledger directory")

	rootCmd.AddCommand(migrateCmd, resumeCmd, lsCmd, presignCmd, usageCmd, rmCmd, undeleteCmd)
}

// openBackend resolves a profile and wraps its backend so every API call is
// counted in the usage ledger.
func openBackend(registry *profile.Registry, ledger *metrics.Ledger, collector *metrics.Collector, name string) (storage.Backend, error) {
	p, ep, err := registry.Resolve(name)
	if err != nil {
		return nil, err
	}

	tuning := storage.DefaultTuning()
	tuning.MultipartThreshold = cfg.Migration.MultipartThreshold
	tuning.PartSize = cfg.Migration.PartSize

	backend, err := storage.New(p, ep, tuning)
	if err != nil {
		return nil, fmt.Errorf("profile %q: %w", name, err)
	}
	return metrics.InstrumentBackend(backend, name, ledger, collector), nil
}

func setup() (*profile.Registry, *metrics.Ledger, *metrics.Collector, error) {
	registry, err := cfg.Registry()
	if err != nil {
		return nil, nil, nil, err
	}
	ledger, err := metrics.NewLedger(cfg.Metrics.LedgerDir)
	if err != nil {
		return nil, nil, nil, err
	}
	return registry, ledger, metrics.NewCollector(), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
