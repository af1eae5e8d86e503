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

	"bucketview/internal/checkpoint"
	"bucketview/internal/engine"
	"bucketview/internal/progress"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy objects from one profile's bucket to another's",
	RunE:  runMigrate,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a paused or interrupted migration from its checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

func init() {
	for _, cmd := range []*cobra.Command{migrateCmd, resumeCmd} {
		cmd.Flags().Int("concurrency", 16, "Number of concurrent workers")
		cmd.Flags().Int64("multipart-threshold", 104857600, "Multipart upload threshold in bytes")
		cmd.Flags().Int64("part-size", 67108864, "Multipart part size in bytes")
		cmd.Flags().Int64("chunk-size", 1048576, "Streaming chunk size in bytes")
		cmd.Flags().Int("retries", 5, "Maximum retry attempts")
		cmd.Flags().Int("retry-backoff-ms", 500, "Initial retry backoff in milliseconds")
		cmd.Flags().Int64("bandwidth-limit", 0, "Aggregate bandwidth cap in bytes/sec (0 = unlimited)")
		cmd.Flags().Int("failure-tolerance", 0, "Failed objects tolerated before the job is marked failed")
		cmd.Flags().String("checkpoint", "./checkpoint.db", "Checkpoint database file")
		cmd.Flags().Bool("skip-existing", true, "Skip objects already present with same size/etag")
		cmd.Flags().Bool("verify", false, "Verify size/etag of copied objects")
		cmd.Flags().Bool("show-progress", true, "Show periodic progress output")
		cmd.Flags().String("metrics-addr", ":8080", "Prometheus listen address")
	}

	migrateCmd.Flags().String("src-profile", "", "Source profile name (required)")
	migrateCmd.Flags().String("src-bucket", "", "Source bucket (required)")
	migrateCmd.Flags().String("src-prefix", "", "Source object prefix")
	migrateCmd.Flags().String("dst-profile", "", "Target profile name (required)")
	migrateCmd.Flags().String("dst-bucket", "", "Target bucket (required)")
	migrateCmd.Flags().String("dst-prefix", "", "Target object prefix")
	migrateCmd.Flags().String("object", "", "Single object key instead of a prefix walk")
	migrateCmd.Flags().Bool("dry-run", false, "List objects without migrating")
}

func tuningSpec() engine.JobSpec {
	return engine.JobSpec{
		Concurrency:      cfg.Migration.Concurrency,
		BandwidthLimit:   cfg.Migration.BandwidthLimit,
		Retries:          cfg.Migration.Retries,
		RetryBackoffMs:   cfg.Migration.RetryBackoffMs,
		ChunkSize:        cfg.Migration.ChunkSize,
		FailureTolerance: cfg.Migration.FailureTolerance,
		SkipExisting:     cfg.Migration.SkipExisting,
		Verify:           cfg.Migration.Verify,
		DryRun:           cfg.Migration.DryRun,
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	spec := tuningSpec()
	spec.SourceProfile, _ = cmd.Flags().GetString("src-profile")
	spec.SourceBucket, _ = cmd.Flags().GetString("src-bucket")
	spec.SourcePrefix, _ = cmd.Flags().GetString("src-prefix")
	spec.TargetProfile, _ = cmd.Flags().GetString("dst-profile")
	spec.TargetBucket, _ = cmd.Flags().GetString("dst-bucket")
	spec.TargetPrefix, _ = cmd.Flags().GetString("dst-prefix")
	spec.SingleObject, _ = cmd.Flags().GetString("object")

	return runJob(spec, "")
}

func runResume(cmd *cobra.Command, args []string) error {
	return runJob(tuningSpec(), args[0])
}

func runJob(spec engine.JobSpec, resumeID string) error {
	registry, ledger, collector, err := setup()
	if err != nil {
		return err
	}

	store, err := checkpoint.NewSQLiteStore(cfg.Migration.Checkpoint)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	defer store.Close()

	source, err := openBackend(registry, ledger, collector, sourceProfileFor(spec, resumeID, store))
	if err != nil {
		return err
	}
	target, err := openBackend(registry, ledger, collector, targetProfileFor(spec, resumeID, store))
	if err != nil {
		return err
	}

	eng := engine.New(source, target, store, collector, log)

	go func() {
		if err := collector.StartServer(cfg.Metrics.ListenAddr); err != nil {
			log.Error("Failed to start metrics server", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, pausing migration...")
		cancel()
	}()

	var display *progress.Display
	if cfg.Migration.ShowProgress && !cfg.Migration.DryRun {
		display = progress.NewDisplay(eng.Snapshot, 2*time.Second)
		display.Start()
	}

	var manifest *engine.Manifest
	if resumeID != "" {
		manifest, err = eng.Resume(ctx, resumeID, spec)
	} else {
		var job *engine.Job
		job, err = eng.Submit(spec)
		if err == nil {
			log.Info("Job submitted", zap.String("job_id", job.ID))
			manifest, err = eng.Run(ctx, job)
		}
	}

	if display != nil {
		display.Stop()
	}

	if manifest != nil {
		printManifest(manifest)
	}
	return err
}

// sourceProfileFor and targetProfileFor look up the routing profiles, which
// come from the stored job record when resuming.
func sourceProfileFor(spec engine.JobSpec, resumeID string, store checkpoint.Store) string {
	if resumeID == "" {
		return spec.SourceProfile
	}
	if record, err := store.GetJob(resumeID); err == nil && record != nil {
		return record.SourceProfile
	}
	return spec.SourceProfile
}

func targetProfileFor(spec engine.JobSpec, resumeID string, store checkpoint.Store) string {
	if resumeID == "" {
		return spec.TargetProfile
	}
	if record, err := store.GetJob(resumeID); err == nil && record != nil {
		return record.TargetProfile
	}
	return spec.TargetProfile
}

func printManifest(m *engine.Manifest) {
	fmt.Printf("\njob %s: %s\n", m.JobID, m.State)
	fmt.Printf("  succeeded: %d  failed: %d  skipped: %d  verify failed: %d\n",
		m.Succeeded, m.Failed, m.Skipped, m.VerifyFailed)
	for _, o := range m.Outcomes {
		if o.Status == "failed" || o.Status == "verify_failed" {
			fmt.Printf("  %-13s %s: %s\n", o.Status, o.Key, o.Error)
		}
	}
}
