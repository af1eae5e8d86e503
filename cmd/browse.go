package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"bucketview/internal/metrics"
	"bucketview/internal/progress"
)

var lsCmd = &cobra.Command{
	Use:   "ls <profile> [bucket]",
	Short: "List buckets, or objects within a bucket",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runLs,
}

var presignCmd = &cobra.Command{
	Use:   "presign <profile> <bucket> <key>",
	Short: "Generate a time-limited shareable URL for an object",
	Args:  cobra.ExactArgs(3),
	RunE:  runPresign,
}

var usageCmd = &cobra.Command{
	Use:   "usage <profile>",
	Short: "Show API usage over the trailing 72 hours",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsage,
}

var rmCmd = &cobra.Command{
	Use:   "rm <profile> <bucket> <key>",
	Short: "Delete an object, or one version of it",
	Args:  cobra.ExactArgs(3),
	RunE:  runRm,
}

var undeleteCmd = &cobra.Command{
	Use:   "undelete <profile> <bucket> <key>",
	Short: "Reactivate a soft-deleted object (Azure Blob only)",
	Args:  cobra.ExactArgs(3),
	RunE:  runUndelete,
}

func init() {
	lsCmd.Flags().String("prefix", "", "Object prefix filter")
	lsCmd.Flags().Bool("versions", false, "Include every version and delete marker")
	presignCmd.Flags().Duration("presign-expiry", time.Hour, "Expiry of the generated link")
	rmCmd.Flags().String("version-id", "", "Version to delete")
}

func runLs(cmd *cobra.Command, args []string) error {
	registry, ledger, collector, err := setup()
	if err != nil {
		return err
	}
	backend, err := openBackend(registry, ledger, collector, args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()

	if len(args) == 1 {
		buckets, err := backend.ListBuckets(ctx)
		if err != nil {
			return err
		}
		for _, b := range buckets {
			fmt.Println(b.Name)
		}
		return nil
	}

	prefix, _ := cmd.Flags().GetString("prefix")
	versions, _ := cmd.Flags().GetBool("versions")

	token := ""
	for {
		page, err := backend.ListObjects(ctx, args[1], prefix, token, versions)
		if err != nil {
			return err
		}
		for _, e := range page.Entries {
			marker := ""
			if e.IsDeleteMarker {
				marker = "  (delete marker)"
			} else if versions && !e.IsLatest {
				marker = "  (old version)"
			}
			fmt.Printf("%-12s  %s  %s%s\n",
				progress.FormatBytes(e.Size),
				e.LastModified.Format(time.RFC3339),
				e.Key, marker)
		}
		if page.NextToken == "" {
			return nil
		}
		token = page.NextToken
	}
}

func runPresign(cmd *cobra.Command, args []string) error {
	registry, ledger, collector, err := setup()
	if err != nil {
		return err
	}
	backend, err := openBackend(registry, ledger, collector, args[0])
	if err != nil {
		return err
	}

	expiry := cfg.Presign.Expiry
	if cmd.Flags().Changed("presign-expiry") {
		expiry, _ = cmd.Flags().GetDuration("presign-expiry")
	}

	url, err := backend.ShareURL(context.Background(), args[1], args[2], expiry)
	if err != nil {
		return err
	}
	fmt.Println(url)
	return nil
}

func runUsage(cmd *cobra.Command, args []string) error {
	ledger, err := metrics.NewLedger(cfg.Metrics.LedgerDir)
	if err != nil {
		return err
	}

	summary, err := ledger.Summarize(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("API usage for %s over the last %s:\n", summary.Profile, summary.Window)
	for _, rt := range []metrics.RequestType{
		metrics.RequestList, metrics.RequestGet, metrics.RequestPut,
		metrics.RequestDelete, metrics.RequestHead, metrics.RequestCopy,
	} {
		if n := summary.Counts[rt]; n > 0 {
			fmt.Printf("  %-7s %d\n", rt, n)
		}
	}
	fmt.Printf("  total   %d\n", summary.Total)
	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	registry, ledger, collector, err := setup()
	if err != nil {
		return err
	}
	backend, err := openBackend(registry, ledger, collector, args[0])
	if err != nil {
		return err
	}

	versionID, _ := cmd.Flags().GetString("version-id")
	return backend.DeleteObject(context.Background(), args[1], args[2], versionID)
}

func runUndelete(cmd *cobra.Command, args []string) error {
	registry, ledger, collector, err := setup()
	if err != nil {
		return err
	}
	backend, err := openBackend(registry, ledger, collector, args[0])
	if err != nil {
		return err
	}
	return backend.Undelete(context.Background(), args[1], args[2])
}
