package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Satoappco/SatoApp-sub002/internal/logs"
	"github.com/Satoappco/SatoApp-sub002/internal/storage"
)

// runCheck prints every connection whose failure count crossed the
// retry threshold, most failures first.
func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Console only; a one-shot command should not rotate log files.
	cfg.Logging.EnableFile = false
	logger, err := logs.SetupLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, err := storage.NewManager(cfg.DataDir, logger.Sugar())
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	minFailures, _ := cmd.Flags().GetInt("min-failures")
	if minFailures <= 0 {
		minFailures = cfg.MaxFailures
	}

	conns, err := store.ListFailingConnections(minFailures)
	if err != nil {
		return fmt.Errorf("failed to list failing connections: %w", err)
	}

	if len(conns) == 0 {
		fmt.Printf("No connections with %d or more failures.\n", minFailures)
		return nil
	}

	fmt.Printf("%d connection(s) with %d or more failures:\n\n", len(conns), minFailures)
	for _, c := range conns {
		fmt.Printf("  %s  campaigner=%s  failures=%d  needs_reauth=%v\n", c.ID, c.CampaignerID, c.FailureCount, c.NeedsReauth)
		if c.FailureReason != "" {
			fmt.Printf("      reason: %s\n", c.FailureReason)
		}
		if c.LastFailureAt != nil {
			fmt.Printf("      last failure: %s\n", c.LastFailureAt.Format(time.RFC3339))
		}
	}
	return nil
}
