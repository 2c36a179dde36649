// Command reconcile runs one sweep comparing post rows against the image tree
// and prints the report as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"marketplace/internal/bootstrap"
	"marketplace/internal/config"
	"marketplace/internal/service"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	dryRun := flag.Bool("dry-run", false, "Report drift without fixing anything")
	removeOrphans := flag.Bool("remove-orphans", false, "Delete post directories that have no row")
	staleAfter := flag.Duration("stale-after", service.DefaultStaleAfter, "Age after which staging and trash entries are purged")
	timeout := flag.Duration("timeout", 10*time.Minute, "Abort the sweep after this long")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rt, err := bootstrap.InitRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	report, err := rt.Reconciler().Sweep(ctx, service.SweepOptions{
		DryRun:        *dryRun,
		RemoveOrphans: *removeOrphans,
		StaleAfter:    *staleAfter,
	})
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if len(report.Errors) > 0 {
		return fmt.Errorf("sweep finished with %d errors", len(report.Errors))
	}
	return nil
}
