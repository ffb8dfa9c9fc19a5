package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/factory_backend/config"
	"bitbucket.org/mmdatafocus/factory_backend/models"
	"bitbucket.org/mmdatafocus/factory_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Sweeps snapshot keys and reconciles each against its ledger. Intended for
// cron; each key runs in its own transaction so one bad key cannot hold its
// row lock or roll back the rest of the sweep.
func main() {
	workspaceID := flag.String("workspace-id", "", "Required: workspace id (uuid)")
	surfaceName := flag.String("surface", "", "Optional: one surface (storage, machine, damaged, project_component, finished_goods); defaults to all")
	continueOnError := flag.Bool("continue-on-error", true, "Skip failing keys and continue")
	flag.Parse()

	if strings.TrimSpace(*workspaceID) == "" {
		fmt.Fprintln(os.Stderr, "--workspace-id is required")
		os.Exit(1)
	}

	surfaces := models.AllSurfaces()
	if strings.TrimSpace(*surfaceName) != "" {
		surface, err := models.ParseSurface(strings.TrimSpace(*surfaceName))
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid surface %q\n", *surfaceName)
			os.Exit(1)
		}
		surfaces = []models.Surface{surface}
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	if _, err := models.GetWorkspace(context.Background(), *workspaceID); err != nil {
		fmt.Fprintf(os.Stderr, "workspace %s: %v\n", *workspaceID, err)
		os.Exit(1)
	}
	logger := logrus.New()

	var balanced, adjusted, failed int
	for _, surface := range surfaces {
		snapshots, err := models.SnapshotsByWorkspace(db, surface, *workspaceID, 0, 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list %s snapshots: %v\n", surface, err)
			os.Exit(1)
		}
		for _, snapshot := range snapshots {
			key := snapshot.Key()
			var result *workflow.ReconcileResult
			err := db.Transaction(func(tx *gorm.DB) error {
				var txErr error
				result, txErr = workflow.ReconcileKey(tx, logger, surface, key, nil)
				return txErr
			})
			if err != nil {
				failed++
				fmt.Fprintf(os.Stderr, "FAIL %s location=%d item=%d: %v\n", surface, key.LocationId, key.ItemId, err)
				if !*continueOnError {
					os.Exit(1)
				}
				continue
			}
			switch result.Status {
			case models.ReconcileStatusBalanced:
				balanced++
			case models.ReconcileStatusAdjusted:
				adjusted++
				fmt.Printf("ADJUSTED %s location=%d item=%d discrepancy=%d\n",
					surface, key.LocationId, key.ItemId, result.Discrepancy)
			case models.ReconcileStatusError:
				failed++
				for _, msg := range result.Messages {
					fmt.Fprintf(os.Stderr, "ERROR %s location=%d item=%d: %s\n", surface, key.LocationId, key.ItemId, msg)
				}
			}
		}
	}

	fmt.Printf("done: balanced=%d adjusted=%d failed=%d\n", balanced, adjusted, failed)
	if failed > 0 {
		os.Exit(2)
	}
}
