package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/factory_backend/config"
	"bitbucket.org/mmdatafocus/factory_backend/models"
)

// Verifies ledger chain continuity: walking each key's entries oldest to
// newest, every row's qty_before must equal the previous row's qty_after.
// Reconciliation restatements legitimately break the chain, so they reset the
// expected baseline instead of counting as breaks.
func main() {
	workspaceID := flag.String("workspace-id", "", "Required: workspace id (uuid)")
	surfaceName := flag.String("surface", "", "Optional: one surface; defaults to all")
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

	var keys, breaks int
	for _, surface := range surfaces {
		entries, err := models.QueryEntries(db, surface, *workspaceID, nil, models.LedgerFilter{})
		if err != nil {
			fmt.Fprintf(os.Stderr, "query %s ledger: %v\n", surface, err)
			os.Exit(1)
		}

		// Entries arrive newest first; bucket per key, then walk backwards.
		byKey := make(map[models.LedgerKey][]*models.LedgerView)
		for _, entry := range entries {
			byKey[entry.Key()] = append(byKey[entry.Key()], entry)
		}

		for key, keyEntries := range byKey {
			keys++
			expected := 0
			for i := len(keyEntries) - 1; i >= 0; i-- {
				entry := keyEntries[i]
				if entry.SourceType == models.SourceTypeReconciliation {
					expected = entry.QtyAfter
					continue
				}
				if entry.QtyBefore != expected {
					breaks++
					fmt.Fprintf(os.Stderr, "BREAK %s location=%d item=%d entry=%d: qty_before=%d, expected %d\n",
						surface, key.LocationId, key.ItemId, entry.ID, entry.QtyBefore, expected)
				}
				expected = entry.QtyAfter
			}
		}
	}

	fmt.Printf("done: keys=%d breaks=%d\n", keys, breaks)
	if breaks > 0 {
		os.Exit(2)
	}
}
