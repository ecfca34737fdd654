// inventory-rebuild audits the inventory projections for a business: it
// replays the stock movement ledger against the SUM projection and rechecks
// every lot counter against its delivered and waste sub-ledgers. With --fix
// it rewrites mismatched lot counters to the derived value.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/models"
	"github.com/mmdatafocus/salesdesk_backend/utils"
	"github.com/mmdatafocus/salesdesk_backend/workflow"
	"github.com/sirupsen/logrus"
)

func main() {
	businessID := flag.String("business-id", "", "Required: business id (uuid)")
	fix := flag.Bool("fix", false, "Rewrite mismatched lot counters to the derived value")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" {
		fmt.Fprintln(os.Stderr, "--business-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := logrus.New()

	ctx := context.Background()
	ctx = utils.SetBusinessIdInContext(ctx, *businessID)
	ctx = utils.SetUserNameInContext(ctx, "System")
	ctx = utils.SetIsAdminInContext(ctx, true)

	ledgerMismatches, err := workflow.VerifyStockBalances(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify stock balances: %v\n", err)
		os.Exit(1)
	}
	for _, m := range ledgerMismatches {
		fmt.Printf("stock item %d: projected=%s replayed=%s\n", m.StockItemId, m.Stored, m.Derived)
	}

	lotMismatches, err := workflow.VerifyLotCounters(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify lot counters: %v\n", err)
		os.Exit(1)
	}
	for _, m := range lotMismatches {
		fmt.Printf("lot %d: stored=%s derived=%s\n", m.LotId, m.Stored, m.Derived)
		if *fix {
			if err := db.WithContext(ctx).Model(&models.ProductLot{}).
				Where("id = ?", m.LotId).
				Update("quantity_available", m.Derived).Error; err != nil {
				fmt.Fprintf(os.Stderr, "fix lot %d: %v\n", m.LotId, err)
				os.Exit(1)
			}
			fmt.Printf("lot %d: counter rewritten to %s\n", m.LotId, m.Derived)
		}
	}

	if len(ledgerMismatches) == 0 && len(lotMismatches) == 0 {
		fmt.Println("inventory verification complete: no mismatches")
		return
	}
	fmt.Printf("inventory verification complete: %d ledger, %d lot mismatches\n",
		len(ledgerMismatches), len(lotMismatches))
	if !*fix {
		os.Exit(3)
	}
}
