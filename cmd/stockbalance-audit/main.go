package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mirastock/warehouse_backend/config"
	"github.com/mirastock/warehouse_backend/models"
)

// Compares materialized stock balances against the ledger sum per
// (warehouse, product) and reports any divergence. Read-only; safe to run
// against a live database.
func main() {
	companyID := flag.String("company-id", "", "Optional: audit only one company. If empty, audits every company with balances.")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	var companyIds []string
	if strings.TrimSpace(*companyID) != "" {
		companyIds = []string{strings.TrimSpace(*companyID)}
	} else {
		if err := db.Model(&models.StockBalance{}).
			Distinct("company_id").Pluck("company_id", &companyIds).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to list companies: %v\n", err)
			os.Exit(1)
		}
	}
	if len(companyIds) == 0 {
		fmt.Println("no stock balances found; nothing to audit")
		return
	}

	dirty := false
	for _, companyId := range companyIds {
		scope := models.TenantScope{CompanyId: companyId}
		divergences, err := models.CheckStockConsistency(db, scope)
		if err != nil {
			fmt.Fprintf(os.Stderr, "company %s: audit failed: %v\n", companyId, err)
			os.Exit(1)
		}
		if len(divergences) == 0 {
			fmt.Printf("company %s: OK\n", companyId)
			continue
		}
		dirty = true
		fmt.Printf("company %s: %d divergence(s)\n", companyId, len(divergences))
		for _, d := range divergences {
			fmt.Printf("  warehouse=%d product=%d balance=%s ledger=%s diff=%s\n",
				d.WarehouseId, d.ProductId,
				d.BalanceQty.String(), d.LedgerQty.String(),
				d.BalanceQty.Sub(d.LedgerQty).String())
		}
	}
	if dirty {
		os.Exit(2)
	}
}
