package models

import (
	"log"

	"github.com/mirastock/warehouse_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Warehouse{}, &Product{}, &Counterparty{},
		&CashRegister{}, &PaymentCategory{},
		&WarehouseDocument{}, &DocumentItem{}, &DocumentSequence{},
		&StockLedgerEntry{}, &StockBalance{},
		&AgentStockEntry{}, &AgentStockMove{},
		&AgentRequestCart{}, &AgentRequestItem{},
		&MoneyDocument{}, &CashApprovalRequest{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
