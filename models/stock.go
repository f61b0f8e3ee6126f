package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mirastock/warehouse_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockLedgerEntry is one immutable signed quantity delta owned by a
// document. Entries are created in batch when a document posts and deleted in
// batch when it unposts or is rejected; they are never individually mutated.
type StockLedgerEntry struct {
	ID          string          `gorm:"size:36;primary_key" json:"id"`
	CompanyId   string          `gorm:"index;not null" json:"company_id"`
	DocumentId  string          `gorm:"size:36;index;not null" json:"document_id"`
	WarehouseId int             `gorm:"index:idx_stock_entry_wh_prod,priority:1;not null" json:"warehouse_id"`
	ProductId   int             `gorm:"index:idx_stock_entry_wh_prod,priority:2;not null" json:"product_id"`
	QtyDelta    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty_delta"`
	Kind        StockEntryKind  `gorm:"size:16;not null" json:"kind"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// BeforeSave keeps Kind consistent with the delta sign. Reporting queries
// classify receipts/expenses by Kind, so a mismatch would corrupt reports
// even when balances stay correct.
func (e *StockLedgerEntry) BeforeSave(tx *gorm.DB) error {
	_ = tx
	if e == nil {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.QtyDelta.IsNegative() {
		e.Kind = StockEntryKindExpense
	} else {
		e.Kind = StockEntryKindReceipt
	}
	return nil
}

// StockBalance is the materialized current quantity per (warehouse, product).
// It is a derived cache over the ledger and is mutated only inside the same
// transaction as the entry batch that causes the change.
type StockBalance struct {
	ID          int             `gorm:"primary_key" json:"id"`
	CompanyId   string          `gorm:"uniqueIndex:idx_stock_balance_key,priority:1;not null" json:"company_id"`
	WarehouseId int             `gorm:"uniqueIndex:idx_stock_balance_key,priority:2;not null" json:"warehouse_id"`
	ProductId   int             `gorm:"uniqueIndex:idx_stock_balance_key,priority:3;not null" json:"product_id"`
	Qty         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// StockDelta is one requested quantity change against a (warehouse, product)
// pair.
type StockDelta struct {
	WarehouseId int
	ProductId   int
	QtyDelta    decimal.Decimal
}

// LockStockBalance reads (or creates at zero) the balance row under a
// SELECT ... FOR UPDATE lock so no concurrent transaction can invalidate the
// value before this transaction commits.
func LockStockBalance(tx *gorm.DB, scope TenantScope, warehouseId int, productId int) (*StockBalance, error) {
	balance := StockBalance{
		CompanyId:   scope.CompanyId,
		WarehouseId: warehouseId,
		ProductId:   productId,
	}
	result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("company_id = ? AND warehouse_id = ? AND product_id = ?",
			scope.CompanyId, warehouseId, productId).
		FirstOrCreate(&balance)
	if result.Error != nil {
		return nil, result.Error
	}
	return &balance, nil
}

type balanceKey struct {
	warehouseId int
	productId   int
}

// ApplyStockDeltas executes the check-and-apply cycle for one document under
// a single storage transaction: lock every affected balance row in a
// deterministic order, evaluate the negative-stock guard for all lines
// together, then write the ledger batch and balance updates — or nothing.
func ApplyStockDeltas(tx *gorm.DB, scope TenantScope, documentId string, deltas []StockDelta, allowNegative bool) ([]*StockLedgerEntry, error) {
	if len(deltas) == 0 {
		return nil, nil
	}

	// Aggregate per pair: the guard must see the combined effect of all lines
	// touching the same balance, and locking in sorted key order avoids
	// deadlocks between concurrent postings. Deltas are quantized to the
	// column precision up front so the ledger sum always matches what the
	// balance row actually absorbed.
	combined := make(map[balanceKey]decimal.Decimal)
	keys := make([]balanceKey, 0, len(deltas))
	for i := range deltas {
		deltas[i].QtyDelta = utils.QuantizeQty(deltas[i].QtyDelta)
		key := balanceKey{warehouseId: deltas[i].WarehouseId, productId: deltas[i].ProductId}
		if _, ok := combined[key]; !ok {
			keys = append(keys, key)
		}
		combined[key] = combined[key].Add(deltas[i].QtyDelta)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].warehouseId != keys[j].warehouseId {
			return keys[i].warehouseId < keys[j].warehouseId
		}
		return keys[i].productId < keys[j].productId
	})

	balances := make(map[balanceKey]*StockBalance, len(keys))
	for _, key := range keys {
		balance, err := LockStockBalance(tx, scope, key.warehouseId, key.productId)
		if err != nil {
			return nil, err
		}
		next := balance.Qty.Add(combined[key])
		if next.IsNegative() && !allowNegative {
			return nil, fmt.Errorf("%w: warehouse=%d product=%d available=%s requested=%s",
				ErrInsufficientStock, key.warehouseId, key.productId,
				balance.Qty.String(), combined[key].Neg().String())
		}
		balances[key] = balance
	}

	entries := make([]*StockLedgerEntry, 0, len(deltas))
	for _, d := range deltas {
		entry := &StockLedgerEntry{
			CompanyId:   scope.CompanyId,
			DocumentId:  documentId,
			WarehouseId: d.WarehouseId,
			ProductId:   d.ProductId,
			QtyDelta:    d.QtyDelta,
		}
		if err := tx.Create(entry).Error; err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	for _, key := range keys {
		if err := tx.Model(&StockBalance{}).Where("id = ?", balances[key].ID).
			Update("qty", gorm.Expr("qty + ?", combined[key])).Error; err != nil {
			return nil, err
		}
	}

	return entries, nil
}

// ReverseDocumentStock deletes the document's ledger batch and symmetrically
// negates its effect on balances, inside the caller's transaction.
func ReverseDocumentStock(tx *gorm.DB, scope TenantScope, documentId string) error {
	var entries []StockLedgerEntry
	if err := tx.Where("company_id = ? AND document_id = ?", scope.CompanyId, documentId).
		Find(&entries).Error; err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	combined := make(map[balanceKey]decimal.Decimal)
	keys := make([]balanceKey, 0, len(entries))
	for _, e := range entries {
		key := balanceKey{warehouseId: e.WarehouseId, productId: e.ProductId}
		if _, ok := combined[key]; !ok {
			keys = append(keys, key)
		}
		combined[key] = combined[key].Add(e.QtyDelta)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].warehouseId != keys[j].warehouseId {
			return keys[i].warehouseId < keys[j].warehouseId
		}
		return keys[i].productId < keys[j].productId
	})

	for _, key := range keys {
		balance, err := LockStockBalance(tx, scope, key.warehouseId, key.productId)
		if err != nil {
			return err
		}
		if err := tx.Model(&StockBalance{}).Where("id = ?", balance.ID).
			Update("qty", gorm.Expr("qty - ?", combined[key])).Error; err != nil {
			return err
		}
	}

	return tx.Where("company_id = ? AND document_id = ?", scope.CompanyId, documentId).
		Delete(&StockLedgerEntry{}).Error
}

// StockDivergence reports one (warehouse, product) pair whose materialized
// balance no longer matches the ledger sum.
type StockDivergence struct {
	WarehouseId int             `json:"warehouse_id"`
	ProductId   int             `json:"product_id"`
	BalanceQty  decimal.Decimal `json:"balance_qty"`
	LedgerQty   decimal.Decimal `json:"ledger_qty"`
}

// CheckStockConsistency recomputes Σ ledger deltas per (warehouse, product)
// for entries owned by in-effect documents (CASH_PENDING or POSTED) and
// compares against the balance rows. Read-only; not part of the hot path.
func CheckStockConsistency(db *gorm.DB, scope TenantScope) ([]StockDivergence, error) {
	var divergences []StockDivergence
	err := db.Raw(`
		SELECT
			sb.warehouse_id,
			sb.product_id,
			sb.qty AS balance_qty,
			COALESCE(led.total, 0) AS ledger_qty
		FROM stock_balances sb
		LEFT JOIN (
			SELECT e.warehouse_id, e.product_id, SUM(e.qty_delta) AS total
			FROM stock_ledger_entries e
			JOIN warehouse_documents d ON d.id = e.document_id
			WHERE e.company_id = ? AND d.status IN (?, ?)
			GROUP BY e.warehouse_id, e.product_id
		) led ON led.warehouse_id = sb.warehouse_id AND led.product_id = sb.product_id
		WHERE sb.company_id = ? AND sb.qty <> COALESCE(led.total, 0)`,
		scope.CompanyId, DocumentStatusCashPending, DocumentStatusPosted, scope.CompanyId).
		Scan(&divergences).Error
	if err != nil {
		return nil, err
	}
	return divergences, nil
}
