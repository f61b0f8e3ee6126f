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

// AgentStockEntry is the balance of a product held by a consignment agent
// outside any warehouse. The warehouse column records provenance only.
// Agent balances can never go negative; there is no override path.
type AgentStockEntry struct {
	ID          int             `gorm:"primary_key" json:"id"`
	CompanyId   string          `gorm:"uniqueIndex:idx_agent_stock_key,priority:1;not null" json:"company_id"`
	AgentId     int             `gorm:"uniqueIndex:idx_agent_stock_key,priority:2;not null" json:"agent_id"`
	WarehouseId int             `gorm:"uniqueIndex:idx_agent_stock_key,priority:3;not null" json:"warehouse_id"`
	ProductId   int             `gorm:"uniqueIndex:idx_agent_stock_key,priority:4;not null" json:"product_id"`
	Qty         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// AgentStockMove records one agent sub-ledger delta owned by a document, so
// agent documents stay reversible the same way warehouse documents are.
type AgentStockMove struct {
	ID          string          `gorm:"size:36;primary_key" json:"id"`
	CompanyId   string          `gorm:"index;not null" json:"company_id"`
	DocumentId  string          `gorm:"size:36;index;not null" json:"document_id"`
	AgentId     int             `gorm:"index;not null" json:"agent_id"`
	WarehouseId int             `gorm:"index;not null" json:"warehouse_id"`
	ProductId   int             `gorm:"index;not null" json:"product_id"`
	QtyDelta    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty_delta"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (m *AgentStockMove) BeforeCreate(tx *gorm.DB) error {
	_ = tx
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// LockAgentStockEntry reads (or creates at zero) the agent balance under a
// row lock, mirroring LockStockBalance.
func LockAgentStockEntry(tx *gorm.DB, scope TenantScope, agentId, warehouseId, productId int) (*AgentStockEntry, error) {
	entry := AgentStockEntry{
		CompanyId:   scope.CompanyId,
		AgentId:     agentId,
		WarehouseId: warehouseId,
		ProductId:   productId,
	}
	result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("company_id = ? AND agent_id = ? AND warehouse_id = ? AND product_id = ?",
			scope.CompanyId, agentId, warehouseId, productId).
		FirstOrCreate(&entry)
	if result.Error != nil {
		return nil, result.Error
	}
	return &entry, nil
}

// ApplyAgentDeltas applies a document's deltas to the agent sub-ledger with
// the same transactional contract as ApplyStockDeltas, except any resulting
// negative quantity fails unconditionally.
func ApplyAgentDeltas(tx *gorm.DB, scope TenantScope, documentId string, agentId int, warehouseId int, deltas []StockDelta) ([]*AgentStockMove, error) {
	if len(deltas) == 0 {
		return nil, nil
	}

	combined := make(map[int]decimal.Decimal)
	productIds := make([]int, 0, len(deltas))
	for i := range deltas {
		deltas[i].QtyDelta = utils.QuantizeQty(deltas[i].QtyDelta)
		if _, ok := combined[deltas[i].ProductId]; !ok {
			productIds = append(productIds, deltas[i].ProductId)
		}
		combined[deltas[i].ProductId] = combined[deltas[i].ProductId].Add(deltas[i].QtyDelta)
	}
	sort.Ints(productIds)

	entries := make(map[int]*AgentStockEntry, len(productIds))
	for _, productId := range productIds {
		entry, err := LockAgentStockEntry(tx, scope, agentId, warehouseId, productId)
		if err != nil {
			return nil, err
		}
		next := entry.Qty.Add(combined[productId])
		if next.IsNegative() {
			return nil, fmt.Errorf("%w: agent=%d product=%d available=%s requested=%s",
				ErrInsufficientStock, agentId, productId,
				entry.Qty.String(), combined[productId].Neg().String())
		}
		entries[productId] = entry
	}

	moves := make([]*AgentStockMove, 0, len(deltas))
	for _, d := range deltas {
		move := &AgentStockMove{
			CompanyId:   scope.CompanyId,
			DocumentId:  documentId,
			AgentId:     agentId,
			WarehouseId: warehouseId,
			ProductId:   d.ProductId,
			QtyDelta:    d.QtyDelta,
		}
		if err := tx.Create(move).Error; err != nil {
			return nil, err
		}
		moves = append(moves, move)
	}

	for _, productId := range productIds {
		if err := tx.Model(&AgentStockEntry{}).Where("id = ?", entries[productId].ID).
			Update("qty", gorm.Expr("qty + ?", combined[productId])).Error; err != nil {
			return nil, err
		}
	}

	return moves, nil
}

// ReverseDocumentAgentStock undoes a document's agent sub-ledger effect and
// deletes its move batch.
func ReverseDocumentAgentStock(tx *gorm.DB, scope TenantScope, documentId string) error {
	var moves []AgentStockMove
	if err := tx.Where("company_id = ? AND document_id = ?", scope.CompanyId, documentId).
		Find(&moves).Error; err != nil {
		return err
	}
	if len(moves) == 0 {
		return nil
	}

	for _, move := range moves {
		entry, err := LockAgentStockEntry(tx, scope, move.AgentId, move.WarehouseId, move.ProductId)
		if err != nil {
			return err
		}
		// The non-negative invariant holds on reversal too: the agent may have
		// moved the goods since, in which case this document cannot be undone.
		if entry.Qty.Sub(move.QtyDelta).IsNegative() {
			return fmt.Errorf("%w: agent=%d product=%d reversal would go negative",
				ErrInsufficientStock, move.AgentId, move.ProductId)
		}
		if err := tx.Model(&AgentStockEntry{}).Where("id = ?", entry.ID).
			Update("qty", gorm.Expr("qty - ?", move.QtyDelta)).Error; err != nil {
			return err
		}
	}

	return tx.Where("company_id = ? AND document_id = ?", scope.CompanyId, documentId).
		Delete(&AgentStockMove{}).Error
}
