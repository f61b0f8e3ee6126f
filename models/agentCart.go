package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AgentRequestCart is an agent's request to take goods out of a warehouse
// into their own holding. Approval is the bridge between the warehouse
// ledger and the agent sub-ledger.
type AgentRequestCart struct {
	ID          string             `gorm:"size:36;primary_key" json:"id"`
	CompanyId   string             `gorm:"index;not null" json:"company_id"`
	BranchId    *int               `gorm:"index" json:"branch_id"`
	AgentId     int                `gorm:"index;not null" json:"agent_id"`
	WarehouseId int                `gorm:"index;not null" json:"warehouse_id"`
	Status      AgentCartStatus    `gorm:"size:16;not null;default:'draft';index" json:"status"`
	Note        string             `gorm:"size:255" json:"note"`
	SubmittedAt *time.Time         `json:"submitted_at"`
	DecidedAt   *time.Time         `json:"decided_at"`
	DecidedBy   *int               `json:"decided_by"`
	Items       []AgentRequestItem `gorm:"foreignKey:CartId" json:"items"`
	CreatedAt   time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

type AgentRequestItem struct {
	ID           string          `gorm:"size:36;primary_key" json:"id"`
	CartId       string          `gorm:"size:36;index;not null" json:"cart_id"`
	ProductId    int             `gorm:"index;not null" json:"product_id" binding:"required"`
	QtyRequested decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty_requested"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (c *AgentRequestCart) BeforeCreate(tx *gorm.DB) error {
	_ = tx
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = AgentCartStatusDraft
	}
	return nil
}

func (i *AgentRequestItem) BeforeCreate(tx *gorm.DB) error {
	_ = tx
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}

func (i *AgentRequestItem) Validate() error {
	if i.QtyRequested.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: requested quantity must be > 0", ErrMissingReference)
	}
	return nil
}

func FetchAgentCartForUpdate(tx *gorm.DB, scope TenantScope, id string) (*AgentRequestCart, error) {
	var cart AgentRequestCart
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND company_id = ?", id, scope.CompanyId).
		First(&cart).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	if err := tx.Where("cart_id = ?", cart.ID).Order("created_at, id").Find(&cart.Items).Error; err != nil {
		return nil, err
	}
	return &cart, nil
}

// TransitionCartStatus applies the optimistic pre-state check that keeps two
// concurrent decisions from both succeeding.
func TransitionCartStatus(tx *gorm.DB, cart *AgentRequestCart, from, to AgentCartStatus, decidedBy *int) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{"status": to}
	switch to {
	case AgentCartStatusSubmitted:
		updates["submitted_at"] = now
	case AgentCartStatusApproved, AgentCartStatusRejected:
		updates["decided_at"] = now
		updates["decided_by"] = decidedBy
	}
	res := tx.Model(&AgentRequestCart{}).
		Where("id = ? AND status = ?", cart.ID, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: expected cart status %s", ErrInvalidTransition, from)
	}
	cart.Status = to
	return nil
}
