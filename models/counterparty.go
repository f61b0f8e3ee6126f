package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

type CounterpartyType string

const (
	CounterpartyTypeClient   CounterpartyType = "client"
	CounterpartyTypeSupplier CounterpartyType = "supplier"
)

type Counterparty struct {
	ID        int              `gorm:"primary_key" json:"id"`
	CompanyId string           `gorm:"index;not null" json:"company_id"`
	BranchId  *int             `gorm:"index" json:"branch_id"`
	Name      string           `gorm:"size:255;not null" json:"name" binding:"required"`
	Type      CounterpartyType `gorm:"size:16;default:'client'" json:"type"`
	Phone     string           `gorm:"size:20" json:"phone"`
	// AgentId is set when this counterparty belongs to a consignment agent's
	// own client book.
	AgentId   *int      `gorm:"index" json:"agent_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func FetchCounterparty(tx *gorm.DB, scope TenantScope, id int) (*Counterparty, error) {
	var counterparty Counterparty
	err := tx.Where("id = ? AND company_id = ?", id, scope.CompanyId).First(&counterparty).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &counterparty, nil
}
