package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

type CashRegister struct {
	ID        int       `gorm:"primary_key" json:"id"`
	CompanyId string    `gorm:"index;not null" json:"company_id"`
	BranchId  *int      `gorm:"index" json:"branch_id"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Location  string    `gorm:"size:255" json:"location"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func FetchCashRegister(tx *gorm.DB, scope TenantScope, id int) (*CashRegister, error) {
	var register CashRegister
	err := tx.Where("id = ? AND company_id = ?", id, scope.CompanyId).First(&register).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &register, nil
}

// SoleCashRegister returns the register when the scope has exactly one active
// register, ErrAmbiguousCashTarget when it has more than one and
// ErrRecordNotFound when it has none. Approval auto-selection depends on
// this being unambiguous.
func SoleCashRegister(tx *gorm.DB, scope TenantScope) (*CashRegister, error) {
	var registers []CashRegister
	dbCtx := tx.Where("company_id = ? AND is_active = true", scope.CompanyId)
	if scope.BranchId != nil {
		dbCtx = dbCtx.Where("branch_id = ?", *scope.BranchId)
	}
	if err := dbCtx.Limit(2).Find(&registers).Error; err != nil {
		return nil, err
	}
	switch len(registers) {
	case 0:
		return nil, ErrRecordNotFound
	case 1:
		return &registers[0], nil
	default:
		return nil, ErrAmbiguousCashTarget
	}
}
