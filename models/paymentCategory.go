package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

type PaymentCategory struct {
	ID        int       `gorm:"primary_key" json:"id"`
	CompanyId string    `gorm:"index;not null" json:"company_id"`
	BranchId  *int      `gorm:"index" json:"branch_id"`
	Title     string    `gorm:"size:255;not null" json:"title" binding:"required"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func FetchPaymentCategory(tx *gorm.DB, scope TenantScope, id int) (*PaymentCategory, error) {
	var category PaymentCategory
	err := tx.Where("id = ? AND company_id = ?", id, scope.CompanyId).First(&category).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &category, nil
}

// SolePaymentCategory mirrors SoleCashRegister for payment categories.
func SolePaymentCategory(tx *gorm.DB, scope TenantScope) (*PaymentCategory, error) {
	var categories []PaymentCategory
	dbCtx := tx.Where("company_id = ?", scope.CompanyId)
	if scope.BranchId != nil {
		dbCtx = dbCtx.Where("branch_id = ?", *scope.BranchId)
	}
	if err := dbCtx.Limit(2).Find(&categories).Error; err != nil {
		return nil, err
	}
	switch len(categories) {
	case 0:
		return nil, ErrRecordNotFound
	case 1:
		return &categories[0], nil
	default:
		return nil, ErrAmbiguousCashTarget
	}
}
