package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Product struct {
	ID          int    `gorm:"primary_key" json:"id"`
	CompanyId   string `gorm:"index;not null" json:"company_id"`
	BranchId    *int   `gorm:"index" json:"branch_id"`
	WarehouseId int    `gorm:"index;not null" json:"warehouse_id"`
	Name        string `gorm:"size:255;not null" json:"name" binding:"required"`
	Article     string `gorm:"size:100" json:"article"`
	Barcode     string `gorm:"size:100;index" json:"barcode"`
	Unit        string `gorm:"size:20;default:'pcs'" json:"unit"`
	// Weight goods may carry fractional quantities; piece goods must not.
	IsWeight      *bool           `gorm:"not null;default:false" json:"is_weight"`
	PurchasePrice decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"purchase_price"`
	Price         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"price"`
	IsActive      *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// AllowsFractionalQty reports whether ledger quantities for this product may
// carry a fractional part.
func (p *Product) AllowsFractionalQty() bool {
	return p.IsWeight != nil && *p.IsWeight
}

func FetchProduct(tx *gorm.DB, scope TenantScope, id int) (*Product, error) {
	var product Product
	err := tx.Where("id = ? AND company_id = ?", id, scope.CompanyId).First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &product, nil
}
