package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

type Warehouse struct {
	ID        int       `gorm:"primary_key" json:"id"`
	CompanyId string    `gorm:"index;not null" json:"company_id"`
	BranchId  *int      `gorm:"index" json:"branch_id"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Location  string    `gorm:"size:255" json:"location"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// FetchWarehouse loads a warehouse enforcing tenant scope.
func FetchWarehouse(tx *gorm.DB, scope TenantScope, id int) (*Warehouse, error) {
	var warehouse Warehouse
	err := tx.Where("id = ? AND company_id = ?", id, scope.CompanyId).First(&warehouse).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &warehouse, nil
}
