package models

import (
	"fmt"
	"time"

	"github.com/mirastock/warehouse_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentSequence is the per-(company, branch, doc type, day) counter behind
// human-readable document numbers. Rows are incremented under a row lock so
// numbers never collide across concurrent postings.
type DocumentSequence struct {
	ID        int       `gorm:"primary_key" json:"id"`
	CompanyId string    `gorm:"uniqueIndex:idx_doc_seq_scope,priority:1;not null" json:"company_id"`
	BranchId  int       `gorm:"uniqueIndex:idx_doc_seq_scope,priority:2;default:0" json:"branch_id"`
	DocType   string    `gorm:"size:32;uniqueIndex:idx_doc_seq_scope,priority:3;not null" json:"doc_type"`
	Date      time.Time `gorm:"uniqueIndex:idx_doc_seq_scope,priority:4;not null" json:"date"`
	Seq       int       `gorm:"not null;default:0" json:"seq"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// FormatDocumentNumber renders {DOC_TYPE}-{YYYYMMDD}-{%04d}.
func FormatDocumentNumber(docType string, day time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%04d", docType, day.Format("20060102"), seq)
}

// NextDocumentNumber increments the sequence for the scope/type/day and
// returns the formatted number. Must run inside the posting transaction.
func NextDocumentNumber(tx *gorm.DB, scope TenantScope, docType string, at time.Time) (string, error) {
	day := utils.DayOf(at)

	branchId := 0
	if scope.BranchId != nil {
		branchId = *scope.BranchId
	}

	sequence := DocumentSequence{
		CompanyId: scope.CompanyId,
		BranchId:  branchId,
		DocType:   docType,
		Date:      day,
	}
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("company_id = ? AND branch_id = ? AND doc_type = ? AND date = ?",
			scope.CompanyId, branchId, docType, day).
		FirstOrCreate(&sequence).Error; err != nil {
		return "", err
	}

	sequence.Seq++
	if err := tx.Model(&DocumentSequence{}).Where("id = ?", sequence.ID).
		Update("seq", sequence.Seq).Error; err != nil {
		return "", err
	}

	return FormatDocumentNumber(docType, day, sequence.Seq), nil
}
