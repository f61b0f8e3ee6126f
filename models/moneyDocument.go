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

// MoneyDocument is a cash-register receipt or expense. It carries no line
// items; the register balance is always computed from posted documents and
// never stored, so it cannot drift.
type MoneyDocument struct {
	ID                string              `gorm:"size:36;primary_key" json:"id"`
	CompanyId         string              `gorm:"index;not null" json:"company_id"`
	BranchId          *int                `gorm:"index" json:"branch_id"`
	DocType           MoneyDocType        `gorm:"size:32;not null" json:"doc_type" binding:"required"`
	Status            MoneyDocumentStatus `gorm:"size:16;not null;default:'DRAFT';index" json:"status"`
	Number            *string             `gorm:"size:64;uniqueIndex" json:"number"`
	Date              *time.Time          `gorm:"index" json:"date"`
	CashRegisterId    int                 `gorm:"index;not null" json:"cash_register_id"`
	CounterpartyId    *int                `gorm:"index" json:"counterparty_id"`
	PaymentCategoryId *int                `gorm:"index" json:"payment_category_id"`
	Amount            decimal.Decimal     `gorm:"type:decimal(20,4);not null" json:"amount"`
	Comment           string              `gorm:"type:text" json:"comment"`
	// LinkedDocumentId is set when this document was materialized by a cash
	// approval; unposting the warehouse document voids this one first.
	LinkedDocumentId *string   `gorm:"size:36;index" json:"linked_document_id"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (m *MoneyDocument) BeforeCreate(tx *gorm.DB) error {
	_ = tx
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = MoneyDocumentStatusDraft
	}
	return nil
}

// ValidateForPosting checks the posting preconditions; all violations are
// detected before any write.
func (m *MoneyDocument) ValidateForPosting() error {
	if !m.DocType.IsValid() {
		return fmt.Errorf("%w: unknown money doc type %q", ErrMissingReference, m.DocType)
	}
	if m.Amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: amount must be > 0", ErrMissingReference)
	}
	if m.CashRegisterId == 0 {
		return fmt.Errorf("%w: money document requires cash register", ErrMissingReference)
	}
	if m.CounterpartyId == nil {
		return fmt.Errorf("%w: money document requires counterparty", ErrMissingReference)
	}
	if m.PaymentCategoryId == nil {
		return fmt.Errorf("%w: money document requires payment category", ErrMissingReference)
	}
	return nil
}

// FetchMoneyDocumentForUpdate loads a money document under a row lock.
func FetchMoneyDocumentForUpdate(tx *gorm.DB, scope TenantScope, id string) (*MoneyDocument, error) {
	var document MoneyDocument
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND company_id = ?", id, scope.CompanyId).
		First(&document).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &document, nil
}

// PostMoneyDocument assigns a number (same sequence scheme as warehouse
// documents, money type prefix) and moves the document to POSTED. Double
// posting fails with ErrAlreadyPosted.
func PostMoneyDocument(tx *gorm.DB, scope TenantScope, document *MoneyDocument) (string, error) {
	if document.Status == MoneyDocumentStatusPosted {
		return "", ErrAlreadyPosted
	}
	if err := document.ValidateForPosting(); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	if document.Number == nil {
		number, err := NextDocumentNumber(tx, scope, string(document.DocType), now)
		if err != nil {
			return "", err
		}
		document.Number = &number
	}
	document.Date = &now

	res := tx.Model(&MoneyDocument{}).
		Where("id = ? AND status = ?", document.ID, MoneyDocumentStatusDraft).
		Updates(map[string]interface{}{
			"status": MoneyDocumentStatusPosted,
			"number": document.Number,
			"date":   document.Date,
		})
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		return "", ErrAlreadyPosted
	}
	document.Status = MoneyDocumentStatusPosted
	return *document.Number, nil
}

// UnpostMoneyDocument returns a posted money document to DRAFT. The number
// is retained for the audit trail.
func UnpostMoneyDocument(tx *gorm.DB, scope TenantScope, document *MoneyDocument) error {
	res := tx.Model(&MoneyDocument{}).
		Where("id = ? AND status = ?", document.ID, MoneyDocumentStatusPosted).
		Update("status", MoneyDocumentStatusDraft)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotPosted
	}
	document.Status = MoneyDocumentStatusDraft
	return nil
}

// CashRegisterBalance computes Σ(posted receipts) − Σ(posted expenses) for a
// register. Always derived, never cached.
func CashRegisterBalance(db *gorm.DB, scope TenantScope, cashRegisterId int) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := db.Model(&MoneyDocument{}).
		Select("COALESCE(SUM(CASE WHEN doc_type = ? THEN amount ELSE -amount END), 0)", MoneyDocTypeReceipt).
		Where("company_id = ? AND cash_register_id = ? AND status = ?",
			scope.CompanyId, cashRegisterId, MoneyDocumentStatusPosted).
		Scan(&balance).Error
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}
