package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CashApprovalRequest is the decision envelope attached to a warehouse
// document while it is CASH_PENDING. At most one request per document is
// pending at any time; a decided request is immutable.
type CashApprovalRequest struct {
	ID            string            `gorm:"size:36;primary_key" json:"id"`
	CompanyId     string            `gorm:"index;not null" json:"company_id"`
	DocumentId    string            `gorm:"size:36;index;not null" json:"document_id"`
	Status        CashRequestStatus `gorm:"size:16;not null;default:'PENDING';index" json:"status"`
	RequiresMoney bool              `gorm:"not null;default:false" json:"requires_money"`
	MoneyDocType  *MoneyDocType     `gorm:"size:32" json:"money_doc_type"`
	Amount        decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"amount"`
	DecisionNote  string            `gorm:"size:255" json:"decision_note"`
	RequestedAt   time.Time         `gorm:"not null" json:"requested_at"`
	DecidedAt     *time.Time        `json:"decided_at"`
	DecidedBy     *int              `json:"decided_by"`
	// MoneyDocumentId is set on approval when the request required money.
	MoneyDocumentId *string   `gorm:"size:36;index" json:"money_document_id"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (r *CashApprovalRequest) BeforeCreate(tx *gorm.DB) error {
	_ = tx
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = CashRequestStatusPending
	}
	if r.RequestedAt.IsZero() {
		r.RequestedAt = time.Now().UTC()
	}
	return nil
}

// MoneyDocTypeForDocument maps a warehouse document type to the money
// document its approval generates. TRANSFER and INVENTORY never move money.
func MoneyDocTypeForDocument(docType DocType) (MoneyDocType, bool) {
	switch docType {
	case DocTypeSale, DocTypePurchaseReturn, DocTypeReceipt:
		return MoneyDocTypeReceipt, true
	case DocTypePurchase, DocTypeSaleReturn, DocTypeWriteOff:
		return MoneyDocTypeExpense, true
	}
	return "", false
}

// FetchCashRequestForUpdate loads a request by id under a row lock.
func FetchCashRequestForUpdate(tx *gorm.DB, scope TenantScope, id string) (*CashApprovalRequest, error) {
	var request CashApprovalRequest
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND company_id = ?", id, scope.CompanyId).
		First(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &request, nil
}

// PendingCashRequestForDocument returns the document's undecided request.
func PendingCashRequestForDocument(tx *gorm.DB, scope TenantScope, documentId string) (*CashApprovalRequest, error) {
	var request CashApprovalRequest
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("company_id = ? AND document_id = ? AND status = ?",
			scope.CompanyId, documentId, CashRequestStatusPending).
		First(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &request, nil
}

// DecideCashRequest finalizes a pending request with an optimistic status
// check; losing a race with another decision yields ErrAlreadyDecided.
func DecideCashRequest(tx *gorm.DB, request *CashApprovalRequest, status CashRequestStatus, note string, decidedBy *int, moneyDocumentId *string) error {
	now := time.Now().UTC()
	res := tx.Model(&CashApprovalRequest{}).
		Where("id = ? AND status = ?", request.ID, CashRequestStatusPending).
		Updates(map[string]interface{}{
			"status":            status,
			"decision_note":     note,
			"decided_at":        now,
			"decided_by":        decidedBy,
			"money_document_id": moneyDocumentId,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyDecided
	}
	request.Status = status
	request.DecisionNote = note
	request.DecidedAt = &now
	request.DecidedBy = decidedBy
	request.MoneyDocumentId = moneyDocumentId
	return nil
}
