package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mirastock/warehouse_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WarehouseDocument is a proposed or committed inventory transaction. Line
// items are mutable only while the document is DRAFT; every status change is
// driven by the posting workflow.
type WarehouseDocument struct {
	ID        string         `gorm:"size:36;primary_key" json:"id"`
	CompanyId string         `gorm:"index;not null" json:"company_id"`
	BranchId  *int           `gorm:"index" json:"branch_id"`
	DocType   DocType        `gorm:"size:32;not null" json:"doc_type" binding:"required"`
	Status    DocumentStatus `gorm:"size:16;not null;default:'DRAFT';index" json:"status"`
	// Number is assigned on first posting and retained across unpost for the
	// audit trail.
	Number            *string         `gorm:"size:64;uniqueIndex" json:"number"`
	Date              *time.Time      `gorm:"index" json:"date"`
	WarehouseFromId   *int            `gorm:"index" json:"warehouse_from_id"`
	WarehouseToId     *int            `gorm:"index" json:"warehouse_to_id"`
	CounterpartyId    *int            `gorm:"index" json:"counterparty_id"`
	AgentId           *int            `gorm:"index" json:"agent_id"`
	PaymentKind       *PaymentKind    `gorm:"size:16" json:"payment_kind"`
	PrepaymentAmount  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"prepayment_amount"`
	CashRegisterId    *int            `gorm:"index" json:"cash_register_id"`
	PaymentCategoryId *int            `gorm:"index" json:"payment_category_id"`
	Comment           string          `gorm:"type:text" json:"comment"`
	Total             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total"`
	Items             []DocumentItem  `gorm:"foreignKey:DocumentId" json:"items"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type DocumentItem struct {
	ID              string          `gorm:"size:36;primary_key" json:"id"`
	DocumentId      string          `gorm:"size:36;index;not null" json:"document_id"`
	ProductId       int             `gorm:"index;not null" json:"product_id" binding:"required"`
	Qty             decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	Price           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"price"`
	DiscountPercent decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount_percent"`
	LineTotal       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"line_total"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (d *WarehouseDocument) BeforeCreate(tx *gorm.DB) error {
	_ = tx
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = DocumentStatusDraft
	}
	return nil
}

func (item *DocumentItem) BeforeSave(tx *gorm.DB) error {
	_ = tx
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.LineTotal = utils.LineTotal(item.Price, item.Qty, item.DiscountPercent)
	return nil
}

// IsEditable reports whether line items may still change.
func (d *WarehouseDocument) IsEditable() bool {
	return d.Status == DocumentStatusDraft
}

// CashPaymentKind resolves the effective payment kind; absent means cash.
func (d *WarehouseDocument) CashPaymentKind() PaymentKind {
	if d.PaymentKind != nil {
		return *d.PaymentKind
	}
	return PaymentKindCash
}

func (item *DocumentItem) validate() error {
	if item.Qty.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: item quantity must be > 0", ErrMissingReference)
	}
	if item.DiscountPercent.IsNegative() || item.DiscountPercent.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%w: discount percent must be between 0 and 100", ErrMissingReference)
	}
	return nil
}

// ValidateForPosting checks the reference-field rules per document type and
// every line item, before any write happens.
func (d *WarehouseDocument) ValidateForPosting() error {
	if !d.DocType.IsValid() {
		return fmt.Errorf("%w: unknown doc type %q", ErrMissingReference, d.DocType)
	}
	if len(d.Items) == 0 {
		return ErrEmptyDocument
	}

	switch d.DocType {
	case DocTypeTransfer:
		if d.WarehouseFromId == nil || d.WarehouseToId == nil {
			return fmt.Errorf("%w: TRANSFER requires warehouse_from and warehouse_to", ErrMissingReference)
		}
		if *d.WarehouseFromId == *d.WarehouseToId {
			return fmt.Errorf("%w: warehouse_from and warehouse_to must differ", ErrMissingReference)
		}
	default:
		if d.WarehouseFromId == nil {
			return fmt.Errorf("%w: document requires warehouse_from", ErrMissingReference)
		}
		if d.DocType.RequiresCounterparty() && d.CounterpartyId == nil {
			return fmt.Errorf("%w: document requires counterparty", ErrMissingReference)
		}
	}

	if d.AgentId != nil {
		if d.DocType == DocTypeTransfer || d.DocType == DocTypeInventory {
			return fmt.Errorf("%w: agent documents cannot be TRANSFER or INVENTORY", ErrMissingReference)
		}
	}

	for i := range d.Items {
		if err := d.Items[i].validate(); err != nil {
			return err
		}
	}
	return nil
}

// RecalcTotal recomputes line totals and the document total.
func (d *WarehouseDocument) RecalcTotal() {
	total := decimal.Zero
	for i := range d.Items {
		d.Items[i].LineTotal = utils.LineTotal(d.Items[i].Price, d.Items[i].Qty, d.Items[i].DiscountPercent)
		total = total.Add(d.Items[i].LineTotal)
	}
	d.Total = utils.QuantizeMoney(total)
}

// FetchDocumentForUpdate loads a document with its items under a row lock so
// two concurrent lifecycle operations on the same document serialize.
func FetchDocumentForUpdate(tx *gorm.DB, scope TenantScope, id string) (*WarehouseDocument, error) {
	var document WarehouseDocument
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND company_id = ?", id, scope.CompanyId).
		First(&document).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	if err := tx.Where("document_id = ?", document.ID).Order("created_at, id").Find(&document.Items).Error; err != nil {
		return nil, err
	}
	return &document, nil
}

// TransitionStatus moves a document between lifecycle states with an
// optimistic pre-state check. Zero affected rows means another operation got
// there first.
func TransitionStatus(tx *gorm.DB, document *WarehouseDocument, from, to DocumentStatus) error {
	res := tx.Model(&WarehouseDocument{}).
		Where("id = ? AND status = ?", document.ID, from).
		Update("status", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: expected %s", ErrInvalidTransition, from)
	}
	document.Status = to
	return nil
}

// DeleteDraftDocument removes a never-posted document and its items.
// Documents that have been posted at least once are never deleted.
func DeleteDraftDocument(tx *gorm.DB, scope TenantScope, id string) error {
	document, err := FetchDocumentForUpdate(tx, scope, id)
	if err != nil {
		return err
	}
	if document.Status != DocumentStatusDraft || document.Number != nil {
		return fmt.Errorf("%w: only never-posted drafts may be deleted", ErrInvalidTransition)
	}
	if err := tx.Where("document_id = ?", document.ID).Delete(&DocumentItem{}).Error; err != nil {
		return err
	}
	return tx.Delete(&WarehouseDocument{}, "id = ?", document.ID).Error
}
