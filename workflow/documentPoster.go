package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mirastock/warehouse_backend/config"
	"github.com/mirastock/warehouse_backend/models"
	"github.com/mirastock/warehouse_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// docTypeSign returns the warehouse_from direction for the plain document
// types. TRANSFER and INVENTORY are handled separately: TRANSFER writes a
// paired entry per line, INVENTORY derives its delta from the counted value.
func docTypeSign(docType models.DocType) (int, bool) {
	switch docType {
	case models.DocTypeSale, models.DocTypeWriteOff, models.DocTypePurchaseReturn:
		return -1, true
	case models.DocTypePurchase, models.DocTypeReceipt, models.DocTypeSaleReturn:
		return 1, true
	}
	return 0, false
}

// checkReferences verifies every foreign key the document carries points at a
// live row in the same company, and that no piece-counted product is moved in
// a fractional quantity.
func checkReferences(tx *gorm.DB, scope models.TenantScope, document *models.WarehouseDocument) (map[int]*models.Product, error) {
	if document.WarehouseFromId != nil {
		if _, err := models.FetchWarehouse(tx, scope, *document.WarehouseFromId); err != nil {
			return nil, fmt.Errorf("%w: warehouse_from %d", models.ErrMissingReference, *document.WarehouseFromId)
		}
	}
	if document.WarehouseToId != nil {
		if _, err := models.FetchWarehouse(tx, scope, *document.WarehouseToId); err != nil {
			return nil, fmt.Errorf("%w: warehouse_to %d", models.ErrMissingReference, *document.WarehouseToId)
		}
	}
	if document.CounterpartyId != nil {
		if _, err := models.FetchCounterparty(tx, scope, *document.CounterpartyId); err != nil {
			return nil, fmt.Errorf("%w: counterparty %d", models.ErrMissingReference, *document.CounterpartyId)
		}
	}

	products := make(map[int]*models.Product, len(document.Items))
	for i := range document.Items {
		item := &document.Items[i]
		product, ok := products[item.ProductId]
		if !ok {
			var err error
			product, err = models.FetchProduct(tx, scope, item.ProductId)
			if err != nil {
				return nil, fmt.Errorf("%w: product %d", models.ErrMissingReference, item.ProductId)
			}
			products[item.ProductId] = product
		}
		if !product.AllowsFractionalQty() && !utils.IsWholeNumber(item.Qty) {
			return nil, fmt.Errorf("%w: product %d is piece-counted, got qty %s",
				models.ErrFractionalQuantity, item.ProductId, item.Qty.String())
		}
	}
	return products, nil
}

// buildStockDeltas translates document lines into signed balance deltas.
// INVENTORY reads the locked current balance per product and emits the
// difference to the counted value, so posting the same counts twice is a
// no-op.
func buildStockDeltas(tx *gorm.DB, scope models.TenantScope, document *models.WarehouseDocument) ([]models.StockDelta, error) {
	deltas := make([]models.StockDelta, 0, len(document.Items))

	switch document.DocType {
	case models.DocTypeTransfer:
		for i := range document.Items {
			item := &document.Items[i]
			deltas = append(deltas,
				models.StockDelta{WarehouseId: *document.WarehouseFromId, ProductId: item.ProductId, QtyDelta: item.Qty.Neg()},
				models.StockDelta{WarehouseId: *document.WarehouseToId, ProductId: item.ProductId, QtyDelta: item.Qty},
			)
		}
	case models.DocTypeInventory:
		// Lines counting the same product sum into a single counted total.
		counted := make(map[int]decimal.Decimal)
		order := make([]int, 0, len(document.Items))
		for i := range document.Items {
			item := &document.Items[i]
			if _, ok := counted[item.ProductId]; !ok {
				order = append(order, item.ProductId)
			}
			counted[item.ProductId] = counted[item.ProductId].Add(item.Qty)
		}
		for _, productId := range order {
			balance, err := models.LockStockBalance(tx, scope, *document.WarehouseFromId, productId)
			if err != nil {
				return nil, err
			}
			delta := counted[productId].Sub(balance.Qty)
			if delta.IsZero() {
				continue
			}
			deltas = append(deltas, models.StockDelta{
				WarehouseId: *document.WarehouseFromId,
				ProductId:   productId,
				QtyDelta:    delta,
			})
		}
	default:
		sign, ok := docTypeSign(document.DocType)
		if !ok {
			return nil, fmt.Errorf("%w: no stock direction for %s", models.ErrMissingReference, document.DocType)
		}
		for i := range document.Items {
			item := &document.Items[i]
			qty := item.Qty
			if sign < 0 {
				qty = qty.Neg()
			}
			deltas = append(deltas, models.StockDelta{
				WarehouseId: *document.WarehouseFromId,
				ProductId:   item.ProductId,
				QtyDelta:    qty,
			})
		}
	}
	return deltas, nil
}

// buildCashRequest derives the approval envelope created at posting time.
// Cash documents demand money for the full total; credit documents with a
// prepayment demand money for the prepayment only; plain credit documents,
// TRANSFER and INVENTORY still wait for the cash desk but move no money on
// approval.
func buildCashRequest(document *models.WarehouseDocument) *models.CashApprovalRequest {
	request := &models.CashApprovalRequest{
		CompanyId:  document.CompanyId,
		DocumentId: document.ID,
		Status:     models.CashRequestStatusPending,
	}
	moneyType, hasMoney := models.MoneyDocTypeForDocument(document.DocType)
	if !hasMoney {
		return request
	}
	switch document.CashPaymentKind() {
	case models.PaymentKindCredit:
		if document.PrepaymentAmount.IsPositive() {
			request.RequiresMoney = true
			request.MoneyDocType = &moneyType
			request.Amount = document.PrepaymentAmount
		}
	default:
		request.RequiresMoney = true
		request.MoneyDocType = &moneyType
		request.Amount = document.Total
	}
	return request
}

// checkCashSettlement refuses a posting whose approval could never succeed:
// money changes hands with a counterparty, so a document demanding money
// without one would wedge in CASH_PENDING. Caught here, while it is still
// editable.
func checkCashSettlement(document *models.WarehouseDocument, request *models.CashApprovalRequest) error {
	if request.RequiresMoney && document.CounterpartyId == nil {
		return fmt.Errorf("%w: %s settled in cash requires a counterparty", models.ErrMissingReference, document.DocType)
	}
	return nil
}

// PostDocument runs the full posting cycle for a DRAFT document: validate,
// assign a number on first posting, apply stock (or agent sub-ledger) deltas
// under the company posting lock, then hand the document to the cash desk
// (CASH_PENDING plus an approval request; for TRANSFER, INVENTORY and plain
// credit documents the request moves no money, the desk only confirms).
func PostDocument(ctx context.Context, scope models.TenantScope, documentId string, allowNegative bool) (*models.WarehouseDocument, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	release, err := obtainDocumentLock(ctx, documentId)
	if err != nil {
		return nil, err
	}
	defer release()

	db := config.GetDB()
	var document *models.WarehouseDocument
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireCompanyPostingLock(tx, scope.CompanyId); err != nil {
			return err
		}
		defer ReleaseCompanyPostingLock(tx, scope.CompanyId)

		var err error
		document, err = models.FetchDocumentForUpdate(tx, scope, documentId)
		if err != nil {
			return err
		}
		if document.Status != models.DocumentStatusDraft {
			return fmt.Errorf("%w: cannot post from %s", models.ErrInvalidTransition, document.Status)
		}
		if err := document.ValidateForPosting(); err != nil {
			return err
		}
		if _, err := checkReferences(tx, scope, document); err != nil {
			return err
		}

		now := time.Now().UTC()
		if document.Number == nil {
			number, err := models.NextDocumentNumber(tx, scope, string(document.DocType), now)
			if err != nil {
				return err
			}
			document.Number = &number
		}
		document.Date = &now
		document.RecalcTotal()

		request := buildCashRequest(document)
		if err := checkCashSettlement(document, request); err != nil {
			return err
		}

		if document.AgentId != nil {
			deltas, err := buildStockDeltas(tx, scope, document)
			if err != nil {
				return err
			}
			if _, err := models.ApplyAgentDeltas(tx, scope, document.ID, *document.AgentId, *document.WarehouseFromId, deltas); err != nil {
				return err
			}
		} else {
			deltas, err := buildStockDeltas(tx, scope, document)
			if err != nil {
				return err
			}
			if _, err := models.ApplyStockDeltas(tx, scope, document.ID, deltas, allowNegative); err != nil {
				return err
			}
		}

		for i := range document.Items {
			if err := tx.Model(&models.DocumentItem{}).Where("id = ?", document.Items[i].ID).
				Update("line_total", document.Items[i].LineTotal).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&models.WarehouseDocument{}).Where("id = ?", document.ID).
			Updates(map[string]interface{}{
				"number": document.Number,
				"date":   document.Date,
				"total":  document.Total,
			}).Error; err != nil {
			return err
		}

		if err := tx.Create(request).Error; err != nil {
			return err
		}
		return models.TransitionStatus(tx, document, models.DocumentStatusDraft, models.DocumentStatusCashPending)
	})
	if err != nil {
		return nil, err
	}

	publishDocumentEvent(ctx, models.EventDocumentPosted, scope, document, nil)
	return document, nil
}

// UnpostDocument returns a CASH_PENDING or POSTED document to DRAFT: its
// linked money document (if any) is unposted first, its stock effect is
// reversed symmetrically, and a still-pending approval request is withdrawn.
// The assigned number survives for the audit trail.
func UnpostDocument(ctx context.Context, scope models.TenantScope, documentId string) (*models.WarehouseDocument, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	release, err := obtainDocumentLock(ctx, documentId)
	if err != nil {
		return nil, err
	}
	defer release()

	db := config.GetDB()
	var document *models.WarehouseDocument
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireCompanyPostingLock(tx, scope.CompanyId); err != nil {
			return err
		}
		defer ReleaseCompanyPostingLock(tx, scope.CompanyId)

		var err error
		document, err = models.FetchDocumentForUpdate(tx, scope, documentId)
		if err != nil {
			return err
		}
		from := document.Status
		if from != models.DocumentStatusCashPending && from != models.DocumentStatusPosted {
			return fmt.Errorf("%w: cannot unpost from %s", models.ErrInvalidTransition, from)
		}

		if err := unpostLinkedMoney(tx, scope, document); err != nil {
			return err
		}

		if from == models.DocumentStatusCashPending {
			// A pending request belongs to the aborted posting cycle; decided
			// requests stay as audit records.
			request, err := models.PendingCashRequestForDocument(tx, scope, document.ID)
			if err != nil && !errors.Is(err, models.ErrRecordNotFound) {
				return err
			}
			if request != nil {
				if err := tx.Delete(&models.CashApprovalRequest{}, "id = ?", request.ID).Error; err != nil {
					return err
				}
			}
		}

		if document.AgentId != nil {
			if err := models.ReverseDocumentAgentStock(tx, scope, document.ID); err != nil {
				return err
			}
		} else {
			if err := models.ReverseDocumentStock(tx, scope, document.ID); err != nil {
				return err
			}
		}

		return models.TransitionStatus(tx, document, from, models.DocumentStatusDraft)
	})
	if err != nil {
		return nil, err
	}

	publishDocumentEvent(ctx, models.EventDocumentUnposted, scope, document, nil)
	return document, nil
}

// unpostLinkedMoney voids the money document materialized by an earlier
// approval, if one exists and is still posted.
func unpostLinkedMoney(tx *gorm.DB, scope models.TenantScope, document *models.WarehouseDocument) error {
	var moneyDocs []models.MoneyDocument
	if err := tx.Where("company_id = ? AND linked_document_id = ? AND status = ?",
		scope.CompanyId, document.ID, models.MoneyDocumentStatusPosted).
		Find(&moneyDocs).Error; err != nil {
		return err
	}
	for i := range moneyDocs {
		if err := models.UnpostMoneyDocument(tx, scope, &moneyDocs[i]); err != nil {
			return err
		}
	}
	return nil
}
