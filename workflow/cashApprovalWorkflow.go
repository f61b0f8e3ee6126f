package workflow

import (
	"context"
	"fmt"

	"github.com/mirastock/warehouse_backend/config"
	"github.com/mirastock/warehouse_backend/models"
	"github.com/mirastock/warehouse_backend/utils"
	"gorm.io/gorm"
)

// resolveMoneyTargets picks the cash register and payment category the
// approval money document will post against. A document preset wins;
// otherwise a company with exactly one register (or category) gets it
// implicitly, and anything else fails so the caller must be explicit.
func resolveMoneyTargets(tx *gorm.DB, scope models.TenantScope, document *models.WarehouseDocument) (int, int, error) {
	var registerId int
	if document.CashRegisterId != nil {
		register, err := models.FetchCashRegister(tx, scope, *document.CashRegisterId)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: cash register %d", models.ErrMissingReference, *document.CashRegisterId)
		}
		registerId = register.ID
	} else {
		register, err := models.SoleCashRegister(tx, scope)
		if err != nil {
			return 0, 0, err
		}
		registerId = register.ID
	}

	var categoryId int
	if document.PaymentCategoryId != nil {
		category, err := models.FetchPaymentCategory(tx, scope, *document.PaymentCategoryId)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: payment category %d", models.ErrMissingReference, *document.PaymentCategoryId)
		}
		categoryId = category.ID
	} else {
		category, err := models.SolePaymentCategory(tx, scope)
		if err != nil {
			return 0, 0, err
		}
		categoryId = category.ID
	}
	return registerId, categoryId, nil
}

// ApproveCashRequest finalizes a pending approval: when the request carries
// money, a money document for the requested amount is created and posted in
// the same transaction, then the warehouse document moves CASH_PENDING to
// POSTED. Stock already moved at posting time and is untouched here.
func ApproveCashRequest(ctx context.Context, scope models.TenantScope, requestId string, note string) (*models.CashApprovalRequest, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	var decidedBy *int
	if userId, ok := utils.GetUserIdFromContext(ctx); ok {
		decidedBy = &userId
	}

	db := config.GetDB()
	var request *models.CashApprovalRequest
	var document *models.WarehouseDocument
	var moneyDocumentId *string
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		request, err = models.FetchCashRequestForUpdate(tx, scope, requestId)
		if err != nil {
			return err
		}
		if request.Status != models.CashRequestStatusPending {
			return models.ErrAlreadyDecided
		}
		document, err = models.FetchDocumentForUpdate(tx, scope, request.DocumentId)
		if err != nil {
			return err
		}
		if document.Status != models.DocumentStatusCashPending {
			return fmt.Errorf("%w: document is %s", models.ErrInvalidTransition, document.Status)
		}

		if request.RequiresMoney {
			registerId, categoryId, err := resolveMoneyTargets(tx, scope, document)
			if err != nil {
				return err
			}
			moneyDocument := &models.MoneyDocument{
				CompanyId:         scope.CompanyId,
				BranchId:          document.BranchId,
				DocType:           *request.MoneyDocType,
				CashRegisterId:    registerId,
				CounterpartyId:    document.CounterpartyId,
				PaymentCategoryId: &categoryId,
				Amount:            request.Amount,
				LinkedDocumentId:  &document.ID,
			}
			if err := tx.Create(moneyDocument).Error; err != nil {
				return err
			}
			if _, err := models.PostMoneyDocument(tx, scope, moneyDocument); err != nil {
				return err
			}
			moneyDocumentId = &moneyDocument.ID
		}

		if err := models.DecideCashRequest(tx, request, models.CashRequestStatusApproved, note, decidedBy, moneyDocumentId); err != nil {
			return err
		}
		return models.TransitionStatus(tx, document, models.DocumentStatusCashPending, models.DocumentStatusPosted)
	})
	if err != nil {
		return nil, err
	}

	publishDocumentEvent(ctx, models.EventCashApproved, scope, document, moneyDocumentId)
	return request, nil
}

// RejectCashRequest refuses a pending approval: the document's stock (or
// agent sub-ledger) effect is reversed and the document lands in the terminal
// REJECTED state. Its number stays assigned.
func RejectCashRequest(ctx context.Context, scope models.TenantScope, requestId string, note string) (*models.CashApprovalRequest, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	var decidedBy *int
	if userId, ok := utils.GetUserIdFromContext(ctx); ok {
		decidedBy = &userId
	}

	db := config.GetDB()
	var request *models.CashApprovalRequest
	var document *models.WarehouseDocument
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireCompanyPostingLock(tx, scope.CompanyId); err != nil {
			return err
		}
		defer ReleaseCompanyPostingLock(tx, scope.CompanyId)

		var err error
		request, err = models.FetchCashRequestForUpdate(tx, scope, requestId)
		if err != nil {
			return err
		}
		if request.Status != models.CashRequestStatusPending {
			return models.ErrAlreadyDecided
		}
		document, err = models.FetchDocumentForUpdate(tx, scope, request.DocumentId)
		if err != nil {
			return err
		}
		if document.Status != models.DocumentStatusCashPending {
			return fmt.Errorf("%w: document is %s", models.ErrInvalidTransition, document.Status)
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

		if err := models.DecideCashRequest(tx, request, models.CashRequestStatusRejected, note, decidedBy, nil); err != nil {
			return err
		}
		return models.TransitionStatus(tx, document, models.DocumentStatusCashPending, models.DocumentStatusRejected)
	})
	if err != nil {
		return nil, err
	}

	publishDocumentEvent(ctx, models.EventCashRejected, scope, document, nil)
	return request, nil
}
