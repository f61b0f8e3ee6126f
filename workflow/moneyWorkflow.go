package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/mirastock/warehouse_backend/config"
	"github.com/mirastock/warehouse_backend/models"
	"gorm.io/gorm"
)

// PostMoneyDocument posts a standalone (hand-entered) money document.
// Documents materialized by a cash approval are posted by the approval
// itself and never pass through here.
func PostMoneyDocument(ctx context.Context, scope models.TenantScope, moneyDocumentId string) (*models.MoneyDocument, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	release, err := obtainDocumentLock(ctx, moneyDocumentId)
	if err != nil {
		return nil, err
	}
	defer release()

	db := config.GetDB()
	var document *models.MoneyDocument
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		document, err = models.FetchMoneyDocumentForUpdate(tx, scope, moneyDocumentId)
		if err != nil {
			return err
		}
		if document.LinkedDocumentId != nil {
			return fmt.Errorf("%w: money document is managed by its linked document", models.ErrInvalidTransition)
		}
		_, err = models.PostMoneyDocument(tx, scope, document)
		return err
	})
	if err != nil {
		return nil, err
	}
	return document, nil
}

// UnpostMoneyDocument returns a standalone posted money document to DRAFT.
// A linked money document can only be voided by unposting its warehouse
// document, otherwise an approved document would lose its money leg.
func UnpostMoneyDocument(ctx context.Context, scope models.TenantScope, moneyDocumentId string) (*models.MoneyDocument, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	release, err := obtainDocumentLock(ctx, moneyDocumentId)
	if err != nil {
		return nil, err
	}
	defer release()

	db := config.GetDB()
	var document *models.MoneyDocument
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		document, err = models.FetchMoneyDocumentForUpdate(tx, scope, moneyDocumentId)
		if err != nil {
			return err
		}
		if document.LinkedDocumentId != nil {
			var linked models.WarehouseDocument
			err := tx.Where("id = ? AND company_id = ?", *document.LinkedDocumentId, scope.CompanyId).
				First(&linked).Error
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			if err == nil && linked.Status == models.DocumentStatusPosted {
				return fmt.Errorf("%w: unpost the linked warehouse document instead", models.ErrInvalidTransition)
			}
		}
		return models.UnpostMoneyDocument(tx, scope, document)
	})
	if err != nil {
		return nil, err
	}
	return document, nil
}
