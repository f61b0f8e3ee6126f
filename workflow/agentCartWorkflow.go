package workflow

import (
	"context"
	"fmt"

	"github.com/mirastock/warehouse_backend/config"
	"github.com/mirastock/warehouse_backend/models"
	"github.com/mirastock/warehouse_backend/utils"
	"gorm.io/gorm"
)

// SubmitAgentCart hands a draft cart to the warehouse for decision. Items
// are validated here so a decision never sees a malformed cart.
func SubmitAgentCart(ctx context.Context, scope models.TenantScope, cartId string) (*models.AgentRequestCart, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var cart *models.AgentRequestCart
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		cart, err = models.FetchAgentCartForUpdate(tx, scope, cartId)
		if err != nil {
			return err
		}
		if cart.Status != models.AgentCartStatusDraft {
			return fmt.Errorf("%w: cannot submit from %s", models.ErrInvalidTransition, cart.Status)
		}
		if len(cart.Items) == 0 {
			return models.ErrEmptyDocument
		}
		for i := range cart.Items {
			if err := cart.Items[i].Validate(); err != nil {
				return err
			}
		}
		if _, err := models.FetchWarehouse(tx, scope, cart.WarehouseId); err != nil {
			return fmt.Errorf("%w: warehouse %d", models.ErrMissingReference, cart.WarehouseId)
		}
		return models.TransitionCartStatus(tx, cart, models.AgentCartStatusDraft, models.AgentCartStatusSubmitted, nil)
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// ApproveAgentCart moves the requested goods from the warehouse ledger into
// the agent sub-ledger in one transaction: the warehouse balance drops (no
// negative override here) and the agent balance rises by the same amount,
// both batches owned by the cart id so the hand-off stays traceable.
func ApproveAgentCart(ctx context.Context, scope models.TenantScope, cartId string) (*models.AgentRequestCart, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	release, err := obtainDocumentLock(ctx, cartId)
	if err != nil {
		return nil, err
	}
	defer release()

	var decidedBy *int
	if userId, ok := utils.GetUserIdFromContext(ctx); ok {
		decidedBy = &userId
	}

	db := config.GetDB()
	var cart *models.AgentRequestCart
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireCompanyPostingLock(tx, scope.CompanyId); err != nil {
			return err
		}
		defer ReleaseCompanyPostingLock(tx, scope.CompanyId)

		var err error
		cart, err = models.FetchAgentCartForUpdate(tx, scope, cartId)
		if err != nil {
			return err
		}
		if cart.Status != models.AgentCartStatusSubmitted {
			return fmt.Errorf("%w: cannot approve from %s", models.ErrInvalidTransition, cart.Status)
		}

		outgoing := make([]models.StockDelta, 0, len(cart.Items))
		incoming := make([]models.StockDelta, 0, len(cart.Items))
		for i := range cart.Items {
			item := &cart.Items[i]
			product, err := models.FetchProduct(tx, scope, item.ProductId)
			if err != nil {
				return fmt.Errorf("%w: product %d", models.ErrMissingReference, item.ProductId)
			}
			if !product.AllowsFractionalQty() && !utils.IsWholeNumber(item.QtyRequested) {
				return fmt.Errorf("%w: product %d is piece-counted, got qty %s",
					models.ErrFractionalQuantity, item.ProductId, item.QtyRequested.String())
			}
			outgoing = append(outgoing, models.StockDelta{
				WarehouseId: cart.WarehouseId,
				ProductId:   item.ProductId,
				QtyDelta:    item.QtyRequested.Neg(),
			})
			incoming = append(incoming, models.StockDelta{
				WarehouseId: cart.WarehouseId,
				ProductId:   item.ProductId,
				QtyDelta:    item.QtyRequested,
			})
		}

		if _, err := models.ApplyStockDeltas(tx, scope, cart.ID, outgoing, false); err != nil {
			return err
		}
		if _, err := models.ApplyAgentDeltas(tx, scope, cart.ID, cart.AgentId, cart.WarehouseId, incoming); err != nil {
			return err
		}
		return models.TransitionCartStatus(tx, cart, models.AgentCartStatusSubmitted, models.AgentCartStatusApproved, decidedBy)
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// RejectAgentCart refuses a submitted cart. No stock has moved, so there is
// nothing to reverse.
func RejectAgentCart(ctx context.Context, scope models.TenantScope, cartId string, note string) (*models.AgentRequestCart, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	var decidedBy *int
	if userId, ok := utils.GetUserIdFromContext(ctx); ok {
		decidedBy = &userId
	}

	db := config.GetDB()
	var cart *models.AgentRequestCart
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		cart, err = models.FetchAgentCartForUpdate(tx, scope, cartId)
		if err != nil {
			return err
		}
		if cart.Status != models.AgentCartStatusSubmitted {
			return fmt.Errorf("%w: cannot reject from %s", models.ErrInvalidTransition, cart.Status)
		}
		if note != "" {
			if err := tx.Model(&models.AgentRequestCart{}).Where("id = ?", cart.ID).
				Update("note", note).Error; err != nil {
				return err
			}
			cart.Note = note
		}
		return models.TransitionCartStatus(tx, cart, models.AgentCartStatusSubmitted, models.AgentCartStatusRejected, decidedBy)
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}
