package workflow

import (
	"context"
	"time"

	"github.com/mirastock/warehouse_backend/config"
	"github.com/mirastock/warehouse_backend/models"
	"github.com/mirastock/warehouse_backend/utils"
)

// publishDocumentEvent fans a committed lifecycle change out to the
// notification topic. Publishing happens after commit on a detached context;
// a delivery failure is logged and never fails the ledger operation.
func publishDocumentEvent(ctx context.Context, event string, scope models.TenantScope, document *models.WarehouseDocument, moneyDocumentId *string) {
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	userName, _ := utils.GetUserNameFromContext(ctx)
	payload := config.DomainEvent{
		Event:           event,
		CompanyId:       scope.CompanyId,
		BranchId:        scope.BranchId,
		DocumentId:      document.ID,
		DocumentType:    string(document.DocType),
		MoneyDocumentId: moneyDocumentId,
		UserName:        userName,
		OccurredAt:      time.Now().UTC(),
		CorrelationId:   correlationId,
	}
	if document.Number != nil {
		payload.DocumentNumber = *document.Number
	}

	go func() {
		pubCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := config.PublishDomainEvent(pubCtx, payload); err != nil {
			config.LogError(config.GetLogger(), "workflow", "publishDocumentEvent", event, payload, err)
		}
	}()
}
