package workflow

import (
	"errors"
	"testing"

	"github.com/bsm/redislock"
	"github.com/go-sql-driver/mysql"
	"github.com/mirastock/warehouse_backend/models"
	"github.com/shopspring/decimal"
)

// NOTE: These tests are intentionally DB-free. They validate the direction
// table and cash-request derivation; full posting cycles run under
// INTEGRATION_TESTS with a real MySQL.

func TestDocTypeSign(t *testing.T) {
	outgoing := []models.DocType{models.DocTypeSale, models.DocTypeWriteOff, models.DocTypePurchaseReturn}
	for _, docType := range outgoing {
		sign, ok := docTypeSign(docType)
		if !ok || sign != -1 {
			t.Fatalf("%s: want -1, got %d ok=%v", docType, sign, ok)
		}
	}
	incoming := []models.DocType{models.DocTypePurchase, models.DocTypeReceipt, models.DocTypeSaleReturn}
	for _, docType := range incoming {
		sign, ok := docTypeSign(docType)
		if !ok || sign != 1 {
			t.Fatalf("%s: want +1, got %d ok=%v", docType, sign, ok)
		}
	}
	for _, docType := range []models.DocType{models.DocTypeTransfer, models.DocTypeInventory} {
		if _, ok := docTypeSign(docType); ok {
			t.Fatalf("%s should not have a plain sign", docType)
		}
	}
}

func TestBuildCashRequest_CashSale(t *testing.T) {
	doc := &models.WarehouseDocument{
		ID:        "doc-1",
		CompanyId: "co-1",
		DocType:   models.DocTypeSale,
		Total:     decimal.NewFromInt(500),
	}
	request := buildCashRequest(doc)
	if !request.RequiresMoney {
		t.Fatal("cash sale must require money")
	}
	if request.MoneyDocType == nil || *request.MoneyDocType != models.MoneyDocTypeReceipt {
		t.Fatalf("cash sale money type = %v", request.MoneyDocType)
	}
	if !request.Amount.Equal(doc.Total) {
		t.Fatalf("amount = %s, want %s", request.Amount, doc.Total)
	}
}

func TestBuildCashRequest_CreditSaleNoPrepayment(t *testing.T) {
	credit := models.PaymentKindCredit
	doc := &models.WarehouseDocument{
		ID:          "doc-1",
		DocType:     models.DocTypeSale,
		PaymentKind: &credit,
		Total:       decimal.NewFromInt(500),
	}
	request := buildCashRequest(doc)
	if request.RequiresMoney {
		t.Fatal("plain credit sale moves no money on approval")
	}
	if !request.Amount.IsZero() {
		t.Fatalf("amount = %s, want 0", request.Amount)
	}
}

func TestBuildCashRequest_CreditSaleWithPrepayment(t *testing.T) {
	credit := models.PaymentKindCredit
	doc := &models.WarehouseDocument{
		ID:               "doc-1",
		DocType:          models.DocTypeSale,
		PaymentKind:      &credit,
		PrepaymentAmount: decimal.NewFromInt(120),
		Total:            decimal.NewFromInt(500),
	}
	request := buildCashRequest(doc)
	if !request.RequiresMoney {
		t.Fatal("credit sale with prepayment requires money")
	}
	if !request.Amount.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("amount = %s, want the prepayment", request.Amount)
	}
}

func TestBuildCashRequest_TransferAndInventoryMoveNoMoney(t *testing.T) {
	for _, docType := range []models.DocType{models.DocTypeTransfer, models.DocTypeInventory} {
		doc := &models.WarehouseDocument{
			ID:      "doc-1",
			DocType: docType,
			Total:   decimal.NewFromInt(500),
		}
		request := buildCashRequest(doc)
		if request.RequiresMoney {
			t.Fatalf("%s request must not require money", docType)
		}
		if request.MoneyDocType != nil {
			t.Fatalf("%s money type = %v, want nil", docType, *request.MoneyDocType)
		}
		if request.Status != models.CashRequestStatusPending {
			t.Fatalf("%s request status = %s", docType, request.Status)
		}
	}
}

func TestCheckCashSettlement(t *testing.T) {
	receipt := &models.WarehouseDocument{
		ID:      "doc-1",
		DocType: models.DocTypeReceipt,
		Total:   decimal.NewFromInt(40),
	}
	if err := checkCashSettlement(receipt, buildCashRequest(receipt)); !errors.Is(err, models.ErrMissingReference) {
		t.Fatalf("cash receipt without counterparty: want ErrMissingReference, got %v", err)
	}

	counterpartyId := 5
	receipt.CounterpartyId = &counterpartyId
	if err := checkCashSettlement(receipt, buildCashRequest(receipt)); err != nil {
		t.Fatalf("cash receipt with counterparty: %v", err)
	}

	// Plain credit moves no money, so no counterparty is needed for the desk
	// to confirm it.
	credit := models.PaymentKindCredit
	writeOff := &models.WarehouseDocument{
		ID:          "doc-2",
		DocType:     models.DocTypeWriteOff,
		PaymentKind: &credit,
		Total:       decimal.NewFromInt(40),
	}
	if err := checkCashSettlement(writeOff, buildCashRequest(writeOff)); err != nil {
		t.Fatalf("credit write-off without counterparty: %v", err)
	}

	transfer := &models.WarehouseDocument{ID: "doc-3", DocType: models.DocTypeTransfer}
	if err := checkCashSettlement(transfer, buildCashRequest(transfer)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
}

func TestBuildCashRequest_PurchaseIsExpense(t *testing.T) {
	doc := &models.WarehouseDocument{
		ID:      "doc-1",
		DocType: models.DocTypePurchase,
		Total:   decimal.NewFromInt(90),
	}
	request := buildCashRequest(doc)
	if request.MoneyDocType == nil || *request.MoneyDocType != models.MoneyDocTypeExpense {
		t.Fatalf("purchase money type = %v", request.MoneyDocType)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(errConflict("lock", nil)) {
		t.Fatal("conflict sentinel must be retryable")
	}
	if !IsRetryable(redislock.ErrNotObtained) {
		t.Fatal("lost redis lock must be retryable")
	}
	if !IsRetryable(&mysql.MySQLError{Number: 1213, Message: "deadlock"}) {
		t.Fatal("MySQL deadlock must be retryable")
	}
	if !IsRetryable(&mysql.MySQLError{Number: 1205, Message: "lock wait timeout"}) {
		t.Fatal("MySQL lock wait timeout must be retryable")
	}
	if IsRetryable(&mysql.MySQLError{Number: 1062, Message: "duplicate"}) {
		t.Fatal("duplicate key is not retryable")
	}
	if IsRetryable(errors.New("boom")) {
		t.Fatal("plain errors are not retryable")
	}
	if IsRetryable(models.ErrInsufficientStock) {
		t.Fatal("business failures are not retryable")
	}
}
