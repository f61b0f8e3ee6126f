package models_test

import (
	"errors"
	"testing"
	"time"

	"github.com/mirastock/warehouse_backend/models"
	"github.com/shopspring/decimal"
)

// NOTE: These tests are intentionally DB-free. They validate the posting
// preconditions and derived values; full lifecycle tests that need MySQL live
// in the workflow package behind INTEGRATION_TESTS.

func intPtr(v int) *int { return &v }

func validSale() *models.WarehouseDocument {
	return &models.WarehouseDocument{
		CompanyId:       "co-1",
		DocType:         models.DocTypeSale,
		Status:          models.DocumentStatusDraft,
		WarehouseFromId: intPtr(1),
		CounterpartyId:  intPtr(10),
		Items: []models.DocumentItem{
			{ProductId: 100, Qty: decimal.NewFromInt(3), Price: decimal.NewFromInt(50)},
		},
	}
}

func TestValidateForPosting_Sale(t *testing.T) {
	if err := validSale().ValidateForPosting(); err != nil {
		t.Fatalf("valid sale should pass: %v", err)
	}
}

func TestValidateForPosting_EmptyItems(t *testing.T) {
	doc := validSale()
	doc.Items = nil
	if err := doc.ValidateForPosting(); !errors.Is(err, models.ErrEmptyDocument) {
		t.Fatalf("want ErrEmptyDocument, got %v", err)
	}
}

func TestValidateForPosting_MissingWarehouse(t *testing.T) {
	doc := validSale()
	doc.WarehouseFromId = nil
	if err := doc.ValidateForPosting(); !errors.Is(err, models.ErrMissingReference) {
		t.Fatalf("want ErrMissingReference, got %v", err)
	}
}

func TestValidateForPosting_MissingCounterparty(t *testing.T) {
	for _, docType := range []models.DocType{
		models.DocTypeSale, models.DocTypePurchase,
		models.DocTypeSaleReturn, models.DocTypePurchaseReturn,
	} {
		doc := validSale()
		doc.DocType = docType
		doc.CounterpartyId = nil
		if err := doc.ValidateForPosting(); !errors.Is(err, models.ErrMissingReference) {
			t.Fatalf("%s without counterparty: want ErrMissingReference, got %v", docType, err)
		}
	}
	// RECEIPT and WRITE_OFF do not need one.
	for _, docType := range []models.DocType{models.DocTypeReceipt, models.DocTypeWriteOff} {
		doc := validSale()
		doc.DocType = docType
		doc.CounterpartyId = nil
		if err := doc.ValidateForPosting(); err != nil {
			t.Fatalf("%s without counterparty should pass: %v", docType, err)
		}
	}
}

func TestValidateForPosting_TransferWarehouses(t *testing.T) {
	doc := validSale()
	doc.DocType = models.DocTypeTransfer
	doc.CounterpartyId = nil
	doc.WarehouseToId = nil
	if err := doc.ValidateForPosting(); !errors.Is(err, models.ErrMissingReference) {
		t.Fatalf("transfer without warehouse_to: want ErrMissingReference, got %v", err)
	}

	doc.WarehouseToId = intPtr(1) // same as from
	if err := doc.ValidateForPosting(); !errors.Is(err, models.ErrMissingReference) {
		t.Fatalf("transfer with identical warehouses: want ErrMissingReference, got %v", err)
	}

	doc.WarehouseToId = intPtr(2)
	if err := doc.ValidateForPosting(); err != nil {
		t.Fatalf("valid transfer should pass: %v", err)
	}
}

func TestValidateForPosting_AgentRestrictions(t *testing.T) {
	doc := validSale()
	doc.AgentId = intPtr(7)
	if err := doc.ValidateForPosting(); err != nil {
		t.Fatalf("agent sale should pass: %v", err)
	}

	doc.DocType = models.DocTypeInventory
	doc.CounterpartyId = nil
	if err := doc.ValidateForPosting(); !errors.Is(err, models.ErrMissingReference) {
		t.Fatalf("agent inventory: want ErrMissingReference, got %v", err)
	}
}

func TestValidateForPosting_ItemRules(t *testing.T) {
	doc := validSale()
	doc.Items[0].Qty = decimal.Zero
	if err := doc.ValidateForPosting(); !errors.Is(err, models.ErrMissingReference) {
		t.Fatalf("zero qty: want ErrMissingReference, got %v", err)
	}

	doc = validSale()
	doc.Items[0].DiscountPercent = decimal.NewFromInt(101)
	if err := doc.ValidateForPosting(); !errors.Is(err, models.ErrMissingReference) {
		t.Fatalf("discount > 100: want ErrMissingReference, got %v", err)
	}
}

func TestRecalcTotal(t *testing.T) {
	doc := validSale()
	doc.Items = []models.DocumentItem{
		{ProductId: 1, Qty: decimal.NewFromInt(3), Price: decimal.NewFromInt(50)},
		{ProductId: 2, Qty: decimal.NewFromInt(2), Price: decimal.NewFromInt(100), DiscountPercent: decimal.NewFromInt(25)},
	}
	doc.RecalcTotal()
	if want := decimal.NewFromInt(300); !doc.Total.Equal(want) {
		t.Fatalf("total = %s, want %s", doc.Total, want)
	}
	if want := decimal.NewFromInt(150); !doc.Items[1].LineTotal.Equal(want) {
		t.Fatalf("discounted line total = %s, want %s", doc.Items[1].LineTotal, want)
	}
}

func TestCashPaymentKind_DefaultsToCash(t *testing.T) {
	doc := validSale()
	if doc.CashPaymentKind() != models.PaymentKindCash {
		t.Fatal("nil payment kind should default to cash")
	}
	credit := models.PaymentKindCredit
	doc.PaymentKind = &credit
	if doc.CashPaymentKind() != models.PaymentKindCredit {
		t.Fatal("explicit credit should stay credit")
	}
}

func TestMoneyDocTypeForDocument(t *testing.T) {
	receiptSide := []models.DocType{models.DocTypeSale, models.DocTypePurchaseReturn, models.DocTypeReceipt}
	for _, docType := range receiptSide {
		moneyType, ok := models.MoneyDocTypeForDocument(docType)
		if !ok || moneyType != models.MoneyDocTypeReceipt {
			t.Fatalf("%s: want MONEY_RECEIPT, got %s ok=%v", docType, moneyType, ok)
		}
	}
	expenseSide := []models.DocType{models.DocTypePurchase, models.DocTypeSaleReturn, models.DocTypeWriteOff}
	for _, docType := range expenseSide {
		moneyType, ok := models.MoneyDocTypeForDocument(docType)
		if !ok || moneyType != models.MoneyDocTypeExpense {
			t.Fatalf("%s: want MONEY_EXPENSE, got %s ok=%v", docType, moneyType, ok)
		}
	}
	for _, docType := range []models.DocType{models.DocTypeTransfer, models.DocTypeInventory} {
		if _, ok := models.MoneyDocTypeForDocument(docType); ok {
			t.Fatalf("%s should not map to a money document", docType)
		}
	}
}

func TestFormatDocumentNumber(t *testing.T) {
	day := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	got := models.FormatDocumentNumber("SALE", day, 7)
	if got != "SALE-20260830-0007" {
		t.Fatalf("FormatDocumentNumber = %q", got)
	}
	got = models.FormatDocumentNumber("MONEY_RECEIPT", day, 12345)
	if got != "MONEY_RECEIPT-20260830-12345" {
		t.Fatalf("FormatDocumentNumber wide seq = %q", got)
	}
}
