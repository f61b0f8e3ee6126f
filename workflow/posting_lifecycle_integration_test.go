package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mirastock/warehouse_backend/config"
	"github.com/mirastock/warehouse_backend/models"
	"github.com/mirastock/warehouse_backend/utils"
	"github.com/mirastock/warehouse_backend/workflow"
	"github.com/shopspring/decimal"
)

// Full lifecycle tests against real MySQL + Redis in docker. Gated behind
// INTEGRATION_TESTS because they need a docker daemon and take a while.
// Containers are shared across the whole test run and reaped in TestMain.

func TestMain(m *testing.M) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		// DB-free tests in this package still run.
		os.Exit(m.Run())
	}

	redisName, redisPort, err := startRedisContainer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "start redis container: %v\n", err)
		os.Exit(1)
	}
	mysqlName, mysqlPort, err := startMySQLContainer()
	if err != nil {
		_ = dockerRmForce(redisName)
		fmt.Fprintf(os.Stderr, "start mysql container: %v\n", err)
		os.Exit(1)
	}

	os.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	os.Setenv("DB_USER", "root")
	os.Setenv("DB_PASSWORD", "testpw")
	os.Setenv("DB_HOST", "127.0.0.1")
	os.Setenv("DB_PORT", mysqlPort)
	os.Setenv("DB_NAME", "mirastock_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	code := m.Run()
	_ = dockerRmForce(mysqlName)
	_ = dockerRmForce(redisName)
	os.Exit(code)
}

func setupIntegration(t *testing.T) {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}
}

type fixture struct {
	scope        models.TenantScope
	ctx          context.Context
	warehouse    *models.Warehouse
	warehouse2   *models.Warehouse
	product      *models.Product
	weightGood   *models.Product
	counterparty *models.Counterparty
	register     *models.CashRegister
	category     *models.PaymentCategory
}

// seedCompany creates an isolated tenant so tests cannot bleed into each
// other through shared balances or sequences.
func seedCompany(t *testing.T) *fixture {
	t.Helper()
	db := config.GetDB()
	companyId := fmt.Sprintf("co-%d", time.Now().UnixNano())
	scope := models.TenantScope{CompanyId: companyId}

	f := &fixture{scope: scope}
	f.warehouse = &models.Warehouse{CompanyId: companyId, Name: "Main"}
	f.warehouse2 = &models.Warehouse{CompanyId: companyId, Name: "Annex"}
	f.counterparty = &models.Counterparty{CompanyId: companyId, Name: "ACME", Type: models.CounterpartyTypeClient}
	f.register = &models.CashRegister{CompanyId: companyId, Name: "Front desk"}
	f.category = &models.PaymentCategory{CompanyId: companyId, Title: "Goods"}
	for _, rec := range []interface{}{f.warehouse, f.warehouse2, f.counterparty, f.register, f.category} {
		if err := db.Create(rec).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	f.product = &models.Product{CompanyId: companyId, WarehouseId: f.warehouse.ID, Name: "Boxed widget", Price: decimal.NewFromInt(50)}
	f.weightGood = &models.Product{CompanyId: companyId, WarehouseId: f.warehouse.ID, Name: "Flour", IsWeight: utils.NewTrue(), Unit: "kg", Price: decimal.NewFromInt(3)}
	for _, rec := range []interface{}{f.product, f.weightGood} {
		if err := db.Create(rec).Error; err != nil {
			t.Fatalf("seed products: %v", err)
		}
	}

	ctx := utils.SetCompanyIdInContext(context.Background(), companyId)
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "tester")
	f.ctx = ctx
	return f
}

func (f *fixture) createDocument(t *testing.T, doc *models.WarehouseDocument) *models.WarehouseDocument {
	t.Helper()
	doc.CompanyId = f.scope.CompanyId
	if err := config.GetDB().Create(doc).Error; err != nil {
		t.Fatalf("create document: %v", err)
	}
	return doc
}

// stockReceipt posts and approves a RECEIPT so later tests operate on a known
// opening balance.
func (f *fixture) stockReceipt(t *testing.T, product *models.Product, qty int64) {
	t.Helper()
	doc := f.createDocument(t, &models.WarehouseDocument{
		DocType:         models.DocTypeReceipt,
		WarehouseFromId: &f.warehouse.ID,
		CounterpartyId:  &f.counterparty.ID,
		Items: []models.DocumentItem{
			{ProductId: product.ID, Qty: decimal.NewFromInt(qty), Price: decimal.NewFromInt(1)},
		},
	})
	if _, err := workflow.PostDocument(f.ctx, f.scope, doc.ID, false); err != nil {
		t.Fatalf("post receipt: %v", err)
	}
	request := f.pendingRequest(t, doc.ID)
	if _, err := workflow.ApproveCashRequest(f.ctx, f.scope, request.ID, ""); err != nil {
		t.Fatalf("approve receipt: %v", err)
	}
}

func (f *fixture) pendingRequest(t *testing.T, documentId string) *models.CashApprovalRequest {
	t.Helper()
	var request models.CashApprovalRequest
	err := config.GetDB().
		Where("company_id = ? AND document_id = ? AND status = ?",
			f.scope.CompanyId, documentId, models.CashRequestStatusPending).
		First(&request).Error
	if err != nil {
		t.Fatalf("pending request for %s: %v", documentId, err)
	}
	return &request
}

func (f *fixture) balanceQty(t *testing.T, warehouseId, productId int) decimal.Decimal {
	t.Helper()
	var balance models.StockBalance
	err := config.GetDB().
		Where("company_id = ? AND warehouse_id = ? AND product_id = ?",
			f.scope.CompanyId, warehouseId, productId).
		First(&balance).Error
	if err != nil {
		return decimal.Zero
	}
	return balance.Qty
}

func assertQty(t *testing.T, got decimal.Decimal, want int64, what string) {
	t.Helper()
	if !got.Equal(decimal.NewFromInt(want)) {
		t.Fatalf("%s = %s, want %d", what, got, want)
	}
}

func TestSalePostApproveUnpostCycle(t *testing.T) {
	setupIntegration(t)
	f := seedCompany(t)
	f.stockReceipt(t, f.product, 10)

	sale := f.createDocument(t, &models.WarehouseDocument{
		DocType:         models.DocTypeSale,
		WarehouseFromId: &f.warehouse.ID,
		CounterpartyId:  &f.counterparty.ID,
		Items: []models.DocumentItem{
			{ProductId: f.product.ID, Qty: decimal.NewFromInt(3), Price: decimal.NewFromInt(50)},
		},
	})

	posted, err := workflow.PostDocument(f.ctx, f.scope, sale.ID, false)
	if err != nil {
		t.Fatalf("post sale: %v", err)
	}
	if posted.Status != models.DocumentStatusCashPending {
		t.Fatalf("status after post = %s", posted.Status)
	}
	if posted.Number == nil || !strings.HasPrefix(*posted.Number, "SALE-") {
		t.Fatalf("number after post = %v", posted.Number)
	}
	assertQty(t, f.balanceQty(t, f.warehouse.ID, f.product.ID), 7, "balance after post")

	// Posting again must fail: stock already moved.
	if _, err := workflow.PostDocument(f.ctx, f.scope, sale.ID, false); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("double post: want ErrInvalidTransition, got %v", err)
	}

	request := f.pendingRequest(t, sale.ID)
	if !request.RequiresMoney {
		t.Fatal("cash sale request must require money")
	}
	approved, err := workflow.ApproveCashRequest(f.ctx, f.scope, request.ID, "ok")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.MoneyDocumentId == nil {
		t.Fatal("approval must record the money document")
	}

	var moneyDoc models.MoneyDocument
	if err := config.GetDB().First(&moneyDoc, "id = ?", *approved.MoneyDocumentId).Error; err != nil {
		t.Fatalf("load money doc: %v", err)
	}
	if moneyDoc.Status != models.MoneyDocumentStatusPosted {
		t.Fatalf("money doc status = %s", moneyDoc.Status)
	}
	if !moneyDoc.Amount.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("money doc amount = %s, want 150", moneyDoc.Amount)
	}
	// 10 from the opening receipt plus 150 from the sale.
	balance, err := models.CashRegisterBalance(config.GetDB(), f.scope, f.register.ID)
	if err != nil {
		t.Fatalf("register balance: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(160)) {
		t.Fatalf("register balance = %s, want 160", balance)
	}

	// Deciding twice must fail.
	if _, err := workflow.ApproveCashRequest(f.ctx, f.scope, request.ID, ""); !errors.Is(err, models.ErrAlreadyDecided) {
		t.Fatalf("double approve: want ErrAlreadyDecided, got %v", err)
	}

	numberBefore := *posted.Number
	unposted, err := workflow.UnpostDocument(f.ctx, f.scope, sale.ID)
	if err != nil {
		t.Fatalf("unpost: %v", err)
	}
	if unposted.Status != models.DocumentStatusDraft {
		t.Fatalf("status after unpost = %s", unposted.Status)
	}
	if unposted.Number == nil || *unposted.Number != numberBefore {
		t.Fatal("number must survive unpost")
	}
	assertQty(t, f.balanceQty(t, f.warehouse.ID, f.product.ID), 10, "balance after unpost")

	if err := config.GetDB().First(&moneyDoc, "id = ?", moneyDoc.ID).Error; err != nil {
		t.Fatalf("reload money doc: %v", err)
	}
	if moneyDoc.Status != models.MoneyDocumentStatusDraft {
		t.Fatalf("money doc after unpost = %s, want DRAFT", moneyDoc.Status)
	}

	// Repost keeps the same number.
	reposted, err := workflow.PostDocument(f.ctx, f.scope, sale.ID, false)
	if err != nil {
		t.Fatalf("repost: %v", err)
	}
	if *reposted.Number != numberBefore {
		t.Fatalf("repost number = %s, want %s", *reposted.Number, numberBefore)
	}
}

func TestRejectRestoresStock(t *testing.T) {
	setupIntegration(t)
	f := seedCompany(t)
	f.stockReceipt(t, f.product, 10)

	sale := f.createDocument(t, &models.WarehouseDocument{
		DocType:         models.DocTypeSale,
		WarehouseFromId: &f.warehouse.ID,
		CounterpartyId:  &f.counterparty.ID,
		Items: []models.DocumentItem{
			{ProductId: f.product.ID, Qty: decimal.NewFromInt(4), Price: decimal.NewFromInt(50)},
		},
	})
	if _, err := workflow.PostDocument(f.ctx, f.scope, sale.ID, false); err != nil {
		t.Fatalf("post: %v", err)
	}
	assertQty(t, f.balanceQty(t, f.warehouse.ID, f.product.ID), 6, "balance after post")

	request := f.pendingRequest(t, sale.ID)
	if _, err := workflow.RejectCashRequest(f.ctx, f.scope, request.ID, "no funds"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	assertQty(t, f.balanceQty(t, f.warehouse.ID, f.product.ID), 10, "balance after reject")

	var reloaded models.WarehouseDocument
	if err := config.GetDB().First(&reloaded, "id = ?", sale.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != models.DocumentStatusRejected {
		t.Fatalf("status after reject = %s", reloaded.Status)
	}
	// REJECTED is terminal.
	if _, err := workflow.PostDocument(f.ctx, f.scope, sale.ID, false); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("post rejected: want ErrInvalidTransition, got %v", err)
	}
}

func TestNegativeStockGuard(t *testing.T) {
	setupIntegration(t)
	f := seedCompany(t)
	f.stockReceipt(t, f.product, 5)

	sale := f.createDocument(t, &models.WarehouseDocument{
		DocType:         models.DocTypeSale,
		WarehouseFromId: &f.warehouse.ID,
		CounterpartyId:  &f.counterparty.ID,
		Items: []models.DocumentItem{
			{ProductId: f.product.ID, Qty: decimal.NewFromInt(8), Price: decimal.NewFromInt(50)},
		},
	})
	if _, err := workflow.PostDocument(f.ctx, f.scope, sale.ID, false); !errors.Is(err, models.ErrInsufficientStock) {
		t.Fatalf("want ErrInsufficientStock, got %v", err)
	}
	// All-or-nothing: the failed posting left everything untouched.
	assertQty(t, f.balanceQty(t, f.warehouse.ID, f.product.ID), 5, "balance after failed post")
	var reloaded models.WarehouseDocument
	if err := config.GetDB().First(&reloaded, "id = ?", sale.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != models.DocumentStatusDraft {
		t.Fatalf("status after failed post = %s", reloaded.Status)
	}

	// The override lets the balance go negative.
	if _, err := workflow.PostDocument(f.ctx, f.scope, sale.ID, true); err != nil {
		t.Fatalf("post with override: %v", err)
	}
	got := f.balanceQty(t, f.warehouse.ID, f.product.ID)
	if !got.Equal(decimal.NewFromInt(-3)) {
		t.Fatalf("balance with override = %s, want -3", got)
	}
}

func TestTransferMovesBetweenWarehouses(t *testing.T) {
	setupIntegration(t)
	f := seedCompany(t)
	f.stockReceipt(t, f.product, 10)

	transfer := f.createDocument(t, &models.WarehouseDocument{
		DocType:         models.DocTypeTransfer,
		WarehouseFromId: &f.warehouse.ID,
		WarehouseToId:   &f.warehouse2.ID,
		Items: []models.DocumentItem{
			{ProductId: f.product.ID, Qty: decimal.NewFromInt(4)},
		},
	})
	posted, err := workflow.PostDocument(f.ctx, f.scope, transfer.ID, false)
	if err != nil {
		t.Fatalf("post transfer: %v", err)
	}
	// Stock moves at posting time, before the cash desk confirms.
	if posted.Status != models.DocumentStatusCashPending {
		t.Fatalf("transfer status = %s, want CASH_PENDING", posted.Status)
	}
	assertQty(t, f.balanceQty(t, f.warehouse.ID, f.product.ID), 6, "source after transfer")
	assertQty(t, f.balanceQty(t, f.warehouse2.ID, f.product.ID), 4, "destination after transfer")

	// The desk confirms but no money document appears.
	request := f.pendingRequest(t, transfer.ID)
	if request.RequiresMoney {
		t.Fatal("transfer request must not require money")
	}
	approved, err := workflow.ApproveCashRequest(f.ctx, f.scope, request.ID, "")
	if err != nil {
		t.Fatalf("approve transfer: %v", err)
	}
	if approved.MoneyDocumentId != nil {
		t.Fatal("transfer approval must not create a money document")
	}
	var reloaded models.WarehouseDocument
	if err := config.GetDB().First(&reloaded, "id = ?", transfer.ID).Error; err != nil {
		t.Fatalf("reload transfer: %v", err)
	}
	if reloaded.Status != models.DocumentStatusPosted {
		t.Fatalf("transfer after approval = %s, want POSTED", reloaded.Status)
	}

	if _, err := workflow.UnpostDocument(f.ctx, f.scope, transfer.ID); err != nil {
		t.Fatalf("unpost transfer: %v", err)
	}
	assertQty(t, f.balanceQty(t, f.warehouse.ID, f.product.ID), 10, "source after unpost")
	assertQty(t, f.balanceQty(t, f.warehouse2.ID, f.product.ID), 0, "destination after unpost")
}

func TestInventorySetsCountedBalance(t *testing.T) {
	setupIntegration(t)
	f := seedCompany(t)
	f.stockReceipt(t, f.product, 10)

	inventory := f.createDocument(t, &models.WarehouseDocument{
		DocType:         models.DocTypeInventory,
		WarehouseFromId: &f.warehouse.ID,
		Items: []models.DocumentItem{
			{ProductId: f.product.ID, Qty: decimal.NewFromInt(7)},
		},
	})
	posted, err := workflow.PostDocument(f.ctx, f.scope, inventory.ID, false)
	if err != nil {
		t.Fatalf("post inventory: %v", err)
	}
	if posted.Status != models.DocumentStatusCashPending {
		t.Fatalf("inventory status = %s, want CASH_PENDING", posted.Status)
	}
	assertQty(t, f.balanceQty(t, f.warehouse.ID, f.product.ID), 7, "balance after count")

	request := f.pendingRequest(t, inventory.ID)
	if request.RequiresMoney {
		t.Fatal("inventory request must not require money")
	}
	if _, err := workflow.ApproveCashRequest(f.ctx, f.scope, request.ID, ""); err != nil {
		t.Fatalf("approve inventory: %v", err)
	}

	// The ledger entry records the delta, not the counted value.
	var entries []models.StockLedgerEntry
	if err := config.GetDB().
		Where("company_id = ? AND document_id = ?", f.scope.CompanyId, inventory.ID).
		Find(&entries).Error; err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 1 || !entries[0].QtyDelta.Equal(decimal.NewFromInt(-3)) {
		t.Fatalf("inventory entries = %+v, want one delta of -3", entries)
	}
}

func TestFractionalQtyGuard(t *testing.T) {
	setupIntegration(t)
	f := seedCompany(t)
	f.stockReceipt(t, f.product, 10)

	sale := f.createDocument(t, &models.WarehouseDocument{
		DocType:         models.DocTypeSale,
		WarehouseFromId: &f.warehouse.ID,
		CounterpartyId:  &f.counterparty.ID,
		Items: []models.DocumentItem{
			{ProductId: f.product.ID, Qty: decimal.RequireFromString("1.5"), Price: decimal.NewFromInt(50)},
		},
	})
	if _, err := workflow.PostDocument(f.ctx, f.scope, sale.ID, false); !errors.Is(err, models.ErrFractionalQuantity) {
		t.Fatalf("want ErrFractionalQuantity, got %v", err)
	}

	// Weight goods accept fractional quantities.
	f.stockReceipt(t, f.weightGood, 10)
	weightSale := f.createDocument(t, &models.WarehouseDocument{
		DocType:         models.DocTypeSale,
		WarehouseFromId: &f.warehouse.ID,
		CounterpartyId:  &f.counterparty.ID,
		Items: []models.DocumentItem{
			{ProductId: f.weightGood.ID, Qty: decimal.RequireFromString("1.5"), Price: decimal.NewFromInt(3)},
		},
	})
	if _, err := workflow.PostDocument(f.ctx, f.scope, weightSale.ID, false); err != nil {
		t.Fatalf("weight sale: %v", err)
	}
}

func TestCashDocumentWithoutCounterpartyFailsAtPost(t *testing.T) {
	setupIntegration(t)
	f := seedCompany(t)

	// A cash RECEIPT needs someone to receive the money from; refusing at
	// post time keeps the document editable instead of stuck in CASH_PENDING.
	receipt := f.createDocument(t, &models.WarehouseDocument{
		DocType:         models.DocTypeReceipt,
		WarehouseFromId: &f.warehouse.ID,
		Items: []models.DocumentItem{
			{ProductId: f.product.ID, Qty: decimal.NewFromInt(5), Price: decimal.NewFromInt(1)},
		},
	})
	if _, err := workflow.PostDocument(f.ctx, f.scope, receipt.ID, false); !errors.Is(err, models.ErrMissingReference) {
		t.Fatalf("want ErrMissingReference, got %v", err)
	}
	assertQty(t, f.balanceQty(t, f.warehouse.ID, f.product.ID), 0, "balance after refused post")
	var reloaded models.WarehouseDocument
	if err := config.GetDB().First(&reloaded, "id = ?", receipt.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != models.DocumentStatusDraft {
		t.Fatalf("status = %s, want DRAFT", reloaded.Status)
	}
}

func TestAgentCartBridgeAndAgentSale(t *testing.T) {
	setupIntegration(t)
	f := seedCompany(t)
	f.stockReceipt(t, f.product, 10)
	agentId := 77

	cart := &models.AgentRequestCart{
		CompanyId:   f.scope.CompanyId,
		AgentId:     agentId,
		WarehouseId: f.warehouse.ID,
		Items: []models.AgentRequestItem{
			{ProductId: f.product.ID, QtyRequested: decimal.NewFromInt(6)},
		},
	}
	if err := config.GetDB().Create(cart).Error; err != nil {
		t.Fatalf("create cart: %v", err)
	}
	if _, err := workflow.SubmitAgentCart(f.ctx, f.scope, cart.ID); err != nil {
		t.Fatalf("submit cart: %v", err)
	}
	if _, err := workflow.ApproveAgentCart(f.ctx, f.scope, cart.ID); err != nil {
		t.Fatalf("approve cart: %v", err)
	}
	assertQty(t, f.balanceQty(t, f.warehouse.ID, f.product.ID), 4, "warehouse after hand-off")

	var agentEntry models.AgentStockEntry
	if err := config.GetDB().
		Where("company_id = ? AND agent_id = ? AND product_id = ?", f.scope.CompanyId, agentId, f.product.ID).
		First(&agentEntry).Error; err != nil {
		t.Fatalf("agent entry: %v", err)
	}
	assertQty(t, agentEntry.Qty, 6, "agent stock after hand-off")

	// An agent sale draws from the agent sub-ledger, not the warehouse.
	agentSale := f.createDocument(t, &models.WarehouseDocument{
		DocType:         models.DocTypeSale,
		WarehouseFromId: &f.warehouse.ID,
		CounterpartyId:  &f.counterparty.ID,
		AgentId:         &agentId,
		Items: []models.DocumentItem{
			{ProductId: f.product.ID, Qty: decimal.NewFromInt(2), Price: decimal.NewFromInt(50)},
		},
	})
	if _, err := workflow.PostDocument(f.ctx, f.scope, agentSale.ID, false); err != nil {
		t.Fatalf("post agent sale: %v", err)
	}
	assertQty(t, f.balanceQty(t, f.warehouse.ID, f.product.ID), 4, "warehouse untouched by agent sale")
	if err := config.GetDB().First(&agentEntry, "id = ?", agentEntry.ID).Error; err != nil {
		t.Fatalf("reload agent entry: %v", err)
	}
	assertQty(t, agentEntry.Qty, 4, "agent stock after agent sale")

	// The no-override rule: an agent sale beyond holdings fails even with
	// allow_negative.
	bigSale := f.createDocument(t, &models.WarehouseDocument{
		DocType:         models.DocTypeSale,
		WarehouseFromId: &f.warehouse.ID,
		CounterpartyId:  &f.counterparty.ID,
		AgentId:         &agentId,
		Items: []models.DocumentItem{
			{ProductId: f.product.ID, Qty: decimal.NewFromInt(50), Price: decimal.NewFromInt(50)},
		},
	})
	if _, err := workflow.PostDocument(f.ctx, f.scope, bigSale.ID, true); !errors.Is(err, models.ErrInsufficientStock) {
		t.Fatalf("agent overdraw: want ErrInsufficientStock, got %v", err)
	}
}

func TestConcurrentPostingsSerialize(t *testing.T) {
	setupIntegration(t)
	f := seedCompany(t)
	f.stockReceipt(t, f.product, 10)

	// Two sales of 6 against a balance of 10: exactly one may win.
	mkSale := func() *models.WarehouseDocument {
		return f.createDocument(t, &models.WarehouseDocument{
			DocType:         models.DocTypeSale,
			WarehouseFromId: &f.warehouse.ID,
			CounterpartyId:  &f.counterparty.ID,
			Items: []models.DocumentItem{
				{ProductId: f.product.ID, Qty: decimal.NewFromInt(6), Price: decimal.NewFromInt(50)},
			},
		})
	}
	saleA, saleB := mkSale(), mkSale()

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, id := range []string{saleA.ID, saleB.ID} {
		wg.Add(1)
		go func(slot int, docId string) {
			defer wg.Done()
			_, err := workflow.PostDocument(f.ctx, f.scope, docId, false)
			results[slot] = err
		}(i, id)
	}
	wg.Wait()

	var failures int
	for _, err := range results {
		if err != nil {
			if !errors.Is(err, models.ErrInsufficientStock) {
				t.Fatalf("unexpected posting error: %v", err)
			}
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("want exactly one loser, got %d failures", failures)
	}
	assertQty(t, f.balanceQty(t, f.warehouse.ID, f.product.ID), 4, "balance after race")

	divergences, err := models.CheckStockConsistency(config.GetDB(), f.scope)
	if err != nil {
		t.Fatalf("consistency: %v", err)
	}
	if len(divergences) != 0 {
		t.Fatalf("ledger diverged: %+v", divergences)
	}
}

func TestDocumentNumbersAreSequentialPerDay(t *testing.T) {
	setupIntegration(t)
	f := seedCompany(t)
	f.stockReceipt(t, f.product, 100)

	var numbers []string
	for i := 0; i < 3; i++ {
		sale := f.createDocument(t, &models.WarehouseDocument{
			DocType:         models.DocTypeSale,
			WarehouseFromId: &f.warehouse.ID,
			CounterpartyId:  &f.counterparty.ID,
			Items: []models.DocumentItem{
				{ProductId: f.product.ID, Qty: decimal.NewFromInt(1), Price: decimal.NewFromInt(50)},
			},
		})
		posted, err := workflow.PostDocument(f.ctx, f.scope, sale.ID, false)
		if err != nil {
			t.Fatalf("post %d: %v", i, err)
		}
		numbers = append(numbers, *posted.Number)
	}

	day := time.Now().UTC().Format("20060102")
	for i, number := range numbers {
		want := fmt.Sprintf("SALE-%s-%04d", day, i+1)
		if number != want {
			t.Fatalf("number %d = %s, want %s", i, number, want)
		}
	}
}

func TestCounterpartyStatement(t *testing.T) {
	setupIntegration(t)
	f := seedCompany(t)
	f.stockReceipt(t, f.product, 20)

	// A posted+approved sale yields a debit line for the document and a
	// credit line for the money receipt it produced.
	sale := f.createDocument(t, &models.WarehouseDocument{
		DocType:         models.DocTypeSale,
		WarehouseFromId: &f.warehouse.ID,
		CounterpartyId:  &f.counterparty.ID,
		Items: []models.DocumentItem{
			{ProductId: f.product.ID, Qty: decimal.NewFromInt(2), Price: decimal.NewFromInt(50)},
		},
	})
	if _, err := workflow.PostDocument(f.ctx, f.scope, sale.ID, false); err != nil {
		t.Fatalf("post: %v", err)
	}
	request := f.pendingRequest(t, sale.ID)
	if _, err := workflow.ApproveCashRequest(f.ctx, f.scope, request.ID, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}

	start := time.Now().UTC().Add(-time.Hour)
	end := time.Now().UTC().Add(time.Hour)
	lines, err := models.ListCounterpartyStatement(config.GetDB(), f.scope, f.counterparty.ID, start, end)
	if err != nil {
		t.Fatalf("statement: %v", err)
	}

	var debits, credits int
	for _, line := range lines {
		switch {
		case line.Source == "document" && line.DocType == string(models.DocTypeSale):
			if line.Side != models.StatementSideDebit {
				t.Fatalf("sale side = %s, want debit", line.Side)
			}
			if !line.Amount.Equal(decimal.NewFromInt(100)) {
				t.Fatalf("sale amount = %s, want 100", line.Amount)
			}
			debits++
		case line.Source == "money_document" && line.DocType == string(models.MoneyDocTypeReceipt):
			if line.Side != models.StatementSideCredit {
				t.Fatalf("money receipt side = %s, want credit", line.Side)
			}
			credits++
		}
	}
	if debits != 1 {
		t.Fatalf("want one sale debit line, got %d", debits)
	}
	// The opening RECEIPT also produced a money receipt against this
	// counterparty, so two credits.
	if credits != 2 {
		t.Fatalf("want two money receipt credit lines, got %d", credits)
	}
}

func startRedisContainer() (containerName, hostPort string, err error) {
	name := fmt.Sprintf("mirastock-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		return "", "", fmt.Errorf("docker run redis: %w: %s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		_ = dockerRmForce(name)
		return "", "", err
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port, nil
		}
		time.Sleep(250 * time.Millisecond)
	}
	_ = dockerRmForce(name)
	return "", "", fmt.Errorf("redis did not become ready")
}

func startMySQLContainer() (containerName, hostPort string, err error) {
	name := fmt.Sprintf("mirastock-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=mirastock_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		return "", "", fmt.Errorf("docker run mysql: %w: %s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		_ = dockerRmForce(name)
		return "", "", err
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port, nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	_ = dockerRmForce(name)
	return "", "", fmt.Errorf("mysql did not become ready")
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
