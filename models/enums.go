package models

type DocType string

const (
	DocTypeSale           DocType = "SALE"
	DocTypePurchase       DocType = "PURCHASE"
	DocTypeSaleReturn     DocType = "SALE_RETURN"
	DocTypePurchaseReturn DocType = "PURCHASE_RETURN"
	DocTypeInventory      DocType = "INVENTORY"
	DocTypeReceipt        DocType = "RECEIPT"
	DocTypeWriteOff       DocType = "WRITE_OFF"
	DocTypeTransfer       DocType = "TRANSFER"
)

func (t DocType) IsValid() bool {
	switch t {
	case DocTypeSale, DocTypePurchase, DocTypeSaleReturn, DocTypePurchaseReturn,
		DocTypeInventory, DocTypeReceipt, DocTypeWriteOff, DocTypeTransfer:
		return true
	}
	return false
}

// RequiresCounterparty reports whether the document type moves goods against
// a counterparty rather than between/within own warehouses.
func (t DocType) RequiresCounterparty() bool {
	switch t {
	case DocTypeSale, DocTypePurchase, DocTypeSaleReturn, DocTypePurchaseReturn:
		return true
	}
	return false
}

type DocumentStatus string

const (
	DocumentStatusDraft       DocumentStatus = "DRAFT"
	DocumentStatusCashPending DocumentStatus = "CASH_PENDING"
	DocumentStatusPosted      DocumentStatus = "POSTED"
	DocumentStatusRejected    DocumentStatus = "REJECTED"
)

type PaymentKind string

const (
	PaymentKindCash   PaymentKind = "cash"
	PaymentKindCredit PaymentKind = "credit"
)

type MoneyDocType string

const (
	MoneyDocTypeReceipt MoneyDocType = "MONEY_RECEIPT"
	MoneyDocTypeExpense MoneyDocType = "MONEY_EXPENSE"
)

func (t MoneyDocType) IsValid() bool {
	return t == MoneyDocTypeReceipt || t == MoneyDocTypeExpense
}

type MoneyDocumentStatus string

const (
	MoneyDocumentStatusDraft  MoneyDocumentStatus = "DRAFT"
	MoneyDocumentStatusPosted MoneyDocumentStatus = "POSTED"
)

type CashRequestStatus string

const (
	CashRequestStatusPending  CashRequestStatus = "PENDING"
	CashRequestStatusApproved CashRequestStatus = "APPROVED"
	CashRequestStatusRejected CashRequestStatus = "REJECTED"
)

type StockEntryKind string

const (
	StockEntryKindReceipt StockEntryKind = "RECEIPT"
	StockEntryKindExpense StockEntryKind = "EXPENSE"
)

type AgentCartStatus string

const (
	AgentCartStatusDraft     AgentCartStatus = "draft"
	AgentCartStatusSubmitted AgentCartStatus = "submitted"
	AgentCartStatusApproved  AgentCartStatus = "approved"
	AgentCartStatusRejected  AgentCartStatus = "rejected"
)

// Domain event names emitted to the notification sink.
const (
	EventDocumentPosted   = "document_posted"
	EventDocumentUnposted = "document_unposted"
	EventCashApproved     = "cash_approved"
	EventCashRejected     = "cash_rejected"
)

// Reconciliation side for counterparty statements.
type StatementSide string

const (
	StatementSideDebit  StatementSide = "debit"
	StatementSideCredit StatementSide = "credit"
)
