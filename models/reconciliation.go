package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StatementLine is one row of a counterparty reconciliation statement. The
// running balance computation lives in the consumer; the ledger only lists
// and tags.
type StatementLine struct {
	Date     time.Time       `json:"date"`
	Number   string          `json:"number"`
	DocType  string          `json:"doc_type"`
	Side     StatementSide   `json:"side"`
	Amount   decimal.Decimal `json:"amount"`
	Source   string          `json:"source"` // "document" or "money_document"
	SourceId string          `json:"source_id"`
}

// Statement doc type tagging: SALE and PURCHASE_RETURN are debits against a
// counterparty, PURCHASE and SALE_RETURN are credits; MONEY_EXPENSE is a
// debit, MONEY_RECEIPT a credit.
var statementDocSides = map[DocType]StatementSide{
	DocTypeSale:           StatementSideDebit,
	DocTypePurchaseReturn: StatementSideDebit,
	DocTypePurchase:       StatementSideCredit,
	DocTypeSaleReturn:     StatementSideCredit,
}

func statementMoneySide(docType MoneyDocType) StatementSide {
	if docType == MoneyDocTypeExpense {
		return StatementSideDebit
	}
	return StatementSideCredit
}

// ListCounterpartyStatement returns every POSTED warehouse and money document
// touching the counterparty in the date range, tagged debit/credit, ordered
// by date.
func ListCounterpartyStatement(db *gorm.DB, scope TenantScope, counterpartyId int, start, end time.Time) ([]StatementLine, error) {
	docTypes := make([]DocType, 0, len(statementDocSides))
	for docType := range statementDocSides {
		docTypes = append(docTypes, docType)
	}

	var documents []WarehouseDocument
	if err := db.Where(
		"company_id = ? AND counterparty_id = ? AND status = ? AND doc_type IN (?) AND date BETWEEN ? AND ?",
		scope.CompanyId, counterpartyId, DocumentStatusPosted, docTypes, start, end).
		Order("date").Find(&documents).Error; err != nil {
		return nil, err
	}

	var moneyDocuments []MoneyDocument
	if err := db.Where(
		"company_id = ? AND counterparty_id = ? AND status = ? AND date BETWEEN ? AND ?",
		scope.CompanyId, counterpartyId, MoneyDocumentStatusPosted, start, end).
		Order("date").Find(&moneyDocuments).Error; err != nil {
		return nil, err
	}

	lines := make([]StatementLine, 0, len(documents)+len(moneyDocuments))
	for _, d := range documents {
		number := ""
		if d.Number != nil {
			number = *d.Number
		}
		date := d.CreatedAt
		if d.Date != nil {
			date = *d.Date
		}
		lines = append(lines, StatementLine{
			Date:     date,
			Number:   number,
			DocType:  string(d.DocType),
			Side:     statementDocSides[d.DocType],
			Amount:   d.Total,
			Source:   "document",
			SourceId: d.ID,
		})
	}
	for _, m := range moneyDocuments {
		number := ""
		if m.Number != nil {
			number = *m.Number
		}
		date := m.CreatedAt
		if m.Date != nil {
			date = *m.Date
		}
		lines = append(lines, StatementLine{
			Date:     date,
			Number:   number,
			DocType:  string(m.DocType),
			Side:     statementMoneySide(m.DocType),
			Amount:   m.Amount,
			Source:   "money_document",
			SourceId: m.ID,
		})
	}

	// Merge sort by date; both inputs are already date-ordered.
	for i := 1; i < len(lines); i++ {
		for j := i; j > 0 && lines[j].Date.Before(lines[j-1].Date); j-- {
			lines[j], lines[j-1] = lines[j-1], lines[j]
		}
	}
	return lines, nil
}
