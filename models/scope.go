package models

import (
	"context"
	"errors"

	"github.com/mirastock/warehouse_backend/utils"
)

// TenantScope carries the company/branch pair every ledger call operates
// under. It is always passed explicitly; the core never reads tenancy from
// ambient state. The identity layer is trusted to supply correct values.
type TenantScope struct {
	CompanyId string
	BranchId  *int
}

func (s TenantScope) Validate() error {
	if s.CompanyId == "" {
		return errors.New("company id is required")
	}
	return nil
}

// ScopeFromContext builds a TenantScope at the request boundary. This is the
// only place tenancy crosses from context into explicit values.
func ScopeFromContext(ctx context.Context) (TenantScope, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return TenantScope{}, errors.New("company id is required")
	}
	scope := TenantScope{CompanyId: companyId}
	if branchId, ok := utils.GetBranchIdFromContext(ctx); ok {
		scope.BranchId = &branchId
	}
	return scope, nil
}
