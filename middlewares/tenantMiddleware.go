package middlewares

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mirastock/warehouse_backend/utils"
)

// TenantMiddleware lifts the identity headers set by the gateway into the
// request context. The company id is mandatory for every ledger route; the
// ledger itself never reads these values ambiently, they are converted to an
// explicit scope at the handler boundary.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		companyId := c.GetHeader("x-company-id")
		if companyId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "x-company-id header is required"})
			c.Abort()
			return
		}

		ctx := utils.SetCompanyIdInContext(c.Request.Context(), companyId)
		if v := c.GetHeader("x-branch-id"); v != "" {
			if branchId, err := strconv.Atoi(v); err == nil {
				ctx = utils.SetBranchIdInContext(ctx, branchId)
			}
		}
		if v := c.GetHeader("x-user-id"); v != "" {
			if userId, err := strconv.Atoi(v); err == nil {
				ctx = utils.SetUserIdInContext(ctx, userId)
			}
		}
		if v := c.GetHeader("x-user-name"); v != "" {
			ctx = utils.SetUserNameInContext(ctx, v)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
