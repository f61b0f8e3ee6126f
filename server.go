package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mirastock/warehouse_backend/config"
	"github.com/mirastock/warehouse_backend/middlewares"
	"github.com/mirastock/warehouse_backend/models"
	"github.com/mirastock/warehouse_backend/utils"
	"github.com/mirastock/warehouse_backend/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

const defaultPort = "8080"

var tracer = otel.Tracer("warehouse-backend")

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("doctype", func(fl validator.FieldLevel) bool {
			return models.DocType(fl.Field().String()).IsValid()
		})
		_ = v.RegisterValidation("moneydoctype", func(fl validator.FieldLevel) bool {
			return models.MoneyDocType(fl.Field().String()).IsValid()
		})
	}
}

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// errorStatus maps ledger errors onto HTTP status codes so clients can tell
// "fix your request" apart from "try again later".
func errorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrAlreadyDecided),
		errors.Is(err, models.ErrAlreadyPosted),
		errors.Is(err, models.ErrNotPosted),
		errors.Is(err, models.ErrStorageConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrMissingReference),
		errors.Is(err, models.ErrEmptyDocument),
		errors.Is(err, models.ErrFractionalQuantity),
		errors.Is(err, models.ErrAmbiguousCashTarget):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInsufficientStock):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{"error": err.Error()})
}

func requestScope(c *gin.Context) (models.TenantScope, bool) {
	scope, err := models.ScopeFromContext(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return models.TenantScope{}, false
	}
	return scope, true
}

type documentItemRequest struct {
	ProductId       int             `json:"product_id" binding:"required"`
	Qty             decimal.Decimal `json:"qty" binding:"required"`
	Price           decimal.Decimal `json:"price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
}

type documentRequest struct {
	DocType           models.DocType        `json:"doc_type" binding:"required,doctype"`
	WarehouseFromId   *int                  `json:"warehouse_from_id"`
	WarehouseToId     *int                  `json:"warehouse_to_id"`
	CounterpartyId    *int                  `json:"counterparty_id"`
	AgentId           *int                  `json:"agent_id"`
	PaymentKind       *models.PaymentKind   `json:"payment_kind"`
	PrepaymentAmount  decimal.Decimal       `json:"prepayment_amount"`
	CashRegisterId    *int                  `json:"cash_register_id"`
	PaymentCategoryId *int                  `json:"payment_category_id"`
	Comment           string                `json:"comment"`
	Items             []documentItemRequest `json:"items" binding:"required,min=1,dive"`
}

func (req *documentRequest) toItems() []models.DocumentItem {
	items := make([]models.DocumentItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, models.DocumentItem{
			ProductId:       item.ProductId,
			Qty:             item.Qty,
			Price:           item.Price,
			DiscountPercent: item.DiscountPercent,
		})
	}
	return items
}

func createDocumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := requestScope(c)
		if !ok {
			return
		}
		var req documentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		document := models.WarehouseDocument{
			CompanyId:         scope.CompanyId,
			BranchId:          scope.BranchId,
			DocType:           req.DocType,
			WarehouseFromId:   req.WarehouseFromId,
			WarehouseToId:     req.WarehouseToId,
			CounterpartyId:    req.CounterpartyId,
			AgentId:           req.AgentId,
			PaymentKind:       req.PaymentKind,
			PrepaymentAmount:  req.PrepaymentAmount,
			CashRegisterId:    req.CashRegisterId,
			PaymentCategoryId: req.PaymentCategoryId,
			Comment:           req.Comment,
			Items:             req.toItems(),
		}
		document.RecalcTotal()

		db := config.GetDB()
		if err := db.WithContext(c.Request.Context()).Create(&document).Error; err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, document)
	}
}

// updateDocumentHandler replaces a DRAFT document's fields and line items.
// Posted documents (and drafts that were posted once; they carry a number)
// stay editable only through unpost.
func updateDocumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := requestScope(c)
		if !ok {
			return
		}
		var req documentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		db := config.GetDB()
		var document *models.WarehouseDocument
		err := db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
			var err error
			document, err = models.FetchDocumentForUpdate(tx, scope, c.Param("id"))
			if err != nil {
				return err
			}
			if !document.IsEditable() {
				return fmt.Errorf("%w: only DRAFT documents are editable", models.ErrInvalidTransition)
			}
			if err := tx.Where("document_id = ?", document.ID).Delete(&models.DocumentItem{}).Error; err != nil {
				return err
			}

			document.DocType = req.DocType
			document.WarehouseFromId = req.WarehouseFromId
			document.WarehouseToId = req.WarehouseToId
			document.CounterpartyId = req.CounterpartyId
			document.AgentId = req.AgentId
			document.PaymentKind = req.PaymentKind
			document.PrepaymentAmount = req.PrepaymentAmount
			document.CashRegisterId = req.CashRegisterId
			document.PaymentCategoryId = req.PaymentCategoryId
			document.Comment = req.Comment
			document.Items = req.toItems()
			for i := range document.Items {
				document.Items[i].DocumentId = document.ID
			}
			document.RecalcTotal()

			if err := tx.Model(&models.WarehouseDocument{}).Where("id = ?", document.ID).
				Updates(map[string]interface{}{
					"doc_type":            document.DocType,
					"warehouse_from_id":   document.WarehouseFromId,
					"warehouse_to_id":     document.WarehouseToId,
					"counterparty_id":     document.CounterpartyId,
					"agent_id":            document.AgentId,
					"payment_kind":        document.PaymentKind,
					"prepayment_amount":   document.PrepaymentAmount,
					"cash_register_id":    document.CashRegisterId,
					"payment_category_id": document.PaymentCategoryId,
					"comment":             document.Comment,
					"total":               document.Total,
				}).Error; err != nil {
				return err
			}
			for i := range document.Items {
				if err := tx.Create(&document.Items[i]).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, document)
	}
}

func getDocumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := requestScope(c)
		if !ok {
			return
		}
		db := config.GetDB()
		var document models.WarehouseDocument
		err := db.WithContext(c.Request.Context()).
			Preload("Items").
			Where("id = ? AND company_id = ?", c.Param("id"), scope.CompanyId).
			First(&document).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				err = models.ErrRecordNotFound
			}
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, document)
	}
}

func listDocumentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := requestScope(c)
		if !ok {
			return
		}
		db := config.GetDB().WithContext(c.Request.Context()).
			Where("company_id = ?", scope.CompanyId)
		if status := c.Query("status"); status != "" {
			db = db.Where("status = ?", status)
		}
		if docType := c.Query("doc_type"); docType != "" {
			db = db.Where("doc_type = ?", docType)
		}
		var documents []models.WarehouseDocument
		if err := db.Order("created_at DESC").Limit(200).Find(&documents).Error; err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"documents": documents})
	}
}

func deleteDocumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := requestScope(c)
		if !ok {
			return
		}
		db := config.GetDB()
		err := db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
			return models.DeleteDraftDocument(tx, scope, c.Param("id"))
		})
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type postDocumentRequest struct {
	AllowNegative bool `json:"allow_negative"`
}

func postDocumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := requestScope(c)
		if !ok {
			return
		}
		var req postDocumentRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		ctx, span := tracer.Start(c.Request.Context(), "document.post")
		defer span.End()
		var document *models.WarehouseDocument
		err := workflow.RunWithRetry(ctx, "PostDocument", func() error {
			var err error
			document, err = workflow.PostDocument(ctx, scope, c.Param("id"), req.AllowNegative)
			return err
		})
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, document)
	}
}

func unpostDocumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := requestScope(c)
		if !ok {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "document.unpost")
		defer span.End()
		var document *models.WarehouseDocument
		err := workflow.RunWithRetry(ctx, "UnpostDocument", func() error {
			var err error
			document, err = workflow.UnpostDocument(ctx, scope, c.Param("id"))
			return err
		})
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, document)
	}
}

type cashDecisionRequest struct {
	Note string `json:"note"`
}

func approveCashRequestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := requestScope(c)
		if !ok {
			return
		}
		var req cashDecisionRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		ctx, span := tracer.Start(c.Request.Context(), "cashrequest.approve")
		defer span.End()
		var request *models.CashApprovalRequest
		err := workflow.RunWithRetry(ctx, "ApproveCashRequest", func() error {
			var err error
			request, err = workflow.ApproveCashRequest(ctx, scope, c.Param("id"), req.Note)
			return err
		})
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, request)
	}
}

func rejectCashRequestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := requestScope(c)
		if !ok {
			return
		}
		var req cashDecisionRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		ctx, span := tracer.Start(c.Request.Context(), "cashrequest.reject")
		defer span.End()
		var request *models.CashApprovalRequest
		err := workflow.RunWithRetry(ctx, "RejectCashRequest", func() error {
			var err error
			request, err = workflow.RejectCashRequest(ctx, scope, c.Param("id"), req.Note)
			return err
		})
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, request)
	}
}

func listCashRequestsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := requestScope(c)
		if !ok {
			return
		}
		db := config.GetDB().WithContext(c.Request.Context()).
			Where("company_id = ?", scope.CompanyId)
		status := c.DefaultQuery("status", string(models.CashRequestStatusPending))
		if status != "" {
			db = db.Where("status = ?", status)
		}
		var requests []models.CashApprovalRequest
		if err := db.Order("requested_at").Limit(200).Find(&requests).Error; err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"requests": requests})
	}
}

type moneyDocumentRequest struct {
	DocType           models.MoneyDocType `json:"doc_type" binding:"required,moneydoctype"`
	CashRegisterId    int                 `json:"cash_register_id" binding:"required"`
	CounterpartyId    *int                `json:"counterparty_id"`
	PaymentCategoryId *int                `json:"payment_category_id"`
	Amount            decimal.Decimal     `json:"amount" binding:"required"`
	Comment           string              `json:"comment"`
}

func createMoneyDocumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := requestScope(c)
		if !ok {
			return
		}
		var req moneyDocumentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		document := models.MoneyDocument{
			CompanyId:         scope.CompanyId,
			BranchId:          scope.BranchId,
			DocType:           req.DocType,
			CashRegisterId:    req.CashRegisterId,
			CounterpartyId:    req.CounterpartyId,
			PaymentCategoryId: req.PaymentCategoryId,
			Amount:            req.Amount,
			Comment:           req.Comment,
		}
		db := config.GetDB()
		if err := db.WithContext(c.Request.Context()).Create(&document).Error; err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, document)
	}
}

func postMoneyDocumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := requestScope(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		var document *models.MoneyDocument
		err := workflow.RunWithRetry(ctx, "PostMoneyDocument", func() error {
			var err error
			document, err = workflow.PostMoneyDocument(ctx, scope, c.Param("id"))
			return err
		})
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, document)
	}
}

func unpostMoneyDocumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := requestScope(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		var document *models.MoneyDocument
		err := workflow.RunWithRetry(ctx, "UnpostMoneyDocument", func() error {
			var err error
			document, err = workflow.UnpostMoneyDocument(ctx, scope, c.Param("id"))
			return err
		})
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, document)
	}
}

func cashRegisterBalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := requestScope(c)
		if !ok {
			return
		}
		registerId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cash register id"})
			return
		}
		db := config.GetDB().WithContext(c.Request.Context())
		if _, err := models.FetchCashRegister(db, scope, registerId); err != nil {
			abortWithError(c, err)
			return
		}
		balance, err := models.CashRegisterBalance(db, scope, registerId)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cash_register_id": registerId, "balance": balance})
	}
}

type agentCartRequest struct {
	AgentId     int    `json:"agent_id" binding:"required"`
	WarehouseId int    `json:"warehouse_id" binding:"required"`
	Note        string `json:"note"`
	Items       []struct {
		ProductId    int             `json:"product_id" binding:"required"`
		QtyRequested decimal.Decimal `json:"qty_requested" binding:"required"`
	} `json:"items" binding:"required,min=1,dive"`
}

func createAgentCartHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := requestScope(c)
		if !ok {
			return
		}
		var req agentCartRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		cart := models.AgentRequestCart{
			CompanyId:   scope.CompanyId,
			BranchId:    scope.BranchId,
			AgentId:     req.AgentId,
			WarehouseId: req.WarehouseId,
			Note:        req.Note,
		}
		for _, item := range req.Items {
			cart.Items = append(cart.Items, models.AgentRequestItem{
				ProductId:    item.ProductId,
				QtyRequested: item.QtyRequested,
			})
		}
		db := config.GetDB()
		if err := db.WithContext(c.Request.Context()).Create(&cart).Error; err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, cart)
	}
}

func agentCartActionHandler(action func(context.Context, models.TenantScope, string) (*models.AgentRequestCart, error), opName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := requestScope(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		var cart *models.AgentRequestCart
		err := workflow.RunWithRetry(ctx, opName, func() error {
			var err error
			cart, err = action(ctx, scope, c.Param("id"))
			return err
		})
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, cart)
	}
}

func rejectAgentCartHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := requestScope(c)
		if !ok {
			return
		}
		var req cashDecisionRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		cart, err := workflow.RejectAgentCart(c.Request.Context(), scope, c.Param("id"), req.Note)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, cart)
	}
}

func counterpartyStatementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := requestScope(c)
		if !ok {
			return
		}
		counterpartyId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid counterparty id"})
			return
		}
		start, err := time.Parse("2006-01-02", c.DefaultQuery("from", "1970-01-01"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from date"})
			return
		}
		end, err := time.Parse("2006-01-02", c.DefaultQuery("to", "2999-12-31"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to date"})
			return
		}
		// End date is inclusive.
		end = end.Add(24*time.Hour - time.Nanosecond)

		db := config.GetDB().WithContext(c.Request.Context())
		if _, err := models.FetchCounterparty(db, scope, counterpartyId); err != nil {
			abortWithError(c, err)
			return
		}
		lines, err := models.ListCounterpartyStatement(db, scope, counterpartyId, start, end)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"counterparty_id": counterpartyId, "lines": lines})
	}
}

// stockConsistencyHandler is ops tooling: recompute balances from the ledger
// and report divergences. Read-only.
func stockConsistencyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := requestScope(c)
		if !ok {
			return
		}
		db := config.GetDB().WithContext(c.Request.Context())
		divergences, err := models.CheckStockConsistency(db, scope)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"company_id":  scope.CompanyId,
			"consistent":  len(divergences) == 0,
			"divergences": divergences,
		})
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := c.ClientIP()

	count, err := rl.client.Incr(c.Request.Context(), "ratelimit:"+key).Result()
	if err != nil {
		// Redis being down must not take the API down with it.
		c.Next()
		return
	}
	if count == 1 {
		rl.client.Expire(c.Request.Context(), "ratelimit:"+key, rl.window)
	}
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return
	}
	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization",
		"x-company-id", "x-branch-id", "x-user-id", "x-user-name", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := redis.NewClient(&redis.Options{Addr: os.Getenv("REDIS_ADDRESS")})
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())
	r.NoRoute(customNotFoundHandler)

	api := r.Group("/", middlewares.TenantMiddleware())
	api.POST("/documents", createDocumentHandler())
	api.GET("/documents", listDocumentsHandler())
	api.GET("/documents/:id", getDocumentHandler())
	api.PUT("/documents/:id", updateDocumentHandler())
	api.DELETE("/documents/:id", deleteDocumentHandler())
	api.POST("/documents/:id/post", postDocumentHandler())
	api.POST("/documents/:id/unpost", unpostDocumentHandler())

	api.GET("/cash-requests", listCashRequestsHandler())
	api.POST("/cash-requests/:id/approve", approveCashRequestHandler())
	api.POST("/cash-requests/:id/reject", rejectCashRequestHandler())

	api.POST("/money-documents", createMoneyDocumentHandler())
	api.POST("/money-documents/:id/post", postMoneyDocumentHandler())
	api.POST("/money-documents/:id/unpost", unpostMoneyDocumentHandler())
	api.GET("/cash-registers/:id/balance", cashRegisterBalanceHandler())

	api.POST("/agent-carts", createAgentCartHandler())
	api.POST("/agent-carts/:id/submit", agentCartActionHandler(workflow.SubmitAgentCart, "SubmitAgentCart"))
	api.POST("/agent-carts/:id/approve", agentCartActionHandler(workflow.ApproveAgentCart, "ApproveAgentCart"))
	api.POST("/agent-carts/:id/reject", rejectAgentCartHandler())

	api.GET("/reconciliation/counterparties/:id", counterpartyStatementHandler())
	// Ops tooling: balance vs ledger audit.
	api.GET("/internal/ops/stock-consistency", stockConsistencyHandler())

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}
