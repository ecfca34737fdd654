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

	"github.com/bsm/redislock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/middlewares"
	"github.com/mmdatafocus/salesdesk_backend/models"
	"github.com/mmdatafocus/salesdesk_backend/utils"
	"github.com/mmdatafocus/salesdesk_backend/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("salesdesk-backend")

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

// respondError maps the domain error taxonomy onto HTTP statuses. Everything
// in the taxonomy is recoverable; the client fixes its input and retries.
func respondError(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
		return
	}

	switch {
	case errors.Is(err, utils.ErrOrderNotFound),
		errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrInsufficientInventory),
		errors.Is(err, utils.ErrInvalidMovementQuantity),
		errors.Is(err, utils.ErrReasonRequired):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrOrderLocked),
		errors.Is(err, utils.ErrOrderCancelled),
		errors.Is(err, utils.ErrAlreadyLocked),
		errors.Is(err, utils.ErrOrderNotCompleted),
		errors.Is(err, utils.ErrNotLocked),
		errors.Is(err, utils.ErrUnlockWindowExpired),
		errors.Is(err, utils.ErrPaymentImmutable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

// obtainOrderLock is a best-effort redis lock around order mutations to avoid
// long in-request blocking on the advisory lock. Correctness never depends on
// it: the workflow serializes via MySQL advisory locks regardless.
func obtainOrderLock(ctx context.Context, businessId string, orderId int) *redislock.Lock {
	logger := config.GetLogger()
	redisLock := config.GetRedisLock()
	if redisLock == nil {
		return nil
	}
	lock, err := redisLock.Obtain(ctx, fmt.Sprintf("lock:order:%s:%d", businessId, orderId), 30*time.Second, nil)
	if err != nil {
		if err != redislock.ErrNotObtained {
			config.LogError(logger, "server.go", "obtainOrderLock", "Obtain", orderId, err)
		}
		return nil
	}
	return lock
}

func withOrderHTTPLock(c *gin.Context, orderId int, fn func(ctx context.Context)) {
	ctx := c.Request.Context()
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	if lock := obtainOrderLock(ctx, businessId, orderId); lock != nil {
		defer lock.Release(ctx)
	}
	fn(ctx)
}

func pathId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

/* auth */

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, err)
			return
		}

		user, err := models.GetUserByUsername(c.Request.Context(), req.Username)
		if err != nil || !utils.DereferencePtr(user.IsActive) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		if err := utils.ComparePassword(user.Password, req.Password); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}

		token, err := utils.JwtGenerate(user.ID, user.BusinessId, string(user.Role))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}

/* orders */

func createOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "createOrder")
		defer span.End()

		var input models.NewSalesOrder
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		order, err := models.CreateSalesOrder(ctx, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, order)
	}
}

func getOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		order, err := models.GetSalesOrder(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func listOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))
		var after *string
		if v := c.Query("after"); v != "" {
			after = &v
		}
		var status *models.OrderStatus
		if v := c.Query("status"); v != "" {
			s := models.OrderStatus(v)
			if !s.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
				return
			}
			status = &s
		}
		customerId, _ := strconv.Atoi(c.Query("customer_id"))

		conn, err := models.ListSalesOrders(c.Request.Context(), limit, after, status, customerId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, conn)
	}
}

func addOrderItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderId, ok := pathId(c, "id")
		if !ok {
			return
		}
		var input models.NewSalesOrderItem
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		withOrderHTTPLock(c, orderId, func(ctx context.Context) {
			item, err := workflow.AddOrderItem(ctx, orderId, &input)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusCreated, item)
		})
	}
}

func updateOrderItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderId, ok := pathId(c, "id")
		if !ok {
			return
		}
		itemId, ok := pathId(c, "itemId")
		if !ok {
			return
		}
		var input models.NewSalesOrderItem
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		withOrderHTTPLock(c, orderId, func(ctx context.Context) {
			item, err := workflow.UpdateOrderItem(ctx, orderId, itemId, &input)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, item)
		})
	}
}

func deleteOrderItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderId, ok := pathId(c, "id")
		if !ok {
			return
		}
		itemId, ok := pathId(c, "itemId")
		if !ok {
			return
		}
		withOrderHTTPLock(c, orderId, func(ctx context.Context) {
			order, err := workflow.DeleteOrderItem(ctx, orderId, itemId)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, order)
		})
	}
}

func cancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderId, ok := pathId(c, "id")
		if !ok {
			return
		}
		withOrderHTTPLock(c, orderId, func(ctx context.Context) {
			order, err := workflow.CancelOrder(ctx, orderId)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, order)
		})
	}
}

/* payments */

func addOrderPaymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderId, ok := pathId(c, "id")
		if !ok {
			return
		}
		var input models.NewOrderPayment
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		withOrderHTTPLock(c, orderId, func(ctx context.Context) {
			payment, err := workflow.AddOrderPayment(ctx, orderId, &input)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusCreated, payment)
		})
	}
}

func deleteOrderPaymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderId, ok := pathId(c, "id")
		if !ok {
			return
		}
		paymentId, ok := pathId(c, "paymentId")
		if !ok {
			return
		}
		withOrderHTTPLock(c, orderId, func(ctx context.Context) {
			order, err := workflow.DeleteOrderPayment(ctx, orderId, paymentId)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, order)
		})
	}
}

func getOrderPaymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderId, ok := pathId(c, "id")
		if !ok {
			return
		}
		paymentId, ok := pathId(c, "paymentId")
		if !ok {
			return
		}
		payment, err := models.GetOrderPayment(c.Request.Context(), paymentId)
		if err != nil {
			respondError(c, err)
			return
		}
		if payment.SalesOrderId != orderId {
			respondError(c, utils.ErrorRecordNotFound)
			return
		}
		c.JSON(http.StatusOK, payment)
	}
}

func listOrderPaymentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderId, ok := pathId(c, "id")
		if !ok {
			return
		}
		payments, err := models.ListOrderPayments(c.Request.Context(), orderId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, payments)
	}
}

/* discount, hold, lock */

type discountRequest struct {
	DiscountAmount decimal.Decimal `json:"discount_amount"`
}

func setOrderDiscountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderId, ok := pathId(c, "id")
		if !ok {
			return
		}
		var req discountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, err)
			return
		}
		withOrderHTTPLock(c, orderId, func(ctx context.Context) {
			order, err := workflow.SetOrderDiscount(ctx, orderId, req.DiscountAmount)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, order)
		})
	}
}

type holdRequest struct {
	Reason string `json:"reason"`
}

func placeHoldHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderId, ok := pathId(c, "id")
		if !ok {
			return
		}
		var req holdRequest
		_ = c.ShouldBindJSON(&req)
		withOrderHTTPLock(c, orderId, func(ctx context.Context) {
			order, err := workflow.PlaceHold(ctx, orderId, req.Reason)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, order)
		})
	}
}

func removeHoldHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderId, ok := pathId(c, "id")
		if !ok {
			return
		}
		withOrderHTTPLock(c, orderId, func(ctx context.Context) {
			order, err := workflow.RemoveHold(ctx, orderId)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, order)
		})
	}
}

func lockOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderId, ok := pathId(c, "id")
		if !ok {
			return
		}
		withOrderHTTPLock(c, orderId, func(ctx context.Context) {
			order, err := workflow.LockOrder(ctx, orderId)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, order)
		})
	}
}

type unlockRequest struct {
	Reason string `json:"reason"`
}

func unlockOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderId, ok := pathId(c, "id")
		if !ok {
			return
		}
		var req unlockRequest
		_ = c.ShouldBindJSON(&req)
		withOrderHTTPLock(c, orderId, func(ctx context.Context) {
			order, err := workflow.UnlockOrder(ctx, orderId, req.Reason)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, order)
		})
	}
}

/* audit */

func listOrderAuditHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderId, ok := pathId(c, "id")
		if !ok {
			return
		}
		events, err := models.ListOrderAuditEvents(c.Request.Context(), orderId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, events)
	}
}

func listLockEventsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderId, ok := pathId(c, "id")
		if !ok {
			return
		}
		events, err := models.ListLockEvents(c.Request.Context(), orderId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, events)
	}
}

/* stock ledger */

func createStockItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewStockItem
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		item, err := models.CreateStockItem(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, item)
	}
}

func listStockItemsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var itemType *models.StockItemType
		if v := c.Query("item_type"); v != "" {
			t, err := models.ParseStockItemType(v)
			if err != nil {
				respondError(c, err)
				return
			}
			itemType = &t
		}
		items, err := models.ListStockItems(c.Request.Context(), itemType)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, items)
	}
}

func recordStockMovementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewStockMovement
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		movement, err := models.RecordStockMovement(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, movement)
	}
}

func stockBalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		itemId, ok := pathId(c, "id")
		if !ok {
			return
		}
		asOf := time.Now()
		if v := c.Query("as_of"); v != "" {
			parsed, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "as_of must be RFC3339"})
				return
			}
			asOf = parsed
		}
		balance, err := models.StockBalance(c.Request.Context(), itemId, asOf)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"stock_item_id": itemId, "as_of": asOf, "balance": balance})
	}
}

func stockHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		itemId, ok := pathId(c, "id")
		if !ok {
			return
		}
		to := time.Now()
		from := to.AddDate(0, -1, 0)
		if v := c.Query("from"); v != "" {
			parsed, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
				return
			}
			from = parsed
		}
		if v := c.Query("to"); v != "" {
			parsed, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
				return
			}
			to = parsed
		}
		history, err := models.StockMovementHistory(c.Request.Context(), itemId, from, to)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, history)
	}
}

/* product lots */

func createProductLotHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewProductLot
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		lot, err := models.CreateProductLot(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, lot)
	}
}

func listProductLotsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		lots, err := models.ListProductLots(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, lots)
	}
}

func lotBreakdownHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		lotId, ok := pathId(c, "id")
		if !ok {
			return
		}
		breakdown, err := models.GetLotBalanceBreakdown(c.Request.Context(), lotId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, breakdown)
	}
}

func recordLotWasteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		lotId, ok := pathId(c, "id")
		if !ok {
			return
		}
		var req struct {
			Quantity decimal.Decimal `json:"quantity" binding:"required"`
			Reason   string          `json:"reason"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, err)
			return
		}
		input := models.NewLotWaste{ProductLotId: lotId, Quantity: req.Quantity, Reason: req.Reason}
		waste, err := models.RecordLotWaste(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, waste)
	}
}

func listLotWasteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		lotId, ok := pathId(c, "id")
		if !ok {
			return
		}
		records, err := models.ListLotWaste(c.Request.Context(), lotId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, records)
	}
}

/* customers, sales persons */

func createCustomerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewCustomer
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		customer, err := models.CreateCustomer(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, customer)
	}
}

func listCustomersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))
		var after *string
		if v := c.Query("after"); v != "" {
			after = &v
		}
		conn, err := models.ListCustomers(c.Request.Context(), limit, after, c.Query("name"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, conn)
	}
}

func createSalesPersonHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewSalesPerson
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		sp, err := models.CreateSalesPerson(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, sp)
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
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
	r.Use(middlewares.CorrelationMiddleware())
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
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
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

	r.POST("/auth/login", loginHandler())

	api := r.Group("/api", middlewares.AuthMiddleware())
	{
		api.POST("/orders", createOrderHandler())
		api.GET("/orders", listOrdersHandler())
		api.GET("/orders/:id", getOrderHandler())
		api.POST("/orders/:id/cancel", cancelOrderHandler())

		api.POST("/orders/:id/items", addOrderItemHandler())
		api.PUT("/orders/:id/items/:itemId", updateOrderItemHandler())
		api.DELETE("/orders/:id/items/:itemId", deleteOrderItemHandler())

		api.POST("/orders/:id/payments", addOrderPaymentHandler())
		api.GET("/orders/:id/payments", listOrderPaymentsHandler())
		api.GET("/orders/:id/payments/:paymentId", getOrderPaymentHandler())
		api.DELETE("/orders/:id/payments/:paymentId", deleteOrderPaymentHandler())

		api.PUT("/orders/:id/discount", setOrderDiscountHandler())
		api.POST("/orders/:id/hold", placeHoldHandler())
		api.DELETE("/orders/:id/hold", removeHoldHandler())
		api.POST("/orders/:id/lock", lockOrderHandler())
		api.POST("/orders/:id/unlock", unlockOrderHandler())

		api.GET("/orders/:id/audit", listOrderAuditHandler())
		api.GET("/orders/:id/lock-events", listLockEventsHandler())

		api.POST("/stock-items", createStockItemHandler())
		api.GET("/stock-items", listStockItemsHandler())
		api.GET("/stock-items/:id/balance", stockBalanceHandler())
		api.GET("/stock-items/:id/movements", stockHistoryHandler())
		api.POST("/stock-movements", recordStockMovementHandler())

		api.POST("/lots", createProductLotHandler())
		api.GET("/lots", listProductLotsHandler())
		api.GET("/lots/:id/breakdown", lotBreakdownHandler())
		api.POST("/lots/:id/waste", recordLotWasteHandler())
		api.GET("/lots/:id/waste", listLotWasteHandler())

		api.POST("/customers", createCustomerHandler())
		api.GET("/customers", listCustomersHandler())
		api.POST("/sales-persons", createSalesPersonHandler())
	}

	r.NoRoute(customNotFoundHandler)

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
	// AutoMigrate can run DDL that blocks tables; allow disabling on startup
	// (run migrations as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Start outbox dispatcher (publishes AFTER commit).
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	go workflow.NewOutboxDispatcher(db, logger).Run(dispatcherCtx)

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

	// Stop background workers first so they don't start new work while we're draining.
	cancelDispatcher()

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
	// Get the IP address or user identifier from the request.
	key := c.ClientIP() // Assuming IP-based rate limiting

	// Check if the key exists in Redis.
	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	// If the key exists, get the current count.
	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the count exceeds the limit, return an error response.
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
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
