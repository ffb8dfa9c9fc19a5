package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/factory_backend/config"
	"bitbucket.org/mmdatafocus/factory_backend/middlewares"
	"bitbucket.org/mmdatafocus/factory_backend/models"
	"bitbucket.org/mmdatafocus/factory_backend/models/reports"
	"bitbucket.org/mmdatafocus/factory_backend/utils"
	"bitbucket.org/mmdatafocus/factory_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

const defaultPort = "8080"

var tracer = otel.Tracer("factory-backend")

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "token", "workspace-id", "user-id", "user-name", "X-Correlation-Id"},
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
	}))
	router.Use(middlewares.CorrelationIdMiddleware())
	if os.Getenv("SESSION_DEV_HEADERS") == "true" {
		router.Use(middlewares.DevSessionMiddleware())
	} else {
		router.Use(middlewares.SessionMiddleware())
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api", middlewares.RequireWorkspace())
	{
		api.POST("/movements", postMovement)
		api.POST("/transfers", postTransfer)
		api.POST("/adjustments", postAdjustment)
		api.POST("/cost-adjustments", postCostAdjustment)
		api.POST("/damages", postDamage)
		api.POST("/purchase-receipts", postPurchaseReceipt)
		api.POST("/consumptions", postConsumption)
		api.POST("/deliveries/:id/complete", postCompleteDelivery)
		api.POST("/reconcile", postReconcile)

		api.GET("/ledgers/:surface/history", getLedgerHistory)
		api.GET("/balances/:surface", getBalance)
		api.GET("/snapshots/:surface", getSnapshots)
		api.GET("/snapshots/:surface/low-stock", getLowStockSnapshots)
		api.GET("/reports/item-movements", getItemMovements)
		api.GET("/reports/user-transactions", getUserTransactions)
		api.GET("/reports/order-transactions", getOrderTransactions)
	}

	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		logger.WithField("port", port).Info("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	// DB/redis connect after listen so the container passes startup probes.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	if err := models.MigrateTable(); err != nil {
		logger.WithError(err).Fatal("migration failed")
	}
	if err := models.EnsureInventoryLedgerSchema(); err != nil {
		logger.WithError(err).Fatal("ledger schema enforcement failed")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown")
	}
}

func respondError(c *gin.Context, err error) {
	switch {
	case utils.IsBusinessRuleError(err):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorWorkspaceRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func workspaceId(c *gin.Context) string {
	id, _ := utils.GetWorkspaceIdFromContext(c.Request.Context())
	return id
}

func performedBy(c *gin.Context) *int {
	userId, ok := utils.GetUserIdFromContext(c.Request.Context())
	if !ok || userId <= 0 {
		return nil
	}
	return &userId
}

// inTx runs one request body in a single transaction; nothing commits unless
// every write in the bracket succeeds.
func inTx(c *gin.Context, fn func(tx *gorm.DB) (interface{}, error)) {
	ctx, span := tracer.Start(c.Request.Context(), c.FullPath())
	defer span.End()

	var result interface{}
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = fn(tx)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type movementPayload struct {
	Surface         string          `json:"surface" validate:"required"`
	LocationId      int             `json:"location_id" validate:"required"`
	ItemId          int             `json:"item_id" validate:"required"`
	TransactionType string          `json:"transaction_type" validate:"required"`
	Quantity        int             `json:"quantity" validate:"gte=0"`
	Decrease        bool            `json:"decrease"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	SourceType      string          `json:"source_type" validate:"required"`
	SourceId        *int            `json:"source_id"`
	OrderId         *int            `json:"order_id"`
	InvoiceId       *int            `json:"invoice_id"`
	Notes           string          `json:"notes"`
	PerformedAt     time.Time       `json:"performed_at"`
}

func postMovement(c *gin.Context) {
	var payload movementPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateStruct(payload); err != nil {
		respondError(c, err)
		return
	}
	key := models.LedgerKey{WorkspaceId: workspaceId(c), LocationId: payload.LocationId, ItemId: payload.ItemId}
	if err := workflow.ValidateLedgerKey(c.Request.Context(), key.WorkspaceId, models.Surface(payload.Surface), key); err != nil {
		respondError(c, err)
		return
	}
	inTx(c, func(tx *gorm.DB) (interface{}, error) {
		return workflow.ApplyMovement(tx, config.GetLogger(), key, workflow.Movement{
			Surface:         models.Surface(payload.Surface),
			TransactionType: models.TransactionType(payload.TransactionType),
			Quantity:        payload.Quantity,
			Decrease:        payload.Decrease,
			UnitCost:        payload.UnitCost,
			SourceType:      models.SourceType(payload.SourceType),
			SourceId:        payload.SourceId,
			OrderId:         payload.OrderId,
			InvoiceId:       payload.InvoiceId,
			Notes:           payload.Notes,
			PerformedBy:     performedBy(c),
			PerformedAt:     payload.PerformedAt,
		})
	})
}

type transferPayload struct {
	ItemId         int    `json:"item_id" validate:"required"`
	FromSurface    string `json:"from_surface" validate:"required"`
	FromLocationId int    `json:"from_location_id" validate:"required"`
	ToSurface      string `json:"to_surface" validate:"required"`
	ToLocationId   int    `json:"to_location_id" validate:"required"`
	Quantity       int    `json:"quantity" validate:"gt=0"`
	SourceId       *int   `json:"source_id"`
	Notes          string `json:"notes"`
}

func postTransfer(c *gin.Context) {
	var payload transferPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateStruct(payload); err != nil {
		respondError(c, err)
		return
	}
	inTx(c, func(tx *gorm.DB) (interface{}, error) {
		return workflow.ProcessTransfer(c.Request.Context(), tx, config.GetLogger(), workflow.TransferRequest{
			WorkspaceId:    workspaceId(c),
			ItemId:         payload.ItemId,
			FromSurface:    models.Surface(payload.FromSurface),
			FromLocationId: payload.FromLocationId,
			ToSurface:      models.Surface(payload.ToSurface),
			ToLocationId:   payload.ToLocationId,
			Quantity:       payload.Quantity,
			SourceId:       payload.SourceId,
			Notes:          payload.Notes,
			PerformedBy:    performedBy(c),
		})
	})
}

type adjustmentPayload struct {
	Surface    string          `json:"surface" validate:"required"`
	LocationId int             `json:"location_id" validate:"required"`
	ItemId     int             `json:"item_id" validate:"required"`
	Quantity   int             `json:"quantity" validate:"gt=0"`
	Decrease   bool            `json:"decrease"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	Notes      string          `json:"notes"`
}

func postAdjustment(c *gin.Context) {
	var payload adjustmentPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateStruct(payload); err != nil {
		respondError(c, err)
		return
	}
	key := models.LedgerKey{WorkspaceId: workspaceId(c), LocationId: payload.LocationId, ItemId: payload.ItemId}
	if err := workflow.ValidateLedgerKey(c.Request.Context(), key.WorkspaceId, models.Surface(payload.Surface), key); err != nil {
		respondError(c, err)
		return
	}
	inTx(c, func(tx *gorm.DB) (interface{}, error) {
		return workflow.ProcessManualAdjustment(tx, config.GetLogger(), workflow.ManualAdjustmentRequest{
			Surface:     models.Surface(payload.Surface),
			Key:         key,
			Quantity:    payload.Quantity,
			Decrease:    payload.Decrease,
			UnitCost:    payload.UnitCost,
			Notes:       payload.Notes,
			PerformedBy: performedBy(c),
		})
	})
}

type costAdjustmentPayload struct {
	Surface     string          `json:"surface" validate:"required"`
	LocationId  int             `json:"location_id" validate:"required"`
	ItemId      int             `json:"item_id" validate:"required"`
	NewAvgPrice decimal.Decimal `json:"new_avg_price"`
	Notes       string          `json:"notes"`
}

func postCostAdjustment(c *gin.Context) {
	var payload costAdjustmentPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateStruct(payload); err != nil {
		respondError(c, err)
		return
	}
	key := models.LedgerKey{WorkspaceId: workspaceId(c), LocationId: payload.LocationId, ItemId: payload.ItemId}
	if err := workflow.ValidateLedgerKey(c.Request.Context(), key.WorkspaceId, models.Surface(payload.Surface), key); err != nil {
		respondError(c, err)
		return
	}
	inTx(c, func(tx *gorm.DB) (interface{}, error) {
		return workflow.ProcessCostAdjustment(tx, config.GetLogger(), workflow.CostAdjustmentRequest{
			Surface:     models.Surface(payload.Surface),
			Key:         key,
			NewAvgPrice: payload.NewAvgPrice,
			Notes:       payload.Notes,
			PerformedBy: performedBy(c),
		})
	})
}

type damagePayload struct {
	ItemId         int    `json:"item_id" validate:"required"`
	FromSurface    string `json:"from_surface" validate:"required"`
	FromLocationId int    `json:"from_location_id" validate:"required"`
	FactoryId      int    `json:"factory_id" validate:"required"`
	Quantity       int    `json:"quantity" validate:"gt=0"`
	Notes          string `json:"notes"`
}

func postDamage(c *gin.Context) {
	var payload damagePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateStruct(payload); err != nil {
		respondError(c, err)
		return
	}
	inTx(c, func(tx *gorm.DB) (interface{}, error) {
		return workflow.ReportDamage(c.Request.Context(), tx, config.GetLogger(), workflow.DamageRequest{
			WorkspaceId:    workspaceId(c),
			ItemId:         payload.ItemId,
			FromSurface:    models.Surface(payload.FromSurface),
			FromLocationId: payload.FromLocationId,
			FactoryId:      payload.FactoryId,
			Quantity:       payload.Quantity,
			Notes:          payload.Notes,
			PerformedBy:    performedBy(c),
		})
	})
}

type purchaseReceiptPayload struct {
	FactoryId     int             `json:"factory_id" validate:"required"`
	ItemId        int             `json:"item_id" validate:"required"`
	Quantity      int             `json:"quantity" validate:"gt=0"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	PurchaseOrder int             `json:"purchase_order_id" validate:"required"`
	Notes         string          `json:"notes"`
}

func postPurchaseReceipt(c *gin.Context) {
	var payload purchaseReceiptPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateStruct(payload); err != nil {
		respondError(c, err)
		return
	}
	key := models.LedgerKey{WorkspaceId: workspaceId(c), LocationId: payload.FactoryId, ItemId: payload.ItemId}
	if err := workflow.ValidateLedgerKey(c.Request.Context(), key.WorkspaceId, models.SurfaceStorage, key); err != nil {
		respondError(c, err)
		return
	}
	inTx(c, func(tx *gorm.DB) (interface{}, error) {
		return workflow.ProcessPurchaseReceipt(tx, config.GetLogger(), workflow.PurchaseReceiptRequest{
			WorkspaceId:   workspaceId(c),
			FactoryId:     payload.FactoryId,
			ItemId:        payload.ItemId,
			Quantity:      payload.Quantity,
			UnitCost:      payload.UnitCost,
			PurchaseOrder: payload.PurchaseOrder,
			Notes:         payload.Notes,
			PerformedBy:   performedBy(c),
		})
	})
}

type consumptionPayload struct {
	MachineId       int    `json:"machine_id" validate:"required"`
	ItemId          int    `json:"item_id" validate:"required"`
	Quantity        int    `json:"quantity" validate:"gt=0"`
	ProductionRunId int    `json:"production_run_id" validate:"required"`
	Notes           string `json:"notes"`
}

func postConsumption(c *gin.Context) {
	var payload consumptionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateStruct(payload); err != nil {
		respondError(c, err)
		return
	}
	key := models.LedgerKey{WorkspaceId: workspaceId(c), LocationId: payload.MachineId, ItemId: payload.ItemId}
	if err := workflow.ValidateLedgerKey(c.Request.Context(), key.WorkspaceId, models.SurfaceMachine, key); err != nil {
		respondError(c, err)
		return
	}
	inTx(c, func(tx *gorm.DB) (interface{}, error) {
		return workflow.ProcessConsumption(tx, config.GetLogger(), workflow.ConsumptionRequest{
			WorkspaceId:     workspaceId(c),
			MachineId:       payload.MachineId,
			ItemId:          payload.ItemId,
			Quantity:        payload.Quantity,
			ProductionRunId: payload.ProductionRunId,
			Notes:           payload.Notes,
			PerformedBy:     performedBy(c),
		})
	})
}

func postCompleteDelivery(c *gin.Context) {
	deliveryId, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid delivery id"})
		return
	}
	inTx(c, func(tx *gorm.DB) (interface{}, error) {
		order, messages, err := workflow.CompleteDeliveryWorkflow(c.Request.Context(), tx, config.GetLogger(), deliveryId)
		if err != nil {
			return nil, err
		}
		return gin.H{"order": order, "messages": messages}, nil
	})
}

type reconcilePayload struct {
	Surface    string `json:"surface" validate:"required"`
	LocationId *int   `json:"location_id"`
	ItemId     *int   `json:"item_id"`
}

func postReconcile(c *gin.Context) {
	var payload reconcilePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	surface, err := models.ParseSurface(payload.Surface)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	inTx(c, func(tx *gorm.DB) (interface{}, error) {
		if payload.LocationId != nil && payload.ItemId != nil {
			key := models.LedgerKey{WorkspaceId: workspaceId(c), LocationId: *payload.LocationId, ItemId: *payload.ItemId}
			return workflow.ReconcileKey(tx, config.GetLogger(), surface, key, performedBy(c))
		}
		results, err := workflow.ReconcileSurface(tx, config.GetLogger(), surface, workspaceId(c), performedBy(c))
		if err != nil {
			return nil, err
		}
		flat := make([]gin.H, 0, len(results))
		for key, result := range results {
			flat = append(flat, gin.H{
				"location_id": key.LocationId,
				"item_id":     key.ItemId,
				"result":      result,
			})
		}
		return flat, nil
	})
}

func getLedgerHistory(c *gin.Context) {
	surface, err := models.ParseSurface(c.Param("surface"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	locationId, _ := strconv.Atoi(c.Query("location_id"))
	itemId, _ := strconv.Atoi(c.Query("item_id"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit <= 0 {
		limit = config.SearchLimit
	}

	key := models.LedgerKey{WorkspaceId: workspaceId(c), LocationId: locationId, ItemId: itemId}
	entries, err := models.EntriesByKey(config.GetDB().WithContext(c.Request.Context()), surface, key, offset, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// getBalance answers "how many units and how much value sit on this key right
// now" straight from the ledger tail, bypassing the snapshot cache.
func getBalance(c *gin.Context) {
	surface, err := models.ParseSurface(c.Param("surface"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	locationId, err := strconv.Atoi(c.Query("location_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid location id"})
		return
	}
	itemId, err := strconv.Atoi(c.Query("item_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
		return
	}

	key := models.LedgerKey{WorkspaceId: workspaceId(c), LocationId: locationId, ItemId: itemId}
	db := config.GetDB().WithContext(c.Request.Context())
	quantity, value, err := models.LedgerBalance(db, surface, key)
	if err != nil {
		respondError(c, err)
		return
	}
	avgPrice, err := models.LedgerAvgPrice(db, surface, key)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"surface":     surface,
		"location_id": locationId,
		"item_id":     itemId,
		"quantity":    quantity,
		"value":       value,
		"avg_price":   avgPrice,
	})
}

func getSnapshots(c *gin.Context) {
	surface, err := models.ParseSurface(c.Param("surface"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	offset, _ := strconv.Atoi(c.Query("offset"))
	limit, _ := strconv.Atoi(c.Query("limit"))

	db := config.GetDB().WithContext(c.Request.Context())
	var snapshots []*models.SnapshotView
	if locationId, locErr := strconv.Atoi(c.Query("location_id")); locErr == nil {
		snapshots, err = models.SnapshotsByLocation(db, surface, workspaceId(c), locationId, offset, limit)
	} else {
		snapshots, err = models.SnapshotsByWorkspace(db, surface, workspaceId(c), offset, limit)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshots)
}

func getLowStockSnapshots(c *gin.Context) {
	surface, err := models.ParseSurface(c.Param("surface"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	threshold, _ := strconv.Atoi(c.DefaultQuery("threshold", "0"))
	snapshots, err := models.LowStockSnapshots(config.GetDB().WithContext(c.Request.Context()), surface, workspaceId(c), threshold)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshots)
}

func reportRange(c *gin.Context) (time.Time, time.Time, error) {
	from, err := time.Parse(time.RFC3339, c.DefaultQuery("from", "1970-01-01T00:00:00Z"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := time.Parse(time.RFC3339, c.DefaultQuery("to", time.Now().UTC().Format(time.RFC3339)))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

func getItemMovements(c *gin.Context) {
	itemId, err := strconv.Atoi(c.Query("item_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
		return
	}
	from, to, err := reportRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if c.Query("format") == "xlsx" {
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=item_movements.xlsx")
		if err := reports.ExportItemMovementExcel(c.Request.Context(), c.Writer, itemId, from, to); err != nil {
			respondError(c, err)
		}
		return
	}

	group, err := reports.GetItemMovementSummary(c.Request.Context(), itemId, from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

func getUserTransactions(c *gin.Context) {
	userId, err := strconv.Atoi(c.Query("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	offset, _ := strconv.Atoi(c.Query("offset"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit <= 0 {
		limit = config.SearchLimit
	}
	group, err := reports.GetTransactionsByUser(c.Request.Context(), userId, offset, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

func getOrderTransactions(c *gin.Context) {
	orderId, err := strconv.Atoi(c.Query("order_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	group, err := reports.GetTransactionsByOrder(c.Request.Context(), orderId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, group)
}
