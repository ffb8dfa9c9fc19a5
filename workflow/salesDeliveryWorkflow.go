package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/factory_backend/config"
	"bitbucket.org/mmdatafocus/factory_backend/models"
	"bitbucket.org/mmdatafocus/factory_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CompleteDeliveryWorkflow marks a pending delivery as delivered, bumps the
// delivered quantities on the sales order lines and relieves finished goods
// stock for every delivered line, all in the caller's transaction.
//
// Returns the refreshed order plus user-facing messages, one per relieved
// line and a closing line about the order's remaining state.
func CompleteDeliveryWorkflow(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, deliveryId int) (*models.SalesOrder, []string, error) {
	workspaceId, _ := utils.GetWorkspaceIdFromContext(ctx)
	if workspaceId == "" {
		return nil, nil, utils.ErrorWorkspaceRequired
	}

	release, err := utils.WorkspaceLock(ctx, workspaceId, "delivery", "workflow", "CompleteDeliveryWorkflow")
	if err != nil {
		return nil, nil, err
	}
	defer release()

	delivery, err := models.GetDelivery(tx, workspaceId, deliveryId)
	if err != nil {
		return nil, nil, err
	}
	if delivery.CurrentStatus != models.DeliveryStatusPending {
		return nil, nil, utils.NewBusinessRuleError(
			"delivery %d is %s, only pending deliveries can be completed",
			deliveryId, string(delivery.CurrentStatus))
	}
	if len(delivery.Details) == 0 {
		return nil, nil, utils.NewBusinessRuleError("delivery %d has no lines", deliveryId)
	}

	order, err := models.GetSalesOrder(tx, workspaceId, delivery.SalesOrderId)
	if err != nil {
		return nil, nil, err
	}
	if order.CurrentStatus == models.SalesOrderStatusCancelled {
		return nil, nil, utils.NewBusinessRuleError("sales order %d is cancelled", order.ID)
	}

	orderItems := make([]int, 0, len(order.Details))
	for _, d := range order.Details {
		orderItems = append(orderItems, d.ItemId)
	}
	deliveryItems := make([]int, 0, len(delivery.Details))
	for _, d := range delivery.Details {
		deliveryItems = append(deliveryItems, d.ItemId)
	}
	if err := utils.ValidateResourcesId[models.Item](ctx, workspaceId, utils.MergeIntSlices(orderItems, deliveryItems)); err != nil {
		return nil, nil, err
	}

	userId, hasUser := utils.GetUserIdFromContext(ctx)
	var performedBy *int
	if hasUser && userId > 0 {
		performedBy = &userId
	}
	now := time.Now().UTC()

	var messages []string
	for _, line := range delivery.Details {
		orderLine := order.DetailById(line.SalesOrderItemId)
		if orderLine == nil {
			return nil, nil, utils.NewBusinessRuleError(
				"delivery line references unknown order line %d", line.SalesOrderItemId)
		}
		if orderLine.QuantityDelivered+line.QuantityDelivered > orderLine.QuantityOrdered {
			return nil, nil, utils.NewBusinessRuleError(
				"delivery overruns order line %d: ordered %d, already delivered %d, delivering %d",
				orderLine.ID, orderLine.QuantityOrdered, orderLine.QuantityDelivered, line.QuantityDelivered)
		}

		orderLine.QuantityDelivered += line.QuantityDelivered
		err := tx.Model(&models.SalesOrderDetail{}).
			Where("workspace_id = ? AND id = ?", workspaceId, orderLine.ID).
			Update("quantity_delivered", orderLine.QuantityDelivered).Error
		if err != nil {
			config.LogError(logger, "workflow", "CompleteDeliveryWorkflow", "update order line", orderLine.ID, err)
			return nil, nil, err
		}

		key := models.LedgerKey{WorkspaceId: workspaceId, LocationId: order.FactoryId, ItemId: line.ItemId}
		deliverySource := delivery.ID
		_, err = ApplyMovement(tx, logger, key, Movement{
			Surface:         models.SurfaceFinishedGoods,
			TransactionType: models.TransactionTypeTransferOut,
			Quantity:        line.QuantityDelivered,
			SourceType:      models.SourceTypeSalesDelivery,
			SourceId:        &deliverySource,
			OrderId:         &order.ID,
			Transfer: &TransferContext{
				SourceType:      string(models.SurfaceFinishedGoods),
				SourceId:        fmt.Sprintf("%d", order.FactoryId),
				DestinationType: "customer",
				DestinationId:   fmt.Sprintf("%d", order.AccountId),
			},
			Notes:       fmt.Sprintf("delivery %d for order %s", delivery.ID, order.OrderNumber),
			PerformedBy: performedBy,
			PerformedAt: now,
		})
		if err != nil {
			return nil, nil, err
		}
		messages = append(messages, fmt.Sprintf(
			"relieved %d units of item %d from factory %d finished goods",
			line.QuantityDelivered, line.ItemId, order.FactoryId))
	}

	err = tx.Model(&models.Delivery{}).
		Where("workspace_id = ? AND id = ?", workspaceId, delivery.ID).
		Updates(map[string]interface{}{
			"current_status": models.DeliveryStatusDelivered,
			"actual_date":    now,
		}).Error
	if err != nil {
		config.LogError(logger, "workflow", "CompleteDeliveryWorkflow", "mark delivery delivered", delivery.ID, err)
		return nil, nil, err
	}

	newStatus := models.SalesOrderStatusPartiallyDelivered
	if order.FullyDelivered() {
		newStatus = models.SalesOrderStatusDelivered
		messages = append(messages, fmt.Sprintf("order %s is fully delivered", order.OrderNumber))
	} else {
		messages = append(messages, fmt.Sprintf("order %s has %d units remaining", order.OrderNumber, order.RemainingUnits()))
	}
	if order.CurrentStatus != newStatus {
		err = tx.Model(&models.SalesOrder{}).
			Where("workspace_id = ? AND id = ?", workspaceId, order.ID).
			Update("current_status", newStatus).Error
		if err != nil {
			config.LogError(logger, "workflow", "CompleteDeliveryWorkflow", "update order status", order.ID, err)
			return nil, nil, err
		}
		order.CurrentStatus = newStatus
	}

	return order, messages, nil
}
