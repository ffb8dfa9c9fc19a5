package models

import (
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/factory_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type SalesOrder struct {
	ID            int                `gorm:"primary_key" json:"id"`
	WorkspaceId   string             `gorm:"size:36;not null;index:idx_sales_order_number,priority:1" json:"workspace_id"`
	OrderNumber   string             `gorm:"size:50;not null;index:idx_sales_order_number,priority:2" json:"order_number"`
	AccountId     int                `gorm:"not null" json:"account_id"`
	FactoryId     int                `gorm:"not null" json:"factory_id"`
	CurrentStatus SalesOrderStatus   `gorm:"size:30;not null" json:"current_status"`
	OrderDate     time.Time          `json:"order_date"`
	Notes         string             `gorm:"size:500" json:"notes"`
	Details       []SalesOrderDetail `gorm:"foreignKey:SalesOrderId" json:"details"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

type SalesOrderDetail struct {
	ID                int             `gorm:"primary_key" json:"id"`
	WorkspaceId       string          `gorm:"size:36;not null;index" json:"workspace_id"`
	SalesOrderId      int             `gorm:"not null;index" json:"sales_order_id"`
	ItemId            int             `gorm:"not null" json:"item_id"`
	QuantityOrdered   int             `gorm:"not null" json:"quantity_ordered"`
	QuantityDelivered int             `gorm:"not null;default:0" json:"quantity_delivered"`
	UnitPrice         decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"unit_price"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type Delivery struct {
	ID            int              `gorm:"primary_key" json:"id"`
	WorkspaceId   string           `gorm:"size:36;not null;index" json:"workspace_id"`
	SalesOrderId  int              `gorm:"not null;index" json:"sales_order_id"`
	CurrentStatus DeliveryStatus   `gorm:"size:30;not null" json:"current_status"`
	PlannedDate   *time.Time       `json:"planned_date"`
	ActualDate    *time.Time       `json:"actual_date"`
	Notes         string           `gorm:"size:500" json:"notes"`
	Details       []DeliveryDetail `gorm:"foreignKey:DeliveryId" json:"details"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

type DeliveryDetail struct {
	ID                int       `gorm:"primary_key" json:"id"`
	WorkspaceId       string    `gorm:"size:36;not null;index" json:"workspace_id"`
	DeliveryId        int       `gorm:"not null;index" json:"delivery_id"`
	SalesOrderItemId  int       `gorm:"not null" json:"sales_order_item_id"`
	ItemId            int       `gorm:"not null" json:"item_id"`
	QuantityDelivered int       `gorm:"not null" json:"quantity_delivered"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// GetSalesOrder loads an order with its lines, workspace-scoped.
func GetSalesOrder(tx *gorm.DB, workspaceId string, id int) (*SalesOrder, error) {
	var order SalesOrder
	err := tx.Preload("Details").
		Where("workspace_id = ? AND id = ?", workspaceId, id).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetDelivery loads a delivery with its lines, workspace-scoped.
func GetDelivery(tx *gorm.DB, workspaceId string, id int) (*Delivery, error) {
	var delivery Delivery
	err := tx.Preload("Details").
		Where("workspace_id = ? AND id = ?", workspaceId, id).
		First(&delivery).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &delivery, nil
}

// FullyDelivered reports whether every ordered line has been delivered in full.
func (o *SalesOrder) FullyDelivered() bool {
	for _, d := range o.Details {
		if d.QuantityDelivered < d.QuantityOrdered {
			return false
		}
	}
	return len(o.Details) > 0
}

// RemainingUnits sums outstanding (ordered minus delivered) quantities.
func (o *SalesOrder) RemainingUnits() int {
	remaining := 0
	for _, d := range o.Details {
		if d.QuantityOrdered > d.QuantityDelivered {
			remaining += d.QuantityOrdered - d.QuantityDelivered
		}
	}
	return remaining
}

// DetailById finds the order line a delivery line points at.
func (o *SalesOrder) DetailById(id int) *SalesOrderDetail {
	for i := range o.Details {
		if o.Details[i].ID == id {
			return &o.Details[i]
		}
	}
	return nil
}
