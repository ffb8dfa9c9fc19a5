package models

import "errors"

// Surface identifies one of the five inventory contexts. Each surface has its
// own ledger and snapshot table; the surface tag is also what transfer
// source/destination fields carry, so values are stable wire strings.
type Surface string

const (
	SurfaceStorage          Surface = "storage"
	SurfaceMachine          Surface = "machine"
	SurfaceDamaged          Surface = "damaged"
	SurfaceProjectComponent Surface = "project_component"
	SurfaceFinishedGoods    Surface = "finished_goods"
)

func AllSurfaces() []Surface {
	return []Surface{
		SurfaceStorage,
		SurfaceMachine,
		SurfaceDamaged,
		SurfaceProjectComponent,
		SurfaceFinishedGoods,
	}
}

func (s Surface) Valid() bool {
	switch s {
	case SurfaceStorage, SurfaceMachine, SurfaceDamaged, SurfaceProjectComponent, SurfaceFinishedGoods:
		return true
	}
	return false
}

func ParseSurface(s string) (Surface, error) {
	surface := Surface(s)
	if !surface.Valid() {
		return "", errors.New("invalid surface")
	}
	return surface, nil
}

// TransactionType is the closed set of movement kinds. Direction of effect on
// the running balance is encoded here, never by the sign of Quantity.
type TransactionType string

const (
	TransactionTypePurchaseOrder       TransactionType = "purchase_order"
	TransactionTypeManualAdd           TransactionType = "manual_add"
	TransactionTypeTransferIn          TransactionType = "transfer_in"
	TransactionTypeTransferOut         TransactionType = "transfer_out"
	TransactionTypeConsumption         TransactionType = "consumption"
	TransactionTypeDamaged             TransactionType = "damaged"
	TransactionTypeInventoryAdjustment TransactionType = "inventory_adjustment"
	TransactionTypeCostAdjustment      TransactionType = "cost_adjustment"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypePurchaseOrder, TransactionTypeManualAdd, TransactionTypeTransferIn,
		TransactionTypeTransferOut, TransactionTypeConsumption, TransactionTypeDamaged,
		TransactionTypeInventoryAdjustment, TransactionTypeCostAdjustment:
		return true
	}
	return false
}

// Direction returns +1 for increases, -1 for decreases and 0 for neutral
// types. inventory_adjustment can go either way; callers resolve it with the
// movement's explicit decrease flag (see MovementDirection).
func (t TransactionType) Direction() int {
	switch t {
	case TransactionTypePurchaseOrder, TransactionTypeManualAdd, TransactionTypeTransferIn:
		return 1
	case TransactionTypeTransferOut, TransactionTypeConsumption, TransactionTypeDamaged:
		return -1
	case TransactionTypeInventoryAdjustment:
		return 1
	default: // cost_adjustment
		return 0
	}
}

// MovementDirection resolves the signed direction of a movement, honouring the
// decrease flag for inventory_adjustment.
func MovementDirection(t TransactionType, decrease bool) int {
	if t == TransactionTypeInventoryAdjustment && decrease {
		return -1
	}
	return t.Direction()
}

// SourceType attributes a ledger entry to the domain document that produced it.
type SourceType string

const (
	SourceTypeOrder             SourceType = "order"
	SourceTypeManual            SourceType = "manual"
	SourceTypeAdjustment        SourceType = "adjustment"
	SourceTypeInvoiceCorrection SourceType = "invoice_correction"
	SourceTypeTransfer          SourceType = "transfer"
	SourceTypeDamageReport      SourceType = "damage_report"
	SourceTypeProduction        SourceType = "production"
	SourceTypeSalesOrder        SourceType = "sales_order"
	SourceTypeSalesDelivery     SourceType = "sales_delivery"
	SourceTypeReconciliation    SourceType = "reconciliation"
)

func (s SourceType) Valid() bool {
	switch s {
	case SourceTypeOrder, SourceTypeManual, SourceTypeAdjustment, SourceTypeInvoiceCorrection,
		SourceTypeTransfer, SourceTypeDamageReport, SourceTypeProduction, SourceTypeSalesOrder,
		SourceTypeSalesDelivery, SourceTypeReconciliation:
		return true
	}
	return false
}

// RequiresSourceId reports whether the source type must carry a source id.
// Document-backed producers (orders, invoices, deliveries, production runs)
// must point at their document; manual movements, ad-hoc adjustments,
// reconciliation restatements and transfers (which carry their own
// source/destination context instead) are anonymous.
func (s SourceType) RequiresSourceId() bool {
	switch s {
	case SourceTypeManual, SourceTypeAdjustment, SourceTypeTransfer,
		SourceTypeDamageReport, SourceTypeReconciliation:
		return false
	}
	return true
}

// ReconcileStatus is the structured outcome of a reconciliation run.
// "adjusted" is a success the UI must be able to explain, so it is a status,
// not an error.
type ReconcileStatus string

const (
	ReconcileStatusBalanced ReconcileStatus = "balanced"
	ReconcileStatusAdjusted ReconcileStatus = "adjusted"
	ReconcileStatusError    ReconcileStatus = "error"
)

type SalesOrderStatus string

const (
	SalesOrderStatusDraft              SalesOrderStatus = "Draft"
	SalesOrderStatusConfirmed          SalesOrderStatus = "Confirmed"
	SalesOrderStatusPartiallyDelivered SalesOrderStatus = "PartiallyDelivered"
	SalesOrderStatusDelivered          SalesOrderStatus = "Delivered"
	SalesOrderStatusCancelled          SalesOrderStatus = "Cancelled"
)

type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "Pending"
	DeliveryStatusDelivered DeliveryStatus = "Delivered"
	DeliveryStatusCancelled DeliveryStatus = "Cancelled"
)
