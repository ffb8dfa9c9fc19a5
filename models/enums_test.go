package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSurface(t *testing.T) {
	for _, s := range AllSurfaces() {
		parsed, err := ParseSurface(string(s))
		require.NoError(t, err)
		require.Equal(t, s, parsed)
	}

	_, err := ParseSurface("warehouse")
	require.Error(t, err)
}

func TestTransactionTypeDirection(t *testing.T) {
	require.Equal(t, 1, TransactionTypePurchaseOrder.Direction())
	require.Equal(t, 1, TransactionTypeManualAdd.Direction())
	require.Equal(t, 1, TransactionTypeTransferIn.Direction())
	require.Equal(t, -1, TransactionTypeTransferOut.Direction())
	require.Equal(t, -1, TransactionTypeConsumption.Direction())
	require.Equal(t, -1, TransactionTypeDamaged.Direction())
	require.Equal(t, 0, TransactionTypeCostAdjustment.Direction())
}

func TestMovementDirectionAdjustmentDecrease(t *testing.T) {
	require.Equal(t, 1, MovementDirection(TransactionTypeInventoryAdjustment, false))
	require.Equal(t, -1, MovementDirection(TransactionTypeInventoryAdjustment, true))

	// the decrease flag only applies to inventory_adjustment
	require.Equal(t, 1, MovementDirection(TransactionTypePurchaseOrder, true))
}

func TestSourceTypeRequiresSourceId(t *testing.T) {
	require.True(t, SourceTypeOrder.RequiresSourceId())
	require.True(t, SourceTypeSalesDelivery.RequiresSourceId())
	require.True(t, SourceTypeProduction.RequiresSourceId())

	require.False(t, SourceTypeManual.RequiresSourceId())
	require.False(t, SourceTypeAdjustment.RequiresSourceId())
	require.False(t, SourceTypeTransfer.RequiresSourceId())
	require.False(t, SourceTypeReconciliation.RequiresSourceId())
}
