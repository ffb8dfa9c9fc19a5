package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestNextCostBasisIncreaseFromZero(t *testing.T) {
	next := NextCostBasis(ZeroCostBasis(), TransactionTypePurchaseOrder, 10, dec("2.50"), false)

	require.Equal(t, 10, next.Quantity)
	require.True(t, next.Value.Equal(dec("25.00")), "value = %s", next.Value)
	require.True(t, next.AvgPrice.Equal(dec("2.5")), "avg = %s", next.AvgPrice)
}

func TestNextCostBasisBlendsAverageOnIncrease(t *testing.T) {
	basis := NextCostBasis(ZeroCostBasis(), TransactionTypePurchaseOrder, 10, dec("2.00"), false)
	basis = NextCostBasis(basis, TransactionTypePurchaseOrder, 10, dec("3.00"), false)

	require.Equal(t, 20, basis.Quantity)
	require.True(t, basis.Value.Equal(dec("50.00")), "value = %s", basis.Value)
	require.True(t, basis.AvgPrice.Equal(dec("2.5")), "avg = %s", basis.AvgPrice)
}

func TestNextCostBasisDecreaseKeepsAverage(t *testing.T) {
	basis := CostBasis{Quantity: 20, Value: dec("50.00"), AvgPrice: dec("2.5")}
	next := NextCostBasis(basis, TransactionTypeConsumption, 5, decimal.Zero, false)

	require.Equal(t, 15, next.Quantity)
	require.True(t, next.Value.Equal(dec("37.50")), "value = %s", next.Value)
	require.True(t, next.AvgPrice.Equal(dec("2.5")), "avg = %s", next.AvgPrice)
}

func TestNextCostBasisEmptyingKeyResetsValuation(t *testing.T) {
	basis := CostBasis{Quantity: 3, Value: dec("10.00"), AvgPrice: dec("3.3333")}
	next := NextCostBasis(basis, TransactionTypeTransferOut, 3, decimal.Zero, false)

	require.Equal(t, 0, next.Quantity)
	require.True(t, next.Value.IsZero(), "value = %s", next.Value)
	require.True(t, next.AvgPrice.IsZero(), "avg = %s", next.AvgPrice)
}

func TestNextCostBasisCostAdjustmentRestatesValue(t *testing.T) {
	basis := CostBasis{Quantity: 8, Value: dec("16.00"), AvgPrice: dec("2")}
	next := NextCostBasis(basis, TransactionTypeCostAdjustment, 0, dec("2.75"), false)

	require.Equal(t, 8, next.Quantity)
	require.True(t, next.AvgPrice.Equal(dec("2.75")), "avg = %s", next.AvgPrice)
	require.True(t, next.Value.Equal(dec("22.00")), "value = %s", next.Value)
}

func TestNextCostBasisAdjustmentHonoursDecreaseFlag(t *testing.T) {
	basis := CostBasis{Quantity: 10, Value: dec("20.00"), AvgPrice: dec("2")}

	up := NextCostBasis(basis, TransactionTypeInventoryAdjustment, 2, dec("2.00"), false)
	require.Equal(t, 12, up.Quantity)

	down := NextCostBasis(basis, TransactionTypeInventoryAdjustment, 2, decimal.Zero, true)
	require.Equal(t, 8, down.Quantity)
	require.True(t, down.Value.Equal(dec("16.00")), "value = %s", down.Value)
}

func TestMovementCostUsesCarriedAverageOnDecrease(t *testing.T) {
	basis := CostBasis{Quantity: 10, Value: dec("25.00"), AvgPrice: dec("2.5")}

	unitCost, totalCost := MovementCost(basis, TransactionTypeDamaged, 4, dec("9.99"), false)
	require.True(t, unitCost.Equal(dec("2.50")), "unit = %s", unitCost)
	require.True(t, totalCost.Equal(dec("10.00")), "total = %s", totalCost)

	unitCost, totalCost = MovementCost(basis, TransactionTypePurchaseOrder, 4, dec("3.00"), false)
	require.True(t, unitCost.Equal(dec("3.00")), "unit = %s", unitCost)
	require.True(t, totalCost.Equal(dec("12.00")), "total = %s", totalCost)
}
