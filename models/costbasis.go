package models

import (
	"github.com/shopspring/decimal"
)

// CostBasis is the running valuation state of one ledger key. Quantity is a
// whole-unit count; Value is rounded to 2 places, AvgPrice to 4.
type CostBasis struct {
	Quantity int
	Value    decimal.Decimal
	AvgPrice decimal.Decimal
}

func ZeroCostBasis() CostBasis {
	return CostBasis{Quantity: 0, Value: decimal.Zero, AvgPrice: decimal.Zero}
}

// NextCostBasis applies one movement to a running balance under moving
// weighted-average costing.
//
// Increases blend the incoming units at unitCost into the average. Decreases
// relieve stock at the current average; unitCost is ignored for them. A
// decrease that empties the key resets value and average to zero so rounding
// residue cannot accumulate. cost_adjustment moves no units: unitCost becomes
// the new average and the value is restated at the current quantity.
//
// The caller is responsible for rejecting movements that would drive Quantity
// negative; this function only does the arithmetic.
func NextCostBasis(prev CostBasis, ttype TransactionType, quantity int, unitCost decimal.Decimal, decrease bool) CostBasis {
	qty := decimal.NewFromInt(int64(quantity))

	if ttype == TransactionTypeCostAdjustment {
		next := CostBasis{
			Quantity: prev.Quantity,
			AvgPrice: unitCost.Round(4),
		}
		next.Value = next.AvgPrice.Mul(decimal.NewFromInt(int64(next.Quantity))).Round(2)
		return next
	}

	direction := MovementDirection(ttype, decrease)
	switch direction {
	case 1:
		next := CostBasis{Quantity: prev.Quantity + quantity}
		next.Value = prev.Value.Add(unitCost.Mul(qty)).Round(2)
		if next.Quantity > 0 {
			next.AvgPrice = next.Value.DivRound(decimal.NewFromInt(int64(next.Quantity)), 4)
		}
		return next
	case -1:
		next := CostBasis{Quantity: prev.Quantity - quantity, AvgPrice: prev.AvgPrice}
		next.Value = prev.Value.Sub(prev.AvgPrice.Mul(qty)).Round(2)
		if next.Quantity <= 0 {
			next.Value = decimal.Zero
			next.AvgPrice = decimal.Zero
		}
		return next
	}
	return prev
}

// MovementCost is the total_cost recorded on the ledger row: quantity times
// the effective unit cost (incoming cost for increases, carried average for
// decreases).
func MovementCost(prev CostBasis, ttype TransactionType, quantity int, unitCost decimal.Decimal, decrease bool) (effectiveUnitCost, totalCost decimal.Decimal) {
	if MovementDirection(ttype, decrease) == -1 {
		effectiveUnitCost = prev.AvgPrice.Round(2)
	} else {
		effectiveUnitCost = unitCost.Round(2)
	}
	totalCost = effectiveUnitCost.Mul(decimal.NewFromInt(int64(quantity))).Round(2)
	return effectiveUnitCost, totalCost
}
