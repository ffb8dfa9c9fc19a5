package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LedgerBalance derives the authoritative balance for a key from its newest
// ledger entry. A key with no entries has zero quantity and zero value; no
// row is written by reading.
func LedgerBalance(tx *gorm.DB, surface Surface, key LedgerKey) (int, decimal.Decimal, error) {
	latest, err := LatestEntry(tx, surface, key)
	if err != nil {
		return 0, decimal.Zero, err
	}
	if latest == nil {
		return 0, decimal.Zero, nil
	}
	return latest.QtyAfter, latest.ValueAfter, nil
}

// LedgerAvgPrice returns the moving average unit cost carried by the newest
// entry, zero when the key has no history.
func LedgerAvgPrice(tx *gorm.DB, surface Surface, key LedgerKey) (decimal.Decimal, error) {
	latest, err := LatestEntry(tx, surface, key)
	if err != nil {
		return decimal.Zero, err
	}
	if latest == nil {
		return decimal.Zero, nil
	}
	return latest.AvgPriceAfter, nil
}
