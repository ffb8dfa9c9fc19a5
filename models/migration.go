package models

import (
	"fmt"

	"bitbucket.org/mmdatafocus/factory_backend/config"
	"gorm.io/gorm"
)

// MigrateTable creates or updates every table the ledger core owns.
func MigrateTable() error {
	db := config.GetDB()
	return db.AutoMigrate(
		&Workspace{},
		&User{},
		&Item{},
		&Factory{},
		&Machine{},
		&ProjectComponent{},
		&StorageLedger{},
		&MachineLedger{},
		&DamagedLedger{},
		&ProjectComponentLedger{},
		&FinishedGoodsLedger{},
		&StorageSnapshot{},
		&MachineSnapshot{},
		&DamagedSnapshot{},
		&ProjectComponentSnapshot{},
		&FinishedGoodsSnapshot{},
		&SalesOrder{},
		&SalesOrderDetail{},
		&Delivery{},
		&DeliveryDetail{},
	)
}

type ledgerTableSpec struct {
	table          string
	locationColumn string
}

func ledgerTableSpecs() []ledgerTableSpec {
	return []ledgerTableSpec{
		{StorageLedger{}.TableName(), StorageLedger{}.LocationColumn()},
		{MachineLedger{}.TableName(), MachineLedger{}.LocationColumn()},
		{DamagedLedger{}.TableName(), DamagedLedger{}.LocationColumn()},
		{ProjectComponentLedger{}.TableName(), ProjectComponentLedger{}.LocationColumn()},
		{FinishedGoodsLedger{}.TableName(), FinishedGoodsLedger{}.LocationColumn()},
	}
}

// EnsureInventoryLedgerSchema enforces the hot-path indexes AutoMigrate may
// have missed on tables that predate the tag-declared indexes. Guarded by
// INVENTORY_STRICT_SCHEMA; existing deployments with hand-managed schemas can
// opt out.
func EnsureInventoryLedgerSchema() error {
	if !config.StrictLedgerSchema() {
		return nil
	}
	db := config.GetDB()
	for _, spec := range ledgerTableSpecs() {
		indexes := map[string]string{
			"idx_ledger_key": fmt.Sprintf(
				"CREATE INDEX idx_ledger_key ON %s (workspace_id, %s, item_id, performed_at)",
				spec.table, spec.locationColumn),
			"idx_ledger_type": fmt.Sprintf(
				"CREATE INDEX idx_ledger_type ON %s (workspace_id, transaction_type)", spec.table),
			"idx_ledger_date": fmt.Sprintf(
				"CREATE INDEX idx_ledger_date ON %s (workspace_id, performed_at)", spec.table),
			"idx_ledger_performer": fmt.Sprintf(
				"CREATE INDEX idx_ledger_performer ON %s (workspace_id, performed_by)", spec.table),
			"idx_ledger_order": fmt.Sprintf(
				"CREATE INDEX idx_ledger_order ON %s (workspace_id, order_id)", spec.table),
		}
		for name, ddl := range indexes {
			exists, err := indexExists(db, spec.table, name)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			if err := db.Exec(ddl).Error; err != nil {
				return fmt.Errorf("create %s on %s: %w", name, spec.table, err)
			}
		}
	}
	return nil
}

func indexExists(db *gorm.DB, table, index string) (bool, error) {
	var count int64
	err := db.Raw(
		`SELECT COUNT(1) FROM INFORMATION_SCHEMA.STATISTICS
		 WHERE table_schema = DATABASE() AND table_name = ? AND index_name = ?`,
		table, index).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
