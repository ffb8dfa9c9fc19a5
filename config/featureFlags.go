package config

import (
	"os"
	"strings"
)

// StrictLedgerSchema enforces NOT NULL + composite index constraints on the
// ledger tables at startup. Intended for clean-start environments.
//
// Set via env:
// - INVENTORY_STRICT_SCHEMA=true (default true; "false" disables)
func StrictLedgerSchema() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("INVENTORY_STRICT_SCHEMA")))
	return v != "false"
}

// AllowNegativeReconcile lets the reconciler write adjustments that leave a
// key with a negative balance instead of failing. Normal producers can never
// drive a balance negative regardless of this flag.
//
// Set via env:
// - LEDGER_ALLOW_NEGATIVE_RECONCILE=true
func AllowNegativeReconcile() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("LEDGER_ALLOW_NEGATIVE_RECONCILE")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
