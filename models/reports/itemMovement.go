package reports

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/factory_backend/config"
	"bitbucket.org/mmdatafocus/factory_backend/models"
	"bitbucket.org/mmdatafocus/factory_backend/utils"
	"gorm.io/gorm"
)

// MovementGroup is the cross-ledger report payload: one bucket per surface.
// Field tags match the mobile client's expected keys, so finished goods is
// serialized as "inventory" and project components as "project".
type MovementGroup struct {
	Storage   []*models.LedgerView `json:"storage"`
	Machine   []*models.LedgerView `json:"machine"`
	Damaged   []*models.LedgerView `json:"damaged"`
	Project   []*models.LedgerView `json:"project"`
	Inventory []*models.LedgerView `json:"inventory"`
}

func (g *MovementGroup) put(surface models.Surface, entries []*models.LedgerView) {
	switch surface {
	case models.SurfaceStorage:
		g.Storage = entries
	case models.SurfaceMachine:
		g.Machine = entries
	case models.SurfaceDamaged:
		g.Damaged = entries
	case models.SurfaceProjectComponent:
		g.Project = entries
	case models.SurfaceFinishedGoods:
		g.Inventory = entries
	}
}

func (g *MovementGroup) All() []*models.LedgerView {
	out := make([]*models.LedgerView, 0,
		len(g.Storage)+len(g.Machine)+len(g.Damaged)+len(g.Project)+len(g.Inventory))
	out = append(out, g.Storage...)
	out = append(out, g.Machine...)
	out = append(out, g.Damaged...)
	out = append(out, g.Project...)
	out = append(out, g.Inventory...)
	return out
}

// collect runs the per-surface query across all five ledgers. The five reads
// are independent; a key is only ever written through one surface at a time,
// so no cross-surface consistency point is needed.
func collect(ctx context.Context, query func(tx *gorm.DB, surface models.Surface) ([]*models.LedgerView, error)) (*MovementGroup, error) {
	db := config.GetDB().WithContext(ctx)
	group := &MovementGroup{}
	for _, surface := range models.AllSurfaces() {
		entries, err := query(db, surface)
		if err != nil {
			return nil, err
		}
		group.put(surface, entries)
	}
	return group, nil
}

// GetItemMovementSummary returns one item's movements across every surface in
// the date range, newest first within each surface.
func GetItemMovementSummary(ctx context.Context, itemId int, from, to time.Time) (*MovementGroup, error) {
	workspaceId, _ := utils.GetWorkspaceIdFromContext(ctx)
	if workspaceId == "" {
		return nil, utils.ErrorWorkspaceRequired
	}
	return collect(ctx, func(tx *gorm.DB, surface models.Surface) ([]*models.LedgerView, error) {
		return models.QueryEntries(tx, surface, workspaceId, nil, models.LedgerFilter{
			ItemId: &itemId,
			From:   &from,
			To:     &to,
		})
	})
}

// GetTransactionsByUser returns everything one user posted, across surfaces.
func GetTransactionsByUser(ctx context.Context, userId int, offset, limit int) (*MovementGroup, error) {
	workspaceId, _ := utils.GetWorkspaceIdFromContext(ctx)
	if workspaceId == "" {
		return nil, utils.ErrorWorkspaceRequired
	}
	return collect(ctx, func(tx *gorm.DB, surface models.Surface) ([]*models.LedgerView, error) {
		return models.EntriesByPerformer(tx, surface, workspaceId, userId, offset, limit)
	})
}

// GetTransactionsByOrder returns the full ledger trail of one order.
func GetTransactionsByOrder(ctx context.Context, orderId int) (*MovementGroup, error) {
	workspaceId, _ := utils.GetWorkspaceIdFromContext(ctx)
	if workspaceId == "" {
		return nil, utils.ErrorWorkspaceRequired
	}
	return collect(ctx, func(tx *gorm.DB, surface models.Surface) ([]*models.LedgerView, error) {
		return models.EntriesByOrder(tx, surface, workspaceId, orderId)
	})
}
