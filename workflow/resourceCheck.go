package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/factory_backend/models"
	"bitbucket.org/mmdatafocus/factory_backend/utils"
)

// ValidateLedgerKey checks that the item and the location behind a key exist
// in the workspace before any stock moves against them. A typo'd id would
// otherwise mint a perfectly consistent ledger for a location that isn't real.
func ValidateLedgerKey(ctx context.Context, workspaceId string, surface models.Surface, key models.LedgerKey) error {
	if !surface.Valid() {
		return utils.NewBusinessRuleError("invalid surface %q", string(surface))
	}
	if err := utils.ValidateResourceId[models.Item](ctx, workspaceId, key.ItemId); err != nil {
		return err
	}
	switch surface {
	case models.SurfaceMachine:
		return utils.ValidateResourceId[models.Machine](ctx, workspaceId, key.LocationId)
	case models.SurfaceProjectComponent:
		return utils.ValidateResourceId[models.ProjectComponent](ctx, workspaceId, key.LocationId)
	default:
		return utils.ValidateResourceId[models.Factory](ctx, workspaceId, key.LocationId)
	}
}
