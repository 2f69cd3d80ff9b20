package tracking

import (
	"context"

	"trackd/internal/model"
)

// MaintenanceService is the external collaborator that performs actual
// content deletion. This core only resolves which tracked paths qualify.
type MaintenanceService interface {
	// DeleteFiles removes the given paths from the store.
	DeleteFiles(ctx context.Context, store model.StoreKey, paths []string) error
}

// PromoteService is the external collaborator that knows which paths of a
// tracking session have been promoted. Used as an additional guard before
// batch deletion, so content that now backs a promoted artifact is kept.
type PromoteService interface {
	// PromotedPaths returns the set of paths recorded as promoted for the
	// tracking session.
	PromotedPaths(ctx context.Context, trackingID string) (map[string]struct{}, error)
}
