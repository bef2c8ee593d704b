package adapter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/domain"
)

// OrphanReconciler releases duplicate side effects left behind when a
// replication merge discards a losing replica's completed steps. Each orphan
// is undone with the owning adapter's compensating action, which is already
// idempotent, so both regions can release the same orphan safely.
type OrphanReconciler struct {
	registry *Registry
	logger   *slog.Logger
}

func NewOrphanReconciler(registry *Registry, log *slog.Logger) *OrphanReconciler {
	return &OrphanReconciler{registry: registry, logger: log}
}

func (r *OrphanReconciler) ReleaseOrphans(ctx context.Context, order *domain.Order, orphans []domain.StepRecord) error {
	for _, rec := range orphans {
		a, err := r.registry.Get(rec.Step)
		if err != nil {
			return fmt.Errorf("release orphan: %w", err)
		}
		if err := a.Compensate(ctx, order, rec); err != nil {
			return fmt.Errorf("release orphaned %s effect for order %s: %w", rec.Step, order.ID, err)
		}
		r.logger.InfoContext(ctx, "released orphaned side effect",
			slog.String("order_id", order.ID),
			slog.String("step", string(rec.Step)),
		)
	}
	return nil
}
