/**
 * @description
 * Scheduled job implementations: aggregate reconciliation and price refresh.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/rapidfund/settlement-service/internal/domain"
)

// Reconciler corrects campaign aggregate drift in the store.
type Reconciler interface {
	Reconcile(ctx context.Context) ([]domain.CampaignDrift, error)
}

// PriceRefresher reloads every asset price from the live source.
type PriceRefresher interface {
	Refresh(ctx context.Context) int
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	reconciler Reconciler
	prices     PriceRefresher
	logger     *slog.Logger
	timeout    time.Duration
}

func NewJobs(reconciler Reconciler, prices PriceRefresher, logger *slog.Logger) *Jobs {
	return &Jobs{
		reconciler: reconciler,
		prices:     prices,
		logger:     logger,
		timeout:    2 * time.Minute,
	}
}

// ReconcileCampaignAggregates recomputes raised amounts and donor counts from the
// donation rows. Any correction is logged at warn level since it means a writer
// bypassed the recorder.
func (j *Jobs) ReconcileCampaignAggregates() {
	j.logger.Info("starting campaign aggregate reconciliation job")
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	drifts, err := j.reconciler.Reconcile(ctx)
	if err != nil {
		j.logger.Error("failed to reconcile campaign aggregates", "error", err)
		return
	}
	for _, drift := range drifts {
		j.logger.Warn("corrected campaign aggregate drift",
			"campaign_id", drift.CampaignID,
			"stored_raised", drift.StoredRaised.String(),
			"computed_raised", drift.ComputedRaised.String(),
			"stored_donors", drift.StoredDonors,
			"computed_donors", drift.ComputedDonors,
		)
	}
	j.logger.Info("campaign aggregate reconciliation job finished", "corrected", len(drifts))
}

// RefreshPrices warms the oracle snapshot so donations rarely wait on the live source.
func (j *Jobs) RefreshPrices() {
	if j.prices == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	updated := j.prices.Refresh(ctx)
	j.logger.Info("price refresh job finished", "updated", updated)
}
