package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rapidfund/settlement-service/internal/domain"
)

type reconcilerStub struct {
	drifts []domain.CampaignDrift
	err    error
	calls  int
}

func (r *reconcilerStub) Reconcile(ctx context.Context) ([]domain.CampaignDrift, error) {
	r.calls++
	return r.drifts, r.err
}

type refresherStub struct {
	calls int
}

func (r *refresherStub) Refresh(ctx context.Context) int {
	r.calls++
	return 4
}

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

func TestJobs_ReconcileLogsEachDrift(t *testing.T) {
	logger, buf := bufferLogger()
	campaignID := uuid.New()
	reconciler := &reconcilerStub{drifts: []domain.CampaignDrift{{
		CampaignID:     campaignID,
		StoredRaised:   dec("10"),
		ComputedRaised: dec("12"),
		StoredDonors:   1,
		ComputedDonors: 2,
	}}}

	NewJobs(reconciler, nil, logger).ReconcileCampaignAggregates()

	out := buf.String()
	if reconciler.calls != 1 {
		t.Fatalf("expected one reconcile call, got %d", reconciler.calls)
	}
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, campaignID.String()) || !strings.Contains(out, "corrected=1") {
		t.Fatalf("unexpected log output:\n%s", out)
	}
}

func TestJobs_ReconcileFailureIsLogged(t *testing.T) {
	logger, buf := bufferLogger()
	NewJobs(&reconcilerStub{err: errors.New("db down")}, nil, logger).ReconcileCampaignAggregates()
	if !strings.Contains(buf.String(), "level=ERROR") || !strings.Contains(buf.String(), "db down") {
		t.Fatalf("expected error log, got:\n%s", buf.String())
	}
}

func TestJobs_ReconcileAgainstLedger(t *testing.T) {
	ledger, repo, _ := newTestLedger(t)
	campaign := newTestCampaign(t, ledger, uuid.New())
	if _, err := ledger.RecordDonation(context.Background(), fiatDonation(campaign.ID, "40", "cs_drift")); err != nil {
		t.Fatalf("RecordDonation: %v", err)
	}
	if err := repo.SetAggregates(campaign.ID, dec("999"), 7); err != nil {
		t.Fatalf("SetAggregates: %v", err)
	}

	logger, _ := bufferLogger()
	NewJobs(ledger, nil, logger).ReconcileCampaignAggregates()

	current, _ := ledger.GetCampaign(context.Background(), campaign.ID)
	if !current.RaisedAmount.Equal(dec("40")) || current.DonorsCount != 1 {
		t.Fatalf("expected aggregates restored to 40/1, got %s/%d", current.RaisedAmount, current.DonorsCount)
	}
}

func TestJobs_RefreshPrices(t *testing.T) {
	logger, buf := bufferLogger()
	refresher := &refresherStub{}
	NewJobs(&reconcilerStub{}, refresher, logger).RefreshPrices()
	if refresher.calls != 1 || !strings.Contains(buf.String(), "updated=4") {
		t.Fatalf("unexpected refresh: calls=%d log=%s", refresher.calls, buf.String())
	}

	NewJobs(&reconcilerStub{}, nil, logger).RefreshPrices()
}

func TestScheduler_StartCountsEnabledJobs(t *testing.T) {
	logger, _ := bufferLogger()
	jobs := NewJobs(&reconcilerStub{}, &refresherStub{}, logger)

	cases := []struct {
		name      string
		schedules Schedules
		want      int
	}{
		{"both", Schedules{Reconcile: "@every 1h", PriceRefresh: "@every 1m"}, 2},
		{"reconcile only", Schedules{Reconcile: "@every 1h", PriceRefresh: " "}, 1},
		{"none", Schedules{}, 0},
		{"invalid schedule", Schedules{Reconcile: "not a schedule", PriceRefresh: "@every 1m"}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			scheduler := NewScheduler(jobs, logger, tc.schedules)
			if got := scheduler.Start(); got != tc.want {
				t.Fatalf("Start() = %d, want %d", got, tc.want)
			}
			select {
			case <-scheduler.Stop().Done():
			case <-time.After(time.Second):
				t.Fatalf("scheduler did not stop")
			}
		})
	}
}

func TestMemoryRateLimiter_FixedWindow(t *testing.T) {
	limiter := NewMemoryRateLimiter()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		count, retry, err := limiter.ConsumeRateLimit(ctx, "crypto_donation", "user-1", 3, time.Minute)
		if err != nil || count != i || retry != 60 {
			t.Fatalf("call %d: count=%d retry=%d err=%v", i, count, retry, err)
		}
	}
	if count, _, _ := limiter.ConsumeRateLimit(ctx, "crypto_donation", "user-2", 3, time.Minute); count != 1 {
		t.Fatalf("subjects must not share a window, got %d", count)
	}

	now = now.Add(45 * time.Second)
	count, retry, _ := limiter.ConsumeRateLimit(ctx, "crypto_donation", "user-1", 3, time.Minute)
	if count != 4 || retry != 15 {
		t.Fatalf("expected 4th hit with 15s left, got count=%d retry=%d", count, retry)
	}

	now = now.Add(20 * time.Second)
	if count, _, _ := limiter.ConsumeRateLimit(ctx, "crypto_donation", "user-1", 3, time.Minute); count != 1 {
		t.Fatalf("expected a fresh window, got %d", count)
	}
	if count, _, _ := limiter.ConsumeRateLimit(ctx, "crypto_donation", " ", 3, time.Minute); count != 0 {
		t.Fatalf("blank subject should not be limited")
	}
}

func TestRedisRateLimiter_NilClientDisabled(t *testing.T) {
	limiter := NewRedisRateLimiter(nil, "")
	count, retry, err := limiter.ConsumeRateLimit(context.Background(), "scope", "subject", 5, time.Minute)
	if err != nil || count != 0 || retry != 0 {
		t.Fatalf("nil client should disable limiting, got %d %d %v", count, retry, err)
	}
	if limiter.prefix != "rapidfund:rate_limit" {
		t.Fatalf("unexpected prefix %s", limiter.prefix)
	}
}

func TestRedisRateLimiter_PrefixAppendsScopeOnce(t *testing.T) {
	for _, prefix := range []string{"settle", "settle:", " settle:rate_limit "} {
		if got := NewRedisRateLimiter(nil, prefix).prefix; got != "settle:rate_limit" {
			t.Fatalf("prefix %q: expected settle:rate_limit, got %s", prefix, got)
		}
	}
}
