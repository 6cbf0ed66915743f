package pickup

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/PickupControl/internal/cache"
	"github.com/BearBump/PickupControl/internal/models"
)

// RiskRepository is a read-only view over at-point shipments.
type RiskRepository interface {
	// ListArrivedBefore returns at-point shipments with arrival <= cutoff, oldest arrival first.
	ListArrivedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.Shipment, error)
	// KPI counts at-point shipments per cutoff and sums the amount of those arrived before amountCutoff.
	KPI(ctx context.Context, cutoffs map[int]time.Time, amountCutoff time.Time) (models.KPISummary, error)
}

const KPICacheKey = "pickup:kpi:summary"

const (
	DefaultRiskDays  = 7
	DefaultRiskLimit = 100
	maxRiskLimit     = 1000
)

type Reports struct {
	repo       RiskRepository
	classifier *Classifier
	cache      cache.BytesCache
	ttl        time.Duration
	now        func() time.Time
}

func NewReports(repo RiskRepository, classifier *Classifier) *Reports {
	if classifier == nil {
		classifier = NewClassifier(DefaultThresholds())
	}
	return &Reports{
		repo:       repo,
		classifier: classifier,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithCache enables KPI caching. ttl <= 0 disables it.
func (r *Reports) WithCache(c cache.BytesCache, ttl time.Duration) *Reports {
	r.cache, r.ttl = c, ttl
	return r
}

func (r *Reports) WithClock(now func() time.Time) *Reports {
	if now != nil {
		r.now = now
	}
	return r
}

// ListAtRisk returns at-point shipments waiting at least minDays, oldest arrival first.
func (r *Reports) ListAtRisk(ctx context.Context, minDays, limit int) ([]*models.Shipment, error) {
	if minDays < 0 {
		minDays = 0
	}
	if limit <= 0 {
		limit = DefaultRiskLimit
	}
	if limit > maxRiskLimit {
		limit = maxRiskLimit
	}

	now := r.now()
	items, err := r.repo.ListArrivedBefore(ctx, cutoffFor(now, minDays), limit)
	if err != nil {
		return nil, err
	}
	for _, sh := range items {
		if sh.ArrivalAt == nil {
			continue
		}
		sh.DaysAtPoint = DaysAtPoint(*sh.ArrivalAt, now)
		sh.Risk = r.classifier.Classify(sh.DaysAtPoint, sh.DeadlineFreeAt, now)
	}
	return items, nil
}

// KPIThresholds are the day thresholds reported by KPISummary.
var KPIThresholds = []int{2, 5, 7}

func (r *Reports) KPISummary(ctx context.Context) (models.KPISummary, error) {
	if r.cache != nil && r.ttl > 0 {
		if b, ok, err := r.cache.Get(ctx, KPICacheKey); err == nil && ok {
			var k models.KPISummary
			if json.Unmarshal(b, &k) == nil {
				return k, nil
			}
		}
	}

	now := r.now()
	cutoffs := make(map[int]time.Time, len(KPIThresholds))
	for _, d := range KPIThresholds {
		cutoffs[d] = cutoffFor(now, d)
	}
	k, err := r.repo.KPI(ctx, cutoffs, cutoffFor(now, r.classifier.Thresholds().D2))
	if err != nil {
		return models.KPISummary{}, err
	}

	if r.cache != nil && r.ttl > 0 {
		if b, err := json.Marshal(k); err == nil {
			if err := r.cache.Set(ctx, KPICacheKey, b, r.ttl); err != nil {
				slog.Warn("kpi cache set", "error", err.Error())
			}
		}
	}
	return k, nil
}

// InvalidateKPI drops the cached KPI summary.
func (r *Reports) InvalidateKPI(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Del(ctx, KPICacheKey)
}

func cutoffFor(now time.Time, days int) time.Time {
	return now.Add(-time.Duration(days) * 24 * time.Hour)
}
