package pgpickup

import (
	"context"
	"sort"
	"time"

	"github.com/BearBump/PickupControl/internal/models"
	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
)

// KPI считает одним запросом количество по каждому порогу и сумму под риском.
func (s *Storage) KPI(ctx context.Context, cutoffs map[int]time.Time, amountCutoff time.Time) (models.KPISummary, error) {
	days := make([]int, 0, len(cutoffs))
	for d := range cutoffs {
		days = append(days, d)
	}
	sort.Ints(days)

	q := psql.Select().From("pickup_shipments")
	for _, d := range days {
		q = q.Column("COUNT(*) FILTER (WHERE arrival_at <= ?)", cutoffs[d].UTC())
	}
	q = q.Column("COALESCE(SUM(amount) FILTER (WHERE arrival_at <= ?), 0)", amountCutoff.UTC()).
		Where(sq.Eq{"status": models.ShipmentStatusAtPoint}).
		Where(sq.NotEq{"arrival_at": nil})

	query, args, err := q.ToSql()
	if err != nil {
		return models.KPISummary{}, errors.Wrap(err, "build query")
	}

	counts := make([]int64, len(days))
	dest := make([]any, 0, len(days)+1)
	for i := range counts {
		dest = append(dest, &counts[i])
	}
	var amount float64
	dest = append(dest, &amount)

	if err := s.db.QueryRow(ctx, query, args...).Scan(dest...); err != nil {
		return models.KPISummary{}, errors.Wrap(err, "select kpi")
	}

	k := models.KPISummary{CountByThreshold: make(map[int]int64, len(days)), AmountAtRisk: amount}
	for i, d := range days {
		k.CountByThreshold[d] = counts[i]
	}
	return k, nil
}
