package pickup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BearBump/PickupControl/internal/integrations/carrier"
	"github.com/BearBump/PickupControl/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	// ListAtPoint returns at-point shipments, longest waiting first.
	ListAtPoint(ctx context.Context, limit int) ([]*models.Shipment, error)
	GetShipment(ctx context.Context, ttn string) (*models.Shipment, error)
	GetShipmentByOrder(ctx context.Context, orderID string) (*models.Shipment, error)
	SaveScan(ctx context.Context, upd models.ScanUpdate) error
}

// Sink persists a notification for later delivery. Enqueue of an existing dedupe key
// is a no-op that reports created=false.
type Sink interface {
	Enqueue(ctx context.Context, n models.Notification) (bool, error)
}

type RateLimiter interface {
	AllowFetch(ctx context.Context, carrierCode string, at time.Time, limit int64) (bool, int64, error)
}

const (
	DefaultBatchLimit  = 300
	defaultConcurrency = 10
	defaultCooldown    = 24 * time.Hour
)

type Engine struct {
	repo       Repository
	ledger     *Ledger
	classifier *Classifier
	sink       Sink
	// status может быть nil: тогда работаем по сохранённому состоянию.
	status carrier.Client

	rl                 RateLimiter
	rateLimitPerMinute int64

	concurrency int
	cooldown    time.Duration
	now         func() time.Time
}

func NewEngine(repo Repository, ledger *Ledger, classifier *Classifier, sink Sink, status carrier.Client) *Engine {
	if classifier == nil {
		classifier = NewClassifier(DefaultThresholds())
	}
	return &Engine{
		repo:        repo,
		ledger:      ledger,
		classifier:  classifier,
		sink:        sink,
		status:      status,
		concurrency: defaultConcurrency,
		cooldown:    defaultCooldown,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) WithSettings(concurrency int, cooldown time.Duration) *Engine {
	if concurrency > 0 {
		e.concurrency = concurrency
	}
	if cooldown > 0 {
		e.cooldown = cooldown
	}
	return e
}

// WithRateLimiter caps status fetches per carrier per minute.
func (e *Engine) WithRateLimiter(rl RateLimiter, perMinute int64) *Engine {
	e.rl = rl
	e.rateLimitPerMinute = perMinute
	return e
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

func (e *Engine) Classifier() *Classifier {
	return e.classifier
}

// RunOnce reconciles up to limit at-point shipments. Failures of single candidates end up
// in RunResult.Errors; only a failure to load the batch is returned as error.
func (e *Engine) RunOnce(ctx context.Context, limit int) (*models.RunResult, error) {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}

	items, err := e.repo.ListAtPoint(ctx, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list at-point shipments")
	}

	outcomes := make([]models.ProcessOutcome, len(items))
	attempted := make([]bool, len(items))

	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup
	for i, sh := range items {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		attempted[i] = true
		wg.Add(1)
		go func(i int, sh *models.Shipment) {
			defer func() {
				<-sem
				wg.Done()
			}()
			outcomes[i] = e.processOne(ctx, sh)
		}(i, sh)
	}
	wg.Wait()

	res := &models.RunResult{Errors: []models.RunError{}}
	for i := range outcomes {
		if !attempted[i] {
			continue
		}
		o := outcomes[i]
		res.Processed++
		if o.Sent {
			res.Sent++
		}
		if o.Risk >= models.RiskD7 {
			res.HighRiskCount++
		}
		res.Errors = append(res.Errors, o.Errors...)
	}

	slog.Info("pickup run finished",
		"candidates", len(items),
		"processed", res.Processed,
		"sent", res.Sent,
		"high_risk", res.HighRiskCount,
		"errors", len(res.Errors),
	)
	return res, ctx.Err()
}

// ProcessTrackingNumber runs the per-candidate logic for one shipment.
func (e *Engine) ProcessTrackingNumber(ctx context.Context, ttn string) (*models.ProcessOutcome, error) {
	sh, err := e.repo.GetShipment(ctx, ttn)
	if err != nil {
		return nil, err
	}
	out := e.processOne(ctx, sh)
	return &out, nil
}

func (e *Engine) processOne(ctx context.Context, sh *models.Shipment) models.ProcessOutcome {
	now := e.now()
	out := models.ProcessOutcome{
		TrackingNumber: sh.TrackingNumber,
		OrderID:        sh.OrderID,
	}

	st := carrier.State{
		Status:          sh.Status,
		PickupPointType: sh.PickupPointType,
		ArrivalAt:       sh.ArrivalAt,
		DeadlineFreeAt:  sh.DeadlineFreeAt,
	}
	var lastError *string
	if res, fetched, err := e.refresh(ctx, sh, now); err != nil {
		out.AddError(models.ErrorKindStatusSource, err)
		msg := err.Error()
		lastError = &msg
		slog.Warn("status refresh failed, using stored state", "ttn", sh.TrackingNumber, "error", err.Error())
	} else if fetched {
		st = res.Over(st)
	}
	status, arrivalAt, deadlineAt, pointType := st.Status, st.ArrivalAt, st.DeadlineFreeAt, st.PickupPointType

	atPoint := status == models.ShipmentStatusAtPoint && arrivalAt != nil
	days, risk := 0, models.RiskNone
	if atPoint {
		days = DaysAtPoint(*arrivalAt, now)
		risk = e.classifier.Classify(days, deadlineAt, now)
	}
	out.Status, out.DaysAtPoint, out.Risk = status, days, risk

	if err := e.repo.SaveScan(ctx, models.ScanUpdate{
		TrackingNumber:  sh.TrackingNumber,
		Status:          status,
		PickupPointType: pointType,
		ArrivalAt:       arrivalAt,
		DeadlineFreeAt:  deadlineAt,
		DaysAtPoint:     days,
		Risk:            risk,
		CheckedAt:       now,
		LastError:       lastError,
	}); err != nil {
		out.AddError(models.ErrorKindStorage, errors.Wrap(err, "save scan"))
		return out
	}

	if _, err := e.ledger.SyncEpisode(ctx, sh.TrackingNumber, arrivalAt, atPoint); err != nil {
		out.AddError(models.ErrorKindLedger, errors.Wrap(err, "sync episode"))
		return out
	}

	if !atPoint {
		out.SkipReason = SkipNotAtPoint
		return out
	}
	if risk == models.RiskNone {
		out.SkipReason = SkipNoRisk
		return out
	}

	rsv, reason, err := e.ledger.Reserve(ctx, sh.TrackingNumber, risk, now)
	if err != nil {
		out.AddError(models.ErrorKindLedger, errors.Wrap(err, "reserve reminder"))
		return out
	}
	if reason != "" {
		out.SkipReason = reason
		return out
	}

	created, err := e.dispatch(ctx, sh, rsv, days, now)
	switch {
	case errors.Is(err, ErrNoContactInfo):
		out.AddError(models.ErrorKindNoContactInfo, err)
		return out
	case errors.Is(err, ErrSinkRejected):
		out.AddError(models.ErrorKindSinkRejected, err)
		return out
	case err != nil:
		out.AddError(models.ErrorKindLedger, err)
	}
	out.Level = risk
	out.Sent = created
	out.Duplicate = !created
	return out
}

// dispatch hands one reserved reminder to the sink and records it in the ledger.
// On any failure before the sink accepted the message the reservation is released.
func (e *Engine) dispatch(ctx context.Context, sh *models.Shipment, rsv Reservation, days int, now time.Time) (bool, error) {
	phone := sh.ContactPhone()
	if phone == "" {
		e.release(ctx, rsv)
		return false, errors.Wrapf(ErrNoContactInfo, "ttn %s", sh.TrackingNumber)
	}

	n := models.Notification{
		DedupeKey:      rsv.DedupeKey,
		Channel:        models.ChannelSMS,
		Recipient:      phone,
		Text:           SMSText(rsv.Level, sh.TrackingNumber, sh.OrderID, days),
		TrackingNumber: sh.TrackingNumber,
		OrderID:        sh.OrderID,
		Level:          rsv.Level,
		Manual:         rsv.Manual,
		CreatedAt:      now,
	}
	created, err := e.sink.Enqueue(ctx, n)
	if err != nil {
		e.release(ctx, rsv)
		return false, errors.Wrap(ErrSinkRejected, err.Error())
	}

	if err := e.ledger.RecordSent(ctx, sh.TrackingNumber, rsv.Level, now, e.cooldown); err != nil {
		// Сообщение уже в очереди; повтор отсечёт dedupe key.
		slog.Error("record sent", "ttn", sh.TrackingNumber, "level", rsv.Level.String(), "error", err.Error())
		return created, errors.Wrap(ErrRecordSent, err.Error())
	}
	if created {
		slog.Info("pickup reminder enqueued", "ttn", sh.TrackingNumber, "level", rsv.Level.String(), "dedupe_key", rsv.DedupeKey)
	}
	return created, nil
}

func (e *Engine) release(ctx context.Context, rsv Reservation) {
	if rsv.Manual {
		return
	}
	if err := e.ledger.Release(ctx, rsv.TrackingNumber, rsv.Level); err != nil {
		slog.Warn("release reservation", "ttn", rsv.TrackingNumber, "error", err.Error())
	}
}

// refresh asks the status source for fresh data. fetched=false means the stored state is used.
func (e *Engine) refresh(ctx context.Context, sh *models.Shipment, now time.Time) (carrier.TrackingResult, bool, error) {
	if e.status == nil {
		return carrier.TrackingResult{}, false, nil
	}

	if e.rl != nil && e.rateLimitPerMinute > 0 {
		allowed, n, err := e.rl.AllowFetch(ctx, sh.CarrierCode, now, e.rateLimitPerMinute)
		if err != nil {
			slog.Warn("rate limiter unavailable", "carrier", sh.CarrierCode, "error", err.Error())
		} else if !allowed {
			slog.Debug("status fetch throttled", "carrier", sh.CarrierCode, "count", n)
			return carrier.TrackingResult{}, false, nil
		}
	}

	res, err := e.status.GetTracking(ctx, sh.CarrierCode, sh.TrackingNumber)
	if err != nil {
		return carrier.TrackingResult{}, false, errors.Wrap(ErrStatusSourceUnavailable, err.Error())
	}
	return res, true, nil
}
