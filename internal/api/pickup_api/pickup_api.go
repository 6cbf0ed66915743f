package pickup_api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/BearBump/PickupControl/internal/models"
	"github.com/BearBump/PickupControl/internal/services/pickup"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/rs/cors"
)

const BasePath = "/api/v2/admin/pickup-control"

type Engine interface {
	RunOnce(ctx context.Context, limit int) (*models.RunResult, error)
	ProcessTrackingNumber(ctx context.Context, ttn string) (*models.ProcessOutcome, error)
	Mute(ctx context.Context, ttn string, days int) (int, error)
	ForceSend(ctx context.Context, ttn string, level models.RiskLevel) (*pickup.ForceSendResult, error)
	OrderPickupStatus(ctx context.Context, orderID string) (*models.Shipment, error)
}

type Reports interface {
	ListAtRisk(ctx context.Context, minDays, limit int) ([]*models.Shipment, error)
	KPISummary(ctx context.Context) (models.KPISummary, error)
}

type Options struct {
	AdminToken     string
	AllowedOrigins []string
}

type API struct {
	engine  Engine
	reports Reports
	opts    Options
}

func New(engine Engine, reports Reports, opts Options) *API {
	return &API{engine: engine, reports: reports, opts: opts}
}

// Handler собирает роутер админки. /healthz доступен без токена.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route(BasePath, func(r chi.Router) {
		r.Use(adminAuth(a.opts.AdminToken))
		r.Get("/risk", a.listAtRisk)
		r.Get("/kpi", a.kpi)
		r.Post("/run", a.run)
		r.Post("/process/{ttn}", a.process)
		r.Post("/mute/{ttn}", a.mute)
		r.Post("/send-reminder/{ttn}", a.sendReminder)
		r.Get("/order/{orderId}", a.order)
	})

	if len(a.opts.AllowedOrigins) == 0 {
		return r
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   a.opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	return c.Handler(r)
}

func (a *API) listAtRisk(w http.ResponseWriter, r *http.Request) {
	days, err := intQuery(r, "days", pickup.DefaultRiskDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	limit, err := intQuery(r, "limit", pickup.DefaultRiskLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	items, err := a.reports.ListAtRisk(r.Context(), days, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	resp := riskListResponse{Items: make([]shipmentDTO, 0, len(items)), FilterDays: days}
	for _, sh := range items {
		resp.Items = append(resp.Items, toShipmentDTO(sh))
	}
	resp.Count = len(resp.Items)
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) kpi(w http.ResponseWriter, r *http.Request) {
	sum, err := a.reports.KPISummary(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, kpiResponse{
		AtPoint2Plus: sum.CountByThreshold[2],
		AtPoint5Plus: sum.CountByThreshold[5],
		AtPoint7Plus: sum.CountByThreshold[7],
		AmountAtRisk: sum.AmountAtRisk,
	})
}

func (a *API) run(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if req.Limit <= 0 {
		req.Limit = pickup.DefaultBatchLimit
	}

	res, err := a.engine.RunOnce(r.Context(), req.Limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runResponse{
		OK:            true,
		Processed:     res.Processed,
		Sent:          res.Sent,
		HighRiskCount: res.HighRiskCount,
		Errors:        nonNilErrors(res.Errors),
	})
}

func (a *API) process(w http.ResponseWriter, r *http.Request) {
	ttn := chi.URLParam(r, "ttn")
	out, err := a.engine.ProcessTrackingNumber(r.Context(), ttn)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	resp := processResponse{
		OK:          true,
		TTN:         out.TrackingNumber,
		Status:      out.Status,
		DaysAtPoint: out.DaysAtPoint,
		Risk:        out.Risk.String(),
		Sent:        out.Sent,
		SkipReason:  out.SkipReason,
		Errors:      nonNilErrors(out.Errors),
	}
	if out.Level != models.RiskNone {
		resp.Level = out.Level.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) mute(w http.ResponseWriter, r *http.Request) {
	ttn := chi.URLParam(r, "ttn")
	var req muteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	days, err := a.engine.Mute(r.Context(), ttn, req.Days)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, muteResponse{OK: true, TTN: ttn, MutedDays: days})
}

func (a *API) sendReminder(w http.ResponseWriter, r *http.Request) {
	ttn := chi.URLParam(r, "ttn")
	req := sendRequest{Level: models.RiskD5.String()}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if strings.TrimSpace(req.Level) == "" {
		req.Level = models.RiskD5.String()
	}
	level, err := models.ParseRiskLevel(req.Level)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	res, err := a.engine.ForceSend(r.Context(), ttn, level)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{
		OK:    true,
		TTN:   res.TrackingNumber,
		Phone: res.Phone,
		Level: res.Level.String(),
	})
}

func (a *API) order(w http.ResponseWriter, r *http.Request) {
	sh, err := a.engine.OrderPickupStatus(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderStatusDTO(sh))
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, pickup.ErrNoContactInfo):
		writeError(w, http.StatusBadRequest, "NO_CONTACT_INFO", "No phone")
	case errors.Is(err, pickup.ErrInvalidLevel):
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
	case errors.Is(err, pickup.ErrSinkRejected):
		slog.Warn("notification sink rejected reminder", "path", r.URL.Path, "error", err.Error())
		writeError(w, http.StatusBadGateway, "SINK_REJECTED", "Notification was not queued")
	case errors.Is(err, pickup.ErrRecordSent):
		slog.Error("reminder queued without ledger record", "path", r.URL.Path, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "RECORD_SENT_FAILED", "Notification queued, reminder state not updated")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "CANCELED", err.Error())
	default:
		slog.Error("admin request failed",
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err.Error(),
		)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Errorf("%s must be an integer", name)
	}
	return v, nil
}

// decodeBody допускает пустое тело: тогда остаются значения по умолчанию.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return errors.Wrap(err, "invalid json body")
}
