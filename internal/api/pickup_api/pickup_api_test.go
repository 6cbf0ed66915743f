package pickup_api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BearBump/PickupControl/internal/models"
	"github.com/BearBump/PickupControl/internal/services/pickup"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testToken = "s3cret"

type engineMock struct{ mock.Mock }

func (m *engineMock) RunOnce(ctx context.Context, limit int) (*models.RunResult, error) {
	args := m.Called(ctx, limit)
	res, _ := args.Get(0).(*models.RunResult)
	return res, args.Error(1)
}

func (m *engineMock) ProcessTrackingNumber(ctx context.Context, ttn string) (*models.ProcessOutcome, error) {
	args := m.Called(ctx, ttn)
	out, _ := args.Get(0).(*models.ProcessOutcome)
	return out, args.Error(1)
}

func (m *engineMock) Mute(ctx context.Context, ttn string, days int) (int, error) {
	args := m.Called(ctx, ttn, days)
	return args.Int(0), args.Error(1)
}

func (m *engineMock) ForceSend(ctx context.Context, ttn string, level models.RiskLevel) (*pickup.ForceSendResult, error) {
	args := m.Called(ctx, ttn, level)
	res, _ := args.Get(0).(*pickup.ForceSendResult)
	return res, args.Error(1)
}

func (m *engineMock) OrderPickupStatus(ctx context.Context, orderID string) (*models.Shipment, error) {
	args := m.Called(ctx, orderID)
	sh, _ := args.Get(0).(*models.Shipment)
	return sh, args.Error(1)
}

type reportsMock struct{ mock.Mock }

func (m *reportsMock) ListAtRisk(ctx context.Context, minDays, limit int) ([]*models.Shipment, error) {
	args := m.Called(ctx, minDays, limit)
	items, _ := args.Get(0).([]*models.Shipment)
	return items, args.Error(1)
}

func (m *reportsMock) KPISummary(ctx context.Context) (models.KPISummary, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.KPISummary), args.Error(1)
}

func newTestServer(t *testing.T) (*httptest.Server, *engineMock, *reportsMock) {
	t.Helper()
	eng := &engineMock{}
	rep := &reportsMock{}
	srv := httptest.NewServer(New(eng, rep, Options{AdminToken: testToken}).Handler())
	t.Cleanup(func() {
		srv.Close()
		eng.AssertExpectations(t)
		rep.AssertExpectations(t)
	})
	return srv, eng, rep
}

func doRequest(t *testing.T, srv *httptest.Server, method, path, body string, auth bool) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestAdminAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	paths := []struct{ method, path string }{
		{http.MethodGet, "/risk"},
		{http.MethodGet, "/kpi"},
		{http.MethodPost, "/run"},
		{http.MethodPost, "/process/TTN1"},
		{http.MethodPost, "/mute/TTN1"},
		{http.MethodPost, "/send-reminder/TTN1"},
		{http.MethodGet, "/order/ORD1"},
	}
	for _, p := range paths {
		resp, body := doRequest(t, srv, p.method, BasePath+p.path, "", false)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, p.path)
		require.Equal(t, "UNAUTHORIZED", body["error"].(map[string]any)["code"])
	}

	req, err := http.NewRequest(http.MethodGet, srv.URL+BasePath+"/kpi", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminAuth_EmptyTokenRejectsAll(t *testing.T) {
	eng := &engineMock{}
	srv := httptest.NewServer(New(eng, &reportsMock{}, Options{}).Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+BasePath+"/run", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer ")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthz_NoAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, body := doRequest(t, srv, http.MethodGet, "/healthz", "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
}

func TestListAtRisk(t *testing.T) {
	srv, _, rep := newTestServer(t)
	arrival := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rep.On("ListAtRisk", mock.Anything, 5, 20).Return([]*models.Shipment{
		{TrackingNumber: "TTN1", OrderID: "ORD1", Status: models.ShipmentStatusAtPoint, ArrivalAt: &arrival, DaysAtPoint: 8, Risk: models.RiskD7, Amount: 1500},
	}, nil).Once()

	resp, body := doRequest(t, srv, http.MethodGet, BasePath+"/risk?days=5&limit=20", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, body["count"])
	require.EqualValues(t, 5, body["filter_days"])
	item := body["items"].([]any)[0].(map[string]any)
	require.Equal(t, "TTN1", item["ttn"])
	require.Equal(t, "D7", item["risk"])
	require.EqualValues(t, 8, item["days_at_point"])
}

func TestListAtRisk_Defaults(t *testing.T) {
	srv, _, rep := newTestServer(t)
	rep.On("ListAtRisk", mock.Anything, pickup.DefaultRiskDays, pickup.DefaultRiskLimit).Return([]*models.Shipment{}, nil).Once()

	resp, body := doRequest(t, srv, http.MethodGet, BasePath+"/risk", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 0, body["count"])
	require.Empty(t, body["items"])
	require.EqualValues(t, 7, body["filter_days"])
}

func TestListAtRisk_BadQuery(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, body := doRequest(t, srv, http.MethodGet, BasePath+"/risk?days=abc", "", true)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "BAD_REQUEST", body["error"].(map[string]any)["code"])
}

func TestKPI(t *testing.T) {
	srv, _, rep := newTestServer(t)
	rep.On("KPISummary", mock.Anything).Return(models.KPISummary{
		CountByThreshold: map[int]int64{2: 10, 5: 4, 7: 1},
		AmountAtRisk:     12345.5,
	}, nil).Once()

	resp, body := doRequest(t, srv, http.MethodGet, BasePath+"/kpi", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 10, body["at_point_2plus"])
	require.EqualValues(t, 4, body["at_point_5plus"])
	require.EqualValues(t, 1, body["at_point_7plus"])
	require.EqualValues(t, 12345.5, body["amount_at_risk"])
}

func TestRun(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	eng.On("RunOnce", mock.Anything, 50).Return(&models.RunResult{
		Processed:     10,
		Sent:          3,
		HighRiskCount: 2,
		Errors: []models.RunError{
			{TrackingNumber: "TTN9", Kind: models.ErrorKindStatusSource, Message: "timeout"},
		},
	}, nil).Once()

	resp, body := doRequest(t, srv, http.MethodPost, BasePath+"/run", `{"limit":50}`, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["ok"])
	require.EqualValues(t, 10, body["processed"])
	require.EqualValues(t, 3, body["sent"])
	require.EqualValues(t, 2, body["high_risk_count"])
	errs := body["errors"].([]any)
	require.Len(t, errs, 1)
	require.Equal(t, "TTN9", errs[0].(map[string]any)["ttn"])
	require.Equal(t, models.ErrorKindStatusSource, errs[0].(map[string]any)["kind"])
}

func TestRun_DefaultLimitAndEmptyErrors(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	eng.On("RunOnce", mock.Anything, pickup.DefaultBatchLimit).Return(&models.RunResult{}, nil).Once()

	resp, body := doRequest(t, srv, http.MethodPost, BasePath+"/run", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, body["errors"])
	require.Empty(t, body["errors"])
}

func TestRun_RepositoryFailure(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	eng.On("RunOnce", mock.Anything, pickup.DefaultBatchLimit).Return(nil, errors.New("db down")).Once()

	resp, body := doRequest(t, srv, http.MethodPost, BasePath+"/run", "{}", true)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "INTERNAL", body["error"].(map[string]any)["code"])
}

func TestRun_BadJSON(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, _ := doRequest(t, srv, http.MethodPost, BasePath+"/run", `{"limit":`, true)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProcess(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	eng.On("ProcessTrackingNumber", mock.Anything, "TTN1").Return(&models.ProcessOutcome{
		TrackingNumber: "TTN1",
		Status:         models.ShipmentStatusAtPoint,
		DaysAtPoint:    5,
		Risk:           models.RiskD5,
		Sent:           true,
		Level:          models.RiskD5,
	}, nil).Once()
	eng.On("ProcessTrackingNumber", mock.Anything, "NOPE").Return(nil, models.ErrNotFound).Once()

	resp, body := doRequest(t, srv, http.MethodPost, BasePath+"/process/TTN1", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["sent"])
	require.Equal(t, "D5", body["level"])
	require.Equal(t, "D5", body["risk"])

	resp, body = doRequest(t, srv, http.MethodPost, BasePath+"/process/NOPE", "", true)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "NOT_FOUND", body["error"].(map[string]any)["code"])
}

func TestMute(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	eng.On("Mute", mock.Anything, "TTN1", 3).Return(3, nil).Once()
	eng.On("Mute", mock.Anything, "TTN2", 0).Return(7, nil).Once()

	resp, body := doRequest(t, srv, http.MethodPost, BasePath+"/mute/TTN1", `{"days":3}`, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["ok"])
	require.Equal(t, "TTN1", body["ttn"])
	require.EqualValues(t, 3, body["muted_days"])

	resp, body = doRequest(t, srv, http.MethodPost, BasePath+"/mute/TTN2", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 7, body["muted_days"])
}

func TestSendReminder(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	eng.On("ForceSend", mock.Anything, "TTN1", models.RiskD5).Return(&pickup.ForceSendResult{
		TrackingNumber: "TTN1",
		Phone:          "+79990000000",
		Level:          models.RiskD5,
		Created:        true,
	}, nil).Once()
	eng.On("ForceSend", mock.Anything, "TTN1", models.RiskCritical).Return(&pickup.ForceSendResult{
		TrackingNumber: "TTN1",
		Phone:          "+79990000000",
		Level:          models.RiskCritical,
	}, nil).Once()

	resp, body := doRequest(t, srv, http.MethodPost, BasePath+"/send-reminder/TTN1", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["ok"])
	require.Equal(t, "+79990000000", body["phone"])
	require.Equal(t, "D5", body["level"])

	resp, body = doRequest(t, srv, http.MethodPost, BasePath+"/send-reminder/TTN1", `{"level":"critical"}`, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "CRITICAL", body["level"])
}

func TestSendReminder_Errors(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	eng.On("ForceSend", mock.Anything, "NOPHONE", models.RiskD5).
		Return(nil, errors.Wrap(pickup.ErrNoContactInfo, "ttn NOPHONE")).Once()
	eng.On("ForceSend", mock.Anything, "MISSING", models.RiskD5).Return(nil, models.ErrNotFound).Once()

	resp, body := doRequest(t, srv, http.MethodPost, BasePath+"/send-reminder/NOPHONE", "", true)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "NO_CONTACT_INFO", body["error"].(map[string]any)["code"])

	resp, _ = doRequest(t, srv, http.MethodPost, BasePath+"/send-reminder/MISSING", "", true)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doRequest(t, srv, http.MethodPost, BasePath+"/send-reminder/TTN1", `{"level":"D9"}`, true)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendReminder_SinkFailures(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	eng.On("ForceSend", mock.Anything, "REJECTED", models.RiskD5).
		Return(nil, errors.Wrap(pickup.ErrSinkRejected, "queue insert: conn refused")).Once()
	eng.On("ForceSend", mock.Anything, "UNRECORDED", models.RiskD5).
		Return(nil, errors.Wrap(pickup.ErrRecordSent, "swap reminder state: timeout")).Once()

	resp, body := doRequest(t, srv, http.MethodPost, BasePath+"/send-reminder/REJECTED", "", true)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.Equal(t, "SINK_REJECTED", body["error"].(map[string]any)["code"])

	resp, body = doRequest(t, srv, http.MethodPost, BasePath+"/send-reminder/UNRECORDED", "", true)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "RECORD_SENT_FAILED", body["error"].(map[string]any)["code"])
}

func TestOrderStatus(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	arrival := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sent := arrival.Add(48 * time.Hour)
	cooldown := sent.Add(24 * time.Hour)
	eng.On("OrderPickupStatus", mock.Anything, "ORD1").Return(&models.Shipment{
		TrackingNumber:  "TTN1",
		OrderID:         "ORD1",
		Status:          models.ShipmentStatusAtPoint,
		PickupPointType: models.PickupPointLocker,
		ArrivalAt:       &arrival,
		DaysAtPoint:     3,
		Risk:            models.RiskD2,
		Reminder: models.ReminderState{
			SentLevels:    []models.RiskLevel{models.RiskD2},
			LastSentAt:    &sent,
			CooldownUntil: &cooldown,
		},
	}, nil).Once()
	eng.On("OrderPickupStatus", mock.Anything, "NOPE").Return(nil, models.ErrNotFound).Once()

	resp, body := doRequest(t, srv, http.MethodGet, BasePath+"/order/ORD1", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ORD1", body["order_id"])
	require.Equal(t, "TTN1", body["ttn"])
	require.Equal(t, models.PickupPointLocker, body["pickup_point_type"])
	require.EqualValues(t, 3, body["days_at_point"])
	require.Equal(t, "D2", body["risk"])
	rem := body["reminders"].(map[string]any)
	require.Equal(t, []any{"D2"}, rem["sent_levels"])
	require.Equal(t, false, rem["muted"])
	require.NotNil(t, rem["cooldown_until"])

	resp, _ = doRequest(t, srv, http.MethodGet, BasePath+"/order/NOPE", "", true)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	srv := httptest.NewServer(New(&engineMock{}, &reportsMock{}, Options{
		AdminToken:     testToken,
		AllowedOrigins: []string{"https://admin.example.com"},
	}).Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodOptions, srv.URL+BasePath+"/kpi", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://admin.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "https://admin.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}
