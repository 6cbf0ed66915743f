package track24http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/PickupControl/internal/integrations/carrier"
	"github.com/BearBump/PickupControl/internal/models"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const defaultFreeStorageDays = 7

type Client struct {
	baseURL         string
	apiKey          string
	domain          string
	freeStorageDays int
	httpc           *http.Client
	limiter         *rate.Limiter
}

func New(baseURL, apiKey, domain string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9000"
	}
	return &Client{
		baseURL:         baseURL,
		apiKey:          apiKey,
		domain:          domain,
		freeStorageDays: defaultFreeStorageDays,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WithFreeStorageDays sets how long a parcel is stored for free after arrival.
func (c *Client) WithFreeStorageDays(days int) *Client {
	if days > 0 {
		c.freeStorageDays = days
	}
	return c
}

func (c *Client) WithRateLimit(perMinute int) *Client {
	if perMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1)
	}
	return c
}

type track24Event struct {
	OperationDateTime        string `json:"operationDateTime"`
	OperationAttribute       string `json:"operationAttribute"`
	OperationType            string `json:"operationType"`
	OperationPlaceName       string `json:"operationPlaceName"`
	OperationPlacePostalCode string `json:"operationPlacePostalCode"`
	Source                   string `json:"source"`
}

type track24Resp struct {
	Status string `json:"status"`
	Data   struct {
		Events []track24Event `json:"events"`
	} `json:"data"`
}

func (c *Client) GetTracking(ctx context.Context, carrierCode, trackNumber string) (carrier.TrackingResult, error) {
	_ = carrierCode // в Track24 запросе carrier обычно автоопределяется

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return carrier.TrackingResult{}, errors.Wrap(err, "rate limit wait")
		}
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return carrier.TrackingResult{}, errors.Wrap(err, "parse base url")
	}
	u.Path = "/tracking.json.php"

	q := u.Query()
	q.Set("apiKey", c.apiKey)
	q.Set("domain", c.domain)
	q.Set("code", trackNumber)
	q.Set("pretty", "true")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return carrier.TrackingResult{}, errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return carrier.TrackingResult{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return carrier.TrackingResult{}, errors.Errorf("track24 http %d", resp.StatusCode)
	}

	var r track24Resp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return carrier.TrackingResult{}, errors.Wrap(err, "decode")
	}
	if r.Status != "ok" {
		return carrier.TrackingResult{}, errors.Errorf("track24 status=%s", r.Status)
	}

	return c.normalize(r.Data.Events, time.Now().UTC()), nil
}

// normalize сводит ленту событий к статусу по последней операции.
// Время прибытия берём из последнего события "прибыло в пункт".
func (c *Client) normalize(events []track24Event, now time.Time) carrier.TrackingResult {
	res := carrier.TrackingResult{StatusAt: &now}
	res.Status = models.ShipmentStatusInTransit
	if len(events) == 0 {
		return res
	}

	var arrivedAt *time.Time
	for _, e := range events {
		if classifyOperation(e.OperationAttribute) == models.ShipmentStatusAtPoint {
			t := parseEventTime(e.OperationDateTime, now)
			arrivedAt = &t
		}
	}

	last := events[len(events)-1]
	lastAt := parseEventTime(last.OperationDateTime, now)
	res.StatusRaw = last.OperationAttribute
	res.StatusAt = &lastAt
	res.Status = classifyOperation(last.OperationAttribute)

	if res.Status == models.ShipmentStatusAtPoint && arrivedAt != nil {
		deadline := arrivedAt.Add(time.Duration(c.freeStorageDays) * 24 * time.Hour)
		res.ArrivalAt = arrivedAt
		res.DeadlineFreeAt = &deadline
		res.PickupPointType = models.PickupPointBranch
		if containsAny(strings.ToLower(last.OperationPlaceName), "почтомат", "postomat", "locker") {
			res.PickupPointType = models.PickupPointLocker
		}
	}
	return res
}

func classifyOperation(s string) string {
	low := strings.ToLower(s)
	switch {
	case containsAny(low, "возврат", "return"):
		return models.ShipmentStatusReturned
	case containsAny(low, "прибыл", "готов к выдаче", "arrived", "ready for pickup"):
		return models.ShipmentStatusAtPoint
	case containsAny(low, "вруч", "получен", "delivered", "picked up"):
		return models.ShipmentStatusPickedUp
	}
	return models.ShipmentStatusInTransit
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Track24 пример: "02.07.2014 19:16:00"
func parseEventTime(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}
	t, err := time.ParseInLocation("02.01.2006 15:04:05", s, time.UTC)
	if err != nil {
		return fallback
	}
	return t.UTC()
}
