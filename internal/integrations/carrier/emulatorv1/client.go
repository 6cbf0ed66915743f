// Package emulatorv1 reads parcel state from the carrier emulator JSON API (/v1/tracking).
package emulatorv1

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/PickupControl/internal/integrations/carrier"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "http://localhost:9000"

// ErrThrottled is returned when the emulator answers 429.
var ErrThrottled = errors.New("carrier emulator throttled")

type Client struct {
	base    *url.URL
	baseErr error
	apiKey  string
	httpc   *http.Client
	limiter *rate.Limiter
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	base, err := url.Parse(baseURL)
	return &Client{
		base:    base,
		baseErr: err,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

// WithRateLimit throttles outgoing requests on this client. perMinute <= 0 disables it.
func (c *Client) WithRateLimit(perMinute int) *Client {
	if perMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
	return c
}

type trackingDoc struct {
	Status          string     `json:"status"`
	StatusRaw       string     `json:"status_raw"`
	StatusAt        *time.Time `json:"status_at"`
	ArrivalAt       *time.Time `json:"arrival_at"`
	StorageDeadline *time.Time `json:"storage_deadline"`
	PickupPointType string     `json:"pickup_point_type"`
}

func (d trackingDoc) result() carrier.TrackingResult {
	return carrier.TrackingResult{
		State: carrier.State{
			Status:          d.Status,
			PickupPointType: d.PickupPointType,
			ArrivalAt:       inUTC(d.ArrivalAt),
			DeadlineFreeAt:  inUTC(d.StorageDeadline),
		},
		StatusRaw: d.StatusRaw,
		StatusAt:  inUTC(d.StatusAt),
	}
}

func (c *Client) endpoint(carrierCode, trackNumber string) (string, error) {
	if c.baseErr != nil {
		return "", errors.Wrap(c.baseErr, "parse base url")
	}
	u := c.base.JoinPath("v1", "tracking", carrierCode, trackNumber)
	if c.apiKey != "" {
		q := u.Query()
		q.Set("apiKey", c.apiKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) GetTracking(ctx context.Context, carrierCode, trackNumber string) (carrier.TrackingResult, error) {
	var zero carrier.TrackingResult

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return zero, errors.Wrap(err, "rate limit wait")
		}
	}

	endpoint, err := c.endpoint(carrierCode, trackNumber)
	if err != nil {
		return zero, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return zero, errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return zero, errors.Wrapf(err, "get %s/%s", carrierCode, trackNumber)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return zero, ErrThrottled
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return zero, errors.Errorf("carrier emulator http %d", resp.StatusCode)
	}

	var doc trackingDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return zero, errors.Wrap(err, "decode tracking")
	}
	return doc.result(), nil
}

func inUTC(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
