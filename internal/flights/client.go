// Package flights fetches active flights from an aviationstack-compatible
// API.
package flights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/aviationstats/internal/apperr"
	"github.com/lox/aviationstats/internal/httputil"
	"github.com/lox/aviationstats/internal/metrics"
	"github.com/lox/aviationstats/internal/models"
)

const (
	DefaultBaseURL = "http://api.aviationstack.com/v1"
	DefaultTimeout = 15 * time.Second
	DefaultLimit   = 10

	sourceName = "live flight feed"
)

// ErrNoAPIKey is wrapped in the DataUnavailableError returned when the
// client has no access key configured.
var ErrNoAPIKey = errors.New("no flight API key configured")

type Config struct {
	BaseURL string
	APIKey  string
	Limit   int
	Timeout time.Duration
}

type Client struct {
	cfg    Config
	client *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{cfg: cfg, client: httputil.NewClient()}
}

type apiResponse struct {
	Data  []apiFlight `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type apiFlight struct {
	FlightDate   string `json:"flight_date"`
	FlightStatus string `json:"flight_status"`
	Departure    struct {
		Airport string `json:"airport"`
		IATA    string `json:"iata"`
	} `json:"departure"`
	Arrival struct {
		Airport string `json:"airport"`
		IATA    string `json:"iata"`
	} `json:"arrival"`
	Airline struct {
		Name string `json:"name"`
	} `json:"airline"`
	Flight struct {
		Number string `json:"number"`
		IATA   string `json:"iata"`
	} `json:"flight"`
	Aircraft *struct {
		Registration string `json:"registration"`
		IATA         string `json:"iata"`
	} `json:"aircraft"`
}

func (f apiFlight) toModel() models.Flight {
	out := models.Flight{
		FlightNumber: firstNonEmpty(f.Flight.IATA, f.Flight.Number),
		FlightDate:   f.FlightDate,
		Status:       f.FlightStatus,
		Airline:      f.Airline.Name,
		Departure:    firstNonEmpty(f.Departure.IATA, f.Departure.Airport),
		Arrival:      firstNonEmpty(f.Arrival.IATA, f.Arrival.Airport),
	}
	if f.Aircraft != nil {
		out.AircraftType = f.Aircraft.IATA
		out.Aircraft = f.Aircraft.Registration
	}
	return out
}

// retryableStatus is a response worth retrying with backoff.
type retryableStatus struct {
	code int
}

func (e retryableStatus) Error() string {
	return fmt.Sprintf("status %d", e.code)
}

// Fetch returns the currently active flights. Any failure is reported as
// a DataUnavailableError.
func (c *Client) Fetch(ctx context.Context) ([]models.Flight, error) {
	if c.cfg.APIKey == "" {
		return nil, apperr.Unavailable(sourceName, false, ErrNoAPIKey)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	q := url.Values{}
	q.Set("access_key", c.cfg.APIKey)
	q.Set("flight_status", "active")
	q.Set("limit", strconv.Itoa(c.cfg.Limit))
	endpoint := c.cfg.BaseURL + "/flights?" + q.Encode()

	var (
		body      []byte
		permanent bool
	)
	stop := func(err error) error {
		permanent = true
		return backoff.Permanent(err)
	}
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return stop(err)
		}
		start := time.Now()
		resp, err := c.client.Do(req)
		metrics.FlightAPILatency.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.FlightAPICallsTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("fetch flights: %w", err)
		}
		defer resp.Body.Close()
		metrics.FlightAPICallsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return retryableStatus{code: resp.StatusCode}
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return stop(fmt.Errorf("fetch flights: status %d: %s", resp.StatusCode, string(b)))
		}
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxElapsedTime = c.cfg.Timeout
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		// Anything not marked permanent was transient when it gave up.
		retryable := !permanent && !errors.Is(err, context.Canceled)
		return nil, apperr.Unavailable(sourceName, retryable, err)
	}

	var data apiResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, apperr.Unavailable(sourceName, false, fmt.Errorf("unmarshal: %w", err))
	}
	if data.Error != nil {
		return nil, apperr.Unavailable(sourceName, false, fmt.Errorf("%s: %s", data.Error.Code, data.Error.Message))
	}

	flights := make([]models.Flight, 0, len(data.Data))
	for _, f := range data.Data {
		flights = append(flights, f.toModel())
	}
	return flights, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
