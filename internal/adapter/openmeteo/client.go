package openmeteo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"

	"github.com/couchcryptid/forecast-collector/internal/domain"
	"github.com/couchcryptid/forecast-collector/internal/observability"
)

// DefaultBaseURL is the public Open-Meteo forecast endpoint.
const DefaultBaseURL = "https://api.open-meteo.com/v1/forecast"

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 8 << 20

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Client.
type Options struct {
	BaseURL      string
	Variables    []string
	ForecastDays int
	Timeout      time.Duration
	Policy       domain.RetryPolicy

	// BreakerFailureThreshold opens the circuit after that many consecutive
	// transport failures. 0 disables the breaker.
	BreakerFailureThreshold int
	BreakerOpenTimeout      time.Duration

	// Clock drives backoff waits. Defaults to the real clock.
	Clock clockwork.Clock
}

// Client fetches hourly forecasts from the Open-Meteo API, retrying
// transient failures according to its RetryPolicy.
type Client struct {
	httpClient   Doer
	baseURL      string
	variables    []string
	forecastDays int
	policy       domain.RetryPolicy
	breaker      *gobreaker.CircuitBreaker
	clock        clockwork.Clock
	logger       *slog.Logger
	metrics      *observability.Metrics
}

// NewClient creates an Open-Meteo forecast client.
func NewClient(opts Options, logger *slog.Logger, metrics *observability.Metrics) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: opts.Timeout},
		baseURL:      opts.BaseURL,
		variables:    opts.Variables,
		forecastDays: opts.ForecastDays,
		policy:       opts.Policy,
		clock:        opts.Clock,
		logger:       logger,
		metrics:      metrics,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.forecastDays <= 0 {
		c.forecastDays = 1
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if opts.BreakerFailureThreshold > 0 {
		c.breaker = newBreaker(opts.BreakerFailureThreshold, opts.BreakerOpenTimeout, logger)
	}
	return c
}

func newBreaker(threshold int, openTimeout time.Duration, logger *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openmeteo",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold) //nolint:gosec // threshold validated > 0
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// Fetch retrieves the hourly forecast for one location.
//
// Transient failures (timeouts, network errors, non-2xx responses) are
// retried with capped linear backoff. A bounded policy returns a
// *domain.FetchError wrapping domain.ErrRetriesExhausted once its attempts
// are used up. A malformed response returns domain.ErrResponseSchema without
// retrying. Context cancellation aborts immediately.
func (c *Client) Fetch(ctx context.Context, loc domain.Location) (domain.Frame, error) {
	for attempt := 1; ; attempt++ {
		c.logger.Debug("fetch attempt", "city", loc.Name, "attempt", attempt)

		frame, err := c.attempt(ctx, loc)
		if ctx.Err() != nil {
			return domain.Frame{}, ctx.Err()
		}
		c.metrics.FetchAttempts.WithLabelValues(domain.FailureKind(err)).Inc()

		decision := c.policy.Decide(attempt, err)
		switch decision.Next {
		case domain.Succeeded:
			return frame, nil
		case domain.Failed:
			if domain.IsRetryable(err) {
				err = fmt.Errorf("%w: %w", domain.ErrRetriesExhausted, err)
			}
			return domain.Frame{}, &domain.FetchError{Location: loc, Attempts: attempt, Err: err}
		}

		c.logger.Warn("fetch attempt failed",
			"city", loc.Name,
			"attempt", attempt,
			"kind", domain.FailureKind(err),
			"error", err,
		)
		c.logger.Info("retrying after backoff", "city", loc.Name, "attempt", attempt, "wait", decision.Wait)
		c.metrics.BackoffWaits.Inc()
		c.metrics.BackoffDuration.Observe(decision.Wait.Seconds())

		if !domain.Sleep(ctx, c.clock, decision.Wait) {
			return domain.Frame{}, ctx.Err()
		}
	}
}

// attempt performs one request and parses its body.
func (c *Client) attempt(ctx context.Context, loc domain.Location) (domain.Frame, error) {
	body, err := c.execute(ctx, loc)
	if err != nil {
		return domain.Frame{}, err
	}
	return parseFrame(body, loc, c.variables)
}

// execute sends the request, through the circuit breaker when configured.
func (c *Client) execute(ctx context.Context, loc domain.Location) ([]byte, error) {
	if c.breaker == nil {
		return c.doRequest(ctx, loc)
	}
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doRequest(ctx, loc)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: circuit open: %w", domain.ErrTransport, err)
	}
	if err != nil {
		return nil, err
	}
	body, ok := result.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected breaker result %T", domain.ErrTransport, result)
	}
	return body, nil
}

func (c *Client) doRequest(ctx context.Context, loc domain.Location) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(loc), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classifyTransportError(fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: open-meteo API status %d: %s", domain.ErrTransport, resp.StatusCode, errorReason(body))
	}
	return body, nil
}

func (c *Client) requestURL(loc domain.Location) string {
	lat, lon := loc.Coordinates()
	params := url.Values{
		"latitude":      {lat},
		"longitude":     {lon},
		"hourly":        {strings.Join(c.variables, ",")},
		"forecast_days": {strconv.Itoa(c.forecastDays)},
	}
	return c.baseURL + "?" + params.Encode()
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrTransport, err)
}

// errorReason extracts the "reason" field of an Open-Meteo error body,
// falling back to the raw (truncated) body.
func errorReason(body []byte) string {
	var e apiError
	if json.Unmarshal(body, &e) == nil && e.Reason != "" {
		return e.Reason
	}
	const limit = 256
	if len(body) > limit {
		body = body[:limit]
	}
	return string(body)
}

// parseFrame converts a forecast response body into a frame holding the
// requested variables in request order.
func parseFrame(body []byte, loc domain.Location, variables []string) (domain.Frame, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Frame{}, fmt.Errorf("%w: decode response: %w", domain.ErrResponseSchema, err)
	}
	if resp.Hourly == nil {
		return domain.Frame{}, fmt.Errorf("%w: missing hourly object", domain.ErrResponseSchema)
	}

	rawTimes, ok := resp.Hourly[domain.ColumnTime]
	if !ok {
		return domain.Frame{}, fmt.Errorf("%w: missing hourly.time", domain.ErrResponseSchema)
	}
	var times []string
	if err := json.Unmarshal(rawTimes, &times); err != nil {
		return domain.Frame{}, fmt.Errorf("%w: hourly.time: %w", domain.ErrResponseSchema, err)
	}

	rows := make([]domain.Row, len(times))
	for i, s := range times {
		ts, err := time.Parse(domain.TimeLayout, s)
		if err != nil {
			return domain.Frame{}, fmt.Errorf("%w: hourly.time[%d]: %w", domain.ErrResponseSchema, i, err)
		}
		rows[i] = domain.Row{Time: ts, Values: make([]float64, len(variables))}
	}

	for j, name := range variables {
		raw, ok := resp.Hourly[name]
		if !ok {
			return domain.Frame{}, fmt.Errorf("%w: missing hourly.%s", domain.ErrResponseSchema, name)
		}
		var series []*float64
		if err := json.Unmarshal(raw, &series); err != nil {
			return domain.Frame{}, fmt.Errorf("%w: hourly.%s: %w", domain.ErrResponseSchema, name, err)
		}
		if len(series) != len(times) {
			return domain.Frame{}, fmt.Errorf("%w: hourly.%s has %d values, hourly.time has %d",
				domain.ErrResponseSchema, name, len(series), len(times))
		}
		for i, v := range series {
			if v == nil {
				rows[i].Values[j] = math.NaN()
				continue
			}
			rows[i].Values[j] = *v
		}
	}

	return domain.Frame{Location: loc, Variables: variables, Rows: rows}, nil
}

// Open-Meteo API response types.

type response struct {
	Latitude  float64                    `json:"latitude"`
	Longitude float64                    `json:"longitude"`
	Hourly    map[string]json.RawMessage `json:"hourly"`
}

type apiError struct {
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}
