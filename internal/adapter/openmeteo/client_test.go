package openmeteo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/forecast-collector/internal/domain"
	"github.com/couchcryptid/forecast-collector/internal/observability"
	"github.com/couchcryptid/forecast-collector/internal/testutil"
)

const (
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
)

var (
	testVariables = []string{"temperature_2m", "relative_humidity_2m", "wind_speed_10m"}
	austin        = domain.Location{Name: "Austin", Latitude: 30.2672, Longitude: -97.7431}
	testStart     = time.Date(2024, time.April, 26, 0, 0, 0, 0, time.UTC)
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(baseURL string, policy domain.RetryPolicy, clk clockwork.Clock) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: 5 * time.Second},
		baseURL:      baseURL,
		variables:    testVariables,
		forecastDays: 1,
		policy:       policy,
		clock:        clk,
		logger:       discardLogger(),
		metrics:      observability.NewMetricsForTesting(),
	}
}

func boundedPolicy(attempts int) domain.RetryPolicy {
	p := domain.DefaultRetryPolicy()
	p.MaxAttempts = attempts
	return p
}

// forecastBody renders an Open-Meteo style response with n hourly points.
func forecastBody(n int) string {
	times := make([]string, n)
	temps := make([]string, n)
	hums := make([]string, n)
	winds := make([]string, n)
	for i := range n {
		times[i] = fmt.Sprintf("%q", testStart.Add(time.Duration(i)*time.Hour).Format(domain.TimeLayout))
		temps[i] = fmt.Sprintf("%.1f", 10+float64(i)/2)
		hums[i] = fmt.Sprintf("%d", 40+i)
		winds[i] = fmt.Sprintf("%.1f", 3.5)
	}
	if n > 0 {
		winds[n-1] = "null"
	}
	return fmt.Sprintf(`{"latitude":30.27,"longitude":-97.74,"hourly_units":{"time":"iso8601"},`+
		`"hourly":{"time":[%s],"temperature_2m":[%s],"relative_humidity_2m":[%s],"wind_speed_10m":[%s]}}`,
		strings.Join(times, ","), strings.Join(temps, ","), strings.Join(hums, ","), strings.Join(winds, ","))
}

func writeForecast(w http.ResponseWriter, n int) {
	w.Header().Set(headerContentType, contentTypeJSON)
	_, _ = io.WriteString(w, forecastBody(n))
}

// timeoutErr mimics the error http.Client returns when its Timeout elapses.
type timeoutErr struct{}

func (timeoutErr) Error() string { return "Client.Timeout exceeded while awaiting headers" }
func (timeoutErr) Timeout() bool { return true }
func (timeoutErr) Temporary() bool { return true }

// scriptedDoer fails the first len(failures) calls with the given errors,
// then delegates to next.
type scriptedDoer struct {
	failures []error
	next     Doer
	calls    int
}

func (d *scriptedDoer) Do(req *http.Request) (*http.Response, error) {
	d.calls++
	if d.calls <= len(d.failures) {
		return nil, &url.Error{Op: "Get", URL: req.URL.String(), Err: d.failures[d.calls-1]}
	}
	return d.next.Do(req)
}

func TestClient_Fetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "30.2672", q.Get("latitude"))
		assert.Equal(t, "-97.7431", q.Get("longitude"))
		assert.Equal(t, "temperature_2m,relative_humidity_2m,wind_speed_10m", q.Get("hourly"))
		assert.Equal(t, "1", q.Get("forecast_days"))
		writeForecast(w, 24)
	}))
	defer srv.Close()

	clk := testutil.NewRecordingClock(testStart)
	c := testClient(srv.URL, boundedPolicy(3), clk)

	frame, err := c.Fetch(context.Background(), austin)
	require.NoError(t, err)

	assert.Equal(t, austin, frame.Location)
	assert.Equal(t, testVariables, frame.Variables)
	require.Len(t, frame.Rows, 24)
	assert.Equal(t, testStart, frame.Rows[0].Time)
	assert.Equal(t, testStart.Add(23*time.Hour), frame.Rows[23].Time)
	assert.Equal(t, []float64{10, 40, 3.5}, frame.Rows[0].Values)
	assert.True(t, math.IsNaN(frame.Rows[23].Values[2]), "null becomes NaN")
	assert.Empty(t, clk.Waits())
}

func TestClient_Fetch_TimeoutsThenSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeForecast(w, 24)
	}))
	defer srv.Close()

	clk := testutil.NewRecordingClock(testStart)
	c := testClient(srv.URL, boundedPolicy(5), clk)
	doer := &scriptedDoer{failures: []error{timeoutErr{}, timeoutErr{}}, next: c.httpClient}
	c.httpClient = doer

	frame, err := c.Fetch(context.Background(), austin)
	require.NoError(t, err)
	assert.Len(t, frame.Rows, 24)
	assert.Equal(t, 3, doer.calls)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, clk.Waits())
}

func TestClient_Fetch_UnboundedBackoffSequence(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) <= 15 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeForecast(w, 24)
	}))
	defer srv.Close()

	clk := testutil.NewRecordingClock(testStart)
	c := testClient(srv.URL, boundedPolicy(domain.Unbounded), clk)

	_, err := c.Fetch(context.Background(), austin)
	require.NoError(t, err)

	waits := clk.Waits()
	require.Len(t, waits, 15)
	for i, w := range waits {
		k := time.Duration(i + 1)
		assert.Equal(t, min(5*time.Second*k, 60*time.Second), w, "wait %d", i+1)
	}
}

func TestClient_Fetch_BoundedGivesUp(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	clk := testutil.NewRecordingClock(testStart)
	c := testClient(srv.URL, boundedPolicy(3), clk)

	_, err := c.Fetch(context.Background(), austin)
	require.Error(t, err)

	var fetchErr *domain.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, 3, fetchErr.Attempts)
	assert.Equal(t, austin, fetchErr.Location)
	assert.ErrorIs(t, err, domain.ErrRetriesExhausted)
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.Contains(t, err.Error(), "502")
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, clk.Waits())
}

func TestClient_Fetch_APIErrorReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":true,"reason":"Cannot initialize WeatherVariable from invalid String value temp"}`)
	}))
	defer srv.Close()

	c := testClient(srv.URL, boundedPolicy(1), testutil.NewRecordingClock(testStart))

	_, err := c.Fetch(context.Background(), austin)
	require.ErrorIs(t, err, domain.ErrTransport)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "invalid String value temp")
}

func TestClient_Fetch_SchemaErrorsAreNotRetried(t *testing.T) {
	bodies := map[string]string{
		"not json":         `<html>maintenance</html>`,
		"missing hourly":   `{"latitude":30.27}`,
		"missing time":     `{"hourly":{"temperature_2m":[1],"relative_humidity_2m":[1],"wind_speed_10m":[1]}}`,
		"missing variable": `{"hourly":{"time":["2024-04-26T00:00"],"temperature_2m":[1],"relative_humidity_2m":[1]}}`,
		"length mismatch":  `{"hourly":{"time":["2024-04-26T00:00","2024-04-26T01:00"],"temperature_2m":[1,2],"relative_humidity_2m":[1],"wind_speed_10m":[1,2]}}`,
		"bad time":         `{"hourly":{"time":["yesterday"],"temperature_2m":[1],"relative_humidity_2m":[1],"wind_speed_10m":[1]}}`,
		"non-numeric":      `{"hourly":{"time":["2024-04-26T00:00"],"temperature_2m":["warm"],"relative_humidity_2m":[1],"wind_speed_10m":[1]}}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				hits.Add(1)
				_, _ = io.WriteString(w, body)
			}))
			defer srv.Close()

			clk := testutil.NewRecordingClock(testStart)
			c := testClient(srv.URL, boundedPolicy(domain.Unbounded), clk)

			_, err := c.Fetch(context.Background(), austin)
			require.ErrorIs(t, err, domain.ErrResponseSchema)
			assert.False(t, domain.IsRetryable(err))
			assert.Equal(t, int32(1), hits.Load())
			assert.Empty(t, clk.Waits())
		})
	}
}

func TestClient_Fetch_ZeroRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeForecast(w, 0)
	}))
	defer srv.Close()

	c := testClient(srv.URL, boundedPolicy(1), testutil.NewRecordingClock(testStart))
	frame, err := c.Fetch(context.Background(), austin)
	require.NoError(t, err)
	assert.Empty(t, frame.Rows)
}

func TestClient_Fetch_Timeout(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			time.Sleep(200 * time.Millisecond)
		}
		writeForecast(w, 1)
	}))
	defer srv.Close()

	clk := testutil.NewRecordingClock(testStart)
	c := testClient(srv.URL, boundedPolicy(1), clk)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}

	frame, err := c.Fetch(context.Background(), austin)
	require.NoError(t, err, "a timeout is retried even when the attempt cap is reached")
	assert.Len(t, frame.Rows, 1)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, []time.Duration{5 * time.Second}, clk.Waits())
}

func TestClient_Fetch_TimeoutsIgnoreAttemptCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeForecast(w, 24)
	}))
	defer srv.Close()

	failures := make([]error, 14)
	for i := range failures {
		failures[i] = timeoutErr{}
	}

	clk := testutil.NewRecordingClock(testStart)
	c := testClient(srv.URL, domain.DefaultRetryPolicy(), clk)
	doer := &scriptedDoer{failures: failures, next: c.httpClient}
	c.httpClient = doer

	frame, err := c.Fetch(context.Background(), austin)
	require.NoError(t, err)
	assert.Len(t, frame.Rows, 24)
	assert.Equal(t, 15, doer.calls)

	want := make([]time.Duration, 0, len(failures))
	for k := 1; k <= len(failures); k++ {
		want = append(want, min(time.Duration(k)*5*time.Second, 60*time.Second))
	}
	assert.Equal(t, want, clk.Waits())
	assert.Equal(t, 60*time.Second, want[len(want)-1])
}

func TestClient_Fetch_BoundedCapCountsTimeoutAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	clk := testutil.NewRecordingClock(testStart)
	c := testClient(srv.URL, boundedPolicy(3), clk)
	doer := &scriptedDoer{failures: []error{timeoutErr{}, timeoutErr{}, timeoutErr{}}, next: c.httpClient}
	c.httpClient = doer

	_, err := c.Fetch(context.Background(), austin)
	require.ErrorIs(t, err, domain.ErrRetriesExhausted)
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.Equal(t, 4, doer.calls, "three timeouts, then the first transport failure exceeds the cap")
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second}, clk.Waits())
}

func TestClient_Fetch_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeForecast(w, 1)
	}))
	defer srv.Close()

	clk := testutil.NewRecordingClock(testStart)
	c := testClient(srv.URL, boundedPolicy(domain.Unbounded), clk)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Fetch(ctx, austin)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, clk.Waits())
}

func TestClient_Fetch_CancelDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	fake := clockwork.NewFakeClockAt(testStart)
	c := testClient(srv.URL, boundedPolicy(domain.Unbounded), fake)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Fetch(ctx, austin)
		errCh <- err
	}()

	// Wait until the client is suspended in its first backoff, then abort.
	blockCtx, blockCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer blockCancel()
	require.NoError(t, fake.BlockUntilContext(blockCtx, 1))
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("fetch did not return after cancellation")
	}
}

func TestClient_Fetch_CircuitBreakerShortCircuits(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient(srv.URL, boundedPolicy(4), testutil.NewRecordingClock(testStart))
	c.breaker = newBreaker(2, time.Hour, discardLogger())

	_, err := c.Fetch(context.Background(), austin)
	require.ErrorIs(t, err, domain.ErrTransport)
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, int32(2), hits.Load(), "attempts after the breaker opens never reach the server")
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Options{Variables: testVariables, Policy: domain.DefaultRetryPolicy()}, discardLogger(), observability.NewMetricsForTesting())
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Equal(t, 1, c.forecastDays)
	assert.NotNil(t, c.clock)
	assert.Nil(t, c.breaker)

	c = NewClient(Options{BreakerFailureThreshold: 3, BreakerOpenTimeout: time.Minute}, discardLogger(), observability.NewMetricsForTesting())
	assert.NotNil(t, c.breaker)
}

func TestClassifyTransportError(t *testing.T) {
	assert.ErrorIs(t, classifyTransportError(&url.Error{Op: "Get", Err: timeoutErr{}}), domain.ErrTimeout)
	assert.ErrorIs(t, classifyTransportError(fmt.Errorf("dial: %w", context.DeadlineExceeded)), domain.ErrTimeout)
	assert.ErrorIs(t, classifyTransportError(errors.New("connection refused")), domain.ErrTransport)
}
