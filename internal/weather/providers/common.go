package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-places/internal/weather"
)

var (
	errCircuitOpen  = errors.New("circuit breaker open")
	errNoHTTPClient = errors.New("http client not configured")
	errNoAPIKey     = errors.New("api key is not configured")
	errNoResults    = errors.New("no matching location")
	errEmptyPayload = errors.New("empty payload")
)

// statusError is an HTTP response outside 2xx.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code %d", e.code)
}

// jsonClient performs GET requests behind a circuit breaker. It never retries:
// retry policy belongs to the caller.
type jsonClient struct {
	name    string
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
}

func newJSONClient(name string, client *http.Client) *jsonClient {
	return &jsonClient{
		name:   name,
		client: client,
		circuit: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 5,
			Interval:    1 * time.Minute,
			Timeout:     2 * time.Minute,
		}),
	}
}

// getJSON fetches u and decodes the body into out. Every failure is returned
// as a *weather.FetchError tagged with stage.
func (c *jsonClient) getJSON(ctx context.Context, stage weather.Stage, u string, out any) error {
	if c.client == nil {
		return weather.NewFetchError(weather.StatusUnknown, stage, fmt.Errorf("%s: %w", c.name, errNoHTTPClient))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return weather.NewFetchError(weather.StatusUnknown, stage, fmt.Errorf("%s: build request: %w", c.name, err))
	}
	req.Header.Set("Accept", "application/json")

	// Only transport failures, 429 and 5xx count against the breaker.
	result, err := c.circuit.Execute(func() (interface{}, error) {
		resp, execErr := c.client.Do(req)
		if execErr != nil {
			return nil, execErr
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			drainAndClose(resp.Body)
			return nil, &statusError{code: resp.StatusCode}
		}
		return resp, nil
	})
	if err != nil {
		return c.classify(ctx, stage, err)
	}

	resp, ok := result.(*http.Response)
	if !ok {
		return weather.NewFetchError(weather.StatusUnknown, stage, fmt.Errorf("%s: unexpected result type from circuit breaker", c.name))
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.classify(ctx, stage, &statusError{code: resp.StatusCode})
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return weather.NewFetchError(weather.StatusUnknown, stage, fmt.Errorf("%s: decode response: %w", c.name, err))
	}
	return nil
}

func (c *jsonClient) classify(ctx context.Context, stage weather.Stage, err error) error {
	if ctx.Err() != nil {
		return weather.NewFetchError(weather.StatusNoAnswer, stage, fmt.Errorf("%s: %w", c.name, ctx.Err()))
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return weather.NewFetchError(weather.StatusNoAnswer, stage, fmt.Errorf("%s: %w: %v", c.name, errCircuitOpen, err))
	}
	var se *statusError
	if errors.As(err, &se) {
		return weather.NewFetchError(statusForCode(se.code), stage, fmt.Errorf("%s: %w", c.name, err))
	}
	return weather.NewFetchError(weather.StatusNoAnswer, stage, fmt.Errorf("%s: %w", c.name, err))
}

func statusForCode(code int) weather.Status {
	switch code {
	case http.StatusTooManyRequests:
		return weather.StatusTooManyRequests
	case http.StatusUnauthorized, http.StatusForbidden:
		return weather.StatusAuthFailed
	case http.StatusNotFound:
		return weather.StatusNotFound
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return weather.StatusNoAnswer
	default:
		return weather.StatusUnknown
	}
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}

func parseFailure(name string, stage weather.Stage, err error) error {
	return weather.NewFetchError(weather.StatusUnknown, stage, fmt.Errorf("%s: %w", name, err))
}

func unixUTC(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
