package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"guildgate/pkg/platform/circuit"
)

const (
	defaultHTTPTimeout = 3 * time.Second
	maxResponseBytes   = 64 << 10
)

// HTTPOracle asks a remote reputation service for a score:
//
//	GET {endpoint}?ip=<addr>  ->  {"score": <int>}
//
// A circuit breaker fails calls fast while the provider is down. Failures are
// never turned into a default score.
type HTTPOracle struct {
	endpoint      *url.URL
	apiKey        string
	client        *http.Client
	timeout       time.Duration
	breaker       *circuit.Breaker
	onStateChange func(circuit.State)
}

type HTTPOption func(*HTTPOracle)

func WithHTTPClient(client *http.Client) HTTPOption {
	return func(o *HTTPOracle) {
		if client != nil {
			o.client = client
		}
	}
}

func WithTimeout(d time.Duration) HTTPOption {
	return func(o *HTTPOracle) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithAPIKey(key string) HTTPOption {
	return func(o *HTTPOracle) {
		o.apiKey = key
	}
}

func WithBreaker(b *circuit.Breaker) HTTPOption {
	return func(o *HTTPOracle) {
		if b != nil {
			o.breaker = b
		}
	}
}

// WithStateChangeHook is called after the breaker opens or closes.
func WithStateChangeHook(fn func(circuit.State)) HTTPOption {
	return func(o *HTTPOracle) {
		o.onStateChange = fn
	}
}

func NewHTTPOracle(endpoint string, opts ...HTTPOption) (*HTTPOracle, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("risk oracle endpoint %q is not an absolute url", endpoint)
	}
	o := &HTTPOracle{
		endpoint: u,
		client:   &http.Client{},
		timeout:  defaultHTTPTimeout,
		breaker:  circuit.New("risk-oracle"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

type scoreResponse struct {
	Score *int `json:"score"`
}

func (o *HTTPOracle) Score(ctx context.Context, addr string) (int, error) {
	if !o.breaker.Allow() {
		return 0, newError(ErrorCircuitOpen, "provider temporarily disabled", nil)
	}

	score, err := o.fetch(ctx, addr)
	if err != nil {
		// Bad payloads are a contract problem, not an outage.
		if CategoryOf(err) != ErrorBadData {
			if _, change := o.breaker.RecordFailure(); change.Opened {
				o.notify(circuit.StateOpen)
			}
		}
		return 0, err
	}
	if _, change := o.breaker.RecordSuccess(); change.Closed {
		o.notify(circuit.StateClosed)
	}
	return score, nil
}

func (o *HTTPOracle) fetch(ctx context.Context, addr string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	u := *o.endpoint
	q := u.Query()
	q.Set("ip", addr)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, newError(ErrorProviderOutage, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, newError(ErrorTimeout, "request timed out", context.DeadlineExceeded)
		}
		return 0, newError(ErrorProviderOutage, "request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return 0, newError(ErrorRateLimited, "rate limited", nil)
	case resp.StatusCode != http.StatusOK:
		return 0, newError(ErrorProviderOutage, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, newError(ErrorTimeout, "response timed out", context.DeadlineExceeded)
		}
		return 0, newError(ErrorProviderOutage, "read response", err)
	}
	var parsed scoreResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Score == nil {
		return 0, newError(ErrorBadData, "response has no score", err)
	}
	return Clamp(*parsed.Score), nil
}

func (o *HTTPOracle) notify(state circuit.State) {
	if o.onStateChange != nil {
		o.onStateChange(state)
	}
}
