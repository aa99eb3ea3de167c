// Package warpcast is a small client for the Warpcast REST API: identity
// lookups with the bot's auth token and direct casts with its API key.
// Every call goes through one circuit breaker.
package warpcast

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"propbot/internal/metrics"
	logx "propbot/pkg/logx"
)

const (
	DefaultBaseURL   = "https://api.warpcast.com"
	followersPerPage = 100
	breakerName      = "warpcast-api"
)

type Config struct {
	BaseURL   string
	AuthToken string // bearer token for read endpoints
	APIKey    string // bearer key for ext-send-direct-cast
	Timeout   time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker[[]byte]
	log        logx.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.httpClient = c } }
func WithLogger(l logx.Logger) Option      { return func(cl *Client) { cl.log = l } }

func New(cfg Config, opts ...Option) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := &Client{cfg: cfg, log: logx.Nop()}
	for _, o := range opts {
		o(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	c.cb = newBreaker(c.log)
	return c
}

// newBreaker opens after 5 consecutive failures and lets one request through after 30s.
// Not-found answers count as successes.
func newBreaker(log logx.Logger) *gobreaker.CircuitBreaker[[]byte] {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				logx.String("breaker", name), logx.String("from", from.String()), logx.String("to", to.String()))
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Me returns the account behind the auth token.
func (c *Client) Me(ctx context.Context) (User, error) {
	var resp meResponse
	if err := c.getJSON(ctx, "/v2/me", nil, &resp); err != nil {
		return User{}, err
	}
	return resp.Result.User, nil
}

// Followers pages through /v2/followers until no next cursor is returned.
func (c *Client) Followers(ctx context.Context, fid int64) ([]User, error) {
	var (
		users  []User
		cursor string
	)
	for {
		q := url.Values{}
		q.Set("fid", strconv.FormatInt(fid, 10))
		q.Set("limit", strconv.Itoa(followersPerPage))
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var page usersPage
		if err := c.getJSON(ctx, "/v2/followers", q, &page); err != nil {
			return nil, err
		}
		users = append(users, page.Result.Users...)
		if page.Next == nil || page.Next.Cursor == "" {
			return users, nil
		}
		cursor = page.Next.Cursor
	}
}

// Verifications lists the addresses fid has verified.
func (c *Client) Verifications(ctx context.Context, fid int64) ([]Verification, error) {
	q := url.Values{}
	q.Set("fid", strconv.FormatInt(fid, 10))
	var resp verificationsResponse
	if err := c.getJSON(ctx, "/v2/verifications", q, &resp); err != nil {
		return nil, err
	}
	return resp.Result.Verifications, nil
}

// UserByVerification finds the user that verified address. ok is false
// when nobody did.
func (c *Client) UserByVerification(ctx context.Context, address string) (User, bool, error) {
	q := url.Values{}
	q.Set("address", strings.ToLower(address))
	var resp userResponse
	err := c.getJSON(ctx, "/v2/user-by-verification", q, &resp)
	if errors.Is(err, ErrNotFound) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	return resp.Result.User, resp.Result.User.FID != 0, nil
}

// SendDirectCast sends message to recipient. The idempotency key lets the
// server drop repeats of the same message.
func (c *Client) SendDirectCast(ctx context.Context, recipient int64, message, idempotencyKey string) (SendResult, error) {
	body, err := json.Marshal(sendRequest{RecipientFID: recipient, Message: message, IdempotencyKey: idempotencyKey})
	if err != nil {
		return SendResult{}, fmt.Errorf("marshal direct cast: %w", err)
	}
	var resp sendResponse
	if err := c.do(ctx, http.MethodPut, "/v2/ext-send-direct-cast", nil, body, c.cfg.APIKey, &resp); err != nil {
		return SendResult{}, err
	}
	return resp.Result, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, q, nil, c.cfg.AuthToken, out)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body []byte, token string, out any) error {
	raw, err := c.cb.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, q, body, token)
	})
	switch {
	case err == nil, errors.Is(err, ErrNotFound):
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "rejected").Inc()
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "failure").Inc()
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, q url.Values, body []byte, token string) ([]byte, error) {
	u := c.cfg.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}

	var ae apiErrors
	_ = json.Unmarshal(raw, &ae)
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if len(ae.Errors) > 0 {
		return nil, &APIError{Status: resp.StatusCode, Message: ae.Errors[0].Message}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	return raw, nil
}
