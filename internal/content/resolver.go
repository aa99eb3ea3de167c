// Package content resolves off-chain message bodies referenced by URI.
//
// http(s) URIs get one bounded request. ipfs:// URIs race every configured
// gateway; the first success wins and the rest are cancelled.
package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "propbot/pkg/logx"
)

var (
	ErrUnsupportedURI    = errors.New("content: unsupported uri scheme")
	ErrAllGatewaysFailed = errors.New("content: all gateways failed")
	ErrBodyTooLarge      = errors.New("content: body too large")
)

const ipfsScheme = "ipfs://"

// DefaultGateways are path-style IPFS gateways; the CID is appended.
var DefaultGateways = []string{
	"https://ipfs.io/ipfs/",
	"https://cloudflare-ipfs.com/ipfs/",
	"https://dweb.link/ipfs/",
	"https://w3s.link/ipfs/",
	"https://flk-ipfs.xyz/ipfs/",
}

// maxBody caps a single fetched body.
const maxBody = 4 << 20

type Config struct {
	Gateways []string      `json:"gateways"`
	Timeout  time.Duration `json:"-"`
}

type Resolver struct {
	httpClient *http.Client
	gateways   []string
	timeout    time.Duration
	log        logx.Logger
}

type Option func(*Resolver)

func WithHTTPClient(c *http.Client) Option { return func(r *Resolver) { r.httpClient = c } }
func WithLogger(l logx.Logger) Option      { return func(r *Resolver) { r.log = l } }

func New(cfg Config, opts ...Option) *Resolver {
	r := &Resolver{
		httpClient: &http.Client{},
		gateways:   cfg.Gateways,
		timeout:    cfg.Timeout,
		log:        logx.Nop(),
	}
	if len(r.gateways) == 0 {
		r.gateways = DefaultGateways
	}
	if r.timeout <= 0 {
		r.timeout = 10 * time.Second
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the text behind uri.
func (r *Resolver) Resolve(ctx context.Context, uri string) (string, error) {
	uri = strings.TrimSpace(uri)
	switch {
	case strings.HasPrefix(uri, ipfsScheme):
		cid := strings.Trim(strings.TrimPrefix(uri, ipfsScheme), "/")
		if cid == "" {
			return "", fmt.Errorf("content: empty cid in %q", uri)
		}
		return r.race(ctx, cid)
	case strings.HasPrefix(uri, "https://"), strings.HasPrefix(uri, "http://"):
		return r.fetch(ctx, uri)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedURI, uri)
	}
}

type raceResult struct {
	gateway string
	body    string
	err     error
}

func (r *Resolver) race(ctx context.Context, cid string) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan raceResult, len(r.gateways))
	for _, gw := range r.gateways {
		go func() {
			body, err := r.fetch(ctx, gw+cid)
			results <- raceResult{gateway: gw, body: body, err: err}
		}()
	}

	var errs []error
	for range r.gateways {
		res := <-results
		if res.err == nil {
			r.log.Debug("ipfs content resolved", logx.String("cid", cid), logx.String("gateway", res.gateway))
			return res.body, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", res.gateway, res.err))
	}
	return "", fmt.Errorf("%w for %s: %w", ErrAllGatewaysFailed, cid, errors.Join(errs...))
}

func (r *Resolver) fetch(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if len(b) > maxBody {
		return "", fmt.Errorf("GET %s: %w (over %d bytes)", url, ErrBodyTooLarge, maxBody)
	}
	return string(b), nil
}
