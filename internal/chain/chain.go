// Package chain fans one query out to every configured chain endpoint and
// merges the answers.
package chain

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Known chain IDs.
const (
	Ethereum int64 = 1
	Optimism int64 = 10
	Base     int64 = 8453
	Zora     int64 = 7777777
)

var names = map[int64]string{
	Ethereum: "Ethereum",
	Optimism: "Optimism",
	Base:     "Base",
	Zora:     "Zora",
}

// NameOf returns the display name for a known chain ID.
func NameOf(id int64) string {
	if n, ok := names[id]; ok {
		return n
	}
	return fmt.Sprintf("chain-%d", id)
}

// Endpoint is one statically configured data source on one chain.
type Endpoint struct {
	ChainID int64  `json:"chain_id"`
	Name    string `json:"name"`
	URL     string `json:"url"`
}

// Slug is the lowercased chain name used in vote URLs.
func (e Endpoint) Slug() string { return strings.ToLower(e.Name) }

// Record pairs a fetched value with the endpoint it came from.
type Record[T any] struct {
	Chain Endpoint
	Value T
}

// UpstreamError wraps a failure of one endpoint.
type UpstreamError struct {
	Chain Endpoint
	Err   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s (%s): %v", e.Chain.Name, e.Chain.URL, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Query fetches the records one endpoint holds.
type Query[T any] func(ctx context.Context, ep Endpoint) ([]T, error)

// Fetch runs query against all endpoints concurrently and waits for every
// one of them. Any failure fails the whole call and no partial result is
// returned. Results are merged in endpoint order and deduplicated by idOf,
// the first occurrence winning.
func Fetch[T any](ctx context.Context, endpoints []Endpoint, query Query[T], idOf func(T) string) ([]Record[T], error) {
	results := make([][]T, len(endpoints))

	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range endpoints {
		g.Go(func() error {
			rows, err := query(gctx, ep)
			if err != nil {
				return &UpstreamError{Chain: ep, Err: err}
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return Merge(endpoints, results, idOf), nil
}

// Merge flattens per-endpoint results (results[i] belongs to endpoints[i])
// keeping the first record seen for each ID.
func Merge[T any](endpoints []Endpoint, results [][]T, idOf func(T) string) []Record[T] {
	seen := make(map[string]struct{})
	var out []Record[T]
	for i, rows := range results {
		for _, v := range rows {
			id := idOf(v)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, Record[T]{Chain: endpoints[i], Value: v})
		}
	}
	return out
}
