// Package builder queries Builder DAO subgraphs on every configured chain.
package builder

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/machinebox/graphql"

	"propbot/internal/chain"
	logx "propbot/pkg/logx"
)

const defaultOwnersPageSize = 1000

type Client struct {
	endpoints  []chain.Endpoint
	httpClient *http.Client
	timeout    time.Duration
	pageSize   int
	log        logx.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.httpClient = c } }
func WithLogger(l logx.Logger) Option      { return func(cl *Client) { cl.log = l } }

// WithTimeout bounds each endpoint request. Zero means no timeout.
func WithTimeout(d time.Duration) Option { return func(cl *Client) { cl.timeout = d } }

// WithOwnersPageSize sets the skip/first page size for TokenOwners.
func WithOwnersPageSize(n int) Option { return func(cl *Client) { cl.pageSize = n } }

func New(endpoints []chain.Endpoint, opts ...Option) *Client {
	c := &Client{
		endpoints:  endpoints,
		httpClient: http.DefaultClient,
		pageSize:   defaultOwnersPageSize,
		log:        logx.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Endpoints() []chain.Endpoint { return c.endpoints }

type proposalsResponse struct {
	Proposals []Proposal `json:"proposals"`
}

type ownersResponse struct {
	Owners []TokenOwner `json:"owners"`
}

// NewProposals returns open proposals created at or after since.
func (c *Client) NewProposals(ctx context.Context, since int64) ([]chain.Record[Proposal], error) {
	return c.proposals(ctx, queryNewProposals, map[string]any{"since": since})
}

// VotingProposals returns proposals whose vote started in [since, now] and
// has not ended.
func (c *Client) VotingProposals(ctx context.Context, since, now int64) ([]chain.Record[Proposal], error) {
	return c.proposals(ctx, queryVotingProposals, map[string]any{"since": since, "now": now})
}

// EndingProposals returns proposals whose vote ends in [from, to].
func (c *Client) EndingProposals(ctx context.Context, from, to int64) ([]chain.Record[Proposal], error) {
	return c.proposals(ctx, queryEndingProposals, map[string]any{"from": from, "to": to})
}

func (c *Client) proposals(ctx context.Context, query string, vars map[string]any) ([]chain.Record[Proposal], error) {
	return chain.Fetch(ctx, c.endpoints, func(ctx context.Context, ep chain.Endpoint) ([]Proposal, error) {
		var resp proposalsResponse
		if err := c.run(ctx, ep, query, vars, &resp); err != nil {
			return nil, err
		}
		return resp.Proposals, nil
	}, proposalID)
}

// DAOsForOwners returns the DAOs any of owners holds tokens in, across all
// chains, deduplicated by DAO ID.
func (c *Client) DAOsForOwners(ctx context.Context, owners []string) ([]chain.Record[DAO], error) {
	lowered := make([]string, len(owners))
	for i, o := range owners {
		lowered[i] = strings.ToLower(o)
	}
	return chain.Fetch(ctx, c.endpoints, func(ctx context.Context, ep chain.Endpoint) ([]DAO, error) {
		var resp ownersResponse
		if err := c.run(ctx, ep, queryDAOsForOwners, map[string]any{"owners": lowered}, &resp); err != nil {
			return nil, err
		}
		daos := make([]DAO, 0, len(resp.Owners))
		for _, o := range resp.Owners {
			daos = append(daos, o.DAO)
		}
		return daos, nil
	}, daoID)
}

// TokenOwners pages through daotokenOwners on every chain until a page
// comes back empty, or until limit holdings were read from one chain
// (limit <= 0 means no cap).
func (c *Client) TokenOwners(ctx context.Context, limit int) ([]chain.Record[TokenOwner], error) {
	return chain.Fetch(ctx, c.endpoints, func(ctx context.Context, ep chain.Endpoint) ([]TokenOwner, error) {
		var all []TokenOwner
		for skip := 0; ; {
			var resp ownersResponse
			vars := map[string]any{"skip": skip, "first": c.pageSize}
			if err := c.run(ctx, ep, queryTokenOwners, vars, &resp); err != nil {
				return nil, err
			}
			if len(resp.Owners) == 0 {
				return all, nil
			}
			all = append(all, resp.Owners...)
			skip += len(resp.Owners)
			if limit > 0 && len(all) >= limit {
				return all[:limit], nil
			}
		}
	}, ownerID)
}

// ProposalByID looks a proposal up on one chain. ok is false when the
// subgraph does not know the ID.
func (c *Client) ProposalByID(ctx context.Context, chainID int64, id string) (Proposal, bool, error) {
	ep, found := c.endpoint(chainID)
	if !found {
		return Proposal{}, false, fmt.Errorf("builder: no endpoint for chain %d", chainID)
	}
	var resp struct {
		Proposal *Proposal `json:"proposal"`
	}
	if err := c.run(ctx, ep, queryProposalByID, map[string]any{"id": strings.ToLower(id)}, &resp); err != nil {
		return Proposal{}, false, &chain.UpstreamError{Chain: ep, Err: err}
	}
	if resp.Proposal == nil || resp.Proposal.Title == "" {
		return Proposal{}, false, nil
	}
	return *resp.Proposal, true, nil
}

func (c *Client) endpoint(chainID int64) (chain.Endpoint, bool) {
	for _, ep := range c.endpoints {
		if ep.ChainID == chainID {
			return ep, true
		}
	}
	return chain.Endpoint{}, false
}

func (c *Client) run(ctx context.Context, ep chain.Endpoint, query string, vars map[string]any, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req := graphql.NewRequest(query)
	for k, v := range vars {
		req.Var(k, v)
	}
	start := time.Now()
	err := graphql.NewClient(ep.URL, graphql.WithHTTPClient(c.httpClient)).Run(ctx, req, out)
	c.log.Debug("subgraph query",
		logx.String("chain", ep.Name),
		logx.Duration("took", time.Since(start)),
		logx.Err(err),
	)
	return err
}
