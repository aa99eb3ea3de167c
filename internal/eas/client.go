// Package eas reads propdate attestations from EAS GraphQL indexers.
// EAS does not index Zora, so Zora never appears in its endpoint list.
package eas

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/machinebox/graphql"

	"propbot/internal/chain"
	logx "propbot/pkg/logx"
)

// DefaultEndpoints are the public EAS indexers.
var DefaultEndpoints = []chain.Endpoint{
	{ChainID: chain.Ethereum, Name: "Ethereum", URL: "https://easscan.org/graphql"},
	{ChainID: chain.Optimism, Name: "Optimism", URL: "https://optimism.easscan.org/graphql"},
	{ChainID: chain.Base, Name: "Base", URL: "https://base.easscan.org/graphql"},
}

const queryAttestations = `
query Propdates($schemaId: String!, $since: Int!) {
  attestations(
    where: {
      schemaId: { equals: $schemaId }
      timeCreated: { gte: $since }
      isOffchain: { equals: false }
    }
  ) {
    id
    recipient
    timeCreated
    decodedDataJson
  }
}`

// ContentResolver turns a message URI into text.
type ContentResolver interface {
	Resolve(ctx context.Context, uri string) (string, error)
}

type attestation struct {
	ID              string `json:"id"`
	Recipient       string `json:"recipient"`
	TimeCreated     int64  `json:"timeCreated"`
	DecodedDataJSON string `json:"decodedDataJson"`
}

type Client struct {
	endpoints  []chain.Endpoint
	schemaID   string
	content    ContentResolver
	httpClient *http.Client
	timeout    time.Duration
	log        logx.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.httpClient = c } }
func WithLogger(l logx.Logger) Option      { return func(cl *Client) { cl.log = l } }
func WithTimeout(d time.Duration) Option   { return func(cl *Client) { cl.timeout = d } }
func WithSchemaID(id string) Option        { return func(cl *Client) { cl.schemaID = id } }

func New(endpoints []chain.Endpoint, content ContentResolver, opts ...Option) *Client {
	c := &Client{
		endpoints:  endpoints,
		schemaID:   DefaultSchemaID,
		content:    content,
		httpClient: http.DefaultClient,
		log:        logx.Nop(),
	}
	if len(c.endpoints) == 0 {
		c.endpoints = DefaultEndpoints
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Propdates returns top-level propdates attested at or after since, across
// every endpoint. Replies are dropped. Attestations whose data cannot be
// decoded are logged and skipped; a content fetch failure fails the call.
func (c *Client) Propdates(ctx context.Context, since int64) ([]chain.Record[Propdate], error) {
	return chain.Fetch(ctx, c.endpoints, func(ctx context.Context, ep chain.Endpoint) ([]Propdate, error) {
		atts, err := c.attestations(ctx, ep, since)
		if err != nil {
			return nil, err
		}
		out := make([]Propdate, 0, len(atts))
		for _, a := range atts {
			p, err := decodeFields(a.DecodedDataJSON)
			if err != nil {
				c.log.Warn("skipping undecodable attestation",
					logx.String("chain", ep.Name), logx.String("attestation", a.ID), logx.Err(err))
				continue
			}
			p.ID = a.ID
			p.Recipient = a.Recipient
			p.TimeCreated = a.TimeCreated
			if p.IsReply() {
				continue
			}
			if err := c.resolveContent(ctx, &p); err != nil {
				return nil, fmt.Errorf("propdate %s: %w", a.ID, err)
			}
			out = append(out, p)
		}
		return out, nil
	}, func(p Propdate) string { return p.ID })
}

func (c *Client) attestations(ctx context.Context, ep chain.Endpoint, since int64) ([]attestation, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req := graphql.NewRequest(queryAttestations)
	req.Var("schemaId", c.schemaID)
	req.Var("since", since)

	var resp struct {
		Attestations []attestation `json:"attestations"`
	}
	if err := graphql.NewClient(ep.URL, graphql.WithHTTPClient(c.httpClient)).Run(ctx, req, &resp); err != nil {
		return nil, err
	}
	c.log.Debug("attestations fetched", logx.String("chain", ep.Name), logx.Int("count", len(resp.Attestations)))
	return resp.Attestations, nil
}

func (c *Client) resolveContent(ctx context.Context, p *Propdate) error {
	body := p.Message
	switch p.MessageType {
	case URLText, URLJSON:
		if c.content == nil {
			return fmt.Errorf("no content resolver for %s", p.MessageType)
		}
		text, err := c.content.Resolve(ctx, p.Message)
		if err != nil {
			return err
		}
		body = text
	}

	switch p.MessageType {
	case InlineJSON, URLJSON:
		m, err := parseMessage(body)
		if err != nil {
			c.log.Warn("propdate body is not json, using raw text", logx.String("attestation", p.ID), logx.Err(err))
			p.Content = body
			return nil
		}
		p.Content = m.Content
		p.MilestoneID = m.MilestoneID
	default:
		p.Content = body
	}
	return nil
}
