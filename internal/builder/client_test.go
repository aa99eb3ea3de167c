package builder

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"propbot/internal/chain"
)

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// subgraph is a fake GraphQL endpoint that answers with a canned body per
// call and records the requests it saw.
type subgraph struct {
	mu     sync.Mutex
	seen   []gqlRequest
	answer func(req gqlRequest) string
}

func (s *subgraph) requests() []gqlRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gqlRequest(nil), s.seen...)
}

func (s *subgraph) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		var req gqlRequest
		if err := json.Unmarshal(b, &req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		s.mu.Lock()
		s.seen = append(s.seen, req)
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, s.answer(req))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewProposalsAcrossChains(t *testing.T) {
	eth := &subgraph{answer: func(gqlRequest) string {
		return `{"data":{"proposals":[
			{"id":"0xP1","proposalNumber":4,"dao":{"id":"0xD1","name":"Gnars DAO"},"title":"Fund skaters","proposer":"0xabc","timeCreated":"1700000000","voteStart":"1700086400","voteEnd":"1700345600"}
		]}}`
	}}
	base := &subgraph{answer: func(gqlRequest) string {
		return `{"data":{"proposals":[
			{"id":"0xp1","proposalNumber":9,"dao":{"id":"0xD9","name":"Dup"},"title":"dup","proposer":"0x1","timeCreated":"1","voteStart":"2","voteEnd":"3"},
			{"id":"0xP2","proposalNumber":1,"dao":{"id":"0xD2","name":"Purple"},"title":"Hello","proposer":"0xdef","timeCreated":"1700000100","voteStart":"1700000200","voteEnd":"1700000300"}
		]}}`
	}}
	ethSrv, baseSrv := eth.server(t), base.server(t)

	c := New([]chain.Endpoint{
		{ChainID: chain.Ethereum, Name: "Ethereum", URL: ethSrv.URL},
		{ChainID: chain.Base, Name: "Base", URL: baseSrv.URL},
	})

	got, err := c.NewProposals(context.Background(), 1699990000)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "Fund skaters", got[0].Value.Title)
	require.EqualValues(t, 1700345600, got[0].Value.VoteEnd)
	require.Equal(t, chain.Base, got[1].Chain.ChainID)

	seen := eth.requests()
	require.Len(t, seen, 1)
	require.Contains(t, seen[0].Query, "timeCreated_gte")
	require.EqualValues(t, 1699990000, seen[0].Variables["since"])
}

func TestGraphQLErrorFailsAggregate(t *testing.T) {
	ok := &subgraph{answer: func(gqlRequest) string { return `{"data":{"proposals":[]}}` }}
	bad := &subgraph{answer: func(gqlRequest) string { return `{"errors":[{"message":"indexer unavailable"}]}` }}

	c := New([]chain.Endpoint{
		{ChainID: chain.Ethereum, Name: "Ethereum", URL: ok.server(t).URL},
		{ChainID: chain.Zora, Name: "Zora", URL: bad.server(t).URL},
	})

	got, err := c.EndingProposals(context.Background(), 10, 20)
	require.Nil(t, got)
	require.Error(t, err)
	require.Contains(t, err.Error(), "indexer unavailable")
}

func TestDAOsForOwnersLowercasesAndDedups(t *testing.T) {
	sg := &subgraph{answer: func(gqlRequest) string {
		return `{"data":{"owners":[
			{"id":"o1","owner":"0xabc","dao":{"id":"0xD1","name":"One"},"daoTokenCount":2},
			{"id":"o2","owner":"0xdef","dao":{"id":"0xd1","name":"One again"},"daoTokenCount":1}
		]}}`
	}}
	c := New([]chain.Endpoint{{ChainID: chain.Ethereum, Name: "Ethereum", URL: sg.server(t).URL}})

	got, err := c.DAOsForOwners(context.Background(), []string{"0xABC", "0xDEF"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "One", got[0].Value.Name)
	require.Equal(t, []any{"0xabc", "0xdef"}, sg.requests()[0].Variables["owners"])
}

func TestTokenOwnersPaginatesUntilEmpty(t *testing.T) {
	sg := &subgraph{answer: func(req gqlRequest) string {
		switch int(req.Variables["skip"].(float64)) {
		case 0:
			return `{"data":{"owners":[{"id":"a","owner":"0x1","dao":{"id":"d","name":"D"}},{"id":"b","owner":"0x2","dao":{"id":"d","name":"D"}}]}}`
		case 2:
			return `{"data":{"owners":[{"id":"c","owner":"0x3","dao":{"id":"d","name":"D"}}]}}`
		default:
			return `{"data":{"owners":[]}}`
		}
	}}
	c := New([]chain.Endpoint{{ChainID: chain.Base, Name: "Base", URL: sg.server(t).URL}}, WithOwnersPageSize(2))

	got, err := c.TokenOwners(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Len(t, sg.requests(), 3)

	capped, err := c.TokenOwners(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, capped, 2)
}

func TestProposalByID(t *testing.T) {
	sg := &subgraph{answer: func(req gqlRequest) string {
		if req.Variables["id"] == "0xknown" {
			return `{"data":{"proposal":{"id":"0xknown","proposalNumber":3,"dao":{"id":"0xd","name":"D"},"title":"T","timeCreated":"5","voteStart":"6","voteEnd":"7"}}}`
		}
		return `{"data":{"proposal":null}}`
	}}
	c := New([]chain.Endpoint{{ChainID: chain.Optimism, Name: "Optimism", URL: sg.server(t).URL}})

	p, ok, err := c.ProposalByID(context.Background(), chain.Optimism, "0xKNOWN")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3, p.ProposalNumber)

	_, ok, err = c.ProposalByID(context.Background(), chain.Optimism, "0xmissing")
	require.NoError(t, err)
	require.False(t, ok)

	_, _, err = c.ProposalByID(context.Background(), chain.Zora, "0xknown")
	require.Error(t, err)
}

func TestTimestampAcceptsStringsAndNumbers(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]int64{`"1700000000"`: 1700000000, `42`: 42, `null`: 0, `""`: 0} {
		var ts Timestamp
		if err := ts.UnmarshalJSON([]byte(in)); err != nil {
			t.Fatalf("unmarshal %s: %v", in, err)
		}
		if ts.Unix() != want {
			t.Fatalf("%s -> %d want %d", in, ts, want)
		}
	}
	var ts Timestamp
	if err := ts.UnmarshalJSON([]byte(`"soon"`)); err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(string(mustMarshal(t, Timestamp(7))), `"7"`) {
		t.Fatalf("timestamp should marshal as string")
	}
}

func mustMarshal(t *testing.T, v Timestamp) []byte {
	t.Helper()
	b, err := v.MarshalJSON()
	require.NoError(t, err)
	return b
}
