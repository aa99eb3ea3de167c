package builder

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Timestamp is a unix-seconds value the subgraph serializes as a BigInt
// string. Plain JSON numbers are accepted too.
type Timestamp int64

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*t = 0
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		*t = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("timestamp %q: %w", s, err)
	}
	*t = Timestamp(n)
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(int64(t), 10))
}

func (t Timestamp) Unix() int64 { return int64(t) }

type DAO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Proposal struct {
	ID             string    `json:"id"`
	ProposalNumber int       `json:"proposalNumber"`
	DAO            DAO       `json:"dao"`
	Title          string    `json:"title"`
	Proposer       string    `json:"proposer"`
	TimeCreated    Timestamp `json:"timeCreated"`
	VoteStart      Timestamp `json:"voteStart"`
	VoteEnd        Timestamp `json:"voteEnd"`
}

// TokenOwner is one (owner, DAO) holding from daotokenOwners.
type TokenOwner struct {
	ID            string `json:"id"`
	Owner         string `json:"owner"`
	DAO           DAO    `json:"dao"`
	DAOTokenCount int    `json:"daoTokenCount"`
}

func proposalID(p Proposal) string { return strings.ToLower(p.ID) }
func daoID(d DAO) string           { return strings.ToLower(d.ID) }
func ownerID(o TokenOwner) string  { return strings.ToLower(o.ID) }
