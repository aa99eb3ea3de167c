package queue

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

var ErrUnknownPayload = errors.New("queue: unknown payload type")

// Payload is the closed set of task payloads: *Notification or *Invitation.
type Payload interface {
	Type() string
	RecipientID() int64
	sealed()
}

const (
	TypeNotification = "notification"
	TypeInvitation   = "invitation"
)

// NotificationKind says which poll produced a notification.
type NotificationKind string

const (
	KindProposal NotificationKind = "proposal"
	KindVoting   NotificationKind = "voting"
	KindEnding   NotificationKind = "ending"
	KindPropdate NotificationKind = "propdate"
)

// ProposalInfo is the denormalized proposal a message is rendered from.
type ProposalInfo struct {
	ID             string `json:"id"`
	ProposalNumber int    `json:"proposalNumber"`
	Title          string `json:"title"`
	DAOID          string `json:"daoId"`
	DAOName        string `json:"daoName"`
	ChainID        int64  `json:"chainId"`
	ChainName      string `json:"chainName"`
	CreatedAt      int64  `json:"createdAt"`
	VoteStart      int64  `json:"voteStart"`
	VoteEnd        int64  `json:"voteEnd"`
}

// PropdateInfo is the denormalized progress update.
type PropdateInfo struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	MilestoneID *int   `json:"milestoneId,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
}

type Notification struct {
	Recipient int64            `json:"recipient"`
	Kind      NotificationKind `json:"kind"`
	Proposal  ProposalInfo     `json:"proposal"`
	Propdate  *PropdateInfo    `json:"propdate,omitempty"`
	// PlannedAt is the unix time relative phrases ("3 hours ago") are
	// rendered against, so a retried task renders the same text.
	PlannedAt int64 `json:"plannedAt"`
}

func (*Notification) Type() string         { return TypeNotification }
func (n *Notification) RecipientID() int64 { return n.Recipient }
func (*Notification) sealed()              {}

type DAORef struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	ChainID int64  `json:"chainId"`
}

type Invitation struct {
	Recipient int64    `json:"recipient"`
	DAOs      []DAORef `json:"daos"`
}

func (*Invitation) Type() string         { return TypeInvitation }
func (i *Invitation) RecipientID() int64 { return i.Recipient }
func (*Invitation) sealed()              {}

type envelope struct {
	Type string `json:"type"`
}

// EncodePayload serializes p with its "type" tag alongside its fields.
func EncodePayload(p Payload) ([]byte, error) {
	switch v := p.(type) {
	case *Notification:
		return json.Marshal(struct {
			Type string `json:"type"`
			*Notification
		}{TypeNotification, v})
	case *Invitation:
		return json.Marshal(struct {
			Type string `json:"type"`
			*Invitation
		}{TypeInvitation, v})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownPayload, p)
	}
}

// DecodePayload reverses EncodePayload.
func DecodePayload(b []byte) (Payload, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	switch env.Type {
	case TypeNotification:
		var n Notification
		if err := json.Unmarshal(b, &n); err != nil {
			return nil, fmt.Errorf("decode notification: %w", err)
		}
		return &n, nil
	case TypeInvitation:
		var i Invitation
		if err := json.Unmarshal(b, &i); err != nil {
			return nil, fmt.Errorf("decode invitation: %w", err)
		}
		return &i, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPayload, env.Type)
	}
}
