package eas

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// ZeroHash marks a top-level propdate (not a reply).
const ZeroHash = "0x0000000000000000000000000000000000000000000000000000000000000000"

// DefaultSchemaID is the propdate attestation schema.
const DefaultSchemaID = "0x8bd0d42901ce3cd9898dbea6ae2fbf1e796ef0923e7cbb0a1cecac2e42d47cb3"

type MessageType int

const (
	InlineText MessageType = iota
	InlineJSON
	URLText
	URLJSON
)

func (m MessageType) String() string {
	switch m {
	case InlineText:
		return "INLINE_TEXT"
	case InlineJSON:
		return "INLINE_JSON"
	case URLText:
		return "URL_TEXT"
	case URLJSON:
		return "URL_JSON"
	default:
		return "MessageType(" + strconv.Itoa(int(m)) + ")"
	}
}

// Propdate is a decoded progress-update attestation.
type Propdate struct {
	ID                string      `json:"id"`
	ProposalID        string      `json:"proposalId"`
	OriginalMessageID string      `json:"originalMessageId"`
	MessageType       MessageType `json:"messageType"`
	// Message is the raw attested message: inline text, inline JSON or a URI.
	Message string `json:"message"`
	// Content is the resolved, human-readable body.
	Content     string `json:"content"`
	MilestoneID *int   `json:"milestoneId,omitempty"`
	Recipient   string `json:"recipient"`
	TimeCreated int64  `json:"timeCreated"`
}

// IsReply reports whether the propdate answers another propdate.
func (p Propdate) IsReply() bool {
	id := strings.ToLower(strings.TrimSpace(p.OriginalMessageID))
	return id != "" && id != ZeroHash
}

// propdateMessage is the JSON body of INLINE_JSON and URL_JSON messages.
type propdateMessage struct {
	Content     string `json:"content"`
	MilestoneID *int   `json:"milestoneId,omitempty"`
}

type decodedField struct {
	Name  string `json:"name"`
	Value struct {
		Value json.RawMessage `json:"value"`
	} `json:"value"`
}

// decodeFields reads proposalId, originalMessageId, messageType and
// message out of an attestation's decodedDataJson.
func decodeFields(decodedDataJSON string) (Propdate, error) {
	var fields []decodedField
	if err := json.Unmarshal([]byte(decodedDataJSON), &fields); err != nil {
		return Propdate{}, fmt.Errorf("decodedDataJson: %w", err)
	}

	var p Propdate
	for _, f := range fields {
		raw := f.Value.Value
		switch f.Name {
		case "proposalId":
			p.ProposalID = scalarString(raw)
		case "originalMessageId":
			p.OriginalMessageID = scalarString(raw)
		case "message":
			p.Message = scalarString(raw)
		case "messageType":
			n, err := parseInt(scalarString(raw))
			if err != nil {
				return Propdate{}, fmt.Errorf("messageType %s: %w", raw, err)
			}
			p.MessageType = MessageType(n)
		}
	}
	if p.ProposalID == "" {
		return Propdate{}, fmt.Errorf("decodedDataJson: missing proposalId")
	}
	return p, nil
}

// scalarString renders a JSON string, number or object ({"hex": ...}) as
// plain text.
func scalarString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var hex struct {
		Hex string `json:"hex"`
	}
	if err := json.Unmarshal(raw, &hex); err == nil && hex.Hex != "" {
		return hex.Hex
	}
	return strings.TrimSpace(string(raw))
}

func parseInt(s string) (int, error) {
	if rest, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		n, err := strconv.ParseInt(rest, 16, 64)
		return int(n), err
	}
	return strconv.Atoi(s)
}

func parseMessage(body string) (propdateMessage, error) {
	var m propdateMessage
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return m, fmt.Errorf("propdate message json: %w", err)
	}
	return m, nil
}
