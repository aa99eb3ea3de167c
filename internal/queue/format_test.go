package queue

import (
	"strings"
	"testing"
)

func TestFormatProposalNotification(t *testing.T) {
	got := FormatNotification(notification(1, 12))
	want := `📢 A new proposal (#12: "Fund the thing") has been created on Purple DAO around 3 hours ago. ` +
		`🗳️ Voting starts 1 day from now and ends 4 days from now. ` +
		`🚀🚀 Check it out for more details and participate in the voting process!` +
		"\n\nhttps://nouns.build/dao/base/0xdao/vote/12"
	if got != want {
		t.Fatalf("message mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestFormatProposalPastVoting(t *testing.T) {
	n := notification(1, 3)
	n.Proposal.VoteStart = n.PlannedAt - 3600
	got := FormatNotification(n)
	if !strings.Contains(got, "Voting started 1 hour ago and ends") {
		t.Fatalf("tense not applied: %q", got)
	}
}

func TestFormatPropdateNotification(t *testing.T) {
	n := notification(1, 12)
	ms := 0
	n.Kind = KindPropdate
	n.Propdate = &PropdateInfo{
		Content:     "# Shipped\n\n**v1** is [live](https://x.y)\nmore\nand more",
		MilestoneID: &ms,
		CreatedAt:   n.PlannedAt - 2*3600,
	}
	got := FormatNotification(n)
	for _, part := range []string{
		`update to proposal (#12: "Fund the thing") for milestone 1 has been created on Purple DAO around 2 hours ago.`,
		"\n\nShipped\n...",
		"/vote/12",
	} {
		if !strings.Contains(got, part) {
			t.Fatalf("missing %q in %q", part, got)
		}
	}

	n.Propdate.MilestoneID = nil
	if strings.Contains(FormatNotification(n), "milestone") {
		t.Fatalf("milestone text without milestone id")
	}
}

func TestFormatInvitation(t *testing.T) {
	tests := []struct {
		name string
		daos []DAORef
		want string
	}{
		{
			name: "single",
			daos: []DAORef{{Name: "Gnars DAO"}, {Name: "Gnars DAO"}},
			want: "You're a proud member of Gnars, powered by Builder Protocol.",
		},
		{
			name: "many",
			daos: []DAORef{{Name: "Purple dao"}, {Name: "Builder"}, {Name: "Purple dao"}},
			want: "You're a member of 2 DAOs built by Builder Protocol: Purple, Builder.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatInvitation(&Invitation{Recipient: 1, DAOs: tt.daos})
			if !strings.Contains(got, tt.want) || !strings.Contains(got, "@builderbot") {
				t.Fatalf("got %q, want substring %q", got, tt.want)
			}
		})
	}
}

func TestIdempotencyKey(t *testing.T) {
	// sha256("abc")
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := IdempotencyKey("abc"); got != want {
		t.Fatalf("key=%s", got)
	}
}

func TestStripMarkdown(t *testing.T) {
	tests := []struct{ in, want string }{
		{"## Title", "Title"},
		{"**bold** and _it_", "bold and it"},
		{"see [docs](https://a.b)", "see docs"},
		{"- one\n- two", "one\ntwo"},
		{"> quoted `code`", "quoted code"},
		{"a\n\n\n\nb", "a\n\nb"},
		{"plain 2 * 3", "plain 2 * 3"},
		{"Deployed the snake_case_name helper, see https://x.io/a_b_c and 2*3*4", "Deployed the snake_case_name helper, see https://x.io/a_b_c and 2*3*4"},
		{"**snake_case** ships", "snake_case ships"},
	}
	for _, tt := range tests {
		if got := StripMarkdown(tt.in); got != tt.want {
			t.Fatalf("StripMarkdown(%q)=%q want %q", tt.in, got, tt.want)
		}
	}
}
