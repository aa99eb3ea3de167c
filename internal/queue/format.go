package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/dustin/go-humanize"
	stripmd "github.com/writeas/go-strip-markdown/v2"
)

const voteURLFormat = "https://nouns.build/dao/%s/%s/vote/%d"

// relTime renders ts relative to the moment the task was planned, not the
// moment it is sent.
func relTime(ts, planned int64) string {
	return humanize.RelTime(time.Unix(ts, 0), time.Unix(planned, 0), "ago", "from now")
}

func tense(ts, planned int64, past, future string) string {
	if ts < planned {
		return past
	}
	return future
}

func voteURL(p ProposalInfo) string {
	return fmt.Sprintf(voteURLFormat, strings.ToLower(p.ChainName), p.DAOID, p.ProposalNumber)
}

// FormatNotification renders the direct-cast text for n. Output depends
// only on n.
func FormatNotification(n *Notification) string {
	if n.Propdate != nil {
		return formatPropdate(n.Proposal, *n.Propdate, n.PlannedAt)
	}
	p := n.Proposal
	var b strings.Builder
	fmt.Fprintf(&b, "📢 A new proposal (#%d: \"%s\") has been created on %s around %s. ",
		p.ProposalNumber, p.Title, p.DAOName, relTime(p.CreatedAt, n.PlannedAt))
	fmt.Fprintf(&b, "🗳️ Voting %s %s and %s %s. ",
		tense(p.VoteStart, n.PlannedAt, "started", "starts"), relTime(p.VoteStart, n.PlannedAt),
		tense(p.VoteEnd, n.PlannedAt, "ended", "ends"), relTime(p.VoteEnd, n.PlannedAt))
	b.WriteString("🚀🚀 Check it out for more details and participate in the voting process!")
	b.WriteString("\n\n")
	b.WriteString(voteURL(p))
	return b.String()
}

func formatPropdate(p ProposalInfo, u PropdateInfo, planned int64) string {
	milestone := ""
	if u.MilestoneID != nil {
		// milestone ids are zero-based
		milestone = fmt.Sprintf(" for milestone %d", *u.MilestoneID+1)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📢 A new update to proposal (#%d: \"%s\")%s has been created on %s around %s. ",
		p.ProposalNumber, p.Title, milestone, p.DAOName, relTime(u.CreatedAt, planned))
	b.WriteString("\n\n")
	b.WriteString(truncateLines(StripMarkdown(u.Content), 2))
	b.WriteString(" \n\n🚀 Check it out for more details and participate in the voting process!")
	b.WriteString("\n\n")
	b.WriteString(voteURL(p))
	return b.String()
}

func truncateLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[:n], "\n") + "..."
}

var daoSuffix = regexp.MustCompile(`\s*(?:DAO|dao)$`)

// FormatInvitation renders the invitation text. DAOs are deduplicated by
// name, first occurrence kept.
func FormatInvitation(inv *Invitation) string {
	seen := map[string]struct{}{}
	var names []string
	for _, d := range inv.DAOs {
		if _, ok := seen[d.Name]; ok {
			continue
		}
		seen[d.Name] = struct{}{}
		names = append(names, daoSuffix.ReplaceAllString(d.Name, ""))
	}
	list := strings.Join(names, ", ")
	if len(names) == 1 {
		return "👋 Hey there! You're a proud member of " + list + ", powered by Builder Protocol. 🎉 " +
			"Want to stay in the loop for the latest proposals? Follow @builderbot on Warpcast " +
			"to never miss an update! 🚀"
	}
	return fmt.Sprintf("👋 Hey there! You're a member of %d DAOs built by Builder Protocol: %s. 🚀 ", len(names), list) +
		"Stay informed about new proposals in your DAOs by following @builderbot on Warpcast " +
		"and make your voice count! 🎉"
}

// IdempotencyKey is the lowercase hex SHA-256 of the message text.
func IdempotencyKey(message string) string {
	sum := sha256.Sum256([]byte(message))
	return hex.EncodeToString(sum[:])
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// Placeholders for '_' and '*' inside words while stripping.
const (
	wordUnderscore = '\uE000'
	wordStar       = '\uE001'
)

var restoreWordMarks = strings.NewReplacer(string(wordUnderscore), "_", string(wordStar), "*")

// StripMarkdown reduces markdown to its plain text. Underscores and
// asterisks between letters or digits (snake_case, 2*3) are kept.
func StripMarkdown(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = stripmd.Strip(shieldWordMarks(s))
	s = restoreWordMarks.Replace(s)
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// shieldWordMarks swaps runs of '_' or '*' that sit between two word
// characters for placeholders the stripper leaves alone.
func shieldWordMarks(s string) string {
	rs := []rune(s)
	for i := 0; i < len(rs); {
		if rs[i] != '_' && rs[i] != '*' {
			i++
			continue
		}
		j := i
		for j < len(rs) && rs[j] == rs[i] {
			j++
		}
		if i > 0 && j < len(rs) && isWordRune(rs[i-1]) && isWordRune(rs[j]) {
			mark := wordUnderscore
			if rs[i] == '*' {
				mark = wordStar
			}
			for k := i; k < j; k++ {
				rs[k] = mark
			}
		}
		i = j
	}
	return string(rs)
}

func isWordRune(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }
