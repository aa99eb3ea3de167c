package processor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"propbot/internal/builder"
	"propbot/internal/cache"
	"propbot/internal/chain"
	"propbot/internal/eas"
	"propbot/internal/identity"
	"propbot/internal/metrics"
	"propbot/internal/queue"
	"propbot/internal/warpcast"
	logx "propbot/pkg/logx"
)

type Category string

const (
	Proposals Category = "proposals"
	Voting    Category = "voting"
	Ending    Category = "ending"
	Updates   Category = "updates"
	Invites   Category = "invites"
)

// Categories lists every job in the order "process all" runs them.
var Categories = []Category{Proposals, Voting, Ending, Updates, Invites}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// DefaultLookback is the window used when a category has no watermark yet.
var DefaultLookback = map[Category]time.Duration{
	Proposals: 7 * 24 * time.Hour,
	Voting:    3 * 24 * time.Hour,
	Ending:    24 * time.Hour,
	Updates:   24 * time.Hour,
}

const (
	endingHorizon = 24 * time.Hour
	// propdates have no end; keep them in dedup sets well past any lookback.
	propdateRetention = 14 * 24 * time.Hour
)

func WatermarkKey(c Category) string { return "watermark_" + string(c) }

func DedupKey(c Category, fid int64) string {
	return "notified_" + string(c) + "_" + strconv.FormatInt(fid, 10)
}

// ProposalSource is the Builder subgraph side of candidate selection.
type ProposalSource interface {
	NewProposals(ctx context.Context, since int64) ([]chain.Record[builder.Proposal], error)
	VotingProposals(ctx context.Context, since, now int64) ([]chain.Record[builder.Proposal], error)
	EndingProposals(ctx context.Context, from, to int64) ([]chain.Record[builder.Proposal], error)
	TokenOwners(ctx context.Context, limit int) ([]chain.Record[builder.TokenOwner], error)
}

type PropdateSource interface {
	Propdates(ctx context.Context, since int64) ([]chain.Record[eas.Propdate], error)
}

// Identity is what *identity.Resolver provides.
type Identity interface {
	SelfID(ctx context.Context) (int64, error)
	FollowerIDs(ctx context.Context, fid int64) ([]int64, error)
	VerifiedAddresses(ctx context.Context, fid int64) ([]string, error)
	DAOMemberships(ctx context.Context, fid int64, addresses []string) ([]string, bool, error)
	ProposalByID(ctx context.Context, chainID int64, id string) (builder.Proposal, bool, error)
}

// UserDirectory maps a verified address to its Farcaster user.
type UserDirectory interface {
	UserByVerification(ctx context.Context, address string) (warpcast.User, bool, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, p queue.Payload) (string, error)
}

type Deps struct {
	Cache     *cache.Cache
	Identity  Identity
	Proposals ProposalSource
	Propdates PropdateSource
	Users     UserDirectory
	Queue     Enqueuer
	Log       logx.Logger
	Now       func() time.Time
}

type Config struct {
	// Lookback overrides DefaultLookback per category.
	Lookback map[Category]time.Duration
	// MaxInviteOwners caps token holdings read per chain by the invites job.
	MaxInviteOwners int
	// UserMaxAge bounds cached address-to-user lookups.
	UserMaxAge time.Duration
}

// Result summarizes one poll.
type Result struct {
	Category   Category
	Candidates int
	Followers  int
	Enqueued   int
}

type Runner struct {
	d   Deps
	cfg Config
	log logx.Logger
}

func NewRunner(cfg Config, d Deps) *Runner {
	if d.Now == nil {
		d.Now = time.Now
	}
	if cfg.UserMaxAge <= 0 {
		cfg.UserMaxAge = cache.DefaultMaxAge
	}
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{d: d, cfg: cfg, log: log}
}

func (r *Runner) lookback(c Category) time.Duration {
	if d, ok := r.cfg.Lookback[c]; ok && d > 0 {
		return d
	}
	return DefaultLookback[c]
}

// Run polls one category and enqueues what its followers have not been
// told yet.
func (r *Runner) Run(ctx context.Context, c Category) (res Result, err error) {
	start := r.d.Now()
	defer func() {
		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
		case res.Candidates == 0:
			outcome = "empty"
		}
		metrics.RecordPoll(string(c), time.Since(start), outcome)
	}()

	if c == Invites {
		return r.invite(ctx)
	}
	return r.notify(ctx, c, start)
}

func (r *Runner) notify(ctx context.Context, c Category, start time.Time) (Result, error) {
	res := Result{Category: c}
	log := r.log.With(logx.String("category", string(c)))
	now := start.Unix()

	since, ok, err := cache.Get[int64](ctx, r.d.Cache, WatermarkKey(c), cache.Forever)
	if err != nil {
		return res, fmt.Errorf("load watermark: %w", err)
	}
	if !ok {
		since = start.Add(-r.lookback(c)).Unix()
	}

	cands, err := r.candidates(ctx, c, since, now)
	if err != nil {
		return res, err
	}
	res.Candidates = len(cands)
	if len(cands) == 0 {
		log.Info("no candidates", logx.Int64("since", since))
		return res, nil
	}
	log.Info("candidates fetched", logx.Int("count", len(cands)), logx.Int64("since", since))

	self, err := r.d.Identity.SelfID(ctx)
	if err != nil {
		return res, err
	}
	followers, err := r.d.Identity.FollowerIDs(ctx, self)
	if err != nil {
		return res, err
	}

	for _, f := range followers {
		n, err := r.notifyFollower(ctx, c, f, cands, now)
		res.Enqueued += n
		if err != nil {
			return res, err
		}
		res.Followers++
	}

	if err := cache.Set(ctx, r.d.Cache, WatermarkKey(c), now); err != nil {
		return res, fmt.Errorf("save watermark: %w", err)
	}
	log.Info("poll finished", logx.Int("followers", res.Followers), logx.Int("enqueued", res.Enqueued))
	return res, nil
}

func (r *Runner) notifyFollower(ctx context.Context, c Category, follower int64, cands []Candidate, now int64) (int, error) {
	log := r.log.With(logx.String("category", string(c)), logx.Int64("follower", follower))

	addrs, err := r.d.Identity.VerifiedAddresses(ctx, follower)
	if err != nil {
		return 0, err
	}
	addrs = identity.FilterValidAddresses(addrs)
	if len(addrs) == 0 {
		log.Debug("no valid addresses, skipping")
		return 0, nil
	}
	daos, ok, err := r.d.Identity.DAOMemberships(ctx, follower, addrs)
	if err != nil {
		return 0, err
	}
	if !ok || len(daos) == 0 {
		log.Debug("no dao memberships, skipping")
		return 0, nil
	}

	key := DedupKey(c, follower)
	dedup, _, err := cache.Get[DedupSet](ctx, r.d.Cache, key, cache.Forever)
	if err != nil {
		return 0, err
	}
	notes, next := Plan(follower, cands, daos, dedup, now)
	if len(notes) == 0 && len(next) == len(dedup) {
		return 0, nil
	}

	enqueued := 0
	var enqErr error
	for _, n := range notes {
		if _, enqErr = r.d.Queue.Enqueue(ctx, n); enqErr != nil {
			break
		}
		enqueued++
	}
	// Only what actually reached the queue counts as notified.
	for _, n := range notes[enqueued:] {
		delete(next, eventID(n))
	}
	if err := cache.Set(ctx, r.d.Cache, key, next); err != nil {
		return enqueued, errors.Join(enqErr, fmt.Errorf("save dedup set: %w", err))
	}
	if enqErr != nil {
		return enqueued, enqErr
	}
	if enqueued > 0 {
		log.Info("notifications enqueued", logx.Int("count", enqueued))
	}
	return enqueued, nil
}

func (r *Runner) candidates(ctx context.Context, c Category, since, now int64) ([]Candidate, error) {
	var (
		recs []chain.Record[builder.Proposal]
		err  error
		kind queue.NotificationKind
	)
	switch c {
	case Proposals:
		kind = queue.KindProposal
		recs, err = r.d.Proposals.NewProposals(ctx, since)
	case Voting:
		kind = queue.KindVoting
		recs, err = r.d.Proposals.VotingProposals(ctx, since, now)
	case Ending:
		kind = queue.KindEnding
		recs, err = r.d.Proposals.EndingProposals(ctx, max(since, now), now+int64(endingHorizon/time.Second))
	case Updates:
		return r.propdateCandidates(ctx, since)
	default:
		return nil, fmt.Errorf("category %q has no candidates", c)
	}
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(recs))
	for _, rec := range recs {
		p := rec.Value
		out = append(out, Candidate{
			ID:          strings.ToLower(p.ID),
			DAOID:       strings.ToLower(p.DAO.ID),
			Kind:        kind,
			ConcludesAt: p.VoteEnd.Unix(),
			Proposal:    proposalInfo(p, rec.Chain),
		})
	}
	return out, nil
}

func (r *Runner) propdateCandidates(ctx context.Context, since int64) ([]Candidate, error) {
	recs, err := r.d.Propdates.Propdates(ctx, since)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(recs))
	for _, rec := range recs {
		pd := rec.Value
		prop, ok, err := r.d.Identity.ProposalByID(ctx, rec.Chain.ChainID, pd.ProposalID)
		if err != nil {
			return nil, err
		}
		if !ok {
			r.log.Warn("propdate for unknown proposal, skipping",
				logx.String("propdate", pd.ID), logx.String("proposal", pd.ProposalID), logx.String("chain", rec.Chain.Name))
			continue
		}
		out = append(out, Candidate{
			ID:          strings.ToLower(pd.ID),
			DAOID:       strings.ToLower(prop.DAO.ID),
			Kind:        queue.KindPropdate,
			ConcludesAt: pd.TimeCreated + int64(propdateRetention/time.Second),
			Proposal:    proposalInfo(prop, rec.Chain),
			Propdate: &queue.PropdateInfo{
				ID:          strings.ToLower(pd.ID),
				Content:     pd.Content,
				MilestoneID: pd.MilestoneID,
				CreatedAt:   pd.TimeCreated,
			},
		})
	}
	return out, nil
}

func proposalInfo(p builder.Proposal, ep chain.Endpoint) queue.ProposalInfo {
	name := ep.Name
	if name == "" {
		name = chain.NameOf(ep.ChainID)
	}
	return queue.ProposalInfo{
		ID:             strings.ToLower(p.ID),
		ProposalNumber: p.ProposalNumber,
		Title:          p.Title,
		DAOID:          strings.ToLower(p.DAO.ID),
		DAOName:        p.DAO.Name,
		ChainID:        ep.ChainID,
		ChainName:      name,
		CreatedAt:      p.TimeCreated.Unix(),
		VoteStart:      p.VoteStart.Unix(),
		VoteEnd:        p.VoteEnd.Unix(),
	}
}
