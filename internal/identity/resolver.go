// Package identity resolves who the bot is, who follows it, which
// addresses those followers verified and which DAOs those addresses hold.
//
// Every stage is cache-aside: a fresh cache hit does no network I/O.
package identity

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"propbot/internal/builder"
	"propbot/internal/cache"
	"propbot/internal/chain"
	"propbot/internal/warpcast"
	logx "propbot/pkg/logx"
)

const selfKey = "user_fid"

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// SocialSource is the Warpcast side.
type SocialSource interface {
	Me(ctx context.Context) (warpcast.User, error)
	Followers(ctx context.Context, fid int64) ([]warpcast.User, error)
	Verifications(ctx context.Context, fid int64) ([]warpcast.Verification, error)
}

// OwnershipSource is the Builder subgraph side.
type OwnershipSource interface {
	DAOsForOwners(ctx context.Context, owners []string) ([]chain.Record[builder.DAO], error)
	ProposalByID(ctx context.Context, chainID int64, id string) (builder.Proposal, bool, error)
}

type Resolver struct {
	cache  *cache.Cache
	social SocialSource
	owners OwnershipSource
	maxAge time.Duration
	log    logx.Logger
}

func NewResolver(c *cache.Cache, social SocialSource, owners OwnershipSource, maxAge time.Duration, log logx.Logger) *Resolver {
	if maxAge <= 0 {
		maxAge = cache.DefaultMaxAge
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{cache: c, social: social, owners: owners, maxAge: maxAge, log: log}
}

func FollowersKey(fid int64) string   { return "followers_fids_" + strconv.FormatInt(fid, 10) }
func AddressesKey(fid int64) string   { return "addresses_" + strconv.FormatInt(fid, 10) }
func MembershipsKey(fid int64) string { return "dao_ids_" + strconv.FormatInt(fid, 10) }
func ProposalKey(id string) string    { return "propdate_" + strings.ToLower(id) }

// SelfID returns the bot's own FID.
func (r *Resolver) SelfID(ctx context.Context) (int64, error) {
	return cache.GetOrLoad(ctx, r.cache, selfKey, r.maxAge, func(ctx context.Context) (int64, error) {
		me, err := r.social.Me(ctx)
		if err != nil {
			return 0, fmt.Errorf("resolve self: %w", err)
		}
		r.log.Info("bot fid resolved", logx.Int64("fid", me.FID))
		return me.FID, nil
	})
}

// FollowerIDs returns every follower of fid.
func (r *Resolver) FollowerIDs(ctx context.Context, fid int64) ([]int64, error) {
	return cache.GetOrLoad(ctx, r.cache, FollowersKey(fid), r.maxAge, func(ctx context.Context) ([]int64, error) {
		users, err := r.social.Followers(ctx, fid)
		if err != nil {
			return nil, fmt.Errorf("followers of %d: %w", fid, err)
		}
		ids := make([]int64, 0, len(users))
		for _, u := range users {
			ids = append(ids, u.FID)
		}
		r.log.Info("followers fetched", logx.Int64("fid", fid), logx.Int("count", len(ids)))
		return ids, nil
	})
}

// VerifiedAddresses returns fid's verified addresses, lowercased and
// unfiltered. Use FilterValidAddresses before querying chains with them.
func (r *Resolver) VerifiedAddresses(ctx context.Context, fid int64) ([]string, error) {
	return cache.GetOrLoad(ctx, r.cache, AddressesKey(fid), r.maxAge, func(ctx context.Context) ([]string, error) {
		vs, err := r.social.Verifications(ctx, fid)
		if err != nil {
			return nil, fmt.Errorf("verifications of %d: %w", fid, err)
		}
		addrs := make([]string, 0, len(vs))
		for _, v := range vs {
			addrs = append(addrs, strings.ToLower(v.Address))
		}
		return addrs, nil
	})
}

// DAOMemberships returns the lowercased DAO IDs fid's addresses hold
// tokens in. With no addresses it never goes to the network and reports
// whatever was cached before; ok is false when nothing was.
func (r *Resolver) DAOMemberships(ctx context.Context, fid int64, addresses []string) ([]string, bool, error) {
	key := MembershipsKey(fid)
	if ids, ok, err := cache.Get[[]string](ctx, r.cache, key, r.maxAge); err != nil || ok {
		return ids, ok, err
	}
	if len(addresses) == 0 {
		return nil, false, nil
	}

	daos, err := r.owners.DAOsForOwners(ctx, addresses)
	if err != nil {
		return nil, false, fmt.Errorf("daos for %d: %w", fid, err)
	}
	ids := make([]string, 0, len(daos))
	for _, d := range daos {
		ids = append(ids, strings.ToLower(d.Value.ID))
	}
	if err := cache.Set(ctx, r.cache, key, ids); err != nil {
		return nil, false, err
	}
	return ids, true, nil
}

// ProposalByID resolves a proposal on one chain. Unknown proposals are
// reported with ok=false and are not cached.
func (r *Resolver) ProposalByID(ctx context.Context, chainID int64, id string) (builder.Proposal, bool, error) {
	key := ProposalKey(id)
	if p, ok, err := cache.Get[builder.Proposal](ctx, r.cache, key, r.maxAge); err != nil || ok {
		return p, ok, err
	}
	p, ok, err := r.owners.ProposalByID(ctx, chainID, id)
	if err != nil || !ok {
		return p, ok, err
	}
	if err := cache.Set(ctx, r.cache, key, p); err != nil {
		return builder.Proposal{}, false, err
	}
	return p, true, nil
}

// FilterValidAddresses keeps entries that look like 0x-prefixed 20-byte
// hex addresses and silently drops the rest.
func FilterValidAddresses(addrs []string) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if addressPattern.MatchString(a) {
			out = append(out, a)
		}
	}
	return out
}
