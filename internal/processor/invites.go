package processor

import (
	"context"
	"fmt"
	"strings"

	"propbot/internal/builder"
	"propbot/internal/cache"
	"propbot/internal/chain"
	"propbot/internal/queue"
	logx "propbot/pkg/logx"
)

type holder struct {
	address string
	daos    []queue.DAORef
}

// cachedUser is a resolved (or known-missing) address lookup.
type cachedUser struct {
	FID   int64 `json:"fid"`
	Found bool  `json:"found"`
}

func userKey(address string) string { return "fid_by_address_" + address }

// invite asks DAO token holders who do not follow the bot yet to follow
// it. Each user hears about a given DAO at most once.
func (r *Runner) invite(ctx context.Context) (Result, error) {
	res := Result{Category: Invites}
	log := r.log.With(logx.String("category", string(Invites)))

	owners, err := r.d.Proposals.TokenOwners(ctx, r.cfg.MaxInviteOwners)
	if err != nil {
		return res, err
	}
	holders := groupHolders(owners)
	res.Candidates = len(holders)
	if len(holders) == 0 {
		log.Info("no token owners")
		return res, nil
	}

	self, err := r.d.Identity.SelfID(ctx)
	if err != nil {
		return res, err
	}
	followerIDs, err := r.d.Identity.FollowerIDs(ctx, self)
	if err != nil {
		return res, err
	}
	following := make(map[int64]struct{}, len(followerIDs))
	for _, id := range followerIDs {
		following[id] = struct{}{}
	}

	recipients, err := r.inviteRecipients(ctx, holders, self, following)
	if err != nil {
		return res, err
	}
	res.Followers = len(recipients)

	for _, rc := range recipients {
		key := DedupKey(Invites, rc.fid)
		dedup, _, err := cache.Get[DedupSet](ctx, r.d.Cache, key, cache.Forever)
		if err != nil {
			return res, err
		}
		next := make(DedupSet, len(dedup)+len(rc.daos))
		for id, v := range dedup {
			next[id] = v
		}
		var fresh []queue.DAORef
		for _, d := range rc.daos {
			if next.Has(d.ID) {
				continue
			}
			next[d.ID] = 0
			fresh = append(fresh, d)
		}
		if len(fresh) == 0 {
			continue
		}
		if _, err := r.d.Queue.Enqueue(ctx, &queue.Invitation{Recipient: rc.fid, DAOs: fresh}); err != nil {
			return res, err
		}
		res.Enqueued++
		if err := cache.Set(ctx, r.d.Cache, key, next); err != nil {
			return res, fmt.Errorf("save dedup set: %w", err)
		}
	}
	log.Info("invites finished", logx.Int("holders", len(holders)), logx.Int("enqueued", res.Enqueued))
	return res, nil
}

type recipient struct {
	fid  int64
	daos []queue.DAORef
}

// inviteRecipients maps holder addresses to users and merges the DAOs of
// every address a user verified. Followers, the bot itself and addresses
// without a user are left out. Order is first-seen.
func (r *Runner) inviteRecipients(ctx context.Context, holders []holder, self int64, following map[int64]struct{}) ([]recipient, error) {
	idx := map[int64]int{}
	var out []recipient
	for _, h := range holders {
		u, err := cache.GetOrLoad(ctx, r.d.Cache, userKey(h.address), r.cfg.UserMaxAge, func(ctx context.Context) (cachedUser, error) {
			user, ok, err := r.d.Users.UserByVerification(ctx, h.address)
			if err != nil {
				return cachedUser{}, fmt.Errorf("user for %s: %w", h.address, err)
			}
			return cachedUser{FID: user.FID, Found: ok}, nil
		})
		if err != nil {
			return nil, err
		}
		if !u.Found || u.FID == self {
			continue
		}
		if _, ok := following[u.FID]; ok {
			continue
		}
		i, ok := idx[u.FID]
		if !ok {
			i = len(out)
			idx[u.FID] = i
			out = append(out, recipient{fid: u.FID})
		}
		out[i].daos = appendDAO(out[i].daos, h.daos...)
	}
	return out, nil
}

func appendDAO(dst []queue.DAORef, refs ...queue.DAORef) []queue.DAORef {
	for _, ref := range refs {
		dup := false
		for _, d := range dst {
			if d.ID == ref.ID {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, ref)
		}
	}
	return dst
}

// groupHolders collects DAOs per owner address, both in first-seen order.
func groupHolders(owners []chain.Record[builder.TokenOwner]) []holder {
	idx := map[string]int{}
	var out []holder
	for _, rec := range owners {
		addr := strings.ToLower(rec.Value.Owner)
		if addr == "" {
			continue
		}
		i, ok := idx[addr]
		if !ok {
			i = len(out)
			idx[addr] = i
			out = append(out, holder{address: addr})
		}
		ref := queue.DAORef{ID: strings.ToLower(rec.Value.DAO.ID), Name: rec.Value.DAO.Name, ChainID: rec.Chain.ChainID}
		out[i].daos = appendDAO(out[i].daos, ref)
	}
	return out
}
