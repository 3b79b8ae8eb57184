package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/Guizzs26/dao_governance_stream/internal/model"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, errors.Wrap(err, "error parsing redis URL")
	}

	c := redis.NewClient(opts)

	if err := c.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "error connecting to redis")
	}

	return &RedisStore{client: c}, nil
}

const (
	proposalsKey = "gov:proposals"       // hash id -> record json
	orderKey     = "gov:proposals:order" // list of ids in publish order
)

func votesKey(pid string) string   { return fmt.Sprintf("gov:proposal:%s:votes", pid) }
func votersKey(pid string) string  { return fmt.Sprintf("gov:proposal:%s:voters", pid) }
func resultsKey(pid string) string { return fmt.Sprintf("gov:proposal:%s:results", pid) }

// addProposalScript stores a proposal and indexes it in one step. A
// proposal id that is already known leaves both keys untouched.
var addProposalScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then
	return 0
end
local r = redis.pcall('RPUSH', KEYS[2], ARGV[1])
if type(r) == 'table' and r.err then
	return r
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// addVoteScript records a vote, its tally and its voter in one step. The
// voter is added last, so a failed write never marks the voter as done and
// the vote can be published again.
var addVoteScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 1 then
	return 0
end
local r = redis.pcall('RPUSH', KEYS[2], ARGV[2])
if type(r) == 'table' and r.err then
	return r
end
r = redis.pcall('HINCRBY', KEYS[3], ARGV[3], 1)
if type(r) == 'table' and r.err then
	redis.call('RPOP', KEYS[2])
	return r
end
redis.call('SADD', KEYS[1], ARGV[1])
return 1
`)

func (rs *RedisStore) AddProposal(ctx context.Context, p ProposalRecord) (bool, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return false, errors.Wrap(err, "error marshalling proposal")
	}
	created, err := addProposalScript.Run(ctx, rs.client,
		[]string{proposalsKey, orderKey},
		p.ProposalID, string(b),
	).Int()
	if err != nil {
		return false, errors.Wrap(err, "error storing proposal")
	}
	return created == 1, nil
}

// AddVote accepts one vote per voter and proposal. The voter set, the vote
// list and the results hash change together or not at all.
func (rs *RedisStore) AddVote(ctx context.Context, v model.Vote) (bool, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return false, errors.Wrap(err, "error marshalling vote")
	}
	added, err := addVoteScript.Run(ctx, rs.client,
		[]string{votersKey(v.ProposalID), votesKey(v.ProposalID), resultsKey(v.ProposalID)},
		v.Voter, string(b), option(v.Support),
	).Int()
	if err != nil {
		return false, errors.Wrap(err, "error storing vote")
	}
	return added == 1, nil
}

func (rs *RedisStore) Proposals(ctx context.Context) ([]ProposalRecord, error) {
	ids, err := rs.client.LRange(ctx, orderKey, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "error listing proposals")
	}
	out := make([]ProposalRecord, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	vals, err := rs.client.HMGet(ctx, proposalsKey, ids...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "error reading proposals")
	}
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var p ProposalRecord
		if err := json.Unmarshal([]byte(s), &p); err != nil {
			return nil, errors.Wrap(err, "error decoding proposal")
		}
		out = append(out, p)
	}
	return out, nil
}

func (rs *RedisStore) Proposal(ctx context.Context, id string) (ProposalRecord, error) {
	s, err := rs.client.HGet(ctx, proposalsKey, id).Result()
	if errors.Is(err, redis.Nil) {
		return ProposalRecord{}, ErrNotFound
	}
	if err != nil {
		return ProposalRecord{}, errors.Wrap(err, "error reading proposal")
	}
	var p ProposalRecord
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return ProposalRecord{}, errors.Wrap(err, "error decoding proposal")
	}
	return p, nil
}

func (rs *RedisStore) Votes(ctx context.Context, proposalID string) ([]model.Vote, error) {
	raw, err := rs.client.LRange(ctx, votesKey(proposalID), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "error listing votes")
	}
	out := make([]model.Vote, 0, len(raw))
	for _, s := range raw {
		var v model.Vote
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, errors.Wrap(err, "error decoding vote")
		}
		out = append(out, v)
	}
	return out, nil
}

func (rs *RedisStore) HasVoted(ctx context.Context, proposalID, voter string) (bool, error) {
	ok, err := rs.client.SIsMember(ctx, votersKey(proposalID), voter).Result()
	if err != nil {
		return false, errors.Wrap(err, "error checking voter")
	}
	return ok, nil
}

func (rs *RedisStore) GetResults(ctx context.Context, proposalID string) (map[string]int, error) {
	rstr, err := rs.client.HGetAll(ctx, resultsKey(proposalID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "error getting results from redis")
	}

	result := make(map[string]int, len(rstr))
	for optionID, countStr := range rstr {
		count, err := strconv.Atoi(countStr)
		if err != nil {
			return nil, errors.Wrap(err, "error converting count to int")
		}
		result[optionID] = count
	}

	return result, nil
}

func (rs *RedisStore) Close() error {
	if err := rs.client.Close(); err != nil {
		return errors.Wrap(err, "error closing redis client")
	}
	return nil
}
