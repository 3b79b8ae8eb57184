package reconcile

import (
	"sync"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/Guizzs26/dao_governance_stream/internal/model"
)

func fixedClock(sec int64) func() time.Time {
	return func() time.Time { return time.Unix(sec, 0) }
}

func TestProposalFirstWriteWins(t *testing.T) {
	r := New(WithClock(fixedClock(1000)))

	assert.Assert(t, r.ApplyProposalEvent(model.Fields{"proposalId": "p1", "title": "A", "proposer": "0xA"}))
	assert.Assert(t, !r.ApplyProposalEvent(model.Fields{"proposalId": "p1", "title": "B", "proposer": "0xB"}))
	assert.Assert(t, !r.ApplyProposalEvent(model.Fields{"proposalId": "p1"}))

	ps := r.Proposals()
	assert.Assert(t, is.Len(ps, 1))
	assert.DeepEqual(t, ps[0], model.Proposal{ID: "p1", Title: "A", Proposer: "0xA", CreatedAt: 1000})
}

func TestProposalCreatedAtUsesEventTimestamp(t *testing.T) {
	r := New(WithClock(fixedClock(1000)))
	r.ApplyProposalEvent(model.Fields{"proposalId": "p1", "timestamp": int64(500)})

	p, ok := r.Proposal("p1")
	assert.Assert(t, ok)
	assert.Equal(t, p.CreatedAt, int64(500))
}

func TestProposalOrderIsInsertionOrder(t *testing.T) {
	r := New()
	for _, id := range []string{"p3", "p1", "p2", "p1"} {
		r.ApplyProposalEvent(model.Fields{"proposalId": id})
	}
	var ids []string
	for _, p := range r.Proposals() {
		ids = append(ids, p.ID)
	}
	assert.DeepEqual(t, ids, []string{"p3", "p1", "p2"})
}

func TestVoteNotDoubleCounted(t *testing.T) {
	r := New()
	r.ApplyProposalEvent(model.Fields{"proposalId": "p1", "title": "A"})

	vote := model.Fields{"proposalId": "p1", "voter": "0xV", "support": true, "timestamp": int64(100)}
	assert.Assert(t, r.ApplyVoteEvent(vote))
	assert.Assert(t, !r.ApplyVoteEvent(vote))

	p, _ := r.Proposal("p1")
	assert.Equal(t, p.VoteCount, 1)
	assert.Equal(t, p.TotalVotes, 1)
	assert.Assert(t, is.Len(r.AllVotes(), 1))
}

func TestVoteTally(t *testing.T) {
	r := New()
	r.ApplyProposalEvent(model.Fields{"proposalId": "p1"})
	r.ApplyVoteEvent(model.Fields{"proposalId": "p1", "voter": "a", "support": true, "timestamp": int64(1)})
	r.ApplyVoteEvent(model.Fields{"proposalId": "p1", "voter": "b", "support": false, "timestamp": int64(2)})
	r.ApplyVoteEvent(model.Fields{"proposalId": "p1", "voter": "c", "support": true, "timestamp": int64(3)})

	tally, ok := r.Tally("p1")
	assert.Assert(t, ok)
	assert.DeepEqual(t, tally, model.Tally{For: 2, Against: 1, Total: 3})

	_, ok = r.Tally("missing")
	assert.Assert(t, !ok)
}

func TestOrphanVoteDropsAggregate(t *testing.T) {
	r := New()

	assert.Assert(t, r.ApplyVoteEvent(model.Fields{"proposalId": "p2", "voter": "0xV", "support": true, "timestamp": int64(5)}))
	assert.Assert(t, is.Len(r.Votes("p2"), 1))
	assert.Assert(t, is.Len(r.Proposals(), 0))

	r.ApplyProposalEvent(model.Fields{"proposalId": "p2", "title": "late"})
	p, ok := r.Proposal("p2")
	assert.Assert(t, ok)
	assert.Equal(t, p.VoteCount, 0)
	assert.Equal(t, p.Title, "late")
}

func TestOrphanVoteBuffered(t *testing.T) {
	r := New(WithOrphanBuffering())

	r.ApplyVoteEvent(model.Fields{"proposalId": "p2", "voter": "0xV", "support": true, "timestamp": int64(5)})
	r.ApplyVoteEvent(model.Fields{"proposalId": "p2", "voter": "0xW", "support": false, "timestamp": int64(6)})
	r.ApplyProposalEvent(model.Fields{"proposalId": "p2"})

	tally, _ := r.Tally("p2")
	assert.DeepEqual(t, tally, model.Tally{For: 1, Against: 1, Total: 2})

	// replay happens once
	r.ApplyProposalEvent(model.Fields{"proposalId": "p2"})
	tally, _ = r.Tally("p2")
	assert.Equal(t, tally.Total, 2)
}

func TestVoteKeyScope(t *testing.T) {
	apply := func(r *Reconciler) {
		r.ApplyProposalEvent(model.Fields{"proposalId": "p1"})
		r.ApplyProposalEvent(model.Fields{"proposalId": "p2"})
		r.ApplyVoteEvent(model.Fields{"proposalId": "p1", "voter": "0xV", "support": true, "timestamp": int64(9)})
		r.ApplyVoteEvent(model.Fields{"proposalId": "p2", "voter": "0xV", "support": true, "timestamp": int64(9)})
	}

	legacy := New()
	apply(legacy)
	assert.Assert(t, is.Len(legacy.AllVotes(), 1))
	p2, _ := legacy.Proposal("p2")
	assert.Equal(t, p2.VoteCount, 0)

	scoped := New(WithProposalScopedKeys())
	apply(scoped)
	assert.Assert(t, is.Len(scoped.AllVotes(), 2))
	p2, _ = scoped.Proposal("p2")
	assert.Equal(t, p2.VoteCount, 1)
}

func TestVoteDefaults(t *testing.T) {
	r := New(WithClock(fixedClock(4242)))
	assert.Assert(t, r.ApplyVoteEvent(model.Fields{"proposalId": "p1", "support": "true"}))

	votes := r.Votes("p1")
	assert.Assert(t, is.Len(votes, 1))
	assert.DeepEqual(t, votes[0], model.Vote{ProposalID: "p1", Voter: "", Support: true, Timestamp: 4242})
}

func TestRejectedEvents(t *testing.T) {
	var rejected []string
	r := New(WithStrictVotes(), WithRejectHook(func(kind string, _ model.Fields) {
		rejected = append(rejected, kind)
	}))

	assert.Assert(t, !r.ApplyProposalEvent(model.Fields{}))
	assert.Assert(t, !r.ApplyProposalEvent(model.Fields{"title": "no id"}))
	assert.Assert(t, !r.ApplyVoteEvent(model.Fields{"voter": "0xV"}))
	assert.Assert(t, !r.ApplyVoteEvent(model.Fields{"proposalId": "p1"}))

	assert.DeepEqual(t, rejected, []string{KindProposal, KindProposal, KindVote, KindVote})
	assert.Equal(t, r.Snapshot().Votes, 0)
}

func TestAccessorsReturnCopies(t *testing.T) {
	r := New()
	r.ApplyProposalEvent(model.Fields{"proposalId": "p1", "title": "A"})
	r.ApplyVoteEvent(model.Fields{"proposalId": "p1", "voter": "0xV", "support": true, "timestamp": int64(1)})

	ps := r.Proposals()
	ps[0].Title = "mutated"
	votes := r.AllVotes()
	votes[0].Voter = "mutated"
	byProposal := r.Votes("p1")
	byProposal[0].Support = false

	p, _ := r.Proposal("p1")
	assert.Equal(t, p.Title, "A")
	assert.Equal(t, r.AllVotes()[0].Voter, "0xV")
	assert.Assert(t, r.Votes("p1")[0].Support)
}

func TestSubscribeReceivesViews(t *testing.T) {
	r := New()
	var views []model.View
	unsubscribe := r.Subscribe(func(v model.View) { views = append(views, v) })

	r.ApplyProposalEvent(model.Fields{"proposalId": "p1"})
	r.ApplyProposalEvent(model.Fields{"proposalId": "p1"}) // no change, no view
	r.ApplyVoteEvent(model.Fields{"proposalId": "p1", "voter": "0xV", "support": true, "timestamp": int64(1)})

	assert.Assert(t, is.Len(views, 2))
	assert.Equal(t, views[1].Proposals[0].VoteCount, 1)
	assert.Equal(t, views[1].Votes, 1)

	unsubscribe()
	unsubscribe()
	r.ApplyProposalEvent(model.Fields{"proposalId": "p2"})
	assert.Assert(t, is.Len(views, 2))
}

func TestConcurrentApply(t *testing.T) {
	r := New()
	r.ApplyProposalEvent(model.Fields{"proposalId": "p1"})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// every worker redelivers the same 50 votes
			for i := 0; i < 50; i++ {
				r.ApplyVoteEvent(model.Fields{"proposalId": "p1", "voter": "v", "support": true, "timestamp": int64(i)})
			}
		}()
	}
	wg.Wait()

	p, _ := r.Proposal("p1")
	assert.Equal(t, p.VoteCount, 50)
	assert.Assert(t, is.Len(r.AllVotes(), 50))
}
