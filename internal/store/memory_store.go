package store

import (
	"context"
	"sync"

	"github.com/Guizzs26/dao_governance_stream/internal/model"
)

// MemoryStore is an ItemStore for running without Redis. It applies the
// same one-vote-per-voter rule.
type MemoryStore struct {
	mu        sync.RWMutex
	order     []string
	proposals map[string]ProposalRecord
	votes     map[string][]model.Vote
	voters    map[string]map[string]bool
	results   map[string]map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		proposals: make(map[string]ProposalRecord),
		votes:     make(map[string][]model.Vote),
		voters:    make(map[string]map[string]bool),
		results:   make(map[string]map[string]int),
	}
}

func (ms *MemoryStore) AddProposal(_ context.Context, p ProposalRecord) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.proposals[p.ProposalID]; ok {
		return false, nil
	}
	ms.proposals[p.ProposalID] = p
	ms.order = append(ms.order, p.ProposalID)
	return true, nil
}

func (ms *MemoryStore) AddVote(_ context.Context, v model.Vote) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.voters[v.ProposalID]; !ok {
		ms.voters[v.ProposalID] = make(map[string]bool)
		ms.results[v.ProposalID] = make(map[string]int)
	}
	if ms.voters[v.ProposalID][v.Voter] {
		return false, nil
	}
	ms.voters[v.ProposalID][v.Voter] = true
	ms.votes[v.ProposalID] = append(ms.votes[v.ProposalID], v)
	ms.results[v.ProposalID][option(v.Support)]++
	return true, nil
}

func (ms *MemoryStore) Proposals(context.Context) ([]ProposalRecord, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make([]ProposalRecord, 0, len(ms.order))
	for _, id := range ms.order {
		out = append(out, ms.proposals[id])
	}
	return out, nil
}

func (ms *MemoryStore) Proposal(_ context.Context, id string) (ProposalRecord, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	p, ok := ms.proposals[id]
	if !ok {
		return ProposalRecord{}, ErrNotFound
	}
	return p, nil
}

func (ms *MemoryStore) Votes(_ context.Context, proposalID string) ([]model.Vote, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make([]model.Vote, len(ms.votes[proposalID]))
	copy(out, ms.votes[proposalID])
	return out, nil
}

func (ms *MemoryStore) HasVoted(_ context.Context, proposalID, voter string) (bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.voters[proposalID][voter], nil
}

func (ms *MemoryStore) GetResults(_ context.Context, proposalID string) (map[string]int, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make(map[string]int, len(ms.results[proposalID]))
	for k, v := range ms.results[proposalID] {
		out[k] = v
	}
	return out, nil
}

func (ms *MemoryStore) Close() error { return nil }
