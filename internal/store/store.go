package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/Guizzs26/dao_governance_stream/internal/model"
)

var ErrNotFound = errors.New("not found")

// ProposalRecord is a proposal as published, before any tallying.
type ProposalRecord struct {
	ProposalID string `json:"proposalId"`
	Title      string `json:"title"`
	Proposer   string `json:"proposer"`
	Timestamp  int64  `json:"timestamp"`
}

// ItemStore keeps the published stream items the data service serves from
// its read endpoints. Adds report whether the item was new.
type ItemStore interface {
	AddProposal(ctx context.Context, p ProposalRecord) (bool, error)
	AddVote(ctx context.Context, v model.Vote) (bool, error)
	Proposals(ctx context.Context) ([]ProposalRecord, error)
	Proposal(ctx context.Context, id string) (ProposalRecord, error)
	Votes(ctx context.Context, proposalID string) ([]model.Vote, error)
	HasVoted(ctx context.Context, proposalID, voter string) (bool, error)
	GetResults(ctx context.Context, proposalID string) (map[string]int, error)
	Close() error
}

const (
	OptionFor     = "for"
	OptionAgainst = "against"
)

func option(support bool) string {
	if support {
		return OptionFor
	}
	return OptionAgainst
}
