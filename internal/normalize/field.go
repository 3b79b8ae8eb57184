package normalize

import (
	"time"

	"github.com/Guizzs26/dao_governance_stream/internal/model"
)

// Field is one named value of a schema-encoded stream item, the shape in
// which the data service publishes events.
type Field struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// ProposalEvent normalizes raw and maps the id/proposer aliases used by
// different publishers onto proposalId, title and proposer.
func ProposalEvent(raw any) model.Fields {
	f := Normalize(raw)
	out := model.Fields{
		"proposalId": first(f, "proposalId", "id", "proposal_id"),
		"title":      f.String("title"),
		"proposer":   first(f, "proposer", "sender"),
	}
	if ts, ok := f.Int("timestamp"); ok {
		out["timestamp"] = ts
	}
	return out
}

// VoteEvent normalizes raw into proposalId, voter, support and timestamp.
// A missing timestamp is left out so the caller can substitute its own clock.
func VoteEvent(raw any) model.Fields {
	f := Normalize(raw)
	out := model.Fields{
		"proposalId": first(f, "proposalId", "proposal_id"),
		"voter":      first(f, "voter", "sender"),
		"support":    f.Bool("support"),
	}
	if ts, ok := f.Int("timestamp"); ok {
		out["timestamp"] = ts
	}
	return out
}

// VoteFrom builds the published field list for v.
func VoteFrom(v model.Vote) []Field {
	return []Field{
		{Name: "proposalId", Value: v.ProposalID},
		{Name: "voter", Value: v.Voter},
		{Name: "support", Value: v.Support},
		{Name: "timestamp", Value: v.Timestamp},
	}
}

// ProposalFrom builds the published field list for p.
func ProposalFrom(p model.Proposal) []Field {
	ts := p.CreatedAt
	if ts == 0 {
		ts = time.Now().Unix()
	}
	return []Field{
		{Name: "proposalId", Value: p.ID},
		{Name: "title", Value: p.Title},
		{Name: "proposer", Value: p.Proposer},
		{Name: "timestamp", Value: ts},
	}
}

func first(f model.Fields, keys ...string) string {
	for _, k := range keys {
		if s := f.String(k); s != "" {
			return s
		}
	}
	return ""
}
