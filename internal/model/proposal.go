package model

// Proposal is the live view of one governance proposal. VoteCount holds the
// accepted votes in favour, TotalVotes every accepted vote that was counted.
type Proposal struct {
	ID         string `json:"proposalId"`
	Title      string `json:"title"`
	Proposer   string `json:"proposer"`
	CreatedAt  int64  `json:"createdAt"`
	VoteCount  int    `json:"voteCount"`
	TotalVotes int    `json:"totalVotes"`
}

type Tally struct {
	For     int `json:"for"`
	Against int `json:"against"`
	Total   int `json:"total"`
}

func (p Proposal) Tally() Tally {
	return Tally{
		For:     p.VoteCount,
		Against: p.TotalVotes - p.VoteCount,
		Total:   p.TotalVotes,
	}
}

// View is a point-in-time copy of the reconciled state handed to display
// consumers.
type View struct {
	Proposals []Proposal `json:"proposals"`
	Votes     int        `json:"votes"`
}
