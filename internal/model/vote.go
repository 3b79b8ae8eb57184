package model

type Vote struct {
	ProposalID string `json:"proposalId"`
	Voter      string `json:"voter"`
	Support    bool   `json:"support"`
	Timestamp  int64  `json:"timestamp"` // seconds since epoch
}
