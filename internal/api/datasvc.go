package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/Guizzs26/dao_governance_stream/internal/event"
	"github.com/Guizzs26/dao_governance_stream/internal/model"
	"github.com/Guizzs26/dao_governance_stream/internal/normalize"
	"github.com/Guizzs26/dao_governance_stream/internal/schema"
	"github.com/Guizzs26/dao_governance_stream/internal/store"
)

// DataService accepts published proposals and votes, keeps them in an
// ItemStore for the read endpoints and forwards them to the push stream.
type DataService struct {
	store store.ItemStore
	pub   event.Publisher // nil: read endpoints only
	ids   schema.IDs
	now   func() time.Time
	log   logrus.FieldLogger
}

func NewDataService(s store.ItemStore, pub event.Publisher, ids schema.IDs, log logrus.FieldLogger) *DataService {
	return &DataService{store: s, pub: pub, ids: ids, now: time.Now, log: log}
}

func (d *DataService) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(logRequests(d.log))
	r.HandleFunc("/api/publish/proposal", d.publishProposal).Methods(http.MethodPost)
	r.HandleFunc("/api/publish/vote", d.publishVote).Methods(http.MethodPost)
	r.HandleFunc("/api/read/proposals", d.readProposals).Methods(http.MethodGet)
	r.HandleFunc("/api/read/vote", d.readVotes).Methods(http.MethodGet)
	r.HandleFunc("/api/results", d.results).Methods(http.MethodGet)
	r.HandleFunc("/api/schemas", d.schemas).Methods(http.MethodGet)
	r.HandleFunc("/api/check-vote", d.checkVote).Methods(http.MethodGet)
	return r
}

type publishProposalRequest struct {
	ProposalID string `json:"proposalId"`
	Title      string `json:"title"`
	Proposer   string `json:"proposer"`
}

type publishVoteRequest struct {
	ProposalID string `json:"proposalId"`
	Voter      string `json:"voter"`
	Support    *bool  `json:"support"`
}

type publishResponse struct {
	ProposalID string `json:"proposalId"`
	Streamed   bool   `json:"streamed"`
}

func (d *DataService) publishProposal(w http.ResponseWriter, r *http.Request) {
	var req publishProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	req.ProposalID = strings.TrimSpace(req.ProposalID)
	if req.ProposalID == "" || req.Title == "" || req.Proposer == "" {
		writeError(w, http.StatusBadRequest, "Missing fields", nil)
		return
	}

	rec := store.ProposalRecord{
		ProposalID: req.ProposalID,
		Title:      req.Title,
		Proposer:   req.Proposer,
		Timestamp:  d.now().Unix(),
	}
	created, err := d.store.AddProposal(r.Context(), rec)
	if err != nil {
		d.log.WithError(err).Error("publish proposal")
		writeError(w, http.StatusInternalServerError, "Failed to store proposal", err)
		return
	}
	if !created {
		writeError(w, http.StatusConflict, "Proposal already exists", nil)
		return
	}

	fields := normalize.ProposalFrom(model.Proposal{
		ID:        rec.ProposalID,
		Title:     rec.Title,
		Proposer:  rec.Proposer,
		CreatedAt: rec.Timestamp,
	})
	streamed := d.stream(r.Context(), d.ids.ProposalSchemaID, rec.ProposalID, fields)
	writeJSON(w, http.StatusOK, publishResponse{ProposalID: rec.ProposalID, Streamed: streamed})
}

func (d *DataService) publishVote(w http.ResponseWriter, r *http.Request) {
	var req publishVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	if req.ProposalID == "" || req.Voter == "" || req.Support == nil {
		writeError(w, http.StatusBadRequest, "Missing fields", nil)
		return
	}

	v := model.Vote{
		ProposalID: req.ProposalID,
		Voter:      req.Voter,
		Support:    *req.Support,
		Timestamp:  d.now().Unix(),
	}
	added, err := d.store.AddVote(r.Context(), v)
	if err != nil {
		d.log.WithError(err).Error("publish vote")
		writeError(w, http.StatusInternalServerError, "Failed to store vote", err)
		return
	}
	if !added {
		writeError(w, http.StatusConflict, "Voter already voted on this proposal", nil)
		return
	}

	streamed := d.stream(r.Context(), d.ids.VoteSchemaID, v.ProposalID, normalize.VoteFrom(v))
	writeJSON(w, http.StatusOK, publishResponse{ProposalID: v.ProposalID, Streamed: streamed})
}

// stream forwards an accepted item to the push stream. A failure is only
// logged: the item is stored and reaches dashboards through polling.
func (d *DataService) stream(ctx context.Context, schemaID, key string, fields []normalize.Field) bool {
	if d.pub == nil {
		return false
	}
	err := d.pub.Publish(ctx, event.Item{
		SchemaID:  schemaID,
		Publisher: d.ids.Publisher,
		Key:       key,
		Fields:    fields,
	})
	if err != nil {
		d.log.WithError(err).WithField("proposal_id", key).Warn("stream publish failed, item only available to pollers")
		return false
	}
	return true
}

func (d *DataService) readProposals(w http.ResponseWriter, r *http.Request) {
	items, err := d.store.Proposals(r.Context())
	if err != nil {
		d.log.WithError(err).Error("read proposals")
		writeJSON(w, http.StatusInternalServerError, []store.ProposalRecord{})
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (d *DataService) readVotes(w http.ResponseWriter, r *http.Request) {
	pid := r.URL.Query().Get("proposalId")
	if pid == "" {
		writeError(w, http.StatusBadRequest, "proposalId query required", nil)
		return
	}
	votes, err := d.store.Votes(r.Context(), pid)
	if err != nil {
		d.log.WithError(err).WithField("proposal_id", pid).Error("read votes")
		writeError(w, http.StatusInternalServerError, "Failed to read votes", err)
		return
	}
	writeJSON(w, http.StatusOK, votes)
}

func (d *DataService) results(w http.ResponseWriter, r *http.Request) {
	pid := r.URL.Query().Get("proposalId")
	if pid == "" {
		writeError(w, http.StatusBadRequest, "proposalId query required", nil)
		return
	}
	res, err := d.store.GetResults(r.Context(), pid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read results", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (d *DataService) schemas(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, d.ids)
}

func (d *DataService) checkVote(w http.ResponseWriter, r *http.Request) {
	pid := r.URL.Query().Get("proposalId")
	voter := r.URL.Query().Get("voter")
	if pid == "" || voter == "" {
		writeError(w, http.StatusBadRequest, "Missing parameters", nil)
		return
	}
	voted, err := d.store.HasVoted(r.Context(), pid, voter)
	if err != nil {
		d.log.WithError(err).Warn("check vote")
		voted = false
	}
	writeJSON(w, http.StatusOK, map[string]bool{"hasVoted": voted})
}
