package api

import (
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/Guizzs26/dao_governance_stream/internal/model"
	"github.com/Guizzs26/dao_governance_stream/internal/pubsub"
)

const TopicView = "view"

// View is the read side of the reconciler.
type View interface {
	Proposals() []model.Proposal
	Proposal(id string) (model.Proposal, bool)
	Votes(proposalID string) []model.Vote
	Snapshot() model.View
}

type Dashboard struct {
	view     View
	hub      *pubsub.Hub
	gatherer prometheus.Gatherer
	origins  []string
	log      logrus.FieldLogger
}

// NewDashboard serves view. origins lists the host patterns allowed to open
// the websocket from a browser; nil allows same-origin only.
func NewDashboard(view View, hub *pubsub.Hub, gatherer prometheus.Gatherer, origins []string, log logrus.FieldLogger) *Dashboard {
	return &Dashboard{view: view, hub: hub, gatherer: gatherer, origins: origins, log: log}
}

func (d *Dashboard) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(logRequests(d.log))
	r.HandleFunc("/api/proposals", d.proposals).Methods(http.MethodGet)
	r.HandleFunc("/api/proposals/{id}", d.proposal).Methods(http.MethodGet)
	r.HandleFunc("/api/proposals/{id}/votes", d.votes).Methods(http.MethodGet)
	r.HandleFunc("/ws", d.stream)
	if d.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// PublishView sends v to every websocket viewer. It is meant to be passed
// to Reconciler.Subscribe.
func (d *Dashboard) PublishView(v model.View) {
	b, err := json.Marshal(v)
	if err != nil {
		d.log.WithError(err).Error("encode view")
		return
	}
	d.hub.Publish(&pubsub.Message{Topic: TopicView, Data: b})
}

type proposalDetail struct {
	model.Proposal
	Tally model.Tally `json:"tally"`
}

func (d *Dashboard) proposals(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, d.view.Proposals())
}

func (d *Dashboard) proposal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, ok := d.view.Proposal(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Proposal not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, proposalDetail{Proposal: p, Tally: p.Tally()})
}

func (d *Dashboard) votes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.view.Votes(mux.Vars(r)["id"]))
}

func (d *Dashboard) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: d.origins})
	if err != nil {
		d.log.WithError(err).Warn("websocket accept")
		return
	}

	ctx := r.Context()
	c := pubsub.NewClient(d.hub, conn, TopicView)
	if !d.hub.Join(ctx, c) {
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}

	go c.WritePump(ctx)
	c.ReadPump(ctx)
}
