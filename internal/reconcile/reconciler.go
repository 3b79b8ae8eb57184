// Package reconcile owns the live governance view. Events may arrive more
// than once, out of order across topics, and from both push and poll
// transports; the Reconciler applies each of them at most once.
package reconcile

import (
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Guizzs26/dao_governance_stream/internal/metrics"
	"github.com/Guizzs26/dao_governance_stream/internal/model"
)

const (
	KindProposal = "proposal"
	KindVote     = "vote"
)

// RejectFunc observes events dropped for missing identity.
type RejectFunc func(kind string, fields model.Fields)

type Option func(*Reconciler)

// WithClock replaces time.Now as the source of observation times.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithProposalScopedKeys dedupes votes on proposalId-voter-timestamp instead
// of voter-timestamp, so one voter voting on two proposals in the same second
// is not collapsed into a single vote.
func WithProposalScopedKeys() Option {
	return func(r *Reconciler) { r.proposalScoped = true }
}

// WithOrphanBuffering holds votes for unknown proposals and counts them once
// the proposal arrives. Without it such votes are kept in the vote list but
// never reach the aggregate.
func WithOrphanBuffering() Option {
	return func(r *Reconciler) { r.bufferOrphans = true }
}

// WithStrictVotes rejects votes without a voter instead of recording them
// under an empty voter.
func WithStrictVotes() Option {
	return func(r *Reconciler) { r.strictVotes = true }
}

func WithRejectHook(fn RejectFunc) Option {
	return func(r *Reconciler) { r.onReject = fn }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Reconciler) { r.log = l }
}

type Reconciler struct {
	now            func() time.Time
	proposalScoped bool
	bufferOrphans  bool
	strictVotes    bool
	onReject       RejectFunc
	metrics        *metrics.Metrics
	log            logrus.FieldLogger

	mu        sync.Mutex
	order     []string
	proposals map[string]*model.Proposal
	votes     []model.Vote
	seen      map[string]struct{}
	orphans   map[string][]model.Vote

	// notifyMu is taken before mu is released so listeners observe views in
	// the order the changes were applied.
	notifyMu  sync.Mutex
	listeners map[int]func(model.View)
	nextID    int
}

func New(opts ...Option) *Reconciler {
	r := &Reconciler{
		now:       time.Now,
		log:       logrus.StandardLogger(),
		proposals: make(map[string]*model.Proposal),
		seen:      make(map[string]struct{}),
		orphans:   make(map[string][]model.Vote),
		listeners: make(map[int]func(model.View)),
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.Nop()
	}
	return r
}

// ApplyProposalEvent records a proposal the first time its id is seen.
// Later events for the same id never overwrite it. It reports whether the
// view changed.
func (r *Reconciler) ApplyProposalEvent(f model.Fields) bool {
	start := time.Now()
	defer r.observe(KindProposal, start)

	id := f.String("proposalId")
	if id == "" {
		r.reject(KindProposal, f)
		return false
	}

	r.mu.Lock()
	if _, ok := r.proposals[id]; ok {
		r.mu.Unlock()
		r.metrics.EventsApplied.WithLabelValues(KindProposal, metrics.ResultDuplicate).Inc()
		return false
	}

	createdAt, ok := f.Int("timestamp")
	if !ok || createdAt <= 0 {
		createdAt = r.now().Unix()
	}
	p := &model.Proposal{
		ID:        id,
		Title:     f.String("title"),
		Proposer:  f.String("proposer"),
		CreatedAt: createdAt,
	}
	r.proposals[id] = p
	r.order = append(r.order, id)

	if buffered := r.orphans[id]; len(buffered) > 0 {
		for _, v := range buffered {
			count(p, v)
		}
		delete(r.orphans, id)
		r.log.WithFields(logrus.Fields{"proposal_id": id, "votes": len(buffered)}).Debug("replayed buffered votes")
	}

	r.metrics.EventsApplied.WithLabelValues(KindProposal, metrics.ResultAccepted).Inc()
	r.publishLocked()
	return true
}

// ApplyVoteEvent records a vote unless its dedupe key was already seen and
// counts it towards the referenced proposal when that proposal is known.
func (r *Reconciler) ApplyVoteEvent(f model.Fields) bool {
	start := time.Now()
	defer r.observe(KindVote, start)

	pid := f.String("proposalId")
	voter := f.String("voter")
	if pid == "" || (r.strictVotes && voter == "") {
		r.reject(KindVote, f)
		return false
	}
	ts, ok := f.Int("timestamp")
	if !ok {
		ts = r.now().Unix()
	}
	v := model.Vote{
		ProposalID: pid,
		Voter:      voter,
		Support:    f.Bool("support"),
		Timestamp:  ts,
	}
	key := r.voteKey(v)

	r.mu.Lock()
	if _, ok := r.seen[key]; ok {
		r.mu.Unlock()
		r.metrics.EventsApplied.WithLabelValues(KindVote, metrics.ResultDuplicate).Inc()
		return false
	}
	r.seen[key] = struct{}{}
	r.votes = append(r.votes, v)

	result := metrics.ResultAccepted
	if p, ok := r.proposals[pid]; ok {
		count(p, v)
	} else {
		result = metrics.ResultOrphan
		if r.bufferOrphans {
			r.orphans[pid] = append(r.orphans[pid], v)
		}
	}

	r.metrics.EventsApplied.WithLabelValues(KindVote, result).Inc()
	r.publishLocked()
	return true
}

func count(p *model.Proposal, v model.Vote) {
	p.TotalVotes++
	if v.Support {
		p.VoteCount++
	}
}

func (r *Reconciler) voteKey(v model.Vote) string {
	key := v.Voter + "-" + strconv.FormatInt(v.Timestamp, 10)
	if r.proposalScoped {
		return v.ProposalID + "-" + key
	}
	return key
}

func (r *Reconciler) reject(kind string, f model.Fields) {
	r.metrics.EventsApplied.WithLabelValues(kind, metrics.ResultRejected).Inc()
	if r.onReject != nil {
		r.onReject(kind, f)
	}
}

func (r *Reconciler) observe(kind string, start time.Time) {
	r.metrics.ProcessingTime.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// Proposals returns the known proposals in first-seen order.
func (r *Reconciler) Proposals() []model.Proposal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.proposalsLocked()
}

func (r *Reconciler) proposalsLocked() []model.Proposal {
	out := make([]model.Proposal, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.proposals[id])
	}
	return out
}

func (r *Reconciler) Proposal(id string) (model.Proposal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proposals[id]
	if !ok {
		return model.Proposal{}, false
	}
	return *p, true
}

func (r *Reconciler) Tally(id string) (model.Tally, bool) {
	p, ok := r.Proposal(id)
	if !ok {
		return model.Tally{}, false
	}
	return p.Tally(), true
}

// Votes returns the accepted votes referencing proposalID, including votes
// that arrived before the proposal itself.
func (r *Reconciler) Votes(proposalID string) []model.Vote {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.Vote{}
	for _, v := range r.votes {
		if v.ProposalID == proposalID {
			out = append(out, v)
		}
	}
	return out
}

func (r *Reconciler) AllVotes() []model.Vote {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Vote, len(r.votes))
	copy(out, r.votes)
	return out
}

func (r *Reconciler) Snapshot() model.View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

func (r *Reconciler) viewLocked() model.View {
	return model.View{Proposals: r.proposalsLocked(), Votes: len(r.votes)}
}

// Subscribe registers fn to receive a fresh view after every change. fn runs
// on the goroutine that applied the event and must not apply events itself.
func (r *Reconciler) Subscribe(fn func(model.View)) (unsubscribe func()) {
	r.notifyMu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.notifyMu.Lock()
			delete(r.listeners, id)
			r.notifyMu.Unlock()
		})
	}
}

// publishLocked must be called with mu held; it releases mu.
func (r *Reconciler) publishLocked() {
	view := r.viewLocked()
	r.notifyMu.Lock()
	r.mu.Unlock()
	defer r.notifyMu.Unlock()
	for _, fn := range r.listeners {
		fn(view)
	}
}
