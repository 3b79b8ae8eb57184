package processing

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Guizzs26/dao_governance_stream/internal/model"
	"github.com/Guizzs26/dao_governance_stream/internal/normalize"
	"github.com/Guizzs26/dao_governance_stream/internal/reconcile"
	"github.com/Guizzs26/dao_governance_stream/internal/transport"
)

// Feeds is the part of transport.Selector the processor needs.
type Feeds interface {
	OpenProposalFeed(onEvent func(raw any)) transport.CancelFunc
	OpenVoteFeed(proposalID string, onEvent func(raw any)) transport.CancelFunc
}

// Processor wires feeds to the reconciler: it follows the proposal feed and
// opens one vote feed per proposal it learns about.
type Processor struct {
	feeds       Feeds
	reconciler  *reconcile.Reconciler
	log         logrus.FieldLogger
	reportEvery time.Duration

	mu        sync.Mutex
	voteFeeds map[string]transport.CancelFunc
	stopped   bool
}

func NewProcessor(f Feeds, r *reconcile.Reconciler, log logrus.FieldLogger) *Processor {
	return &Processor{
		feeds:       f,
		reconciler:  r,
		log:         log,
		reportEvery: 15 * time.Second,
		voteFeeds:   make(map[string]transport.CancelFunc),
	}
}

// Run blocks until ctx is done, then closes every feed it opened.
func (p *Processor) Run(ctx context.Context) error {
	cancelProposals := p.feeds.OpenProposalFeed(p.handleProposal)
	defer p.stop(cancelProposals)

	rTicker := time.NewTicker(p.reportEvery)
	defer rTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("processor received signal to stop")
			return nil
		case <-rTicker.C:
			p.printResults()
		}
	}
}

func (p *Processor) handleProposal(raw any) {
	fields := normalize.ProposalEvent(raw)
	if !p.reconciler.ApplyProposalEvent(fields) {
		return
	}
	id := fields.String("proposalId")
	p.log.WithFields(logrus.Fields{"proposal_id": id, "title": fields.String("title")}).Info("new proposal")
	p.watchVotes(id)
}

// watchVotes opens the vote feed for id once.
func (p *Processor) watchVotes(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	if _, ok := p.voteFeeds[id]; ok {
		return
	}
	p.voteFeeds[id] = p.feeds.OpenVoteFeed(id, func(raw any) {
		p.handleVote(id, raw)
	})
}

func (p *Processor) handleVote(proposalID string, raw any) {
	fields := normalize.VoteEvent(raw)
	if fields.String("proposalId") == "" {
		fields["proposalId"] = proposalID
	}
	if p.reconciler.ApplyVoteEvent(fields) {
		p.log.WithFields(logrus.Fields{
			"proposal_id": proposalID,
			"voter":       fields.String("voter"),
			"support":     fields.Bool("support"),
		}).Debug("vote applied")
	}
}

func (p *Processor) stop(cancelProposals transport.CancelFunc) {
	cancelProposals()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	for id, cancel := range p.voteFeeds {
		cancel()
		delete(p.voteFeeds, id)
	}
}

// WatchedProposals returns how many vote feeds are open.
func (p *Processor) WatchedProposals() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.voteFeeds)
}

func (p *Processor) printResults() {
	proposals := p.reconciler.Proposals()

	p.log.Info("--- CURRENT SCORE ---")
	if len(proposals) == 0 {
		p.log.Info("No proposals seen yet")
	}
	for _, pr := range proposals {
		logScore(p.log, pr)
	}
	p.log.Info("--------------------")
}

func logScore(log logrus.FieldLogger, pr model.Proposal) {
	t := pr.Tally()
	log.WithFields(logrus.Fields{
		"proposal_id": pr.ID,
		"for":         t.For,
		"against":     t.Against,
		"total":       t.Total,
	}).Info(pr.Title)
}
