// Package transport opens proposal and vote feeds. A feed prefers a push
// subscription on the streaming service and falls back to polling the data
// service's read endpoints when push is unavailable or dies.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Guizzs26/dao_governance_stream/internal/event"
	"github.com/Guizzs26/dao_governance_stream/internal/metrics"
	"github.com/Guizzs26/dao_governance_stream/internal/normalize"
	"github.com/Guizzs26/dao_governance_stream/internal/schema"
)

const (
	DefaultProposalInterval = 3000 * time.Millisecond
	DefaultVoteInterval     = 2500 * time.Millisecond

	TopicProposals = "proposals"
	TopicVotes     = "votes"

	ModePush = "push"
	ModePoll = "poll"
)

// CancelFunc stops a feed. It is safe to call more than once.
type CancelFunc func()

// Poller fetches the full current snapshot of a topic.
type Poller interface {
	Proposals(ctx context.Context) ([]map[string]any, error)
	Votes(ctx context.Context, proposalID string) ([]map[string]any, error)
}

// TickerFunc returns a channel ticking every d and a function releasing it.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func systemTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

type Option func(*Selector)

// WithIntervals sets the poll intervals. Non-positive values keep the
// defaults so a feed never busy-loops.
func WithIntervals(proposals, votes time.Duration) Option {
	return func(s *Selector) {
		if proposals > 0 {
			s.proposalInterval = proposals
		}
		if votes > 0 {
			s.voteInterval = votes
		}
	}
}

func WithTicker(fn TickerFunc) Option {
	return func(s *Selector) { s.newTicker = fn }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Selector) { s.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Selector) { s.metrics = m }
}

type Selector struct {
	sub     event.Subscriber
	poller  Poller
	schemas *schema.Cache

	proposalInterval time.Duration
	voteInterval     time.Duration
	newTicker        TickerFunc
	log              logrus.FieldLogger
	metrics          *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a selector. sub and schemas may be nil, in which case every
// feed polls.
func New(sub event.Subscriber, poller Poller, schemas *schema.Cache, opts ...Option) *Selector {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Selector{
		sub:              sub,
		poller:           poller,
		schemas:          schemas,
		proposalInterval: DefaultProposalInterval,
		voteInterval:     DefaultVoteInterval,
		newTicker:        systemTicker,
		log:              logrus.StandardLogger(),
		ctx:              ctx,
		cancel:           cancel,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop()
	}
	return s
}

// OpenProposalFeed delivers every proposal creation event at least once.
func (s *Selector) OpenProposalFeed(onEvent func(raw any)) CancelFunc {
	return s.open(&feed{
		topic:    TopicProposals,
		interval: s.proposalInterval,
		onEvent:  onEvent,
	})
}

// OpenVoteFeed delivers every vote on proposalID at least once. An empty id
// yields a feed that never delivers.
func (s *Selector) OpenVoteFeed(proposalID string, onEvent func(raw any)) CancelFunc {
	if proposalID == "" {
		return func() {}
	}
	return s.open(&feed{
		topic:      TopicVotes,
		proposalID: proposalID,
		interval:   s.voteInterval,
		onEvent:    onEvent,
	})
}

// Close cancels every open feed and waits for their goroutines to return.
func (s *Selector) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Selector) open(f *feed) CancelFunc {
	ctx, cancel := context.WithCancel(s.ctx)
	f.s = s
	f.log = s.log.WithFields(logrus.Fields{"topic": f.topic, "proposal_id": f.proposalID})
	f.seen = make(map[string]struct{})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		f.run(ctx)
	}()

	var once sync.Once
	return func() { once.Do(cancel) }
}

type feed struct {
	s          *Selector
	topic      string
	proposalID string
	interval   time.Duration
	onEvent    func(raw any)
	log        logrus.FieldLogger

	// seen is touched only by the poll loop goroutine
	seen map[string]struct{}
}

func (f *feed) run(ctx context.Context) {
	if sub := f.subscribe(ctx); sub != nil {
		gauge := f.s.metrics.ActiveFeeds.WithLabelValues(ModePush)
		gauge.Inc()
		select {
		case <-ctx.Done():
			gauge.Dec()
			if err := sub.Unsubscribe(); err != nil {
				f.log.WithError(err).Warn("unsubscribe failed")
			}
			return
		case <-sub.Done():
			gauge.Dec()
			f.log.WithError(sub.Err()).Warn("push subscription ended, falling back to polling")
			_ = sub.Unsubscribe()
		}
	}
	f.poll(ctx)
}

// subscribe tries to set up push delivery. Any failure returns nil and the
// feed polls instead.
func (f *feed) subscribe(ctx context.Context) event.Subscription {
	if f.s.sub == nil || f.s.schemas == nil {
		return nil
	}
	ids, err := f.s.schemas.Get(ctx)
	if err != nil {
		f.log.WithError(err).Warn("schema ids unavailable, polling")
		return nil
	}
	filter := event.Filter{SchemaID: ids.ProposalSchemaID, Publisher: ids.Publisher}
	if f.topic == TopicVotes {
		filter.SchemaID = ids.VoteSchemaID
	}

	sub, err := f.s.sub.Subscribe(ctx, filter, func(raw any) {
		if ctx.Err() != nil {
			return
		}
		if f.topic == TopicVotes && normalize.VoteEvent(raw).String("proposalId") != f.proposalID {
			return
		}
		f.onEvent(raw)
	})
	if err != nil {
		f.log.WithError(err).Warn("push subscription unavailable, polling")
		return nil
	}
	if sub == nil {
		return nil
	}
	f.log.WithField("mode", ModePush).Info("feed opened")
	return sub
}

func (f *feed) poll(ctx context.Context) {
	if f.s.poller == nil {
		f.log.Error("no poller configured, feed delivers nothing")
		return
	}
	gauge := f.s.metrics.ActiveFeeds.WithLabelValues(ModePoll)
	gauge.Inc()
	defer gauge.Dec()
	f.log.WithFields(logrus.Fields{"mode": ModePoll, "interval": f.interval}).Info("feed opened")

	f.pollOnce(ctx)

	ticks, stop := f.s.newTicker(f.interval)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			f.pollOnce(ctx)
		}
	}
}

func (f *feed) pollOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	var (
		items []map[string]any
		err   error
	)
	if f.topic == TopicVotes {
		items, err = f.s.poller.Votes(ctx, f.proposalID)
	} else {
		items, err = f.s.poller.Proposals(ctx)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		f.s.metrics.PollErrors.WithLabelValues(f.topic).Inc()
		f.log.WithError(err).Warn("poll failed")
		return
	}

	for _, it := range items {
		// results of a fetch that outlived its feed are dropped
		if ctx.Err() != nil {
			return
		}
		key := f.itemKey(it)
		if key == "" {
			continue
		}
		if _, ok := f.seen[key]; ok {
			continue
		}
		f.seen[key] = struct{}{}
		if f.topic == TopicVotes {
			if _, ok := it["proposalId"]; !ok {
				it["proposalId"] = f.proposalID
			}
		}
		f.onEvent(it)
	}
}

func (f *feed) itemKey(it map[string]any) string {
	if f.topic == TopicVotes {
		return fmt.Sprintf("%v-%v-%v", orEmpty(it["voter"]), orEmpty(it["timestamp"]), orEmpty(it["support"]))
	}
	for _, k := range []string{"proposalId", "id", "proposal_id"} {
		if v, ok := it[k]; ok && v != nil {
			if s := fmt.Sprint(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func orEmpty(v any) any {
	if v == nil {
		return ""
	}
	return v
}
