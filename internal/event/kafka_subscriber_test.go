package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus/hooks/test"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/poll"

	"github.com/Guizzs26/dao_governance_stream/internal/model"
	"github.com/Guizzs26/dao_governance_stream/internal/normalize"
)

type fakeReader struct {
	msgs   chan kafka.Message
	errs   chan error
	mu     sync.Mutex
	closed bool
}

func newFakeReader() *fakeReader {
	return &fakeReader{msgs: make(chan kafka.Message, 16), errs: make(chan error, 1)}
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case err := <-r.errs:
		return kafka.Message{}, err
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type recorder struct {
	mu     sync.Mutex
	voters []string
}

func (r *recorder) onEvent(raw any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.voters = append(r.voters, normalize.VoteEvent(raw).String("voter"))
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.voters...)
}

func (r *recorder) waitFor(t *testing.T, n int) {
	t.Helper()
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if got := len(r.seen()); got < n {
			return poll.Continue("%d of %d events", got, n)
		}
		return poll.Success()
	}, poll.WithTimeout(time.Second))
}

func voteMessage(t *testing.T, schemaID, voter string) kafka.Message {
	t.Helper()
	v := model.Vote{ProposalID: "p1", Voter: voter, Support: true, Timestamp: 1}
	msg, err := Message(Item{SchemaID: schemaID, Key: "p1", Fields: normalize.VoteFrom(v)})
	assert.NilError(t, err)
	return msg
}

// newTestSubscriber returns a subscriber whose streams read from a fresh set
// of two partitions each time one is opened.
func newTestSubscriber(t *testing.T) (*KafkaSubscriber, func() [][]*fakeReader) {
	logger, _ := test.NewNullLogger()
	ks := NewKafkaSubscriber([]string{"broker:9092"}, "governance", logger)

	var mu sync.Mutex
	var opened [][]*fakeReader
	ks.openReaders = func(context.Context) ([]messageReader, error) {
		mu.Lock()
		defer mu.Unlock()
		set := []*fakeReader{newFakeReader(), newFakeReader()}
		opened = append(opened, set)
		return []messageReader{set[0], set[1]}, nil
	}
	return ks, func() [][]*fakeReader {
		mu.Lock()
		defer mu.Unlock()
		return append([][]*fakeReader(nil), opened...)
	}
}

func TestSubscriptionsShareOneStream(t *testing.T) {
	ks, opened := newTestSubscriber(t)
	ctx := context.Background()
	filter := Filter{SchemaID: "0xVOTE"}

	first := &recorder{}
	subA, err := ks.Subscribe(ctx, filter, first.onEvent)
	assert.NilError(t, err)
	defer subA.Unsubscribe()

	readers := opened()[0]
	readers[0].msgs <- voteMessage(t, "0xVOTE", "0xA")
	readers[1].msgs <- voteMessage(t, "0xOTHER", "0xIgnored")
	readers[1].msgs <- voteMessage(t, "0xVOTE", "0xB")
	first.waitFor(t, 2)

	// a late subscriber gets the history, then live items
	late := &recorder{}
	subB, err := ks.Subscribe(ctx, filter, late.onEvent)
	assert.NilError(t, err)
	defer subB.Unsubscribe()
	assert.Assert(t, is.Len(opened(), 1), "second subscription opened its own readers")
	assert.Check(t, is.Contains(late.seen(), "0xA"))
	assert.Check(t, is.Contains(late.seen(), "0xB"))

	readers[0].msgs <- voteMessage(t, "0xVOTE", "0xC")
	first.waitFor(t, 3)
	late.waitFor(t, 3)
	assert.Check(t, !contains(first.seen(), "0xIgnored"))
}

func TestLastUnsubscribeClosesReaders(t *testing.T) {
	ks, opened := newTestSubscriber(t)
	ctx := context.Background()
	filter := Filter{SchemaID: "0xVOTE"}

	a, err := ks.Subscribe(ctx, filter, func(any) {})
	assert.NilError(t, err)
	b, err := ks.Subscribe(ctx, filter, func(any) {})
	assert.NilError(t, err)
	readers := opened()[0]

	assert.NilError(t, a.Unsubscribe())
	assert.Check(t, !readers[0].isClosed())

	assert.NilError(t, b.Unsubscribe())
	assert.NilError(t, b.Unsubscribe())
	assert.Check(t, readers[0].isClosed())
	assert.Check(t, readers[1].isClosed())

	// the next subscription starts a new stream
	c, err := ks.Subscribe(ctx, filter, func(any) {})
	assert.NilError(t, err)
	defer c.Unsubscribe()
	assert.Check(t, is.Len(opened(), 2))
}

func TestReaderFailureEndsSubscriptions(t *testing.T) {
	ks, opened := newTestSubscriber(t)
	ctx := context.Background()
	filter := Filter{SchemaID: "0xVOTE"}

	a, err := ks.Subscribe(ctx, filter, func(any) {})
	assert.NilError(t, err)
	b, err := ks.Subscribe(ctx, filter, func(any) {})
	assert.NilError(t, err)

	opened()[0][1].errs <- errors.New("connection reset")

	for _, sub := range []Subscription{a, b} {
		select {
		case <-sub.Done():
		case <-time.After(time.Second):
			t.Fatal("subscription did not end")
		}
		assert.Check(t, is.ErrorContains(sub.Err(), "connection reset"))
		assert.Check(t, sub.Unsubscribe())
	}

	poll.WaitOn(t, func(poll.LogT) poll.Result {
		for _, r := range opened()[0] {
			if !r.isClosed() {
				return poll.Continue("reader still open")
			}
		}
		return poll.Success()
	}, poll.WithTimeout(time.Second))

	// a failed stream is not reused
	c, err := ks.Subscribe(ctx, filter, func(any) {})
	assert.NilError(t, err)
	defer c.Unsubscribe()
	assert.Check(t, is.Len(opened(), 2))
}

func TestSubscribeReportsSetupFailure(t *testing.T) {
	ks, _ := newTestSubscriber(t)
	ks.openReaders = func(context.Context) ([]messageReader, error) {
		return nil, errors.New("kafka: dial broker:9092: refused")
	}
	_, err := ks.Subscribe(context.Background(), Filter{SchemaID: "0xVOTE"}, func(any) {})
	assert.ErrorContains(t, err, "refused")

	empty := NewKafkaSubscriber(nil, "governance", nil)
	_, err = empty.Subscribe(context.Background(), Filter{}, func(any) {})
	assert.ErrorContains(t, err, "no brokers")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
