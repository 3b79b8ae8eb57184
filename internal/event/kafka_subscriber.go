package event

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const (
	HeaderSchemaID  = "schemaId"
	HeaderPublisher = "publisher"
)

var errStreamClosed = errors.New("kafka: stream closed")

// messageReader is the part of *kafka.Reader a stream consumes.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type KafkaSubscriber struct {
	brokers []string
	topic   string
	log     logrus.FieldLogger

	// openReaders returns one reader per partition, positioned at the start
	// of the topic
	openReaders func(ctx context.Context) ([]messageReader, error)

	mu      sync.Mutex
	streams map[Filter]*stream
}

func NewKafkaSubscriber(brokers []string, topic string, log logrus.FieldLogger) *KafkaSubscriber {
	ks := &KafkaSubscriber{
		brokers: brokers,
		topic:   topic,
		log:     log,
		streams: make(map[Filter]*stream),
	}
	ks.openReaders = ks.partitionReaders
	return ks
}

/*
Subscriptions with the same filter share one stream: a set of groupless
readers, one per partition, that read the topic from its first offset. The
stream keeps every matching item it has decoded and replays them to each new
subscription before live items, so a vote feed opened late still sees the
votes published before it, the push equivalent of the full snapshot a poll
returns. Items already applied are dropped later by the reconciler.

No consumer group is joined, nothing is committed and nothing is left on the
broker once the last subscription of a stream goes away.
*/
func (ks *KafkaSubscriber) Subscribe(ctx context.Context, f Filter, onEvent func(raw any)) (Subscription, error) {
	if len(ks.brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}

	// a stream may close between lookup and attach, the second pass opens
	// a fresh one
	for attempt := 0; attempt < 2; attempt++ {
		st, err := ks.stream(ctx, f)
		if err != nil {
			return nil, err
		}
		sub := &kafkaSubscription{
			stream:  st,
			onEvent: onEvent,
			done:    make(chan struct{}),
		}
		if err := st.attach(sub); err != nil {
			if errors.Is(err, errStreamClosed) {
				continue
			}
			return nil, err
		}
		return sub, nil
	}
	return nil, errStreamClosed
}

func (ks *KafkaSubscriber) stream(ctx context.Context, f Filter) (*stream, error) {
	ks.mu.Lock()
	st, ok := ks.streams[f]
	ks.mu.Unlock()
	if ok && !st.isClosed() {
		return st, nil
	}

	readers, err := ks.openReaders(ctx)
	if err != nil {
		return nil, err
	}
	fresh := newStream(ks, f, readers, ks.log.WithField("schema_id", f.SchemaID))

	ks.mu.Lock()
	if st, ok := ks.streams[f]; ok && !st.isClosed() {
		ks.mu.Unlock()
		fresh.closeReaders()
		return st, nil
	}
	ks.streams[f] = fresh
	ks.mu.Unlock()

	fresh.start()
	return fresh, nil
}

func (ks *KafkaSubscriber) forget(st *stream) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.streams[st.filter] == st {
		delete(ks.streams, st.filter)
	}
}

// partitionReaders dials the broker so that an unreachable cluster is a
// setup error, letting the caller fall back to polling instead of waiting on
// a reader that retries forever.
func (ks *KafkaSubscriber) partitionReaders(ctx context.Context) ([]messageReader, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := kafka.DialContext(dialCtx, "tcp", ks.brokers[0])
	if err != nil {
		return nil, errors.Wrapf(err, "kafka: dial %s", ks.brokers[0])
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions(ks.topic)
	if err != nil {
		return nil, errors.Wrapf(err, "kafka: read partitions of %s", ks.topic)
	}
	if len(partitions) == 0 {
		return nil, errors.Errorf("kafka: topic %s has no partitions", ks.topic)
	}

	readers := make([]messageReader, 0, len(partitions))
	for _, p := range partitions {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:   ks.brokers,
			Topic:     ks.topic,
			Partition: p.ID,
			MinBytes:  1,
			MaxBytes:  10e6, // 10mb
			MaxWait:   500 * time.Millisecond,
		})
		if err := r.SetOffset(kafka.FirstOffset); err != nil {
			r.Close()
			for _, open := range readers {
				open.Close()
			}
			return nil, errors.Wrapf(err, "kafka: seek partition %d", p.ID)
		}
		readers = append(readers, r)
	}
	return readers, nil
}

type stream struct {
	owner   *KafkaSubscriber
	filter  Filter
	readers []messageReader
	log     logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	mu        sync.Mutex
	history   []any
	listeners map[*kafkaSubscription]struct{}
	closed    bool

	stopOnce sync.Once
	stopErr  error
}

func newStream(owner *KafkaSubscriber, f Filter, readers []messageReader, log logrus.FieldLogger) *stream {
	ctx, cancel := context.WithCancel(context.Background())
	return &stream{
		owner:     owner,
		filter:    f,
		readers:   readers,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		listeners: make(map[*kafkaSubscription]struct{}),
	}
}

func (st *stream) isClosed() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.closed
}

func (st *stream) start() {
	msgs := make(chan kafka.Message)
	errc := make(chan error, len(st.readers))
	for _, r := range st.readers {
		st.wg.Add(1)
		go func(r messageReader) {
			defer st.wg.Done()
			for {
				msg, err := r.ReadMessage(st.ctx)
				if err != nil {
					errc <- err
					return
				}
				select {
				case msgs <- msg:
				case <-st.ctx.Done():
					return
				}
			}
		}(r)
	}
	go st.dispatch(msgs, errc)
}

func (st *stream) dispatch(msgs <-chan kafka.Message, errc <-chan error) {
	defer close(st.done)
	for {
		select {
		case <-st.ctx.Done():
			return

		case err := <-errc:
			// Canceled or EOF means the stream is being stopped, anything
			// else ends every subscription and is reported through Err.
			if st.ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return
			}
			st.fail(errors.Wrap(err, "kafka: read message"))
			go st.stop()
			return

		case msg := <-msgs:
			if !Matches(msg.Headers, st.filter) {
				continue
			}
			raw, err := Decode(msg.Value)
			if err != nil {
				st.log.WithError(err).WithFields(logrus.Fields{
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Warn("skipping undecodable stream item")
				continue
			}
			st.deliver(raw)
		}
	}
}

func (st *stream) deliver(raw any) {
	st.mu.Lock()
	st.history = append(st.history, raw)
	listeners := make([]*kafkaSubscription, 0, len(st.listeners))
	for l := range st.listeners {
		listeners = append(listeners, l)
	}
	st.mu.Unlock()

	for _, l := range listeners {
		l.deliver(raw)
	}
}

// attach registers sub and replays the history to it. Live items wait on
// sub's delivery lock until the replay is over, so sub sees them in order.
func (st *stream) attach(sub *kafkaSubscription) error {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return errStreamClosed
	}
	history := make([]any, len(st.history))
	copy(history, st.history)
	st.listeners[sub] = struct{}{}
	st.mu.Unlock()

	for _, raw := range history {
		sub.onEvent(raw)
	}
	return nil
}

// detach removes sub and stops the stream once nobody listens.
func (st *stream) detach(sub *kafkaSubscription) error {
	st.mu.Lock()
	delete(st.listeners, sub)
	last := len(st.listeners) == 0
	if last {
		st.closed = true
	}
	st.mu.Unlock()

	if !last {
		return nil
	}
	st.owner.forget(st)
	return st.stop()
}

func (st *stream) fail(err error) {
	st.owner.forget(st)

	st.mu.Lock()
	st.closed = true
	listeners := make([]*kafkaSubscription, 0, len(st.listeners))
	for l := range st.listeners {
		listeners = append(listeners, l)
	}
	st.mu.Unlock()

	for _, l := range listeners {
		l.end(err)
	}
}

func (st *stream) stop() error {
	st.stopOnce.Do(func() {
		st.cancel()
		<-st.done
		st.wg.Wait()
		st.stopErr = st.closeReaders()
	})
	return st.stopErr
}

func (st *stream) closeReaders() error {
	var first error
	for _, r := range st.readers {
		if err := r.Close(); err != nil && first == nil {
			first = errors.Wrap(err, "failed to close kafka reader")
		}
	}
	return first
}

type kafkaSubscription struct {
	stream  *stream
	onEvent func(raw any)

	// mu serializes deliveries and guards closed
	mu     sync.Mutex
	closed bool

	done    chan struct{}
	endOnce sync.Once
	errMu   sync.Mutex
	err     error
}

func (s *kafkaSubscription) deliver(raw any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.onEvent(raw)
}

func (s *kafkaSubscription) end(err error) {
	s.endOnce.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		close(s.done)
	})
}

func (s *kafkaSubscription) Done() <-chan struct{} { return s.done }

func (s *kafkaSubscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *kafkaSubscription) Unsubscribe() error {
	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.mu.Unlock()
	if already {
		return nil
	}
	s.end(nil)
	return s.stream.detach(s)
}

// Matches reports whether a message carrying headers passes f.
func Matches(headers []kafka.Header, f Filter) bool {
	var schemaID, publisher string
	for _, h := range headers {
		switch h.Key {
		case HeaderSchemaID:
			schemaID = string(h.Value)
		case HeaderPublisher:
			publisher = string(h.Value)
		}
	}
	if f.SchemaID != "" && !strings.EqualFold(schemaID, f.SchemaID) {
		return false
	}
	if f.Publisher != "" && !strings.EqualFold(publisher, f.Publisher) {
		return false
	}
	return true
}

// Decode parses a stream item body, keeping large integers as json.Number.
func Decode(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "decode stream item")
	}
	return raw, nil
}
