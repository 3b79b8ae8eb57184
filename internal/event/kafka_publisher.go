package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type KafkaPublisher struct {
	writer *kafka.Writer
}

// envelope is the body of a stream item. Subscribers hand it unchanged to
// the normalizer, which reads the field list under data.
type envelope struct {
	SchemaID  string `json:"schemaId"`
	Publisher string `json:"publisher,omitempty"`
	Data      any    `json:"data"`
}

/*
Balancer: &kafka.Hash{}: items with the same key (the proposal id) land on
the same partition, so a proposal and its votes keep their relative order
inside one partition.

RequiredAcks: kafka.RequireAll: the write is acknowledged only once every
in-sync replica has it, so an accepted publish survives a leader failover.

Compression: kafka.Snappy: items are small JSON documents that compress well.
*/
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		MaxAttempts:            5,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: w}
}

func (kp *KafkaPublisher) Publish(ctx context.Context, item Item) error {
	msg, err := Message(item)
	if err != nil {
		return err
	}
	if err := kp.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, "failed to write message to kafka")
	}
	return nil
}

// Message encodes item as a kafka message with its schema and publisher in
// headers, so subscribers can filter without decoding the body.
func Message(item Item) (kafka.Message, error) {
	body, err := json.Marshal(envelope{
		SchemaID:  item.SchemaID,
		Publisher: item.Publisher,
		Data:      item.Fields,
	})
	if err != nil {
		return kafka.Message{}, errors.Wrap(err, "failed to marshal stream item")
	}
	return kafka.Message{
		Key:   []byte(item.Key),
		Value: body,
		Headers: []kafka.Header{
			{Key: HeaderSchemaID, Value: []byte(item.SchemaID)},
			{Key: HeaderPublisher, Value: []byte(item.Publisher)},
		},
	}, nil
}

func (kp *KafkaPublisher) Close() error {
	if err := kp.writer.Close(); err != nil {
		return errors.Wrap(err, "failed to close kafka writer")
	}
	return nil
}
