package event

import (
	"context"

	"github.com/Guizzs26/dao_governance_stream/internal/normalize"
)

// Item is one schema-encoded record written to a stream.
type Item struct {
	SchemaID  string
	Publisher string
	Key       string
	Fields    []normalize.Field
}

type Publisher interface {
	Publish(ctx context.Context, item Item) error
	Close() error
}
