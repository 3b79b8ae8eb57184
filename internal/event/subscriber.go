package event

import "context"

// Filter selects the stream items a subscription delivers.
type Filter struct {
	SchemaID  string
	Publisher string // empty accepts every publisher
}

// Subscriber establishes push subscriptions on the streaming service.
// onEvent receives the raw payload of each item, in the order the stream
// produced them.
type Subscriber interface {
	Subscribe(ctx context.Context, f Filter, onEvent func(raw any)) (Subscription, error)
}

type Subscription interface {
	// Done is closed once the subscription stops delivering, either after
	// Unsubscribe or because the underlying stream failed.
	Done() <-chan struct{}
	Err() error
	Unsubscribe() error
}
