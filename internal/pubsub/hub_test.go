package pubsub

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/poll"
)

func receive(t *testing.T, ch <-chan []byte) string {
	t.Helper()
	select {
	case b, ok := <-ch:
		assert.Assert(t, ok, "channel closed")
		return string(b)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return ""
	}
}

// waitDrained returns once Run has taken every pending publish. Register is
// only served after the broadcast that drained them has finished.
func waitDrained(t *testing.T, h *Hub) {
	t.Helper()
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		h.mu.Lock()
		n := len(h.pending)
		h.mu.Unlock()
		if n > 0 {
			return poll.Continue("%d topics pending", n)
		}
		return poll.Success()
	})
}

func TestHubBroadcastsToTopic(t *testing.T) {
	logger, _ := test.NewNullLogger()
	h := NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	a := NewClient(h, nil, "view")
	b := NewClient(h, nil, "other")
	h.Register <- a
	h.Register <- b

	h.Publish(&Message{Topic: "view", Data: []byte("v1")})
	assert.Equal(t, receive(t, a.Send), "v1")

	select {
	case m := <-b.Send:
		t.Fatalf("client of another topic got %q", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubReplaysLastMessage(t *testing.T) {
	logger, _ := test.NewNullLogger()
	h := NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	h.Publish(&Message{Topic: "view", Data: []byte("v1")})
	h.Publish(&Message{Topic: "view", Data: []byte("v2")})

	waitDrained(t, h)
	late := NewClient(h, nil, "view")
	h.Register <- late
	assert.Equal(t, receive(t, late.Send), "v2")
}

func TestHubUnregisterClosesSend(t *testing.T) {
	logger, _ := test.NewNullLogger()
	h := NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	c := NewClient(h, nil, "view")
	h.Register <- c
	h.Unregister <- c

	select {
	case _, ok := <-c.Send:
		assert.Assert(t, !ok)
	case <-time.After(time.Second):
		t.Fatal("send channel not closed")
	}
}

func TestHubKeepsNewestOfABurst(t *testing.T) {
	logger, _ := test.NewNullLogger()
	h := NewHub(logger)

	// a startup replay publishes far more states than any queue would hold
	for i := 1; i <= 200; i++ {
		h.Publish(&Message{Topic: "view", Data: []byte(fmt.Sprintf("v%d", i))})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)
	waitDrained(t, h)

	late := NewClient(h, nil, "view")
	assert.Assert(t, h.Join(ctx, late))
	assert.Equal(t, receive(t, late.Send), "v200")
}

func TestHubCoalescesPerTopic(t *testing.T) {
	logger, _ := test.NewNullLogger()
	h := NewHub(logger)

	h.Publish(&Message{Topic: "view", Data: []byte("v1")})
	h.Publish(&Message{Topic: "other", Data: []byte("o1")})
	h.Publish(&Message{Topic: "view", Data: []byte("v2")})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)
	waitDrained(t, h)

	a := NewClient(h, nil, "view")
	b := NewClient(h, nil, "other")
	assert.Assert(t, h.Join(ctx, a))
	assert.Assert(t, h.Join(ctx, b))
	assert.Equal(t, receive(t, a.Send), "v2")
	assert.Equal(t, receive(t, b.Send), "o1")
}

func TestStoppedHubDoesNotBlock(t *testing.T) {
	logger, _ := test.NewNullLogger()
	h := NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	c := NewClient(h, nil, "view")
	assert.Assert(t, h.Join(context.Background(), c))
	cancel()

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}

	left := make(chan struct{})
	go func() {
		// a hijacked connection's context outlives the server
		h.Leave(context.Background(), c)
		close(left)
	}()
	select {
	case <-left:
	case <-time.After(time.Second):
		t.Fatal("Leave blocked on a stopped hub")
	}

	assert.Assert(t, !h.Join(context.Background(), NewClient(h, nil, "view")))
}
