package pubsub

import (
	"context"
	"sync"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

type Message struct {
	Topic string
	Data  []byte
}

// one client connected via websocket
type Client struct {
	Hub   *Hub
	Conn  *websocket.Conn
	Send  chan []byte
	Topic string
}

// Hub fans messages out to the clients of a topic. Publishes are coalesced
// per topic: when several arrive before Run gets to them, clients only see
// the newest. The last message of each topic is kept and handed to clients
// when they register, so a new viewer starts from the current state.
type Hub struct {
	Clients    map[string]map[*Client]bool
	Register   chan *Client
	Unregister chan *Client

	mu      sync.Mutex
	pending map[string][]byte
	wake    chan struct{}

	done chan struct{} // closed when Run returns
	last map[string][]byte
	log  logrus.FieldLogger
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		Clients:    make(map[string]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		pending:    make(map[string][]byte),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		last:       make(map[string][]byte),
		log:        log,
	}
}

func NewClient(h *Hub, conn *websocket.Conn, topic string) *Client {
	return &Client{Hub: h, Conn: conn, Send: make(chan []byte, 16), Topic: topic}
}

// Publish records m as the newest message of its topic and never blocks.
// A message still pending for the topic is replaced.
func (h *Hub) Publish(m *Message) {
	h.mu.Lock()
	h.pending[m.Topic] = m.Data
	h.mu.Unlock()

	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Join registers c. It returns false when ctx ends or the hub has stopped.
func (h *Hub) Join(ctx context.Context, c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
	case <-ctx.Done():
	}
	return false
}

// Leave unregisters c unless ctx ends or the hub has stopped first.
func (h *Hub) Leave(ctx context.Context, c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	case <-ctx.Done():
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) takePending() map[string][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pending) == 0 {
		return nil
	}
	out := h.pending
	h.pending = make(map[string][]byte)
	return out
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, conn := range h.Clients {
				for c := range conn {
					close(c.Send)
				}
			}
			h.Clients = make(map[string]map[*Client]bool)
			return

		case client := <-h.Register:
			conn := h.Clients[client.Topic]
			if conn == nil {
				conn = make(map[*Client]bool)
				h.Clients[client.Topic] = conn
			}
			conn[client] = true
			if data, ok := h.last[client.Topic]; ok {
				client.Send <- data
			}

		case client := <-h.Unregister:
			conn := h.Clients[client.Topic]
			if conn != nil {
				if _, ok := conn[client]; ok {
					delete(conn, client)
					close(client.Send)
					if len(conn) == 0 {
						delete(h.Clients, client.Topic)
					}
				}
			}

		case <-h.wake:
			for topic, data := range h.takePending() {
				h.broadcast(topic, data)
			}
		}
	}
}

func (h *Hub) broadcast(topic string, data []byte) {
	h.last[topic] = data
	conn := h.Clients[topic]
	for c := range conn {
		select {
		case c.Send <- data:

		default:
			// slow client, drop it
			h.log.WithField("topic", topic).Warn("client too slow, disconnecting")
			close(c.Send)
			delete(conn, c)
		}
	}
}

// WritePump sends messages from the hub to the WebSocket connection
func (c *Client) WritePump(ctx context.Context) {
	defer func() {
		c.Conn.Close(websocket.StatusNormalClosure, "")
	}()

	for m := range c.Send {
		err := c.Conn.Write(ctx, websocket.MessageText, m)
		if err != nil {
			c.Hub.log.WithError(err).WithField("topic", c.Topic).Warn("error writing to client")
			break
		}
	}
}

// ReadPump listens for messages from the WebSocket connection until the
// client goes away, then unregisters it.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.Hub.Leave(ctx, c)
		c.Conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, _, err := c.Conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				c.Hub.log.WithField("topic", c.Topic).Debug("client disconnected normally")
			} else {
				c.Hub.log.WithError(err).WithField("topic", c.Topic).Debug("error reading from client")
			}
			break
		}
	}
}
