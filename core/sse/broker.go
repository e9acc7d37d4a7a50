// Package sse streams Server-Sent Events as chunked text/event-stream
// responses.
package sse

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// ErrTooManyClients is returned by Register when the broker is full.
var ErrTooManyClients = errors.New("sse: max clients reached")

// Event represents a Server-Sent Event
type Event struct {
	ID    string
	Event string
	Data  string
	Retry int // milliseconds
}

// Client is one subscriber. Events that do not fit its buffer are dropped.
type Client struct {
	ID        string
	Channel   chan *Event
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewClient creates a new SSE client
func NewClient(id string, bufferSize int) *Client {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Client{
		ID:      id,
		Channel: make(chan *Event, bufferSize),
		closeCh: make(chan struct{}),
	}
}

// Close ends the client's stream once its buffered events are sent.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.closeCh) })
}

// IsClosed returns whether the client is closed
func (c *Client) IsClosed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

// Send queues an event without blocking.
func (c *Client) Send(event *Event) bool {
	if c.IsClosed() {
		return false
	}
	select {
	case c.Channel <- event:
		return true
	default:
		return false
	}
}

// BrokerStats are the broker counters.
type BrokerStats struct {
	Namespace       string
	TotalClients    uint64
	CurrentClients  int
	MessagesSent    uint64
	MessagesDropped uint64
}

// Broker fans events out to its clients.
type Broker struct {
	namespace string
	clients   *xsync.MapOf[string, *Client]
	eventID   atomic.Uint64
	nextID    atomic.Uint64

	totalClients  atomic.Uint64
	messagesCount atomic.Uint64
	droppedCount  atomic.Uint64

	// KeepaliveInterval is how long a stream may stay silent before a
	// comment line is sent to detect dead clients.
	KeepaliveInterval time.Duration
	// ClientBuffer is the event queue length of new clients.
	ClientBuffer int
	maxClients   int
}

// NewBroker creates a new SSE broker
func NewBroker(namespace string, maxClients int) *Broker {
	if maxClients <= 0 {
		maxClients = 10000
	}
	return &Broker{
		namespace:         namespace,
		clients:           xsync.NewMapOf[string, *Client](),
		KeepaliveInterval: 30 * time.Second,
		ClientBuffer:      100,
		maxClients:        maxClients,
	}
}

// Register adds client to the broker.
func (b *Broker) Register(client *Client) error {
	if b.maxClients > 0 && b.clients.Size() >= b.maxClients {
		return fmt.Errorf("%w (%d)", ErrTooManyClients, b.maxClients)
	}
	b.clients.Store(client.ID, client)
	b.totalClients.Add(1)
	return nil
}

// Unregister removes and closes client.
func (b *Broker) Unregister(client *Client) {
	b.clients.Compute(client.ID, func(old *Client, loaded bool) (*Client, bool) {
		return old, !loaded || old == client
	})
	client.Close()
}

// Publish sends an event to every client. The event gets the next ID of
// the broker's namespace.
func (b *Broker) Publish(eventType, data string) {
	event := b.newEvent(eventType, data)
	b.messagesCount.Add(1)
	b.clients.Range(func(_ string, client *Client) bool {
		if !client.Send(event) {
			b.droppedCount.Add(1)
		}
		return true
	})
}

// PublishToClient sends an event to one client.
func (b *Broker) PublishToClient(clientID, eventType, data string) bool {
	client, ok := b.clients.Load(clientID)
	if !ok {
		return false
	}
	b.messagesCount.Add(1)
	if !client.Send(b.newEvent(eventType, data)) {
		b.droppedCount.Add(1)
		return false
	}
	return true
}

func (b *Broker) newEvent(eventType, data string) *Event {
	id := b.eventID.Add(1)
	return &Event{
		ID:    b.namespace + "-" + strconv.FormatUint(id, 10),
		Event: eventType,
		Data:  data,
	}
}

// ClientCount returns the number of registered clients.
func (b *Broker) ClientCount() int {
	return b.clients.Size()
}

// Close ends every client stream.
func (b *Broker) Close() {
	b.clients.Range(func(_ string, client *Client) bool {
		b.Unregister(client)
		return true
	})
}

func (b *Broker) Stats() BrokerStats {
	return BrokerStats{
		Namespace:       b.namespace,
		TotalClients:    b.totalClients.Load(),
		CurrentClients:  b.clients.Size(),
		MessagesSent:    b.messagesCount.Load(),
		MessagesDropped: b.droppedCount.Load(),
	}
}

// FormatEvent encodes an event in the text/event-stream format. Multi-line
// data is split over several data fields.
func FormatEvent(event *Event) []byte {
	var buf []byte
	if event.ID != "" {
		buf = append(buf, "id: "...)
		buf = append(buf, stripNewlines(event.ID)...)
		buf = append(buf, '\n')
	}
	if event.Event != "" {
		buf = append(buf, "event: "...)
		buf = append(buf, stripNewlines(event.Event)...)
		buf = append(buf, '\n')
	}
	if event.Retry > 0 {
		buf = append(buf, "retry: "...)
		buf = strconv.AppendInt(buf, int64(event.Retry), 10)
		buf = append(buf, '\n')
	}
	if event.Data != "" {
		for _, line := range strings.Split(strings.ReplaceAll(event.Data, "\r\n", "\n"), "\n") {
			buf = append(buf, "data: "...)
			buf = append(buf, line...)
			buf = append(buf, '\n')
		}
	}
	return append(buf, '\n')
}

func stripNewlines(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}
