package sse

import (
	"io"
	"strconv"
	"time"

	"github.com/searchktools/embed-server/core/http"
	"github.com/searchktools/embed-server/core/router"
)

// HeaderLastEventID carries the last event a reconnecting client received.
const HeaderLastEventID = "Last-Event-ID"

var keepaliveComment = []byte(": keepalive\n\n")

// eventBody is the response body of one subscribed client. It blocks until
// the next event, sending a keepalive comment when the stream is idle.
type eventBody struct {
	broker  *Broker
	client  *Client
	first   []byte
	timer   *time.Timer
	stopped bool
}

func (b *eventBody) Open() error {
	if b.broker.KeepaliveInterval > 0 {
		b.timer = time.NewTimer(b.broker.KeepaliveInterval)
	}
	return nil
}

func (b *eventBody) Read() ([]byte, error) {
	if b.first != nil {
		p := b.first
		b.first = nil
		return p, nil
	}
	if b.stopped {
		return nil, io.EOF
	}
	var tick <-chan time.Time
	if b.timer != nil {
		tick = b.timer.C
	}
	for {
		select {
		case event := <-b.client.Channel:
			b.resetTimer()
			return FormatEvent(event), nil
		case <-b.client.closeCh:
			// Flush what is already queued, then end the stream.
			select {
			case event := <-b.client.Channel:
				return FormatEvent(event), nil
			default:
				b.stopped = true
				return nil, io.EOF
			}
		case <-tick:
			b.timer.Reset(b.broker.KeepaliveInterval)
			if b.client.IsClosed() {
				continue
			}
			return keepaliveComment, nil
		}
	}
}

func (b *eventBody) resetTimer() {
	if b.timer == nil {
		return
	}
	if !b.timer.Stop() {
		select {
		case <-b.timer.C:
		default:
		}
	}
	b.timer.Reset(b.broker.KeepaliveInterval)
}

func (b *eventBody) Close() error {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.broker.Unregister(b.client)
	return nil
}

// Subscribe registers a client for req and returns the streaming response
// that delivers its events. The stream ends when the client goes away or
// the broker closes it.
func (b *Broker) Subscribe(req *http.Request) (*Client, *http.Response, error) {
	id := b.namespace + "-client-" + strconv.FormatUint(b.nextID.Add(1), 10)
	client := NewClient(id, b.ClientBuffer)
	if err := b.Register(client); err != nil {
		return nil, nil, err
	}
	hello := &Event{Event: "connected", Data: id}
	if last := req.Headers.Get(HeaderLastEventID); last != "" {
		hello.ID = last
	}
	resp := &http.Response{
		StatusCode:    http.StatusOK,
		ContentType:   "text/event-stream; charset=utf-8",
		ContentLength: -1,
		Body:          &eventBody{broker: b, client: client, first: FormatEvent(hello)},
	}
	resp.SetHeader("X-Accel-Buffering", "no")
	return client, resp, nil
}

// Handler returns a processor that subscribes every request it receives.
// A full broker answers 503.
func (b *Broker) Handler() router.ProcessFunc {
	return func(req *http.Request) (*http.Response, error) {
		_, resp, err := b.Subscribe(req)
		if err != nil {
			return http.NewErrorResponse(http.StatusServiceUnavailable, "%v", err), nil
		}
		return resp, nil
	}
}
