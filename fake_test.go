package main

import (
	"sync"

	"github.com/goccy/go-json"

	"github.com/Seednode/partypeer/netplay"
)

// loopTransport hands out in-memory connections whose gathering finishes
// immediately, so a hosting Session can be driven without a network.
type loopTransport struct {
	mu    sync.Mutex
	conns []*loopConn
}

func (t *loopTransport) NewConnection() (netplay.Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := &loopConn{gathered: make(chan struct{})}
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *loopTransport) last() *loopConn {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conns[len(t.conns)-1]
}

type loopConn struct {
	mu       sync.Mutex
	local    *netplay.Descriptor
	gathered chan struct{}
	channel  *loopChannel
}

func (c *loopConn) CreateOffer() (netplay.Descriptor, error) {
	return netplay.Descriptor{Kind: netplay.KindOffer, Body: "v=0 loop-offer"}, nil
}

func (c *loopConn) CreateAnswer() (netplay.Descriptor, error) {
	return netplay.Descriptor{Kind: netplay.KindAnswer, Body: "v=0 loop-answer"}, nil
}

func (c *loopConn) SetLocalDescription(d netplay.Descriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.local = &d
	close(c.gathered)
	return nil
}

func (c *loopConn) SetRemoteDescription(netplay.Descriptor) error {
	return nil
}

func (c *loopConn) LocalDescription() (netplay.Descriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.local == nil {
		return netplay.Descriptor{}, false
	}
	return *c.local, true
}

func (c *loopConn) GatheringComplete() <-chan struct{} {
	return c.gathered
}

func (c *loopConn) CreateChannel(label string) (netplay.Channel, error) {
	ch := &loopChannel{label: label}

	c.mu.Lock()
	c.channel = ch
	c.mu.Unlock()

	return ch, nil
}

func (c *loopConn) OnChannel(func(netplay.Channel))              {}
func (c *loopConn) OnStateChange(func(netplay.ConnectionState)) {}
func (c *loopConn) Close() error                                { return nil }

func (c *loopConn) dataChannel() *loopChannel {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.channel
}

type loopChannel struct {
	mu        sync.Mutex
	label     string
	open      bool
	closed    bool
	sent      []*netplay.Message
	onOpen    func()
	onMessage func([]byte)
	onClose   func()
}

func (c *loopChannel) Label() string { return c.label }

func (c *loopChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.open
}

func (c *loopChannel) Send(data []byte) error {
	msg, err := netplay.ParseMessage(data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return netplay.ErrChannelUnavailable
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *loopChannel) OnOpen(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onOpen = fn
}

func (c *loopChannel) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onMessage = fn
}

func (c *loopChannel) OnClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onClose = fn
}

func (c *loopChannel) OnError(func(error)) {}

func (c *loopChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.open = false
	fn := c.onClose
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
	return nil
}

func (c *loopChannel) markOpen() {
	c.mu.Lock()
	c.open = true
	fn := c.onOpen
	c.mu.Unlock()

	fn()
}

func (c *loopChannel) receive(msg *netplay.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}

	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()

	fn(data)
}

func (c *loopChannel) sentOfType(t netplay.MsgType) []*netplay.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*netplay.Message
	for _, msg := range c.sent {
		if msg.Type == t {
			out = append(out, msg)
		}
	}
	return out
}
