package netplay

import (
	"errors"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

type fakeTransport struct {
	mu            sync.Mutex
	conns         []*fakeConn
	holdGathering bool
}

func (t *fakeTransport) NewConnection() (Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := &fakeConn{
		gathered: make(chan struct{}),
		hold:     t.holdGathering,
	}
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *fakeTransport) conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conns[i]
}

func (t *fakeTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.conns)
}

type fakeConn struct {
	mu        sync.Mutex
	local     *Descriptor
	remote    *Descriptor
	gathered  chan struct{}
	hold      bool
	channels  []*fakeChannel
	onChannel func(Channel)
	onState   func(ConnectionState)
	closed    bool
}

func (c *fakeConn) CreateOffer() (Descriptor, error) {
	return Descriptor{Kind: KindOffer, Body: "v=0 fake-offer"}, nil
}

func (c *fakeConn) CreateAnswer() (Descriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.remote == nil {
		return Descriptor{}, errors.New("no remote description")
	}
	return Descriptor{Kind: KindAnswer, Body: "v=0 fake-answer"}, nil
}

func (c *fakeConn) SetLocalDescription(d Descriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.local = &d
	if !c.hold {
		close(c.gathered)
	}
	return nil
}

func (c *fakeConn) SetRemoteDescription(d Descriptor) error {
	if strings.Contains(d.Body, "reject") {
		return errors.New("incompatible description")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.remote = &d
	return nil
}

func (c *fakeConn) LocalDescription() (Descriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.local == nil {
		return Descriptor{}, false
	}
	d := *c.local
	select {
	case <-c.gathered:
		d.Body += "\na=candidate:fake"
	default:
	}
	return d, true
}

func (c *fakeConn) GatheringComplete() <-chan struct{} {
	return c.gathered
}

func (c *fakeConn) CreateChannel(label string) (Channel, error) {
	ch := &fakeChannel{label: label}

	c.mu.Lock()
	c.channels = append(c.channels, ch)
	c.mu.Unlock()

	return ch, nil
}

func (c *fakeConn) OnChannel(fn func(Channel)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onChannel = fn
}

func (c *fakeConn) OnStateChange(fn func(ConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onState = fn
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

func (c *fakeConn) channel() *fakeChannel {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.channels[0]
}

func (c *fakeConn) setState(state ConnectionState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()

	fn(state)
}

// announce delivers a channel created by the remote side.
func (c *fakeConn) announce(label string) *fakeChannel {
	ch := &fakeChannel{label: label}

	c.mu.Lock()
	c.channels = append(c.channels, ch)
	fn := c.onChannel
	c.mu.Unlock()

	fn(ch)
	return ch
}

type fakeChannel struct {
	mu        sync.Mutex
	label     string
	open      bool
	closed    bool
	sent      [][]byte
	onOpen    func()
	onMessage func([]byte)
	onClose   func()
	onError   func(error)
}

func (c *fakeChannel) Label() string {
	return c.label
}

func (c *fakeChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.open
}

func (c *fakeChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return ErrChannelUnavailable
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeChannel) OnOpen(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onOpen = fn
}

func (c *fakeChannel) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onMessage = fn
}

func (c *fakeChannel) OnClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onClose = fn
}

func (c *fakeChannel) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onError = fn
}

// Close fires the close callback the first time, like a real channel.
func (c *fakeChannel) Close() error {
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

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

func (c *fakeChannel) markOpen() {
	c.mu.Lock()
	c.open = true
	fn := c.onOpen
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// stall makes the channel not-open without any callback firing.
func (c *fakeChannel) stall() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.open = false
}

func (c *fakeChannel) receive(data string) {
	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()

	fn([]byte(data))
}

func (c *fakeChannel) receiveMsg(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	c.receive(string(data))
}

func (c *fakeChannel) messages() []*Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Message, 0, len(c.sent))
	for _, data := range c.sent {
		msg, err := ParseMessage(data)
		if err != nil {
			panic(err)
		}
		out = append(out, msg)
	}
	return out
}

func (c *fakeChannel) sentOfType(t MsgType) []*Message {
	var out []*Message
	for _, msg := range c.messages() {
		if msg.Type == t {
			out = append(out, msg)
		}
	}
	return out
}

type hostRecorder struct {
	mu           sync.Mutex
	connected    []string
	disconnected []string
	causes       []error
	messages     []*Message
	snapshot     any
}

func (r *hostRecorder) PeerConnected(peerID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connected = append(r.connected, peerID+":"+name)
}

func (r *hostRecorder) PeerDisconnected(peerID, name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.disconnected = append(r.disconnected, peerID)
	r.causes = append(r.causes, err)
}

func (r *hostRecorder) PeerMessage(peerID string, msg *Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = append(r.messages, msg)
}

func (r *hostRecorder) Snapshot() any {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.snapshot
}

func (r *hostRecorder) counts() (connected, disconnected, messages int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.connected), len(r.disconnected), len(r.messages)
}

type peerRecorder struct {
	mu           sync.Mutex
	connected    []string
	disconnected []error
	messages     []*Message
	applied      []string
	desyncs      int
}

func (r *peerRecorder) Connected(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connected = append(r.connected, peerID)
}

func (r *peerRecorder) Disconnected(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.disconnected = append(r.disconnected, err)
}

func (r *peerRecorder) HostMessage(msg *Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = append(r.messages, msg)
}

func (r *peerRecorder) ApplySnapshot(state []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.applied = append(r.applied, string(state))
	return nil
}

func (r *peerRecorder) Desync(expected, actual string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.desyncs++
}

func answerToken(body string) string {
	token, err := Encode(Descriptor{Kind: KindAnswer, Body: body})
	if err != nil {
		panic(err)
	}
	return token
}

func offerToken(body string) string {
	token, err := Encode(Descriptor{Kind: KindOffer, Body: body})
	if err != nil {
		panic(err)
	}
	return token
}
