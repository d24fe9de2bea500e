/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package netplay

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// PeerHandler is the game-logic side of a Peer. Methods are called one at
// a time, in event order.
type PeerHandler interface {
	Connected(peerID string)
	Disconnected(err error)
	HostMessage(msg *Message)
	ApplySnapshot(state []byte) error
}

// DesyncHandler is implemented by a PeerHandler that wants to hear about
// snapshots whose checksum does not match their contents.
type DesyncHandler interface {
	Desync(expected, actual string)
}

// Peer is the joining side's single connection to the host.
type Peer struct {
	transport Transport
	name      string
	handler   PeerHandler
	opts      options
	logger    zerolog.Logger
	latency   *LatencyTable
	router    *Router
	events    *eventQueue
	timers    Scheduler

	mu        sync.Mutex
	conn      Connection
	channel   Channel
	handshake *Handshake
	peerID    string
	closed    bool
}

func NewPeer(transport Transport, name string, handler PeerHandler, opts ...Option) *Peer {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	p := &Peer{
		transport: transport,
		name:      name,
		handler:   handler,
		opts:      o,
		logger:    o.logger.With().Str("role", "peer").Logger(),
		latency:   NewLatencyTable(),
		events:    newEventQueue(),
	}

	p.router = &Router{
		Latency:      p.latency,
		Now:          o.now,
		Logger:       p.logger,
		OnWelcome:    p.handleWelcome,
		OnSync:       p.handleSync,
		OnDisconnect: p.handleBye,
		Forward: func(_ string, msg *Message) {
			p.handler.HostMessage(msg)
		},
	}

	return p
}

// CreateAnswer applies the host's offer token and returns the answer
// token to hand back. Any earlier connection attempt is dropped.
func (p *Peer) CreateAnswer(ctx context.Context, offerToken string) (string, error) {
	if p.isClosed() {
		return "", ErrClosed
	}

	offer, err := Decode(offerToken)
	if err != nil {
		return "", &SignalingError{Stage: "decode", Err: err}
	}

	conn, err := p.transport.NewConnection()
	if err != nil {
		return "", &SignalingError{Stage: "connection", Err: err}
	}

	hs := newHandshake(conn, p.opts.gatherTimeout, p.logger)

	p.mu.Lock()
	oldConn, oldChannel := p.conn, p.channel
	p.conn = conn
	p.channel = nil
	p.handshake = hs
	p.peerID = ""
	p.mu.Unlock()

	if oldConn != nil {
		closeQuietly(oldChannel, oldConn)
	}

	p.wire(conn)

	answer, err := hs.Answer(ctx, offer)
	if err != nil {
		p.drop(conn)
		return "", err
	}

	token, err := Encode(answer)
	if err != nil {
		p.drop(conn)
		return "", &SignalingError{Stage: "encode", Err: err}
	}

	p.logger.Info().Int("token_bytes", len(token)).Msg("answer ready")

	return token, nil
}

// SendToHost is best-effort: nothing is sent unless the channel is open.
func (p *Peer) SendToHost(msg *Message) {
	p.mu.Lock()
	channel := p.channel
	p.mu.Unlock()

	if channel == nil || !channel.IsOpen() {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error().Err(err).Str("type", string(msg.Type)).Msg("encoding message")
		return
	}

	if err := channel.Send(data); err != nil {
		p.logger.Debug().Err(err).Msg("send dropped")
	}
}

// StartProbing starts the periodic latency probe to the host. It does
// nothing once the peer is closed.
func (p *Peer) StartProbing() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.timers.Start(Task{
		Name:     "ping",
		Interval: p.opts.pingInterval,
		Run: func() {
			p.events.post(func() {
				p.SendToHost(&Message{Type: MsgPing, TS: p.opts.now().UnixMilli()})
			})
		},
	})
}

func (p *Peer) StopProbing() {
	p.timers.Stop()
}

// Latency returns the last measured round trip to the host.
func (p *Peer) Latency() (int64, bool) {
	return p.latency.Get(HostRef)
}

// PeerID is the identifier the host assigned in its welcome message.
func (p *Peer) PeerID() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.peerID
}

// Connected reports whether the channel to the host is open.
func (p *Peer) Connected() bool {
	p.mu.Lock()
	channel := p.channel
	p.mu.Unlock()

	return channel != nil && channel.IsOpen()
}

// Close tells the host we are leaving and tears everything down. It is
// idempotent and does not fire Disconnected.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conn, channel := p.conn, p.channel
	p.conn, p.channel = nil, nil
	p.mu.Unlock()

	p.timers.Stop()
	p.events.stop()

	if channel != nil && channel.IsOpen() {
		bye, _ := json.Marshal(&Message{Type: MsgDisconnect, Reason: p.name + " left"})
		if err := channel.Send(bye); err != nil {
			p.logger.Debug().Err(err).Msg("disconnect notice dropped")
		}
	}

	if conn != nil {
		closeQuietly(channel, conn)
	}

	return nil
}

func (p *Peer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.closed
}

func (p *Peer) current(conn Connection) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.conn == conn && !p.closed
}

func (p *Peer) wire(conn Connection) {
	conn.OnStateChange(func(state ConnectionState) {
		p.events.post(func() {
			p.logger.Debug().Stringer("state", state).Msg("connectivity")
			if state.lost() {
				p.lose(conn, fmt.Errorf("%w: %s", ErrConnectivityLost, state))
			}
		})
	})

	conn.OnChannel(func(channel Channel) {
		p.events.post(func() { p.attach(conn, channel) })

		channel.OnOpen(func() {
			p.events.post(func() { p.handleOpen(conn) })
		})
		channel.OnMessage(func(data []byte) {
			p.events.post(func() {
				if p.current(conn) {
					p.router.Route(HostRef, data, p.SendToHost)
				}
			})
		})
		channel.OnClose(func() {
			p.events.post(func() { p.lose(conn, ErrConnectivityLost) })
		})
		channel.OnError(func(err error) {
			p.events.post(func() { p.lose(conn, fmt.Errorf("%w: %v", ErrConnectivityLost, err)) })
		})
	})
}

func (p *Peer) attach(conn Connection, channel Channel) {
	p.mu.Lock()
	if p.conn != conn || p.closed {
		p.mu.Unlock()
		channel.Close()
		return
	}
	p.channel = channel
	p.mu.Unlock()

	p.logger.Debug().Str("label", channel.Label()).Msg("channel received")
}

// handleOpen announces this player to the host. It is the only message
// sent without being a reply.
func (p *Peer) handleOpen(conn Connection) {
	p.mu.Lock()
	hs := p.handshake
	ok := p.conn == conn && !p.closed
	p.mu.Unlock()

	if !ok {
		return
	}

	hs.Opened()
	p.logger.Info().Msg("channel open")
	p.SendToHost(&Message{Type: MsgHello, Version: ProtocolVersion, Name: p.name})
}

func (p *Peer) handleWelcome(_ string, msg *Message) {
	p.mu.Lock()
	p.peerID = msg.PeerID
	p.mu.Unlock()

	p.logger.Info().Str("peer_id", msg.PeerID).Int("version", msg.Version).Msg("welcomed by host")
	p.handler.Connected(msg.PeerID)
}

// handleSync applies the snapshot unconditionally; a checksum mismatch is
// only reported.
func (p *Peer) handleSync(_ string, msg *Message) {
	if msg.Checksum != "" {
		if actual := Checksum(string(msg.State)); actual != msg.Checksum {
			p.logger.Warn().Str("expected", msg.Checksum).Str("actual", actual).Msg("snapshot checksum mismatch")
			if d, ok := p.handler.(DesyncHandler); ok {
				d.Desync(msg.Checksum, actual)
			}
		}
	}

	if err := p.handler.ApplySnapshot(msg.State); err != nil {
		p.logger.Error().Err(err).Msg("applying snapshot")
	}
}

func (p *Peer) handleBye(_ string, msg *Message) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	p.lose(conn, &RemoteClosedError{Reason: msg.Reason})
}

// lose tears down conn and reports the disconnect once. Events from a
// connection that was already replaced or lost are ignored.
func (p *Peer) lose(conn Connection, cause error) {
	p.mu.Lock()
	if conn == nil || p.conn != conn || p.closed {
		p.mu.Unlock()
		return
	}
	channel := p.channel
	p.conn, p.channel = nil, nil
	p.mu.Unlock()

	p.timers.Stop()
	closeQuietly(channel, conn)
	p.latency.Delete(HostRef)

	p.logger.Info().Err(cause).Msg("disconnected from host")
	p.handler.Disconnected(cause)
}

// drop discards a connection whose handshake failed, without notifying.
func (p *Peer) drop(conn Connection) {
	p.mu.Lock()
	if p.conn != conn {
		p.mu.Unlock()
		return
	}
	channel := p.channel
	p.conn, p.channel = nil, nil
	p.mu.Unlock()

	closeQuietly(channel, conn)
}

func (p *Peer) flush() {
	p.events.flush()
}

func closeQuietly(channel Channel, conn Connection) {
	if channel != nil {
		channel.Close()
	}
	if conn != nil {
		conn.Close()
	}
}
