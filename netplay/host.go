/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package netplay

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// channelLabel names the single data channel the host opens per peer.
const channelLabel = "game"

// HostHandler is the game-logic side of a Host. Methods are called one at
// a time, in event order, and never while the registry lock is held.
type HostHandler interface {
	PeerConnected(peerID, name string)
	PeerDisconnected(peerID, name string, err error)
	PeerMessage(peerID string, msg *Message)
	Snapshot() any
}

// PeerInfo describes one peer record.
type PeerInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Ready     bool   `json:"ready"`
	Open      bool   `json:"open"`
	LatencyMS int64  `json:"latency_ms"` // -1 until measured
}

type peerRecord struct {
	id        string
	seq       uint64
	conn      Connection
	channel   Channel
	handshake *Handshake
	name      string
	announced bool
	ready     bool
	opened    bool
}

// Host is the center of the star: it owns one connection per joined peer
// and at most one pending offer awaiting an answer.
type Host struct {
	transport Transport
	handler   HostHandler
	opts      options
	logger    zerolog.Logger
	latency   *LatencyTable
	router    *Router
	events    *eventQueue
	timers    Scheduler

	mu      sync.Mutex
	peers   map[string]*peerRecord
	pending string
	seq     uint64
	closed  bool
}

func NewHost(transport Transport, handler HostHandler, opts ...Option) *Host {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	h := &Host{
		transport: transport,
		handler:   handler,
		opts:      o,
		logger:    o.logger.With().Str("role", "host").Logger(),
		latency:   NewLatencyTable(),
		events:    newEventQueue(),
		peers:     make(map[string]*peerRecord),
	}

	h.router = &Router{
		Latency:      h.latency,
		Now:          o.now,
		Logger:       h.logger,
		OnHello:      h.handleHello,
		OnReady:      h.handleReady,
		OnDisconnect: h.handleBye,
		Forward:      h.handler.PeerMessage,
	}

	return h
}

// CreateOffer allocates a peer record, gathers its local descriptor and
// makes it the pending connection. A previously pending offer is
// abandoned.
func (h *Host) CreateOffer(ctx context.Context) (peerID, token string, err error) {
	if h.isClosed() {
		return "", "", ErrClosed
	}

	conn, err := h.transport.NewConnection()
	if err != nil {
		return "", "", &SignalingError{Stage: "connection", Err: err}
	}

	channel, err := conn.CreateChannel(channelLabel)
	if err != nil {
		conn.Close()
		return "", "", &SignalingError{Stage: "channel", Err: err}
	}

	rec := &peerRecord{
		id:      uuid.NewString(),
		conn:    conn,
		channel: channel,
	}
	rec.handshake = newHandshake(conn, h.opts.gatherTimeout, h.logger.With().Str("peer", rec.id).Logger())
	h.wire(rec)

	h.mu.Lock()
	h.seq++
	rec.seq = h.seq
	h.peers[rec.id] = rec
	h.mu.Unlock()

	desc, err := rec.handshake.Offer(ctx)
	if err != nil {
		h.discard(rec.id)
		return "", "", err
	}

	token, err = Encode(desc)
	if err != nil {
		h.discard(rec.id)
		return "", "", &SignalingError{Stage: "encode", Err: err}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return "", "", ErrClosed
	}
	if _, ok := h.peers[rec.id]; !ok {
		// Torn down by a channel or connectivity event while gathering.
		h.mu.Unlock()
		return "", "", &SignalingError{Stage: "gathering", Err: ErrConnectivityLost}
	}
	previous := h.pending
	h.pending = rec.id
	h.mu.Unlock()

	if previous != "" {
		h.abandon(previous)
	}

	h.logger.Info().Str("peer", rec.id).Int("token_bytes", len(token)).Msg("offer ready")

	return rec.id, token, nil
}

// AcceptAnswer applies token as the remote descriptor of the pending
// connection. On a bad token the attempt is aborted and the pending slot
// cleared, so the caller can generate a fresh invite.
func (h *Host) AcceptAnswer(token string) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	id := h.pending
	rec := h.peers[id]
	h.mu.Unlock()

	if id == "" || rec == nil {
		return ErrNoPendingConnection
	}

	desc, err := Decode(token)
	if err != nil {
		h.discard(id)
		return &SignalingError{Stage: "decode", Err: err}
	}

	if err := rec.handshake.Accept(desc); err != nil {
		h.discard(id)
		return err
	}

	h.mu.Lock()
	if h.pending == id {
		h.pending = ""
	}
	h.mu.Unlock()

	h.logger.Info().Str("peer", id).Msg("answer accepted")

	return nil
}

// SendToPeer is best-effort: nothing is sent unless the channel is open.
func (h *Host) SendToPeer(peerID string, msg *Message) {
	h.mu.Lock()
	rec := h.peers[peerID]
	h.mu.Unlock()

	if rec == nil {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", string(msg.Type)).Msg("encoding message")
		return
	}

	h.sendRaw(rec, data)
}

// Broadcast sends msg to every peer whose channel is open.
func (h *Host) Broadcast(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", string(msg.Type)).Msg("encoding message")
		return
	}

	for _, rec := range h.records() {
		h.sendRaw(rec, data)
	}
}

func (h *Host) sendRaw(rec *peerRecord, data []byte) {
	if !rec.channel.IsOpen() {
		return
	}

	if err := rec.channel.Send(data); err != nil {
		h.logger.Debug().Err(err).Str("peer", rec.id).Msg("send dropped")
	}
}

// BroadcastSnapshot sends the handler's current snapshot with its checksum.
func (h *Host) BroadcastSnapshot() error {
	msg, err := NewSyncMessage(h.handler.Snapshot())
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	h.Broadcast(msg)

	return nil
}

// StartSync starts the latency probe and snapshot timers. It does nothing
// once the host is closed.
func (h *Host) StartSync() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.timers.Start(
		Task{
			Name:     "ping",
			Interval: h.opts.pingInterval,
			Run:      func() { h.events.post(h.probe) },
		},
		Task{
			Name:     "sync",
			Interval: h.opts.syncInterval,
			Run: func() {
				h.events.post(func() {
					if err := h.BroadcastSnapshot(); err != nil {
						h.logger.Error().Err(err).Msg("snapshot")
					}
				})
			},
		},
	)
}

// StopSync cancels both timers. Safe to call at any time.
func (h *Host) StopSync() {
	h.timers.Stop()
}

func (h *Host) probe() {
	h.Broadcast(&Message{Type: MsgPing, TS: h.opts.now().UnixMilli()})
}

// Pending returns the id of the connection awaiting an answer, if any.
func (h *Host) Pending() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.pending
}

// Peers lists every peer record in the order they were created.
func (h *Host) Peers() []PeerInfo {
	records := h.records()

	h.mu.Lock()
	infos := make([]PeerInfo, 0, len(records))
	for _, rec := range records {
		info := PeerInfo{
			ID:        rec.id,
			Name:      rec.name,
			Ready:     rec.ready,
			Open:      rec.channel.IsOpen(),
			LatencyMS: -1,
		}
		if ms, ok := h.latency.Get(rec.id); ok {
			info.LatencyMS = ms
		}
		infos = append(infos, info)
	}
	h.mu.Unlock()

	return infos
}

// Latency returns the last measured round trip to each peer.
func (h *Host) Latency() map[string]int64 {
	return h.latency.Snapshot()
}

// Close notifies open peers, closes every connection and stops all timers.
// It is idempotent.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	records := h.sortedLocked()
	h.peers = make(map[string]*peerRecord)
	h.pending = ""
	h.mu.Unlock()

	h.timers.Stop()
	h.events.stop()

	bye, _ := json.Marshal(&Message{Type: MsgDisconnect, Reason: "host closed the session"})
	for _, rec := range records {
		h.sendRaw(rec, bye)
		rec.channel.Close()
		rec.conn.Close()
	}

	h.logger.Info().Int("peers", len(records)).Msg("closed")

	return nil
}

func (h *Host) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.closed
}

func (h *Host) records() []*peerRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.sortedLocked()
}

func (h *Host) sortedLocked() []*peerRecord {
	out := make([]*peerRecord, 0, len(h.peers))
	for _, rec := range h.peers {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// wire routes every transport callback for rec onto the event queue.
func (h *Host) wire(rec *peerRecord) {
	id := rec.id

	rec.conn.OnStateChange(func(state ConnectionState) {
		h.events.post(func() { h.handleState(id, state) })
	})
	rec.channel.OnOpen(func() {
		h.events.post(func() { h.handleOpen(id) })
	})
	rec.channel.OnMessage(func(data []byte) {
		h.events.post(func() {
			h.router.Route(id, data, func(msg *Message) { h.SendToPeer(id, msg) })
		})
	})
	rec.channel.OnClose(func() {
		h.events.post(func() { h.teardown(id, ErrConnectivityLost) })
	})
	rec.channel.OnError(func(err error) {
		h.events.post(func() { h.teardown(id, fmt.Errorf("%w: %v", ErrConnectivityLost, err)) })
	})
}

func (h *Host) handleState(id string, state ConnectionState) {
	h.logger.Debug().Str("peer", id).Stringer("state", state).Msg("connectivity")

	if state.lost() {
		h.teardown(id, fmt.Errorf("%w: %s", ErrConnectivityLost, state))
	}
}

func (h *Host) handleOpen(id string) {
	h.mu.Lock()
	rec, ok := h.peers[id]
	if ok {
		rec.opened = true
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	rec.handshake.Opened()
	h.logger.Info().Str("peer", id).Msg("channel open")
}

func (h *Host) handleHello(id string, msg *Message) {
	h.mu.Lock()
	rec, ok := h.peers[id]
	repeat := ok && rec.announced
	if ok && !repeat {
		rec.name = msg.Name
		rec.announced = true
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	if repeat {
		h.logger.Debug().Str("peer", id).Str("name", msg.Name).Msg("ignoring repeated hello")
		return
	}

	h.SendToPeer(id, &Message{Type: MsgWelcome, Version: ProtocolVersion, PeerID: id})
	h.logger.Info().Str("peer", id).Str("name", msg.Name).Msg("peer joined")
	h.handler.PeerConnected(id, msg.Name)
}

func (h *Host) handleReady(id string, msg *Message) {
	h.mu.Lock()
	if rec, ok := h.peers[id]; ok {
		rec.ready = true
	}
	h.mu.Unlock()

	h.handler.PeerMessage(id, msg)
}

func (h *Host) handleBye(id string, msg *Message) {
	h.teardown(id, &RemoteClosedError{Reason: msg.Reason})
}

// teardown removes a peer record and notifies the handler. Removing an
// absent record is a no-op, so each peer is reported at most once.
func (h *Host) teardown(id string, cause error) {
	h.mu.Lock()
	rec, ok := h.peers[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.peers, id)
	if h.pending == id {
		h.pending = ""
	}
	h.mu.Unlock()

	rec.channel.Close()
	rec.conn.Close()
	h.latency.Delete(id)

	h.logger.Info().Str("peer", id).Str("name", rec.name).Err(cause).Msg("peer disconnected")
	h.handler.PeerDisconnected(id, rec.name, cause)
}

// discard drops a record whose handshake failed, without notifying.
func (h *Host) discard(id string) {
	h.mu.Lock()
	rec, ok := h.peers[id]
	if ok {
		delete(h.peers, id)
	}
	if h.pending == id {
		h.pending = ""
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	rec.channel.Close()
	rec.conn.Close()
}

// abandon schedules removal of a superseded offer that never opened.
func (h *Host) abandon(id string) {
	h.logger.Debug().Str("peer", id).Msg("pending offer superseded")

	if h.opts.offerTimeout <= 0 {
		return
	}

	time.AfterFunc(h.opts.offerTimeout, func() {
		h.events.post(func() { h.reapStale(id) })
	})
}

func (h *Host) reapStale(id string) {
	h.mu.Lock()
	rec, ok := h.peers[id]
	stale := ok && !rec.opened && h.pending != id
	h.mu.Unlock()

	if !stale {
		return
	}

	h.logger.Info().Str("peer", id).Msg("removing abandoned offer")
	h.discard(id)
}

// flush waits for every queued event to be handled.
func (h *Host) flush() {
	h.events.flush()
}
