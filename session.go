// Partypeer local UI bridge
//
// The browser talks to this process over a websocket on localhost; this
// process talks to the other players over WebRTC data channels. There is
// no game server: one device hosts, and every other device joins by
// swapping a pair of codes with it (or scanning the invite QR).
//
// Features:
// - Host mode: create one invite per joiner, paste back their answer
// - Join mode: paste the host's invite, hand back the answer code
// - Host-authoritative imposter word game (games package)
// - Periodic snapshots with checksum, so joiners recover from drift
// - Latency probes in both directions once a round starts
// - Every browser tab on this device sees the same session

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"

	"github.com/Seednode/partypeer/games"
	"github.com/Seednode/partypeer/netplay"
)

var errNotHosting = errors.New("not hosting a game")

// userMessage extends netplay.UserMessage with the game's own errors.
func userMessage(err error) string {
	switch {
	case errors.Is(err, errNotHosting):
		return "Host a game first."
	case errors.Is(err, games.ErrNotEnoughPlayers):
		return fmt.Sprintf("At least %d players are needed to start.", games.MinPlayers)
	case errors.Is(err, games.ErrStarted):
		return "A round is already in progress."
	case errors.Is(err, games.ErrNotStarted):
		return "Start a round first."
	case errors.Is(err, games.ErrUnknownCategory):
		return "Pick one of the listed categories."
	default:
		return netplay.UserMessage(err)
	}
}

// Messages coming from the browser
type ClientMessage struct {
	Type     string `json:"type"`               // "host", "create_offer", "accept_answer", "join", "start_game", "next_phase", "ready", "close"
	Token    string `json:"token,omitempty"`    // accept_answer / join
	Category string `json:"category,omitempty"` // start_game
}

// StatusMessage is for human-readable notifications ("status", "error").
type StatusMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// TokenMessage carries a code for the user to hand to the other device.
type TokenMessage struct {
	Type   string `json:"type"`              // "token"
	Token  string `json:"token"`             // invite (host) or answer (joiner)
	PeerID string `json:"peer_id,omitempty"` // host only
}

// LobbyMessage describes who is in the game.
type LobbyMessage struct {
	Type       string             `json:"type"` // "lobby"
	Mode       string             `json:"mode"` // "idle", "host" or "join"
	Players    []string           `json:"players"`
	Peers      []netplay.PeerInfo `json:"peers,omitempty"`      // host only
	Categories []string           `json:"categories,omitempty"` // host only
	Pending    string             `json:"pending,omitempty"`    // host only
	LatencyMS  int64              `json:"latency_ms,omitempty"` // joiner only
}

// RoleMessage is this device's private role for the round.
type RoleMessage struct {
	Type       string `json:"type"` // "role"
	Category   string `json:"category"`
	IsImposter bool   `json:"is_imposter"`
	Word       string `json:"word,omitempty"`
	Hint       string `json:"hint"`
}

// StateMessage mirrors the shared game state.
type StateMessage struct {
	Type  string      `json:"type"` // "state"
	State games.State `json:"state"`
}

type Client struct {
	conn *websocket.Conn
	send chan any
}

const (
	modeIdle = "idle"
	modeHost = "host"
	modeJoin = "join"
)

// Session bridges browser tabs to at most one netplay Host or Peer. It is
// the netplay.HostHandler while hosting and the netplay.PeerHandler while
// joined.
type Session struct {
	ctx       context.Context
	cfg       *Config
	logger    zerolog.Logger
	transport netplay.Transport
	words     *games.WordList

	mu      sync.Mutex
	clients map[*Client]bool
	mode    string
	host    *netplay.Host
	peer    *netplay.Peer
	game    *games.Game
	token   string
	role    *RoleMessage
}

func newSession(ctx context.Context, cfg *Config, transport netplay.Transport, words *games.WordList) *Session {
	return &Session{
		ctx:       ctx,
		cfg:       cfg,
		logger:    cfg.logger.With().Str("component", "session").Logger(),
		transport: transport,
		words:     words,
		clients:   make(map[*Client]bool),
		mode:      modeIdle,
	}
}

func (s *Session) netplayOptions() []netplay.Option {
	return []netplay.Option{
		netplay.WithLogger(s.cfg.logger.With().Str("component", "netplay").Logger()),
		netplay.WithGatherTimeout(s.cfg.gatherTimeout),
		netplay.WithSyncInterval(s.cfg.syncInterval),
		netplay.WithPingInterval(s.cfg.pingInterval),
		netplay.WithOfferTimeout(s.cfg.offerTimeout),
	}
}

func (s *Session) register(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[c] = true

	s.sendLocked(c, s.lobbyLocked())
	if s.game != nil {
		s.sendLocked(c, StateMessage{Type: "state", State: s.game.Snapshot()})
	}
	if s.role != nil {
		s.sendLocked(c, *s.role)
	}
}

func (s *Session) unregister(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

// sendLocked queues msg for one client, dropping it if the client is
// not keeping up.
func (s *Session) sendLocked(c *Client, msg any) {
	select {
	case c.send <- msg:
	default:
		s.logger.Debug().Msg("browser client is slow, dropping update")
	}
}

func (s *Session) broadcastLocked(msg any) {
	for c := range s.clients {
		s.sendLocked(c, msg)
	}
}

func (s *Session) broadcast(msg any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.broadcastLocked(msg)
}

func (s *Session) status(format string, args ...any) {
	s.broadcast(StatusMessage{Type: "status", Message: strings.TrimSpace(fmt.Sprintf(format, args...))})
}

func (s *Session) fail(err error) {
	s.logger.Info().Err(err).Msg("request failed")
	s.broadcast(StatusMessage{Type: "error", Message: userMessage(err)})
}

func (s *Session) lobbyLocked() LobbyMessage {
	lobby := LobbyMessage{Type: "lobby", Mode: s.mode, Players: []string{}}

	if s.game != nil {
		for _, p := range s.game.Players() {
			lobby.Players = append(lobby.Players, p.Name)
		}
	}

	switch s.mode {
	case modeHost:
		lobby.Peers = s.host.Peers()
		lobby.Categories = s.words.Names()
		lobby.Pending = s.host.Pending()
	case modeJoin:
		if ms, ok := s.peer.Latency(); ok {
			lobby.LatencyMS = ms
		}
	}

	return lobby
}

func (s *Session) pushLobby() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.broadcastLocked(s.lobbyLocked())
}

func (s *Session) pushState() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.game == nil {
		return
	}
	s.broadcastLocked(StateMessage{Type: "state", State: s.game.Snapshot()})
}

// handle dispatches one browser request. Requests that wait on the
// network run on their own goroutine.
func (s *Session) handle(msg ClientMessage) {
	switch msg.Type {
	case "host":
		s.startHosting()
	case "create_offer":
		go s.createOffer()
	case "accept_answer":
		s.acceptAnswer(msg.Token)
	case "join":
		go s.join(msg.Token)
	case "start_game":
		s.startGame(msg.Category)
	case "next_phase":
		s.nextPhase()
	case "ready":
		s.ready()
	case "close":
		s.Close()
		s.status("Left the game.")
	default:
		s.logger.Debug().Str("type", msg.Type).Msg("ignoring unknown browser message")
	}
}

// reset tears down whatever this device was doing.
func (s *Session) reset() {
	s.mu.Lock()
	host, peer := s.host, s.peer
	s.host, s.peer, s.game, s.role = nil, nil, nil, nil
	s.token = ""
	s.mode = modeIdle
	s.mu.Unlock()

	if host != nil {
		_ = host.Close()
	}
	if peer != nil {
		_ = peer.Close()
	}
}

func (s *Session) startHosting() {
	s.reset()

	game := games.NewGame(s.words)
	_ = game.AddPlayer(netplay.HostRef, s.cfg.name)

	s.mu.Lock()
	s.mode = modeHost
	s.game = game
	s.host = netplay.NewHost(s.transport, s, s.netplayOptions()...)
	s.mu.Unlock()

	logf(s.cfg, "GAMES: Hosting as %q", s.cfg.name)
	s.pushLobby()
	s.status("Hosting. Create an invite for each player.")
}

func (s *Session) hosting() (*netplay.Host, *games.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.host == nil {
		return nil, nil, errNotHosting
	}
	return s.host, s.game, nil
}

func (s *Session) createOffer() {
	host, _, err := s.hosting()
	if err != nil {
		s.fail(err)
		return
	}

	s.status("Creating invite...")

	peerID, token, err := host.CreateOffer(s.ctx)
	if err != nil {
		s.fail(err)
		return
	}

	s.mu.Lock()
	s.token = token
	s.broadcastLocked(TokenMessage{Type: "token", Token: token, PeerID: peerID})
	s.broadcastLocked(s.lobbyLocked())
	s.mu.Unlock()

	logf(s.cfg, "NETPLAY: Invite ready for %s (%s)", peerID, humanReadableSize(int64(len(token))))
}

func (s *Session) acceptAnswer(token string) {
	host, _, err := s.hosting()
	if err != nil {
		s.fail(err)
		return
	}

	if err := host.AcceptAnswer(token); err != nil {
		s.fail(err)
		return
	}

	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()

	s.pushLobby()
	s.status("Answer accepted. Connecting...")
}

func (s *Session) join(token string) {
	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()

	if peer == nil {
		s.reset()

		peer = netplay.NewPeer(s.transport, s.cfg.name, s, s.netplayOptions()...)

		s.mu.Lock()
		s.mode = modeJoin
		s.peer = peer
		s.game = games.NewGame(s.words)
		s.mu.Unlock()
	}

	s.status("Reading invite...")

	answer, err := peer.CreateAnswer(s.ctx, token)
	if err != nil {
		s.fail(err)
		return
	}

	s.mu.Lock()
	s.token = answer
	s.broadcastLocked(TokenMessage{Type: "token", Token: answer})
	s.broadcastLocked(s.lobbyLocked())
	s.mu.Unlock()

	s.status("Give this answer code to the host.")
}

func (s *Session) startGame(category string) {
	host, game, err := s.hosting()
	if err != nil {
		s.fail(err)
		return
	}

	roles, err := game.Start(category)
	if err != nil {
		s.fail(err)
		return
	}

	state := game.Snapshot()
	var names []string
	for _, p := range state.Players {
		names = append(names, p.Name)
	}

	for id, role := range roles {
		if id == netplay.HostRef {
			s.mu.Lock()
			s.role = &RoleMessage{Type: "role", Category: state.Category, IsImposter: role.IsImposter, Word: role.Word, Hint: role.Hint}
			s.broadcastLocked(*s.role)
			s.mu.Unlock()
			continue
		}

		host.SendToPeer(id, &netplay.Message{
			Type:     netplay.MsgGameStart,
			Version:  netplay.ProtocolVersion,
			Players:  names,
			Category: state.Category,
			Role:     &netplay.Role{IsImposter: role.IsImposter, Word: role.Word, Hint: role.Hint},
		})
	}

	host.StartSync()
	if err := host.BroadcastSnapshot(); err != nil {
		s.logger.Error().Err(err).Msg("snapshot")
	}

	logf(s.cfg, "GAMES: Round %d started in %s with %d players", state.Round, state.Category, len(names))
	s.pushState()
}

func (s *Session) nextPhase() {
	host, game, err := s.hosting()
	if err != nil {
		s.fail(err)
		return
	}

	phase, err := game.NextPhase()
	if err != nil {
		s.fail(err)
		return
	}

	if err := s.announcePhase(host, game, phase); err != nil {
		s.fail(err)
		return
	}

	s.pushState()
}

// announcePhase tells every joiner about a phase change. Going back to the
// lobby also ends the round locally.
func (s *Session) announcePhase(host *netplay.Host, game *games.Game, phase games.Phase) error {
	msg, err := netplay.NewSyncMessage(game.Snapshot())
	if err != nil {
		return err
	}
	msg.Type = netplay.MsgPhaseChange
	msg.Phase = string(phase)
	host.Broadcast(msg)

	if phase == games.PhaseLobby {
		host.StopSync()

		s.mu.Lock()
		s.role = nil
		s.mu.Unlock()
	}

	return nil
}

func (s *Session) ready() {
	s.mu.Lock()
	host, peer, game := s.host, s.peer, s.game
	s.mu.Unlock()

	switch {
	case host != nil:
		if err := game.SetReady(netplay.HostRef); err != nil {
			s.fail(err)
			return
		}
		if err := host.BroadcastSnapshot(); err != nil {
			s.fail(err)
			return
		}
		s.pushState()
	case peer != nil:
		peer.SendToHost(&netplay.Message{Type: netplay.MsgReady, Name: s.cfg.name})
	default:
		s.fail(errNotHosting)
	}
}

// Close leaves the current game, if any. Safe to call more than once.
func (s *Session) Close() {
	s.reset()
	s.pushLobby()
}

// Token returns the most recent code this device produced.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.token
}

// PeerConnected is called once a joiner has introduced itself.
func (s *Session) PeerConnected(peerID, name string) {
	s.mu.Lock()
	host, game := s.host, s.game
	s.mu.Unlock()

	if host == nil {
		return
	}

	if err := game.AddPlayer(peerID, name); err != nil {
		host.SendToPeer(peerID, &netplay.Message{Type: netplay.MsgError, Message: "A round is in progress. You will join in the next one."})
		s.logger.Info().Str("peer", peerID).Err(err).Msg("late joiner")
	}

	s.lobbyUpdate(host, game)
	s.status("%s joined.", name)
}

func (s *Session) PeerDisconnected(peerID, name string, err error) {
	s.mu.Lock()
	host, game := s.host, s.game
	s.mu.Unlock()

	if host == nil {
		return
	}

	inRound := game.Phase() != games.PhaseLobby
	game.RemovePlayer(peerID)
	s.lobbyUpdate(host, game)

	ended := inRound && game.Phase() == games.PhaseLobby
	if ended {
		if err := s.announcePhase(host, game, games.PhaseLobby); err != nil {
			s.logger.Error().Err(err).Msg("phase change")
		}
	}
	s.pushState()

	if name == "" {
		name = "A player"
	}

	var remoteErr *netplay.RemoteClosedError
	switch {
	case errors.As(err, &remoteErr):
		s.status("%s left.", name)
	default:
		s.status("%s left. %s", name, userMessage(err))
	}

	if ended {
		s.status("Not enough players left, back to the lobby.")
	}
}

func (s *Session) PeerMessage(peerID string, msg *netplay.Message) {
	s.mu.Lock()
	host, game := s.host, s.game
	s.mu.Unlock()

	if host == nil {
		return
	}

	switch msg.Type {
	case netplay.MsgReady:
		if err := game.SetReady(peerID); err != nil {
			s.logger.Debug().Err(err).Str("peer", peerID).Msg("ready from player not in the round")
			return
		}
		if err := host.BroadcastSnapshot(); err != nil {
			s.logger.Error().Err(err).Msg("snapshot")
		}
		s.pushState()
	case netplay.MsgError:
		s.status("A player reported: %s", msg.Message)
	default:
		s.logger.Debug().Str("peer", peerID).Str("type", string(msg.Type)).Msg("ignoring message")
	}
}

// Snapshot is the shared state the host broadcasts on every sync tick.
func (s *Session) Snapshot() any {
	s.mu.Lock()
	game := s.game
	s.mu.Unlock()

	if game == nil {
		return games.State{Phase: games.PhaseLobby}
	}
	return game.Snapshot()
}

func (s *Session) lobbyUpdate(host *netplay.Host, game *games.Game) {
	var names []string
	for _, p := range game.Players() {
		names = append(names, p.Name)
	}

	host.Broadcast(&netplay.Message{Type: netplay.MsgLobbyUpdate, Players: names})
	s.pushLobby()
}

// Connected is called on the joining side once the host has welcomed us.
func (s *Session) Connected(peerID string) {
	logf(s.cfg, "NETPLAY: Joined as %s", peerID)

	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()

	s.status("Connected to the host.")
}

func (s *Session) Disconnected(err error) {
	s.mu.Lock()
	peer := s.peer
	s.role = nil
	s.mu.Unlock()

	if peer != nil {
		peer.StopProbing()
	}

	s.pushLobby()
	s.fail(err)
}

func (s *Session) HostMessage(msg *netplay.Message) {
	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()

	if peer == nil {
		return
	}

	switch msg.Type {
	case netplay.MsgLobbyUpdate:
		players := msg.Players
		if players == nil {
			players = []string{}
		}

		s.mu.Lock()
		lobby := s.lobbyLocked()
		lobby.Players = players
		s.broadcastLocked(lobby)
		s.mu.Unlock()

	case netplay.MsgGameStart:
		if msg.Role == nil {
			s.logger.Debug().Msg("game_start without a role")
			return
		}

		s.mu.Lock()
		s.role = &RoleMessage{Type: "role", Category: msg.Category, IsImposter: msg.Role.IsImposter, Word: msg.Role.Word, Hint: msg.Role.Hint}
		s.broadcastLocked(*s.role)
		s.mu.Unlock()

		peer.StartProbing()

	case netplay.MsgPhaseChange:
		if len(msg.State) > 0 {
			if err := s.ApplySnapshot(msg.State); err != nil {
				s.logger.Debug().Err(err).Msg("phase change state")
			}
		}
		if games.Phase(msg.Phase) == games.PhaseLobby {
			peer.StopProbing()

			s.mu.Lock()
			s.role = nil
			s.mu.Unlock()
		}

	case netplay.MsgError:
		s.broadcast(StatusMessage{Type: "error", Message: msg.Message})

	default:
		s.logger.Debug().Str("type", string(msg.Type)).Msg("ignoring message")
	}
}

// ApplySnapshot replaces the joiner's copy of the game state.
func (s *Session) ApplySnapshot(state []byte) error {
	s.mu.Lock()
	game := s.game
	s.mu.Unlock()

	if game == nil {
		return nil
	}

	if err := game.Apply(state); err != nil {
		return err
	}

	s.pushState()

	return nil
}

func (s *Session) Desync(expected, actual string) {
	s.logger.Warn().Str("expected", expected).Str("actual", actual).Msg("state checksum mismatch, applying host snapshot")
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func serveWS(cfg *Config, session *Session) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			cfg.logger.Debug().Err(err).Msg("upgrade")
			return
		}

		logf(cfg, "SERVE: Browser connected from %s", realIP(r))

		client := &Client{
			conn: conn,
			send: make(chan any, 16),
		}

		session.register(client)

		go client.writePump()
		client.readPump(session)
	}
}

func (c *Client) readPump(s *Session) {
	defer func() {
		s.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(64 << 10)

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		s.handle(msg)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
