/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package games holds the host-authoritative imposter word game played
// over a netplay session. One random player per round is the imposter: the
// others learn a secret word, the imposter only a hint.
package games

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/goccy/go-json"
)

const MinPlayers = 3

var (
	ErrNotEnoughPlayers = errors.New("not enough players")
	ErrStarted          = errors.New("round already in progress")
	ErrNotStarted       = errors.New("no round in progress")
	ErrUnknownPlayer    = errors.New("unknown player")
)

type Phase string

const (
	PhaseLobby   Phase = "lobby"
	PhaseReveal  Phase = "reveal"
	PhaseDiscuss Phase = "discuss"
	PhaseVote    Phase = "vote"
	PhaseResults Phase = "results"
)

var nextPhase = map[Phase]Phase{
	PhaseReveal:  PhaseDiscuss,
	PhaseDiscuss: PhaseVote,
	PhaseVote:    PhaseResults,
	PhaseResults: PhaseLobby,
}

// Role is what one player is told at the start of a round.
type Role struct {
	IsImposter bool
	Word       string
	Hint       string
}

type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// State is the shared, non-secret part of the game. It is what the host
// broadcasts as a snapshot, so it never carries roles or the word.
type State struct {
	Phase    Phase    `json:"phase"`
	Players  []Player `json:"players"`
	Category string   `json:"category,omitempty"`
	Round    int      `json:"round"`
	Ready    []string `json:"ready,omitempty"`
}

// Game is safe for concurrent use.
type Game struct {
	words *WordList

	mu    sync.Mutex
	state State
	ready map[string]bool
}

func NewGame(words *WordList) *Game {
	return &Game{
		words: words,
		state: State{Phase: PhaseLobby},
		ready: make(map[string]bool),
	}
}

// AddPlayer adds a player to the roster, or renames an existing one.
// New players can only join between rounds.
func (g *Game) AddPlayer(id, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if i := g.indexLocked(id); i >= 0 {
		g.state.Players[i].Name = name
		return nil
	}

	if g.state.Phase != PhaseLobby {
		return ErrStarted
	}

	g.state.Players = append(g.state.Players, Player{ID: id, Name: name})

	return nil
}

// RemovePlayer drops a player. A round that falls below MinPlayers ends
// and the game returns to the lobby. Reports whether the player existed.
func (g *Game) RemovePlayer(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	i := g.indexLocked(id)
	if i < 0 {
		return false
	}

	g.state.Players = append(g.state.Players[:i], g.state.Players[i+1:]...)
	delete(g.ready, id)

	if g.state.Phase != PhaseLobby && len(g.state.Players) < MinPlayers {
		g.resetLocked()
	}

	return true
}

// Players returns the roster in join order.
func (g *Game) Players() []Player {
	g.mu.Lock()
	defer g.mu.Unlock()

	return append([]Player(nil), g.state.Players...)
}

func (g *Game) Phase() Phase {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.state.Phase
}

// SetReady flags a player as done with the current phase. Flags are
// cleared on every phase change.
func (g *Game) SetReady(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.indexLocked(id) < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, id)
	}

	g.ready[id] = true

	return nil
}

// AllReady reports whether every player has flagged ready.
func (g *Game) AllReady() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.state.Players) == 0 {
		return false
	}
	for _, p := range g.state.Players {
		if !g.ready[p.ID] {
			return false
		}
	}
	return true
}

// Start begins a round in category (random if empty) and returns every
// player's role keyed by player id. Exactly one player is the imposter.
func (g *Game) Start(category string) (map[string]Role, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state.Phase != PhaseLobby {
		return nil, ErrStarted
	}

	if len(g.state.Players) < MinPlayers {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrNotEnoughPlayers, MinPlayers, len(g.state.Players))
	}

	category, word, err := g.words.Pick(category)
	if err != nil {
		return nil, err
	}

	imposter := g.state.Players[randomIndex(len(g.state.Players))].ID

	roles := make(map[string]Role, len(g.state.Players))
	for _, p := range g.state.Players {
		if p.ID == imposter {
			roles[p.ID] = Role{IsImposter: true, Hint: word.Hint}
			continue
		}
		roles[p.ID] = Role{Word: word.Word, Hint: word.Hint}
	}

	g.state.Round++
	g.state.Category = category
	g.state.Phase = PhaseReveal
	clear(g.ready)

	return roles, nil
}

// NextPhase advances reveal → discuss → vote → results → lobby.
func (g *Game) NextPhase() (Phase, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	next, ok := nextPhase[g.state.Phase]
	if !ok {
		return g.state.Phase, ErrNotStarted
	}

	if next == PhaseLobby {
		g.resetLocked()
		return next, nil
	}

	g.state.Phase = next
	clear(g.ready)

	return next, nil
}

// Snapshot returns a copy of the shared state.
func (g *Game) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.state
	s.Players = append([]Player(nil), g.state.Players...)
	s.Ready = nil
	for _, p := range g.state.Players {
		if g.ready[p.ID] {
			s.Ready = append(s.Ready, p.ID)
		}
	}

	return s
}

// Apply replaces the local state with a snapshot received from the host.
func (g *Game) Apply(raw []byte) error {
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("decoding game state: %w", err)
	}

	if s.Phase == "" {
		return errors.New("game state has no phase")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.state = s
	g.state.Ready = nil
	clear(g.ready)
	for _, id := range s.Ready {
		g.ready[id] = true
	}

	return nil
}

func (g *Game) resetLocked() {
	g.state.Phase = PhaseLobby
	g.state.Category = ""
	clear(g.ready)
}

func (g *Game) indexLocked(id string) int {
	for i, p := range g.state.Players {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// randomIndex returns a uniform index in [0, n) from crypto/rand.
func randomIndex(n int) int {
	if n <= 1 {
		return 0
	}

	i, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("crypto/rand failure: " + err.Error())
	}

	return int(i.Int64())
}
