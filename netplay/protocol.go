/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package netplay

import (
	"strconv"
	"unicode/utf16"

	"github.com/goccy/go-json"
)

// ProtocolVersion is carried in handshake and snapshot messages.
// Receivers do not reject other versions.
const ProtocolVersion = 1

// HostRef is the latency table key used on the joining side.
const HostRef = "host"

type MsgType string

const (
	MsgHello       MsgType = "hello"
	MsgWelcome     MsgType = "welcome"
	MsgLobbyUpdate MsgType = "lobby_update"
	MsgGameStart   MsgType = "game_start"
	MsgPhaseChange MsgType = "phase_change"
	MsgSync        MsgType = "sync"
	MsgReady       MsgType = "ready"
	MsgInput       MsgType = "input"
	MsgPing        MsgType = "ping"
	MsgPong        MsgType = "pong"
	MsgError       MsgType = "error"
	MsgDisconnect  MsgType = "disconnect"
)

// Role is the private per-player payload of a game_start message.
type Role struct {
	IsImposter bool   `json:"isImposter"`
	Word       string `json:"word"`
	Hint       string `json:"hint"`
}

// Message is the envelope for every frame on a channel. Only Type is
// mandatory; the other fields are used depending on Type.
type Message struct {
	Type     MsgType         `json:"type"`
	Version  int             `json:"version,omitempty"`  // hello, welcome, game_start, sync
	Name     string          `json:"name,omitempty"`     // hello, ready
	PeerID   string          `json:"peerId,omitempty"`   // welcome
	Players  []string        `json:"players,omitempty"`  // lobby_update, game_start
	Category string          `json:"category,omitempty"` // game_start
	Role     *Role           `json:"role,omitempty"`     // game_start
	Phase    string          `json:"phase,omitempty"`    // phase_change
	State    json.RawMessage `json:"state,omitempty"`    // phase_change, sync
	Checksum string          `json:"checksum,omitempty"` // sync
	TS       int64           `json:"ts,omitempty"`       // ping, pong
	Message  string          `json:"message,omitempty"`  // error
	Reason   string          `json:"reason,omitempty"`   // disconnect
}

// ParseMessage decodes a frame. Frames that are not a JSON object with a
// type are reported as ErrMalformedFrame.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, ErrMalformedFrame
	}
	if msg.Type == "" {
		return nil, ErrMalformedFrame
	}

	return &msg, nil
}

// Checksum is a 32-bit rolling hash (h = h*31 + c) over the UTF-16 code
// units of s, rendered as lowercase hex. It detects divergence only.
func Checksum(s string) string {
	var h uint32
	for _, c := range utf16.Encode([]rune(s)) {
		h = h*31 + uint32(c)
	}

	return strconv.FormatUint(uint64(h), 16)
}

// NewSyncMessage serializes state and wraps it with its checksum.
func NewSyncMessage(state any) (*Message, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:     MsgSync,
		Version:  ProtocolVersion,
		State:    data,
		Checksum: Checksum(string(data)),
	}, nil
}
