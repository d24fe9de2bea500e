/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package netplay

import (
	"time"

	"github.com/rs/zerolog"
)

// Router intercepts protocol control messages on an inbound frame and
// forwards everything else. It is used by both Host and Peer; nil hooks
// fall through to Forward.
type Router struct {
	Latency *LatencyTable
	Now     func() time.Time
	Logger  zerolog.Logger

	OnHello      func(from string, msg *Message)
	OnWelcome    func(from string, msg *Message)
	OnSync       func(from string, msg *Message)
	OnReady      func(from string, msg *Message)
	OnDisconnect func(from string, msg *Message)
	Forward      func(from string, msg *Message)
}

// Route handles one frame received from the sender identified by from.
// reply sends a message back to that sender. Malformed frames are dropped.
func (r *Router) Route(from string, data []byte, reply func(*Message)) {
	msg, err := ParseMessage(data)
	if err != nil {
		r.Logger.Debug().Str("from", from).Int("bytes", len(data)).Err(err).Msg("dropping frame")
		return
	}

	if msg.Version != 0 && msg.Version != ProtocolVersion {
		r.Logger.Debug().Str("from", from).Int("version", msg.Version).Msg("unrecognized protocol version, handling anyway")
	}

	switch msg.Type {
	case MsgPing:
		reply(&Message{Type: MsgPong, TS: msg.TS})

	case MsgPong:
		ms := r.now().UnixMilli() - msg.TS
		if r.Latency != nil {
			r.Latency.Record(from, ms)
		}
		r.Logger.Debug().Str("from", from).Int64("ms", ms).Msg("latency")

	case MsgHello:
		r.dispatch(r.OnHello, from, msg)

	case MsgWelcome:
		r.dispatch(r.OnWelcome, from, msg)

	case MsgSync:
		r.dispatch(r.OnSync, from, msg)

	case MsgReady:
		r.dispatch(r.OnReady, from, msg)

	case MsgDisconnect:
		r.dispatch(r.OnDisconnect, from, msg)

	case MsgError:
		r.Logger.Info().Str("from", from).Str("message", msg.Message).Msg("remote error")
		r.forward(from, msg)

	default:
		r.forward(from, msg)
	}
}

func (r *Router) dispatch(hook func(string, *Message), from string, msg *Message) {
	if hook == nil {
		r.forward(from, msg)
		return
	}
	hook(from, msg)
}

func (r *Router) forward(from string, msg *Message) {
	if r.Forward != nil {
		r.Forward(from, msg)
	}
}

func (r *Router) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}
