/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package netplay

import (
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultGatherTimeout = 10 * time.Second
	DefaultSyncInterval  = 3 * time.Second
	DefaultPingInterval  = 5 * time.Second
)

type options struct {
	logger        zerolog.Logger
	gatherTimeout time.Duration
	syncInterval  time.Duration
	pingInterval  time.Duration
	offerTimeout  time.Duration
	now           func() time.Time
}

func defaultOptions() options {
	return options{
		logger:        zerolog.Nop(),
		gatherTimeout: DefaultGatherTimeout,
		syncInterval:  DefaultSyncInterval,
		pingInterval:  DefaultPingInterval,
		now:           time.Now,
	}
}

// Option configures a Host or Peer.
type Option func(*options)

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithGatherTimeout bounds the candidate-gathering wait of a handshake.
func WithGatherTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.gatherTimeout = d
		}
	}
}

func WithSyncInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.syncInterval = d
		}
	}
}

func WithPingInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pingInterval = d
		}
	}
}

// WithOfferTimeout removes an offer superseded by a newer one once d has
// elapsed without its channel opening. Zero keeps abandoned offers forever.
func WithOfferTimeout(d time.Duration) Option {
	return func(o *options) {
		o.offerTimeout = d
	}
}

// WithClock replaces the wall clock used for latency probes.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
