/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package netplay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HandshakeState tracks one connection attempt.
type HandshakeState int

const (
	HandshakeInit HandshakeState = iota
	HandshakeLocalDescSet
	HandshakeGathering
	HandshakeReady
	HandshakeAwaitingAnswer
	HandshakeAnswerSent
	HandshakeRemoteDescSet
	HandshakeOpen
	HandshakeAborted
)

func (s HandshakeState) String() string {
	switch s {
	case HandshakeInit:
		return "INIT"
	case HandshakeLocalDescSet:
		return "LOCAL_DESC_SET"
	case HandshakeGathering:
		return "GATHERING"
	case HandshakeReady:
		return "READY"
	case HandshakeAwaitingAnswer:
		return "AWAITING_ANSWER"
	case HandshakeAnswerSent:
		return "ANSWER_SENT"
	case HandshakeRemoteDescSet:
		return "REMOTE_DESC_SET"
	case HandshakeOpen:
		return "OPEN"
	case HandshakeAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Handshake drives descriptor exchange for a single Connection.
type Handshake struct {
	conn          Connection
	gatherTimeout time.Duration
	logger        zerolog.Logger

	mu    sync.Mutex
	state HandshakeState
}

func newHandshake(conn Connection, gatherTimeout time.Duration, logger zerolog.Logger) *Handshake {
	return &Handshake{
		conn:          conn,
		gatherTimeout: gatherTimeout,
		logger:        logger,
	}
}

func (h *Handshake) State() HandshakeState {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.state
}

func (h *Handshake) transition(to HandshakeState) {
	h.mu.Lock()
	from := h.state
	h.state = to
	h.mu.Unlock()

	h.logger.Debug().Stringer("from", from).Stringer("to", to).Msg("handshake transition")
}

func (h *Handshake) abort(stage string, err error) error {
	h.transition(HandshakeAborted)

	return &SignalingError{Stage: stage, Err: err}
}

// Offer creates the host's local descriptor and returns it once
// candidates are gathered or the gather timeout elapses.
func (h *Handshake) Offer(ctx context.Context) (Descriptor, error) {
	offer, err := h.conn.CreateOffer()
	if err != nil {
		return Descriptor{}, h.abort("offer", err)
	}

	local, err := h.settle(ctx, offer)
	if err != nil {
		return Descriptor{}, err
	}

	h.transition(HandshakeAwaitingAnswer)

	return local, nil
}

// Answer applies the host's offer and returns the local answer descriptor.
func (h *Handshake) Answer(ctx context.Context, remote Descriptor) (Descriptor, error) {
	if remote.Kind != KindOffer {
		return Descriptor{}, h.abort("remote-description", fmt.Errorf("expected an offer, got %q", remote.Kind))
	}

	if err := h.conn.SetRemoteDescription(remote); err != nil {
		return Descriptor{}, h.abort("remote-description", err)
	}

	answer, err := h.conn.CreateAnswer()
	if err != nil {
		return Descriptor{}, h.abort("answer", err)
	}

	local, err := h.settle(ctx, answer)
	if err != nil {
		return Descriptor{}, err
	}

	h.transition(HandshakeAnswerSent)

	return local, nil
}

// Accept applies the joiner's answer. The channel opening later is what
// marks the connection usable.
func (h *Handshake) Accept(remote Descriptor) error {
	if state := h.State(); state != HandshakeAwaitingAnswer {
		return &SignalingError{Stage: "remote-description", Err: fmt.Errorf("handshake is %s, not %s", state, HandshakeAwaitingAnswer)}
	}

	if remote.Kind != KindAnswer {
		return h.abort("remote-description", fmt.Errorf("expected an answer, got %q", remote.Kind))
	}

	if err := h.conn.SetRemoteDescription(remote); err != nil {
		return h.abort("remote-description", err)
	}

	h.transition(HandshakeRemoteDescSet)

	return nil
}

// Opened records that the channel is open.
func (h *Handshake) Opened() {
	h.transition(HandshakeOpen)
}

// settle sets d as the local description and waits for gathering to
// finish, giving up after gatherTimeout with whatever was gathered.
func (h *Handshake) settle(ctx context.Context, d Descriptor) (Descriptor, error) {
	gathered := h.conn.GatheringComplete()

	if err := h.conn.SetLocalDescription(d); err != nil {
		return Descriptor{}, h.abort("local-description", err)
	}
	h.transition(HandshakeLocalDescSet)
	h.transition(HandshakeGathering)

	timer := time.NewTimer(h.gatherTimeout)
	defer timer.Stop()

	select {
	case <-gathered:
	case <-timer.C:
		h.logger.Warn().Dur("timeout", h.gatherTimeout).Msg("candidate gathering timed out, using partial descriptor")
	case <-ctx.Done():
		return Descriptor{}, h.abort("gathering", ctx.Err())
	}

	local, ok := h.conn.LocalDescription()
	if !ok {
		local = d
	}
	h.transition(HandshakeReady)

	return local, nil
}
