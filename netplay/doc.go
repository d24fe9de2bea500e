/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package netplay connects a handful of devices in a star around one
// authoritative host, with no server in between.
//
// Connections are negotiated by hand: the [Host] produces an offer token
// with [Host.CreateOffer], the player copies it to their device where
// [Peer.CreateAnswer] turns it into an answer token, and the host applies
// that with [Host.AcceptAnswer]. Tokens are base64 JSON descriptors
// ([Encode], [Decode]). The channel opening, not the token exchange, is
// what marks a peer as connected; the joiner then announces itself with a
// hello and the host replies with a welcome.
//
// Inbound frames go through a [Router], which answers latency probes and
// handles the handshake messages itself and forwards everything else to the
// game. The host periodically broadcasts a snapshot of game state with a
// [Checksum] so joiners can detect, but not repair, divergence.
//
// All transport callbacks for a Host or Peer are handled one at a time on
// an ordered event queue, so handler methods never run concurrently.
// [WebRTCTransport] is the pion/webrtc implementation of [Transport].
package netplay
