package netplay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPeer(t *testing.T, opts ...Option) (*Peer, *fakeTransport, *peerRecorder) {
	t.Helper()

	transport := &fakeTransport{}
	recorder := &peerRecorder{}
	peer := NewPeer(transport, "Zoe", recorder, opts...)
	t.Cleanup(func() { peer.Close() })

	return peer, transport, recorder
}

// dialHost answers a fake offer and opens the channel the host announces.
func dialHost(t *testing.T, peer *Peer, transport *fakeTransport) (*fakeConn, *fakeChannel) {
	t.Helper()

	_, err := peer.CreateAnswer(context.Background(), offerToken("v=0 host offer"))
	require.NoError(t, err)

	conn := transport.conn(transport.count() - 1)
	ch := conn.announce(channelLabel)
	peer.flush()
	ch.markOpen()
	peer.flush()

	return conn, ch
}

func TestPeerCreateAnswer(t *testing.T) {
	peer, transport, _ := newTestPeer(t)

	token, err := peer.CreateAnswer(context.Background(), offerToken("v=0 host offer"))
	require.NoError(t, err)

	desc, err := Decode(token)
	require.NoError(t, err)
	assert.Equal(t, KindAnswer, desc.Kind)
	assert.Contains(t, desc.Body, "a=candidate:fake")

	require.Equal(t, 1, transport.count())
	assert.Equal(t, HandshakeAnswerSent, peer.handshake.State())
}

func TestPeerCreateAnswerRejectsBadToken(t *testing.T) {
	peer, transport, _ := newTestPeer(t)

	_, err := peer.CreateAnswer(context.Background(), "!!!")

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "Invalid code. Copy the whole code and try again.", UserMessage(err))
	assert.Equal(t, 0, transport.count())
}

func TestPeerCreateAnswerRejectsAnswerToken(t *testing.T) {
	peer, transport, _ := newTestPeer(t)

	_, err := peer.CreateAnswer(context.Background(), answerToken("v=0"))

	var sigErr *SignalingError
	require.ErrorAs(t, err, &sigErr)
	assert.Equal(t, "remote-description", sigErr.Stage)
	assert.True(t, transport.conn(0).isClosed())
	assert.False(t, peer.Connected())
}

func TestPeerAnnouncesOnOpen(t *testing.T) {
	peer, transport, _ := newTestPeer(t)

	_, ch := dialHost(t, peer, transport)

	hellos := ch.sentOfType(MsgHello)
	require.Len(t, hellos, 1)
	assert.Equal(t, "Zoe", hellos[0].Name)
	assert.Equal(t, ProtocolVersion, hellos[0].Version)
	assert.Len(t, ch.messages(), 1)
	assert.True(t, peer.Connected())
}

func TestPeerWelcome(t *testing.T) {
	peer, transport, recorder := newTestPeer(t)
	_, ch := dialHost(t, peer, transport)

	ch.receiveMsg(&Message{Type: MsgWelcome, Version: ProtocolVersion, PeerID: "abc"})
	peer.flush()

	assert.Equal(t, []string{"abc"}, recorder.connected)
	assert.Equal(t, "abc", peer.PeerID())
}

func TestPeerEchoesPing(t *testing.T) {
	peer, transport, _ := newTestPeer(t)
	_, ch := dialHost(t, peer, transport)

	ch.receiveMsg(&Message{Type: MsgPing, TS: 1000})
	peer.flush()

	pongs := ch.sentOfType(MsgPong)
	require.Len(t, pongs, 1)
	assert.Equal(t, int64(1000), pongs[0].TS)
}

func TestPeerLatencyProbe(t *testing.T) {
	clock := func() time.Time { return time.UnixMilli(5000) }
	peer, transport, _ := newTestPeer(t, WithClock(clock), WithPingInterval(10*time.Millisecond))
	_, ch := dialHost(t, peer, transport)

	peer.StartProbing()
	assert.Eventually(t, func() bool {
		return len(ch.sentOfType(MsgPing)) > 0
	}, time.Second, 5*time.Millisecond)
	peer.StopProbing()

	assert.Equal(t, int64(5000), ch.sentOfType(MsgPing)[0].TS)

	ch.receiveMsg(&Message{Type: MsgPong, TS: 4990})
	peer.flush()

	ms, ok := peer.Latency()
	require.True(t, ok)
	assert.Equal(t, int64(10), ms)
}

func TestPeerAppliesSnapshots(t *testing.T) {
	peer, transport, recorder := newTestPeer(t)
	_, ch := dialHost(t, peer, transport)

	good, err := NewSyncMessage(map[string]string{"phase": "reveal"})
	require.NoError(t, err)
	ch.receiveMsg(good)

	bad, err := NewSyncMessage(map[string]string{"phase": "vote"})
	require.NoError(t, err)
	bad.Checksum = "deadbeef"
	ch.receiveMsg(bad)
	peer.flush()

	assert.Equal(t, []string{`{"phase":"reveal"}`, `{"phase":"vote"}`}, recorder.applied)
	assert.Equal(t, 1, recorder.desyncs)
	assert.Empty(t, recorder.messages)
}

func TestPeerForwardsGameMessages(t *testing.T) {
	peer, transport, recorder := newTestPeer(t)
	_, ch := dialHost(t, peer, transport)

	ch.receiveMsg(&Message{Type: MsgGameStart, Category: "Food", Role: &Role{Word: "Pizza"}})
	ch.receive("{not-json")
	peer.flush()

	require.Len(t, recorder.messages, 1)
	assert.Equal(t, "Pizza", recorder.messages[0].Role.Word)
	assert.True(t, ch.IsOpen())
}

func TestPeerDisconnectNotifiesOnce(t *testing.T) {
	peer, transport, recorder := newTestPeer(t)
	conn, ch := dialHost(t, peer, transport)

	conn.setState(StateDisconnected)
	ch.Close()
	peer.flush()
	peer.flush()

	require.Len(t, recorder.disconnected, 1)
	assert.ErrorIs(t, recorder.disconnected[0], ErrConnectivityLost)
	assert.True(t, conn.isClosed())
	assert.False(t, peer.Connected())
}

func TestPeerHostClosedNotice(t *testing.T) {
	peer, transport, recorder := newTestPeer(t)
	_, ch := dialHost(t, peer, transport)

	ch.receiveMsg(&Message{Type: MsgDisconnect, Reason: "host closed the session"})
	peer.flush()

	require.Len(t, recorder.disconnected, 1)
	assert.Equal(t, "The other device left: host closed the session", UserMessage(recorder.disconnected[0]))
}

func TestPeerNewAnswerReplacesOldConnection(t *testing.T) {
	peer, transport, recorder := newTestPeer(t)
	first, _ := dialHost(t, peer, transport)

	_, err := peer.CreateAnswer(context.Background(), offerToken("v=0 second offer"))
	require.NoError(t, err)
	assert.True(t, first.isClosed())

	// Late events from the replaced connection are ignored.
	first.setState(StateFailed)
	peer.flush()
	assert.Empty(t, recorder.disconnected)
}

func TestPeerCloseIsIdempotent(t *testing.T) {
	peer, transport, recorder := newTestPeer(t)
	conn, ch := dialHost(t, peer, transport)

	require.NoError(t, peer.Close())
	require.NoError(t, peer.Close())

	byes := ch.sentOfType(MsgDisconnect)
	require.Len(t, byes, 1)
	assert.Equal(t, "Zoe left", byes[0].Reason)
	assert.True(t, conn.isClosed())
	assert.Empty(t, recorder.disconnected)

	peer.SendToHost(&Message{Type: MsgReady})
	_, err := peer.CreateAnswer(context.Background(), offerToken("v=0"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPeerSendBeforeOpenIsDropped(t *testing.T) {
	peer, transport, _ := newTestPeer(t)

	_, err := peer.CreateAnswer(context.Background(), offerToken("v=0"))
	require.NoError(t, err)

	peer.SendToHost(&Message{Type: MsgReady, Name: "Zoe"})

	ch := transport.conn(0).announce(channelLabel)
	peer.flush()
	assert.Empty(t, ch.messages())
}

func TestPeerStartProbingAfterClose(t *testing.T) {
	peer, _, _ := newTestPeer(t, WithPingInterval(time.Millisecond))

	require.NoError(t, peer.Close())
	peer.StartProbing()

	assert.False(t, peer.timers.Running())
}
