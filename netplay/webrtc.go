/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package netplay

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Compile-time interface checks.
var (
	_ Transport  = (*WebRTCTransport)(nil)
	_ Connection = (*webrtcConnection)(nil)
	_ Channel    = (*webrtcChannel)(nil)
)

// ICEConfig holds the STUN/TURN servers used during candidate gathering.
// An empty config yields host candidates only, which is enough on a LAN.
type ICEConfig struct {
	Servers []webrtc.ICEServer
}

// ICEConfigFromURLs builds an ICEConfig with one server entry per URL.
func ICEConfigFromURLs(urls []string) ICEConfig {
	config := ICEConfig{}
	for _, url := range urls {
		if url == "" {
			continue
		}
		config.Servers = append(config.Servers, webrtc.ICEServer{URLs: []string{url}})
	}
	return config
}

// WebRTCTransport creates pion/webrtc PeerConnections.
type WebRTCTransport struct {
	config ICEConfig
	api    *webrtc.API
}

// NewWebRTCTransport returns a Transport backed by pion/webrtc. Loopback
// candidates are included so two instances on one machine can connect.
func NewWebRTCTransport(config ICEConfig) *WebRTCTransport {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	return &WebRTCTransport{
		config: config,
		api:    webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
	}
}

func (t *WebRTCTransport) NewConnection() (Connection, error) {
	pc, err := t.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: t.config.Servers,
	})
	if err != nil {
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}

	return &webrtcConnection{pc: pc}, nil
}

type webrtcConnection struct {
	pc *webrtc.PeerConnection
}

func toSessionDescription(d Descriptor) webrtc.SessionDescription {
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(d.Kind),
		SDP:  d.Body,
	}
}

func fromSessionDescription(sd webrtc.SessionDescription) Descriptor {
	return Descriptor{
		Kind: sd.Type.String(),
		Body: sd.SDP,
	}
}

func (c *webrtcConnection) CreateOffer() (Descriptor, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return Descriptor{}, err
	}
	return fromSessionDescription(offer), nil
}

func (c *webrtcConnection) CreateAnswer() (Descriptor, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return Descriptor{}, err
	}
	return fromSessionDescription(answer), nil
}

func (c *webrtcConnection) SetLocalDescription(d Descriptor) error {
	return c.pc.SetLocalDescription(toSessionDescription(d))
}

func (c *webrtcConnection) SetRemoteDescription(d Descriptor) error {
	return c.pc.SetRemoteDescription(toSessionDescription(d))
}

func (c *webrtcConnection) LocalDescription() (Descriptor, bool) {
	sd := c.pc.LocalDescription()
	if sd == nil {
		return Descriptor{}, false
	}
	return fromSessionDescription(*sd), true
}

func (c *webrtcConnection) GatheringComplete() <-chan struct{} {
	return webrtc.GatheringCompletePromise(c.pc)
}

func (c *webrtcConnection) CreateChannel(label string) (Channel, error) {
	ordered := true
	dc, err := c.pc.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return nil, fmt.Errorf("creating data channel %s: %w", label, err)
	}
	return &webrtcChannel{dc: dc}, nil
}

func (c *webrtcConnection) OnChannel(fn func(Channel)) {
	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		fn(&webrtcChannel{dc: dc})
	})
}

func (c *webrtcConnection) OnStateChange(fn func(ConnectionState)) {
	c.pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		switch state {
		case webrtc.ICEConnectionStateChecking:
			fn(StateChecking)
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			fn(StateConnected)
		case webrtc.ICEConnectionStateDisconnected:
			fn(StateDisconnected)
		case webrtc.ICEConnectionStateFailed:
			fn(StateFailed)
		case webrtc.ICEConnectionStateClosed:
			fn(StateClosed)
		default:
			fn(StateNew)
		}
	})
}

func (c *webrtcConnection) Close() error {
	return c.pc.Close()
}

type webrtcChannel struct {
	dc *webrtc.DataChannel
}

func (c *webrtcChannel) Label() string {
	return c.dc.Label()
}

func (c *webrtcChannel) IsOpen() bool {
	return c.dc.ReadyState() == webrtc.DataChannelStateOpen
}

// Send writes data as a text message so browser peers receive strings.
func (c *webrtcChannel) Send(data []byte) error {
	if !c.IsOpen() {
		return ErrChannelUnavailable
	}
	return c.dc.SendText(string(data))
}

func (c *webrtcChannel) OnOpen(fn func()) {
	c.dc.OnOpen(fn)
}

func (c *webrtcChannel) OnMessage(fn func(data []byte)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		// Handlers run later on the event queue.
		fn(append([]byte(nil), msg.Data...))
	})
}

func (c *webrtcChannel) OnClose(fn func()) {
	c.dc.OnClose(fn)
}

func (c *webrtcChannel) OnError(fn func(err error)) {
	c.dc.OnError(fn)
}

func (c *webrtcChannel) Close() error {
	return c.dc.Close()
}
