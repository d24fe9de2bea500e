/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package netplay

// ConnectionState is the connectivity state reported by a Connection.
type ConnectionState int

const (
	StateNew ConnectionState = iota
	StateChecking
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateChecking:
		return "checking"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// lost reports whether the state means the peer is gone.
func (s ConnectionState) lost() bool {
	return s == StateDisconnected || s == StateFailed
}

// Transport creates peer connections.
type Transport interface {
	NewConnection() (Connection, error)
}

// Connection is one peer-to-peer link. Callbacks may be invoked from any
// goroutine.
type Connection interface {
	CreateOffer() (Descriptor, error)
	CreateAnswer() (Descriptor, error)
	SetLocalDescription(d Descriptor) error
	SetRemoteDescription(d Descriptor) error

	// LocalDescription returns the local descriptor including every
	// candidate gathered so far.
	LocalDescription() (Descriptor, bool)

	// GatheringComplete must be called before SetLocalDescription. The
	// returned channel is closed once candidate gathering has finished.
	GatheringComplete() <-chan struct{}

	CreateChannel(label string) (Channel, error)
	OnChannel(fn func(Channel))
	OnStateChange(fn func(ConnectionState))

	Close() error
}

// Channel is an ordered, reliable message pipe carried by a Connection.
type Channel interface {
	Label() string
	IsOpen() bool
	Send(data []byte) error

	OnOpen(fn func())
	OnMessage(fn func(data []byte))
	OnClose(fn func())
	OnError(fn func(err error))

	Close() error
}
