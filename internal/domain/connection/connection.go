package connection

import (
	"errors"
	"time"
)

// ErrGone reports that the peer of a duplex connection is no longer
// reachable, or that the transport does not know the connection id.
var ErrGone = errors.New("connection gone")

// State is the lifecycle state of a duplex connection
type State string

const (
	StateConnected    State = "CONNECTED"
	StateDisconnected State = "DISCONNECTED"
)

// Connection is the registry view of a live duplex connection.
type Connection struct {
	ID            string    `json:"id"`
	EstablishedAt time.Time `json:"establishedAt"`
}

// New creates a connection record established now.
func New(id string) Connection {
	return Connection{
		ID:            id,
		EstablishedAt: time.Now().UTC(),
	}
}
