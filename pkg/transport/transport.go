// Package transport moves protocol envelopes between a node and the rest of
// the cluster. Stdio speaks newline-delimited JSON on the process's standard
// streams; Network is an in-process stand-in with configurable delay,
// duplication and loss for tests and the bench command.
package transport

import (
	"errors"

	"github.com/ryandielhenn/zephyrgossip/pkg/protocol"
)

var ErrClosed = errors.New("transport closed")

// Transport is what a node reads envelopes from and writes envelopes to.
// Send only queues the envelope and must not wait for the network.
type Transport interface {
	Inbox() <-chan protocol.Message
	Send(msg protocol.Message) error
}
