// SPDX-FileCopyrightText: 2026 The Tether Authors
//
// SPDX-License-Identifier: MIT

package tether

import (
	"context"
	"io"
	"net"
	"time"
)

// DefaultPort is the default listening port of a tether node.
const DefaultPort = 6180

// Origin tells whether a connection was initiated locally or by the remote.
// It is set when the connection is created and never changes.
type Origin int

const (
	OriginInvalid Origin = iota
	OriginInbound
	OriginOutbound
)

func (o Origin) String() string {
	switch o {
	case OriginInbound:
		return "inbound"
	case OriginOutbound:
		return "outbound"
	default:
		return "invalid"
	}
}

// Connection is an authenticated logical connection to a peer.
// It is only ever constructed by a successfully completed upgrade.
type Connection struct {
	Remote PeerRef
	Addr   net.Addr
	Origin Origin

	// Conn is the transport-specific handle underneath the upgrade.
	Conn net.Conn
}

func (c *Connection) Close() error {
	return c.Conn.Close()
}

func (c *Connection) String() string {
	return c.Origin.String() + ":" + c.Remote.String()
}

// Upgrade turns a raw dialed or accepted socket into an authenticated
// Connection. It resolves exactly once and honors ctx cancellation, so
// pending upgrades can be torn down deterministically at shutdown.
type Upgrade func(ctx context.Context) (*Connection, error)

// Listener produces one Upgrade per incoming raw connection.
// The sequence ends once the listener is closed.
type Listener interface {
	// Accept blocks for the next incoming connection and returns its
	// upgrade operation together with the remote network address.
	Accept() (Upgrade, net.Addr, error)

	Addr() net.Addr
	io.Closer
}

// Transport is the capability consumed by the establishment loop.
// Implementations negotiate identity; the loop only verifies it.
type Transport interface {
	// Listen binds addr and returns the listener plus the bound address.
	Listen(addr net.Addr) (Listener, net.Addr, error)

	// Dial starts an outbound connection attempt to peer at addr. It may
	// reject synchronously (bad address, resource exhaustion) without
	// starting an upgrade.
	Dial(peer PeerRef, addr net.Addr) (Upgrade, error)
}

// Network is the connection-establishment subsystem of a node.
type Network interface {
	// Connect dials peer at addr and blocks until the attempt is resolved.
	// Each call is resolved exactly once: nil, ErrDialRejected,
	// ErrUpgradeFailed or ErrIdentityMismatch.
	Connect(ctx context.Context, peer PeerRef, addr net.Addr) error

	// Serve runs the establishment loop until ctx ends or Close is called.
	Serve(context.Context) error

	// Notifications yields each successfully upgraded connection exactly
	// once. The channel is closed when the loop ends. The consumer's pace
	// is the loop's backpressure.
	Notifications() <-chan *Connection

	// Pending reports the number of in-flight upgrades per origin.
	Pending() (inbound, outbound uint)

	GetListenAddr() net.Addr
	GetConnTracker() ConnTracker

	io.Closer
}

// ConnTracker is the registry interface for established connections.
type ConnTracker interface {
	// OnConnect registers conn. A false return means the tracker refuses
	// the connection and the caller should close it.
	OnConnect(conn *Connection) bool

	// OnClose deregisters conn and reports how long it was held.
	OnClose(conn *Connection) time.Duration

	Active(PeerRef) bool
	Count() uint
	CloseAll()
}
