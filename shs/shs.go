// SPDX-FileCopyrightText: 2026 The Tether Authors
//
// SPDX-License-Identifier: MIT

// Package shs provides the TCP transport with secret-handshake
// authentication. Accept returns the raw connection immediately; the
// cryptographic upgrade runs later, inside the Upgrade operation, so a
// slow or stalled handshake never blocks the accept path.
package shs

import (
	"context"
	"crypto/ed25519"
	"net"
	"time"

	"github.com/libp2p/go-reuseport"
	"github.com/pkg/errors"
	"github.com/ssbc/go-netwrap"
	"github.com/ssbc/go-secretstream"

	"github.com/tetherp2p/go-tether"
)

// Transport implements tether.Transport over TCP with secret-handshake
// key exchange and boxstream framing.
type Transport struct {
	kp     tether.KeyPair
	appKey []byte

	client *secretstream.Client
	server *secretstream.Server

	dialer netwrap.Dialer
}

// Option changes a transport before it is used.
type Option func(*Transport) error

// WithDialer overrides how raw TCP connections are established.
func WithDialer(d netwrap.Dialer) Option {
	return func(t *Transport) error {
		if d == nil {
			return errors.New("shs: nil dialer")
		}
		t.dialer = d
		return nil
	}
}

// NewTransport creates a transport for the passed identity. All peers of
// a network have to share the same application key, connections between
// different keys fail during the handshake.
func NewTransport(kp tether.KeyPair, appKey []byte, opts ...Option) (*Transport, error) {
	if n := len(appKey); n != 32 {
		return nil, errors.Errorf("shs: appKey needs to be 32 bytes long (got %d)", n)
	}

	t := Transport{
		kp:     kp,
		appKey: appKey,
	}

	var err error
	t.client, err = secretstream.NewClient(kp.Pair, appKey)
	if err != nil {
		return nil, errors.Wrap(err, "shs: error creating secretstream.Client")
	}

	t.server, err = secretstream.NewServer(kp.Pair, appKey)
	if err != nil {
		return nil, errors.Wrap(err, "shs: error creating secretstream.Server")
	}

	for i, o := range opts {
		if err := o(&t); err != nil {
			return nil, errors.Wrapf(err, "shs: option %d failed", i)
		}
	}

	return &t, nil
}

// Listen binds addr with SO_REUSEPORT so a restarting node can rebind
// without waiting out TIME_WAIT sockets.
func (t *Transport) Listen(addr net.Addr) (tether.Listener, net.Addr, error) {
	if addr == nil {
		return nil, nil, errors.New("shs: no listen address")
	}

	network := addr.Network()
	if unwrapped := netwrap.GetAddr(addr, "tcp"); unwrapped != nil {
		addr = unwrapped
		network = "tcp"
	}

	l, err := reuseport.Listen(network, addr.String())
	if err != nil {
		return nil, nil, errors.Wrapf(err, "shs: failed to listen on %s", addr)
	}

	lis := &listener{
		l:  l,
		tr: t,
	}
	return lis, lis.Addr(), nil
}

// Dial prepares an outbound attempt to peer at addr. The returned
// Upgrade performs TCP connect, handshake and identity extraction.
func (t *Transport) Dial(peer tether.PeerRef, addr net.Addr) (tether.Upgrade, error) {
	if peer.Algo != tether.RefAlgoEd25519 {
		return nil, tether.ErrInvalidRefAlgo
	}
	if len(peer.ID) != ed25519.PublicKeySize {
		return nil, tether.ErrInvalidRef
	}
	if addr == nil {
		return nil, errors.New("shs: no dial address")
	}

	tcpAddr := netwrap.GetAddr(addr, "tcp")
	if tcpAddr == nil {
		tcpAddr = addr
	}

	remoteKey := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(remoteKey, peer.ID)
	wrapper := t.client.ConnWrapper(remoteKey)

	return func(ctx context.Context) (*tether.Connection, error) {
		raw, err := t.rawDial(ctx, tcpAddr)
		if err != nil {
			return nil, errors.Wrapf(err, "shs: error dialing %s", tcpAddr)
		}

		if deadline, ok := ctx.Deadline(); ok {
			raw.SetDeadline(deadline)
		}

		conn, err := t.upgradeWithContext(ctx, raw, func() (net.Conn, error) {
			return wrapper(raw)
		})
		if err != nil {
			return nil, errors.Wrapf(err, "shs: handshake with %s failed", tcpAddr)
		}
		conn.SetDeadline(time.Time{})

		remote, err := tether.GetPeerRefFromAddr(conn.RemoteAddr())
		if err != nil {
			conn.Close()
			return nil, errors.Wrap(err, "shs: dialed connection without authenticated address")
		}

		return &tether.Connection{
			Remote: remote,
			Addr:   conn.RemoteAddr(),
			Origin: tether.OriginOutbound,
			Conn:   conn,
		}, nil
	}, nil
}

// rawDial establishes the plain TCP connection, either through the
// configured netwrap dialer or a context-aware stdlib dial.
func (t *Transport) rawDial(ctx context.Context, addr net.Addr) (net.Conn, error) {
	if t.dialer != nil {
		return t.dialer(addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, addr.Network(), addr.String())
}

// upgradeWithContext runs the handshake in fn while watching ctx. The
// handshake code has no context plumbing of its own, cancellation works
// by closing the raw connection underneath it.
func (t *Transport) upgradeWithContext(ctx context.Context, raw net.Conn, fn func() (net.Conn, error)) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}

	resCh := make(chan result, 1)
	go func() {
		conn, err := fn()
		resCh <- result{conn, err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			raw.Close()
			return nil, res.err
		}
		return res.conn, nil

	case <-ctx.Done():
		raw.Close()
		<-resCh
		return nil, ctx.Err()
	}
}

type listener struct {
	l  net.Listener
	tr *Transport
}

func (lis *listener) Accept() (tether.Upgrade, net.Addr, error) {
	raw, err := lis.l.Accept()
	if err != nil {
		return nil, nil, err
	}

	wrapper := lis.tr.server.ConnWrapper()

	up := func(ctx context.Context) (*tether.Connection, error) {
		if deadline, ok := ctx.Deadline(); ok {
			raw.SetDeadline(deadline)
		}

		conn, err := lis.tr.upgradeWithContext(ctx, raw, func() (net.Conn, error) {
			return wrapper(raw)
		})
		if err != nil {
			return nil, errors.Wrap(err, "shs: handshake with incoming connection failed")
		}
		conn.SetDeadline(time.Time{})

		remote, err := tether.GetPeerRefFromAddr(conn.RemoteAddr())
		if err != nil {
			conn.Close()
			return nil, errors.Wrap(err, "shs: accepted connection without authenticated address")
		}

		return &tether.Connection{
			Remote: remote,
			Addr:   conn.RemoteAddr(),
			Origin: tether.OriginInbound,
			Conn:   conn,
		}, nil
	}

	return up, raw.RemoteAddr(), nil
}

// Addr returns the bound TCP address wrapped with the local public key,
// ready to be handed to another node as a dialable endpoint.
func (lis *listener) Addr() net.Addr {
	return netwrap.WrapAddr(lis.l.Addr(), secretstream.Addr{PubKey: lis.tr.kp.ID.PubKey()})
}

func (lis *listener) Close() error {
	return lis.l.Close()
}
