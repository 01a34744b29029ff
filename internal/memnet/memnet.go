// SPDX-FileCopyrightText: 2026 The Tether Authors
//
// SPDX-License-Identifier: MIT

// Package memnet is a scriptable in-memory transport for tests: dials can
// be stubbed or rejected per address, inbound upgrades and accept errors
// can be injected, and upgrades can be gated to control completion order.
package memnet

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"

	tether "github.com/tetherp2p/go-tether"
)

// Addr is a purely symbolic network location.
type Addr string

func (a Addr) Network() string { return "mem" }
func (a Addr) String() string  { return string(a) }

type Transport struct {
	mu      sync.Mutex
	scripts map[string]tether.Upgrade
	rejects map[string]error

	listener *Listener
}

var _ tether.Transport = (*Transport)(nil)

func NewTransport() *Transport {
	return &Transport{
		scripts: make(map[string]tether.Upgrade),
		rejects: make(map[string]error),
	}
}

// StubDial makes Dial to addr succeed locally and resolve through up.
func (t *Transport) StubDial(addr net.Addr, up tether.Upgrade) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scripts[addr.String()] = up
}

// RejectDial makes Dial to addr fail synchronously with err.
func (t *Transport) RejectDial(addr net.Addr, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rejects[addr.String()] = err
}

func (t *Transport) Dial(peer tether.PeerRef, addr net.Addr) (tether.Upgrade, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err, ok := t.rejects[addr.String()]; ok {
		return nil, err
	}
	up, ok := t.scripts[addr.String()]
	if !ok {
		return nil, errors.Errorf("memnet: no route to %s", addr)
	}
	return up, nil
}

func (t *Transport) Listen(addr net.Addr) (tether.Listener, net.Addr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		return nil, nil, errors.New("memnet: already listening")
	}
	t.listener = &Listener{
		addr:   addr,
		events: make(chan acceptEvent, 16),
		closed: make(chan struct{}),
	}
	return t.listener, addr, nil
}

// QueueUpgrade injects an incoming connection whose upgrade is up.
func (t *Transport) QueueUpgrade(up tether.Upgrade, addr net.Addr) {
	t.listener.events <- acceptEvent{upgrade: up, addr: addr}
}

// QueueAcceptError injects an accept-level listener error.
func (t *Transport) QueueAcceptError(err error) {
	t.listener.events <- acceptEvent{err: err}
}

type acceptEvent struct {
	upgrade tether.Upgrade
	addr    net.Addr
	err     error
}

type Listener struct {
	addr      net.Addr
	events    chan acceptEvent
	closed    chan struct{}
	closeOnce sync.Once
}

var _ tether.Listener = (*Listener)(nil)

func (l *Listener) Accept() (tether.Upgrade, net.Addr, error) {
	select {
	case ev := <-l.events:
		if ev.err != nil {
			return nil, nil, ev.err
		}
		return ev.upgrade, ev.addr, nil
	case <-l.closed:
		return nil, nil, net.ErrClosed
	}
}

func (l *Listener) Addr() net.Addr { return l.addr }

func (l *Listener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

// NewConn builds an upgraded connection backed by one end of a net.Pipe.
func NewConn(remote tether.PeerRef, addr net.Addr, origin tether.Origin) *tether.Connection {
	conn, _ := net.Pipe()
	return &tether.Connection{
		Remote: remote,
		Addr:   addr,
		Origin: origin,
		Conn:   conn,
	}
}

// Resolved returns an upgrade that immediately yields conn.
func Resolved(conn *tether.Connection) tether.Upgrade {
	return func(context.Context) (*tether.Connection, error) {
		return conn, nil
	}
}

// Failed returns an upgrade that immediately fails with err.
func Failed(err error) tether.Upgrade {
	return func(context.Context) (*tether.Connection, error) {
		return nil, err
	}
}

// Gated wraps up so it only resolves after the returned release func is
// called. Cancellation still wins while the gate is shut.
func Gated(up tether.Upgrade) (tether.Upgrade, func()) {
	gate := make(chan struct{})
	var once sync.Once
	release := func() { once.Do(func() { close(gate) }) }

	return func(ctx context.Context) (*tether.Connection, error) {
		select {
		case <-gate:
			return up(ctx)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, release
}
