// SPDX-FileCopyrightText: 2026 The Tether Authors
//
// SPDX-License-Identifier: MIT

package establish

import (
	"net"
	"sync"
	"sync/atomic"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics/prometheus"
	"github.com/pkg/errors"

	tether "github.com/tetherp2p/go-tether"
)

type Options struct {
	Logger kitlog.Logger

	ListenAddr net.Addr
	Transport  tether.Transport

	// NotifyBuffer sizes the notification channel. Zero means unbuffered,
	// which hands the consumer's backpressure straight to the loop.
	NotifyBuffer int

	ConnTracker tether.ConnTracker

	EventCounter *prometheus.Counter
	SystemGauge  *prometheus.Gauge
	Latency      *prometheus.Summary
}

type node struct {
	opts Options

	transport  tether.Transport
	listener   tether.Listener
	listenAddr net.Addr

	requests chan dialRequest
	notifs   chan *tether.Connection

	closing   chan struct{}
	closeOnce sync.Once

	// closed when the Serve loop has returned
	dead    chan struct{}
	serving int32 // atomic

	pendingInbound  int64 // atomic
	pendingOutbound int64 // atomic

	connTracker tether.ConnTracker
	closers     multiCloser
	log         kitlog.Logger

	evtCtr   *prometheus.Counter
	sysGauge *prometheus.Gauge
	latency  *prometheus.Summary
}

// New binds the transport listener and returns a ready-to-Serve network.
func New(opts Options) (tether.Network, error) {
	if opts.Transport == nil {
		return nil, errors.New("establish: missing transport")
	}
	if opts.ListenAddr == nil {
		return nil, errors.New("establish: missing listen address")
	}

	n := &node{
		opts:      opts,
		transport: opts.Transport,
		requests:  make(chan dialRequest),
		notifs:    make(chan *tether.Connection, opts.NotifyBuffer),
		closing:   make(chan struct{}),
		dead:      make(chan struct{}),

		evtCtr:   opts.EventCounter,
		sysGauge: opts.SystemGauge,
		latency:  opts.Latency,
	}

	n.log = opts.Logger
	if n.log == nil {
		n.log = kitlog.NewNopLogger()
	}

	n.connTracker = opts.ConnTracker
	if n.connTracker == nil {
		n.connTracker = NewConnTracker()
	}

	if n.sysGauge != nil {
		n.sysGauge.With("part", "pending_inbound").Set(0)
		n.sysGauge.With("part", "pending_outbound").Set(0)

		if n.latency != nil {
			n.connTracker = NewInstrumentedConnTracker(n.connTracker, n.sysGauge, n.latency)
		}
	}

	var err error
	n.listener, n.listenAddr, err = n.transport.Listen(opts.ListenAddr)
	if err != nil {
		return nil, errors.Wrap(err, "establish: error creating listener")
	}
	n.closers.addCloser(n.listener)
	n.log.Log("event", "listening", "addr", n.listenAddr)

	return n, nil
}

func (n *node) GetListenAddr() net.Addr {
	return n.listenAddr
}

func (n *node) GetConnTracker() tether.ConnTracker {
	return n.connTracker
}

// Notifications is the new-connection stream. Closed when the loop ends.
func (n *node) Notifications() <-chan *tether.Connection {
	return n.notifs
}

// Pending snapshots the per-origin in-flight upgrade counters.
func (n *node) Pending() (inbound, outbound uint) {
	return uint(atomic.LoadInt64(&n.pendingInbound)), uint(atomic.LoadInt64(&n.pendingOutbound))
}

// Close stops accepting new work. The Serve loop drains what is already in
// flight and then returns.
func (n *node) Close() error {
	var err error
	n.closeOnce.Do(func() {
		close(n.closing)
		err = n.closers.Close()

		if cnt := n.connTracker.Count(); cnt > 0 {
			n.log.Log("event", "warning", "msg", "still open connections", "count", cnt)
			n.connTracker.CloseAll()
		}
	})
	return errors.Wrap(err, "establish: failed to close network")
}
