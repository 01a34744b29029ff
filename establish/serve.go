// SPDX-FileCopyrightText: 2026 The Tether Authors
//
// SPDX-License-Identifier: MIT

package establish

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	tether "github.com/tetherp2p/go-tether"
)

// dialRequest hands ownership of the reply slot to the loop, which
// resolves it exactly once.
type dialRequest struct {
	peer  tether.PeerRef
	addr  net.Addr
	reply chan<- error
}

type acceptEvent struct {
	upgrade tether.Upgrade
	addr    net.Addr
	err     error
}

type outboundDone struct {
	conn    *tether.Connection
	err     error
	addr    net.Addr
	peer    tether.PeerRef
	started time.Time
	reply   chan<- error
}

type inboundDone struct {
	conn    *tether.Connection
	err     error
	addr    net.Addr
	started time.Time
}

// Connect dials peer at addr through the Serve loop and waits for the
// outcome. The reply slot is resolved exactly once per request.
func (n *node) Connect(ctx context.Context, peer tether.PeerRef, addr net.Addr) error {
	reply := make(chan error, 1)
	req := dialRequest{peer: peer, addr: addr, reply: reply}

	select {
	case n.requests <- req:
	case <-n.closing:
		return tether.ErrShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return errors.Wrapf(err, "establish: connect to %s failed", peer.ShortString())
	case <-ctx.Done():
		// the loop will resolve into the buffered slot, nobody reads it
		return ctx.Err()
	case <-n.dead:
		// the loop resolves every admitted request before it dies, so
		// prefer a buffered reply over reporting shutdown
		select {
		case err := <-reply:
			return errors.Wrapf(err, "establish: connect to %s failed", peer.ShortString())
		default:
			return tether.ErrShuttingDown
		}
	}
}

// Serve runs the establishment loop. It returns when ctx ends, or after
// Close once the in-flight upgrades of both origins have resolved.
func (n *node) Serve(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&n.serving, 0, 1) {
		return errors.New("establish: Serve called twice")
	}

	// canceling this tears down still-pending upgrades deterministically
	upCtx, upCancel := context.WithCancel(ctx)
	defer upCancel()

	// closed on return so upgrade goroutines never block on a dead loop
	loopDone := make(chan struct{})
	defer close(loopDone)
	defer close(n.dead)

	defer close(n.notifs)
	defer n.Close()

	acceptCh := make(chan acceptEvent)
	go n.acceptLoop(acceptCh)

	outDone := make(chan outboundDone)
	inDone := make(chan inboundDone)

	var (
		reqs    = n.requests
		accepts = acceptCh
		closing = n.closing
	)

	n.log.Log("event", "serving", "addr", n.listenAddr)

	for {
		if closing == nil && accepts == nil {
			in, out := n.Pending()
			if in == 0 && out == 0 {
				n.log.Log("event", "serve loop done")
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-closing:
			// no new requests; resolve what is still in flight promptly
			closing = nil
			reqs = nil
			upCancel()

		case req := <-reqs:
			n.handleDialRequest(upCtx, req, outDone, loopDone)

		case ev, ok := <-accepts:
			if !ok {
				accepts = nil
				continue
			}
			n.handleAccept(upCtx, ev, inDone, loopDone)

		case done := <-outDone:
			if err := n.handleOutboundDone(ctx, done); err != nil {
				return err
			}

		case done := <-inDone:
			if err := n.handleInboundDone(ctx, done); err != nil {
				return err
			}
		}
	}
}

// acceptLoop pumps the listener into the Serve loop.
func (n *node) acceptLoop(acceptCh chan<- acceptEvent) {
	defer close(acceptCh)
	for {
		upgrade, addr, err := n.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case acceptCh <- acceptEvent{err: err}:
			case <-n.closing:
				return
			}
			continue
		}

		select {
		case acceptCh <- acceptEvent{upgrade: upgrade, addr: addr}:
		case <-n.closing:
			return
		}
	}
}

func (n *node) handleDialRequest(upCtx context.Context, req dialRequest, outDone chan<- outboundDone, loopDone <-chan struct{}) {
	upgrade, err := n.transport.Dial(req.peer, req.addr)
	if err != nil {
		// local failure, nothing was admitted to the pool
		n.count("dial-rejected")
		n.log.Log("event", "dial rejected", "peer", req.peer.ShortString(), "addr", req.addr, "err", err)
		n.resolve(req.reply, tether.ErrDialRejected{Addr: req.addr, Cause: err}, req.peer)
		return
	}

	atomic.AddInt64(&n.pendingOutbound, 1)
	n.gaugeAdd("pending_outbound", 1)

	started := time.Now()
	go func() {
		conn, err := upgrade(upCtx)
		res := outboundDone{
			conn:    conn,
			err:     err,
			addr:    req.addr,
			peer:    req.peer,
			started: started,
			reply:   req.reply,
		}
		select {
		case outDone <- res:
		case <-loopDone:
		}
	}()
}

func (n *node) handleAccept(upCtx context.Context, ev acceptEvent, inDone chan<- inboundDone, loopDone <-chan struct{}) {
	if ev.err != nil {
		// transient, the listener keeps going
		n.count("accept-failure")
		n.log.Log("event", "accept failed", "err", ev.err)
		return
	}

	atomic.AddInt64(&n.pendingInbound, 1)
	n.gaugeAdd("pending_inbound", 1)

	started := time.Now()
	upgrade := ev.upgrade
	addr := ev.addr
	go func() {
		conn, err := upgrade(upCtx)
		res := inboundDone{conn: conn, err: err, addr: addr, started: started}
		select {
		case inDone <- res:
		case <-loopDone:
		}
	}()
}

func (n *node) handleOutboundDone(ctx context.Context, done outboundDone) error {
	atomic.AddInt64(&n.pendingOutbound, -1)
	n.gaugeAdd("pending_outbound", -1)
	elapsed := time.Since(done.started)

	var result error
	switch {
	case done.err != nil:
		result = tether.ErrUpgradeFailed{Origin: tether.OriginOutbound, Addr: done.addr, Cause: done.err}
		n.observe("upgrade_outbound_failed", elapsed)
		n.count("upgrade-failure")
		n.log.Log("event", "outbound upgrade failed", "peer", done.peer.ShortString(), "addr", done.addr, "took", elapsed, "err", done.err)

	case !done.conn.Remote.Equal(done.peer):
		result = tether.ErrIdentityMismatch{Expected: done.peer, Actual: done.conn.Remote}
		done.conn.Close()
		n.observe("upgrade_outbound_failed", elapsed)
		n.count("identity-mismatch")
		n.log.Log("event", "identity mismatch", "dialed", done.peer.ShortString(), "got", done.conn.Remote.ShortString(), "addr", done.addr)

	default:
		n.observe("upgrade_outbound_ok", elapsed)
		n.count("connection")
		n.log.Log("event", "outbound upgraded", "peer", done.peer.ShortString(), "addr", done.addr, "took", elapsed)
		if err := n.forward(ctx, done.conn); err != nil {
			n.resolve(done.reply, tether.ErrShuttingDown, done.peer)
			return err
		}
	}

	n.resolve(done.reply, result, done.peer)
	return nil
}

func (n *node) handleInboundDone(ctx context.Context, done inboundDone) error {
	atomic.AddInt64(&n.pendingInbound, -1)
	n.gaugeAdd("pending_inbound", -1)
	elapsed := time.Since(done.started)

	if done.err != nil {
		// nobody to reply to for inbound, just record it
		n.observe("upgrade_inbound_failed", elapsed)
		n.count("upgrade-failure")
		n.log.Log("event", "inbound upgrade failed", "addr", done.addr, "took", elapsed, "err", done.err)
		return nil
	}

	n.observe("upgrade_inbound_ok", elapsed)
	n.count("connection")
	n.log.Log("event", "inbound upgraded", "peer", done.conn.Remote.ShortString(), "addr", done.addr, "took", elapsed)
	return n.forward(ctx, done.conn)
}

// forward hands conn to the notification channel. This is the loop's only
// backpressure point: a slow consumer stalls admission of new work.
func (n *node) forward(ctx context.Context, conn *tether.Connection) error {
	select {
	case n.notifs <- conn:
		return nil
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	}
}

// resolve delivers the reply exactly once. The slot is buffered and owned
// by the loop, so a missing receiver can never block bookkeeping.
func (n *node) resolve(reply chan<- error, result error, peer tether.PeerRef) {
	select {
	case reply <- result:
	default:
		n.count("reply-abandoned")
		n.log.Log("event", "reply abandoned", "peer", peer.ShortString())
	}
}

func (n *node) count(event string) {
	if n.evtCtr != nil {
		n.evtCtr.With("event", event).Add(1)
	}
}

func (n *node) gaugeAdd(part string, delta float64) {
	if n.sysGauge != nil {
		n.sysGauge.With("part", part).Add(delta)
	}
}

func (n *node) observe(part string, elapsed time.Duration) {
	if n.latency != nil {
		n.latency.With("part", part).Observe(elapsed.Seconds())
	}
}
