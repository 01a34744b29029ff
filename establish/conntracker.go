// SPDX-FileCopyrightText: 2026 The Tether Authors
//
// SPDX-License-Identifier: MIT

package establish

import (
	"log"
	"sync"
	"time"

	"github.com/go-kit/kit/metrics"

	tether "github.com/tetherp2p/go-tether"
)

type instrumentedConnTracker struct {
	root tether.ConnTracker

	count     metrics.Gauge
	durration metrics.Histogram
}

// NewInstrumentedConnTracker wraps r with gauge and duration metrics.
func NewInstrumentedConnTracker(r tether.ConnTracker, ct metrics.Gauge, h metrics.Histogram) tether.ConnTracker {
	i := instrumentedConnTracker{root: r, count: ct, durration: h}
	return &i
}

func (ict instrumentedConnTracker) Count() uint {
	n := ict.root.Count()
	ict.count.With("part", "tracked_count").Set(float64(n))
	return n
}

func (ict instrumentedConnTracker) CloseAll() {
	ict.root.CloseAll()
}

func (ict instrumentedConnTracker) Active(peer tether.PeerRef) bool {
	return ict.root.Active(peer)
}

func (ict instrumentedConnTracker) OnConnect(conn *tether.Connection) bool {
	ok := ict.root.OnConnect(conn)
	if ok {
		ict.count.With("part", "tracked_conns").Add(1)
	}
	return ok
}

func (ict instrumentedConnTracker) OnClose(conn *tether.Connection) time.Duration {
	durr := ict.root.OnClose(conn)
	if durr > 0 {
		ict.count.With("part", "tracked_conns").Add(-1)
		ict.durration.With("part", "tracked_conns").Observe(durr.Seconds())
	}
	return durr
}

type connEntry struct {
	c       *tether.Connection
	started time.Time
}

// inner key is the transport address (a peer can connect more than once)
type connLookupMap map[[32]byte]map[string]connEntry

// connsPerPeer caps how many simultaneous connections one peer may hold.
const connsPerPeer = 5

// NewConnTracker returns a tracker that refuses additional connections
// from peers that already hold connsPerPeer of them.
func NewConnTracker() tether.ConnTracker {
	return &connTracker{active: make(connLookupMap)}
}

type connTracker struct {
	activeLock sync.Mutex
	active     connLookupMap
}

func toActive(peer tether.PeerRef) [32]byte {
	var pk [32]byte
	copy(pk[:], peer.PubKey())
	return pk
}

func (ct *connTracker) CloseAll() {
	ct.activeLock.Lock()
	defer ct.activeLock.Unlock()
	for k, conns := range ct.active {
		for _, c := range conns {
			if err := c.c.Close(); err != nil {
				log.Printf("failed to close %x: %v\n", k[:5], err)
			}
		}
	}
	ct.active = make(connLookupMap)
}

func (ct *connTracker) Count() uint {
	ct.activeLock.Lock()
	defer ct.activeLock.Unlock()
	return uint(len(ct.active))
}

func (ct *connTracker) Active(peer tether.PeerRef) bool {
	ct.activeLock.Lock()
	defer ct.activeLock.Unlock()
	_, ok := ct.active[toActive(peer)]
	return ok
}

func (ct *connTracker) OnConnect(conn *tether.Connection) bool {
	ct.activeLock.Lock()
	defer ct.activeLock.Unlock()
	k := toActive(conn.Remote)
	conns, ok := ct.active[k]
	if !ok {
		conns = make(map[string]connEntry)
		ct.active[k] = conns
	}
	if len(conns) >= connsPerPeer {
		return false
	}
	conns[conn.Addr.String()] = connEntry{
		c:       conn,
		started: time.Now(),
	}
	return true
}

func (ct *connTracker) OnClose(conn *tether.Connection) time.Duration {
	ct.activeLock.Lock()
	defer ct.activeLock.Unlock()

	k := toActive(conn.Remote)
	conns, ok := ct.active[k]
	if !ok {
		return 0
	}

	lkey := conn.Addr.String()
	who, ok := conns[lkey]
	if !ok {
		return 0
	}
	delete(conns, lkey)

	if len(conns) == 0 {
		delete(ct.active, k)
	}

	return time.Since(who.started)
}
