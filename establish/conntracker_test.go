// SPDX-FileCopyrightText: 2026 The Tether Authors
//
// SPDX-License-Identifier: MIT

package establish_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	tether "github.com/tetherp2p/go-tether"
	"github.com/tetherp2p/go-tether/establish"
	"github.com/tetherp2p/go-tether/internal/memnet"
)

func trackedConn(t *testing.T, peer tether.PeerRef, addr string) *tether.Connection {
	t.Helper()
	conn := memnet.NewConn(peer, memnet.Addr(addr), tether.OriginInbound)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestConnTrackerCountAndActive(t *testing.T) {
	r := require.New(t)
	ct := establish.NewConnTracker()

	p1 := testPeer(t, 1)
	p2 := testPeer(t, 2)

	r.EqualValues(0, ct.Count())
	r.False(ct.Active(p1))

	c1 := trackedConn(t, p1, "a:1")
	r.True(ct.OnConnect(c1))
	r.EqualValues(1, ct.Count())
	r.True(ct.Active(p1))
	r.False(ct.Active(p2))

	// second conn from the same peer, count stays per-peer
	c2 := trackedConn(t, p1, "a:2")
	r.True(ct.OnConnect(c2))
	r.EqualValues(1, ct.Count())

	c3 := trackedConn(t, p2, "b:1")
	r.True(ct.OnConnect(c3))
	r.EqualValues(2, ct.Count())

	ct.OnClose(c1)
	r.True(ct.Active(p1), "still one conn left")
	ct.OnClose(c2)
	r.False(ct.Active(p1))
	r.EqualValues(1, ct.Count())
}

func TestConnTrackerPerPeerCap(t *testing.T) {
	r := require.New(t)
	ct := establish.NewConnTracker()

	peer := testPeer(t, 9)

	for i := 0; i < 5; i++ {
		c := trackedConn(t, peer, fmt.Sprintf("cap:%d", i))
		r.True(ct.OnConnect(c), "conn %d should be admitted", i)
	}

	over := trackedConn(t, peer, "cap:extra")
	r.False(ct.OnConnect(over), "sixth conn from one peer gets refused")

	// closing one frees a slot
	gone := memnet.NewConn(peer, memnet.Addr("cap:0"), tether.OriginInbound)
	defer gone.Close()
	r.NotZero(ct.OnClose(gone))
	r.True(ct.OnConnect(over))
}

func TestConnTrackerOnCloseDuration(t *testing.T) {
	r := require.New(t)
	ct := establish.NewConnTracker()

	peer := testPeer(t, 4)
	c := trackedConn(t, peer, "d:1")

	r.True(ct.OnConnect(c))
	time.Sleep(10 * time.Millisecond)

	durr := ct.OnClose(c)
	r.True(durr >= 10*time.Millisecond, "got %v", durr)

	r.Zero(ct.OnClose(c), "closing twice yields no duration")

	unknown := trackedConn(t, testPeer(t, 5), "d:2")
	r.Zero(ct.OnClose(unknown))
}

func TestConnTrackerCloseAll(t *testing.T) {
	r := require.New(t)
	ct := establish.NewConnTracker()

	var conns []*tether.Connection
	for i := 0; i < 3; i++ {
		c := trackedConn(t, testPeer(t, byte(10+i)), "x:1")
		r.True(ct.OnConnect(c))
		conns = append(conns, c)
	}
	r.EqualValues(3, ct.Count())

	ct.CloseAll()
	r.EqualValues(0, ct.Count())

	for _, c := range conns {
		one := make([]byte, 1)
		_, err := c.Conn.Read(one)
		r.Error(err, "underlying conn should be closed")
	}
}
