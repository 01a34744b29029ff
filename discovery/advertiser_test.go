// SPDX-FileCopyrightText: 2026 The Tether Authors
//
// SPDX-License-Identifier: MIT

package discovery

import (
	"crypto/rand"
	"net"
	"testing"

	"github.com/ssbc/go-netwrap"
	"github.com/ssbc/go-secretstream"
	"github.com/stretchr/testify/require"

	tether "github.com/tetherp2p/go-tether"
	"github.com/tetherp2p/go-tether/internal/multiserver"
)

func TestNewAdvertisementParses(t *testing.T) {
	r := require.New(t)

	kp, err := tether.NewKeyPair(rand.Reader)
	r.NoError(err)

	local := &net.UDPAddr{IP: net.ParseIP("192.168.2.4"), Port: tether.DefaultPort}
	msg, err := newAdvertisement(local, *kp)
	r.NoError(err)

	na, err := multiserver.ParseNetAddress([]byte(msg))
	r.NoError(err)
	r.True(na.Host.Equal(local.IP))
	r.Equal(local.Port, na.Port)
	r.True(na.Ref.Equal(kp.ID))
}

func TestNewAdvertiserUnwrapsListenAddr(t *testing.T) {
	r := require.New(t)

	kp, err := tether.NewKeyPair(rand.Reader)
	r.NoError(err)

	tcp := &net.TCPAddr{IP: net.ParseIP("10.1.2.3"), Port: 7777}
	wrapped := netwrap.WrapAddr(tcp, secretstream.Addr{PubKey: kp.ID.PubKey()})

	adv, err := NewAdvertiser(wrapped, *kp, nil)
	r.NoError(err)
	r.True(adv.local.IP.Equal(tcp.IP))
	r.Equal(tcp.Port, adv.local.Port)

	_, err = NewAdvertiser(mustAddr{}, *kp, nil)
	r.Error(err, "unusable address type gets rejected")
}

type mustAddr struct{}

func (mustAddr) Network() string { return "bogus" }
func (mustAddr) String() string  { return "bogus" }

func TestDiscovererNotifyBookkeeping(t *testing.T) {
	r := require.New(t)

	d := &Discoverer{broadcasts: make(map[int]chan net.Addr)}

	ch1, cancel1 := d.Notify()
	ch2, cancel2 := d.Notify()
	r.Len(d.broadcasts, 2)

	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}
	d.brLock.Lock()
	for _, ch := range d.broadcasts {
		ch <- addr
	}
	d.brLock.Unlock()

	r.Equal(addr, (<-ch1).(*net.TCPAddr))
	r.Equal(addr, (<-ch2).(*net.TCPAddr))

	cancel1()
	cancel1() // canceling twice is fine
	r.Len(d.broadcasts, 1)

	_, open := <-ch1
	r.False(open)

	cancel2()
	r.Len(d.broadcasts, 0)
}
