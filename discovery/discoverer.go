// SPDX-FileCopyrightText: 2026 The Tether Authors
//
// SPDX-License-Identifier: MIT

package discovery

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/libp2p/go-reuseport"
	"github.com/pkg/errors"

	tether "github.com/tetherp2p/go-tether"
	"github.com/tetherp2p/go-tether/internal/multiserver"
)

// Discoverer listens for advertisements of other nodes on the LAN.
type Discoverer struct {
	local tether.KeyPair // to ignore our own broadcasts

	rx net.PacketConn

	log kitlog.Logger

	brLock     sync.Mutex
	broadcasts map[int]chan net.Addr
	nextID     int
}

// NewDiscoverer starts listening on the broadcast port right away.
func NewDiscoverer(local tether.KeyPair, log kitlog.Logger) (*Discoverer, error) {
	if log == nil {
		log = kitlog.NewNopLogger()
	}
	d := &Discoverer{
		local:      local,
		log:        log,
		broadcasts: make(map[int]chan net.Addr),
	}
	return d, d.start()
}

func (d *Discoverer) start() error {
	lis, err := reuseport.ListenPacket("udp", fmt.Sprintf("%s:%d", net.IPv4bcast, tether.DefaultPort))
	if err != nil {
		return errors.Wrap(err, "discovery: failed to listen on v4 broadcast")
	}
	d.rx = lis

	go func() {
		for {
			d.rx.SetReadDeadline(time.Now().Add(time.Second))
			buf := make([]byte, 128)
			n, _, err := d.rx.ReadFrom(buf)
			if err != nil {
				if os.IsTimeout(err) {
					continue
				}
				return
			}
			buf = buf[:n]

			na, err := multiserver.ParseNetAddress(buf)
			if err != nil {
				d.log.Log("event", "rx adv unparsable", "err", err)
				continue
			}

			if na.Ref.Equal(d.local.ID) {
				continue
			}

			wrappedAddr := na.WrappedAddr()
			d.brLock.Lock()
			for _, ch := range d.broadcasts {
				select {
				case ch <- wrappedAddr:
				default:
					// slow consumer, drop this round
				}
			}
			d.brLock.Unlock()
		}
	}()

	return nil
}

// Notify registers a listener for found addresses. The returned cancel
// func unregisters it and closes the channel.
func (d *Discoverer) Notify() (<-chan net.Addr, func()) {
	ch := make(chan net.Addr, 1)
	d.brLock.Lock()
	i := d.nextID
	d.nextID++
	d.broadcasts[i] = ch
	d.brLock.Unlock()

	return ch, func() {
		d.brLock.Lock()
		if _, open := d.broadcasts[i]; open {
			close(ch)
			delete(d.broadcasts, i)
		}
		d.brLock.Unlock()
	}
}

func (d *Discoverer) Stop() {
	d.brLock.Lock()
	for i, ch := range d.broadcasts {
		close(ch)
		delete(d.broadcasts, i)
	}
	if d.rx != nil {
		d.rx.Close()
		d.rx = nil
	}
	d.brLock.Unlock()
}
