// SPDX-FileCopyrightText: 2026 The Tether Authors
//
// SPDX-License-Identifier: MIT

// Package discovery announces the local node on the LAN and picks up
// announcements from other nodes. Found peers come out as dialable
// addresses, ready for Network.Connect.
package discovery

import (
	"encoding/base64"
	"fmt"
	"net"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/libp2p/go-reuseport"
	"github.com/pkg/errors"
	"github.com/ssbc/go-netwrap"

	tether "github.com/tetherp2p/go-tether"
	"github.com/tetherp2p/go-tether/internal/multiserver"
)

// Advertiser broadcasts the local listen address and public key over
// UDP once a second.
type Advertiser struct {
	keyPair tether.KeyPair

	conn   net.PacketConn
	local  *net.UDPAddr
	remote *net.UDPAddr

	waitTime time.Duration
	ticker   *time.Ticker

	log kitlog.Logger
}

func newAdvertisement(local *net.UDPAddr, keyPair tether.KeyPair) (string, error) {
	if local == nil {
		return "", errors.Errorf("discovery: passed nil local address")
	}
	msg := fmt.Sprintf("net:%s~shs:%s", local, base64.StdEncoding.EncodeToString(keyPair.ID.PubKey()))
	// make sure the other side can parse what we send
	_, err := multiserver.ParseNetAddress([]byte(msg))
	return msg, err
}

// netwrapOrSelf strips a netwrap stack down to its TCP part.
func netwrapOrSelf(a net.Addr) net.Addr {
	if unwrapped := netwrap.GetAddr(a, "tcp"); unwrapped != nil {
		return unwrapped
	}
	return a
}

// NewAdvertiser creates an advertiser for the passed listen address.
// The address has to carry a routable IP, the broadcast payload embeds it.
func NewAdvertiser(local net.Addr, keyPair tether.KeyPair, log kitlog.Logger) (*Advertiser, error) {
	var udpAddr *net.UDPAddr
	switch nv := netwrapOrSelf(local).(type) {
	case *net.TCPAddr:
		udpAddr = &net.UDPAddr{IP: nv.IP, Port: nv.Port, Zone: nv.Zone}
	case *net.UDPAddr:
		udpAddr = nv
	default:
		return nil, errors.Errorf("discovery: invalid local address type: %T", local)
	}

	remote, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", net.IPv4bcast, tether.DefaultPort))
	if err != nil {
		return nil, errors.Wrap(err, "discovery: failed to resolve broadcast address")
	}

	if log == nil {
		log = kitlog.NewNopLogger()
	}

	return &Advertiser{
		keyPair:  keyPair,
		local:    udpAddr,
		remote:   remote,
		waitTime: time.Second,
		log:      log,
	}, nil
}

func (b *Advertiser) advertise() error {
	msg, err := newAdvertisement(b.local, b.keyPair)
	if err != nil {
		return errors.Wrap(err, "discovery: failed to make new advertisement")
	}
	_, err = b.conn.WriteTo([]byte(msg), b.remote)
	return errors.Wrap(err, "discovery: could not send advertisement")
}

// Start begins the periodic broadcast. Stop ends it.
func (b *Advertiser) Start() error {
	lis, err := reuseport.ListenPacket("udp4", fmt.Sprintf("%s:%d", net.IPv4bcast, tether.DefaultPort))
	if err != nil {
		return errors.Wrap(err, "discovery: could not listen on broadcast address")
	}
	b.conn = lis
	b.ticker = time.NewTicker(b.waitTime)

	go func() {
		for range b.ticker.C {
			if err := b.advertise(); err != nil {
				b.log.Log("event", "tx adv failed", "err", err)
				return
			}
		}
	}()
	return nil
}

func (b *Advertiser) Stop() {
	if b.ticker != nil {
		b.ticker.Stop()
	}
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}
