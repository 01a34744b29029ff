// SPDX-FileCopyrightText: 2026 The Tether Authors
//
// SPDX-License-Identifier: MIT

// Package multiserver handles the textual address format used in local
// network advertisements, "net:host:port~shs:base64pubkey".
package multiserver

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net"
	"strconv"

	"github.com/pkg/errors"
	"github.com/ssbc/go-netwrap"
	"github.com/ssbc/go-secretstream"

	tether "github.com/tetherp2p/go-tether"
)

var (
	ErrNoNetAddr = errors.New("multiserver: no net~shs combination")
	ErrNoSHSKey  = errors.New("multiserver: no or invalid shs key")
)

// NetAddress is one parsed advertisement entry.
type NetAddress struct {
	Host net.IP
	Port int
	Ref  tether.PeerRef
}

// WrappedAddr returns the entry as a dialable address, the TCP part
// wrapped with the advertised public key.
func (na NetAddress) WrappedAddr() net.Addr {
	return netwrap.WrapAddr(&net.TCPAddr{
		IP:   na.Host,
		Port: na.Port,
	}, secretstream.Addr{PubKey: na.Ref.PubKey()})
}

// String renders the entry back into advertisement format.
func (na NetAddress) String() string {
	hostPort := net.JoinHostPort(na.Host.String(), strconv.Itoa(na.Port))
	return fmt.Sprintf("net:%s~shs:%s", hostPort, base64.StdEncoding.EncodeToString(na.Ref.PubKey()))
}

// ParseNetAddress picks the first net~shs entry out of a
// semicolon-separated advertisement payload.
func ParseNetAddress(input []byte) (*NetAddress, error) {
	for _, p := range bytes.Split(input, []byte{';'}) {
		netPrefix := []byte("net:")
		if !bytes.HasPrefix(p, netPrefix) {
			continue
		}

		keyStart := bytes.Index(p, []byte("~shs:"))
		if keyStart == -1 {
			return nil, ErrNoSHSKey
		}

		netPart := p[len(netPrefix):keyStart]
		shsPart := p[keyStart+5:]

		var na NetAddress
		host, portStr, err := net.SplitHostPort(string(netPart))
		if err != nil {
			return nil, errors.Wrap(ErrNoNetAddr, "multiserver: bad host:port in net: section")
		}
		na.Host = net.ParseIP(host)
		if na.Host == nil {
			return nil, errors.Wrap(ErrNoNetAddr, "multiserver: no valid IP in net: section")
		}
		na.Port, err = strconv.Atoi(portStr)
		if err != nil || na.Port < 1 || na.Port > 65535 {
			return nil, errors.Wrap(ErrNoNetAddr, "multiserver: invalid port in net: section")
		}

		keyBytes := make([]byte, 35)
		n, err := base64.StdEncoding.Decode(keyBytes, shsPart)
		if err != nil {
			return nil, errors.Wrapf(ErrNoSHSKey, "multiserver: invalid pubkey formatting: %s", err)
		}
		if n != 32 {
			return nil, errors.Wrap(ErrNoSHSKey, "multiserver: pubkey not 32 bytes long")
		}

		na.Ref, err = tether.NewPeerRef(keyBytes[:32])
		if err != nil {
			return nil, errors.Wrap(ErrNoSHSKey, "multiserver: bad pubkey")
		}
		return &na, nil
	}
	return nil, ErrNoNetAddr
}
