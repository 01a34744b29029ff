// SPDX-FileCopyrightText: 2026 The Tether Authors
//
// SPDX-License-Identifier: MIT

package tether

import (
	"bytes"
	"encoding/base64"
	"net"
	"strings"

	"github.com/pkg/errors"
	"github.com/ssbc/go-netwrap"
	"github.com/ssbc/go-secretstream"
)

// PeerRef is the public network identity of a peer.
type PeerRef struct {
	ID   []byte
	Algo string
}

const RefAlgoEd25519 = "ed25519"

var (
	ErrInvalidRef     = errors.New("tether: invalid peer reference")
	ErrInvalidRefAlgo = errors.New("tether: invalid peer reference algo")
)

func NewPeerRef(pubKey []byte) (PeerRef, error) {
	if n := len(pubKey); n != 32 {
		return PeerRef{}, errors.Wrapf(ErrInvalidRef, "need 32 bytes of key material, got %d", n)
	}
	id := make([]byte, 32)
	copy(id, pubKey)
	return PeerRef{ID: id, Algo: RefAlgoEd25519}, nil
}

func (r PeerRef) Equal(other PeerRef) bool {
	return r.Algo == other.Algo && bytes.Equal(r.ID, other.ID)
}

// String encodes the reference as @base64(key).algo
func (r PeerRef) String() string {
	return "@" + base64.StdEncoding.EncodeToString(r.ID) + "." + r.Algo
}

// PubKey returns the raw key material.
func (r PeerRef) PubKey() []byte {
	return r.ID
}

// ShortString is the log-friendly form of the reference.
func (r PeerRef) ShortString() string {
	if len(r.ID) < 4 {
		return "@invalid"
	}
	return "@" + base64.StdEncoding.EncodeToString(r.ID[:4]) + "..."
}

// ParsePeerRef decodes a @base64.ed25519 reference string.
func ParsePeerRef(str string) (PeerRef, error) {
	if len(str) == 0 || str[0] != '@' {
		return PeerRef{}, errors.Wrapf(ErrInvalidRef, "peer refs start with @, got %q", str)
	}
	split := strings.Split(str[1:], ".")
	if len(split) != 2 {
		return PeerRef{}, errors.Wrapf(ErrInvalidRef, "expected one algo suffix in %q", str)
	}
	if split[1] != RefAlgoEd25519 {
		return PeerRef{}, errors.Wrapf(ErrInvalidRefAlgo, "unhandled algo %q", split[1])
	}
	raw, err := base64.StdEncoding.DecodeString(split[0])
	if err != nil {
		return PeerRef{}, errors.Wrapf(ErrInvalidRef, "decode failed: %s", err)
	}
	return NewPeerRef(raw)
}

// GetPeerRefFromAddr uses netwrap to find the secretstream address in a
// wrapped address stack and turns its public key into a PeerRef.
func GetPeerRefFromAddr(addr net.Addr) (PeerRef, error) {
	addr = netwrap.GetAddr(addr, secretstream.NetworkString)
	if addr == nil {
		return PeerRef{}, errors.New("tether: no shs-bs address found")
	}
	ssAddr, ok := addr.(secretstream.Addr)
	if !ok {
		return PeerRef{}, errors.Errorf("tether: expected secretstream.Addr, got %T", addr)
	}
	return NewPeerRef(ssAddr.PubKey)
}
