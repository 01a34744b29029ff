// SPDX-FileCopyrightText: 2026 The Tether Authors
//
// SPDX-License-Identifier: MIT

package tether

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/ssbc/go-secretstream/secrethandshake"
	"go.cryptoscope.co/nocomment"
)

// KeyPair is the local node identity used by the handshake transport.
type KeyPair struct {
	ID   PeerRef
	Pair secrethandshake.EdKeyPair
}

// the on-disk format of the secret file
type storedSecret struct {
	Curve   string `json:"curve"`
	ID      string `json:"id"`
	Private string `json:"private"`
	Public  string `json:"public"`
}

// NewKeyPair generates a fresh ed25519 key pair from r (crypto/rand if nil).
func NewKeyPair(r io.Reader) (*KeyPair, error) {
	kp, err := secrethandshake.GenEdKeyPair(r)
	if err != nil {
		return nil, errors.Wrap(err, "tether: error building key pair")
	}

	ref, err := NewPeerRef(kp.Public)
	if err != nil {
		return nil, errors.Wrap(err, "tether: generated pair has bad public key")
	}

	return &KeyPair{ID: ref, Pair: *kp}, nil
}

// SaveKeyPair writes kp to path with restrictive permissions.
func SaveKeyPair(kp *KeyPair, path string) error {
	if kp.ID.Algo != RefAlgoEd25519 {
		return errors.Wrapf(ErrInvalidRefAlgo, "tether.SaveKeyPair: %s", kp.ID.Algo)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, SecretPerms)
	if err != nil {
		return errors.Wrap(err, "tether.SaveKeyPair: failed to create file")
	}

	sec := storedSecret{
		Curve:   RefAlgoEd25519,
		ID:      kp.ID.String(),
		Private: base64.StdEncoding.EncodeToString(kp.Pair.Secret) + "." + RefAlgoEd25519,
		Public:  base64.StdEncoding.EncodeToString(kp.Pair.Public) + "." + RefAlgoEd25519,
	}
	if err := json.NewEncoder(f).Encode(sec); err != nil {
		return errors.Wrap(err, "tether.SaveKeyPair: json encoding failed")
	}
	return errors.Wrap(f.Close(), "tether.SaveKeyPair: failed to close file")
}

// LoadKeyPair opens fname, strips any # comment lines and parses the rest.
func LoadKeyPair(fname string) (*KeyPair, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, errors.Wrapf(err, "tether.LoadKeyPair: could not open key file %s", fname)
	}
	defer f.Close()

	return ParseKeyPair(nocomment.NewReader(f))
}

// ParseKeyPair json decodes a stored secret from the reader.
func ParseKeyPair(r io.Reader) (*KeyPair, error) {
	var s storedSecret
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, errors.Wrap(err, "tether.ParseKeyPair: JSON decoding failed")
	}

	if s.Curve != RefAlgoEd25519 {
		return nil, errors.Wrapf(ErrInvalidRefAlgo, "tether.ParseKeyPair: %s", s.Curve)
	}

	public, err := base64.StdEncoding.DecodeString(strings.TrimSuffix(s.Public, "."+RefAlgoEd25519))
	if err != nil {
		return nil, errors.Wrap(err, "tether.ParseKeyPair: base64 decode of public part failed")
	}

	private, err := base64.StdEncoding.DecodeString(strings.TrimSuffix(s.Private, "."+RefAlgoEd25519))
	if err != nil {
		return nil, errors.Wrap(err, "tether.ParseKeyPair: base64 decode of private part failed")
	}

	pair, err := secrethandshake.NewKeyPair(public, private)
	if err != nil {
		return nil, errors.Wrap(err, "tether.ParseKeyPair: invalid key material")
	}

	ref, err := NewPeerRef(pair.Public)
	if err != nil {
		return nil, errors.Wrap(err, "tether.ParseKeyPair: bad public key")
	}

	return &KeyPair{ID: ref, Pair: *pair}, nil
}
