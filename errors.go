// SPDX-FileCopyrightText: 2026 The Tether Authors
//
// SPDX-License-Identifier: MIT

package tether

import (
	"fmt"
	"net"

	"github.com/pkg/errors"
)

// ErrShuttingDown is returned for requests that arrive after Close.
var ErrShuttingDown = errors.New("tether: shutting down now")

// ErrDialRejected means the transport refused to even start a dial.
// The failure is local; no upgrade was admitted.
type ErrDialRejected struct {
	Addr  net.Addr
	Cause error
}

func (e ErrDialRejected) Error() string {
	return fmt.Sprintf("tether: transport rejected dial to %s: %s", e.Addr, e.Cause)
}

func (e ErrDialRejected) Unwrap() error { return e.Cause }

// ErrUpgradeFailed is a transport-level failure while upgrading a raw
// connection (handshake failure, i/o error, remote reset).
type ErrUpgradeFailed struct {
	Origin Origin
	Addr   net.Addr
	Cause  error
}

func (e ErrUpgradeFailed) Error() string {
	return fmt.Sprintf("tether: %s upgrade at %s failed: %s", e.Origin, e.Addr, e.Cause)
}

func (e ErrUpgradeFailed) Unwrap() error { return e.Cause }

// ErrIdentityMismatch means the upgrade succeeded but the authenticated
// remote is not the peer that was dialed. Might be a man-in-the-middle or
// stale routing data, so it is kept distinct from plain upgrade failures.
type ErrIdentityMismatch struct {
	Expected, Actual PeerRef
}

func (e ErrIdentityMismatch) Error() string {
	return fmt.Sprintf("tether: dialed %s but connection authenticated as %s",
		e.Expected.ShortString(), e.Actual.ShortString())
}

// IsIdentityMismatch tells whether err, however wrapped, is an identity
// mismatch.
func IsIdentityMismatch(err error) bool {
	var mismatch ErrIdentityMismatch
	if errors.As(err, &mismatch) {
		return true
	}
	_, ok := errors.Cause(err).(ErrIdentityMismatch)
	return ok
}

// IsDialRejected tells whether err is a synchronous transport rejection.
func IsDialRejected(err error) bool {
	var rejected ErrDialRejected
	if errors.As(err, &rejected) {
		return true
	}
	_, ok := errors.Cause(err).(ErrDialRejected)
	return ok
}
