// SPDX-FileCopyrightText: 2026 The Tether Authors
//
// SPDX-License-Identifier: MIT

package establish_test

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	tether "github.com/tetherp2p/go-tether"
	"github.com/tetherp2p/go-tether/establish"
	"github.com/tetherp2p/go-tether/internal/testutils"
	"github.com/tetherp2p/go-tether/shs"
)

type livePeer struct {
	kp tether.KeyPair
	nw tether.Network
}

func startLivePeer(t *testing.T, name string, appKey []byte) *livePeer {
	r := require.New(t)

	kp, err := tether.NewKeyPair(rand.Reader)
	r.NoError(err)

	tr, err := shs.NewTransport(*kp, appKey)
	r.NoError(err)

	nw, err := establish.New(establish.Options{
		Logger:     testutils.NewRelativeTimeLogger(nil),
		ListenAddr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)},
		Transport:  tr,
	})
	r.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := nw.Serve(ctx); err != nil && err != context.Canceled {
			t.Logf("%s: serve: %v", name, err)
		}
	}()

	t.Cleanup(func() {
		nw.Close()
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Errorf("%s: serve did not stop", name)
		}
	})

	return &livePeer{kp: *kp, nw: nw}
}

func TestTwoNodesOverTCP(t *testing.T) {
	if testutils.SkipOnCI(t) {
		return
	}
	r := require.New(t)

	appKey, err := base64.StdEncoding.DecodeString("UjFLJ+aDSwKlaxxLBA3aWfL0pJDbsgGt8r0iY2yKgmE=")
	r.NoError(err)

	alf := startLivePeer(t, "alf", appKey)
	bert := startLivePeer(t, "bert", appKey)

	bertConns := make(chan *tether.Connection, 1)
	go func() {
		for conn := range bert.nw.Notifications() {
			select {
			case bertConns <- conn:
			default:
				conn.Close()
			}
		}
	}()

	connErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		connErr <- alf.nw.Connect(ctx, bert.kp.ID, bert.nw.GetListenAddr())
	}()

	alfSide := waitConn(t, alf.nw.Notifications())
	r.True(alfSide.Remote.Equal(bert.kp.ID))
	r.Equal(tether.OriginOutbound, alfSide.Origin)
	r.NoError(<-connErr)

	var bertSide *tether.Connection
	select {
	case bertSide = <-bertConns:
	case <-time.After(5 * time.Second):
		t.Fatal("no inbound notification on the listening node")
	}
	r.True(bertSide.Remote.Equal(alf.kp.ID))
	r.Equal(tether.OriginInbound, bertSide.Origin)

	alfSide.Close()
	bertSide.Close()
}

func TestConnectWrongIdentityOverTCP(t *testing.T) {
	if testutils.SkipOnCI(t) {
		return
	}
	r := require.New(t)

	appKey, err := base64.StdEncoding.DecodeString("UjFLJ+aDSwKlaxxLBA3aWfL0pJDbsgGt8r0iY2yKgmE=")
	r.NoError(err)

	alf := startLivePeer(t, "alf", appKey)
	bert := startLivePeer(t, "bert", appKey)

	go func() {
		for conn := range bert.nw.Notifications() {
			conn.Close()
		}
	}()

	imposter, err := tether.NewKeyPair(rand.Reader)
	r.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// the handshake itself fails because bert does not hold this key
	err = alf.nw.Connect(ctx, imposter.ID, bert.nw.GetListenAddr())
	r.Error(err)
}
