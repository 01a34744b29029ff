// SPDX-FileCopyrightText: 2026 The Tether Authors
//
// SPDX-License-Identifier: MIT

// tether-node runs a standalone connection-establishment node. It binds
// the handshake transport, serves the establishment loop and optionally
// dials a set of peers on startup.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"strings"
	"syscall"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	cli "github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	tether "github.com/tetherp2p/go-tether"
	"github.com/tetherp2p/go-tether/discovery"
	"github.com/tetherp2p/go-tether/establish"
	"github.com/tetherp2p/go-tether/shs"
)

// Version and Build are set by ldflags
var (
	Version = "snapshot"
	Build   = ""
)

// DefaultCap is the handshake capability of the tether network.
// Nodes started with a different -shscap form their own disjoint network.
const DefaultCap = "UjFLJ+aDSwKlaxxLBA3aWfL0pJDbsgGt8r0iY2yKgmE="

var log kitlog.Logger

func check(err error) {
	if err != nil {
		level.Error(log).Log("err", err)
		os.Exit(1)
	}
}

func defaultSecretPath() string {
	u, err := user.Current()
	if err != nil {
		return ".tether/secret"
	}
	return filepath.Join(u.HomeDir, ".tether", "secret")
}

var app = cli.App{
	Name:    "tether-node",
	Usage:   "p2p connection establishment daemon",
	Version: "alpha1",

	Flags: []cli.Flag{
		&cli.StringFlag{Name: "listen", Aliases: []string{"l"}, Value: ":6180", Usage: "tcp address to listen on"},
		&cli.StringFlag{Name: "secret", Value: defaultSecretPath(), Usage: "path to the secret key file (created if missing)"},
		&cli.StringSliceFlag{Name: "connect", Aliases: []string{"c"}, Usage: "peer to dial after startup, host:port/@pubkey.ed25519 (repeatable)"},
		&cli.StringFlag{Name: "shscap", Value: DefaultCap, Usage: "handshake capability key (base64)"},
		&cli.StringFlag{Name: "debug", Usage: "listen address for metrics and pprof, empty disables"},
		&cli.BoolFlag{Name: "localadv", Usage: "broadcast the listen address on the local network"},
		&cli.BoolFlag{Name: "localdiscov", Usage: "dial peers found via local network broadcasts"},
	},

	Action: runNode,
}

func main() {
	log = kitlog.NewLogfmtLogger(os.Stderr)
	log = kitlog.With(log, "ts", kitlog.DefaultTimestampUTC)

	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("%s (rev: %s, built: %s)\n", c.App.Version, Version, Build)
	}

	if err := app.Run(os.Args); err != nil {
		level.Error(log).Log("run-failure", err)
		os.Exit(1)
	}
}

func runNode(c *cli.Context) error {
	appKey, err := base64.StdEncoding.DecodeString(c.String("shscap"))
	if err != nil {
		return errors.Wrap(err, "tether-node: shscap is not valid base64")
	}

	kp, err := loadOrCreateKeyPair(c.String("secret"))
	if err != nil {
		return err
	}
	log = kitlog.With(log, "node", kp.ID.ShortString())

	laddr, err := net.ResolveTCPAddr("tcp", c.String("listen"))
	if err != nil {
		return errors.Wrapf(err, "tether-node: invalid listen address %q", c.String("listen"))
	}

	tr, err := shs.NewTransport(*kp, appKey)
	if err != nil {
		return err
	}

	opts := establish.Options{
		Logger:     log,
		ListenAddr: laddr,
		Transport:  tr,
	}

	if debugAddr := c.String("debug"); debugAddr != "" {
		counter, gauge, latency := startDebug(debugAddr)
		opts.EventCounter = counter
		opts.SystemGauge = gauge
		opts.Latency = latency
	}

	nw, err := establish.New(opts)
	if err != nil {
		return errors.Wrap(err, "tether-node: failed to create network")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		level.Warn(log).Log("event", "shutdown", "signal", sig.String())
		nw.Close()
		cancel()
	}()

	if c.Bool("localadv") {
		adv, err := discovery.NewAdvertiser(nw.GetListenAddr(), *kp, log)
		if err != nil {
			return errors.Wrap(err, "tether-node: failed to create advertiser")
		}
		if err := adv.Start(); err != nil {
			return errors.Wrap(err, "tether-node: failed to start advertiser")
		}
		defer adv.Stop()
	}

	g, ctx := errgroup.WithContext(ctx)

	if c.Bool("localdiscov") {
		disc, err := discovery.NewDiscoverer(*kp, log)
		if err != nil {
			return errors.Wrap(err, "tether-node: failed to start discoverer")
		}
		found, stop := disc.Notify()
		defer disc.Stop()
		defer stop()

		g.Go(func() error {
			tracker := nw.GetConnTracker()
			for {
				var addr net.Addr
				var ok bool
				select {
				case <-ctx.Done():
					return nil
				case addr, ok = <-found:
					if !ok {
						return nil
					}
				}

				peer, err := tether.GetPeerRefFromAddr(addr)
				if err != nil {
					continue
				}
				if tracker.Active(peer) {
					continue
				}
				if err := nw.Connect(ctx, peer, addr); err != nil {
					level.Debug(log).Log("event", "discovery dialback failed", "err", err)
				}
			}
		})
	}

	g.Go(func() error {
		log.Log("event", "serving", "id", kp.ID.String(), "addr", nw.GetListenAddr())
		err := nw.Serve(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})

	g.Go(func() error {
		trackConnections(nw)
		return nil
	})

	for _, spec := range c.StringSlice("connect") {
		spec := spec
		g.Go(func() error {
			peer, addr, err := parsePeerSpec(spec)
			if err != nil {
				return err
			}
			if err := nw.Connect(ctx, peer, addr); err != nil {
				// startup dials are best effort
				level.Warn(log).Log("event", "dial failed", "peer", peer.ShortString(), "err", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// trackConnections consumes the notification stream, admits connections
// through the tracker and watches them until they close.
func trackConnections(nw tether.Network) {
	tracker := nw.GetConnTracker()

	for conn := range nw.Notifications() {
		if !tracker.OnConnect(conn) {
			log.Log("event", "conn refused", "peer", conn.Remote.ShortString(), "reason", "tracker")
			conn.Close()
			continue
		}

		log.Log("event", "new conn", "peer", conn.Remote.ShortString(), "addr", conn.Addr, "origin", conn.Origin)

		go func(conn *tether.Connection) {
			buf := make([]byte, 1024)
			for {
				if _, err := conn.Conn.Read(buf); err != nil {
					break
				}
			}
			durr := tracker.OnClose(conn)
			conn.Close()
			log.Log("event", "conn done", "peer", conn.Remote.ShortString(), "durr", durr)
		}(conn)
	}
}

// parsePeerSpec splits host:port/@pubkey.ed25519 into its parts.
func parsePeerSpec(spec string) (tether.PeerRef, net.Addr, error) {
	split := strings.SplitN(spec, "/", 2)
	if len(split) != 2 {
		return tether.PeerRef{}, nil, errors.Errorf("tether-node: expected host:port/@pubkey.ed25519, got %q", spec)
	}

	addr, err := net.ResolveTCPAddr("tcp", split[0])
	if err != nil {
		return tether.PeerRef{}, nil, errors.Wrapf(err, "tether-node: error resolving %q", split[0])
	}

	peer, err := tether.ParsePeerRef(split[1])
	if err != nil {
		return tether.PeerRef{}, nil, errors.Wrapf(err, "tether-node: error parsing peer ref %q", split[1])
	}

	return peer, addr, nil
}

func loadOrCreateKeyPair(path string) (*tether.KeyPair, error) {
	kp, err := tether.LoadKeyPair(path)
	if err == nil {
		return kp, nil
	}
	if !os.IsNotExist(errors.Cause(err)) {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.Wrap(err, "tether-node: failed to create secret directory")
	}

	kp, err = tether.NewKeyPair(nil)
	if err != nil {
		return nil, err
	}
	if err := tether.SaveKeyPair(kp, path); err != nil {
		return nil, err
	}
	log.Log("event", "key generated", "path", path)
	return kp, nil
}
