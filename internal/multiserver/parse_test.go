// SPDX-FileCopyrightText: 2026 The Tether Authors
//
// SPDX-License-Identifier: MIT

package multiserver

import (
	"net"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	tether "github.com/tetherp2p/go-tether"
)

func mustParsePeerRef(t *testing.T, ref string) tether.PeerRef {
	t.Helper()
	r, err := tether.ParsePeerRef(ref)
	require.NoError(t, err)
	return r
}

func TestParseNetAddress(t *testing.T) {
	type tcase struct {
		name  string
		input string
		want  *NetAddress
		err   error
	}

	cases := []tcase{
		{
			name:  "simple",
			input: "net:192.168.1.137:6180~shs:e84qV/tx9w1ZiOIxU3+fOpirrT8rP3YqDydRgfk076c=",
			want: &NetAddress{
				Host: net.ParseIP("192.168.1.137"),
				Port: 6180,
			},
		},
		{
			name:  "other port",
			input: "net:10.0.0.1:12345~shs:e84qV/tx9w1ZiOIxU3+fOpirrT8rP3YqDydRgfk076c=",
			want: &NetAddress{
				Host: net.ParseIP("10.0.0.1"),
				Port: 12345,
			},
		},
		{
			name:  "second entry",
			input: "ws://foo~shs:xxx;net:127.0.0.1:6180~shs:e84qV/tx9w1ZiOIxU3+fOpirrT8rP3YqDydRgfk076c=",
			want: &NetAddress{
				Host: net.ParseIP("127.0.0.1"),
				Port: 6180,
			},
		},
		{
			name:  "no net entry",
			input: "ws://foo~shs:e84qV/tx9w1ZiOIxU3+fOpirrT8rP3YqDydRgfk076c=",
			err:   ErrNoNetAddr,
		},
		{
			name:  "missing key",
			input: "net:10.0.0.1:6180",
			err:   ErrNoSHSKey,
		},
		{
			name:  "bad key",
			input: "net:10.0.0.1:6180~shs:not-base-64!!",
			err:   ErrNoSHSKey,
		},
		{
			name:  "bad port",
			input: "net:10.0.0.1:pizza~shs:e84qV/tx9w1ZiOIxU3+fOpirrT8rP3YqDydRgfk076c=",
			err:   ErrNoNetAddr,
		},
	}

	wantRef := mustParsePeerRef(t, "@e84qV/tx9w1ZiOIxU3+fOpirrT8rP3YqDydRgfk076c=.ed25519")

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := require.New(t)

			got, err := ParseNetAddress([]byte(tc.input))
			if tc.err != nil {
				r.Error(err)
				r.Equal(tc.err, errors.Cause(err))
				return
			}
			r.NoError(err)
			r.True(got.Host.Equal(tc.want.Host))
			r.Equal(tc.want.Port, got.Port)
			r.True(got.Ref.Equal(wantRef))
		})
	}
}

func TestNetAddressRoundTrip(t *testing.T) {
	r := require.New(t)

	na := NetAddress{
		Host: net.ParseIP("192.168.1.1"),
		Port: tether.DefaultPort,
		Ref:  mustParsePeerRef(t, "@e84qV/tx9w1ZiOIxU3+fOpirrT8rP3YqDydRgfk076c=.ed25519"),
	}

	again, err := ParseNetAddress([]byte(na.String()))
	r.NoError(err)
	r.True(again.Host.Equal(na.Host))
	r.Equal(na.Port, again.Port)
	r.True(again.Ref.Equal(na.Ref))

	ref, err := tether.GetPeerRefFromAddr(na.WrappedAddr())
	r.NoError(err)
	r.True(ref.Equal(na.Ref))
}
