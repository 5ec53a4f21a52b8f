// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

package direction

import (
	"net/netip"
	"testing"

	"github.com/hostshaper-ebpf/internal/dissect"
	"github.com/hostshaper-ebpf/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	subscriber = types.HostAddressFrom(netip.MustParseAddr("100.64.1.10"))
	remote     = types.HostAddressFrom(netip.MustParseAddr("198.51.100.7"))
)

// view returns a packet travelling from src to dst.
func view(src, dst types.HostAddress, vlan uint16, tagged bool) *dissect.View {
	return &dissect.View{Src: src, Dst: dst, VLAN: vlan, HasVLAN: tagged}
}

func TestResolvePlainRoles(t *testing.T) {
	tests := []struct {
		name  string
		role  types.Role
		hook  Hook
		v     *dissect.View
		dir   types.Direction
		addr  types.HostAddress
		table types.TableSelector
	}{
		{"internet ingress", types.RoleInternet, Ingress, view(remote, subscriber, 0, false), types.DirectionDownload, subscriber, types.TablePrimary},
		{"internet egress", types.RoleInternet, Egress, view(subscriber, remote, 0, false), types.DirectionDownload, subscriber, types.TablePrimary},
		{"lan ingress", types.RoleLAN, Ingress, view(subscriber, remote, 0, false), types.DirectionUpload, subscriber, types.TablePrimary},
		{"lan egress", types.RoleLAN, Egress, view(remote, subscriber, 0, false), types.DirectionUpload, subscriber, types.TablePrimary},
		{"plain role ignores tag", types.RoleInternet, Ingress, view(remote, subscriber, 55, true), types.DirectionDownload, subscriber, types.TablePrimary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := Resolve(Config{Role: tt.role}, tt.v, tt.hook)
			require.True(t, ok)
			assert.Equal(t, tt.dir, r.Direction)
			assert.Equal(t, tt.addr, r.Address)
			assert.Equal(t, tt.table, r.Table)
		})
	}
}

func TestResolveCombined(t *testing.T) {
	cfg := Config{Role: types.RoleVLANCombined, InternetVLAN: 100, ISPVLAN: 200}

	tests := []struct {
		name  string
		hook  Hook
		v     *dissect.View
		dir   types.Direction
		table types.TableSelector
	}{
		{"internet tag ingress", Ingress, view(remote, subscriber, 100, true), types.DirectionDownload, types.TablePrimary},
		{"internet tag egress", Egress, view(subscriber, remote, 100, true), types.DirectionUpload, types.TableReciprocal},
		{"isp tag ingress", Ingress, view(subscriber, remote, 200, true), types.DirectionUpload, types.TableReciprocal},
		{"isp tag egress", Egress, view(remote, subscriber, 200, true), types.DirectionDownload, types.TablePrimary},
		{"other tag treated as isp", Ingress, view(subscriber, remote, 999, true), types.DirectionUpload, types.TableReciprocal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := Resolve(cfg, tt.v, tt.hook)
			require.True(t, ok)
			assert.Equal(t, tt.dir, r.Direction)
			assert.Equal(t, tt.table, r.Table)
			assert.Equal(t, subscriber, r.Address)
		})
	}
}

func TestResolveCombinedSymmetry(t *testing.T) {
	cfg := Config{Role: types.RoleVLANCombined, InternetVLAN: 100, ISPVLAN: 200}
	for _, tag := range []uint16{100, 200} {
		in, ok := Resolve(cfg, view(remote, subscriber, tag, true), Ingress)
		require.True(t, ok)
		out, ok := Resolve(cfg, view(subscriber, remote, tag, true), Egress)
		require.True(t, ok)
		assert.NotEqual(t, in.Direction, out.Direction, "tag %d", tag)
	}
}

func TestResolveUnresolved(t *testing.T) {
	_, ok := Resolve(Config{Role: types.RoleVLANCombined, InternetVLAN: 100}, view(remote, subscriber, 0, false), Ingress)
	assert.False(t, ok, "combined mode without tag")

	_, ok = Resolve(Config{Role: types.RoleUnset}, view(remote, subscriber, 0, false), Ingress)
	assert.False(t, ok, "unset role")

	_, ok = Resolve(Config{}, view(remote, subscriber, 0, false), Egress)
	assert.False(t, ok, "zero role")
}
