// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

// Package direction maps interface role, VLAN tag and hook point to the
// logical direction of a packet and the address used for route lookup.
package direction

import (
	"github.com/hostshaper-ebpf/internal/dissect"
	"github.com/hostshaper-ebpf/internal/types"
)

// Hook is the attachment point observing the packet.
type Hook uint8

const (
	Ingress Hook = 0
	Egress  Hook = 1
)

func (h Hook) String() string {
	if h == Egress {
		return "egress"
	}
	return "ingress"
}

// Config is the load-time interface direction configuration. It is
// read-only once the pipeline is built.
type Config struct {
	Role         types.Role
	InternetVLAN uint16
	ISPVLAN      uint16
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Direction types.Direction
	Address   types.HostAddress
	Table     types.TableSelector
}

// Resolve applies the direction rules. ok is false when the packet cannot
// be classified: unset role, or combined mode without a VLAN tag.
//
// Egress observes the reverse of ingress, so plain roles swap the address
// they look up but keep their direction. In combined mode the VLAN tag picks
// the sub-link and the hook picks the direction; upload lookups go to the
// reciprocal table.
func Resolve(cfg Config, v *dissect.View, hook Hook) (r Resolution, ok bool) {
	switch cfg.Role {
	case types.RoleInternet:
		r.Direction = types.DirectionDownload
		r.Table = types.TablePrimary
		if hook == Ingress {
			r.Address = v.Dst
		} else {
			r.Address = v.Src
		}
		return r, true
	case types.RoleLAN:
		r.Direction = types.DirectionUpload
		r.Table = types.TablePrimary
		if hook == Ingress {
			r.Address = v.Src
		} else {
			r.Address = v.Dst
		}
		return r, true
	case types.RoleVLANCombined:
		if !v.HasVLAN {
			return r, false
		}
		internetSide := v.VLAN == cfg.InternetVLAN
		// Ingress from the internet and egress towards the LAN are both
		// download.
		if internetSide == (hook == Ingress) {
			r.Direction = types.DirectionDownload
			r.Address = v.Dst
			r.Table = types.TablePrimary
		} else {
			r.Direction = types.DirectionUpload
			r.Address = v.Src
			r.Table = types.TableReciprocal
		}
		return r, true
	default:
		return r, false
	}
}
