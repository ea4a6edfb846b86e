/*
  Copyright (c) 2012, Matthias Schiffer <mschiffer@universe-factory.net>
  All rights reserved.
*/

package main

import (
	"fmt"
	"net"
)

// AddrFamily tags the PeerAddr union (spec §3 Peer address).
type AddrFamily int

const (
	AddrUnspec AddrFamily = iota // floating: remote endpoint not yet known
	AddrV4
	AddrV6
)

// PeerAddr is the tagged union of {unspecified, IPv4, IPv6}. Two addresses
// are equal iff both family and all fields match.
type PeerAddr struct {
	Family AddrFamily
	IP     net.IP
	Port   uint16
	Zone   uint32 // IPv6 scope id, zero otherwise
}

func (a PeerAddr) Equal(b PeerAddr) bool {
	if a.Family != b.Family {
		return false
	}
	switch a.Family {
	case AddrUnspec:
		return true
	case AddrV4:
		return a.IP.Equal(b.IP) && a.Port == b.Port
	case AddrV6:
		return a.IP.Equal(b.IP) && a.Port == b.Port && a.Zone == b.Zone
	default:
		bug("invalid address family")
		return false
	}
}

func (a PeerAddr) IsFloating() bool { return a.Family == AddrUnspec }

// String renders the address the way the teacher's null_peer_str does:
// "<floating>", "ip:port" or "[ip]:port".
func (a PeerAddr) String() string {
	switch a.Family {
	case AddrUnspec:
		return "<floating>"
	case AddrV4:
		return fmt.Sprintf("%s:%d", a.IP.String(), a.Port)
	case AddrV6:
		return fmt.Sprintf("[%s]:%d", a.IP.String(), a.Port)
	default:
		bug("unsupported address family")
		return ""
	}
}

func PeerAddrFromUDP(u *net.UDPAddr) PeerAddr {
	if u == nil {
		return PeerAddr{Family: AddrUnspec}
	}
	if ip4 := u.IP.To4(); ip4 != nil {
		return PeerAddr{Family: AddrV4, IP: ip4, Port: uint16(u.Port)}
	}
	var zone uint32
	if iface, err := net.InterfaceByName(u.Zone); err == nil {
		zone = uint32(iface.Index)
	}
	return PeerAddr{Family: AddrV6, IP: u.IP.To16(), Port: uint16(u.Port), Zone: zone}
}

func (a PeerAddr) ToUDP() *net.UDPAddr {
	if a.Family == AddrUnspec {
		return nil
	}
	zone := ""
	if a.Family == AddrV6 && a.Zone != 0 {
		if iface, err := net.InterfaceByIndex(int(a.Zone)); err == nil {
			zone = iface.Name
		}
	}
	return &net.UDPAddr{IP: a.IP, Port: int(a.Port), Zone: zone}
}
