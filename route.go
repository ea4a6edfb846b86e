/*
  Copyright (c) 2012-2014, Matthias Schiffer <mschiffer@universe-factory.net>
  All rights reserved.
*/

package main

import (
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// ipPacketVersion inspects a TUN-mode payload's leading header just far
// enough to classify it as IPv4 or IPv6, the way the teacher's send.go
// switches on the leading nibble before choosing a peer's address family.
// A malformed or truncated header is reported rather than guessed at.
func ipPacketVersion(payload []byte) (version int, err error) {
	if len(payload) < 1 {
		return 0, errShortPacket
	}

	switch payload[0] >> 4 {
	case ipv4.Version:
		if _, err := ipv4.ParseHeader(payload); err != nil {
			return 0, err
		}
		return ipv4.Version, nil
	case ipv6.Version:
		if len(payload) < ipv6.HeaderLen {
			return 0, errShortPacket
		}
		return ipv6.Version, nil
	default:
		return 0, errMalformedTLV
	}
}

// routeTUNPacket resolves the peer a TUN-mode payload should be sent to.
// Multi-hop routing is explicitly out of scope (spec §1 Non-goals), so once
// the payload is confirmed to be a well-formed IP packet of either version,
// the single established peer acts as the default route -- the point-to-point
// case a flat pre-shared-key daemon with no routing protocol supports.
func (d *Device) routeTUNPacket(payload []byte) (*Peer, bool) {
	if _, err := ipPacketVersion(payload); err != nil {
		d.log.Debugf("dropping malformed tun payload: %v", err)
		return nil, false
	}

	for _, p := range d.peers.All() {
		if p.isEstablished() {
			return p, true
		}
	}
	return nil, false
}
