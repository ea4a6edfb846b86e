/* SPDX-License-Identifier: GPL-2.0
 *
 * Copyright (C) 2017-2018 Jason A. Donenfeld <Jason@zx2c4.com>. All Rights Reserved.
 *
 * Adapted from the teacher's sticky-socket bind: the per-packet source
 * address caching (PKTINFO) and the background netlink route-change
 * listener are both dropped here, since this daemon's event loop is
 * single-threaded and polls these sockets itself rather than spawning a
 * reader goroutine per socket (spec §5 Concurrency Model). What remains is
 * the dual-stack AF_INET/AF_INET6 datagram socket setup and the raw
 * sendto/recvfrom calls the loop drives directly.
 */

package main

import (
	"net"

	"golang.org/x/sys/unix"
)

// udpSocket is one bound UDP endpoint (v4 or v6), exposing its raw fd so
// the event loop can register it directly in its poll set (spec §4.8).
type udpSocket struct {
	fd     int
	isIPv6 bool
}

func bindUDP(addr *net.UDPAddr) (*udpSocket, error) {
	family := unix.AF_INET
	if addr.IP.To4() == nil {
		family = unix.AF_INET6
	}

	fd, err := unix.Socket(family, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, err
	}

	if family == unix.AF_INET {
		var sa unix.SockaddrInet4
		sa.Port = addr.Port
		copy(sa.Addr[:], addr.IP.To4())
		if err := unix.Bind(fd, &sa); err != nil {
			unix.Close(fd)
			return nil, err
		}
		return &udpSocket{fd: fd}, nil
	}

	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1); err != nil {
		unix.Close(fd)
		return nil, err
	}
	var sa unix.SockaddrInet6
	sa.Port = addr.Port
	copy(sa.Addr[:], addr.IP.To16())
	if err := unix.Bind(fd, &sa); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &udpSocket{fd: fd, isIPv6: true}, nil
}

func (s *udpSocket) Fd() int { return s.fd }

func (s *udpSocket) Close() error {
	unix.Shutdown(s.fd, unix.SHUT_RD)
	return unix.Close(s.fd)
}

// RecvFrom reads one datagram, returning its payload length and source.
func (s *udpSocket) RecvFrom(buf []byte) (int, PeerAddr, error) {
	n, from, err := unix.Recvfrom(s.fd, buf, 0)
	if err != nil {
		return 0, PeerAddr{}, err
	}
	return n, sockaddrToPeerAddr(from), nil
}

// SendTo writes one datagram to addr.
func (s *udpSocket) SendTo(buf []byte, addr PeerAddr) error {
	sa, err := peerAddrToSockaddr(addr)
	if err != nil {
		return err
	}
	return unix.Sendto(s.fd, buf, 0, sa)
}

func sockaddrToPeerAddr(sa unix.Sockaddr) PeerAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IPv4(a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3])
		return PeerAddr{Family: AddrV4, IP: ip, Port: uint16(a.Port)}
	case *unix.SockaddrInet6:
		ip := append(net.IP{}, a.Addr[:]...)
		return PeerAddr{Family: AddrV6, IP: ip, Port: uint16(a.Port), Zone: a.ZoneId}
	default:
		return PeerAddr{}
	}
}

func peerAddrToSockaddr(addr PeerAddr) (unix.Sockaddr, error) {
	switch addr.Family {
	case AddrV4:
		var sa unix.SockaddrInet4
		sa.Port = int(addr.Port)
		copy(sa.Addr[:], addr.IP.To4())
		return &sa, nil
	case AddrV6:
		var sa unix.SockaddrInet6
		sa.Port = int(addr.Port)
		sa.ZoneId = addr.Zone
		copy(sa.Addr[:], addr.IP.To16())
		return &sa, nil
	default:
		return nil, errSystemIO
	}
}
