/* SPDX-License-Identifier: GPL-2.0
 *
 * Copyright (C) 2017-2018 Jason A. Donenfeld <Jason@zx2c4.com>. All Rights Reserved.
 */

package main

import (
	"net"
	"time"

	"golang.org/x/crypto/curve25519"
)

// Device is the daemon's top-level aggregate: configuration, peer/task
// state, the method registry, the TUN device and bound sockets, wired
// together the way the teacher's Device ties together peers, tun and bind
// (spec §3 System state, §4.8 Event loop).
type Device struct {
	config *Config
	log    *Logger

	peers   *PeerTable
	tasks   *taskQueue
	methods *methodRegistry

	tun   TUNDevice
	sock4 *udpSocket
	sock6 *udpSocket

	publicKey [32]byte

	metrics *metricsSet

	recvOrigins map[*Buffer]recvOrigin

	status *StatusListener

	clock func() time.Time // overridden in tests for deterministic timing
}

// PollStatusConn returns a pending control-socket connection, if any,
// without blocking. The accept loop itself runs on a background goroutine
// (StatusListen), but serving a connection's query touches peer state and
// so is always done from the single-threaded event loop (spec §5
// Concurrency Model).
func (d *Device) PollStatusConn() (net.Conn, bool) {
	if d.status == nil {
		return nil, false
	}
	select {
	case conn := <-d.status.connNew:
		return conn, true
	default:
		return nil, false
	}
}

// NewDevice validates the configuration, opens sockets and the TUN device,
// and builds the peer table from the configured peer list (spec §6
// Configuration inputs, §7 ConfigInvalid).
func NewDevice(config *Config, tun TUNDevice, log *Logger) (*Device, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	d := &Device{
		config:  config,
		log:     log,
		tasks:   newTaskQueue(),
		methods: newMethodRegistry(),
		tun:         tun,
		metrics:     newMetricsSet(),
		recvOrigins: make(map[*Buffer]recvOrigin),
	}
	d.peers = NewPeerTable(d.tasks, log)

	curve25519.ScalarBaseMult(&d.publicKey, &config.PrivateKey)

	d.methods.register("null", newNullMethod)
	d.methods.register("chacha2012-poly1305", newChacha20Poly1305Method)
	if len(config.methodNames) == 0 {
		config.methodNames = d.methods.names()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.BindV4 != nil {
		sock, err := bindUDP(config.BindV4)
		if err != nil {
			return nil, err
		}
		d.sock4 = sock
	}
	if config.BindV6 != nil {
		sock, err := bindUDP(config.BindV6)
		if err != nil {
			return nil, err
		}
		d.sock6 = sock
	}

	for _, pc := range config.Peers {
		peer := d.peers.Add(pc)
		d.metrics.peersConfigured.Inc()
		_ = peer
	}

	return d, nil
}

func (d *Device) now() time.Time {
	if d.clock != nil {
		return d.clock()
	}
	return time.Now()
}

func (d *Device) socketFor(addr PeerAddr) *udpSocket {
	if addr.Family == AddrV6 {
		return d.sock6
	}
	return d.sock4
}

// sendToPeer transmits an already-framed (encrypted, if applicable)
// datagram to a peer's current address; called by Method implementations
// as the final step of Send (spec §4.6).
func (d *Device) sendToPeer(peer *Peer, buf *Buffer) error {
	sock := d.socketFor(peer.Address)
	if sock == nil {
		return errSystemIO
	}
	framed := framePacket(packetTypeData, buf.Bytes())
	if err := sock.SendTo(framed, peer.Address); err != nil {
		return err
	}
	d.metrics.packetsSent.Inc()
	return nil
}

func (d *Device) sendHandshakePacket(peer *Peer, raw []byte) {
	d.sendRawHandshake(peer.Address, raw)
}

func (d *Device) sendRawHandshake(remote PeerAddr, raw []byte) {
	sock := d.socketFor(remote)
	if sock == nil {
		return
	}
	framed := framePacket(packetTypeHandshake, raw)
	if err := sock.SendTo(framed, remote); err != nil {
		d.log.Warnf("failed to send handshake packet to %s: %v", remote, err)
		return
	}
	d.metrics.handshakesSent.Inc()
}

func framePacket(kind byte, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = kind
	copy(out[1:], payload)
	return out
}

// deliverToTUN writes a decrypted payload to the local TUN/TAP device,
// learning the source MAC address in TAP mode (spec §4.3 eth_addr_add,
// §4.8 event loop "deliver to TUN").
func (d *Device) deliverToTUN(peer *Peer, buf *Buffer) {
	if d.config.Mode == ModeTAP && buf.Len() >= 12 {
		var src MACAddr
		copy(src[:], buf.Bytes()[6:12])
		if src[0]&1 == 0 { // ignore multicast/broadcast source addresses
			d.peers.LearnMAC(src, peer, d.now())
		}
	}
	if _, err := d.tun.Write(buf.Bytes(), 0); err != nil {
		d.log.Warnf("failed to write to TUN: %v", err)
		return
	}
	d.metrics.packetsToTUN.Inc()
}

// routeDestination resolves the peer a TUN-read packet should be sent to:
// the MAC table in TAP mode, or route.go's IP-header-validated default route
// in TUN mode (point-to-point; spec §3 mode semantics).
func (d *Device) routeDestination(payload []byte) (*Peer, bool) {
	if d.config.Mode == ModeTAP {
		if len(payload) < 6 {
			return nil, false
		}
		var dst MACAddr
		copy(dst[:], payload[0:6])
		if dst[0]&1 != 0 {
			return nil, false // broadcast/multicast: flooding is out of scope (spec §1 Non-goals)
		}
		return d.peers.FindByMAC(dst)
	}

	return d.routeTUNPacket(payload)
}
