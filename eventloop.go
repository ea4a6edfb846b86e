/* SPDX-License-Identifier: GPL-2.0
 *
 * Copyright (C) 2017-2018 Jason A. Donenfeld <Jason@zx2c4.com>. All Rights Reserved.
 */

package main

// packet-type prefix byte distinguishing the two datagram kinds that share
// a bound UDP socket (spec §4.8 dispatch; the exact wire marker is not
// specified upstream, so a one-byte discriminant ahead of the TLV/AEAD
// framing is used, consistent with original_source/src/task.h's
// packet_type field existing but not defining its encoding).
const (
	packetTypeData      = 0
	packetTypeHandshake = 1
)

// recvOrigin records where a TaskHandleRecv task's bytes came from, so
// dispatch can resolve (or create) the right peer without re-parsing the
// socket address out of the buffer.
type recvOrigin struct {
	remote PeerAddr
	peerID PeerID
	known  bool
}

// RunOnce drains due tasks and services one round of TUN/socket readiness,
// implementing spec §4.8's ordering: drain expired tasks, service TUN
// reads, service socket reads, service the sends/receives just queued.
func (d *Device) RunOnce(tunReadable, sock4Readable, sock6Readable bool) {
	d.drainExpiredTasks()

	if tunReadable {
		d.serviceTUNRead()
	}
	if sock4Readable {
		d.serviceSocketRead(d.sock4)
	}
	if sock6Readable {
		d.serviceSocketRead(d.sock6)
	}

	d.drainExpiredTasks()
}

// PollTimeoutMS returns the poll() timeout the caller's platform-specific
// loop should use before the next RunOnce (spec §4.8: "the task queue
// drives the event loop's poll timeout").
func (d *Device) PollTimeoutMS() int {
	return d.tasks.timeoutMS(d.now())
}

func (d *Device) drainExpiredTasks() {
	now := d.now()
	for {
		t := d.tasks.popExpired(now)
		if t == nil {
			return
		}
		d.dispatchTask(t)
	}
}

func (d *Device) dispatchTask(t *Task) {
	switch t.Type {
	case TaskHandshake:
		if peer, ok := d.peers.FindByID(t.PeerID); ok {
			d.OnHandshakeTimeout(peer)
		}
	case TaskMaintenance:
		d.runMaintenance()
	case TaskSend:
		if peer, ok := d.peers.FindByID(t.PeerID); ok {
			d.doSend(peer, t.Buffer)
		}
	case TaskHandleRecv:
		d.doHandleRecv(t.PeerID, t.Buffer)
	default:
		bug("unknown task type")
	}
}

func (d *Device) doSend(peer *Peer, buf *Buffer) {
	if peer.ActiveMethod == nil || !peer.isEstablished() {
		return // not yet established: drop rather than buffer (spec §4.7 WAIT/HANDSHAKE)
	}
	if err := peer.ActiveMethod.Send(d, peer, buf); err != nil {
		d.log.Debugf("failed to send to %s: %v", peer, err)
	}
}

func (d *Device) doHandleRecv(hintID PeerID, buf *Buffer) {
	origin, ok := d.recvOrigins[buf]
	delete(d.recvOrigins, buf)
	if !ok {
		return
	}

	raw := buf.Bytes()
	if len(raw) < 1 {
		return
	}
	kind := raw[0]
	payload := raw[1:]

	var peer *Peer
	if origin.known {
		peer, _ = d.peers.FindByID(origin.peerID)
	}

	if kind == packetTypeHandshake {
		d.HandleHandshakePacket(origin.remote, peer, payload)
		return
	}

	if peer == nil {
		d.log.Debugf("dropping data packet from unknown peer %s", origin.remote)
		return
	}
	if peer.ActiveMethod == nil {
		d.log.Debugf("dropping data packet from %s: no established session", peer)
		return
	}

	peer.LastSeen = d.now()
	inner := NewBufferFromBytes(payload, 0, 0)
	if err := peer.ActiveMethod.HandleRecv(d, peer, inner); err != nil {
		d.log.Debugf("failed to handle packet from %s: %v", peer, err)
	}
}

func (d *Device) serviceTUNRead() {
	buf := make([]byte, int(d.config.MTU)+256)
	n, err := d.tun.Read(buf, 0)
	if err != nil {
		d.log.Warnf("failed to read from TUN: %v", err)
		return
	}
	payload := buf[:n]

	peer, ok := d.routeDestination(payload)
	if !ok {
		return
	}
	if peer.ActiveMethod == nil || !peer.isEstablished() {
		return
	}

	out := NewBufferFromBytes(payload, peer.ActiveMethod.MinEncryptHeadSpace(), peer.ActiveMethod.MinEncryptTailSpace())
	t := &Task{Type: TaskSend, PeerID: peer.ID, Buffer: out}
	d.tasks.push(t, d.now())
}

func (d *Device) serviceSocketRead(sock *udpSocket) {
	if sock == nil {
		return
	}
	raw := make([]byte, 65536)
	for {
		n, remote, err := sock.RecvFrom(raw)
		if err != nil {
			return // EAGAIN or similar: nothing more to read this round
		}
		if n < 1 {
			continue
		}

		buf := NewBufferFromBytes(raw[:n], 0, 0)
		origin := recvOrigin{remote: remote}
		if peer, ok := d.findPeerByAddress(remote); ok {
			origin.peerID = peer.ID
			origin.known = true
		}
		d.recvOrigins[buf] = origin

		t := &Task{Type: TaskHandleRecv, Buffer: buf}
		d.tasks.push(t, d.now())
	}
}

func (d *Device) findPeerByAddress(addr PeerAddr) (*Peer, bool) {
	for _, p := range d.peers.All() {
		if p.Address.Equal(addr) {
			return p, true
		}
	}
	return nil, false
}

// runMaintenance ages out stale MAC entries and stale temporary peers
// (spec §4.3 eth_addr_cleanup, §4.7 TEMP aging), then reschedules itself.
func (d *Device) runMaintenance() {
	now := d.now()
	d.peers.CleanupMAC(now, d.config.EthAddrStaleTime)

	for _, p := range d.peers.All() {
		if p.isTemporary() && now.Sub(p.LastSeen) > d.config.PeerStaleTimeTemp {
			d.peers.Delete(p)
		}
	}

	t := &Task{Type: TaskMaintenance}
	d.tasks.push(t, now.Add(d.config.EthAddrStaleTime))
}
