/*
  Copyright (c) 2012, Matthias Schiffer <mschiffer@universe-factory.net>
  Partly based on QuickTun Copyright (c) 2010, Ivo Smits <Ivo@UCIS.nl>.
  All rights reserved.
*/

package main

import (
	"time"

	"github.com/google/uuid"
)

// PeerID is the stable identifier tasks carry instead of a raw pointer, so a
// delayed task can detect a deleted peer and no-op (spec §9 Design Notes).
type PeerID uuid.UUID

func newPeerID() PeerID { return PeerID(uuid.New()) }

var zeroPeerID PeerID

// PeerState is the protocol state machine's state (spec §4.7).
type PeerState int

const (
	StateWait PeerState = iota
	StateTemp
	StateHandshake
	StateEstablished
)

func (s PeerState) String() string {
	switch s {
	case StateWait:
		return "wait"
	case StateTemp:
		return "temp"
	case StateHandshake:
		return "handshake"
	case StateEstablished:
		return "established"
	default:
		return "invalid"
	}
}

// PeerConfig is a statically configured peer entry (spec §6 Configuration
// inputs: "list of peer configurations; each has optional remote address
// and its public key").
type PeerConfig struct {
	Name      string
	Remote    *PeerAddr // nil => floating peer, remote learned at runtime
	PublicKey [32]byte
}

func (c *PeerConfig) floating() bool { return c == nil || c.Remote == nil }

// Peer is the essential peer record of spec §3.
type Peer struct {
	ID      PeerID
	Config  *PeerConfig // nil => temporary peer
	Address PeerAddr
	State   PeerState
	LastSeen time.Time

	Proto interface{} // opaque protocol state (*protoState), cleared on reset

	ActiveMethod Method        // negotiated method for the current session, if any
	methodState  interface{} // method-owned session state (e.g. *aeadSession)

	handshakeTask *Task // currently scheduled handshake task, if any

	// tempStaticKey is the static public key a temporary peer advertised in
	// its handshake, kept so a later FloatingPermanent merge or repeated
	// handshake can recognize the same remote key (spec §4.3).
	tempStaticKey [32]byte
}

func (p *Peer) isFloating() bool {
	return p.Config != nil && p.Config.Remote == nil
}

func (p *Peer) isTemporary() bool { return p.Config == nil }

func (p *Peer) isEstablished() bool { return p.State == StateEstablished }

func (p *Peer) String() string { return p.Address.String() }

// PeerTable holds the peer set plus the MAC learning table that maps
// Ethernet addresses to peers in TAP mode (spec §4.3).
type PeerTable struct {
	order []*Peer
	byID  map[PeerID]*Peer

	mac   *macTable
	tasks *taskQueue
	log   *Logger

	nFloating int // number of configured peers with no remote address
}

func NewPeerTable(tasks *taskQueue, log *Logger) *PeerTable {
	return &PeerTable{
		byID: make(map[PeerID]*Peer),
		mac:  newMACTable(),
		tasks: tasks,
		log:  log,
	}
}

func (pt *PeerTable) insert(p *Peer) {
	p.ID = newPeerID()
	pt.byID[p.ID] = p
	pt.order = append(pt.order, p)
}

func (pt *PeerTable) unlink(p *Peer) {
	delete(pt.byID, p.ID)
	for i, q := range pt.order {
		if q == p {
			pt.order = append(pt.order[:i], pt.order[i+1:]...)
			break
		}
	}
}

// FindByID looks a peer up by its stable identifier; returns false if the
// peer has been deleted in the meantime (spec §5 Cancellation: "dequeued
// tasks re-check peer liveness before acting").
func (pt *PeerTable) FindByID(id PeerID) (*Peer, bool) {
	p, ok := pt.byID[id]
	return p, ok
}

// FindByMAC performs the binary-search MAC lookup of spec §4.3.
func (pt *PeerTable) FindByMAC(addr MACAddr) (*Peer, bool) {
	id, ok := pt.mac.lookup(addr)
	if !ok {
		return nil, false
	}
	return pt.FindByID(id)
}

// LearnMAC records that addr was last seen arriving from (or destined for)
// peer, per spec §4.3 eth_addr_add.
func (pt *PeerTable) LearnMAC(addr MACAddr, peer *Peer, now time.Time) {
	pt.mac.add(addr, peer.ID, now)
}

// CleanupMAC ages out MAC entries not seen within staleAfter (spec §4.3
// eth_addr_cleanup), run periodically as a MAINTENANCE task (spec §4.8).
func (pt *PeerTable) CleanupMAC(now time.Time, staleAfter time.Duration) int {
	return pt.mac.cleanup(now, staleAfter)
}

// Add creates a permanent peer in WAIT (spec §4.3 add). If the config has
// no remote, the peer is floating and schedules no handshake.
func (pt *PeerTable) Add(cfg *PeerConfig) *Peer {
	p := &Peer{Config: cfg, State: StateWait}
	pt.insert(p)
	if cfg.Remote == nil {
		pt.nFloating++
	} else {
		p.Address = *cfg.Remote
	}
	if !p.isFloating() {
		pt.scheduleHandshake(p, 0)
	}
	pt.log.Debugf("adding peer %s", p)
	return p
}

// AddTemp inserts a TEMP peer learned from an unknown incoming source (spec
// §4.3 add_temp). Fails with errNoFloatingSlot if no floating slot exists.
func (pt *PeerTable) AddTemp(remote PeerAddr, now time.Time) (*Peer, error) {
	if pt.nFloating == 0 {
		return nil, errNoFloatingSlot
	}
	p := &Peer{
		Address:  remote,
		State:    StateTemp,
		LastSeen: now,
	}
	pt.insert(p)
	pt.log.Debugf("adding peer %s (temporary)", p)
	return p, nil
}

func (pt *PeerTable) resetMappings(p *Peer) {
	pt.mac.removeForPeer(p.ID)
	pt.tasks.cancelForPeer(p.ID)
	p.handshakeTask = nil
}

// Reset drops the peer's MAC mappings, cancels its pending tasks, clears
// protocol state, restores the configured address, sets state WAIT and
// schedules an immediate handshake unless the peer is floating (spec §4.3
// reset).
func (pt *PeerTable) Reset(p *Peer) {
	if p.isTemporary() {
		bug("tried to reset temporary peer")
	}

	pt.log.Debugf("resetting peer %s", p)

	pt.resetMappings(p)
	if p.ActiveMethod != nil {
		p.ActiveMethod.FreePeerState(p)
	}
	p.Proto = nil
	p.methodState = nil
	p.ActiveMethod = nil
	p.State = StateWait
	p.LastSeen = time.Time{}

	if p.Config.Remote != nil {
		p.Address = *p.Config.Remote
	} else {
		p.Address = PeerAddr{Family: AddrUnspec}
	}

	if !p.isFloating() {
		pt.scheduleHandshake(p, 0)
	}
}

// Merge copies temp's address, state and last-seen into perm, rewrites MAC
// mappings from temp to perm, and deletes temp (spec §4.3 merge).
func (pt *PeerTable) Merge(perm, temp *Peer) *Peer {
	pt.log.Debugf("merging peer %s into %s", temp, perm)

	perm.Address = temp.Address
	if temp.isEstablished() {
		perm.State = StateEstablished
	} else {
		perm.State = StateWait
	}
	perm.LastSeen = temp.LastSeen
	perm.Proto = temp.Proto
	perm.methodState = temp.methodState
	perm.ActiveMethod = temp.ActiveMethod

	pt.mac.rewire(temp.ID, perm.ID)

	pt.Delete(temp)

	return perm
}

// Delete drops MAC mappings, cancels tasks, and unlinks the peer (spec §4.3
// delete).
func (pt *PeerTable) Delete(p *Peer) {
	pt.log.Debugf("deleting peer %s", p)
	pt.resetMappings(p)
	if p.ActiveMethod != nil {
		p.ActiveMethod.FreePeerState(p)
	}
	pt.unlink(p)
	if p.Config != nil && p.Config.Remote == nil {
		pt.nFloating--
	}
}

// FindByPublicKey looks up a configured permanent peer by its static public
// key, letting a floating peer's remote address be learned from an inbound
// handshake instead of requiring it to match by source address
// (original_source/src/peer.c's key-based peer resolution).
func (pt *PeerTable) FindByPublicKey(key [32]byte) (*Peer, bool) {
	for _, p := range pt.order {
		if p.Config != nil && p.Config.PublicKey == key {
			return p, true
		}
	}
	return nil, false
}

// FloatingPermanent returns the first configured floating permanent peer,
// used by the null method (and others) to promote a successful temporary
// handshake (spec §4.6, original_source/src/method_null.c).
func (pt *PeerTable) FloatingPermanent() (*Peer, bool) {
	for _, p := range pt.order {
		if p.Config != nil && p.Config.Remote == nil {
			return p, true
		}
	}
	return nil, false
}

func (pt *PeerTable) scheduleHandshake(p *Peer, delay time.Duration) {
	if p.handshakeTask != nil {
		pt.tasks.cancel(p.handshakeTask)
	}
	t := &Task{Type: TaskHandshake, PeerID: p.ID}
	pt.tasks.push(t, time.Now().Add(delay))
	p.handshakeTask = t
}

func (pt *PeerTable) All() []*Peer { return pt.order }
