/*
  Copyright (c) 2012, Matthias Schiffer <mschiffer@universe-factory.net>
  Partly based on QuickTun Copyright (c) 2010, Ivo Smits <Ivo@UCIS.nl>.
  All rights reserved.
*/

package main

import (
	"bytes"
	"fmt"
	"sort"
	"time"
)

// MACAddr is an Ethernet hardware address (spec §3 MAC entry).
type MACAddr [6]byte

func (m MACAddr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

func (m MACAddr) less(o MACAddr) bool {
	return bytes.Compare(m[:], o[:]) < 0
}

type macEntry struct {
	addr MACAddr
	peer PeerID
	seen time.Time
}

// macTable is the sorted array of (MAC, peer, last-seen) from spec §3/§4.3:
// binary-search lookup, insertion, aging. Growth doubles from an initial
// capacity of 16, matching the teacher's eth_addr_size policy.
type macTable struct {
	entries []macEntry
}

func newMACTable() *macTable {
	return &macTable{entries: make([]macEntry, 0, 16)}
}

func (t *macTable) search(addr MACAddr) (idx int, found bool) {
	n := len(t.entries)
	idx = sort.Search(n, func(i int) bool {
		return !t.entries[i].addr.less(addr)
	})
	if idx < n && t.entries[idx].addr == addr {
		return idx, true
	}
	return idx, false
}

// add performs binary search; on hit, overwrites peer and last_seen; on
// miss, inserts in sorted order (spec §4.3 eth_addr_add). The shift loop
// uses the corrected `i > min` bound per spec §9's Open Question decision
// (the original fastd source's `i > min+1` is an off-by-one that can
// duplicate the slot at min+1).
func (t *macTable) add(addr MACAddr, peer PeerID, now time.Time) {
	idx, found := t.search(addr)
	if found {
		t.entries[idx].peer = peer
		t.entries[idx].seen = now
		return
	}

	t.entries = append(t.entries, macEntry{})
	for i := len(t.entries) - 1; i > idx; i-- {
		t.entries[i] = t.entries[i-1]
	}
	t.entries[idx] = macEntry{addr: addr, peer: peer, seen: now}
}

// lookup performs the O(log n) binary-search lookup of spec §4.3
// find_by_mac.
func (t *macTable) lookup(addr MACAddr) (PeerID, bool) {
	idx, found := t.search(addr)
	if !found {
		return PeerID{}, false
	}
	return t.entries[idx].peer, true
}

// cleanup removes entries whose last_seen is older than staleAfter,
// compacting the slice in place (spec §4.3 eth_addr_cleanup).
func (t *macTable) cleanup(now time.Time, staleAfter time.Duration) int {
	deleted := 0
	for i := range t.entries {
		if now.Sub(t.entries[i].seen) > staleAfter {
			deleted++
		} else if deleted > 0 {
			t.entries[i-deleted] = t.entries[i]
		}
	}
	t.entries = t.entries[:len(t.entries)-deleted]
	return deleted
}

// removeForPeer drops every mapping pointing at the given peer (used on
// peer reset/delete, spec §5 Cancellation / §4.3 reset_peer).
func (t *macTable) removeForPeer(peer PeerID) {
	deleted := 0
	for i := range t.entries {
		if t.entries[i].peer == peer {
			deleted++
		} else if deleted > 0 {
			t.entries[i-deleted] = t.entries[i]
		}
	}
	t.entries = t.entries[:len(t.entries)-deleted]
}

// rewire rewrites every mapping from `from` to `to` (used by Merge, spec
// §4.3: "every MAC previously mapped to temp maps to perm").
func (t *macTable) rewire(from, to PeerID) {
	for i := range t.entries {
		if t.entries[i].peer == from {
			t.entries[i].peer = to
		}
	}
}

func (t *macTable) len() int { return len(t.entries) }
