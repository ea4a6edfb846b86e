package main

import (
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func macAddr(b byte) MACAddr {
	return MACAddr{0, 0, 0, 0, 0, b}
}

func TestMACTableAddAndLookup(t *testing.T) {
	tbl := newMACTable()
	p1, p2 := newPeerID(), newPeerID()
	now := time.Unix(0, 0)

	tbl.add(macAddr(1), p1, now)
	tbl.add(macAddr(2), p2, now)

	got, ok := tbl.lookup(macAddr(1))
	require.True(t, ok)
	require.Equal(t, p1, got)

	got, ok = tbl.lookup(macAddr(2))
	require.True(t, ok)
	require.Equal(t, p2, got)

	_, ok = tbl.lookup(macAddr(3))
	require.False(t, ok)
}

func TestMACTableAddOverwritesExisting(t *testing.T) {
	tbl := newMACTable()
	p1, p2 := newPeerID(), newPeerID()

	tbl.add(macAddr(5), p1, time.Unix(0, 0))
	tbl.add(macAddr(5), p2, time.Unix(1, 0))

	require.Equal(t, 1, tbl.len())
	got, ok := tbl.lookup(macAddr(5))
	require.True(t, ok)
	require.Equal(t, p2, got)
}

// property: after any sequence of adds, the table stays sorted by address
// and every inserted mapping is reachable by lookup.
func TestMACTableStaysSortedAfterRandomInsertOrder(t *testing.T) {
	tbl := newMACTable()
	r := rand.New(rand.NewSource(1))
	want := map[MACAddr]PeerID{}

	for i := 0; i < 200; i++ {
		a := macAddr(byte(r.Intn(256)))
		id := newPeerID()
		want[a] = id
		tbl.add(a, id, time.Unix(int64(i), 0))
	}

	require.True(t, sort.SliceIsSorted(tbl.entries, func(i, j int) bool {
		return tbl.entries[i].addr.less(tbl.entries[j].addr)
	}))

	for a, id := range want {
		got, ok := tbl.lookup(a)
		require.True(t, ok)
		require.Equal(t, id, got)
	}
}

func TestMACTableCleanupRemovesStaleEntriesOnly(t *testing.T) {
	tbl := newMACTable()
	p1, p2 := newPeerID(), newPeerID()

	tbl.add(macAddr(1), p1, time.Unix(0, 0))
	tbl.add(macAddr(2), p2, time.Unix(100, 0))

	deleted := tbl.cleanup(time.Unix(100, 0), 50*time.Second)
	require.Equal(t, 1, deleted)
	require.Equal(t, 1, tbl.len())

	_, ok := tbl.lookup(macAddr(1))
	require.False(t, ok)
	_, ok = tbl.lookup(macAddr(2))
	require.True(t, ok)
}

func TestMACTableRemoveForPeerDropsAllItsMappings(t *testing.T) {
	tbl := newMACTable()
	p1, p2 := newPeerID(), newPeerID()

	tbl.add(macAddr(1), p1, time.Unix(0, 0))
	tbl.add(macAddr(2), p1, time.Unix(0, 0))
	tbl.add(macAddr(3), p2, time.Unix(0, 0))

	tbl.removeForPeer(p1)

	require.Equal(t, 1, tbl.len())
	_, ok := tbl.lookup(macAddr(3))
	require.True(t, ok)
}

func TestMACTableRewireRetargetsMappings(t *testing.T) {
	tbl := newMACTable()
	from, to := newPeerID(), newPeerID()

	tbl.add(macAddr(1), from, time.Unix(0, 0))
	tbl.add(macAddr(2), from, time.Unix(0, 0))

	tbl.rewire(from, to)

	got, ok := tbl.lookup(macAddr(1))
	require.True(t, ok)
	require.Equal(t, to, got)
	got, ok = tbl.lookup(macAddr(2))
	require.True(t, ok)
	require.Equal(t, to, got)
}
