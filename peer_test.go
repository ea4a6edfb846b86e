package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestPeerTable() *PeerTable {
	return NewPeerTable(newTaskQueue(), NewLogger(LogLevelSilent, "test"))
}

func remoteAddr(port uint16) PeerAddr {
	return PeerAddr{Family: AddrV4, IP: []byte{192, 168, 1, 1}, Port: port}
}

func TestPeerTableAddPermanentSchedulesHandshake(t *testing.T) {
	pt := newTestPeerTable()
	addr := remoteAddr(1234)
	p := pt.Add(&PeerConfig{Name: "a", Remote: &addr})

	require.Equal(t, StateWait, p.State)
	require.NotNil(t, p.handshakeTask)
	require.False(t, p.isFloating())
}

func TestPeerTableAddFloatingDoesNotScheduleHandshake(t *testing.T) {
	pt := newTestPeerTable()
	p := pt.Add(&PeerConfig{Name: "floating"})

	require.Nil(t, p.handshakeTask)
	require.True(t, p.isFloating())
	require.Equal(t, 1, pt.nFloating)
}

func TestPeerTableAddTempFailsWithoutFloatingSlot(t *testing.T) {
	pt := newTestPeerTable()
	_, err := pt.AddTemp(remoteAddr(1), time.Unix(0, 0))
	require.ErrorIs(t, err, errNoFloatingSlot)
}

func TestPeerTableAddTempSucceedsWithFloatingSlot(t *testing.T) {
	pt := newTestPeerTable()
	pt.Add(&PeerConfig{Name: "floating"})

	temp, err := pt.AddTemp(remoteAddr(1), time.Unix(0, 0))
	require.NoError(t, err)
	require.True(t, temp.isTemporary())
	require.Equal(t, StateTemp, temp.State)
}

func TestPeerTableResetRestoresConfiguredAddressAndClearsSession(t *testing.T) {
	pt := newTestPeerTable()
	addr := remoteAddr(1234)
	p := pt.Add(&PeerConfig{Name: "a", Remote: &addr})

	p.State = StateEstablished
	p.Proto = &protoState{attempts: 3}
	p.methodState = &aeadSession{}
	p.ActiveMethod = newNullMethod()
	p.Address = remoteAddr(9999)

	pt.Reset(p)

	require.Equal(t, StateWait, p.State)
	require.Nil(t, p.Proto)
	require.Nil(t, p.methodState)
	require.Nil(t, p.ActiveMethod)
	require.True(t, p.Address.Equal(addr))
}

func TestPeerTableResetOnTemporaryPeerIsABug(t *testing.T) {
	pt := newTestPeerTable()
	temp := &Peer{State: StateTemp}
	require.Panics(t, func() { pt.Reset(temp) })
}

func TestPeerTableMergeCarriesSessionStateIntoPermanentPeer(t *testing.T) {
	pt := newTestPeerTable()
	perm := pt.Add(&PeerConfig{Name: "floating"})

	temp, err := pt.AddTemp(remoteAddr(42), time.Unix(0, 0))
	require.NoError(t, err)
	temp.State = StateEstablished
	temp.methodState = &aeadSession{}
	method := newNullMethod()
	temp.ActiveMethod = method
	pt.LearnMAC(macAddr(7), temp, time.Unix(0, 0))

	merged := pt.Merge(perm, temp)

	require.Same(t, perm, merged)
	require.Equal(t, StateEstablished, merged.State)
	require.NotNil(t, merged.methodState)
	require.Equal(t, method, merged.ActiveMethod)

	id, ok := pt.mac.lookup(macAddr(7))
	require.True(t, ok)
	require.Equal(t, perm.ID, id)

	_, stillThere := pt.FindByID(temp.ID)
	require.False(t, stillThere, "merge must delete the temporary peer")
}

func TestPeerTableDeleteDropsFloatingSlotAccounting(t *testing.T) {
	pt := newTestPeerTable()
	p := pt.Add(&PeerConfig{Name: "floating"})
	require.Equal(t, 1, pt.nFloating)

	pt.Delete(p)
	require.Equal(t, 0, pt.nFloating)
	_, ok := pt.FindByID(p.ID)
	require.False(t, ok)
}

func TestPeerTableFindByPublicKeyOnlyMatchesConfiguredPeers(t *testing.T) {
	pt := newTestPeerTable()
	var key [32]byte
	key[0] = 0x42
	pt.Add(&PeerConfig{Name: "a", PublicKey: key})

	found, ok := pt.FindByPublicKey(key)
	require.True(t, ok)
	require.Equal(t, "a", found.Config.Name)

	var other [32]byte
	other[0] = 0x99
	_, ok = pt.FindByPublicKey(other)
	require.False(t, ok)
}
