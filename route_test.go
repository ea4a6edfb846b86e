package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func ipv4Packet(totalLen int) []byte {
	p := make([]byte, totalLen)
	p[0] = 0x45 // version 4, IHL 5
	p[2] = byte(totalLen >> 8)
	p[3] = byte(totalLen)
	p[8] = 64 // TTL
	p[9] = 17 // UDP
	return p
}

func TestIPPacketVersionAcceptsIPv4(t *testing.T) {
	v, err := ipPacketVersion(ipv4Packet(20))
	require.NoError(t, err)
	require.Equal(t, 4, v)
}

func TestIPPacketVersionAcceptsIPv6(t *testing.T) {
	payload := make([]byte, 40)
	payload[0] = 0x60
	v, err := ipPacketVersion(payload)
	require.NoError(t, err)
	require.Equal(t, 6, v)
}

func TestIPPacketVersionRejectsUnknownVersion(t *testing.T) {
	_, err := ipPacketVersion([]byte{0x00})
	require.ErrorIs(t, err, errMalformedTLV)
}

func TestIPPacketVersionRejectsTruncatedHeader(t *testing.T) {
	_, err := ipPacketVersion([]byte{0x45, 0x00})
	require.Error(t, err)
}

func TestRouteTUNPacketPicksEstablishedPeer(t *testing.T) {
	addr := remoteAddr(1)
	d := &Device{
		config: &Config{Mode: ModeTUN},
		log:    NewLogger(LogLevelSilent, "test"),
		peers:  newTestPeerTable(),
		tasks:  newTaskQueue(),
	}
	p := d.peers.Add(&PeerConfig{Name: "a", Remote: &addr})
	p.State = StateEstablished

	got, ok := d.routeTUNPacket(ipv4Packet(20))
	require.True(t, ok)
	require.Same(t, p, got)
}

func TestRouteTUNPacketDropsMalformedPayload(t *testing.T) {
	d := &Device{
		config: &Config{Mode: ModeTUN},
		log:    NewLogger(LogLevelSilent, "test"),
		peers:  newTestPeerTable(),
		tasks:  newTaskQueue(),
	}

	_, ok := d.routeTUNPacket([]byte{0x01})
	require.False(t, ok)
}
