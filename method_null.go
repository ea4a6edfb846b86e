/*
  Copyright (c) 2012, Matthias Schiffer <mschiffer@universe-factory.net>
  Partly based on QuickTun Copyright (c) 2010, Ivo Smits <Ivo@UCIS.nl>.
  All rights reserved.
*/

package main

// nullMethod is a no-op AEAD used for testing (spec §4.6,
// original_source/src/method_null.c). It packages the payload unchanged and
// calls the receive path directly on arrival. Configurations using it must
// not define more than one floating peer (enforced in NewDevice, mirroring
// method_null.c's null_check_config).
type nullMethod struct{}

func newNullMethod() Method { return &nullMethod{} }

func (m *nullMethod) Name() string { return "null" }

func (m *nullMethod) MaxPacketSize(maxPacket int) int { return maxPacket }
func (m *nullMethod) MinEncryptHeadSpace() int        { return 0 }
func (m *nullMethod) MinEncryptTailSpace() int        { return 0 }
func (m *nullMethod) MinDecryptHeadSpace() int        { return 0 }
func (m *nullMethod) MinDecryptTailSpace() int        { return 0 }

func (m *nullMethod) Init(d *Device, peer *Peer, key []byte, initiator bool) error {
	return nil
}

func (m *nullMethod) FreePeerState(peer *Peer) {}

// HandleRecv is called directly on arrival with no decryption step. On the
// first receive through null, an established temp peer is merged into a
// floating permanent peer if one exists; otherwise the packet is dropped
// (spec §4.6).
func (m *nullMethod) HandleRecv(d *Device, peer *Peer, buf *Buffer) error {
	if !peer.isEstablished() {
		d.log.Infof("connection with %s established", peer)
		peer.State = StateEstablished
	}

	if peer.isTemporary() {
		permPeer, ok := d.peers.FloatingPermanent()
		if !ok {
			return nil // drop: no floating permanent peer to merge into
		}
		peer = d.peers.Merge(permPeer, peer)
	}

	if buf.Len() == 0 {
		return nil
	}
	d.deliverToTUN(peer, buf)
	return nil
}

func (m *nullMethod) Send(d *Device, peer *Peer, buf *Buffer) error {
	return d.sendToPeer(peer, buf)
}
