/*
  Copyright (c) 2012-2014, Matthias Schiffer <mschiffer@universe-factory.net>
  All rights reserved.
*/

package main

import (
	"crypto/cipher"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

// aeadMethod is a concrete opaque AEAD method layered on the abstract
// Method interface (spec §4.6: "concrete cipher primitives treated as
// opaque AEAD constructions"). Grounded on the teacher's use of
// golang.org/x/crypto/chacha20poly1305 in send.go.
type aeadMethod struct {
	name string
}

func newChacha20Poly1305Method() Method {
	return &aeadMethod{name: "chacha2012-poly1305"}
}

func (m *aeadMethod) Name() string { return m.name }

func (m *aeadMethod) MaxPacketSize(maxPacket int) int { return maxPacket }
func (m *aeadMethod) MinEncryptHeadSpace() int        { return CommonHeadBytes }
func (m *aeadMethod) MinEncryptTailSpace() int        { return chacha20poly1305.Overhead }
func (m *aeadMethod) MinDecryptHeadSpace() int        { return 0 }
func (m *aeadMethod) MinDecryptTailSpace() int        { return 0 }

// cipherSession pairs the method-common nonce/replay state with a
// ready-to-use AEAD instance for one key.
type cipherSession struct {
	common *methodCommon
	aead   cipher.AEAD
}

// aeadSession is the per-peer state this method owns (spec §4.6: session
// lifecycle hooks). old is kept, decrypt-only, across a rekey until
// key_valid_old elapses (spec §4.7).
type aeadSession struct {
	current *cipherSession
	old     *cipherSession
}

func (m *aeadMethod) Init(d *Device, peer *Peer, key []byte, initiator bool) error {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return err
	}

	now := d.now()
	common := newMethodCommon(initiator, now, d.config.KeyValid, d.config.KeyValidOld)
	session := &cipherSession{common: common, aead: aead}

	state, _ := peer.methodState.(*aeadSession)
	if state == nil {
		state = &aeadSession{}
	}
	if state.current != nil {
		state.current.common.supersede(now, d.config.KeyValidOld)
		state.old = state.current
	}
	state.current = session
	peer.methodState = state
	return nil
}

func (m *aeadMethod) FreePeerState(peer *Peer) {
	peer.methodState = nil
}

func expandNonce(nonce [commonNonceBytes]byte) []byte {
	buf := make([]byte, chacha20poly1305.NonceSize)
	copy(buf, nonce[:])
	buf[len(buf)-1] = 1
	return buf
}

func (m *aeadMethod) Send(d *Device, peer *Peer, buf *Buffer) error {
	state, _ := peer.methodState.(*aeadSession)
	if state == nil || state.current == nil || !state.current.common.isValid(d.now()) {
		return errAuthFailure
	}
	session := state.current

	nonce := session.common.nextSendNonce()
	plaintext := append([]byte(nil), buf.Bytes()...)

	sealed := session.aead.Seal(nil, expandNonce(nonce), plaintext, nil)
	buf.GrowTail(len(sealed) - len(plaintext))
	copy(buf.Bytes(), sealed)

	putCommonHeader(buf, nonce, 0)
	if err := d.sendToPeer(peer, buf); err != nil {
		return err
	}
	d.checkRekey(peer)
	return nil
}

func (m *aeadMethod) HandleRecv(d *Device, peer *Peer, buf *Buffer) error {
	nonce, flags, err := takeCommonHeader(buf)
	if err != nil {
		return err
	}
	if flags != 0 {
		return errShortPacket
	}

	state, _ := peer.methodState.(*aeadSession)
	if state == nil {
		return errAuthFailure
	}

	session, age, ok := pickSession(state, nonce, d.now())
	if !ok {
		d.metrics.replayDrops.Inc()
		return errReplayOrOutOfWindow
	}

	ciphertext := append([]byte(nil), buf.Bytes()...)
	plaintext, err := session.aead.Open(nil, expandNonce(nonce), ciphertext, nil)
	if err != nil {
		d.metrics.authFailures.Inc()
		return errAuthFailure
	}
	buf.ShrinkTail(len(ciphertext) - len(plaintext))
	copy(buf.Bytes(), plaintext)

	session.common.reorderCheck(nonce, age)

	if !peer.isEstablished() {
		d.log.Infof("connection with %s established", peer)
		peer.State = StateEstablished
	}

	if buf.Len() > 0 {
		d.deliverToTUN(peer, buf)
	}
	return nil
}

// pickSession tries the current session first, then the superseded old
// session (still valid for decrypt within key_valid_old, spec §4.7 / S6).
func pickSession(state *aeadSession, nonce [commonNonceBytes]byte, now time.Time) (*cipherSession, int64, bool) {
	if state.current != nil {
		if accept, age := state.current.common.isNonceValid(nonce); accept {
			return state.current, age, true
		}
	}
	if state.old != nil && state.old.common.isValid(now) {
		if accept, age := state.old.common.isNonceValid(nonce); accept {
			return state.old, age, true
		}
	}
	return nil, 0, false
}
