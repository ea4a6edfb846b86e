/*
  Copyright (c) 2012-2014, Matthias Schiffer <mschiffer@universe-factory.net>
  All rights reserved.
*/

package main

import (
	"crypto/rand"
	"crypto/sha256"
	"io"
	"time"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// backoff schedule for handshake retransmits (spec §4.7 HANDSHAKE: "2, 4,
// 8 ... seconds up to a cap").
var handshakeBackoff = []time.Duration{
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
	30 * time.Second,
}

const handshakeMaxAttempts = 8

// recordStaticKey carries the sender's long-term public key in every init
// and reply packet (a protocol-specific slot, opaque to the TLV codec
// itself), letting a responder recognize a configured floating peer, or
// remember a temporary peer's identity across a later merge.
const recordStaticKey = 7

// recordEphemeralKey carries the sender's per-handshake ephemeral public key
// used for the ephemeral-ephemeral half of the session key derivation.
const recordEphemeralKey = 6

// protoState is the opaque per-peer protocol state of spec §3 Peer
// ("opaque protocol state"), cleared on reset/rekey.
type protoState struct {
	attempts      int
	ephemeralPriv [32]byte
	ephemeralPub  [32]byte

	rekeying bool // true once a refresh handshake has been started while ESTABLISHED
}

func newEphemeralKeypair() (priv, pub [32]byte) {
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		bug("failed to read random bytes")
	}
	curve25519.ScalarBaseMult(&pub, &priv)
	return
}

// deriveSharedKey combines an ephemeral-ephemeral and a static-static X25519
// exchange through HKDF, the flat pre-shared-key equivalent of the
// ec25519-fhmqvc construction (spec §1 Non-goals: "no certificate
// hierarchy; trust is a flat set of pre-shared public keys"). The DH is
// symmetric, so both sides derive the same key regardless of who computes
// it first.
func deriveSharedKey(ourEphemeralPriv, peerEphemeralPub, ourStaticPriv, peerStaticPub [32]byte) ([]byte, error) {
	ephemeralShared, err := curve25519.X25519(ourEphemeralPriv[:], peerEphemeralPub[:])
	if err != nil {
		return nil, err
	}
	staticShared, err := curve25519.X25519(ourStaticPriv[:], peerStaticPub[:])
	if err != nil {
		return nil, err
	}

	ikm := append(append([]byte{}, ephemeralShared...), staticShared...)
	h := hkdf.New(sha256.New, ikm, nil, []byte("fastd-go session"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, err
	}
	return key, nil
}

// StartHandshake sends a fresh init packet and schedules the first
// retransmit (spec §4.7 WAIT -> HANDSHAKE).
func (d *Device) StartHandshake(peer *Peer) {
	if peer.isFloating() || peer.isTemporary() {
		return // floating/temporary peers never initiate (spec §4.7)
	}

	priv, pub := newEphemeralKeypair()
	peer.Proto = &protoState{ephemeralPriv: priv, ephemeralPub: pub}
	peer.State = StateHandshake

	hb := newHandshakeCore(d.config, HandshakeInit, nil, !d.config.SecureHandshakes)
	hb.AddBytes(recordEphemeralKey, pub[:])
	hb.AddBytes(recordStaticKey, d.publicKey[:])
	d.sendHandshakePacket(peer, hb.Finish())

	d.scheduleRetransmit(peer, 0)
}

func (d *Device) scheduleRetransmit(peer *Peer, attempt int) {
	if peer.handshakeTask != nil {
		d.tasks.cancel(peer.handshakeTask)
	}
	var delay time.Duration
	if attempt < len(handshakeBackoff) {
		delay = handshakeBackoff[attempt]
	} else {
		delay = handshakeBackoff[len(handshakeBackoff)-1]
	}
	t := &Task{Type: TaskHandshake, PeerID: peer.ID}
	d.tasks.push(t, d.now().Add(delay))
	peer.handshakeTask = t
}

// OnHandshakeTimeout is invoked by the event loop when a peer's scheduled
// HANDSHAKE task fires: retransmit on the backoff schedule, or reset to
// WAIT on exhaustion (spec §4.7 HANDSHAKE).
func (d *Device) OnHandshakeTimeout(peer *Peer) {
	if peer.State == StateWait {
		d.StartHandshake(peer)
		return
	}
	if peer.State != StateHandshake {
		return // superseded: e.g. rekey completed before retransmit fired
	}

	proto, _ := peer.Proto.(*protoState)
	if proto == nil {
		d.peers.Reset(peer)
		return
	}
	proto.attempts++
	if proto.attempts >= handshakeMaxAttempts {
		d.log.Warnf("handshake with %s timed out after %d attempts", peer, proto.attempts)
		d.peers.Reset(peer)
		return
	}

	hb := newHandshakeCore(d.config, HandshakeInit, nil, !d.config.SecureHandshakes)
	hb.AddBytes(recordEphemeralKey, proto.ephemeralPub[:])
	hb.AddBytes(recordStaticKey, d.publicKey[:])
	d.sendHandshakePacket(peer, hb.Finish())
	d.scheduleRetransmit(peer, proto.attempts)
}

// selectMethod implements spec §4.4's method negotiation: if the peer sent
// a list, pick the earliest entry in the sender's wire order that we also
// know, giving the sender's preference precedence over later entries; else
// use the named method if we know it; else none.
func (d *Device) selectMethod(h *Handshake) Method {
	if rec := h.Records[RecordMethodList]; rec.present && rec.Len() > 0 {
		names := decodeMethodList(rec.Bytes())
		for _, want := range names {
			if m, ok := d.methods.get(want); ok {
				return m
			}
		}
		return nil
	}

	rec := h.Records[RecordMethodName]
	if !rec.present {
		return nil
	}
	m, ok := d.methods.get(rec.String())
	if !ok {
		return nil
	}
	return m
}

// checkRecords validates common fields before dispatch (spec §4.4 "Record
// validation on receive").
func (d *Device) checkRecords(h *Handshake, remote PeerAddr) (sendError bool, errorDetail int, drop bool) {
	if rec := h.Records[RecordProtocolName]; rec.present {
		if rec.String() != protocolName {
			return true, RecordProtocolName, false
		}
	}

	if rec := h.Records[RecordMode]; rec.present {
		v, ok := rec.Uint8()
		if !ok || v != d.config.modeByte() {
			return true, RecordMode, false
		}
	}

	if !d.config.SecureHandshakes || h.Type > 1 {
		if v, ok := h.Records[RecordMTU].Uint16(); ok && v != d.config.MTU {
			d.log.Warnf("MTU configuration differs with peer %s: local MTU is %d, remote MTU is %d", remote, d.config.MTU, v)
		}
	}

	if h.Type > 1 {
		code, ok := h.Records[RecordReplyCode].Uint8()
		if !ok {
			d.log.Warnf("received handshake reply without reply code from %s", remote)
			return false, 0, true
		}
		if code != ReplySuccess {
			detail := RecordMax
			if v, ok2 := h.Records[RecordErrorDetail].Uint8(); ok2 {
				detail = int(v)
			}
			d.log.Warnf("handshake with %s failed: received error: reply code %d on field `%s'", remote, code, recordName(detail))
			return false, 0, true
		}
	}

	return false, 0, false
}

// HandleHandshakePacket is the entry point for an inbound handshake
// datagram (spec §4.4 fastd_handshake_handle dispatch).
func (d *Device) HandleHandshakePacket(remote PeerAddr, peer *Peer, raw []byte) {
	h, err := DecodeHandshake(raw)
	if err != nil {
		d.log.Warnf("received a short handshake from %s", remote)
		return
	}
	if !h.Records[RecordHandshakeType].present || h.Records[RecordHandshakeType].Len() != 1 {
		d.log.Debugf("received handshake without handshake type from %s", remote)
		return
	}

	sendErr, detail, drop := d.checkRecords(h, remote)
	if sendErr {
		d.sendErrorReply(remote, h.Type, ReplyUnacceptableValue, detail)
		return
	}
	if drop {
		return
	}

	var method Method
	if !d.config.SecureHandshakes || h.Type > 1 {
		method = d.selectMethod(h)
	}
	if h.Type > 1 && method == nil {
		d.sendErrorReply(remote, h.Type, ReplyUnacceptableValue, RecordMethodList)
		return
	}

	switch h.Type {
	case HandshakeInit:
		d.handleInit(remote, peer, h, method)
	case HandshakeReply:
		d.handleReply(remote, peer, h, method)
	case HandshakeFinish:
		d.handleFinish(peer)
	default:
		d.log.Debugf("received handshake with unknown type %d from %s", h.Type, remote)
	}
}

func readKeyRecord(h *Handshake, recordType int) ([32]byte, bool) {
	var key [32]byte
	rec := h.Records[recordType]
	if !rec.present || rec.Len() != 32 {
		return key, false
	}
	copy(key[:], rec.Bytes())
	return key, true
}

// resolvePeer finds the peer this handshake is for: the matching
// configuration entry known by source address, a configured floating peer
// recognized by its advertised static key, or a freshly created temporary
// peer if a floating slot is still free (spec §4.3 add_temp, §4.7
// Temporary peers).
func (d *Device) resolvePeer(remote PeerAddr, peer *Peer, staticKey [32]byte, haveKey bool) (*Peer, error) {
	if peer != nil {
		return peer, nil
	}
	if haveKey {
		if p, ok := d.peers.FindByPublicKey(staticKey); ok {
			p.Address = remote
			return p, nil
		}
	}
	p, err := d.peers.AddTemp(remote, d.now())
	if err != nil {
		return nil, err
	}
	if haveKey {
		p.tempStaticKey = staticKey
	}
	return p, nil
}

func (d *Device) handleInit(remote PeerAddr, peer *Peer, h *Handshake, method Method) {
	peerEph, ok := readKeyRecord(h, recordEphemeralKey)
	if !ok {
		d.log.Debugf("received init without ephemeral key from %s", remote)
		return
	}
	staticKey, haveStatic := readKeyRecord(h, recordStaticKey)

	peer, err := d.resolvePeer(remote, peer, staticKey, haveStatic)
	if err != nil {
		d.log.Debugf("dropping init from unknown peer %s: %v", remote, err)
		return
	}

	priv, pub := newEphemeralKeypair()
	peer.Proto = &protoState{ephemeralPriv: priv, ephemeralPub: pub}

	if method != nil && haveStatic {
		key, err := deriveSharedKey(priv, peerEph, d.config.PrivateKey, staticKey)
		if err == nil {
			if initErr := method.Init(d, peer, key, false); initErr == nil {
				peer.ActiveMethod = method
				peer.State = StateEstablished
				d.log.Infof("connection with %s established", peer)
			}
		}
	}

	hb := newHandshakeCore(d.config, HandshakeReply, method, false)
	hb.AddUint8(RecordReplyCode, ReplySuccess)
	hb.AddBytes(recordEphemeralKey, pub[:])
	hb.AddBytes(recordStaticKey, d.publicKey[:])
	d.sendHandshakePacket(peer, hb.Finish())
}

func (d *Device) handleReply(remote PeerAddr, peer *Peer, h *Handshake, method Method) {
	if peer == nil {
		d.log.Debugf("received reply from unknown peer %s", remote)
		return
	}
	proto, _ := peer.Proto.(*protoState)
	if proto == nil {
		return
	}

	peerEph, ok := readKeyRecord(h, recordEphemeralKey)
	if !ok {
		d.log.Debugf("received reply without ephemeral key from %s", remote)
		return
	}
	staticKey, haveStatic := readKeyRecord(h, recordStaticKey)
	peerStatic := d.staticKeyFor(peer)
	if haveStatic {
		peerStatic = staticKey
	}

	if method == nil {
		return
	}
	key, err := deriveSharedKey(proto.ephemeralPriv, peerEph, d.config.PrivateKey, peerStatic)
	if err != nil {
		return
	}
	if err := method.Init(d, peer, key, true); err != nil {
		return
	}
	peer.ActiveMethod = method
	proto.rekeying = false // a completed refresh lets checkRekey start the next one

	wasEstablished := peer.isEstablished()
	peer.State = StateEstablished
	peer.LastSeen = d.now()
	if !wasEstablished {
		d.log.Infof("connection with %s established", peer)
	}
	if peer.handshakeTask != nil {
		d.tasks.cancel(peer.handshakeTask)
		peer.handshakeTask = nil
	}

	hb := newHandshakeCore(d.config, HandshakeFinish, method, false)
	hb.AddUint8(RecordReplyCode, ReplySuccess)
	d.sendHandshakePacket(peer, hb.Finish())
}

func (d *Device) handleFinish(peer *Peer) {
	if peer == nil {
		return
	}
	if !peer.isEstablished() {
		peer.State = StateEstablished
		d.log.Infof("connection with %s established", peer)
	}
	peer.LastSeen = d.now()
}

// staticKeyFor returns the static public key we trust for a peer: the
// configured key for a permanent peer, or the key advertised in-band for a
// temporary one. Flat pre-shared-key trust means there is no certificate
// chain to validate against (spec §1 Non-goals).
func (d *Device) staticKeyFor(peer *Peer) [32]byte {
	if peer.Config != nil {
		return peer.Config.PublicKey
	}
	return peer.tempStaticKey
}

// checkRekey starts a new handshake without leaving ESTABLISHED when the
// current session wants a refresh (spec §4.7 ESTABLISHED rekey).
func (d *Device) checkRekey(peer *Peer) {
	if peer.State != StateEstablished || peer.isTemporary() {
		return
	}
	state, ok := peer.methodState.(*aeadSession)
	if !ok || state.current == nil {
		return
	}
	if !state.current.common.wantsRefresh(d.now()) {
		return
	}
	if !state.current.common.isInitiator() {
		return
	}
	proto, _ := peer.Proto.(*protoState)
	if proto != nil && proto.rekeying {
		return
	}

	priv, pub := newEphemeralKeypair()
	peer.Proto = &protoState{ephemeralPriv: priv, ephemeralPub: pub, rekeying: true}

	hb := newHandshakeCore(d.config, HandshakeInit, nil, !d.config.SecureHandshakes)
	hb.AddBytes(recordEphemeralKey, pub[:])
	hb.AddBytes(recordStaticKey, d.publicKey[:])
	d.sendHandshakePacket(peer, hb.Finish())
	d.scheduleRetransmit(peer, 0)
}

func (d *Device) sendErrorReply(remote PeerAddr, reqType uint8, replyCode uint8, detail int) {
	d.log.Warnf("sending error reply to %s: code %d on field `%s'", remote, replyCode, recordName(detail))
	packet := NewErrorReply(reqType, replyCode, detail)
	d.sendRawHandshake(remote, packet)
}
