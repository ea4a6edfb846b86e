/*
  Copyright (c) 2012-2014, Matthias Schiffer <mschiffer@universe-factory.net>
  All rights reserved.
*/

package main

// Method is the abstract AEAD method of spec §4.6. The daemon treats a
// method as opaque: the COMMON_HEADBYTES header (flags || nonce) is
// prepended by the method itself via putCommonHeader; any MAC/AEAD tag
// lives in the buffer's tail space.
type Method interface {
	Name() string

	MaxPacketSize(maxPacket int) int
	MinEncryptHeadSpace() int
	MinEncryptTailSpace() int
	MinDecryptHeadSpace() int
	MinDecryptTailSpace() int

	// Init is called when a handshake completes and a fresh session is
	// available; key is the per-session secret derived by the protocol
	// layer, and initiator distinguishes the nonce-parity role. A second
	// Init call on an already-initialized peer performs a rekey: the
	// previous session is kept, superseded, for decrypt only until
	// key_valid_old elapses.
	Init(d *Device, peer *Peer, key []byte, initiator bool) error

	// HandleRecv decrypts an inbound data packet (with the common header
	// already stripped is NOT assumed: methods receive the full buffer,
	// including COMMON_HEADBYTES, and are responsible for stripping it).
	HandleRecv(d *Device, peer *Peer, buf *Buffer) error

	// Send encrypts an outbound payload buffer in place and hands the
	// result to the device for transmission.
	Send(d *Device, peer *Peer, buf *Buffer) error

	FreePeerState(peer *Peer)
}

// methodRegistry maps method names to factories, so the method used for a
// peer is selected at configuration/negotiation time rather than compile
// time (spec §9 Design Notes).
type methodRegistry struct {
	factories map[string]func() Method
	order     []string // registration order, used as local method-list order
}

func newMethodRegistry() *methodRegistry {
	return &methodRegistry{factories: make(map[string]func() Method)}
}

func (r *methodRegistry) register(name string, factory func() Method) {
	if _, exists := r.factories[name]; !exists {
		r.order = append(r.order, name)
	}
	r.factories[name] = factory
}

func (r *methodRegistry) get(name string) (Method, bool) {
	f, ok := r.factories[name]
	if !ok {
		return nil, false
	}
	return f(), true
}

func (r *methodRegistry) names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// putCommonHeader prepends flags||nonce to buf (spec §4.5
// fastd_method_put_common_header).
func putCommonHeader(buf *Buffer, nonce [commonNonceBytes]byte, flags byte) {
	buf.PullHeadFrom(nonce[:])
	buf.PullHeadFrom([]byte{flags})
}

// takeCommonHeader strips and returns flags||nonce from the front of buf
// (spec §4.5 fastd_method_take_common_header). Buffers shorter than
// CommonHeadBytes are a short packet, not a programming bug.
func takeCommonHeader(buf *Buffer) (nonce [commonNonceBytes]byte, flags byte, err error) {
	if buf.Len() < CommonHeadBytes {
		return nonce, 0, errShortPacket
	}
	var fb [1]byte
	buf.PushHeadTo(fb[:])
	buf.PushHeadTo(nonce[:])
	return nonce, fb[0], nil
}
