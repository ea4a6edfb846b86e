/*
  Copyright (c) 2012-2014, Matthias Schiffer <mschiffer@universe-factory.net>
  All rights reserved.
*/

package main

import (
	"bytes"
	"encoding/binary"
)

// Record type constants (spec §3 Handshake record). Exact numbering
// matters for wire compatibility.
const (
	RecordHandshakeType = 0
	RecordReplyCode     = 1
	RecordErrorDetail   = 2
	RecordFlags         = 3
	RecordMode          = 4
	RecordProtocolName  = 5
	// 6..10: protocol-specific slots, opaque to the core.
	RecordMTU         = 11
	RecordMethodName  = 12
	RecordVersionName = 13
	RecordMethodList  = 14
	RecordTLVMAC      = 15

	RecordMax = 16
)

var recordTypeNames = [RecordMax]string{
	"handshake type",
	"reply code",
	"error detail",
	"flags",
	"mode",
	"protocol name",
	"(protocol specific 1)",
	"(protocol specific 2)",
	"(protocol specific 3)",
	"(protocol specific 4)",
	"(protocol specific 5)",
	"MTU",
	"method name",
	"version name",
	"method list",
	"TLV message authentication code",
}

func recordName(recordType int) string {
	if recordType < 0 || recordType >= RecordMax {
		return "<unknown>"
	}
	return recordTypeNames[recordType]
}

// Handshake types (record 0 values).
const (
	HandshakeInit   = 1
	HandshakeReply  = 2
	HandshakeFinish = 3
)

// Reply codes (record 1 values).
const (
	ReplySuccess           = 0
	ReplyMandatoryMissing  = 1
	ReplyUnacceptableValue = 2
)

const (
	modeTAP = 0
	modeTUN = 1
)

// handshakePacketHeaderLen is the 4-byte fixed header: reserved(1) ||
// tlv_len(2, LE) || reserved(1).
const handshakePacketHeaderLen = 4

// HandshakeRecord holds a decoded TLV value.
type HandshakeRecord struct {
	present bool
	data    []byte
}

func (r HandshakeRecord) Len() int { return len(r.data) }

func (r HandshakeRecord) Bytes() []byte { return r.data }

func (r HandshakeRecord) Uint8() (uint8, bool) {
	if !r.present || len(r.data) != 1 {
		return 0, false
	}
	return r.data[0], true
}

func (r HandshakeRecord) Uint16() (uint16, bool) {
	if !r.present || len(r.data) != 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(r.data), true
}

func (r HandshakeRecord) String() string { return string(r.data) }

// Handshake is the parsed form of a handshake packet (spec §3, §4.4).
type Handshake struct {
	Type    uint8
	Records [RecordMax]HandshakeRecord
}

// HandshakeBuilder accumulates records into an encoded packet, matching the
// teacher's TLV layout: records appear in the order written, and a later
// write of the same type overwrites the earlier one on decode (not on
// encode -- encode simply appends, like fastd_handshake_add).
type HandshakeBuilder struct {
	buf bytes.Buffer
}

func NewHandshakeBuilder() *HandshakeBuilder {
	hb := &HandshakeBuilder{}
	hb.buf.Write([]byte{0, 0, 0, 0}) // placeholder header
	return hb
}

func (hb *HandshakeBuilder) add(recordType int, value []byte) {
	var hdr [4]byte
	binary.LittleEndian.PutUint16(hdr[0:2], uint16(recordType))
	binary.LittleEndian.PutUint16(hdr[2:4], uint16(len(value)))
	hb.buf.Write(hdr[:])
	hb.buf.Write(value)
}

func (hb *HandshakeBuilder) AddUint8(recordType int, v uint8) {
	hb.add(recordType, []byte{v})
}

func (hb *HandshakeBuilder) AddUint16(recordType int, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	hb.add(recordType, b[:])
}

func (hb *HandshakeBuilder) AddString(recordType int, s string) {
	hb.add(recordType, []byte(s))
}

func (hb *HandshakeBuilder) AddBytes(recordType int, b []byte) {
	hb.add(recordType, b)
}

// Finish fills in the 4-byte header and returns the complete packet.
func (hb *HandshakeBuilder) Finish() []byte {
	out := hb.buf.Bytes()
	tlvLen := len(out) - handshakePacketHeaderLen
	out[0] = 0
	binary.LittleEndian.PutUint16(out[1:3], uint16(tlvLen))
	out[3] = 0
	return out
}

// encodeMethodList joins method names with NUL separators and no trailing
// terminator (spec §3 record 14; original_source/src/handshake.c
// create_method_list).
func encodeMethodList(names []string) []byte {
	if len(names) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for i, n := range names {
		if i > 0 {
			buf.WriteByte(0)
		}
		buf.WriteString(n)
	}
	return buf.Bytes()
}

// decodeMethodList splits a NUL-separated method-list record
// (original_source/src/handshake.c parse_string_list).
func decodeMethodList(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	parts := bytes.Split(data, []byte{0})
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = string(p)
	}
	return out
}

// DecodeHandshake parses a handshake packet (spec §4.4 Decoding). It parses
// records while ptr+4 <= end and ptr+4+len <= end, silently stopping at
// malformed trailers ("short handshake"). Records with type >= RecordMax
// are ignored. Returns (nil, errShortPacket) if the packet is too short to
// contain even the fixed header, or if a non-zero tlv_len in that header
// runs past the end of the packet.
func DecodeHandshake(packet []byte) (*Handshake, error) {
	if len(packet) < handshakePacketHeaderLen {
		return nil, errShortPacket
	}

	tlvLen := int(binary.LittleEndian.Uint16(packet[1:3]))
	end := len(packet)
	if tlvLen > 0 {
		if handshakePacketHeaderLen+tlvLen > len(packet) {
			return nil, errShortPacket
		}
		end = handshakePacketHeaderLen + tlvLen
	}

	h := &Handshake{}
	ptr := handshakePacketHeaderLen
	for ptr+4 <= end {
		recordType := int(binary.LittleEndian.Uint16(packet[ptr : ptr+2]))
		recordLen := int(binary.LittleEndian.Uint16(packet[ptr+2 : ptr+4]))
		if ptr+4+recordLen > end {
			break // malformed trailer: stop silently
		}
		if recordType < RecordMax {
			h.Records[recordType] = HandshakeRecord{present: true, data: packet[ptr+4 : ptr+4+recordLen]}
		}
		ptr += 4 + recordLen
	}

	if v, ok := h.Records[RecordHandshakeType].Uint8(); ok {
		h.Type = v
	}

	return h, nil
}

// newHandshakeCore is shared by NewInit and NewReply (original_source's
// new_handshake). method may be nil.
func newHandshakeCore(ourConf *Config, handshakeType uint8, method Method, withMethodList bool) *HandshakeBuilder {
	hb := NewHandshakeBuilder()
	hb.AddUint8(RecordHandshakeType, handshakeType)
	hb.AddUint8(RecordMode, ourConf.modeByte())
	hb.AddUint16(RecordMTU, ourConf.MTU)
	hb.AddString(RecordVersionName, daemonVersion)
	hb.AddString(RecordProtocolName, protocolName)

	if method != nil && (!withMethodList || !ourConf.SecureHandshakes) {
		hb.AddString(RecordMethodName, method.Name())
	}
	if withMethodList {
		hb.AddBytes(RecordMethodList, encodeMethodList(ourConf.methodNames))
	}
	return hb
}

// NewInit builds a type=1 handshake-init packet (spec §4.4 Reply
// construction; original_source's fastd_handshake_new_init). Under
// secure_handshakes the init omits a concrete method name and sends only
// the method list.
func NewInit(conf *Config) []byte {
	hb := newHandshakeCore(conf, HandshakeInit, nil, !conf.SecureHandshakes)
	return hb.Finish()
}

// NewReply builds a reply packet of type req.Type+1 (spec §4.4 Reply
// construction). method may be nil only for non-success replies, which are
// built by NewErrorReply instead.
func NewReply(conf *Config, reqType uint8, method Method, withMethodList bool) []byte {
	hb := newHandshakeCore(conf, reqType+1, method, withMethodList)
	hb.AddUint8(RecordReplyCode, ReplySuccess)
	return hb.Finish()
}

// NewErrorReply builds a non-success reply carrying only handshake-type,
// reply-code and error-detail (spec §4.4).
func NewErrorReply(reqType uint8, replyCode uint8, errorDetail int) []byte {
	hb := NewHandshakeBuilder()
	hb.AddUint8(RecordHandshakeType, reqType+1)
	hb.AddUint8(RecordReplyCode, replyCode)
	hb.AddUint8(RecordErrorDetail, uint8(errorDetail))
	return hb.Finish()
}
