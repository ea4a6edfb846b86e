package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		Mode:        ModeTAP,
		MTU:         1426,
		methodNames: []string{"null", "chacha2012-poly1305"},
	}
}

func TestHandshakeRoundTrip(t *testing.T) {
	conf := testConfig()
	raw := NewInit(conf)

	h, err := DecodeHandshake(raw)
	require.NoError(t, err)
	require.EqualValues(t, HandshakeInit, h.Type)

	mode, ok := h.Records[RecordMode].Uint8()
	require.True(t, ok)
	require.EqualValues(t, modeTAP, mode)

	mtu, ok := h.Records[RecordMTU].Uint16()
	require.True(t, ok)
	require.EqualValues(t, 1426, mtu)

	require.Equal(t, protocolName, h.Records[RecordProtocolName].String())

	names := decodeMethodList(h.Records[RecordMethodList].Bytes())
	require.Equal(t, []string{"null", "chacha2012-poly1305"}, names)
}

func TestHandshakeReplyCarriesMethodName(t *testing.T) {
	conf := testConfig()
	method := newNullMethod()
	raw := NewReply(conf, HandshakeInit, method, false)

	h, err := DecodeHandshake(raw)
	require.NoError(t, err)
	require.EqualValues(t, HandshakeReply, h.Type)

	code, ok := h.Records[RecordReplyCode].Uint8()
	require.True(t, ok)
	require.EqualValues(t, ReplySuccess, code)
	require.Equal(t, method.Name(), h.Records[RecordMethodName].String())
}

func TestHandshakeErrorReplyMinimal(t *testing.T) {
	raw := NewErrorReply(HandshakeInit, ReplyUnacceptableValue, RecordMode)

	h, err := DecodeHandshake(raw)
	require.NoError(t, err)
	require.EqualValues(t, HandshakeReply, h.Type)

	code, _ := h.Records[RecordReplyCode].Uint8()
	require.EqualValues(t, ReplyUnacceptableValue, code)
	require.False(t, h.Records[RecordProtocolName].present)
}

func TestDecodeHandshakeShortPacket(t *testing.T) {
	_, err := DecodeHandshake([]byte{0, 1})
	require.ErrorIs(t, err, errShortPacket)
}

func TestDecodeHandshakeMalformedTrailerStopsSilently(t *testing.T) {
	hb := NewHandshakeBuilder()
	hb.AddUint8(RecordHandshakeType, HandshakeInit)
	packet := hb.Finish()
	// Truncate the payload so the only record's declared length overruns
	// the buffer; decoding should stop silently rather than error. The
	// header's tlv_len is rewritten to the truncated length so that only the
	// record, not the header, overruns.
	truncated := append([]byte{}, packet[:len(packet)-1]...)
	truncated[1] = byte(len(truncated) - handshakePacketHeaderLen)

	h, err := DecodeHandshake(truncated)
	require.NoError(t, err)
	require.False(t, h.Records[RecordHandshakeType].present)
}

func TestEncodeDecodeMethodListRoundTrip(t *testing.T) {
	names := []string{"salsa2012+umac", "null"}
	encoded := encodeMethodList(names)
	require.Equal(t, names, decodeMethodList(encoded))
}

func TestMethodListSelectionPicksEarliestMatchingEntry(t *testing.T) {
	conf := testConfig()
	d := &Device{config: conf, methods: newMethodRegistry()}
	d.methods.register("null", newNullMethod)
	d.methods.register("chacha2012-poly1305", newChacha20Poly1305Method)

	hb := NewHandshakeBuilder()
	hb.AddUint8(RecordHandshakeType, HandshakeInit)
	hb.AddBytes(RecordMethodList, encodeMethodList([]string{"unknown-method", "null", "chacha2012-poly1305"}))
	h, err := DecodeHandshake(hb.Finish())
	require.NoError(t, err)

	m := d.selectMethod(h)
	require.NotNil(t, m)
	require.Equal(t, "null", m.Name(), "the sender's earlier-listed known entry must win over a later one")
}
