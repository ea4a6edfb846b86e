package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMethodCommonNonceParityByRole(t *testing.T) {
	now := time.Unix(0, 0)
	initiator := newMethodCommon(true, now, time.Hour, time.Minute)
	responder := newMethodCommon(false, now, time.Hour, time.Minute)

	require.True(t, initiator.isInitiator())
	require.False(t, responder.isInitiator())
	require.EqualValues(t, 1, initiator.sendNonce[commonNonceBytes-1])
	require.EqualValues(t, 2, responder.sendNonce[commonNonceBytes-1])
}

func TestMethodCommonNonceMonotonicIncrement(t *testing.T) {
	s := newMethodCommon(true, time.Unix(0, 0), time.Hour, time.Minute)

	var prev uint64
	for i := 0; i < 1000; i++ {
		n := s.nextSendNonce()
		v := nonceValue(n)
		if i > 0 {
			require.Greater(t, v, prev)
		}
		prev = v
	}
}

func TestMethodCommonNonceCarryRipple(t *testing.T) {
	s := newMethodCommon(false, time.Unix(0, 0), time.Hour, time.Minute)
	s.sendNonce = [commonNonceBytes]byte{0, 0, 0, 0, 0xff, 0xfe}

	s.incrementNonce()

	require.Equal(t, [commonNonceBytes]byte{0, 0, 0, 1, 0, 0}, s.sendNonce)
}

func TestMethodCommonAcceptsStrictlyGreaterNonce(t *testing.T) {
	s := &methodCommon{}
	s.receiveNonce = [commonNonceBytes]byte{0, 0, 0, 0, 0, 5}

	accept, age := s.isNonceValid([commonNonceBytes]byte{0, 0, 0, 0, 0, 6})
	require.True(t, accept)
	require.EqualValues(t, 0, age)
}

func TestMethodCommonRejectsDuplicateNonce(t *testing.T) {
	s := &methodCommon{}
	s.receiveNonce = [commonNonceBytes]byte{0, 0, 0, 0, 0, 5}

	accept, _ := s.isNonceValid([commonNonceBytes]byte{0, 0, 0, 0, 0, 5})
	require.False(t, accept)
}

func TestMethodCommonAcceptsOneReorderWithinWindowOnce(t *testing.T) {
	s := &methodCommon{}
	s.receiveNonce = [commonNonceBytes]byte{0, 0, 0, 0, 0, 10}

	late := [commonNonceBytes]byte{0, 0, 0, 0, 0, 9}

	accept, age := s.isNonceValid(late)
	require.True(t, accept)
	require.EqualValues(t, 1, age)
	s.reorderCheck(late, age)

	accept2, _ := s.isNonceValid(late)
	require.False(t, accept2, "a nonce already accepted in the reorder window must not be accepted twice")
}

func TestMethodCommonRejectsNonceOutsideReorderWindow(t *testing.T) {
	s := &methodCommon{}
	s.receiveNonce = [commonNonceBytes]byte{0, 0, 0, 0, 0, 200}

	tooOld := [commonNonceBytes]byte{0, 0, 0, 0, 0, 200 - reorderWindowSize - 1}
	accept, _ := s.isNonceValid(tooOld)
	require.False(t, accept)
}

func TestMethodCommonReorderCheckAdvancesHighWaterMark(t *testing.T) {
	s := &methodCommon{}
	s.receiveNonce = [commonNonceBytes]byte{0, 0, 0, 0, 0, 10}
	s.receiveReorderSeen = 0b11

	ahead := [commonNonceBytes]byte{0, 0, 0, 0, 0, 13}
	accept, age := s.isNonceValid(ahead)
	require.True(t, accept)
	require.EqualValues(t, 0, age)

	s.reorderCheck(ahead, age)
	require.Equal(t, ahead, s.receiveNonce)
	require.EqualValues(t, 0b11100, s.receiveReorderSeen)
}

func TestMethodCommonIsValidRejectsNearWrap(t *testing.T) {
	s := newMethodCommon(true, time.Unix(0, 0), time.Hour, time.Minute)
	s.sendNonce[0] = 0xff
	s.sendNonce[1] = 0xff

	require.False(t, s.isValid(time.Unix(0, 0)))
}

func TestMethodCommonWantsRefreshOnlyForInitiatorPastDeadline(t *testing.T) {
	now := time.Unix(1000, 0)
	initiator := newMethodCommon(true, now, time.Hour, time.Minute)
	responder := newMethodCommon(false, now, time.Hour, time.Minute)

	past := now.Add(2 * time.Hour)
	require.True(t, initiator.wantsRefresh(past))
	require.False(t, responder.wantsRefresh(past), "only the initiator side proactively rekeys")
}

func TestMethodCommonSupersedeClampsValidity(t *testing.T) {
	now := time.Unix(0, 0)
	s := newMethodCommon(false, now, time.Hour, time.Minute)

	s.supersede(now, 5*time.Second)
	require.Equal(t, now.Add(5*time.Second), s.validTill)
}
