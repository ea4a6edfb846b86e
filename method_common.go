/*
  Copyright (c) 2012-2014, Matthias Schiffer <mschiffer@universe-factory.net>
  All rights reserved.
*/

package main

import "time"

const (
	commonNonceBytes = 6
	commonFlagBytes  = 1
	// CommonHeadBytes is the header every method prepends: flags || nonce.
	CommonHeadBytes = commonNonceBytes + commonFlagBytes

	reorderWindowSize = 64
)

// methodCommon is the per-session nonce/replay state shared by every
// method implementation (spec §3 Method session, §4.5).
type methodCommon struct {
	validTill    time.Time
	refreshAfter time.Time

	sendNonce    [commonNonceBytes]byte
	receiveNonce [commonNonceBytes]byte

	receiveReorderSeen uint64
}

// newMethodCommon initializes a fresh session. The low bit of byte 5 of
// sendNonce distinguishes initiator (odd, starts at 1) from responder
// (even, starts at 2).
func newMethodCommon(initiator bool, now time.Time, keyValid, keyValidOld time.Duration) *methodCommon {
	s := &methodCommon{
		validTill:    now.Add(keyValid),
		refreshAfter: now.Add(keyValid - keyValidOld),
	}
	// The first nonce each role sends carries its parity tag directly (1
	// for the initiator, 2 for the responder — the responder's first
	// usable value, since 0 never appears on the wire): incrementNonce
	// adds 2 for every subsequent packet.
	if initiator {
		s.sendNonce[commonNonceBytes-1] = 1
	} else {
		s.sendNonce[commonNonceBytes-1] = 2
	}
	return s
}

func (s *methodCommon) isInitiator() bool {
	return s.sendNonce[commonNonceBytes-1]&1 != 0
}

// incrementNonce adds 2 to byte 5 (preserving the initiator/responder
// parity bit) and ripples the carry leftward through bytes 4..0, matching
// the teacher's fastd_method_increment_nonce.
func (s *methodCommon) incrementNonce() {
	s.sendNonce[commonNonceBytes-1] += 2

	if s.sendNonce[commonNonceBytes-1]&^1 == 0 {
		for i := commonNonceBytes - 2; i >= 0; i-- {
			s.sendNonce[i]++
			if s.sendNonce[i] != 0 {
				break
			}
		}
	}
}

// nextSendNonce returns the nonce to use for the next outgoing packet and
// advances the counter by 2 for the one after that.
func (s *methodCommon) nextSendNonce() [commonNonceBytes]byte {
	n := s.sendNonce
	s.incrementNonce()
	return n
}

// isValid reports whether the session is usable for sending: the nonce has
// not wrapped and valid_till has not passed (spec §3, §4.5).
func (s *methodCommon) isValid(now time.Time) bool {
	if s.sendNonce[0] == 0xff && s.sendNonce[1] == 0xff {
		return false
	}
	return now.Before(s.validTill)
}

// wantsRefresh reports wrap-imminence or (for the initiator) passing
// refresh_after (spec §3, §4.5).
func (s *methodCommon) wantsRefresh(now time.Time) bool {
	if s.sendNonce[0] == 0xff {
		return true
	}
	return s.isInitiator() && !now.Before(s.refreshAfter)
}

// supersede clamps valid_till to now+keyValidOld, used when a new session
// replaces this one (spec §4.7 rekey: "the old session is marked superseded
// and remains usable for decrypt until key_valid_old elapses").
func (s *methodCommon) supersede(now time.Time, keyValidOld time.Duration) {
	max := now.Add(keyValidOld)
	if s.validTill.After(max) {
		s.validTill = max
	}
}

// nonceValue interprets a 48-bit big-endian-style nonce as an integer for
// comparison purposes.
func nonceValue(n [commonNonceBytes]byte) uint64 {
	var v uint64
	for _, b := range n {
		v = v<<8 | uint64(b)
	}
	return v
}

// isNonceValid implements the replay/reorder check of spec §4.5: strictly
// greater nonces are always accepted (age 0); nonces within the reorder
// window behind the current high-water mark are accepted once (the
// corresponding bit must be clear); anything else is rejected.
func (s *methodCommon) isNonceValid(nonce [commonNonceBytes]byte) (accept bool, age int64) {
	cur := nonceValue(s.receiveNonce)
	got := nonceValue(nonce)

	if got > cur {
		return true, 0
	}

	diff := cur - got
	if diff == 0 {
		return false, 0
	}
	if diff > reorderWindowSize {
		return false, 0
	}
	bit := uint64(1) << (diff - 1)
	if s.receiveReorderSeen&bit != 0 {
		return false, 0
	}
	return true, int64(diff)
}

// reorderCheck records acceptance of nonce (already validated by
// isNonceValid), shifting the bitmap and advancing receive_nonce if the
// new nonce is ahead of the previous high-water mark.
func (s *methodCommon) reorderCheck(nonce [commonNonceBytes]byte, age int64) {
	if age == 0 {
		got := nonceValue(nonce)
		cur := nonceValue(s.receiveNonce)
		delta := got - cur
		s.receiveReorderSeen <<= delta // shifts >= 64 yield 0, per Go's shift semantics
		s.receiveReorderSeen |= uint64(1) << (delta - 1) // the previous high-water mark
		s.receiveNonce = nonce
		return
	}

	s.receiveReorderSeen |= uint64(1) << (age - 1)
}
