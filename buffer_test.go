package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferAllocLayout(t *testing.T) {
	buf := NewBuffer(10, 4, 6)
	require.Equal(t, 20, buf.Cap())
	require.Equal(t, 10, buf.Len())
	require.Equal(t, 4, buf.HeadRoom())
	require.Equal(t, 6, buf.TailRoom())
}

func TestBufferPullPushRoundTrip(t *testing.T) {
	buf := NewBuffer(10, 8, 8)
	copy(buf.Bytes(), []byte("0123456789"))

	buf.PullHead(3)
	require.Equal(t, 13, buf.Len())
	require.Equal(t, 5, buf.HeadRoom())

	buf.PushHead(3)
	require.Equal(t, 10, buf.Len())
	require.Equal(t, []byte("0123456789"), buf.Bytes())
}

func TestBufferPullHeadFromAndPushHeadTo(t *testing.T) {
	buf := NewBuffer(4, 6, 0)
	copy(buf.Bytes(), []byte("data"))

	header := []byte("HDR")
	buf.PullHeadFrom(header)
	require.Equal(t, "HDRdata", string(buf.Bytes()))

	out := make([]byte, 3)
	buf.PushHeadTo(out)
	require.Equal(t, "HDR", string(out))
	require.Equal(t, "data", string(buf.Bytes()))
}

func TestBufferPullHeadUnderflowAborts(t *testing.T) {
	buf := NewBuffer(4, 2, 0)
	require.Panics(t, func() { buf.PullHead(3) })
}

func TestBufferPushHeadOverflowAborts(t *testing.T) {
	buf := NewBuffer(4, 2, 0)
	require.Panics(t, func() { buf.PushHead(5) })
}

// property: for any sequence of valid pull/push of equal sizes, len is
// preserved and data stays within [0, cap].
func TestBufferBalanceProperty(t *testing.T) {
	sizes := []int{1, 2, 3, 5, 8, 13}
	buf := NewBuffer(32, 64, 64)
	originalLen := buf.Len()

	for _, n := range sizes {
		buf.PullHead(n)
		require.GreaterOrEqual(t, buf.data, 0)
		require.LessOrEqual(t, buf.data+buf.len, buf.Cap())
	}
	for i := len(sizes) - 1; i >= 0; i-- {
		buf.PushHead(sizes[i])
	}
	require.Equal(t, originalLen, buf.Len())
}
