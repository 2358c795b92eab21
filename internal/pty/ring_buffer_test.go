package pty

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingBuffer_WrapAround(t *testing.T) {
	rb := newRingBuffer(8)
	_, err := rb.Write([]byte("abcdef"))
	require.NoError(t, err)
	_, err = rb.Write([]byte("ghij"))
	require.NoError(t, err)

	require.Equal(t, "cdefghij", string(rb.readAll()))
}

func TestRingBuffer_LargerThanCapacityKeepsTail(t *testing.T) {
	rb := newRingBuffer(4)
	_, err := rb.Write([]byte("123456789"))
	require.NoError(t, err)
	require.Equal(t, "6789", string(rb.readAll()))
}

func TestRingBuffer_EmptyReadsNothing(t *testing.T) {
	rb := newRingBuffer(16)
	require.Nil(t, rb.readAll())
}
