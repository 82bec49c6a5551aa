package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendGrows(t *testing.T) {
	b := New(2)
	b.Append([]byte("hello"))
	require.Equal(t, []byte("hello"), b.Bytes())
	require.GreaterOrEqual(t, b.Cap(), 5)
}

func TestTrimLeft(t *testing.T) {
	b := FromBytes([]byte("abcdef"))
	b.TrimLeft(2)
	require.Equal(t, []byte("cdef"), b.Bytes())

	b.TrimLeft(100)
	require.Equal(t, 0, b.Len())
}

func TestResetKeepsCapacity(t *testing.T) {
	b := New(16)
	b.Append([]byte("12345"))
	cap0 := b.Cap()
	b.Reset()
	require.Equal(t, 0, b.Len())
	require.Equal(t, cap0, b.Cap())
}

func TestCloneIndependent(t *testing.T) {
	b := FromBytes([]byte("xyz"))
	c := b.Clone()
	c.Append([]byte("w"))
	require.Equal(t, []byte("xyz"), b.Bytes())
	require.Equal(t, []byte("xyzw"), c.Bytes())
}
