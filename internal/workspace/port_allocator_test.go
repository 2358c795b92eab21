package workspace

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPortAllocator_LowestUnusedFirst(t *testing.T) {
	p := NewPortAllocator(42200, 42209)

	a, err := p.Allocate("a")
	require.NoError(t, err)
	b, err := p.Allocate("b")
	require.NoError(t, err)

	require.NotEqual(t, a, b)
	require.Less(t, a, b)
	require.GreaterOrEqual(t, a, 42200)
	require.LessOrEqual(t, b, 42209)
}

func TestPortAllocator_SeedPreventsReuseAcrossRestart(t *testing.T) {
	p := NewPortAllocator(42210, 42219)
	p.Seed(map[string]int{"existing": 42210})

	got, err := p.Allocate("fresh")
	require.NoError(t, err)
	require.NotEqual(t, 42210, got)

	port, ok := p.PortFor("existing")
	require.True(t, ok)
	require.Equal(t, 42210, port)
}

func TestPortAllocator_ReleaseMakesPortReusable(t *testing.T) {
	p := NewPortAllocator(42220, 42229)

	a, err := p.Allocate("a")
	require.NoError(t, err)
	p.Release(a)

	b, err := p.Allocate("b")
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestPortAllocator_ExhaustionReturnsError(t *testing.T) {
	p := NewPortAllocator(42230, 42231)

	_, err := p.Allocate("a")
	require.NoError(t, err)
	_, err = p.Allocate("b")
	require.NoError(t, err)

	_, err = p.Allocate("c")
	require.Error(t, err)
	require.Contains(t, err.Error(), "NO_PORTS_AVAILABLE")
}
