package stl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStack(t *testing.T) {
	s := NewStack[int](2)
	_, err := s.Pop()
	require.ErrorIs(t, err, ErrEmptyStack)

	s.Push(1)
	s.Push(2)
	s.Push(3)
	require.Equal(t, 3, s.Len())

	top, err := s.Top()
	require.NoError(t, err)
	require.Equal(t, 3, top)

	for want := 3; want > 0; want-- {
		v, err := s.Pop()
		require.NoError(t, err)
		require.Equal(t, want, v)
	}
	require.Equal(t, 0, s.Len())
}
