package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConcat(t *testing.T) {
	a := NewVolume(2, 2, 2, 1)
	b := NewVolume(1, 2, 2, 1)
	b.Data[0] = 7

	out, err := Concat(a, b)
	require.NoError(t, err)
	require.Equal(t, "[3 2 2 1]", out.String())
	require.Equal(t, 7.0, out.At(2, 0, 0, 0))

	out, err = Concat(nil, b)
	require.NoError(t, err)
	require.Equal(t, b.Data, out.Data)

	out, err = Concat(a, nil)
	require.NoError(t, err)
	require.Equal(t, "[2 2 2 1]", out.String())

	out, err = Concat(nil, nil)
	require.NoError(t, err)
	require.Nil(t, out)

	_, err = Concat(a, NewVolume(1, 3, 2, 1))
	require.ErrorIs(t, err, ErrShapeMismatch)
}
