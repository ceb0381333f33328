// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package tally

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestAddSubRoundTrip(t *testing.T) {
	require := require.New(t)

	a := New(100, 200, 300)
	b := New(7, 11, 13)

	sum, err := Add(a, b)
	require.NoError(err)

	back, err := Sub(sum, b)
	require.NoError(err)
	require.True(a.Eq(back))
}

func TestAddOverflow(t *testing.T) {
	tests := []struct {
		name string
		a    Tally
		b    Tally
		err  error
	}{
		{
			name: "field overflow",
			a:    Tally{Yes: *MaxMagnitude()},
			b:    New(1, 0, 0),
			err:  ErrOverflow,
		},
		{
			name: "sum overflow with fitting fields",
			a:    Tally{Yes: *MaxMagnitude()},
			b:    New(0, 1, 0),
			err:  ErrOverflow,
		},
		{
			name: "no overflow",
			a:    New(1, 2, 3),
			b:    New(4, 5, 6),
			err:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Add(tt.a, tt.b)
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestSubUnderflow(t *testing.T) {
	require := require.New(t)

	_, err := Sub(New(1, 10, 10), New(2, 0, 0))
	require.ErrorIs(err, ErrUnderflow)

	out, err := Sub(New(5, 5, 5), New(5, 5, 5))
	require.NoError(err)
	require.True(out.IsZero())
}

func TestSumOverflowProbe(t *testing.T) {
	require := require.New(t)

	// Each field individually fits but the total does not.
	wide := Tally{
		Yes: *MaxMagnitude(),
		No:  *uint256.NewInt(1),
	}
	require.True(wide.Overflows())
	_, err := wide.Sum()
	require.ErrorIs(err, ErrOverflow)

	ok := New(1, 2, 3)
	require.False(ok.Overflows())
	sum, err := ok.Sum()
	require.NoError(err)
	require.Equal(uint64(6), sum.Uint64())
}

func TestIsZeroIgnoresSum(t *testing.T) {
	require := require.New(t)

	// IsZero must not report false negatives for tallies whose Sum would
	// overflow.
	wide := Tally{
		Yes:     *MaxMagnitude(),
		No:      *MaxMagnitude(),
		Abstain: *MaxMagnitude(),
	}
	require.True(wide.Overflows())
	require.False(wide.IsZero())

	require.True(Tally{}.IsZero())
}

func TestEq(t *testing.T) {
	require := require.New(t)

	require.True(New(1, 2, 3).Eq(New(1, 2, 3)))
	require.False(New(1, 2, 3).Eq(New(3, 2, 1)))
	require.True(Tally{}.Eq(New(0, 0, 0)))
}

func TestDiv(t *testing.T) {
	require := require.New(t)

	out := New(10, 21, 0).Div(2)
	require.True(out.Eq(New(5, 10, 0)))

	// Division by zero yields the zero tally.
	require.True(New(10, 21, 3).Div(0).IsZero())
}
