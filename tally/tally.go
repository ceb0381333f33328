// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package tally implements overflow-checked arithmetic on three-way vote
// splits. Magnitudes are capped at MagnitudeBits so that the sum of the
// three fields of any well-formed tally always fits in a uint256.
package tally

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// MagnitudeBits is the width of a single vote magnitude. Three magnitudes
// of this width sum to at most 226 bits, leaving headroom for the
// threshold ratio multiplications performed by the voting engine.
const MagnitudeBits = 224

var (
	ErrOverflow  = errors.New("tally overflow")
	ErrUnderflow = errors.New("tally underflow")

	// maxMagnitude is 2^MagnitudeBits - 1.
	maxMagnitude = func() *uint256.Int {
		one := uint256.NewInt(1)
		m := new(uint256.Int).Lsh(one, MagnitudeBits)
		return m.Sub(m, one)
	}()
)

// MaxMagnitude returns the largest representable vote magnitude.
func MaxMagnitude() *uint256.Int {
	return new(uint256.Int).Set(maxMagnitude)
}

// Tally is a three-way split of voting power. The zero value is the empty
// tally. Tallies are values; operations return new tallies and never
// mutate their operands.
type Tally struct {
	Yes     uint256.Int
	No      uint256.Int
	Abstain uint256.Int
}

// New returns a tally with the given native-width magnitudes. It exists
// for callers (and tests) that never need more than 64 bits per field.
func New(yes, no, abstain uint64) Tally {
	var t Tally
	t.Yes.SetUint64(yes)
	t.No.SetUint64(no)
	t.Abstain.SetUint64(abstain)
	return t
}

// Add returns the field-wise sum a + b. It fails with ErrOverflow if any
// field of the result, or the sum of the result's fields, would exceed
// the magnitude width.
func Add(a, b Tally) (Tally, error) {
	var t Tally
	if err := addField(&t.Yes, &a.Yes, &b.Yes); err != nil {
		return Tally{}, fmt.Errorf("%w: yes", err)
	}
	if err := addField(&t.No, &a.No, &b.No); err != nil {
		return Tally{}, fmt.Errorf("%w: no", err)
	}
	if err := addField(&t.Abstain, &a.Abstain, &b.Abstain); err != nil {
		return Tally{}, fmt.Errorf("%w: abstain", err)
	}
	if t.Overflows() {
		return Tally{}, fmt.Errorf("%w: sum", ErrOverflow)
	}
	return t, nil
}

// Sub returns the field-wise difference a - b. It fails with ErrUnderflow
// if any field of b exceeds the corresponding field of a.
func Sub(a, b Tally) (Tally, error) {
	var t Tally
	if err := subField(&t.Yes, &a.Yes, &b.Yes); err != nil {
		return Tally{}, fmt.Errorf("%w: yes", err)
	}
	if err := subField(&t.No, &a.No, &b.No); err != nil {
		return Tally{}, fmt.Errorf("%w: no", err)
	}
	if err := subField(&t.Abstain, &a.Abstain, &b.Abstain); err != nil {
		return Tally{}, fmt.Errorf("%w: abstain", err)
	}
	return t, nil
}

// Sum returns yes + no + abstain. It fails with ErrOverflow if the total
// exceeds the magnitude width, even when every individual field fits.
func (t Tally) Sum() (*uint256.Int, error) {
	sum := new(uint256.Int)
	if _, carry := sum.AddOverflow(&t.Yes, &t.No); carry {
		return nil, ErrOverflow
	}
	if _, carry := sum.AddOverflow(sum, &t.Abstain); carry {
		return nil, ErrOverflow
	}
	if sum.Gt(maxMagnitude) {
		return nil, ErrOverflow
	}
	return sum, nil
}

// Overflows reports whether Sum would fail for this tally. Callers use it
// to validate untrusted input before committing any state change.
func (t Tally) Overflows() bool {
	_, err := t.Sum()
	return err != nil
}

// Eq reports whether the two tallies are field-wise equal.
func (t Tally) Eq(o Tally) bool {
	return t.Yes.Eq(&o.Yes) && t.No.Eq(&o.No) && t.Abstain.Eq(&o.Abstain)
}

// IsZero reports whether every field is zero. It inspects the fields
// directly rather than going through Sum, which can fail on oversized
// input.
func (t Tally) IsZero() bool {
	return t.Yes.IsZero() && t.No.IsZero() && t.Abstain.IsZero()
}

// Div returns the tally with every field divided by d. Division by zero
// yields the zero tally, matching uint256 semantics.
func (t Tally) Div(d uint64) Tally {
	var (
		out Tally
		div = uint256.NewInt(d)
	)
	out.Yes.Div(&t.Yes, div)
	out.No.Div(&t.No, div)
	out.Abstain.Div(&t.Abstain, div)
	return out
}

func (t Tally) String() string {
	return fmt.Sprintf("Tally{yes=%s no=%s abstain=%s}",
		t.Yes.Dec(), t.No.Dec(), t.Abstain.Dec(),
	)
}

func addField(z, x, y *uint256.Int) error {
	if _, carry := z.AddOverflow(x, y); carry || z.Gt(maxMagnitude) {
		return ErrOverflow
	}
	return nil
}

func subField(z, x, y *uint256.Int) error {
	if _, borrow := z.SubOverflow(x, y); borrow {
		return ErrUnderflow
	}
	return nil
}
