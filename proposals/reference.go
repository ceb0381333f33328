// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package proposals implements the proposal reference codec. A reference
// packs a proposal's voting window, home identity, and voting-power
// snapshot time into a single 256-bit correlation key. The packed key is
// the proposal ID used by the relay, the receiver, and the voting engine,
// and is the only proposal identity ever shipped across chains.
package proposals

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/ids"
)

var ErrInvalidReference = errors.New("invalid proposal reference")

// ID is a packed proposal reference: the big-endian bytes of the uint256
// correlation key. Both sides of the protocol interpret the layout
// statically; changing it is a breaking protocol change.
//
// Bit layout, most significant first:
//
//	[255..224] start time (unix seconds)
//	[223..192] end time (unix seconds)
//	[191..32]  home identity (160-bit address of the proposal's home)
//	[31..0]    snapshot time (unix seconds)
type ID [32]byte

// Uint256 returns the integer view of the packed reference.
func (id ID) Uint256() *uint256.Int {
	return new(uint256.Int).SetBytes32(id[:])
}

// IDFromUint256 returns the packed reference holding v's big-endian bytes.
func IDFromUint256(v *uint256.Int) ID {
	return ID(v.Bytes32())
}

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Reference is the unpacked form of a proposal ID.
type Reference struct {
	StartTime    uint32
	EndTime      uint32
	HomeID       ids.ShortID
	SnapshotTime uint32
}

// Verify checks the semantic field constraints shared by both chains: the
// snapshot must exist and strictly precede the voting window, and the
// window must be non-empty.
func (r Reference) Verify() error {
	switch {
	case r.SnapshotTime == 0:
		return fmt.Errorf("%w: snapshot time unset", ErrInvalidReference)
	case r.SnapshotTime >= r.StartTime:
		return fmt.Errorf("%w: snapshot time %d not before start time %d",
			ErrInvalidReference, r.SnapshotTime, r.StartTime,
		)
	case r.StartTime >= r.EndTime:
		return fmt.Errorf("%w: start time %d not before end time %d",
			ErrInvalidReference, r.StartTime, r.EndTime,
		)
	default:
		return nil
	}
}

// Encode packs the reference. The four fields fill the key exactly, so
// encoding is total; Decode enforces Verify on the way back out.
func (r Reference) Encode() ID {
	var id ID
	binary.BigEndian.PutUint32(id[0:4], r.StartTime)
	binary.BigEndian.PutUint32(id[4:8], r.EndTime)
	copy(id[8:28], r.HomeID[:])
	binary.BigEndian.PutUint32(id[28:32], r.SnapshotTime)
	return id
}

// Decode unpacks a proposal ID and verifies the recovered fields,
// returning ErrInvalidReference rather than handing back a reference that
// could never have been produced by Encode on a valid proposal.
func Decode(id ID) (Reference, error) {
	r := Reference{
		StartTime:    binary.BigEndian.Uint32(id[0:4]),
		EndTime:      binary.BigEndian.Uint32(id[4:8]),
		SnapshotTime: binary.BigEndian.Uint32(id[28:32]),
	}
	copy(r.HomeID[:], id[8:28])
	if err := r.Verify(); err != nil {
		return Reference{}, err
	}
	return r, nil
}
