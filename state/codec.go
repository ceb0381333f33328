// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"errors"
	"math"

	"github.com/luxfi/codec"
	"github.com/luxfi/codec/linearcodec"

	"github.com/luxfi/govern/tally"
)

const CodecVersion = 0

var Codec codec.Manager

func init() {
	Codec = codec.NewManager(math.MaxInt)
	lc := linearcodec.NewDefault()

	err := errors.Join(
		lc.RegisterType(&tallyRecord{}),
		Codec.RegisterCodec(CodecVersion, lc),
	)
	if err != nil {
		panic(err)
	}
}

// tallyRecord is the on-disk form of a tally.
type tallyRecord struct {
	Yes     [32]byte `serialize:"true"`
	No      [32]byte `serialize:"true"`
	Abstain [32]byte `serialize:"true"`
}

func marshalTally(t tally.Tally) ([]byte, error) {
	return Codec.Marshal(CodecVersion, &tallyRecord{
		Yes:     t.Yes.Bytes32(),
		No:      t.No.Bytes32(),
		Abstain: t.Abstain.Bytes32(),
	})
}

func unmarshalTally(b []byte) (tally.Tally, error) {
	record := &tallyRecord{}
	if _, err := Codec.Unmarshal(b, record); err != nil {
		return tally.Tally{}, err
	}
	var t tally.Tally
	t.Yes.SetBytes32(record.Yes[:])
	t.No.SetBytes32(record.No[:])
	t.Abstain.SetBytes32(record.Abstain[:])
	return t, nil
}
