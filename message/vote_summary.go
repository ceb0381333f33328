// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package message defines the cross-chain vote summary wire format. A
// summary carries a packed proposal reference and one three-way tally,
// each magnitude as a 256-bit big-endian integer. Summaries are full
// snapshots of a relay's aggregate, never increments, so re-delivery and
// reordering across origins are harmless.
package message

import (
	"errors"
	"fmt"

	"github.com/luxfi/govern/proposals"
	"github.com/luxfi/govern/tally"
)

var ErrTallyTooWide = errors.New("tally magnitude exceeds vote width")

// VoteSummary is the only payload shipped between the relay and the
// receiver.
type VoteSummary struct {
	Reference [32]byte `serialize:"true" json:"reference"`
	Yes       [32]byte `serialize:"true" json:"yes"`
	No        [32]byte `serialize:"true" json:"no"`
	Abstain   [32]byte `serialize:"true" json:"abstain"`
}

// NewVoteSummary builds a summary from a proposal ID and its current
// aggregate tally.
func NewVoteSummary(id proposals.ID, t tally.Tally) *VoteSummary {
	return &VoteSummary{
		Reference: id,
		Yes:       t.Yes.Bytes32(),
		No:        t.No.Bytes32(),
		Abstain:   t.Abstain.Bytes32(),
	}
}

// ProposalID returns the packed proposal reference. The caller decodes
// and verifies it via the proposals package.
func (s *VoteSummary) ProposalID() proposals.ID {
	return s.Reference
}

// Tally recovers the shipped tally, rejecting any magnitude wider than
// the vote width. The probe runs before any caller state is touched.
func (s *VoteSummary) Tally() (tally.Tally, error) {
	var t tally.Tally
	t.Yes.SetBytes32(s.Yes[:])
	t.No.SetBytes32(s.No[:])
	t.Abstain.SetBytes32(s.Abstain[:])

	max := tally.MaxMagnitude()
	switch {
	case t.Yes.Gt(max):
		return tally.Tally{}, fmt.Errorf("%w: yes", ErrTallyTooWide)
	case t.No.Gt(max):
		return tally.Tally{}, fmt.Errorf("%w: no", ErrTallyTooWide)
	case t.Abstain.Gt(max):
		return tally.Tally{}, fmt.Errorf("%w: abstain", ErrTallyTooWide)
	}
	if t.Overflows() {
		return tally.Tally{}, fmt.Errorf("%w: sum", ErrTallyTooWide)
	}
	return t, nil
}

// Bytes serializes the summary for the messaging layer.
func (s *VoteSummary) Bytes() ([]byte, error) {
	return Codec.Marshal(CodecVersion, s)
}

// ParseVoteSummary deserializes a summary delivered by the messaging
// layer.
func ParseVoteSummary(b []byte) (*VoteSummary, error) {
	summary := &VoteSummary{}
	if _, err := Codec.Unmarshal(b, summary); err != nil {
		return nil, err
	}
	return summary, nil
}

func (s *VoteSummary) String() string {
	return fmt.Sprintf("VoteSummary{proposal=%s}", s.ProposalID())
}
