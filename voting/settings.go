// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package voting

import (
	"errors"
	"time"

	"github.com/holiman/uint256"
)

// RatioBase is the denominator for the support threshold and minimum
// participation ratios. A ratio of RatioBase means 100%.
const RatioBase = 1_000_000

const (
	minAllowedDuration = time.Hour
	maxAllowedDuration = 365 * 24 * time.Hour
)

var (
	ErrRatioOutOfBounds       = errors.New("ratio out of bounds")
	ErrMinDurationOutOfBounds = errors.New("minimum duration out of bounds")
)

// Mode selects how ballots and execution interact for proposals created
// under a settings generation.
type Mode uint8

const (
	// Standard rejects re-votes and forbids execution before the window
	// closes.
	Standard Mode = iota

	// EarlyExecution rejects re-votes but permits execution during the
	// window once the outcome can no longer flip.
	EarlyExecution

	// VoteReplacement lets a voter replace their ballot while the window
	// is open; execution waits for the window to close.
	VoteReplacement
)

func (m Mode) String() string {
	switch m {
	case Standard:
		return "standard"
	case EarlyExecution:
		return "earlyExecution"
	case VoteReplacement:
		return "voteReplacement"
	default:
		return "unknown"
	}
}

// Settings parameterizes proposals at creation time. Changing settings
// never affects proposals already created.
type Settings struct {
	Mode Mode

	// SupportThreshold is the ratio of yes votes, out of yes plus no,
	// that must be strictly exceeded for a proposal to pass. Expressed
	// in units of 1/RatioBase.
	SupportThreshold uint32

	// MinParticipation is the ratio of the total voting power that must
	// have voted, in units of 1/RatioBase.
	MinParticipation uint32

	// MinDuration is the shortest permitted voting window.
	MinDuration time.Duration

	// MinProposerPower is the voting power a proposer must hold at the
	// proposal's snapshot time.
	MinProposerPower uint256.Int
}

func (s Settings) Verify() error {
	switch {
	case s.SupportThreshold >= RatioBase:
		return ErrRatioOutOfBounds
	case s.MinParticipation > RatioBase:
		return ErrRatioOutOfBounds
	case s.MinDuration < minAllowedDuration || s.MinDuration > maxAllowedDuration:
		return ErrMinDurationOutOfBounds
	}
	return nil
}
