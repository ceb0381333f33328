// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package checkpoints tracks historical voting power. Balances are
// recorded as an append-only series of (time, power) checkpoints per
// account, plus one series for the total supply of voting power. Lookups
// read the latest checkpoint at or before the queried time, so reads
// against a fixed snapshot time are immutable once that time has passed.
package checkpoints

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/ids"
)

var ErrUnorderedCheckpoint = errors.New("checkpoint time out of order")

// Checkpoint records an account's voting power from Time onward.
type Checkpoint struct {
	Time  uint64
	Power uint256.Int
}

// History holds per-account and total voting-power checkpoints. It is
// safe for concurrent use.
type History struct {
	mu       sync.RWMutex
	accounts map[ids.ShortID][]Checkpoint
	total    []Checkpoint
}

func NewHistory() *History {
	return &History{
		accounts: make(map[ids.ShortID][]Checkpoint),
	}
}

// Push records an account's voting power as of the given time. Times must
// be nondecreasing per account; pushing at the time of the latest
// checkpoint overwrites it.
func (h *History) Push(account ids.ShortID, time uint64, power *uint256.Int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	series, err := push(h.accounts[account], time, power)
	if err != nil {
		return fmt.Errorf("account %s: %w", account, err)
	}
	h.accounts[account] = series
	return nil
}

// PushTotal records the total voting power as of the given time.
func (h *History) PushTotal(time uint64, power *uint256.Int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	series, err := push(h.total, time, power)
	if err != nil {
		return err
	}
	h.total = series
	return nil
}

// PastVotingPower returns the account's power at the latest checkpoint at
// or before the given time, or zero if no such checkpoint exists.
func (h *History) PastVotingPower(account ids.ShortID, time uint64) *uint256.Int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return lookup(h.accounts[account], time)
}

// PastTotalPower returns the total power at the latest checkpoint at or
// before the given time, or zero if no such checkpoint exists.
func (h *History) PastTotalPower(time uint64) *uint256.Int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return lookup(h.total, time)
}

func push(series []Checkpoint, time uint64, power *uint256.Int) ([]Checkpoint, error) {
	if n := len(series); n > 0 {
		last := &series[n-1]
		switch {
		case time < last.Time:
			return nil, fmt.Errorf("%w: %d < %d", ErrUnorderedCheckpoint, time, last.Time)
		case time == last.Time:
			last.Power.Set(power)
			return series, nil
		}
	}
	cp := Checkpoint{Time: time}
	cp.Power.Set(power)
	return append(series, cp), nil
}

func lookup(series []Checkpoint, time uint64) *uint256.Int {
	// First checkpoint strictly after the queried time; the answer is the
	// one before it.
	i := sort.Search(len(series), func(i int) bool {
		return series[i].Time > time
	})
	if i == 0 {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(&series[i-1].Power)
}
