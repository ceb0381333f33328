// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package relay implements the voting-chain side of the protocol. Votes
// are aggregated locally per proposal; once a proposal's window has been
// closed for at least the configured delay buffer, the aggregate is
// packaged as a vote summary and handed to the messaging layer. Dispatch
// always re-sends the current aggregate, so repeated dispatches and lost
// messages converge under the receiver's last-write-wins semantics.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	safemath "github.com/luxfi/math"
	"github.com/luxfi/metric"

	"github.com/holiman/uint256"

	"github.com/luxfi/govern/authz"
	"github.com/luxfi/govern/message"
	"github.com/luxfi/govern/proposals"
	"github.com/luxfi/govern/state"
	"github.com/luxfi/govern/tally"
	"github.com/luxfi/govern/utils/timer/mockable"
)

var (
	ErrProposalNotOpen         = errors.New("proposal is not open for voting")
	ErrProposalStillOpen       = errors.New("proposal window has not been closed long enough")
	ErrInsufficientVotingPower = errors.New("insufficient voting power")
	ErrInvalidDestination = errors.New("invalid destination")

	// ErrNothingToDispatch short-circuits dispatch of an all-zero
	// aggregate. Ballots freeze when the window closes, before the
	// dispatch gate opens, so an empty summary could only repeat what
	// the receiver already holds and is dropped instead of sent.
	ErrNothingToDispatch = errors.New("no votes to dispatch")
)

// Messenger delivers an opaque payload to the destination chain. Delivery
// may be delayed, reordered across origins, or duplicated; the protocol
// tolerates all three.
type Messenger interface {
	SendVoteSummary(ctx context.Context, destination ids.ID, payload []byte) error
}

// VotingPowerOracle reads a voter's checkpointed power as of a snapshot
// time on the voting chain.
type VotingPowerOracle interface {
	PastVotingPower(account ids.ShortID, time uint64) *uint256.Int
}

type Config struct {
	Log        log.Logger
	Authorizer authz.Authorizer
	Oracle     VotingPowerOracle
	Messenger  Messenger

	// Store is optional; when set, accepted ballots and aggregates are
	// written through and reloaded on construction.
	Store *state.Store

	// Registerer is optional; when set, relay metrics are registered on
	// it.
	Registerer metric.Registerer

	Clock *mockable.Clock

	// Destination is the default destination chain for dispatch.
	Destination ids.ID

	// DelayBuffer is the minimum time a proposal window must have been
	// closed before its aggregate may be dispatched.
	DelayBuffer time.Duration
}

// proposalVotes tracks one proposal's ballots. The aggregate is always
// exactly the sum of the stored per-voter tallies.
type proposalVotes struct {
	voters    map[ids.ShortID]tally.Tally
	aggregate tally.Tally
}

type Relay struct {
	log       log.Logger
	auth      authz.Authorizer
	oracle    VotingPowerOracle
	messenger Messenger
	store     *state.Store
	clk       *mockable.Clock
	metrics   *relayMetrics

	mu          sync.RWMutex
	destination ids.ID
	delayBuffer time.Duration
	proposals   map[proposals.ID]*proposalVotes
}

func New(cfg Config) (*Relay, error) {
	switch {
	case cfg.Authorizer == nil:
		return nil, errors.New("relay requires an authorizer")
	case cfg.Oracle == nil:
		return nil, errors.New("relay requires a voting power oracle")
	case cfg.Messenger == nil:
		return nil, errors.New("relay requires a messenger")
	}
	if cfg.Log == nil {
		cfg.Log = log.NoLog{}
	}
	if cfg.Clock == nil {
		cfg.Clock = &mockable.Clock{}
	}

	m, err := newRelayMetrics(cfg.Registerer)
	if err != nil {
		return nil, err
	}

	r := &Relay{
		log:         cfg.Log,
		auth:        cfg.Authorizer,
		oracle:      cfg.Oracle,
		messenger:   cfg.Messenger,
		store:       cfg.Store,
		clk:         cfg.Clock,
		metrics:     m,
		destination: cfg.Destination,
		delayBuffer: cfg.DelayBuffer,
		proposals:   make(map[proposals.ID]*proposalVotes),
	}
	if cfg.Store != nil {
		aggregates, ballots, err := cfg.Store.LoadRelay()
		if err != nil {
			return nil, fmt.Errorf("reloading relay state: %w", err)
		}
		for id, aggregate := range aggregates {
			voters := ballots[id]
			if voters == nil {
				voters = make(map[ids.ShortID]tally.Tally)
			}
			r.proposals[id] = &proposalVotes{
				voters:    voters,
				aggregate: aggregate,
			}
		}
	}
	return r, nil
}

// Vote records or replaces the voter's ballot for the proposal. The
// proposal must be open per the local clock and the ballot must be
// covered by the voter's checkpointed power at the proposal's snapshot
// time. The aggregate update is all-or-nothing.
func (r *Relay) Vote(proposalID proposals.ID, voter ids.ShortID, t tally.Tally) error {
	ref, err := proposals.Decode(proposalID)
	if err != nil {
		return err
	}

	now := r.clk.Unix()
	if now < uint64(ref.StartTime) || now >= uint64(ref.EndTime) {
		return fmt.Errorf("%w: %s at time %d", ErrProposalNotOpen, proposalID, now)
	}

	sum, err := t.Sum()
	if err != nil {
		return err
	}
	power := r.oracle.PastVotingPower(voter, uint64(ref.SnapshotTime))
	if sum.Gt(power) {
		return fmt.Errorf("%w: voter %s has %s at snapshot %d, ballot needs %s",
			ErrInsufficientVotingPower, voter, power.Dec(), ref.SnapshotTime, sum.Dec(),
		)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	votes, ok := r.proposals[proposalID]
	if !ok {
		votes = &proposalVotes{
			voters: make(map[ids.ShortID]tally.Tally),
		}
	}

	// Replace, never accumulate: back out the voter's prior ballot before
	// applying the new one.
	withoutPrior, err := tally.Sub(votes.aggregate, votes.voters[voter])
	if err != nil {
		return err
	}
	newAggregate, err := tally.Add(withoutPrior, t)
	if err != nil {
		return err
	}

	if r.store != nil {
		// Both records commit atomically, so a reloaded relay never
		// sees a ballot without its matching aggregate.
		if err := r.store.PutRelayBallot(proposalID, voter, t); err != nil {
			r.store.Abort()
			return fmt.Errorf("persisting ballot: %w", err)
		}
		if err := r.store.PutRelayAggregate(proposalID, newAggregate); err != nil {
			r.store.Abort()
			return fmt.Errorf("persisting aggregate: %w", err)
		}
		if err := r.store.Commit(); err != nil {
			return fmt.Errorf("persisting vote: %w", err)
		}
	}

	votes.voters[voter] = t
	votes.aggregate = newAggregate
	r.proposals[proposalID] = votes

	r.metrics.ballotsCast.Inc()
	r.log.Debug("recorded ballot",
		log.Stringer("proposalID", proposalID),
		log.Stringer("voter", voter),
		log.Stringer("aggregate", newAggregate),
	)
	return nil
}

// Dispatch packages the proposal's current aggregate as a vote summary
// and hands it to the messenger. It is only permitted once the window has
// been closed for the delay buffer, and may be called any number of times
// after that; each call re-sends the current aggregate.
func (r *Relay) Dispatch(ctx context.Context, proposalID proposals.ID, destination ids.ID) error {
	ref, err := proposals.Decode(proposalID)
	if err != nil {
		return err
	}

	r.mu.RLock()
	delay := r.delayBuffer
	if destination == ids.Empty {
		destination = r.destination
	}
	votes, ok := r.proposals[proposalID]
	var aggregate tally.Tally
	if ok {
		aggregate = votes.aggregate
	}
	r.mu.RUnlock()

	deadline, err := safemath.Add(uint64(ref.EndTime), uint64(delay/time.Second))
	if err != nil {
		return err
	}
	if now := r.clk.Unix(); now < deadline {
		return fmt.Errorf("%w: dispatchable at %d, now %d", ErrProposalStillOpen, deadline, now)
	}
	if destination == ids.Empty {
		return fmt.Errorf("%w: no destination configured", ErrInvalidDestination)
	}
	if !ok || aggregate.IsZero() {
		return fmt.Errorf("%w: %s", ErrNothingToDispatch, proposalID)
	}

	payload, err := message.NewVoteSummary(proposalID, aggregate).Bytes()
	if err != nil {
		return err
	}
	if err := r.messenger.SendVoteSummary(ctx, destination, payload); err != nil {
		r.metrics.dispatchFailures.Inc()
		return fmt.Errorf("dispatching votes for %s: %w", proposalID, err)
	}

	r.metrics.summariesDispatched.Inc()
	r.log.Info("dispatched vote summary",
		log.Stringer("proposalID", proposalID),
		log.Stringer("destination", destination),
		log.Stringer("aggregate", aggregate),
	)
	return nil
}

// GetVote returns the voter's current ballot for the proposal.
func (r *Relay) GetVote(proposalID proposals.ID, voter ids.ShortID) (tally.Tally, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	votes, ok := r.proposals[proposalID]
	if !ok {
		return tally.Tally{}, false
	}
	t, ok := votes.voters[voter]
	return t, ok
}

// Aggregate returns the proposal's current local aggregate.
func (r *Relay) Aggregate(proposalID proposals.ID) (tally.Tally, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	votes, ok := r.proposals[proposalID]
	if !ok {
		return tally.Tally{}, false
	}
	return votes.aggregate, true
}

// SetDestination updates the default destination chain.
func (r *Relay) SetDestination(caller ids.ShortID, destination ids.ID) error {
	if err := r.auth.Authorize(caller, authz.ConfigureRelay); err != nil {
		return err
	}
	if destination == ids.Empty {
		return ErrInvalidDestination
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.log.Info("updated destination",
		log.Stringer("old", r.destination),
		log.Stringer("new", destination),
	)
	r.destination = destination
	return nil
}

// SetDelayBuffer updates the dispatch delay buffer.
func (r *Relay) SetDelayBuffer(caller ids.ShortID, delay time.Duration) error {
	if err := r.auth.Authorize(caller, authz.ConfigureRelay); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.log.Info("updated delay buffer",
		log.Duration("old", r.delayBuffer),
		log.Duration("new", delay),
	)
	r.delayBuffer = delay
	return nil
}

func (r *Relay) Destination() ids.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.destination
}

func (r *Relay) DelayBuffer() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.delayBuffer
}
