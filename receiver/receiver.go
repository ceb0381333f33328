// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package receiver implements the execution-chain side of the protocol.
// Inbound vote summaries are reconciled against the checkpointed voting
// power bridged to this chain, recorded last-write-wins per origin, and
// forwarded into the governance engine as the receiver's replaced ballot.
// The handler is idempotent per origin and insensitive to the relative
// order of messages from distinct origins: the aggregate is a pure
// function of the latest-known tally per origin.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"go.uber.org/zap"

	"github.com/luxfi/govern/authz"
	"github.com/luxfi/govern/message"
	"github.com/luxfi/govern/proposals"
	"github.com/luxfi/govern/state"
	"github.com/luxfi/govern/tally"
)

var (
	ErrInsufficientVotingPower = errors.New("insufficient voting power for incoming votes")
	ErrInvalidGovernance       = errors.New("invalid governance reference")
)

// Governance is the execution-chain voting engine the receiver forwards
// into.
type Governance interface {
	// SnapshotTime returns the proposal's voting-power snapshot time, or
	// zero when the proposal is unknown.
	SnapshotTime(proposalID proposals.ID) uint64

	// Vote submits the receiver's ballot for the proposal.
	Vote(ctx context.Context, proposalID proposals.ID, voter ids.ShortID, t tally.Tally, tryEarlyExecution bool) error
}

// VotingPowerOracle reads checkpointed voting power on the execution
// chain. The receiver only ever queries its own account: the balance of
// voting power bridged to this chain, mutated exclusively by the bridge.
type VotingPowerOracle interface {
	PastVotingPower(account ids.ShortID, time uint64) *uint256.Int
}

type Config struct {
	Log        log.Logger
	Authorizer authz.Authorizer
	Oracle     VotingPowerOracle
	Governance Governance

	// Account is the receiver's own account, holder of all bridged
	// voting power on the execution chain.
	Account ids.ShortID

	// Store is optional; when set, accepted summaries are written
	// through and reloaded on construction.
	Store *state.Store

	// Registerer is optional; when set, receiver metrics are registered
	// on it.
	Registerer metric.Registerer
}

// proposalTallies tracks one proposal's inbound votes. The aggregate is
// always exactly the sum of the per-origin tallies.
type proposalTallies struct {
	byOrigin  map[ids.ID]tally.Tally
	aggregate tally.Tally
}

type Receiver struct {
	log     log.Logger
	auth    authz.Authorizer
	oracle  VotingPowerOracle
	store   *state.Store
	account ids.ShortID
	metrics *receiverMetrics

	mu        sync.RWMutex
	gov       Governance
	proposals map[proposals.ID]*proposalTallies
}

func New(cfg Config) (*Receiver, error) {
	switch {
	case cfg.Authorizer == nil:
		return nil, errors.New("receiver requires an authorizer")
	case cfg.Oracle == nil:
		return nil, errors.New("receiver requires a voting power oracle")
	case cfg.Governance == nil:
		return nil, ErrInvalidGovernance
	case cfg.Account == ids.ShortEmpty:
		return nil, errors.New("receiver requires an account")
	}
	if cfg.Log == nil {
		cfg.Log = log.NoLog{}
	}

	m, err := newReceiverMetrics(cfg.Registerer)
	if err != nil {
		return nil, err
	}

	r := &Receiver{
		log:       cfg.Log,
		auth:      cfg.Authorizer,
		oracle:    cfg.Oracle,
		store:     cfg.Store,
		account:   cfg.Account,
		metrics:   m,
		gov:       cfg.Governance,
		proposals: make(map[proposals.ID]*proposalTallies),
	}
	if cfg.Store != nil {
		aggregates, byOrigin, err := cfg.Store.LoadReceiver()
		if err != nil {
			return nil, fmt.Errorf("reloading receiver state: %w", err)
		}
		for id, aggregate := range aggregates {
			origins := byOrigin[id]
			if origins == nil {
				origins = make(map[ids.ID]tally.Tally)
			}
			r.proposals[id] = &proposalTallies{
				byOrigin:  origins,
				aggregate: aggregate,
			}
		}
	}
	return r, nil
}

// HasEnoughVotingPowerForNewVotes reports whether the incoming tally is
// individually coverable by the voting power bridged to this chain as of
// the proposal's snapshot time. It never consults previously stored
// aggregates: cross-origin double counting is bounded by conservation of
// the bridged supply, enforced by the bridge rather than here.
func (r *Receiver) HasEnoughVotingPowerForNewVotes(proposalID proposals.ID, t tally.Tally) bool {
	r.mu.RLock()
	gov := r.gov
	r.mu.RUnlock()

	snapshot := gov.SnapshotTime(proposalID)
	if snapshot == 0 {
		return false
	}
	sum, err := t.Sum()
	if err != nil {
		return false
	}
	return !sum.Gt(r.oracle.PastVotingPower(r.account, snapshot))
}

// ReceiveMessage is the messaging layer's delivery callback. Delivery is
// at-least-once with no cross-origin ordering; both are safe here.
func (r *Receiver) ReceiveMessage(ctx context.Context, origin ids.ID, payload []byte) error {
	summary, err := message.ParseVoteSummary(payload)
	if err != nil {
		r.metrics.summariesMalformed.Inc()
		return fmt.Errorf("parsing vote summary from %s: %w", origin, err)
	}
	t, err := summary.Tally()
	if err != nil {
		r.metrics.summariesMalformed.Inc()
		return err
	}
	return r.ReceiveVotes(ctx, origin, summary.ProposalID(), t)
}

// ReceiveVotes reconciles a summary from one origin. The origin's prior
// tally is replaced wholesale; the update and the forwarded governance
// ballot either both happen or neither does.
func (r *Receiver) ReceiveVotes(ctx context.Context, origin ids.ID, proposalID proposals.ID, t tally.Tally) error {
	if _, err := proposals.Decode(proposalID); err != nil {
		r.metrics.summariesMalformed.Inc()
		return err
	}
	if !r.HasEnoughVotingPowerForNewVotes(proposalID, t) {
		r.metrics.summariesRejected.Inc()
		return fmt.Errorf("%w: proposal %s from origin %s",
			ErrInsufficientVotingPower, proposalID, origin,
		)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	votes, ok := r.proposals[proposalID]
	if !ok {
		votes = &proposalTallies{
			byOrigin: make(map[ids.ID]tally.Tally),
		}
	}

	withoutOrigin, err := tally.Sub(votes.aggregate, votes.byOrigin[origin])
	if err != nil {
		return err
	}
	newAggregate, err := tally.Add(withoutOrigin, t)
	if err != nil {
		return err
	}

	// Stage both records so they commit atomically; a reloaded receiver
	// never sees an origin tally without its matching aggregate.
	if r.store != nil {
		if err := r.store.PutOriginTally(proposalID, origin, t); err != nil {
			r.store.Abort()
			return fmt.Errorf("persisting origin tally: %w", err)
		}
		if err := r.store.PutAggregateVotes(proposalID, newAggregate); err != nil {
			r.store.Abort()
			return fmt.Errorf("persisting aggregate votes: %w", err)
		}
	}

	// Forward before committing: a ballot the engine rejects must leave
	// the per-origin records untouched, on disk and in memory. The
	// engine must not call back into the receiver.
	if err := r.gov.Vote(ctx, proposalID, r.account, newAggregate, false); err != nil {
		if r.store != nil {
			r.store.Abort()
		}
		return fmt.Errorf("submitting votes for %s: %w", proposalID, err)
	}

	if r.store != nil {
		// A failed commit leaves the store untouched. The engine has
		// already seen the new aggregate, and redelivery of the summary
		// replays the same replacement ballot.
		if err := r.store.Commit(); err != nil {
			return fmt.Errorf("persisting votes: %w", err)
		}
	}

	votes.byOrigin[origin] = t
	votes.aggregate = newAggregate
	r.proposals[proposalID] = votes

	r.metrics.summariesAccepted.Inc()
	r.log.Info("accepted vote summary",
		log.Stringer("proposalID", proposalID),
		log.Stringer("origin", origin),
		log.Stringer("aggregate", newAggregate),
	)
	return nil
}

// AggregateVotes returns the proposal's current cross-origin aggregate.
func (r *Receiver) AggregateVotes(proposalID proposals.ID) (tally.Tally, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	votes, ok := r.proposals[proposalID]
	if !ok {
		return tally.Tally{}, false
	}
	return votes.aggregate, true
}

// VotesByOrigin returns the latest accepted tally from one origin.
func (r *Receiver) VotesByOrigin(proposalID proposals.ID, origin ids.ID) (tally.Tally, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	votes, ok := r.proposals[proposalID]
	if !ok {
		return tally.Tally{}, false
	}
	t, ok := votes.byOrigin[origin]
	return t, ok
}

// SetGovernance updates the governance engine reference.
func (r *Receiver) SetGovernance(caller ids.ShortID, gov Governance) error {
	if err := r.auth.Authorize(caller, authz.ConfigureReceiver); err != nil {
		return err
	}
	if gov == nil {
		return ErrInvalidGovernance
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.gov = gov
	r.log.Info("updated governance reference", zap.String("governance", fmt.Sprintf("%T", gov)))
	return nil
}

// Governance returns the current governance engine reference.
func (r *Receiver) Governance() Governance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gov
}
