// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package voting implements the majority voting engine on the execution
// chain. Proposals carry the parameters they were created under, collect
// split ballots into a running tally, and become executable once both the
// support threshold and the minimum participation are met. The engine is
// the governance collaborator the receiver forwards bridged ballots into.
package voting

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
	"github.com/luxfi/govern/proposals"
	"github.com/luxfi/govern/tally"
	"github.com/luxfi/govern/utils/timer/mockable"
)

var (
	ErrProposalCreationForbidden = errors.New("proposal creation forbidden")
	ErrProposalExists            = errors.New("proposal already exists")
	ErrUnknownProposal           = errors.New("unknown proposal")
	ErrVoteCastForbidden         = errors.New("vote cast forbidden")
	ErrExecutionForbidden        = errors.New("execution forbidden")
)

// ProposalState is the lifecycle position of a proposal at a point in
// time. Transitions are one-way: a proposal never returns to an earlier
// state.
type ProposalState uint8

const (
	Pending ProposalState = iota
	Active
	Defeated
	Succeeded
	Executed
)

func (s ProposalState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Active:
		return "active"
	case Defeated:
		return "defeated"
	case Succeeded:
		return "succeeded"
	case Executed:
		return "executed"
	default:
		return "unknown"
	}
}

// Action is one call a passed proposal performs on execution.
type Action struct {
	Target ids.ShortID
	Value  uint256.Int
	Data   []byte
}

// ActionExecutor performs a passed proposal's actions. Bit i of
// allowFailureMap permits action i to fail without aborting the batch.
// Implementations must not call back into the engine.
type ActionExecutor interface {
	ExecuteActions(ctx context.Context, dao ids.ID, proposalID proposals.ID, actions []Action, allowFailureMap *uint256.Int) error
}

// VotingPowerOracle reads checkpointed per-account and total voting power
// on the execution chain.
type VotingPowerOracle interface {
	PastVotingPower(account ids.ShortID, time uint64) *uint256.Int
	PastTotalPower(time uint64) *uint256.Int
}

// Parameters freezes the settings a proposal was created under.
type Parameters struct {
	Mode             Mode
	SupportThreshold uint32

	// MinVotingPower is the absolute participation floor, derived from
	// the minimum participation ratio against the total power at the
	// snapshot time.
	MinVotingPower uint256.Int

	StartTime    uint64
	EndTime      uint64
	SnapshotTime uint64
}

type proposal struct {
	params          Parameters
	executed        bool
	votes           tally.Tally
	actions         []Action
	allowFailureMap uint256.Int
	ballots         map[ids.ShortID]tally.Tally
}

type Config struct {
	Log        log.Logger
	Authorizer authz.Authorizer
	Oracle     VotingPowerOracle
	Executor   ActionExecutor
	Clock      *mockable.Clock

	// DAO identifies the organization whose actions this engine executes.
	DAO ids.ID

	Settings Settings

	// Registerer is optional; when set, engine metrics are registered on
	// it.
	Registerer metric.Registerer
}

type Engine struct {
	log      log.Logger
	auth     authz.Authorizer
	oracle   VotingPowerOracle
	executor ActionExecutor
	clk      *mockable.Clock
	dao      ids.ID
	metrics  *engineMetrics

	mu        sync.RWMutex
	settings  Settings
	proposals map[proposals.ID]*proposal
}

func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Authorizer == nil:
		return nil, errors.New("voting engine requires an authorizer")
	case cfg.Oracle == nil:
		return nil, errors.New("voting engine requires a voting power oracle")
	case cfg.Executor == nil:
		return nil, errors.New("voting engine requires an action executor")
	case cfg.DAO == ids.Empty:
		return nil, errors.New("voting engine requires a dao reference")
	}
	if err := cfg.Settings.Verify(); err != nil {
		return nil, err
	}
	if cfg.Log == nil {
		cfg.Log = log.NoLog{}
	}
	if cfg.Clock == nil {
		cfg.Clock = &mockable.Clock{}
	}

	m, err := newEngineMetrics(cfg.Registerer)
	if err != nil {
		return nil, err
	}

	return &Engine{
		log:       cfg.Log,
		auth:      cfg.Authorizer,
		oracle:    cfg.Oracle,
		executor:  cfg.Executor,
		clk:       cfg.Clock,
		dao:       cfg.DAO,
		metrics:   m,
		settings:  cfg.Settings,
		proposals: make(map[proposals.ID]*proposal),
	}, nil
}

// CreateProposal mints a proposal under the current settings and returns
// its encoded reference. Zero start defaults to now, zero end to start
// plus the minimum duration, and zero snapshot to the second before
// start. The proposer must hold the minimum proposer power at the
// snapshot time.
func (e *Engine) CreateProposal(
	proposer ids.ShortID,
	home ids.ShortID,
	start uint32,
	end uint32,
	snapshot uint32,
	actions []Action,
	allowFailureMap *uint256.Int,
) (proposals.ID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clk.Unix()
	if start == 0 {
		start = uint32(now)
	}
	if end == 0 {
		end = start + uint32(e.settings.MinDuration.Seconds())
	}
	if snapshot == 0 {
		snapshot = start - 1
	}

	ref := proposals.Reference{
		StartTime:    start,
		EndTime:      end,
		HomeID:       home,
		SnapshotTime: snapshot,
	}
	if err := ref.Verify(); err != nil {
		return proposals.ID{}, err
	}
	if uint64(end-start) < uint64(e.settings.MinDuration.Seconds()) {
		return proposals.ID{}, fmt.Errorf("%w: window %d shorter than %s",
			ErrMinDurationOutOfBounds, end-start, e.settings.MinDuration,
		)
	}

	power := e.oracle.PastVotingPower(proposer, uint64(snapshot))
	if power.Lt(&e.settings.MinProposerPower) {
		return proposals.ID{}, fmt.Errorf("%w: proposer %s holds %s, needs %s",
			ErrProposalCreationForbidden, proposer, power.Dec(), e.settings.MinProposerPower.Dec(),
		)
	}

	proposalID := ref.Encode()
	if _, ok := e.proposals[proposalID]; ok {
		return proposals.ID{}, fmt.Errorf("%w: %s", ErrProposalExists, proposalID)
	}

	minPower, err := minVotingPower(e.oracle.PastTotalPower(uint64(snapshot)), e.settings.MinParticipation)
	if err != nil {
		return proposals.ID{}, err
	}

	p := &proposal{
		params: Parameters{
			Mode:             e.settings.Mode,
			SupportThreshold: e.settings.SupportThreshold,
			StartTime:        uint64(start),
			EndTime:          uint64(end),
			SnapshotTime:     uint64(snapshot),
		},
		actions: actions,
		ballots: make(map[ids.ShortID]tally.Tally),
	}
	p.params.MinVotingPower.Set(minPower)
	if allowFailureMap != nil {
		p.allowFailureMap.Set(allowFailureMap)
	}
	e.proposals[proposalID] = p

	e.metrics.proposalsCreated.Inc()
	e.log.Info("created proposal",
		log.Stringer("proposalID", proposalID),
		log.Stringer("proposer", proposer),
		log.Stringer("mode", p.params.Mode),
	)
	return proposalID, nil
}

// minVotingPower is the participation floor: ceil(total * ratio /
// RatioBase).
func minVotingPower(total *uint256.Int, ratio uint32) (*uint256.Int, error) {
	if ratio == 0 {
		return new(uint256.Int), nil
	}
	var (
		r    = uint256.NewInt(uint64(ratio))
		base = uint256.NewInt(RatioBase)
		min  = new(uint256.Int)
	)
	if _, overflow := min.MulDivOverflow(total, r, base); overflow {
		return nil, tally.ErrOverflow
	}
	if rem := new(uint256.Int).MulMod(total, r, base); !rem.IsZero() {
		min.AddUint64(min, 1)
	}
	return min, nil
}

// Vote records the voter's split ballot for the proposal. The ballot
// must be nonzero and covered by the voter's power at the snapshot time.
// Standard and early-execution proposals accept ballots only while the
// window is open and reject re-votes. Vote-replacement proposals back
// out the voter's prior ballot and accept replacements from the window's
// start until execution; aggregates bridged in after a remote window
// closes still land. When tryEarlyExecution is set on an early-execution
// proposal, a successful vote additionally attempts execution; that
// attempt never fails the vote.
func (e *Engine) Vote(ctx context.Context, proposalID proposals.ID, voter ids.ShortID, t tally.Tally, tryEarlyExecution bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProposal, proposalID)
	}

	now := e.clk.Unix()
	switch {
	case p.executed:
		return fmt.Errorf("%w: proposal %s already executed", ErrVoteCastForbidden, proposalID)
	case now < p.params.StartTime:
		return fmt.Errorf("%w: proposal %s has not started at %d", ErrVoteCastForbidden, proposalID, now)
	case p.params.Mode != VoteReplacement && now >= p.params.EndTime:
		return fmt.Errorf("%w: proposal %s closed at %d", ErrVoteCastForbidden, proposalID, p.params.EndTime)
	}
	if t.IsZero() {
		return fmt.Errorf("%w: empty ballot", ErrVoteCastForbidden)
	}

	sum, err := t.Sum()
	if err != nil {
		return err
	}
	if power := e.oracle.PastVotingPower(voter, p.params.SnapshotTime); sum.Gt(power) {
		return fmt.Errorf("%w: voter %s holds %s at snapshot %d, ballot needs %s",
			ErrVoteCastForbidden, voter, power.Dec(), p.params.SnapshotTime, sum.Dec(),
		)
	}

	prior, voted := p.ballots[voter]
	newVotes := p.votes
	if voted {
		if p.params.Mode != VoteReplacement {
			return fmt.Errorf("%w: voter %s already voted on %s", ErrVoteCastForbidden, voter, proposalID)
		}
		if newVotes, err = tally.Sub(newVotes, prior); err != nil {
			return err
		}
	}
	if newVotes, err = tally.Add(newVotes, t); err != nil {
		return err
	}

	p.ballots[voter] = t
	p.votes = newVotes

	e.metrics.ballotsAccepted.Inc()
	e.log.Debug("recorded ballot",
		log.Stringer("proposalID", proposalID),
		log.Stringer("voter", voter),
		log.Stringer("votes", newVotes),
	)

	if tryEarlyExecution && p.params.Mode == EarlyExecution && e.canExecute(p, now) {
		if err := e.execute(ctx, proposalID, p); err != nil {
			e.log.Warn("early execution attempt failed",
				log.Stringer("proposalID", proposalID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// CanExecute reports whether the proposal can be executed right now.
func (e *Engine) CanExecute(proposalID proposals.ID) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return false
	}
	return e.canExecute(p, e.clk.Unix())
}

// canExecute checks participation and support. During an open window only
// early-execution proposals qualify, and only against the worst case
// where every power not yet voting yes or abstaining votes no.
func (e *Engine) canExecute(p *proposal, now uint64) bool {
	if p.executed || now < p.params.StartTime {
		return false
	}

	no := &p.votes.No
	if now < p.params.EndTime {
		if p.params.Mode != EarlyExecution {
			return false
		}
		no = worstCaseNo(p, e.oracle.PastTotalPower(p.params.SnapshotTime))
	}
	if !supported(&p.votes.Yes, no, p.params.SupportThreshold) {
		return false
	}

	sum, err := p.votes.Sum()
	if err != nil {
		// An overflowing sum exceeds any representable participation
		// floor.
		return true
	}
	return !sum.Lt(&p.params.MinVotingPower)
}

// supported reports (RatioBase - threshold) * yes > threshold * no. The
// comparison is strict, so a threshold of RatioBase/2 means a tie loses.
func supported(yes, no *uint256.Int, threshold uint32) bool {
	lhs := new(uint256.Int).Mul(uint256.NewInt(uint64(RatioBase-threshold)), yes)
	rhs := new(uint256.Int).Mul(uint256.NewInt(uint64(threshold)), no)
	return lhs.Gt(rhs)
}

// worstCaseNo is the no column as if all power at the snapshot that has
// not voted yes or abstain votes no, clamped at zero.
func worstCaseNo(p *proposal, total *uint256.Int) *uint256.Int {
	worst := new(uint256.Int)
	if _, underflow := worst.SubOverflow(total, &p.votes.Yes); underflow {
		return worst.Clear()
	}
	if _, underflow := worst.SubOverflow(worst, &p.votes.Abstain); underflow {
		return worst.Clear()
	}
	return worst
}

// Execute performs the proposal's actions. It fails with
// ErrExecutionForbidden unless CanExecute holds. The proposal is flipped
// to executed before the executor runs; a failing executor rolls the
// flip back so execution can be retried.
func (e *Engine) Execute(ctx context.Context, proposalID proposals.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProposal, proposalID)
	}
	if !e.canExecute(p, e.clk.Unix()) {
		return fmt.Errorf("%w: %s", ErrExecutionForbidden, proposalID)
	}
	return e.execute(ctx, proposalID, p)
}

func (e *Engine) execute(ctx context.Context, proposalID proposals.ID, p *proposal) error {
	// Flip first so the proposal can never execute twice; a failed
	// execution flips back and stays retryable.
	p.executed = true
	if err := e.executor.ExecuteActions(ctx, e.dao, proposalID, p.actions, &p.allowFailureMap); err != nil {
		p.executed = false
		return fmt.Errorf("executing proposal %s: %w", proposalID, err)
	}

	e.metrics.proposalsExecuted.Inc()
	e.log.Info("executed proposal",
		log.Stringer("proposalID", proposalID),
		log.Stringer("dao", e.dao),
	)
	return nil
}

// State returns the proposal's lifecycle position at the current time.
func (e *Engine) State(proposalID proposals.ID) (ProposalState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return 0, false
	}
	now := e.clk.Unix()
	switch {
	case p.executed:
		return Executed, true
	case now < p.params.StartTime:
		return Pending, true
	case now < p.params.EndTime:
		return Active, true
	case e.canExecute(p, now):
		return Succeeded, true
	default:
		return Defeated, true
	}
}

// SnapshotTime returns the proposal's voting-power snapshot time, or zero
// when the proposal is unknown.
func (e *Engine) SnapshotTime(proposalID proposals.ID) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return 0
	}
	return p.params.SnapshotTime
}

// Votes returns the proposal's current tally.
func (e *Engine) Votes(proposalID proposals.ID) (tally.Tally, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return tally.Tally{}, false
	}
	return p.votes, true
}

// GetBallot returns the voter's current ballot for the proposal.
func (e *Engine) GetBallot(proposalID proposals.ID, voter ids.ShortID) (tally.Tally, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return tally.Tally{}, false
	}
	t, ok := p.ballots[voter]
	return t, ok
}

// Parameters returns the parameters the proposal was created under.
func (e *Engine) Parameters(proposalID proposals.ID) (Parameters, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return Parameters{}, false
	}
	return p.params, true
}

// UpdateSettings replaces the settings used for future proposals.
// Proposals already created keep the parameters they were minted with.
func (e *Engine) UpdateSettings(caller ids.ShortID, s Settings) error {
	if err := e.auth.Authorize(caller, authz.ConfigureVoting); err != nil {
		return err
	}
	if err := s.Verify(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.settings = s
	e.log.Info("updated voting settings",
		log.Stringer("mode", s.Mode),
		log.Duration("minDuration", s.MinDuration),
	)
	return nil
}

// Settings returns the settings future proposals will be created under.
func (e *Engine) Settings() Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}
