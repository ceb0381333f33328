// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package receiver

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/govern/authz"
	"github.com/luxfi/govern/checkpoints"
	"github.com/luxfi/govern/message"
	"github.com/luxfi/govern/proposals"
	"github.com/luxfi/govern/state"
	"github.com/luxfi/govern/tally"
)

var (
	errRejectedBallot = errors.New("ballot rejected")
	errBatchWrite     = errors.New("batch write failed")
)

// brokenBatchDB accepts staged writes but fails to flush them.
type brokenBatchDB struct {
	database.Database
}

func (db brokenBatchDB) NewBatch() database.Batch {
	return brokenBatch{db.Database.NewBatch()}
}

type brokenBatch struct {
	database.Batch
}

func (brokenBatch) Write() error { return errBatchWrite }

type submittedBallot struct {
	proposalID proposals.ID
	voter      ids.ShortID
	votes      tally.Tally
	tryEarly   bool
}

// testGovernance is a fake engine tracking forwarded ballots.
type testGovernance struct {
	snapshots map[proposals.ID]uint64
	err       error
	ballots   []submittedBallot
}

func newTestGovernance() *testGovernance {
	return &testGovernance{
		snapshots: make(map[proposals.ID]uint64),
	}
}

func (g *testGovernance) SnapshotTime(proposalID proposals.ID) uint64 {
	return g.snapshots[proposalID]
}

func (g *testGovernance) Vote(_ context.Context, proposalID proposals.ID, voter ids.ShortID, t tally.Tally, tryEarly bool) error {
	if g.err != nil {
		return g.err
	}
	g.ballots = append(g.ballots, submittedBallot{
		proposalID: proposalID,
		voter:      voter,
		votes:      t,
		tryEarly:   tryEarly,
	})
	return nil
}

type receiverTest struct {
	receiver *Receiver
	gov      *testGovernance
	history  *checkpoints.History
	account  ids.ShortID
	admin    ids.ShortID
}

func newReceiverTest(t *testing.T, store *state.Store) *receiverTest {
	t.Helper()

	rt := &receiverTest{
		gov:     newTestGovernance(),
		history: checkpoints.NewHistory(),
		account: ids.GenerateTestShortID(),
		admin:   ids.GenerateTestShortID(),
	}
	receiver, err := New(Config{
		Authorizer: authz.NewSingleAdmin(rt.admin),
		Oracle:     rt.history,
		Governance: rt.gov,
		Account:    rt.account,
		Store:      store,
	})
	require.NoError(t, err)
	rt.receiver = receiver
	return rt
}

// register announces a proposal to the fake engine and checkpoints the
// bridged voting power held by the receiver account at its snapshot.
func (rt *receiverTest) register(t *testing.T, snapshot uint64, power uint64) proposals.ID {
	t.Helper()

	id := proposals.Reference{
		StartTime:    uint32(snapshot) + 1,
		EndTime:      uint32(snapshot) + 101,
		HomeID:       ids.GenerateTestShortID(),
		SnapshotTime: uint32(snapshot),
	}.Encode()
	rt.gov.snapshots[id] = snapshot
	require.NoError(t, rt.history.Push(rt.account, snapshot, uint256.NewInt(power)))
	return id
}

func TestHasEnoughVotingPowerForNewVotes(t *testing.T) {
	require := require.New(t)

	rt := newReceiverTest(t, nil)
	id := rt.register(t, 50, 100)

	// Coverable by the snapshot balance, independent of stored state.
	require.True(rt.receiver.HasEnoughVotingPowerForNewVotes(id, tally.New(50, 30, 20)))
	require.True(rt.receiver.HasEnoughVotingPowerForNewVotes(id, tally.Tally{}))
	require.False(rt.receiver.HasEnoughVotingPowerForNewVotes(id, tally.New(50, 30, 21)))

	// Oversized input never passes.
	wide := tally.Tally{Yes: *tally.MaxMagnitude(), No: *uint256.NewInt(1)}
	require.False(rt.receiver.HasEnoughVotingPowerForNewVotes(id, wide))

	// An unknown proposal has no snapshot, which is never valid, even
	// for the zero tally.
	unknown := proposals.Reference{
		StartTime:    10,
		EndTime:      20,
		HomeID:       ids.GenerateTestShortID(),
		SnapshotTime: 9,
	}.Encode()
	require.False(rt.receiver.HasEnoughVotingPowerForNewVotes(unknown, tally.Tally{}))
	require.False(rt.receiver.HasEnoughVotingPowerForNewVotes(unknown, tally.New(1, 0, 0)))
}

func TestReceiveVotesReplacesPerOrigin(t *testing.T) {
	require := require.New(t)

	rt := newReceiverTest(t, nil)
	id := rt.register(t, 50, 1_000)
	origin := ids.GenerateTestID()

	first := tally.New(100, 50, 0)
	second := tally.New(70, 90, 10)

	require.NoError(rt.receiver.ReceiveVotes(context.Background(), origin, id, first))

	got, ok := rt.receiver.VotesByOrigin(id, origin)
	require.True(ok)
	require.True(got.Eq(first))

	// A later summary from the same origin replaces the earlier one.
	require.NoError(rt.receiver.ReceiveVotes(context.Background(), origin, id, second))

	got, ok = rt.receiver.VotesByOrigin(id, origin)
	require.True(ok)
	require.True(got.Eq(second))

	aggregate, ok := rt.receiver.AggregateVotes(id)
	require.True(ok)
	require.True(aggregate.Eq(second))

	// The engine saw the full replaced aggregate each time.
	require.Len(rt.gov.ballots, 2)
	require.True(rt.gov.ballots[0].votes.Eq(first))
	require.True(rt.gov.ballots[1].votes.Eq(second))
	require.Equal(rt.account, rt.gov.ballots[1].voter)
	require.False(rt.gov.ballots[1].tryEarly)
}

func TestReceiveVotesAcrossOrigins(t *testing.T) {
	require := require.New(t)

	rt := newReceiverTest(t, nil)
	id := rt.register(t, 50, 1_000)
	originA := ids.GenerateTestID()
	originB := ids.GenerateTestID()

	require.NoError(rt.receiver.ReceiveVotes(context.Background(), originA, id, tally.New(100, 0, 0)))
	require.NoError(rt.receiver.ReceiveVotes(context.Background(), originB, id, tally.New(0, 200, 0)))

	aggregate, ok := rt.receiver.AggregateVotes(id)
	require.True(ok)
	require.True(aggregate.Eq(tally.New(100, 200, 0)))

	// Replacing one origin leaves the other untouched.
	require.NoError(rt.receiver.ReceiveVotes(context.Background(), originA, id, tally.New(40, 0, 60)))

	aggregate, ok = rt.receiver.AggregateVotes(id)
	require.True(ok)
	require.True(aggregate.Eq(tally.New(40, 200, 60)))
}

func TestReceiveVotesDuplicateDelivery(t *testing.T) {
	require := require.New(t)

	rt := newReceiverTest(t, nil)
	id := rt.register(t, 50, 1_000)
	origin := ids.GenerateTestID()
	votes := tally.New(10, 20, 30)

	require.NoError(rt.receiver.ReceiveVotes(context.Background(), origin, id, votes))
	require.NoError(rt.receiver.ReceiveVotes(context.Background(), origin, id, votes))

	aggregate, ok := rt.receiver.AggregateVotes(id)
	require.True(ok)
	require.True(aggregate.Eq(votes))
}

func TestReceiveVotesRejectsAtomically(t *testing.T) {
	require := require.New(t)

	rt := newReceiverTest(t, nil)
	id := rt.register(t, 50, 100)
	origin := ids.GenerateTestID()

	err := rt.receiver.ReceiveVotes(context.Background(), origin, id, tally.New(101, 0, 0))
	require.ErrorIs(err, ErrInsufficientVotingPower)

	_, ok := rt.receiver.AggregateVotes(id)
	require.False(ok)
	require.Empty(rt.gov.ballots)
}

func TestReceiveVotesGovernanceRejection(t *testing.T) {
	require := require.New(t)

	db := memdb.New()
	rt := newReceiverTest(t, state.New(db))
	id := rt.register(t, 50, 1_000)
	origin := ids.GenerateTestID()

	rt.gov.err = errRejectedBallot
	err := rt.receiver.ReceiveVotes(context.Background(), origin, id, tally.New(1, 0, 0))
	require.ErrorIs(err, errRejectedBallot)

	// A rejected forward leaves the per-origin records untouched.
	_, ok := rt.receiver.VotesByOrigin(id, origin)
	require.False(ok)

	// The staged records never reached the backing database.
	aggregates, byOrigin, loadErr := state.New(db).LoadReceiver()
	require.NoError(loadErr)
	require.Empty(aggregates)
	require.Empty(byOrigin)
}

func TestReceiveVotesPersistenceFailureLeavesNoState(t *testing.T) {
	require := require.New(t)

	db := memdb.New()
	rt := newReceiverTest(t, state.New(brokenBatchDB{Database: db}))
	id := rt.register(t, 50, 1_000)
	origin := ids.GenerateTestID()

	err := rt.receiver.ReceiveVotes(context.Background(), origin, id, tally.New(10, 0, 0))
	require.ErrorIs(err, errBatchWrite)

	// The failed commit left nothing in memory.
	_, ok := rt.receiver.AggregateVotes(id)
	require.False(ok)
	_, ok = rt.receiver.VotesByOrigin(id, origin)
	require.False(ok)

	// Nothing leaked to the backing database: a reloaded receiver never
	// sees an origin tally missing its aggregate.
	aggregates, byOrigin, loadErr := state.New(db).LoadReceiver()
	require.NoError(loadErr)
	require.Empty(aggregates)
	require.Empty(byOrigin)

	// The engine already saw the forward; redelivery of the summary
	// replays the same replacement ballot and reconciles.
	require.Len(rt.gov.ballots, 1)
}

func TestReceiveMessage(t *testing.T) {
	require := require.New(t)

	rt := newReceiverTest(t, nil)
	id := rt.register(t, 50, 1_000)
	origin := ids.GenerateTestID()
	votes := tally.New(5, 6, 7)

	payload, err := message.NewVoteSummary(id, votes).Bytes()
	require.NoError(err)
	require.NoError(rt.receiver.ReceiveMessage(context.Background(), origin, payload))

	aggregate, ok := rt.receiver.AggregateVotes(id)
	require.True(ok)
	require.True(aggregate.Eq(votes))

	require.Error(rt.receiver.ReceiveMessage(context.Background(), origin, []byte{0x01}))
}

func TestReceiveVotesInvalidReference(t *testing.T) {
	require := require.New(t)

	rt := newReceiverTest(t, nil)
	var badID proposals.ID // all-zero reference

	err := rt.receiver.ReceiveVotes(context.Background(), ids.GenerateTestID(), badID, tally.New(1, 0, 0))
	require.ErrorIs(err, proposals.ErrInvalidReference)
}

func TestReceiverReloadsFromStore(t *testing.T) {
	require := require.New(t)

	db := memdb.New()
	rt := newReceiverTest(t, state.New(db))
	id := rt.register(t, 50, 1_000)
	origin := ids.GenerateTestID()
	votes := tally.New(10, 0, 5)

	require.NoError(rt.receiver.ReceiveVotes(context.Background(), origin, id, votes))

	reloaded, err := New(Config{
		Authorizer: authz.NewSingleAdmin(rt.admin),
		Oracle:     rt.history,
		Governance: rt.gov,
		Account:    rt.account,
		Store:      state.New(db),
	})
	require.NoError(err)

	aggregate, ok := reloaded.AggregateVotes(id)
	require.True(ok)
	require.True(aggregate.Eq(votes))

	got, ok := reloaded.VotesByOrigin(id, origin)
	require.True(ok)
	require.True(got.Eq(votes))
}

func TestSetGovernance(t *testing.T) {
	require := require.New(t)

	rt := newReceiverTest(t, nil)
	other := newTestGovernance()

	require.ErrorIs(rt.receiver.SetGovernance(ids.GenerateTestShortID(), other), authz.ErrUnauthorized)
	require.ErrorIs(rt.receiver.SetGovernance(rt.admin, nil), ErrInvalidGovernance)

	require.NoError(rt.receiver.SetGovernance(rt.admin, other))
	require.Equal(Governance(other), rt.receiver.Governance())
}
