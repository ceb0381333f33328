// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package receiver_test

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/govern/authz"
	"github.com/luxfi/govern/checkpoints"
	"github.com/luxfi/govern/proposals"
	"github.com/luxfi/govern/receiver"
	"github.com/luxfi/govern/relay"
	"github.com/luxfi/govern/tally"
	"github.com/luxfi/govern/utils/timer/mockable"
	"github.com/luxfi/govern/voting"
)

// chainMessenger delivers dispatched payloads straight into the
// execution-chain receiver, standing in for the cross-chain transport.
type chainMessenger struct {
	origin   ids.ID
	receiver *receiver.Receiver
}

func (m *chainMessenger) SendVoteSummary(ctx context.Context, _ ids.ID, payload []byte) error {
	return m.receiver.ReceiveMessage(ctx, m.origin, payload)
}

type countingExecutor struct {
	executed int
}

func (x *countingExecutor) ExecuteActions(context.Context, ids.ID, proposals.ID, []voting.Action, *uint256.Int) error {
	x.executed++
	return nil
}

// TestCrossChainVoteFlow walks a proposal from ballots on the voting
// chain through dispatch, receipt, and execution on the execution chain.
func TestCrossChainVoteFlow(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	admin := ids.GenerateTestShortID()

	// Execution chain: a vote-replacement engine and the receiver holding
	// the bridged voting power.
	execHistory := checkpoints.NewHistory()
	require.NoError(execHistory.PushTotal(1999, uint256.NewInt(1_000)))
	account := ids.GenerateTestShortID()
	require.NoError(execHistory.Push(account, 1999, uint256.NewInt(300)))

	execClk := &mockable.Clock{}
	executor := &countingExecutor{}
	engine, err := voting.New(voting.Config{
		Authorizer: authz.NewSingleAdmin(admin),
		Oracle:     execHistory,
		Executor:   executor,
		Clock:      execClk,
		DAO:        ids.GenerateTestID(),
		Settings: voting.Settings{
			Mode:             voting.VoteReplacement,
			SupportThreshold: 500_000,
			MinParticipation: 100_000,
			MinDuration:      time.Hour,
		},
	})
	require.NoError(err)

	execClk.Set(time.Unix(1000, 0))
	proposalID, err := engine.CreateProposal(
		ids.GenerateTestShortID(),
		ids.GenerateTestShortID(),
		2000, 5600, 1999,
		nil, nil,
	)
	require.NoError(err)

	recv, err := receiver.New(receiver.Config{
		Authorizer: authz.NewSingleAdmin(admin),
		Oracle:     execHistory,
		Governance: engine,
		Account:    account,
	})
	require.NoError(err)

	// Voting chain: a relay whose messenger is wired directly to the
	// receiver.
	origin := ids.GenerateTestID()
	votingHistory := checkpoints.NewHistory()
	relayClk := &mockable.Clock{}
	rly, err := relay.New(relay.Config{
		Authorizer:  authz.NewSingleAdmin(admin),
		Oracle:      votingHistory,
		Messenger:   &chainMessenger{origin: origin, receiver: recv},
		Clock:       relayClk,
		Destination: ids.GenerateTestID(),
		DelayBuffer: 10 * time.Second,
	})
	require.NoError(err)

	voterA := ids.GenerateTestShortID()
	voterB := ids.GenerateTestShortID()
	require.NoError(votingHistory.Push(voterA, 1, uint256.NewInt(200)))
	require.NoError(votingHistory.Push(voterB, 1, uint256.NewInt(100)))

	relayClk.Set(time.Unix(3000, 0))
	require.NoError(rly.Vote(proposalID, voterA, tally.New(150, 0, 0)))
	require.NoError(rly.Vote(proposalID, voterB, tally.New(0, 100, 0)))

	// voterB reconsiders before the window closes.
	require.NoError(rly.Vote(proposalID, voterB, tally.New(0, 40, 0)))

	// Too early to dispatch: the window plus the delay buffer runs to
	// 5610.
	relayClk.Set(time.Unix(5609, 0))
	require.ErrorIs(rly.Dispatch(ctx, proposalID, ids.Empty), relay.ErrProposalStillOpen)

	relayClk.Set(time.Unix(5700, 0))
	execClk.Set(time.Unix(5700, 0))
	require.NoError(rly.Dispatch(ctx, proposalID, ids.Empty))

	aggregate, ok := recv.AggregateVotes(proposalID)
	require.True(ok)
	require.True(aggregate.Eq(tally.New(150, 40, 0)))

	votes, ok := engine.Votes(proposalID)
	require.True(ok)
	require.True(votes.Eq(tally.New(150, 40, 0)))

	// A duplicate dispatch changes nothing downstream.
	require.NoError(rly.Dispatch(ctx, proposalID, ids.Empty))

	votes, ok = engine.Votes(proposalID)
	require.True(ok)
	require.True(votes.Eq(tally.New(150, 40, 0)))

	require.True(engine.CanExecute(proposalID))
	require.NoError(engine.Execute(ctx, proposalID))
	require.Equal(1, executor.executed)

	state, ok := engine.State(proposalID)
	require.True(ok)
	require.Equal(voting.Executed, state)
}
