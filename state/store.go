// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state persists relay and receiver vote state in a keyed store.
// Writes are staged in a version layer and only reach the backing
// database on Commit, so the record pairs an accepted vote produces (a
// ballot and its aggregate) land atomically or not at all. Everything is
// read back in full when a component is constructed, so a restarted
// process resumes from the last committed tally instead of an empty one.
package state

import (
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/database/versiondb"
	"github.com/luxfi/ids"

	"github.com/luxfi/govern/proposals"
	"github.com/luxfi/govern/tally"
)

var (
	relayBallotPrefix       = []byte("relay/ballot")
	relayAggregatePrefix    = []byte("relay/aggregate")
	receiverOriginPrefix    = []byte("receiver/origin")
	receiverAggregatePrefix = []byte("receiver/aggregate")
)

// Store partitions one database into the four vote-state keyspaces.
type Store struct {
	baseDB          *versiondb.Database
	relayBallots    database.Database
	relayAggregates database.Database
	originTallies   database.Database
	aggregateVotes  database.Database
}

func New(db database.Database) *Store {
	baseDB := versiondb.New(db)
	return &Store{
		baseDB:          baseDB,
		relayBallots:    prefixdb.New(relayBallotPrefix, baseDB),
		relayAggregates: prefixdb.New(relayAggregatePrefix, baseDB),
		originTallies:   prefixdb.New(receiverOriginPrefix, baseDB),
		aggregateVotes:  prefixdb.New(receiverAggregatePrefix, baseDB),
	}
}

// Commit atomically writes every staged record to the backing database.
// Staged records are discarded whether or not the write succeeds, so a
// failed commit leaves the backing database untouched.
func (s *Store) Commit() error {
	defer s.Abort()
	batch, err := s.baseDB.CommitBatch()
	if err != nil {
		return err
	}
	return batch.Write()
}

// Abort discards every record staged since the last commit.
func (s *Store) Abort() {
	s.baseDB.Abort()
}

// PutRelayBallot stores a voter's current ballot for a proposal.
func (s *Store) PutRelayBallot(id proposals.ID, voter ids.ShortID, t tally.Tally) error {
	b, err := marshalTally(t)
	if err != nil {
		return err
	}
	return s.relayBallots.Put(relayBallotKey(id, voter), b)
}

// PutRelayAggregate stores a proposal's current local aggregate.
func (s *Store) PutRelayAggregate(id proposals.ID, t tally.Tally) error {
	b, err := marshalTally(t)
	if err != nil {
		return err
	}
	return s.relayAggregates.Put(id[:], b)
}

// PutOriginTally stores the latest accepted summary tally for an origin.
func (s *Store) PutOriginTally(id proposals.ID, origin ids.ID, t tally.Tally) error {
	b, err := marshalTally(t)
	if err != nil {
		return err
	}
	return s.originTallies.Put(originTallyKey(id, origin), b)
}

// PutAggregateVotes stores a proposal's current cross-origin aggregate.
func (s *Store) PutAggregateVotes(id proposals.ID, t tally.Tally) error {
	b, err := marshalTally(t)
	if err != nil {
		return err
	}
	return s.aggregateVotes.Put(id[:], b)
}

// LoadRelay reads back every persisted relay aggregate and ballot.
func (s *Store) LoadRelay() (
	map[proposals.ID]tally.Tally,
	map[proposals.ID]map[ids.ShortID]tally.Tally,
	error,
) {
	aggregates, err := loadAggregates(s.relayAggregates)
	if err != nil {
		return nil, nil, fmt.Errorf("loading relay aggregates: %w", err)
	}

	ballots := make(map[proposals.ID]map[ids.ShortID]tally.Tally)
	it := s.relayBallots.NewIterator()
	defer it.Release()
	for it.Next() {
		key := it.Key()
		if len(key) != len(proposals.ID{})+len(ids.ShortEmpty) {
			return nil, nil, fmt.Errorf("malformed relay ballot key of length %d", len(key))
		}
		var (
			id    proposals.ID
			voter ids.ShortID
		)
		copy(id[:], key)
		copy(voter[:], key[len(id):])

		t, err := unmarshalTally(it.Value())
		if err != nil {
			return nil, nil, fmt.Errorf("loading ballot for proposal %s: %w", id, err)
		}
		voters, ok := ballots[id]
		if !ok {
			voters = make(map[ids.ShortID]tally.Tally)
			ballots[id] = voters
		}
		voters[voter] = t
	}
	return aggregates, ballots, it.Error()
}

// LoadReceiver reads back every persisted cross-origin aggregate and
// per-origin tally.
func (s *Store) LoadReceiver() (
	map[proposals.ID]tally.Tally,
	map[proposals.ID]map[ids.ID]tally.Tally,
	error,
) {
	aggregates, err := loadAggregates(s.aggregateVotes)
	if err != nil {
		return nil, nil, fmt.Errorf("loading receiver aggregates: %w", err)
	}

	byOrigin := make(map[proposals.ID]map[ids.ID]tally.Tally)
	it := s.originTallies.NewIterator()
	defer it.Release()
	for it.Next() {
		key := it.Key()
		if len(key) != len(proposals.ID{})+ids.IDLen {
			return nil, nil, fmt.Errorf("malformed origin tally key of length %d", len(key))
		}
		var (
			id     proposals.ID
			origin ids.ID
		)
		copy(id[:], key)
		copy(origin[:], key[len(id):])

		t, err := unmarshalTally(it.Value())
		if err != nil {
			return nil, nil, fmt.Errorf("loading origin tally for proposal %s: %w", id, err)
		}
		origins, ok := byOrigin[id]
		if !ok {
			origins = make(map[ids.ID]tally.Tally)
			byOrigin[id] = origins
		}
		origins[origin] = t
	}
	return aggregates, byOrigin, it.Error()
}

func loadAggregates(db database.Database) (map[proposals.ID]tally.Tally, error) {
	aggregates := make(map[proposals.ID]tally.Tally)
	it := db.NewIterator()
	defer it.Release()
	for it.Next() {
		key := it.Key()
		if len(key) != len(proposals.ID{}) {
			return nil, fmt.Errorf("malformed aggregate key of length %d", len(key))
		}
		var id proposals.ID
		copy(id[:], key)

		t, err := unmarshalTally(it.Value())
		if err != nil {
			return nil, fmt.Errorf("proposal %s: %w", id, err)
		}
		aggregates[id] = t
	}
	return aggregates, it.Error()
}

func relayBallotKey(id proposals.ID, voter ids.ShortID) []byte {
	key := make([]byte, 0, len(id)+len(ids.ShortEmpty))
	key = append(key, id[:]...)
	return append(key, voter[:]...)
}

func originTallyKey(id proposals.ID, origin ids.ID) []byte {
	key := make([]byte, 0, len(id)+ids.IDLen)
	key = append(key, id[:]...)
	return append(key, origin[:]...)
}
