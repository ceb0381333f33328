// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package voting

import (
	"errors"

	"github.com/luxfi/metric"
)

type engineMetrics struct {
	proposalsCreated  metric.Counter
	ballotsAccepted   metric.Counter
	proposalsExecuted metric.Counter
}

func newEngineMetrics(registerer metric.Registerer) (*engineMetrics, error) {
	m := &engineMetrics{
		proposalsCreated: metric.NewCounter(metric.CounterOpts{
			Name: "voting_proposals_created",
			Help: "Total number of proposals created",
		}),
		ballotsAccepted: metric.NewCounter(metric.CounterOpts{
			Name: "voting_ballots_accepted",
			Help: "Total number of ballots accepted",
		}),
		proposalsExecuted: metric.NewCounter(metric.CounterOpts{
			Name: "voting_proposals_executed",
			Help: "Total number of proposals executed",
		}),
	}
	if registerer == nil {
		return m, nil
	}
	return m, errors.Join(
		registerer.Register(metric.AsCollector(m.proposalsCreated)),
		registerer.Register(metric.AsCollector(m.ballotsAccepted)),
		registerer.Register(metric.AsCollector(m.proposalsExecuted)),
	)
}
