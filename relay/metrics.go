// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package relay

import (
	"errors"

	"github.com/luxfi/metric"
)

type relayMetrics struct {
	ballotsCast         metric.Counter
	summariesDispatched metric.Counter
	dispatchFailures    metric.Counter
}

func newRelayMetrics(registerer metric.Registerer) (*relayMetrics, error) {
	m := &relayMetrics{
		ballotsCast: metric.NewCounter(metric.CounterOpts{
			Name: "relay_ballots_cast",
			Help: "Total number of ballots recorded by the relay",
		}),
		summariesDispatched: metric.NewCounter(metric.CounterOpts{
			Name: "relay_summaries_dispatched",
			Help: "Total number of vote summaries handed to the messenger",
		}),
		dispatchFailures: metric.NewCounter(metric.CounterOpts{
			Name: "relay_dispatch_failures",
			Help: "Total number of vote summaries the messenger failed to accept",
		}),
	}
	if registerer == nil {
		return m, nil
	}
	return m, errors.Join(
		registerer.Register(metric.AsCollector(m.ballotsCast)),
		registerer.Register(metric.AsCollector(m.summariesDispatched)),
		registerer.Register(metric.AsCollector(m.dispatchFailures)),
	)
}
