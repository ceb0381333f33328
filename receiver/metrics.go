// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package receiver

import (
	"errors"

	"github.com/luxfi/metric"
)

type receiverMetrics struct {
	summariesAccepted  metric.Counter
	summariesRejected  metric.Counter
	summariesMalformed metric.Counter
}

func newReceiverMetrics(registerer metric.Registerer) (*receiverMetrics, error) {
	m := &receiverMetrics{
		summariesAccepted: metric.NewCounter(metric.CounterOpts{
			Name: "receiver_summaries_accepted",
			Help: "Total number of vote summaries accepted and forwarded",
		}),
		summariesRejected: metric.NewCounter(metric.CounterOpts{
			Name: "receiver_summaries_rejected",
			Help: "Total number of vote summaries rejected by the voting power bound",
		}),
		summariesMalformed: metric.NewCounter(metric.CounterOpts{
			Name: "receiver_summaries_malformed",
			Help: "Total number of vote summaries that failed to parse or validate",
		}),
	}
	if registerer == nil {
		return m, nil
	}
	return m, errors.Join(
		registerer.Register(metric.AsCollector(m.summariesAccepted)),
		registerer.Register(metric.AsCollector(m.summariesRejected)),
		registerer.Register(metric.AsCollector(m.summariesMalformed)),
	)
}
