package scheduler

import (
	"context"
	"time"

	"marketdash/internal/overview"
	"marketdash/internal/provider/chain"
)

// ResetJob re-arms every provider at the daily quota boundary. Free-text
// rate-limit messages rarely carry a usable reset time, so the chain's
// availability flags are cleared wholesale once per UTC day.
type ResetJob struct {
	Chain *chain.Chain
}

func (j *ResetJob) Name() string { return "provider-availability-reset" }

func (j *ResetJob) Run() error {
	j.Chain.ResetAvailability()
	return nil
}

// RevalidateJob sweeps the tracked indicators and refreshes the ones past
// their max age, so the stale-while-revalidate window usually never empties.
type RevalidateJob struct {
	Aggregator *overview.Aggregator
	Timeout    time.Duration
}

func (j *RevalidateJob) Name() string { return "stale-revalidation-sweep" }

func (j *RevalidateJob) Run() error {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	j.Aggregator.RevalidateStale(ctx)
	return nil
}
