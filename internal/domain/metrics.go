package domain

import "time"

// MetricSnapshot is one append-only row of the market metrics time series.
// Any subset of the optional fields may be populated by a given sync.
type MetricSnapshot struct {
	ConditionID    string
	TS             time.Time
	GammaVolume    *float64
	GammaLiquidity *float64
	OpenInterest   *float64
	BestBidYes     *float64
	BestAskYes     *float64
	BestBidNo      *float64
	BestAskNo      *float64
	SpreadYes      *float64
	SpreadNo       *float64
}

// JobRun is the per-job bookkeeping row surfaced on the status page.
type JobRun struct {
	JobName        string
	LastStartedAt  *time.Time
	LastSuccessAt  *time.Time
	LastErrorAt    *time.Time
	LastError      string
	LastDurationMS float64
}
