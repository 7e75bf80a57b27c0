package storage

import "time"

type CleanupResult struct {
	Transactions int64
	Blocks       int64
}

// EventItem is a persisted censorship event as read back for display.
type EventItem struct {
	DetectedAt time.Time

	TxHash   string
	FromAddr string
	ToAddr   *string

	PriorityFeeWei  string // NUMERIC как строка
	ThresholdFeeWei string

	FeePercentile   float64
	BlocksPending   uint64
	SecondsPending  int64
	ConfidenceScore float64
	DetectedAtBlock uint64
}
