package sink

import (
	"context"
	"encoding/json"

	"github.com/pvzzle/censorwatch/internal/mempool"
)

const TypeCensorshipEvent = "censorship_event"

// Sink publishes detection output to downstream consumers.
type Sink interface {
	Emit(ctx context.Context, typ string, key string, v any) error
	Close() error
}

type Envelope struct {
	Type string          `json:"type"`
	TS   int64           `json:"ts"` // unix milli
	Data json.RawMessage `json:"data"`
}

// EventMessage is the wire form of a CensorshipEvent. Fees are decimal wei
// strings.
type EventMessage struct {
	ID              string  `json:"id"`
	TxHash          string  `json:"tx_hash"`
	From            string  `json:"from"`
	To              *string `json:"to,omitempty"`
	PriorityFeeWei  string  `json:"priority_fee_wei"`
	ThresholdFeeWei string  `json:"threshold_fee_wei"`
	FeePercentile   float64 `json:"fee_percentile"`
	BlocksPending   uint64  `json:"blocks_pending"`
	SecondsPending  int64   `json:"seconds_pending"`
	ConfidenceScore float64 `json:"confidence_score"`
	DetectedAtBlock uint64  `json:"detected_at_block"`
	DetectedAt      int64   `json:"detected_at"`
}

func NewEventMessage(ev mempool.CensorshipEvent) EventMessage {
	m := EventMessage{
		ID:              ev.ID.String(),
		TxHash:          ev.TxHash,
		From:            ev.From.Hex(),
		PriorityFeeWei:  ev.PriorityFee.Dec(),
		ThresholdFeeWei: ev.ThresholdFee.Dec(),
		FeePercentile:   ev.FeePercentile,
		BlocksPending:   ev.BlocksPending,
		SecondsPending:  ev.SecondsPending,
		ConfidenceScore: ev.ConfidenceScore,
		DetectedAtBlock: ev.DetectedAtBlock,
		DetectedAt:      ev.DetectedAt,
	}
	if ev.To != nil {
		s := ev.To.Hex()
		m.To = &s
	}
	return m
}
