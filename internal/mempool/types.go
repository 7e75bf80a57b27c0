package mempool

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// PendingTx is an observed unconfirmed transaction. Created once at first
// observation and never mutated afterwards.
type PendingTx struct {
	Hash string
	From common.Address
	To   *common.Address // nil for contract creation

	MaxPriorityFee uint256.Int // 0 for legacy / access-list txs
	MaxFee         uint256.Int
	Value          uint256.Int

	Nonce         uint64
	GasLimit      uint64
	InputDataSize int

	FirstSeen int64 // unix seconds
}

type StatusKind uint8

const (
	StatusPending StatusKind = iota
	StatusIncluded
	StatusDropped
	StatusPotentiallyCensored
)

// TxStatus is the lifecycle state of a tracked transaction. BlockNumber is
// only meaningful for StatusIncluded.
type TxStatus struct {
	Kind        StatusKind
	BlockNumber uint64
}

func Pending() TxStatus { return TxStatus{Kind: StatusPending} }

func Included(blockNumber uint64) TxStatus {
	return TxStatus{Kind: StatusIncluded, BlockNumber: blockNumber}
}

func PotentiallyCensored() TxStatus { return TxStatus{Kind: StatusPotentiallyCensored} }

func (s TxStatus) IsPending() bool { return s.Kind == StatusPending }

// Label is the persisted name of the status.
func (s TxStatus) Label() string {
	switch s.Kind {
	case StatusPending:
		return "pending"
	case StatusIncluded:
		return "included"
	case StatusDropped:
		return "dropped"
	case StatusPotentiallyCensored:
		return "censored"
	default:
		return "unknown"
	}
}

func (s TxStatus) String() string {
	if s.Kind == StatusIncluded {
		return "included@" + strconv.FormatUint(s.BlockNumber, 10)
	}
	return s.Label()
}

// TrackedTx wraps a PendingTx with its current status. LastChecked is
// refreshed on every status transition.
type TrackedTx struct {
	Tx          PendingTx
	Status      TxStatus
	LastChecked int64
}

type FeePercentiles struct {
	P25 uint256.Int
	P50 uint256.Int
	P75 uint256.Int
	P90 uint256.Int
}

type MempoolSnapshot struct {
	Timestamp   int64
	Percentiles FeePercentiles
	TxCount     int
}

type MinedBlock struct {
	Number    uint64
	Timestamp uint64
	BaseFee   uint256.Int
	GasUsed   uint64
	GasLimit  uint64
	TxHashes  []string
}

// CensorshipEvent is produced once per flagged transaction per detection pass.
type CensorshipEvent struct {
	ID uuid.UUID

	TxHash string
	From   common.Address
	To     *common.Address

	PriorityFee  uint256.Int
	ThresholdFee uint256.Int
	// FeePercentile is the discrete bucket (0.90/0.75/0.50/0.25/0.10).
	FeePercentile float64

	BlocksPending  uint64
	SecondsPending int64

	ConfidenceScore float64

	DetectedAtBlock uint64
	DetectedAt      int64
}
