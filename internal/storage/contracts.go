package storage

import (
	"context"
	"time"

	"github.com/pvzzle/censorwatch/internal/mempool"
)

// Repository is the persistence gateway. The in-memory tracker stays
// authoritative; callers treat every write as fire-and-forget.
type Repository interface {
	EnsureSchema(ctx context.Context) error

	InsertPendingTx(ctx context.Context, tx mempool.PendingTx) error
	UpdateTxStatus(ctx context.Context, hash string, status mempool.TxStatus) error
	// InsertCensorshipEvent also marks the tx as censored.
	InsertCensorshipEvent(ctx context.Context, ev mempool.CensorshipEvent) error
	UpsertBlock(ctx context.Context, b mempool.MinedBlock) error
	InsertSnapshot(ctx context.Context, snap mempool.MempoolSnapshot, blockNumber uint64) error

	CleanupOldData(ctx context.Context, retention time.Duration) (CleanupResult, error)

	ListRecentEvents(ctx context.Context, limit int) ([]EventItem, error)
}
