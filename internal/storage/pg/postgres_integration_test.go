//go:build integration

package pg_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pvzzle/censorwatch/internal/mempool"
	"github.com/pvzzle/censorwatch/internal/storage/pg"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5/pgxpool"
)

func newRepo(t *testing.T) (*pg.Postgres, *pgxpool.Pool) {
	t.Helper()

	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		dsn = os.Getenv("PG_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_PG_DSN/PG_DSN is not set")
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)

	repo := pg.New(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	// чистим после миграций (быстро и предсказуемо)
	_, _ = pool.Exec(ctx, "TRUNCATE censorship_events, transactions, blocks, mempool_snapshots RESTART IDENTITY CASCADE")

	return repo, pool
}

func testTx(hash string) mempool.PendingTx {
	to := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	return mempool.PendingTx{
		Hash:           hash,
		From:           common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		To:             &to,
		MaxPriorityFee: *new(uint256.Int).Lsh(uint256.NewInt(1), 200),
		MaxFee:         *uint256.NewInt(30_000_000_000),
		Value:          *uint256.NewInt(1_000_000_000_000_000_000),
		Nonce:          1,
		GasLimit:       21000,
		FirstSeen:      time.Now().Unix(),
	}
}

func statusOf(t *testing.T, pool *pgxpool.Pool, hash string) (string, *int64) {
	t.Helper()
	var (
		status string
		block  *int64
	)
	err := pool.QueryRow(context.Background(),
		`SELECT status, included_in_block FROM transactions WHERE tx_hash = $1`, hash).Scan(&status, &block)
	if err != nil {
		t.Fatalf("select status: %v", err)
	}
	return status, block
}

func TestRepo_PendingAndStatus(t *testing.T) {
	repo, pool := newRepo(t)
	ctx := context.Background()

	tx := testTx("0x" + strings.Repeat("1", 64))
	if err := repo.InsertPendingTx(ctx, tx); err != nil {
		t.Fatalf("InsertPendingTx: %v", err)
	}
	// повторная вставка ничего не меняет
	if err := repo.InsertPendingTx(ctx, tx); err != nil {
		t.Fatalf("InsertPendingTx again: %v", err)
	}

	var fee string
	if err := pool.QueryRow(ctx, `SELECT max_priority_fee_wei::text FROM transactions WHERE tx_hash = $1`, tx.Hash).Scan(&fee); err != nil {
		t.Fatalf("select fee: %v", err)
	}
	if fee != tx.MaxPriorityFee.Dec() {
		t.Fatalf("fee lost precision: %s", fee)
	}

	if err := repo.UpdateTxStatus(ctx, tx.Hash, mempool.Included(123)); err != nil {
		t.Fatalf("UpdateTxStatus: %v", err)
	}
	st, bn := statusOf(t, pool, tx.Hash)
	if st != "included" || bn == nil || *bn != 123 {
		t.Fatalf("expected included@123, got=%s %v", st, bn)
	}
}

func TestRepo_EventAndRecent(t *testing.T) {
	repo, pool := newRepo(t)
	ctx := context.Background()

	tx := testTx("0x" + strings.Repeat("2", 64))
	if err := repo.InsertPendingTx(ctx, tx); err != nil {
		t.Fatalf("InsertPendingTx: %v", err)
	}

	ev := mempool.CensorshipEvent{
		ID:              uuid.New(),
		TxHash:          tx.Hash,
		From:            tx.From,
		To:              tx.To,
		PriorityFee:     tx.MaxPriorityFee,
		ThresholdFee:    *uint256.NewInt(20),
		FeePercentile:   0.9,
		BlocksPending:   10,
		SecondsPending:  120,
		ConfidenceScore: 1,
		DetectedAtBlock: 110,
		DetectedAt:      time.Now().Unix(),
	}
	if err := repo.InsertCensorshipEvent(ctx, ev); err != nil {
		t.Fatalf("InsertCensorshipEvent: %v", err)
	}

	if st, _ := statusOf(t, pool, tx.Hash); st != "censored" {
		t.Fatalf("expected censored, got=%s", st)
	}

	items, err := repo.ListRecentEvents(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecentEvents: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 event, got=%d", len(items))
	}
	it := items[0]
	if it.TxHash != tx.Hash || it.PriorityFeeWei != tx.MaxPriorityFee.Dec() || it.ThresholdFeeWei != "20" {
		t.Fatalf("unexpected event row: %+v", it)
	}
	if it.BlocksPending != 10 || it.DetectedAtBlock != 110 || it.ToAddr == nil {
		t.Fatalf("unexpected event row: %+v", it)
	}
}

func TestRepo_BlocksSnapshotsCleanup(t *testing.T) {
	repo, pool := newRepo(t)
	ctx := context.Background()

	b := mempool.MinedBlock{
		Number:    100,
		Timestamp: uint64(time.Now().Unix()),
		BaseFee:   *uint256.NewInt(7),
		GasUsed:   1,
		GasLimit:  30_000_000,
		TxHashes:  []string{"0x01", "0x02"},
	}
	if err := repo.UpsertBlock(ctx, b); err != nil {
		t.Fatalf("UpsertBlock: %v", err)
	}
	b.GasUsed = 2
	if err := repo.UpsertBlock(ctx, b); err != nil {
		t.Fatalf("UpsertBlock again: %v", err)
	}

	snap := mempool.MempoolSnapshot{
		Timestamp: time.Now().Unix(),
		TxCount:   4,
		Percentiles: mempool.FeePercentiles{
			P25: *uint256.NewInt(20), P50: *uint256.NewInt(30),
			P75: *uint256.NewInt(40), P90: *uint256.NewInt(40),
		},
	}
	if err := repo.InsertSnapshot(ctx, snap, 100); err != nil {
		t.Fatalf("InsertSnapshot: %v", err)
	}

	pending := testTx("0x" + strings.Repeat("3", 64))
	if err := repo.InsertPendingTx(ctx, pending); err != nil {
		t.Fatalf("InsertPendingTx: %v", err)
	}

	// состариваем всё на 8 дней
	for _, q := range []string{
		`UPDATE transactions SET updated_at = now() - interval '8 days'`,
		`UPDATE blocks SET created_at = now() - interval '8 days'`,
		`UPDATE mempool_snapshots SET taken_at = now() - interval '8 days'`,
	} {
		if _, err := pool.Exec(ctx, q); err != nil {
			t.Fatalf("age rows: %v", err)
		}
	}

	res, err := repo.CleanupOldData(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupOldData: %v", err)
	}
	if res.Transactions != 1 || res.Blocks != 1 {
		t.Fatalf("unexpected cleanup result: %+v", res)
	}

	var n int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM mempool_snapshots`).Scan(&n); err != nil {
		t.Fatalf("count snapshots: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected snapshots removed, got=%d", n)
	}
}
