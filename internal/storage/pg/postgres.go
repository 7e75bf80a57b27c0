package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/pvzzle/censorwatch/internal/mempool"
	"github.com/pvzzle/censorwatch/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Postgres struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Postgres { return &Postgres{pool: pool} }

func (r *Postgres) EnsureSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS transactions (
  tx_hash TEXT PRIMARY KEY,

  from_addr TEXT NOT NULL,
  to_addr   TEXT NULL,

  max_priority_fee_wei NUMERIC(78,0) NOT NULL,
  max_fee_wei          NUMERIC(78,0) NOT NULL,
  value_wei            NUMERIC(78,0) NOT NULL,
  nonce     BIGINT NOT NULL,
  gas_limit BIGINT NOT NULL,
  input_data_size INT NOT NULL,

  first_seen_at TIMESTAMPTZ NOT NULL,
  status TEXT NOT NULL CHECK (status IN ('pending', 'included', 'dropped', 'censored')),
  included_in_block BIGINT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS transactions_status_idx ON transactions(status);
CREATE INDEX IF NOT EXISTS transactions_first_seen_idx ON transactions(first_seen_at);

CREATE TABLE IF NOT EXISTS censorship_events (
  id UUID PRIMARY KEY,
  tx_hash TEXT NOT NULL REFERENCES transactions(tx_hash),
  from_addr TEXT NOT NULL,
  to_addr   TEXT NULL,

  priority_fee_wei  NUMERIC(78,0) NOT NULL,
  threshold_fee_wei NUMERIC(78,0) NOT NULL,
  fee_percentile   DOUBLE PRECISION NOT NULL,
  blocks_pending   BIGINT NOT NULL,
  seconds_pending  BIGINT NOT NULL,
  confidence_score DOUBLE PRECISION NOT NULL,

  detected_at_block BIGINT NOT NULL,
  detected_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS censorship_events_detected_idx ON censorship_events(detected_at DESC);

CREATE TABLE IF NOT EXISTS blocks (
  block_number BIGINT PRIMARY KEY,
  block_time   TIMESTAMPTZ NOT NULL,
  base_fee_wei NUMERIC(78,0) NOT NULL,
  gas_used  BIGINT NOT NULL,
  gas_limit BIGINT NOT NULL,
  tx_count  INT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS mempool_snapshots (
  id BIGSERIAL PRIMARY KEY,
  taken_at TIMESTAMPTZ NOT NULL,
  block_number BIGINT NULL,
  p25_fee_wei NUMERIC(78,0) NOT NULL,
  p50_fee_wei NUMERIC(78,0) NOT NULL,
  p75_fee_wei NUMERIC(78,0) NOT NULL,
  p90_fee_wei NUMERIC(78,0) NOT NULL,
  tx_count INT NOT NULL
);
`
	_, err := r.pool.Exec(ctx, ddl)
	return err
}

func (r *Postgres) InsertPendingTx(ctx context.Context, tx mempool.PendingTx) error {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var toAddr any = nil
	if tx.To != nil {
		toAddr = tx.To.Hex()
	}

	q := `
INSERT INTO transactions(
  tx_hash, from_addr, to_addr,
  max_priority_fee_wei, max_fee_wei, value_wei,
  nonce, gas_limit, input_data_size,
  first_seen_at, status
) VALUES (
  $1, $2, $3,
  $4::numeric, $5::numeric, $6::numeric,
  $7, $8, $9,
  $10, 'pending'
)
ON CONFLICT(tx_hash) DO NOTHING
`
	_, err := r.pool.Exec(cctx, q,
		tx.Hash, tx.From.Hex(), toAddr,
		tx.MaxPriorityFee.Dec(), tx.MaxFee.Dec(), tx.Value.Dec(),
		int64(tx.Nonce), int64(tx.GasLimit), tx.InputDataSize,
		time.Unix(tx.FirstSeen, 0).UTC(),
	)
	return err
}

func (r *Postgres) UpdateTxStatus(ctx context.Context, hash string, status mempool.TxStatus) error {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return updateStatus(cctx, r.pool, hash, status)
}

func (r *Postgres) InsertCensorshipEvent(ctx context.Context, ev mempool.CensorshipEvent) error {
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var toAddr any = nil
	if ev.To != nil {
		toAddr = ev.To.Hex()
	}

	return pgx.BeginFunc(cctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(cctx, `
INSERT INTO censorship_events(
  id, tx_hash, from_addr, to_addr,
  priority_fee_wei, threshold_fee_wei, fee_percentile,
  blocks_pending, seconds_pending, confidence_score,
  detected_at_block, detected_at
) VALUES (
  $1::uuid, $2, $3, $4,
  $5::numeric, $6::numeric, $7,
  $8, $9, $10,
  $11, $12
)`,
			ev.ID.String(), ev.TxHash, ev.From.Hex(), toAddr,
			ev.PriorityFee.Dec(), ev.ThresholdFee.Dec(), ev.FeePercentile,
			int64(ev.BlocksPending), ev.SecondsPending, ev.ConfidenceScore,
			int64(ev.DetectedAtBlock), time.Unix(ev.DetectedAt, 0).UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		return updateStatus(cctx, tx, ev.TxHash, mempool.PotentiallyCensored())
	})
}

func (r *Postgres) UpsertBlock(ctx context.Context, b mempool.MinedBlock) error {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	q := `
INSERT INTO blocks(block_number, block_time, base_fee_wei, gas_used, gas_limit, tx_count)
VALUES ($1, $2, $3::numeric, $4, $5, $6)
ON CONFLICT(block_number) DO UPDATE SET
  block_time   = EXCLUDED.block_time,
  base_fee_wei = EXCLUDED.base_fee_wei,
  gas_used     = EXCLUDED.gas_used,
  gas_limit    = EXCLUDED.gas_limit,
  tx_count     = EXCLUDED.tx_count,
  created_at   = now()
`
	_, err := r.pool.Exec(cctx, q,
		int64(b.Number), time.Unix(int64(b.Timestamp), 0).UTC(), b.BaseFee.Dec(),
		int64(b.GasUsed), int64(b.GasLimit), len(b.TxHashes),
	)
	return err
}

func (r *Postgres) InsertSnapshot(ctx context.Context, snap mempool.MempoolSnapshot, blockNumber uint64) error {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	p := snap.Percentiles
	_, err := r.pool.Exec(cctx, `
INSERT INTO mempool_snapshots(taken_at, block_number, p25_fee_wei, p50_fee_wei, p75_fee_wei, p90_fee_wei, tx_count)
VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6::numeric, $7)`,
		time.Unix(snap.Timestamp, 0).UTC(), int64(blockNumber),
		p.P25.Dec(), p.P50.Dec(), p.P75.Dec(), p.P90.Dec(), snap.TxCount,
	)
	return err
}

// CleanupOldData drops non-censored transactions, blocks and snapshots older
// than retention. Censored transactions are kept with their events.
func (r *Postgres) CleanupOldData(ctx context.Context, retention time.Duration) (storage.CleanupResult, error) {
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-retention).UTC()
	var res storage.CleanupResult

	tag, err := r.pool.Exec(cctx,
		`DELETE FROM transactions WHERE status <> 'censored' AND updated_at < $1`, cutoff)
	if err != nil {
		return res, fmt.Errorf("delete transactions: %w", err)
	}
	res.Transactions = tag.RowsAffected()

	tag, err = r.pool.Exec(cctx, `DELETE FROM blocks WHERE created_at < $1`, cutoff)
	if err != nil {
		return res, fmt.Errorf("delete blocks: %w", err)
	}
	res.Blocks = tag.RowsAffected()

	if _, err := r.pool.Exec(cctx, `DELETE FROM mempool_snapshots WHERE taken_at < $1`, cutoff); err != nil {
		return res, fmt.Errorf("delete snapshots: %w", err)
	}
	return res, nil
}

func (r *Postgres) ListRecentEvents(ctx context.Context, limit int) ([]storage.EventItem, error) {
	if limit <= 0 {
		limit = 10
	}
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	q := `
SELECT
  detected_at,
  tx_hash,
  from_addr,
  to_addr,
  priority_fee_wei::text,
  threshold_fee_wei::text,
  fee_percentile,
  blocks_pending,
  seconds_pending,
  confidence_score,
  detected_at_block
FROM censorship_events
ORDER BY detected_at DESC
LIMIT $1
`
	rows, err := r.pool.Query(cctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.EventItem
	for rows.Next() {
		var (
			it           storage.EventItem
			blocks       int64
			detectedAtBn int64
		)
		if err := rows.Scan(
			&it.DetectedAt, &it.TxHash, &it.FromAddr, &it.ToAddr,
			&it.PriorityFeeWei, &it.ThresholdFeeWei,
			&it.FeePercentile, &blocks, &it.SecondsPending, &it.ConfidenceScore,
			&detectedAtBn,
		); err != nil {
			return nil, err
		}
		it.BlocksPending = uint64(blocks)
		it.DetectedAtBlock = uint64(detectedAtBn)
		out = append(out, it)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return out, nil
}

func (r *Postgres) String() string { return fmt.Sprintf("pgrepo(%p)", r.pool) }

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func updateStatus(ctx context.Context, db execer, hash string, status mempool.TxStatus) error {
	var block any = nil
	if status.Kind == mempool.StatusIncluded {
		block = int64(status.BlockNumber)
	}

	_, err := db.Exec(ctx, `
UPDATE transactions
SET status = $1,
    included_in_block = COALESCE($2, included_in_block),
    updated_at = now()
WHERE tx_hash = $3`,
		status.Label(), block, hash,
	)
	return err
}
