package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pvzzle/censorwatch/internal/mempool"
	"github.com/pvzzle/censorwatch/internal/storage"
	"github.com/pvzzle/censorwatch/internal/storage/pg"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"
)

type opType int

const (
	opReadEvents opType = iota
	opWritePending
	opWriteEvent
)

func (o opType) String() string {
	switch o {
	case opReadEvents:
		return "read_events"
	case opWritePending:
		return "write_pending"
	case opWriteEvent:
		return "write_event"
	default:
		return "unknown"
	}
}

func main() {
	var (
		dsn        = flag.String("dsn", "", "Postgres DSN")
		dur        = flag.Duration("dur", 60*time.Second, "test duration")
		warmup     = flag.Duration("warmup", 5*time.Second, "warmup duration (not counted)")
		avgRPS     = flag.Int("avg-rps", 300, "avg RPS")
		peakRPS    = flag.Int("peak-rps", 1500, "peak RPS (during ramp)")
		ramp       = flag.Duration("ramp", 10*time.Second, "ramp-up duration to peak")
		writes     = flag.Int("writes", 20, "pending-tx writes per 1 event read (mempool is write-heavy)")
		eventEvery = flag.Int("event-every", 50, "one censorship event per N pending writes")
		workers    = flag.Int("workers", 64, "concurrent workers")
		listLimit  = flag.Int("list-limit", 10, "recent events limit")
	)
	flag.Parse()

	if *dsn == "" {
		panic("dsn required")
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, *dsn)
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	repo := pg.New(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		panic(err)
	}

	pattern := buildPattern(*writes, *eventEvery)

	fmt.Println("starting warmup:", *warmup)
	runPhase(ctx, repo, *workers, *avgRPS, *avgRPS, 0, *warmup, pattern, *listLimit, false)

	fmt.Println("starting measured test:", *dur)
	res := runPhase(ctx, repo, *workers, *avgRPS, *peakRPS, *ramp, *dur, pattern, *listLimit, true)

	printReport(res)
}

// buildPattern: `writes` pending inserts, then one read; every eventEvery-th
// insert is followed by an event for that tx.
func buildPattern(writes, eventEvery int) []opType {
	if writes <= 0 {
		writes = 1
	}
	var out []opType
	for i := 1; i <= writes; i++ {
		out = append(out, opWritePending)
		if eventEvery > 0 && i%eventEvery == 0 {
			out = append(out, opWriteEvent)
		}
	}
	return append(out, opReadEvents)
}

type results struct {
	ops       [3]atomic.Uint64
	errOps    atomic.Uint64
	latencies map[opType][]time.Duration // measured ops only

	startedAt  time.Time
	finishedAt time.Time
}

func runPhase(
	ctx context.Context,
	repo storage.Repository,
	workers int,
	avgRPS int,
	peakRPS int,
	ramp time.Duration,
	dur time.Duration,
	pattern []opType,
	listLimit int,
	collect bool,
) *results {
	ctx, cancel := context.WithTimeout(ctx, dur)
	defer cancel()

	lim := rate.NewLimiter(rate.Limit(avgRPS), avgRPS)

	jobs := make(chan opType, 1024)

	res := &results{latencies: make(map[opType][]time.Duration)}
	var mu sync.Mutex

	res.startedAt = time.Now()

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano()))
			// последний записанный hash воркера, на него вешаем event (FK)
			var lastHash string

			for op := range jobs {
				t0 := time.Now()
				err := doOp(ctx, repo, op, r, listLimit, &lastHash)
				dt := time.Since(t0)

				res.ops[op].Add(1)
				if err != nil {
					res.errOps.Add(1)
					continue
				}
				if collect {
					mu.Lock()
					res.latencies[op] = append(res.latencies[op], dt)
					mu.Unlock()
				}
			}
		}()
	}

	go func() {
		defer close(jobs)

		idx := 0
		rampStart := time.Now()

		for {
			if err := lim.Wait(ctx); err != nil {
				return
			}

			// линейно от avgRPS к peakRPS
			if ramp > 0 {
				el := time.Since(rampStart)
				if el < ramp {
					cur := float64(avgRPS) + (float64(peakRPS-avgRPS) * (float64(el) / float64(ramp)))
					lim.SetLimit(rate.Limit(cur))
				} else {
					lim.SetLimit(rate.Limit(peakRPS))
				}
			}

			select {
			case jobs <- pattern[idx]:
			case <-ctx.Done():
				return
			}
			idx = (idx + 1) % len(pattern)
		}
	}()

	wg.Wait()
	res.finishedAt = time.Now()
	return res
}

func doOp(ctx context.Context, repo storage.Repository, op opType, r *rand.Rand, listLimit int, lastHash *string) error {
	switch op {
	case opReadEvents:
		_, err := repo.ListRecentEvents(ctx, listLimit)
		return err

	case opWritePending:
		tx := fakePendingTx(r)
		if err := repo.InsertPendingTx(ctx, tx); err != nil {
			return err
		}
		*lastHash = tx.Hash
		return nil

	case opWriteEvent:
		if *lastHash == "" {
			return nil
		}
		ev := fakeEvent(r, *lastHash)
		*lastHash = ""
		return repo.InsertCensorshipEvent(ctx, ev)

	default:
		return nil
	}
}

func fakePendingTx(r *rand.Rand) mempool.PendingTx {
	to := fakeAddr(r)
	return mempool.PendingTx{
		Hash:           fmt.Sprintf("0x%064x", r.Uint64()),
		From:           fakeAddr(r),
		To:             &to,
		MaxPriorityFee: *uint256.NewInt(uint64(1+r.Intn(5)) * 1_000_000_000),
		MaxFee:         *uint256.NewInt(50_000_000_000),
		Value:          *uint256.NewInt(1_000_000_000_000_000_000),
		Nonce:          uint64(r.Intn(1000)),
		GasLimit:       21000,
		FirstSeen:      time.Now().Unix(),
	}
}

func fakeAddr(r *rand.Rand) common.Address {
	return common.HexToAddress(fmt.Sprintf("0x%040x", r.Uint64()))
}

func fakeEvent(r *rand.Rand, hash string) mempool.CensorshipEvent {
	blocks := uint64(3 + r.Intn(20))
	return mempool.CensorshipEvent{
		ID:              uuid.New(),
		TxHash:          hash,
		From:            fakeAddr(r),
		PriorityFee:     *uint256.NewInt(5_000_000_000),
		ThresholdFee:    *uint256.NewInt(1_000_000_000),
		FeePercentile:   0.9,
		BlocksPending:   blocks,
		SecondsPending:  int64(blocks * 12),
		ConfidenceScore: r.Float64(),
		DetectedAtBlock: uint64(20_000_000 + r.Intn(1_000_000)),
		DetectedAt:      time.Now().Unix(),
	}
}

func printReport(res *results) {
	d := res.finishedAt.Sub(res.startedAt)

	var total uint64
	for i := range res.ops {
		total += res.ops[i].Load()
	}

	fmt.Printf("\n== REPORT ==\n")
	fmt.Printf("duration: %s\n", d)
	fmt.Printf("ops: total=%d read_events=%d write_pending=%d write_event=%d errors=%d\n",
		total,
		res.ops[opReadEvents].Load(), res.ops[opWritePending].Load(), res.ops[opWriteEvent].Load(),
		res.errOps.Load(),
	)
	if d > 0 {
		fmt.Printf("throughput: %.2f ops/s\n", float64(total)/d.Seconds())
	}

	for _, op := range []opType{opWritePending, opWriteEvent, opReadEvents} {
		lat := res.latencies[op]
		if len(lat) == 0 {
			fmt.Printf("%s: no latency samples\n", op)
			continue
		}
		sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
		p := func(q float64) time.Duration {
			return lat[int(q*float64(len(lat)-1))]
		}
		fmt.Printf("%s: p50=%s p95=%s p99=%s max=%s\n", op, p(0.50), p(0.95), p(0.99), lat[len(lat)-1])
	}
}
