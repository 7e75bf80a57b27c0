package detect

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pvzzle/censorwatch/internal/mempool"
)

var ErrInconsistentView = errors.New("inconsistent mempool view")

type Config struct {
	MinPendingBlocks  uint64
	MinPendingSeconds int64
}

type Option func(*Detector)

func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// Source is the read side of the tracker the detector needs.
type Source interface {
	SnapshotAndPending() (mempool.MempoolSnapshot, []mempool.TrackedTx)
}

// Detector scores pending transactions for censorship likelihood.
//
// It keeps the block height at which each hash was first seen pending. An
// entry is never overwritten or evicted while the hash stays pending; the
// caller owns pruning it: every hash that leaves Pending (included, censored,
// evicted) must be passed to Forget.
type Detector struct {
	src Source
	cfg Config

	mu        sync.Mutex
	firstSeen map[string]uint64

	now func() time.Time
}

type ScanResult struct {
	Snapshot mempool.MempoolSnapshot
	Events   []mempool.CensorshipEvent
}

func New(src Source, cfg Config, opts ...Option) *Detector {
	d := &Detector{
		src:       src,
		cfg:       cfg,
		firstSeen: make(map[string]uint64),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Scan runs one detection pass at currentBlock. Events are sorted by tx hash.
// An error aborts this pass only; the next pass starts from scratch.
func (d *Detector) Scan(currentBlock uint64) (ScanResult, error) {
	snap, pending := d.src.SnapshotAndPending()

	if err := validateView(pending); err != nil {
		return ScanResult{Snapshot: snap}, err
	}

	now := d.now().Unix()

	var events []mempool.CensorshipEvent
	for i := range pending {
		if ev, ok := d.analyze(&pending[i], currentBlock, now, &snap); ok {
			events = append(events, ev)
		}
	}

	sort.Slice(events, func(i, j int) bool { return events[i].TxHash < events[j].TxHash })

	return ScanResult{Snapshot: snap, Events: events}, nil
}

func (d *Detector) analyze(tt *mempool.TrackedTx, currentBlock uint64, now int64, snap *mempool.MempoolSnapshot) (mempool.CensorshipEvent, bool) {
	tx := &tt.Tx
	timeInMempool := now - tx.FirstSeen

	firstSeenBlock := d.recordFirstSeen(tx.Hash, currentBlock)

	var blocksWaited uint64
	if currentBlock > firstSeenBlock {
		blocksWaited = currentBlock - firstSeenBlock
	}

	threshold := snap.Percentiles.P25
	if threshold.IsZero() {
		return mempool.CensorshipEvent{}, false
	}

	hasCompetitiveFee := !tx.MaxPriorityFee.Lt(&threshold)
	waitedLongEnough := blocksWaited >= d.cfg.MinPendingBlocks &&
		timeInMempool >= d.cfg.MinPendingSeconds

	if !hasCompetitiveFee || !waitedLongEnough {
		return mempool.CensorshipEvent{}, false
	}

	ratio := FeeRatio(&tx.MaxPriorityFee, &threshold)
	if ratio < 1.0 {
		return mempool.CensorshipEvent{}, false
	}

	ev := mempool.CensorshipEvent{
		ID:              uuid.New(),
		TxHash:          tx.Hash,
		From:            tx.From,
		PriorityFee:     tx.MaxPriorityFee,
		ThresholdFee:    threshold,
		FeePercentile:   PercentileBucket(&tx.MaxPriorityFee, snap.Percentiles),
		BlocksPending:   blocksWaited,
		SecondsPending:  timeInMempool,
		ConfidenceScore: Confidence(ratio, blocksWaited),
		DetectedAtBlock: currentBlock,
		DetectedAt:      now,
	}
	if tx.To != nil {
		to := *tx.To
		ev.To = &to
	}
	return ev, true
}

// recordFirstSeen stores currentBlock for hash unless an entry already
// exists, and returns the stored value.
func (d *Detector) recordFirstSeen(hash string, currentBlock uint64) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.firstSeen[hash]; ok {
		return prev
	}
	d.firstSeen[hash] = currentBlock
	return currentBlock
}

// Forget drops first-seen entries for hashes that are no longer pending.
func (d *Detector) Forget(hashes ...string) {
	if len(hashes) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, h := range hashes {
		delete(d.firstSeen, h)
	}
}

func (d *Detector) FirstSeenBlock(hash string) (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.firstSeen[hash]
	return b, ok
}

func (d *Detector) FirstSeenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.firstSeen)
}

func validateView(pending []mempool.TrackedTx) error {
	seen := make(map[string]struct{}, len(pending))
	for i := range pending {
		tt := &pending[i]
		if !tt.Status.IsPending() {
			return fmt.Errorf("%w: %s listed as pending with status %s", ErrInconsistentView, tt.Tx.Hash, tt.Status)
		}
		if _, dup := seen[tt.Tx.Hash]; dup {
			return fmt.Errorf("%w: duplicate pending entry %s", ErrInconsistentView, tt.Tx.Hash)
		}
		seen[tt.Tx.Hash] = struct{}{}
	}
	return nil
}
