package mempool

import (
	"slices"
	"sync"
	"time"

	"github.com/holiman/uint256"
)

type Option func(*Tracker)

// WithClock overrides the wall clock used for LastChecked, snapshot
// timestamps and cleanup cutoffs.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// Tracker is the single source of truth for tracked transactions and the
// pending fee distribution.
//
// One RWMutex guards both the map and the distribution. The distribution
// always holds exactly the priority fees of the entries in StatusPending.
type Tracker struct {
	mu   sync.RWMutex
	txs  map[string]*TrackedTx
	fees []uint256.Int

	// feeOwner[i] is the hash whose fee sits in fees[i]; feeIdx is the reverse.
	feeOwner []string
	feeIdx   map[string]int

	now func() time.Time
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		txs:    make(map[string]*TrackedTx),
		feeIdx: make(map[string]int),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Add starts tracking tx as pending. Re-adding a known hash is a no-op and
// returns false.
func (t *Tracker) Add(tx PendingTx) bool {
	if tx.To != nil {
		to := *tx.To
		tx.To = &to
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.txs[tx.Hash]; ok {
		return false
	}

	t.txs[tx.Hash] = &TrackedTx{
		Tx:          tx,
		Status:      Pending(),
		LastChecked: t.now().Unix(),
	}
	t.appendFee(tx.Hash, &tx.MaxPriorityFee)
	return true
}

// MarkIncluded moves every pending tx whose hash is in hashes to
// Included{blockNumber}. Unknown and non-pending hashes are ignored.
// Returns the hashes that actually transitioned.
func (t *Tracker) MarkIncluded(hashes []string, blockNumber uint64) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts := t.now().Unix()

	var moved []string
	for _, h := range hashes {
		tt, ok := t.txs[h]
		if !ok || !tt.Status.IsPending() {
			continue
		}
		tt.Status = Included(blockNumber)
		tt.LastChecked = ts
		t.removeFee(h)
		moved = append(moved, h)
	}
	return moved
}

// MarkCensored moves a pending tx to PotentiallyCensored.
func (t *Tracker) MarkCensored(hash string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	tt, ok := t.txs[hash]
	if !ok || !tt.Status.IsPending() {
		return false
	}
	tt.Status = PotentiallyCensored()
	tt.LastChecked = t.now().Unix()
	t.removeFee(hash)
	return true
}

func (t *Tracker) Snapshot() MempoolSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.snapshotLocked()
}

// PendingTransactions returns copies of every tracked tx still pending.
func (t *Tracker) PendingTransactions() []TrackedTx {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.pendingLocked()
}

// SnapshotAndPending captures the snapshot and the pending list under one
// read lock, so nothing can be added or transition between the two.
func (t *Tracker) SnapshotAndPending() (MempoolSnapshot, []TrackedTx) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.snapshotLocked(), t.pendingLocked()
}

// Cleanup evicts included/dropped txs whose LastChecked is older than
// now-maxAge. Pending and PotentiallyCensored entries are never evicted.
// Only non-pending entries are removed, so the fee distribution is untouched.
// Returns the evicted hashes.
func (t *Tracker) Cleanup(maxAge time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-maxAge).Unix()

	var evicted []string
	for h, tt := range t.txs {
		switch tt.Status.Kind {
		case StatusPending, StatusPotentiallyCensored:
			continue
		}
		if tt.LastChecked < cutoff {
			delete(t.txs, h)
			evicted = append(evicted, h)
		}
	}

	return evicted
}

// PendingCount is the number of pending entries, read without copying them.
func (t *Tracker) PendingCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.fees)
}

func (t *Tracker) TrackedCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.txs)
}

func (t *Tracker) Get(hash string) (TrackedTx, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tt, ok := t.txs[hash]
	if !ok {
		return TrackedTx{}, false
	}
	return *tt, true
}

func (t *Tracker) snapshotLocked() MempoolSnapshot {
	sorted := slices.Clone(t.fees)
	slices.SortFunc(sorted, func(a, b uint256.Int) int { return a.Cmp(&b) })

	return MempoolSnapshot{
		Timestamp:   t.now().Unix(),
		Percentiles: Percentiles(sorted),
		TxCount:     len(t.txs),
	}
}

func (t *Tracker) pendingLocked() []TrackedTx {
	out := make([]TrackedTx, 0, len(t.txs))
	for _, tt := range t.txs {
		if tt.Status.IsPending() {
			out = append(out, *tt)
		}
	}
	return out
}

func (t *Tracker) appendFee(hash string, fee *uint256.Int) {
	t.feeIdx[hash] = len(t.fees)
	t.fees = append(t.fees, *fee)
	t.feeOwner = append(t.feeOwner, hash)
}

// removeFee drops the fee owned by hash in O(1). Order of the distribution is
// not significant, so the last element takes its place.
func (t *Tracker) removeFee(hash string) {
	i, ok := t.feeIdx[hash]
	if !ok {
		return
	}
	last := len(t.fees) - 1
	if i != last {
		t.fees[i] = t.fees[last]
		t.feeOwner[i] = t.feeOwner[last]
		t.feeIdx[t.feeOwner[i]] = i
	}
	t.fees = t.fees[:last]
	t.feeOwner = t.feeOwner[:last]
	delete(t.feeIdx, hash)
}
