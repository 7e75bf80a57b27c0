package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/pvzzle/censorwatch/internal/bus"
	"github.com/pvzzle/censorwatch/internal/detect"
	"github.com/pvzzle/censorwatch/internal/ethwatch"
	"github.com/pvzzle/censorwatch/internal/mempool"
	"github.com/pvzzle/censorwatch/internal/sink"
	"github.com/pvzzle/censorwatch/internal/storage"
	"github.com/pvzzle/censorwatch/internal/subs"

	"github.com/VictoriaMetrics/metrics"
)

var (
	pendingAddedCounter    = metrics.GetOrCreateCounter(`censorwatch_pending_added_total`)
	blocksCounter          = metrics.GetOrCreateCounter(`censorwatch_blocks_processed_total`)
	includedCounter        = metrics.GetOrCreateCounter(`censorwatch_txs_included_total`)
	eventsCounter          = metrics.GetOrCreateCounter(`censorwatch_censorship_events_total`)
	detectionErrorsCounter = metrics.GetOrCreateCounter(`censorwatch_detection_errors_total`)
	persistErrorsCounter   = metrics.GetOrCreateCounter(`censorwatch_persist_errors_total`)
	sinkErrorsCounter      = metrics.GetOrCreateCounter(`censorwatch_sink_errors_total`)
	evictedCounter         = metrics.GetOrCreateCounter(`censorwatch_tracker_evicted_total`)
	detectionTimer         = metrics.GetOrCreateSummary(`censorwatch_detection_pass_seconds`)
)

// Pipeline wires ingestion into the tracker, runs one detection pass per
// block and fans the results out to storage, the event sink and chat alerts.
//
// Every hash that leaves Pending in the tracker is also dropped from the
// detector's first-seen bookkeeping here; nothing else keeps the two in sync.
type Pipeline struct {
	tracker  *mempool.Tracker
	detector *detect.Detector
	repo     storage.Repository

	sink     sink.Sink             // nil = disabled
	subStore *subs.Store           // nil = no chat alerts
	notifyCh chan<- bus.Notification
}

func New(
	tracker *mempool.Tracker,
	detector *detect.Detector,
	repo storage.Repository,
	evSink sink.Sink,
	subStore *subs.Store,
	notifyCh chan<- bus.Notification,
) *Pipeline {
	return &Pipeline{
		tracker:  tracker,
		detector: detector,
		repo:     repo,
		sink:     evSink,
		subStore: subStore,
		notifyCh: notifyCh,
	}
}

// AddPending tracks tx and persists it if it was not known yet.
//
// A block can mark tx included between tracker.Add and the insert; its status
// update then hits no row. The status is re-read after the insert and written
// again if tx already left Pending.
func (p *Pipeline) AddPending(ctx context.Context, tx mempool.PendingTx) {
	if !p.tracker.Add(tx) {
		return
	}
	pendingAddedCounter.Inc()

	if err := p.repo.InsertPendingTx(ctx, tx); err != nil {
		persistErrorsCounter.Inc()
		log.Printf("[pipeline] db insert tx %s error: %v", tx.Hash, err)
		return
	}

	tt, ok := p.tracker.Get(tx.Hash)
	if !ok || tt.Status.IsPending() {
		return
	}
	if err := p.repo.UpdateTxStatus(ctx, tx.Hash, tt.Status); err != nil {
		persistErrorsCounter.Inc()
		log.Printf("[pipeline] db status %s -> %s error: %v", tx.Hash, tt.Status, err)
	}
}

// OnBlock marks the block's txs as included and runs a detection pass at the
// block height.
func (p *Pipeline) OnBlock(ctx context.Context, b mempool.MinedBlock) {
	blocksCounter.Inc()

	if err := p.repo.UpsertBlock(ctx, b); err != nil {
		persistErrorsCounter.Inc()
		log.Printf("[pipeline] db upsert block #%d error: %v", b.Number, err)
		// память обновляем в любом случае
	}

	included := p.tracker.MarkIncluded(b.TxHashes, b.Number)
	p.detector.Forget(included...)
	includedCounter.Add(len(included))

	status := mempool.Included(b.Number)
	for _, h := range included {
		if err := p.repo.UpdateTxStatus(ctx, h, status); err != nil {
			persistErrorsCounter.Inc()
			log.Printf("[pipeline] db status %s -> %s error: %v", h, status, err)
		}
	}

	p.Detect(ctx, b.Number)
}

// Detect runs one detection pass and returns the events that were acted on.
// A failed pass is logged and skipped; the next block retries.
func (p *Pipeline) Detect(ctx context.Context, blockNumber uint64) []mempool.CensorshipEvent {
	start := time.Now()
	res, err := p.detector.Scan(blockNumber)
	detectionTimer.UpdateDuration(start)
	if err != nil {
		detectionErrorsCounter.Inc()
		log.Printf("[pipeline] detection pass at #%d aborted: %v (tracked=%d)", blockNumber, err, p.tracker.TrackedCount())
		return nil
	}

	if err := p.repo.InsertSnapshot(ctx, res.Snapshot, blockNumber); err != nil {
		persistErrorsCounter.Inc()
		log.Printf("[pipeline] db snapshot #%d error: %v", blockNumber, err)
	}

	var out []mempool.CensorshipEvent
	for _, ev := range res.Events {
		if !p.tracker.MarkCensored(ev.TxHash) {
			log.Printf("[pipeline] %s left pending before it could be flagged, skip", ev.TxHash)
			continue
		}
		p.detector.Forget(ev.TxHash)
		eventsCounter.Inc()

		log.Printf("[pipeline] suspect %s conf=%.2f blocks=%d secs=%d bucket=%.2f",
			ev.TxHash, ev.ConfidenceScore, ev.BlocksPending, ev.SecondsPending, ev.FeePercentile)

		p.publish(ctx, ev)
		out = append(out, ev)
	}
	return out
}

func (p *Pipeline) publish(ctx context.Context, ev mempool.CensorshipEvent) {
	if err := p.repo.InsertCensorshipEvent(ctx, ev); err != nil {
		persistErrorsCounter.Inc()
		log.Printf("[pipeline] db insert event %s error: %v", ev.TxHash, err)
	}

	if p.sink != nil {
		if err := p.sink.Emit(ctx, sink.TypeCensorshipEvent, ev.TxHash, sink.NewEventMessage(ev)); err != nil {
			sinkErrorsCounter.Inc()
			log.Printf("[pipeline] sink emit %s error: %v", ev.TxHash, err)
		}
	}

	if p.subStore == nil || p.notifyCh == nil {
		return
	}
	recipients := p.subStore.MatchEvent(ev)
	if len(recipients) == 0 {
		return
	}

	text := ethwatch.FormatEventAlert(ev)
	for _, chatID := range recipients {
		// detection не должен ждать телеграм
		select {
		case p.notifyCh <- bus.Notification{ChatID: chatID, Text: text}:
		default:
			log.Printf("[pipeline] notify queue full, drop alert for chat %d", chatID)
		}
	}
}

// Cleanup evicts stale non-pending txs from memory and old rows from storage.
func (p *Pipeline) Cleanup(ctx context.Context, maxAge, retention time.Duration) {
	evicted := p.tracker.Cleanup(maxAge)
	p.detector.Forget(evicted...)
	evictedCounter.Add(len(evicted))

	res, err := p.repo.CleanupOldData(ctx, retention)
	if err != nil {
		persistErrorsCounter.Inc()
		log.Printf("[pipeline] db cleanup error: %v", err)
	}

	log.Printf("[pipeline] cleanup: evicted=%d tracked=%d first_seen=%d db_txs=%d db_blocks=%d",
		len(evicted), p.tracker.TrackedCount(), p.detector.FirstSeenCount(), res.Transactions, res.Blocks)
}

func (p *Pipeline) RunCleanup(ctx context.Context, interval, maxAge, retention time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.Cleanup(ctx, maxAge, retention)
		}
	}
}
