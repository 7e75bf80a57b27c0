package ethwatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/pvzzle/censorwatch/internal/mempool"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

type PendingHandler interface {
	AddPending(ctx context.Context, tx mempool.PendingTx)
}

type BlockHandler interface {
	OnBlock(ctx context.Context, b mempool.MinedBlock)
}

// PendingSubscriber is satisfied by *gethclient.Client.
type PendingSubscriber interface {
	SubscribePendingTransactions(ctx context.Context, ch chan<- common.Hash) (*rpc.ClientSubscription, error)
}

// TxFetcher is satisfied by *ethclient.Client.
type TxFetcher interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
}

// HeadSource is satisfied by *ethclient.Client.
type HeadSource interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	BlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error)
}

type PendingWatcherConfig struct {
	Workers     int
	TasksBuffer int
	// FetchRPS limits TransactionByHash calls across all workers.
	FetchRPS float64
	// SeenCacheSize bounds the set of already resolved hashes that are not
	// fetched again when the node re-announces them.
	SeenCacheSize int
}

type pendingTask struct {
	Hash   common.Hash
	SeenAt time.Time
}

// PendingWatcher follows newPendingTransactions and resolves every hash to a
// full transaction through a rate-limited worker pool.
type PendingWatcher struct {
	sub     PendingSubscriber
	fetcher TxFetcher
	signer  types.Signer
	handler PendingHandler

	cfg     PendingWatcherConfig
	limiter *rate.Limiter
	seen    *lru.Cache[common.Hash, struct{}]

	tasks chan pendingTask
	wg    sync.WaitGroup

	now func() time.Time
}

func NewPendingWatcher(
	sub PendingSubscriber,
	fetcher TxFetcher,
	chainID *big.Int,
	handler PendingHandler,
	cfg PendingWatcherConfig,
) *PendingWatcher {

	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}

	if cfg.TasksBuffer <= 0 {
		cfg.TasksBuffer = 1024
	}

	if cfg.SeenCacheSize <= 0 {
		cfg.SeenCacheSize = 100_000
	}
	// размер > 0, ошибки не будет
	seen, _ := lru.New[common.Hash, struct{}](cfg.SeenCacheSize)

	limit := rate.Inf
	if cfg.FetchRPS > 0 {
		limit = rate.Limit(cfg.FetchRPS)
	}

	return &PendingWatcher{
		sub:     sub,
		fetcher: fetcher,
		signer:  types.LatestSignerForChainID(chainID),
		handler: handler,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Workers),
		seen:    seen,
		now:     time.Now,
	}
}

func (w *PendingWatcher) Start(ctx context.Context) error {
	w.tasks = make(chan pendingTask, w.cfg.TasksBuffer)
	w.startWorkers(ctx)
	defer w.stopWorkers()

	hashes := make(chan common.Hash, 1024)

	sub, err := w.sub.SubscribePendingTransactions(ctx, hashes)
	if err != nil {
		return fmt.Errorf("SubscribePendingTransactions: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-sub.Err():
			return fmt.Errorf("pending subscription error: %w", err)

		case h := <-hashes:
			if w.seen.Contains(h) {
				continue
			}
			task := pendingTask{Hash: h, SeenAt: w.now()}

			select {
			case w.tasks <- task:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (w *PendingWatcher) startWorkers(ctx context.Context) {
	for i := 0; i < w.cfg.Workers; i++ {
		w.wg.Add(1)
		go func(workerID int) {
			defer w.wg.Done()

			for {
				select {
				case <-ctx.Done():
					return

				case task, ok := <-w.tasks:
					if !ok {
						return
					}
					w.handleTask(ctx, task)
				}
			}
		}(i)
	}
}

func (w *PendingWatcher) stopWorkers() {
	close(w.tasks)
	w.wg.Wait()
}

func (w *PendingWatcher) handleTask(ctx context.Context, task pendingTask) {
	if err := w.limiter.Wait(ctx); err != nil {
		return
	}

	tx, isPending, err := w.fetcher.TransactionByHash(ctx, task.Hash)
	if err != nil {
		// уже смайнена или выкинута из пула, пропускаем
		if !errors.Is(err, ethereum.NotFound) {
			log.Printf("[watcher] tx fetch %s error: %v", task.Hash.Hex(), err)
		}
		return
	}
	w.seen.Add(task.Hash, struct{}{})
	if !isPending {
		return
	}

	ptx, err := ToPendingTx(tx, w.signer, task.SeenAt)
	if err != nil {
		log.Printf("[watcher] skip tx %s: %v", task.Hash.Hex(), err)
		return
	}

	w.handler.AddPending(ctx, ptx)
}

// BlockWatcher follows new heads and hands every full block to the handler
// in arrival order.
type BlockWatcher struct {
	src     HeadSource
	handler BlockHandler
}

func NewBlockWatcher(src HeadSource, handler BlockHandler) *BlockWatcher {
	return &BlockWatcher{src: src, handler: handler}
}

func (w *BlockWatcher) Start(ctx context.Context) error {
	headers := make(chan *types.Header, 128)

	sub, err := w.src.SubscribeNewHead(ctx, headers)
	if err != nil {
		return fmt.Errorf("SubscribeNewHead: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-sub.Err():
			return fmt.Errorf("subscription error: %w", err)

		case h := <-headers:
			if h == nil {
				continue
			}
			w.handleHeader(ctx, h)
		}
	}
}

func (w *BlockWatcher) handleHeader(ctx context.Context, h *types.Header) {
	block, err := w.src.BlockByHash(ctx, h.Hash())
	if err != nil {
		log.Printf("[watcher] block fetch error: %v", err)
		return
	}

	mb, err := ToMinedBlock(block)
	if err != nil {
		log.Printf("[watcher] skip block #%d: %v", block.NumberU64(), err)
		return
	}

	log.Printf("[watcher] new block %s", FormatBlockLine(mb))
	w.handler.OnBlock(ctx, mb)
}
