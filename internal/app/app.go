package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pvzzle/censorwatch/internal/bus"
	"github.com/pvzzle/censorwatch/internal/detect"
	"github.com/pvzzle/censorwatch/internal/ethwatch"
	"github.com/pvzzle/censorwatch/internal/mempool"
	"github.com/pvzzle/censorwatch/internal/pipeline"
	"github.com/pvzzle/censorwatch/internal/sink"
	"github.com/pvzzle/censorwatch/internal/storage/pg"
	"github.com/pvzzle/censorwatch/internal/subs"
	"github.com/pvzzle/censorwatch/internal/tg"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"
	tgbot "github.com/go-telegram/bot"
	"github.com/jackc/pgx/v5/pgxpool"
)

var watcherBackoff = backoff{Base: time.Second, Max: time.Minute}

func Run(ctx context.Context) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	pgPool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("pgxpool new: %w", err)
	}
	defer pgPool.Close()

	repo := pg.New(pgPool)
	if err := repo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	rpcCl, err := rpc.DialContext(ctx, cfg.EthWSURL)
	if err != nil {
		return fmt.Errorf("dial eth ws: %w", err)
	}
	defer rpcCl.Close()

	ethCl := ethclient.NewClient(rpcCl)
	gethCl := gethclient.New(rpcCl)

	chainID, err := ethCl.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain id: %w", err)
	}

	tracker := mempool.NewTracker()
	det := detect.New(tracker, detect.Config{
		MinPendingBlocks:  cfg.MinPendingBlocks,
		MinPendingSeconds: cfg.MinPendingSeconds,
	})

	var evSink sink.Sink
	if len(cfg.KafkaBrokers) > 0 {
		ks, err := sink.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return fmt.Errorf("kafka sink init: %w", err)
		}
		defer ks.Close()
		evSink = ks
	}

	// без бота алерты некому доставлять
	var (
		subStore *subs.Store
		notifyCh chan bus.Notification
		b        *tgbot.Bot
	)
	if cfg.TelegramToken != "" {
		subStore = subs.NewStore()
		notifyCh = make(chan bus.Notification, cfg.NotifyBuffer)

		b, err = tgbot.New(cfg.TelegramToken,
			tgbot.WithWorkers(4),
			tgbot.WithNotAsyncHandlers(),
		)
		if err != nil {
			return fmt.Errorf("telegram bot init: %w", err)
		}
	}

	pipe := pipeline.New(tracker, det, repo, evSink, subStore, notifyCh)

	pendingWatcher := ethwatch.NewPendingWatcher(gethCl, ethCl, chainID, pipe, ethwatch.PendingWatcherConfig{
		Workers:       cfg.TxFetchWorkers,
		TasksBuffer:   cfg.TasksBuffer,
		FetchRPS:      cfg.TxFetchRPS,
		SeenCacheSize: cfg.SeenHashCache,
	})
	blockWatcher := ethwatch.NewBlockWatcher(ethCl, pipe)

	var wg sync.WaitGroup
	spawn := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}

	spawn(func() { supervise(ctx, "pending-watcher", watcherBackoff, pendingWatcher.Start) })
	spawn(func() { supervise(ctx, "block-watcher", watcherBackoff, blockWatcher.Start) })
	spawn(func() { pipe.RunCleanup(ctx, cfg.CleanupInterval, cfg.TrackerMaxAge, cfg.Retention()) })

	if cfg.MetricsAddr != "" {
		set := newStateMetrics(tracker, det, subStore)
		spawn(func() {
			if err := serveMetrics(ctx, cfg.MetricsAddr, set); err != nil {
				log.Printf("[metrics] stopped: %v", err)
			}
		})
	}

	log.Printf("started. chain_id=%s workers=%d min_blocks=%d min_secs=%d threshold=p25 (FEE_PERCENTILE_THRESHOLD=%.2f informational) kafka=%v telegram=%v",
		chainID.String(), cfg.TxFetchWorkers, cfg.MinPendingBlocks, cfg.MinPendingSeconds,
		cfg.FeePercentileThreshold, evSink != nil, b != nil)

	if b != nil {
		tgSvc := tg.NewService(b, tracker, det, subStore, notifyCh, repo)
		spawn(func() { tgSvc.StartNotifyLoop(ctx) })
		b.Start(ctx)
	} else {
		<-ctx.Done()
	}

	wg.Wait()
	return nil
}
