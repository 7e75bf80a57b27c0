package ethwatch

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/pvzzle/censorwatch/internal/mempool"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

type mockHandler struct {
	mu      sync.Mutex
	pending []mempool.PendingTx
	blocks  []mempool.MinedBlock
}

func (m *mockHandler) AddPending(ctx context.Context, tx mempool.PendingTx) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, tx)
}

func (m *mockHandler) OnBlock(ctx context.Context, b mempool.MinedBlock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks = append(m.blocks, b)
}

type mockFetcher struct {
	txs       map[common.Hash]*types.Transaction
	isPending bool
}

func (m *mockFetcher) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	tx, ok := m.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, m.isPending, nil
}

type mockHeads struct {
	blocks map[common.Hash]*types.Block
}

func (m *mockHeads) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	return nil, nil
}

func (m *mockHeads) BlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error) {
	b, ok := m.blocks[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return b, nil
}

func signedDynamicTx(t *testing.T, chainID *big.Int, nonce uint64) (*types.Transaction, common.Address) {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	to := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	unsigned := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: big.NewInt(2_000_000_000),
		GasFeeCap: big.NewInt(30_000_000_000),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(1),
		Data:      []byte{0xde, 0xad, 0xbe, 0xef},
	})
	tx, err := types.SignTx(unsigned, types.LatestSignerForChainID(chainID), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tx, from
}

func TestPendingWatcher_handleTask_AddsPendingTx(t *testing.T) {
	ctx := context.Background()
	chainID := big.NewInt(1)

	tx, from := signedDynamicTx(t, chainID, 7)

	handler := &mockHandler{}
	fetcher := &mockFetcher{
		txs:       map[common.Hash]*types.Transaction{tx.Hash(): tx},
		isPending: true,
	}

	w := NewPendingWatcher(nil, fetcher, chainID, handler, PendingWatcherConfig{})

	seenAt := time.Unix(1700000000, 0)
	w.handleTask(ctx, pendingTask{Hash: tx.Hash(), SeenAt: seenAt})

	handler.mu.Lock()
	defer handler.mu.Unlock()

	if len(handler.pending) != 1 {
		t.Fatalf("expected 1 pending tx, got=%d", len(handler.pending))
	}
	got := handler.pending[0]
	if got.Hash != tx.Hash().Hex() {
		t.Fatalf("expected hash=%s got=%s", tx.Hash().Hex(), got.Hash)
	}
	if got.From != from {
		t.Fatalf("expected from=%s got=%s", from.Hex(), got.From.Hex())
	}
	if got.FirstSeen != seenAt.Unix() {
		t.Fatalf("expected first seen %d, got=%d", seenAt.Unix(), got.FirstSeen)
	}
	if got.MaxPriorityFee.Uint64() != 2_000_000_000 {
		t.Fatalf("unexpected tip: %s", got.MaxPriorityFee.Dec())
	}
}

func TestPendingWatcher_handleTask_SkipsMinedAndUnknown(t *testing.T) {
	ctx := context.Background()
	chainID := big.NewInt(1)

	tx, _ := signedDynamicTx(t, chainID, 0)

	handler := &mockHandler{}
	fetcher := &mockFetcher{
		txs:       map[common.Hash]*types.Transaction{tx.Hash(): tx},
		isPending: false,
	}
	w := NewPendingWatcher(nil, fetcher, chainID, handler, PendingWatcherConfig{})

	w.handleTask(ctx, pendingTask{Hash: tx.Hash(), SeenAt: time.Now()})
	w.handleTask(ctx, pendingTask{Hash: common.HexToHash("0x01"), SeenAt: time.Now()})

	if len(handler.pending) != 0 {
		t.Fatalf("expected nothing added, got=%d", len(handler.pending))
	}
}

func TestBlockWatcher_handleHeader(t *testing.T) {
	ctx := context.Background()
	chainID := big.NewInt(1)

	tx1, _ := signedDynamicTx(t, chainID, 0)
	tx2, _ := signedDynamicTx(t, chainID, 1)

	header := &types.Header{
		Number:   big.NewInt(19_000_000),
		Time:     1700000012,
		GasLimit: 30_000_000,
		GasUsed:  42000,
		BaseFee:  big.NewInt(7_000_000_000),
	}
	block := types.NewBlockWithHeader(header).WithBody(types.Body{Transactions: []*types.Transaction{tx1, tx2}})

	heads := &mockHeads{blocks: map[common.Hash]*types.Block{block.Hash(): block}}
	handler := &mockHandler{}

	w := NewBlockWatcher(heads, handler)
	w.handleHeader(ctx, block.Header())

	if len(handler.blocks) != 1 {
		t.Fatalf("expected 1 block, got=%d", len(handler.blocks))
	}
	mb := handler.blocks[0]
	if mb.Number != 19_000_000 || mb.Timestamp != 1700000012 {
		t.Fatalf("unexpected block: %+v", mb)
	}
	if len(mb.TxHashes) != 2 || mb.TxHashes[0] != tx1.Hash().Hex() || mb.TxHashes[1] != tx2.Hash().Hex() {
		t.Fatalf("unexpected hashes: %v", mb.TxHashes)
	}

	// unknown block: logged and skipped
	w.handleHeader(ctx, &types.Header{Number: big.NewInt(1)})
	if len(handler.blocks) != 1 {
		t.Fatalf("expected unknown block to be skipped, got=%d", len(handler.blocks))
	}
}

func TestPendingWatcher_handleTask_RemembersResolvedHashes(t *testing.T) {
	ctx := context.Background()
	chainID := big.NewInt(1)

	tx, _ := signedDynamicTx(t, chainID, 3)
	unknown := common.HexToHash("0x02")

	fetcher := &mockFetcher{
		txs:       map[common.Hash]*types.Transaction{tx.Hash(): tx},
		isPending: true,
	}
	w := NewPendingWatcher(nil, fetcher, chainID, &mockHandler{}, PendingWatcherConfig{SeenCacheSize: 1})

	w.handleTask(ctx, pendingTask{Hash: tx.Hash(), SeenAt: time.Now()})
	w.handleTask(ctx, pendingTask{Hash: unknown, SeenAt: time.Now()})

	if !w.seen.Contains(tx.Hash()) {
		t.Fatal("expected resolved hash to be remembered")
	}
	// NotFound может быть гонкой с пропагацией, даём шанс повторить
	if w.seen.Contains(unknown) {
		t.Fatal("expected unresolved hash not to be remembered")
	}
}
