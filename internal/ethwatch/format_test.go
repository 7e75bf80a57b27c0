package ethwatch

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/pvzzle/censorwatch/internal/mempool"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

func TestWeiToGweiString(t *testing.T) {
	if got := WeiToGweiString(uint256.NewInt(1_500_000_000)); got != "1.500" {
		t.Fatalf("expected 1.500, got %q", got)
	}
	if got := WeiToGweiString(uint256.NewInt(0)); got != "0.000" {
		t.Fatalf("expected 0.000, got %q", got)
	}
	if got := WeiToGweiString(nil); got != "0" {
		t.Fatalf("expected 0, got %q", got)
	}
}

func TestToPendingTx_DynamicFee(t *testing.T) {
	chainID := big.NewInt(1)
	tx, from := signedDynamicTx(t, chainID, 3)

	seen := time.Unix(1700000000, 0)
	got, err := ToPendingTx(tx, types.LatestSignerForChainID(chainID), seen)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}

	if got.From != from || got.To == nil || *got.To != *tx.To() {
		t.Fatalf("unexpected addresses: %+v", got)
	}
	if got.MaxPriorityFee.Uint64() != 2_000_000_000 || got.MaxFee.Uint64() != 30_000_000_000 {
		t.Fatalf("unexpected fees: tip=%s cap=%s", got.MaxPriorityFee.Dec(), got.MaxFee.Dec())
	}
	if got.Nonce != 3 || got.GasLimit != 21000 || got.InputDataSize != 4 || got.Value.Uint64() != 1 {
		t.Fatalf("unexpected fields: %+v", got)
	}
	if got.FirstSeen != seen.Unix() {
		t.Fatalf("expected first seen %d, got=%d", seen.Unix(), got.FirstSeen)
	}
}

func TestToPendingTx_LegacyHasNoTip(t *testing.T) {
	chainID := big.NewInt(1)
	signer := types.LatestSignerForChainID(chainID)

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}

	unsigned := types.NewTx(&types.LegacyTx{
		Nonce:    0,
		To:       nil,
		Value:    big.NewInt(0),
		Gas:      100000,
		GasPrice: big.NewInt(5_000_000_000),
	})
	tx, err := types.SignTx(unsigned, signer, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	got, err := ToPendingTx(tx, signer, time.Now())
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if !got.MaxPriorityFee.IsZero() {
		t.Fatalf("expected zero tip for legacy tx, got=%s", got.MaxPriorityFee.Dec())
	}
	if got.MaxFee.Uint64() != 5_000_000_000 {
		t.Fatalf("expected max fee = gas price, got=%s", got.MaxFee.Dec())
	}
	if got.To != nil {
		t.Fatalf("expected contract creation, got to=%s", got.To.Hex())
	}
}

func TestToMinedBlock_PreLondon(t *testing.T) {
	header := &types.Header{Number: big.NewInt(100), Time: 1, GasLimit: 10}
	mb, err := ToMinedBlock(types.NewBlockWithHeader(header))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if !mb.BaseFee.IsZero() {
		t.Fatalf("expected zero base fee, got=%s", mb.BaseFee.Dec())
	}
	if len(mb.TxHashes) != 0 {
		t.Fatalf("expected no hashes, got=%v", mb.TxHashes)
	}
}

func TestFormatEventAlert(t *testing.T) {
	to := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	ev := mempool.CensorshipEvent{
		TxHash:          "0x" + strings.Repeat("11", 32),
		From:            common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		To:              &to,
		PriorityFee:     *uint256.NewInt(3_000_000_000),
		ThresholdFee:    *uint256.NewInt(1_000_000_000),
		FeePercentile:   0.75,
		BlocksPending:   12,
		SecondsPending:  150,
		ConfidenceScore: 1,
		DetectedAtBlock: 123,
		DetectedAt:      1700000000,
	}

	txt := FormatEventAlert(ev)
	for _, want := range []string{ev.TxHash, to.Hex(), "3.000 gwei", "p75", "#123", "12 blocks", "1.00"} {
		if !strings.Contains(txt, want) {
			t.Fatalf("expected %q in text: %s", want, txt)
		}
	}
}
