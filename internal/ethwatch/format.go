package ethwatch

import (
	"fmt"
	"math/big"
	"time"

	"github.com/pvzzle/censorwatch/internal/mempool"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

var weiPerGwei = big.NewInt(1_000_000_000)

func WeiToGweiString(wei *uint256.Int) string {
	if wei == nil {
		return "0"
	}
	r := new(big.Rat).SetInt(wei.ToBig())
	r.Quo(r, new(big.Rat).SetInt(weiPerGwei))
	// 9 знаков после точки ни к чему, для tip хватает трёх
	return r.FloatString(3)
}

// ToPendingTx converts a node transaction into the record the tracker
// consumes. Legacy and access-list txs have no tip field, their priority fee
// is zero.
func ToPendingTx(tx *types.Transaction, signer types.Signer, seenAt time.Time) (mempool.PendingTx, error) {
	from, err := types.Sender(signer, tx)
	if err != nil {
		return mempool.PendingTx{}, fmt.Errorf("sender: %w", err)
	}

	out := mempool.PendingTx{
		Hash:          tx.Hash().Hex(),
		From:          from,
		To:            tx.To(),
		Nonce:         tx.Nonce(),
		GasLimit:      tx.Gas(),
		InputDataSize: len(tx.Data()),
		FirstSeen:     seenAt.Unix(),
	}

	switch tx.Type() {
	case types.LegacyTxType, types.AccessListTxType:
	default:
		if err := setU256(&out.MaxPriorityFee, tx.GasTipCap()); err != nil {
			return mempool.PendingTx{}, fmt.Errorf("tip cap: %w", err)
		}
	}
	if err := setU256(&out.MaxFee, tx.GasFeeCap()); err != nil {
		return mempool.PendingTx{}, fmt.Errorf("fee cap: %w", err)
	}
	if err := setU256(&out.Value, tx.Value()); err != nil {
		return mempool.PendingTx{}, fmt.Errorf("value: %w", err)
	}
	return out, nil
}

func ToMinedBlock(b *types.Block) (mempool.MinedBlock, error) {
	out := mempool.MinedBlock{
		Number:    b.NumberU64(),
		Timestamp: b.Time(),
		GasUsed:   b.GasUsed(),
		GasLimit:  b.GasLimit(),
	}
	// до London base fee нет
	if err := setU256(&out.BaseFee, b.BaseFee()); err != nil {
		return mempool.MinedBlock{}, fmt.Errorf("base fee: %w", err)
	}

	txs := b.Transactions()
	out.TxHashes = make([]string, 0, len(txs))
	for _, tx := range txs {
		out.TxHashes = append(out.TxHashes, tx.Hash().Hex())
	}
	return out, nil
}

func setU256(dst *uint256.Int, v *big.Int) error {
	if v == nil {
		dst.Clear()
		return nil
	}
	if v.Sign() < 0 {
		return fmt.Errorf("negative value %s", v)
	}
	if dst.SetFromBig(v) {
		return fmt.Errorf("value %s overflows 256 bits", v)
	}
	return nil
}

func FormatBlockLine(b mempool.MinedBlock) string {
	return fmt.Sprintf("#%d | %d txs | base fee %s gwei | gas %d/%d",
		b.Number, len(b.TxHashes), WeiToGweiString(&b.BaseFee), b.GasUsed, b.GasLimit)
}

func FormatEventAlert(ev mempool.CensorshipEvent) string {
	toStr := "contract-creation"
	if ev.To != nil {
		toStr = ev.To.Hex()
	}
	tm := time.Unix(ev.DetectedAt, 0).UTC().Format(time.RFC3339)
	return fmt.Sprintf(
		"🚨 Possible censorship\n\nHash: %s\nFrom: %s\nTo: %s\nTip: %s gwei (p25 %s gwei, bucket p%.0f)\nPending: %d blocks / %ds\nConfidence: %.2f\nBlock: #%d\nTime: %s",
		ev.TxHash,
		ev.From.Hex(),
		toStr,
		WeiToGweiString(&ev.PriorityFee),
		WeiToGweiString(&ev.ThresholdFee),
		ev.FeePercentile*100,
		ev.BlocksPending,
		ev.SecondsPending,
		ev.ConfidenceScore,
		ev.DetectedAtBlock,
		tm,
	)
}
