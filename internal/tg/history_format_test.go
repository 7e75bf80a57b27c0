package tg

import (
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/pvzzle/censorwatch/internal/mempool"
	"github.com/pvzzle/censorwatch/internal/storage"
	"github.com/pvzzle/censorwatch/internal/subs"
)

func TestFormatEvents(t *testing.T) {
	now := time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC)

	items := []storage.EventItem{
		{
			DetectedAt:      now,
			TxHash:          "0x" + strings.Repeat("1", 64),
			FromAddr:        "0x" + strings.Repeat("a", 40),
			PriorityFeeWei:  "2000000000", // 2 gwei
			ThresholdFeeWei: "1500000000",
			FeePercentile:   0.9,
			BlocksPending:   12,
			SecondsPending:  150,
			ConfidenceScore: 0.67,
			DetectedAtBlock: 123,
		},
	}

	txt := FormatEvents(items)

	if !strings.Contains(txt, "…") {
		t.Fatalf("expected shortened hash: %s", txt)
	}
	if !strings.Contains(txt, "2.000") || !strings.Contains(txt, "1.500") {
		t.Fatalf("expected gwei values: %s", txt)
	}
	if !strings.Contains(txt, "#123") {
		t.Fatalf("expected block num: %s", txt)
	}
	if !strings.Contains(txt, "conf 0.67") {
		t.Fatalf("expected confidence: %s", txt)
	}
}

func TestFormatEvents_BadDecimal(t *testing.T) {
	txt := FormatEvents([]storage.EventItem{{TxHash: "0x01", PriorityFeeWei: "oops", ThresholdFeeWei: "1"}})
	if !strings.Contains(txt, "?") {
		t.Fatalf("expected placeholder for bad fee: %s", txt)
	}
}

func TestFormatSnapshot(t *testing.T) {
	if txt := FormatSnapshot(mempool.MempoolSnapshot{}); !strings.Contains(txt, "пуст") {
		t.Fatalf("expected empty mempool text: %s", txt)
	}

	snap := mempool.MempoolSnapshot{
		Timestamp: 1700000000,
		TxCount:   4,
		Percentiles: mempool.FeePercentiles{
			P25: *uint256.NewInt(1_000_000_000),
			P50: *uint256.NewInt(2_000_000_000),
			P75: *uint256.NewInt(3_000_000_000),
			P90: *uint256.NewInt(4_000_000_000),
		},
	}
	txt := FormatSnapshot(snap)
	if !strings.Contains(txt, "4 pending") || !strings.Contains(txt, "p90: 4.000") {
		t.Fatalf("unexpected snapshot text: %s", txt)
	}
}

func TestFormatTxStatus(t *testing.T) {
	now := time.Unix(1700000100, 0)
	tt := mempool.TrackedTx{
		Tx: mempool.PendingTx{
			Hash:           "0xabc",
			From:           common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
			MaxPriorityFee: *uint256.NewInt(1_000_000_000),
			MaxFee:         *uint256.NewInt(30_000_000_000),
			FirstSeen:      1700000000,
		},
		Status: mempool.Included(55),
	}

	txt := FormatTxStatus(tt, 50, now)
	if !strings.Contains(txt, "included #55") {
		t.Fatalf("expected included status: %s", txt)
	}
	if !strings.Contains(txt, "contract-creation") {
		t.Fatalf("expected contract creation: %s", txt)
	}
	if !strings.Contains(txt, "100s") || !strings.Contains(txt, "#50") {
		t.Fatalf("expected age and first-seen block: %s", txt)
	}

	tt.Status = mempool.Pending()
	if txt := FormatTxStatus(tt, 0, now); strings.Contains(txt, "Первый раз") {
		t.Fatalf("unexpected first-seen line: %s", txt)
	}
}

func TestFormatSubs(t *testing.T) {
	if txt := FormatSubs(subs.UserSubs{}, false); !strings.Contains(txt, "нет активных") {
		t.Fatalf("expected empty subs text: %s", txt)
	}

	c := 0.75
	txt := FormatSubs(subs.UserSubs{MinConfidence: &c}, true)
	if !strings.Contains(txt, ">= 0.75") || !strings.Contains(txt, "Кошелёк: (нет)") {
		t.Fatalf("unexpected subs text: %s", txt)
	}
}
