package tg

import (
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"github.com/pvzzle/censorwatch/internal/ethwatch"
	"github.com/pvzzle/censorwatch/internal/mempool"
	"github.com/pvzzle/censorwatch/internal/storage"
	"github.com/pvzzle/censorwatch/internal/subs"
)

func FormatEvents(items []storage.EventItem) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🕘 Последние подозрения (%d)\n\n", len(items)))

	for _, it := range items {
		sb.WriteString(fmt.Sprintf(
			"• %s #%d\n  tip %s gwei (p25 %s) · %d бл. / %ds · conf %.2f\n",
			shortenHash(it.TxHash),
			it.DetectedAtBlock,
			gweiFromDecimal(it.PriorityFeeWei),
			gweiFromDecimal(it.ThresholdFeeWei),
			it.BlocksPending,
			it.SecondsPending,
			it.ConfidenceScore,
		))
	}

	return sb.String()
}

func FormatSnapshot(snap mempool.MempoolSnapshot) string {
	if snap.TxCount == 0 {
		return "📊 Мемпул пуст (нет pending транзакций)."
	}
	p := snap.Percentiles
	return fmt.Sprintf(
		"📊 Мемпул: %d pending\n\nPriority fee (gwei):\np25: %s\np50: %s\np75: %s\np90: %s\n\nОбновлено: %s",
		snap.TxCount,
		ethwatch.WeiToGweiString(&p.P25),
		ethwatch.WeiToGweiString(&p.P50),
		ethwatch.WeiToGweiString(&p.P75),
		ethwatch.WeiToGweiString(&p.P90),
		time.Unix(snap.Timestamp, 0).UTC().Format(time.RFC3339),
	)
}

// FormatTxStatus описывает состояние tx в трекере. firstSeenBlock = 0, если
// детектор её ещё не видел.
func FormatTxStatus(tt mempool.TrackedTx, firstSeenBlock uint64, now time.Time) string {
	toStr := "contract-creation"
	if tt.Tx.To != nil {
		toStr = tt.Tx.To.Hex()
	}

	var status string
	switch tt.Status.Kind {
	case mempool.StatusPending:
		status = "⏳ pending"
	case mempool.StatusIncluded:
		status = fmt.Sprintf("✅ included #%d", tt.Status.BlockNumber)
	case mempool.StatusPotentiallyCensored:
		status = "🚨 possibly censored"
	default:
		status = tt.Status.Label()
	}

	msg := fmt.Sprintf(
		"Hash: %s\nFrom: %s\nTo: %s\nTip: %s gwei\nMax fee: %s gwei\nStatus: %s\nВ мемпуле: %ds",
		tt.Tx.Hash,
		tt.Tx.From.Hex(),
		toStr,
		ethwatch.WeiToGweiString(&tt.Tx.MaxPriorityFee),
		ethwatch.WeiToGweiString(&tt.Tx.MaxFee),
		status,
		now.Unix()-tt.Tx.FirstSeen,
	)
	if firstSeenBlock > 0 {
		msg += fmt.Sprintf("\nПервый раз в блоке: #%d", firstSeenBlock)
	}
	return msg
}

func gweiFromDecimal(s string) string {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return "?"
	}
	return ethwatch.WeiToGweiString(v)
}

func shortenHash(h string) string {
	if len(h) <= 14 {
		return h
	}
	return h[:10] + "…" + h[len(h)-4:]
}

func FormatSubs(u subs.UserSubs, ok bool) string {
	lines := []string{"📌 Твои подписки:"}

	if !ok || (u.MinConfidence == nil && u.Wallet == nil) {
		lines = append(lines, "- нет активных подписок")
		return strings.Join(lines, "\n")
	}

	if u.MinConfidence != nil {
		lines = append(lines, fmt.Sprintf("- Подозрения: уверенность >= %.2f", *u.MinConfidence))
	} else {
		lines = append(lines, "- Подозрения: (нет)")
	}
	if u.Wallet != nil {
		lines = append(lines, fmt.Sprintf("- Кошелёк: %s", u.Wallet.Hex()))
	} else {
		lines = append(lines, "- Кошелёк: (нет)")
	}
	return strings.Join(lines, "\n")
}
