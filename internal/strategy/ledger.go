package strategy

import (
	"log/slog"
	"time"

	"regimetrader/internal/domain"
)

// DiscardedRow records a traded row that was skipped because it repeated the
// direction of the already open trade.
type DiscardedRow struct {
	Timestamp time.Time
	Direction domain.Direction
}

// Ledger is the round-trip view of one backtest.
type Ledger struct {
	Trades    []domain.TradeRecord
	Discarded []DiscardedRow
	WinRate   float64
}

type openTrade struct {
	entryDate  time.Time
	entryPrice float64
	side       domain.Side
	direction  domain.Direction
}

// BuildLedger reconstructs closed round-trip trades from the traded rows of
// augmented bars. Only one trade may be open at a time. A row whose direction
// matches the open trade is logged and discarded. cost is the one-way unit
// cost; each closed trade is charged twice that.
func BuildLedger(bars []domain.Bar, cost float64, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{}

	var open *openTrade
	prod := 1.0
	winners := 0
	for _, b := range bars {
		if b.Trade < 1 {
			continue
		}
		if open == nil {
			side := domain.SideShort
			if b.Direction == domain.DirectionBuy {
				side = domain.SideLong
			}
			open = &openTrade{
				entryDate:  b.Timestamp,
				entryPrice: b.Close,
				side:       side,
				direction:  b.Direction,
			}
			continue
		}

		if !closes(open.direction, b.Direction) {
			logger.Warn("consecutive trade in same direction without close, skipping",
				"direction", string(b.Direction),
				"timestamp", b.Timestamp,
			)
			l.Discarded = append(l.Discarded, DiscardedRow{
				Timestamp: b.Timestamp,
				Direction: b.Direction,
			})
			continue
		}

		var ret float64
		if open.side == domain.SideLong {
			ret = (b.Close - open.entryPrice) / open.entryPrice
		} else {
			ret = (open.entryPrice - b.Close) / open.entryPrice
		}
		ret -= 2 * cost
		prod *= 1 + ret
		if ret >= 0 {
			winners++
		}
		l.Trades = append(l.Trades, domain.TradeRecord{
			EntryDate:  open.entryDate,
			ExitDate:   b.Timestamp,
			Side:       open.side,
			EntryPrice: open.entryPrice,
			ExitPrice:  b.Close,
			Return:     ret,
			CumReturn:  prod - 1,
		})
		open = nil
	}

	if len(l.Trades) == 0 {
		return l
	}
	l.WinRate = float64(winners) / float64(len(l.Trades))
	logger.Info("trade ledger built",
		"closed_trades", len(l.Trades),
		"discarded_rows", len(l.Discarded),
		"win_rate", l.WinRate,
	)
	return l
}

func closes(open, next domain.Direction) bool {
	return (open == domain.DirectionBuy && next == domain.DirectionSell) ||
		(open == domain.DirectionSell && next == domain.DirectionBuy)
}
