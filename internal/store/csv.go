package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"regimetrader/internal/domain"
)

// CSVBar is one row of a daily OHLCV CSV file.
type CSVBar struct {
	Date   string  `csv:"date"`
	Open   float64 `csv:"open"`
	High   float64 `csv:"high"`
	Low    float64 `csv:"low"`
	Close  float64 `csv:"close"`
	Volume float64 `csv:"volume"`
}

// CSVTrade is one row of an exported trade log.
type CSVTrade struct {
	EntryDate  string  `csv:"entry_date"`
	ExitDate   string  `csv:"exit_date"`
	Side       string  `csv:"side"`
	EntryPrice float64 `csv:"entry_price"`
	ExitPrice  float64 `csv:"exit_price"`
	Return     float64 `csv:"return"`
	CumReturn  float64 `csv:"cum_return"`
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// LoadBarsCSV reads daily bars for symbol from a CSV file with
// date,open,high,low,close,volume columns. Bars are returned in time order.
func LoadBarsCSV(path, symbol string) ([]domain.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []*CSVBar
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	bars := make([]domain.Bar, 0, len(rows))
	for i, r := range rows {
		ts, err := parseDate(r.Date)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+2, err)
		}
		bars = append(bars, domain.Bar{
			Symbol:    strings.ToUpper(symbol),
			Timestamp: ts,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
			State:     domain.NoState,
		})
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

// WriteTradesCSV writes a trade log to path, creating parent directories.
func WriteTradesCSV(path string, trades []domain.TradeRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rows := make([]*CSVTrade, len(trades))
	for i, t := range trades {
		rows[i] = &CSVTrade{
			EntryDate:  t.EntryDate.Format("2006-01-02"),
			ExitDate:   t.ExitDate.Format("2006-01-02"),
			Side:       string(t.Side),
			EntryPrice: t.EntryPrice,
			ExitPrice:  t.ExitPrice,
			Return:     t.Return,
			CumReturn:  t.CumReturn,
		}
	}
	return gocsv.MarshalFile(&rows, f)
}
