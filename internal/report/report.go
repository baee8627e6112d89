package report

import (
	"fmt"
	"io"
	"strings"

	"regimetrader/internal/domain"
)

const dateLayout = "2006-01-02"

// MetricsString renders one equity curve's metrics as
// "P&L(%): x | Max DD: y | Annualized Sharpe: z | Number Of Trades: n".
func MetricsString(m domain.Metrics) string {
	return strings.Join([]string{
		"P&L(%): " + FormatPercent(m.TotalReturn, 2),
		"Max DD: " + FormatPercent(m.MaxDrawdown, 2),
		"Annualized Sharpe: " + FormatFixed(m.AnnualizedSharpe, 2),
		fmt.Sprintf("Number Of Trades: %d", m.NumberOfTrades),
	}, " | ")
}

// BenchmarkString is MetricsString without the trade count.
func BenchmarkString(m domain.Metrics) string {
	return strings.Join([]string{
		"P&L(%): " + FormatPercent(m.TotalReturn, 2),
		"Max DD(%): " + FormatPercent(m.MaxDrawdown, 2),
		"Annualized Sharpe: " + FormatFixed(m.AnnualizedSharpe, 2),
	}, " | ")
}

// SummaryString renders the cross-run mean and standard deviation of the
// Monte Carlo metrics.
func SummaryString(s domain.Summary) string {
	return fmt.Sprintf("Annualized Sharpe: %s (SD: %s) | P&L(%%): %s (SD: %s) | Max DD(%%): %s (SD: %s)",
		FormatFixed(s.AverageSharpe, 2), FormatFixed(s.StdSharpe, 2),
		FormatPercent(s.AverageReturn, 2), FormatPercent(s.StdReturn, 2),
		FormatPercent(s.AverageMaxDrawdown, 2), FormatPercent(s.StdMaxDrawdown, 2),
	)
}

// WriteTradeLog writes one block per closed trade.
func WriteTradeLog(w io.Writer, trades []domain.TradeRecord) error {
	if len(trades) == 0 {
		_, err := fmt.Fprintln(w, "No trades to log.")
		return err
	}
	rule := strings.Repeat("-", 50)
	for _, t := range trades {
		_, err := fmt.Fprintf(w,
			"%s\nSide:         %s\nEntry:        %s @ %s\nExit:         %s @ %s\nTrade Return: %s\nCum. Return:  %s\n%s\n",
			rule,
			t.Side,
			t.EntryDate.Format(dateLayout), FormatPrice(t.EntryPrice),
			t.ExitDate.Format(dateLayout), FormatPrice(t.ExitPrice),
			FormatPercent(t.Return, 2),
			FormatPercent(t.CumReturn, 2),
			rule,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// WritePerformanceSummary writes the benchmark metrics, the Monte Carlo
// summary and the outperformance probabilities of an experiment.
func WritePerformanceSummary(w io.Writer, e *domain.Experiment) error {
	start := e.TestStart.Format(dateLayout)
	end := e.TestEnd.Format(dateLayout)
	rule := strings.Repeat("=", 100)

	var b strings.Builder
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, " Monte Carlo Metrics Over %s Runs on Test Dataset (from %s to %s)\n",
		FormatCount(int64(e.Runs)), start, end)
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "\n--- Benchmark (HODLing %s from %s) ---\n", e.Symbol, start)
	fmt.Fprintln(&b, BenchmarkString(e.Benchmark))
	fmt.Fprintln(&b, "\n--- Average HMM Strategy Path ---")
	fmt.Fprintln(&b, SummaryString(e.Summary))
	fmt.Fprintln(&b, "\n--- Outperformance Probabilities ---")
	fmt.Fprintf(&b, "- Beating HODLing:              %s\n", FormatPercent(e.ProbOutperform1, 0))
	fmt.Fprintf(&b, "- At least 2× HODLing returns:  %s\n", FormatPercent(e.ProbOutperform2, 0))
	fmt.Fprintf(&b, "- At least 3× HODLing returns:  %s\n", FormatPercent(e.ProbOutperform3, 0))
	fmt.Fprintf(&b, "\nAttempts: %s (rejected %s)\n", FormatCount(e.Attempts), FormatCount(e.Rejected))
	fmt.Fprintln(&b, rule)

	_, err := io.WriteString(w, b.String())
	return err
}
