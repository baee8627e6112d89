package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"regimetrader/internal/report"
	"regimetrader/pkg/regimetrader"
)

const version = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: regime-cli <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version              Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "  simulate             Run a Monte Carlo experiment on regime-server\n")
	fmt.Fprintf(os.Stderr, "  experiments          List recent experiments\n")
	fmt.Fprintf(os.Stderr, "  experiment <id>      Show one experiment\n")
	fmt.Fprintf(os.Stderr, "  runs <id>            List the runs of an experiment\n")
	fmt.Fprintf(os.Stderr, "  signal [symbol]      Show the signal for the latest bar\n")
	fmt.Fprintf(os.Stderr, "\nThe server address is read from REGIME_ADDR (default 127.0.0.1:50061).\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "version" {
		fmt.Printf("regime-cli %s\n", version)
		return
	}

	addr := os.Getenv("REGIME_ADDR")
	if addr == "" {
		addr = "127.0.0.1:50061"
	}
	client, err := regimetrader.Dial(addr)
	if err != nil {
		fatal(err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	switch cmd {
	case "simulate":
		err = simulate(ctx, client, args)
	case "experiments":
		err = experiments(ctx, client, args)
	case "experiment":
		if len(args) != 1 {
			usage()
			os.Exit(1)
		}
		var e map[string]any
		if e, err = client.GetExperiment(ctx, args[0]); err == nil {
			printExperiment(e)
		}
	case "runs":
		if len(args) != 1 {
			usage()
			os.Exit(1)
		}
		err = runs(ctx, client, args[0])
	case "signal":
		symbol := ""
		if len(args) > 0 {
			symbol = args[0]
		}
		var s map[string]any
		if s, err = client.LatestSignal(ctx, symbol); err == nil {
			fmt.Printf("%s  state %v  mean return %s  -> %v\n",
				s["timestamp"], s["state"], report.FormatPercent(num(s["mean_return"]), 3), s["action"])
			if s["converged"] != true {
				fmt.Println("warning: model did not converge")
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fatal(err)
	}
}

func simulate(ctx context.Context, c *regimetrader.Client, args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	symbol := fs.String("symbol", "", "symbol to simulate (server default when empty)")
	runs := fs.Int("runs", 0, "number of successful runs")
	states := fs.Int("states", 0, "number of hidden states")
	split := fs.String("split", "", "first test day, YYYY-MM-DD")
	short := fs.Bool("short", false, "allow short positions")
	unseeded := fs.Bool("unseeded", false, "use random seeds")
	fs.Parse(args)

	params := map[string]any{}
	if *symbol != "" {
		params["symbol"] = *symbol
	}
	if *runs > 0 {
		params["runs"] = *runs
	}
	if *states > 0 {
		params["n_states"] = *states
	}
	if *split != "" {
		params["split_date"] = *split
	}
	if *short {
		params["include_shorting"] = true
	}
	if *unseeded {
		params["seeded"] = false
	}

	e, err := c.Simulate(ctx, params)
	if err != nil {
		return err
	}
	printExperiment(e)
	return nil
}

func experiments(ctx context.Context, c *regimetrader.Client, args []string) error {
	fs := flag.NewFlagSet("experiments", flag.ExitOnError)
	limit := fs.Int("limit", 20, "maximum number of experiments")
	fs.Parse(args)

	list, err := c.ListExperiments(ctx, *limit)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("no experiments")
		return nil
	}
	fmt.Printf("%-36s  %-10s  %-20s  %6s  %8s\n", "ID", "Symbol", "Created", "Runs", "P(>1x)")
	for _, e := range list {
		probs, _ := e["prob_outperformance"].(map[string]any)
		fmt.Printf("%-36v  %-10v  %-20v  %6v  %8s\n",
			e["id"], e["symbol"], e["created_at"], e["runs"], report.FormatPercent(num(probs["1x"]), 0))
	}
	return nil
}

func runs(ctx context.Context, c *regimetrader.Client, id string) error {
	list, err := c.ListRuns(ctx, id)
	if err != nil {
		return err
	}
	sort.Slice(list, func(i, j int) bool { return num(list[i]["seed"]) < num(list[j]["seed"]) })
	fmt.Printf("%6s  %10s  %8s  %10s  %7s\n", "Seed", "Return", "Sharpe", "Max DD", "Trades")
	for _, r := range list {
		fmt.Printf("%6.0f  %10s  %8s  %10s  %7.0f\n",
			num(r["seed"]),
			report.FormatPercent(num(r["total_return"]), 2),
			report.FormatFixed(num(r["annualized_sharpe"]), 2),
			report.FormatPercent(num(r["max_drawdown"]), 2),
			num(r["number_of_trades"]))
	}
	return nil
}

func printExperiment(e map[string]any) {
	summary, _ := e["summary"].(map[string]any)
	bench, _ := e["benchmark"].(map[string]any)
	probs, _ := e["prob_outperformance"].(map[string]any)

	fmt.Printf("Experiment %v (%v, %v states)\n", e["id"], e["symbol"], e["n_states"])
	fmt.Printf("Test period: %v to %v\n", e["test_start"], e["test_end"])
	fmt.Printf("Runs: %v  Attempts: %v  Rejected: %v\n", e["runs"], e["attempts"], e["rejected"])
	fmt.Printf("Benchmark return: %s\n", report.FormatPercent(num(bench["total_return"]), 2))
	fmt.Printf("Average return: %s (std %s)\n",
		report.FormatPercent(num(summary["average_return"]), 2), report.FormatPercent(num(summary["std_return"]), 2))
	fmt.Printf("Average Sharpe: %s (std %s)\n",
		report.FormatFixed(num(summary["average_sharpe"]), 2), report.FormatFixed(num(summary["std_sharpe"]), 2))
	fmt.Printf("Average max drawdown: %s\n", report.FormatPercent(num(summary["average_max_drawdown"]), 2))
	for _, k := range []string{"1x", "2x", "3x"} {
		fmt.Printf("P(return > %s benchmark): %s\n", k, report.FormatPercent(num(probs[k]), 0))
	}
}

// num reads a JSON-style number, treating anything else as zero.
func num(v any) float64 {
	f, _ := v.(float64)
	return f
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
