package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"marketintel/internal/api"
	"marketintel/pkg/marketintel"
)

// Backtest flags, shared with submit.
var (
	btSymbols   []string
	btModel     string
	btStart     string
	btEnd       string
	btCapital   string
	btCost      string
	btSlippage  string
	btRebalance string
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run a walk-forward backtest",
	Long: `Run a walk-forward backtest and print its metrics.

Examples:
  marketintel-cli backtest --symbols SPY,TLT,GLD --model random_forest --start 2018-01-01 --end 2024-01-01
  marketintel-cli backtest --symbols QQQ --model lstm --rebalance weekly -o json
  marketintel-cli backtest --symbols SPY --server http://localhost:8080`,
	RunE: runBacktest,
}

func init() {
	addRequestFlags(backtestCmd)
	rootCmd.AddCommand(backtestCmd)
}

func addRequestFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&btSymbols, "symbols", nil, "Comma-separated symbols (required)")
	cmd.Flags().StringVar(&btModel, "model", "linear", "Model type: linear, random_forest, xgboost, lstm, ensemble")
	cmd.Flags().StringVar(&btStart, "start", "", "Start date YYYY-MM-DD (default five years before end)")
	cmd.Flags().StringVar(&btEnd, "end", "", "End date YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&btCapital, "capital", "100000", "Initial capital")
	cmd.Flags().StringVar(&btCost, "cost", "0.001", "Transaction cost as a fraction of notional")
	cmd.Flags().StringVar(&btSlippage, "slippage", "0", "Fill price move against each trade, e.g. 0.0005")
	cmd.Flags().StringVar(&btRebalance, "rebalance", "daily", "Rebalance frequency: daily, weekly, monthly")
	_ = cmd.MarkFlagRequired("symbols")
}

func buildRequest() (marketintel.BacktestRequest, error) {
	capital, err := decimal.NewFromString(btCapital)
	if err != nil {
		return marketintel.BacktestRequest{}, fmt.Errorf("invalid --capital %q: %w", btCapital, err)
	}
	cost, err := decimal.NewFromString(btCost)
	if err != nil {
		return marketintel.BacktestRequest{}, fmt.Errorf("invalid --cost %q: %w", btCost, err)
	}
	slippage, err := decimal.NewFromString(btSlippage)
	if err != nil {
		return marketintel.BacktestRequest{}, fmt.Errorf("invalid --slippage %q: %w", btSlippage, err)
	}
	end := btEnd
	if end == "" {
		end = time.Now().UTC().Format(marketintel.DateLayout)
	}
	start := btStart
	if start == "" {
		e, err := time.Parse(marketintel.DateLayout, end)
		if err != nil {
			return marketintel.BacktestRequest{}, fmt.Errorf("invalid --end %q: %w", end, err)
		}
		start = e.AddDate(-5, 0, 0).Format(marketintel.DateLayout)
	}
	return marketintel.BacktestRequest{
		Symbols:            btSymbols,
		ModelType:          btModel,
		StartDate:          start,
		EndDate:            end,
		InitialCapital:     capital,
		TransactionCost:    &cost,
		Slippage:           slippage,
		RebalanceFrequency: btRebalance,
	}, nil
}

func runBacktest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	wire, err := buildRequest()
	if err != nil {
		return err
	}

	var res *marketintel.BacktestResponse
	if remote() {
		res, err = client().Backtest(ctx, wire)
		if err != nil {
			return err
		}
	} else {
		req, err := api.ParseBacktestRequest(wire)
		if err != nil {
			return err
		}
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		eng := a.Engine()
		defer eng.Close(ctx)
		out, cached, err := eng.Run(ctx, req)
		if err != nil {
			return err
		}
		r := api.NewBacktestResponse(out, cached)
		res = &r
	}

	if jsonOutput() {
		return printJSON(res)
	}
	printBacktest(res)
	return nil
}

func pct(v float64) string { return fmt.Sprintf("%.2f%%", v*100) }

func printBacktest(res *marketintel.BacktestResponse) {
	m := res.Metrics
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "Run\t%s\n", res.ID)
	fmt.Fprintf(w, "Model\t%s\n", res.Config.ModelType)
	fmt.Fprintf(w, "Symbols\t%s\n", strings.Join(res.Config.Symbols, ","))
	fmt.Fprintf(w, "Period\t%s .. %s (%d evaluation days)\n", res.Config.StartDate, res.Config.EndDate, m.Days)
	if len(res.EquityCurve) > 0 {
		fmt.Fprintf(w, "Final value\t%s\n", res.EquityCurve[len(res.EquityCurve)-1].Value.StringFixed(2))
	}
	fmt.Fprintf(w, "Total return\t%s\n", pct(m.TotalReturn))
	fmt.Fprintf(w, "Annual return\t%s\n", pct(m.AnnualReturn))
	fmt.Fprintf(w, "Volatility\t%s\n", pct(m.Volatility))
	fmt.Fprintf(w, "Sharpe\t%.3f\n", m.SharpeRatio)
	fmt.Fprintf(w, "Sortino\t%.3f\n", m.SortinoRatio)
	fmt.Fprintf(w, "Calmar\t%.3f\n", m.CalmarRatio)
	fmt.Fprintf(w, "Max drawdown\t%s\n", pct(m.MaxDrawdown))
	fmt.Fprintf(w, "Win rate\t%s\n", pct(m.WinRate))
	fmt.Fprintf(w, "Profit factor\t%s\n", m.ProfitFactor)
	fmt.Fprintf(w, "Alpha / Beta\t%.4f / %.3f\n", m.Alpha, m.Beta)
	fmt.Fprintf(w, "Information ratio\t%.3f\n", m.InformationRatio)
	fmt.Fprintf(w, "Trades\t%d\n", m.TotalTrades)
	if res.Benchmark.Available {
		fmt.Fprintf(w, "Benchmark\t%s %s\n", res.Benchmark.Symbol, pct(res.Benchmark.TotalReturn))
	}
	fmt.Fprintf(w, "Windows\t%d\n", len(res.Windows))
	if res.Cached {
		fmt.Fprintf(w, "Cached\tyes\n")
	}
}
