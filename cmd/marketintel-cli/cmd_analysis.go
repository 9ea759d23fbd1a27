package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"marketintel/internal/api"
	"marketintel/pkg/marketintel"
)

var (
	anSymbols      []string
	anStart        string
	anEnd          string
	anCorrelations bool
	anTechnical    bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Summarise price and return statistics",
	Long: `Report price statistics and the daily return distribution for each
symbol, optionally with indicator readouts and the return correlation matrix.

Examples:
  marketintel-cli analyze --symbols SPY,TLT,GLD --start 2023-01-01 --end 2024-01-01 --correlations
  marketintel-cli analyze --symbols QQQ --start 2024-01-01 --end 2024-06-30 --technical`,
	RunE: runAnalyze,
}

var statsCmd = &cobra.Command{
	Use:   "stats SYMBOL",
	Short: "Buy-and-hold performance of one symbol",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

var historyCmd = &cobra.Command{
	Use:   "history SYMBOL",
	Short: "Print daily bars for one symbol",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	analyzeCmd.Flags().StringSliceVar(&anSymbols, "symbols", nil, "Comma-separated symbols (required)")
	analyzeCmd.Flags().BoolVar(&anCorrelations, "correlations", false, "Include the return correlation matrix")
	analyzeCmd.Flags().BoolVar(&anTechnical, "technical", false, "Include indicator readouts")
	_ = analyzeCmd.MarkFlagRequired("symbols")
	for _, c := range []*cobra.Command{analyzeCmd, statsCmd, historyCmd} {
		c.Flags().StringVar(&anStart, "start", "", "Start date YYYY-MM-DD (required)")
		c.Flags().StringVar(&anEnd, "end", "", "End date YYYY-MM-DD (required)")
		_ = c.MarkFlagRequired("start")
		_ = c.MarkFlagRequired("end")
		rootCmd.AddCommand(c)
	}
}

func parseRange() (start, end time.Time, err error) {
	if start, err = time.Parse(marketintel.DateLayout, anStart); err != nil {
		return start, end, fmt.Errorf("invalid --start: %w", err)
	}
	if end, err = time.Parse(marketintel.DateLayout, anEnd); err != nil {
		return start, end, fmt.Errorf("invalid --end: %w", err)
	}
	return start, end, nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	wire := marketintel.AnalysisRequest{
		Symbols:             anSymbols,
		StartDate:           anStart,
		EndDate:             anEnd,
		IncludeCorrelations: anCorrelations,
		IncludeTechnical:    anTechnical,
	}

	var res *marketintel.AnalysisResponse
	if remote() {
		var err error
		if res, err = client().Analyze(ctx, wire); err != nil {
			return err
		}
	} else {
		req, err := api.ParseAnalysisRequest(wire)
		if err != nil {
			return err
		}
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		out, err := a.Analyzer.Analyze(ctx, req)
		if err != nil {
			return err
		}
		r := api.NewAnalysisResponse(out)
		res = &r
	}

	if jsonOutput() {
		return printJSON(res)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "SYMBOL\tDAYS\tLAST\tMEAN\tMIN\tMAX\tRETURN\tVOL\tSKEW\tKURT\n")
	for _, s := range res.Analyses {
		st, rt := s.Statistics, s.Returns
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%.2f\t%.2f\n",
			s.Symbol, st.DataPoints, st.CurrentPrice.StringFixed(2), st.MeanPrice.StringFixed(2),
			st.MinPrice.StringFixed(2), st.MaxPrice.StringFixed(2),
			pct(rt.TotalReturn), pct(rt.VolatilityAnnualized), rt.Skewness, rt.Kurtosis)
	}
	w.Flush()

	if anTechnical {
		fmt.Println()
		names := []string{"rsi", "macd", "macd_signal", "bb_upper", "bb_middle", "bb_lower", "sma_20", "sma_50"}
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "SYMBOL")
		for _, n := range names {
			fmt.Fprintf(w, "\t%s", n)
		}
		fmt.Fprintln(w)
		for _, s := range res.Analyses {
			fmt.Fprintf(w, "%s", s.Symbol)
			for _, n := range names {
				if v, ok := s.TechnicalIndicators[n]; ok {
					fmt.Fprintf(w, "\t%.2f", v)
				} else {
					fmt.Fprintf(w, "\t-")
				}
			}
			fmt.Fprintln(w)
		}
		w.Flush()
	}

	if len(res.CorrelationMatrix) > 0 {
		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, sym := range res.Symbols {
			fmt.Fprintf(w, "\t%s", sym)
		}
		fmt.Fprintln(w)
		for i, row := range res.CorrelationMatrix {
			fmt.Fprintf(w, "%s", res.Symbols[i])
			for _, v := range row {
				fmt.Fprintf(w, "\t%.2f", v)
			}
			fmt.Fprintln(w)
		}
		w.Flush()
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var res *marketintel.QuickStatsResponse
	if remote() {
		var err error
		if res, err = client().QuickStats(ctx, args[0], anStart, anEnd); err != nil {
			return err
		}
	} else {
		start, end, err := parseRange()
		if err != nil {
			return err
		}
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		qs, err := a.Analyzer.QuickStats(ctx, args[0], start, end)
		if err != nil {
			return err
		}
		r := api.NewQuickStatsResponse(qs)
		res = &r
	}

	if jsonOutput() {
		return printJSON(res)
	}
	m := res.Metrics
	fmt.Printf("%s buy-and-hold %s..%s (%d bars)\n", res.Symbol, res.StartDate, res.EndDate, res.DataPoints)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintf(w, "Total return\t%s\n", pct(m.TotalReturn))
	fmt.Fprintf(w, "Annual return\t%s\n", pct(m.AnnualReturn))
	fmt.Fprintf(w, "Volatility\t%s\n", pct(m.Volatility))
	fmt.Fprintf(w, "Sharpe\t%.2f\n", m.SharpeRatio)
	fmt.Fprintf(w, "Sortino\t%.2f\n", m.SortinoRatio)
	fmt.Fprintf(w, "Max drawdown\t%s\n", pct(m.MaxDrawdown))
	fmt.Fprintf(w, "Win rate\t%s\n", pct(m.WinRate))
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var res *marketintel.PriceHistoryResponse
	if remote() {
		var err error
		if res, err = client().PriceHistory(ctx, args[0], anStart, anEnd); err != nil {
			return err
		}
	} else {
		start, end, err := parseRange()
		if err != nil {
			return err
		}
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		bars, err := a.Analyzer.PriceHistory(ctx, args[0], start, end)
		if err != nil {
			return err
		}
		r := api.NewPriceHistoryResponse(bars[0].Symbol, bars)
		res = &r
	}

	if jsonOutput() {
		return printJSON(res)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintf(w, "DATE\tOPEN\tHIGH\tLOW\tCLOSE\tVOLUME\n")
	for _, p := range res.Prices {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n", p.Date,
			p.Open.StringFixed(2), p.High.StringFixed(2), p.Low.StringFixed(2), p.Close.StringFixed(2), p.Volume)
	}
	return nil
}
