package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"marketintel/internal/api"
	"marketintel/pkg/marketintel"
)

var (
	fcSymbols []string
	fcModel   string
	fcAsOf    string
)

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Forecast next-day returns",
	Long: `Fit the model on the trailing training window and forecast the next-day
return, signal and confidence for each symbol.

Examples:
  marketintel-cli forecast --symbols SPY,QQQ,GLD --model xgboost
  marketintel-cli forecast --symbols BTC/USD --model lstm --as-of 2024-06-28`,
	RunE: runForecast,
}

func init() {
	forecastCmd.Flags().StringSliceVar(&fcSymbols, "symbols", nil, "Comma-separated symbols (required)")
	forecastCmd.Flags().StringVar(&fcModel, "model", "linear", "Model type")
	forecastCmd.Flags().StringVar(&fcAsOf, "as-of", "", "Forecast date YYYY-MM-DD (default today)")
	_ = forecastCmd.MarkFlagRequired("symbols")
	rootCmd.AddCommand(forecastCmd)
}

func runForecast(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	wire := marketintel.ForecastRequest{Symbols: fcSymbols, ModelType: fcModel, AsOf: fcAsOf}

	var res *marketintel.ForecastResponse
	if remote() {
		var err error
		if res, err = client().Forecast(ctx, wire); err != nil {
			return err
		}
	} else {
		req, err := api.ParseForecastRequest(wire)
		if err != nil {
			return err
		}
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		out, err := a.Runner.Forecast(ctx, req)
		if err != nil {
			return err
		}
		r := api.NewForecastResponse(out)
		res = &r
	}

	if jsonOutput() {
		return printJSON(res)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintf(w, "SYMBOL\tDATE\tPREDICTED\tZ\tSIGNAL\tTARGET\tCONFIDENCE\tTOP FEATURES\n")
	for _, f := range res.Forecasts {
		var top []string
		for _, fw := range f.TopFeatures {
			top = append(top, fmt.Sprintf("%s(%.2f)", fw.Name, fw.Weight))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\t%.2f\t%.2f\t%s\n",
			f.Symbol, f.Date, pct(f.PredictedReturn), f.ZScore, f.Signal, f.TargetPosition, f.Confidence, strings.Join(top, " "))
	}
	return nil
}
