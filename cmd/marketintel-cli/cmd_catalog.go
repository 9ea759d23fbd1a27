package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"marketintel/internal/domain"
	"marketintel/pkg/marketintel"
)

var assetClass string

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "List the asset catalog",
	RunE:  runAssets,
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the available model types",
	RunE:  runModels,
}

func init() {
	assetsCmd.Flags().StringVar(&assetClass, "class", "", "Asset class: equity, fixed_income, crypto, commodity, macro")
	rootCmd.AddCommand(assetsCmd)
	rootCmd.AddCommand(modelsCmd)
}

func runAssets(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var assets []marketintel.Asset
	if remote() {
		var err error
		if assets, err = client().Assets(ctx, assetClass); err != nil {
			return err
		}
	} else {
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		list, err := a.Catalog.ListAssets(ctx, domain.AssetClass(strings.ToLower(assetClass)))
		if err != nil {
			return err
		}
		for _, as := range list {
			assets = append(assets, marketintel.Asset{
				Symbol: as.Symbol, Name: as.Name, AssetClass: string(as.Class), Exchange: as.Exchange,
			})
		}
	}

	if jsonOutput() {
		return printJSON(marketintel.AssetsResponse{Assets: assets})
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintf(w, "SYMBOL\tCLASS\tEXCHANGE\tNAME\n")
	for _, as := range assets {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", as.Symbol, as.AssetClass, as.Exchange, as.Name)
	}
	return nil
}

func runModels(cmd *cobra.Command, args []string) error {
	var models []string
	if remote() {
		var err error
		if models, err = client().Models(cmd.Context()); err != nil {
			return err
		}
	} else {
		for _, mt := range domain.ModelTypes {
			models = append(models, string(mt))
		}
	}
	if jsonOutput() {
		return printJSON(marketintel.ModelsResponse{Models: models})
	}
	for _, m := range models {
		fmt.Println(m)
	}
	return nil
}
