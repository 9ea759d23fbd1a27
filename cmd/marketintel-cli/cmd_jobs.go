package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"marketintel/pkg/marketintel"
)

var (
	submitWait   bool
	pollInterval time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a backtest job to the server",
	Long: `Submit a backtest as an asynchronous job and print its ID.

Examples:
  marketintel-cli submit --server http://localhost:8080 --symbols SPY,TLT --model ensemble
  marketintel-cli submit --server http://localhost:8080 --symbols SPY --wait`,
	RunE: runSubmit,
}

var jobCmd = &cobra.Command{
	Use:   "job <id>",
	Short: "Show a backtest job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJob,
}

func init() {
	addRequestFlags(submitCmd)
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "Wait for the job to finish and print its result")
	submitCmd.Flags().DurationVar(&pollInterval, "poll", 2*time.Second, "Polling interval with --wait")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(jobCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	if err := requireServer(cmd); err != nil {
		return err
	}
	wire, err := buildRequest()
	if err != nil {
		return err
	}
	job, err := client().SubmitJob(cmd.Context(), wire)
	if err != nil {
		return err
	}
	if !submitWait {
		if jsonOutput() {
			return printJSON(job)
		}
		fmt.Printf("%s\t%s\n", job.ID, job.Status)
		return nil
	}

	job, err = client().WaitJob(cmd.Context(), job.ID, pollInterval)
	if err != nil {
		return err
	}
	return printJob(job)
}

func runJob(cmd *cobra.Command, args []string) error {
	if err := requireServer(cmd); err != nil {
		return err
	}
	job, err := client().Job(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJob(job)
}

func printJob(job *marketintel.Job) error {
	if jsonOutput() {
		return printJSON(job)
	}
	fmt.Printf("Job %s: %s\n", job.ID, job.Status)
	if job.Error != "" {
		fmt.Printf("Error: %s\n", job.Error)
	}
	if job.Result != nil {
		fmt.Println()
		printBacktest(job.Result)
	}
	return nil
}
