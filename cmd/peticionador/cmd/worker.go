package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/forolabs/peticionador/worker"
)

var (
	concurrency      int
	maxAttempts      int
	retryBase        time.Duration
	interactionDelay time.Duration
	workerHeadless   bool
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start a background job worker",
	Long: `Worker consumes tribunal jobs from the queue, drives a browser per
job and reports progress and results. Point multiple workers at the same
Redis to scale out.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		inf, err := buildInfra(ctx)
		if err != nil {
			return err
		}
		defer inf.close()

		w := worker.New(inf.jobs, inf.creds, inf.solver, inf.bus, worker.Config{
			Concurrency:      concurrency,
			MaxAttempts:      maxAttempts,
			RetryBase:        retryBase,
			InteractionDelay: interactionDelay,
			Headless:         workerHeadless,
		})

		printBanner()
		fmt.Printf("Starting worker (concurrency %d)...\n", concurrency)

		done := make(chan error, 1)
		go func() { done <- w.Run(ctx) }()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, draining jobs...\n", sig)
			cancel()
			return <-done
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().IntVar(&concurrency, "concurrency", 3, "Jobs processed in parallel")
	workerCmd.Flags().IntVar(&maxAttempts, "max-attempts", 3, "Attempts per job before it fails")
	workerCmd.Flags().DurationVar(&retryBase, "retry-base", 5*time.Second, "First retry delay, doubled per attempt")
	workerCmd.Flags().DurationVar(&interactionDelay, "interaction-delay", 30*time.Second, "Re-check delay for jobs waiting on the user")
	workerCmd.Flags().BoolVar(&workerHeadless, "headless", true, "Run job browsers headless")
	addInfraFlags(workerCmd)
}
