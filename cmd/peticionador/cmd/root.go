package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "peticionador",
	Short: "Peticionador automates filings in Brazilian court systems",
	Long: `Peticionador drives eproc, PJe and e-SAJ through a real browser to
consult cases and file petitions, with encrypted credential storage and a
durable background job queue.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
