package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes besides 0 and 1.
const exitInvalidBatch = 2

// exitError carries a process exit code up to Execute.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scraper",
		Short: "Collect and validate listing prices",
		Long: `Scraper opens a product listing page, extracts name, price and link from
each product card, validates the whole batch against the product schema and
appends it to Postgres or SQLite.

Configuration comes from defaults, an optional YAML file
($XDG_CONFIG_HOME/price-scraper/config.yaml or --config) and the environment,
in that order.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML configuration file")

	cmd.AddCommand(NewConsumeCmd())
	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewValidateCmd())

	return cmd
}

func Execute() {
	err := NewRootCmd().Execute()
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "Error:", err)

	var ee *exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	os.Exit(1)
}
