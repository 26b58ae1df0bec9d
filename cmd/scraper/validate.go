package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/maltedev/price-scraper/internal/schema"
	"github.com/spf13/cobra"
)

func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE.json",
		Short: "Validate a saved batch against the product schema",
		Long: `Validate reads a JSON array of row objects, for example the batch of a
triage entry, and checks it against the product schema without touching the
network or a sink. Exit status is 2 when the batch fails.`,
		Args: cobra.ExactArgs(1),
		RunE: runValidateCmd,
	}
}

func runValidateCmd(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read batch: %w", err)
	}

	var batch []schema.Row
	if err := json.Unmarshal(data, &batch); err != nil {
		return fmt.Errorf("failed to parse batch %s: %w", args[0], err)
	}

	outcome := schema.NewValidator().Validate(batch)
	w := cmd.OutOrStdout()

	if err := outcome.Err(); err != nil {
		verr := err.(*schema.ValidationError)
		fmt.Fprintf(w, "%s\n%s", verr.Error(), verr.Table())
		return &exitError{code: exitInvalidBatch, err: err}
	}

	fmt.Fprintf(w, "batch valid: %d rows\n", len(outcome.Records))
	return nil
}
