package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/price-scraper/internal/jobs"
	"github.com/maltedev/price-scraper/internal/metrics"
	"github.com/maltedev/price-scraper/internal/parser"
	"github.com/maltedev/price-scraper/internal/schema"
	"github.com/maltedev/price-scraper/internal/scraper"
	"github.com/spf13/cobra"
)

func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scrape one listing page",
		Long: `Run scrapes a single listing page and persists the validated batch.

Examples:
  # Scrape the configured category with a browser
  scraper run

  # Another category, fetched without a browser
  scraper run --category hardware/ssd-2-5 --session static

  # Re-run extraction on a saved page
  scraper run --html listing.html --url https://www.kabum.com.br/hardware/placas-de-video-vga

Exit status is 1 when the page never became ready or the sink failed, and 2
when the batch failed validation.`,
		Args: cobra.NoArgs,
		RunE: runRunCmd,
	}

	cmd.Flags().String("category", "", "Category path under the base URL (default from config)")
	cmd.Flags().String("url", "", "Full listing URL; overrides --category")
	cmd.Flags().String("session", "", "Session kind: browser or static (default from config)")
	cmd.Flags().String("html", "", "Read the page from a saved HTML file instead of the network")
	cmd.Flags().Bool("json", false, "Print the run result as JSON")

	return cmd
}

func runRunCmd(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	target, err := targetURL(cmd, a.cfg.Scraper.BaseURL, a.cfg.Scraper.Category)
	if err != nil {
		return err
	}

	if err := a.openSink(ctx); err != nil {
		return err
	}
	if err := a.openTriage(); err != nil {
		return err
	}

	session, release, err := openRunSession(ctx, cmd, a)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(); err != nil {
			a.logger.Warn("failed to release session", "error", err)
		}
	}()

	res, runErr := a.newScraper(metrics.New()).Run(ctx, session, target)

	if res.Status == scraper.StatusPersisted {
		a.flushOutbox(ctx)
	}

	asJSON, _ := cmd.Flags().GetBool("json")
	if err := printResult(cmd.OutOrStdout(), res, runErr, asJSON); err != nil {
		return err
	}

	var verr *schema.ValidationError
	if errors.As(runErr, &verr) {
		return &exitError{code: exitInvalidBatch, err: runErr}
	}
	return runErr
}

func targetURL(cmd *cobra.Command, baseURL, defaultCategory string) (string, error) {
	if u, _ := cmd.Flags().GetString("url"); u != "" {
		return scraper.ListingURL(u, "")
	}
	category, _ := cmd.Flags().GetString("category")
	if category == "" {
		category = defaultCategory
	}
	return scraper.ListingURL(baseURL, category)
}

// openRunSession returns the session for a single run and a func that
// releases it together with anything opened for it.
func openRunSession(ctx context.Context, cmd *cobra.Command, a *app) (jobs.Session, func() error, error) {
	if path, _ := cmd.Flags().GetString("html"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		doc := parser.NewDocument(parser.SnapshotFetcher(data), a.logger)
		return doc, doc.Close, nil
	}

	kind, _ := cmd.Flags().GetString("session")
	if kind == "" {
		kind = a.cfg.Scraper.Session
	}
	if kind != "browser" && kind != "static" {
		return nil, nil, fmt.Errorf("unknown session kind %q", kind)
	}

	factory, cleanup, err := a.sessionFactory(ctx, kind)
	if err != nil {
		return nil, nil, err
	}
	session, err := factory(ctx)
	if err != nil {
		return nil, nil, errors.Join(err, cleanup())
	}

	return session, func() error {
		return errors.Join(session.Close(), cleanup())
	}, nil
}

func printResult(w io.Writer, res *scraper.Result, runErr error, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintf(w, "run %s: %s\n", res.RunID, res.Status)
	fmt.Fprintf(w, "  url:       %s\n", res.URL)
	fmt.Fprintf(w, "  strategy:  %s\n", res.Stats.Strategy)
	fmt.Fprintf(w, "  cards:     %d located, %d inspected, %d extracted\n",
		res.Stats.Located, res.Stats.Inspected, res.Stats.Extracted)
	for reason, n := range res.Stats.Skipped {
		fmt.Fprintf(w, "  skipped:   %d (%s)\n", n, reason)
	}
	if res.Status == scraper.StatusPersisted {
		fmt.Fprintf(w, "  persisted: %d rows\n", res.Persisted)
	}
	if res.TriageID != "" {
		fmt.Fprintf(w, "  triage:    %s\n", res.TriageID)
	}

	var verr *schema.ValidationError
	if errors.As(runErr, &verr) {
		fmt.Fprintf(w, "\n%s\n%s", verr.Error(), verr.Table())
	}
	return nil
}
