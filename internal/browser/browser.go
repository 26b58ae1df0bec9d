package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"
)

type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	opts    *Options
	logger  *slog.Logger
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ExtraHeaders   map[string]string

	// WSEndpoint selects a remote browser server instead of a local launch.
	WSEndpoint     string
	ConnectRetries int
	ConnectDelay   time.Duration

	NavigateRetries int
	ScrollY         int
	SettleDelay     time.Duration
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "pt-BR,pt;q=0.9,en;q=0.8",
		TimezoneID:     "America/Sao_Paulo",
		Locale:         "pt-BR",
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Encoding": "gzip, deflate, br",
		},
		ConnectRetries:  10,
		ConnectDelay:    3 * time.Second,
		NavigateRetries: 3,
		ScrollY:         500,
		SettleDelay:     2 * time.Second,
	}
}

// New starts playwright and either connects to opts.WSEndpoint, retrying
// while the remote server comes up, or launches a local Chromium.
func New(ctx context.Context, opts *Options, logger *slog.Logger) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "browser")

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	var browser playwright.Browser
	if opts.WSEndpoint != "" {
		browser, err = connectWithRetry(ctx, pw, opts, logger)
	} else {
		browser, err = launch(pw, opts)
	}
	if err != nil {
		pw.Stop()
		return nil, err
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         &opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Locale,
		TimezoneId:        &opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: withLanguage(opts.ExtraHeaders, opts.AcceptLanguage),
	}

	bctx, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: browser,
		context: bctx,
		opts:    opts,
		logger:  logger,
	}, nil
}

func launch(pw *playwright.Playwright, opts *Options) (playwright.Browser, error) {
	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-gpu",
			fmt.Sprintf("--window-size=%d,%d", opts.ViewportWidth, opts.ViewportHeight),
			"--user-agent=" + opts.UserAgent,
		},
	}

	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.ProxyServer,
		}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return browser, nil
}

func connectWithRetry(ctx context.Context, pw *playwright.Playwright, opts *Options, logger *slog.Logger) (playwright.Browser, error) {
	retries := opts.ConnectRetries
	if retries < 1 {
		retries = 1
	}

	logger.Info("connecting to remote browser", "endpoint", opts.WSEndpoint)

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		browser, err := pw.Chromium.Connect(opts.WSEndpoint)
		if err == nil {
			logger.Info("connected to remote browser", "attempt", attempt)
			return browser, nil
		}

		lastErr = err
		logger.Warn("remote browser not ready", "attempt", attempt, "max_attempts", retries, "error", err)

		if attempt == retries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.ConnectDelay):
		}
	}

	return nil, fmt.Errorf("failed to connect to %s after %d attempts: %w", opts.WSEndpoint, retries, lastErr)
}

func withLanguage(headers map[string]string, acceptLanguage string) map[string]string {
	out := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		out[k] = v
	}
	if acceptLanguage != "" {
		out["Accept-Language"] = acceptLanguage
	}
	return out
}

// NewPage opens a tab wrapped as an extract.Session. The caller closes it.
func (b *Browser) NewPage() (*Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(float64(b.opts.Timeout.Milliseconds()))

	return &Page{
		page:   page,
		opts:   b.opts,
		logger: b.logger,
	}, nil
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	return errors.Join(errs...)
}
