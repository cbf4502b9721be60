package settings

import (
	"log/slog"
	"time"

	"github.com/germanamz/proposer/pkg/browser"
	"github.com/germanamz/proposer/pkg/engine"
	"github.com/germanamz/proposer/pkg/notify"
)

// RunConfig returns the run snapshot for these settings. The active template
// is resolved by the engine at start.
func (s Settings) RunConfig() engine.RunConfiguration {
	return engine.RunConfiguration{
		MaxSends:   s.MaxSends,
		MinDelay:   s.MinDelaySeconds,
		MaxDelay:   s.MaxDelaySeconds,
		TargetURL:  s.TargetURL,
		TargetHint: s.TargetHint,
	}
}

// BrowserOptions returns the chromedp adapter options. Error screenshots go
// to screenshotDir when enabled.
func (s Settings) BrowserOptions(screenshotDir string, log *slog.Logger) []browser.Option {
	b := s.Browser
	opts := []browser.Option{
		browser.WithTimeouts(duration(b.NavigateTimeout), duration(b.ActionTimeout), duration(b.ModalWait)),
		browser.WithMaxScrolls(b.MaxScrolls),
		browser.WithTemplateTerm(b.TemplateTerm),
		browser.WithRejectionPatterns(b.RejectionPatterns...),
	}
	if b.RemoteURL != "" {
		opts = append(opts, browser.WithRemoteURL(b.RemoteURL))
	}
	if b.Headless {
		opts = append(opts, browser.WithHeadless())
	}
	if b.ScreenshotOnError && screenshotDir != "" {
		opts = append(opts, browser.WithScreenshots(screenshotDir, b.ScreenshotFullPage))
	}
	if log != nil {
		opts = append(opts, browser.WithLogger(log))
	}
	return opts
}

// Notifier returns the configured webhook notifier, or nil when none is set.
func (s Settings) Notifier() notify.Notifier {
	if s.Notify.WebhookURL == "" {
		return nil
	}
	return notify.NewWebhook(s.Notify.WebhookURL, s.Notify.Format)
}

// duration parses a validated duration string; empty or invalid yields 0,
// which keeps the adapter default.
func duration(v string) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}
