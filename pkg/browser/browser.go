// Package browser is the session adapter between the send engine and a
// Chrome instance driven through chromedp. It either attaches to a running
// Chrome over its DevTools endpoint (keeping the user's logged-in profile) or
// launches one, and exposes a small failure-explicit surface: connect,
// disconnect, navigate, and the proposal send sequence. It never retries;
// every outcome is reported to the caller as-is.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// SessionState is an observable snapshot of the browser session.
type SessionState struct {
	Connected  bool   `json:"connected"`
	CurrentURL string `json:"current_url,omitempty"`
}

// Option configures Chrome behaviour.
type Option func(*Chrome)

// WithHeadless enables headless Chrome mode when Chrome is launched.
func WithHeadless() Option {
	return func(c *Chrome) { c.headless = true }
}

// WithRemoteURL attaches to an already running Chrome at the given DevTools
// endpoint (http://host:port or ws://...) instead of launching one.
func WithRemoteURL(u string) Option {
	return func(c *Chrome) { c.remoteURL = u }
}

// WithUserDataDir launches Chrome with a persistent profile directory.
func WithUserDataDir(dir string) Option {
	return func(c *Chrome) { c.userDataDir = dir }
}

// WithTimeouts sets the navigation, per-step action, and modal wait budgets.
// Zero values keep the defaults.
func WithTimeouts(navigate, action, modal time.Duration) Option {
	return func(c *Chrome) {
		if navigate > 0 {
			c.navigateTimeout = navigate
		}
		if action > 0 {
			c.actionTimeout = action
		}
		if modal > 0 {
			c.modalWait = modal
		}
	}
}

// WithMaxScrolls sets how many times the page is scrolled looking for an
// unsent button before the send fails with SendNotFound.
func WithMaxScrolls(n int) Option {
	return func(c *Chrome) { c.maxScrolls = n }
}

// WithTemplateTerm sets the terms option selected in the proposal modal.
func WithTemplateTerm(term string) Option {
	return func(c *Chrome) { c.templateTerm = term }
}

// WithRejectionPatterns sets the case-insensitive phrases that mark a send
// as refused by the platform.
func WithRejectionPatterns(patterns ...string) Option {
	return func(c *Chrome) { c.rejectionPatterns = patterns }
}

// WithScreenshots enables error screenshots written to dir.
func WithScreenshots(dir string, fullPage bool) Option {
	return func(c *Chrome) {
		c.screenshotDir = dir
		c.screenshotFullPage = fullPage
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Chrome) { c.log = l }
}

// Chrome implements the engine's browser capability on top of chromedp.
type Chrome struct {
	parentCtx context.Context
	log       *slog.Logger

	remoteURL          string
	headless           bool
	userDataDir        string
	navigateTimeout    time.Duration
	actionTimeout      time.Duration
	modalWait          time.Duration
	scrollDelay        time.Duration
	maxScrolls         int
	templateTerm       string
	rejectionPatterns  []string
	screenshotDir      string
	screenshotFullPage bool

	mu          sync.Mutex
	connected   bool
	currentURL  string
	tabCtx      context.Context
	tabDone     context.CancelFunc
	browserDone context.CancelFunc
	allocDone   context.CancelFunc
	lastShotAt  time.Time
	lastShot    string
}

// New creates a Chrome adapter. The parentCtx is the root context for the
// browser connection; cancelling it tears the session down.
func New(parentCtx context.Context, opts ...Option) *Chrome {
	c := &Chrome{
		parentCtx:       parentCtx,
		log:             slog.Default(),
		navigateTimeout: 30 * time.Second,
		actionTimeout:   15 * time.Second,
		modalWait:       20 * time.Second,
		scrollDelay:     time.Second,
		maxScrolls:      5,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect attaches to (or launches) Chrome and selects the page whose URL
// contains targetHint, falling back to the first page. Calling it while
// connected is a no-op. The attach is bounded by ctx and the navigation
// timeout.
func (c *Chrome) Connect(ctx context.Context, targetHint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastShot = ""
	if c.connected && c.tabCtx.Err() == nil {
		return nil
	}
	c.teardown()

	connCtx, cancel := context.WithTimeout(ctx, c.navigateTimeout)
	defer cancel()

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if c.remoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(c.parentCtx, c.remoteURL)
	} else {
		opts := chromedp.DefaultExecAllocatorOptions[:]
		if !c.headless {
			opts = append(opts, chromedp.Flag("headless", false))
		}
		opts = append(opts, chromedp.Flag("disable-gpu", true))
		if c.userDataDir != "" {
			opts = append(opts, chromedp.UserDataDir(c.userDataDir))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(c.parentCtx, opts...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	abort := func() {
		browserCancel()
		allocCancel()
	}

	// Targets allocates the browser connection without opening a new tab.
	targets, err := bounded(connCtx, abort, func() ([]*target.Info, error) {
		return chromedp.Targets(browserCtx)
	})
	if err != nil {
		abort()
		return &ConnectionError{Err: err}
	}

	var tabCtx context.Context
	var tabCancel context.CancelFunc
	if id, ok := pickTarget(targets, targetHint); ok {
		tabCtx, tabCancel = chromedp.NewContext(browserCtx, chromedp.WithTargetID(id))
	} else {
		tabCtx, tabCancel = chromedp.NewContext(browserCtx)
	}

	currentURL, err := bounded(connCtx, func() { tabCancel(); abort() }, func() (string, error) {
		var u string
		err := chromedp.Run(tabCtx, chromedp.Location(&u))
		return u, err
	})
	if err != nil {
		tabCancel()
		abort()
		return &ConnectionError{Err: err}
	}

	c.tabCtx = tabCtx
	c.tabDone = tabCancel
	c.browserDone = browserCancel
	c.allocDone = allocCancel
	c.currentURL = currentURL
	c.connected = true

	c.log.Info("browser connected", "remote", c.remoteURL != "", "url", currentURL)

	return nil
}

// bounded runs fn until it returns or ctx is done. The chromedp contexts fn
// uses outlive ctx, so on expiry abort tears them down to release fn.
func bounded[T any](ctx context.Context, abort func(), fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		abort()
		var zero T
		return zero, ctx.Err()
	}
}

// pickTarget returns the first page target whose URL contains hint, or the
// first page target when nothing matches.
func pickTarget(targets []*target.Info, hint string) (target.ID, bool) {
	var first *target.Info
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if first == nil {
			first = t
		}
		if hint != "" && strings.Contains(t.URL, hint) {
			return t.TargetID, true
		}
	}
	if first != nil {
		return first.TargetID, true
	}
	return "", false
}

// Disconnect releases the browser handle. It is safe to call when not
// connected. For a remote Chrome only the DevTools connection is dropped.
func (c *Chrome) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.log.Info("browser disconnected")
	}
	c.teardown()
}

// teardown cancels all browser contexts. Must be called with mu held.
func (c *Chrome) teardown() {
	if c.tabDone != nil {
		c.tabDone()
	}
	if c.browserDone != nil {
		c.browserDone()
	}
	if c.allocDone != nil {
		c.allocDone()
	}
	c.tabCtx = nil
	c.tabDone = nil
	c.browserDone = nil
	c.allocDone = nil
	c.connected = false
}

// IsConnected reports whether a page is attached and still alive.
func (c *Chrome) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connected && c.tabCtx.Err() == nil
}

// State returns a copy of the session state.
func (c *Chrome) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return SessionState{
		Connected:  c.connected && c.tabCtx.Err() == nil,
		CurrentURL: c.currentURL,
	}
}

// Navigate loads url in the attached page and waits for the body.
func (c *Chrome) Navigate(ctx context.Context, url string) error {
	opCtx, cancel, err := c.opContext(ctx, c.navigateTimeout)
	if err != nil {
		return &NavigationError{URL: url, Err: err}
	}
	defer cancel()

	var currentURL string
	if err := chromedp.Run(opCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&currentURL),
	); err != nil {
		c.markDeadIfClosed()
		return &NavigationError{URL: url, Err: err}
	}

	c.mu.Lock()
	c.currentURL = currentURL
	c.mu.Unlock()

	return nil
}

// opContext derives an operation context with timeout d from the attached
// page. It is also cancelled when ctx is.
func (c *Chrome) opContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc, error) {
	c.mu.Lock()
	tab := c.tabCtx
	ok := c.connected && tab != nil && tab.Err() == nil
	c.mu.Unlock()

	if !ok {
		return nil, nil, errNotConnected
	}

	opCtx, cancel := context.WithTimeout(tab, d)
	stop := context.AfterFunc(ctx, cancel)

	return opCtx, func() {
		stop()
		cancel()
	}, nil
}

// markDeadIfClosed flags the session as disconnected when the page context
// was torn down underneath us (tab closed, browser exited).
func (c *Chrome) markDeadIfClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tabCtx != nil && c.tabCtx.Err() != nil && c.connected {
		c.log.Warn("browser page closed")
		c.teardown()
	}
}

// classify converts a chromedp failure in a send step into the adapter's
// error taxonomy.
func (c *Chrome) classify(step string, err error) error {
	c.markDeadIfClosed()

	if !c.IsConnected() {
		return &ConnectionError{Err: fmt.Errorf("%s: %w", step, err)}
	}

	var se *SendActionError
	if errors.As(err, &se) {
		return se
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &SendActionError{Kind: SendTimeout, Reason: step, Err: err}
	}

	return &SendActionError{Kind: SendNotFound, Reason: step, Err: err}
}
