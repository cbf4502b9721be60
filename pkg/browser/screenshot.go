package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
)

// screenshotInterval rate-limits error screenshots so a burst of failures
// does not fill the disk.
const screenshotInterval = 1500 * time.Millisecond

// Screenshot captures the attached page as PNG, either the viewport or the
// full scrollable page.
func (c *Chrome) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	opCtx, cancel, err := c.opContext(ctx, c.actionTimeout)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	defer cancel()

	var buf []byte
	action := chromedp.CaptureScreenshot(&buf)
	if fullPage {
		action = chromedp.FullScreenshot(&buf, 90)
	}
	if err := chromedp.Run(opCtx, action); err != nil {
		c.markDeadIfClosed()
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}

	return buf, nil
}

// LastScreenshot returns the path of the error screenshot taken for the
// latest Connect or PerformSend, or "" when that call took none.
func (c *Chrome) LastScreenshot() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastShot
}

// captureScreenshot saves a screenshot of the failed send. Failures are only
// logged; they never mask the send error.
func (c *Chrome) captureScreenshot(ctx context.Context, cause error) {
	if c.screenshotDir == "" || ctx.Err() != nil {
		return
	}

	now := time.Now()
	c.mu.Lock()
	if now.Sub(c.lastShotAt) < screenshotInterval {
		c.mu.Unlock()
		return
	}
	c.lastShotAt = now
	c.mu.Unlock()

	buf, err := c.Screenshot(ctx, c.screenshotFullPage)
	if err != nil {
		c.log.Warn("error screenshot failed", "error", err)
		return
	}

	if err := os.MkdirAll(c.screenshotDir, 0o750); err != nil {
		c.log.Warn("error screenshot failed", "error", err)
		return
	}

	name := "send-error-" + now.Format("20060102-150405.000") + ".png"
	path := filepath.Join(c.screenshotDir, name)
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		c.log.Warn("error screenshot failed", "error", err)
		return
	}

	c.mu.Lock()
	c.lastShot = path
	c.mu.Unlock()

	c.log.Info("error screenshot saved", "path", path, "cause", cause)
}

func (c *Chrome) clearLastScreenshot() {
	c.mu.Lock()
	c.lastShot = ""
	c.mu.Unlock()
}
