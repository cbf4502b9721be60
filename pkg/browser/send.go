package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
)

// Page structure of the partner platform.
const (
	sendButtonSel   = `button[data-testid="uicl-button"]`
	sendButtonLabel = "Send Proposal"
	sentMarkAttr    = "data-proposer-sent"
	modalFrameSel   = `iframe[data-testid="uicl-modal-iframe-content"]`
	commentSel      = `textarea[data-testid="uicl-textarea"]`
	commentAltSel   = `textarea[name="comment"]`
	ackLabel        = "I understand"
	scrollStepPx    = 500
)

// jsCall renders an immediately invoked function expression with the
// arguments JSON-encoded.
func jsCall(fn string, args ...any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		data, err := json.Marshal(a)
		if err != nil {
			data = []byte("null")
		}
		parts[i] = string(data)
	}
	return "(" + strings.TrimSpace(fn) + ")(" + strings.Join(parts, ",") + ")"
}

// pickButtonJS finds the next unmarked send button, marks it so it is never
// sent twice, reads its row's category tab, and clicks it.
const pickButtonJS = `
function(sel, label, mark) {
	var buttons = document.querySelectorAll(sel);
	for (var i = 0; i < buttons.length; i++) {
		var b = buttons[i];
		if ((b.innerText || "").indexOf(label) === -1) continue;
		if (b.getAttribute(mark) === "true") continue;
		b.setAttribute(mark, "true");
		var category = "";
		for (var p = b.parentElement; p && !category; p = p.parentElement) {
			var tab = p.querySelector(".selected-tab");
			if (tab) category = (tab.innerText || "").trim();
		}
		b.scrollIntoView({block: "center"});
		b.click();
		return {found: true, category: category};
	}
	return {found: false, category: ""};
}`

const scrollJS = `function(px) { window.scrollBy(0, px); return true; }`

// frameDoc is the prelude shared by scripts that work inside the modal.
const frameDoc = `var f = document.querySelector(frameSel); var doc = f && f.contentDocument; if (!doc) return false;`

// selectTermJS selects term in the native select, or opens the custom
// dropdown. It returns "selected", "opened", or "missing".
const selectTermJS = `
function(frameSel, term) {
	var f = document.querySelector(frameSel); var doc = f && f.contentDocument;
	if (!doc) return "missing";
	var s = doc.querySelector('select[data-testid="uicl-select"]');
	if (s) {
		for (var i = 0; i < s.options.length; i++) {
			if ((s.options[i].text || "").trim() === term) {
				s.value = s.options[i].value;
				s.dispatchEvent(new Event("change", {bubbles: true}));
				return "selected";
			}
		}
	}
	var btn = doc.querySelector('button[data-testid="uicl-multi-select-input-button"]') ||
		doc.querySelector("button.iui-multi-select-input-button");
	if (btn) { btn.click(); return "opened"; }
	return "missing";
}`

const pickOptionJS = `
function(frameSel, term) {
	` + frameDoc + `
	var items = doc.querySelectorAll('div[data-testid="uicl-dropdown"] li[role="option"], div[data-testid="uicl-dropdown"] div.text-ellipsis');
	for (var i = 0; i < items.length; i++) {
		if ((items[i].innerText || "").trim() === term) { items[i].click(); return true; }
	}
	return false;
}`

// fillTagJS types the category into the tag input using the native value
// setter so framework listeners see the change.
const fillTagJS = `
function(frameSel, text) {
	` + frameDoc + `
	var input = doc.querySelector('input[data-testid="uicl-tag-input-text-input"]');
	if (!input) return false;
	var setter = Object.getOwnPropertyDescriptor(f.contentWindow.HTMLInputElement.prototype, "value").set;
	setter.call(input, text);
	input.dispatchEvent(new Event("input", {bubbles: true}));
	return true;
}`

const pickTagJS = `
function(frameSel) {
	` + frameDoc + `
	var dd = doc.querySelector('[data-testid="uicl-tag-input-dropdown"]');
	var li = dd && dd.querySelector("li");
	if (!li) return false;
	li.click();
	return true;
}`

const pickDateJS = `
function(frameSel, day) {
	` + frameDoc + `
	var btn = doc.querySelector('button[data-testid="uicl-date-input"]');
	if (!btn) return false;
	btn.click();
	var cells = doc.querySelectorAll('td, .day, [class*="day"]');
	for (var i = 0; i < cells.length; i++) {
		if ((cells[i].innerText || "").trim() === day) { cells[i].click(); return true; }
	}
	return false;
}`

const frameReadyJS = `
function(frameSel) {
	var f = document.querySelector(frameSel); var doc = f && f.contentDocument;
	return !!(doc && doc.readyState === "complete" && doc.body && doc.body.children.length > 0);
}`

const findCommentJS = `
function(frameSel, primary, fallback) {
	var f = document.querySelector(frameSel); var doc = f && f.contentDocument;
	if (!doc) return "";
	if (doc.querySelector(primary)) return primary;
	if (doc.querySelector(fallback)) return fallback;
	return "";
}`

const clickByLabelJS = `
function(frameSel, sel, label) {
	` + frameDoc + `
	var buttons = doc.querySelectorAll(sel);
	for (var i = 0; i < buttons.length; i++) {
		if ((buttons[i].innerText || "").indexOf(label) !== -1) { buttons[i].click(); return true; }
	}
	return false;
}`

// rejectionJS returns the first pattern found in the modal or page text.
const rejectionJS = `
function(frameSel, patterns) {
	var text = (document.body && document.body.innerText) || "";
	var f = document.querySelector(frameSel);
	var doc = f && f.contentDocument;
	if (doc && doc.body) text += "\n" + (doc.body.innerText || "");
	text = text.toLowerCase();
	for (var i = 0; i < patterns.length; i++) {
		if (patterns[i] && text.indexOf(patterns[i]) !== -1) return patterns[i];
	}
	return "";
}`

type pickResult struct {
	Found    bool   `json:"found"`
	Category string `json:"category"`
}

// PerformSend runs the proposal sequence once against the loaded page: pick
// and click the next unsent "Send Proposal" button, fill the modal with body,
// submit, and acknowledge. It returns nil when the proposal was submitted.
func (c *Chrome) PerformSend(ctx context.Context, body string) error {
	c.clearLastScreenshot()

	err := c.performSend(ctx, body)
	if err != nil {
		var ce *ConnectionError
		if !errors.As(err, &ce) {
			c.captureScreenshot(ctx, err)
		}
	}
	return err
}

func (c *Chrome) performSend(ctx context.Context, body string) error {
	if !c.IsConnected() {
		return &ConnectionError{Err: errNotConnected}
	}

	category, err := c.clickNextButton(ctx)
	if err != nil {
		return err
	}

	frame, err := c.waitForModal(ctx)
	if err != nil {
		return err
	}

	opCtx, cancel, err := c.opContext(ctx, c.actionTimeout)
	if err != nil {
		return &ConnectionError{Err: err}
	}
	defer cancel()

	if c.templateTerm != "" {
		if err := c.selectTerm(opCtx); err != nil {
			return err
		}
	}

	// Category tag and date are optional on the platform.
	if category != "" {
		var ok bool
		_ = chromedp.Run(opCtx,
			chromedp.Evaluate(jsCall(fillTagJS, modalFrameSel, category), &ok),
			chromedp.Sleep(500*time.Millisecond),
			chromedp.Evaluate(jsCall(pickTagJS, modalFrameSel), &ok),
		)
	}
	tomorrow := strconv.Itoa(time.Now().AddDate(0, 0, 1).Day())
	var dateOK bool
	_ = chromedp.Run(opCtx, chromedp.Evaluate(jsCall(pickDateJS, modalFrameSel, tomorrow), &dateOK))

	if err := c.typeComment(opCtx, frame, body); err != nil {
		return err
	}

	var submitted bool
	if err := chromedp.Run(opCtx,
		chromedp.Evaluate(jsCall(clickByLabelJS, modalFrameSel, sendButtonSel, sendButtonLabel), &submitted),
	); err != nil {
		return c.classify("submit", err)
	}
	if !submitted {
		return &SendActionError{Kind: SendNotFound, Reason: "submit button not found"}
	}

	var rejected string
	if err := chromedp.Run(opCtx,
		chromedp.Sleep(time.Second),
		chromedp.Evaluate(jsCall(rejectionJS, modalFrameSel, lowerAll(c.rejectionPatterns)), &rejected),
	); err != nil {
		return c.classify("confirm", err)
	}
	if rejected != "" {
		return &SendActionError{Kind: SendRejected, Reason: rejected}
	}

	// The acknowledgement dialog does not always appear.
	var acked bool
	_ = chromedp.Run(opCtx,
		chromedp.Sleep(500*time.Millisecond),
		chromedp.Evaluate(jsCall(clickByLabelJS, modalFrameSel, "button", ackLabel), &acked),
	)

	c.log.Debug("proposal submitted", "category", category, "acknowledged", acked)

	return nil
}

// clickNextButton clicks the next unsent send button, scrolling to load more
// rows when none is visible.
func (c *Chrome) clickNextButton(ctx context.Context) (string, error) {
	budget := c.actionTimeout + time.Duration(c.maxScrolls)*c.scrollDelay
	opCtx, cancel, err := c.opContext(ctx, budget)
	if err != nil {
		return "", &ConnectionError{Err: err}
	}
	defer cancel()

	for scrolls := 0; ; scrolls++ {
		var res pickResult
		if err := chromedp.Run(opCtx,
			chromedp.Evaluate(jsCall(pickButtonJS, sendButtonSel, sendButtonLabel, sentMarkAttr), &res),
		); err != nil {
			return "", c.classify("find send button", err)
		}
		if res.Found {
			return res.Category, nil
		}

		if scrolls >= c.maxScrolls {
			return "", &SendActionError{Kind: SendNotFound, Reason: "no unsent send button on page"}
		}

		var ok bool
		if err := chromedp.Run(opCtx,
			chromedp.Evaluate(jsCall(scrollJS, scrollStepPx), &ok),
			chromedp.Sleep(c.scrollDelay),
		); err != nil {
			return "", c.classify("scroll", err)
		}
	}
}

// waitForModal waits for the proposal modal iframe and returns its node.
func (c *Chrome) waitForModal(ctx context.Context) (*cdp.Node, error) {
	opCtx, cancel, err := c.opContext(ctx, c.modalWait)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	defer cancel()

	var nodes []*cdp.Node
	if err := chromedp.Run(opCtx,
		chromedp.WaitVisible(modalFrameSel, chromedp.ByQuery),
		chromedp.Nodes(modalFrameSel, &nodes, chromedp.ByQuery),
	); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &SendActionError{Kind: SendTimeout, Reason: "proposal modal did not open", Err: err}
		}
		return nil, c.classify("wait for modal", err)
	}
	if len(nodes) == 0 {
		return nil, &SendActionError{Kind: SendNotFound, Reason: "proposal modal not found"}
	}

	for {
		var ready bool
		if err := chromedp.Run(opCtx,
			chromedp.Evaluate(jsCall(frameReadyJS, modalFrameSel), &ready),
		); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, &SendActionError{Kind: SendTimeout, Reason: "proposal modal did not load", Err: err}
			}
			return nil, c.classify("wait for modal", err)
		}
		if ready {
			return nodes[0], nil
		}
		if err := chromedp.Run(opCtx, chromedp.Sleep(200*time.Millisecond)); err != nil {
			return nil, &SendActionError{Kind: SendTimeout, Reason: "proposal modal did not load", Err: err}
		}
	}
}

func (c *Chrome) selectTerm(ctx context.Context) error {
	var state string
	if err := chromedp.Run(ctx,
		chromedp.Evaluate(jsCall(selectTermJS, modalFrameSel, c.templateTerm), &state),
	); err != nil {
		return c.classify("select term", err)
	}

	switch state {
	case "selected":
		return nil
	case "opened":
		var picked bool
		if err := chromedp.Run(ctx,
			chromedp.Sleep(300*time.Millisecond),
			chromedp.Evaluate(jsCall(pickOptionJS, modalFrameSel, c.templateTerm), &picked),
		); err != nil {
			return c.classify("select term", err)
		}
		if picked {
			return nil
		}
	}

	return &SendActionError{Kind: SendNotFound, Reason: fmt.Sprintf("template term %q not found", c.templateTerm)}
}

func (c *Chrome) typeComment(ctx context.Context, frame *cdp.Node, body string) error {
	var sel string
	if err := chromedp.Run(ctx,
		chromedp.Evaluate(jsCall(findCommentJS, modalFrameSel, commentSel, commentAltSel), &sel),
	); err != nil {
		return c.classify("find comment box", err)
	}
	if sel == "" {
		return &SendActionError{Kind: SendNotFound, Reason: "comment box not found"}
	}

	if err := chromedp.Run(ctx,
		chromedp.Click(sel, chromedp.ByQuery, chromedp.FromNode(frame)),
		chromedp.Clear(sel, chromedp.ByQuery, chromedp.FromNode(frame)),
		chromedp.SendKeys(sel, body, chromedp.ByQuery, chromedp.FromNode(frame)),
	); err != nil {
		return c.classify("type comment", err)
	}

	return nil
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
