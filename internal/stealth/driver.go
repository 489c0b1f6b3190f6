// Package stealth drives a controlled, fingerprinted browser for the
// engine's browser strategy (spec.md §4.2). It is the engine's only impure
// actor — internal/engine stays testable against canned HTML by depending
// only on the Driver interface defined here.
//
// Grounded on other_examples' guiyumin-vget browser extractor: CDP network
// interception via proto.NetworkRequestWillBeSent/FetchRequestPaused, a
// stealth.MustPage for automation-signal suppression, and a layered
// fallback (network capture -> performance API -> video element -> page
// source regex) when nothing is captured off the wire.
package stealth

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"flyx/models"
)

// BrowserHandle wraps one launched, fingerprinted browser process.
type BrowserHandle struct {
	fingerprint models.FingerprintProfile
	browser     *rod.Browser
	launcher    *launcher.Launcher
	bucket      int

	mu       sync.Mutex
	tabCount int
}

// TabHandle wraps one page/tab within a BrowserHandle.
type TabHandle struct {
	page   *rod.Page
	origin string
}

// Driver is the seam between the engine's browser strategy and a real
// controlled browser (§4.2's contract: acquire/newTab/evaluate/onResponse/
// release, scoped with guaranteed release on all exit paths).
type Driver interface {
	Acquire(ctx context.Context, fp models.FingerprintProfile, bucket int) (*BrowserHandle, error)
	NewTab(ctx context.Context, handle *BrowserHandle, pageURL, referer string) (*TabHandle, error)
	Evaluate(ctx context.Context, tab *TabHandle, script string) (string, error)
	WaitForResponse(ctx context.Context, tab *TabHandle, match func(url string) bool, timeout time.Duration) (string, error)
	CloseTab(tab *TabHandle) error
	Release(handle *BrowserHandle) error
}

// RodDriver is the production Driver backed by go-rod + go-rod/stealth.
type RodDriver struct {
	log       *slog.Logger
	jars      *CookieJarStore
	localhost map[string]struct{}
}

// NewRodDriver constructs a driver backed by a shared cookie jar store.
func NewRodDriver(jars *CookieJarStore) *RodDriver {
	return &RodDriver{
		log:  slog.Default().With("component", "stealth-driver"),
		jars: jars,
	}
}

// Acquire launches a headless Chrome process and applies the fingerprint's
// launch-time surface (UA, window size) before any page is created.
func (d *RodDriver) Acquire(ctx context.Context, fp models.FingerprintProfile, bucket int) (*BrowserHandle, error) {
	l := launcher.New().
		Headless(true).
		Set("no-sandbox").
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("disable-software-rasterizer").
		Set("disable-extensions").
		Set("disable-background-networking").
		Set("disable-sync").
		Set("disable-translate").
		Set("no-first-run").
		Set("window-size", fmt.Sprintf("%d,%d", fp.Screen.Width, fp.Screen.Height)).
		Set("user-agent", fp.UserAgent)

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().Context(ctx).ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	d.log.Debug("acquired browser", "bucket", bucket, "fingerprint", fp.Name)
	return &BrowserHandle{fingerprint: fp, browser: browser, launcher: l, bucket: bucket}, nil
}

// NewTab opens a stealth page, applies the fingerprint's in-page overrides
// (navigator.webdriver, WebGL vendor/renderer, timezone, localStorage
// seeding), restores that origin's cookie jar, and navigates with the given
// referer header.
func (d *RodDriver) NewTab(ctx context.Context, handle *BrowserHandle, pageURL, referer string) (*TabHandle, error) {
	handle.mu.Lock()
	handle.tabCount++
	handle.mu.Unlock()

	page, err := stealth.Page(handle.browser)
	if err != nil {
		return nil, fmt.Errorf("create stealth page: %w", err)
	}
	page = page.Context(ctx)

	origin := originOf(pageURL)

	if err := applyFingerprint(page, handle.fingerprint); err != nil {
		d.log.Warn("fingerprint application failed", "err", err)
	}
	if err := seedLocalStorage(page); err != nil {
		d.log.Warn("localStorage seeding failed", "err", err)
	}
	if d.jars != nil {
		if err := d.jars.Restore(page, origin); err != nil {
			d.log.Warn("cookie restore failed", "origin", origin, "err", err)
		}
	}

	if referer != "" {
		_ = proto.NetworkSetExtraHTTPHeaders{Headers: proto.NetworkHeaders{"Referer": referer}}.Call(page)
	}

	if err := page.Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	_ = page.WaitLoad()

	tab := &TabHandle{page: page, origin: origin}

	if ok, err := DetectChallenge(page); err == nil && ok {
		if err := SolveInteractiveChallenge(ctx, page); err != nil {
			return tab, err
		}
	}

	if d.jars != nil {
		_ = d.jars.Persist(page, origin)
	}

	return tab, nil
}

// Evaluate runs a JS expression in the tab and returns its string value.
func (d *RodDriver) Evaluate(ctx context.Context, tab *TabHandle, script string) (string, error) {
	res, err := tab.page.Context(ctx).Eval(script)
	if err != nil {
		return "", err
	}
	return res.Value.String(), nil
}

// WaitForResponse listens for network responses whose URL satisfies match,
// returning the first such URL or "" on timeout. Grounded on the
// vget extractor's captureFromNetwork: CDP-level listening on a
// cancelable sub-context, fed through a buffered channel.
func (d *RodDriver) WaitForResponse(ctx context.Context, tab *TabHandle, match func(url string) bool, timeout time.Duration) (string, error) {
	found := make(chan string, 1)
	listenCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		tab.page.Context(listenCtx).EachEvent(
			func(ev *proto.NetworkRequestWillBeSent) {
				if match(ev.Request.URL) {
					select {
					case found <- ev.Request.URL:
					default:
					}
				}
			},
			func(ev *proto.NetworkResponseReceived) {
				if match(ev.Response.URL) {
					select {
					case found <- ev.Response.URL:
					default:
					}
				}
			},
		)()
	}()

	var result string
	select {
	case result = <-found:
	case <-time.After(timeout):
	case <-ctx.Done():
	}

	stop()
	<-done
	return result, nil
}

// CloseTab closes a tab. Its browser's tab count is not decremented.
func (d *RodDriver) CloseTab(tab *TabHandle) error {
	if tab == nil || tab.page == nil {
		return nil
	}
	return tab.page.Close()
}

// Release closes the browser process and cleans up its launcher.
func (d *RodDriver) Release(handle *BrowserHandle) error {
	if handle == nil {
		return nil
	}
	err := handle.browser.Close()
	handle.launcher.Cleanup()
	return err
}

func originOf(rawURL string) string {
	re := regexp.MustCompile(`^(https?://[^/]+)`)
	m := re.FindStringSubmatch(rawURL)
	if len(m) == 2 {
		return m[1]
	}
	return rawURL
}
