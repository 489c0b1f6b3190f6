package engine

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"flyx/internal/stealth"
)

// bucketCounter hands out increasing fingerprint-pool buckets to successive
// jobs so that concurrent jobs land on distinct browser processes where the
// pool has room (§4.2).
var bucketCounter int64

// BrowserStrategy walks one hop by driving a real, fingerprinted browser tab
// (spec.md §4.1 strategy 2), escalated to when the pure-fetch strategy hits
// a challenge, a timeout, or a small Cloudflare-flagged body. One instance
// is constructed per job so its bucket assignment — and therefore its
// browser identity — stays fixed across every hop of that job.
type BrowserStrategy struct {
	pool   *stealth.Pool
	driver stealth.Driver
	bucket int

	hopBudget time.Duration
}

// NewBrowserStrategyFactory returns a Factory that builds a fresh
// BrowserStrategy per job, each claiming the next fingerprint bucket.
func NewBrowserStrategyFactory(pool *stealth.Pool, driver stealth.Driver, hopBudget time.Duration) Factory {
	return func() Strategy {
		bucket := int(atomic.AddInt64(&bucketCounter, 1))
		return &BrowserStrategy{pool: pool, driver: driver, bucket: bucket, hopBudget: hopBudget}
	}
}

func (s *BrowserStrategy) Name() string { return "browser" }

// FetchHop acquires a tab (which itself navigates and resolves any
// interactive challenge before returning), then extracts this hop's next
// URL or terminal stream URL using a DOM read for the iframe hops and a
// network-capture-then-DOM-fallback chain for the hops that resolve to a
// stream URL, mirroring the vget extractor's layered fallback.
func (s *BrowserStrategy) FetchHop(ctx context.Context, hop HopName, pageURL, referer string) (HopResult, error) {
	lease, err := s.pool.Acquire(ctx, s.bucket, pageURL, referer)
	if err != nil {
		if _, ok := err.(stealth.ResourceExhaustedErr); ok {
			return HopResult{}, ResourceExhausted(string(hop))
		}
		return HopResult{}, Internal(string(hop), err)
	}
	defer lease.Close()
	tab := lease.Tab()

	switch hop {
	case HopVidSrc:
		return s.extractIframeSrc(ctx, tab, `iframe[src*="cloudnestra.com/rcp"]`, hop)
	case HopRCP:
		return s.extractIframeSrc(ctx, tab, `iframe[src*="/prorcp/"]`, hop)
	case HopProRCP, HopShadowlands:
		return s.extractStreamURL(ctx, tab, hop)
	default:
		return HopResult{}, Internal(string(hop), nil)
	}
}

func (s *BrowserStrategy) extractIframeSrc(ctx context.Context, tab *stealth.TabHandle, selector string, hop HopName) (HopResult, error) {
	script := `() => { const f = document.querySelector(` + jsQuote(selector) + `); return f ? f.src : ""; }`
	val, err := s.driver.Evaluate(ctx, tab, script)
	if err != nil {
		return HopResult{}, Internal(string(hop), err)
	}
	val = strings.Trim(val, `"`)
	if val == "" {
		return HopResult{}, PatternNotFound(string(hop), nil)
	}
	return HopResult{NextURL: val}, nil
}

// extractStreamURL implements the layered fallback: capture the first
// .m3u8 request/response off the wire; failing that, read the page's
// <video> element currentSrc; failing that, regex the rendered HTML.
func (s *BrowserStrategy) extractStreamURL(ctx context.Context, tab *stealth.TabHandle, hop HopName) (HopResult, error) {
	budget := s.hopBudget
	if budget <= 0 {
		budget = 10 * time.Second
	}

	if url, err := s.driver.WaitForResponse(ctx, tab, isM3U8URL, budget); err == nil && url != "" {
		return HopResult{StreamURL: url}, nil
	}

	script := `() => { const v = document.querySelector('video'); return v ? v.currentSrc : ""; }`
	if val, err := s.driver.Evaluate(ctx, tab, script); err == nil {
		val = strings.Trim(val, `"`)
		if isM3U8URL(val) {
			return HopResult{StreamURL: val}, nil
		}
	}

	html, err := s.driver.Evaluate(ctx, tab, `() => document.documentElement.outerHTML`)
	if err == nil {
		if m := reM3U8URL.FindStringSubmatch(html); m != nil {
			return HopResult{StreamURL: m[1]}, nil
		}
		if hop == HopProRCP {
			if m := reShadowlandsURL.FindStringSubmatch(html); m != nil {
				return HopResult{NextURL: m[1]}, nil
			}
		}
	}

	return HopResult{}, PatternNotFound(string(hop), nil)
}

func isM3U8URL(url string) bool {
	return strings.Contains(url, ".m3u8")
}

func jsQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
