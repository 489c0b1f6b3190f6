package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

const challengeBodySizeThreshold = 3 * 1024

var (
	reIframeCloudNestra = regexp.MustCompile(`(?i)<iframe[^>]+src=["']((?:https:)?//cloudnestra\.com/rcp/[^"']+)["']`)
	reProRCPPath        = regexp.MustCompile(`(?i)["'](/prorcp/[A-Za-z0-9+/_=\-]+)["']`)
	reShadowlandsURL    = regexp.MustCompile(`(?i)(https?://[a-z0-9.-]*shadowlandschronicles\.com[^"'\s]+)`)
	reM3U8URL           = regexp.MustCompile(`(?i)(https?://[^"'\s]+\.m3u8[^"'\s]*)`)
	rePlayerjsFile      = regexp.MustCompile(`(?i)Playerjs\(\s*\{[^}]*file\s*:\s*['"]([^'"]+\.m3u8[^'"]*)['"]`)
	reCloudflareMarker  = regexp.MustCompile(`(?i)(just a moment|cf-browser-verification|turnstile|/cdn-cgi/challenge-platform|ray id:)`)
)

// PureFetchStrategy walks one hop via a plain HTTPS GET and regex parsing of
// the returned HTML, never involving a browser (spec.md §4.1 strategy 1).
type PureFetchStrategy struct {
	client    *http.Client
	userAgent string
}

// NewPureFetchStrategy builds a strategy bound to the given HTTP client and
// upstream user-agent string (spec.md requires a realistic, consistent UA).
func NewPureFetchStrategy(client *http.Client, userAgent string) *PureFetchStrategy {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &PureFetchStrategy{client: client, userAgent: userAgent}
}

func (s *PureFetchStrategy) Name() string { return "purefetch" }

// FetchHop performs one hop's GET with headers matching a human browser
// navigating the embed chain, then parses the body for this hop's pattern.
func (s *PureFetchStrategy) FetchHop(ctx context.Context, hop HopName, pageURL, referer string) (HopResult, error) {
	body, status, err := s.get(ctx, pageURL, referer)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return HopResult{}, Timeout(string(hop))
		}
		return HopResult{}, Internal(string(hop), err)
	}

	if status == http.StatusNotFound {
		return HopResult{}, NavigationError404(string(hop))
	}
	if looksLikeChallenge(status, body) {
		return HopResult{}, ChallengeUnresolved(string(hop))
	}

	switch hop {
	case HopVidSrc:
		return s.parseVidSrc(body)
	case HopRCP:
		return s.parseRCP(body)
	case HopProRCP:
		return s.parseProRCP(body)
	case HopShadowlands:
		return s.parseShadowlands(body)
	default:
		return HopResult{}, fmt.Errorf("unknown hop %q", hop)
	}
}

// get performs the GET with a single jittered retry on transient failure,
// matching §4.1's "up to 1 fetch retry per hop with jittered 250-750ms
// backoff".
func (s *PureFetchStrategy) get(ctx context.Context, rawURL, referer string) ([]byte, int, error) {
	var body []byte
	var status int

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			s.applyHeaders(req, referer)

			resp, err := s.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
			if err != nil {
				return err
			}
			body = data
			status = resp.StatusCode
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.DelayType(retry.CombineDelay(retry.FixedDelay, retry.RandomDelay)),
		retry.MaxJitter(500*time.Millisecond),
		retry.Delay(250*time.Millisecond),
	)
	return body, status, err
}

// applyHeaders sets the realistic, automation-free header set spec.md §4.1
// requires for the pure-fetch strategy: a believable UA, the previous hop's
// URL as Referer, Accept-Language, and nothing that flags automation.
func (s *PureFetchStrategy) applyHeaders(req *http.Request, referer string) {
	ua := s.userAgent
	if ua == "" {
		ua = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
}

func looksLikeChallenge(status int, body []byte) bool {
	if status == http.StatusForbidden || status == 503 {
		return true
	}
	if len(body) < challengeBodySizeThreshold && reCloudflareMarker.Match(body) {
		return true
	}
	return false
}

func (s *PureFetchStrategy) parseVidSrc(body []byte) (HopResult, error) {
	m := reIframeCloudNestra.FindSubmatch(body)
	if m == nil {
		return HopResult{}, PatternNotFound(string(HopVidSrc), nil)
	}
	return HopResult{NextURL: resolveSchemeRelative(string(m[1]))}, nil
}

func (s *PureFetchStrategy) parseRCP(body []byte) (HopResult, error) {
	m := reProRCPPath.FindSubmatch(body)
	if m == nil {
		return HopResult{}, PatternNotFound(string(HopRCP), nil)
	}
	return HopResult{NextURL: "https://cloudnestra.com" + string(m[1])}, nil
}

func (s *PureFetchStrategy) parseProRCP(body []byte) (HopResult, error) {
	if m := rePlayerjsFile.FindSubmatch(body); m != nil {
		return HopResult{StreamURL: string(m[1])}, nil
	}
	if m := reM3U8URL.FindSubmatch(body); m != nil {
		return HopResult{StreamURL: string(m[1])}, nil
	}
	if m := reShadowlandsURL.FindSubmatch(body); m != nil {
		return HopResult{NextURL: string(m[1])}, nil
	}
	return HopResult{}, PatternNotFound(string(HopProRCP), nil)
}

func (s *PureFetchStrategy) parseShadowlands(body []byte) (HopResult, error) {
	if m := reM3U8URL.FindSubmatch(body); m != nil {
		return HopResult{StreamURL: string(m[1])}, nil
	}
	return HopResult{}, PatternNotFound(string(HopShadowlands), nil)
}

// resolveSchemeRelative turns a protocol-relative ("//host/path") or bare
// https URL into an absolute https:// URL, per §4.1 hop 1's accepted forms.
func resolveSchemeRelative(raw string) string {
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}
	if _, err := url.Parse(raw); err == nil && strings.HasPrefix(raw, "https:") {
		return raw
	}
	return raw
}
