package streamproxy

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// attrURIPattern matches a quoted URI="..." attribute within an HLS tag
// line (#EXT-X-MEDIA, #EXT-X-MAP, #EXT-X-KEY).
var attrURIPattern = regexp.MustCompile(`URI="([^"]+)"`)

// RewriteManifest rewrites every absolute or relative media/segment URI in
// an .m3u8 playlist so it routes back through this proxy's /stream
// endpoint, preserving line order, whitespace, and every tag the parser
// doesn't touch byte-for-byte (§4.4's idempotence and byte-exact-passthrough
// properties — see DESIGN.md for why this is hand-rolled rather than built
// on a structured m3u8 parser).
//
// base is the manifest's own upstream URL, used to resolve relative URIs
// before re-encoding them as proxied URLs. proxyBase is this service's own
// public "/stream-proxy" prefix. source is the documented source tag
// (vidsrc/embed.su/shadowlands) and is carried onto every rewritten URI so
// the next hop re-applies the same header policy (§8 property 3).
func RewriteManifest(manifest string, base *url.URL, proxyBase, source string) (string, error) {
	lines := strings.Split(manifest, "\n")
	for i, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		suffix := line[len(trimmed):]

		switch {
		case trimmed == "":
			continue
		case strings.HasPrefix(trimmed, "#EXT-X-STREAM-INF") || strings.HasPrefix(trimmed, "#EXT-X-I-FRAME-STREAM-INF"):
			lines[i] = rewriteAttrURI(trimmed, base, proxyBase, source) + suffix
		case strings.HasPrefix(trimmed, "#EXT-X-MEDIA") || strings.HasPrefix(trimmed, "#EXT-X-MAP") || strings.HasPrefix(trimmed, "#EXT-X-KEY") || strings.HasPrefix(trimmed, "#EXT-X-PART") || strings.HasPrefix(trimmed, "#EXT-X-PRELOAD-HINT"):
			lines[i] = rewriteAttrURI(trimmed, base, proxyBase, source) + suffix
		case strings.HasPrefix(trimmed, "#"):
			// untouched directive/comment line
		default:
			// a bare URI line: either a variant playlist reference (after
			// EXT-X-STREAM-INF) or a media segment.
			rewritten, err := proxyURI(trimmed, base, proxyBase, source)
			if err != nil {
				return "", err
			}
			lines[i] = rewritten + suffix
		}
	}
	return strings.Join(lines, "\n"), nil
}

func rewriteAttrURI(line string, base *url.URL, proxyBase, source string) string {
	return attrURIPattern.ReplaceAllStringFunc(line, func(match string) string {
		m := attrURIPattern.FindStringSubmatch(match)
		if m == nil {
			return match
		}
		rewritten, err := proxyURI(m[1], base, proxyBase, source)
		if err != nil {
			return match
		}
		return `URI="` + rewritten + `"`
	})
}

// proxyURI resolves raw against base (handling absolute, scheme-relative,
// and path-relative forms) and re-encodes it as a proxyBase?url=...&source=...
// URL that the stream proxy's segment handler will fetch on demand. A URI
// that already starts with proxyBase+"?" is returned unchanged, so a second
// rewrite pass does not nest proxy URLs.
func proxyURI(raw string, base *url.URL, proxyBase, source string) (string, error) {
	if strings.HasPrefix(raw, proxyBase+"?") {
		return raw, nil
	}
	resolved, err := base.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("resolve manifest URI %q: %w", raw, err)
	}

	return proxyBase + "?url=" + url.QueryEscape(resolved.String()) + "&source=" + url.QueryEscape(source), nil
}
