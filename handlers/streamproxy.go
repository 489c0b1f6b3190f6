package handlers

import (
	"net/http"
	"net/url"

	"flyx/internal/streamproxy"
	"flyx/utils"
)

// StreamProxyHandler relays HLS manifests and media segments for origins
// that reject direct browser playback (§4.4, §6).
type StreamProxyHandler struct {
	Proxy     *streamproxy.Proxy
	ProxyBase string
}

// NewStreamProxyHandler wires the handler against a configured Proxy and
// this service's own public "/stream-proxy" prefix (used when rewriting
// manifest URIs back through itself).
func NewStreamProxyHandler(proxy *streamproxy.Proxy, proxyBase string) *StreamProxyHandler {
	return &StreamProxyHandler{Proxy: proxy, ProxyBase: proxyBase}
}

// Serve implements GET /stream-proxy?url=&source=<vidsrc|embed.su|shadowlands>,
// fetching the requested upstream URL, rewriting it as a manifest if its
// path ends in .m3u8 and otherwise relaying it as a media segment.
func (h *StreamProxyHandler) Serve(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if err := utils.ValidateMediaURL(rawURL); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if rawURL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	source := r.URL.Query().Get("source")
	if source == "" {
		http.Error(w, "source is required", http.StatusBadRequest)
		return
	}
	if !h.Proxy.HasSource(source) {
		http.Error(w, "unknown stream source", http.StatusBadRequest)
		return
	}

	upstream, err := url.Parse(rawURL)
	if err != nil || upstream.Host == "" {
		http.Error(w, "invalid url parameter", http.StatusBadRequest)
		return
	}
	if !h.Proxy.IsAllowed(source, upstream.Hostname()) {
		http.Error(w, streamproxy.ErrHostNotAllowed.Error(), http.StatusForbidden)
		return
	}

	if isManifestPath(upstream.Path) {
		h.serveManifest(w, r, upstream, source)
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	if err := h.Proxy.StreamSegment(w, r, upstream, source); err != nil {
		// headers/status may already be written by StreamSegment on error
		return
	}
}

func (h *StreamProxyHandler) serveManifest(w http.ResponseWriter, r *http.Request, upstream *url.URL, source string) {
	body, _, err := h.Proxy.FetchManifest(r.Context(), upstream, source)
	if err != nil {
		if err == streamproxy.ErrHostNotAllowed {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		if err == streamproxy.ErrUnknownSource {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "upstream manifest fetch failed", http.StatusBadGateway)
		return
	}

	rewritten, err := streamproxy.RewriteManifest(string(body), upstream, h.ProxyBase, source)
	if err != nil {
		http.Error(w, "manifest rewrite failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write([]byte(rewritten))
}

func isManifestPath(path string) bool {
	return len(path) >= 5 && path[len(path)-5:] == ".m3u8"
}
