package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"flyx/internal/streamproxy"
)

func TestStreamProxyHandler_Serve_RejectsMissingURL(t *testing.T) {
	proxy := streamproxy.New(map[string]streamproxy.SourceConfig{"test": {Hosts: []string{"cloudnestra.com"}}}, "test-agent")
	h := NewStreamProxyHandler(proxy, "/stream-proxy")

	req := httptest.NewRequest(http.MethodGet, "/stream-proxy?source=test", nil)
	rec := httptest.NewRecorder()
	h.Serve(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStreamProxyHandler_Serve_RejectsMissingSource(t *testing.T) {
	proxy := streamproxy.New(map[string]streamproxy.SourceConfig{"test": {Hosts: []string{"cloudnestra.com"}}}, "test-agent")
	h := NewStreamProxyHandler(proxy, "/stream-proxy")

	req := httptest.NewRequest(http.MethodGet, "/stream-proxy?url=https://cloudnestra.com/master.m3u8", nil)
	rec := httptest.NewRecorder()
	h.Serve(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStreamProxyHandler_Serve_RejectsUnknownSource(t *testing.T) {
	proxy := streamproxy.New(map[string]streamproxy.SourceConfig{"vidsrc": {Hosts: []string{"cloudnestra.com"}}}, "test-agent")
	h := NewStreamProxyHandler(proxy, "/stream-proxy")

	req := httptest.NewRequest(http.MethodGet, "/stream-proxy?url=https://cloudnestra.com/master.m3u8&source=nope", nil)
	rec := httptest.NewRecorder()
	h.Serve(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for unknown source", rec.Code)
	}
}

func TestStreamProxyHandler_Serve_RejectsDisallowedScheme(t *testing.T) {
	proxy := streamproxy.New(map[string]streamproxy.SourceConfig{"test": {Hosts: []string{"cloudnestra.com"}}}, "test-agent")
	h := NewStreamProxyHandler(proxy, "/stream-proxy")

	req := httptest.NewRequest(http.MethodGet, "/stream-proxy?url=file:///etc/passwd&source=test", nil)
	rec := httptest.NewRecorder()
	h.Serve(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for disallowed scheme", rec.Code)
	}
}

func TestStreamProxyHandler_Serve_ManifestHostNotAllowed(t *testing.T) {
	proxy := streamproxy.New(map[string]streamproxy.SourceConfig{"test": {Hosts: []string{"cloudnestra.com"}}}, "test-agent")
	h := NewStreamProxyHandler(proxy, "/stream-proxy")

	req := httptest.NewRequest(http.MethodGet, "/stream-proxy?url=https://evil.com/master.m3u8&source=test", nil)
	rec := httptest.NewRecorder()
	h.Serve(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestStreamProxyHandler_Serve_SegmentHostNotAllowed(t *testing.T) {
	proxy := streamproxy.New(map[string]streamproxy.SourceConfig{"test": {Hosts: []string{"cloudnestra.com"}}}, "test-agent")
	h := NewStreamProxyHandler(proxy, "/stream-proxy")

	req := httptest.NewRequest(http.MethodGet, "/stream-proxy?url=https://evil.com/seg0.ts&source=test", nil)
	rec := httptest.NewRecorder()
	h.Serve(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestStreamProxyHandler_Serve_ManifestFetchAndRewrite(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Write([]byte("#EXTM3U\nsegment0.ts\n"))
	}))
	defer upstream.Close()

	host := upstream.Listener.Addr().String()
	proxy := streamproxy.New(map[string]streamproxy.SourceConfig{"test": {Hosts: []string{hostOnlyForTest(host)}}}, "test-agent")
	h := NewStreamProxyHandler(proxy, "/stream-proxy")

	req := httptest.NewRequest(http.MethodGet, "/stream-proxy?url="+upstream.URL+"/master.m3u8&source=test", nil)
	rec := httptest.NewRecorder()
	h.Serve(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "application/vnd.apple.mpegurl" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS header on manifest response")
	}
	if !strings.Contains(rec.Body.String(), "/stream-proxy?url=") {
		t.Errorf("expected rewritten segment URI, got: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "source=test") {
		t.Errorf("expected rewritten segment URI to carry the source tag, got: %s", rec.Body.String())
	}
}

func TestIsManifestPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/hls/master.m3u8", true},
		{"/hls/seg0.ts", false},
		{"/hls/master.M3U8", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isManifestPath(tt.path); got != tt.want {
			t.Errorf("isManifestPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func hostOnlyForTest(addr string) string {
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		return addr[:i]
	}
	return addr
}
