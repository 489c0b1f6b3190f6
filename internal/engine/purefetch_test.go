package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPureFetchStrategy_ParseVidSrc(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><iframe src="https://cloudnestra.com/rcp/abc123=="></iframe></body></html>`))
	}))
	defer srv.Close()

	s := NewPureFetchStrategy(srv.Client(), "test-agent")
	res, err := s.FetchHop(context.Background(), HopVidSrc, srv.URL, "")
	if err != nil {
		t.Fatalf("FetchHop() error = %v", err)
	}
	if res.NextURL != "https://cloudnestra.com/rcp/abc123==" {
		t.Errorf("NextURL = %q", res.NextURL)
	}
}

func TestPureFetchStrategy_ParseRCP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<script>var u = "/prorcp/XyZ_789-abc=";</script>`))
	}))
	defer srv.Close()

	s := NewPureFetchStrategy(srv.Client(), "test-agent")
	res, err := s.FetchHop(context.Background(), HopRCP, srv.URL, srv.URL)
	if err != nil {
		t.Fatalf("FetchHop() error = %v", err)
	}
	if res.NextURL != "https://cloudnestra.com/prorcp/XyZ_789-abc=" {
		t.Errorf("NextURL = %q", res.NextURL)
	}
}

func TestPureFetchStrategy_ParseProRCP(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStream string
		wantNext   string
	}{
		{
			name:       "playerjs literal",
			body:       `Playerjs({id:'player', file: 'https://edge.example.com/stream/index.m3u8'});`,
			wantStream: "https://edge.example.com/stream/index.m3u8",
		},
		{
			name:       "bare m3u8 url",
			body:       `<script>var src = "https://edge.example.com/hls/master.m3u8?token=abc";</script>`,
			wantStream: "https://edge.example.com/hls/master.m3u8?token=abc",
		},
		{
			name:     "shadowlands handoff",
			body:     `<script>window.location = "https://play.shadowlandschronicles.com/embed/xyz";</script>`,
			wantNext: "https://play.shadowlandschronicles.com/embed/xyz",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			s := NewPureFetchStrategy(srv.Client(), "test-agent")
			res, err := s.FetchHop(context.Background(), HopProRCP, srv.URL, srv.URL)
			if err != nil {
				t.Fatalf("FetchHop() error = %v", err)
			}
			if res.StreamURL != tt.wantStream {
				t.Errorf("StreamURL = %q, want %q", res.StreamURL, tt.wantStream)
			}
			if res.NextURL != tt.wantNext {
				t.Errorf("NextURL = %q, want %q", res.NextURL, tt.wantNext)
			}
		})
	}
}

func TestPureFetchStrategy_ParseShadowlands(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<video src="https://cdn.shadowlandschronicles.com/v/master.m3u8"></video>`))
	}))
	defer srv.Close()

	s := NewPureFetchStrategy(srv.Client(), "test-agent")
	res, err := s.FetchHop(context.Background(), HopShadowlands, srv.URL, "")
	if err != nil {
		t.Fatalf("FetchHop() error = %v", err)
	}
	if res.StreamURL != "https://cdn.shadowlandschronicles.com/v/master.m3u8" {
		t.Errorf("StreamURL = %q", res.StreamURL)
	}
}

func TestPureFetchStrategy_PatternNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>nothing useful here</body></html>`))
	}))
	defer srv.Close()

	s := NewPureFetchStrategy(srv.Client(), "test-agent")
	_, err := s.FetchHop(context.Background(), HopVidSrc, srv.URL, "")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var engErr *Error
	if !asEngineError(err, &engErr) || engErr.Kind != KindPatternNotFound {
		t.Errorf("expected KindPatternNotFound, got %v", err)
	}
}

func TestPureFetchStrategy_NavigationError404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := NewPureFetchStrategy(srv.Client(), "test-agent")
	_, err := s.FetchHop(context.Background(), HopVidSrc, srv.URL, "")
	var engErr *Error
	if !asEngineError(err, &engErr) || engErr.Kind != KindNavigationError404 {
		t.Errorf("expected KindNavigationError404, got %v", err)
	}
}

func TestPureFetchStrategy_ChallengeDetection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(strings.Repeat("x", 10)))
	}))
	defer srv.Close()

	s := NewPureFetchStrategy(srv.Client(), "test-agent")
	_, err := s.FetchHop(context.Background(), HopVidSrc, srv.URL, "")
	var engErr *Error
	if !asEngineError(err, &engErr) || engErr.Kind != KindChallengeUnresolved {
		t.Errorf("expected KindChallengeUnresolved, got %v", err)
	}
}

func asEngineError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = e
	return true
}
