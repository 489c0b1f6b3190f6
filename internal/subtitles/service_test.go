package subtitles

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"flyx/models"
)

func TestService_FindBest_RanksAndCaps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"SubLanguageID":"eng","SubDownloadLink":"https://dl.example.com/low.srt","SubRating":"2.0","SubDownloadsCnt":"10","UserRank":"member"},
			{"SubLanguageID":"eng","SubDownloadLink":"https://dl.example.com/high.srt","SubRating":"9.0","SubDownloadsCnt":"200000","UserRank":"trusted","SubHD":"1"}
		]`))
	}))
	defer srv.Close()

	svc := NewService(NewOpenSubtitlesClient(srv.URL, "test-agent"), NewBlobCache())

	refs, err := svc.FindBest(context.Background(), 100, models.MediaTypeMovie, 0, 0)
	if err != nil {
		t.Fatalf("FindBest() error = %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("len(refs) = %d, want 2", len(refs))
	}
	if refs[0].DownloadURL != "https://dl.example.com/high.srt" {
		t.Errorf("expected higher-quality ref first, got %+v", refs[0])
	}
}

func TestService_FindBest_CapsAtMaxCandidates(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("[")
	for i := 0; i < maxCandidatesPerRequest+5; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"SubLanguageID":"eng","SubDownloadLink":"https://dl.example.com/x.srt","SubRating":"5.0"}`)
	}
	sb.WriteString("]")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sb.String()))
	}))
	defer srv.Close()

	svc := NewService(NewOpenSubtitlesClient(srv.URL, "test-agent"), NewBlobCache())
	refs, err := svc.FindBest(context.Background(), 100, models.MediaTypeMovie, 0, 0)
	if err != nil {
		t.Fatalf("FindBest() error = %v", err)
	}
	if len(refs) != maxCandidatesPerRequest {
		t.Errorf("len(refs) = %d, want %d", len(refs), maxCandidatesPerRequest)
	}
}

func TestService_FindBest_PropagatesSearchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc := NewService(NewOpenSubtitlesClient(srv.URL, "test-agent"), NewBlobCache())
	if _, err := svc.FindBest(context.Background(), 100, models.MediaTypeMovie, 0, 0); err == nil {
		t.Error("expected an error to propagate from a failed search")
	}
}

func TestService_List_MergesConcurrentLanguageSearchesAndDedupes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(r.URL.Path, "sublanguageid-eng"):
			w.Write([]byte(`[
				{"SubLanguageID":"eng","SubDownloadLink":"https://dl.example.com/shared.srt","SubRating":"7.0"},
				{"SubLanguageID":"eng","SubDownloadLink":"https://dl.example.com/eng-only.srt","SubRating":"6.0"}
			]`))
		case strings.Contains(r.URL.Path, "sublanguageid-spa"):
			w.Write([]byte(`[{"SubLanguageID":"spa","SubDownloadLink":"https://dl.example.com/shared.srt","SubRating":"7.0"}]`))
		default:
			w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	svc := NewService(NewOpenSubtitlesClient(srv.URL, "test-agent"), NewBlobCache())

	refs, total, err := svc.List(context.Background(), 100, models.MediaTypeMovie, 0, 0, []string{"eng", "spa"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2 (shared.srt deduped)", total)
	}
	if len(refs) != 2 {
		t.Fatalf("len(refs) = %d, want 2", len(refs))
	}
}

func TestService_Resolve_DecompressesAndConvertsToVTT(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	gw.Write([]byte("1\n00:00:01,000 --> 00:00:02,000\nHi\n"))
	gw.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	svc := NewService(NewOpenSubtitlesClient(srv.URL, "test-agent"), NewBlobCache())
	ref := models.SubtitleRef{DownloadURL: srv.URL + "/1.srt.gz"}

	processed, err := svc.Resolve(context.Background(), ref)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !processed.WasCompressed {
		t.Error("expected WasCompressed=true for a gzip payload")
	}
	if !strings.HasPrefix(string(processed.VTTBytes), "WEBVTT") {
		t.Errorf("expected VTT conversion, got %q", processed.VTTBytes)
	}
	if processed.BlobHandle == "" {
		t.Error("expected a non-empty blob handle")
	}

	got, ok := svc.Fetch(processed.BlobHandle)
	if !ok {
		t.Fatal("expected Fetch to find the resolved blob")
	}
	if string(got) != string(processed.VTTBytes) {
		t.Error("Fetch did not return the same bytes that Resolve cached")
	}
}

func TestService_Resolve_PassesThroughAlreadyVTT(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("WEBVTT\n\n00:00:01.000 --> 00:00:02.000\nHi\n"))
	}))
	defer srv.Close()

	svc := NewService(NewOpenSubtitlesClient(srv.URL, "test-agent"), NewBlobCache())
	ref := models.SubtitleRef{DownloadURL: srv.URL + "/1.vtt"}

	processed, err := svc.Resolve(context.Background(), ref)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !strings.Contains(string(processed.VTTBytes), "00:00:01.000") {
		t.Errorf("expected already-VTT content preserved untouched, got %q", processed.VTTBytes)
	}
}

func TestService_Fetch_UnknownHandle(t *testing.T) {
	svc := NewService(NewOpenSubtitlesClient("http://unused", "test-agent"), NewBlobCache())
	if _, ok := svc.Fetch("nope"); ok {
		t.Error("expected ok=false for an unknown handle")
	}
}
