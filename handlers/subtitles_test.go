package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"flyx/models"
)

type fakeSubtitleResolver struct {
	resolveResult models.ProcessedSubtitle
	resolveErr    error
	blobs         map[string][]byte

	listResult []models.SubtitleRef
	listTotal  int
	listErr    error
	gotSeason  int
	gotEpisode int
	gotLangs   []string
}

func (f *fakeSubtitleResolver) List(ctx context.Context, contentID int, mediaType models.MediaType, season, episode int, languages []string) ([]models.SubtitleRef, int, error) {
	f.gotSeason = season
	f.gotEpisode = episode
	f.gotLangs = languages
	return f.listResult, f.listTotal, f.listErr
}

func (f *fakeSubtitleResolver) Resolve(ctx context.Context, ref models.SubtitleRef) (models.ProcessedSubtitle, error) {
	return f.resolveResult, f.resolveErr
}

func (f *fakeSubtitleResolver) Fetch(handle string) ([]byte, bool) {
	data, ok := f.blobs[handle]
	return data, ok
}

func TestSubtitleHandler_List_Success(t *testing.T) {
	resolver := &fakeSubtitleResolver{
		listResult: []models.SubtitleRef{{Language: "eng", DownloadURL: "https://dl.example.com/1.srt"}},
		listTotal:  1,
	}
	h := NewSubtitleHandler(resolver)

	req := httptest.NewRequest(http.MethodGet, "/api/subtitles?imdbId=tt1234567&languageId=eng,spa", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if len(resolver.gotLangs) != 2 || resolver.gotLangs[0] != "eng" || resolver.gotLangs[1] != "spa" {
		t.Errorf("gotLangs = %v", resolver.gotLangs)
	}
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["success"] != true || resp["totalCount"] != float64(1) || resp["source"] != "opensubtitles" {
		t.Errorf("resp = %v", resp)
	}
}

func TestSubtitleHandler_List_SeasonEpisodeImpliesTV(t *testing.T) {
	resolver := &fakeSubtitleResolver{}
	h := NewSubtitleHandler(resolver)

	req := httptest.NewRequest(http.MethodGet, "/api/subtitles?imdbId=1399&languageId=eng&season=1&episode=2", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resolver.gotSeason != 1 || resolver.gotEpisode != 2 {
		t.Errorf("season/episode = %d/%d", resolver.gotSeason, resolver.gotEpisode)
	}
}

func TestSubtitleHandler_List_MissingImdbID(t *testing.T) {
	h := NewSubtitleHandler(&fakeSubtitleResolver{})

	req := httptest.NewRequest(http.MethodGet, "/api/subtitles?languageId=eng", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSubtitleHandler_List_UpstreamError(t *testing.T) {
	resolver := &fakeSubtitleResolver{listErr: errors.New("search failed")}
	h := NewSubtitleHandler(resolver)

	req := httptest.NewRequest(http.MethodGet, "/api/subtitles?imdbId=42&languageId=eng", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestSubtitleHandler_Download_Success(t *testing.T) {
	resolver := &fakeSubtitleResolver{
		resolveResult: models.ProcessedSubtitle{VTTBytes: []byte("WEBVTT\n\nhi")},
	}
	h := NewSubtitleHandler(resolver)

	req := httptest.NewRequest(http.MethodGet, "/api/subtitles/download?url=https://dl.example.com/1.srt", nil)
	rec := httptest.NewRecorder()
	h.Download(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "WEBVTT\n\nhi" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "text/vtt; charset=utf-8" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestSubtitleHandler_Download_MissingURL(t *testing.T) {
	h := NewSubtitleHandler(&fakeSubtitleResolver{})

	req := httptest.NewRequest(http.MethodGet, "/api/subtitles/download", nil)
	rec := httptest.NewRecorder()
	h.Download(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSubtitleHandler_Download_RejectsUnsafeScheme(t *testing.T) {
	h := NewSubtitleHandler(&fakeSubtitleResolver{})

	req := httptest.NewRequest(http.MethodGet, "/api/subtitles/download?url=file:///etc/passwd", nil)
	rec := httptest.NewRecorder()
	h.Download(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSubtitleHandler_Resolve_Success(t *testing.T) {
	resolver := &fakeSubtitleResolver{
		resolveResult: models.ProcessedSubtitle{BlobHandle: "abc123", WasCompressed: true},
	}
	h := NewSubtitleHandler(resolver)

	body, _ := json.Marshal(models.SubtitleRef{DownloadURL: "https://dl.example.com/1.srt"})
	req := httptest.NewRequest(http.MethodPost, "/api/subtitles/resolve", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Resolve(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["blobHandle"] != "abc123" {
		t.Errorf("blobHandle = %v", resp["blobHandle"])
	}
	if resp["wasCompressed"] != true {
		t.Errorf("wasCompressed = %v", resp["wasCompressed"])
	}
}

func TestSubtitleHandler_Resolve_MissingDownloadURL(t *testing.T) {
	h := NewSubtitleHandler(&fakeSubtitleResolver{})

	body, _ := json.Marshal(models.SubtitleRef{})
	req := httptest.NewRequest(http.MethodPost, "/api/subtitles/resolve", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Resolve(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSubtitleHandler_Resolve_InvalidJSON(t *testing.T) {
	h := NewSubtitleHandler(&fakeSubtitleResolver{})

	req := httptest.NewRequest(http.MethodPost, "/api/subtitles/resolve", bytes.NewReader([]byte(`{bad`)))
	rec := httptest.NewRecorder()
	h.Resolve(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSubtitleHandler_Resolve_UpstreamError(t *testing.T) {
	resolver := &fakeSubtitleResolver{resolveErr: errors.New("fetch subtitle: boom")}
	h := NewSubtitleHandler(resolver)

	body, _ := json.Marshal(models.SubtitleRef{DownloadURL: "https://dl.example.com/1.srt"})
	req := httptest.NewRequest(http.MethodPost, "/api/subtitles/resolve", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Resolve(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestSubtitleHandler_Fetch_Found(t *testing.T) {
	resolver := &fakeSubtitleResolver{blobs: map[string][]byte{"abc123": []byte("WEBVTT\n\nhi")}}
	h := NewSubtitleHandler(resolver)

	req := httptest.NewRequest(http.MethodGet, "/api/subtitles/abc123", nil)
	req = mux.SetURLVars(req, map[string]string{"handle": "abc123"})
	rec := httptest.NewRecorder()
	h.Fetch(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "WEBVTT\n\nhi" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "text/vtt; charset=utf-8" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestSubtitleHandler_Fetch_NotFound(t *testing.T) {
	resolver := &fakeSubtitleResolver{blobs: map[string][]byte{}}
	h := NewSubtitleHandler(resolver)

	req := httptest.NewRequest(http.MethodGet, "/api/subtitles/missing", nil)
	req = mux.SetURLVars(req, map[string]string{"handle": "missing"})
	rec := httptest.NewRecorder()
	h.Fetch(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
