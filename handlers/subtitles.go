package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"flyx/models"
	"flyx/utils"
)

// subtitleResolver is the subset of *subtitles.Service this handler needs.
type subtitleResolver interface {
	List(ctx context.Context, contentID int, mediaType models.MediaType, season, episode int, languages []string) ([]models.SubtitleRef, int, error)
	Resolve(ctx context.Context, ref models.SubtitleRef) (models.ProcessedSubtitle, error)
	Fetch(handle string) ([]byte, bool)
}

// SubtitleHandler serves subtitle listing, on-demand conversion, and cached
// VTT retrieval (§4.5, §6).
type SubtitleHandler struct {
	Service subtitleResolver
}

// NewSubtitleHandler wires the handler against a subtitle service.
func NewSubtitleHandler(service subtitleResolver) *SubtitleHandler {
	return &SubtitleHandler{Service: service}
}

// List implements GET /api/subtitles?imdbId=&languageId=[&season=&episode=],
// returning ranked candidates for the requested content and languages.
func (h *SubtitleHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	imdbID, err := parseImdbID(q.Get("imdbId"))
	if err != nil {
		http.Error(w, "imdbId is required and must be numeric", http.StatusBadRequest)
		return
	}

	languageParam := q.Get("languageId")
	var languages []string
	if languageParam != "" {
		languages = strings.Split(languageParam, ",")
	}

	mediaType := models.MediaTypeMovie
	var season, episode int
	if s := q.Get("season"); s != "" {
		season, err = strconv.Atoi(s)
		if err != nil {
			http.Error(w, "season must be numeric", http.StatusBadRequest)
			return
		}
	}
	if e := q.Get("episode"); e != "" {
		episode, err = strconv.Atoi(e)
		if err != nil {
			http.Error(w, "episode must be numeric", http.StatusBadRequest)
			return
		}
	}
	if season > 0 && episode > 0 {
		mediaType = models.MediaTypeTV
	}

	refs, total, err := h.Service.List(r.Context(), imdbID, mediaType, season, episode, languages)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":    true,
		"subtitles":  refs,
		"totalCount": total,
		"language":   languageParam,
		"source":     "opensubtitles",
	})
}

// Download implements GET /api/subtitles/download?url=, resolving a
// candidate's track on the fly and returning VTT bytes directly.
func (h *SubtitleHandler) Download(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}
	if err := utils.ValidateMediaURL(rawURL); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	processed, err := h.Service.Resolve(r.Context(), models.SubtitleRef{DownloadURL: rawURL})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "text/vtt; charset=utf-8")
	w.Write(processed.VTTBytes)
}

// Resolve fetches and normalizes one subtitle candidate, returning an
// opaque blob handle the caller uses to retrieve the VTT body.
func (h *SubtitleHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var ref models.SubtitleRef
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ref); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if ref.DownloadURL == "" {
		http.Error(w, "downloadUrl is required", http.StatusBadRequest)
		return
	}

	processed, err := h.Service.Resolve(r.Context(), ref)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"blobHandle":    processed.BlobHandle,
		"wasCompressed": processed.WasCompressed,
	})
}

// Fetch returns the cached VTT bytes for a previously resolved handle.
func (h *SubtitleHandler) Fetch(w http.ResponseWriter, r *http.Request) {
	handle := mux.Vars(r)["handle"]
	data, ok := h.Service.Fetch(handle)
	if !ok {
		http.Error(w, "subtitle not found or expired", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/vtt; charset=utf-8")
	w.Write(data)
}

// parseImdbID accepts either a bare numeric id or one prefixed with "tt"
// (IMDb's own convention), as the documented imdbId query param allows both.
func parseImdbID(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(strings.ToLower(raw), "tt")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, strconv.ErrSyntax
	}
	return id, nil
}
