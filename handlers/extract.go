// Package handlers is the HTTP front for the extraction pipeline (spec.md
// §6): request validation, job creation, progress delivery, and the
// terminal-result/ error mapping, grounded on
// handlers/playback.go's interface-typed-service + mux.Vars +
// errors.Is-based status mapping shape.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"flyx/internal/engine"
	"flyx/internal/progressbus"
	"flyx/models"
)

// jobRunner is the subset of *engine.Engine this handler needs, named so
// handler tests can substitute a fake without standing up a real engine.
type jobRunner interface {
	Run(ctx context.Context, jobID string)
}

// jobLookup is the subset of *engine.JobRegistry this handler needs.
type jobLookup interface {
	Create(jobID string, req models.ExtractionRequest) *models.ExtractionJob
	Get(jobID string) (models.ExtractionJob, bool)
}

// ExtractHandler serves the extraction job lifecycle: creation, status
// polling, and SSE progress delivery.
type ExtractHandler struct {
	Engine jobRunner
	Jobs   jobLookup
	Bus    *progressbus.Bus

	// syncTimeout bounds how long the synchronous variant blocks waiting
	// for a terminal event before falling back to a 202-with-job-id
	// response (§6: "the sync endpoint is a convenience wrapper, never a
	// second extraction path").
	syncTimeout time.Duration
}

// NewExtractHandler wires the handler against the engine, job registry, and
// progress bus.
func NewExtractHandler(eng jobRunner, jobs jobLookup, bus *progressbus.Bus, syncTimeout time.Duration) *ExtractHandler {
	return &ExtractHandler{Engine: eng, Jobs: jobs, Bus: bus, syncTimeout: syncTimeout}
}

// extractRequestBody mirrors the documented POST /extract-stream body
// (§6: `{ mediaType, movieId, seasonId?, episodeId?, server? }`).
type extractRequestBody struct {
	Server    string `json:"server"`
	MediaType string `json:"mediaType"`
	MovieID   int    `json:"movieId"`
	SeasonID  int    `json:"seasonId,omitempty"`
	EpisodeID int    `json:"episodeId,omitempty"`
}

func (b extractRequestBody) toModel() (models.ExtractionRequest, error) {
	server, err := models.ParseServer(b.Server)
	if err != nil {
		return models.ExtractionRequest{}, err
	}
	mediaType, err := models.ParseMediaType(b.MediaType)
	if err != nil {
		return models.ExtractionRequest{}, err
	}
	req := models.ExtractionRequest{
		Server:    server,
		MediaType: mediaType,
		ContentID: b.MovieID,
		Season:    b.SeasonID,
		Episode:   b.EpisodeID,
	}
	return req, req.Validate()
}

// parseExtractQuery builds an ExtractionRequest from the documented
// GET /extract-stream-progress query parameters (§6:
// `?mediaType=&movieId=&server=[&seasonId=&episodeId=]`).
func parseExtractQuery(q url.Values) (models.ExtractionRequest, error) {
	server, err := models.ParseServer(q.Get("server"))
	if err != nil {
		return models.ExtractionRequest{}, err
	}
	mediaType, err := models.ParseMediaType(q.Get("mediaType"))
	if err != nil {
		return models.ExtractionRequest{}, err
	}

	movieID, err := strconv.Atoi(q.Get("movieId"))
	if err != nil {
		return models.ExtractionRequest{}, fmt.Errorf("movieId must be numeric")
	}

	var seasonID, episodeID int
	if mediaType == models.MediaTypeTV {
		seasonID, err = strconv.Atoi(q.Get("seasonId"))
		if err != nil {
			return models.ExtractionRequest{}, fmt.Errorf("seasonId must be numeric")
		}
		episodeID, err = strconv.Atoi(q.Get("episodeId"))
		if err != nil {
			return models.ExtractionRequest{}, fmt.Errorf("episodeId must be numeric")
		}
	}

	req := models.ExtractionRequest{
		Server:    server,
		MediaType: mediaType,
		ContentID: movieID,
		Season:    seasonID,
		Episode:   episodeID,
	}
	return req, req.Validate()
}

// Create starts an extraction job asynchronously and returns its job id for
// the caller to poll or subscribe to.
func (h *ExtractHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body extractRequestBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	req, err := body.toModel()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	jobID := uuid.NewString()
	h.Jobs.Create(jobID, req)

	log.Printf("[extract-handler] created job %s server=%s mediaType=%s contentId=%d", jobID, req.Server, req.MediaType, req.ContentID)

	go h.Engine.Run(context.Background(), jobID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"requestId": jobID})
}

// ExtractAndStream implements GET /extract-stream-progress: it creates the
// job and opens its SSE stream in the same request, so a caller never needs
// a separate subscribe call to observe a job it just started (§6).
func (h *ExtractHandler) ExtractAndStream(w http.ResponseWriter, r *http.Request) {
	req, err := parseExtractQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	jobID := uuid.NewString()
	h.Jobs.Create(jobID, req)

	log.Printf("[extract-handler] created job %s server=%s mediaType=%s contentId=%d", jobID, req.Server, req.MediaType, req.ContentID)

	go h.Engine.Run(context.Background(), jobID)

	h.Bus.ServeHTTP(w, r, jobID)
}

// Status reports a job's current snapshot (phase, progress, terminal
// result or error) without opening an SSE stream.
func (h *ExtractHandler) Status(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]
	job, ok := h.Jobs.Get(jobID)
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

// Events streams a job's progress as SSE until a terminal phase or client
// disconnect (§4.3).
func (h *ExtractHandler) Events(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]
	if _, ok := h.Jobs.Get(jobID); !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	h.Bus.ServeHTTP(w, r, jobID)
}

// CreateSync creates a job and blocks the HTTP response until it reaches a
// terminal phase or syncTimeout elapses, returning the terminal result (or
// error) directly in the response body rather than requiring a follow-up
// poll or SSE subscription.
func (h *ExtractHandler) CreateSync(w http.ResponseWriter, r *http.Request) {
	var body extractRequestBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	req, err := body.toModel()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	jobID := uuid.NewString()
	h.Jobs.Create(jobID, req)

	events, unsubscribe := h.Bus.Subscribe(jobID, 0)
	defer unsubscribe()

	ctx, cancel := context.WithTimeout(r.Context(), h.syncTimeout)
	defer cancel()

	go h.Engine.Run(context.Background(), jobID)

	for {
		select {
		case <-ctx.Done():
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]string{"requestId": jobID})
			return
		case event, ok := <-events:
			if !ok || !event.IsTerminal() {
				continue
			}
			w.Header().Set("Content-Type", "application/json")
			if event.Error != nil {
				w.WriteHeader(statusForError(event.Error.Kind))
			} else {
				w.WriteHeader(http.StatusOK)
			}
			json.NewEncoder(w).Encode(event)
			return
		}
	}
}

// statusForError maps the engine's error taxonomy to an HTTP status, per
// spec.md §7.
func statusForError(kind string) int {
	switch engine.Kind(kind) {
	case engine.KindInvalidParams:
		return http.StatusBadRequest
	case engine.KindNavigationError404:
		return http.StatusNotFound
	case engine.KindChallengeUnresolved:
		return http.StatusBadGateway
	case engine.KindPatternNotFound:
		return http.StatusBadGateway
	case engine.KindTimeout:
		return http.StatusGatewayTimeout
	case engine.KindResourceExhausted:
		return http.StatusServiceUnavailable
	case engine.KindOriginFailure:
		return http.StatusBadGateway
	case engine.KindCanceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}
