package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"flyx/models"
)

var hostRegexp = regexp.MustCompile(`^https?://([^/]+)`)

// Publisher delivers one job's progress events onward (to the progress bus
// in production, to a recording fake in engine tests).
type Publisher interface {
	Publish(event models.ProgressEvent)
}

// SubtitleFinder is the seam into the subtitle service so the engine can
// attach subtitle tracks during the "subtitles" phase without importing its
// concrete HTTP client.
type SubtitleFinder interface {
	FindBest(ctx context.Context, contentID int, mediaType models.MediaType, season, episode int) ([]models.SubtitleRef, error)
}

// Engine orchestrates one job's walk through the embed chain: strategy
// selection and escalation per hop, the phase graph, at-most-once
// auto-switch, and terminal event publication.
type Engine struct {
	strategies *Registry
	jobs       *JobRegistry
	publisher  Publisher
	subtitles  SubtitleFinder

	jobBudget time.Duration
	hopTimeout time.Duration

	log *slog.Logger
}

// NewEngine wires an orchestrator. subtitleFinder may be nil, in which case
// the subtitles phase is skipped (degrading gracefully per §4.1's
// best-effort subtitle policy).
func NewEngine(strategies *Registry, jobs *JobRegistry, publisher Publisher, subtitleFinder SubtitleFinder, jobBudget, hopTimeout time.Duration) *Engine {
	return &Engine{
		strategies: strategies,
		jobs:       jobs,
		publisher:  publisher,
		subtitles:  subtitleFinder,
		jobBudget:  jobBudget,
		hopTimeout: hopTimeout,
		log:        slog.Default().With("component", "engine"),
	}
}

// hopOrder is the fixed sequence of embed-chain hops walked for every
// request (§4.1). ProRCP may itself resolve directly to a stream or hand
// off to Shadowlands; the walk below treats that as a conditional fourth
// step rather than a fixed hop.
var hopOrder = []HopName{HopVidSrc, HopRCP, HopProRCP}

// Run drives jobID from Pending through to a terminal phase, publishing one
// ProgressEvent per phase transition. The job must already exist in the
// registry (created by the HTTP layer before Run is invoked).
func (e *Engine) Run(ctx context.Context, jobID string) {
	job, ok := e.jobs.Get(jobID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, e.jobBudget)
	defer cancel()

	e.jobs.Update(jobID, func(j *models.ExtractionJob) { j.State = models.JobRunning })
	e.emit(jobID, models.PhaseInitializing, 5, "starting extraction")

	req := job.Request
	autoSwitched := false

	// One browser strategy instance per job, reused across every hop (and
	// across an auto-switch retry) so the fingerprint/process identity a
	// challenge solve established stays coherent for the whole walk (§4.2).
	browser, _ := e.strategies.Get("browser")

	for {
		result, err := e.walkChain(ctx, jobID, req, browser)
		if err == nil {
			e.finishSuccess(ctx, jobID, req, result)
			return
		}

		var engErr *Error
		if errors.As(err, &engErr) && engErr.Kind == KindNavigationError404 && engErr.Stage == string(HopVidSrc) && req.Server == models.ServerPrimary && !autoSwitched {
			autoSwitched = true
			req.Server = otherServer(req.Server)
			e.jobs.Update(jobID, func(j *models.ExtractionJob) {
				j.State = models.JobAutoSwitch
				j.Request = req
			})
			e.emit(jobID, models.PhaseAutoSwitch, 50, fmt.Sprintf("primary exhausted, switching to %s", req.Server))
			continue
		}

		e.finishFailure(jobID, err)
		return
	}
}

// walkChain performs the VidSrc -> RCP -> ProRCP[ -> Shadowlands] hop
// sequence for one server, escalating strategy per hop as needed, and
// returns the resolved stream once the final hop yields one.
func (e *Engine) walkChain(ctx context.Context, jobID string, req models.ExtractionRequest, browser Strategy) (models.StreamDescriptor, error) {
	e.emit(jobID, models.PhaseConnecting, 15, "resolving embed entry point")

	pageURL := entryURL(req)
	referer := ""

	e.emit(jobID, models.PhaseNavigating, 35, "walking embed chain")

	var streamURL string
	var originHost string
	bypassed := false

	for i, hop := range hopOrder {
		res, err := e.fetchHopEscalating(ctx, jobID, hop, pageURL, referer, browser, &bypassed)
		if err != nil {
			return models.StreamDescriptor{}, err
		}

		if res.StreamURL != "" {
			streamURL = res.StreamURL
			originHost = res.OriginHost
			break
		}

		if res.NextURL == "" {
			return models.StreamDescriptor{}, PatternNotFound(string(hop), nil)
		}

		referer = pageURL
		pageURL = res.NextURL

		// ProRCP may hand off to Shadowlands instead of resolving directly;
		// that is the only hop not in the fixed hopOrder walk.
		if hop == HopProRCP && i == len(hopOrder)-1 {
			res, err = e.fetchHopEscalating(ctx, jobID, HopShadowlands, pageURL, referer, browser, &bypassed)
			if err != nil {
				return models.StreamDescriptor{}, err
			}
			if res.StreamURL == "" {
				return models.StreamDescriptor{}, PatternNotFound(string(HopShadowlands), nil)
			}
			streamURL = res.StreamURL
			originHost = res.OriginHost
		}
	}

	if streamURL == "" {
		return models.StreamDescriptor{}, PatternNotFound("chain", nil)
	}

	e.emit(jobID, models.PhaseExtracting, 80, "chain resolved")
	if originHost == "" {
		originHost = hostOf(streamURL)
	}

	return models.StreamDescriptor{
		StreamURL:     streamURL,
		StreamKind:    models.StreamKindHLS,
		OriginHost:    originHost,
		RequiresProxy: requiresProxy(originHost, req.Server),
	}, nil
}

// fetchHopEscalating tries the pure-fetch strategy first and escalates to
// the browser strategy when the failure is one pure HTTP cannot recover
// from: an unresolved anti-bot challenge, a hop timeout, or a pattern miss
// that may simply mean the content is client-rendered (§4.1's escalation
// policy).
func (e *Engine) fetchHopEscalating(ctx context.Context, jobID string, hop HopName, pageURL, referer string, browser Strategy, bypassed *bool) (HopResult, error) {
	hopCtx, cancel := context.WithTimeout(ctx, e.hopTimeout)
	defer cancel()

	pure, ok := e.strategies.Get("purefetch")
	if !ok {
		return HopResult{}, Internal(string(hop), fmt.Errorf("purefetch strategy not registered"))
	}

	res, err := pure.FetchHop(hopCtx, hop, pageURL, referer)
	if err == nil {
		return res, nil
	}
	if !shouldEscalate(err) {
		return HopResult{}, err
	}

	if browser == nil {
		return HopResult{}, err
	}

	// The first hop that needs a real browser is the point the job starts
	// bypassing anti-bot defenses rather than just navigating; later
	// escalations within the same walk don't re-emit it (§4.1 phase graph
	// only has one navigating -> bypassing edge per job).
	if bypassed != nil && !*bypassed {
		*bypassed = true
		e.emit(jobID, models.PhaseBypassing, 40, fmt.Sprintf("%s requires browser escalation", hop))
	}

	browserCtx, cancel2 := context.WithTimeout(ctx, e.hopTimeout*2)
	defer cancel2()
	return browser.FetchHop(browserCtx, hop, pageURL, referer)
}

func shouldEscalate(err error) bool {
	var engErr *Error
	if !errors.As(err, &engErr) {
		return false
	}
	switch engErr.Kind {
	case KindChallengeUnresolved, KindTimeout, KindPatternNotFound:
		return true
	default:
		return false
	}
}

func (e *Engine) finishSuccess(ctx context.Context, jobID string, req models.ExtractionRequest, result models.StreamDescriptor) {
	if e.subtitles != nil {
		e.emit(jobID, models.PhaseSubtitles, 82, "fetching subtitle candidates")
		refs, err := e.subtitles.FindBest(ctx, req.ContentID, req.MediaType, req.Season, req.Episode)
		if err != nil {
			e.log.Warn("subtitle lookup failed, continuing without subtitles", "err", err)
		} else {
			result.SubtitleRefs = refs
		}
	}

	e.emit(jobID, models.PhaseValidating, 85, "validating resolved stream")
	e.emit(jobID, models.PhaseFinalizing, 95, "finalizing")

	e.jobs.Update(jobID, func(j *models.ExtractionJob) {
		j.State = models.JobSucceeded
		j.Phase = models.PhaseComplete
		j.Progress = 100
		j.Result = &result
	})

	e.publisher.Publish(models.ProgressEvent{
		RequestID: jobID,
		Phase:     models.PhaseComplete,
		Progress:  100,
		Message:   "extraction complete",
		Result: &models.TerminalResult{
			Success:       true,
			StreamURL:     result.StreamURL,
			StreamKind:    result.StreamKind,
			Server:        req.Server,
			RequiresProxy: result.RequiresProxy,
			Subtitles: models.SubtitlesSummary{
				Found: len(result.SubtitleRefs),
				URLs:  result.SubtitleRefs,
			},
			RequestID: jobID,
		},
	})
}

func (e *Engine) finishFailure(jobID string, err error) {
	jobErr := toJobError(err)
	e.jobs.Update(jobID, func(j *models.ExtractionJob) {
		j.State = models.JobFailed
		j.Phase = models.PhaseError
		j.Err = jobErr
	})
	e.publisher.Publish(models.ProgressEvent{
		RequestID: jobID,
		Phase:     models.PhaseError,
		Progress:  100,
		Message:   jobErr.Message,
		Error:     jobErr,
	})
}

func (e *Engine) emit(jobID string, phase models.Phase, progress int, message string) {
	e.jobs.Update(jobID, func(j *models.ExtractionJob) {
		// progress never decreases within a job: connecting after an
		// auto-switch keeps the autoswitch value
		if progress < j.Progress {
			progress = j.Progress
		}
		j.Phase = phase
		j.Progress = progress
		j.LastMessage = message
	})
	e.publisher.Publish(models.ProgressEvent{
		RequestID: jobID,
		Phase:     phase,
		Progress:  progress,
		Message:   message,
	})
}

func toJobError(err error) *models.JobError {
	var engErr *Error
	if errors.As(err, &engErr) {
		return &models.JobError{Kind: string(engErr.Kind), Message: engErr.Error(), Debug: engErr.Debug}
	}
	return &models.JobError{Kind: string(KindInternal), Message: err.Error()}
}

func otherServer(s models.Server) models.Server {
	if s == models.ServerPrimary {
		return models.ServerBackup
	}
	return models.ServerPrimary
}

// entryURL builds the first hop's URL from the request's server choice and
// media coordinates (§4.1 hop 1).
func entryURL(req models.ExtractionRequest) string {
	host := "vidsrc.xyz"
	if req.Server == models.ServerBackup {
		host = "embed.su"
	}
	if req.MediaType == models.MediaTypeTV {
		return fmt.Sprintf("https://%s/embed/tv/%d/%d/%d", host, req.ContentID, req.Season, req.Episode)
	}
	return fmt.Sprintf("https://%s/embed/movie/%d", host, req.ContentID)
}

func hostOf(rawURL string) string {
	re := hostRegexp
	m := re.FindStringSubmatch(rawURL)
	if len(m) == 2 {
		return m[1]
	}
	return ""
}

// requiresProxy reports whether a resolved stream needs the stream proxy:
// either the origin is known to reject direct playback (hotlink protection,
// missing CORS), or the job ran against the Backup server, which always
// routes through the proxy regardless of origin (§3, §8 scenario 2).
func requiresProxy(originHost string, server models.Server) bool {
	if server == models.ServerBackup {
		return true
	}
	for _, suffix := range []string{"shadowlandschronicles.com", "cloudnestra.com"} {
		if hostSuffixMatch(originHost, suffix) {
			return true
		}
	}
	return false
}

func hostSuffixMatch(host, suffix string) bool {
	if host == suffix {
		return true
	}
	if len(host) > len(suffix) && host[len(host)-len(suffix)-1] == '.' && host[len(host)-len(suffix):] == suffix {
		return true
	}
	return false
}
