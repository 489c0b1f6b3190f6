package subtitles

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"flyx/models"
)

// maxCandidatesPerRequest bounds how many ranked candidates the engine
// attaches to a terminal result — callers pick a track, they don't need
// every language's entire long tail (§4.5).
const maxCandidatesPerRequest = 10

// Service finds and ranks subtitle candidates, and on demand fetches,
// decompresses, decodes, and converts one into cached VTT bytes behind an
// opaque handle.
type Service struct {
	client *OpenSubtitlesClient
	blobs  *BlobCache
}

// NewService wires a subtitle service against an OpenSubtitles REST base
// and a shared blob cache.
func NewService(client *OpenSubtitlesClient, blobs *BlobCache) *Service {
	return &Service{client: client, blobs: blobs}
}

// List implements the documented subtitle lookup (§4.5 `list`, §6
// `GET /api/subtitles`): search every requested language concurrently,
// deduplicate the union by download URL, and rank it. The returned int is
// the union's size before the maxCandidatesPerRequest cap, for the caller's
// totalCount field.
func (s *Service) List(ctx context.Context, contentID int, mediaType models.MediaType, season, episode int, languages []string) ([]models.SubtitleRef, int, error) {
	refs, err := s.searchLanguages(ctx, contentID, mediaType, season, episode, languages)
	if err != nil {
		log.Printf("[subtitles] search failed for content %d: %v", contentID, err)
		return nil, 0, err
	}

	ranked := RankByQuality(refs, languages)
	total := len(ranked)
	if len(ranked) > maxCandidatesPerRequest {
		ranked = ranked[:maxCandidatesPerRequest]
	}
	log.Printf("[subtitles] found %d candidates (%d kept) for content %d", total, len(ranked), contentID)
	return ranked, total, nil
}

// FindBest implements engine.SubtitleFinder: the engine attaches a job's
// best-effort subtitle candidates to its terminal result without expressing
// a language preference of its own.
func (s *Service) FindBest(ctx context.Context, contentID int, mediaType models.MediaType, season, episode int) ([]models.SubtitleRef, error) {
	refs, _, err := s.List(ctx, contentID, mediaType, season, episode, nil)
	return refs, err
}

// searchLanguages fans a multi-language request out across concurrent
// OpenSubtitles queries, since each language is an independent upstream
// path segment (§4.5: "accepts multi-language lists... returns the union").
func (s *Service) searchLanguages(ctx context.Context, contentID int, mediaType models.MediaType, season, episode int, languages []string) ([]models.SubtitleRef, error) {
	if len(languages) <= 1 {
		lang := ""
		if len(languages) == 1 {
			lang = languages[0]
		}
		return s.client.Search(ctx, contentID, mediaType, season, episode, lang)
	}

	results := make([][]models.SubtitleRef, len(languages))
	g, gctx := errgroup.WithContext(ctx)
	for i, lang := range languages {
		i, lang := i, lang
		g.Go(func() error {
			refs, err := s.client.Search(gctx, contentID, mediaType, season, episode, lang)
			if err != nil {
				return err
			}
			results[i] = refs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var union []models.SubtitleRef
	for _, refs := range results {
		for _, ref := range refs {
			if _, ok := seen[ref.DownloadURL]; ok {
				continue
			}
			seen[ref.DownloadURL] = struct{}{}
			union = append(union, ref)
		}
	}
	return union, nil
}

// Resolve fetches a specific candidate's track, normalizing it to VTT, and
// caches the result behind a blob handle for later retrieval via Fetch.
func (s *Service) Resolve(ctx context.Context, ref models.SubtitleRef) (models.ProcessedSubtitle, error) {
	raw, err := s.client.FetchRaw(ctx, ref.DownloadURL)
	if err != nil {
		return models.ProcessedSubtitle{}, fmt.Errorf("fetch subtitle: %w", err)
	}

	decompressed, wasCompressed, err := Decompress(raw)
	if err != nil {
		return models.ProcessedSubtitle{}, fmt.Errorf("decompress subtitle: %w", err)
	}

	vtt := decompressed
	if !looksLikeVTT(decompressed) {
		vtt = SRTToVTT(decompressed)
	}

	handle, err := s.blobs.Put(vtt)
	if err != nil {
		return models.ProcessedSubtitle{}, fmt.Errorf("cache subtitle: %w", err)
	}

	return models.ProcessedSubtitle{
		Ref:           ref,
		VTTBytes:      vtt,
		BlobHandle:    handle,
		WasCompressed: wasCompressed,
	}, nil
}

// Fetch resolves a previously-cached blob handle back to VTT bytes.
func (s *Service) Fetch(handle string) ([]byte, bool) {
	return s.blobs.Get(handle)
}

func looksLikeVTT(data []byte) bool {
	if len(data) < 6 {
		return false
	}
	return string(data[:6]) == "WEBVTT"
}
