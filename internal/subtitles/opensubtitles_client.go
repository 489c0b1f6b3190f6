// Package subtitles finds, scores, fetches, and normalizes subtitle
// tracks for a resolved stream (spec.md §4.5): a REST lookup against
// OpenSubtitles proxied server-side, a quality-ranking formula, SRT->VTT
// conversion with charset/gzip handling, and an LRU blob cache from which a
// converted track is served again by its handle without re-fetching it.
package subtitles

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"flyx/models"
)

// openSubtitlesEntry is the subset of an OpenSubtitles REST search result
// this service consumes.
type openSubtitlesEntry struct {
	SubLanguageID   string `json:"SubLanguageID"`
	LanguageName    string `json:"LanguageName"`
	SubDownloadLink string `json:"SubDownloadLink"`
	SubFormat       string `json:"SubFormat"`
	SubSize         string `json:"SubSize"`
	SubRating       string `json:"SubRating"`
	SubDownloadsCnt string `json:"SubDownloadsCnt"`
	UserRank        string `json:"UserRank"`
	SubHD           string `json:"SubHD"`
	SubHearingImpaired string `json:"SubHearingImpaired"`
}

// OpenSubtitlesClient is a thin, server-side REST client. Search requests
// never carry client IPs or credentials through to the browser — the
// engine's HTTP layer only ever proxies the resolved VTT bytes, not raw
// OpenSubtitles API access (§4.5: "subtitle search and fetch both happen
// server-side").
type OpenSubtitlesClient struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// NewOpenSubtitlesClient builds a client bound to a REST base URL (the
// hosted rest.opensubtitles.org mirror by default, per config).
func NewOpenSubtitlesClient(baseURL, userAgent string) *OpenSubtitlesClient {
	return &OpenSubtitlesClient{
		baseURL:   baseURL,
		userAgent: userAgent,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Search looks up subtitle candidates for an IMDb-style content identifier,
// optionally scoped to a season/episode for TV content and to a single
// language (empty language returns every language the upstream has).
func (c *OpenSubtitlesClient) Search(ctx context.Context, contentID int, mediaType models.MediaType, season, episode int, language string) ([]models.SubtitleRef, error) {
	path := fmt.Sprintf("%s/search/imdbid-%d", c.baseURL, contentID)
	if mediaType == models.MediaTypeTV && season > 0 && episode > 0 {
		path = fmt.Sprintf("%s/season-%d/episode-%d", path, season, episode)
	}
	if language != "" {
		path = fmt.Sprintf("%s/sublanguageid-%s", path, language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("build opensubtitles request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgentOrDefault())
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opensubtitles request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("opensubtitles returned status %d", resp.StatusCode)
	}

	var entries []openSubtitlesEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode opensubtitles response: %w", err)
	}

	refs := make([]models.SubtitleRef, 0, len(entries))
	for _, e := range entries {
		refs = append(refs, toSubtitleRef(e))
	}
	return refs, nil
}

// FetchRaw downloads a subtitle track's bytes, which may be gzip-compressed
// (OpenSubtitles commonly serves .srt.gz).
func (c *OpenSubtitlesClient) FetchRaw(ctx context.Context, downloadURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgentOrDefault())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("subtitle download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("subtitle download returned status %d", resp.StatusCode)
	}

	buf := make([]byte, 0, 64*1024)
	chunk := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf, nil
}

func (c *OpenSubtitlesClient) userAgentOrDefault() string {
	if c.userAgent != "" {
		return c.userAgent
	}
	return "flyx-subtitles/1.0"
}

func toSubtitleRef(e openSubtitlesEntry) models.SubtitleRef {
	size, _ := strconv.ParseInt(e.SubSize, 10, 64)
	rating, _ := strconv.ParseFloat(e.SubRating, 64)
	downloads, _ := strconv.ParseInt(e.SubDownloadsCnt, 10, 64)

	ref := models.SubtitleRef{
		Language:        e.SubLanguageID,
		LanguageName:    e.LanguageName,
		DownloadURL:     e.SubDownloadLink,
		Format:          strings.ToLower(e.SubFormat),
		SizeBytes:       size,
		Rating:          rating,
		DownloadCount:   downloads,
		Trusted:         e.UserRank == "trusted" || e.UserRank == "administrator",
		HD:              e.SubHD == "1",
		HearingImpaired: e.SubHearingImpaired == "1",
	}
	ref.QualityScore = Score(ref)
	return ref
}
