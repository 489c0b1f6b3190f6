package subtitles

import (
	"sort"

	"flyx/models"
)

// Score computes the deterministic subtitle quality formula (§4.5), a pure
// function of (rating, downloadCount, trusted, hd, format, sizeBytes,
// hearingImpaired) clamped to [0,100]:
//
//	40·trusted + 20·hd + 15·(format==vtt) + 0.0001·downloadCount +
//	2·rating + 3·(sizeBytes in [5KB,200KB]) − 20·hearingImpaired
func Score(ref models.SubtitleRef) float64 {
	const minPreferredSize = 5 * 1024
	const maxPreferredSize = 200 * 1024

	score := 2 * ref.Rating

	if ref.Trusted {
		score += 40
	}
	if ref.HD {
		score += 20
	}
	if ref.Format == "vtt" {
		score += 15
	}
	if ref.SizeBytes >= minPreferredSize && ref.SizeBytes <= maxPreferredSize {
		score += 3
	}
	if ref.HearingImpaired {
		score -= 20
	}
	score += 0.0001 * float64(ref.DownloadCount)

	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return score
	}
}

// RankByQuality sorts refs by QualityScore descending, breaking ties by
// downloadCount descending and then by position in languagePreference — a
// ref whose language isn't in languagePreference sorts after every ref
// whose language is (§4.5's three-key ordering). Never mutates refs.
func RankByQuality(refs []models.SubtitleRef, languagePreference []string) []models.SubtitleRef {
	out := make([]models.SubtitleRef, len(refs))
	copy(out, refs)

	rank := make(map[string]int, len(languagePreference))
	for i, lang := range languagePreference {
		rank[lang] = i
	}
	langRank := func(lang string) int {
		if r, ok := rank[lang]; ok {
			return r
		}
		return len(languagePreference)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].QualityScore != out[j].QualityScore {
			return out[i].QualityScore > out[j].QualityScore
		}
		if out[i].DownloadCount != out[j].DownloadCount {
			return out[i].DownloadCount > out[j].DownloadCount
		}
		return langRank(out[i].Language) < langRank(out[j].Language)
	})
	return out
}
