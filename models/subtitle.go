package models

// SubtitleRef describes one candidate subtitle track before it is fetched.
type SubtitleRef struct {
	Language        string  `json:"language"`
	LanguageName    string  `json:"languageName"`
	DownloadURL     string  `json:"downloadUrl"`
	Format          string  `json:"format"`
	SizeBytes       int64   `json:"sizeBytes"`
	Rating          float64 `json:"rating"`
	DownloadCount   int64   `json:"downloadCount"`
	QualityScore    float64 `json:"qualityScore"`
	Trusted         bool    `json:"trusted"`
	HD              bool    `json:"hd"`
	HearingImpaired bool    `json:"hearingImpaired"`
}

// ProcessedSubtitle is the outcome of fetching and normalizing a SubtitleRef.
type ProcessedSubtitle struct {
	Ref            SubtitleRef `json:"ref"`
	VTTBytes       []byte      `json:"-"`
	BlobHandle     string      `json:"blobHandle"`
	WasCompressed  bool        `json:"wasCompressed"`
}
