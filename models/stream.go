package models

// StreamKind is the media container type of a resolved stream.
type StreamKind string

const (
	StreamKindHLS StreamKind = "HLS"
	StreamKindMP4 StreamKind = "MP4"
)

// StreamDescriptor is the final, playable result of a successful extraction.
type StreamDescriptor struct {
	StreamURL     string       `json:"streamUrl"`
	StreamKind    StreamKind   `json:"streamKind"`
	OriginHost    string       `json:"originHost"`
	RequiresProxy bool         `json:"requiresProxy"`
	SubtitleRefs  []SubtitleRef `json:"subtitleRefs,omitempty"`
}
