package subtitles

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// gzipMagic is the two-byte gzip header; OpenSubtitles frequently serves
// .srt.gz regardless of the declared content-type, so detection is done on
// the bytes themselves rather than trusted headers (§4.5).
var gzipMagic = []byte{0x1f, 0x8b}

// Decompress unwraps a gzip-compressed subtitle payload if present,
// returning the input unchanged otherwise.
func Decompress(raw []byte) ([]byte, bool, error) {
	if len(raw) < 2 || raw[0] != gzipMagic[0] || raw[1] != gzipMagic[1] {
		return raw, false, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, false, fmt.Errorf("open gzip subtitle: %w", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, false, fmt.Errorf("read gzip subtitle: %w", err)
	}
	return data, true, nil
}

// decodeText converts raw subtitle bytes to UTF-8, trying UTF-8 first and
// falling back to Latin-1 (ISO-8859-1) — the two encodings the overwhelming
// majority of OpenSubtitles .srt files arrive in when not explicitly UTF-8.
func decodeText(raw []byte) string {
	if isValidUTF8(raw) {
		return string(raw)
	}
	decoded, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), raw)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}

func isValidUTF8(b []byte) bool {
	return strings.ToValidUTF8(string(b), "�") == string(b)
}

// SRTToVTT converts an SRT document to WebVTT: a "WEBVTT" header line, then
// each cue's timestamp line rewritten from "00:00:01,000" comma-millisecond
// notation to VTT's "00:00:01.000" dot notation, with sequence-number lines
// dropped (WebVTT doesn't require them).
func SRTToVTT(raw []byte) []byte {
	text := decodeText(raw)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	blocks := strings.Split(strings.TrimSpace(text), "\n\n")

	var out strings.Builder
	out.WriteString("WEBVTT\n\n")

	for _, block := range blocks {
		lines := strings.Split(block, "\n")
		lines = dropSequenceNumber(lines)
		if len(lines) == 0 {
			continue
		}
		lines[0] = srtTimestampToVTT(lines[0])
		out.WriteString(strings.Join(lines, "\n"))
		out.WriteString("\n\n")
	}
	return []byte(out.String())
}

func dropSequenceNumber(lines []string) []string {
	if len(lines) == 0 {
		return lines
	}
	trimmed := strings.TrimSpace(lines[0])
	if trimmed != "" && isAllDigits(trimmed) {
		return lines[1:]
	}
	return lines
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func srtTimestampToVTT(line string) string {
	return strings.ReplaceAll(line, ",", ".")
}
