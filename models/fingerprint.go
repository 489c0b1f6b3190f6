package models

import "fmt"

// ScreenSize is the screen/viewport dimensions + color depth a fingerprint
// profile asserts to the page.
type ScreenSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	Depth  int `json:"depth"`
}

// FingerprintProfile is a coherent, internally-consistent set of browser
// identity attributes applied for the lifetime of one job's browser tab
// (§3, §4.2). Once bound to a job it is never swapped.
type FingerprintProfile struct {
	Name               string     `json:"name"`
	UserAgent          string     `json:"userAgent"`
	Platform           string     `json:"platform"`
	Vendor             string     `json:"vendor"`
	Languages          []string   `json:"languages"`
	Screen             ScreenSize `json:"screen"`
	HardwareConcurrency int       `json:"hardwareConcurrency"`
	DeviceMemory       int        `json:"deviceMemory"`
	Timezone           string     `json:"timezone"`
	WebGLVendor        string     `json:"webglVendor"`
	WebGLRenderer      string     `json:"webglRenderer"`
}

// AcceptLanguageHeader renders Languages as an Accept-Language header value,
// consistent with the navigator.languages the fingerprint applies in-page.
func (f FingerprintProfile) AcceptLanguageHeader() string {
	if len(f.Languages) == 0 {
		return "en-US,en;q=0.9"
	}
	out := f.Languages[0]
	for i, lang := range f.Languages[1:] {
		q := 0.9 - float64(i)*0.1
		if q <= 0.1 {
			q = 0.1
		}
		out += fmt.Sprintf(", %s;q=%.1f", lang, q)
	}
	return out
}
