package stealth

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"flyx/models"
)

// catalog is a finite, checked-in set of internally-consistent fingerprint
// profiles. Browser pool buckets map onto it by index modulo its length, so
// buckets 0 to len(catalog)-1 get distinct profiles and two buckets that
// differ by a multiple of len(catalog) get the same one.
var catalog = []models.FingerprintProfile{
	{
		Name: "win-chrome-124", UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		Platform: "Win32", Vendor: "Google Inc.", Languages: []string{"en-US", "en"},
		Screen: models.ScreenSize{Width: 1920, Height: 1080, Depth: 24},
		HardwareConcurrency: 8, DeviceMemory: 8, Timezone: "America/New_York",
		WebGLVendor: "Google Inc. (NVIDIA)", WebGLRenderer: "ANGLE (NVIDIA, NVIDIA GeForce RTX 3060 Direct3D11 vs_5_0 ps_5_0, D3D11)",
	},
	{
		Name: "mac-chrome-124", UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		Platform: "MacIntel", Vendor: "Google Inc.", Languages: []string{"en-US", "en"},
		Screen: models.ScreenSize{Width: 1680, Height: 1050, Depth: 24},
		HardwareConcurrency: 10, DeviceMemory: 16, Timezone: "America/Los_Angeles",
		WebGLVendor: "Google Inc. (Apple)", WebGLRenderer: "ANGLE (Apple, Apple M2, OpenGL 4.1)",
	},
	{
		Name: "win-edge-123", UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36 Edg/123.0.0.0",
		Platform: "Win32", Vendor: "Google Inc.", Languages: []string{"en-GB", "en"},
		Screen: models.ScreenSize{Width: 2560, Height: 1440, Depth: 24},
		HardwareConcurrency: 12, DeviceMemory: 16, Timezone: "Europe/London",
		WebGLVendor: "Google Inc. (Intel)", WebGLRenderer: "ANGLE (Intel, Intel(R) UHD Graphics 770 Direct3D11 vs_5_0 ps_5_0, D3D11)",
	},
	{
		Name: "linux-chrome-124", UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		Platform: "Linux x86_64", Vendor: "Google Inc.", Languages: []string{"en-US", "en"},
		Screen: models.ScreenSize{Width: 1920, Height: 1080, Depth: 24},
		HardwareConcurrency: 16, DeviceMemory: 32, Timezone: "UTC",
		WebGLVendor: "Google Inc. (Mesa)", WebGLRenderer: "ANGLE (Mesa, llvmpipe, OpenGL 4.5)",
	},
}

// PickForBucket returns the catalog profile at bucket modulo the catalog
// length. The mapping is deterministic; distinct buckets collide when they
// differ by a multiple of len(catalog).
func PickForBucket(bucket int) models.FingerprintProfile {
	if len(catalog) == 0 {
		return models.FingerprintProfile{}
	}
	return catalog[bucket%len(catalog)]
}

// applyFingerprint installs the in-page overrides §4.2 requires to hold
// before the first navigation: UA/platform/vendor/languages consistency,
// navigator.webdriver absence, a populated window.chrome and plugin list,
// WebGL vendor/renderer override, and screen/timezone agreement.
func applyFingerprint(page *rod.Page, fp models.FingerprintProfile) error {
	if err := (proto.EmulationSetUserAgentOverride{
		UserAgent:      fp.UserAgent,
		Platform:       fp.Platform,
		AcceptLanguage: fp.AcceptLanguageHeader(),
	}).Call(page); err != nil {
		return fmt.Errorf("set UA override: %w", err)
	}

	if err := (proto.EmulationSetTimezoneOverride{TimezoneID: fp.Timezone}).Call(page); err != nil {
		return fmt.Errorf("set timezone override: %w", err)
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  fp.Screen.Width,
		Height: fp.Screen.Height,
	}); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}

	script := fmt.Sprintf(`() => {
		Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
		Object.defineProperty(navigator, 'platform', { get: () => %q });
		Object.defineProperty(navigator, 'vendor', { get: () => %q });
		Object.defineProperty(navigator, 'languages', { get: () => %s });
		Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => %d });
		Object.defineProperty(navigator, 'deviceMemory', { get: () => %d });
		Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3] });
		window.chrome = window.chrome || { runtime: {} };

		const getParameterProxyHandler = {
			apply(target, ctx, args) {
				const param = args[0];
				if (param === 37445) return %q; // UNMASKED_VENDOR_WEBGL
				if (param === 37446) return %q; // UNMASKED_RENDERER_WEBGL
				return Reflect.apply(target, ctx, args);
			},
		};
		for (const proto of [WebGLRenderingContext, WebGL2RenderingContext]) {
			if (proto && proto.prototype && proto.prototype.getParameter) {
				proto.prototype.getParameter = new Proxy(proto.prototype.getParameter, getParameterProxyHandler);
			}
		}
	}`, fp.Platform, fp.Vendor, jsStringArray(fp.Languages), fp.HardwareConcurrency, fp.DeviceMemory, fp.WebGLVendor, fp.WebGLRenderer)

	_, err := page.EvalOnNewDocument(script)
	return err
}

func jsStringArray(values []string) string {
	out := "["
	for i, v := range values {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%q", v)
	}
	return out + "]"
}

// playerPreferenceSets is a small pool of plausible localStorage seeds.
// §4.2 requires these values vary across jobs rather than repeat verbatim.
var playerPreferenceSets = []map[string]string{
	{"preferredSubtitleLanguage": "en", "volume": "0.8", "quality": "1080p"},
	{"preferredSubtitleLanguage": "es", "volume": "0.65", "quality": "auto"},
	{"preferredSubtitleLanguage": "off", "volume": "1", "quality": "720p"},
	{"preferredSubtitleLanguage": "fr", "volume": "0.5", "quality": "1080p"},
}

// seedLocalStorage pre-populates the tab's localStorage with a randomly
// chosen, plausible set of player preferences before navigation.
func seedLocalStorage(page *rod.Page) error {
	prefs := playerPreferenceSets[rand.Intn(len(playerPreferenceSets))]
	script := "() => {"
	for k, v := range prefs {
		script += fmt.Sprintf("localStorage.setItem(%q, %q);", k, v)
	}
	script += "}"
	_, err := page.EvalOnNewDocument(script)
	return err
}

func init() {
	rand.Seed(time.Now().UnixNano())
}
