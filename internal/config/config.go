// Package config loads runtime configuration for the extraction service
// from the environment. Kept on plain os.Getenv parsing rather than a
// config library — see DESIGN.md for why.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"flyx/internal/streamproxy"
)

// Config holds all environment-tunable settings named in spec.md §6.
type Config struct {
	BindAddr string

	// Browser pool: P processes, N tabs per process (§4.2).
	BrowserPoolSize   int
	TabsPerBrowser    int
	BrowserAcquireTimeout time.Duration

	// Proxy allow-lists and header policy keyed by source tag (§4.4, §6).
	ProxySources map[string]streamproxy.SourceConfig

	OpenSubtitlesBaseURL string
	UpstreamUserAgent    string

	JobBudget     time.Duration
	HopTimeout    time.Duration
	ConnectTimeout time.Duration

	// Read from STEALTH_GENERIC_CLICK_FALLBACK, default off. No component
	// reads it: the stealth driver has no click-center heuristic.
	StealthGenericClickFallback bool

	LogFilePath string

	// StreamProxyPath is this service's own public path for the stream
	// proxy, embedded into rewritten manifest URIs (§4.4).
	StreamProxyPath string
}

// Load builds a Config from the process environment, applying the defaults
// spec.md documents for timeouts, pool sizes and the proxy allow-lists.
func Load() Config {
	cfg := Config{
		BindAddr:              getEnv("BIND_ADDR", ":8080"),
		BrowserPoolSize:       getEnvInt("BROWSER_POOL_SIZE", 4),
		TabsPerBrowser:        getEnvInt("BROWSER_TABS_PER_PROCESS", 8),
		BrowserAcquireTimeout: getEnvDuration("BROWSER_ACQUIRE_TIMEOUT", 15*time.Second),
		OpenSubtitlesBaseURL:  getEnv("OPENSUBTITLES_BASE_URL", "https://rest.opensubtitles.org"),
		UpstreamUserAgent:     getEnv("UPSTREAM_USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"),
		JobBudget:             getEnvDuration("JOB_BUDGET", 90*time.Second),
		HopTimeout:            getEnvDuration("HOP_TIMEOUT", 20*time.Second),
		ConnectTimeout:        getEnvDuration("HOP_CONNECT_TIMEOUT", 10*time.Second),
		StealthGenericClickFallback: getEnvBool("STEALTH_GENERIC_CLICK_FALLBACK", false),
		LogFilePath:           getEnv("LOG_FILE_PATH", ""),
		StreamProxyPath:       getEnv("STREAM_PROXY_PATH", "/stream-proxy"),
	}

	// vidsrc and the Shadowlands origin itself both require clean headers
	// (no Referer/Origin); embed.su's hotlink check requires them forged to
	// its own page (§4.4).
	cfg.ProxySources = map[string]streamproxy.SourceConfig{
		"vidsrc": {
			Hosts:   splitCSV(getEnv("PROXY_ALLOW_VIDSRC", "cloudnestra.com,vidsrc.xyz")),
			Referer: getEnv("PROXY_REFERER_VIDSRC", ""),
		},
		"embed.su": {
			Hosts:   splitCSV(getEnv("PROXY_ALLOW_EMBEDSU", "embed.su")),
			Referer: getEnv("PROXY_REFERER_EMBEDSU", "https://embed.su/"),
		},
		"shadowlands": {
			Hosts:   splitCSV(getEnv("PROXY_ALLOW_SHADOWLANDS", "shadowlandschronicles.com")),
			Referer: getEnv("PROXY_REFERER_SHADOWLANDS", ""),
		},
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
