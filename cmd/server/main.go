// Command server runs the stream-extraction service: it wires the strategy
// registry, browser pool, job registry, progress bus, subtitle service, and
// stream proxy behind an HTTP API, then serves until signaled to stop.
//
// Grounded on other_examples' TorrX torrent-search server entrypoint for the
// overall shape (signal.NotifyContext, a goroutine racing ListenAndServe
// against shutdown, http.Server field tuning with WriteTimeout disabled for
// SSE) — the teacher repo ships no comparable cmd/ entrypoint of its own.
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"flyx/api"
	"flyx/handlers"
	"flyx/internal/config"
	"flyx/internal/engine"
	"flyx/internal/progressbus"
	"flyx/internal/stealth"
	"flyx/internal/streamproxy"
	"flyx/internal/subtitles"
	"flyx/utils"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.LogFilePath)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("bindAddr", cfg.BindAddr),
		slog.Int("browserPoolSize", cfg.BrowserPoolSize),
		slog.Int("tabsPerBrowser", cfg.TabsPerBrowser),
		slog.Duration("jobBudget", cfg.JobBudget),
		slog.Duration("hopTimeout", cfg.HopTimeout),
		slog.String("streamProxyPath", cfg.StreamProxyPath),
	)

	strategies := engine.NewRegistry()
	strategies.Register("purefetch", func() engine.Strategy {
		return engine.NewPureFetchStrategy(&http.Client{Timeout: cfg.ConnectTimeout}, cfg.UpstreamUserAgent)
	})

	jarDir := jarStoreDir()
	jars, err := stealth.NewCookieJarStore(jarDir)
	if err != nil {
		logger.Error("cookie jar store init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	driver := stealth.NewRodDriver(jars)
	pool := stealth.NewPool(driver, cfg.BrowserPoolSize, cfg.TabsPerBrowser, cfg.BrowserAcquireTimeout)
	strategies.Register("browser", engine.NewBrowserStrategyFactory(pool, driver, cfg.HopTimeout))

	jobs := engine.NewJobRegistry()
	bus := progressbus.New()

	osClient := subtitles.NewOpenSubtitlesClient(cfg.OpenSubtitlesBaseURL, cfg.UpstreamUserAgent)
	blobs := subtitles.NewBlobCache()
	subtitleService := subtitles.NewService(osClient, blobs)

	eng := engine.NewEngine(strategies, jobs, bus, subtitleService, cfg.JobBudget, cfg.HopTimeout)

	proxy := streamproxy.New(cfg.ProxySources, cfg.UpstreamUserAgent)

	extractHandler := handlers.NewExtractHandler(eng, jobs, bus, cfg.JobBudget)
	subtitleHandler := handlers.NewSubtitleHandler(subtitleService)
	streamProxyHandler := handlers.NewStreamProxyHandler(proxy, cfg.StreamProxyPath)
	healthHandler := handlers.NewHealthHandler(pool)

	limiter := api.NewIPRateLimiter(2, 10)

	router := utils.NewRouter()
	router.HandleFunc("/health", healthHandler.ServeHTTP).Methods(http.MethodGet)

	// Documented §6 surface.
	router.Handle("/extract-stream-progress", api.RateLimitHandlerFunc(limiter, extractHandler.ExtractAndStream)).Methods(http.MethodGet)
	router.Handle("/extract-stream", api.RateLimitHandlerFunc(limiter, extractHandler.CreateSync)).Methods(http.MethodPost)
	router.HandleFunc("/api/subtitles", subtitleHandler.List).Methods(http.MethodGet)
	router.HandleFunc("/api/subtitles/download", subtitleHandler.Download).Methods(http.MethodGet)
	router.HandleFunc(cfg.StreamProxyPath, streamProxyHandler.Serve).Methods(http.MethodGet, http.MethodOptions)

	// Supplementary job-management surface (create-and-poll, rather than the
	// documented create-and-stream GET) kept alongside the documented routes.
	router.Handle("/api/extract", api.RateLimitHandlerFunc(limiter, extractHandler.Create)).Methods(http.MethodPost)
	router.Handle("/api/extract-sync", api.RateLimitHandlerFunc(limiter, extractHandler.CreateSync)).Methods(http.MethodPost)
	router.HandleFunc("/api/extract/{jobId}/status", extractHandler.Status).Methods(http.MethodGet)
	router.HandleFunc("/api/extract/{jobId}/events", extractHandler.Events).Methods(http.MethodGet)
	router.HandleFunc("/api/subtitles/resolve", subtitleHandler.Resolve).Methods(http.MethodPost)
	router.HandleFunc("/api/subtitles/{handle}", subtitleHandler.Fetch).Methods(http.MethodGet)

	server := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// SSE progress streams (/api/extract/{jobId}/events) and proxied
		// segment relays can legitimately run long; bound them with
		// per-request context timeouts instead of a server-wide write cap.
		WriteTimeout: 0,
		IdleTimeout:  90 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("extraction service started", slog.String("addr", cfg.BindAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}

	jobs.Shutdown()
	pool.Shutdown()

	logger.Info("extraction service stopped")
}

// newLogger builds a structured logger writing to stdout, additionally
// tee'd to a rotating file when LogFilePath is configured (§6 ambient
// logging requirement).
func newLogger(logFilePath string) *slog.Logger {
	var out io.Writer = os.Stdout
	if logFilePath != "" {
		rotating := &lumberjack.Logger{
			Filename:   logFilePath,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotating)
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// jarStoreDir resolves where the stealth driver persists per-origin cookie
// jars, defaulting to a subdirectory of the OS temp dir so a fresh
// environment never fails to start for want of a writable path.
func jarStoreDir() string {
	if v := os.Getenv("COOKIE_JAR_DIR"); v != "" {
		return v
	}
	return os.TempDir() + "/flyx-cookiejars"
}
