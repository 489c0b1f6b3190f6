package stealth

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/ysmood/gson"
)

// challengeMarkers are page-title/body substrings that indicate an
// interactive anti-bot challenge is blocking the page, mirroring the
// pure-fetch strategy's reCloudflareMarker but checked against the live DOM
// rather than a static body (§4.2).
var challengeMarkers = []string{
	"just a moment",
	"checking your browser",
	"cf-browser-verification",
	"turnstile",
	"verify you are human",
	"/cdn-cgi/challenge-platform",
}

// DetectChallenge reports whether the page currently shows an interactive
// anti-bot challenge rather than the expected embed content.
func DetectChallenge(page *rod.Page) (bool, error) {
	info, err := page.Info()
	if err != nil {
		return false, err
	}
	title := strings.ToLower(info.Title)
	for _, marker := range challengeMarkers {
		if strings.Contains(title, marker) {
			return true, nil
		}
	}

	html, err := page.HTML()
	if err != nil {
		return false, err
	}
	lower := strings.ToLower(html)
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return true, nil
		}
	}
	return false, nil
}

// SolveInteractiveChallenge simulates the human behavior a JS challenge
// waits for — a short idle read, a couple of natural mouse movements, and a
// checkbox click if one is present — then polls for the challenge marker to
// disappear, up to a 30s budget (§4.2: "simulate plausible human interaction
// rather than attempt to defeat the challenge's detection directly").
func SolveInteractiveChallenge(ctx context.Context, page *rod.Page) error {
	const budget = 30 * time.Second
	deadline := time.Now().Add(budget)

	time.Sleep(time.Duration(800+rand.Intn(700)) * time.Millisecond)

	if err := wiggleMouse(page); err != nil {
		return err
	}

	if el, err := page.Timeout(2 * time.Second).Element(`input[type="checkbox"]`); err == nil && el != nil {
		_ = el.Click("left", 1)
	}

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ok, err := DetectChallenge(page)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		time.Sleep(time.Second)
	}

	return ChallengeStillPresentErr
}

// ChallengeStillPresentErr is returned by SolveInteractiveChallenge when the
// poll window expires without the challenge clearing.
var ChallengeStillPresentErr = &challengeTimeoutError{}

type challengeTimeoutError struct{}

func (*challengeTimeoutError) Error() string { return "interactive challenge did not clear in time" }

func wiggleMouse(page *rod.Page) error {
	points := [][2]float64{{120, 140}, {260, 220}, {180, 340}, {340, 260}}
	for _, p := range points {
		if err := page.Mouse.MoveTo(gson.Point{X: p[0], Y: p[1]}); err != nil {
			return nil
		}
		time.Sleep(time.Duration(80+rand.Intn(120)) * time.Millisecond)
	}
	return nil
}
