package stealth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// CookieJarStore persists one cookie jar per origin to disk so that a
// Cloudflare clearance cookie earned by solving a challenge on one job can
// shortcut the challenge on the next job against the same origin (§4.2's
// "persist cookies per origin across jobs"). Writes are serialized per
// origin; a single store instance is shared by every BrowserHandle.
type CookieJarStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewCookieJarStore creates a store rooted at dir, creating it if absent.
func NewCookieJarStore(dir string) (*CookieJarStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cookie jar dir: %w", err)
	}
	return &CookieJarStore{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *CookieJarStore) lockFor(origin string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[origin]
	if !ok {
		l = &sync.Mutex{}
		s.locks[origin] = l
	}
	return l
}

func (s *CookieJarStore) pathFor(origin string) string {
	return filepath.Join(s.dir, fileSafe(origin)+".json")
}

// Restore loads any previously persisted cookies for origin into the page.
// A missing file is not an error — every origin starts with an empty jar.
func (s *CookieJarStore) Restore(page *rod.Page, origin string) error {
	lock := s.lockFor(origin)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(s.pathFor(origin))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read cookie jar for %s: %w", origin, err)
	}

	var cookies []*proto.NetworkCookieParam
	if err := json.Unmarshal(data, &cookies); err != nil {
		return fmt.Errorf("decode cookie jar for %s: %w", origin, err)
	}
	if len(cookies) == 0 {
		return nil
	}
	return page.SetCookies(cookies)
}

// Persist reads the page's current cookies for origin and writes them back
// to disk, overwriting whatever was there before.
func (s *CookieJarStore) Persist(page *rod.Page, origin string) error {
	lock := s.lockFor(origin)
	lock.Lock()
	defer lock.Unlock()

	cookies, err := page.Cookies(nil)
	if err != nil {
		return fmt.Errorf("read cookies for %s: %w", origin, err)
	}

	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite,
		})
	}

	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode cookie jar for %s: %w", origin, err)
	}
	return os.WriteFile(s.pathFor(origin), data, 0o600)
}

func fileSafe(origin string) string {
	out := make([]byte, 0, len(origin))
	for i := 0; i < len(origin); i++ {
		c := origin[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
