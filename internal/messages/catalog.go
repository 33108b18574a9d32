// Package messages holds the user-facing sentences shown for failed calls.
package messages

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/eshaffer321/civicreport-go/internal/types"
	"gopkg.in/yaml.v3"
)

//go:embed catalogs/*.yaml
var catalogsFS embed.FS

// DefaultLocale is used when a locale has no catalog
const DefaultLocale = "en"

// Message keys
const (
	Connectivity      = "connectivity"
	Timeout           = "timeout"
	SessionExpired    = "session_expired"
	Validation        = "validation"
	Duplicate         = "duplicate"
	ServerUnavailable = "server_unavailable"
	Generic           = "generic"
)

// KeyFor maps a failure kind to its message key
func KeyFor(kind types.Kind) string {
	switch kind {
	case types.KindNetworkUnreachable:
		return Connectivity
	case types.KindTimeout:
		return Timeout
	case types.KindUnauthorized:
		return SessionExpired
	case types.KindValidation:
		return Validation
	case types.KindDuplicate:
		return Duplicate
	case types.KindServerError:
		return ServerUnavailable
	default:
		return Generic
	}
}

// Catalog loads message catalogs from embedded files
type Catalog struct {
	cache map[string]map[string]string
	mu    sync.RWMutex
}

// NewCatalog creates a new catalog
func NewCatalog() *Catalog {
	return &Catalog{
		cache: make(map[string]map[string]string),
	}
}

// Load loads the messages of one locale
func (c *Catalog) Load(locale string) (map[string]string, error) {
	locale = normalizeLocale(locale)

	// Check cache first
	c.mu.RLock()
	if msgs, ok := c.cache[locale]; ok {
		c.mu.RUnlock()
		return msgs, nil
	}
	c.mu.RUnlock()

	content, err := catalogsFS.ReadFile(path.Join("catalogs", locale+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog %s: %w", locale, err)
	}

	msgs := make(map[string]string)
	if err := yaml.Unmarshal(content, &msgs); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", locale, err)
	}

	c.mu.Lock()
	c.cache[locale] = msgs
	c.mu.Unlock()

	return msgs, nil
}

// Message returns the sentence for key in locale, falling back to the
// default locale and then to the generic sentence.
func (c *Catalog) Message(locale, key string) string {
	for _, loc := range []string{locale, DefaultLocale} {
		msgs, err := c.Load(loc)
		if err != nil {
			continue
		}
		if m, ok := msgs[key]; ok {
			return m
		}
		if m, ok := msgs[Generic]; ok && loc == DefaultLocale {
			return m
		}
	}
	return "Something went wrong. Please try again."
}

// ForKind returns the sentence for a failure kind
func (c *Catalog) ForKind(locale string, kind types.Kind) string {
	return c.Message(locale, KeyFor(kind))
}

// Locales returns all available locales
func (c *Catalog) Locales() ([]string, error) {
	entries, err := fs.ReadDir(catalogsFS, "catalogs")
	if err != nil {
		return nil, fmt.Errorf("failed to list catalogs: %w", err)
	}

	var locales []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".yaml") {
			locales = append(locales, strings.TrimSuffix(e.Name(), ".yaml"))
		}
	}
	sort.Strings(locales)
	return locales, nil
}

// "es-MX" and "es_MX" both resolve to "es"
func normalizeLocale(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		locale = locale[:i]
	}
	if locale == "" {
		return DefaultLocale
	}
	return locale
}

// Global catalog instance
var defaultCatalog = NewCatalog()

// ForKind is a convenience function using the default catalog
func ForKind(locale string, kind types.Kind) string {
	return defaultCatalog.ForKind(locale, kind)
}
