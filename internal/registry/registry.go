// Package registry talks to an npm-compatible package registry.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// DefaultURL is the public npm registry
const DefaultURL = "https://registry.npmjs.org"

var (
	// ErrInvalidURL is returned for registry URLs that are not http(s)
	ErrInvalidURL = errors.New("invalid registry URL")

	// ErrNoVersions is returned when a package has no published versions
	ErrNoVersions = errors.New("no versions found")

	// ErrNotFound is returned when the registry does not know the package
	ErrNotFound = errors.New("package not found")
)

// ValidateURL checks that raw is a well-formed http or https URL and returns
// it without a trailing slash. Anything else is rejected before it can reach
// a command line.
func ValidateURL(raw string) (string, error) {
	invalid := fmt.Errorf("%w: %s. Must be a valid URL with http:// or https:// protocol", ErrInvalidURL, raw)

	u, err := url.Parse(raw)
	if err != nil {
		return "", invalid
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", invalid
	}
	if u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", invalid
	}
	if strings.ContainsAny(raw, " \t\r\n\"'`$;&|<>\\") {
		return "", invalid
	}
	return strings.TrimRight(raw, "/"), nil
}

// Client fetches package metadata from a registry
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
	limiter    *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.HTTPClient = hc
	}
}

// WithRateLimit limits requests per second against the registry
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewClient creates a registry client. An empty baseURL selects the public
// npm registry. Requests are not rate limited unless WithRateLimit is given.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	validated, err := ValidateURL(baseURL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		BaseURL: validated,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		UserAgent: "bundlecheck/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// packument is the abbreviated registry document for a package
type packument struct {
	Name     string                     `json:"name"`
	DistTags map[string]string          `json:"dist-tags"`
	Versions map[string]json.RawMessage `json:"versions"`
}

// PackageURL returns the metadata URL for a package. The "/" of scoped
// names is escaped as the registry expects.
func (c *Client) PackageURL(name string) string {
	return c.BaseURL + "/" + url.PathEscape(name)
}

func (c *Client) fetch(ctx context.Context, name string) (*packument, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.PackageURL(name), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.npm.install-v1+json; q=1.0, application/json; q=0.8")
	req.Header.Set("User-Agent", c.UserAgent)

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	log.Debug().
		Str("package", name).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Fetched package metadata")

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("registry returned %d for %s: %s", resp.StatusCode, name, strings.TrimSpace(string(body)))
	}

	var doc packument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode registry response for %s: %w", name, err)
	}
	return &doc, nil
}

// Versions returns every published version of a package, newest first.
func (c *Client) Versions(ctx context.Context, name string) ([]string, error) {
	doc, err := c.fetch(ctx, name)
	if err != nil {
		return nil, err
	}

	versions := make([]string, 0, len(doc.Versions))
	for v := range doc.Versions {
		versions = append(versions, v)
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w for package: %s", ErrNoVersions, name)
	}

	SortNewestFirst(versions)
	return versions, nil
}

// Resolve maps a dist-tag (e.g. "latest") or exact version to a published
// version. Ranges resolve to the latest tag when it satisfies them, as npm
// installs it, and otherwise to the highest satisfying version.
func (c *Client) Resolve(ctx context.Context, name, version string) (string, error) {
	doc, err := c.fetch(ctx, name)
	if err != nil {
		return "", err
	}

	if tagged, ok := doc.DistTags[version]; ok {
		return tagged, nil
	}
	if _, ok := doc.Versions[version]; ok {
		return version, nil
	}

	constraint, err := semver.NewConstraint(version)
	if err != nil {
		return "", fmt.Errorf("unknown version %q for %s", version, name)
	}

	if latest, ok := doc.DistTags["latest"]; ok {
		if sv, err := semver.NewVersion(latest); err == nil && constraint.Check(sv) {
			return latest, nil
		}
	}

	versions := make([]string, 0, len(doc.Versions))
	for v := range doc.Versions {
		versions = append(versions, v)
	}
	SortNewestFirst(versions)
	for _, v := range versions {
		sv, err := semver.NewVersion(v)
		if err != nil {
			continue
		}
		if constraint.Check(sv) {
			return v, nil
		}
	}
	return "", fmt.Errorf("no version of %s satisfies %s", name, version)
}

// SortNewestFirst orders versions by descending semver precedence. Strings
// that are not valid semver sort after valid ones, lexically.
func SortNewestFirst(versions []string) {
	parsed := make(map[string]*semver.Version, len(versions))
	for _, v := range versions {
		if sv, err := semver.NewVersion(v); err == nil {
			parsed[v] = sv
		}
	}

	sort.SliceStable(versions, func(i, j int) bool {
		a, aok := parsed[versions[i]]
		b, bok := parsed[versions[j]]
		switch {
		case aok && bok:
			return a.GreaterThan(b)
		case aok != bok:
			return aok
		default:
			return versions[i] > versions[j]
		}
	})
}
