package crawl

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL so equivalent spellings dedupe to one
// fingerprint. It lowercases the scheme and host, strips default ports and
// fragments, and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in %q", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}

// ValidateRequest rejects malformed requests before they are enqueued.
func ValidateRequest(req Request, knownStrategy func(string) bool) error {
	if _, err := NormalizeURL(req.URL); err != nil {
		return NewFailure(FailInvalidRequest, err)
	}
	if req.Strategy == "" {
		return NewFailure(FailInvalidRequest, fmt.Errorf("strategy is required"))
	}
	if knownStrategy != nil && !knownStrategy(req.Strategy) {
		return NewFailure(FailInvalidRequest, fmt.Errorf("%w: %s", ErrUnknownStrategy, req.Strategy))
	}
	return nil
}
