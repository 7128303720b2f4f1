package cache

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/crawl"
)

// Header keys that change the content a site serves and therefore
// participate in the fingerprint. Everything else (auth, tracing) does not.
var contentHeaders = []string{"Accept-Language", "User-Agent", "Cookie"}

// Fingerprint derives a stable identity for a request. Two requests with the
// same fingerprint are interchangeable for caching and in-flight coalescing.
func Fingerprint(hasher crawl.Hasher, req crawl.Request) (string, error) {
	normalized, err := crawl.NormalizeURL(req.URL)
	if err != nil {
		return "", fmt.Errorf("normalizing url: %w", err)
	}

	var b strings.Builder
	b.WriteString(normalized)
	b.WriteByte('|')
	b.WriteString(req.Strategy)
	b.WriteByte('|')
	b.WriteString(string(req.Policy.Wait))
	b.WriteByte('|')
	b.WriteString(req.Policy.WaitSelector)
	for _, key := range sortedContentHeaders(req) {
		b.WriteByte('|')
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(strings.Join(req.Policy.Headers.Values(key), ","))
	}

	digest, err := hasher.Hash([]byte(b.String()))
	if err != nil {
		return "", fmt.Errorf("hashing fingerprint: %w", err)
	}
	return digest, nil
}

func sortedContentHeaders(req crawl.Request) []string {
	if len(req.Policy.Headers) == 0 {
		return nil
	}
	present := make([]string, 0, len(contentHeaders))
	for _, key := range contentHeaders {
		if len(req.Policy.Headers.Values(key)) > 0 {
			present = append(present, key)
		}
	}
	sort.Strings(present)
	return present
}
