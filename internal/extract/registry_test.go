package extract

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/crawl"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

func newTestRegistry() *Registry {
	return NewRegistry(Config{MinArticleLength: 100}, fixedClock{now: time.Unix(1700000000, 0).UTC()})
}

func result(url, body string) crawl.FetchResult {
	return crawl.FetchResult{URL: url, StatusCode: 200, Body: []byte(body)}
}

const articleHTML = `<!doctype html>
<html>
<head>
<title>Harga Beras Naik Lagi</title>
<meta name="author" content="Siti Rahma">
<meta property="article:published_time" content="2024-03-01T08:00:00Z">
<meta property="og:title" content="Harga Beras Naik Lagi - Kabar Pagi">
<meta property="og:description" content="Kenaikan harga beras di pasar induk.">
<script>window.tracker = true;</script>
<style>body { margin: 0 }</style>
</head>
<body>
<nav>Home | Ekonomi</nav>
<article>
<h1>Harga Beras Naik Lagi</h1>
<p>Harga beras di pasar induk kembali naik pada pekan ini, didorong oleh pasokan yang menipis di sejumlah daerah penghasil utama.</p>
<p>Para pedagang memperkirakan kenaikan masih akan berlanjut hingga panen raya berikutnya tiba pada bulan depan.</p>
</article>
</body>
</html>`

func TestExtractTitle(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	record, err := r.Extract(result("https://example.test/a", "<html><head><title>Hello</title></head><body></body></html>"), "title")
	require.NoError(t, err)
	require.Equal(t, "Hello", record.Fields["title"])
	require.Equal(t, "title", record.Strategy)
	require.Equal(t, "https://example.test/a", record.SourceURL)
}

func TestExtractArticle(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	record, err := r.Extract(result("https://example.test/beras", articleHTML), "article")
	require.NoError(t, err)
	require.Equal(t, "Harga Beras Naik Lagi", record.Fields["title"])
	require.Equal(t, "Siti Rahma", record.Fields["author"])
	require.Equal(t, "2024-03-01T08:00:00Z", record.Fields["published"])
	require.Contains(t, record.Text, "pasar induk")
	// Article container wins over surrounding chrome and stripped tags.
	require.NotContains(t, record.Text, "Home | Ekonomi")
	require.NotContains(t, record.Text, "window.tracker")
}

func TestExtractArticleDeterministic(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	first, err := r.Extract(result("https://example.test/beras", articleHTML), "article")
	require.NoError(t, err)
	second, err := r.Extract(result("https://example.test/beras", articleHTML), "article")
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestExtractArticleTooShortKeepsPartial(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	short := "<html><head><title>Stub</title></head><body><article>tiny</article></body></html>"
	_, err := r.Extract(result("https://example.test/stub", short), "article")
	require.Error(t, err)
	require.Equal(t, crawl.FailExtraction, crawl.ClassOf(err))

	failure := crawl.AsFailure(err)
	require.NotNil(t, failure.Partial)
	require.Equal(t, "Stub", failure.Partial.Fields["title"])
	require.Equal(t, "tiny", failure.Partial.Text)
}

func TestExtractMetadata(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	record, err := r.Extract(result("https://example.test/beras", articleHTML), "metadata")
	require.NoError(t, err)
	require.Equal(t, "Harga Beras Naik Lagi - Kabar Pagi", record.Fields["title"])
	require.Equal(t, "Kenaikan harga beras di pasar induk.", record.Fields["description"])
}

func TestExtractMetadataEmptyFails(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	_, err := r.Extract(result("https://example.test/empty", "<html><body></body></html>"), "metadata")
	require.Error(t, err)
	require.Equal(t, crawl.FailExtraction, crawl.ClassOf(err))
}

func TestExtractUnknownStrategy(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	_, err := r.Extract(result("https://example.test/a", "<html></html>"), "nonsense")
	require.Error(t, err)
	require.Equal(t, crawl.FailInvalidRequest, crawl.ClassOf(err))
	require.True(t, errors.Is(err, crawl.ErrUnknownStrategy))
}

func TestStrategiesListed(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	names := r.Strategies()
	require.Equal(t, []string{"article", "metadata", "title"}, names)
	for _, name := range names {
		require.True(t, r.Known(name))
	}
}

func TestCleanTextCollapsesWhitespace(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	body := "<html><body><article><p>  satu \t dua  </p>\n\n<p>tiga</p><p>" +
		strings.Repeat("z", 120) + "</p></article></body></html>"
	record, err := r.Extract(result("https://example.test/ws", body), "article")
	require.NoError(t, err)
	require.Contains(t, record.Text, "satu dua")
	require.NotContains(t, record.Text, "  ")
}
