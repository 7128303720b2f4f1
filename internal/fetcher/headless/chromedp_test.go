package headless

import (
	"context"
	"errors"
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/crawl"
)

func redirectEvent() *network.EventRequestWillBeSent {
	return &network.EventRequestWillBeSent{
		Type:             network.ResourceTypeDocument,
		RedirectResponse: &network.Response{URL: "https://example.test/hop"},
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil, nil)

	cases := []struct {
		name string
		err  error
		want crawl.FailureClass
	}{
		{"deadline", context.DeadlineExceeded, crawl.FailTimeout},
		{"dns", errors.New("page load error net::ERR_NAME_NOT_RESOLVED"), crawl.FailNetwork},
		{"refused", errors.New("page load error net::ERR_CONNECTION_REFUSED"), crawl.FailNetwork},
		{"nettimeout", errors.New("page load error net::ERR_TIMED_OUT"), crawl.FailTimeout},
		{"crash", errors.New("chromedp run: target crashed"), crawl.FailRender},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			meta := newPageMeta(10, nil)
			require.Equal(t, tc.want, f.classify(tc.err, meta))
		})
	}
}

func TestClassifyRedirectOverflowWins(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil, nil)
	meta := newPageMeta(1, nil)
	meta.overflow = true
	require.Equal(t, crawl.FailRedirectLoop, f.classify(context.Canceled, meta))
}

func TestPageMetaCountsDocumentRedirects(t *testing.T) {
	t.Parallel()

	aborted := false
	meta := newPageMeta(2, func() { aborted = true })

	for i := 0; i < 2; i++ {
		meta.handleEvent(redirectEvent())
	}
	require.False(t, meta.redirectOverflow())
	require.False(t, aborted)

	meta.handleEvent(redirectEvent())
	require.True(t, meta.redirectOverflow())
	require.True(t, aborted)
}

func TestPageMetaSnapshotFallbacks(t *testing.T) {
	t.Parallel()

	meta := newPageMeta(10, nil)

	status, _, url := meta.snapshot("https://example.test/a", "")
	require.Equal(t, 200, status)
	require.Equal(t, "https://example.test/a", url)

	status, _, url = meta.snapshot("https://example.test/a", "https://example.test/final")
	require.Equal(t, 200, status)
	require.Equal(t, "https://example.test/final", url)
}

func TestTimeoutAndRedirectDefaults(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil, nil)
	require.Equal(t, f.cfg.NavigationTimeout, f.timeout(crawl.FetchPolicy{}))
	require.Equal(t, 10, f.maxRedirects(crawl.FetchPolicy{}))
	require.Equal(t, 3, f.maxRedirects(crawl.FetchPolicy{MaxRedirects: 3}))
}
