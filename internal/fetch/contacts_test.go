package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openbizdata/dircrawler/internal/crawler"
)

func fastConfig() ContactConfig {
	return ContactConfig{
		Timeout:     2 * time.Second,
		Delay:       time.Millisecond,
		RandomDelay: time.Millisecond,
		Parallelism: 4,
	}
}

func TestCandidatesWebsiteBeforeFacebook(t *testing.T) {
	t.Parallel()

	c, err := NewContactCrawler(fastConfig(), zap.NewNop())
	require.NoError(t, err)

	candidates := c.Candidates(crawler.CompanyDetails{
		Website:  "acme.vn/",
		Facebook: "https://facebook.com/acmevn",
	})
	require.NotEmpty(t, candidates)
	require.Equal(t, "https://acme.vn", candidates[0].URL, "scheme added, trailing slash dropped")
	require.Equal(t, crawler.ContactWebsite, candidates[0].Type)

	sawFacebook := false
	for _, cand := range candidates {
		if cand.Type == crawler.ContactFacebook {
			sawFacebook = true
			require.Contains(t, cand.URL, "facebook.com/acmevn")
		} else {
			require.False(t, sawFacebook, "website candidates come first")
		}
	}
	require.True(t, sawFacebook)
}

func TestCandidatesSkipPlaceholders(t *testing.T) {
	t.Parallel()

	c, err := NewContactCrawler(fastConfig(), zap.NewNop())
	require.NoError(t, err)

	require.Empty(t, c.Candidates(crawler.CompanyDetails{Website: "N/A", Facebook: ""}))
}

func TestFetchContactPageFallsThroughFailures(t *testing.T) {
	t.Parallel()

	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.URL.Path == "/contact" {
			_, _ = w.Write([]byte("<html>email us at info@acme.vn</html>"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c, err := NewContactCrawler(ContactConfig{
		Timeout:     2 * time.Second,
		Delay:       time.Millisecond,
		RandomDelay: time.Millisecond,
		Parallelism: 4,
		DeepPaths:   []string{"/missing", "/contact"},
	}, zap.NewNop())
	require.NoError(t, err)

	page, ok := c.FetchContactPage(context.Background(), crawler.CompanyDetails{
		Name:    "Acme",
		Website: srv.URL,
	})
	require.True(t, ok)
	require.Equal(t, crawler.ContactWebsite, page.URLType)
	require.Contains(t, page.HTML, "info@acme.vn")
	require.Contains(t, page.URL, "/contact")
	require.Equal(t, 2, hits, "the 404 candidate is tried first")
}

func TestFetchContactPageNoCandidates(t *testing.T) {
	t.Parallel()

	c, err := NewContactCrawler(fastConfig(), zap.NewNop())
	require.NoError(t, err)

	_, ok := c.FetchContactPage(context.Background(), crawler.CompanyDetails{Name: "Orphan"})
	require.False(t, ok)
}

func TestNormalizeSite(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://acme.vn", normalizeSite("acme.vn"))
	require.Equal(t, "http://acme.vn", normalizeSite("http://acme.vn/"))
	require.Empty(t, normalizeSite("  "))
	require.Empty(t, normalizeSite("n/a"))
}
