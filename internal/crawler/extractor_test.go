package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alvmarrod/pdf-harvest/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLinksScenario(t *testing.T) {
	body := `<html><body>
		<a href="/docs/a.pdf">A</a>
		<a href="https://other.test/b.PDF">B</a>
		<a href="/img/logo.png">logo</a>
	</body></html>`

	extraction, err := ParseLinks("https://site.test/page", strings.NewReader(body), ".pdf")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://site.test/docs/a.pdf",
		"https://other.test/b.PDF",
	}, extraction.URLs())
	assert.Empty(t, extraction.Skipped)
	assert.Equal(t, "/docs/a.pdf", extraction.Links[0].RawHref)
}

func TestParseLinksDocumentOrderAndDuplicates(t *testing.T) {
	body := `<html><body>
		<map><area href="z.pdf"></map>
		<a href="b.pdf">b</a>
		<a>no href</a>
		<a href="a.pdf#p2">a</a>
		<a href="b.pdf">b again</a>
	</body></html>`

	extraction, err := ParseLinks("https://site.test/docs/", strings.NewReader(body), ".pdf")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://site.test/docs/z.pdf",
		"https://site.test/docs/b.pdf",
		"https://site.test/docs/a.pdf#p2",
		"https://site.test/docs/b.pdf",
	}, extraction.URLs())
}

func TestParseLinksRecordsSkips(t *testing.T) {
	body := `<a href="http://[::1/broken.pdf">broken</a>
		<a href="mailto:x@site.test?subject=a.pdf">mail</a>
		<a href="javascript:void(0)">js</a>
		<a href="">empty</a>`

	extraction, err := ParseLinks("https://site.test/", strings.NewReader(body), ".pdf")
	require.NoError(t, err)

	assert.Empty(t, extraction.Links)
	require.Len(t, extraction.Skipped, 1)
	assert.Equal(t, "http://[::1/broken.pdf", extraction.Skipped[0].RawHref)
	assert.NotEmpty(t, extraction.Skipped[0].Reason)
}

func TestParseLinksCustomExtension(t *testing.T) {
	body := `<a href="a.pdf">a</a><a href="b.EPUB">b</a>`

	extraction, err := ParseLinks("https://site.test/", strings.NewReader(body), ".epub")
	require.NoError(t, err)

	assert.Equal(t, []string{"https://site.test/b.EPUB"}, extraction.URLs())
}

func TestExtract(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<a href="/files/one.pdf">1</a><a href="two.pdf">2</a><a href="/index.html">home</a>`)
	}))
	defer server.Close()

	x := NewExtractor(Options{Timeout: 5 * time.Second, UserAgent: "pdfharvest-test"})
	extraction, err := x.Extract(context.Background(), server.URL+"/list/")
	require.NoError(t, err)

	assert.Equal(t, []string{
		server.URL + "/files/one.pdf",
		server.URL + "/list/two.pdf",
	}, extraction.URLs())
}

func TestExtractStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	x := NewExtractor(Options{Timeout: 5 * time.Second})
	_, err := x.Extract(context.Background(), server.URL)
	require.Error(t, err)

	assert.ErrorIs(t, err, model.ErrFetch)
	var statusErr *model.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
}

func TestExtractConnectionError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	pageURL := server.URL
	server.Close()

	x := NewExtractor(Options{Timeout: 2 * time.Second})
	_, err := x.Extract(context.Background(), pageURL)

	assert.ErrorIs(t, err, model.ErrFetch)
	assert.Equal(t, model.KindFetch, model.KindOf(err))
}

func TestExtractInvalidPageURL(t *testing.T) {
	x := NewExtractor(Options{})
	_, err := x.Extract(context.Background(), "not a url")
	assert.ErrorIs(t, err, model.ErrInvalidURL)
}

func TestExtractCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	x := NewExtractor(Options{})
	_, err := x.Extract(ctx, "https://site.test/")
	assert.ErrorIs(t, err, model.ErrCancelled)
}

func TestExtractCancelledMidRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(3 * time.Second):
		}
		fmt.Fprint(w, `<a href="late.pdf">late</a>`)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	x := NewExtractor(Options{Timeout: 10 * time.Second})
	start := time.Now()
	extraction, err := x.Extract(ctx, server.URL+"/slow")

	assert.Nil(t, extraction)
	assert.ErrorIs(t, err, model.ErrCancelled)
	assert.Less(t, time.Since(start), 2*time.Second, "request was not abandoned on cancel")
}

func TestExtractRejectsOversizedPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<a href="first.pdf">first</a>`)
		fmt.Fprint(w, strings.Repeat(" ", 4096))
		fmt.Fprint(w, `<a href="last.pdf">last</a>`)
	}))
	defer server.Close()

	x := NewExtractor(Options{Timeout: 5 * time.Second, MaxPageSize: 1024})
	_, err := x.Extract(context.Background(), server.URL)

	assert.ErrorIs(t, err, model.ErrFetch)
	assert.ErrorContains(t, err, "exceeds 1024 bytes")
}

func TestExtractPageAtSizeLimit(t *testing.T) {
	page := `<a href="first.pdf">first</a>` + strings.Repeat(" ", 512) + `<a href="last.pdf">last</a>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, page)
	}))
	defer server.Close()

	x := NewExtractor(Options{Timeout: 5 * time.Second, MaxPageSize: len(page)})
	extraction, err := x.Extract(context.Background(), server.URL+"/")
	require.NoError(t, err)

	assert.Equal(t, []string{server.URL + "/first.pdf", server.URL + "/last.pdf"}, extraction.URLs())
}

func TestNewExtractorDefaults(t *testing.T) {
	x := NewExtractor(Options{})
	assert.Equal(t, DefaultExtension, x.opts.Extension)
	assert.Equal(t, DefaultMaxPageSize, x.opts.MaxPageSize)
	assert.Equal(t, 30*time.Second, x.opts.Timeout)
}
