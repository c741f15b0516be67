package crawler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/alvmarrod/pdf-harvest/internal/model"
	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"
)

// DefaultExtension is the link suffix harvested when none is configured
const DefaultExtension = ".pdf"

// DefaultMaxPageSize bounds the page body read by the extractor
const DefaultMaxPageSize = 64 << 20

// anchorSelector matches every element that carries a navigable href
const anchorSelector = "a[href], area[href]"

// Options configures the link extractor
type Options struct {
	Extension string
	Timeout   time.Duration
	UserAgent string

	// MaxPageSize is the largest page body accepted, in bytes.
	// A larger page fails instead of being parsed truncated.
	MaxPageSize int
}

// Extraction is the result of scanning one page
type Extraction struct {
	PageURL string
	Links   []model.ResourceLink
	Skipped []model.SkippedLink
}

// URLs returns the resolved link targets in document order
func (e *Extraction) URLs() []string {
	urls := make([]string, 0, len(e.Links))
	for _, link := range e.Links {
		urls = append(urls, link.ResolvedURL)
	}
	return urls
}

// Extractor fetches a page and yields the resource links it references
type Extractor struct {
	opts Options
}

// NewExtractor creates a new link extractor
func NewExtractor(opts Options) *Extractor {
	if opts.Extension == "" {
		opts.Extension = DefaultExtension
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = DefaultMaxPageSize
	}
	return &Extractor{opts: opts}
}

// Extract fetches pageURL and returns the links whose path ends with the
// configured extension. Any transport failure or non-2xx status is a fetch
// error; unparseable markup is a parse error.
func (x *Extractor) Extract(ctx context.Context, pageURL string) (*Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCancelled, err)
	}

	if _, err := Normalize(pageURL, pageURL); err != nil {
		return nil, err
	}

	var (
		body   []byte
		status int
	)

	// One byte over the limit tells a page of exactly MaxPageSize from a cut one
	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.MaxDepth(0),
		colly.MaxBodySize(x.opts.MaxPageSize+1),
		colly.StdlibContext(ctx),
	)
	if x.opts.UserAgent != "" {
		collector.UserAgent = x.opts.UserAgent
	}
	collector.SetRequestTimeout(x.opts.Timeout)

	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		logrus.Warnf("Page fetch failed for %s: %v (status: %d)", pageURL, err, status)
	})

	if err := collector.Visit(pageURL); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrCancelled, ctxErr)
		}
		if status != 0 {
			return nil, &model.StatusError{URL: pageURL, Code: status}
		}
		return nil, fmt.Errorf("%w: %s: %v", model.ErrFetch, pageURL, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCancelled, err)
	}

	if len(body) > x.opts.MaxPageSize {
		return nil, fmt.Errorf("%w: %s: page exceeds %d bytes", model.ErrFetch, pageURL, x.opts.MaxPageSize)
	}

	logrus.Infof("Fetched page %s (status=%d, %d bytes)", pageURL, status, len(body))

	extraction, err := ParseLinks(pageURL, bytes.NewReader(body), x.opts.Extension)
	if err != nil {
		return nil, err
	}

	logrus.Infof("Found %d matching links on %s (%d skipped)", len(extraction.Links), pageURL, len(extraction.Skipped))
	return extraction, nil
}

// ParseLinks scans markup for anchors and resolves every href ending with ext
// against base. Results keep document order and may contain duplicates.
func ParseLinks(base string, body io.Reader, ext string) (*Extraction, error) {
	if ext == "" {
		ext = DefaultExtension
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrParse, base, err)
	}

	extraction := &Extraction{PageURL: base}

	doc.Find(anchorSelector).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")

		resolved, err := Normalize(base, href)
		if err != nil {
			if looksLikeTarget(href, ext) {
				logrus.Debugf("Skipping unresolvable link %q: %v", href, err)
				extraction.Skipped = append(extraction.Skipped, model.SkippedLink{
					RawHref: href,
					Reason:  err.Error(),
				})
			}
			return
		}

		if !HasSuffixFold(resolved, ext) {
			return
		}

		extraction.Links = append(extraction.Links, model.ResourceLink{
			RawHref:     href,
			ResolvedURL: resolved,
		})
	})

	return extraction, nil
}
