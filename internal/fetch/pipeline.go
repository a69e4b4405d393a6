package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"kbpulse/internal/model"
)

const (
	defaultWorkers        = 6
	defaultMaxPerCategory = 50
)

// Options tune one fetch run.
type Options struct {
	MaxArticlesPerCategory int
	ForceRefresh           bool
}

// Outcome is one item of a fetch run: a fetched article or a per-item error
// tagged with the URL that was attempted. Item errors never abort the run.
type Outcome struct {
	Article *model.Article
	URL     string
	Err     error
}

// ModifiedLookup reports the stored lastModifiedAt for a source's canonical
// URL, or nil when the article is unknown. It backs the conditional re-fetch
// skip.
type ModifiedLookup func(ctx context.Context, sourceID, canonicalURL string) *time.Time

// selectorSet is how a platform's listing pages link categories and articles.
type selectorSet struct {
	category string
	article  string
}

var platformSelectors = map[model.Platform]selectorSet{
	model.PlatformZendesk:   {category: "a[href*='/categories/'], a[href*='/sections/']", article: "a[href*='/articles/']"},
	model.PlatformIntercom:  {category: "a[href*='/collections/']", article: "a[href*='/articles/']"},
	model.PlatformHelpScout: {category: "a[href*='/category/']", article: "a[href*='/article/']"},
	model.PlatformGeneric:   {category: "a[href*='categor']", article: "a[href*='article']"},
}

type job struct {
	url      string
	category string
}

// Pipeline walks a source's category structure and fetches article pages
// through a bounded worker pool.
type Pipeline struct {
	client  *Client
	lookup  ModifiedLookup
	workers int
	logger  *zap.Logger
}

func NewPipeline(client *Client, lookup ModifiedLookup, workers int, logger *zap.Logger) *Pipeline {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Pipeline{
		client:  client,
		lookup:  lookup,
		workers: workers,
		logger:  logger,
	}
}

// Run fetches the source's index synchronously (failure there is fatal for
// the whole run), then streams outcomes as workers finish article pages. The
// returned channel closes when the run is done or cancelled. No two outcomes
// ever share a canonical URL.
func (p *Pipeline) Run(ctx context.Context, source model.DataSource, opts Options) (<-chan Outcome, error) {
	if opts.MaxArticlesPerCategory <= 0 {
		opts.MaxArticlesPerCategory = defaultMaxPerCategory
	}

	baseCanonical, err := Canonicalize(source.BaseURL)
	if err != nil {
		return nil, &FatalError{URL: source.BaseURL, Err: err}
	}
	base, _ := url.Parse(baseCanonical)

	indexPage, err := p.client.Get(ctx, baseCanonical, nil)
	if err != nil {
		return nil, &FatalError{URL: baseCanonical, Err: err}
	}

	categories := p.discoverCategories(base, source.Platform, indexPage.Body)
	if len(categories) == 0 {
		// Flat knowledge bases link articles straight from the index.
		categories = []job{{url: baseCanonical, category: ""}}
	}

	out := make(chan Outcome)
	jobs := make(chan job)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx, source, opts, jobs, out)
		}()
	}

	go func() {
		p.discoverArticles(ctx, base, source, opts, categories, baseCanonical, jobs, out)
		close(jobs)
		wg.Wait()
		close(out)
	}()

	return out, nil
}

// discoverCategories pulls category links off the index page.
func (p *Pipeline) discoverCategories(base *url.URL, platform model.Platform, body []byte) []job {
	selectors, ok := platformSelectors[platform]
	if !ok {
		selectors = platformSelectors[model.PlatformGeneric]
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var categories []job
	seen := map[string]struct{}{}
	doc.Find(selectors.category).Each(func(i int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		canon, err := resolve(base, href)
		if err != nil || !sameHost(base, canon) {
			return
		}
		if _, dup := seen[canon]; dup {
			return
		}
		seen[canon] = struct{}{}
		categories = append(categories, job{
			url:      canon,
			category: strings.TrimSpace(sel.Text()),
		})
	})
	return categories
}

// discoverArticles walks each category listing and feeds article URLs to the
// worker pool, deduplicating across categories and capping per category.
func (p *Pipeline) discoverArticles(ctx context.Context, base *url.URL, source model.DataSource, opts Options, categories []job, baseCanonical string, jobs chan<- job, out chan<- Outcome) {
	selectors, ok := platformSelectors[source.Platform]
	if !ok {
		selectors = platformSelectors[model.PlatformGeneric]
	}

	seen := map[string]struct{}{baseCanonical: {}}
	for _, cat := range categories {
		seen[cat.url] = struct{}{}
	}

	for _, cat := range categories {
		if ctx.Err() != nil {
			return
		}

		listing, err := p.client.Get(ctx, cat.url, nil)
		if err != nil {
			// One broken category listing is an item error, the sweep goes on.
			if !emit(ctx, out, Outcome{URL: cat.url, Err: fmt.Errorf("category listing: %w", err)}) {
				return
			}
			continue
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(listing.Body))
		if err != nil {
			if !emit(ctx, out, Outcome{URL: cat.url, Err: fmt.Errorf("category listing parse: %w", err)}) {
				return
			}
			continue
		}

		count := 0
		doc.Find(selectors.article).EachWithBreak(func(i int, sel *goquery.Selection) bool {
			if count >= opts.MaxArticlesPerCategory {
				return false
			}
			href, ok := sel.Attr("href")
			if !ok {
				return true
			}
			canon, err := resolve(base, href)
			if err != nil || !sameHost(base, canon) {
				return true
			}
			if _, dup := seen[canon]; dup {
				return true
			}
			seen[canon] = struct{}{}
			count++

			select {
			case jobs <- job{url: canon, category: cat.category}:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}
}

// worker fetches article pages and turns them into outcomes.
func (p *Pipeline) worker(ctx context.Context, source model.DataSource, opts Options, jobs <-chan job, out chan<- Outcome) {
	for j := range jobs {
		if ctx.Err() != nil {
			return
		}

		var ifModifiedSince *time.Time
		if !opts.ForceRefresh && p.lookup != nil {
			ifModifiedSince = p.lookup(ctx, source.ID, j.url)
		}

		pg, err := p.client.Get(ctx, j.url, ifModifiedSince)
		if err != nil {
			if !emit(ctx, out, Outcome{URL: j.url, Err: err}) {
				return
			}
			continue
		}

		if pg.NotModified || (ifModifiedSince != nil && pg.LastModified != nil && pg.LastModified.Equal(*ifModifiedSince)) {
			p.logger.Debug("article unchanged, skipping",
				zap.String("url", j.url))
			continue
		}

		article, err := buildArticle(source, j, pg)
		if err != nil {
			if !emit(ctx, out, Outcome{URL: j.url, Err: err}) {
				return
			}
			continue
		}

		if !emit(ctx, out, Outcome{Article: article, URL: j.url}) {
			return
		}
	}
}

// buildArticle extracts readable content and metadata from a fetched page.
func buildArticle(source model.DataSource, j job, pg *page) (*model.Article, error) {
	u, err := url.Parse(j.url)
	if err != nil {
		return nil, err
	}

	extracted, err := readability.FromReader(bytes.NewReader(pg.Body), u)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", j.url, err)
	}

	article := model.NewArticle(source.ID, j.url)
	article.Title = extracted.Title
	article.Content = extracted.Content
	article.Summary = strings.TrimSpace(extracted.Excerpt)
	article.Author = strings.TrimSpace(extracted.Byline)
	article.Category = j.category
	article.LastModifiedAt = pg.LastModified

	if doc, derr := goquery.NewDocumentFromReader(bytes.NewReader(pg.Body)); derr == nil {
		if keywords, ok := doc.Find("meta[name='keywords']").Attr("content"); ok {
			for _, tag := range strings.Split(keywords, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					article.Tags = append(article.Tags, tag)
				}
			}
		}
	}

	return &article, nil
}

func emit(ctx context.Context, out chan<- Outcome, o Outcome) bool {
	select {
	case out <- o:
		return true
	case <-ctx.Done():
		return false
	}
}

func sameHost(base *url.URL, canonical string) bool {
	u, err := url.Parse(canonical)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, base.Host)
}
