package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kbpulse/internal/model"
)

// kbServer simulates a small Zendesk-style knowledge base and counts the
// requests it sees per path.
type kbServer struct {
	mu     sync.Mutex
	hits   map[string]int
	mux    *http.ServeMux
	server *httptest.Server
}

func newKBServer(t *testing.T) *kbServer {
	t.Helper()
	s := &kbServer{hits: map[string]int{}, mux: http.NewServeMux()}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()
		s.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *kbServer) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *kbServer) page(path, html string) {
	s.mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, html)
	})
}

func articleHTML(title string) string {
	return fmt.Sprintf(`<html><head><title>%s</title>
<meta name="keywords" content="setup, sso"></head>
<body><article><h1>%s</h1>
<p>%s</p><p>%s</p></article></body></html>`,
		title, title,
		strings.Repeat("This paragraph explains the procedure in enough detail to matter. ", 8),
		strings.Repeat("A second paragraph keeps the extractor happy and the content real. ", 8))
}

func listingHTML(hrefs ...string) string {
	var b strings.Builder
	b.WriteString("<html><body><ul>")
	for _, h := range hrefs {
		fmt.Fprintf(&b, `<li><a href="%s">%s</a></li>`, h, h)
	}
	b.WriteString("</ul></body></html>")
	return b.String()
}

func testSource(baseURL string) model.DataSource {
	return model.DataSource{
		ID:       "kb-test",
		Name:     "Test KB",
		Platform: model.PlatformZendesk,
		BaseURL:  baseURL,
		Enabled:  true,
	}
}

func newTestPipeline(t *testing.T, lookup ModifiedLookup) *Pipeline {
	t.Helper()
	client := NewClient(5*time.Second, 1000, 100, zap.NewNop())
	client.backoffBase = time.Millisecond
	return NewPipeline(client, lookup, 4, zap.NewNop())
}

func collect(t *testing.T, outcomes <-chan Outcome) (articles []*model.Article, errs []Outcome) {
	t.Helper()
	for o := range outcomes {
		if o.Err != nil {
			errs = append(errs, o)
		} else {
			articles = append(articles, o.Article)
		}
	}
	return articles, errs
}

func TestPipeline_WalksCategoriesAndFetchesArticles(t *testing.T) {
	s := newKBServer(t)
	s.page("/", listingHTML("/categories/setup", "/categories/billing"))
	s.page("/categories/setup", listingHTML("/articles/install", "/articles/configure"))
	s.page("/categories/billing", listingHTML("/articles/invoices"))
	s.page("/articles/install", articleHTML("Installing the agent"))
	s.page("/articles/configure", articleHTML("Configuring the agent"))
	s.page("/articles/invoices", articleHTML("Understanding invoices"))

	p := newTestPipeline(t, nil)
	out, err := p.Run(context.Background(), testSource(s.server.URL), Options{})
	require.NoError(t, err)

	articles, errs := collect(t, out)
	assert.Empty(t, errs)
	require.Len(t, articles, 3)

	byTitle := map[string]*model.Article{}
	for _, a := range articles {
		byTitle[a.Title] = a
	}
	install := byTitle["Installing the agent"]
	require.NotNil(t, install)
	assert.Equal(t, "/categories/setup", install.Category)
	assert.Equal(t, "kb-test", install.SourceID)
	assert.Equal(t, []string{"setup", "sso"}, install.Tags)
	assert.NotEmpty(t, install.Content)
	assert.Equal(t, model.ArticleID("kb-test", install.URL), install.ID)
}

func TestPipeline_MaxArticlesPerCategory(t *testing.T) {
	s := newKBServer(t)
	s.page("/", listingHTML("/categories/a", "/categories/b"))

	var catA, catB []string
	for i := 0; i < 5; i++ {
		pathA := fmt.Sprintf("/articles/a-%d", i)
		pathB := fmt.Sprintf("/articles/b-%d", i)
		catA = append(catA, pathA)
		catB = append(catB, pathB)
		s.page(pathA, articleHTML("Article A"+fmt.Sprint(i)))
		s.page(pathB, articleHTML("Article B"+fmt.Sprint(i)))
	}
	s.page("/categories/a", listingHTML(catA...))
	s.page("/categories/b", listingHTML(catB...))

	p := newTestPipeline(t, nil)
	out, err := p.Run(context.Background(), testSource(s.server.URL), Options{MaxArticlesPerCategory: 3})
	require.NoError(t, err)

	articles, errs := collect(t, out)
	assert.Empty(t, errs)
	assert.LessOrEqual(t, len(articles), 6, "2 categories x cap 3")
	assert.Len(t, articles, 6)
}

func TestPipeline_DeduplicatesAcrossCategories(t *testing.T) {
	s := newKBServer(t)
	s.page("/", listingHTML("/categories/a", "/categories/b"))
	// The same article is reachable from both listings, with noise in the URL.
	s.page("/categories/a", listingHTML("/articles/shared?ref=a"))
	s.page("/categories/b", listingHTML("/articles/shared/#from-b"))
	s.page("/articles/shared", articleHTML("Shared article"))

	p := newTestPipeline(t, nil)
	out, err := p.Run(context.Background(), testSource(s.server.URL), Options{})
	require.NoError(t, err)

	articles, errs := collect(t, out)
	assert.Empty(t, errs)
	require.Len(t, articles, 1, "one canonical URL, one outcome")
	assert.Equal(t, 1, s.hitCount("/articles/shared"))

	seen := map[string]bool{}
	for _, a := range articles {
		assert.False(t, seen[a.URL])
		seen[a.URL] = true
	}
}

func TestPipeline_404IsNotRetried(t *testing.T) {
	s := newKBServer(t)
	s.page("/", listingHTML("/categories/a"))
	s.page("/categories/a", listingHTML("/articles/gone", "/articles/ok"))
	s.page("/articles/ok", articleHTML("Still here"))
	s.mux.HandleFunc("/articles/gone", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	p := newTestPipeline(t, nil)
	out, err := p.Run(context.Background(), testSource(s.server.URL), Options{})
	require.NoError(t, err)

	articles, errs := collect(t, out)
	assert.Len(t, articles, 1)
	require.Len(t, errs, 1)

	var httpErr *HTTPError
	require.ErrorAs(t, errs[0].Err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.Equal(t, 1, s.hitCount("/articles/gone"), "permanent failures must not be retried")
}

func TestPipeline_503IsRetriedUntilSuccess(t *testing.T) {
	s := newKBServer(t)
	s.page("/", listingHTML("/categories/a"))
	s.page("/categories/a", listingHTML("/articles/flaky"))

	var mu sync.Mutex
	failures := 0
	s.mux.HandleFunc("/articles/flaky", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		failures++
		n := failures
		mu.Unlock()
		if n <= 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, articleHTML("Flaky article"))
	})

	p := newTestPipeline(t, nil)
	out, err := p.Run(context.Background(), testSource(s.server.URL), Options{})
	require.NoError(t, err)

	articles, errs := collect(t, out)
	assert.Empty(t, errs, "transient failures that recover leave no error outcome")
	require.Len(t, articles, 1)
	assert.Equal(t, "Flaky article", articles[0].Title)
	assert.Equal(t, 4, s.hitCount("/articles/flaky"))
}

func TestPipeline_ConditionalRefetchSkipsUnchanged(t *testing.T) {
	lastMod := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

	s := newKBServer(t)
	s.page("/", listingHTML("/categories/a"))
	s.page("/categories/a", listingHTML("/articles/stable"))
	s.mux.HandleFunc("/articles/stable", func(w http.ResponseWriter, r *http.Request) {
		if ims := r.Header.Get("If-Modified-Since"); ims != "" {
			if t, err := http.ParseTime(ims); err == nil && !lastMod.After(t) {
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
		w.Header().Set("Last-Modified", lastMod.UTC().Format(http.TimeFormat))
		fmt.Fprint(w, articleHTML("Stable article"))
	})

	lookup := func(ctx context.Context, sourceID, canonicalURL string) *time.Time {
		return &lastMod
	}

	// forceRefresh=false: the stored timestamp suppresses the re-fetch.
	p := newTestPipeline(t, lookup)
	out, err := p.Run(context.Background(), testSource(s.server.URL), Options{ForceRefresh: false})
	require.NoError(t, err)
	articles, errs := collect(t, out)
	assert.Empty(t, errs)
	assert.Empty(t, articles, "unchanged article must produce no outcome")

	// forceRefresh=true: fetched regardless.
	out, err = p.Run(context.Background(), testSource(s.server.URL), Options{ForceRefresh: true})
	require.NoError(t, err)
	articles, errs = collect(t, out)
	assert.Empty(t, errs)
	require.Len(t, articles, 1)
	require.NotNil(t, articles[0].LastModifiedAt)
	assert.True(t, lastMod.Equal(*articles[0].LastModifiedAt))
}

func TestPipeline_UnreachableIndexIsFatal(t *testing.T) {
	s := newKBServer(t)
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	p := newTestPipeline(t, nil)
	_, err := p.Run(context.Background(), testSource(s.server.URL), Options{})

	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	var httpErr *HTTPError
	assert.True(t, errors.As(fatal.Err, &httpErr))
}

func TestPipeline_BrokenCategoryListingIsItemError(t *testing.T) {
	s := newKBServer(t)
	s.page("/", listingHTML("/categories/ok", "/categories/broken"))
	s.page("/categories/ok", listingHTML("/articles/fine"))
	s.page("/articles/fine", articleHTML("Fine article"))
	s.mux.HandleFunc("/categories/broken", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	p := newTestPipeline(t, nil)
	out, err := p.Run(context.Background(), testSource(s.server.URL), Options{})
	require.NoError(t, err)

	articles, errs := collect(t, out)
	assert.Len(t, articles, 1, "the healthy category still syncs")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Err.Error(), "category listing")
}

func TestPipeline_Cancellation(t *testing.T) {
	s := newKBServer(t)
	s.page("/", listingHTML("/categories/a"))

	var hrefs []string
	for i := 0; i < 20; i++ {
		path := fmt.Sprintf("/articles/n-%d", i)
		hrefs = append(hrefs, path)
		s.mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(50 * time.Millisecond)
			fmt.Fprint(w, articleHTML("Slow article"))
		})
	}
	s.page("/categories/a", listingHTML(hrefs...))

	ctx, cancel := context.WithCancel(context.Background())
	p := newTestPipeline(t, nil)
	out, err := p.Run(ctx, testSource(s.server.URL), Options{})
	require.NoError(t, err)

	go func() {
		time.Sleep(80 * time.Millisecond)
		cancel()
	}()

	articles, _ := collect(t, out)
	assert.Less(t, len(articles), 20, "cancellation must stop the run early")
}
