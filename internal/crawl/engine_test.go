package crawl_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corpusgraph/weaver/internal/crawl"
	"github.com/corpusgraph/weaver/internal/embeddings"
	"github.com/corpusgraph/weaver/internal/fetch"
	"github.com/corpusgraph/weaver/internal/index"
	"github.com/corpusgraph/weaver/internal/model"
	"github.com/corpusgraph/weaver/internal/store/storetest"
)

func newSite(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for path, body := range pages {
		body := body
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		})
	}
	mux.HandleFunc("/robots.txt", http.NotFound)
	// The engine normalizes every URL to https, so the site must serve TLS,
	// and fetch.Client (which uses the default transport) must trust it.
	srv := httptest.NewTLSServer(mux)
	orig := http.DefaultTransport
	http.DefaultTransport = srv.Client().Transport
	t.Cleanup(func() { http.DefaultTransport = orig })
	return srv
}

func newEmbedServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"embedding":[0.1,0.2]}]}`))
	}))
}

func TestRunCrawlsLinkedPagesAndCompletes(t *testing.T) {
	var site *httptest.Server
	site = newSite(t, map[string]string{
		"/": `<html><head><title>Home</title></head><body><main>
			<p>hello <a href="/about">about</a></p>
		</main></body></html>`,
		"/about": `<html><head><title>About</title></head><body><main><p>about content</p></main></body></html>`,
	})
	defer site.Close()

	embedSrv := newEmbedServer(t)
	defer embedSrv.Close()

	fake := storetest.New()
	source := &model.Source{ID: "src-1", InitialURL: site.URL + "/", Depth: model.DepthShallow, Owner: "owner-1"}
	fake.PutSource(source)
	job := &model.CrawlJob{ID: "job-1", SourceID: "src-1", Status: model.JobRunning, LastActivityAt: time.Now()}
	fake.PutJob(job)

	fetcher := fetch.NewClient("weaver-test/1.0")
	robots := fetch.NewRobotsChecker(fetcher, "weaver-test/1.0")
	embedClient := embeddings.NewClient(embedSrv.URL, "secret", "test-model")
	indexer := index.New(fake, embedClient, fetcher)
	engine := crawl.New(fake, fetcher, robots, indexer)
	engine.SetSleep(func(time.Duration) {})

	err := engine.Run(context.Background(), job, source)
	require.NoError(t, err)

	final, err := fake.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, model.JobCompleted, final.Status)
	require.Equal(t, 2, final.IndexedCount)

	updatedSource, err := fake.GetSource(context.Background(), "src-1")
	require.NoError(t, err)
	require.Equal(t, "Home", updatedSource.Label)
}

func TestRunStopsAtPageCap(t *testing.T) {
	var site *httptest.Server
	site = newSite(t, map[string]string{
		"/":  `<html><body><main><p><a href="/a">a</a> <a href="/b">b</a> <a href="/c">c</a></p></main></body></html>`,
		"/a": `<html><body><main><p>a</p></main></body></html>`,
		"/b": `<html><body><main><p>b</p></main></body></html>`,
		"/c": `<html><body><main><p>c</p></main></body></html>`,
	})
	defer site.Close()

	embedSrv := newEmbedServer(t)
	defer embedSrv.Close()

	fake := storetest.New()
	source := &model.Source{ID: "src-1", InitialURL: site.URL + "/", Depth: model.DepthSingular, Owner: "owner-1"}
	fake.PutSource(source)
	job := &model.CrawlJob{ID: "job-1", SourceID: "src-1", Status: model.JobRunning, LastActivityAt: time.Now()}
	fake.PutJob(job)

	fetcher := fetch.NewClient("weaver-test/1.0")
	robots := fetch.NewRobotsChecker(fetcher, "weaver-test/1.0")
	embedClient := embeddings.NewClient(embedSrv.URL, "secret", "test-model")
	indexer := index.New(fake, embedClient, fetcher)
	engine := crawl.New(fake, fetcher, robots, indexer)
	engine.SetSleep(func(time.Duration) {})

	err := engine.Run(context.Background(), job, source)
	require.NoError(t, err)

	final, err := fake.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, 1, final.IndexedCount)
}

func TestRunAddPageDoesNotFollowLinks(t *testing.T) {
	var site *httptest.Server
	site = newSite(t, map[string]string{
		"/":       `<html><head><title>Home</title></head><body><main><p><a href="/about">about</a></p></main></body></html>`,
		"/about":  `<html><body><main><p>about</p></main></body></html>`,
	})
	defer site.Close()

	embedSrv := newEmbedServer(t)
	defer embedSrv.Close()

	fake := storetest.New()
	source := &model.Source{ID: "src-1", InitialURL: site.URL + "/", Depth: model.DepthMedium, Owner: "owner-1"}
	fake.PutSource(source)
	job := &model.CrawlJob{ID: "job-1", SourceID: "src-1", Status: model.JobRunning, ExplicitURLs: []string{site.URL + "/"}, LastActivityAt: time.Now()}
	fake.PutJob(job)

	fetcher := fetch.NewClient("weaver-test/1.0")
	robots := fetch.NewRobotsChecker(fetcher, "weaver-test/1.0")
	embedClient := embeddings.NewClient(embedSrv.URL, "secret", "test-model")
	indexer := index.New(fake, embedClient, fetcher)
	engine := crawl.New(fake, fetcher, robots, indexer)

	require.True(t, job.IsAddPage())
	err := engine.RunAddPage(context.Background(), job, source)
	require.NoError(t, err)

	final, err := fake.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, model.JobCompleted, final.Status)
	require.Equal(t, 1, final.IndexedCount)
}
