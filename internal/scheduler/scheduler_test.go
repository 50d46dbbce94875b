package scheduler

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

func TestRunClaimsAndCompletesAJob(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`<html><head><title>Home</title></head><body><main><p>hello world</p></main></body></html>`))
	}))
	defer site.Close()

	embedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"embedding":[0.1,0.2]}]}`))
	}))
	defer embedSrv.Close()

	fake := storetest.New()
	fake.PutSource(&model.Source{ID: "src-1", InitialURL: site.URL, Depth: model.DepthShallow})
	fake.PutJob(&model.CrawlJob{ID: "job-1", SourceID: "src-1", Status: model.JobQueued, LastActivityAt: time.Now()})

	fetcher := fetch.NewClient("weaver-test/1.0")
	robots := fetch.NewRobotsChecker(fetcher, "weaver-test/1.0")
	embedClient := embeddings.NewClient(embedSrv.URL, "secret", "test-model")
	indexer := index.New(fake, embedClient, fetcher)
	engine := crawl.New(fake, fetcher, robots, indexer)

	sched := New(fake, engine, 1, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		for {
			j, err := fake.GetJob(context.Background(), "job-1")
			if err == nil && j.Status.Terminal() {
				cancel()
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(20 * time.Millisecond):
			}
		}
	}()

	err := sched.Run(ctx)
	require.NoError(t, err)

	final, err := fake.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, model.JobCompleted, final.Status)
}

func TestRunIdlesWithoutQueuedJobs(t *testing.T) {
	fake := storetest.New()
	fetcher := fetch.NewClient("weaver-test/1.0")
	robots := fetch.NewRobotsChecker(fetcher, "weaver-test/1.0")
	embedClient := embeddings.NewClient("http://127.0.0.1:0", "secret", "test-model")
	indexer := index.New(fake, embedClient, fetcher)
	engine := crawl.New(fake, fetcher, robots, indexer)

	sched := New(fake, engine, 1, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err := sched.Run(ctx)
	require.NoError(t, err)
}
