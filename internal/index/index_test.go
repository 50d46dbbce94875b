package index_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corpusgraph/weaver/internal/embeddings"
	"github.com/corpusgraph/weaver/internal/fetch"
	"github.com/corpusgraph/weaver/internal/index"
	"github.com/corpusgraph/weaver/internal/model"
	"github.com/corpusgraph/weaver/internal/store/storetest"
)

func TestRunChunksAndEmbedsPageContent(t *testing.T) {
	// One vector per input text: the page content splits into more than one
	// chunk, and a short answer would stop the pass on a count mismatch.
	embedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		data := make([]string, len(req.Input))
		for i := range data {
			data[i] = `{"embedding":[0.1,0.2]}`
		}
		w.Write([]byte(`{"data":[` + strings.Join(data, ",") + `]}`))
	}))
	defer embedSrv.Close()

	fake := storetest.New()
	fake.PutSource(&model.Source{ID: "src-1", Depth: model.DepthShallow})
	fake.PutJob(&model.CrawlJob{ID: "job-1", SourceID: "src-1"})

	page := &model.Page{SourceID: "src-1", URL: "https://example.com/", Content: strings.Repeat("word ", 200)}
	got, _, err := fake.UpsertPage(context.Background(), page)
	require.NoError(t, err)

	fetcher := fetch.NewClient("weaver-test/1.0")
	embedClient := embeddings.NewClient(embedSrv.URL, "secret", "test-model")
	ix := index.New(fake, embedClient, fetcher)

	job, err := fake.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	source, err := fake.GetSource(context.Background(), "src-1")
	require.NoError(t, err)

	err = ix.Run(context.Background(), job, source, []string{got.ID})
	require.NoError(t, err)
	require.NotEmpty(t, fake.Chunks())
}

func TestRunStopsPassOnEmbeddingMismatchWithoutError(t *testing.T) {
	embedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer embedSrv.Close()

	fake := storetest.New()
	fake.PutSource(&model.Source{ID: "src-1", Depth: model.DepthShallow})
	fake.PutJob(&model.CrawlJob{ID: "job-1", SourceID: "src-1"})

	page := &model.Page{SourceID: "src-1", URL: "https://example.com/", Content: "short content"}
	got, _, err := fake.UpsertPage(context.Background(), page)
	require.NoError(t, err)

	fetcher := fetch.NewClient("weaver-test/1.0")
	embedClient := embeddings.NewClient(embedSrv.URL, "secret", "test-model")
	ix := index.New(fake, embedClient, fetcher)

	job, err := fake.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	source, err := fake.GetSource(context.Background(), "src-1")
	require.NoError(t, err)

	err = ix.Run(context.Background(), job, source, []string{got.ID})
	require.NoError(t, err)
	require.Empty(t, fake.Chunks())
}
