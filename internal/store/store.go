// Package store is the single abstraction every other component uses to
// touch the shared record store. All writes are idempotent with respect to
// the natural keys pages(source,url), page_edges(from_page,to_url), and
// encoded_discovered(page_edge): inserts that would violate uniqueness are
// treated as "already present" rather than as errors.
package store

import (
	"context"
	"time"

	"github.com/corpusgraph/weaver/internal/model"
)

// DiscoveredRow is an encoded-discovered row joined with its edge's target
// URL, the shape the indexer needs to decide what to embed.
type DiscoveredRow struct {
	ID         string
	PageEdgeID string
	ToURL      string
	AnchorText string
	Snippet    string
}

// Gateway is the typed store contract consumed by the crawl engine,
// indexer, and scheduler. PostgresGateway is its only implementation; tests
// use a hand-written fake (see internal/store/storetest) rather than a
// generated mock, since the interface is small and stable.
type Gateway interface {
	// Jobs
	GetJob(ctx context.Context, id string) (*model.CrawlJob, error)
	CreateJob(ctx context.Context, sourceID string, explicitURLs []string) (*model.CrawlJob, error)
	ReclaimStaleJobs(ctx context.Context, staleAfter time.Duration) (int64, error)
	ClaimNextJob(ctx context.Context) (*model.CrawlJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, errMsg string) error
	UpdateJobCounters(ctx context.Context, jobID string, indexedCount, discoveredCount int) error
	UpdateJobEncodingChunks(ctx context.Context, jobID string, total, done int) error
	UpdateJobEncodingDiscovered(ctx context.Context, jobID string, total, done int) error

	// Sources
	GetSource(ctx context.Context, id string) (*model.Source, error)
	UpdateSourceLabel(ctx context.Context, id, label string) error
	DeleteSourceData(ctx context.Context, sourceID string) error

	// Pages
	UpsertPage(ctx context.Context, page *model.Page) (got *model.Page, created bool, err error)
	UpdatePageStatus(ctx context.Context, pageID string, status model.PageStatus) error
	UpdatePageContent(ctx context.Context, pageID, content string) error
	GetPage(ctx context.Context, id string) (*model.Page, error)

	// Edges. UpsertEdges returns every edge in the batch with its store id
	// populated, whether newly inserted or already present, so callers can
	// key per-edge encoded-discovered rows off the result.
	UpsertEdges(ctx context.Context, edges []model.PageEdge) ([]model.PageEdge, error)

	// Encoded-discovered
	UpsertEncodedDiscovered(ctx context.Context, rows []model.EncodedDiscovered) error
	CountPendingDiscovered(ctx context.Context, sourceID string) (int, error)
	ListPendingDiscovered(ctx context.Context, sourceID string) ([]DiscoveredRow, error)
	ListPendingDiscoveredForPage(ctx context.Context, pageID string) ([]DiscoveredRow, error)
	UpdateDiscoveredSnippet(ctx context.Context, id, snippet string) error
	UpdateDiscoveredEmbedding(ctx context.Context, id string, embedding []float32) error
	ClearMatchedDiscoveredEmbeddings(ctx context.Context, sourceID string) (int64, error)

	// Chunks
	InsertChunks(ctx context.Context, chunks []model.Chunk) error
}
