package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/corpusgraph/weaver/internal/fetch"
	"github.com/corpusgraph/weaver/internal/model"
	"github.com/corpusgraph/weaver/internal/store"
	"github.com/corpusgraph/weaver/internal/urlnorm"
)

// RunAddPage is the single-URL fast path dispatched for a job whose
// explicit_urls has exactly one entry: fetch the one page, insert it, build
// outgoing edges and encoded-discovered from its HTML, then run the
// indexer's single-page variant. No BFS beyond that page.
func (e *Engine) RunAddPage(ctx context.Context, job *model.CrawlJob, source *model.Source) error {
	u := urlnorm.Normalize(job.ExplicitURLs[0])

	if !e.robots.Allowed(ctx, u) {
		slog.Info("addpage: robots disallowed", "job_id", job.ID, "url", u)
		return e.store.UpdateJobStatus(ctx, job.ID, model.JobCompleted, "")
	}

	body, err := e.fetcher.Get(ctx, u)
	if err != nil {
		return e.store.UpdateJobStatus(ctx, job.ID, model.JobFailed, err.Error())
	}
	parsed, err := fetch.ParsePage(body)
	if err != nil {
		return e.store.UpdateJobStatus(ctx, job.ID, model.JobFailed, err.Error())
	}

	page := &model.Page{
		SourceID: source.ID,
		URL:      u,
		Title:    parsed.Title,
		Path:     pathOf(u),
		Content:  parsed.Content,
		Status:   model.PageIndexed,
		Owner:    source.Owner,
	}
	got, created, err := e.store.UpsertPage(ctx, page)
	if errors.Is(err, store.ErrParentDeleted) {
		return fmt.Errorf("addpage: parent deleted: %w", err)
	}
	if err != nil {
		return e.store.UpdateJobStatus(ctx, job.ID, model.JobFailed, err.Error())
	}
	if created {
		if err := e.store.UpdatePageContent(ctx, got.ID, parsed.Content); err != nil {
			slog.Warn("addpage: update content failed", "job_id", job.ID, "page_id", got.ID, "error", err)
		}
		if err := e.store.UpdatePageStatus(ctx, got.ID, model.PageIndexed); err != nil {
			slog.Warn("addpage: update status failed", "job_id", job.ID, "page_id", got.ID, "error", err)
		}
	}

	if _, err := e.extractAndPersistLinks(ctx, job, source, got.ID, u, body); err != nil {
		return err
	}

	if err := e.store.UpdateJobCounters(ctx, job.ID, 1, 0); err != nil {
		slog.Warn("addpage: update counters failed", "job_id", job.ID, "error", err)
	}

	if err := e.store.UpdateJobStatus(ctx, job.ID, model.JobIndexing, ""); err != nil {
		return fmt.Errorf("addpage: transition to indexing: %w", err)
	}

	if source.Depth.IsDynamic() {
		total, err := e.store.CountPendingDiscovered(ctx, source.ID)
		if err != nil {
			slog.Warn("addpage: count pending discovered failed", "job_id", job.ID, "error", err)
		} else if err := e.store.UpdateJobEncodingDiscovered(ctx, job.ID, total, 0); err != nil {
			slog.Warn("addpage: seed encoding_discovered_total failed", "job_id", job.ID, "error", err)
		}
	}

	if err := e.indexer.Run(ctx, job, source, []string{got.ID}); err != nil {
		return fmt.Errorf("addpage: indexing pass: %w", err)
	}

	finalJob, err := e.store.GetJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("addpage: reload job before completion: %w", err)
	}
	if err := e.store.UpdateJobCounters(ctx, job.ID, finalJob.IndexedCount, finalJob.DiscoveredCount); err != nil {
		slog.Warn("addpage: final counter update failed", "job_id", job.ID, "error", err)
	}
	return e.store.UpdateJobStatus(ctx, job.ID, model.JobCompleted, "")
}
