// Package crawl implements the BFS crawl engine: given one claimed job and
// its source, it walks outbound links up to the depth-derived page cap,
// persisting pages, edges, and (for dynamic sources) encoded-discovered
// rows as it goes, then hands off to the indexer.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/corpusgraph/weaver/internal/fetch"
	"github.com/corpusgraph/weaver/internal/index"
	"github.com/corpusgraph/weaver/internal/model"
	"github.com/corpusgraph/weaver/internal/store"
	"github.com/corpusgraph/weaver/internal/urlnorm"
)

const (
	maxLinksPerPageDynamic = 200
	maxDiscoveredPerPage   = 500
	politenessDelay        = time.Second
)

// Engine runs one job end to end: the crawl loop, then the indexing pass.
type Engine struct {
	store   store.Gateway
	fetcher *fetch.Client
	robots  *fetch.RobotsChecker
	indexer *index.Indexer

	sleep func(time.Duration)
}

func New(st store.Gateway, fetcher *fetch.Client, robots *fetch.RobotsChecker, indexer *index.Indexer) *Engine {
	return &Engine{
		store:   st,
		fetcher: fetcher,
		robots:  robots,
		indexer: indexer,
		sleep:   time.Sleep,
	}
}

// SetSleep overrides the inter-page politeness pause, letting tests run a
// multi-page crawl without a real-time wait.
func (e *Engine) SetSleep(fn func(time.Duration)) {
	e.sleep = fn
}

// Run executes job against source. Failures inside the per-URL loop are
// logged and the URL is skipped. It returns an error when the source's
// owning row was deleted mid-job, when ctx is cancelled, or when the
// indexing transition, the indexing pass, or the final job reload or
// status update fails.
func (e *Engine) Run(ctx context.Context, job *model.CrawlJob, source *model.Source) error {
	seeds := job.ExplicitURLs
	if len(seeds) == 0 {
		seeds = []string{source.InitialURL}
	}
	canonicalSeeds := make([]string, len(seeds))
	for i, s := range seeds {
		canonicalSeeds[i] = urlnorm.Normalize(s)
	}

	cap := source.Depth.PageCap()
	if len(canonicalSeeds) > cap {
		cap = len(canonicalSeeds)
	}

	visited := make(map[string]string) // canonical URL -> page id
	discovered := make(map[string]bool)
	attempted := make(map[string]bool)
	queue := append([]string{}, canonicalSeeds...)
	for _, s := range canonicalSeeds {
		discovered[s] = true
	}

	var newPageIDs []string
	labelSet := false

	for len(queue) > 0 && len(visited) < cap {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		u := queue[0]
		queue = queue[1:]
		u = urlnorm.Normalize(u)

		if attempted[u] {
			continue
		}
		attempted[u] = true

		if !e.robots.Allowed(ctx, u) {
			slog.Info("crawl: robots disallowed", "job_id", job.ID, "url", u)
			continue
		}

		body, err := e.fetcher.Get(ctx, u)
		if err != nil {
			slog.Warn("crawl: fetch failed, skipping", "job_id", job.ID, "url", u, "error", err)
			continue
		}
		parsed, err := fetch.ParsePage(body)
		if err != nil {
			slog.Warn("crawl: parse failed, skipping", "job_id", job.ID, "url", u, "error", err)
			continue
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
			return fmt.Errorf("crawl: parent deleted: %w", err)
		}
		if err != nil {
			slog.Warn("crawl: store page failed, skipping", "job_id", job.ID, "url", u, "error", err)
			continue
		}
		visited[u] = got.ID

		if created {
			newPageIDs = append(newPageIDs, got.ID)
			if err := e.store.UpdatePageContent(ctx, got.ID, parsed.Content); err != nil {
				slog.Warn("crawl: update content failed", "job_id", job.ID, "page_id", got.ID, "error", err)
			}
			if err := e.store.UpdatePageStatus(ctx, got.ID, model.PageIndexed); err != nil {
				slog.Warn("crawl: update status failed", "job_id", job.ID, "page_id", got.ID, "error", err)
			}
		}

		if !labelSet {
			label := fetch.StripTitleSuffix(parsed.Title)
			if label == "" {
				label = parsed.Title
			}
			if err := e.store.UpdateSourceLabel(ctx, source.ID, label); err != nil {
				slog.Warn("crawl: update source label failed", "job_id", job.ID, "error", err)
			}
			labelSet = true
		}

		newLinks, err := e.extractAndPersistLinks(ctx, job, source, got.ID, u, body)
		if err != nil {
			return err
		}
		for _, l := range newLinks {
			if !discovered[l] {
				discovered[l] = true
				queue = append(queue, l)
			}
		}

		if err := e.store.UpdateJobCounters(ctx, job.ID, len(visited), len(discovered)); err != nil {
			slog.Warn("crawl: update counters failed", "job_id", job.ID, "error", err)
		}

		e.sleep(politenessDelay)
	}

	if err := e.store.UpdateJobStatus(ctx, job.ID, model.JobIndexing, ""); err != nil {
		return fmt.Errorf("crawl: transition to indexing: %w", err)
	}

	if source.Depth.IsDynamic() {
		total, err := e.store.CountPendingDiscovered(ctx, source.ID)
		if err != nil {
			slog.Warn("crawl: count pending discovered failed", "job_id", job.ID, "error", err)
		} else if err := e.store.UpdateJobEncodingDiscovered(ctx, job.ID, total, 0); err != nil {
			slog.Warn("crawl: seed encoding_discovered_total failed", "job_id", job.ID, "error", err)
		}
	}

	if err := e.indexer.Run(ctx, job, source, newPageIDs); err != nil {
		return fmt.Errorf("crawl: indexing pass: %w", err)
	}

	finalJob, err := e.store.GetJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("crawl: reload job before completion: %w", err)
	}
	if err := e.store.UpdateJobCounters(ctx, job.ID, finalJob.IndexedCount, len(discovered)); err != nil {
		slog.Warn("crawl: final counter update failed", "job_id", job.ID, "error", err)
	}
	return e.store.UpdateJobStatus(ctx, job.ID, model.JobCompleted, "")
}

// extractAndPersistLinks runs link extraction for one fetched page, upserts
// the resulting edges, and (for dynamic sources) the encoded-discovered rows
// keyed to those edges' real ids. It returns every link URL found on the
// page, whether or not it was already known, so callers can decide what to
// enqueue.
func (e *Engine) extractAndPersistLinks(ctx context.Context, job *model.CrawlJob, source *model.Source, pageID, canonicalURL, body string) ([]string, error) {
	opts := fetch.Options{CurrentURL: canonicalURL, SameDomainOnly: source.SameDomainOnly}

	var edges []model.PageEdge
	var links []string
	linkContext := make(map[string]fetch.LinkContext)

	if source.Depth.IsDynamic() {
		withCtx, err := fetch.ExtractLinksWithContext(body, opts)
		if err != nil {
			slog.Warn("crawl: link extraction failed", "job_id", job.ID, "url", canonicalURL, "error", err)
			withCtx = nil
		}
		if len(withCtx) > maxLinksPerPageDynamic {
			withCtx = withCtx[:maxLinksPerPageDynamic]
		}
		for _, l := range withCtx {
			edges = append(edges, model.PageEdge{FromPage: pageID, ToURL: l.URL, Owner: source.Owner})
			linkContext[l.URL] = l
			links = append(links, l.URL)
		}
	} else {
		urls, err := fetch.ExtractLinks(body, opts)
		if err != nil {
			slog.Warn("crawl: link extraction failed", "job_id", job.ID, "url", canonicalURL, "error", err)
			urls = nil
		}
		for _, l := range urls {
			edges = append(edges, model.PageEdge{FromPage: pageID, ToURL: l, Owner: source.Owner})
			links = append(links, l)
		}
	}

	var storedEdges []model.PageEdge
	if len(edges) > 0 {
		var err error
		storedEdges, err = e.store.UpsertEdges(ctx, edges)
		if err != nil {
			if errors.Is(err, store.ErrParentDeleted) {
				return nil, fmt.Errorf("crawl: parent deleted: %w", err)
			}
			slog.Warn("crawl: upsert edges failed", "job_id", job.ID, "url", canonicalURL, "error", err)
		}
	}

	if source.Depth.IsDynamic() && len(storedEdges) > 0 {
		discoveredRows := make([]model.EncodedDiscovered, 0, len(storedEdges))
		for i, se := range storedEdges {
			if i >= maxDiscoveredPerPage {
				break
			}
			lc := linkContext[se.ToURL]
			snippet := lc.Snippet
			if source.SuggestionMode == model.SuggestionDive {
				snippet = "Link from page"
			}
			discoveredRows = append(discoveredRows, model.EncodedDiscovered{
				PageEdge:   se.ID,
				AnchorText: lc.AnchorText,
				Snippet:    snippet,
				Owner:      source.Owner,
			})
		}
		if err := e.store.UpsertEncodedDiscovered(ctx, discoveredRows); err != nil {
			slog.Warn("crawl: upsert encoded-discovered failed", "job_id", job.ID, "url", canonicalURL, "error", err)
		}
	}

	return links, nil
}

func pathOf(canonical string) string {
	u, err := url.Parse(canonical)
	if err != nil {
		return ""
	}
	return u.Path
}
