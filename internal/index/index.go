// Package index chunks crawled pages, embeds the chunks and any pending
// discovered-link snippets in batches, and keeps the job's progress
// counters current as it goes.
package index

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/corpusgraph/weaver/internal/chunk"
	"github.com/corpusgraph/weaver/internal/embeddings"
	"github.com/corpusgraph/weaver/internal/fetch"
	"github.com/corpusgraph/weaver/internal/model"
	"github.com/corpusgraph/weaver/internal/store"
)

const batchSize = 10

// Indexer is stateless aside from its collaborators; one instance serves
// every job's main pass and the add-page single-page variant alike.
type Indexer struct {
	store   store.Gateway
	embed   *embeddings.Client
	fetcher *fetch.Client

	divePause time.Duration
}

func New(st store.Gateway, embed *embeddings.Client, fetcher *fetch.Client) *Indexer {
	return &Indexer{store: st, embed: embed, fetcher: fetcher, divePause: 400 * time.Millisecond}
}

type pendingChunk struct {
	pageID string
	text   string
	start  int
	end    int
}

// Run chunks and embeds every page in pageIDs, then, for dynamic sources,
// handles the discovered-link backlog: scoped to that page when pageIDs has
// exactly one entry (the add-page single-page variant), or to the whole
// source otherwise (the main crawl's post-crawl pass).
func (ix *Indexer) Run(ctx context.Context, job *model.CrawlJob, source *model.Source, pageIDs []string) error {
	pending, err := ix.collectChunks(ctx, pageIDs)
	if err != nil {
		return err
	}

	total := len(pending)
	done := 0
	if err := ix.store.UpdateJobEncodingChunks(ctx, job.ID, total, done); err != nil {
		return err
	}

	for start := 0; start < len(pending); start += batchSize {
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.text
		}

		vectors, err := ix.embed.Embed(ctx, texts)
		if err != nil {
			slog.Warn("embedding batch failed, stopping indexing pass", "job_id", job.ID, "error", err)
			return nil
		}

		rows := make([]model.Chunk, len(batch))
		for i, p := range batch {
			startIdx, endIdx := p.start, p.end
			rows[i] = model.Chunk{
				PageID:     p.pageID,
				Content:    p.text,
				StartIndex: &startIdx,
				EndIndex:   &endIdx,
				Embedding:  vectors[i],
			}
		}
		if err := ix.store.InsertChunks(ctx, rows); err != nil {
			return err
		}

		done += len(batch)
		if err := ix.store.UpdateJobEncodingChunks(ctx, job.ID, total, done); err != nil {
			return err
		}
	}

	if source.Depth.IsDynamic() {
		if err := ix.runDiscovered(ctx, job, source, pageIDs); err != nil {
			return err
		}
	}

	return nil
}

func (ix *Indexer) collectChunks(ctx context.Context, pageIDs []string) ([]pendingChunk, error) {
	var out []pendingChunk
	for _, id := range pageIDs {
		page, err := ix.store.GetPage(ctx, id)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(page.Content) == "" {
			continue
		}
		for _, c := range chunk.Split(page.Content) {
			out = append(out, pendingChunk{pageID: page.ID, text: c.Content, start: c.StartIndex, end: c.EndIndex})
		}
	}
	return out, nil
}

// runDiscovered embeds pending encoded-discovered rows, scoped to pageIDs
// when len(pageIDs) == 1 (the add-page path), else to the whole source.
func (ix *Indexer) runDiscovered(ctx context.Context, job *model.CrawlJob, source *model.Source, pageIDs []string) error {
	var rows []store.DiscoveredRow
	var err error
	if len(pageIDs) == 1 {
		rows, err = ix.store.ListPendingDiscoveredForPage(ctx, pageIDs[0])
	} else {
		rows, err = ix.store.ListPendingDiscovered(ctx, source.ID)
	}
	if err != nil {
		return err
	}

	total := len(rows)
	done := 0
	lastUpdate := time.Now()
	if err := ix.store.UpdateJobEncodingDiscovered(ctx, job.ID, total, done); err != nil {
		return err
	}

	if source.SuggestionMode == model.SuggestionDive {
		for _, r := range rows {
			snippet := ix.diveSnippet(ctx, r)
			if err := ix.store.UpdateDiscoveredSnippet(ctx, r.ID, snippet); err != nil {
				return err
			}
			vecs, err := ix.embed.Embed(ctx, []string{snippet})
			if err != nil {
				slog.Warn("discovered-link embedding failed, stopping pass", "job_id", job.ID, "error", err)
				break
			}
			if err := ix.store.UpdateDiscoveredEmbedding(ctx, r.ID, vecs[0]); err != nil {
				return err
			}
			done++
			if time.Since(lastUpdate) > 1200*time.Millisecond {
				if err := ix.store.UpdateJobEncodingDiscovered(ctx, job.ID, total, done); err != nil {
					return err
				}
				lastUpdate = time.Now()
			}
			time.Sleep(ix.divePause)
		}
	} else {
		for start := 0; start < len(rows); start += batchSize {
			end := start + batchSize
			if end > len(rows) {
				end = len(rows)
			}
			batch := rows[start:end]
			texts := make([]string, len(batch))
			for i, r := range batch {
				texts[i] = r.Snippet
			}
			vectors, err := ix.embed.Embed(ctx, texts)
			if err != nil {
				slog.Warn("discovered-link embedding batch failed, stopping pass", "job_id", job.ID, "error", err)
				break
			}
			for i, r := range batch {
				if err := ix.store.UpdateDiscoveredEmbedding(ctx, r.ID, vectors[i]); err != nil {
					return err
				}
			}
			done += len(batch)
			if err := ix.store.UpdateJobEncodingDiscovered(ctx, job.ID, total, done); err != nil {
				return err
			}
		}
	}

	if err := ix.store.UpdateJobEncodingDiscovered(ctx, job.ID, total, done); err != nil {
		return err
	}

	_, err = ix.store.ClearMatchedDiscoveredEmbeddings(ctx, source.ID)
	return err
}

var (
	fluffCSSRe        = regexp.MustCompile(`(?s)\{[^}]*\}`)
	fluffCoordRe      = regexp.MustCompile(`\d{1,3}°\d{1,2}['′]\d{0,2}["″]?[NSEW]`)
	fluffEncyclopedia = regexp.MustCompile(`(?i)from [^,]+, the free encyclopedia`)
)

// diveSnippet fetches the target page and returns its lead paragraph after
// fluff-stripping, truncated to 200 characters. On fetch failure it returns
// the pre-existing snippet unchanged.
func (ix *Indexer) diveSnippet(ctx context.Context, r store.DiscoveredRow) string {
	body, err := ix.fetcher.Get(ctx, r.ToURL)
	if err != nil {
		return r.Snippet
	}
	parsed, err := fetch.ParsePage(body)
	if err != nil {
		return r.Snippet
	}

	lead := fluffCSSRe.ReplaceAllString(parsed.Content, "")
	lead = fluffCoordRe.ReplaceAllString(lead, "")
	lead = fluffEncyclopedia.ReplaceAllString(lead, "")
	lead = strings.TrimSpace(lead)

	if len(lead) > 200 {
		lead = lead[:200]
	}
	if lead == "" {
		return r.Snippet
	}
	return lead
}
