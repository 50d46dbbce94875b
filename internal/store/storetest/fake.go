// Package storetest provides an in-memory store.Gateway for tests that
// exercise the crawl engine, indexer, and scheduler without a database.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/corpusgraph/weaver/internal/model"
	"github.com/corpusgraph/weaver/internal/store"
)

// Fake is a single-process, mutex-guarded store.Gateway. It is not meant to
// model concurrent-claim races precisely; ClaimNextJob takes the mutex for
// its whole check-and-set, which is sufficient for the scheduler's own
// tests (it exercises the happy path and the "no job" path, not contention).
type Fake struct {
	mu sync.Mutex

	seq int

	sources map[string]*model.Source
	jobs    map[string]*model.CrawlJob
	pages   map[string]*model.Page
	edges   map[string]model.PageEdge
	disc    map[string]model.EncodedDiscovered
	chunks  []model.Chunk

	pageByKey map[[2]string]string // (sourceID, url) -> page id
	edgeByKey map[[2]string]string // (fromPage, toURL) -> edge id
}

func New() *Fake {
	return &Fake{
		sources:   make(map[string]*model.Source),
		jobs:      make(map[string]*model.CrawlJob),
		pages:     make(map[string]*model.Page),
		edges:     make(map[string]model.PageEdge),
		disc:      make(map[string]model.EncodedDiscovered),
		pageByKey: make(map[[2]string]string),
		edgeByKey: make(map[[2]string]string),
	}
}

func (f *Fake) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

// PutSource seeds a source for a test to reference by id.
func (f *Fake) PutSource(s *model.Source) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == "" {
		s.ID = f.nextID("src")
	}
	f.sources[s.ID] = s
}

// PutJob seeds a job directly, bypassing CreateJob/ClaimNextJob.
func (f *Fake) PutJob(j *model.CrawlJob) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j.ID == "" {
		j.ID = f.nextID("job")
	}
	f.jobs[j.ID] = j
}

func (f *Fake) GetJob(ctx context.Context, id string) (*model.CrawlJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (f *Fake) CreateJob(ctx context.Context, sourceID string, explicitURLs []string) (*model.CrawlJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sources[sourceID]; !ok {
		return nil, store.ErrParentDeleted
	}
	j := &model.CrawlJob{
		ID:             f.nextID("job"),
		SourceID:       sourceID,
		Status:         model.JobQueued,
		ExplicitURLs:   explicitURLs,
		LastActivityAt: time.Now(),
	}
	f.jobs[j.ID] = j
	cp := *j
	return &cp, nil
}

func (f *Fake) ReclaimStaleJobs(ctx context.Context, staleAfter time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	cutoff := time.Now().Add(-staleAfter)
	for _, j := range f.jobs {
		if j.Status == model.JobRunning && j.LastActivityAt.Before(cutoff) {
			j.Status = model.JobQueued
			n++
		}
	}
	return n, nil
}

func (f *Fake) ClaimNextJob(ctx context.Context) (*model.CrawlJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var ids []string
	for id, j := range f.jobs {
		if j.Status == model.JobQueued {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, store.ErrNoJobAvailable
	}
	sort.Strings(ids) // deterministic "oldest" stand-in; lexicographic, so "job-10" sorts before "job-2"

	j := f.jobs[ids[0]]
	j.Status = model.JobRunning
	j.LastActivityAt = time.Now()
	cp := *j
	return &cp, nil
}

func (f *Fake) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	j.Status = status
	j.Error = errMsg
	j.LastActivityAt = time.Now()
	now := time.Now()
	if status == model.JobCompleted || status == model.JobFailed || status == model.JobCancelled {
		j.CompletedAt = &now
	}
	return nil
}

func (f *Fake) UpdateJobCounters(ctx context.Context, jobID string, indexedCount, discoveredCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	j.IndexedCount = indexedCount
	j.DiscoveredCount = discoveredCount
	j.LastActivityAt = time.Now()
	return nil
}

func (f *Fake) UpdateJobEncodingChunks(ctx context.Context, jobID string, total, done int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	j.EncodingChunksTotal = total
	j.EncodingChunksDone = done
	return nil
}

func (f *Fake) UpdateJobEncodingDiscovered(ctx context.Context, jobID string, total, done int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	j.EncodingDiscoveredTotal = total
	j.EncodingDiscoveredDone = done
	return nil
}

func (f *Fake) GetSource(ctx context.Context, id string) (*model.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sources[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *Fake) UpdateSourceLabel(ctx context.Context, id, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sources[id]
	if !ok {
		return store.ErrNotFound
	}
	s.Label = label
	return nil
}

func (f *Fake) DeleteSourceData(ctx context.Context, sourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sources, sourceID)
	for id, p := range f.pages {
		if p.SourceID == sourceID {
			delete(f.pages, id)
		}
	}
	return nil
}

func (f *Fake) UpsertPage(ctx context.Context, page *model.Page) (*model.Page, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sources[page.SourceID]; !ok {
		return nil, false, store.ErrParentDeleted
	}
	key := [2]string{page.SourceID, page.URL}
	if id, ok := f.pageByKey[key]; ok {
		existing := f.pages[id]
		cp := *existing
		return &cp, false, nil
	}
	p := *page
	p.ID = f.nextID("page")
	f.pages[p.ID] = &p
	f.pageByKey[key] = p.ID
	cp := p
	return &cp, true, nil
}

func (f *Fake) UpdatePageStatus(ctx context.Context, pageID string, status model.PageStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[pageID]
	if !ok {
		return store.ErrNotFound
	}
	p.Status = status
	return nil
}

func (f *Fake) UpdatePageContent(ctx context.Context, pageID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[pageID]
	if !ok {
		return store.ErrNotFound
	}
	p.Content = content
	return nil
}

func (f *Fake) GetPage(ctx context.Context, id string) (*model.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *Fake) UpsertEdges(ctx context.Context, edges []model.PageEdge) ([]model.PageEdge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.PageEdge, 0, len(edges))
	for _, e := range edges {
		key := [2]string{e.FromPage, e.ToURL}
		if id, ok := f.edgeByKey[key]; ok {
			e.ID = id
		} else {
			e.ID = f.nextID("edge")
			f.edgeByKey[key] = e.ID
		}
		f.edges[e.ID] = e
		out = append(out, e)
	}
	return out, nil
}

func (f *Fake) UpsertEncodedDiscovered(ctx context.Context, rows []model.EncodedDiscovered) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range rows {
		exists := false
		for _, existing := range f.disc {
			if existing.PageEdge == r.PageEdge {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		r.ID = f.nextID("disc")
		f.disc[r.ID] = r
	}
	return nil
}

func (f *Fake) CountPendingDiscovered(ctx context.Context, sourceID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.disc {
		p, ok := f.pages[f.edges[r.PageEdge].FromPage]
		if ok && p.SourceID == sourceID && r.Embedding == nil {
			n++
		}
	}
	return n, nil
}

func (f *Fake) ListPendingDiscovered(ctx context.Context, sourceID string) ([]store.DiscoveredRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.DiscoveredRow
	for _, r := range f.disc {
		p, ok := f.pages[f.edges[r.PageEdge].FromPage]
		if !ok || p.SourceID != sourceID || r.Embedding != nil {
			continue
		}
		out = append(out, f.discoveredRow(r))
	}
	return out, nil
}

func (f *Fake) ListPendingDiscoveredForPage(ctx context.Context, pageID string) ([]store.DiscoveredRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.DiscoveredRow
	for _, r := range f.disc {
		if r.Embedding != nil {
			continue
		}
		edge, ok := f.edges[r.PageEdge]
		if !ok || edge.FromPage != pageID {
			continue
		}
		out = append(out, f.discoveredRow(r))
	}
	return out, nil
}

func (f *Fake) discoveredRow(r model.EncodedDiscovered) store.DiscoveredRow {
	edge := f.edges[r.PageEdge]
	return store.DiscoveredRow{
		ID:         r.ID,
		PageEdgeID: r.PageEdge,
		ToURL:      edge.ToURL,
		AnchorText: r.AnchorText,
		Snippet:    r.Snippet,
	}
}

func (f *Fake) UpdateDiscoveredSnippet(ctx context.Context, id, snippet string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.disc[id]
	if !ok {
		return store.ErrNotFound
	}
	r.Snippet = snippet
	f.disc[id] = r
	return nil
}

func (f *Fake) UpdateDiscoveredEmbedding(ctx context.Context, id string, embedding []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.disc[id]
	if !ok {
		return store.ErrNotFound
	}
	r.Embedding = embedding
	f.disc[id] = r
	return nil
}

func (f *Fake) ClearMatchedDiscoveredEmbeddings(ctx context.Context, sourceID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	indexedURLs := make(map[string]bool)
	for _, p := range f.pages {
		if p.SourceID == sourceID {
			indexedURLs[p.URL] = true
		}
	}
	var n int64
	for id, r := range f.disc {
		edge, ok := f.edges[r.PageEdge]
		if !ok || !indexedURLs[edge.ToURL] {
			continue
		}
		if r.Embedding != nil {
			r.Embedding = nil
			f.disc[id] = r
			n++
		}
	}
	return n, nil
}

func (f *Fake) InsertChunks(ctx context.Context, chunks []model.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range chunks {
		c.ID = f.nextID("chunk")
		f.chunks = append(f.chunks, c)
	}
	return nil
}

// Chunks returns every chunk inserted so far, for test assertions.
func (f *Fake) Chunks() []model.Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Chunk, len(f.chunks))
	copy(out, f.chunks)
	return out
}

var _ store.Gateway = (*Fake)(nil)
