package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/corpusgraph/weaver/internal/model"
)

// PostgresGateway is the only implementation of Gateway: a thin,
// hand-written SQL layer over database/sql, using lib/pq as the driver and
// pgvector-go to carry the vector columns.
type PostgresGateway struct {
	db *sql.DB
}

func NewPostgresGateway(db *sql.DB) *PostgresGateway {
	return &PostgresGateway{db: db}
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 23503 = foreign_key_violation in Postgres
		return pqErr.Code == "23503"
	}
	return false
}

func scanJob(row *sql.Row) (*model.CrawlJob, error) {
	j := &model.CrawlJob{}
	var explicitURLs pq.StringArray
	var errMsg sql.NullString
	var totalPages sql.NullInt64
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&j.ID, &j.SourceID, &j.Status, &explicitURLs,
		&j.IndexedCount, &j.DiscoveredCount, &totalPages,
		&j.EncodingChunksTotal, &j.EncodingChunksDone,
		&j.EncodingDiscoveredTotal, &j.EncodingDiscoveredDone,
		&startedAt, &completedAt, &j.LastActivityAt, &errMsg,
	)
	if err != nil {
		return nil, err
	}
	j.ExplicitURLs = []string(explicitURLs)
	j.Error = errMsg.String
	if totalPages.Valid {
		v := int(totalPages.Int64)
		j.TotalPages = &v
	}
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return j, nil
}

const jobColumns = `id, source_id, status, explicit_urls, indexed_count, discovered_count,
	total_pages, encoding_chunks_total, encoding_chunks_done,
	encoding_discovered_total, encoding_discovered_done,
	started_at, completed_at, last_activity_at, error`

func (g *PostgresGateway) GetJob(ctx context.Context, id string) (*model.CrawlJob, error) {
	row := g.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM crawl_jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

func (g *PostgresGateway) CreateJob(ctx context.Context, sourceID string, explicitURLs []string) (*model.CrawlJob, error) {
	var arr pq.StringArray
	if len(explicitURLs) > 0 {
		arr = pq.StringArray(explicitURLs)
	}
	row := g.db.QueryRowContext(ctx, `
		INSERT INTO crawl_jobs (source_id, explicit_urls, status)
		VALUES ($1, $2, 'queued')
		RETURNING `+jobColumns, sourceID, arr)
	j, err := scanJob(row)
	if isForeignKeyViolation(err) {
		return nil, ErrParentDeleted
	}
	return j, err
}

func (g *PostgresGateway) ReclaimStaleJobs(ctx context.Context, staleAfter time.Duration) (int64, error) {
	cutoff := time.Now().Add(-staleAfter)
	res, err := g.db.ExecContext(ctx, `
		UPDATE crawl_jobs SET status = 'queued', updated_at = now()
		WHERE status = 'running' AND last_activity_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (g *PostgresGateway) ClaimNextJob(ctx context.Context) (*model.CrawlJob, error) {
	if _, err := g.ReclaimStaleJobs(ctx, 5*time.Minute); err != nil {
		return nil, err
	}

	var id string
	err := g.db.QueryRowContext(ctx, `
		SELECT id FROM crawl_jobs WHERE status = 'queued'
		ORDER BY created_at ASC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoJobAvailable
	}
	if err != nil {
		return nil, err
	}

	res, err := g.db.ExecContext(ctx, `
		UPDATE crawl_jobs
		SET status = 'running', last_activity_at = now(), updated_at = now(),
		    started_at = COALESCE(started_at, now())
		WHERE id = $1 AND status = 'queued'`, id)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Another worker won the race.
		return nil, ErrNoJobAvailable
	}

	return g.GetJob(ctx, id)
}

func (g *PostgresGateway) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, errMsg string) error {
	var completedAtClause string
	if status == model.JobCompleted || status == model.JobFailed || status == model.JobCancelled {
		completedAtClause = `, completed_at = now()`
	}
	query := `UPDATE crawl_jobs SET status = $1, error = NULLIF($2, ''), last_activity_at = now(), updated_at = now()` +
		completedAtClause + ` WHERE id = $3`
	_, err := g.db.ExecContext(ctx, query, status, errMsg, jobID)
	return err
}

func (g *PostgresGateway) UpdateJobCounters(ctx context.Context, jobID string, indexedCount, discoveredCount int) error {
	_, err := g.db.ExecContext(ctx, `
		UPDATE crawl_jobs SET indexed_count = $1, discovered_count = $2,
		    last_activity_at = now(), updated_at = now()
		WHERE id = $3`, indexedCount, discoveredCount, jobID)
	return err
}

func (g *PostgresGateway) UpdateJobEncodingChunks(ctx context.Context, jobID string, total, done int) error {
	_, err := g.db.ExecContext(ctx, `
		UPDATE crawl_jobs SET encoding_chunks_total = $1, encoding_chunks_done = $2,
		    last_activity_at = now(), updated_at = now()
		WHERE id = $3`, total, done, jobID)
	return err
}

func (g *PostgresGateway) UpdateJobEncodingDiscovered(ctx context.Context, jobID string, total, done int) error {
	_, err := g.db.ExecContext(ctx, `
		UPDATE crawl_jobs SET encoding_discovered_total = $1, encoding_discovered_done = $2,
		    last_activity_at = now(), updated_at = now()
		WHERE id = $3`, total, done, jobID)
	return err
}

func (g *PostgresGateway) GetSource(ctx context.Context, id string) (*model.Source, error) {
	s := &model.Source{}
	err := g.db.QueryRowContext(ctx, `
		SELECT id, owner, conversation, initial_url, depth, same_domain_only, suggestion_mode,
		       label, created_at, updated_at
		FROM sources WHERE id = $1 AND deleted_at IS NULL`, id).Scan(
		&s.ID, &s.Owner, &s.Conversation, &s.InitialURL, &s.Depth, &s.SameDomainOnly,
		&s.SuggestionMode, &s.Label, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

func (g *PostgresGateway) UpdateSourceLabel(ctx context.Context, id, label string) error {
	if len(label) > 100 {
		label = label[:100]
	}
	_, err := g.db.ExecContext(ctx, `UPDATE sources SET label = $1, updated_at = now() WHERE id = $2`, label, id)
	return err
}

func (g *PostgresGateway) DeleteSourceData(ctx context.Context, sourceID string) error {
	// Cascades to page_edges, encoded_discovered, and chunks.
	_, err := g.db.ExecContext(ctx, `DELETE FROM pages WHERE source_id = $1`, sourceID)
	return err
}

func (g *PostgresGateway) UpsertPage(ctx context.Context, page *model.Page) (*model.Page, bool, error) {
	row := g.db.QueryRowContext(ctx, `
		INSERT INTO pages (source_id, url, title, path, content, status, owner)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_id, url) DO NOTHING
		RETURNING id, source_id, url, title, path, content, status, owner`,
		page.SourceID, page.URL, page.Title, page.Path, page.Content, page.Status, page.Owner)

	got := &model.Page{}
	err := row.Scan(&got.ID, &got.SourceID, &got.URL, &got.Title, &got.Path, &got.Content, &got.Status, &got.Owner)
	if err == nil {
		return got, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		if isForeignKeyViolation(err) {
			return nil, false, ErrParentDeleted
		}
		return nil, false, err
	}

	// Conflict: the page already exists, adopt the existing row.
	existing := &model.Page{}
	err = g.db.QueryRowContext(ctx, `
		SELECT id, source_id, url, title, path, content, status, owner
		FROM pages WHERE source_id = $1 AND url = $2`, page.SourceID, page.URL).Scan(
		&existing.ID, &existing.SourceID, &existing.URL, &existing.Title, &existing.Path,
		&existing.Content, &existing.Status, &existing.Owner)
	return existing, false, err
}

func (g *PostgresGateway) UpdatePageStatus(ctx context.Context, pageID string, status model.PageStatus) error {
	_, err := g.db.ExecContext(ctx, `UPDATE pages SET status = $1, updated_at = now() WHERE id = $2`, status, pageID)
	return err
}

func (g *PostgresGateway) UpdatePageContent(ctx context.Context, pageID, content string) error {
	if len(content) > model.MaxContentChars {
		content = content[:model.MaxContentChars]
	}
	_, err := g.db.ExecContext(ctx, `UPDATE pages SET content = $1, updated_at = now() WHERE id = $2`, content, pageID)
	return err
}

func (g *PostgresGateway) GetPage(ctx context.Context, id string) (*model.Page, error) {
	p := &model.Page{}
	err := g.db.QueryRowContext(ctx, `
		SELECT id, source_id, url, title, path, content, status, owner FROM pages WHERE id = $1`, id).Scan(
		&p.ID, &p.SourceID, &p.URL, &p.Title, &p.Path, &p.Content, &p.Status, &p.Owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// UpsertEdges inserts edges in batches of 50, with a small pause between
// batches, treating duplicate rows as success. It returns every edge with
// its store id populated, whether freshly inserted or already present.
func (g *PostgresGateway) UpsertEdges(ctx context.Context, edges []model.PageEdge) ([]model.PageEdge, error) {
	const batchSize = 50
	out := make([]model.PageEdge, 0, len(edges))
	for start := 0; start < len(edges); start += batchSize {
		end := start + batchSize
		if end > len(edges) {
			end = len(edges)
		}
		batchOut, err := g.upsertEdgeBatch(ctx, edges[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batchOut...)
		if end < len(edges) {
			time.Sleep(50 * time.Millisecond)
		}
	}
	return out, nil
}

func (g *PostgresGateway) upsertEdgeBatch(ctx context.Context, batch []model.PageEdge) ([]model.PageEdge, error) {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// ON CONFLICT ... DO UPDATE (a no-op write) so RETURNING yields a row
	// even when the edge already existed.
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO page_edges (from_page, to_url, owner)
		VALUES ($1, $2, $3)
		ON CONFLICT (from_page, to_url) DO UPDATE SET to_url = EXCLUDED.to_url
		RETURNING id`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	out := make([]model.PageEdge, 0, len(batch))
	for _, e := range batch {
		if err := stmt.QueryRowContext(ctx, e.FromPage, e.ToURL, e.Owner).Scan(&e.ID); err != nil {
			if isForeignKeyViolation(err) {
				return nil, ErrParentDeleted
			}
			return nil, err
		}
		out = append(out, e)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (g *PostgresGateway) UpsertEncodedDiscovered(ctx context.Context, rows []model.EncodedDiscovered) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO encoded_discovered (page_edge, anchor_text, snippet)
		VALUES ($1, $2, $3)
		ON CONFLICT (page_edge) DO NOTHING`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.PageEdge, sql.NullString{String: r.AnchorText, Valid: r.AnchorText != ""}, r.Snippet); err != nil {
			if isForeignKeyViolation(err) {
				return ErrParentDeleted
			}
			return err
		}
	}
	return tx.Commit()
}

func (g *PostgresGateway) CountPendingDiscovered(ctx context.Context, sourceID string) (int, error) {
	var count int
	err := g.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM encoded_discovered ed
		JOIN page_edges pe ON pe.id = ed.page_edge
		JOIN pages p ON p.id = pe.from_page
		WHERE p.source_id = $1 AND ed.embedding IS NULL`, sourceID).Scan(&count)
	return count, err
}

func (g *PostgresGateway) ListPendingDiscovered(ctx context.Context, sourceID string) ([]DiscoveredRow, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT ed.id, ed.page_edge, pe.to_url, COALESCE(ed.anchor_text, ''), ed.snippet
		FROM encoded_discovered ed
		JOIN page_edges pe ON pe.id = ed.page_edge
		JOIN pages p ON p.id = pe.from_page
		WHERE p.source_id = $1 AND ed.embedding IS NULL`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DiscoveredRow
	for rows.Next() {
		var d DiscoveredRow
		if err := rows.Scan(&d.ID, &d.PageEdgeID, &d.ToURL, &d.AnchorText, &d.Snippet); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (g *PostgresGateway) ListPendingDiscoveredForPage(ctx context.Context, pageID string) ([]DiscoveredRow, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT ed.id, ed.page_edge, pe.to_url, COALESCE(ed.anchor_text, ''), ed.snippet
		FROM encoded_discovered ed
		JOIN page_edges pe ON pe.id = ed.page_edge
		WHERE pe.from_page = $1 AND ed.embedding IS NULL`, pageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DiscoveredRow
	for rows.Next() {
		var d DiscoveredRow
		if err := rows.Scan(&d.ID, &d.PageEdgeID, &d.ToURL, &d.AnchorText, &d.Snippet); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (g *PostgresGateway) UpdateDiscoveredSnippet(ctx context.Context, id, snippet string) error {
	_, err := g.db.ExecContext(ctx, `UPDATE encoded_discovered SET snippet = $1, updated_at = now() WHERE id = $2`, snippet, id)
	return err
}

func (g *PostgresGateway) UpdateDiscoveredEmbedding(ctx context.Context, id string, embedding []float32) error {
	_, err := g.db.ExecContext(ctx, `
		UPDATE encoded_discovered SET embedding = $1, updated_at = now() WHERE id = $2`,
		pgvector.NewVector(embedding), id)
	return err
}

func (g *PostgresGateway) ClearMatchedDiscoveredEmbeddings(ctx context.Context, sourceID string) (int64, error) {
	res, err := g.db.ExecContext(ctx, `
		UPDATE encoded_discovered ed SET embedding = NULL, updated_at = now()
		FROM page_edges pe, pages frm
		WHERE ed.page_edge = pe.id
		  AND pe.from_page = frm.id
		  AND frm.source_id = $1
		  AND ed.embedding IS NOT NULL
		  AND EXISTS (
		      SELECT 1 FROM pages tgt
		      WHERE tgt.source_id = $1 AND tgt.url = pe.to_url AND tgt.status = 'indexed'
		  )`, sourceID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (g *PostgresGateway) InsertChunks(ctx context.Context, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (page_id, content, start_index, end_index, embedding, owner)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		var start, end sql.NullInt32
		if c.StartIndex != nil {
			start = sql.NullInt32{Int32: int32(*c.StartIndex), Valid: true}
		}
		if c.EndIndex != nil {
			end = sql.NullInt32{Int32: int32(*c.EndIndex), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, c.PageID, c.Content, start, end, pgvector.NewVector(c.Embedding), c.Owner); err != nil {
			if isForeignKeyViolation(err) {
				return ErrParentDeleted
			}
			return fmt.Errorf("insert chunk: %w", err)
		}
	}
	return tx.Commit()
}
