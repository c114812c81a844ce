package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PgFTS implements Searcher using the generated tsvector column on comments.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the store is down too.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	q = normalizeQuery(q)

	tsQuery := "plainto_tsquery('simple', $1)"
	where := "c.fts @@ " + tsQuery
	args := []any{q.Text}
	if q.SubjectID != "" {
		where += " AND c.subject_id = $2"
		args = append(args, q.SubjectID)
	}

	dataSQL := fmt.Sprintf(`
		SELECT c.id, c.subject_id, c.author_name,
			ts_headline('simple', c.body, %s, 'StartSel="`+matchStart+`",StopSel="`+matchEnd+`",MaxFragments=1,MaxWords=30') AS snippet,
			c.created_at,
			COUNT(*) OVER () AS total
		FROM comments c
		WHERE %s
		ORDER BY ts_rank(c.fts, %s) DESC, c.created_at DESC
		LIMIT %d OFFSET %d`, tsQuery, where, tsQuery, q.Limit, q.Offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var (
		results []Result
		total   int
	)
	for rows.Next() {
		var (
			r         Result
			createdAt time.Time
		)
		if err := rows.Scan(&r.ID, &r.SubjectID, &r.AuthorName, &r.Snippet, &createdAt, &total); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Snippet = Highlight(r.Snippet)
		r.CreatedAt = createdAt.UTC().Format(time.RFC3339)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadRecords returns every stored comment in index form for a full reindex.
func (p *PgFTS) LoadRecords(ctx context.Context) ([]CommentRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, subject_id, author_name, body, COALESCE(parent_id, ''), is_author_reply, created_at
		FROM comments
	`)
	if err != nil {
		return nil, fmt.Errorf("load comments: %w", err)
	}
	defer rows.Close()

	records := make([]CommentRecord, 0)
	for rows.Next() {
		var (
			r         CommentRecord
			createdAt time.Time
		)
		if err := rows.Scan(&r.ID, &r.SubjectID, &r.AuthorName, &r.Body, &r.ParentID, &r.IsAuthorReply, &createdAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		r.CreatedAt = createdAt.UTC().Format(time.RFC3339)
		r.CreatedAtUnix = createdAt.Unix()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return records, nil
}
