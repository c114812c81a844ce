package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"zackhub/api/internal/ledger"
)

type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const commentColumns = `id, subject_id, author_name, body, COALESCE(parent_id, ''), is_author_reply, created_at`

func scanComment(row interface{ Scan(...any) error }) (Comment, error) {
	var c Comment
	if err := row.Scan(&c.ID, &c.SubjectID, &c.AuthorName, &c.Body, &c.ParentID, &c.IsAuthorReply, &c.CreatedAt); err != nil {
		return Comment{}, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

// InsertComment writes c when it is a root or its parent exists on the same
// subject. The parent check and the insert are one statement.
func (s *PostgresStore) InsertComment(ctx context.Context, c Comment) (Comment, error) {
	c, err := prepareInsert(c, s.now())
	if err != nil {
		return Comment{}, err
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, subject_id, author_name, body, parent_id, is_author_reply, created_at)
		SELECT $1, $2, $3, $4, NULLIF($5::text, ''), $6, $7
		WHERE $5::text = '' OR EXISTS (
			SELECT 1 FROM comments WHERE id = $5::text AND subject_id = $2
		)
	`, c.ID, c.SubjectID, c.AuthorName, c.Body, c.ParentID, c.IsAuthorReply, c.CreatedAt)
	if err != nil {
		return Comment{}, unavailable(fmt.Errorf("insert comment: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment rows: %w", err)
	}
	if affected == 0 {
		return Comment{}, fmt.Errorf("parent comment %s: %w", c.ParentID, ErrNotFound)
	}
	return c, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, id string) (Comment, error) {
	c, err := scanComment(s.db.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Comment{}, fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Comment{}, unavailable(fmt.Errorf("get comment: %w", err))
	}
	return c, nil
}

func (s *PostgresStore) ListCommentsBySubject(ctx context.Context, subjectID string, limit int) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments
		WHERE subject_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT NULLIF($2::int, 0)
	`, subjectID, limit)
	if err != nil {
		return nil, unavailable(fmt.Errorf("list comments: %w", err))
	}
	return collectComments(rows, "list comments")
}

func (s *PostgresStore) DeleteComment(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id = $1`, id)
	if err != nil {
		return unavailable(fmt.Errorf("delete comment: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete comment rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListCommentsBefore(ctx context.Context, cutoff time.Time, limit int) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments
		WHERE created_at < $1
		ORDER BY created_at ASC, id ASC
		LIMIT NULLIF($2::int, 0)
	`, cutoff, limit)
	if err != nil {
		return nil, unavailable(fmt.Errorf("list expired comments: %w", err))
	}
	return collectComments(rows, "list expired comments")
}

func (s *PostgresStore) DeleteComments(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, unavailable(fmt.Errorf("delete comments: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete comments rows: %w", err)
	}
	return int(affected), nil
}

func collectComments(rows *sql.Rows, op string) ([]Comment, error) {
	defer rows.Close()
	items := make([]Comment, 0)
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(fmt.Errorf("%s rows: %w", op, err))
	}
	return items, nil
}

// ApplyVote runs the toggle in one transaction. The advisory lock serializes
// requests for the same (comment, reactor) pair, including the first vote
// when no row exists yet to lock.
func (s *PostgresStore) ApplyVote(ctx context.Context, commentID, reactorID string, kind ledger.Kind) (ledger.Counts, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Counts{}, unavailable(fmt.Errorf("begin vote tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM comments WHERE id = $1 FOR SHARE`, commentID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Counts{}, fmt.Errorf("comment %s: %w", commentID, ErrNotFound)
	}
	if err != nil {
		return ledger.Counts{}, unavailable(fmt.Errorf("lock comment: %w", err))
	}

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, commentID+"|"+reactorID); err != nil {
		return ledger.Counts{}, unavailable(fmt.Errorf("lock vote: %w", err))
	}

	var current string
	err = tx.QueryRowContext(ctx, `
		SELECT kind FROM comment_votes WHERE comment_id = $1 AND reactor_id = $2
	`, commentID, reactorID).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return ledger.Counts{}, unavailable(fmt.Errorf("lookup vote: %w", err))
	}

	next := ledger.Next(ledger.Kind(current), kind)
	if next == ledger.None {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM comment_votes WHERE comment_id = $1 AND reactor_id = $2
		`, commentID, reactorID); err != nil {
			return ledger.Counts{}, unavailable(fmt.Errorf("delete vote: %w", err))
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO comment_votes (comment_id, reactor_id, kind)
			VALUES ($1, $2, $3)
			ON CONFLICT (comment_id, reactor_id)
			DO UPDATE SET kind = EXCLUDED.kind, updated_at = NOW()
		`, commentID, reactorID, string(next)); err != nil {
			return ledger.Counts{}, unavailable(fmt.Errorf("upsert vote: %w", err))
		}
	}

	var counts ledger.Counts
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE kind = 'like'), COUNT(*) FILTER (WHERE kind = 'dislike')
		FROM comment_votes
		WHERE comment_id = $1
	`, commentID).Scan(&counts.Likes, &counts.Dislikes); err != nil {
		return ledger.Counts{}, unavailable(fmt.Errorf("count votes: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return ledger.Counts{}, unavailable(fmt.Errorf("commit vote: %w", err))
	}
	return counts, nil
}

func (s *PostgresStore) CountsFor(ctx context.Context, commentIDs []string) (map[string]ledger.Counts, error) {
	out := make(map[string]ledger.Counts, len(commentIDs))
	for _, id := range commentIDs {
		out[id] = ledger.Counts{}
	}
	if len(commentIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT comment_id,
			COUNT(*) FILTER (WHERE kind = 'like'),
			COUNT(*) FILTER (WHERE kind = 'dislike')
		FROM comment_votes
		WHERE comment_id = ANY($1)
		GROUP BY comment_id
	`, commentIDs)
	if err != nil {
		return nil, unavailable(fmt.Errorf("list vote totals: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var counts ledger.Counts
		if err := rows.Scan(&id, &counts.Likes, &counts.Dislikes); err != nil {
			return nil, fmt.Errorf("scan vote totals: %w", err)
		}
		out[id] = counts
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(fmt.Errorf("list vote totals rows: %w", err))
	}
	return out, nil
}

func (s *PostgresStore) StatesFor(ctx context.Context, reactorID string, commentIDs []string) (map[string]ledger.Kind, error) {
	out := make(map[string]ledger.Kind)
	if len(commentIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT comment_id, kind
		FROM comment_votes
		WHERE reactor_id = $1 AND comment_id = ANY($2)
	`, reactorID, commentIDs)
	if err != nil {
		return nil, unavailable(fmt.Errorf("list reactor votes: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
		var id, kind string
		if err := rows.Scan(&id, &kind); err != nil {
			return nil, fmt.Errorf("scan reactor vote: %w", err)
		}
		out[id] = ledger.Kind(kind)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(fmt.Errorf("list reactor votes rows: %w", err))
	}
	return out, nil
}

// ForgetVotes clears votes explicitly. Deleted comments already lose theirs
// through ON DELETE CASCADE.
func (s *PostgresStore) ForgetVotes(ctx context.Context, commentIDs []string) error {
	if len(commentIDs) == 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM comment_votes WHERE comment_id = ANY($1)`, commentIDs); err != nil {
		return unavailable(fmt.Errorf("forget votes: %w", err))
	}
	return nil
}

func (s *PostgresStore) RegisterHandle(ctx context.Context, name string) (Handle, error) {
	name, err := NormalizeHandle(name)
	if err != nil {
		return Handle{}, err
	}
	h := Handle{Name: name}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO handles (name) VALUES ($1)
		ON CONFLICT (name) DO NOTHING
		RETURNING created_at
	`, name).Scan(&h.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Handle{}, fmt.Errorf("handle %s: %w", name, ErrConflict)
	}
	if err != nil {
		return Handle{}, unavailable(fmt.Errorf("register handle: %w", err))
	}
	h.CreatedAt = h.CreatedAt.UTC()
	return h, nil
}

func (s *PostgresStore) HandleExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM handles WHERE name = $1)`, name).Scan(&exists); err != nil {
		return false, unavailable(fmt.Errorf("check handle: %w", err))
	}
	return exists, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return unavailable(s.db.PingContext(ctx))
}
