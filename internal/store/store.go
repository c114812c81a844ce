package store

import (
	"context"
	"time"

	"zackhub/api/internal/ledger"
)

// Store is the full persistence surface shared by every backend.
type Store interface {
	ledger.Backend

	InsertComment(ctx context.Context, c Comment) (Comment, error)
	GetComment(ctx context.Context, id string) (Comment, error)
	ListCommentsBySubject(ctx context.Context, subjectID string, limit int) ([]Comment, error)
	DeleteComment(ctx context.Context, id string) error
	ListCommentsBefore(ctx context.Context, cutoff time.Time, limit int) ([]Comment, error)
	DeleteComments(ctx context.Context, ids []string) (int, error)
	RegisterHandle(ctx context.Context, name string) (Handle, error)
	HandleExists(ctx context.Context, name string) (bool, error)
	Ping(ctx context.Context) error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MongoStore)(nil)
)
