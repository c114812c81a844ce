package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// toggleScript applies Next to one reactor's field and aggregates the hash.
// KEYS[1] votes hash, ARGV[1] reactor id, ARGV[2] requested kind.
var toggleScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], ARGV[1])
if current == ARGV[2] then
  redis.call('HDEL', KEYS[1], ARGV[1])
else
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
end
local likes, dislikes = 0, 0
for _, v in ipairs(redis.call('HVALS', KEYS[1])) do
  if v == 'like' then
    likes = likes + 1
  elseif v == 'dislike' then
    dislikes = dislikes + 1
  end
end
return {likes, dislikes}
`)

// ExistsFunc reports whether commentID is a stored comment.
type ExistsFunc func(ctx context.Context, commentID string) (bool, error)

// ErrUnknownComment is returned when a vote targets a comment the store
// does not hold.
var ErrUnknownComment = errors.New("comment not found")

// RedisBackend keeps one hash per comment mapping reactor id to kind.
// Comment existence is checked against the comment store before and after
// each vote.
type RedisBackend struct {
	client *redis.Client
	prefix string
	exists ExistsFunc
}

// NewRedisBackend connects to redisURL and verifies the connection.
func NewRedisBackend(redisURL string, exists ExistsFunc) (*RedisBackend, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisBackendWithClient(client, exists), nil
}

func NewRedisBackendWithClient(client *redis.Client, exists ExistsFunc) *RedisBackend {
	return &RedisBackend{
		client: client,
		prefix: "zackhub:votes:",
		exists: exists,
	}
}

func (b *RedisBackend) key(commentID string) string {
	return b.prefix + commentID
}

func (b *RedisBackend) ApplyVote(ctx context.Context, commentID, reactorID string, kind Kind) (Counts, error) {
	if b.exists != nil {
		found, err := b.exists(ctx, commentID)
		if err != nil {
			return Counts{}, err
		}
		if !found {
			return Counts{}, fmt.Errorf("comment %s: %w", commentID, ErrUnknownComment)
		}
	}
	totals, err := toggleScript.Run(ctx, b.client, []string{b.key(commentID)}, reactorID, string(kind)).Int64Slice()
	if err != nil {
		return Counts{}, fmt.Errorf("toggle vote: %w", err)
	}
	if len(totals) != 2 {
		return Counts{}, fmt.Errorf("toggle vote: unexpected reply %v", totals)
	}

	// A delete between the check and the script has already forgotten this
	// hash, so drop what the script wrote.
	if b.exists != nil {
		if found, err := b.exists(ctx, commentID); err == nil && !found {
			if err := b.client.Del(ctx, b.key(commentID)).Err(); err != nil {
				return Counts{}, fmt.Errorf("drop votes for deleted comment: %w", err)
			}
			return Counts{}, fmt.Errorf("comment %s: %w", commentID, ErrUnknownComment)
		}
	}
	return Counts{Likes: int(totals[0]), Dislikes: int(totals[1])}, nil
}

func (b *RedisBackend) CountsFor(ctx context.Context, commentIDs []string) (map[string]Counts, error) {
	pipe := b.client.Pipeline()
	cmds := make([]*redis.StringSliceCmd, len(commentIDs))
	for i, id := range commentIDs {
		cmds[i] = pipe.HVals(ctx, b.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("load vote totals: %w", err)
	}

	out := make(map[string]Counts, len(commentIDs))
	for i, id := range commentIDs {
		var counts Counts
		for _, v := range cmds[i].Val() {
			counts.Add(Kind(v))
		}
		out[id] = counts
	}
	return out, nil
}

func (b *RedisBackend) StatesFor(ctx context.Context, reactorID string, commentIDs []string) (map[string]Kind, error) {
	pipe := b.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(commentIDs))
	for i, id := range commentIDs {
		cmds[i] = pipe.HGet(ctx, b.key(id), reactorID)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load reactor votes: %w", err)
	}

	out := make(map[string]Kind)
	for i, id := range commentIDs {
		v, err := cmds[i].Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load reactor vote: %w", err)
		}
		out[id] = Kind(v)
	}
	return out, nil
}

func (b *RedisBackend) ForgetVotes(ctx context.Context, commentIDs []string) error {
	keys := make([]string, len(commentIDs))
	for i, id := range commentIDs {
		keys[i] = b.key(id)
	}
	if err := b.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("forget votes: %w", err)
	}
	return nil
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
