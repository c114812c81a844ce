package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"zackhub/api/internal/ledger"
)

const (
	commentsCollection = "comments"
	votesCollection    = "comment_votes"
	handlesCollection  = "handles"

	maxVoteAttempts = 16
)

// MongoStore keeps comments, votes and handles in three collections.
type MongoStore struct {
	client   *mongo.Client
	comments *mongo.Collection
	votes    *mongo.Collection
	handles  *mongo.Collection
	now      func() time.Time
}

type commentDoc struct {
	ID            string    `bson:"_id"`
	SubjectID     string    `bson:"subjectId"`
	AuthorName    string    `bson:"authorName"`
	Body          string    `bson:"body"`
	ParentID      string    `bson:"parentId,omitempty"`
	IsAuthorReply bool      `bson:"isAuthorReply"`
	CreatedAt     time.Time `bson:"createdAt"`
}

func (d commentDoc) comment() Comment {
	return Comment{
		ID:            d.ID,
		SubjectID:     d.SubjectID,
		AuthorName:    d.AuthorName,
		Body:          d.Body,
		ParentID:      d.ParentID,
		IsAuthorReply: d.IsAuthorReply,
		CreatedAt:     d.CreatedAt.UTC(),
	}
}

type voteDoc struct {
	CommentID string    `bson:"commentId"`
	ReactorID string    `bson:"reactorId"`
	Kind      string    `bson:"kind"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

type handleDoc struct {
	Name      string    `bson:"_id"`
	CreatedAt time.Time `bson:"createdAt"`
}

// OpenMongo connects, pings the primary and returns a store over database.
func OpenMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetMaxPoolSize(10))
	if err != nil {
		return nil, mongoUnavailable(fmt.Errorf("connect mongo: %w", err))
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, mongoUnavailable(fmt.Errorf("ping mongo: %w", err))
	}
	return NewMongoStore(client, database), nil
}

func NewMongoStore(client *mongo.Client, database string) *MongoStore {
	db := client.Database(database)
	return &MongoStore{
		client:   client,
		comments: db.Collection(commentsCollection),
		votes:    db.Collection(votesCollection),
		handles:  db.Collection(handlesCollection),
		now:      time.Now,
	}
}

// EnsureIndexes creates the lookup indexes. A positive expireAfter adds a
// TTL index on createdAt so the server expires old comments itself; zero
// removes any TTL index left by an earlier configuration.
func (s *MongoStore) EnsureIndexes(ctx context.Context, expireAfter time.Duration) error {
	if _, err := s.comments.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "subjectId", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "parentId", Value: 1}}},
	}); err != nil {
		return mongoUnavailable(fmt.Errorf("create comment indexes: %w", err))
	}
	if err := s.ensureExpiry(ctx, expireAfter); err != nil {
		return err
	}
	if _, err := s.votes.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "commentId", Value: 1}, {Key: "reactorId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "reactorId", Value: 1}}},
	}); err != nil {
		return mongoUnavailable(fmt.Errorf("create vote indexes: %w", err))
	}
	return nil
}

// ensureExpiry keeps exactly one createdAt index, carrying a TTL only when
// expireAfter is positive. The sweeper relies on it for its cutoff scan.
func (s *MongoStore) ensureExpiry(ctx context.Context, expireAfter time.Duration) error {
	var want *int32
	if expireAfter > 0 {
		secs := int32(expireAfter / time.Second)
		want = &secs
	}

	specs, err := s.comments.Indexes().ListSpecifications(ctx)
	if err != nil {
		return mongoUnavailable(fmt.Errorf("list comment indexes: %w", err))
	}
	for _, spec := range specs {
		if !isCreatedAtIndex(spec) {
			continue
		}
		if sameExpiry(spec.ExpireAfterSeconds, want) {
			return nil
		}
		if _, err := s.comments.Indexes().DropOne(ctx, spec.Name); err != nil {
			return mongoUnavailable(fmt.Errorf("drop index %s: %w", spec.Name, err))
		}
	}

	opts := options.Index()
	if want != nil {
		opts.SetExpireAfterSeconds(*want)
	}
	if _, err := s.comments.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "createdAt", Value: 1}},
		Options: opts,
	}); err != nil {
		return mongoUnavailable(fmt.Errorf("create createdAt index: %w", err))
	}
	return nil
}

func isCreatedAtIndex(spec *mongo.IndexSpecification) bool {
	elems, err := spec.KeysDocument.Elements()
	return err == nil && len(elems) == 1 && elems[0].Key() == "createdAt"
}

func sameExpiry(have, want *int32) bool {
	if have == nil || want == nil {
		return have == nil && want == nil
	}
	return *have == *want
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) InsertComment(ctx context.Context, c Comment) (Comment, error) {
	c, err := prepareInsert(c, s.now())
	if err != nil {
		return Comment{}, err
	}
	if c.ParentID != "" {
		err := s.comments.FindOne(ctx, bson.M{"_id": c.ParentID, "subjectId": c.SubjectID},
			options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Comment{}, fmt.Errorf("parent comment %s: %w", c.ParentID, ErrNotFound)
		}
		if err != nil {
			return Comment{}, mongoUnavailable(fmt.Errorf("lookup parent: %w", err))
		}
	}
	doc := commentDoc{
		ID:            c.ID,
		SubjectID:     c.SubjectID,
		AuthorName:    c.AuthorName,
		Body:          c.Body,
		ParentID:      c.ParentID,
		IsAuthorReply: c.IsAuthorReply,
		CreatedAt:     c.CreatedAt,
	}
	if _, err := s.comments.InsertOne(ctx, doc); err != nil {
		return Comment{}, mongoUnavailable(fmt.Errorf("insert comment: %w", err))
	}
	return c, nil
}

func (s *MongoStore) GetComment(ctx context.Context, id string) (Comment, error) {
	var doc commentDoc
	err := s.comments.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Comment{}, fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Comment{}, mongoUnavailable(fmt.Errorf("get comment: %w", err))
	}
	return doc.comment(), nil
}

func (s *MongoStore) ListCommentsBySubject(ctx context.Context, subjectID string, limit int) ([]Comment, error) {
	return s.findComments(ctx, "list comments", bson.M{"subjectId": subjectID}, limit)
}

func (s *MongoStore) ListCommentsBefore(ctx context.Context, cutoff time.Time, limit int) ([]Comment, error) {
	return s.findComments(ctx, "list expired comments", bson.M{"createdAt": bson.M{"$lt": cutoff}}, limit)
}

func (s *MongoStore) findComments(ctx context.Context, op string, filter bson.M, limit int) ([]Comment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.comments.Find(ctx, filter, opts)
	if err != nil {
		return nil, mongoUnavailable(fmt.Errorf("%s: %w", op, err))
	}
	var docs []commentDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, mongoUnavailable(fmt.Errorf("%s decode: %w", op, err))
	}
	items := make([]Comment, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.comment())
	}
	return items, nil
}

func (s *MongoStore) DeleteComment(ctx context.Context, id string) error {
	result, err := s.comments.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return mongoUnavailable(fmt.Errorf("delete comment: %w", err))
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	if _, err := s.votes.DeleteMany(ctx, bson.M{"commentId": id}); err != nil {
		return mongoUnavailable(fmt.Errorf("delete comment votes: %w", err))
	}
	return nil
}

func (s *MongoStore) DeleteComments(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := s.comments.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, mongoUnavailable(fmt.Errorf("delete comments: %w", err))
	}
	if err := s.ForgetVotes(ctx, ids); err != nil {
		return int(result.DeletedCount), err
	}
	return int(result.DeletedCount), nil
}

// ApplyVote is an optimistic compare-and-set: every write is conditioned on
// the state that was read, and a lost race re-reads and tries again.
func (s *MongoStore) ApplyVote(ctx context.Context, commentID, reactorID string, kind ledger.Kind) (ledger.Counts, error) {
	if _, err := s.GetComment(ctx, commentID); err != nil {
		return ledger.Counts{}, err
	}
	key := bson.M{"commentId": commentID, "reactorId": reactorID}

	for attempt := 0; attempt < maxVoteAttempts; attempt++ {
		var current voteDoc
		err := s.votes.FindOne(ctx, key).Decode(&current)
		if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
			return ledger.Counts{}, mongoUnavailable(fmt.Errorf("lookup vote: %w", err))
		}
		held := ledger.Kind(current.Kind)
		next := ledger.Next(held, kind)

		applied, err := s.transitionVote(ctx, commentID, reactorID, held, next)
		if err != nil {
			return ledger.Counts{}, err
		}
		if applied {
			counts, err := s.CountsFor(ctx, []string{commentID})
			if err != nil {
				return ledger.Counts{}, err
			}
			return counts[commentID], nil
		}
	}
	return ledger.Counts{}, fmt.Errorf("vote on %s: too much contention: %w", commentID, ErrUnavailable)
}

// transitionVote moves the pair from held to next and reports false when
// another writer changed the pair first.
func (s *MongoStore) transitionVote(ctx context.Context, commentID, reactorID string, held, next ledger.Kind) (bool, error) {
	expected := bson.M{"commentId": commentID, "reactorId": reactorID, "kind": string(held)}
	switch {
	case held == ledger.None:
		_, err := s.votes.InsertOne(ctx, voteDoc{
			CommentID: commentID,
			ReactorID: reactorID,
			Kind:      string(next),
			UpdatedAt: s.now().UTC(),
		})
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		if err != nil {
			return false, mongoUnavailable(fmt.Errorf("insert vote: %w", err))
		}
		return true, nil
	case next == ledger.None:
		result, err := s.votes.DeleteOne(ctx, expected)
		if err != nil {
			return false, mongoUnavailable(fmt.Errorf("delete vote: %w", err))
		}
		return result.DeletedCount == 1, nil
	default:
		result, err := s.votes.UpdateOne(ctx, expected, bson.M{
			"$set": bson.M{"kind": string(next), "updatedAt": s.now().UTC()},
		})
		if err != nil {
			return false, mongoUnavailable(fmt.Errorf("update vote: %w", err))
		}
		return result.MatchedCount == 1, nil
	}
}

func (s *MongoStore) CountsFor(ctx context.Context, commentIDs []string) (map[string]ledger.Counts, error) {
	out := make(map[string]ledger.Counts, len(commentIDs))
	for _, id := range commentIDs {
		out[id] = ledger.Counts{}
	}
	if len(commentIDs) == 0 {
		return out, nil
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"commentId": bson.M{"$in": commentIDs}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{{Key: "commentId", Value: "$commentId"}, {Key: "kind", Value: "$kind"}}},
			{Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cursor, err := s.votes.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, mongoUnavailable(fmt.Errorf("aggregate votes: %w", err))
	}
	var rows []struct {
		Group struct {
			CommentID string `bson:"commentId"`
			Kind      string `bson:"kind"`
		} `bson:"_id"`
		N int `bson:"n"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, mongoUnavailable(fmt.Errorf("aggregate votes decode: %w", err))
	}
	for _, row := range rows {
		counts := out[row.Group.CommentID]
		switch ledger.Kind(row.Group.Kind) {
		case ledger.Like:
			counts.Likes += row.N
		case ledger.Dislike:
			counts.Dislikes += row.N
		}
		out[row.Group.CommentID] = counts
	}
	return out, nil
}

func (s *MongoStore) StatesFor(ctx context.Context, reactorID string, commentIDs []string) (map[string]ledger.Kind, error) {
	out := make(map[string]ledger.Kind)
	if len(commentIDs) == 0 {
		return out, nil
	}
	cursor, err := s.votes.Find(ctx, bson.M{"reactorId": reactorID, "commentId": bson.M{"$in": commentIDs}})
	if err != nil {
		return nil, mongoUnavailable(fmt.Errorf("list reactor votes: %w", err))
	}
	var docs []voteDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, mongoUnavailable(fmt.Errorf("list reactor votes decode: %w", err))
	}
	for _, doc := range docs {
		out[doc.CommentID] = ledger.Kind(doc.Kind)
	}
	return out, nil
}

func (s *MongoStore) ForgetVotes(ctx context.Context, commentIDs []string) error {
	if len(commentIDs) == 0 {
		return nil
	}
	if _, err := s.votes.DeleteMany(ctx, bson.M{"commentId": bson.M{"$in": commentIDs}}); err != nil {
		return mongoUnavailable(fmt.Errorf("forget votes: %w", err))
	}
	return nil
}

func (s *MongoStore) RegisterHandle(ctx context.Context, name string) (Handle, error) {
	name, err := NormalizeHandle(name)
	if err != nil {
		return Handle{}, err
	}
	h := Handle{Name: name, CreatedAt: s.now().UTC().Truncate(time.Millisecond)}
	_, err = s.handles.InsertOne(ctx, handleDoc{Name: h.Name, CreatedAt: h.CreatedAt})
	if mongo.IsDuplicateKeyError(err) {
		return Handle{}, fmt.Errorf("handle %s: %w", name, ErrConflict)
	}
	if err != nil {
		return Handle{}, mongoUnavailable(fmt.Errorf("register handle: %w", err))
	}
	return h, nil
}

func (s *MongoStore) HandleExists(ctx context.Context, name string) (bool, error) {
	n, err := s.handles.CountDocuments(ctx, bson.M{"_id": name}, options.Count().SetLimit(1))
	if err != nil {
		return false, mongoUnavailable(fmt.Errorf("check handle: %w", err))
	}
	return n > 0, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return mongoUnavailable(fmt.Errorf("ping mongo: %w", err))
	}
	return nil
}

func mongoUnavailable(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, mongo.ErrClientDisconnected) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return unavailable(err)
}
