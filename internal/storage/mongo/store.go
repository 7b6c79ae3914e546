// Package mongo implements insights.Store on MongoDB. Each entity has its own
// collection; ids are ObjectID hex strings.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-insights/internal/clock"
	"github.com/JakeFAU/page-insights/internal/insights"
	"github.com/JakeFAU/page-insights/internal/retry"
	"github.com/JakeFAU/page-insights/internal/storage"
)

// Collection names.
const (
	PagesCollection     = "pages"
	PostsCollection     = "posts"
	CommentsCollection  = "comments"
	FollowersCollection = "followers"
)

// Config controls the client pool and connection retry.
type Config struct {
	URI                    string
	Database               string
	MaxPoolSize            uint64
	MinPoolSize            uint64
	ConnectTimeout         time.Duration
	ServerSelectionTimeout time.Duration
	SocketTimeout          time.Duration
	// TextSearch enables $text name queries. When false, name filters use a
	// case-insensitive $regex.
	TextSearch bool
	Retry      retry.Config
}

// Dialer connects and pings a client for one attempt.
type Dialer func(ctx context.Context, cfg Config) (*mongo.Client, error)

// Store is a MongoDB-backed insights.Store. A Store whose client was never
// established reports Available() == false and fails every operation with
// insights.ErrNotInitialized.
type Store struct {
	client     *mongo.Client
	db         *mongo.Database
	textSearch bool
	stamp      storage.Stamper
	logger     *zap.Logger
}

type settings struct {
	dialer  Dialer
	clock   insights.Clock
	attempt func(err error)
}

// Option customises Connect and NewWithDatabase.
type Option func(*settings)

// WithDialer replaces the default client dialer.
func WithDialer(d Dialer) Option { return func(o *settings) { o.dialer = d } }

// WithClock overrides the write clock.
func WithClock(c insights.Clock) Option { return func(o *settings) { o.clock = c } }

// WithAttemptHook is called after every connection attempt with its outcome.
func WithAttemptHook(fn func(err error)) Option { return func(o *settings) { o.attempt = fn } }

func buildOptions(opts []Option) settings {
	o := settings{dialer: dial, clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ObjectIDs generates ObjectID hex strings.
type ObjectIDs struct{}

// NewID returns a new ObjectID in hex.
func (ObjectIDs) NewID() (string, error) {
	return primitive.NewObjectID().Hex(), nil
}

// Connect dials and pings MongoDB, retrying per cfg.Retry. When every attempt
// fails the error is logged and an unavailable Store is returned.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := buildOptions(opts)
	store := &Store{
		textSearch: cfg.TextSearch,
		stamp:      storage.Stamper{Clock: o.clock, IDs: ObjectIDs{}},
		logger:     logger,
	}
	err := retry.Do(ctx, logger, "mongo connect", func(int) error {
		client, err := o.dialer(ctx, cfg)
		if o.attempt != nil {
			o.attempt(err)
		}
		if err != nil {
			return err
		}
		store.client = client
		store.db = client.Database(cfg.Database)
		return nil
	}, cfg.Retry)
	if err != nil {
		logger.Error("mongo unavailable, continuing without a store", zap.Error(err))
		return store
	}
	logger.Info("connected to mongo", zap.String("database", cfg.Database))
	return store
}

// NewWithDatabase wraps an established database handle.
func NewWithDatabase(db *mongo.Database, textSearch bool, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := buildOptions(opts)
	return &Store{
		db:         db,
		textSearch: textSearch,
		stamp:      storage.Stamper{Clock: o.clock, IDs: ObjectIDs{}},
		logger:     logger,
	}
}

// ClientOptions translates cfg into driver options.
func ClientOptions(cfg Config) *options.ClientOptions {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetRetryWrites(true).
		SetRetryReads(true)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	if cfg.MinPoolSize > 0 {
		opts.SetMinPoolSize(cfg.MinPoolSize)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	if cfg.ServerSelectionTimeout > 0 {
		opts.SetServerSelectionTimeout(cfg.ServerSelectionTimeout)
	}
	if cfg.SocketTimeout > 0 {
		opts.SetSocketTimeout(cfg.SocketTimeout)
	}
	return opts
}

func dial(ctx context.Context, cfg Config) (*mongo.Client, error) {
	if cfg.URI == "" || cfg.Database == "" {
		return nil, retry.Permanent(fmt.Errorf("store.uri and store.database are required"))
	}
	client, err := mongo.Connect(ctx, ClientOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// Available reports whether a database handle was established.
func (s *Store) Available() bool { return s != nil && s.db != nil }

// SupportsTextSearch reports whether name filters use the text index.
func (s *Store) SupportsTextSearch() bool { return s.textSearch }

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}

var indexModels = map[string]struct {
	collection string
	models     []mongo.IndexModel
}{
	insights.EntityPage: {PagesCollection, []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "follower_count", Value: 1}}},
		{Keys: bson.D{{Key: "category", Value: 1}}},
		{Keys: bson.D{{Key: "name", Value: 1}}},
		{Keys: bson.D{{Key: "name", Value: "text"}}},
	}},
	insights.EntityPost: {PostsCollection, []mongo.IndexModel{
		{Keys: bson.D{{Key: "page_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "created_at", Value: 1}}},
	}},
	insights.EntityComment: {CommentsCollection, []mongo.IndexModel{
		{Keys: bson.D{{Key: "post_id", Value: 1}, {Key: "created_at", Value: -1}}},
	}},
	insights.EntityFollower: {FollowersCollection, []mongo.IndexModel{
		{Keys: bson.D{{Key: "page_id", Value: 1}, {Key: "follower_id", Value: 1}}, Options: options.Index().SetUnique(true)},
	}},
}

var indexOrder = []string{insights.EntityPage, insights.EntityPost, insights.EntityComment, insights.EntityFollower}

// EnsureIndexes creates every index; failures are logged and reported per entity.
func (s *Store) EnsureIndexes(ctx context.Context) insights.IndexReport {
	report := insights.IndexReport{}
	for _, entity := range indexOrder {
		report[entity] = false
		if !s.Available() {
			continue
		}
		ix := indexModels[entity]
		if _, err := s.db.Collection(ix.collection).Indexes().CreateMany(ctx, ix.models); err != nil {
			s.logger.Warn("index creation failed", zap.String("entity", entity), zap.Error(err))
			continue
		}
		report[entity] = true
	}
	return report
}

// CreatePage inserts page and returns its id.
func (s *Store) CreatePage(ctx context.Context, page insights.Page) (string, error) {
	if !s.Available() {
		return "", insights.ErrNotInitialized
	}
	stamped, err := s.stamp.Page(page)
	if err != nil {
		return "", err
	}
	if _, err := s.db.Collection(PagesCollection).InsertOne(ctx, stamped); err != nil {
		return "", classify("insert page", err)
	}
	return stamped.ID, nil
}

// FindPageByUsername returns insights.ErrNotFound when no document matches.
func (s *Store) FindPageByUsername(ctx context.Context, username string) (insights.Page, error) {
	if !s.Available() {
		return insights.Page{}, insights.ErrNotInitialized
	}
	var page insights.Page
	err := s.db.Collection(PagesCollection).FindOne(ctx, bson.D{{Key: "username", Value: username}}).Decode(&page)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return insights.Page{}, fmt.Errorf("page %q: %w", username, insights.ErrNotFound)
	}
	if err != nil {
		return insights.Page{}, fmt.Errorf("find page: %w", err)
	}
	return page, nil
}

// FindPages runs the filtered, username-ordered page listing.
func (s *Store) FindPages(ctx context.Context, filter insights.PageFilter) ([]insights.Page, error) {
	if !s.Available() {
		return nil, insights.ErrNotInitialized
	}
	filter = filter.Normalized()
	opts := options.Find().
		SetSort(bson.D{{Key: "username", Value: 1}}).
		SetSkip(int64(filter.Skip())).
		SetLimit(int64(filter.PerPage))
	pages := []insights.Page{}
	if err := s.findAll(ctx, PagesCollection, pageFilter(filter, s.textSearch), opts, &pages); err != nil {
		return nil, err
	}
	return pages, nil
}

// pageFilter renders the conjunctive page filter as a query document.
func pageFilter(filter insights.PageFilter, textSearch bool) bson.D {
	query := bson.D{}
	switch insights.PlanNameMatch(filter, textSearch) {
	case insights.NameMatchFullText:
		query = append(query, bson.E{Key: "$text", Value: bson.D{{Key: "$search", Value: filter.Name}}})
	case insights.NameMatchSubstring:
		query = append(query, bson.E{Key: "name", Value: primitive.Regex{Pattern: regexp.QuoteMeta(filter.Name), Options: "i"}})
	case insights.NameMatchNone:
	}
	if filter.Category != "" {
		query = append(query, bson.E{Key: "category", Value: filter.Category})
	}
	bounds := bson.D{}
	if filter.MinFollowers != nil {
		bounds = append(bounds, bson.E{Key: "$gte", Value: *filter.MinFollowers})
	}
	if filter.MaxFollowers != nil {
		bounds = append(bounds, bson.E{Key: "$lte", Value: *filter.MaxFollowers})
	}
	if len(bounds) > 0 {
		query = append(query, bson.E{Key: "follower_count", Value: bounds})
	}
	return query
}

// CreatePosts bulk-inserts posts.
func (s *Store) CreatePosts(ctx context.Context, posts []insights.Post) ([]string, error) {
	if !s.Available() {
		return nil, insights.ErrNotInitialized
	}
	if len(posts) == 0 {
		return nil, nil
	}
	stamped, err := s.stamp.Posts(posts)
	if err != nil {
		return nil, err
	}
	if err := insertAll(ctx, s.db, PostsCollection, stamped); err != nil {
		return nil, err
	}
	return storage.IDs(stamped, func(p insights.Post) string { return p.ID }), nil
}

// FindPostsByPage lists a page's posts newest first.
func (s *Store) FindPostsByPage(ctx context.Context, pageID string, limit int) ([]insights.Post, error) {
	if !s.Available() {
		return nil, insights.ErrNotInitialized
	}
	posts := []insights.Post{}
	err := s.findAll(ctx, PostsCollection, bson.D{{Key: "page_id", Value: pageID}},
		newestFirst(storage.Limit(limit, insights.DefaultPostLimit)), &posts)
	return posts, err
}

// CreateComments bulk-inserts comments.
func (s *Store) CreateComments(ctx context.Context, comments []insights.Comment) ([]string, error) {
	if !s.Available() {
		return nil, insights.ErrNotInitialized
	}
	if len(comments) == 0 {
		return nil, nil
	}
	stamped, err := s.stamp.Comments(comments)
	if err != nil {
		return nil, err
	}
	if err := insertAll(ctx, s.db, CommentsCollection, stamped); err != nil {
		return nil, err
	}
	return storage.IDs(stamped, func(c insights.Comment) string { return c.ID }), nil
}

// FindCommentsByPost lists a post's comments newest first.
func (s *Store) FindCommentsByPost(ctx context.Context, postID string, limit int) ([]insights.Comment, error) {
	if !s.Available() {
		return nil, insights.ErrNotInitialized
	}
	comments := []insights.Comment{}
	err := s.findAll(ctx, CommentsCollection, bson.D{{Key: "post_id", Value: postID}},
		newestFirst(storage.Limit(limit, insights.DefaultCommentLimit)), &comments)
	return comments, err
}

// CreateFollowers bulk-inserts followers; a repeated (page_id, follower_id)
// stops the ordered insert with insights.ErrDuplicateKey.
func (s *Store) CreateFollowers(ctx context.Context, followers []insights.Follower) ([]string, error) {
	if !s.Available() {
		return nil, insights.ErrNotInitialized
	}
	if len(followers) == 0 {
		return nil, nil
	}
	stamped, err := s.stamp.Followers(followers)
	if err != nil {
		return nil, err
	}
	if err := insertAll(ctx, s.db, FollowersCollection, stamped); err != nil {
		return nil, err
	}
	return storage.IDs(stamped, func(f insights.Follower) string { return f.ID }), nil
}

// FindFollowersByPage lists a page's followers newest first.
func (s *Store) FindFollowersByPage(ctx context.Context, pageID string, limit int) ([]insights.Follower, error) {
	if !s.Available() {
		return nil, insights.ErrNotInitialized
	}
	followers := []insights.Follower{}
	err := s.findAll(ctx, FollowersCollection, bson.D{{Key: "page_id", Value: pageID}},
		newestFirst(storage.Limit(limit, insights.DefaultFollowerLimit)), &followers)
	return followers, err
}

// DeletePage removes a page and its children. Standalone deployments have no
// multi-document transactions, so the page goes first: once it is gone the
// username is free for the next ingestion and leftover children are unreachable.
func (s *Store) DeletePage(ctx context.Context, pageID string) error {
	if !s.Available() {
		return insights.ErrNotInitialized
	}
	postIDs, err := s.db.Collection(PostsCollection).Distinct(ctx, "_id", bson.D{{Key: "page_id", Value: pageID}})
	if err != nil {
		return fmt.Errorf("list posts of page %s: %w", pageID, err)
	}
	if _, err := s.db.Collection(PagesCollection).DeleteOne(ctx, bson.D{{Key: "_id", Value: pageID}}); err != nil {
		return fmt.Errorf("delete page %s: %w", pageID, err)
	}
	type child struct {
		collection string
		filter     bson.D
	}
	var children []child
	if len(postIDs) > 0 {
		children = append(children, child{CommentsCollection, bson.D{{Key: "post_id", Value: bson.D{{Key: "$in", Value: postIDs}}}}})
	}
	children = append(children,
		child{PostsCollection, bson.D{{Key: "page_id", Value: pageID}}},
		child{FollowersCollection, bson.D{{Key: "page_id", Value: pageID}}},
	)
	for _, c := range children {
		if _, err := s.db.Collection(c.collection).DeleteMany(ctx, c.filter); err != nil {
			return fmt.Errorf("delete %s of page %s: %w", c.collection, pageID, err)
		}
	}
	return nil
}

func newestFirst(limit int) *options.FindOptions {
	return options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
}

func (s *Store) findAll(ctx context.Context, collection string, filter bson.D, opts *options.FindOptions, out any) error {
	cursor, err := s.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return fmt.Errorf("find %s: %w", collection, err)
	}
	if err := cursor.All(ctx, out); err != nil {
		return fmt.Errorf("decode %s: %w", collection, err)
	}
	return nil
}

func insertAll[T any](ctx context.Context, db *mongo.Database, collection string, items []T) error {
	docs := make([]any, len(items))
	for i := range items {
		docs[i] = items[i]
	}
	if _, err := db.Collection(collection).InsertMany(ctx, docs); err != nil {
		return classify("insert "+collection, err)
	}
	return nil
}

func classify(op string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w", op, insights.ErrDuplicateKey)
	}
	return fmt.Errorf("%s: %w", op, err)
}
