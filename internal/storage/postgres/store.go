// Package postgres implements insights.Store on Postgres via pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-insights/internal/clock"
	"github.com/JakeFAU/page-insights/internal/id/uuid"
	"github.com/JakeFAU/page-insights/internal/insights"
	"github.com/JakeFAU/page-insights/internal/retry"
	"github.com/JakeFAU/page-insights/internal/storage"
)

const uniqueViolation = "23505"

// Config controls the pool and connection retry.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// TextSearch enables the tsvector name query. When false, name filters use ILIKE.
	TextSearch bool
	Retry      retry.Config
}

// Pool is the subset of *pgxpool.Pool the store uses; pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Opener creates a pool for one connection attempt.
type Opener func(ctx context.Context, cfg Config) (Pool, error)

// Store is a Postgres-backed insights.Store. A Store whose connection was
// never established reports Available() == false and fails every operation
// with insights.ErrNotInitialized.
type Store struct {
	pool       Pool
	textSearch bool
	stamp      storage.Stamper
	logger     *zap.Logger
}

type options struct {
	opener  Opener
	clock   insights.Clock
	ids     insights.IDGenerator
	attempt func(err error)
}

// Option customises Connect and NewWithPool.
type Option func(*options)

// WithOpener replaces the pgxpool opener.
func WithOpener(o Opener) Option { return func(opts *options) { opts.opener = o } }

// WithClock overrides the write clock.
func WithClock(c insights.Clock) Option { return func(opts *options) { opts.clock = c } }

// WithIDGenerator overrides the id source.
func WithIDGenerator(ids insights.IDGenerator) Option { return func(opts *options) { opts.ids = ids } }

// WithAttemptHook is called after every connection attempt with its outcome.
func WithAttemptHook(fn func(err error)) Option { return func(opts *options) { opts.attempt = fn } }

func buildOptions(opts []Option) options {
	o := options{opener: openPool, clock: clock.New(), ids: uuid.New()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Connect opens and pings a pool, retrying per cfg.Retry. When every attempt
// fails the error is logged and an unavailable Store is returned.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := buildOptions(opts)
	store := &Store{
		textSearch: cfg.TextSearch,
		stamp:      storage.Stamper{Clock: o.clock, IDs: o.ids},
		logger:     logger,
	}

	err := retry.Do(ctx, logger, "postgres connect", func(int) error {
		pool, err := o.opener(ctx, cfg)
		if err == nil {
			if err = pool.Ping(ctx); err != nil {
				pool.Close()
			}
		}
		if o.attempt != nil {
			o.attempt(err)
		}
		if err != nil {
			return err
		}
		store.pool = pool
		return nil
	}, cfg.Retry)
	if err != nil {
		logger.Error("postgres unavailable, continuing without a store", zap.Error(err))
		return store
	}
	logger.Info("connected to postgres")
	return store
}

// NewWithPool wraps an established pool.
func NewWithPool(pool Pool, textSearch bool, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := buildOptions(opts)
	return &Store{
		pool:       pool,
		textSearch: textSearch,
		stamp:      storage.Stamper{Clock: o.clock, IDs: o.ids},
		logger:     logger,
	}
}

func openPool(ctx context.Context, cfg Config) (Pool, error) {
	if cfg.DSN == "" {
		return nil, retry.Permanent(fmt.Errorf("store.dsn is required"))
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("parse postgres dsn: %w", err))
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// Available reports whether a pool was established.
func (s *Store) Available() bool { return s != nil && s.pool != nil }

// SupportsTextSearch reports whether name filters use the tsvector index.
func (s *Store) SupportsTextSearch() bool { return s.textSearch }

// Close releases the pool.
func (s *Store) Close(context.Context) error {
	if s.Available() {
		s.pool.Close()
	}
	return nil
}

// EnsureIndexes creates tables and indexes. Failures are logged and reported
// per entity; they never abort startup.
func (s *Store) EnsureIndexes(ctx context.Context) insights.IndexReport {
	report := insights.IndexReport{}
	for _, entity := range schema {
		report[entity.entity] = false
		if !s.Available() {
			continue
		}
		ok := true
		for _, stmt := range entity.statements {
			if _, err := s.pool.Exec(ctx, stmt); err != nil {
				s.logger.Warn("schema statement failed",
					zap.String("entity", entity.entity),
					zap.Error(err),
				)
				ok = false
				break
			}
		}
		report[entity.entity] = ok
	}
	return report
}

const pageColumns = `id, username, url, name, profile_pic, email, website, category, follower_count, ` +
	`likes_count, creation_date, about, archive_uri, scraped_at, created_at, updated_at`

// CreatePage inserts page and returns its id.
func (s *Store) CreatePage(ctx context.Context, page insights.Page) (string, error) {
	if !s.Available() {
		return "", insights.ErrNotInitialized
	}
	stamped, err := s.stamp.Page(page)
	if err != nil {
		return "", err
	}
	query := `INSERT INTO pages (` + pageColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`
	_, err = s.pool.Exec(ctx, query,
		stamped.ID,
		stamped.Username,
		stamped.URL,
		stamped.Name,
		stamped.ProfilePic,
		stamped.Email,
		stamped.Website,
		stamped.Category,
		stamped.FollowerCount,
		stamped.LikesCount,
		stamped.CreationDate,
		stamped.About,
		stamped.ArchiveURI,
		stamped.ScrapedAt,
		stamped.CreatedAt,
		stamped.UpdatedAt,
	)
	if err != nil {
		return "", classify("insert page", err)
	}
	return stamped.ID, nil
}

// FindPageByUsername returns insights.ErrNotFound when no row matches.
func (s *Store) FindPageByUsername(ctx context.Context, username string) (insights.Page, error) {
	if !s.Available() {
		return insights.Page{}, insights.ErrNotInitialized
	}
	row := s.pool.QueryRow(ctx, `SELECT `+pageColumns+` FROM pages WHERE username = $1`, username)
	page, err := scanPage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return insights.Page{}, fmt.Errorf("page %q: %w", username, insights.ErrNotFound)
	}
	if err != nil {
		return insights.Page{}, fmt.Errorf("select page: %w", err)
	}
	return page, nil
}

// FindPages runs the filtered, username-ordered page listing.
func (s *Store) FindPages(ctx context.Context, filter insights.PageFilter) ([]insights.Page, error) {
	if !s.Available() {
		return nil, insights.ErrNotInitialized
	}
	query, args := buildPageQuery(filter, s.textSearch)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select pages: %w", err)
	}
	pages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (insights.Page, error) {
		return scanPage(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan pages: %w", err)
	}
	return pages, nil
}

// buildPageQuery renders the conjunctive page filter as SQL with positional args.
func buildPageQuery(filter insights.PageFilter, textSearch bool) (string, []any) {
	filter = filter.Normalized()
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	switch insights.PlanNameMatch(filter, textSearch) {
	case insights.NameMatchFullText:
		where = append(where, nameVector+` @@ plainto_tsquery('simple', `+arg(filter.Name)+`)`)
	case insights.NameMatchSubstring:
		where = append(where, `name ILIKE `+arg("%"+escapeLike(filter.Name)+"%"))
	case insights.NameMatchNone:
	}
	if filter.Category != "" {
		where = append(where, `category = `+arg(filter.Category))
	}
	if filter.MinFollowers != nil {
		where = append(where, `follower_count >= `+arg(*filter.MinFollowers))
	}
	if filter.MaxFollowers != nil {
		where = append(where, `follower_count <= `+arg(*filter.MaxFollowers))
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + pageColumns + ` FROM pages`)
	if len(where) > 0 {
		b.WriteString(` WHERE ` + strings.Join(where, ` AND `))
	}
	b.WriteString(` ORDER BY username ASC LIMIT ` + arg(filter.PerPage) + ` OFFSET ` + arg(filter.Skip()))
	return b.String(), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

var postColumns = []string{"id", "page_id", "content", "created_at", "likes_count", "shares_count", "media_urls", "comments"}

// CreatePosts bulk-inserts posts with COPY.
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
	rows := make([][]any, len(stamped))
	for i, p := range stamped {
		comments, err := json.Marshal(p.Comments)
		if err != nil {
			return nil, fmt.Errorf("encode comments: %w", err)
		}
		rows[i] = []any{p.ID, p.PageID, p.Content, p.CreatedAt, p.LikesCount, p.SharesCount, p.MediaURLs, comments}
	}
	if err := s.copy(ctx, "posts", postColumns, rows); err != nil {
		return nil, err
	}
	return storage.IDs(stamped, func(p insights.Post) string { return p.ID }), nil
}

// FindPostsByPage lists a page's posts newest first.
func (s *Store) FindPostsByPage(ctx context.Context, pageID string, limit int) ([]insights.Post, error) {
	if !s.Available() {
		return nil, insights.ErrNotInitialized
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+strings.Join(postColumns, ", ")+` FROM posts WHERE page_id = $1 ORDER BY created_at DESC LIMIT $2`,
		pageID, storage.Limit(limit, insights.DefaultPostLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("select posts: %w", err)
	}
	posts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (insights.Post, error) {
		var (
			p        insights.Post
			comments []byte
		)
		if err := row.Scan(&p.ID, &p.PageID, &p.Content, &p.CreatedAt, &p.LikesCount, &p.SharesCount, &p.MediaURLs, &comments); err != nil {
			return p, err
		}
		if len(comments) > 0 {
			if err := json.Unmarshal(comments, &p.Comments); err != nil {
				return p, fmt.Errorf("decode comments: %w", err)
			}
		}
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan posts: %w", err)
	}
	return posts, nil
}

var commentColumns = []string{"id", "post_id", "content", "author", "created_at"}

// CreateComments bulk-inserts comments with COPY.
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
	rows := make([][]any, len(stamped))
	for i, c := range stamped {
		var author []byte
		if c.Author != nil {
			if author, err = json.Marshal(c.Author); err != nil {
				return nil, fmt.Errorf("encode author: %w", err)
			}
		}
		rows[i] = []any{c.ID, c.PostID, c.Content, author, c.CreatedAt}
	}
	if err := s.copy(ctx, "comments", commentColumns, rows); err != nil {
		return nil, err
	}
	return storage.IDs(stamped, func(c insights.Comment) string { return c.ID }), nil
}

// FindCommentsByPost lists a post's comments newest first.
func (s *Store) FindCommentsByPost(ctx context.Context, postID string, limit int) ([]insights.Comment, error) {
	if !s.Available() {
		return nil, insights.ErrNotInitialized
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+strings.Join(commentColumns, ", ")+` FROM comments WHERE post_id = $1 ORDER BY created_at DESC LIMIT $2`,
		postID, storage.Limit(limit, insights.DefaultCommentLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("select comments: %w", err)
	}
	comments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (insights.Comment, error) {
		var (
			c      insights.Comment
			author []byte
		)
		if err := row.Scan(&c.ID, &c.PostID, &c.Content, &author, &c.CreatedAt); err != nil {
			return c, err
		}
		if len(author) > 0 && string(author) != "null" {
			c.Author = &insights.Author{}
			if err := json.Unmarshal(author, c.Author); err != nil {
				return c, fmt.Errorf("decode author: %w", err)
			}
		}
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan comments: %w", err)
	}
	return comments, nil
}

var followerColumns = []string{"id", "page_id", "follower_id", "name", "profile_pic", "profile_url", "created_at"}

// CreateFollowers bulk-inserts followers; a repeated (page_id, follower_id)
// fails the whole COPY with insights.ErrDuplicateKey.
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
	rows := make([][]any, len(stamped))
	for i, f := range stamped {
		rows[i] = []any{f.ID, f.PageID, f.FollowerID, f.Name, f.ProfilePic, f.ProfileURL, f.CreatedAt}
	}
	if err := s.copy(ctx, "followers", followerColumns, rows); err != nil {
		return nil, err
	}
	return storage.IDs(stamped, func(f insights.Follower) string { return f.ID }), nil
}

// FindFollowersByPage lists a page's followers newest first.
func (s *Store) FindFollowersByPage(ctx context.Context, pageID string, limit int) ([]insights.Follower, error) {
	if !s.Available() {
		return nil, insights.ErrNotInitialized
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+strings.Join(followerColumns, ", ")+` FROM followers WHERE page_id = $1 ORDER BY created_at DESC LIMIT $2`,
		pageID, storage.Limit(limit, insights.DefaultFollowerLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("select followers: %w", err)
	}
	followers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (insights.Follower, error) {
		var f insights.Follower
		err := row.Scan(&f.ID, &f.PageID, &f.FollowerID, &f.Name, &f.ProfilePic, &f.ProfileURL, &f.CreatedAt)
		return f, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan followers: %w", err)
	}
	return followers, nil
}

// deletePageStatements run in order inside one transaction; each takes the
// page id as $1.
var deletePageStatements = []string{
	`DELETE FROM comments WHERE post_id IN (SELECT id FROM posts WHERE page_id = $1)`,
	`DELETE FROM posts WHERE page_id = $1`,
	`DELETE FROM followers WHERE page_id = $1`,
	`DELETE FROM pages WHERE id = $1`,
}

// DeletePage removes a page and its children in a single transaction.
func (s *Store) DeletePage(ctx context.Context, pageID string) error {
	if !s.Available() {
		return insights.ErrNotInitialized
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete page: %w", err)
	}
	for _, stmt := range deletePageStatements {
		if _, err := tx.Exec(ctx, stmt, pageID); err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				s.logger.Warn("rollback delete page failed", zap.String("page_id", pageID), zap.Error(rbErr))
			}
			return fmt.Errorf("delete page %s: %w", pageID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete page %s: %w", pageID, err)
	}
	return nil
}

func (s *Store) copy(ctx context.Context, table string, columns []string, rows [][]any) error {
	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return classify("copy "+table, err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("copy %s: wrote %d of %d rows", table, n, len(rows))
	}
	return nil
}

func scanPage(row pgx.Row) (insights.Page, error) {
	var p insights.Page
	err := row.Scan(
		&p.ID,
		&p.Username,
		&p.URL,
		&p.Name,
		&p.ProfilePic,
		&p.Email,
		&p.Website,
		&p.Category,
		&p.FollowerCount,
		&p.LikesCount,
		&p.CreationDate,
		&p.About,
		&p.ArchiveURI,
		&p.ScrapedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w (%s)", op, insights.ErrDuplicateKey, pgErr.ConstraintName)
	}
	return fmt.Errorf("%s: %w", op, err)
}
