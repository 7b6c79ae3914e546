package insights

import (
	"context"
	"io"
	"time"
)

// Store persists the entity graph. Implementations must be safe for concurrent use.
type Store interface {
	// Available is false when the backing connection was never established.
	Available() bool
	// SupportsTextSearch reports whether name filters can use a full-text index.
	SupportsTextSearch() bool
	EnsureIndexes(ctx context.Context) IndexReport

	CreatePage(ctx context.Context, page Page) (string, error)
	FindPageByUsername(ctx context.Context, username string) (Page, error)
	FindPages(ctx context.Context, filter PageFilter) ([]Page, error)

	CreatePosts(ctx context.Context, posts []Post) ([]string, error)
	FindPostsByPage(ctx context.Context, pageID string, limit int) ([]Post, error)

	CreateComments(ctx context.Context, comments []Comment) ([]string, error)
	FindCommentsByPost(ctx context.Context, postID string, limit int) ([]Comment, error)

	CreateFollowers(ctx context.Context, followers []Follower) ([]string, error)
	FindFollowersByPage(ctx context.Context, pageID string, limit int) ([]Follower, error)

	// DeletePage removes a page together with its posts, their comments and its
	// followers. A missing page is not an error.
	DeletePage(ctx context.Context, pageID string) error

	Close(ctx context.Context) error
}

// DocumentCache fronts reads of assembled page documents.
type DocumentCache interface {
	Get(key string) (PageDocument, bool)
	Set(key string, doc PageDocument)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// RenderDetector decides whether a plain fetch response needs a headless render.
type RenderDetector interface {
	ShouldPromote(resp FetchResponse) bool
}

// RateLimiter paces outbound fetches.
type RateLimiter interface {
	Wait(ctx context.Context, url string) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes ingestion events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces surrogate identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
