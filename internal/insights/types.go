package insights

import (
	"net/http"
	"time"
)

// Author identifies the writer of a comment when the markup exposes one.
type Author struct {
	Name       string `json:"name" bson:"name"`
	ProfileURL string `json:"profile_url,omitempty" bson:"profile_url,omitempty"`
}

// Page is the profile-level record. Username is the natural key.
type Page struct {
	ID            string     `json:"_id" bson:"_id"`
	Username      string     `json:"username" bson:"username"`
	URL           string     `json:"url" bson:"url"`
	Name          *string    `json:"name" bson:"name"`
	ProfilePic    *string    `json:"profile_pic" bson:"profile_pic"`
	Email         *string    `json:"email" bson:"email"`
	Website       *string    `json:"website" bson:"website"`
	Category      *string    `json:"category" bson:"category"`
	FollowerCount int64      `json:"follower_count" bson:"follower_count"`
	LikesCount    int64      `json:"likes_count" bson:"likes_count"`
	CreationDate  *time.Time `json:"creation_date" bson:"creation_date"`
	About         *string    `json:"about" bson:"about"`
	ArchiveURI    string     `json:"archive_uri,omitempty" bson:"archive_uri,omitempty"`
	ScrapedAt     time.Time  `json:"scraped_at" bson:"scraped_at"`
	CreatedAt     time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" bson:"updated_at"`
}

// Post is a feed story captured at scrape time. Comments are embedded as they
// were seen on the page and are also persisted individually.
type Post struct {
	ID          string    `json:"_id" bson:"_id"`
	PageID      string    `json:"page_id" bson:"page_id"`
	Content     *string   `json:"content" bson:"content"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
	LikesCount  int64     `json:"likes_count" bson:"likes_count"`
	SharesCount int64     `json:"shares_count" bson:"shares_count"`
	MediaURLs   []string  `json:"media_urls" bson:"media_urls"`
	Comments    []Comment `json:"comments" bson:"comments"`
}

// Comment belongs to a Post.
type Comment struct {
	ID        string    `json:"_id,omitempty" bson:"_id,omitempty"`
	PostID    string    `json:"post_id,omitempty" bson:"post_id,omitempty"`
	Content   string    `json:"content" bson:"content"`
	Author    *Author   `json:"author" bson:"author"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Follower links a follower profile to a Page. (PageID, FollowerID) is unique.
type Follower struct {
	ID         string    `json:"_id" bson:"_id"`
	PageID     string    `json:"page_id" bson:"page_id"`
	FollowerID string    `json:"follower_id" bson:"follower_id"`
	Name       *string   `json:"name" bson:"name"`
	ProfilePic *string   `json:"profile_pic" bson:"profile_pic"`
	ProfileURL *string   `json:"profile_url" bson:"profile_url"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
}

// EntityGraph is the extractor output before persistence.
type EntityGraph struct {
	Page      Page
	Posts     []Post
	Followers []Follower
}

// PageDocument is the assembled read model served (and cached) for a username.
type PageDocument struct {
	Page  Page   `json:"page"`
	Posts []Post `json:"posts"`
}

// PageFilter narrows FindPages. Zero values mean "no constraint".
type PageFilter struct {
	Name         string
	Category     string
	MinFollowers *int64
	MaxFollowers *int64
	Page         int
	PerPage      int
}

// Default listing sizes.
const (
	DefaultPerPage        = 10
	MaxPerPage            = 100
	DefaultPostLimit      = 15
	DefaultCommentLimit   = 50
	DefaultFollowerLimit  = 100
	DefaultCacheKeyPrefix = "page_"
)

// Normalized returns a copy with pagination clamped to sane bounds.
func (f PageFilter) Normalized() PageFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage <= 0 {
		f.PerPage = DefaultPerPage
	}
	if f.PerPage > MaxPerPage {
		f.PerPage = MaxPerPage
	}
	return f
}

// Skip is the number of rows preceding the requested page.
func (f PageFilter) Skip() int {
	n := f.Normalized()
	return (n.Page - 1) * n.PerPage
}

// IndexReport records whether index setup succeeded per entity.
type IndexReport map[string]bool

// OK reports whether every entity's indexes were created.
func (r IndexReport) OK() bool {
	for _, ok := range r {
		if !ok {
			return false
		}
	}
	return len(r) > 0
}

// Entity names used in index reports and metrics.
const (
	EntityPage     = "page"
	EntityPost     = "post"
	EntityComment  = "comment"
	EntityFollower = "follower"
)

// FetchRequest captures everything needed to fetch a page.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// IngestedEvent is published after a page has been persisted.
type IngestedEvent struct {
	Username   string    `json:"username"`
	PageID     string    `json:"page_id"`
	Posts      int       `json:"posts"`
	Followers  int       `json:"followers"`
	ArchiveURI string    `json:"archive_uri,omitempty"`
	IngestedAt time.Time `json:"ingested_at"`
}

// CacheKey namespaces a username for the document cache.
func CacheKey(username string) string {
	return DefaultCacheKeyPrefix + username
}
