package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/page-insights/internal/clock"
	"github.com/JakeFAU/page-insights/internal/id/uuid"
	"github.com/JakeFAU/page-insights/internal/insights"
	"github.com/JakeFAU/page-insights/internal/storage"
)

// Store is an in-memory insights.Store for development and tests. It enforces
// the same unique keys as the database backends but has no text index, so name
// filters fall back to substring matching.
type Store struct {
	stamp storage.Stamper

	mu         sync.RWMutex
	pages      []insights.Page
	usernames  map[string]int
	posts      []insights.Post
	comments   []insights.Comment
	followers  []insights.Follower
	followerPK map[string]struct{}
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the clock used for write timestamps.
func WithClock(c insights.Clock) Option {
	return func(s *Store) { s.stamp.Clock = c }
}

// WithIDGenerator overrides the surrogate id source.
func WithIDGenerator(ids insights.IDGenerator) Option {
	return func(s *Store) { s.stamp.IDs = ids }
}

// NewStore constructs an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		stamp:      storage.Stamper{Clock: clock.New(), IDs: uuid.New()},
		usernames:  make(map[string]int),
		followerPK: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available always reports true.
func (s *Store) Available() bool { return true }

// SupportsTextSearch is false: there is no full-text index in memory.
func (s *Store) SupportsTextSearch() bool { return false }

// EnsureIndexes is a no-op; uniqueness is enforced on write.
func (s *Store) EnsureIndexes(context.Context) insights.IndexReport {
	return insights.IndexReport{
		insights.EntityPage:     true,
		insights.EntityPost:     true,
		insights.EntityComment:  true,
		insights.EntityFollower: true,
	}
}

// CreatePage inserts a page; a taken username yields insights.ErrDuplicateKey.
func (s *Store) CreatePage(_ context.Context, page insights.Page) (string, error) {
	stamped, err := s.stamp.Page(page)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.usernames[stamped.Username]; taken {
		return "", fmt.Errorf("page %q: %w", stamped.Username, insights.ErrDuplicateKey)
	}
	s.usernames[stamped.Username] = len(s.pages)
	s.pages = append(s.pages, stamped)
	return stamped.ID, nil
}

// FindPageByUsername returns insights.ErrNotFound on a miss.
func (s *Store) FindPageByUsername(_ context.Context, username string) (insights.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.usernames[username]
	if !ok {
		return insights.Page{}, fmt.Errorf("page %q: %w", username, insights.ErrNotFound)
	}
	return s.pages[idx], nil
}

// FindPages filters, orders by username and paginates.
func (s *Store) FindPages(_ context.Context, filter insights.PageFilter) ([]insights.Page, error) {
	filter = filter.Normalized()
	match := insights.PlanNameMatch(filter, s.SupportsTextSearch())
	name := strings.ToLower(filter.Name)

	s.mu.RLock()
	matched := make([]insights.Page, 0, len(s.pages))
	for _, page := range s.pages {
		if match == insights.NameMatchSubstring && !containsFold(page.Name, name) {
			continue
		}
		if filter.Category != "" && (page.Category == nil || *page.Category != filter.Category) {
			continue
		}
		if filter.MinFollowers != nil && page.FollowerCount < *filter.MinFollowers {
			continue
		}
		if filter.MaxFollowers != nil && page.FollowerCount > *filter.MaxFollowers {
			continue
		}
		matched = append(matched, page)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].Username < matched[j].Username })
	return window(matched, filter.Skip(), filter.PerPage), nil
}

// CreatePosts inserts posts in one step.
func (s *Store) CreatePosts(_ context.Context, posts []insights.Post) ([]string, error) {
	if len(posts) == 0 {
		return nil, nil
	}
	stamped, err := s.stamp.Posts(posts)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.posts = append(s.posts, stamped...)
	s.mu.Unlock()
	return storage.IDs(stamped, func(p insights.Post) string { return p.ID }), nil
}

// FindPostsByPage lists a page's posts newest first.
func (s *Store) FindPostsByPage(_ context.Context, pageID string, limit int) ([]insights.Post, error) {
	s.mu.RLock()
	out := collect(s.posts, func(p insights.Post) bool { return p.PageID == pageID })
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return window(out, 0, storage.Limit(limit, insights.DefaultPostLimit)), nil
}

// CreateComments inserts comments in one step.
func (s *Store) CreateComments(_ context.Context, comments []insights.Comment) ([]string, error) {
	if len(comments) == 0 {
		return nil, nil
	}
	stamped, err := s.stamp.Comments(comments)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.comments = append(s.comments, stamped...)
	s.mu.Unlock()
	return storage.IDs(stamped, func(c insights.Comment) string { return c.ID }), nil
}

// FindCommentsByPost lists a post's comments newest first.
func (s *Store) FindCommentsByPost(_ context.Context, postID string, limit int) ([]insights.Comment, error) {
	s.mu.RLock()
	out := collect(s.comments, func(c insights.Comment) bool { return c.PostID == postID })
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return window(out, 0, storage.Limit(limit, insights.DefaultCommentLimit)), nil
}

// CreateFollowers inserts followers atomically. A (page, follower) pair that
// already exists, or repeats inside the batch, rejects the whole batch.
func (s *Store) CreateFollowers(_ context.Context, followers []insights.Follower) ([]string, error) {
	if len(followers) == 0 {
		return nil, nil
	}
	stamped, err := s.stamp.Followers(followers)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := make(map[string]struct{}, len(stamped))
	for _, f := range stamped {
		key := f.PageID + "\x00" + f.FollowerID
		_, exists := s.followerPK[key]
		_, repeated := batch[key]
		if exists || repeated {
			return nil, fmt.Errorf("follower %q of page %q: %w", f.FollowerID, f.PageID, insights.ErrDuplicateKey)
		}
		batch[key] = struct{}{}
	}
	for key := range batch {
		s.followerPK[key] = struct{}{}
	}
	s.followers = append(s.followers, stamped...)
	return storage.IDs(stamped, func(f insights.Follower) string { return f.ID }), nil
}

// FindFollowersByPage lists a page's followers newest first.
func (s *Store) FindFollowersByPage(_ context.Context, pageID string, limit int) ([]insights.Follower, error) {
	s.mu.RLock()
	out := collect(s.followers, func(f insights.Follower) bool { return f.PageID == pageID })
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return window(out, 0, storage.Limit(limit, insights.DefaultFollowerLimit)), nil
}

// DeletePage removes a page and everything that hangs off it in one critical
// section, so readers never see a partial graph.
func (s *Store) DeletePage(_ context.Context, pageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	postIDs := make(map[string]struct{})
	s.posts = slices.DeleteFunc(s.posts, func(p insights.Post) bool {
		if p.PageID != pageID {
			return false
		}
		postIDs[p.ID] = struct{}{}
		return true
	})
	s.comments = slices.DeleteFunc(s.comments, func(c insights.Comment) bool {
		_, ok := postIDs[c.PostID]
		return ok
	})
	s.followers = slices.DeleteFunc(s.followers, func(f insights.Follower) bool {
		if f.PageID != pageID {
			return false
		}
		delete(s.followerPK, f.PageID+"\x00"+f.FollowerID)
		return true
	})
	s.pages = slices.DeleteFunc(s.pages, func(p insights.Page) bool { return p.ID == pageID })
	s.usernames = make(map[string]int, len(s.pages))
	for i, p := range s.pages {
		s.usernames[p.Username] = i
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close(context.Context) error { return nil }

func containsFold(value *string, needle string) bool {
	return value != nil && strings.Contains(strings.ToLower(*value), needle)
}

func collect[T any](items []T, keep func(T) bool) []T {
	out := make([]T, 0)
	for _, item := range items {
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}

func window[T any](items []T, skip, limit int) []T {
	if skip >= len(items) {
		return []T{}
	}
	items = items[skip:]
	if limit < len(items) {
		items = items[:limit]
	}
	return items
}
