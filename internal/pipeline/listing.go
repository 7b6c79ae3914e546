package pipeline

import (
	"context"
	"fmt"

	"github.com/JakeFAU/page-insights/internal/insights"
)

// ListPages returns stored pages matching filter. It never ingests.
func (s *Service) ListPages(ctx context.Context, filter insights.PageFilter) ([]insights.Page, error) {
	pages, err := s.deps.Store.FindPages(ctx, filter.Normalized())
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return pages, nil
}

// ListPosts returns the newest posts of a stored page.
func (s *Service) ListPosts(ctx context.Context, username string, limit int) ([]insights.Post, error) {
	page, err := s.storedPage(ctx, username)
	if err != nil {
		return nil, err
	}
	posts, err := s.deps.Store.FindPostsByPage(ctx, page.ID, orDefault(limit, insights.DefaultPostLimit))
	if err != nil {
		return nil, fmt.Errorf("list posts for %s: %w", username, err)
	}
	return posts, nil
}

// ListFollowers returns the newest followers of a stored page.
func (s *Service) ListFollowers(ctx context.Context, username string, limit int) ([]insights.Follower, error) {
	page, err := s.storedPage(ctx, username)
	if err != nil {
		return nil, err
	}
	followers, err := s.deps.Store.FindFollowersByPage(ctx, page.ID, orDefault(limit, insights.DefaultFollowerLimit))
	if err != nil {
		return nil, fmt.Errorf("list followers for %s: %w", username, err)
	}
	return followers, nil
}

// ListComments returns the newest comments of a post.
func (s *Service) ListComments(ctx context.Context, postID string, limit int) ([]insights.Comment, error) {
	if postID == "" {
		return nil, fmt.Errorf("post id: %w", insights.ErrInvalidInput)
	}
	comments, err := s.deps.Store.FindCommentsByPost(ctx, postID, orDefault(limit, insights.DefaultCommentLimit))
	if err != nil {
		return nil, fmt.Errorf("list comments for %s: %w", postID, err)
	}
	return comments, nil
}

func (s *Service) storedPage(ctx context.Context, username string) (insights.Page, error) {
	if err := ValidateUsername(username); err != nil {
		return insights.Page{}, err
	}
	page, err := s.deps.Store.FindPageByUsername(ctx, username)
	if err != nil {
		return insights.Page{}, fmt.Errorf("find page %s: %w", username, err)
	}
	return page, nil
}

func orDefault(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}
