// Package storage holds helpers shared by the Store backends. Backends live in
// the memory, postgres and mongo subpackages; blob stores in memory, local and gcs.
package storage

import (
	"fmt"

	"github.com/JakeFAU/page-insights/internal/insights"
)

// Stamper assigns surrogate ids and write timestamps before an insert.
type Stamper struct {
	Clock insights.Clock
	IDs   insights.IDGenerator
}

// Page returns page with a fresh id and CreatedAt/UpdatedAt set to now.
func (s Stamper) Page(page insights.Page) (insights.Page, error) {
	id, err := s.IDs.NewID()
	if err != nil {
		return insights.Page{}, fmt.Errorf("page id: %w", err)
	}
	now := s.Clock.Now()
	page.ID = id
	page.CreatedAt = now
	page.UpdatedAt = now
	if page.ScrapedAt.IsZero() {
		page.ScrapedAt = now
	}
	return page, nil
}

// Posts stamps a copy of posts. Embedded comments inherit the post id.
func (s Stamper) Posts(posts []insights.Post) ([]insights.Post, error) {
	out := make([]insights.Post, len(posts))
	now := s.Clock.Now()
	for i, post := range posts {
		id, err := s.IDs.NewID()
		if err != nil {
			return nil, fmt.Errorf("post id: %w", err)
		}
		post.ID = id
		if post.CreatedAt.IsZero() {
			post.CreatedAt = now
		}
		if post.MediaURLs == nil {
			post.MediaURLs = []string{}
		}
		comments := make([]insights.Comment, len(post.Comments))
		for j, comment := range post.Comments {
			comment.PostID = id
			comments[j] = comment
		}
		post.Comments = comments
		out[i] = post
	}
	return out, nil
}

// Comments stamps a copy of comments.
func (s Stamper) Comments(comments []insights.Comment) ([]insights.Comment, error) {
	out := make([]insights.Comment, len(comments))
	now := s.Clock.Now()
	for i, comment := range comments {
		id, err := s.IDs.NewID()
		if err != nil {
			return nil, fmt.Errorf("comment id: %w", err)
		}
		comment.ID = id
		if comment.CreatedAt.IsZero() {
			comment.CreatedAt = now
		}
		out[i] = comment
	}
	return out, nil
}

// Followers stamps a copy of followers.
func (s Stamper) Followers(followers []insights.Follower) ([]insights.Follower, error) {
	out := make([]insights.Follower, len(followers))
	now := s.Clock.Now()
	for i, follower := range followers {
		id, err := s.IDs.NewID()
		if err != nil {
			return nil, fmt.Errorf("follower id: %w", err)
		}
		follower.ID = id
		if follower.CreatedAt.IsZero() {
			follower.CreatedAt = now
		}
		out[i] = follower
	}
	return out, nil
}

// Limit returns def when limit is not positive.
func Limit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}

// IDs collects the ids of stamped entities in order.
func IDs[T any](items []T, id func(T) string) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = id(item)
	}
	return out
}
