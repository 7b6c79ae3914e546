package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/page-insights/internal/clock"
	"github.com/JakeFAU/page-insights/internal/id/uuid"
	"github.com/JakeFAU/page-insights/internal/insights"
)

func newStamper() (Stamper, time.Time) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return Stamper{Clock: clock.NewFixed(now), IDs: uuid.NewSequence("id")}, now
}

func TestStamperPage(t *testing.T) {
	t.Parallel()

	s, now := newStamper()
	page, err := s.Page(insights.Page{Username: "acme"})
	require.NoError(t, err)
	require.Equal(t, "id-1", page.ID)
	require.Equal(t, now, page.CreatedAt)
	require.Equal(t, now, page.UpdatedAt)
	require.Equal(t, now, page.ScrapedAt)
}

func TestStamperPostsKeepsParsedTimesAndLinksComments(t *testing.T) {
	t.Parallel()

	s, now := newStamper()
	parsed := time.Date(2024, 3, 2, 9, 15, 0, 0, time.UTC)
	in := []insights.Post{
		{CreatedAt: parsed, Comments: []insights.Comment{{Content: "hi"}}},
		{},
	}
	out, err := s.Posts(in)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, parsed, out[0].CreatedAt)
	require.Equal(t, now, out[1].CreatedAt)
	require.Equal(t, out[0].ID, out[0].Comments[0].PostID)
	require.NotNil(t, out[1].MediaURLs)
	require.Empty(t, in[0].ID, "input must not be mutated")
	require.Empty(t, in[0].Comments[0].PostID)
}

func TestStamperFollowersAndComments(t *testing.T) {
	t.Parallel()

	s, now := newStamper()
	followers, err := s.Followers([]insights.Follower{{FollowerID: "a"}, {FollowerID: "b"}})
	require.NoError(t, err)
	require.Equal(t, []string{"id-1", "id-2"}, IDs(followers, func(f insights.Follower) string { return f.ID }))
	require.Equal(t, now, followers[1].CreatedAt)

	comments, err := s.Comments([]insights.Comment{{Content: "x"}})
	require.NoError(t, err)
	require.Equal(t, "id-3", comments[0].ID)
}

func TestLimit(t *testing.T) {
	t.Parallel()

	require.Equal(t, 15, Limit(0, 15))
	require.Equal(t, 15, Limit(-3, 15))
	require.Equal(t, 4, Limit(4, 15))
}
