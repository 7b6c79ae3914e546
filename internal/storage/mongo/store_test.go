package mongo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-insights/internal/clock"
	"github.com/JakeFAU/page-insights/internal/insights"
	"github.com/JakeFAU/page-insights/internal/retry"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func TestPageFilter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		filter     insights.PageFilter
		textSearch bool
		want       bson.D
	}{
		{name: "empty", want: bson.D{}},
		{
			name:       "text search",
			filter:     insights.PageFilter{Name: "acme"},
			textSearch: true,
			want:       bson.D{{Key: "$text", Value: bson.D{{Key: "$search", Value: "acme"}}}},
		},
		{
			name:   "regex fallback quotes metacharacters",
			filter: insights.PageFilter{Name: "a.b"},
			want:   bson.D{{Key: "name", Value: primitive.Regex{Pattern: `a\.b`, Options: "i"}}},
		},
		{
			name: "category and bounds",
			filter: insights.PageFilter{
				Category: "Retail", MinFollowers: ptr(int64(10)), MaxFollowers: ptr(int64(20)),
			},
			want: bson.D{
				{Key: "category", Value: "Retail"},
				{Key: "follower_count", Value: bson.D{{Key: "$gte", Value: int64(10)}, {Key: "$lte", Value: int64(20)}}},
			},
		},
		{
			name:   "min only",
			filter: insights.PageFilter{MinFollowers: ptr(int64(0))},
			want:   bson.D{{Key: "follower_count", Value: bson.D{{Key: "$gte", Value: int64(0)}}}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, pageFilter(tc.filter, tc.textSearch))
		})
	}
}

func TestStoreAgainstMockDeployment(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	newStore := func(mt *mtest.T) *Store {
		return NewWithDatabase(mt.DB, true, zap.NewNop(), WithClock(clock.NewFixed(epoch)))
	}

	mt.Run("create page", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		id, err := newStore(mt).CreatePage(context.Background(), insights.Page{Username: "acme"})
		require.NoError(mt, err)
		_, err = primitive.ObjectIDFromHex(id)
		require.NoError(mt, err)
	})

	mt.Run("duplicate username", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index: 0, Code: 11000, Message: "E11000 duplicate key error collection: pages index: username_1",
		}))
		_, err := newStore(mt).CreatePage(context.Background(), insights.Page{Username: "acme"})
		require.ErrorIs(mt, err, insights.ErrDuplicateKey)
	})

	mt.Run("find page by username", func(mt *mtest.T) {
		ns := mt.DB.Name() + "." + PagesCollection
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "66aa"},
			{Key: "username", Value: "acme"},
			{Key: "name", Value: "Acme"},
			{Key: "follower_count", Value: int64(2300)},
		}))
		page, err := newStore(mt).FindPageByUsername(context.Background(), "acme")
		require.NoError(mt, err)
		assert.Equal(mt, "66aa", page.ID)
		assert.Equal(mt, "Acme", *page.Name)
		assert.Nil(mt, page.Category)
		assert.Equal(mt, int64(2300), page.FollowerCount)
	})

	mt.Run("find page miss", func(mt *mtest.T) {
		ns := mt.DB.Name() + "." + PagesCollection
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))
		_, err := newStore(mt).FindPageByUsername(context.Background(), "ghost")
		require.ErrorIs(mt, err, insights.ErrNotFound)
	})

	mt.Run("find pages", func(mt *mtest.T) {
		ns := mt.DB.Name() + "." + PagesCollection
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			bson.D{{Key: "_id", Value: "1"}, {Key: "username", Value: "acme"}},
			bson.D{{Key: "_id", Value: "2"}, {Key: "username", Value: "bolt"}},
		))
		pages, err := newStore(mt).FindPages(context.Background(), insights.PageFilter{Category: "Retail"})
		require.NoError(mt, err)
		require.Len(mt, pages, 2)
		assert.Equal(mt, "bolt", pages[1].Username)
	})

	mt.Run("create followers duplicate pair", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index: 1, Code: 11000, Message: "E11000 duplicate key error",
		}))
		_, err := newStore(mt).CreateFollowers(context.Background(), []insights.Follower{
			{PageID: "p", FollowerID: "a"},
			{PageID: "p", FollowerID: "a"},
		})
		require.ErrorIs(mt, err, insights.ErrDuplicateKey)
	})

	mt.Run("create posts", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		ids, err := newStore(mt).CreatePosts(context.Background(), []insights.Post{{PageID: "p"}, {PageID: "p"}})
		require.NoError(mt, err)
		require.Len(mt, ids, 2)
		assert.NotEqual(mt, ids[0], ids[1])
	})

	mt.Run("delete page", func(mt *mtest.T) {
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "values", Value: bson.A{"post-1", "post-2"}}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 3}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 2}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 4}),
		)
		require.NoError(mt, newStore(mt).DeletePage(context.Background(), "page-1"))
	})

	mt.Run("delete page stops on failure", func(mt *mtest.T) {
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "values", Value: bson.A{}}),
			mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 91, Message: "ShutdownInProgress"}),
		)
		err := newStore(mt).DeletePage(context.Background(), "page-1")
		require.ErrorContains(mt, err, "delete page page-1")
	})

	mt.Run("ensure indexes", func(mt *mtest.T) {
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(),
			mtest.CreateSuccessResponse(),
			mtest.CreateSuccessResponse(),
			mtest.CreateSuccessResponse(),
		)
		report := newStore(mt).EnsureIndexes(context.Background())
		assert.True(mt, report.OK())
	})

	mt.Run("ensure indexes partial failure", func(mt *mtest.T) {
		mt.AddMockResponses(
			mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 85, Message: "IndexOptionsConflict"}),
			mtest.CreateSuccessResponse(),
			mtest.CreateSuccessResponse(),
			mtest.CreateSuccessResponse(),
		)
		report := newStore(mt).EnsureIndexes(context.Background())
		assert.False(mt, report[insights.EntityPage])
		assert.True(mt, report[insights.EntityFollower])
	})
}

func TestConnectExhaustsRetriesAndDegrades(t *testing.T) {
	t.Parallel()

	attempts := 0
	dialer := func(context.Context, Config) (*mongo.Client, error) {
		return nil, errors.New("server selection timeout")
	}
	store := Connect(context.Background(), Config{
		URI:      "mongodb://localhost:1",
		Database: "insights",
		Retry:    retry.Config{MaxAttempts: 3, Delay: time.Millisecond},
	}, zap.NewNop(), WithDialer(dialer), WithAttemptHook(func(error) { attempts++ }))

	require.Equal(t, 3, attempts)
	require.False(t, store.Available())

	ctx := context.Background()
	_, err := store.CreatePage(ctx, insights.Page{})
	assert.ErrorIs(t, err, insights.ErrNotInitialized)
	_, err = store.FindPages(ctx, insights.PageFilter{})
	assert.ErrorIs(t, err, insights.ErrNotInitialized)
	_, err = store.FindFollowersByPage(ctx, "p", 0)
	assert.ErrorIs(t, err, insights.ErrNotInitialized)
	_, err = store.CreateComments(ctx, []insights.Comment{{}})
	assert.ErrorIs(t, err, insights.ErrNotInitialized)
	assert.ErrorIs(t, store.DeletePage(ctx, "p"), insights.ErrNotInitialized)
	assert.False(t, store.EnsureIndexes(ctx).OK())
	assert.NoError(t, store.Close(ctx))
}

func TestDialRequiresURIAndDatabase(t *testing.T) {
	t.Parallel()

	_, err := dial(context.Background(), Config{URI: "mongodb://localhost"})
	require.Error(t, err)
}

func TestClientOptions(t *testing.T) {
	t.Parallel()

	opts := ClientOptions(Config{
		URI:            "mongodb://localhost:27017",
		MaxPoolSize:    50,
		MinPoolSize:    10,
		ConnectTimeout: 5 * time.Second,
	})
	require.Equal(t, uint64(50), *opts.MaxPoolSize)
	require.Equal(t, uint64(10), *opts.MinPoolSize)
	require.Equal(t, 5*time.Second, *opts.ConnectTimeout)
	require.True(t, *opts.RetryWrites)
	require.True(t, *opts.RetryReads)
}
