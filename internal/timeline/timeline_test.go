package timeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/gleaner/internal/gleaner"
	"github.com/jdholdren/gleaner/internal/sqlite"
	"github.com/jdholdren/gleaner/internal/sqlite/sqlitetest"
)

func day(d int) *time.Time {
	t := time.Date(2024, 3, d, 9, 0, 0, 0, time.UTC)
	return &t
}

func addFeed(t *testing.T, repo sqlite.Repo, url, title string, items ...gleaner.FeedItem) gleaner.Feed {
	t.Helper()

	ctx := context.Background()
	feed, err := repo.InsertFeed(ctx, gleaner.Feed{URL: url, Title: title})
	require.NoError(t, err)

	for i := range items {
		items[i].FeedID = feed.ID
	}
	if len(items) > 0 {
		_, err = repo.InsertItems(ctx, items)
		require.NoError(t, err)
	}

	return feed
}

func item(identity string, pubDate *time.Time) gleaner.FeedItem {
	return gleaner.FeedItem{Title: identity, Identity: identity, PubDate: pubDate}
}

func titles(items []gleaner.TimelineItem) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Title)
	}
	return out
}

func TestTimeline_MergesFeedsNewestFirst(t *testing.T) {
	var (
		ctx  = context.Background()
		repo = sqlitetest.New(t)
	)

	a := addFeed(t, repo, "https://a.example.com/feed", "A", item("a1", day(1)), item("a3", day(3)), item("undated", nil))
	b := addFeed(t, repo, "https://b.example.com/feed", "B", item("b2", day(2)))
	addFeed(t, repo, "https://c.example.com/feed", "Not followed", item("c9", day(9)))

	for _, f := range []gleaner.Feed{a, b} {
		_, err := repo.InsertSubscription(ctx, "user", f.ID)
		require.NoError(t, err)
	}

	items, err := New(repo).Timeline(ctx, "user", Page{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a3", "b2", "a1", "undated"}, titles(items))
	assert.Equal(t, "B", items[1].FeedTitle)
	assert.Equal(t, b.URL, items[1].FeedURL)

	page, err := New(repo).Timeline(ctx, "user", Page{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"b2", "a1"}, titles(page))
}

func TestTimeline_TiesKeepInsertionOrder(t *testing.T) {
	var (
		ctx  = context.Background()
		repo = sqlitetest.New(t)
	)

	f := addFeed(t, repo, "https://a.example.com/feed", "A", item("first", day(5)), item("second", day(5)), item("third", day(5)))
	_, err := repo.InsertSubscription(ctx, "user", f.ID)
	require.NoError(t, err)

	items, err := New(repo).Timeline(ctx, "user", Page{})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, titles(items))
}

// Serves fixed subscriptions and counts item queries.
type stubStore struct {
	subs       []gleaner.Subscription
	itemCalls  int
	lastLimit  int
	lastOffset int
}

func (s *stubStore) UserSubscriptions(context.Context, string) ([]gleaner.Subscription, error) {
	return s.subs, nil
}

func (s *stubStore) TimelineItems(_ context.Context, _ []string, limit, offset int) ([]gleaner.TimelineItem, error) {
	s.itemCalls++
	s.lastLimit, s.lastOffset = limit, offset
	return []gleaner.TimelineItem{}, nil
}

func TestTimeline_NoSubscriptions(t *testing.T) {
	store := &stubStore{}

	items, err := New(store).Timeline(context.Background(), "nobody", Page{})
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
	assert.Zero(t, store.itemCalls, "items must not be queried without subscriptions")
}

func TestTimeline_PassesNormalizedPage(t *testing.T) {
	store := &stubStore{subs: []gleaner.Subscription{{FeedID: "a-fd"}}}

	_, err := New(store).Timeline(context.Background(), "user", Page{Limit: 5000, Offset: -1})
	require.NoError(t, err)
	assert.Equal(t, 1, store.itemCalls)
	assert.Equal(t, MaxLimit, store.lastLimit)
	assert.Zero(t, store.lastOffset)
}

func TestPage_Normalize(t *testing.T) {
	tests := []struct {
		name string
		in   Page
		want Page
	}{
		{name: "defaults", in: Page{}, want: Page{Limit: DefaultLimit}},
		{name: "capped", in: Page{Limit: 1000, Offset: 10}, want: Page{Limit: MaxLimit, Offset: 10}},
		{name: "negative offset", in: Page{Limit: 5, Offset: -3}, want: Page{Limit: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Normalize())
		})
	}
}
