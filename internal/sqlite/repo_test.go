package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/gleaner/internal/gleaner"
	"github.com/jdholdren/gleaner/internal/sqlite"
	"github.com/jdholdren/gleaner/internal/sqlite/sqlitetest"
)

func day(d int) *time.Time {
	t := time.Date(2024, 1, d, 12, 0, 0, 0, time.UTC)
	return &t
}

func item(feedID, guid string, pubDate *time.Time) gleaner.FeedItem {
	return gleaner.FeedItem{
		FeedID:   feedID,
		Title:    guid,
		Link:     "https://example.com/" + guid,
		GUID:     &guid,
		Identity: guid,
		PubDate:  pubDate,
	}
}

func insertFeed(t *testing.T, repo sqlite.Repo, url string) gleaner.Feed {
	t.Helper()

	feed, err := repo.InsertFeed(context.Background(), gleaner.Feed{URL: url, Title: url})
	require.NoError(t, err)

	return feed
}

func TestFeeds(t *testing.T) {
	var (
		ctx  = context.Background()
		repo = sqlitetest.New(t)
		now  = time.Now()
	)

	feed, err := repo.InsertFeed(ctx, gleaner.Feed{
		URL:           "https://example.com/feed.xml",
		Title:         "Example",
		Description:   lo.ToPtr("An example"),
		LastFetchedAt: &now,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, feed.ID)
	assert.Equal(t, "Example", feed.Title)
	assert.Equal(t, "An example", *feed.Description)
	require.NotNil(t, feed.LastFetchedAt)
	assert.WithinDuration(t, now, *feed.LastFetchedAt, time.Second)

	_, err = repo.InsertFeed(ctx, gleaner.Feed{URL: "https://example.com/feed.xml"})
	assert.ErrorIs(t, err, gleaner.ErrConflict)

	byURL, err := repo.FeedByURL(ctx, "https://example.com/feed.xml")
	require.NoError(t, err)
	assert.Equal(t, feed.ID, byURL.ID)

	_, err = repo.FeedByURL(ctx, "https://example.com/missing.xml")
	assert.ErrorIs(t, err, gleaner.ErrNotFound)

	// Empty values leave the stored ones alone
	later := now.Add(time.Hour)
	require.NoError(t, repo.UpdateFeed(ctx, feed.ID, gleaner.UpdateFeedArgs{Title: "Renamed", LastFetched: later}))
	updated, err := repo.Feed(ctx, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, "An example", *updated.Description)
	assert.WithinDuration(t, later, *updated.LastFetchedAt, time.Second)

	assert.ErrorIs(t, repo.UpdateFeed(ctx, "nope", gleaner.UpdateFeedArgs{Title: "x"}), gleaner.ErrNotFound)

	feeds, err := repo.Feeds(ctx, []string{feed.ID, "nope"})
	require.NoError(t, err)
	assert.Len(t, feeds, 1)
}

func TestInsertItems_SkipsExistingIdentities(t *testing.T) {
	var (
		ctx  = context.Background()
		repo = sqlitetest.New(t)
		feed = insertFeed(t, repo, "https://example.com/a.xml")
	)

	n, err := repo.InsertItems(ctx, []gleaner.FeedItem{item(feed.ID, "g1", day(1)), item(feed.ID, "g2", nil)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	dup := item(feed.ID, "g1", day(5))
	dup.Title = "overwritten?"
	n, err = repo.InsertItems(ctx, []gleaner.FeedItem{dup, item(feed.ID, "g3", day(3))})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	items, err := repo.TimelineItems(ctx, []string{feed.ID}, 10, 0)
	require.NoError(t, err)
	require.Len(t, items, 3)

	g1, ok := lo.Find(items, func(i gleaner.TimelineItem) bool { return i.Identity == "g1" })
	require.True(t, ok)
	assert.Equal(t, "g1", g1.Title)
}

func TestTimelineItems_Ordering(t *testing.T) {
	var (
		ctx  = context.Background()
		repo = sqlitetest.New(t)
		a    = insertFeed(t, repo, "https://example.com/a.xml")
		b    = insertFeed(t, repo, "https://example.com/b.xml")
	)

	_, err := repo.InsertItems(ctx, []gleaner.FeedItem{
		item(a.ID, "a-undated-1", nil),
		item(a.ID, "a-day1", day(1)),
		item(a.ID, "a-day3", day(3)),
		item(a.ID, "a-undated-2", nil),
	})
	require.NoError(t, err)
	_, err = repo.InsertItems(ctx, []gleaner.FeedItem{item(b.ID, "b-day2", day(2)), item(b.ID, "b-day3", day(3))})
	require.NoError(t, err)

	items, err := repo.TimelineItems(ctx, []string{a.ID, b.ID}, 10, 0)
	require.NoError(t, err)

	ids := lo.Map(items, func(i gleaner.TimelineItem, _ int) string { return i.Identity })
	assert.Equal(t, []string{"a-day3", "b-day3", "b-day2", "a-day1", "a-undated-1", "a-undated-2"}, ids)
	assert.Equal(t, b.URL, items[1].FeedURL)
	assert.Equal(t, b.Title, items[1].FeedTitle)

	page, err := repo.TimelineItems(ctx, []string{a.ID, b.ID}, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"b-day2", "a-day1"}, lo.Map(page, func(i gleaner.TimelineItem, _ int) string { return i.Identity }))

	// Only the requested feeds
	onlyB, err := repo.TimelineItems(ctx, []string{b.ID}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, onlyB, 2)
}

func TestRecentItems(t *testing.T) {
	var (
		ctx  = context.Background()
		repo = sqlitetest.New(t)
		a    = insertFeed(t, repo, "https://example.com/a.xml")
		b    = insertFeed(t, repo, "https://example.com/b.xml")
	)

	var batch []gleaner.FeedItem
	for d := 1; d <= 12; d++ {
		batch = append(batch, item(a.ID, "a"+time.Month(d).String(), day(d)))
	}
	_, err := repo.InsertItems(ctx, batch)
	require.NoError(t, err)
	_, err = repo.InsertItems(ctx, []gleaner.FeedItem{item(b.ID, "b1", day(1))})
	require.NoError(t, err)

	recent, err := repo.RecentItems(ctx, []string{a.ID, b.ID}, 10)
	require.NoError(t, err)

	require.Len(t, recent[a.ID], 10)
	assert.True(t, day(12).Equal(*recent[a.ID][0].PubDate))
	assert.True(t, day(3).Equal(*recent[a.ID][9].PubDate))
	assert.Len(t, recent[b.ID], 1)
}

func TestSubscriptions(t *testing.T) {
	var (
		ctx  = context.Background()
		repo = sqlitetest.New(t)
		a    = insertFeed(t, repo, "https://example.com/a.xml")
		b    = insertFeed(t, repo, "https://example.com/b.xml")
	)

	first, err := repo.InsertSubscription(ctx, "user-1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, first.FeedID)

	_, err = repo.InsertSubscription(ctx, "user-1", a.ID)
	assert.ErrorIs(t, err, gleaner.ErrConflict)

	second, err := repo.InsertSubscription(ctx, "user-1", b.ID)
	require.NoError(t, err)
	_, err = repo.InsertSubscription(ctx, "user-2", a.ID)
	require.NoError(t, err)

	subs, err := repo.UserSubscriptions(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID, first.ID}, lo.Map(subs, func(s gleaner.Subscription, _ int) string { return s.ID }))

	// Feed a is shared, but only listed once
	feeds, err := repo.SubscribedFeeds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID}, lo.Map(feeds, func(f gleaner.Feed, _ int) string { return f.ID }))

	require.NoError(t, repo.DeleteSubscription(ctx, "user-1", a.ID))
	assert.ErrorIs(t, repo.DeleteSubscription(ctx, "user-1", a.ID), gleaner.ErrNotFound)

	// The feed outlives its subscribers
	_, err = repo.Feed(ctx, a.ID)
	assert.NoError(t, err)
}
