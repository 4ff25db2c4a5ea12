// Package registry maps feed URLs to feed records, creating each one exactly once.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jdholdren/gleaner/internal/fetch"
	"github.com/jdholdren/gleaner/internal/gleaner"
)

const (
	unknownTitle = "Unknown Feed"
	cacheSize    = 4096
)

type (
	// FeedStore is the storage the registry needs. InsertFeed must report a taken url
	// with [gleaner.ErrConflict].
	FeedStore interface {
		FeedByURL(ctx context.Context, url string) (gleaner.Feed, error)
		InsertFeed(ctx context.Context, f gleaner.Feed) (gleaner.Feed, error)
		UpdateFeed(ctx context.Context, id string, args gleaner.UpdateFeedArgs) error
	}

	// Upserter writes a feed's items, skipping ones already stored.
	Upserter interface {
		Upsert(ctx context.Context, feedID string, raw []fetch.RawItem) (int, error)
	}
)

type Registry struct {
	store  FeedStore
	engine Upserter
	now    func() time.Time

	// url -> feed, so reusing a known feed costs no query. Feeds are never deleted;
	// Touch evicts an entry once its row changes. Writes from other processes aren't
	// seen, but a cached ID and URL are always right.
	feeds *lru.Cache[string, gleaner.Feed]
	urls  *lru.Cache[string, string] // feed id -> url, to find what Touch must evict
}

func New(store FeedStore, engine Upserter) *Registry {
	feeds, _ := lru.New[string, gleaner.Feed](cacheSize)
	urls, _ := lru.New[string, string](cacheSize)

	return &Registry{
		store:  store,
		engine: engine,
		now:    time.Now,
		feeds:  feeds,
		urls:   urls,
	}
}

// Resolve returns the feed for url, creating it from seed if it doesn't exist yet.
//
// Two callers racing to create the same url both end up with the same row: the loser's
// insert hits the unique constraint on url and it re-reads the winner's feed instead.
// The returned bool reports whether this call created the feed.
func (r *Registry) Resolve(ctx context.Context, url string, seed fetch.Result) (gleaner.Feed, bool, error) {
	feed, err := r.lookup(ctx, url)
	if err == nil {
		return feed, false, nil
	}
	if !errors.Is(err, gleaner.ErrNotFound) {
		return gleaner.Feed{}, false, err
	}

	title := seed.Title
	if title == "" {
		title = unknownTitle
	}
	var desc *string
	if seed.Description != "" {
		desc = &seed.Description
	}
	now := r.now()

	feed, err = r.store.InsertFeed(ctx, gleaner.Feed{
		URL:           url,
		Title:         title,
		Description:   desc,
		LastFetchedAt: &now,
	})
	if errors.Is(err, gleaner.ErrConflict) {
		slog.DebugContext(ctx, "lost feed creation race, reusing existing", "url", url)

		feed, err = r.store.FeedByURL(ctx, url)
		if err != nil {
			return gleaner.Feed{}, false, fmt.Errorf("error fetching conflicting feed: %w", err)
		}
		r.remember(feed)

		return feed, false, nil
	}
	if err != nil {
		return gleaner.Feed{}, false, fmt.Errorf("error inserting feed: %w", err)
	}
	r.remember(feed)

	// The feed is usable even if seeding fails; the next refresh fills it in.
	n, err := r.engine.Upsert(ctx, feed.ID, seed.Items)
	if err != nil {
		slog.ErrorContext(ctx, "error seeding new feed", "feed_id", feed.ID, "error", err)
	}
	slog.InfoContext(ctx, "created feed", "feed_id", feed.ID, "url", url, "items", n)

	return feed, true, nil
}

func (r *Registry) lookup(ctx context.Context, url string) (gleaner.Feed, error) {
	if feed, ok := r.feeds.Get(url); ok {
		return feed, nil
	}

	feed, err := r.store.FeedByURL(ctx, url)
	if err != nil {
		return gleaner.Feed{}, err
	}
	r.remember(feed)

	return feed, nil
}

func (r *Registry) remember(feed gleaner.Feed) {
	r.feeds.Add(feed.URL, feed)
	r.urls.Add(feed.ID, feed.URL)
}

func (r *Registry) forget(feedID string) {
	if url, ok := r.urls.Peek(feedID); ok {
		r.feeds.Remove(url)
	}
}

// Touch records a fetch attempt against the feed.
//
// Title and description are only replaced by non-empty values; the last fetched time
// always moves forward, whether or not the fetch worked.
func (r *Registry) Touch(ctx context.Context, feedID, title, description string) error {
	if err := r.store.UpdateFeed(ctx, feedID, gleaner.UpdateFeedArgs{
		Title:       title,
		Description: description,
		LastFetched: r.now(),
	}); err != nil {
		return fmt.Errorf("error touching feed %s: %w", feedID, err)
	}
	r.forget(feedID)

	return nil
}
