// Package subscriptions manages which users follow which feeds.
package subscriptions

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/jdholdren/gleaner/internal/gleaner"
)

// RecentItemsPerFeed is how many items each subscription carries when listed.
const RecentItemsPerFeed = 10

// Store is the storage the index needs.
type Store interface {
	Feed(ctx context.Context, id string) (gleaner.Feed, error)
	Feeds(ctx context.Context, ids []string) ([]gleaner.Feed, error)
	InsertSubscription(ctx context.Context, userID, feedID string) (gleaner.Subscription, error)
	DeleteSubscription(ctx context.Context, userID, feedID string) error
	UserSubscriptions(ctx context.Context, userID string) ([]gleaner.Subscription, error)
	RecentItems(ctx context.Context, feedIDs []string, perFeed int) (map[string][]gleaner.FeedItem, error)
}

type Index struct {
	store Store
}

func NewIndex(store Store) Index {
	return Index{store: store}
}

// Subscribe links the user to the feed. It fails with [gleaner.ErrConflict] when the
// user is already subscribed.
func (i Index) Subscribe(ctx context.Context, userID, feedID string) (gleaner.SubscriptionWithFeed, error) {
	feed, err := i.store.Feed(ctx, feedID)
	if err != nil {
		return gleaner.SubscriptionWithFeed{}, fmt.Errorf("error fetching feed to subscribe to: %w", err)
	}

	sub, err := i.store.InsertSubscription(ctx, userID, feedID)
	if err != nil {
		return gleaner.SubscriptionWithFeed{}, err
	}

	return gleaner.SubscriptionWithFeed{Subscription: sub, Feed: feed}, nil
}

// Unsubscribe removes the link. It fails with [gleaner.ErrNotFound] when there is none.
func (i Index) Unsubscribe(ctx context.Context, userID, feedID string) error {
	return i.store.DeleteSubscription(ctx, userID, feedID)
}

// List returns the user's subscriptions, newest first, each with its feed and that
// feed's most recent items.
func (i Index) List(ctx context.Context, userID string) ([]gleaner.SubscriptionWithFeed, error) {
	subs, err := i.store.UserSubscriptions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return []gleaner.SubscriptionWithFeed{}, nil
	}

	feedIDs := lo.Map(subs, func(s gleaner.Subscription, _ int) string { return s.FeedID })
	feeds, err := i.store.Feeds(ctx, feedIDs)
	if err != nil {
		return nil, err
	}
	feedsByID := lo.KeyBy(feeds, func(f gleaner.Feed) string { return f.ID })

	items, err := i.store.RecentItems(ctx, feedIDs, RecentItemsPerFeed)
	if err != nil {
		return nil, err
	}

	ret := make([]gleaner.SubscriptionWithFeed, 0, len(subs))
	for _, sub := range subs {
		feedItems := items[sub.FeedID]
		if feedItems == nil {
			feedItems = []gleaner.FeedItem{}
		}

		ret = append(ret, gleaner.SubscriptionWithFeed{
			Subscription: sub,
			Feed:         feedsByID[sub.FeedID],
			Items:        feedItems,
		})
	}

	return ret, nil
}
