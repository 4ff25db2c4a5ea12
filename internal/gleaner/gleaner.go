// Package gleaner holds the types shared by the ingestion pipeline: feeds, their items,
// and the subscriptions that tie users to them.
package gleaner

import (
	"errors"
	"time"
)

var (
	ErrConflict = errors.New("resource already exists")
	ErrNotFound = errors.New("resource not found")
)

type (
	// Feed represents a remote syndication source. The URL is globally unique.
	Feed struct {
		ID            string     `db:"id"`
		URL           string     `db:"url"`
		Title         string     `db:"title"`
		Description   *string    `db:"description"`
		LastFetchedAt *time.Time `db:"last_fetched_at"`
		CreatedAt     time.Time  `db:"created_at"`
		UpdatedAt     time.Time  `db:"updated_at"`
	}

	// FeedItem is one normalized entry read from a feed.
	//
	// Items are only ever inserted or skipped, never updated.
	FeedItem struct {
		ID          string     `db:"id"`
		FeedID      string     `db:"feed_id"`
		Title       string     `db:"title"`
		Description *string    `db:"description"`
		Link        string     `db:"link"`
		PubDate     *time.Time `db:"pub_date"`
		GUID        *string    `db:"guid"`
		Identity    string     `db:"identity"`
		CreatedAt   time.Time  `db:"created_at"`
	}

	// Subscription is a user's opt-in link to a feed.
	Subscription struct {
		ID        string    `db:"id"`
		UserID    string    `db:"user_id"`
		FeedID    string    `db:"feed_id"`
		CreatedAt time.Time `db:"created_at"`
	}

	// SubscriptionWithFeed is a subscription joined with its feed and, when listed,
	// the feed's most recent items.
	SubscriptionWithFeed struct {
		Subscription

		Feed  Feed
		Items []FeedItem
	}

	// TimelineItem is a feed item annotated with the feed it came from.
	TimelineItem struct {
		FeedItem

		FeedTitle string `db:"feed_title"`
		FeedURL   string `db:"feed_url"`
	}

	// Holds the optional fields for updating a feed.
	//
	// Empty strings leave the stored value untouched.
	UpdateFeedArgs struct {
		Title       string
		Description string
		LastFetched time.Time
	}
)

// ItemIdentity returns the deduplication key of an item within its feed: the guid when
// present, the link otherwise.
func ItemIdentity(guid *string, link string) string {
	if guid != nil && *guid != "" {
		return *guid
	}

	return link
}
