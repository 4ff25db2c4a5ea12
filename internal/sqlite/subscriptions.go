package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jdholdren/gleaner/internal/gleaner"
)

const subscriptionNamespace = "-sub"

// InsertSubscription links the user to the feed, returning [gleaner.ErrConflict] if the
// link already exists.
func (r Repo) InsertSubscription(ctx context.Context, userID, feedID string) (gleaner.Subscription, error) {
	const q = `INSERT INTO subscriptions (id, user_id, feed_id) VALUES (?, ?, ?);`

	id := uuid.NewString() + subscriptionNamespace
	_, err := r.db.ExecContext(ctx, q, id, userID, feedID)
	if isUniqueViolation(err) {
		return gleaner.Subscription{}, fmt.Errorf("user %s already subscribed to %s: %w", userID, feedID, gleaner.ErrConflict)
	}
	if err != nil {
		return gleaner.Subscription{}, fmt.Errorf("error creating subscription: %w", err)
	}

	return r.subscription(ctx, id)
}

func (r Repo) subscription(ctx context.Context, id string) (gleaner.Subscription, error) {
	const q = `SELECT * FROM subscriptions WHERE id = ?;`

	var sub gleaner.Subscription
	err := r.db.GetContext(ctx, &sub, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return gleaner.Subscription{}, gleaner.ErrNotFound
	}
	if err != nil {
		return gleaner.Subscription{}, fmt.Errorf("error selecting subscription: %w", err)
	}

	return sub, nil
}

// DeleteSubscription removes the link between the user and the feed. Neither the feed nor
// its items are touched.
func (r Repo) DeleteSubscription(ctx context.Context, userID, feedID string) error {
	const q = `DELETE FROM subscriptions WHERE user_id = ? AND feed_id = ?;`

	res, err := r.db.ExecContext(ctx, q, userID, feedID)
	if err != nil {
		return fmt.Errorf("error deleting subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error counting deleted subscriptions: %w", err)
	}
	if n == 0 {
		return gleaner.ErrNotFound
	}

	return nil
}

// UserSubscriptions returns the user's subscriptions, newest first.
func (r Repo) UserSubscriptions(ctx context.Context, userID string) ([]gleaner.Subscription, error) {
	const q = `SELECT * FROM subscriptions WHERE user_id = ? ORDER BY created_at DESC, rowid DESC;`

	subs := []gleaner.Subscription{}
	if err := r.db.SelectContext(ctx, &subs, q, userID); err != nil {
		return nil, fmt.Errorf("error selecting subscriptions: %w", err)
	}

	return subs, nil
}

// SubscribedFeeds returns every feed that at least one user subscribes to.
func (r Repo) SubscribedFeeds(ctx context.Context) ([]gleaner.Feed, error) {
	const q = `SELECT * FROM feeds
	WHERE id IN (SELECT feed_id FROM subscriptions)
	ORDER BY created_at, rowid;`

	feeds := []gleaner.Feed{}
	if err := r.db.SelectContext(ctx, &feeds, q); err != nil {
		return nil, fmt.Errorf("error selecting subscribed feeds: %w", err)
	}

	return feeds, nil
}
