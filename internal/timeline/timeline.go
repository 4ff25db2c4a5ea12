// Package timeline merges the items of every feed a user follows into one list,
// newest first.
package timeline

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/jdholdren/gleaner/internal/gleaner"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

type Store interface {
	UserSubscriptions(ctx context.Context, userID string) ([]gleaner.Subscription, error)
	TimelineItems(ctx context.Context, feedIDs []string, limit, offset int) ([]gleaner.TimelineItem, error)
}

// Page selects a window of the timeline. Zero values mean the first page at the default size.
type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps the page to what the composer will actually serve.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	p.Limit = min(p.Limit, MaxLimit)
	p.Offset = max(p.Offset, 0)

	return p
}

type Composer struct {
	store Store
}

func New(store Store) Composer {
	return Composer{store: store}
}

// Timeline returns a page of the user's items ordered by publication date, newest first.
// Undated items come last; items sharing a date keep the order they were stored in.
func (c Composer) Timeline(ctx context.Context, userID string, page Page) ([]gleaner.TimelineItem, error) {
	page = page.Normalize()

	subs, err := c.store.UserSubscriptions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error loading subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return []gleaner.TimelineItem{}, nil
	}

	feedIDs := lo.Map(subs, func(s gleaner.Subscription, _ int) string { return s.FeedID })
	items, err := c.store.TimelineItems(ctx, feedIDs, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("error loading timeline items: %w", err)
	}

	return items, nil
}
