// Package refresh fetches a user's feeds concurrently and stores whatever is new.
//
// Each feed is refreshed independently: one failing never cancels or undoes another, and
// every feed gets an [Outcome] whether it worked or not.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/jdholdren/gleaner/internal/fetch"
	"github.com/jdholdren/gleaner/internal/gleaner"
	"github.com/jdholdren/gleaner/internal/logger"
)

const (
	DefaultConcurrency = 8

	// KindStore marks an outcome where the fetch worked but saving it didn't.
	KindStore fetch.Kind = "store"
	// KindInternal marks an outcome where the unit itself blew up.
	KindInternal fetch.Kind = "internal"

	// How long recording a failed attempt may take once the caller's deadline has passed.
	touchGrace = 2 * time.Second
)

type (
	Fetcher interface {
		Fetch(ctx context.Context, url string) (fetch.Result, error)
	}

	Registry interface {
		Touch(ctx context.Context, feedID, title, description string) error
	}

	Upserter interface {
		Upsert(ctx context.Context, feedID string, raw []fetch.RawItem) (int, error)
	}

	Store interface {
		UserSubscriptions(ctx context.Context, userID string) ([]gleaner.Subscription, error)
		Feeds(ctx context.Context, ids []string) ([]gleaner.Feed, error)
		SubscribedFeeds(ctx context.Context) ([]gleaner.Feed, error)
	}
)

// Outcome is the result of refreshing one feed. Error is empty on success.
type Outcome struct {
	FeedID    string     `json:"feed_id"`
	FeedTitle string     `json:"feed_title"`
	NewItems  int        `json:"new_items"`
	Error     fetch.Kind `json:"error,omitempty"`
}

func (o Outcome) OK() bool { return o.Error == "" }

type Orchestrator struct {
	store       Store
	fetcher     Fetcher
	registry    Registry
	engine      Upserter
	concurrency int
}

func New(store Store, fetcher Fetcher, registry Registry, engine Upserter, concurrency int) *Orchestrator {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	return &Orchestrator{
		store:       store,
		fetcher:     fetcher,
		registry:    registry,
		engine:      engine,
		concurrency: concurrency,
	}
}

// Refresh refreshes every feed the user subscribes to.
//
// Outcomes come back in subscription order. A deadline on ctx abandons fetches still in
// flight; those feeds are reported as timeouts alongside the ones that finished. The only
// error returned is failing to load the subscriptions in the first place.
func (o *Orchestrator) Refresh(ctx context.Context, userID string) ([]Outcome, error) {
	ctx = logger.Ctx(ctx, slog.String("user_id", userID))

	subs, err := o.store.UserSubscriptions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error loading subscriptions: %w", err)
	}
	feedIDs := lo.Map(subs, func(s gleaner.Subscription, _ int) string { return s.FeedID })
	feeds, err := o.store.Feeds(ctx, feedIDs)
	if err != nil {
		return nil, fmt.Errorf("error loading subscribed feeds: %w", err)
	}

	byID := lo.KeyBy(feeds, func(f gleaner.Feed) string { return f.ID })
	ordered := lo.Map(feedIDs, func(id string, _ int) gleaner.Feed {
		if f, ok := byID[id]; ok {
			return f
		}
		return gleaner.Feed{ID: id} // Vanished between queries; reported as a store failure
	})

	return o.refreshFeeds(ctx, ordered), nil
}

// RefreshAll refreshes every feed with at least one subscriber, once each.
func (o *Orchestrator) RefreshAll(ctx context.Context) ([]Outcome, error) {
	feeds, err := o.store.SubscribedFeeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading subscribed feeds: %w", err)
	}

	return o.refreshFeeds(ctx, feeds), nil
}

func (o *Orchestrator) refreshFeeds(ctx context.Context, feeds []gleaner.Feed) []Outcome {
	var (
		outcomes = make([]Outcome, len(feeds))
		start    = time.Now()
	)

	// Deliberately not errgroup.WithContext: units never fail the group, so nothing
	// gets canceled on a sibling's account.
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, feed := range feeds {
		i, feed := i, feed
		g.Go(func() error {
			outcomes[i] = o.refreshOne(ctx, feed)
			return nil
		})
	}
	_ = g.Wait()

	failed := lo.CountBy(outcomes, func(out Outcome) bool { return !out.OK() })
	slog.InfoContext(ctx, "refreshed feeds",
		"feeds", len(outcomes),
		"failed", failed,
		"duration", time.Since(start),
	)

	return outcomes
}

func (o *Orchestrator) refreshOne(ctx context.Context, feed gleaner.Feed) (out Outcome) {
	ctx = logger.Ctx(ctx, slog.String("feed_id", feed.ID))
	out = Outcome{FeedID: feed.ID, FeedTitle: feed.Title}

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic refreshing feed", "panic", r)
			out = Outcome{FeedID: feed.ID, FeedTitle: feed.Title, Error: KindInternal}
		}

		result := "ok"
		if !out.OK() {
			result = string(out.Error)
		}
		feedRefreshes.WithLabelValues(result).Inc()
	}()

	if feed.URL == "" {
		out.Error = KindStore
		return out
	}

	start := time.Now()
	res, err := o.fetcher.Fetch(ctx, feed.URL)
	fetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		out.Error = errorKind(ctx, err)
		slog.WarnContext(ctx, "error fetching feed", "url", feed.URL, "kind", out.Error, "error", err)

		// Record the attempt so staleness shows, even if the caller has given up.
		touchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), touchGrace)
		defer cancel()
		if err := o.registry.Touch(touchCtx, feed.ID, "", ""); err != nil {
			slog.ErrorContext(ctx, "error recording failed fetch", "error", err)
		}

		return out
	}

	if err := o.registry.Touch(ctx, feed.ID, res.Title, res.Description); err != nil {
		slog.ErrorContext(ctx, "error updating feed", "error", err)
		out.Error = KindStore
		return out
	}
	if res.Title != "" {
		out.FeedTitle = res.Title
	}

	n, err := o.engine.Upsert(ctx, feed.ID, res.Items)
	if err != nil {
		slog.ErrorContext(ctx, "error storing feed items", "error", err)
		out.Error = KindStore
		return out
	}
	out.NewItems = n
	itemsInserted.Add(float64(n))

	return out
}

func errorKind(ctx context.Context, err error) fetch.Kind {
	var fErr *fetch.FetchError
	if errors.As(err, &fErr) {
		return fErr.Kind
	}
	if ctx.Err() != nil {
		return fetch.KindTimeout
	}

	return fetch.KindNetwork
}
