package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/jdholdren/gleaner/internal/gleaner"
)

const feedNamespace = "-fd"

func (r Repo) Feed(ctx context.Context, id string) (gleaner.Feed, error) {
	const q = `SELECT * FROM feeds WHERE id = ?;`

	var feed gleaner.Feed
	err := r.db.GetContext(ctx, &feed, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return gleaner.Feed{}, gleaner.ErrNotFound
	}
	if err != nil {
		return gleaner.Feed{}, fmt.Errorf("error fetching feed: %w", err)
	}

	return feed, nil
}

func (r Repo) Feeds(ctx context.Context, ids []string) ([]gleaner.Feed, error) {
	if len(ids) == 0 {
		return []gleaner.Feed{}, nil
	}

	query, args, err := sq.Select("*").From("feeds").Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %w", err)
	}

	var feeds []gleaner.Feed
	if err := r.db.SelectContext(ctx, &feeds, query, args...); err != nil {
		return nil, fmt.Errorf("error fetching feeds: %w", err)
	}

	return feeds, nil
}

func (r Repo) FeedByURL(ctx context.Context, url string) (gleaner.Feed, error) {
	const q = `SELECT * FROM feeds WHERE url = ?;`

	var feed gleaner.Feed
	err := r.db.GetContext(ctx, &feed, q, url)
	if errors.Is(err, sql.ErrNoRows) {
		return gleaner.Feed{}, gleaner.ErrNotFound
	}
	if err != nil {
		return gleaner.Feed{}, fmt.Errorf("error fetching feed by url: %w", err)
	}

	return feed, nil
}

// InsertFeed creates the feed, returning [gleaner.ErrConflict] if the url is taken.
func (r Repo) InsertFeed(ctx context.Context, f gleaner.Feed) (gleaner.Feed, error) {
	const q = `INSERT INTO feeds (id, url, title, description, last_fetched_at)
	VALUES (:id, :url, :title, :description, :last_fetched_at);`

	f.ID = uuid.NewString() + feedNamespace
	if f.LastFetchedAt != nil {
		t := f.LastFetchedAt.UTC()
		f.LastFetchedAt = &t
	}

	_, err := r.db.NamedExecContext(ctx, q, f)
	if isUniqueViolation(err) {
		return gleaner.Feed{}, fmt.Errorf("feed %s already exists: %w", f.URL, gleaner.ErrConflict)
	}
	if err != nil {
		return gleaner.Feed{}, fmt.Errorf("error inserting feed: %w", err)
	}

	return r.Feed(ctx, f.ID)
}

// UpdateFeed sets whichever fields in args are non-zero.
func (r Repo) UpdateFeed(ctx context.Context, id string, args gleaner.UpdateFeedArgs) error {
	q := sq.Update("feeds").Set("updated_at", time.Now().UTC())
	if args.Title != "" {
		q = q.Set("title", args.Title)
	}
	if args.Description != "" {
		q = q.Set("description", args.Description)
	}
	if !args.LastFetched.IsZero() {
		q = q.Set("last_fetched_at", args.LastFetched.UTC())
	}
	q = q.Where(sq.Eq{"id": id})

	query, qArgs, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, qArgs...)
	if err != nil {
		return fmt.Errorf("error executing feed update: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return gleaner.ErrNotFound
	}

	return nil
}
