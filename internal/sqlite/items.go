package sqlite

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/jdholdren/gleaner/internal/gleaner"
)

const itemNamespace = "-item"

var itemColumns = []string{
	"id",
	"feed_id",
	"title",
	"description",
	"link",
	"pub_date",
	"guid",
	"identity",
	"created_at",
}

// Newest first, undated last, and insertion order among equals.
var itemOrder = []string{"pub_date IS NULL", "pub_date DESC", "rowid ASC"}

func qualified(table string, cols []string) []string {
	return lo.Map(cols, func(c string, _ int) string {
		return table + "." + c
	})
}

// InsertItems writes items, skipping any whose identity already exists in its feed.
//
// Returns the number of rows written.
func (r Repo) InsertItems(ctx context.Context, items []gleaner.FeedItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	rows := make([]gleaner.FeedItem, len(items))
	for i, item := range items {
		item.ID = uuid.NewString() + itemNamespace
		if item.PubDate != nil {
			t := item.PubDate.UTC()
			item.PubDate = &t
		}
		rows[i] = item
	}

	const q = `INSERT INTO feed_items (id, feed_id, title, description, link, pub_date, guid, identity)
	VALUES (:id, :feed_id, :title, :description, :link, :pub_date, :guid, :identity)
	ON CONFLICT (feed_id, identity) DO NOTHING;`
	res, err := r.db.NamedExecContext(ctx, q, rows)
	if err != nil {
		return 0, fmt.Errorf("error inserting items: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error counting inserted items: %w", err)
	}

	return int(n), nil
}

// RecentItems returns up to perFeed of the most recently dated items for each feed,
// grouped by feed id.
func (r Repo) RecentItems(ctx context.Context, feedIDs []string, perFeed int) (map[string][]gleaner.FeedItem, error) {
	if len(feedIDs) == 0 || perFeed <= 0 {
		return map[string][]gleaner.FeedItem{}, nil
	}

	ranked := sq.Select(itemColumns...).
		Column("ROW_NUMBER() OVER (PARTITION BY feed_id ORDER BY pub_date IS NULL, pub_date DESC, rowid ASC) AS rn").
		From("feed_items").
		Where(sq.Eq{"feed_id": feedIDs})
	query, args, err := sq.Select(itemColumns...).
		FromSelect(ranked, "ranked").
		Where(sq.LtOrEq{"rn": perFeed}).
		OrderBy("feed_id", "rn").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %w", err)
	}

	var items []gleaner.FeedItem
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("error selecting recent items: %w", err)
	}

	return lo.GroupBy(items, func(item gleaner.FeedItem) string {
		return item.FeedID
	}), nil
}

// TimelineItems merges the items of the given feeds into one ordered page.
func (r Repo) TimelineItems(ctx context.Context, feedIDs []string, limit, offset int) ([]gleaner.TimelineItem, error) {
	if len(feedIDs) == 0 {
		return []gleaner.TimelineItem{}, nil
	}

	query, args, err := sq.Select(qualified("fi", itemColumns)...).
		Column("f.title AS feed_title").
		Column("f.url AS feed_url").
		From("feed_items fi").
		Join("feeds f ON f.id = fi.feed_id").
		Where(sq.Eq{"fi.feed_id": feedIDs}).
		OrderBy(qualified("fi", itemOrder)...).
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %w", err)
	}

	items := []gleaner.TimelineItem{}
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("error selecting timeline items: %w", err)
	}

	return items, nil
}
