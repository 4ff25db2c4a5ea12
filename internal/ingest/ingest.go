// Package ingest normalizes raw feed items and persists the ones that haven't been seen.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/samber/lo"

	"github.com/jdholdren/gleaner/internal/fetch"
	"github.com/jdholdren/gleaner/internal/gleaner"
)

const (
	// MaxItemsPerFetch bounds how many entries of a single fetch are considered.
	MaxItemsPerFetch = 20

	untitled = "Untitled"
)

// ItemInserter persists items, skipping any whose (feed, identity) already exists.
// It returns the number of rows actually written.
type ItemInserter interface {
	InsertItems(ctx context.Context, items []gleaner.FeedItem) (int, error)
}

// Engine turns raw items into feed items and writes the new ones.
type Engine struct {
	store ItemInserter
}

func NewEngine(store ItemInserter) Engine {
	return Engine{store: store}
}

// Upsert normalizes raw and inserts whatever isn't already stored for the feed.
//
// The first write for an identity wins: later duplicates, in this batch or in any later
// refresh, are discarded rather than overwriting it.
func (e Engine) Upsert(ctx context.Context, feedID string, raw []fetch.RawItem) (int, error) {
	items := Normalize(feedID, raw)
	if len(items) == 0 {
		return 0, nil
	}

	n, err := e.store.InsertItems(ctx, items)
	if err != nil {
		return 0, fmt.Errorf("error inserting items for feed %s: %w", feedID, err)
	}

	return n, nil
}

// Normalize applies defaults to the first [MaxItemsPerFetch] raw items and collapses
// duplicates within the batch, keeping the earliest.
func Normalize(feedID string, raw []fetch.RawItem) []gleaner.FeedItem {
	if len(raw) > MaxItemsPerFetch {
		raw = raw[:MaxItemsPerFetch]
	}

	items := lo.Map(raw, func(r fetch.RawItem, _ int) gleaner.FeedItem {
		return normalize(feedID, r)
	})

	return lo.UniqBy(items, func(item gleaner.FeedItem) string {
		return item.Identity
	})
}

func normalize(feedID string, r fetch.RawItem) gleaner.FeedItem {
	item := gleaner.FeedItem{
		FeedID:  feedID,
		Title:   strings.TrimSpace(r.Title),
		Link:    strings.TrimSpace(r.Link),
		PubDate: ParseDate(r.PubDate),
	}
	if item.Title == "" {
		item.Title = untitled
	}
	if desc := strings.TrimSpace(r.Description); desc != "" {
		item.Description = &desc
	}

	switch guid := strings.TrimSpace(r.GUID); {
	case guid != "":
		item.GUID = &guid
	case item.Link != "":
		item.GUID = lo.ToPtr(item.Link)
	}
	item.Identity = gleaner.ItemIdentity(item.GUID, item.Link)

	return item
}

// ParseDate reads the many date formats feeds use in the wild.
// Anything missing or unparsable comes back nil.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil || t.IsZero() {
		return nil
	}
	t = t.UTC()

	return &t
}
