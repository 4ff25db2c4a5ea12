package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/gleaner/internal/fetch"
	"github.com/jdholdren/gleaner/internal/gleaner"
)

// Mimics the store's insert-or-skip on (feed_id, identity).
type memStore struct {
	rows []gleaner.FeedItem
	err  error
}

func (m *memStore) InsertItems(_ context.Context, items []gleaner.FeedItem) (int, error) {
	if m.err != nil {
		return 0, m.err
	}

	inserted := 0
	for _, item := range items {
		exists := false
		for _, row := range m.rows {
			if row.FeedID == item.FeedID && row.Identity == item.Identity {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		m.rows = append(m.rows, item)
		inserted++
	}

	return inserted, nil
}

func TestNormalize_Defaults(t *testing.T) {
	items := Normalize("feed-1", []fetch.RawItem{
		{GUID: "g1", Title: "A", Link: "https://example.com/a", Description: "about a", PubDate: "2024-01-01"},
		{Link: "https://example.com/b", PubDate: "not a date"},
		{Title: "  no link or guid  "},
	})
	require.Len(t, items, 3)

	assert.Equal(t, "A", items[0].Title)
	assert.Equal(t, "g1", *items[0].GUID)
	assert.Equal(t, "g1", items[0].Identity)
	assert.Equal(t, "about a", *items[0].Description)
	require.NotNil(t, items[0].PubDate)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *items[0].PubDate)

	// Falls back on the link for identity, untitled for the title
	assert.Equal(t, "Untitled", items[1].Title)
	assert.Equal(t, "https://example.com/b", *items[1].GUID)
	assert.Equal(t, "https://example.com/b", items[1].Identity)
	assert.Nil(t, items[1].PubDate)
	assert.Nil(t, items[1].Description)

	assert.Equal(t, "no link or guid", items[2].Title)
	assert.Nil(t, items[2].GUID)
	assert.Equal(t, "", items[2].Link)
	assert.Equal(t, "", items[2].Identity)

	for _, item := range items {
		assert.Equal(t, "feed-1", item.FeedID)
	}
}

func TestNormalize_CapsBatch(t *testing.T) {
	var raw []fetch.RawItem
	for i := 0; i < 35; i++ {
		raw = append(raw, fetch.RawItem{GUID: fmt.Sprintf("g%d", i)})
	}

	items := Normalize("feed-1", raw)
	require.Len(t, items, MaxItemsPerFetch)
	assert.Equal(t, "g19", *items[len(items)-1].GUID)
}

func TestUpsert_FirstWriteWins(t *testing.T) {
	store := &memStore{}
	e := NewEngine(store)

	n, err := e.Upsert(context.Background(), "feed-1", []fetch.RawItem{
		{GUID: "g1", Title: "A", PubDate: "2024-01-01"},
		{GUID: "g1", Title: "A-dup"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	require.Len(t, store.rows, 1)
	assert.Equal(t, "A", store.rows[0].Title)
	assert.Equal(t, "g1", *store.rows[0].GUID)
}

func TestUpsert_Idempotent(t *testing.T) {
	store := &memStore{}
	e := NewEngine(store)
	raw := []fetch.RawItem{
		{GUID: "g1", Title: "One"},
		{Link: "https://example.com/two", Title: "Two"},
	}

	n, err := e.Upsert(context.Background(), "feed-1", raw)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = e.Upsert(context.Background(), "feed-1", raw)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, store.rows, 2)

	// Same identities under another feed are distinct items
	n, err = e.Upsert(context.Background(), "feed-2", raw)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestUpsert_Empty(t *testing.T) {
	store := &memStore{err: errors.New("should not be called")}

	n, err := NewEngine(store).Upsert(context.Background(), "feed-1", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpsert_StoreError(t *testing.T) {
	store := &memStore{err: errors.New("disk full")}

	_, err := NewEngine(store).Upsert(context.Background(), "feed-1", []fetch.RawItem{{GUID: "g1"}})
	assert.ErrorContains(t, err, "disk full")
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		input  string
		expect *time.Time
	}{
		{input: "Mon, 01 Jan 2024 12:00:00 GMT", expect: ptr(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))},
		{input: "2024-01-02T12:00:00Z", expect: ptr(time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC))},
		{input: "2024-01-03T14:00:00+02:00", expect: ptr(time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC))},
		{input: "", expect: nil},
		{input: "yesterday-ish", expect: nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseDate(tt.input)
			if tt.expect == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, tt.expect.Equal(*got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func ptr[T any](v T) *T { return &v }
