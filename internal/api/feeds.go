package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/samber/lo"

	glerrs "github.com/jdholdren/gleaner/internal/errors"
	"github.com/jdholdren/gleaner/internal/fetch"
	"github.com/jdholdren/gleaner/internal/gleaner"
	"github.com/jdholdren/gleaner/internal/refresh"
	"github.com/jdholdren/gleaner/internal/serverutil"
)

type (
	FeedResp struct {
		ID            string     `json:"id"`
		URL           string     `json:"url"`
		Title         string     `json:"title"`
		Description   string     `json:"description"`
		LastFetchedAt *time.Time `json:"last_fetched_at"`
		CreatedAt     time.Time  `json:"created_at"`
		UpdatedAt     time.Time  `json:"updated_at"`
	}

	ItemResp struct {
		ID          string     `json:"id"`
		FeedID      string     `json:"feed_id"`
		Title       string     `json:"title"`
		Description string     `json:"description"`
		Link        string     `json:"link"`
		GUID        string     `json:"guid"`
		PubDate     *time.Time `json:"pub_date"`
	}

	SubscriptionResp struct {
		ID        string     `json:"id"`
		FeedID    string     `json:"feed_id"`
		CreatedAt time.Time  `json:"created_at"`
		Feed      FeedResp   `json:"feed"`
		Items     []ItemResp `json:"items"`
	}
)

func apiFeed(f gleaner.Feed) FeedResp {
	return FeedResp{
		ID:            f.ID,
		URL:           f.URL,
		Title:         f.Title,
		Description:   lo.FromPtr(f.Description),
		LastFetchedAt: f.LastFetchedAt,
		CreatedAt:     f.CreatedAt,
		UpdatedAt:     f.UpdatedAt,
	}
}

func apiItem(i gleaner.FeedItem) ItemResp {
	return ItemResp{
		ID:          i.ID,
		FeedID:      i.FeedID,
		Title:       i.Title,
		Description: lo.FromPtr(i.Description),
		Link:        i.Link,
		GUID:        lo.FromPtr(i.GUID),
		PubDate:     i.PubDate,
	}
}

func apiSubscription(s gleaner.SubscriptionWithFeed) SubscriptionResp {
	items := make([]ItemResp, 0, len(s.Items))
	for _, item := range s.Items {
		items = append(items, apiItem(item))
	}

	return SubscriptionResp{
		ID:        s.Subscription.ID,
		FeedID:    s.Subscription.FeedID,
		CreatedAt: s.Subscription.CreatedAt,
		Feed:      apiFeed(s.Feed),
		Items:     items,
	}
}

type SubscriptionListResp struct {
	Subscriptions []SubscriptionResp `json:"subscriptions"`
}

func (s Server) getFeeds(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	subs, err := s.deps.Subscriptions.List(ctx, userID(ctx))
	if err != nil {
		return fmt.Errorf("error listing subscriptions: %w", err)
	}

	resp := SubscriptionListResp{
		Subscriptions: make([]SubscriptionResp, 0, len(subs)),
	}
	for _, sub := range subs {
		resp.Subscriptions = append(resp.Subscriptions, apiSubscription(sub))
	}

	return serverutil.WriteJSON(w, http.StatusOK, resp)
}

type PostFeedReq struct {
	URL string `json:"url"`
}

func (req PostFeedReq) Validate() error {
	if err := fetch.ValidateURL(strings.TrimSpace(req.URL)); err != nil {
		return glerrs.E("invalid feed url", http.StatusBadRequest, glerrs.Detail{Field: "url", Error: err.Error()})
	}
	return nil
}

// Fetches the url to prove it's a feed, then subscribes the user to it, creating the
// feed record if this is the first anyone has asked for it.
func (s Server) postFeeds(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	body, err := serverutil.DecodeValid[PostFeedReq](r.Body)
	if err != nil {
		return err
	}
	url := strings.TrimSpace(body.URL)

	res, err := s.deps.Fetcher.Fetch(ctx, url)
	var fErr *fetch.FetchError
	if errors.As(err, &fErr) {
		return glerrs.E(fmt.Sprintf("could not read feed: %s", fErr.Kind), http.StatusBadRequest)
	}
	if err != nil {
		return err
	}

	feed, _, err := s.deps.Registry.Resolve(ctx, url, res)
	if err != nil {
		return fmt.Errorf("error resolving feed: %w", err)
	}

	sub, err := s.deps.Subscriptions.Subscribe(ctx, userID(ctx), feed.ID)
	if errors.Is(err, gleaner.ErrConflict) {
		return glerrs.E("already subscribed to this feed", http.StatusBadRequest)
	}
	if err != nil {
		return fmt.Errorf("error subscribing: %w", err)
	}

	return serverutil.WriteJSON(w, http.StatusCreated, apiSubscription(sub))
}

type messageResp struct {
	Message string `json:"message"`
}

func (s Server) deleteFeed(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx    = r.Context()
		feedID = mux.Vars(r)["feedID"]
	)

	err := s.deps.Subscriptions.Unsubscribe(ctx, userID(ctx), feedID)
	if errors.Is(err, gleaner.ErrNotFound) {
		return glerrs.E("subscription not found", http.StatusNotFound)
	}
	if err != nil {
		return fmt.Errorf("error unsubscribing: %w", err)
	}

	return serverutil.WriteJSON(w, http.StatusOK, messageResp{Message: "unsubscribed"})
}

type RefreshResp struct {
	Message string            `json:"message"`
	Results []refresh.Outcome `json:"results"`
}

// Refreshes everything the user follows. Individual feeds failing still answers 200;
// the per-feed results say which ones did.
func (s Server) postRefresh(w http.ResponseWriter, r *http.Request) error {
	ctx, cancel := context.WithTimeout(r.Context(), s.refreshTimeout)
	defer cancel()

	outcomes, err := s.deps.Refresher.Refresh(ctx, userID(ctx))
	if err != nil {
		return fmt.Errorf("error refreshing feeds: %w", err)
	}

	var (
		failed = lo.CountBy(outcomes, func(o refresh.Outcome) bool { return !o.OK() })
		msg    = fmt.Sprintf("refreshed %d feeds", len(outcomes)-failed)
	)
	if failed > 0 {
		msg += fmt.Sprintf(", %d failed", failed)
	}

	return serverutil.WriteJSON(w, http.StatusOK, RefreshResp{
		Message: msg,
		Results: outcomes,
	})
}

type (
	TimelineResp struct {
		Items      []TimelineItemResp `json:"items"`
		Pagination paginationMeta     `json:"pagination"`
	}

	TimelineItemResp struct {
		ItemResp
		FeedTitle string `json:"feed_title"`
		FeedURL   string `json:"feed_url"`
	}
)

func (s Server) getTimeline(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx  = r.Context()
		page = parsePage(r)
	)

	items, err := s.deps.Timeline.Timeline(ctx, userID(ctx), page)
	if err != nil {
		return fmt.Errorf("error building timeline: %w", err)
	}

	resp := TimelineResp{
		Items:      make([]TimelineItemResp, 0, len(items)),
		Pagination: paginationMeta{Limit: page.Limit, Offset: page.Offset},
	}
	for _, item := range items {
		resp.Items = append(resp.Items, TimelineItemResp{
			ItemResp:  apiItem(item.FeedItem),
			FeedTitle: item.FeedTitle,
			FeedURL:   item.FeedURL,
		})
	}

	return serverutil.WriteJSON(w, http.StatusOK, resp)
}
