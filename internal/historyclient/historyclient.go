// Package historyclient is the REST leg behind facades/messages.Get
// and facades/occupancy.Get: a net/http client with
// cenkalti/backoff/v4 retry and a bounded hashicorp/golang-lru/v2
// cache, grounded on dep2p-go-dep2p's use of the same LRU package for
// its peerstore cache.
package historyclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ably-labs/ably-chat-go/internal/domain"
	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// HistoryPage is one page of a room's message history, cursor-paged
// per the original chat SDK's history endpoint (spec's Supplemented
// Features §C).
type HistoryPage struct {
	Items         []domain.Message `json:"items"`
	NextPageToken string           `json:"nextPageToken,omitempty"`
}

// Client is the shared REST client for history and occupancy queries.
type Client struct {
	http    *http.Client
	baseURL string
	cache   *lru.Cache[string, HistoryPage]
	log     zerolog.Logger
}

// New wires a Client against baseURL with an LRU history-page cache
// holding up to cacheSize entries.
func New(baseURL string, cacheSize int, log zerolog.Logger) (*Client, error) {
	cache, err := lru.New[string, HistoryPage](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("historyclient: %w", err)
	}
	return &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
		cache:   cache,
		log:     log.With().Str("module", "historyclient").Logger(),
	}, nil
}

// GetHistory fetches one page of message history for roomID, using
// pageToken as the cursor ("" for the first page). Pages already seen
// for this (room, token) pair are served from cache without a network
// round trip.
func (c *Client) GetHistory(ctx context.Context, roomID domain.RoomID, pageToken string) (HistoryPage, error) {
	key := string(roomID) + "|" + pageToken
	if page, ok := c.cache.Get(key); ok {
		return page, nil
	}

	u := fmt.Sprintf("%s/rooms/%s/messages", c.baseURL, url.PathEscape(string(roomID)))
	if pageToken != "" {
		u += "?pageToken=" + url.QueryEscape(pageToken)
	}

	var page HistoryPage
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(fmt.Errorf("historyclient: %s returned %d", u, resp.StatusCode))
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("historyclient: %s returned %d", u, resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&page)
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return HistoryPage{}, err
	}

	c.cache.Add(key, page)
	return page, nil
}

// GetOccupancy fetches a one-shot occupancy snapshot, uncached since
// it is a live metric rather than an immutable history page.
func (c *Client) GetOccupancy(ctx context.Context, roomID domain.RoomID) (domain.OccupancyMetrics, error) {
	u := fmt.Sprintf("%s/rooms/%s/occupancy", c.baseURL, url.PathEscape(string(roomID)))

	var metrics domain.OccupancyMetrics
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(fmt.Errorf("historyclient: %s returned %d", u, resp.StatusCode))
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("historyclient: %s returned %d", u, resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&metrics)
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return domain.OccupancyMetrics{}, err
	}
	return metrics, nil
}
