package fetcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"donor_check/internal/model"
)

// NoticeFeed reads announcements from an RSS or Atom feed.
type NoticeFeed struct {
	client  HTTPClient
	url     string
	timeout time.Duration
}

// NewNoticeFeed creates a NoticeFeed for the feed at url.
func NewNoticeFeed(client HTTPClient, url string) *NoticeFeed {
	return &NoticeFeed{
		client:  client,
		url:     url,
		timeout: 30 * time.Second,
	}
}

// Latest returns up to n notices in feed order.
func (f *NoticeFeed) Latest(ctx context.Context, n int) ([]model.Notice, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "DonorCheckBot/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFileSize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	notices := make([]model.Notice, 0, min(max(n, 0), len(feed.Items)))
	for _, item := range feed.Items {
		if len(notices) >= n {
			break
		}
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}
		notice := model.Notice{
			Title: title,
			Link:  item.Link,
			GUID:  itemGUID(item),
		}
		switch {
		case item.PublishedParsed != nil:
			notice.PublishedAt = item.PublishedParsed.UTC()
		case item.UpdatedParsed != nil:
			notice.PublishedAt = item.UpdatedParsed.UTC()
		}
		notices = append(notices, notice)
	}
	return notices, nil
}

// itemGUID falls back to a hash of title and link for items without a GUID.
func itemGUID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Link))
	return fmt.Sprintf("sha256:%x", h[:16])
}
