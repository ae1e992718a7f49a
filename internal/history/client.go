package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/capitalize-ai/conversation-sync/internal/model"
)

// Client is the REST side-channel collaborator: it fetches the expected
// event count that seeds the Tracker and can page historical events for
// pre-populating the UI.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a side-channel client for the given API base URL.
// token may be empty when the backend does not require auth.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// EventCount fetches the number of events that exist for a conversation.
func (c *Client) EventCount(ctx context.Context, conversationID string) (int, error) {
	endpoint := fmt.Sprintf("%s/conversations/%s/events/count", c.baseURL, url.PathEscape(conversationID))

	var resp model.EventCountResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return 0, fmt.Errorf("failed to fetch event count: %w", err)
	}
	return resp.Count, nil
}

// SearchEvents fetches one page of historical events. cursor is empty
// for the first page; limit <= 0 uses the backend default.
func (c *Client) SearchEvents(ctx context.Context, conversationID, cursor string, limit int) (*model.EventPageResponse, error) {
	endpoint := fmt.Sprintf("%s/conversations/%s/events", c.baseURL, url.PathEscape(conversationID))

	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var resp model.EventPageResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("failed to search events: %w", err)
	}
	return &resp, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
