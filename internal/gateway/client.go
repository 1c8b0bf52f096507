// Package gateway is the adapter to the external channel provider. It is
// failure-isolated: callers persist locally first and treat every outcome
// here as best effort.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zapdesk/chatsync-server/internal/config"
	"github.com/zapdesk/chatsync-server/internal/model"
)

// DispatchRequest is the outbound payload handed to the provider.
type DispatchRequest struct {
	RecipientAddress string            `json:"recipientAddress"`
	Body             string            `json:"body"`
	Kind             model.MessageKind `json:"kind"`
	MediaURL         *string           `json:"mediaUrl,omitempty"`
}

// LogItem is one entry of the provider's own message log, fetched by the
// polling fallback. External ids are the dedup key; the provider timestamp is
// the ordering key when present.
type LogItem struct {
	ExternalMessageID string                 `json:"externalMessageId"`
	ConversationID    string                 `json:"conversationId"`
	ContactID         string                 `json:"contactId"`
	Direction         model.MessageDirection `json:"direction"`
	Kind              model.MessageKind      `json:"kind"`
	Body              string                 `json:"body"`
	MediaURL          *string                `json:"mediaUrl,omitempty"`
	FromOwnDevice     bool                   `json:"fromOwnDevice"`
	Timestamp         time.Time              `json:"timestamp"`
}

type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: config.GatewayTimeout,
		},
	}
}

// Dispatch sends an already-persisted message through the external channel.
// Any error here is a DispatchFailed outcome for the caller, never a rollback.
func (c *Client) Dispatch(ctx context.Context, connectionID string, req DispatchRequest) error {
	endpoint := fmt.Sprintf("%s/instances/%s/messages", c.baseURL, url.PathEscape(connectionID))

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal dispatch request: %w", err)
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	elapsed := time.Since(start)

	if err != nil {
		log.Error().
			Err(err).
			Str("connectionId", connectionID).
			Dur("elapsed", elapsed).
			Msg("gateway dispatch error")
		return fmt.Errorf("dispatch request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().
			Str("connectionId", connectionID).
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("gateway dispatch rejected")
		return fmt.Errorf("dispatch failed with status %d", resp.StatusCode)
	}

	log.Debug().
		Str("connectionId", connectionID).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("gateway dispatch delivered")

	return nil
}

// FetchRecentMessages pulls the provider's message log for one connection.
// The poller feeds every item through the shared ingestion path; dedup
// decides what is new.
func (c *Client) FetchRecentMessages(ctx context.Context, connectionID string, since time.Time) ([]LogItem, error) {
	endpoint := fmt.Sprintf("%s/instances/%s/messages?since=%s",
		c.baseURL, url.PathEscape(connectionID), url.QueryEscape(since.UTC().Format(time.RFC3339)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch message log: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch message log: status %d", resp.StatusCode)
	}

	var payload struct {
		Messages []LogItem `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode message log: %w", err)
	}

	return payload.Messages, nil
}
