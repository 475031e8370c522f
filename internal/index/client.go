// Package index is the REST client for the downstream search index that
// receives document chunks. The index embeds uploaded content itself; this
// client only posts actions.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Document identifiers are derived from (documentID, seq) so re-uploading a
// chunk overwrites its previous copy instead of duplicating it.
func chunkKey(documentID int64, seq int) string {
	return fmt.Sprintf("doc-%d-chunk-%d", documentID, seq)
}

type action struct {
	Action     string `json:"@search.action"`
	ID         string `json:"id"`
	DocumentID int64  `json:"document_id,omitempty"`
	FileName   string `json:"file_name,omitempty"`
	Content    string `json:"content,omitempty"`
}

type payload struct {
	Value []action `json:"value"`
}

// UploadItem is one chunk to send to the index.
type UploadItem struct {
	DocumentID int64
	FileName   string
	Seq        int
	Content    string
}

// DeleteItem identifies one chunk to remove from the index.
type DeleteItem struct {
	DocumentID int64
	Seq        int
}

// Config holds the connection settings for the search index.
type Config struct {
	Endpoint   string
	APIKey     string
	IndexName  string
	APIVersion string
	Timeout    time.Duration
}

// Client posts chunk actions to the search index.
type Client struct {
	config     Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-07-01"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Upload posts a batch of chunks with the upload action.
func (c *Client) Upload(ctx context.Context, items []UploadItem) error {
	if len(items) == 0 {
		return nil
	}
	actions := make([]action, 0, len(items))
	for _, item := range items {
		actions = append(actions, action{
			Action:     "upload",
			ID:         chunkKey(item.DocumentID, item.Seq),
			DocumentID: item.DocumentID,
			FileName:   item.FileName,
			Content:    item.Content,
		})
	}
	return c.post(ctx, payload{Value: actions})
}

// Delete posts a batch of chunk removals.
func (c *Client) Delete(ctx context.Context, items []DeleteItem) error {
	if len(items) == 0 {
		return nil
	}
	actions := make([]action, 0, len(items))
	for _, item := range items {
		actions = append(actions, action{
			Action: "delete",
			ID:     chunkKey(item.DocumentID, item.Seq),
		})
	}
	return c.post(ctx, payload{Value: actions})
}

func (c *Client) post(ctx context.Context, p payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/indexes('%s')/docs/search.index?api-version=%s",
		c.config.Endpoint, c.config.IndexName, c.config.APIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("index returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
