// Package remote is the client for the hosted relational store the agent
// syncs against. The sink speaks a PostgREST-style REST dialect: records are
// upserted by primary key with merge-duplicates resolution, which is what
// makes re-delivery after a lost acknowledgment a no-op instead of a
// duplicate row.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/londonpesquisas/fieldsync/internal/storage"
)

const interviewsTable = "interviews"
const surveysTable = "surveys"

// Client communicates with the remote sink over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a Client targeting the given base URL, authenticating every
// request with apiKey.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 0, // callers bound requests via context
		},
	}
}

// Upsert inserts or replaces a record in table, keyed by the record's id.
// Safe to repeat with the same record.
func (c *Client) Upsert(ctx context.Context, table string, record any) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding %s record: %w", table, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tableURL(table, nil), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building upsert request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upserting into %s: %w", table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upserting into %s: %s", table, readAPIError(resp))
	}
	return nil
}

// Select fetches records from table matching filter (PostgREST query
// parameters, e.g. id=eq.<id>) and decodes the JSON array into dest.
func (c *Client) Select(ctx context.Context, table string, filter url.Values, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.tableURL(table, filter), nil)
	if err != nil {
		return fmt.Errorf("building select request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("selecting from %s: %w", table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("selecting from %s: %s", table, readAPIError(resp))
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decoding %s response: %w", table, err)
	}
	return nil
}

// UpsertInterview implements the sync engine's sink contract.
func (c *Client) UpsertInterview(ctx context.Context, iv storage.Interview) error {
	return c.Upsert(ctx, interviewsTable, iv)
}

// FetchSurvey loads one survey with its question set. Returns
// storage.ErrNotFound if the sink has no such survey.
func (c *Client) FetchSurvey(ctx context.Context, id string) (storage.Survey, error) {
	filter := url.Values{}
	filter.Set("id", "eq."+id)
	filter.Set("limit", "1")

	var rows []storage.Survey
	if err := c.Select(ctx, surveysTable, filter, &rows); err != nil {
		return storage.Survey{}, err
	}
	if len(rows) == 0 {
		return storage.Survey{}, storage.ErrNotFound
	}
	return rows[0], nil
}

// Online reports whether the sink is reachable. Any HTTP response counts,
// even an error status: reachability is about the network path, not auth.
func (c *Client) Online(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/", nil)
	if err != nil {
		return false
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

func (c *Client) tableURL(table string, filter url.Values) string {
	u := c.baseURL + "/" + url.PathEscape(table)
	if len(filter) > 0 {
		u += "?" + filter.Encode()
	}
	return u
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

// readAPIError produces a short diagnostic from an error response body.
func readAPIError(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Sprintf("status %d", resp.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", resp.StatusCode, msg)
}
