package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/Guizzs26/dao_governance_stream/internal/schema"
)

// Client talks to the data service's read endpoints. It implements Poller
// and schema.Source.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), http: hc}
}

func (c *Client) Proposals(ctx context.Context) ([]map[string]any, error) {
	var items []map[string]any
	if err := c.get(ctx, "/api/read/proposals", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) Votes(ctx context.Context, proposalID string) ([]map[string]any, error) {
	var items []map[string]any
	q := url.Values{"proposalId": {proposalID}}
	if err := c.get(ctx, "/api/read/vote", q, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) Schemas(ctx context.Context) (schema.IDs, error) {
	var ids schema.IDs
	if err := c.get(ctx, "/api/schemas", nil, &ids); err != nil {
		return schema.IDs{}, err
	}
	return ids, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Wrapf(err, "build request %s", path)
	}
	req.Header.Set("Cache-Control", "no-store")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "GET %s", path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	if resp.StatusCode/100 != 2 {
		return errors.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s", path)
	}
	return nil
}
