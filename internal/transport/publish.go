package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// ErrConflict is returned when the data service already holds the item.
var ErrConflict = errors.New("already published")

func (c *Client) PublishProposal(ctx context.Context, id, title, proposer string) error {
	return c.post(ctx, "/api/publish/proposal", map[string]any{
		"proposalId": id,
		"title":      title,
		"proposer":   proposer,
	})
}

func (c *Client) PublishVote(ctx context.Context, proposalID, voter string, support bool) error {
	return c.post(ctx, "/api/publish/vote", map[string]any{
		"proposalId": proposalID,
		"voter":      voter,
		"support":    support,
	})
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return errors.Wrapf(err, "encode %s", path)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return errors.Wrapf(err, "build request %s", path)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "POST %s", path)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusConflict:
		return ErrConflict
	case resp.StatusCode/100 != 2:
		return errors.Errorf("POST %s: unexpected status %d", path, resp.StatusCode)
	}
	return nil
}
