package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"ojeval/internal/notify"
	pkgerrors "ojeval/pkg/errors"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Decode unwraps the response envelope into out. Non-success codes come
// back as errors carrying the server message.
func Decode(resp ResponseInfo, out any) error {
	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return fmt.Errorf("decode response failed (HTTP %d): %w", resp.StatusCode, err)
	}
	if env.Code != int(pkgerrors.Success) {
		return fmt.Errorf("request failed: %s (code %d)", env.Message, env.Code)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data failed: %w", err)
	}
	return nil
}

// FetchStatus reads the status snapshot of a submission. Client satisfies
// notify.Fetcher through it.
func (c *Client) FetchStatus(ctx context.Context, submissionID string) (notify.Snapshot, error) {
	var snap notify.Snapshot
	resp, err := c.Do(ctx, http.MethodGet, "/api/v1/submissions/"+url.PathEscape(submissionID)+"/status", nil, nil)
	if err != nil {
		return snap, err
	}
	err = Decode(resp, &snap)
	return snap, err
}

var _ notify.Fetcher = (*Client)(nil)
