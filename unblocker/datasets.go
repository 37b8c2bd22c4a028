package unblocker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/musicaftersex/brightdata-mcp/connectivity"
	"github.com/musicaftersex/brightdata-mcp/guard"
	"github.com/musicaftersex/brightdata-mcp/kit"
	"github.com/musicaftersex/brightdata-mcp/toolerr"
)

// Trigger starts a dataset collection for one input record and returns the
// snapshot id.
func (c *Client) Trigger(ctx context.Context, datasetID string, input map[string]any) (string, error) {
	if err := guard.ValidateIdentifier(datasetID); err != nil {
		return "", fmt.Errorf("unblocker: dataset id: %w", err)
	}
	var out struct {
		SnapshotID string `json:"snapshot_id"`
	}
	err := c.doJSON(ctx, &connectivity.Request{
		Method: http.MethodPost,
		Path:   "/datasets/v3/trigger",
		Query:  url.Values{"dataset_id": {datasetID}, "include_errors": {"true"}},
		Body:   jsonBody([]map[string]any{input}),
	}, &out)
	if err != nil {
		return "", err
	}
	if out.SnapshotID == "" {
		return "", fmt.Errorf("unblocker: trigger %s: no snapshot id in reply", datasetID)
	}
	return out.SnapshotID, nil
}

// Snapshot fetches a collection result. ready is false while the upstream
// is still collecting.
func (c *Client) Snapshot(ctx context.Context, snapshotID string) (data json.RawMessage, ready bool, err error) {
	if err := guard.ValidateIdentifier(snapshotID); err != nil {
		return nil, false, fmt.Errorf("unblocker: snapshot id: %w", err)
	}
	resp, err := c.do(ctx, &connectivity.Request{
		Method: http.MethodGet,
		Path:   "/datasets/v3/snapshot/" + snapshotID,
		Query:  url.Values{"format": {"json"}},
	})
	if err != nil {
		return nil, false, err
	}
	if resp.Status == http.StatusAccepted || pending(resp.Body) {
		return nil, false, nil
	}
	return json.RawMessage(resp.Body), true, nil
}

// pending reports whether body is a progress status object rather than data.
func pending(body []byte) bool {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return false
	}
	var st struct {
		Status string `json:"status"`
	}
	if json.Unmarshal(body, &st) != nil {
		return false
	}
	switch st.Status {
	case "running", "building", "starting", "collecting":
		return true
	}
	return false
}

// Collect triggers a collection and polls until the data is ready, the
// poll ceiling is reached or ctx is done. Progress is reported after each
// poll.
func (c *Client) Collect(ctx context.Context, datasetID string, input map[string]any) (json.RawMessage, error) {
	snapshotID, err := c.Trigger(ctx, datasetID, input)
	if err != nil {
		return nil, err
	}
	c.logger.Info("unblocker: collection triggered", "dataset", datasetID, "snapshot", snapshotID)

	total := int(c.pollTimeout / c.pollInterval)
	if total < 1 {
		total = 1
	}
	deadline := time.Now().Add(c.pollTimeout)
	for attempt := 1; ; attempt++ {
		data, ready, err := c.Snapshot(ctx, snapshotID)
		if err != nil {
			return nil, err
		}
		if ready {
			kit.ReportProgress(ctx, float64(total), float64(total), "collection ready")
			return data, nil
		}
		kit.ReportProgress(ctx, float64(min(attempt, total-1)), float64(total),
			fmt.Sprintf("waiting for snapshot %s", snapshotID))

		if !time.Now().Add(c.pollInterval).Before(deadline) {
			return nil, toolerr.User("dataset collection %s timed out after %s, snapshot %s may still complete later",
				datasetID, c.pollTimeout, snapshotID)
		}
		t := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("unblocker: poll %s: %w", snapshotID, ctx.Err())
		case <-t.C:
		}
	}
}
