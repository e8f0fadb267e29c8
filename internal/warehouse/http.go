package warehouse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prudhvinik1/tablesync/internal/models"
)

// HTTPExporter talks to the warehouse export service. The service stages
// partition exports to object storage and streams them back as NDJSON; the
// blob handle never surfaces here, only the row stream.
//
//	GET {base}/tables/{t}/partitions?since_at=...&since_version=...
//	GET {base}/tables/{t}/partitions/{p}/rows
//	GET {base}/tables/{t}/rows
type HTTPExporter struct {
	base   string
	client *http.Client
}

func NewHTTPExporter(base string) *HTTPExporter {
	return &HTTPExporter{
		base:   base,
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (e *HTTPExporter) ListChangedPartitions(ctx context.Context, table string, since models.Watermark) ([]Partition, error) {
	q := url.Values{}
	if !since.LastSyncedAt.IsZero() {
		q.Set("since_at", since.LastSyncedAt.Format(time.RFC3339Nano))
	}
	q.Set("since_version", strconv.FormatInt(since.LastSyncedVersion, 10))

	endpoint := fmt.Sprintf("%s/tables/%s/partitions?%s", e.base, url.PathEscape(table), q.Encode())
	resp, err := e.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload []struct {
		ID         string    `json:"id"`
		ModifiedAt time.Time `json:"modified_at"`
		Version    int64     `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode partition list: %w", err)
	}

	parts := make([]Partition, 0, len(payload))
	for _, p := range payload {
		parts = append(parts, Partition{ID: p.ID, ModifiedAt: p.ModifiedAt, Version: p.Version})
	}
	return parts, nil
}

func (e *HTTPExporter) ExportPartition(ctx context.Context, table string, partitionID string) (RowReader, error) {
	endpoint := fmt.Sprintf("%s/tables/%s/partitions/%s/rows",
		e.base, url.PathEscape(table), url.PathEscape(partitionID))
	resp, err := e.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return NewNDJSONReader(resp.Body), nil
}

func (e *HTTPExporter) ExportAll(ctx context.Context, table string) (RowReader, error) {
	endpoint := fmt.Sprintf("%s/tables/%s/rows", e.base, url.PathEscape(table))
	resp, err := e.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return NewNDJSONReader(resp.Body), nil
}

func (e *HTTPExporter) get(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned %d", ErrPartitionExpired, endpoint, resp.StatusCode)
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned %d", ErrUnavailable, endpoint, resp.StatusCode)
	}
}
