package warehouse

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/prudhvinik1/tablesync/internal/models"
)

// NDJSONReader decodes a staged export blob: one JSON object per line, one
// line per row. The blob format is the staging layer's contract; this reader
// covers the newline-delimited JSON variant.
type NDJSONReader struct {
	src     io.ReadCloser
	scanner *bufio.Scanner
}

func NewNDJSONReader(src io.ReadCloser) *NDJSONReader {
	scanner := bufio.NewScanner(src)
	// Rows with wide text columns can exceed the default 64KB token limit.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &NDJSONReader{src: src, scanner: scanner}
}

func (r *NDJSONReader) Next(ctx context.Context) (models.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row models.Row
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("failed to decode staged row: %w", err)
		}
		return row, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read staged export: %w", err)
	}
	return nil, io.EOF
}

func (r *NDJSONReader) Close() error {
	return r.src.Close()
}
