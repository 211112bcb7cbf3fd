package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"

	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/domain"
)

// PartRows caps the rows in one part file.
const PartRows = 100_000

const (
	partExt       = ".jsonl.sz"
	successMarker = "_SUCCESS"
	contentType   = "application/x-ndjson"
)

// EncodeRows writes rows as JSON lines inside a snappy framed stream.
func EncodeRows(w io.Writer, rows []domain.TrainingRow) error {
	sw := snappy.NewBufferedWriter(w)
	enc := json.NewEncoder(sw)
	for i := range rows {
		if err := enc.Encode(&rows[i]); err != nil {
			_ = sw.Close()
			return fmt.Errorf("encode row %d: %w", i, err)
		}
	}
	return sw.Close()
}

// DecodeRows reads a stream written by EncodeRows.
func DecodeRows(r io.Reader) ([]domain.TrainingRow, error) {
	dec := json.NewDecoder(snappy.NewReader(r))
	var out []domain.TrainingRow
	for {
		var row domain.TrainingRow
		err := dec.Decode(&row)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode row %d: %w", len(out), err)
		}
		out = append(out, row)
	}
}

// partitionDir is the object prefix of one partition written by one run:
// <prefix>/dt=YYYY-MM-DD/run=<run_id>
func partitionDir(prefix, dt, runID string) string {
	dir := fmt.Sprintf("dt=%s/run=%s", dt, runID)
	if prefix == "" {
		return dir
	}
	return prefix + "/" + dir
}

func partName(i int) string {
	return fmt.Sprintf("part-%05d%s", i, partExt)
}

// chunks splits rows into consecutive slices of at most size rows. An empty
// partition still yields one empty chunk so readers always find a part file.
func chunks(rows []domain.TrainingRow, size int) [][]domain.TrainingRow {
	if len(rows) == 0 {
		return [][]domain.TrainingRow{nil}
	}
	out := make([][]domain.TrainingRow, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		out = append(out, rows[start:min(start+size, len(rows))])
	}
	return out
}
