package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/domain"
)

// FileSink mirrors the S3 layout under a local directory. Used by the CLI.
type FileSink struct {
	dir      string
	partRows int
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir, partRows: PartRows}
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) WritePartitions(ctx context.Context, runID string, parts []domain.Partition) error {
	for _, p := range parts {
		if err := ctx.Err(); err != nil {
			return err
		}
		dir := filepath.Join(s.dir, filepath.FromSlash(partitionDir("", p.DT, runID)))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
		for i, rows := range chunks(p.Rows, s.partRows) {
			if err := writeFile(filepath.Join(dir, partName(i)), rows); err != nil {
				return err
			}
		}
		if err := os.WriteFile(filepath.Join(dir, successMarker), nil, 0o644); err != nil {
			return fmt.Errorf("write marker: %w", err)
		}
	}
	return nil
}

func writeFile(path string, rows []domain.TrainingRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := EncodeRows(f, rows); err != nil {
		_ = f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}
