// Package export writes stored offline hits to Parquet files.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/roniherschmann/go-hitstore/internal/core"
)

// HitRow is one hit in Parquet form.
type HitRow struct {
	URL            string `parquet:"url,zstd"`
	CreationDateNs int64  `parquet:"creation_date_ns"`
	RetryCount     int32  `parquet:"retry_count"`
	IsOffline      bool   `parquet:"is_offline"`
}

func HitToRow(h core.Hit) HitRow {
	return HitRow{
		URL:            h.URL,
		CreationDateNs: h.CreationDate.UnixNano(),
		RetryCount:     int32(h.RetryCount),
		IsOffline:      h.IsOffline,
	}
}

// Write encodes hits as a zstd-compressed Parquet stream.
func Write(w io.Writer, hits []core.Hit) error {
	pw := parquet.NewGenericWriter[HitRow](w, parquet.Compression(&parquet.Zstd))

	rows := make([]HitRow, len(hits))
	for i := range hits {
		rows[i] = HitToRow(hits[i])
	}
	if len(rows) > 0 {
		if _, err := pw.Write(rows); err != nil {
			pw.Close()
			return fmt.Errorf("write rows: %w", err)
		}
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// WriteFile writes hits to path, creating parent directories.
func WriteFile(path string, hits []core.Hit) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if err := Write(f, hits); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
