package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/roniherschmann/go-hitstore/internal/core"
)

func writeOutput(w io.Writer, format string, v any, text func(io.Writer) error) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(w)
}

func printHits(w io.Writer, format string, hits []core.Hit) error {
	return writeOutput(w, format, hits, func(w io.Writer) error {
		for _, h := range hits {
			if err := printHitLine(w, h); err != nil {
				return err
			}
		}
		return nil
	})
}

func printHit(w io.Writer, format string, h core.Hit) error {
	return writeOutput(w, format, h, func(w io.Writer) error {
		return printHitLine(w, h)
	})
}

func printHitLine(w io.Writer, h core.Hit) error {
	_, err := fmt.Fprintf(w, "%s\t%s\tretries=%d\n", h.CreationDate.UTC().Format(time.RFC3339Nano), h.URL, h.RetryCount)
	return err
}

func printValue(w io.Writer, format, key string, v any) error {
	return writeOutput(w, format, map[string]any{key: v}, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, v)
		return err
	})
}
