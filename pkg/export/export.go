// Package export writes query results and precomputed artifacts as JSON,
// Arrow IPC streams or aligned text tables.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/TFMV/tally/pkg/errors"
	"github.com/TFMV/tally/pkg/infrastructure/converter"
	"github.com/TFMV/tally/pkg/models"
)

// Format selects a result encoding.
type Format string

const (
	FormatJSON  Format = "json"
	FormatArrow Format = "arrow"
	FormatTable Format = "table"
)

// ParseFormat validates a format name. Empty means JSON.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatArrow, FormatTable:
		return f, nil
	default:
		return "", errors.Newf(errors.CodeInvalidRequest, "unknown output format %q (want json, arrow or table)", name)
	}
}

// Write encodes res in format. allocator is only used for Arrow output and
// may be nil.
func Write(w io.Writer, format Format, res *models.QueryResult, allocator memory.Allocator) error {
	switch format {
	case FormatArrow:
		return WriteArrow(w, res, allocator)
	case FormatTable:
		return WriteTable(w, res)
	default:
		return WriteJSON(w, res)
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to encode JSON")
	}
	return nil
}

// WriteJSONFile writes v to path through a temporary file in the same
// directory, so readers never see a partial artifact.
func WriteJSONFile(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "failed to create %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "failed to create temporary file in %s", dir)
	}
	defer os.Remove(tmp.Name())

	if err := WriteJSON(tmp, v); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "failed to write %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "failed to replace %s", path)
	}
	return nil
}

// WriteArrow writes res as a single-record Arrow IPC stream. Column types
// follow converter.ArrowSchema.
func WriteArrow(w io.Writer, res *models.QueryResult, allocator memory.Allocator) error {
	if res == nil {
		res = &models.QueryResult{}
	}
	if allocator == nil {
		allocator = memory.NewGoAllocator()
	}

	record, err := converter.BuildRecord(allocator, res)
	if err != nil {
		return err
	}
	defer record.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(record.Schema()), ipc.WithAllocator(allocator))
	if err := writer.Write(record); err != nil {
		writer.Close()
		return errors.Wrap(err, errors.CodeInternal, "failed to write Arrow record")
	}
	if err := writer.Close(); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to close Arrow stream")
	}
	return nil
}

// WriteTable writes res as tab-aligned text with a header row. NULL values
// print as NULL.
func WriteTable(w io.Writer, res *models.QueryResult) error {
	if res == nil {
		res = &models.QueryResult{}
	}

	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(res.Columns, "\t"))

	rule := make([]string, len(res.Columns))
	for i, c := range res.Columns {
		rule[i] = strings.Repeat("-", max(1, len(c)))
	}
	fmt.Fprintln(tw, strings.Join(rule, "\t"))

	cells := make([]string, len(res.Columns))
	for _, row := range res.Rows {
		for j := range res.Columns {
			var v any
			if j < len(row) {
				v = row[j]
			}
			cells[j] = tableCell(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}

	if err := tw.Flush(); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to write table")
	}
	return nil
}

func tableCell(v any) string {
	if v == nil {
		return "NULL"
	}
	return converter.String(v)
}
