package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/platinummonkey/warden/pkg/errs"
	"github.com/platinummonkey/warden/pkg/scope"
)

// ParseExportFormat validates a format name. Empty means JSON.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(s); f {
	case "":
		return ExportFormatJSON, nil
	case ExportFormatJSON, ExportFormatNDJSON, ExportFormatCSV:
		return f, nil
	default:
		return "", errs.Validation("audit.ParseExportFormat", "unsupported export format %q", s)
	}
}

// ContentType returns the MIME type of the format
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatCSV:
		return "text/csv"
	case ExportFormatNDJSON:
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}

// Export writes every record selected by f, walking pages of MaxPageSize.
// f.Limit and f.Offset are ignored.
func (r *Recorder) Export(ctx context.Context, f Filter, format ExportFormat, extra ...scope.Predicate) ([]byte, error) {
	var records []*Record
	f.Limit = MaxPageSize
	for f.Offset = 0; ; f.Offset += MaxPageSize {
		page, err := r.List(ctx, f, extra...)
		if err != nil {
			return nil, err
		}
		records = append(records, page.Records...)
		if len(page.Records) < MaxPageSize || f.Offset+len(page.Records) >= page.Total {
			break
		}
	}
	return Encode(records, format)
}

// Encode renders records in format
func Encode(records []*Record, format ExportFormat) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case ExportFormatJSON, "":
		err = exportJSON(&buf, records)
	case ExportFormatNDJSON:
		err = exportNDJSON(&buf, records)
	case ExportFormatCSV:
		err = exportCSV(&buf, records)
	default:
		return nil, errs.Validation("audit.Encode", "unsupported export format %q", format)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// exportJSON exports audit records as JSON array
func exportJSON(w io.Writer, records []*Record) error {
	if records == nil {
		records = []*Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// exportNDJSON exports audit records as newline-delimited JSON
func exportNDJSON(w io.Writer, records []*Record) error {
	encoder := json.NewEncoder(w)
	for _, rec := range records {
		if err := encoder.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
	}
	return nil
}

var csvHeader = []string{
	"ID",
	"Timestamp",
	"ActorID",
	"ActorCode",
	"ActorOrg",
	"Module",
	"Operation",
	"TargetType",
	"TargetID",
	"TargetName",
	"Result",
	"ErrorMessage",
	"RequestID",
	"IPAddress",
	"UserAgent",
	"Before",
	"After",
}

// exportCSV exports audit records as CSV
func exportCSV(w io.Writer, records []*Record) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, rec := range records {
		row := []string{
			rec.ID,
			rec.Timestamp.UTC().Format(time.RFC3339Nano),
			rec.Actor.ID,
			rec.Actor.Code,
			rec.Actor.OrgCode,
			string(rec.Module),
			rec.Operation,
			rec.Target.Type,
			rec.Target.ID,
			rec.Target.Name,
			string(rec.Result),
			rec.ErrorMessage,
			rec.Origin.RequestID,
			rec.Origin.IPAddress,
			rec.Origin.UserAgent,
			string(rec.Before),
			string(rec.After),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	return nil
}
