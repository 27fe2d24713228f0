package audit

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/storage"
)

// DefaultArchivePrefix is the key prefix of daily archives
const DefaultArchivePrefix = "audit"

// Archiver copies each day's records to an object store as NDJSON. Archives
// are copies: records stay in the relational store.
type Archiver struct {
	recorder *Recorder
	sink     storage.ObjectWriter
	prefix   string
	logger   *observability.Logger
	now      func() time.Time
}

// NewArchiver creates an archiver writing under prefix
func NewArchiver(recorder *Recorder, sink storage.ObjectWriter, prefix string, logger *observability.Logger) *Archiver {
	if prefix == "" {
		prefix = DefaultArchivePrefix
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Archiver{
		recorder: recorder,
		sink:     sink,
		prefix:   prefix,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ArchiveKey returns the object key of the archive for day
func ArchiveKey(prefix string, day time.Time) string {
	return fmt.Sprintf("%s/%s.ndjson", prefix, day.UTC().Format("2006/01/02"))
}

// Archive writes the records created on day (UTC) and returns how many were
// written. A day that already has an archive is skipped.
func (a *Archiver) Archive(ctx context.Context, day time.Time) (int, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)
	key := ArchiveKey(a.prefix, start)

	ctx, span := observability.StartSpan(ctx, "audit.Archive", "archive.key", key)
	n, err := a.archive(ctx, key, start, end)
	observability.EndSpan(span, err)
	return n, err
}

func (a *Archiver) archive(ctx context.Context, key string, start, end time.Time) (int, error) {
	exists, err := a.sink.ObjectExists(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to check archive %s: %w", key, err)
	}
	if exists {
		a.logger.WithField("key", key).Debug("Audit archive already exists")
		return 0, nil
	}

	page, err := a.recorder.List(ctx, Filter{Start: &start, End: &end, Limit: 1})
	if err != nil {
		return 0, err
	}
	if page.Total == 0 {
		return 0, nil
	}

	data, err := a.recorder.Export(ctx, Filter{Start: &start, End: &end}, ExportFormatNDJSON)
	if err != nil {
		return 0, err
	}
	if err := a.sink.PutObject(ctx, key, bytes.NewReader(data), ExportFormatNDJSON.ContentType()); err != nil {
		return 0, fmt.Errorf("failed to write archive %s: %w", key, err)
	}

	a.logger.WithFields(map[string]interface{}{
		"key":     key,
		"records": page.Total,
	}).Info("Audit archive written")
	return page.Total, nil
}

// ArchivePreviousDay archives yesterday's records
func (a *Archiver) ArchivePreviousDay(ctx context.Context) error {
	_, err := a.Archive(ctx, a.now().Add(-24*time.Hour))
	return err
}
