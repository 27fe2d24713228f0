package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/orgs"
	"github.com/platinummonkey/warden/pkg/storage"
	"github.com/platinummonkey/warden/pkg/storage/postgres"
)

const dbStatsSchedule = "@every 30s"

type schedulerDeps struct {
	orgs     *orgs.Manager
	recorder *audit.Recorder
	db       *storage.DB
	metrics  *observability.Metrics
	logger   *observability.Logger
}

// cronLogger adapts observability.Logger to cron.Logger
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(kvFields(keysAndValues)).Error(msg)
}

func kvFields(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}

// jobRunner runs maintenance jobs and records their outcome
type jobRunner struct {
	ctx     context.Context
	deps    schedulerDeps
	otel    *observability.JobMetrics
	archive *audit.Archiver
	now     func() time.Time
}

func (j *jobRunner) run(name string, fn func(ctx context.Context) error) func() {
	return func() {
		logger := j.deps.logger.WithField("job", name)
		start := j.now()
		err := func() (err error) {
			defer observability.RecoverError(logger, name, &err)
			return fn(j.ctx)
		}()
		j.otel.RecordRun(j.ctx, name, j.now().Sub(start), err)
		if err != nil {
			logger.WithError(err).Error("Scheduled job failed")
		}
	}
}

// verifyHierarchy reports organizations whose depth or path disagree with
// their parent
func (j *jobRunner) verifyHierarchy(ctx context.Context) error {
	violations, err := j.deps.orgs.Verify(ctx)
	if err != nil {
		return err
	}
	j.otel.RecordViolations(ctx, len(violations))
	for _, v := range violations {
		j.deps.logger.WithFields(map[string]interface{}{
			"org_code":       v.Code,
			"depth":          v.Depth,
			"expected_depth": v.ExpectedDepth,
			"path":           v.Path,
			"expected_path":  v.ExpectedPath,
		}).Error("Hierarchy integrity violation")
	}
	return nil
}

// archiveAudit copies yesterday's audit records to the archive sink
func (j *jobRunner) archiveAudit(ctx context.Context) error {
	n, err := j.archive.Archive(ctx, j.now().Add(-24*time.Hour))
	if err != nil {
		return err
	}
	j.otel.RecordArchived(ctx, n)
	return nil
}

func (j *jobRunner) recordDBStats(context.Context) error {
	j.deps.metrics.RecordDBStats(j.deps.db.Raw().Stats())
	return nil
}

// archiveSink picks S3 when a bucket is configured, then a local directory.
// It returns nil when archiving is disabled.
func archiveSink(ctx context.Context, cfg storage.Config) (storage.ObjectWriter, error) {
	switch {
	case cfg.S3Bucket != "":
		client, err := postgres.NewS3Client(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create audit archive client: %w", err)
		}
		return client, nil
	case cfg.ArchiveDir != "":
		return storage.NewFileObjectStore(cfg.ArchiveDir)
	default:
		return nil, nil
	}
}

func newJobRunner(ctx context.Context, cfg *config.Config, deps schedulerDeps) (*jobRunner, error) {
	jobMetrics, err := observability.NewJobMetrics()
	if err != nil {
		return nil, err
	}
	j := &jobRunner{ctx: ctx, deps: deps, otel: jobMetrics, now: func() time.Time { return time.Now().UTC() }}

	sink, err := archiveSink(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	if sink != nil {
		j.archive = audit.NewArchiver(deps.recorder, sink, cfg.Audit.ArchivePrefix, deps.logger)
	}
	return j, nil
}

// newScheduler registers the maintenance jobs on a UTC cron
func newScheduler(ctx context.Context, cfg *config.Config, deps schedulerDeps) (*cron.Cron, error) {
	j, err := newJobRunner(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}

	cl := cronLogger{logger: deps.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.SkipIfStillRunning(cl)),
	)

	if _, err := c.AddFunc(cfg.Audit.IntegritySchedule, j.run("hierarchy_verify", j.verifyHierarchy)); err != nil {
		return nil, fmt.Errorf("failed to schedule hierarchy verification: %w", err)
	}
	if j.archive != nil {
		if _, err := c.AddFunc(cfg.Audit.ArchiveSchedule, j.run("audit_archive", j.archiveAudit)); err != nil {
			return nil, fmt.Errorf("failed to schedule audit archive: %w", err)
		}
	} else {
		deps.logger.Warn("No audit archive destination configured; archiving disabled")
	}
	if _, err := c.AddFunc(dbStatsSchedule, j.run("db_stats", j.recordDBStats)); err != nil {
		return nil, fmt.Errorf("failed to schedule db stats: %w", err)
	}

	deps.logger.WithFields(map[string]interface{}{
		"integrity_schedule": cfg.Audit.IntegritySchedule,
		"archive_schedule":   cfg.Audit.ArchiveSchedule,
	}).Info("Maintenance jobs scheduled")
	return c, nil
}
