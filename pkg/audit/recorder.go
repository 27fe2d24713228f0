package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/warden/pkg/errs"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/scope"
)

// writeTimeout bounds a single audit insert. The insert runs detached from the
// request's cancellation so an aborted request still leaves its record.
const writeTimeout = 5 * time.Second

// Recorder writes audit records. Recording is best effort: failures are
// logged and counted, never returned to the operation being audited.
type Recorder struct {
	store   Store
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// Option configures a Recorder
type Option func(*Recorder)

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(r *Recorder) { r.logger = logger }
}

// WithMetrics sets the metrics sink
func WithMetrics(metrics *observability.Metrics) Option {
	return func(r *Recorder) { r.metrics = metrics }
}

// WithClock overrides the record timestamp source
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a new audit recorder
func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{
		store:   store,
		logger:  observability.NopLogger(),
		metrics: observability.NewNopMetrics(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store returns the underlying store
func (r *Recorder) Store() Store {
	return r.store
}

// Record builds a record from e and the request origin carried by ctx, and
// writes it. The returned record is what was attempted, written or not.
func (r *Recorder) Record(ctx context.Context, e Entry) *Record {
	rec := &Record{
		ID:        uuid.NewString(),
		Timestamp: r.now(),
		Actor:     e.Actor,
		Module:    e.Module,
		Operation: e.Operation,
		Target:    e.Target,
		Before:    r.snapshot(e.Before),
		After:     r.snapshot(e.After),
		Result:    e.Result,
		Origin:    OriginFromContext(ctx),
	}
	if rec.Origin.RequestID == "" {
		rec.Origin.RequestID = observability.GetRequestID(ctx)
	}
	if rec.Result == "" {
		rec.Result = ResultOf(e.Err)
	}
	if e.Err != nil {
		rec.ErrorMessage = e.Err.Error()
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := r.store.Insert(writeCtx, rec); err != nil {
		r.metrics.AuditWriteFailuresTotal.Inc()
		data, _ := json.Marshal(rec)
		r.logger.WithError(err).WithFields(map[string]interface{}{
			"request_id": rec.Origin.RequestID,
			"module":     string(rec.Module),
			"operation":  rec.Operation,
			"record":     string(data),
		}).Error("Failed to write audit record")
		return rec
	}

	r.metrics.AuditRecordsTotal.WithLabelValues(string(rec.Module)).Inc()
	return rec
}

func (r *Recorder) snapshot(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	data, err := json.Marshal(v)
	if err != nil {
		r.logger.WithError(err).Warn("Audit snapshot is not serializable")
		return nil
	}
	return data
}

// ResultOf derives a record result from an operation error
func ResultOf(err error) Result {
	switch {
	case err == nil:
		return ResultSuccess
	case errs.KindOf(err) == errs.KindAuthorization:
		return ResultDenied
	default:
		return ResultFailure
	}
}

// Get retrieves a record by id
func (r *Recorder) Get(ctx context.Context, id string) (*Record, error) {
	if id == "" {
		return nil, errs.Validation("audit.Get", "record id is required")
	}
	return r.store.Get(ctx, id)
}

// List returns the page of records selected by f. Extra predicates, such as
// a data scope, are ANDed to the filter.
func (r *Recorder) List(ctx context.Context, f Filter, extra ...scope.Predicate) (*Page, error) {
	q, err := f.Query()
	if err != nil {
		return nil, err
	}
	for _, p := range extra {
		q.And(p)
	}
	return r.store.List(ctx, q)
}
