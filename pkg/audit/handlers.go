package audit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/errs"
	"github.com/platinummonkey/warden/pkg/httputil"
)

// Reader is the read side the handlers serve. Implementations apply the
// caller's authorization and data scope.
type Reader interface {
	ListAudit(ctx context.Context, f Filter) (*Page, error)
	GetAudit(ctx context.Context, id string) (*Record, error)
	ExportAudit(ctx context.Context, f Filter, format ExportFormat) ([]byte, error)
}

// Handlers provides HTTP handlers for the audit API
type Handlers struct {
	reader Reader
}

// NewHandlers creates new audit handlers
func NewHandlers(reader Reader) *Handlers {
	return &Handlers{reader: reader}
}

// RegisterRoutes registers audit routes under prefix on router
func (h *Handlers) RegisterRoutes(router *mux.Router, prefix string) {
	router.HandleFunc(prefix+"/audit/records", h.listRecords).Methods(http.MethodGet)
	router.HandleFunc(prefix+"/audit/records/{id}", h.getRecord).Methods(http.MethodGet)
	router.HandleFunc(prefix+"/audit/export", h.exportRecords).Methods(http.MethodGet)
}

// listRecords handles GET /audit/records
func (h *Handlers) listRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseFilter(r)
	if err != nil {
		httputil.WriteKindError(w, err)
		return
	}

	page, err := h.reader.ListAudit(r.Context(), filter)
	if err != nil {
		httputil.WriteKindError(w, err)
		return
	}
	httputil.WriteSuccess(w, page)
}

// getRecord handles GET /audit/records/{id}
func (h *Handlers) getRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.reader.GetAudit(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteKindError(w, err)
		return
	}
	httputil.WriteSuccess(w, rec)
}

// exportRecords handles GET /audit/export
func (h *Handlers) exportRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseFilter(r)
	if err != nil {
		httputil.WriteKindError(w, err)
		return
	}
	format, err := ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		httputil.WriteKindError(w, err)
		return
	}

	data, err := h.reader.ExportAudit(r.Context(), filter, format)
	if err != nil {
		httputil.WriteKindError(w, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=audit-records.%s", format))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ParseFilter reads a Filter from query parameters. Times are RFC 3339.
func ParseFilter(r *http.Request) (Filter, error) {
	const op = "audit.ParseFilter"
	query := r.URL.Query()
	filter := Filter{
		ActorID:    query.Get("actor_id"),
		Module:     Module(query.Get("module")),
		Operation:  query.Get("operation"),
		TargetType: query.Get("target_type"),
		TargetID:   query.Get("target_id"),
		Result:     Result(query.Get("result")),
	}

	for _, t := range []struct {
		name string
		dst  **time.Time
	}{{"start", &filter.Start}, {"end", &filter.End}} {
		s := query.Get(t.name)
		if s == "" {
			continue
		}
		v, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return Filter{}, errs.Validation(op, "invalid %s time %q", t.name, s)
		}
		*t.dst = &v
	}

	for _, n := range []struct {
		name string
		dst  *int
	}{{"limit", &filter.Limit}, {"offset", &filter.Offset}} {
		s := query.Get(n.name)
		if s == "" {
			continue
		}
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			return Filter{}, errs.Validation(op, "invalid %s %q", n.name, s)
		}
		*n.dst = v
	}
	return filter, nil
}
