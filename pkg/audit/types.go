package audit

import (
	"encoding/json"
	"time"
)

// Module names the component that performed an audited operation
type Module string

const (
	ModuleOrgs    Module = "orgs"
	ModuleMembers Module = "members"
	ModuleRBAC    Module = "rbac"
	ModuleAuth    Module = "auth"
)

// Result is the outcome of an audited operation
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultDenied  Result = "denied"
)

// Actor identifies who performed an operation. System jobs leave ID empty.
type Actor struct {
	ID      string `json:"id,omitempty"`
	Code    string `json:"code,omitempty"`
	OrgCode string `json:"org_code,omitempty"`
}

// Target identifies what an operation touched
type Target struct {
	Type string `json:"type,omitempty"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Origin describes the caller of the request that produced a record
type Origin struct {
	RequestID string `json:"request_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Entry is the input of Recorder.Record. Before and After are serialized to
// JSON snapshots. An empty Result is derived from Err.
type Entry struct {
	Actor     Actor
	Module    Module
	Operation string
	Target    Target
	Before    interface{}
	After     interface{}
	Result    Result
	Err       error
}

// Record is a persisted audit record. Records are never modified.
type Record struct {
	ID           string          `json:"id"`
	Timestamp    time.Time       `json:"timestamp"`
	Actor        Actor           `json:"actor"`
	Module       Module          `json:"module"`
	Operation    string          `json:"operation"`
	Target       Target          `json:"target"`
	Before       json.RawMessage `json:"before,omitempty"`
	After        json.RawMessage `json:"after,omitempty"`
	Result       Result          `json:"result"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Origin       Origin          `json:"origin"`
}

// Filter selects records for List and Export. Zero values match everything.
type Filter struct {
	Start      *time.Time
	End        *time.Time
	ActorID    string
	Module     Module
	Operation  string
	TargetType string
	TargetID   string
	Result     Result

	Limit  int
	Offset int
}

// Page is one page of records, newest first
type Page struct {
	Records []*Record `json:"records"`
	Total   int       `json:"total"`
	Limit   int       `json:"limit"`
	Offset  int       `json:"offset"`
}

// ExportFormat represents the format for exporting audit records
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatNDJSON ExportFormat = "ndjson"
	ExportFormatCSV    ExportFormat = "csv"
)

const (
	// DefaultPageSize applies when Filter.Limit is zero
	DefaultPageSize = 100
	// MaxPageSize caps Filter.Limit
	MaxPageSize = 1000
)
