package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/errs"
)

// DecodeJSON reads a single JSON object from the request body into dest.
// Unknown fields and trailing data are rejected.
func DecodeJSON(r *http.Request, op string, dest interface{}) error {
	if r.Body == nil {
		return errs.Validation(op, "request body is required")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errs.Validation(op, "request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errs.Validation(op, "request body exceeds %d bytes", tooLarge.Limit)
		}
		return errs.Validation(op, "invalid request body: %v", err)
	}
	if dec.More() {
		return errs.Validation(op, "request body must hold a single JSON object")
	}
	return nil
}

// PathString returns the non-empty path variable key
func PathString(r *http.Request, op, key string) (string, error) {
	v := mux.Vars(r)[key]
	if v == "" {
		return "", errs.Validation(op, "missing path parameter %s", key)
	}
	return v, nil
}

// QueryInt parses an optional integer query parameter
func QueryInt(r *http.Request, op, key string, defaultVal int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errs.Validation(op, "%s must be an integer", key)
	}
	return v, nil
}

// QueryBool parses an optional boolean query parameter
func QueryBool(r *http.Request, op, key string, defaultVal bool) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errs.Validation(op, "%s must be a boolean", key)
	}
	return v, nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
