package httputil

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/warden/pkg/errs"
)

// StatusForError maps an error kind to its HTTP status
func StatusForError(err error) int {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindAuthentication:
		return http.StatusUnauthorized
	case errs.KindAuthorization:
		return http.StatusForbidden
	case errs.KindTransientStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteKindError writes err with the status of its kind. The reason code is
// included so clients can tell an expired token from a revoked one. Errors of
// unknown kind are reported without their message.
func WriteKindError(w http.ResponseWriter, err error) {
	status := StatusForError(err)
	if status == http.StatusInternalServerError {
		WriteErrorMessage(w, status, "internal server error")
		return
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}

	resp := ErrorResponse{Error: errs.KindOf(err).String()}
	var e *errs.Error
	if errors.As(err, &e) {
		resp.Message = e.Msg
		if e.Reason != "" {
			resp.Details = map[string]string{"reason": string(e.Reason)}
		}
	}
	WriteJSON(w, status, resp)
}
