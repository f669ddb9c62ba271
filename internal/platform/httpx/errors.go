// Package httpx provides HTTP response utilities.
package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/odyssey-erp/konzern/internal/shared"
)

// ErrMalformedBody marks request bodies that cannot be decoded.
var ErrMalformedBody = shared.Validation("malformed request body")

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var verr *shared.ValidationError
	if errors.As(err, &verr) {
		JSON(w, http.StatusBadRequest, ProblemDetail{
			Type:   problemType(shared.KindValidation),
			Title:  "Validation Failed",
			Status: http.StatusBadRequest,
			Detail: verr.Error(),
			Fields: verr.Fields,
		})
		return
	}
	kind := shared.KindOf(err)
	switch kind {
	case shared.KindValidation:
		problem(w, kind, http.StatusBadRequest, "Validation Failed", err.Error())
	case shared.KindBusinessRule:
		problem(w, kind, http.StatusUnprocessableEntity, "Business Rule Violation", err.Error())
	case shared.KindStateMachine:
		problem(w, kind, http.StatusConflict, "Invalid Transition", err.Error())
	case shared.KindConcurrency:
		problem(w, kind, http.StatusConflict, "Concurrent Modification", err.Error())
	case shared.KindNotFound:
		problem(w, kind, http.StatusNotFound, "Not Found", err.Error())
	case shared.KindConflict:
		problem(w, kind, http.StatusConflict, "Conflict", err.Error())
	default:
		if errors.Is(err, context.DeadlineExceeded) {
			Problem(w, http.StatusGatewayTimeout, "Timeout", "the request did not finish in time")
			return
		}
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func problem(w http.ResponseWriter, kind shared.ErrorKind, status int, title, detail string) {
	JSON(w, status, ProblemDetail{Type: problemType(kind), Title: title, Status: status, Detail: detail})
}

func problemType(kind shared.ErrorKind) string {
	return "urn:konzern:problem:" + string(kind)
}
