/******************************************************************************
*
*  Copyright 2018 Stefan Majewsky <majewsky@gmx.net>
*
*  Licensed under the Apache License, Version 2.0 (the "License");
*  you may not use this file except in compliance with the License.
*  You may obtain a copy of the License at
*
*      http://www.apache.org/licenses/LICENSE-2.0
*
*  Unless required by applicable law or agreed to in writing, software
*  distributed under the License is distributed on an "AS IS" BASIS,
*  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
*  See the License for the specific language governing permissions and
*  limitations under the License.
*
******************************************************************************/

package slo

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/sapcc/go-bits/errext"
)

// StatusError is an error that knows which HTTP status it should be reported
// as. It plays the role that UnexpectedStatusCodeError played in the backend
// client this package started from: a single error type that the top-level
// handler can unwrap instead of switching on error kinds by hand.
type StatusError struct {
	Status  int
	Message string
	//Inner is set when a StatusError wraps a lower-level error (e.g. a decode
	//failure while fetching a sub-manifest).
	Inner error
}

// Error implements the builtin/error interface.
func (e StatusError) Error() string {
	if e.Inner != nil {
		return e.Message + ": " + e.Inner.Error()
	}
	return e.Message
}

// Unwrap implements the unnamed interface understood by package errors.
func (e StatusError) Unwrap() error {
	return e.Inner
}

// Is checks whether err is a StatusError carrying the given HTTP status,
// following the Is(err, code) convention of the backend client this package
// is derived from.
func Is(err error, status int) bool {
	se, ok := err.(StatusError)
	if !ok {
		return false
	}
	return se.Status == status
}

func newStatusError(status int, format string, args ...interface{}) StatusError {
	return StatusError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// ValidationError is the §4.A/§7 ClientManifestInvalid error: the request
// body had one or more per-index problems, none of which short-circuited the
// others. Errors accumulate in an errext.ErrorSet instead of being returned
// as soon as the first one is found — see ParseManifest.
type ValidationError struct {
	Errors errext.ErrorSet
}

// Error implements the builtin/error interface. Reasons are joined one per
// line, matching the bulk-style plain text body the manifest parser produces.
func (e *ValidationError) Error() string {
	return e.Errors.Join("\n")
}

// SegmentProblem is one entry of a SegmentPreconditionError: the segment path
// that failed verification, and why.
type SegmentProblem struct {
	Path   string
	Reason string
}

// SegmentPreconditionError is the §4.B/§7 SegmentPreconditionFailed error:
// one or more referenced segments failed verification (missing, too small,
// size or etag mismatch, unsatisfiable range).
type SegmentPreconditionError struct {
	Problems []SegmentProblem
}

// Error implements the builtin/error interface.
func (e *SegmentPreconditionError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = fmt.Sprintf("%s: %s", p.Path, p.Reason)
	}
	return strings.Join(parts, "\n")
}

// The §7 error kinds that carry a fixed status and a fixed message. Each is
// constructed through newStatusError so a single writeStatusError in the
// HTTP handler (see handler.go) renders all of them without per-kind cases.
var (
	ErrManifestTooLarge      = newStatusError(http.StatusRequestEntityTooLarge, "manifest exceeds configured size or segment-count limit")
	ErrLengthRequired        = newStatusError(http.StatusLengthRequired, "Content-Length is required for a non-chunked manifest upload")
	ErrMethodNotAllowed      = newStatusError(http.StatusMethodNotAllowed, "X-Copy-From is not supported on a multipart-manifest=put request")
	ErrReservedHeader        = newStatusError(http.StatusBadRequest, "X-Static-Large-Object is a reserved header and may only be set by the server")
	ErrNotAnSLO              = newStatusError(http.StatusBadRequest, "Not an SLO manifest")
	ErrManifestNotFound      = newStatusError(http.StatusNotFound, "manifest not found")
	ErrUnauthorized          = newStatusError(http.StatusUnauthorized, "not authorized")
	ErrRangeNotSatisfiable   = newStatusError(http.StatusRequestedRangeNotSatisfiable, "no satisfiable range in request")
	ErrStreamingConflict     = newStatusError(http.StatusConflict, "segment listing failed before the first response byte was sent")
	ErrInternalManifestLoad  = newStatusError(http.StatusInternalServerError, "could not load sub-manifest")
	ErrTooManyPendingDeletes = newStatusError(http.StatusBadRequest, "too many segments pending deletion")
	ErrRecursionTooDeep      = newStatusError(http.StatusInternalServerError, "sub-manifest recursion exceeded the maximum depth")
)

// wrapInternal turns an arbitrary backend/transport error into the 500-class
// InternalManifestLoad kind, preserving the original error for logging.
func wrapInternal(err error) StatusError {
	se := ErrInternalManifestLoad
	se.Inner = err
	return se
}

// statusFromBackend classifies a sub-request's outcome per §4.H's "fetch
// classifier": 404 and 401 are passed through as such, everything else
// becomes a 500, matching the teacher's own UnexpectedStatusCodeError shape
// of carrying the offending response body along.
func statusFromBackend(resp *http.Response, body []byte) StatusError {
	switch resp.StatusCode {
	case http.StatusNotFound:
		return ErrManifestNotFound
	case http.StatusUnauthorized:
		return ErrUnauthorized
	default:
		msg := fmt.Sprintf("unexpected status %d from backend", resp.StatusCode)
		if len(body) > 0 {
			msg += ": " + string(body)
		}
		return StatusError{Status: http.StatusInternalServerError, Message: msg}
	}
}
