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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/respondwith"
	"github.com/sapcc/go-bits/sre"

	"github.com/sapcc/swift-slo/headers"
)

var (
	segmentsFetchedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slo_segments_fetched_total",
		Help: "Number of leaf segment bodies fetched while streaming SLO GET/HEAD responses.",
	})
	rateLimitThrottledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slo_rate_limit_throttled_total",
		Help: "Number of segment fetches delayed by the streaming responder's rate limiter.",
	})
)

func init() {
	prometheus.MustRegister(segmentsFetchedTotal, rateLimitThrottledTotal)
	sre.Init(sre.Config{
		AppName:                  "swift-slo",
		FirstByteDurationBuckets: prometheus.DefBuckets,
		ResponseDurationBuckets:  prometheus.DefBuckets,
		RequestBodySizeBuckets:   prometheus.ExponentialBuckets(1024, 4, 6),
		ResponseBodySizeBuckets:  prometheus.ExponentialBuckets(1024, 4, 6),
	})
}

// Middleware wraps an http.Handler (the plain object-storage proxy) with the
// SLO semantics of §4: manifest validation/verification on PUT, segment
// expansion on GET/HEAD, and cascading delete on
// ?multipart-manifest=delete. A plain PUT that sets the reserved
// X-Static-Large-Object header is rejected with 400. Everything else passes
// straight through to Next.
type Middleware struct {
	Next    http.Handler
	Backend Backend
	Deleter BulkDeleter
	Guesser MimeGuesser
	Config  Config
	Account string
	Version string //API version path segment, e.g. "v1"
}

// NewMiddleware builds a Middleware with DefaultConfig(); override m.Config
// afterwards to change the tunables in §6.
func NewMiddleware(next http.Handler, backend Backend, deleter BulkDeleter, guesser MimeGuesser, account, version string) *Middleware {
	return &Middleware{
		Next:    next,
		Backend: backend,
		Deleter: deleter,
		Guesser: guesser,
		Config:  DefaultConfig(),
		Account: account,
		Version: version,
	}
}

func (m *Middleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Swift tags every response with a transaction ID so operators can
	// correlate a client complaint with backend logs; set it here so it
	// covers both the fast PassThrough path and every SLO-expanded response.
	w.Header().Set("X-Trans-Id", "tx"+newTransactionID())

	path, ok := m.requestObjectPath(r)
	if !ok {
		m.Next.ServeHTTP(w, r)
		return
	}

	switch r.Method {
	case http.MethodPut:
		if r.URL.Query().Get("multipart-manifest") == "put" {
			m.handlePut(w, r, path)
			return
		}
		if isTrueHeader(r.Header.Get(HeaderStaticLargeObject)) {
			writeStatusError(w, ErrReservedHeader)
			return
		}
	case http.MethodDelete:
		if r.URL.Query().Get("multipart-manifest") == "delete" {
			m.handleDelete(w, r, path)
			return
		}
	case http.MethodGet, http.MethodHead:
		m.handleGetOrHead(w, r, path)
		return
	}
	m.Next.ServeHTTP(w, r)
}

func (m *Middleware) handlePut(w http.ResponseWriter, r *http.Request, path ObjectPath) {
	sre.IdentifyEndpoint(r, "/{version}/{account}/{container}/{object}:put-manifest")
	if r.Header.Get("X-Copy-From") != "" {
		writeStatusError(w, ErrMethodNotAllowed)
		return
	}
	if r.ContentLength < 0 && r.Header.Get("Transfer-Encoding") != "chunked" {
		writeStatusError(w, ErrLengthRequired)
		return
	}
	if r.ContentLength > m.Config.MaxManifestSize {
		writeStatusError(w, ErrManifestTooLarge)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, m.Config.MaxManifestSize+1))
	if err != nil {
		writeStatusError(w, wrapInternal(err))
		return
	}
	if int64(len(body)) > m.Config.MaxManifestSize {
		writeStatusError(w, ErrManifestTooLarge)
		return
	}

	clientEntries, err := ParseManifest(body, path, m.Version, m.Account, m.Config.MinSegmentSize)
	if err != nil {
		writeValidationError(w, err)
		return
	}
	if len(clientEntries) > m.Config.MaxManifestSegments {
		writeStatusError(w, ErrManifestTooLarge)
		return
	}

	auth := authHeaderFromRequest(r)
	stored, compositeEtag, err := VerifySegments(r.Context(), m.Backend, auth, clientEntries, m.Config.MinSegmentSize)
	if err != nil {
		writeValidationError(w, err)
		return
	}

	if err := RewriteUploadRequest(r, stored, path.String(), m.Guesser); err != nil {
		writeStatusError(w, wrapInternal(err))
		return
	}

	rec := &captureResponseWriter{header: make(http.Header), status: http.StatusOK}
	m.Next.ServeHTTP(rec, r)

	if rec.status >= 200 && rec.status < 300 {
		resp := &http.Response{StatusCode: rec.status, Header: rec.header}
		RewriteUploadResponse(resp, compositeEtag)
	}
	for k, vs := range rec.header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(rec.status)
	_, _ = w.Write(rec.body)
}

func (m *Middleware) handleGetOrHead(w http.ResponseWriter, r *http.Request, path ObjectPath) {
	sre.IdentifyEndpoint(r, "/{version}/{account}/{container}/{object}:get-or-head")
	rec := &captureResponseWriter{header: make(http.Header), status: http.StatusOK}
	m.Next.ServeHTTP(rec, r)

	resp := &http.Response{StatusCode: rec.status, Header: rec.header, Body: io.NopCloser(bytes.NewReader(rec.body))}
	multipartGet := r.URL.Query().Get("multipart-manifest") == "get"
	disposition := ClassifyResponse(r.Method, resp, multipartGet, hasConditionalHeaders(r))

	switch disposition {
	case PassThrough:
		forwardCapturedResponse(w, rec)
		return
	case RawManifestBody:
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(rec.body)))
		w.WriteHeader(rec.status)
		if r.Method != http.MethodHead {
			_, _ = w.Write(rec.body)
		}
		return
	}

	var stored StoredManifest
	if disposition == NeedsRefetch {
		auth := authHeaderFromRequest(r)
		client := newInternalClient(m.Backend, auth, "MultipartGET")
		fresh, err := client.Get(r.Context(), path, rawManifestQuery())
		if err != nil {
			writeStatusError(w, wrapInternal(err))
			return
		}
		defer drainAndClose(fresh)
		if fresh.StatusCode < 200 || fresh.StatusCode >= 300 {
			body, _ := io.ReadAll(fresh.Body)
			writeStatusError(w, statusFromBackend(fresh, body))
			return
		}
		if err := json.NewDecoder(fresh.Body).Decode(&stored); err != nil {
			writeStatusError(w, wrapInternal(err))
			return
		}
	} else {
		if err := json.Unmarshal(rec.body, &stored); err != nil {
			writeStatusError(w, wrapInternal(err))
			return
		}
	}

	compositeEtag := CompositeEtagOf(stored)
	prep, err := PrepareResponse(stored, compositeEtag, r.Header.Get("Range"))
	if err != nil {
		writeStatusError(w, ErrRangeNotSatisfiable)
		return
	}

	auth := authHeaderFromRequest(r)
	iter := NewSegmentIterator(func(ctx context.Context, outerPath string, sub ObjectPath) (StoredManifest, error) {
		return fetchSubManifest(ctx, m.Backend, auth, outerPath, sub)
	})

	plan := StreamPlan{
		Manifest:        stored,
		CompositeEtag:   compositeEtag,
		Window:          prep.Window,
		Method:          r.Method,
		RateLimitAfter:  m.Config.RateLimitAfterSegment,
		RateLimitPerSec: m.Config.RateLimitSegmentsPerSec,
		OnThrottle:      rateLimitThrottledTotal.Inc,
	}

	commitHeaders := func() {
		w.Header().Set("Content-Length", formatContentLength(prep.ContentLength))
		if prep.ContentRange != "" {
			w.Header().Set("Content-Range", prep.ContentRange)
		}
		if prep.Etag != "" {
			w.Header().Set("Etag", `"`+prep.Etag+`"`)
		}
		w.WriteHeader(prep.Status)
	}

	fetch := fetchSegmentBody(m.Backend, auth)
	countingFetch := func(ctx context.Context, t SegmentTuple) (io.ReadCloser, error) {
		segmentsFetchedTotal.Inc()
		return fetch(ctx, t)
	}

	streamCtx := r.Context()
	if m.Config.MaxGetTime > 0 {
		var cancel context.CancelFunc
		streamCtx, cancel = context.WithTimeout(streamCtx, time.Duration(m.Config.MaxGetTime)*time.Second)
		defer cancel()
	}
	err = StreamResponse(streamCtx, path.String(), plan, iter, countingFetch, commitHeaders, w)
	if err != nil {
		if se, ok := err.(StatusError); ok && se.Status == http.StatusConflict {
			writeStatusError(w, se)
			return
		}
		logg.Error("SLO stream for %s aborted: %s", path, err.Error())
	}
}

func (m *Middleware) handleDelete(w http.ResponseWriter, r *http.Request, path ObjectPath) {
	sre.IdentifyEndpoint(r, "/{version}/{account}/{container}/{object}:cascading-delete")
	auth := authHeaderFromRequest(r)
	fetch := fetchManifestForDelete(m.Backend, auth)
	deleted, err := CascadingDelete(r.Context(), path, fetch, m.Deleter)
	if err != nil {
		if se, ok := err.(StatusError); ok {
			writeStatusError(w, se)
			return
		}
	}

	report := struct {
		NumberDeleted int    `json:"Number Deleted"`
		Errors        []any  `json:"Errors"`
		ResponseBody  string `json:"Response Body,omitempty"`
	}{NumberDeleted: deleted}

	if be, ok := err.(*BulkError); ok {
		report.ResponseBody = be.OverallError
		for _, oe := range be.ObjectErrors {
			report.Errors = append(report.Errors, []string{
				fmt.Sprintf("/%s/%s", oe.ContainerName, oe.ObjectName),
				fmt.Sprintf("%d %s", oe.StatusCode, http.StatusText(oe.StatusCode)),
			})
		}
	}

	respondwith.JSON(w, http.StatusOK, report)
}

func writeStatusError(w http.ResponseWriter, err StatusError) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(err.Status)
	_, _ = w.Write([]byte(err.Error()))
}

func writeValidationError(w http.ResponseWriter, err error) {
	switch e := err.(type) {
	case *ValidationError:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(e.Error()))
	case *SegmentPreconditionError:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(e.Error()))
	case StatusError:
		writeStatusError(w, e)
	default:
		writeStatusError(w, wrapInternal(err))
	}
}

func authHeaderFromRequest(r *http.Request) headers.Headers {
	h := make(headers.Headers)
	if v := r.Header.Get("X-Auth-Token"); v != "" {
		h.Set("X-Auth-Token", v)
	}
	if v := r.Header.Get("Authorization"); v != "" {
		h.Set("Authorization", v)
	}
	return h
}

// newTransactionID generates the random part of an X-Trans-Id value. A
// malformed/exhausted entropy source falls back to the all-zero UUID rather
// than failing the request over a logging nicety.
func newTransactionID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil.String()
	}
	return id.String()
}

func hasConditionalHeaders(r *http.Request) bool {
	return r.Header.Get("If-Match") != "" || r.Header.Get("If-None-Match") != "" ||
		r.Header.Get("If-Modified-Since") != "" || r.Header.Get("If-Unmodified-Since") != ""
}

// requestObjectPath strips the "/{version}/{account}" prefix mux routes on
// and resolves the rest into an ObjectPath, per §4.A's "/container/object"
// form.
func (m *Middleware) requestObjectPath(r *http.Request) (ObjectPath, bool) {
	prefix := "/" + m.Version + "/" + m.Account
	rest, ok := strings.CutPrefix(r.URL.Path, prefix)
	if !ok {
		return ObjectPath{}, false
	}
	return parseObjectPath(rest)
}

// captureResponseWriter records the proxied backend handler's response so
// the middleware can inspect and rewrite it before it reaches the client.
type captureResponseWriter struct {
	header http.Header
	status int
	body   []byte
}

func (c *captureResponseWriter) Header() http.Header { return c.header }

func (c *captureResponseWriter) WriteHeader(status int) { c.status = status }

func (c *captureResponseWriter) Write(b []byte) (int, error) {
	c.body = append(c.body, b...)
	return len(b), nil
}

func forwardCapturedResponse(w http.ResponseWriter, rec *captureResponseWriter) {
	for k, vs := range rec.header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(rec.status)
	_, _ = w.Write(rec.body)
}
