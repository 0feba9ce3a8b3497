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
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sapcc/go-bits/sre"
)

type funcHandler func(w http.ResponseWriter, r *http.Request)

func (f funcHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) { f(w, r) }

// newTestMiddleware wraps the Middleware in sre.Instrument, mirroring how
// cmd/swift-slo-proxy mounts it in production: sre.IdentifyEndpoint (called
// from each handleXxx method) panics unless the request already carries the
// instrumentation context that sre.Instrument installs.
func newTestMiddleware(next http.Handler, backend Backend, deleter BulkDeleter) http.Handler {
	mw := NewMiddleware(next, backend, deleter, constantGuesser("application/octet-stream"), "AUTH_test", "v1")
	return sre.Instrument(mw)
}

func TestMiddlewarePassThroughNonSLORequest(t *testing.T) {
	var capturedPath string
	next := funcHandler(func(w http.ResponseWriter, r *http.Request) {
		capturedPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("plain object body"))
	})
	mw := newTestMiddleware(next, newFakeBackend(), &fakeBulkDeleter{})

	req := httptest.NewRequest(http.MethodGet, "/v1/AUTH_test/container/object", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	expectString(t, capturedPath, "/v1/AUTH_test/container/object")
	expectInt(t, rec.Code, http.StatusOK)
	expectString(t, rec.Body.String(), "plain object body")
	if rec.Header().Get("X-Trans-Id") == "" {
		t.Error("expected X-Trans-Id to be set even on the passthrough path")
	}
}

func TestMiddlewareRequestOutsideAccountPrefixPassesThrough(t *testing.T) {
	called := false
	next := funcHandler(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	mw := newTestMiddleware(next, newFakeBackend(), &fakeBulkDeleter{})

	req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	expectBool(t, called, true)
	expectInt(t, rec.Code, http.StatusOK)
}

func TestMiddlewarePutManifestHappyPath(t *testing.T) {
	backend := newFakeBackend()
	backend.put("/segments/seg1", &fakeObject{body: []byte("0123456789"), etag: "etag1"})

	var forwardedBody []byte
	var sawSLOHeader string
	next := funcHandler(func(w http.ResponseWriter, r *http.Request) {
		forwardedBody, _ = io.ReadAll(r.Body)
		sawSLOHeader = r.Header.Get(HeaderStaticLargeObject)
		w.Header().Set("Etag", "backend-assigned-etag")
		w.WriteHeader(http.StatusCreated)
	})
	mw := newTestMiddleware(next, backend, &fakeBulkDeleter{})

	manifestBody := `[{"path": "/segments/seg1", "etag": "etag1", "size_bytes": 10}]`
	req := httptest.NewRequest(http.MethodPut, "/v1/AUTH_test/manifests/my-slo?multipart-manifest=put", strings.NewReader(manifestBody))
	req.ContentLength = int64(len(manifestBody))
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	expectInt(t, rec.Code, http.StatusCreated)
	expectString(t, sawSLOHeader, "True")
	if !strings.Contains(string(forwardedBody), "/segments/seg1") {
		t.Errorf("expected the forwarded body to be the stored manifest, got %s", forwardedBody)
	}
	composite := CompositeEtagOf(StoredManifest{{Hash: "etag1", Bytes: 10}})
	expectString(t, rec.Header().Get("Etag"), `"`+composite+`"`)
}

func TestMiddlewarePutRejectsXCopyFrom(t *testing.T) {
	mw := newTestMiddleware(funcHandler(func(http.ResponseWriter, *http.Request) {}), newFakeBackend(), &fakeBulkDeleter{})

	req := httptest.NewRequest(http.MethodPut, "/v1/AUTH_test/manifests/my-slo?multipart-manifest=put", strings.NewReader("[]"))
	req.Header.Set("X-Copy-From", "/other/object")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	expectInt(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestMiddlewarePutRejectsReservedHeaderOutsideManifestUpload(t *testing.T) {
	mw := newTestMiddleware(funcHandler(func(http.ResponseWriter, *http.Request) {}), newFakeBackend(), &fakeBulkDeleter{})

	req := httptest.NewRequest(http.MethodPut, "/v1/AUTH_test/container/object", nil)
	req.Header.Set(HeaderStaticLargeObject, "True")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	expectInt(t, rec.Code, http.StatusBadRequest)
}

func TestMiddlewarePutInvalidManifestReportsValidationError(t *testing.T) {
	mw := newTestMiddleware(funcHandler(func(http.ResponseWriter, *http.Request) {}), newFakeBackend(), &fakeBulkDeleter{})

	body := `[{"path": "bad-path"}]`
	req := httptest.NewRequest(http.MethodPut, "/v1/AUTH_test/manifests/my-slo?multipart-manifest=put", strings.NewReader(body))
	req.ContentLength = int64(len(body))
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	expectInt(t, rec.Code, http.StatusBadRequest)
}

func TestMiddlewareGetExpandsSLOManifest(t *testing.T) {
	backend := newFakeBackend()
	backend.put("/segments/seg1", &fakeObject{body: []byte("hello"), etag: "etag1"})
	backend.put("/segments/seg2", &fakeObject{body: []byte("world"), etag: "etag2"})

	stored := StoredManifest{
		{Name: "/segments/seg1", Bytes: 5, Hash: "etag1"},
		{Name: "/segments/seg2", Bytes: 5, Hash: "etag2"},
	}
	manifestBody, err := json.Marshal(stored)
	if err != nil {
		t.Fatal(err)
	}

	next := funcHandler(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderStaticLargeObject, "True")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(manifestBody)
	})
	mw := newTestMiddleware(next, backend, &fakeBulkDeleter{})

	req := httptest.NewRequest(http.MethodGet, "/v1/AUTH_test/manifests/my-slo", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	expectInt(t, rec.Code, http.StatusOK)
	expectString(t, rec.Body.String(), "helloworld")
	expectString(t, rec.Header().Get("Content-Length"), "10")
	if rec.Header().Get("Etag") == "" {
		t.Error("expected a composite Etag header on the expanded response")
	}
}

func TestMiddlewareGetRangedRequest(t *testing.T) {
	backend := newFakeBackend()
	backend.put("/segments/seg1", &fakeObject{body: []byte("0123456789"), etag: "etag1"})

	stored := StoredManifest{{Name: "/segments/seg1", Bytes: 10, Hash: "etag1"}}
	manifestBody, _ := json.Marshal(stored)

	next := funcHandler(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderStaticLargeObject, "True")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(manifestBody)
	})
	mw := newTestMiddleware(next, backend, &fakeBulkDeleter{})

	req := httptest.NewRequest(http.MethodGet, "/v1/AUTH_test/manifests/my-slo", nil)
	req.Header.Set("Range", "bytes=2-5")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	expectInt(t, rec.Code, http.StatusPartialContent)
	expectString(t, rec.Body.String(), "2345")
	expectString(t, rec.Header().Get("Content-Range"), "bytes 2-5/10")
}

func TestMiddlewareGetRawManifestBody(t *testing.T) {
	backend := newFakeBackend()
	stored := StoredManifest{{Name: "/segments/seg1", Bytes: 10, Hash: "etag1"}}
	manifestBody, _ := json.Marshal(stored)

	next := funcHandler(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderStaticLargeObject, "True")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(manifestBody)
	})
	mw := newTestMiddleware(next, backend, &fakeBulkDeleter{})

	req := httptest.NewRequest(http.MethodGet, "/v1/AUTH_test/manifests/my-slo?multipart-manifest=get", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	expectInt(t, rec.Code, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "/segments/seg1") {
		t.Errorf("expected the raw manifest JSON, got %s", rec.Body.String())
	}
}

func TestMiddlewareDeleteCascades(t *testing.T) {
	backend := newFakeBackend()
	stored := StoredManifest{{Name: "/segments/seg1", Bytes: 10, Hash: "etag1"}}
	manifestBody, _ := json.Marshal(stored)
	backend.put("/manifests/my-slo", &fakeObject{body: manifestBody, etag: "manifest-etag", slo: true})

	deleter := &fakeBulkDeleter{}
	mw := newTestMiddleware(funcHandler(func(http.ResponseWriter, *http.Request) {}), backend, deleter)

	req := httptest.NewRequest(http.MethodDelete, "/v1/AUTH_test/manifests/my-slo?multipart-manifest=delete", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	expectInt(t, rec.Code, http.StatusOK)
	var report struct {
		NumberDeleted int `json:"Number Deleted"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	expectInt(t, report.NumberDeleted, 2) //seg1 + the manifest itself
	if len(deleter.calls) != 1 {
		t.Fatalf("expected exactly one BulkDelete call, got %d", len(deleter.calls))
	}
}
