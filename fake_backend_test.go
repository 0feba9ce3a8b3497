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
	"io"
	"net/http"
	"strconv"
)

// fakeObject is one object held by a fakeBackend: either an ordinary blob, or
// (when slo is true) a stored SLO manifest body.
type fakeObject struct {
	body         []byte
	etag         string
	contentType  string
	lastModified string
	slo          bool
}

// fakeBackend is an in-memory Backend double, grounded on the teacher's own
// RequestCountingBackend pattern (tests/backend_test.go): instead of wrapping
// a real Backend to count requests, this one stands in for the backend
// entirely so manifest/verify/iterator/delete tests never need a live Swift
// cluster. It understands HEAD, GET (with a single Range), and DELETE
// against a flat map of "/container/object" paths.
type fakeBackend struct {
	endpoint string
	objects  map[string]*fakeObject
	requests []*http.Request
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		endpoint: "http://backend.test",
		objects:  make(map[string]*fakeObject),
	}
}

func (b *fakeBackend) put(path string, obj *fakeObject) {
	b.objects[path] = obj
}

func (b *fakeBackend) EndpointURL() string {
	return b.endpoint
}

func (b *fakeBackend) Do(req *http.Request) (*http.Response, error) {
	b.requests = append(b.requests, req)

	obj, exists := b.objects[req.URL.Path]
	if !exists {
		return &http.Response{
			StatusCode: http.StatusNotFound,
			Header:     make(http.Header),
			Body:       io.NopCloser(bytes.NewReader(nil)),
		}, nil
	}

	switch req.Method {
	case http.MethodDelete:
		delete(b.objects, req.URL.Path)
		return &http.Response{
			StatusCode: http.StatusNoContent,
			Header:     make(http.Header),
			Body:       io.NopCloser(bytes.NewReader(nil)),
		}, nil
	case http.MethodHead:
		return b.headers(obj), nil
	case http.MethodGet:
		return b.get(req, obj)
	default:
		return &http.Response{
			StatusCode: http.StatusMethodNotAllowed,
			Header:     make(http.Header),
			Body:       io.NopCloser(bytes.NewReader(nil)),
		}, nil
	}
}

func (b *fakeBackend) headers(obj *fakeObject) *http.Response {
	h := make(http.Header)
	h.Set("Content-Length", strconv.Itoa(len(obj.body)))
	h.Set("Etag", obj.etag)
	h.Set("Content-Type", obj.contentType)
	h.Set("Last-Modified", obj.lastModified)
	if obj.slo {
		h.Set(HeaderStaticLargeObject, "True")
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     h,
		Body:       io.NopCloser(bytes.NewReader(nil)),
	}
}

func (b *fakeBackend) get(req *http.Request, obj *fakeObject) (*http.Response, error) {
	resp := b.headers(obj)

	rangeHeader := req.Header.Get("Range")
	if rangeHeader == "" {
		resp.StatusCode = http.StatusOK
		resp.Body = io.NopCloser(bytes.NewReader(obj.body))
		return resp, nil
	}

	br, ok := parseByteRange(rangeHeader[len("bytes="):])
	total := int64(len(obj.body))
	if !ok || !br.satisfiableAgainst(total) {
		resp.StatusCode = http.StatusRequestedRangeNotSatisfiable
		resp.Body = io.NopCloser(bytes.NewReader(nil))
		return resp, nil
	}
	a, bEnd := br.resolve(total)
	resp.StatusCode = http.StatusPartialContent
	resp.Header.Set("Content-Range", "bytes "+formatConcreteRange(a, bEnd)+"/"+strconv.FormatInt(total, 10))
	resp.Header.Set("Content-Length", strconv.FormatInt(bEnd-a+1, 10))
	resp.Body = io.NopCloser(bytes.NewReader(obj.body[a : bEnd+1]))
	return resp, nil
}
