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
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestBuildStoredManifestEmpty(t *testing.T) {
	body, err := BuildStoredManifest(nil)
	if !expectSuccess(t, err) {
		return
	}
	expectString(t, string(body), "[]")
}

func TestBuildStoredManifestRoundtrip(t *testing.T) {
	m := StoredManifest{{Name: "/segments/seg1", Bytes: 10, Hash: "etag1"}}
	body, err := BuildStoredManifest(m)
	if !expectSuccess(t, err) {
		return
	}
	if !strings.Contains(string(body), `"name":"/segments/seg1"`) {
		t.Errorf("expected serialized manifest to carry the segment name, got %s", body)
	}
}

type constantGuesser string

func (g constantGuesser) GuessFromPath(string) string { return string(g) }

func TestRewriteUploadRequestSetsHeaders(t *testing.T) {
	req, err := http.NewRequest(http.MethodPut, "http://backend.test/manifests/my-slo", strings.NewReader("client body"))
	if err != nil {
		t.Fatal(err)
	}
	stored := StoredManifest{{Name: "/segments/seg1", Bytes: 10, Hash: "etag1"}}

	err = RewriteUploadRequest(req, stored, "my-slo", constantGuesser("text/plain"))
	if !expectSuccess(t, err) {
		return
	}

	expectString(t, req.Header.Get(HeaderStaticLargeObject), "True")
	if !strings.Contains(req.Header.Get("Content-Type"), "text/plain;swift_bytes=10") {
		t.Errorf("expected a swift_bytes-annotated Content-Type, got %q", req.Header.Get("Content-Type"))
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "/segments/seg1") {
		t.Errorf("expected the request body to be replaced with the stored manifest, got %s", body)
	}
}

func TestRewriteUploadRequestKeepsExplicitContentType(t *testing.T) {
	req, err := http.NewRequest(http.MethodPut, "http://backend.test/manifests/my-slo", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	err = RewriteUploadRequest(req, StoredManifest{}, "my-slo", constantGuesser("text/plain"))
	if !expectSuccess(t, err) {
		return
	}
	if !strings.HasPrefix(req.Header.Get("Content-Type"), "application/json;swift_bytes=") {
		t.Errorf("expected the client's own Content-Type to be preserved, got %q", req.Header.Get("Content-Type"))
	}
}

func TestRewriteUploadResponseQuotesEtag(t *testing.T) {
	resp := &http.Response{Header: make(http.Header)}
	RewriteUploadResponse(resp, "abc123")
	expectString(t, resp.Header.Get("Etag"), `"abc123"`)
}
