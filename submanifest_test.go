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
	"context"
	"encoding/json"
	"testing"
)

func TestFetchSubManifestHappyPath(t *testing.T) {
	backend := newFakeBackend()
	sub := StoredManifest{{Name: "/segments/seg1", Bytes: 10, Hash: "etag1"}}
	body, err := json.Marshal(sub)
	if err != nil {
		t.Fatal(err)
	}
	backend.put("/manifests/sub", &fakeObject{body: body, etag: "sub-etag", slo: true})

	got, err := fetchSubManifest(context.Background(), backend, nil, "/manifests/top",
		ObjectPath{Container: "manifests", Object: "sub"})
	if !expectSuccess(t, err) {
		return
	}
	expectInt(t, len(got), 1)
	expectString(t, got[0].Name, "/segments/seg1")
}

func TestFetchSubManifestNotFound(t *testing.T) {
	backend := newFakeBackend()
	_, err := fetchSubManifest(context.Background(), backend, nil, "/manifests/top",
		ObjectPath{Container: "manifests", Object: "missing"})
	if !Is(err, 404) {
		t.Errorf("expected a 404 StatusError, got %v", err)
	}
}

func TestFetchSubManifestNotAnSLO(t *testing.T) {
	backend := newFakeBackend()
	backend.put("/manifests/plain", &fakeObject{body: []byte("hello"), etag: "x", slo: false})

	_, err := fetchSubManifest(context.Background(), backend, nil, "/manifests/top",
		ObjectPath{Container: "manifests", Object: "plain"})
	if err == nil {
		t.Fatal("expected an error for a non-SLO sub-manifest reference, got none")
	}
}
