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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// MimeGuesser is the out-of-scope MIME-guessing collaborator named in §1;
// the core package never imports "mime" itself, only cmd/swift-slo-proxy
// wires a concrete implementation.
type MimeGuesser interface {
	GuessFromPath(path string) string
}

// BuildStoredManifest implements the serialization half of §4.C: the JSON
// body that will replace the client's request body.
func BuildStoredManifest(stored StoredManifest) ([]byte, error) {
	if stored == nil {
		stored = StoredManifest{}
	}
	return json.Marshal([]StoredSegmentEntry(stored))
}

// RewriteUploadRequest implements §4.C: it replaces req's body with the
// serialized StoredManifest, fixes up Content-Length, sets the reserved
// X-Static-Large-Object header, and appends the hidden swift_bytes parameter
// to Content-Type.
func RewriteUploadRequest(req *http.Request, stored StoredManifest, manifestPath string, guesser MimeGuesser) error {
	body, err := BuildStoredManifest(stored)
	if err != nil {
		return err
	}

	contentType := req.Header.Get("Content-Type")
	if contentType == "" {
		if guesser != nil {
			contentType = guesser.GuessFromPath(manifestPath)
		}
		if contentType == "" {
			contentType = "application/octet-stream"
		}
	}
	contentType = fmt.Sprintf("%s;swift_bytes=%d", contentType, stored.TotalLength())

	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Length", fmt.Sprintf("%d", len(body)))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(HeaderStaticLargeObject, "True")
	return nil
}

// RewriteUploadResponse implements §4.C's "rewrite the response ETag header
// to the composite ETag (quoted) before surfacing."
func RewriteUploadResponse(resp *http.Response, compositeEtag string) {
	resp.Header.Set("Etag", `"`+compositeEtag+`"`)
}
