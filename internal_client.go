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
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sapcc/swift-slo/headers"
)

// HeaderStaticLargeObject is the reserved header that marks a stored object
// as an SLO manifest.
const HeaderStaticLargeObject = "X-Static-Large-Object"

// internalClient issues the §6 "internal sub-requests": a HEAD on a segment
// during verification (§4.B), and a GET on a sub-manifest (§4.E). Every
// request it builds is tagged with the SLO source header and a suffixed
// User-Agent so backend logs can attribute it, and carries the caller's auth
// token forward via authHeader.
//
// Adapted from the backend client's Request/RequestOptions: this package
// keeps the "build a request, dispatch through Backend, classify the
// response" shape but drops the account/container caching layer, since the
// middleware never holds a handle across requests.
type internalClient struct {
	backend    Backend
	authHeader headers.Headers
	userAgent  string
}

func newInternalClient(backend Backend, authHeader headers.Headers, subrequestKind string) *internalClient {
	return &internalClient{
		backend:    backend,
		authHeader: authHeader,
		userAgent:  "SLO " + subrequestKind,
	}
}

func (c *internalClient) buildRequest(ctx context.Context, method string, path ObjectPath, values url.Values) (*http.Request, error) {
	endpoint := strings.TrimSuffix(c.backend.EndpointURL(), "/")
	u := endpoint + "/" + path.Container + "/" + path.Object
	if values != nil {
		u += "?" + values.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header = c.authHeader.ToHTTP()
	req.Header.Set("X-Swift-Source", "SLO")
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

// Head issues an internal HEAD on a segment, per §4.B.
func (c *internalClient) Head(ctx context.Context, path ObjectPath) (*http.Response, error) {
	req, err := c.buildRequest(ctx, http.MethodHead, path, nil)
	if err != nil {
		return nil, err
	}
	return c.backend.Do(req)
}

// Get issues an internal GET, used both for sub-manifest fetches (§4.E) and
// for the classifier's re-fetch (§4.D).
func (c *internalClient) Get(ctx context.Context, path ObjectPath, values url.Values) (*http.Response, error) {
	req, err := c.buildRequest(ctx, http.MethodGet, path, values)
	if err != nil {
		return nil, err
	}
	return c.backend.Do(req)
}

// GetRange issues an internal ranged GET on a segment, used by the streaming
// responder (§4.G) to fetch one SegmentTuple's bytes.
func (c *internalClient) GetRange(ctx context.Context, path ObjectPath, start, end int64) (*http.Response, error) {
	req, err := c.buildRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", "bytes="+formatConcreteRange(start, end))
	return c.backend.Do(req)
}

func drainAndClose(r *http.Response) {
	if r == nil || r.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, r.Body)
	_ = r.Body.Close()
}
