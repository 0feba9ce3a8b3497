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
	"net/http"
	"strconv"
	"strings"
)

// ResponseDisposition is the result of §4.D's classification.
type ResponseDisposition int

const (
	// PassThrough means the response is not an SLO manifest; forward it
	// untouched.
	PassThrough ResponseDisposition = iota
	// RawManifestBody means the client asked for ?multipart-manifest=get;
	// stream the raw stored JSON with a rewritten Content-Type.
	RawManifestBody
	// NeedsRefetch means the cached response cannot be trusted to contain
	// the complete manifest body; a fresh, unconditional, unranged GET is
	// required before the segment iterator can run.
	NeedsRefetch
	// ReadyToExpand means resp's body is the complete manifest JSON and can
	// be handed directly to the segment iterator.
	ReadyToExpand
)

// IsSLOResponse reports whether resp carries the reserved
// X-Static-Large-Object header with a true-ish value.
func IsSLOResponse(resp *http.Response) bool {
	return isTrueHeader(resp.Header.Get(HeaderStaticLargeObject))
}

// ClassifyResponse implements §4.D: given the forwarded GET/HEAD response
// and the shape of the original client request, decide what to do next.
func ClassifyResponse(method string, resp *http.Response, multipartManifestGet bool, hadConditional bool) ResponseDisposition {
	if !IsSLOResponse(resp) {
		return PassThrough
	}
	if multipartManifestGet {
		return RawManifestBody
	}
	if method == http.MethodHead {
		return NeedsRefetch
	}
	if hadConditional && !is2xx(resp.StatusCode) {
		return NeedsRefetch
	}
	if resp.StatusCode == http.StatusPartialContent || resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		if first, last, length, ok := parseContentRange(resp.Header.Get("Content-Range")); ok {
			if first != 0 || last != length-1 {
				return NeedsRefetch
			}
		}
	}
	return ReadyToExpand
}

func is2xx(status int) bool {
	return status >= 200 && status < 300
}

// parseContentRange parses a "bytes A-B/L" Content-Range header value.
func parseContentRange(header string) (first, last, length int64, ok bool) {
	const prefix = "bytes "
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, 0, false
	}
	rest := strings.TrimPrefix(header, prefix)
	slashIdx := strings.IndexByte(rest, '/')
	if slashIdx < 0 {
		return 0, 0, 0, false
	}
	rangePart, lengthPart := rest[:slashIdx], rest[slashIdx+1:]

	dashIdx := strings.IndexByte(rangePart, '-')
	if dashIdx < 0 {
		return 0, 0, 0, false
	}
	first, err := strconv.ParseInt(rangePart[:dashIdx], 10, 64)
	if err != nil {
		return 0, 0, 0, false
	}
	last, err = strconv.ParseInt(rangePart[dashIdx+1:], 10, 64)
	if err != nil {
		return 0, 0, 0, false
	}
	length, err = strconv.ParseInt(lengthPart, 10, 64)
	if err != nil {
		return 0, 0, 0, false
	}
	return first, last, length, true
}
