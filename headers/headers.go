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

//Package headers contains a small type-safe carrier for the handful of
//identity headers (X-Auth-Token, Authorization) that the middleware lifts
//off an inbound client request and replays onto its own internal
//sub-requests (segment HEADs, sub-manifest GETs).
package headers

import (
	"net/http"
	"net/textproto"
)

//Headers works like http.Header, but does not allow multiple values per key.
//
//If you write the map directly, without using the provided methods, you must
//normalize all keys with textproto.CanonicalMIMEHeaderKey(). Otherwise, the
//results are undefined.
type Headers map[string]string

//Get returns the value for the specified header.
func (h Headers) Get(key string) string {
	if h == nil {
		return ""
	}
	k := textproto.CanonicalMIMEHeaderKey(key)
	return h[k]
}

//Set sets a new value for the specified header, possibly overwriting a
//previous value.
func (h Headers) Set(key, value string) {
	k := textproto.CanonicalMIMEHeaderKey(key)
	h[k] = value
}

//ToHTTP converts this map into a http.Header suitable for assigning directly
//to an http.Request's Header field.
func (h Headers) ToHTTP() http.Header {
	dest := make(http.Header, len(h))
	for k, v := range h {
		dest.Set(k, v)
	}
	return dest
}
