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

	"github.com/gophercloud/gophercloud/v2"
)

// Backend is the out-of-scope "opaque request-dispatch interface" named in
// §1: the middleware never speaks HTTP to storage directly, it calls Do()
// and lets the embedder worry about auth, retries, and transport.
type Backend interface {
	//EndpointURL returns the endpoint URL this backend dispatches requests
	//against, e.g. "http://domain.tld/v1/AUTH_projectid/".
	EndpointURL() string
	//Do executes the given HTTP request, adding whatever authentication and
	//tracing headers the embedder requires. If the response is 401, the
	//backend may transparently reauthenticate and retry once.
	Do(req *http.Request) (*http.Response, error)
}

// gophercloudBackend wraps a gophercloud.ServiceClient pointed at a Swift
// endpoint so that cmd/swift-slo-proxy has a ready-made Backend without
// reimplementing Keystone reauthentication. Adapted from the backend
// client's own gophercloud-backed client type; the middleware core never
// imports gophercloud directly, only this one file does.
type gophercloudBackend struct {
	client *gophercloud.ServiceClient
}

// NewGophercloudBackend adapts an authenticated gophercloud Swift service
// client into a Backend.
func NewGophercloudBackend(client *gophercloud.ServiceClient) Backend {
	return &gophercloudBackend{client: client}
}

func (b *gophercloudBackend) EndpointURL() string {
	return b.client.Endpoint
}

func (b *gophercloudBackend) Do(req *http.Request) (*http.Response, error) {
	return b.do(req, false)
}

func (b *gophercloudBackend) do(req *http.Request, afterReauth bool) (*http.Response, error) {
	provider := b.client.ProviderClient

	//a caller (e.g. internalClient) may have already set a User-Agent suffix
	//to identify an internal sub-request in backend logs; append to it
	//instead of clobbering it outright.
	if suffix := req.Header.Get("User-Agent"); suffix != "" {
		req.Header.Set("User-Agent", provider.UserAgent.Join()+" "+suffix)
	} else {
		req.Header.Set("User-Agent", provider.UserAgent.Join())
	}
	for key, value := range provider.AuthenticatedHeaders() {
		req.Header.Set(key, value)
	}

	resp, err := provider.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && !afterReauth {
		if err := drainResponseBody(resp); err != nil {
			return nil, err
		}
		if err := provider.Reauthenticate(req.Context(), resp.Request.Header.Get("X-Auth-Token")); err != nil {
			return nil, err
		}
		return b.do(req, true)
	}

	return resp, nil
}

func drainResponseBody(r *http.Response) error {
	_, err := io.Copy(io.Discard, r.Body)
	if err != nil {
		return err
	}
	return r.Body.Close()
}
