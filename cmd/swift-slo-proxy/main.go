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

// Command swift-slo-proxy demonstrates wiring slo.Middleware in front of a
// plain object-storage proxy. The proxy itself (auth, request routing to the
// right backend, retries) is out of scope for this module; passthroughProxy
// below is the smallest stand-in that actually talks to a real Swift cluster,
// so that the demo is runnable rather than purely illustrative.
package main

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/utils/v2/openstack/clientconfig"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sapcc/go-bits/httpext"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/must"
	"github.com/sapcc/go-bits/osext"
	"github.com/sapcc/go-bits/respondwith"
	"github.com/sapcc/go-bits/sre"

	slo "github.com/sapcc/swift-slo"
)

func main() {
	ctx := httpext.ContextWithSIGINT(context.Background(), 10*time.Second)

	client := must.Return(newObjectStorageClient(ctx))
	backend := slo.NewGophercloudBackend(client)

	account := osext.MustGetenv("SWIFT_SLO_ACCOUNT")
	version := osext.GetenvOrDefault("SWIFT_SLO_API_VERSION", "v1")

	mw := slo.NewMiddleware(
		passthroughProxy{backend: backend},
		backend,
		newBulkDeleter(backend),
		mimeGuesser{},
		account,
		version,
	)
	mw.Config.RateLimitAfterSegment = 10
	mw.Config.RateLimitSegmentsPerSec = 1

	r := mux.NewRouter()
	r.PathPrefix("/" + version + "/" + account).Handler(mw)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		sre.IdentifyEndpoint(r, "/healthcheck")
		respondwith.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	addr := osext.GetenvOrDefault("SWIFT_SLO_LISTEN_ADDRESS", ":8080")
	logg.Info("listening on " + addr)
	must.Succeed(httpext.ListenAndServeContext(ctx, addr, sre.Instrument(r)))
}

// newObjectStorageClient authenticates against OpenStack using whatever
// clouds.yaml/OS_* environment the operator has configured, and returns a
// ServiceClient scoped to the Swift (object-store) endpoint.
func newObjectStorageClient(ctx context.Context) (*gophercloud.ServiceClient, error) {
	ao := clientconfig.ClientOpts{
		Cloud: osext.GetenvOrDefault("OS_CLOUD", ""),
	}
	serviceType := "object-store"
	client, err := clientconfig.NewServiceClient(ctx, serviceType, &ao)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// passthroughProxy is the minimal "rest of the proxy" slo.Middleware wraps:
// it forwards every request to the backend's endpoint verbatim and copies
// the response back unmodified. A real deployment would replace this with
// whatever handles authentication, account routing, and the non-SLO parts
// of the Swift API surface.
type passthroughProxy struct {
	backend slo.Backend
}

func (p passthroughProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sre.IdentifyEndpoint(r, "/{account}/{container}/{object}")
	target := strings.TrimSuffix(p.backend.EndpointURL(), "/") + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	outReq.Header = r.Header.Clone()
	outReq.ContentLength = r.ContentLength

	resp, err := p.backend.Do(outReq)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// mimeGuesser adapts the standard library's extension-based MIME database to
// slo.MimeGuesser, mirroring how the original upload path infers Content-Type
// from the object name when the client does not supply one.
type mimeGuesser struct{}

func (mimeGuesser) GuessFromPath(objectPath string) string {
	return mime.TypeByExtension(path.Ext(objectPath))
}

// bulkDeleter implements slo.BulkDeleter against Swift's own bulk-delete
// middleware (DELETE to the account root with ?bulk-delete=true and a
// newline-separated list of "container/object" paths, each component
// URL-escaped, as the body). This wire format is Swift's generic bulk-operations API, not
// anything specific to SLO, which is why spec.md treats it as an external
// collaborator rather than something this module implements.
type bulkDeleter struct {
	backend slo.Backend
}

func newBulkDeleter(backend slo.Backend) slo.BulkDeleter {
	return bulkDeleter{backend: backend}
}

func (d bulkDeleter) BulkDelete(ctx context.Context, paths []slo.ObjectPath) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}

	lines := make([]string, len(paths))
	for i, p := range paths {
		lines[i] = url.QueryEscape(p.Container) + "/" + url.QueryEscape(p.Object)
	}
	body := strings.NewReader(strings.Join(lines, "\n"))

	target := strings.TrimSuffix(d.backend.EndpointURL(), "/") + "?bulk-delete=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Accept", "application/json")

	resp, err := d.backend.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var report struct {
		NumberDeleted int         `json:"Number Deleted"`
		Errors        [][2]string `json:"Errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return 0, err
	}

	if len(report.Errors) == 0 {
		return report.NumberDeleted, nil
	}
	be := &slo.BulkError{}
	for _, pair := range report.Errors {
		container, object := splitBulkErrorPath(pair[0])
		be.ObjectErrors = append(be.ObjectErrors, slo.BulkObjectError{
			ContainerName: container,
			ObjectName:    object,
			StatusCode:    parseBulkErrorStatus(pair[1]),
		})
	}
	return report.NumberDeleted, be
}

func splitBulkErrorPath(p string) (container, object string) {
	trimmed := strings.TrimPrefix(p, "/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 {
		return trimmed, ""
	}
	return parts[0], parts[1]
}

func parseBulkErrorStatus(s string) int {
	fields := strings.SplitN(s, " ", 2)
	var code int
	for _, r := range fields[0] {
		if r < '0' || r > '9' {
			return http.StatusInternalServerError
		}
		code = code*10 + int(r-'0')
	}
	if code == 0 {
		return http.StatusInternalServerError
	}
	return code
}
