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
	"net/http"
	"net/url"

	"github.com/sapcc/swift-slo/headers"
)

// BulkObjectError is one object's individual failure within a BulkError,
// named after the (container, object, status) triple the bulk-delete report
// in the original backend client's BulkError carries.
type BulkObjectError struct {
	ContainerName string
	ObjectName    string
	StatusCode    int
}

// BulkError is the aggregate report CascadingDelete returns when the bulk
// deleter reports any per-object failures, or when the manifest tree itself
// could not be fully walked.
type BulkError struct {
	OverallError string
	ObjectErrors []BulkObjectError
}

func (e *BulkError) Error() string {
	if e.OverallError != "" {
		return e.OverallError
	}
	return "bulk delete reported per-object errors"
}

// BulkDeleter is the external collaborator that actually issues the
// bulk-delete request against the backend, given the full, ordered list of
// object paths to remove. It returns the number of objects actually
// deleted and, if any individual deletes failed, a *BulkError.
type BulkDeleter interface {
	BulkDelete(ctx context.Context, paths []ObjectPath) (deleted int, err error)
}

// deleteWorkItem is one node of the manifest tree being walked by
// CascadingDelete: either a leaf segment (SubSLO == false, delete
// immediately) or a sub-manifest that must be expanded first and then
// re-queued with SubSLO cleared so it is deleted only after its children.
type deleteWorkItem struct {
	Path   ObjectPath
	SubSLO bool
}

// CascadingDelete implements §4.H: breadth-first expansion of a manifest
// tree into its full list of leaf segments plus every manifest in it, then a
// single bulk-delete call over that list. Each manifest is re-queued behind
// its own direct entries, so it is ordered after its direct leaf segments;
// a nested sub-manifest is only expanded when it reaches the front of the
// queue, so its segments and the sub-manifest itself come after the parent
// (for top -> [s1, sub], sub -> [s2, s3] the order is s1, top, s2, s3, sub).
// fetchManifestForDelete resolves a sub-manifest path into its
// entries using the "fetch classifier" named in §4.H (success+SLO header →
// entries; anything else is a per-entry BulkObjectError, not an abort).
func CascadingDelete(ctx context.Context, root ObjectPath, fetch func(ctx context.Context, path ObjectPath) ([]deleteWorkItem, error), deleter BulkDeleter) (int, error) {
	queue := []deleteWorkItem{{Path: root, SubSLO: true}}
	var ordered []ObjectPath
	var fetchErrors []BulkObjectError

	for len(queue) > 0 {
		if len(queue) > MaxBufferedDeleteSegments {
			return 0, ErrTooManyPendingDeletes
		}

		item := queue[0]
		queue = queue[1:]

		if !item.SubSLO {
			ordered = append(ordered, item.Path)
			continue
		}

		children, err := fetch(ctx, item.Path)
		if err != nil {
			fetchErrors = append(fetchErrors, BulkObjectError{
				ContainerName: item.Path.Container,
				ObjectName:    item.Path.Object,
				StatusCode:    statusCodeOf(err),
			})
			//the manifest itself is still queued for deletion even though its
			//children could not be listed
			ordered = append(ordered, item.Path)
			continue
		}

		queue = append(queue, children...)
		queue = append(queue, deleteWorkItem{Path: item.Path, SubSLO: false})
	}

	deleted, err := deleter.BulkDelete(ctx, ordered)
	if len(fetchErrors) == 0 {
		return deleted, err
	}

	be, ok := err.(*BulkError)
	if !ok {
		be = &BulkError{}
	}
	be.ObjectErrors = append(be.ObjectErrors, fetchErrors...)
	return deleted, be
}

func statusCodeOf(err error) int {
	if se, ok := err.(StatusError); ok {
		return se.Status
	}
	return http.StatusInternalServerError
}

// fetchManifestForDelete is the production implementation of
// CascadingDelete's fetch callback: it issues a ?multipart-manifest=get GET
// and applies the §4.H fetch classifier.
func fetchManifestForDelete(backend Backend, authHeader headers.Headers) func(context.Context, ObjectPath) ([]deleteWorkItem, error) {
	client := newInternalClient(backend, authHeader, "MultipartDELETE")
	return func(ctx context.Context, path ObjectPath) ([]deleteWorkItem, error) {
		resp, err := client.Get(ctx, path, rawManifestQuery())
		if err != nil {
			return nil, wrapInternal(err)
		}
		defer drainAndClose(resp)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body := make([]byte, 0)
			return nil, statusFromBackend(resp, body)
		}
		if !IsSLOResponse(resp) {
			return nil, ErrNotAnSLO
		}

		var stored StoredManifest
		if err := decodeJSONBody(resp, &stored); err != nil {
			return nil, wrapInternal(err)
		}

		items := make([]deleteWorkItem, 0, len(stored))
		for _, e := range stored {
			objPath, ok := parseObjectPath(e.Name)
			if !ok {
				continue
			}
			items = append(items, deleteWorkItem{Path: objPath, SubSLO: e.SubSLO})
		}
		return items, nil
	}
}

func rawManifestQuery() url.Values {
	v := url.Values{}
	v.Set("multipart-manifest", "get")
	return v
}

func decodeJSONBody(resp *http.Response, out interface{}) error {
	return json.NewDecoder(resp.Body).Decode(out)
}
