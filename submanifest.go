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
	"fmt"
	"io"
	"net/http"

	"github.com/sapcc/swift-slo/headers"
)

// fetchSubManifest implements §4.E: issue an internal unconditional GET for
// a sub-manifest referenced by a StoredSegmentEntry with SubSLO set, and
// decode its body into a StoredManifest. outerPath is the path of the
// manifest that referenced it, used only to annotate the error.
func fetchSubManifest(ctx context.Context, backend Backend, authHeader headers.Headers, outerPath string, sub ObjectPath) (StoredManifest, error) {
	client := newInternalClient(backend, authHeader, "MultipartGET")
	resp, err := client.Get(ctx, sub, nil)
	if err != nil {
		return nil, wrapInternal(fmt.Errorf("fetching sub-manifest %s (referenced from %s): %w", sub, outerPath, err))
	}
	defer drainAndClose(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		se := statusFromBackend(resp, body)
		se.Message = fmt.Sprintf("listing sub-manifest %s (referenced from %s): %s", sub, outerPath, se.Message)
		return nil, se
	}
	if !IsSLOResponse(resp) {
		return nil, StatusError{Status: http.StatusBadRequest, Message: fmt.Sprintf("sub-manifest %s (referenced from %s) is not an SLO manifest", sub, outerPath)}
	}

	var stored StoredManifest
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		return nil, wrapInternal(fmt.Errorf("decoding sub-manifest %s (referenced from %s): %w", sub, outerPath, err))
	}
	return stored, nil
}
