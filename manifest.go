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
	"encoding/json"
	"fmt"

	"github.com/sapcc/go-bits/errext"
)

var requiredManifestKeys = []string{"path", "etag", "size_bytes"}
var allowedManifestKeys = map[string]bool{
	"path": true, "etag": true, "size_bytes": true, "range": true,
}

// ParseManifest implements §4.A: it parses and validates the client's JSON
// manifest body, accumulating every per-index problem instead of stopping at
// the first one. manifestPath is the object path the manifest itself will be
// stored at (used for the self-reference check); account and apiVersion
// qualify it the same way an entry's resolved path is qualified.
func ParseManifest(body []byte, manifestPath ObjectPath, apiVersion, account string, minSegmentSize int64) ([]ClientSegmentEntry, error) {
	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &ValidationError{Errors: errext.ErrorSet{fmt.Errorf("invalid JSON: %s", err.Error())}}
	}

	var errs errext.ErrorSet
	ownPath := ResolvedPath(apiVersion, account, manifestPath)
	entries := make([]ClientSegmentEntry, 0, len(raw))

	for idx, obj := range raw {
		isLast := idx == len(raw)-1
		entry, ok := validateManifestEntry(obj, idx, isLast, ownPath, apiVersion, account, minSegmentSize, &errs)
		if ok {
			entries = append(entries, entry)
		}
	}

	if !errs.IsEmpty() {
		return nil, &ValidationError{Errors: errs}
	}
	return entries, nil
}

func validateManifestEntry(obj map[string]json.RawMessage, idx int, isLast bool, ownPath, apiVersion, account string, minSegmentSize int64, errs *errext.ErrorSet) (ClientSegmentEntry, bool) {
	ok := true
	report := func(format string, args ...interface{}) {
		errs.Addf("entry %d: "+format, append([]interface{}{idx}, args...)...)
		ok = false
	}

	for _, key := range requiredManifestKeys {
		if _, present := obj[key]; !present {
			report("missing required key %q", key)
		}
	}
	for key := range obj {
		if !allowedManifestKeys[key] {
			report("unknown key %q", key)
		}
	}
	if !ok {
		return ClientSegmentEntry{}, false
	}

	var entry ClientSegmentEntry
	if err := json.Unmarshal(obj["path"], &entry.Path); err != nil {
		report("path is not a string")
		return ClientSegmentEntry{}, false
	}

	var rawEtag json.RawMessage = obj["etag"]
	if string(rawEtag) != "null" {
		var etag string
		if err := json.Unmarshal(rawEtag, &etag); err != nil {
			report("etag is not a string or null")
			return ClientSegmentEntry{}, false
		}
		entry.Etag = &etag
	}

	if rawSize := obj["size_bytes"]; string(rawSize) != "null" {
		var size int64
		if err := json.Unmarshal(rawSize, &size); err != nil {
			report("size_bytes does not coerce to an integer")
			return ClientSegmentEntry{}, false
		}
		entry.SizeBytes = &size
	}

	if rawRange, present := obj["range"]; present && string(rawRange) != "null" {
		if err := json.Unmarshal(rawRange, &entry.Range); err != nil {
			report("range is not a string")
			return ClientSegmentEntry{}, false
		}
	}

	objPath, validPath := parseObjectPath(entry.Path)
	if !validPath {
		report("path %q does not resolve to a /container/object form", entry.Path)
		return ClientSegmentEntry{}, false
	}

	if entry.SizeBytes != nil && !isLast && *entry.SizeBytes < minSegmentSize {
		report("size_bytes %d is below the minimum segment size for a non-final entry", *entry.SizeBytes)
	}

	if ResolvedPath(apiVersion, account, objPath) == ownPath {
		report("manifest must not include itself as a segment")
	}

	if entry.Range != "" {
		br, validRange := parseByteRange(entry.Range)
		if !validRange {
			report("range %q is not a single valid byte range", entry.Range)
		} else if entry.SizeBytes != nil && !br.satisfiableAgainst(*entry.SizeBytes) {
			report("range %q is not satisfiable against size_bytes %d", entry.Range, *entry.SizeBytes)
		}
	}

	return entry, ok
}
