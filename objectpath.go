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

import "strings"

// ObjectPath identifies a single object by its container and object name,
// the two path components Swift addresses everything by below the account.
// This replaces the backend client's stateful Account/Container/Object
// handle chain: the middleware never holds such a handle across calls, it
// only ever needs to join and split these two strings.
type ObjectPath struct {
	Container string
	Object    string
}

// String renders the path in the "/container/object" form used throughout
// manifest JSON and error messages.
func (p ObjectPath) String() string {
	return "/" + p.Container + "/" + p.Object
}

// parseObjectPath resolves a client-supplied manifest path into its
// container and object components. Per §4.A, the path must contain a
// "non-boundary" slash: after trimming one leading slash, there must be a
// '/' that is neither the first nor the last character, so that both the
// container and the object name are non-empty.
func parseObjectPath(path string) (ObjectPath, bool) {
	trimmed := strings.TrimPrefix(path, "/")
	idx := strings.IndexByte(trimmed, '/')
	if idx <= 0 || idx == len(trimmed)-1 {
		return ObjectPath{}, false
	}
	return ObjectPath{
		Container: trimmed[:idx],
		Object:    trimmed[idx+1:],
	}, true
}

// ResolvedPath is the absolute, account-qualified path used to detect
// self-references (§4.A: "the entry's resolved absolute path... is not the
// manifest's own path"). account and apiVersion are prefixed the same way
// for both the manifest's own location and every entry, so string equality
// is sufficient — no normalization beyond what parseObjectPath already did.
func ResolvedPath(apiVersion, account string, p ObjectPath) string {
	return "/" + apiVersion + "/" + account + p.String()
}
