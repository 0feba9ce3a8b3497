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

import "context"

// SubManifestFetcher fetches and decodes a sub-manifest given the path of
// the manifest that referenced it (for error messages) and the sub-SLO's own
// path. fetchSubManifest (submanifest.go) is the production implementation;
// tests supply a fake.
type SubManifestFetcher func(ctx context.Context, outerPath string, sub ObjectPath) (StoredManifest, error)

// YieldFunc receives one SegmentTuple at a time during iteration. Returning
// a non-nil error aborts the walk immediately (e.g. because the client
// disconnected, or the segmented streamer failed); SegmentIterator.Run
// returns that same error to its caller.
type YieldFunc func(SegmentTuple) error

// SegmentIterator implements §4.F, the central algorithm: a recursive,
// range-windowed traversal of a StoredManifest that calls yield once per
// leaf byte range, in order, fetching sub-manifests lazily and only when the
// requested window actually intersects their span.
//
// Per the design note in §9, the window is threaded through as an ordinary
// (immutable, per-call) parameter rather than mutated in place on a shared
// receiver — this sidesteps the save/restore dance the original generator
// needed around its recursive call, while preserving the same semantics.
type SegmentIterator struct {
	fetch SubManifestFetcher
}

// NewSegmentIterator constructs a SegmentIterator that uses fetch to resolve
// sub-manifests.
func NewSegmentIterator(fetch SubManifestFetcher) *SegmentIterator {
	return &SegmentIterator{fetch: fetch}
}

// Run walks manifest (whose own path is manifestPath, used for sub-manifest
// error messages) over the given window and calls yield for every leaf
// SegmentTuple. An unset window is resolved against manifest.TotalLength()
// before the walk starts.
func (it *SegmentIterator) Run(ctx context.Context, manifest StoredManifest, manifestPath string, window Window, yield YieldFunc) error {
	first, last := window.First, window.Last
	if !window.Set {
		first, last = 0, manifest.TotalLength()-1
	}
	return it.walk(ctx, manifest, manifestPath, first, last, 1, yield)
}

func (it *SegmentIterator) walk(ctx context.Context, entries StoredManifest, manifestPath string, first, last int64, depth int, yield YieldFunc) error {
	var lastSubPath string
	var lastSubSegments StoredManifest
	haveLastSub := false

	for _, e := range entries {
		segLen := e.EffectiveLength()

		if first >= segLen {
			//step 1: skip without fetching
			first -= segLen
			last -= segLen
			continue
		}
		if last < 0 {
			//step 2: nothing more is needed from this or any later entry
			break
		}

		rangeStart, rangeEnd := e.sourceRange()

		if e.SubSLO {
			if depth >= MaxRecursionDepth {
				return ErrRecursionTooDeep
			}

			subPath, ok := parseObjectPath(e.Name)
			if !ok {
				return wrapInternal(StatusError{Status: 500, Message: "malformed sub-manifest reference " + e.Name})
			}

			var subSegments StoredManifest
			if haveLastSub && lastSubPath == e.Name {
				subSegments = lastSubSegments
			} else {
				fetched, err := it.fetch(ctx, manifestPath, subPath)
				if err != nil {
					return err
				}
				subSegments = fetched
				lastSubPath, lastSubSegments, haveLastSub = e.Name, fetched, true
			}

			//step 4: recurse with a sliced window; the outer (first, last)
			//survive unmodified because they are this call's own locals.
			subFirst := rangeStart + max64(0, first)
			subLast := min64(rangeEnd, rangeStart+last)
			if err := it.walk(ctx, subSegments, e.Name, subFirst, subLast, depth+1, yield); err != nil {
				return err
			}
		} else {
			//step 5: yield this leaf's contribution
			tuple := SegmentTuple{
				Entry: e,
				Start: max64(0, first) + rangeStart,
				End:   min64(rangeEnd, rangeStart+last),
			}
			if tuple.Start <= tuple.End {
				if err := yield(tuple); err != nil {
					return err
				}
			}
		}

		//step 6: advance the window past this entry
		first -= segLen
		last -= segLen
	}
	return nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
