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
	"crypto/md5" //nolint:gosec // composite ETag, not a security use
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/swift-slo/headers"
)

// clientRange is one "A-B" / "A-" / "-N" member of a request's Range header,
// already classified against the byteRange grammar in range.go.
type clientRange = byteRange

// parseClientRangeHeader parses a "bytes=R1,R2,..." request Range header
// into its comma-separated members. Only the "bytes" unit is recognized;
// anything else yields no ranges (treated as if no Range header was sent).
func parseClientRangeHeader(header string) []clientRange {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return nil
	}
	var out []clientRange
	for _, part := range strings.Split(strings.TrimPrefix(header, prefix), ",") {
		br, ok := parseByteRange(strings.TrimSpace(part))
		if !ok {
			continue
		}
		out = append(out, br)
	}
	return out
}

// resolveClientRange implements §4.G step 2: evaluate the request's Range
// header against the logical total length. If at least one member parses but
// none is satisfiable, it returns satisfiable == false with
// ErrRangeNotSatisfiable-worthy semantics (caller decides the response); a
// header with no parseable member is treated as absent and returns true;
// multiple satisfiable ranges fall back to the whole object,
// per the spec's "multipart ranges are not supported" rule.
func resolveClientRange(header string, totalLength int64) (window Window, satisfiable bool) {
	if header == "" {
		return Window{}, true
	}
	ranges := parseClientRangeHeader(header)

	var satisfiableRanges []byteRange
	for _, br := range ranges {
		if br.satisfiableAgainst(totalLength) {
			satisfiableRanges = append(satisfiableRanges, br)
		}
	}

	switch len(satisfiableRanges) {
	case 0:
		if len(ranges) == 0 {
			//header present but unparseable: treated as absent, per the
			//permissive handling the source applies to malformed Range values
			return Window{}, true
		}
		return Window{}, false
	case 1:
		a, b := satisfiableRanges[0].resolve(totalLength)
		return Window{First: a, Last: b, Set: true}, true
	default:
		logg.Debug("Range header %q has %d satisfiable ranges; multipart ranges are not supported, responding with the whole object", header, len(satisfiableRanges))
		return Window{}, true
	}
}

// PreparedResponse is the result of PrepareResponse's header computation:
// the caller writes these headers (from the commitHeaders callback it hands
// to StreamResponse), and StreamResponse streams the body (or writes none
// for a HEAD request).
type PreparedResponse struct {
	Status        int
	ContentLength int64
	ContentRange  string //set only for a satisfied single-range response
	Etag          string //omitted (empty) for a satisfied ranged response, per step 7
	Window        Window
}

// StreamPlan is the input StreamResponse needs beyond the stored manifest
// itself. Window must already have been resolved by PrepareResponse; a
// caller that received ErrRangeNotSatisfiable from PrepareResponse must
// respond 416 directly and never call StreamResponse.
type StreamPlan struct {
	Manifest        StoredManifest
	CompositeEtag   string
	Window          Window
	Method          string //http.MethodGet or http.MethodHead
	RateLimitAfter  int
	RateLimitPerSec int
	// OnThrottle, if set, is invoked once per segment fetch the rate limiter
	// actually delayed.
	OnThrottle func()
}

// PrepareResponse implements §4.G steps 1-2: compute the headers for the
// logical response and resolve any client Range header into an iterator
// window. A 416 is signaled by returning ErrRangeNotSatisfiable.
func PrepareResponse(manifest StoredManifest, compositeEtag, rangeHeader string) (PreparedResponse, error) {
	total := manifest.TotalLength()

	window, ok := resolveClientRange(rangeHeader, total)
	if !ok {
		return PreparedResponse{}, ErrRangeNotSatisfiable
	}

	if !window.Set {
		return PreparedResponse{
			Status:        http.StatusOK,
			ContentLength: total,
			Etag:          compositeEtag,
			Window:        window,
		}, nil
	}

	return PreparedResponse{
		Status:        http.StatusPartialContent,
		ContentLength: window.Last - window.First + 1,
		ContentRange:  fmt.Sprintf("bytes %d-%d/%d", window.First, window.Last, total),
		Window:        window,
	}, nil
}

// SegmentFetcher opens a ranged read of one leaf segment's backing object.
// fetchSegmentBody (below) is the production implementation.
type SegmentFetcher func(ctx context.Context, tuple SegmentTuple) (io.ReadCloser, error)

// StreamResponse implements §4.G steps 3-6: drive the segment listing
// iterator through a rate limiter, validate the first segment synchronously
// (returning ErrStreamingConflict — 409 — if it fails before any byte of the
// response has been written), and then copy every subsequent segment's body
// to w in order.
//
// manifestPath is used only to annotate the mid-stream log line.
// commitHeaders is called exactly once, right before the first body byte is
// written — the caller uses it to flush the 200/206 status line and
// headers. Any error before that point is returned as ErrStreamingConflict
// (409) without commitHeaders ever having been invoked; any error after it
// is returned as-is, since the response has already been committed and the
// caller can only drop the connection.
func StreamResponse(ctx context.Context, manifestPath string, plan StreamPlan, iter *SegmentIterator, fetch SegmentFetcher, commitHeaders func(), w io.Writer) error {
	if plan.Method == http.MethodHead {
		commitHeaders()
		return nil
	}

	rl := NewRateLimiter(plan.RateLimitAfter, plan.RateLimitPerSec)
	rl.OnThrottle = plan.OnThrottle

	var tuples []SegmentTuple
	collect := func(t SegmentTuple) error {
		tuples = append(tuples, t)
		return nil
	}
	if err := iter.Run(ctx, plan.Manifest, manifestPath, plan.Window, collect); err != nil {
		return ErrStreamingConflict
	}

	committed := false
	for i, t := range tuples {
		if err := rl.Wait(ctx); err != nil {
			if !committed {
				return ErrStreamingConflict
			}
			return err
		}

		body, err := fetch(ctx, t)
		if err != nil {
			if !committed {
				return ErrStreamingConflict
			}
			logg.Info("segment stream for %s aborted after %d segments: %s", manifestPath, i, err.Error())
			return err
		}

		if !committed {
			commitHeaders()
			committed = true
		}

		_, copyErr := io.Copy(w, body)
		closeErr := body.Close()
		if copyErr != nil {
			return copyErr
		}
		if closeErr != nil {
			return closeErr
		}
	}
	if !committed {
		//zero segments total (empty manifest): still need to commit headers
		commitHeaders()
	}
	return nil
}

// fetchSegmentBody is the production SegmentFetcher: an internal ranged GET
// on the tuple's backing object.
func fetchSegmentBody(backend Backend, authHeader headers.Headers) SegmentFetcher {
	client := newInternalClient(backend, authHeader, "MultipartGET")
	return func(ctx context.Context, t SegmentTuple) (io.ReadCloser, error) {
		objPath, ok := parseObjectPath(t.Entry.Name)
		if !ok {
			return nil, wrapInternal(fmt.Errorf("malformed stored segment name %q", t.Entry.Name))
		}
		resp, err := client.GetRange(ctx, objPath, t.Start, t.End)
		if err != nil {
			return nil, wrapInternal(err)
		}
		if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			return nil, statusFromBackend(resp, body)
		}
		return resp.Body, nil
	}
}

// CompositeEtagOf recomputes the composite ETag of an already-stored
// manifest, the same accumulation rule §4.B uses while verifying: each
// entry's hash, or "hash:range;" when ranged.
func CompositeEtagOf(m StoredManifest) string {
	hasher := md5.New() //nolint:gosec
	for _, e := range m {
		if e.Range == "" {
			hasher.Write([]byte(e.Hash))
		} else {
			hasher.Write([]byte(e.Hash + ":" + e.Range + ";"))
		}
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

func formatContentLength(n int64) string {
	return strconv.FormatInt(n, 10)
}
