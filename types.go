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

// Package slo implements the Static Large Object layer of a Swift-compatible
// object storage proxy: manifest validation, segment verification, the
// recursive segment listing iterator that drives streamed GET/HEAD
// responses, and the cascading delete of a manifest tree.
package slo

// ClientSegmentEntry is one entry of the manifest JSON a client PUTs. Fields
// mirror Swift's SLO manifest schema exactly: path is required, etag and
// size_bytes may be null (in which case the verifier fills them from the
// live segment), and range is the optional "M-N"/"M-"/"-N" string.
type ClientSegmentEntry struct {
	Path      string  `json:"path"`
	Etag      *string `json:"etag"`
	SizeBytes *int64  `json:"size_bytes"`
	Range     string  `json:"range,omitempty"`
}

// StoredSegmentEntry is one entry of the manifest this package writes to
// storage, and what the iterator and streamer read back. Bytes and Hash
// always reflect what the segment verifier observed, never the client's
// (possibly null) input.
type StoredSegmentEntry struct {
	Name         string `json:"name"`
	Bytes        int64  `json:"bytes"`
	Hash         string `json:"hash"`
	ContentType  string `json:"content_type"`
	LastModified string `json:"last_modified"`
	Range        string `json:"range,omitempty"`
	SubSLO       bool   `json:"sub_slo,omitempty"`
}

// EffectiveLength returns L(e): the range length if Range is set, otherwise
// Bytes. Range, when present, has already been normalized to concrete "A-B"
// form by the segment verifier.
func (e StoredSegmentEntry) EffectiveLength() int64 {
	a, b, ok := parseConcreteRange(e.Range)
	if !ok {
		return e.Bytes
	}
	return b - a + 1
}

// sourceRange returns the entry's internal source range [rs, re], i.e. the
// byte interval within the backing segment object that this entry refers to.
func (e StoredSegmentEntry) sourceRange() (int64, int64) {
	if a, b, ok := parseConcreteRange(e.Range); ok {
		return a, b
	}
	return 0, e.Bytes - 1
}

// StoredManifest is the ordered list of StoredSegmentEntry that gets
// serialized as the object body, per §3.
type StoredManifest []StoredSegmentEntry

// TotalLength sums EffectiveLength() over every top-level entry; this is the
// logical concatenated size used as Content-Length and as the whole-object
// window bound in §4.F.
func (m StoredManifest) TotalLength() int64 {
	var total int64
	for _, e := range m {
		total += e.EffectiveLength()
	}
	return total
}

// Window is a closed interval [First, Last] of logical byte offsets, per the
// glossary. An unset window (whole-object request without a Range header)
// is represented by Set == false; SegmentIterator.Run resolves it against
// the manifest's TotalLength before iterating.
type Window struct {
	First, Last int64
	Set         bool
}

// SegmentTuple is one item of the segment listing iterator's output: the
// leaf StoredSegmentEntry to read from, and the inclusive byte range within
// that entry's backing object to read.
type SegmentTuple struct {
	Entry      StoredSegmentEntry
	Start, End int64
}

// Config holds the six tunables enumerated in §6. Zero-value fields should
// never be used directly; call DefaultConfig and override as needed.
type Config struct {
	MaxManifestSegments     int
	MaxManifestSize         int64
	MinSegmentSize          int64
	MaxGetTime              int64 //seconds
	RateLimitAfterSegment   int
	RateLimitSegmentsPerSec int
}

// MaxRecursionDepth is fixed per §3's "recursion depth for sub-manifests
// (fixed at 10)" — unlike the other limits, the spec does not make this
// configurable.
const MaxRecursionDepth = 10

// MaxBufferedDeleteSegments bounds the pending-work queue used by the
// cascading deleter (§4.H); exceeding it aborts the walk with a 400.
var MaxBufferedDeleteSegments = 10000

// DefaultConfig returns the defaults named in §3: 1000 max segments, 2 MiB
// max manifest body, 1 MiB minimum segment size.
func DefaultConfig() Config {
	return Config{
		MaxManifestSegments:     1000,
		MaxManifestSize:         2 << 20,
		MinSegmentSize:          1 << 20,
		MaxGetTime:              60,
		RateLimitAfterSegment:   0,
		RateLimitSegmentsPerSec: 0,
	}
}
